// Package storage issues time-bounded, read-only access URLs for recorded audio.
package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"meeting-insights-go/internal/config"
	"meeting-insights-go/internal/failure"
)

const sasVersion = "2020-12-06"

// Signer hands out URLs the transcription provider can read without credentials.
type Signer interface {
	SignedURL(ctx context.Context, blobName string, ttl time.Duration) (string, error)
}

// SASSigner signs blob service SAS tokens from a storage account connection string.
type SASSigner struct {
	account   string
	key       []byte
	endpoint  string // e.g. https://acct.blob.core.windows.net
	container string
	now       func() time.Time
}

// NewSASSigner parses the connection string in cfg. Missing pieces are configuration errors.
func NewSASSigner(cfg config.Storage) (*SASSigner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	parts := map[string]string{}
	for _, kv := range strings.Split(cfg.ConnectionString, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(kv), "=")
		if ok {
			parts[k] = v
		}
	}

	account := parts["AccountName"]
	if account == "" || parts["AccountKey"] == "" {
		return nil, failure.Configuration("storage.NewSASSigner", "STORAGE_CONNECTION_STRING needs AccountName and AccountKey")
	}
	key, err := base64.StdEncoding.DecodeString(parts["AccountKey"])
	if err != nil {
		return nil, failure.Configuration("storage.NewSASSigner", "AccountKey is not valid base64")
	}

	endpoint := strings.TrimRight(parts["BlobEndpoint"], "/")
	if endpoint == "" {
		suffix := parts["EndpointSuffix"]
		if suffix == "" {
			suffix = "core.windows.net"
		}
		endpoint = fmt.Sprintf("https://%s.blob.%s", account, suffix)
	}

	return &SASSigner{
		account:   account,
		key:       key,
		endpoint:  endpoint,
		container: cfg.Container,
		now:       time.Now,
	}, nil
}

// SignedURL returns an https-only, read-only URL for blobName that expires after ttl.
func (s *SASSigner) SignedURL(_ context.Context, blobName string, ttl time.Duration) (string, error) {
	if blobName == "" {
		return "", failure.InvalidInput("storage.SignedURL", "blobName is required")
	}
	if ttl <= 0 {
		return "", failure.InvalidInput("storage.SignedURL", "ttl must be positive")
	}

	expiry := s.now().UTC().Add(ttl).Format(time.RFC3339)
	resource := fmt.Sprintf("/blob/%s/%s/%s", s.account, s.container, blobName)

	stringToSign := strings.Join([]string{
		"r",    // signedPermissions
		"",     // signedStart
		expiry, // signedExpiry
		resource,
		"",      // signedIdentifier
		"",      // signedIP
		"https", // signedProtocol
		sasVersion,
		"b", // signedResource
		"",  // signedSnapshotTime
		"",  // signedEncryptionScope
		"",  // rscc
		"",  // rscd
		"",  // rsce
		"",  // rscl
		"",  // rsct
	}, "\n")

	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(stringToSign))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	q := url.Values{}
	q.Set("sv", sasVersion)
	q.Set("sr", "b")
	q.Set("sp", "r")
	q.Set("se", expiry)
	q.Set("spr", "https")
	q.Set("sig", sig)

	blobPath := (&url.URL{Path: "/" + s.container + "/" + blobName}).EscapedPath()
	return s.endpoint + blobPath + "?" + q.Encode(), nil
}
