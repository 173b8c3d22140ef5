// Package store keeps workflow checkpoints and idempotent result records. Backends are
// chosen by URL scheme: memory://, file://, postgres:// and redis://.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"meeting-insights-go/internal/logger"
)

var (
	// ErrNotFound indicates no instance or record exists under the given key.
	ErrNotFound = errors.New("not found")

	// ErrInvalidKey indicates an id or key that is empty or unsafe for the backend.
	ErrInvalidKey = errors.New("invalid key")

	// ErrUnsupportedScheme indicates a store URL whose scheme has no backend.
	ErrUnsupportedScheme = errors.New("unsupported store scheme")
)

// Error wraps a backend failure with the operation and key involved.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Key: key, Err: err}
}

// IsNotFound checks if an error indicates a missing instance or record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// InstanceRecord is one checkpoint of a workflow instance. Data is the engine's own
// serialization; the store only looks at ID and Active.
type InstanceRecord struct {
	ID        string          `json:"id"`
	State     string          `json:"state"`
	Active    bool            `json:"active"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type Store interface {
	// SaveInstance replaces the checkpoint of rec.ID. It returns only once the write is durable
	// for the backend.
	SaveInstance(ctx context.Context, rec InstanceRecord) error
	GetInstance(ctx context.Context, id string) (InstanceRecord, error)
	// ListActive returns every instance whose last checkpoint is not terminal.
	ListActive(ctx context.Context) ([]InstanceRecord, error)

	// PutRecord stores payload under key unless key already exists. created reports whether
	// this call wrote it.
	PutRecord(ctx context.Context, key string, payload []byte) (created bool, err error)
	GetRecord(ctx context.Context, key string) ([]byte, error)

	Close() error
}

// Open returns the backend selected by rawURL's scheme. A bare path is treated as file://.
func Open(ctx context.Context, rawURL string, log *logger.Logger) (Store, error) {
	scheme, rest, found := strings.Cut(rawURL, "://")
	if !found {
		scheme, rest = "file", rawURL
	}
	log = log.Component("store").With("backend", scheme)

	switch scheme {
	case "memory":
		return NewMemory(), nil
	case "file":
		return NewFile(rest)
	case "postgres", "postgresql":
		return NewPostgres(ctx, rawURL, log)
	case "redis", "rediss":
		return NewRedis(ctx, rawURL, log)
	default:
		return nil, wrap("open", scheme, ErrUnsupportedScheme)
	}
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.Contains(key, "..") || strings.ContainsAny(key, "/\\") {
		return fmt.Errorf("%w: %q contains path characters", ErrInvalidKey, key)
	}
	return nil
}
