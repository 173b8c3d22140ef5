package storage

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"meeting-insights-go/internal/config"
	"meeting-insights-go/internal/failure"
)

func testSigner(t *testing.T) *SASSigner {
	t.Helper()

	s, err := NewSASSigner(config.Storage{
		ConnectionString: "DefaultEndpointsProtocol=https;AccountName=meetings;AccountKey=c2VjcmV0LWtleQ==;EndpointSuffix=core.windows.net",
		Container:        "audio-input",
		SignedURLTTL:     24 * time.Hour,
	})
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestSignedURL(t *testing.T) {
	s := testSigner(t)

	raw, err := s.SignedURL(context.Background(), "sample.mp3", 24*time.Hour)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "https", u.Scheme)
	assert.Equal(t, "meetings.blob.core.windows.net", u.Host)
	assert.Equal(t, "/audio-input/sample.mp3", u.Path)

	q := u.Query()
	assert.Equal(t, "r", q.Get("sp"))
	assert.Equal(t, "https", q.Get("spr"))
	assert.Equal(t, "b", q.Get("sr"))
	assert.Equal(t, "2025-03-02T12:00:00Z", q.Get("se"))
	assert.NotEmpty(t, q.Get("sig"))

	again, err := s.SignedURL(context.Background(), "sample.mp3", 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, raw, again)
}

func TestSignedURLRejectsEmptyBlob(t *testing.T) {
	_, err := testSigner(t).SignedURL(context.Background(), "", time.Hour)
	assert.Equal(t, failure.KindInvalidInput, failure.KindOf(err))
}

func TestNewSASSignerConfiguration(t *testing.T) {
	_, err := NewSASSigner(config.Storage{Container: "audio-input", SignedURLTTL: time.Hour})
	assert.True(t, failure.IsConfiguration(err))

	_, err = NewSASSigner(config.Storage{
		ConnectionString: "AccountName=meetings",
		Container:        "audio-input",
		SignedURLTTL:     time.Hour,
	})
	assert.True(t, failure.IsConfiguration(err))
}
