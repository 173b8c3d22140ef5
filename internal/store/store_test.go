package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"meeting-insights-go/internal/logger"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.GetInstance(ctx, "missing")
	assert.True(t, IsNotFound(err))

	running := InstanceRecord{ID: "a1", State: "running", Active: true, Data: json.RawMessage(`{"stage":"poll"}`), UpdatedAt: now}
	done := InstanceRecord{ID: "b2", State: "succeeded", Active: false, Data: json.RawMessage(`{"stage":"persist"}`), UpdatedAt: now}
	require.NoError(t, s.SaveInstance(ctx, running))
	require.NoError(t, s.SaveInstance(ctx, done))

	got, err := s.GetInstance(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "running", got.State)
	assert.JSONEq(t, `{"stage":"poll"}`, string(got.Data))
	assert.True(t, got.UpdatedAt.Equal(now))

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a1", active[0].ID)

	running.State, running.Active = "failed", false
	require.NoError(t, s.SaveInstance(ctx, running))
	active, err = s.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	created, err := s.PutRecord(ctx, "meeting:0123456789abcdef", []byte(`{"n":1}`))
	require.NoError(t, err)
	assert.True(t, created)
	created, err = s.PutRecord(ctx, "meeting:0123456789abcdef", []byte(`{"n":2}`))
	require.NoError(t, err)
	assert.False(t, created)

	payload, err := s.GetRecord(ctx, "meeting:0123456789abcdef")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(payload))

	_, err = s.GetRecord(ctx, "meeting:missing")
	assert.True(t, IsNotFound(err))

	err = s.SaveInstance(ctx, InstanceRecord{ID: "../escape"})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestFile(t *testing.T) {
	s, err := NewFile(t.TempDir())
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestFileSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewFile(dir)
	require.NoError(t, err)
	require.NoError(t, first.SaveInstance(ctx, InstanceRecord{ID: "x", State: "running", Active: true, Data: json.RawMessage(`{}`)}))

	second, err := NewFile(dir)
	require.NoError(t, err)
	active, err := second.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "x", active[0].ID)
}

func TestPutRecordRace(t *testing.T) {
	s, err := NewFile(t.TempDir())
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.PutRecord(context.Background(), "meeting:race", []byte(`{}`))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestPutRecordFailedWriteLeavesNoRecord(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFile(dir)
	require.NoError(t, err)
	ctx := context.Background()

	s.writeTemp = func(dir, pattern string, payload []byte) (string, error) {
		// a torn temp file is left behind, as a crash mid-write would
		tmp, err := os.CreateTemp(dir, pattern)
		require.NoError(t, err)
		_, _ = tmp.Write(payload[:1])
		_ = tmp.Close()
		return "", errors.New("no space left on device")
	}
	created, err := s.PutRecord(ctx, "meeting:torn", []byte(`{"meetingId":"m1"}`))
	require.Error(t, err)
	assert.False(t, created)

	_, err = s.GetRecord(ctx, "meeting:torn")
	assert.True(t, IsNotFound(err))

	s.writeTemp = writeSynced
	created, err = s.PutRecord(ctx, "meeting:torn", []byte(`{"meetingId":"m1"}`))
	require.NoError(t, err)
	assert.True(t, created)

	got, err := s.GetRecord(ctx, "meeting:torn")
	require.NoError(t, err)
	assert.JSONEq(t, `{"meetingId":"m1"}`, string(got))

	created, err = s.PutRecord(ctx, "meeting:torn", []byte(`{"meetingId":"other"}`))
	require.NoError(t, err)
	assert.False(t, created)
}

func TestPutRecordLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFile(dir)
	require.NoError(t, err)

	_, err = s.PutRecord(context.Background(), "meeting:clean", []byte(`{}`))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "records"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "meeting_clean.json", entries[0].Name())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, "memory://", logger.Discard())
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = Open(ctx, "file://"+t.TempDir(), logger.Discard())
	require.NoError(t, err)
	assert.IsType(t, &File{}, s)

	s, err = Open(ctx, t.TempDir(), logger.Discard())
	require.NoError(t, err)
	assert.IsType(t, &File{}, s)

	_, err = Open(ctx, "mongodb://localhost", logger.Discard())
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestPostgres(t *testing.T) {
	url := os.Getenv("TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("TEST_POSTGRES_URL not set")
	}
	s, err := NewPostgres(context.Background(), url, logger.Discard())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.db.Exec(`TRUNCATE meeting_instances, meeting_records`)
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestRedis(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	s, err := NewRedis(context.Background(), url, logger.Discard())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.client.Del(ctx, redisInstancesKey, redisActiveKey,
		redisRecordPrefix+"meeting:0123456789abcdef").Err())
	exerciseStore(t, s)
}
