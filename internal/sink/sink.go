// Package sink stores the final analysis of a meeting exactly once and announces it.
package sink

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"meeting-insights-go/internal/failure"
	"meeting-insights-go/internal/logger"
	"meeting-insights-go/internal/notify"
	"meeting-insights-go/internal/types"
)

// AckSaved is the acknowledgement returned for a persisted analysis.
const AckSaved = "saved"

// Records is the create-if-absent part of the store.
type Records interface {
	PutRecord(ctx context.Context, key string, payload []byte) (bool, error)
}

// Publisher delivers the downstream notification.
type Publisher interface {
	Publish(ctx context.Context, ev notify.Event) error
}

// Record is the durable form of a persisted analysis.
type Record struct {
	MeetingID   string         `json:"meetingId"`
	Analysis    types.Analysis `json:"analysis"`
	PersistedAt time.Time      `json:"persistedAt"`
}

type Sink struct {
	records Records
	pub     Publisher
	log     *logger.Logger
	now     func() time.Time
}

// New returns a Sink. pub may be nil when nothing downstream listens.
func New(records Records, pub Publisher, log *logger.Logger) *Sink {
	return &Sink{
		records: records,
		pub:     pub,
		log:     log.Component("sink"),
		now:     time.Now,
	}
}

// IdempotencyKey derives the record key for an instance.
func IdempotencyKey(instanceID string) string {
	sum := sha256.Sum256([]byte(instanceID))
	return "meeting:" + hex.EncodeToString(sum[:])[:16]
}

// Persist writes the analysis for instanceID unless it was already written, then publishes
// a notification. A repeated call returns the same acknowledgement and writes nothing.
// Notification failures are logged, never returned.
func (s *Sink) Persist(ctx context.Context, instanceID string, analysis types.Analysis) (string, error) {
	const op = "sink.Persist"
	if instanceID == "" {
		return "", failure.InvalidInput(op, "meetingId is required")
	}

	key := IdempotencyKey(instanceID)
	rec := Record{MeetingID: instanceID, Analysis: analysis, PersistedAt: s.now().UTC()}
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", failure.InvalidInput(op, fmt.Sprintf("encode record: %v", err))
	}

	created, err := s.records.PutRecord(ctx, key, payload)
	if err != nil {
		return "", failure.Transient(op, err)
	}

	log := s.log.With("instance_id", instanceID).With("key", key)
	if !created {
		log.Info("analysis already persisted, skipping duplicate")
		return AckSaved, nil
	}
	log.Info("analysis persisted")

	if s.pub != nil {
		ev := notify.Event{
			Type:           notify.EventMeetingAnalyzed,
			MeetingID:      instanceID,
			IdempotencyKey: key,
			Analysis:       analysis,
			PersistedAt:    rec.PersistedAt,
		}
		if err := s.pub.Publish(ctx, ev); err != nil {
			log.WithError(err).Warn("notification failed")
		}
	}
	return AckSaved, nil
}
