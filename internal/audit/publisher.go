// Package audit records cohort actions in Redis: a JSON record per cohort
// with a TTL, plus pub/sub events for anything watching the analysis
// pipeline. The whole package is best-effort and optional; a nil client
// disables it.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	cohortKeyPrefix = "bias:cohort:" // Record per cohort: bias:cohort:{cohort_id}
	eventChannel    = "bias:events"  // Pub/Sub channel for cohort action events
	recordTTL       = 7 * 24 * time.Hour
)

// Event is one audited cohort action.
type Event struct {
	EventID    string    `json:"event_id"`
	Kind       string    `json:"kind"` // cohort_created | cohorts_compared
	CohortID   int64     `json:"cohort_id,omitempty"`
	CohortName string    `json:"cohort_name,omitempty"`
	CreatedBy  string    `json:"created_by,omitempty"`
	LeftID     int64     `json:"left_id,omitempty"`
	RightID    int64     `json:"right_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher writes audit records and events to Redis.
type Publisher struct {
	client *redis.Client
	log    *zap.Logger
}

// NewPublisher wraps a Redis client. client may be nil, which turns every
// method into a no-op.
func NewPublisher(client *redis.Client, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{client: client, log: log}
}

// Enabled reports whether a Redis client is wired in.
func (p *Publisher) Enabled() bool {
	return p != nil && p.client != nil
}

// CohortCreated stores the cohort's audit record and publishes an event.
func (p *Publisher) CohortCreated(ctx context.Context, cohortID int64, name, createdBy string) error {
	if !p.Enabled() {
		return nil
	}
	ev := Event{
		EventID:    uuid.New().String(),
		Kind:       "cohort_created",
		CohortID:   cohortID,
		CohortName: name,
		CreatedBy:  createdBy,
		OccurredAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	pipe := p.client.Pipeline()
	pipe.Set(ctx, cohortKey(cohortID), payload, recordTTL)
	pipe.Publish(ctx, eventChannel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	return nil
}

// CohortsCompared publishes a comparison event without a per-cohort record.
func (p *Publisher) CohortsCompared(ctx context.Context, leftID, rightID int64) error {
	if !p.Enabled() {
		return nil
	}
	ev := Event{
		EventID:    uuid.New().String(),
		Kind:       "cohorts_compared",
		LeftID:     leftID,
		RightID:    rightID,
		OccurredAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	if err := p.client.Publish(ctx, eventChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}

// CohortRecord fetches the stored creation record, or nil if expired or
// never written.
func (p *Publisher) CohortRecord(ctx context.Context, cohortID int64) (*Event, error) {
	if !p.Enabled() {
		return nil, nil
	}
	raw, err := p.client.Get(ctx, cohortKey(cohortID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read audit record: %w", err)
	}
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode audit record: %w", err)
	}
	return &ev, nil
}

func cohortKey(cohortID int64) string {
	return fmt.Sprintf("%s%d", cohortKeyPrefix, cohortID)
}
