package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type BucketStatus string

const (
	BucketStatusPending BucketStatus = "pending"
	BucketStatusSent    BucketStatus = "sent"
	BucketStatusFailed  BucketStatus = "failed"
)

// DigestBucket accumulates non-immediate events for one (customer, user,
// channel, window). At most one pending bucket may exist per logical
// window; the partial unique index on (customer_id, user_key, channel,
// window_start, window_end) WHERE status='pending' enforces it.
type DigestBucket struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	CustomerID uuid.UUID  `db:"customer_id" json:"customer_id"`
	UserID     *uuid.UUID `db:"user_id" json:"user_id,omitempty"`
	// UserKey mirrors UserID with uuid.Nil standing in for the tenant-level
	// row, so the unique index has a non-null column to work with.
	UserKey      uuid.UUID    `db:"user_key" json:"-"`
	Channel      Channel      `db:"channel" json:"channel"`
	WindowStart  time.Time    `db:"window_start" json:"window_start"`
	WindowEnd    time.Time    `db:"window_end" json:"window_end"`
	ScheduledFor time.Time    `db:"scheduled_for" json:"scheduled_for"`
	Status       BucketStatus `db:"status" json:"status"`
	EventCount   int          `db:"event_count" json:"event_count"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updated_at"`
}

// DigestEvent is one appended event. Seq preserves arrival order within
// the bucket.
type DigestEvent struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	BucketID   uuid.UUID       `db:"bucket_id" json:"bucket_id"`
	Seq        int             `db:"seq" json:"seq"`
	EventType  EventType       `db:"event_type" json:"event_type"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	OccurredAt time.Time       `db:"occurred_at" json:"occurred_at"`
}
