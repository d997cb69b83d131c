package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type DeliveryStatus string

const (
	DeliveryStatusSent   DeliveryStatus = "sent"
	DeliveryStatusFailed DeliveryStatus = "failed"
	// DeliveryStatusSkipped marks a policy suppression (quiet hours, daily
	// cap). Skipped rows never count against caps and are never retried.
	DeliveryStatusSkipped DeliveryStatus = "skipped"
)

// Suppression reasons recorded on skipped rows.
const (
	SuppressedQuietHours = "quiet_hours"
	SuppressedDailyLimit = "daily_limit"
)

// DeliveryRecord is the append-only log of every delivery attempt,
// immediate or digest-flush. Rows are never mutated after insert.
type DeliveryRecord struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	CustomerID   uuid.UUID       `db:"customer_id" json:"customer_id"`
	UserID       *uuid.UUID      `db:"user_id" json:"user_id,omitempty"`
	EventType    EventType       `db:"event_type" json:"event_type"`
	Channel      Channel         `db:"channel" json:"channel"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       DeliveryStatus  `db:"status" json:"status"`
	ErrorMessage string          `db:"error_message" json:"error_message,omitempty"`
	SentAt       time.Time       `db:"sent_at" json:"sent_at"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}
