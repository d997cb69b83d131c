package model

import (
	"time"

	"github.com/google/uuid"
)

// SMS provider names.
const (
	ProviderTwilio    = "twilio"
	ProviderFonecloud = "fonecloud"
)

// SMSProviderBinding maps a customer to their configured provider and
// outbound number. Twilio customers own a dedicated number; fonecloud
// customers hold an allocated pool number.
type SMSProviderBinding struct {
	CustomerID   uuid.UUID  `db:"customer_id" json:"customer_id"`
	Provider     string     `db:"provider" json:"provider"`
	PhoneNumber  string     `db:"phone_number" json:"phone_number"`
	PoolNumberID *uuid.UUID `db:"pool_number_id" json:"pool_number_id,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

type PoolNumberStatus string

const (
	PoolNumberUnallocated PoolNumberStatus = "unallocated"
	PoolNumberAllocated   PoolNumberStatus = "allocated"
	PoolNumberReleased    PoolNumberStatus = "released"
)

// PoolNumber is a shared-inventory phone number owned by at most one
// customer at a time.
type PoolNumber struct {
	ID          uuid.UUID        `db:"id" json:"id"`
	PhoneNumber string           `db:"phone_number" json:"phone_number"`
	Status      PoolNumberStatus `db:"status" json:"status"`
	CustomerID  *uuid.UUID       `db:"customer_id" json:"customer_id,omitempty"`
	AllocatedAt *time.Time       `db:"allocated_at" json:"allocated_at,omitempty"`
	ReleasedAt  *time.Time       `db:"released_at" json:"released_at,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
}

// InboundSMS is the provider-agnostic shape of an inbound webhook message.
type InboundSMS struct {
	From              string `json:"from"`
	To                string `json:"to"`
	Body              string `json:"body"`
	ProviderMessageID string `json:"provider_message_id"`
}
