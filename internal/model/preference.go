package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CadenceMode is how often a recipient wants notifications bundled.
type CadenceMode string

const (
	CadenceImmediate CadenceMode = "immediate"
	CadenceHourly    CadenceMode = "hourly"
	CadenceDaily     CadenceMode = "daily"
	CadenceCustom    CadenceMode = "custom"
)

// MinCustomIntervalMinutes is the floor for custom cadence intervals.
const MinCustomIntervalMinutes = 5

// NotificationPreference is one row per (customer, optional user). A nil
// UserID means the tenant-level row used when no per-user rows exist.
type NotificationPreference struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	CustomerID uuid.UUID  `db:"customer_id" json:"customer_id"`
	UserID     *uuid.UUID `db:"user_id" json:"user_id,omitempty"`

	EmailEnabled bool `db:"email_enabled" json:"email_enabled"`
	SMSEnabled   bool `db:"sms_enabled" json:"sms_enabled"`

	EmailNewLead        bool `db:"email_new_lead" json:"email_new_lead"`
	EmailNewMessage     bool `db:"email_new_message" json:"email_new_message"`
	SMSNewLead          bool `db:"sms_new_lead" json:"sms_new_lead"`
	SMSNewMessage       bool `db:"sms_new_message" json:"sms_new_message"`
	NotifyLeadManaged   bool `db:"notify_lead_managed" json:"notify_lead_managed"`
	NotifyLeadConverted bool `db:"notify_lead_converted" json:"notify_lead_converted"`
	NotifyAIFailed      bool `db:"notify_ai_failed" json:"notify_ai_failed"`

	CadenceMode            CadenceMode `db:"cadence_mode" json:"cadence_mode"`
	CadenceIntervalMinutes int         `db:"cadence_interval_minutes" json:"cadence_interval_minutes"`
	MaxNotificationsPerDay *int        `db:"max_notifications_per_day" json:"max_notifications_per_day,omitempty"`

	QuietHoursStart *string `db:"quiet_hours_start" json:"quiet_hours_start,omitempty"`
	QuietHoursEnd   *string `db:"quiet_hours_end" json:"quiet_hours_end,omitempty"`
	Timezone        string  `db:"timezone" json:"timezone"`
	DigestTime      string  `db:"digest_time" json:"digest_time"`

	Email    string `db:"email" json:"email"`
	SMSPhone string `db:"sms_phone" json:"sms_phone"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Validate enforces the preference invariants.
func (p *NotificationPreference) Validate() error {
	switch p.CadenceMode {
	case CadenceImmediate, CadenceHourly, CadenceDaily, CadenceCustom:
	default:
		return fmt.Errorf("invalid cadence mode: %s", p.CadenceMode)
	}

	if p.CadenceMode == CadenceCustom && p.CadenceIntervalMinutes < MinCustomIntervalMinutes {
		return fmt.Errorf("custom cadence interval must be at least %d minutes", MinCustomIntervalMinutes)
	}

	if p.CadenceMode == CadenceDaily {
		if _, err := time.Parse("15:04", p.DigestTime); err != nil {
			return fmt.Errorf("invalid digest time %q: %w", p.DigestTime, err)
		}
	}

	if (p.QuietHoursStart == nil) != (p.QuietHoursEnd == nil) {
		return fmt.Errorf("quiet hours start and end must be set together")
	}
	if p.QuietHoursStart != nil {
		for _, v := range []string{*p.QuietHoursStart, *p.QuietHoursEnd} {
			if _, err := time.Parse("15:04", v); err != nil {
				return fmt.Errorf("invalid quiet hours value %q: %w", v, err)
			}
		}
	}

	if p.MaxNotificationsPerDay != nil && *p.MaxNotificationsPerDay < 1 {
		return fmt.Errorf("max notifications per day must be positive")
	}

	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", p.Timezone, err)
		}
	}

	return nil
}

// Location resolves the recipient timezone, defaulting to UTC.
func (p *NotificationPreference) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ChannelEnabled reports whether the channel toggle is on.
func (p *NotificationPreference) ChannelEnabled(ch Channel) bool {
	switch ch {
	case ChannelEmail:
		return p.EmailEnabled
	case ChannelSMS:
		return p.SMSEnabled
	}
	return false
}

// SubscribedTo applies the per-event-type gating table. Digest and weekly
// report are always eligible over email and never sent over SMS as their
// own event type; digest SMS is a delivery vehicle, not a subscription.
func (p *NotificationPreference) SubscribedTo(t EventType, ch Channel) bool {
	switch t {
	case EventNewLead:
		if ch == ChannelEmail {
			return p.EmailNewLead
		}
		return p.SMSNewLead
	case EventNewMessage:
		if ch == ChannelEmail {
			return p.EmailNewMessage
		}
		return p.SMSNewMessage
	case EventLeadManaged:
		return p.NotifyLeadManaged
	case EventLeadConverted:
		return p.NotifyLeadConverted
	case EventAIFailed:
		return p.NotifyAIFailed
	case EventDigest, EventWeeklyReport:
		return ch == ChannelEmail
	}
	return false
}

// Recipient returns the delivery address for the channel, or "" when the
// preference row is missing it.
func (p *NotificationPreference) Recipient(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return p.Email
	case ChannelSMS:
		return p.SMSPhone
	}
	return ""
}
