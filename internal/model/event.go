package model

// EventType identifies what happened on the customer's account.
type EventType string

const (
	EventNewLead       EventType = "new_lead"
	EventNewMessage    EventType = "new_message"
	EventLeadManaged   EventType = "lead_managed"
	EventLeadConverted EventType = "lead_converted"
	EventAIFailed      EventType = "ai_failed"
	EventDigest        EventType = "digest"
	EventWeeklyReport  EventType = "weekly_report"
)

// Channel is a notification delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// EventPayload is the opaque event-type-specific data carried from the
// emitting collaborator through to rendering. Field sets per type are
// enforced at render time, not here.
type EventPayload map[string]interface{}

// ValidEventType reports whether t is a known event type.
func ValidEventType(t EventType) bool {
	switch t {
	case EventNewLead, EventNewMessage, EventLeadManaged, EventLeadConverted,
		EventAIFailed, EventDigest, EventWeeklyReport:
		return true
	}
	return false
}
