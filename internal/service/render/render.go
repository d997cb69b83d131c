// Package render turns event payloads into channel-ready subject/body
// pairs. Channel adapters are template-agnostic; all content decisions
// live here.
package render

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/textback/notify-api/internal/model"
)

// Content is a pre-rendered notification. Subject is ignored by the SMS
// channel.
type Content struct {
	Subject string
	Body    string
}

const maxDigestExcerpts = 20

type Renderer struct {
	frontendBaseURL string
}

func New(frontendBaseURL string) *Renderer {
	return &Renderer{frontendBaseURL: strings.TrimRight(frontendBaseURL, "/")}
}

// LeadLink builds the deep link back into the dashboard.
func (r *Renderer) LeadLink(payload model.EventPayload) string {
	q := url.Values{}
	if v := str(payload, "leadId"); v != "" {
		q.Set("leadId", v)
	}
	if v := str(payload, "conversationId"); v != "" {
		q.Set("conversationId", v)
	}
	if len(q) == 0 {
		return r.frontendBaseURL + "/"
	}
	return r.frontendBaseURL + "/?" + q.Encode()
}

// Render produces the content for one event on one channel. Every event
// type has a fixed required field set; missing fields degrade to generic
// wording rather than failing the delivery.
func (r *Renderer) Render(t model.EventType, ch model.Channel, payload model.EventPayload) (Content, error) {
	link := r.LeadLink(payload)

	switch t {
	case model.EventNewLead:
		phone := orUnknown(str(payload, "leadPhone"))
		msg := str(payload, "message")
		if ch == model.ChannelSMS {
			return Content{Body: fmt.Sprintf("New lead from %s: %s", phone, truncate(msg, 100))}, nil
		}
		return Content{
			Subject: fmt.Sprintf("New lead from %s", phone),
			Body:    fmt.Sprintf("You have a new lead from %s.\n\nFirst message:\n%s\n\nView the conversation: %s\n", phone, msg, link),
		}, nil

	case model.EventNewMessage:
		phone := orUnknown(str(payload, "leadPhone"))
		msg := str(payload, "message")
		if ch == model.ChannelSMS {
			return Content{Body: fmt.Sprintf("New message from %s: %s", phone, truncate(msg, 100))}, nil
		}
		return Content{
			Subject: fmt.Sprintf("New message from %s", phone),
			Body:    fmt.Sprintf("%s sent a new message:\n%s\n\nReply here: %s\n", phone, msg, link),
		}, nil

	case model.EventLeadManaged:
		who := leadName(payload)
		summary := str(payload, "summary")
		if ch == model.ChannelSMS {
			return Content{Body: fmt.Sprintf("Lead %s was marked managed. %s", who, truncate(summary, 80))}, nil
		}
		return Content{
			Subject: fmt.Sprintf("Lead %s marked as managed", who),
			Body:    fmt.Sprintf("Lead %s was marked as managed.\n\n%s\n\nDetails: %s\n", who, summary, link),
		}, nil

	case model.EventLeadConverted:
		who := leadName(payload)
		value := str(payload, "convertedValue")
		if ch == model.ChannelSMS {
			return Content{Body: fmt.Sprintf("Lead %s converted (%s)", who, value)}, nil
		}
		return Content{
			Subject: fmt.Sprintf("Lead %s converted", who),
			Body:    fmt.Sprintf("Lead %s converted.\nValue: %s\n\nDetails: %s\n", who, value, link),
		}, nil

	case model.EventAIFailed:
		who := leadName(payload)
		errMsg := str(payload, "error")
		if ch == model.ChannelSMS {
			return Content{Body: fmt.Sprintf("Action needed: the assistant could not answer %s. %s", who, link)}, nil
		}
		return Content{
			Subject: fmt.Sprintf("Action needed: assistant could not answer %s", who),
			Body:    fmt.Sprintf("The assistant was unable to respond to %s and handed the conversation off.\nError: %s\n\nTake over here: %s\n", who, errMsg, link),
		}, nil

	case model.EventWeeklyReport:
		return Content{
			Subject: fmt.Sprintf("Your weekly report (%s)", str(payload, "weekRange")),
			Body: fmt.Sprintf(
				"Week %s in review:\n- Conversations: %s\n- New leads: %s\n- Qualified leads: %s\n\nFull report: %s\n",
				str(payload, "weekRange"),
				str(payload, "totalConversations"),
				str(payload, "newLeads"),
				str(payload, "qualifiedLeads"),
				r.frontendBaseURL+"/",
			),
		}, nil

	case model.EventDigest:
		return Content{
			Subject: str(payload, "summary"),
			Body:    fmt.Sprintf("%s\n\nSee everything: %s/\n", str(payload, "summary"), r.frontendBaseURL),
		}, nil
	}

	return Content{}, fmt.Errorf("no template for event type %q", t)
}

// DigestSummary holds the rendered digest plus the payload snapshot that
// goes into the delivery record.
type DigestSummary struct {
	Content Content
	Payload model.EventPayload
}

// Digest summarizes a bucket's events: count, distinct types, up to 20
// most recent excerpts, and a one-line human summary.
func (r *Renderer) Digest(ch model.Channel, events []*model.DigestEvent) DigestSummary {
	count := len(events)
	types := distinctTypes(events)

	excerpts := events
	if len(excerpts) > maxDigestExcerpts {
		excerpts = excerpts[len(excerpts)-maxDigestExcerpts:]
	}

	summary := fmt.Sprintf("%d update%s while you were away (%s)",
		count, plural(count), strings.Join(types, ", "))

	lines := make([]string, 0, len(excerpts))
	snapshots := make([]map[string]interface{}, 0, len(excerpts))
	for _, ev := range excerpts {
		payload := decodePayload(ev)
		lines = append(lines, fmt.Sprintf("- [%s] %s %s",
			ev.OccurredAt.Format("15:04"), ev.EventType, excerptLine(ev.EventType, payload)))
		snapshots = append(snapshots, map[string]interface{}{
			"type":        ev.EventType,
			"occurred_at": ev.OccurredAt,
			"payload":     payload,
		})
	}

	content := Content{
		Subject: summary,
		Body:    fmt.Sprintf("%s\n\n%s\n\nCatch up: %s/\n", summary, strings.Join(lines, "\n"), r.frontendBaseURL),
	}
	if ch == model.ChannelSMS {
		content = Content{Body: fmt.Sprintf("%s %s/", summary, r.frontendBaseURL)}
	}

	return DigestSummary{
		Content: content,
		Payload: model.EventPayload{
			"eventCount": count,
			"eventTypes": types,
			"events":     snapshots,
			"summary":    summary,
		},
	}
}

func excerptLine(t model.EventType, payload model.EventPayload) string {
	switch t {
	case model.EventNewLead, model.EventNewMessage:
		return fmt.Sprintf("%s: %s", orUnknown(str(payload, "leadPhone")), truncate(str(payload, "message"), 80))
	case model.EventLeadManaged:
		return fmt.Sprintf("%s: %s", leadName(payload), truncate(str(payload, "summary"), 80))
	case model.EventLeadConverted:
		return fmt.Sprintf("%s converted (%s)", leadName(payload), str(payload, "convertedValue"))
	case model.EventAIFailed:
		return fmt.Sprintf("assistant handoff for %s", leadName(payload))
	}
	return ""
}

func distinctTypes(events []*model.DigestEvent) []string {
	seen := make(map[model.EventType]bool, len(events))
	types := make([]string, 0, 4)
	for _, ev := range events {
		if !seen[ev.EventType] {
			seen[ev.EventType] = true
			types = append(types, string(ev.EventType))
		}
	}
	return types
}

func decodePayload(ev *model.DigestEvent) model.EventPayload {
	var payload model.EventPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return model.EventPayload{}
	}
	return payload
}

func leadName(payload model.EventPayload) string {
	if v := str(payload, "leadName"); v != "" {
		return v
	}
	return orUnknown(str(payload, "leadPhone"))
}

func str(payload model.EventPayload, key string) string {
	if payload == nil {
		return ""
	}
	switch v := payload[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	case int:
		return fmt.Sprintf("%d", v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "an unknown number"
	}
	return s
}

// truncate cuts on a rune boundary so multi-byte characters never get
// split into invalid UTF-8.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
