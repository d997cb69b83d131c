package render

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/textback/notify-api/internal/model"
)

func TestLeadLink(t *testing.T) {
	r := New("https://app.example.com/")

	link := r.LeadLink(model.EventPayload{"leadId": "42", "conversationId": "99"})
	assert.Equal(t, "https://app.example.com/?conversationId=99&leadId=42", link)

	assert.Equal(t, "https://app.example.com/", r.LeadLink(nil))
}

func TestRenderNewLead(t *testing.T) {
	r := New("https://app.example.com")
	payload := model.EventPayload{
		"leadPhone": "+15551234567",
		"message":   "Do you do weekend installs?",
		"leadId":    "42",
	}

	email, err := r.Render(model.EventNewLead, model.ChannelEmail, payload)
	require.NoError(t, err)
	assert.Equal(t, "New lead from +15551234567", email.Subject)
	assert.Contains(t, email.Body, "Do you do weekend installs?")
	assert.Contains(t, email.Body, "leadId=42")

	sms, err := r.Render(model.EventNewLead, model.ChannelSMS, payload)
	require.NoError(t, err)
	assert.Empty(t, sms.Subject)
	assert.Contains(t, sms.Body, "+15551234567")
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	r := New("https://app.example.com")

	// 120 two-byte runes force the cut; a byte-indexed slice would land
	// mid-rune and emit invalid UTF-8 into the SMS body.
	payload := model.EventPayload{
		"leadPhone": "+15551234567",
		"message":   strings.Repeat("é", 120),
	}
	sms, err := r.Render(model.EventNewLead, model.ChannelSMS, payload)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(sms.Body))
	assert.Contains(t, sms.Body, "…")

	short := truncate("héllo", 100)
	assert.Equal(t, "héllo", short, "strings under the cap pass through untouched")

	cut := truncate(strings.Repeat("日", 10), 5)
	assert.True(t, utf8.ValidString(cut))
	assert.Equal(t, strings.Repeat("日", 4)+"…", cut)
}

func TestRenderLeadNameFallsBackToPhone(t *testing.T) {
	r := New("https://app.example.com")

	c, err := r.Render(model.EventLeadConverted, model.ChannelEmail, model.EventPayload{
		"leadPhone":      "+15550001111",
		"convertedValue": "1200",
	})
	require.NoError(t, err)
	assert.Contains(t, c.Subject, "+15550001111")

	c, err = r.Render(model.EventLeadConverted, model.ChannelEmail, model.EventPayload{
		"leadName":       "Dana",
		"convertedValue": "1200",
	})
	require.NoError(t, err)
	assert.Contains(t, c.Subject, "Dana")
}

func TestRenderWeeklyReport(t *testing.T) {
	r := New("https://app.example.com")
	c, err := r.Render(model.EventWeeklyReport, model.ChannelEmail, model.EventPayload{
		"weekRange":          "Jun 2 – Jun 8",
		"totalConversations": 31,
		"newLeads":           12,
		"qualifiedLeads":     5,
	})
	require.NoError(t, err)
	assert.Contains(t, c.Subject, "Jun 2 – Jun 8")
	assert.Contains(t, c.Body, "New leads: 12")
}

func TestRenderUnknownType(t *testing.T) {
	r := New("https://app.example.com")
	_, err := r.Render(model.EventType("bogus"), model.ChannelEmail, nil)
	assert.Error(t, err)
}

func digestEvent(t *testing.T, seq int, typ model.EventType, payload model.EventPayload, at time.Time) *model.DigestEvent {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &model.DigestEvent{Seq: seq, EventType: typ, Payload: raw, OccurredAt: at}
}

func TestDigestSummary(t *testing.T) {
	r := New("https://app.example.com")
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	events := []*model.DigestEvent{
		digestEvent(t, 1, model.EventNewLead, model.EventPayload{"leadPhone": "+15551", "message": "hi"}, base),
		digestEvent(t, 2, model.EventNewMessage, model.EventPayload{"leadPhone": "+15552", "message": "still there?"}, base.Add(10*time.Minute)),
	}

	sum := r.Digest(model.ChannelEmail, events)
	assert.Equal(t, 2, sum.Payload["eventCount"])
	assert.ElementsMatch(t, []string{"new_lead", "new_message"}, sum.Payload["eventTypes"])
	assert.Contains(t, sum.Content.Subject, "2 updates")
	assert.Contains(t, sum.Content.Body, "still there?")
}

func TestDigestKeepsMostRecentTwenty(t *testing.T) {
	r := New("https://app.example.com")
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	var events []*model.DigestEvent
	for i := 0; i < 25; i++ {
		events = append(events, digestEvent(t, i+1, model.EventNewMessage,
			model.EventPayload{"leadPhone": "+1555", "message": fmt.Sprintf("msg-%d", i+1)}, base.Add(time.Duration(i)*time.Minute)))
	}

	sum := r.Digest(model.ChannelEmail, events)
	assert.Equal(t, 25, sum.Payload["eventCount"], "count covers all events")
	snapshots := sum.Payload["events"].([]map[string]interface{})
	assert.Len(t, snapshots, 20)
	assert.NotContains(t, sum.Content.Body, "msg-5", "oldest excerpts dropped")
	assert.Contains(t, sum.Content.Body, "msg-25")
}

func TestDigestOrderPreserved(t *testing.T) {
	r := New("https://app.example.com")
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	events := []*model.DigestEvent{
		digestEvent(t, 1, model.EventNewMessage, model.EventPayload{"message": "first"}, base),
		digestEvent(t, 2, model.EventNewMessage, model.EventPayload{"message": "second"}, base.Add(time.Minute)),
	}

	sum := r.Digest(model.ChannelEmail, events)
	first := strings.Index(sum.Content.Body, "first")
	second := strings.Index(sum.Content.Body, "second")
	require.GreaterOrEqual(t, first, 0)
	require.GreaterOrEqual(t, second, 0)
	assert.Less(t, first, second)
}
