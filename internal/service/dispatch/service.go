// Package dispatch routes account events to recipients: it loads
// preferences, applies the per-channel gating table, and either sends
// immediately or hands the event to the digest engine.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	apperrors "github.com/textback/notify-api/pkg/errors"
	"github.com/textback/notify-api/pkg/logger"
	"github.com/textback/notify-api/pkg/messaging"
	"github.com/textback/notify-api/pkg/metrics"

	"github.com/textback/notify-api/internal/channel"
	"github.com/textback/notify-api/internal/model"
	"github.com/textback/notify-api/internal/repository"
	"github.com/textback/notify-api/internal/service/digest"
	"github.com/textback/notify-api/internal/service/policy"
	"github.com/textback/notify-api/internal/service/render"
)

// Outcome classifies what happened to one (recipient, channel) pair.
type Outcome string

const (
	OutcomeSent       Outcome = "sent"
	OutcomeFailed     Outcome = "failed"
	OutcomeSuppressed Outcome = "suppressed"
	// OutcomeQueued means the event joined a digest bucket; delivery
	// happens at flush time.
	OutcomeQueued Outcome = "queued"
)

// DispatchResult is one per-recipient-per-channel outcome of EmitEvent.
type DispatchResult struct {
	UserID  *uuid.UUID    `json:"user_id,omitempty"`
	Channel model.Channel `json:"channel"`
	Outcome Outcome       `json:"outcome"`
	// Reason carries the suppression reason or the failure message.
	Reason string `json:"reason,omitempty"`
}

// outcomeTopic is the broker channel the dashboard live feed subscribes to.
const outcomeTopic = "notifications.outcomes"

type Service struct {
	prefs      repository.PreferenceRepository
	deliveries repository.DeliveryRepository
	digests    *digest.Service
	senders    map[model.Channel]channel.Sender
	renderer   *render.Renderer
	broker     messaging.Broker
	prefCache  *cache.Cache
	logger     *logger.Logger
	metrics    *metrics.Metrics

	// nowFn is swapped in tests.
	nowFn func() time.Time
}

func NewService(
	prefs repository.PreferenceRepository,
	deliveries repository.DeliveryRepository,
	digests *digest.Service,
	senders []channel.Sender,
	renderer *render.Renderer,
	broker messaging.Broker,
	cacheTTL time.Duration,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	byChannel := make(map[model.Channel]channel.Sender, len(senders))
	for _, s := range senders {
		byChannel[s.Channel()] = s
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &Service{
		prefs:      prefs,
		deliveries: deliveries,
		digests:    digests,
		senders:    byChannel,
		renderer:   renderer,
		broker:     broker,
		prefCache:  cache.New(cacheTTL, 2*cacheTTL),
		logger:     log,
		metrics:    m,
		nowFn:      time.Now,
	}
}

// EmitEvent fans one event out to every preference row of the customer.
// A failure for one recipient or channel never aborts the others; the
// caller gets the full outcome list.
func (s *Service) EmitEvent(ctx context.Context, customerID uuid.UUID, eventType model.EventType, payload model.EventPayload) ([]DispatchResult, error) {
	start := s.nowFn()

	if !model.ValidEventType(eventType) {
		return nil, apperrors.BadRequest(fmt.Sprintf("unknown event type %q", eventType), nil)
	}

	prefs, err := s.loadPreferences(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if len(prefs) == 0 {
		return nil, apperrors.MissingPreferences()
	}
	prefs = dispatchTargets(prefs)

	results := make([]DispatchResult, 0, len(prefs)*2)
	for _, pref := range prefs {
		for _, ch := range []model.Channel{model.ChannelEmail, model.ChannelSMS} {
			if !pref.ChannelEnabled(ch) || !pref.SubscribedTo(eventType, ch) {
				continue
			}
			result := s.dispatchOne(ctx, pref, ch, eventType, payload)
			results = append(results, result)
			if s.metrics != nil {
				s.metrics.DispatchOutcomes.WithLabelValues(string(eventType), string(ch), string(result.Outcome)).Inc()
			}
		}
	}

	if s.metrics != nil {
		s.metrics.DispatchLatency.Observe(time.Since(start).Seconds())
	}
	return results, nil
}

// dispatchTargets picks the preference rows an event fans out to. The
// tenant-level row is a fallback for customers without per-user settings;
// once per-user rows exist it is dropped so nobody gets notified twice.
func dispatchTargets(prefs []*model.NotificationPreference) []*model.NotificationPreference {
	users := make([]*model.NotificationPreference, 0, len(prefs))
	for _, p := range prefs {
		if p.UserID != nil {
			users = append(users, p)
		}
	}
	if len(users) == 0 {
		return prefs
	}
	return users
}

// dispatchOne handles a single (preference row, channel) pair. Digest-class
// cadences queue; everything else goes through the immediate path.
func (s *Service) dispatchOne(ctx context.Context, pref *model.NotificationPreference, ch model.Channel, eventType model.EventType, payload model.EventPayload) DispatchResult {
	result := DispatchResult{UserID: pref.UserID, Channel: ch}

	if s.shouldDigest(pref, eventType) {
		if _, err := s.digests.AppendEvent(ctx, pref, ch, eventType, payload, s.nowFn()); err != nil {
			s.logger.Error(err, "failed to queue digest event",
				"customer_id", pref.CustomerID.String(), "channel", string(ch))
			result.Outcome = OutcomeFailed
			result.Reason = err.Error()
			return result
		}
		result.Outcome = OutcomeQueued
		return result
	}

	return s.sendImmediate(ctx, pref, ch, eventType, payload, result)
}

// shouldDigest reports whether the event should accumulate instead of
// sending now. Weekly reports are themselves digest-class content and
// always go out immediately.
func (s *Service) shouldDigest(pref *model.NotificationPreference, eventType model.EventType) bool {
	if eventType == model.EventWeeklyReport || eventType == model.EventDigest {
		return false
	}
	return pref.CadenceMode != model.CadenceImmediate
}

func (s *Service) sendImmediate(ctx context.Context, pref *model.NotificationPreference, ch model.Channel, eventType model.EventType, payload model.EventPayload, result DispatchResult) DispatchResult {
	now := s.nowFn()
	record := s.newRecord(pref, ch, eventType, payload, now)

	if policy.InQuietHours(pref, now) {
		return s.suppress(ctx, record, result, model.SuppressedQuietHours)
	}
	if pref.MaxNotificationsPerDay != nil {
		from, to := policy.DayBounds(pref, now)
		sent, err := s.deliveries.CountSentBetween(ctx, pref.CustomerID, pref.UserID, ch, from, to)
		if err != nil {
			s.logger.Error(err, "daily cap count failed, allowing send",
				"customer_id", pref.CustomerID.String())
		} else if sent >= *pref.MaxNotificationsPerDay {
			return s.suppress(ctx, record, result, model.SuppressedDailyLimit)
		}
	}

	to := pref.Recipient(ch)
	if to == "" {
		reason := apperrors.MissingSMSPhone().Message
		if ch == model.ChannelEmail {
			reason = apperrors.MissingEmail().Message
		}
		return s.fail(ctx, record, result, reason)
	}

	content, err := s.renderer.Render(eventType, ch, payload)
	if err != nil {
		return s.fail(ctx, record, result, err.Error())
	}

	sender, ok := s.senders[ch]
	if !ok {
		return s.fail(ctx, record, result, fmt.Sprintf("no sender for channel %s", ch))
	}

	recipient := channel.Recipient{CustomerID: pref.CustomerID, UserID: pref.UserID, To: to}
	if err := sender.Send(ctx, recipient, content); err != nil {
		s.logger.Error(err, "immediate send failed",
			"customer_id", pref.CustomerID.String(),
			"event_type", string(eventType),
			"channel", string(ch))
		return s.fail(ctx, record, result, err.Error())
	}

	record.Status = model.DeliveryStatusSent
	s.record(ctx, record)
	result.Outcome = OutcomeSent
	return result
}

func (s *Service) suppress(ctx context.Context, record *model.DeliveryRecord, result DispatchResult, reason string) DispatchResult {
	record.Status = model.DeliveryStatusSkipped
	record.ErrorMessage = reason
	s.record(ctx, record)
	result.Outcome = OutcomeSuppressed
	result.Reason = reason
	return result
}

func (s *Service) fail(ctx context.Context, record *model.DeliveryRecord, result DispatchResult, reason string) DispatchResult {
	record.Status = model.DeliveryStatusFailed
	record.ErrorMessage = reason
	s.record(ctx, record)
	result.Outcome = OutcomeFailed
	result.Reason = reason
	return result
}

// record writes the delivery row and publishes the outcome for the live
// feed. The publish is fire-and-forget.
func (s *Service) record(ctx context.Context, record *model.DeliveryRecord) {
	if err := s.deliveries.Create(ctx, record); err != nil {
		s.logger.Error(err, "failed to write delivery record",
			"customer_id", record.CustomerID.String(),
			"event_type", string(record.EventType))
	}
	if s.broker == nil {
		return
	}
	msg := messaging.Message{Type: "delivery_outcome", Payload: record}
	if err := s.broker.Publish(ctx, outcomeTopic, msg); err != nil {
		s.logger.Warn("failed to publish delivery outcome",
			"customer_id", record.CustomerID.String(), "error", err.Error())
	}
}

func (s *Service) newRecord(pref *model.NotificationPreference, ch model.Channel, eventType model.EventType, payload model.EventPayload, now time.Time) *model.DeliveryRecord {
	raw, err := json.Marshal(payload)
	if err != nil || payload == nil {
		raw = json.RawMessage(`{}`)
	}
	return &model.DeliveryRecord{
		ID:         uuid.New(),
		CustomerID: pref.CustomerID,
		UserID:     pref.UserID,
		EventType:  eventType,
		Channel:    ch,
		Payload:    raw,
		SentAt:     now.UTC(),
	}
}

// loadPreferences reads through the short-TTL cache. Preference writes
// invalidate the customer's entry.
func (s *Service) loadPreferences(ctx context.Context, customerID uuid.UUID) ([]*model.NotificationPreference, error) {
	key := customerID.String()
	if cached, ok := s.prefCache.Get(key); ok {
		return cached.([]*model.NotificationPreference), nil
	}
	prefs, err := s.prefs.ListForCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}
	s.prefCache.Set(key, prefs, cache.DefaultExpiration)
	return prefs, nil
}

// GetPreferences returns the customer's preference rows, bypassing the
// cache so the settings page always reads fresh.
func (s *Service) GetPreferences(ctx context.Context, customerID uuid.UUID) ([]*model.NotificationPreference, error) {
	return s.prefs.ListForCustomer(ctx, customerID)
}

// ListDeliveries returns the customer's most recent delivery records.
func (s *Service) ListDeliveries(ctx context.Context, customerID uuid.UUID, limit int) ([]*model.DeliveryRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.deliveries.ListForCustomer(ctx, customerID, limit)
}

// UpsertPreference validates and writes one preference row, then drops
// the customer's cache entry.
func (s *Service) UpsertPreference(ctx context.Context, pref *model.NotificationPreference) error {
	if err := pref.Validate(); err != nil {
		return apperrors.BadRequest(err.Error(), err)
	}
	if err := s.prefs.Upsert(ctx, pref); err != nil {
		return fmt.Errorf("failed to save preference: %w", err)
	}
	s.prefCache.Delete(pref.CustomerID.String())
	return nil
}
