// Package digest accumulates non-immediate events into windowed buckets
// and flushes each bucket as a single bundled notification.
package digest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/textback/notify-api/pkg/errors"
	"github.com/textback/notify-api/pkg/jobqueue"
	"github.com/textback/notify-api/pkg/logger"
	"github.com/textback/notify-api/pkg/metrics"

	"github.com/textback/notify-api/internal/channel"
	"github.com/textback/notify-api/internal/model"
	"github.com/textback/notify-api/internal/repository"
	"github.com/textback/notify-api/internal/service/policy"
	"github.com/textback/notify-api/internal/service/render"
)

// FlushDigestJob is the payload of a flush_digest job.
type FlushDigestJob struct {
	BucketID uuid.UUID `json:"bucket_id"`
}

type Service struct {
	digests    repository.DigestRepository
	prefs      repository.PreferenceRepository
	deliveries repository.DeliveryRepository
	senders    map[model.Channel]channel.Sender
	renderer   *render.Renderer
	queue      jobqueue.Enqueuer
	logger     *logger.Logger
	metrics    *metrics.Metrics

	// nowFn is swapped in tests.
	nowFn func() time.Time
}

func NewService(
	digests repository.DigestRepository,
	prefs repository.PreferenceRepository,
	deliveries repository.DeliveryRepository,
	senders []channel.Sender,
	renderer *render.Renderer,
	queue jobqueue.Enqueuer,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	byChannel := make(map[model.Channel]channel.Sender, len(senders))
	for _, s := range senders {
		byChannel[s.Channel()] = s
	}
	return &Service{
		digests:    digests,
		prefs:      prefs,
		deliveries: deliveries,
		senders:    byChannel,
		renderer:   renderer,
		queue:      queue,
		logger:     log,
		metrics:    m,
		nowFn:      time.Now,
	}
}

// AppendEvent routes one event into the pending bucket for the
// preference's current window, creating the bucket when none exists. The
// flush job is enqueued exactly once, by whichever call created the
// bucket.
func (s *Service) AppendEvent(ctx context.Context, pref *model.NotificationPreference, ch model.Channel, eventType model.EventType, payload model.EventPayload, occurredAt time.Time) (*model.DigestBucket, error) {
	window, err := ComputeWindow(pref.CadenceMode, pref.CadenceIntervalMinutes, pref.DigestTime, pref.Location(), s.nowFn())
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	userKey := uuid.Nil
	if pref.UserID != nil {
		userKey = *pref.UserID
	}
	candidate := &model.DigestBucket{
		ID:           uuid.New(),
		CustomerID:   pref.CustomerID,
		UserID:       pref.UserID,
		UserKey:      userKey,
		Channel:      ch,
		WindowStart:  window.Start,
		WindowEnd:    window.End,
		ScheduledFor: window.ScheduledFor,
		Status:       model.BucketStatusPending,
	}
	event := &model.DigestEvent{
		ID:         uuid.New(),
		EventType:  eventType,
		Payload:    raw,
		OccurredAt: occurredAt.UTC(),
	}

	bucket, created, err := s.digests.AppendEvent(ctx, candidate, event)
	if err != nil {
		return nil, fmt.Errorf("failed to append digest event: %w", err)
	}
	if s.metrics != nil {
		s.metrics.DigestEventsAppended.Inc()
		if created {
			s.metrics.DigestBucketsCreated.Inc()
		}
	}

	if created {
		job, err := jobqueue.NewJob(jobqueue.TypeFlushDigest, FlushDigestJob{BucketID: bucket.ID}, bucket.ScheduledFor)
		if err != nil {
			return nil, err
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			return nil, fmt.Errorf("failed to schedule digest flush: %w", err)
		}
		s.logger.Info("digest bucket opened",
			"bucket_id", bucket.ID.String(),
			"customer_id", bucket.CustomerID.String(),
			"channel", string(ch),
			"scheduled_for", bucket.ScheduledFor.Format(time.RFC3339))
	}

	return bucket, nil
}

// Flush delivers the bucket's bundled notification and moves the bucket
// to a terminal status. It is idempotent: a bucket that is missing or no
// longer pending is left untouched and reported as not flushed. The
// terminal transition and the delivery record commit atomically, so a
// crash between send and commit is the only at-least-once window.
func (s *Service) Flush(ctx context.Context, bucketID uuid.UUID) (bool, error) {
	start := s.nowFn()
	outcome := "noop"

	flushed, err := s.digests.Flush(ctx, bucketID, func(bucket *model.DigestBucket, events []*model.DigestEvent) (model.BucketStatus, *model.DeliveryRecord, error) {
		status, record, err := s.deliver(ctx, bucket, events)
		if err != nil {
			return status, nil, err
		}
		outcome = string(record.Status)
		return status, record, nil
	})
	if err != nil {
		outcome = "error"
	}

	if s.metrics != nil {
		s.metrics.DigestFlushes.WithLabelValues(outcome).Inc()
		s.metrics.DigestFlushLatency.Observe(time.Since(start).Seconds())
	}
	return flushed, err
}

// HandleQueuedFlush is the worker entry point for flush_digest jobs.
func (s *Service) HandleQueuedFlush(ctx context.Context, payload json.RawMessage) error {
	var job FlushDigestJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("failed to decode flush_digest job: %w", err)
	}
	flushed, err := s.Flush(ctx, job.BucketID)
	if err != nil {
		return err
	}
	if !flushed {
		s.logger.Debug("digest bucket already flushed", "bucket_id", job.BucketID.String())
	}
	return nil
}

// deliver runs while the bucket row is locked and decides the terminal
// transition. Policy suppression records a skipped delivery, never a
// failure, and the bucket will not be retried. A transient repository
// error is returned instead of a terminal status so the transaction rolls
// back and the redelivered job can retry the whole flush.
func (s *Service) deliver(ctx context.Context, bucket *model.DigestBucket, events []*model.DigestEvent) (model.BucketStatus, *model.DeliveryRecord, error) {
	now := s.nowFn()
	summary := s.renderer.Digest(bucket.Channel, events)
	record := s.newRecord(bucket, summary.Payload, now)

	pref, err := s.prefs.Get(ctx, bucket.CustomerID, bucket.UserID)
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && appErr.Code == apperrors.ErrMissingPreferences {
			record.Status = model.DeliveryStatusFailed
			record.ErrorMessage = apperrors.MissingPreferences().Message
			return model.BucketStatusFailed, record, nil
		}
		return model.BucketStatusPending, nil, fmt.Errorf("failed to load preferences: %w", err)
	}

	if reason := s.suppressionReason(ctx, pref, bucket.Channel, now); reason != "" {
		record.Status = model.DeliveryStatusSkipped
		record.ErrorMessage = reason
		return model.BucketStatusFailed, record, nil
	}

	to := pref.Recipient(bucket.Channel)
	if to == "" {
		record.Status = model.DeliveryStatusFailed
		if bucket.Channel == model.ChannelEmail {
			record.ErrorMessage = apperrors.MissingEmail().Message
		} else {
			record.ErrorMessage = apperrors.MissingSMSPhone().Message
		}
		return model.BucketStatusFailed, record, nil
	}

	sender, ok := s.senders[bucket.Channel]
	if !ok {
		record.Status = model.DeliveryStatusFailed
		record.ErrorMessage = fmt.Sprintf("no sender for channel %s", bucket.Channel)
		return model.BucketStatusFailed, record, nil
	}

	recipient := channel.Recipient{CustomerID: bucket.CustomerID, UserID: bucket.UserID, To: to}
	if err := sender.Send(ctx, recipient, summary.Content); err != nil {
		s.logger.Error(err, "digest flush send failed",
			"bucket_id", bucket.ID.String(), "channel", string(bucket.Channel))
		record.Status = model.DeliveryStatusFailed
		record.ErrorMessage = err.Error()
		return model.BucketStatusFailed, record, nil
	}

	record.Status = model.DeliveryStatusSent
	return model.BucketStatusSent, record, nil
}

func (s *Service) suppressionReason(ctx context.Context, pref *model.NotificationPreference, ch model.Channel, now time.Time) string {
	if policy.InQuietHours(pref, now) {
		return model.SuppressedQuietHours
	}
	if pref.MaxNotificationsPerDay != nil {
		from, to := policy.DayBounds(pref, now)
		sent, err := s.deliveries.CountSentBetween(ctx, pref.CustomerID, pref.UserID, ch, from, to)
		if err != nil {
			s.logger.Error(err, "daily cap count failed, allowing send",
				"customer_id", pref.CustomerID.String())
			return ""
		}
		if sent >= *pref.MaxNotificationsPerDay {
			return model.SuppressedDailyLimit
		}
	}
	return ""
}

func (s *Service) newRecord(bucket *model.DigestBucket, payload model.EventPayload, now time.Time) *model.DeliveryRecord {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = json.RawMessage(`{}`)
	}
	return &model.DeliveryRecord{
		ID:         uuid.New(),
		CustomerID: bucket.CustomerID,
		UserID:     bucket.UserID,
		EventType:  model.EventDigest,
		Channel:    bucket.Channel,
		Payload:    raw,
		SentAt:     now.UTC(),
	}
}
