package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/textback/notify-api/internal/model"
	"github.com/textback/notify-api/internal/repository"
)

type digestRepository struct {
	*BaseRepository
}

func NewDigestRepository(base *BaseRepository) repository.DigestRepository {
	return &digestRepository{BaseRepository: base}
}

const bucketColumns = `
	id, customer_id, user_id, user_key, channel, window_start, window_end,
	scheduled_for, status, event_count, created_at, updated_at
`

// AppendEvent upserts the pending bucket for the candidate's window and
// appends the event. The partial unique index on (customer_id, user_key,
// channel, window_start, window_end) WHERE status='pending' guarantees
// concurrent appends converge on one bucket; the FOR UPDATE on the winner
// serializes the event_count increment and seq assignment.
func (r *digestRepository) AppendEvent(ctx context.Context, candidate *model.DigestBucket, event *model.DigestEvent) (*model.DigestBucket, bool, error) {
	now := time.Now()
	if candidate.ID == uuid.Nil {
		candidate.ID = uuid.New()
	}
	candidate.Status = model.BucketStatusPending
	candidate.CreatedAt = now
	candidate.UpdatedAt = now

	var winner model.DigestBucket
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		insert := `
			INSERT INTO digest_buckets (` + bucketColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $11)
			ON CONFLICT (customer_id, user_key, channel, window_start, window_end)
				WHERE status = 'pending'
			DO NOTHING
		`
		lock := `
			SELECT ` + bucketColumns + `
			FROM digest_buckets
			WHERE customer_id = $1 AND user_key = $2 AND channel = $3
			AND window_start = $4 AND window_end = $5 AND status = 'pending'
			FOR UPDATE
		`
		// The pending bucket the insert conflicted with can be flushed by
		// a concurrent transaction before the locking read sees it. One
		// retry re-inserts against the now-vacant window instead of
		// dropping the event.
		for attempt := 0; ; attempt++ {
			_, err := tx.ExecContext(ctx, insert,
				candidate.ID, candidate.CustomerID, candidate.UserID, candidate.UserKey,
				candidate.Channel, candidate.WindowStart, candidate.WindowEnd,
				candidate.ScheduledFor, candidate.Status, candidate.CreatedAt, candidate.UpdatedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert bucket: %w", err)
			}

			err = tx.GetContext(ctx, &winner, lock,
				candidate.CustomerID, candidate.UserKey, candidate.Channel,
				candidate.WindowStart, candidate.WindowEnd,
			)
			if err == nil {
				break
			}
			if errors.Is(err, sql.ErrNoRows) && attempt == 0 {
				continue
			}
			return fmt.Errorf("failed to lock bucket: %w", err)
		}

		var seq int
		bump := `
			UPDATE digest_buckets
			SET event_count = event_count + 1, updated_at = NOW()
			WHERE id = $1
			RETURNING event_count
		`
		if err := tx.GetContext(ctx, &seq, bump, winner.ID); err != nil {
			return fmt.Errorf("failed to bump event count: %w", err)
		}
		winner.EventCount = seq

		if event.ID == uuid.Nil {
			event.ID = uuid.New()
		}
		event.BucketID = winner.ID
		event.Seq = seq
		if event.OccurredAt.IsZero() {
			event.OccurredAt = now
		}
		appendEvent := `
			INSERT INTO digest_events (id, bucket_id, seq, event_type, payload, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		_, err := tx.ExecContext(ctx, appendEvent,
			event.ID, event.BucketID, event.Seq, event.EventType, event.Payload, event.OccurredAt)
		if err != nil {
			return fmt.Errorf("failed to append digest event: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	created := winner.ID == candidate.ID
	return &winner, created, nil
}

// Flush locks the bucket for the duration of fn, so a duplicate job blocks
// on the row lock and then observes the terminal status. The terminal
// transition and the delivery record commit in one transaction.
func (r *digestRepository) Flush(ctx context.Context, bucketID uuid.UUID, fn repository.FlushFunc) (bool, error) {
	flushed := false
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var bucket model.DigestBucket
		lock := `SELECT ` + bucketColumns + ` FROM digest_buckets WHERE id = $1 FOR UPDATE`
		err := tx.GetContext(ctx, &bucket, lock, bucketID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to lock bucket: %w", err)
		}
		if bucket.Status != model.BucketStatusPending {
			return nil
		}

		events, err := listEventsTx(ctx, tx, bucketID)
		if err != nil {
			return err
		}

		status, record, err := fn(&bucket, events)
		if err != nil {
			return err
		}
		if status != model.BucketStatusSent && status != model.BucketStatusFailed {
			return fmt.Errorf("flush must resolve to a terminal status, got %q", status)
		}

		update := `UPDATE digest_buckets SET status = $1, updated_at = NOW() WHERE id = $2`
		if _, err := tx.ExecContext(ctx, update, status, bucketID); err != nil {
			return fmt.Errorf("failed to finalize bucket: %w", err)
		}

		if record != nil {
			if err := createDeliveryTx(ctx, tx, record); err != nil {
				return err
			}
		}

		flushed = true
		return nil
	})
	return flushed, err
}

func (r *digestRepository) GetBucket(ctx context.Context, bucketID uuid.UUID) (*model.DigestBucket, error) {
	var bucket model.DigestBucket
	query := `SELECT ` + bucketColumns + ` FROM digest_buckets WHERE id = $1`
	err := r.db.GetContext(ctx, &bucket, query, bucketID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}
	return &bucket, nil
}

func (r *digestRepository) ListEvents(ctx context.Context, bucketID uuid.UUID) ([]*model.DigestEvent, error) {
	var events []*model.DigestEvent
	query := `
		SELECT id, bucket_id, seq, event_type, payload, occurred_at
		FROM digest_events
		WHERE bucket_id = $1
		ORDER BY seq ASC
	`
	if err := r.db.SelectContext(ctx, &events, query, bucketID); err != nil {
		return nil, fmt.Errorf("failed to list digest events: %w", err)
	}
	return events, nil
}

func listEventsTx(ctx context.Context, tx *sqlx.Tx, bucketID uuid.UUID) ([]*model.DigestEvent, error) {
	var events []*model.DigestEvent
	query := `
		SELECT id, bucket_id, seq, event_type, payload, occurred_at
		FROM digest_events
		WHERE bucket_id = $1
		ORDER BY seq ASC
	`
	if err := tx.SelectContext(ctx, &events, query, bucketID); err != nil {
		return nil, fmt.Errorf("failed to list digest events: %w", err)
	}
	return events, nil
}
