package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/textback/notify-api/internal/model"
	"github.com/textback/notify-api/internal/repository"
)

func setupMockDB(t *testing.T) (repository.DigestRepository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return NewDigestRepository(NewBaseRepository(sqlxDB)), mock
}

func bucketRows(b *model.DigestBucket) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "customer_id", "user_id", "user_key", "channel", "window_start",
		"window_end", "scheduled_for", "status", "event_count", "created_at", "updated_at",
	}).AddRow(
		b.ID.String(), b.CustomerID.String(), nil, b.UserKey.String(), string(b.Channel),
		b.WindowStart, b.WindowEnd, b.ScheduledFor, string(b.Status), b.EventCount,
		b.CreatedAt, b.UpdatedAt,
	)
}

func pendingBucket() *model.DigestBucket {
	now := time.Date(2025, 3, 10, 10, 15, 0, 0, time.UTC)
	return &model.DigestBucket{
		ID:           uuid.New(),
		CustomerID:   uuid.New(),
		UserKey:      uuid.Nil,
		Channel:      model.ChannelEmail,
		WindowStart:  time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
		WindowEnd:    time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC),
		ScheduledFor: time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC),
		Status:       model.BucketStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// The pending bucket the upsert conflicted with can be flushed by a
// concurrent transaction before the locking read runs. The append must
// re-insert against the vacated window rather than drop the event.
func TestAppendEventRetriesAfterConcurrentFlush(t *testing.T) {
	repo, mock := setupMockDB(t)
	candidate := pendingBucket()

	mock.ExpectBegin()

	// First round: the insert conflicts with a pending bucket that is
	// flushed before the locking read, so the read comes back empty.
	mock.ExpectExec("INSERT INTO digest_buckets").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM digest_buckets(.+)FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(nil))

	// Retry: the window is vacant now, the candidate wins it.
	mock.ExpectExec("INSERT INTO digest_buckets").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM digest_buckets(.+)FOR UPDATE").
		WillReturnRows(bucketRows(candidate))
	mock.ExpectQuery("UPDATE digest_buckets(.+)RETURNING event_count").
		WillReturnRows(sqlmock.NewRows([]string{"event_count"}).AddRow(1))
	mock.ExpectExec("INSERT INTO digest_events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectCommit()

	event := &model.DigestEvent{EventType: model.EventNewLead, Payload: []byte(`{}`)}
	winner, created, err := repo.AppendEvent(context.Background(), candidate, event)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, candidate.ID, winner.ID)
	assert.Equal(t, 1, winner.EventCount)
	assert.Equal(t, 1, event.Seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEventGivesUpAfterOneRetry(t *testing.T) {
	repo, mock := setupMockDB(t)
	candidate := pendingBucket()

	mock.ExpectBegin()
	for i := 0; i < 2; i++ {
		mock.ExpectExec("INSERT INTO digest_buckets").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT (.+) FROM digest_buckets(.+)FOR UPDATE").
			WillReturnRows(sqlmock.NewRows(nil))
	}
	mock.ExpectRollback()

	event := &model.DigestEvent{EventType: model.EventNewLead, Payload: []byte(`{}`)}
	_, _, err := repo.AppendEvent(context.Background(), candidate, event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to lock bucket")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// An error from the flush callback rolls the transaction back, so the
// bucket stays pending and the redelivered job can retry it.
func TestFlushRollsBackOnCallbackError(t *testing.T) {
	repo, mock := setupMockDB(t)
	bucket := pendingBucket()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM digest_buckets WHERE id(.+)FOR UPDATE").
		WillReturnRows(bucketRows(bucket))
	mock.ExpectQuery("SELECT (.+) FROM digest_events").
		WillReturnRows(sqlmock.NewRows([]string{"id", "bucket_id", "seq", "event_type", "payload", "occurred_at"}))
	mock.ExpectRollback()

	transient := errors.New("read tcp: connection reset by peer")
	flushed, err := repo.Flush(context.Background(), bucket.ID, func(*model.DigestBucket, []*model.DigestEvent) (model.BucketStatus, *model.DeliveryRecord, error) {
		return model.BucketStatusPending, nil, transient
	})
	require.ErrorIs(t, err, transient)
	assert.False(t, flushed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
