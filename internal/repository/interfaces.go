package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/textback/notify-api/internal/model"
)

// FlushFunc runs inside the flush transaction while the bucket row is
// locked. It decides the terminal status and the delivery record to write;
// the repository commits both atomically. Returning an error rolls the
// transaction back and leaves the bucket pending for the next delivery of
// the flush job.
type FlushFunc func(bucket *model.DigestBucket, events []*model.DigestEvent) (model.BucketStatus, *model.DeliveryRecord, error)

// All repository interfaces in one file
type (
	// PreferenceRepository handles notification preference rows
	PreferenceRepository interface {
		ListForCustomer(ctx context.Context, customerID uuid.UUID) ([]*model.NotificationPreference, error)
		Get(ctx context.Context, customerID uuid.UUID, userID *uuid.UUID) (*model.NotificationPreference, error)
		Upsert(ctx context.Context, pref *model.NotificationPreference) error
	}

	// DeliveryRepository is the append-only delivery log
	DeliveryRepository interface {
		Create(ctx context.Context, record *model.DeliveryRecord) error
		CountSentBetween(ctx context.Context, customerID uuid.UUID, userID *uuid.UUID, channel model.Channel, from, to time.Time) (int, error)
		ListForCustomer(ctx context.Context, customerID uuid.UUID, limit int) ([]*model.DeliveryRecord, error)
	}

	// DigestRepository owns bucket lifecycle and the single-pending-bucket
	// invariant
	DigestRepository interface {
		// AppendEvent atomically finds-or-creates the pending bucket for the
		// candidate's window and appends the event in arrival order. It
		// returns the winning bucket and whether this call created it.
		AppendEvent(ctx context.Context, candidate *model.DigestBucket, event *model.DigestEvent) (*model.DigestBucket, bool, error)
		// Flush locks the bucket row, and if it is still pending, hands the
		// ordered events to fn and commits the terminal transition together
		// with fn's delivery record. Returns false for a missing or already
		// terminal bucket.
		Flush(ctx context.Context, bucketID uuid.UUID, fn FlushFunc) (bool, error)
		GetBucket(ctx context.Context, bucketID uuid.UUID) (*model.DigestBucket, error)
		ListEvents(ctx context.Context, bucketID uuid.UUID) ([]*model.DigestEvent, error)
	}

	// SMSBindingRepository maps customers to their SMS provider
	SMSBindingRepository interface {
		Get(ctx context.Context, customerID uuid.UUID) (*model.SMSProviderBinding, error)
		Upsert(ctx context.Context, binding *model.SMSProviderBinding) error
		Delete(ctx context.Context, customerID uuid.UUID) error
	}

	// PoolNumberRepository manages the shared number inventory
	PoolNumberRepository interface {
		// Allocate hands out one free number with mutual exclusion; returns
		// errors.PoolExhausted when none are free.
		Allocate(ctx context.Context, customerID uuid.UUID) (*model.PoolNumber, error)
		// Release frees the customer's allocated number. Returns false when
		// nothing was allocated (already-released is not an error).
		Release(ctx context.Context, customerID uuid.UUID) (bool, error)
		Add(ctx context.Context, phoneNumber string) (*model.PoolNumber, error)
		CountFree(ctx context.Context) (int, error)
	}
)
