package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	apperrors "github.com/textback/notify-api/pkg/errors"

	"github.com/textback/notify-api/internal/model"
	"github.com/textback/notify-api/internal/repository"
)

type poolNumberRepository struct {
	*BaseRepository
}

func NewPoolNumberRepository(base *BaseRepository) repository.PoolNumberRepository {
	return &poolNumberRepository{BaseRepository: base}
}

// Allocate claims one free number under row-level locking. SKIP LOCKED
// means concurrent allocations never fight over the same row: each
// transaction locks a different free number or sees none left.
func (r *poolNumberRepository) Allocate(ctx context.Context, customerID uuid.UUID) (*model.PoolNumber, error) {
	var number model.PoolNumber
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		claim := `
			SELECT id, phone_number, status, customer_id, allocated_at, released_at, created_at
			FROM sms_pool_numbers
			WHERE status IN ('unallocated', 'released')
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		`
		err := tx.GetContext(ctx, &number, claim)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.PoolExhausted()
		}
		if err != nil {
			return fmt.Errorf("failed to claim pool number: %w", err)
		}

		now := time.Now()
		assign := `
			UPDATE sms_pool_numbers
			SET status = $1, customer_id = $2, allocated_at = $3, released_at = NULL
			WHERE id = $4
		`
		if _, err := tx.ExecContext(ctx, assign, model.PoolNumberAllocated, customerID, now, number.ID); err != nil {
			return fmt.Errorf("failed to assign pool number: %w", err)
		}

		number.Status = model.PoolNumberAllocated
		number.CustomerID = &customerID
		number.AllocatedAt = &now
		number.ReleasedAt = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &number, nil
}

// Release is an idempotent no-op when the customer holds no allocated
// number; callers get false, not an error.
func (r *poolNumberRepository) Release(ctx context.Context, customerID uuid.UUID) (bool, error) {
	query := `
		UPDATE sms_pool_numbers
		SET status = $1, customer_id = NULL, released_at = NOW()
		WHERE customer_id = $2 AND status = $3
	`
	result, err := r.db.ExecContext(ctx, query, model.PoolNumberReleased, customerID, model.PoolNumberAllocated)
	if err != nil {
		return false, fmt.Errorf("failed to release pool number: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read release result: %w", err)
	}
	return affected > 0, nil
}

func (r *poolNumberRepository) Add(ctx context.Context, phoneNumber string) (*model.PoolNumber, error) {
	number := &model.PoolNumber{
		ID:          uuid.New(),
		PhoneNumber: phoneNumber,
		Status:      model.PoolNumberUnallocated,
		CreatedAt:   time.Now(),
	}
	query := `
		INSERT INTO sms_pool_numbers (id, phone_number, status, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.db.ExecContext(ctx, query, number.ID, number.PhoneNumber, number.Status, number.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to add pool number: %w", err)
	}
	return number, nil
}

func (r *poolNumberRepository) CountFree(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM sms_pool_numbers WHERE status IN ('unallocated', 'released')`
	if err := r.db.GetContext(ctx, &count, query); err != nil {
		return 0, fmt.Errorf("failed to count free pool numbers: %w", err)
	}
	return count, nil
}
