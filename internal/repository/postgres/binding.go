package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/textback/notify-api/pkg/errors"

	"github.com/textback/notify-api/internal/model"
	"github.com/textback/notify-api/internal/repository"
)

type smsBindingRepository struct {
	*BaseRepository
}

func NewSMSBindingRepository(base *BaseRepository) repository.SMSBindingRepository {
	return &smsBindingRepository{BaseRepository: base}
}

func (r *smsBindingRepository) Get(ctx context.Context, customerID uuid.UUID) (*model.SMSProviderBinding, error) {
	query := `
		SELECT customer_id, provider, phone_number, pool_number_id, created_at, updated_at
		FROM sms_provider_bindings
		WHERE customer_id = $1
	`
	var binding model.SMSProviderBinding
	err := r.db.GetContext(ctx, &binding, query, customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("sms provider binding", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sms binding: %w", err)
	}
	return &binding, nil
}

func (r *smsBindingRepository) Upsert(ctx context.Context, binding *model.SMSProviderBinding) error {
	now := time.Now()
	if binding.CreatedAt.IsZero() {
		binding.CreatedAt = now
	}
	binding.UpdatedAt = now

	query := `
		INSERT INTO sms_provider_bindings (
			customer_id, provider, phone_number, pool_number_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (customer_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			phone_number = EXCLUDED.phone_number,
			pool_number_id = EXCLUDED.pool_number_id,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		binding.CustomerID, binding.Provider, binding.PhoneNumber,
		binding.PoolNumberID, binding.CreatedAt, binding.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sms binding: %w", err)
	}
	return nil
}

func (r *smsBindingRepository) Delete(ctx context.Context, customerID uuid.UUID) error {
	query := `DELETE FROM sms_provider_bindings WHERE customer_id = $1`
	if _, err := r.db.ExecContext(ctx, query, customerID); err != nil {
		return fmt.Errorf("failed to delete sms binding: %w", err)
	}
	return nil
}
