package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/textback/notify-api/internal/model"
	"github.com/textback/notify-api/internal/repository"
)

type deliveryRepository struct {
	*BaseRepository
}

func NewDeliveryRepository(base *BaseRepository) repository.DeliveryRepository {
	return &deliveryRepository{BaseRepository: base}
}

const insertDeliveryQuery = `
	INSERT INTO delivery_records (
		id, customer_id, user_id, event_type, channel, payload,
		status, error_message, sent_at, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

func deliveryArgs(record *model.DeliveryRecord) []interface{} {
	return []interface{}{
		record.ID, record.CustomerID, record.UserID, record.EventType,
		record.Channel, record.Payload, record.Status, record.ErrorMessage,
		record.SentAt, record.CreatedAt,
	}
}

func prepareDelivery(record *model.DeliveryRecord) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.SentAt.IsZero() {
		record.SentAt = now
	}
}

func (r *deliveryRepository) Create(ctx context.Context, record *model.DeliveryRecord) error {
	prepareDelivery(record)
	if _, err := r.db.ExecContext(ctx, insertDeliveryQuery, deliveryArgs(record)...); err != nil {
		return fmt.Errorf("failed to create delivery record: %w", err)
	}
	return nil
}

// createDeliveryTx writes a record inside an open transaction; used by the
// digest flush path so the record and the bucket transition commit together.
func createDeliveryTx(ctx context.Context, tx *sqlx.Tx, record *model.DeliveryRecord) error {
	prepareDelivery(record)
	if _, err := tx.ExecContext(ctx, insertDeliveryQuery, deliveryArgs(record)...); err != nil {
		return fmt.Errorf("failed to create delivery record: %w", err)
	}
	return nil
}

func (r *deliveryRepository) CountSentBetween(ctx context.Context, customerID uuid.UUID, userID *uuid.UUID, channel model.Channel, from, to time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM delivery_records
		WHERE customer_id = $1
		AND user_id IS NOT DISTINCT FROM $2
		AND channel = $3
		AND status = $4
		AND sent_at >= $5 AND sent_at < $6
	`
	var count int
	err := r.db.GetContext(ctx, &count, query,
		customerID, userID, channel, model.DeliveryStatusSent, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to count sent deliveries: %w", err)
	}
	return count, nil
}

func (r *deliveryRepository) ListForCustomer(ctx context.Context, customerID uuid.UUID, limit int) ([]*model.DeliveryRecord, error) {
	query := `
		SELECT id, customer_id, user_id, event_type, channel, payload,
			status, error_message, sent_at, created_at
		FROM delivery_records
		WHERE customer_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	var records []*model.DeliveryRecord
	if err := r.db.SelectContext(ctx, &records, query, customerID, limit); err != nil {
		return nil, fmt.Errorf("failed to list delivery records: %w", err)
	}
	return records, nil
}
