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

type preferenceRepository struct {
	*BaseRepository
}

func NewPreferenceRepository(base *BaseRepository) repository.PreferenceRepository {
	return &preferenceRepository{BaseRepository: base}
}

const preferenceColumns = `
	id, customer_id, user_id, email_enabled, sms_enabled,
	email_new_lead, email_new_message, sms_new_lead, sms_new_message,
	notify_lead_managed, notify_lead_converted, notify_ai_failed,
	cadence_mode, cadence_interval_minutes, max_notifications_per_day,
	quiet_hours_start, quiet_hours_end, timezone, digest_time,
	email, sms_phone, created_at, updated_at
`

func (r *preferenceRepository) ListForCustomer(ctx context.Context, customerID uuid.UUID) ([]*model.NotificationPreference, error) {
	query := `
		SELECT ` + preferenceColumns + `
		FROM notification_preferences
		WHERE customer_id = $1
		ORDER BY user_id NULLS FIRST, created_at ASC
	`
	var prefs []*model.NotificationPreference
	if err := r.db.SelectContext(ctx, &prefs, query, customerID); err != nil {
		return nil, fmt.Errorf("failed to list preferences: %w", err)
	}
	return prefs, nil
}

func (r *preferenceRepository) Get(ctx context.Context, customerID uuid.UUID, userID *uuid.UUID) (*model.NotificationPreference, error) {
	query := `
		SELECT ` + preferenceColumns + `
		FROM notification_preferences
		WHERE customer_id = $1 AND user_id IS NOT DISTINCT FROM $2
	`
	var pref model.NotificationPreference
	err := r.db.GetContext(ctx, &pref, query, customerID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.MissingPreferences()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preference: %w", err)
	}
	return &pref, nil
}

func (r *preferenceRepository) Upsert(ctx context.Context, pref *model.NotificationPreference) error {
	if err := pref.Validate(); err != nil {
		return apperrors.BadRequest("invalid preference", err)
	}

	now := time.Now()
	if pref.ID == uuid.Nil {
		pref.ID = uuid.New()
		pref.CreatedAt = now
	}
	pref.UpdatedAt = now

	query := `
		INSERT INTO notification_preferences (` + preferenceColumns + `)
		VALUES (
			:id, :customer_id, :user_id, :email_enabled, :sms_enabled,
			:email_new_lead, :email_new_message, :sms_new_lead, :sms_new_message,
			:notify_lead_managed, :notify_lead_converted, :notify_ai_failed,
			:cadence_mode, :cadence_interval_minutes, :max_notifications_per_day,
			:quiet_hours_start, :quiet_hours_end, :timezone, :digest_time,
			:email, :sms_phone, :created_at, :updated_at
		)
		ON CONFLICT (customer_id, user_key) DO UPDATE SET
			email_enabled = EXCLUDED.email_enabled,
			sms_enabled = EXCLUDED.sms_enabled,
			email_new_lead = EXCLUDED.email_new_lead,
			email_new_message = EXCLUDED.email_new_message,
			sms_new_lead = EXCLUDED.sms_new_lead,
			sms_new_message = EXCLUDED.sms_new_message,
			notify_lead_managed = EXCLUDED.notify_lead_managed,
			notify_lead_converted = EXCLUDED.notify_lead_converted,
			notify_ai_failed = EXCLUDED.notify_ai_failed,
			cadence_mode = EXCLUDED.cadence_mode,
			cadence_interval_minutes = EXCLUDED.cadence_interval_minutes,
			max_notifications_per_day = EXCLUDED.max_notifications_per_day,
			quiet_hours_start = EXCLUDED.quiet_hours_start,
			quiet_hours_end = EXCLUDED.quiet_hours_end,
			timezone = EXCLUDED.timezone,
			digest_time = EXCLUDED.digest_time,
			email = EXCLUDED.email,
			sms_phone = EXCLUDED.sms_phone,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.NamedExecContext(ctx, query, pref); err != nil {
		return fmt.Errorf("failed to upsert preference: %w", err)
	}
	return nil
}
