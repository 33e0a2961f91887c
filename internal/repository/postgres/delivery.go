package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/geomark/dispatch-api/internal/model"
	"github.com/geomark/dispatch-api/internal/repository"
)

type deliveryRepository struct {
	BaseRepository
}

func NewDeliveryRepository(base BaseRepository) repository.DeliveryRepository {
	return &deliveryRepository{base}
}

func (r *deliveryRepository) Create(ctx context.Context, d *model.Delivery) error {
	if d == nil {
		return fmt.Errorf("delivery cannot be nil")
	}
	if d.Payload == nil {
		return fmt.Errorf("delivery payload cannot be nil")
	}

	query := `
		INSERT INTO deliveries (
			id, webhook_id, event_id, event_type, payload, status,
			attempts, next_retry_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`
	_, err := r.db.ExecContext(ctx, query,
		d.ID,
		d.WebhookID,
		d.EventID,
		d.EventType,
		d.Payload,
		d.Status,
		d.Attempts,
		d.NextRetryAt,
		d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create delivery: %w", err)
	}
	return nil
}

func (r *deliveryRepository) Get(ctx context.Context, id uuid.UUID) (*model.Delivery, error) {
	query := `
		SELECT id, webhook_id, event_id, event_type, payload, status,
			attempts, last_attempt_at, next_retry_at, response_code,
			error_message, created_at
		FROM deliveries
		WHERE id = $1
	`
	var d model.Delivery
	if err := r.db.GetContext(ctx, &d, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}
	return &d, nil
}

// Update writes the mutable fields of a delivery. The payload and identity
// columns are fixed at creation and never touched here.
func (r *deliveryRepository) Update(ctx context.Context, d *model.Delivery) error {
	query := `
		UPDATE deliveries
		SET status = $2,
			attempts = $3,
			last_attempt_at = $4,
			next_retry_at = $5,
			response_code = $6,
			error_message = $7
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query,
		d.ID,
		d.Status,
		d.Attempts,
		d.LastAttemptAt,
		d.NextRetryAt,
		d.ResponseCode,
		d.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to update delivery: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetDueWithLock claims up to limit pending deliveries whose retry time has
// arrived, oldest first. SKIP LOCKED keeps concurrent scheduler instances
// from claiming the same rows.
func (r *deliveryRepository) GetDueWithLock(ctx context.Context, now time.Time, limit int) ([]*model.Delivery, error) {
	query := `
		SELECT id, webhook_id, event_id, event_type, payload, status,
			attempts, last_attempt_at, next_retry_at, response_code,
			error_message, created_at
		FROM deliveries
		WHERE status = $1
		AND next_retry_at <= $2
		ORDER BY next_retry_at ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`
	var deliveries []*model.Delivery
	err := r.db.SelectContext(ctx, &deliveries, query, model.DeliveryStatusPending, now, limit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return deliveries, err
}

func (r *deliveryRepository) List(ctx context.Context, filter repository.DeliveryFilter) ([]*model.Delivery, error) {
	query := `
		SELECT id, webhook_id, event_id, event_type, payload, status,
			attempts, last_attempt_at, next_retry_at, response_code,
			error_message, created_at
		FROM deliveries
		WHERE ($1::uuid IS NULL OR webhook_id = $1)
		AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var deliveries []*model.Delivery
	err := r.db.SelectContext(ctx, &deliveries, query, filter.WebhookID, filter.Status, limit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return deliveries, err
}

func (r *deliveryRepository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM deliveries
		WHERE created_at < $1
	`
	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old deliveries: %w", err)
	}
	return result.RowsAffected()
}
