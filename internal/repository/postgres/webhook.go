package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/geomark/dispatch-api/internal/model"
	"github.com/geomark/dispatch-api/internal/repository"
)

type webhookRepository struct {
	BaseRepository
}

func NewWebhookRepository(base BaseRepository) repository.WebhookRepository {
	return &webhookRepository{base}
}

func (r *webhookRepository) Get(ctx context.Context, id uuid.UUID) (*model.WebhookEndpoint, error) {
	query := `
		SELECT id, source_id, url, secret, enabled,
			consecutive_failures, circuit_open_until, created_at, updated_at
		FROM webhook_endpoints
		WHERE id = $1
	`
	var ep model.WebhookEndpoint
	if err := r.db.GetContext(ctx, &ep, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get webhook endpoint: %w", err)
	}
	return &ep, nil
}

func (r *webhookRepository) ListEnabledForSource(ctx context.Context, sourceID uuid.UUID) ([]*model.WebhookEndpoint, error) {
	query := `
		SELECT id, source_id, url, secret, enabled,
			consecutive_failures, circuit_open_until, created_at, updated_at
		FROM webhook_endpoints
		WHERE source_id = $1 AND enabled = true
		ORDER BY created_at ASC
	`
	var endpoints []*model.WebhookEndpoint
	err := r.db.SelectContext(ctx, &endpoints, query, sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return endpoints, err
}

// UpdateCircuitState writes only the breaker columns. Single-row,
// last-writer-wins: the breaker is advisory, not a lock.
func (r *webhookRepository) UpdateCircuitState(ctx context.Context, ep *model.WebhookEndpoint) error {
	query := `
		UPDATE webhook_endpoints
		SET consecutive_failures = $2,
			circuit_open_until = $3,
			updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, ep.ID, ep.ConsecutiveFailures, ep.CircuitOpenUntil)
	if err != nil {
		return fmt.Errorf("failed to update circuit state: %w", err)
	}
	return nil
}
