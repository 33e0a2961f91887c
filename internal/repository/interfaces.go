package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/geomark/dispatch-api/internal/model"
)

// ErrNotFound is returned when the requested row does not exist. For webhook
// endpoints it signals deletion: the registry owns the rows and may remove
// them at any time.
var ErrNotFound = errors.New("not found")

// DeliveryFilter narrows List queries on the operator reporting surface.
type DeliveryFilter struct {
	WebhookID *uuid.UUID
	Status    *model.DeliveryStatus
	Limit     int
}

type (
	// DeliveryRepository persists delivery lifecycle state. Coordination
	// between dispatcher, scheduler and executor happens entirely through
	// these rows.
	DeliveryRepository interface {
		Create(ctx context.Context, d *model.Delivery) error
		Get(ctx context.Context, id uuid.UUID) (*model.Delivery, error)
		Update(ctx context.Context, d *model.Delivery) error
		GetDueWithLock(ctx context.Context, now time.Time, limit int) ([]*model.Delivery, error)
		List(ctx context.Context, filter DeliveryFilter) ([]*model.Delivery, error)
		DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	}

	// WebhookRepository reads endpoints owned by the registry service.
	// The circuit breaker columns are the only fields this engine writes.
	WebhookRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.WebhookEndpoint, error)
		ListEnabledForSource(ctx context.Context, sourceID uuid.UUID) ([]*model.WebhookEndpoint, error)
		UpdateCircuitState(ctx context.Context, ep *model.WebhookEndpoint) error
	}
)
