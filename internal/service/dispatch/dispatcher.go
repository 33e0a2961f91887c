package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/geomark/dispatch-api/internal/model"
	"github.com/geomark/dispatch-api/internal/repository"
	"github.com/geomark/dispatch-api/pkg/logger"
)

// firstAttemptBudget bounds the detached attempt #1 goroutine. It covers the
// request timeout plus the database writes around it.
const firstAttemptBudget = 30 * time.Second

// Event is the producer-facing view of a domain event to fan out.
type Event struct {
	ID      uuid.UUID
	Type    string
	Payload json.RawMessage
}

// Dispatcher turns one event into one pending delivery per target webhook
// and fires attempt #1 without blocking the caller. The producer's request
// has already succeeded when Enqueue runs, so delivery problems are logged,
// never propagated.
type Dispatcher struct {
	deliveries repository.DeliveryRepository
	executor   *Executor
	logger     *logger.Logger

	wg sync.WaitGroup
}

func NewDispatcher(deliveries repository.DeliveryRepository, executor *Executor, logger *logger.Logger) *Dispatcher {
	return &Dispatcher{
		deliveries: deliveries,
		executor:   executor,
		logger:     logger,
	}
}

// Enqueue durably creates the delivery rows, then starts an independent
// goroutine per delivery for the immediate first attempt. It returns the ids
// of the rows that were written; a failed insert is logged and skipped so one
// bad row never blocks fan-out to the remaining endpoints.
func (dsp *Dispatcher) Enqueue(ctx context.Context, ev Event, webhookIDs []uuid.UUID) []uuid.UUID {
	now := time.Now()

	var eventID *uuid.UUID
	if ev.ID != uuid.Nil {
		id := ev.ID
		eventID = &id
	}

	created := make([]uuid.UUID, 0, len(webhookIDs))
	for _, webhookID := range webhookIDs {
		d := &model.Delivery{
			ID:          uuid.New(),
			WebhookID:   webhookID,
			EventID:     eventID,
			EventType:   ev.Type,
			Payload:     ev.Payload,
			Status:      model.DeliveryStatusPending,
			Attempts:    0,
			NextRetryAt: &now,
			CreatedAt:   now,
		}

		if err := dsp.deliveries.Create(ctx, d); err != nil {
			dsp.logger.Error(err, "failed to create delivery",
				"webhook_id", webhookID.String(),
				"event_type", ev.Type)
			continue
		}
		created = append(created, d.ID)
	}

	for _, deliveryID := range created {
		deliveryID := deliveryID
		dsp.wg.Add(1)
		go func() {
			defer dsp.wg.Done()
			// Detached from the producer's request context: the attempt
			// must outlive the request that created the event.
			attemptCtx, cancel := context.WithTimeout(context.Background(), firstAttemptBudget)
			defer cancel()

			if err := dsp.executor.Attempt(attemptCtx, deliveryID); err != nil {
				dsp.logger.Error(err, "immediate delivery attempt failed",
					"delivery_id", deliveryID.String())
			}
		}()
	}

	return created
}

// Wait blocks until all in-flight immediate attempts finish. Used on
// shutdown and in tests.
func (dsp *Dispatcher) Wait() {
	dsp.wg.Wait()
}
