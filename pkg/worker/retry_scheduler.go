package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/geomark/dispatch-api/internal/repository"
	"github.com/geomark/dispatch-api/pkg/logger"
	"github.com/geomark/dispatch-api/pkg/metrics"
)

// Attempter is the slice of the executor the scheduler needs.
type Attempter interface {
	Attempt(ctx context.Context, deliveryID uuid.UUID) error
}

type RetrySchedulerConfig struct {
	BatchSize    int
	TickInterval time.Duration
}

// RetryScheduler drives the later attempts of pending deliveries. All state
// lives in the delivery rows; the scheduler only asks which rows are due and
// hands them to the executor one at a time, which also bounds concurrent
// outbound calls per instance.
type RetryScheduler struct {
	repo     repository.DeliveryRepository
	executor Attempter
	config   RetrySchedulerConfig
	logger   *logger.Logger
	metrics  *metrics.Metrics

	ticking atomic.Bool
}

func NewRetryScheduler(
	repo repository.DeliveryRepository,
	executor Attempter,
	config RetrySchedulerConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *RetryScheduler {
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.TickInterval <= 0 {
		panic("TickInterval must be greater than 0")
	}

	return &RetryScheduler{
		repo:     repo,
		executor: executor,
		config:   config,
		logger:   logger,
		metrics:  metrics,
	}
}

func (s *RetryScheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.logger.Info("starting retry scheduler",
		"tick_interval", s.config.TickInterval.String(),
		"batch_size", s.config.BatchSize)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutting down retry scheduler")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one batch in its own goroutine. If the previous batch is still
// going when the timer fires, the new tick is skipped entirely: overlapping
// batches could pick up the same delivery twice and break the one-attempt-
// in-flight-per-delivery guarantee.
func (s *RetryScheduler) tick(ctx context.Context) {
	if !s.ticking.CompareAndSwap(false, true) {
		s.metrics.SchedulerTicksSkipped.Inc()
		s.logger.Warn("previous scheduler tick still running, skipping")
		return
	}

	go func() {
		defer s.ticking.Store(false)
		if err := s.processDue(ctx); err != nil {
			s.logger.Error(err, "failed to process due deliveries")
		}
	}()
}

func (s *RetryScheduler) processDue(ctx context.Context) error {
	due, err := s.repo.GetDueWithLock(ctx, time.Now(), s.config.BatchSize)
	if err != nil {
		s.metrics.DatabaseOperations.WithLabelValues("get_due_deliveries", "error").Inc()
		return fmt.Errorf("failed to get due deliveries: %w", err)
	}
	s.metrics.DatabaseOperations.WithLabelValues("get_due_deliveries", "success").Inc()

	if len(due) == 0 {
		return nil
	}
	s.logger.Debug("processing due deliveries", "count", len(due))

	for _, d := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.executor.Attempt(ctx, d.ID); err != nil {
			s.logger.Error(err, "failed to attempt delivery",
				"delivery_id", d.ID.String(),
				"webhook_id", d.WebhookID.String())
			continue
		}
	}

	return nil
}
