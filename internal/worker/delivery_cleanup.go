package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/geomark/dispatch-api/internal/repository"
	"github.com/geomark/dispatch-api/pkg/logger"
	"github.com/geomark/dispatch-api/pkg/metrics"
)

// DeliveryCleanupWorker purges delivery rows older than the retention
// window, regardless of status. It needs no coordination with the retry
// scheduler: rows old enough to age out are terminal in practice, and losing
// a pending one only forfeits a retry of an already stale event.
type DeliveryCleanupWorker struct {
	repo            repository.DeliveryRepository
	retentionDays   int
	cleanupInterval time.Duration
	logger          *logger.Logger
	metrics         *metrics.Metrics
}

func NewDeliveryCleanupWorker(
	repo repository.DeliveryRepository,
	retentionDays int,
	cleanupInterval time.Duration,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *DeliveryCleanupWorker {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 24 * time.Hour
	}
	return &DeliveryCleanupWorker{
		repo:            repo,
		retentionDays:   retentionDays,
		cleanupInterval: cleanupInterval,
		logger:          logger,
		metrics:         metrics,
	}
}

func (w *DeliveryCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	w.logger.Info("starting delivery cleanup worker",
		"retention_days", w.retentionDays,
		"interval", w.cleanupInterval.String())

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("shutting down delivery cleanup worker")
			return
		case <-ticker.C:
			if err := w.cleanup(ctx); err != nil {
				w.logger.Error(err, "failed to clean up deliveries")
			}
		}
	}
}

func (w *DeliveryCleanupWorker) cleanup(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -w.retentionDays)

	removed, err := w.repo.DeleteCreatedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete old deliveries: %w", err)
	}

	w.metrics.DeliveriesCleaned.Add(float64(removed))
	w.logger.Info("cleaned up old deliveries",
		"removed", removed,
		"cutoff", cutoff.Format(time.RFC3339))
	return nil
}
