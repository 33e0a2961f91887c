package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/geomark/dispatch-api/internal/config"
	"github.com/geomark/dispatch-api/internal/repository/postgres"
	"github.com/geomark/dispatch-api/internal/service/dispatch"
	cleanupworker "github.com/geomark/dispatch-api/internal/worker"
	"github.com/geomark/dispatch-api/pkg/circuitbreaker"
	"github.com/geomark/dispatch-api/pkg/logger"
	"github.com/geomark/dispatch-api/pkg/messaging"
	redisbroker "github.com/geomark/dispatch-api/pkg/messaging/redis"
	"github.com/geomark/dispatch-api/pkg/metrics"
	"github.com/geomark/dispatch-api/pkg/worker"
)

func setupHealthCheck(l *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(":8081", mux); err != nil {
			l.Error(err, "health check server failed")
			os.Exit(1)
		}
	}()
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	l := logger.New(&logger.Config{
		Level:      logger.InfoLevel,
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
	})

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		l.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	baseRepo := postgres.NewBaseRepository(db)
	deliveryRepo := postgres.NewDeliveryRepository(baseRepo)
	webhookRepo := postgres.NewWebhookRepository(baseRepo)

	var broker messaging.Broker
	if cfg.Redis.URL != "" {
		broker, err = redisbroker.NewRedisBroker(redisbroker.Config{
			URL:          cfg.Redis.URL,
			MaxRetries:   cfg.Redis.MaxRetries,
			RetryBackoff: cfg.Redis.RetryBackoff,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}, &l.ZL)
		if err != nil {
			l.Error(err, "failed to connect to Redis, delivery outcomes will not be published")
			broker = nil
		} else {
			defer broker.Close()
		}
	}

	m := metrics.NewMetrics("dispatch_worker")
	breaker := circuitbreaker.New(cfg.Dispatch.FailureThreshold, cfg.Dispatch.CircuitCooldown)
	sender := dispatch.NewHTTPSender(cfg.Dispatch.RequestTimeout)

	executor := dispatch.NewExecutor(
		deliveryRepo,
		webhookRepo,
		breaker,
		sender,
		broker,
		dispatch.ExecutorConfig{
			MaxAttempts:    cfg.Dispatch.MaxAttempts,
			Backoff:        cfg.Dispatch.Backoff,
			RequestTimeout: cfg.Dispatch.RequestTimeout,
		},
		l,
		m,
	)

	scheduler := worker.NewRetryScheduler(
		deliveryRepo,
		executor,
		worker.RetrySchedulerConfig{
			BatchSize:    cfg.Scheduler.BatchSize,
			TickInterval: cfg.Scheduler.TickInterval,
		},
		l,
		m,
	)

	cleanup := cleanupworker.NewDeliveryCleanupWorker(
		deliveryRepo,
		cfg.Cleanup.RetentionDays,
		cfg.Cleanup.Interval,
		l,
		m,
	)

	setupHealthCheck(l)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		l.Info("shutting down...")
		cancel()
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scheduler.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		cleanup.Start(ctx)
	}()
	wg.Wait()
}
