package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/geomark/dispatch-api/internal/config"
	deliveryHandler "github.com/geomark/dispatch-api/internal/handler/delivery"
	eventHandler "github.com/geomark/dispatch-api/internal/handler/event"
	"github.com/geomark/dispatch-api/internal/registry"
	"github.com/geomark/dispatch-api/internal/repository/postgres"
	"github.com/geomark/dispatch-api/internal/router"
	"github.com/geomark/dispatch-api/internal/service/dispatch"
	"github.com/geomark/dispatch-api/pkg/circuitbreaker"
	"github.com/geomark/dispatch-api/pkg/logger"
	"github.com/geomark/dispatch-api/pkg/messaging"
	redisbroker "github.com/geomark/dispatch-api/pkg/messaging/redis"
	"github.com/geomark/dispatch-api/pkg/metrics"
)

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

	// Outcome publication is best-effort; the API runs without Redis.
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

	m := metrics.NewMetrics("dispatch_api")
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
	dispatcher := dispatch.NewDispatcher(deliveryRepo, executor, l)
	registryClient := registry.NewClient(webhookRepo, cfg.Dispatch.RegistryCacheTTL)

	r, err := router.NewRouter(cfg, l,
		eventHandler.NewHandler(registryClient, dispatcher),
		deliveryHandler.NewHandler(deliveryRepo),
	)
	if err != nil {
		l.Fatal(err, "failed to set up router")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		l.Info("starting API server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal(err, "server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	l.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error(err, "forced shutdown")
	}

	// Let in-flight first attempts finish writing their outcome.
	dispatcher.Wait()
}
