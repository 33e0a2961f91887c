package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/geomark/dispatch-api/internal/model"
	"github.com/geomark/dispatch-api/internal/repository"
	"github.com/geomark/dispatch-api/pkg/circuitbreaker"
	"github.com/geomark/dispatch-api/pkg/logger"
	"github.com/geomark/dispatch-api/pkg/messaging"
	"github.com/geomark/dispatch-api/pkg/metrics"
	"github.com/geomark/dispatch-api/pkg/signature"
)

const (
	// ChannelDeliverySucceeded and ChannelDeliveryFailed carry terminal
	// delivery outcomes for dashboards. Publication is best-effort.
	ChannelDeliverySucceeded = "webhook.delivery.succeeded"
	ChannelDeliveryFailed    = "webhook.delivery.failed"

	// probeDelay is added past circuit_open_until so the rescheduled
	// attempt lands after the cooldown has elapsed, not exactly on it.
	probeDelay = time.Second
)

// ExecutorConfig bounds the retry budget of a delivery.
type ExecutorConfig struct {
	MaxAttempts    int
	Backoff        []time.Duration
	RequestTimeout time.Duration
}

func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxAttempts:    4,
		Backoff:        []time.Duration{0, time.Minute, 5 * time.Minute, 15 * time.Minute},
		RequestTimeout: 5 * time.Second,
	}
}

// Executor performs one delivery attempt end to end: load, gate on the
// circuit breaker, sign, send, interpret, and write the outcome. It is the
// single writer of delivery rows after creation.
type Executor struct {
	deliveries repository.DeliveryRepository
	webhooks   repository.WebhookRepository
	breaker    *circuitbreaker.Breaker
	sender     Sender
	broker     messaging.Broker
	config     ExecutorConfig
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewExecutor(
	deliveries repository.DeliveryRepository,
	webhooks repository.WebhookRepository,
	breaker *circuitbreaker.Breaker,
	sender Sender,
	broker messaging.Broker,
	config ExecutorConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Executor {
	if config.MaxAttempts <= 0 {
		panic("MaxAttempts must be greater than 0")
	}
	if len(config.Backoff) < config.MaxAttempts {
		panic("Backoff must cover every non-terminal attempt")
	}

	return &Executor{
		deliveries: deliveries,
		webhooks:   webhooks,
		breaker:    breaker,
		sender:     sender,
		broker:     broker,
		config:     config,
		logger:     logger,
		metrics:    metrics,
	}
}

// Attempt runs a single attempt for the delivery. Delivery outcomes (success,
// retry scheduled, terminal failure, circuit deferral) are recorded on the row
// and never returned as errors; the returned error is reserved for
// infrastructure failures such as an unreachable database.
func (e *Executor) Attempt(ctx context.Context, deliveryID uuid.UUID) error {
	d, err := e.deliveries.Get(ctx, deliveryID)
	if err != nil {
		return fmt.Errorf("failed to load delivery: %w", err)
	}
	if d.Terminal() {
		// Already resolved, nothing to do. Can happen when the dispatcher's
		// immediate attempt and a scheduler tick race on a brand-new row.
		return nil
	}

	ep, err := e.webhooks.Get(ctx, d.WebhookID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to load webhook endpoint: %w", err)
	}

	now := time.Now()

	if ep == nil || !ep.Enabled {
		return e.markUnavailable(ctx, d)
	}

	if e.breaker.IsOpen(ep, now) {
		return e.deferForCircuit(ctx, d, ep)
	}

	timer := prometheus.NewTimer(e.metrics.DeliveryDuration)
	sig := signature.Sign(ep.Secret, d.Payload)
	result, sendErr := e.sender.Send(ctx, ep.URL, d.Payload, sig)
	timer.ObserveDuration()

	e.metrics.DeliveriesAttempted.Inc()
	d.Attempts++
	d.LastAttemptAt = &now

	if sendErr == nil && result.StatusCode >= 200 && result.StatusCode < 300 {
		e.recordSuccess(d, ep, result.StatusCode)
	} else {
		e.recordFailure(d, ep, result, sendErr, now)
	}

	// Breaker counters are advisory; a failed write must not lose the
	// attempt outcome.
	if err := e.webhooks.UpdateCircuitState(ctx, ep); err != nil {
		e.logger.Error(err, "failed to update circuit state", "webhook_id", ep.ID.String())
	}

	if err := e.deliveries.Update(ctx, d); err != nil {
		return fmt.Errorf("failed to record attempt outcome: %w", err)
	}

	if d.Terminal() {
		e.publishOutcome(ctx, d)
	}
	return nil
}

// markUnavailable terminates a delivery whose destination was deleted or
// disabled. The discovery does not consume an attempt.
func (e *Executor) markUnavailable(ctx context.Context, d *model.Delivery) error {
	msg := model.ErrMsgEndpointUnavailable
	d.Status = model.DeliveryStatusFailed
	d.ErrorMessage = &msg
	d.NextRetryAt = nil

	e.metrics.DeliveriesFailed.Inc()
	e.logger.Warn("delivery target unavailable",
		"delivery_id", d.ID.String(),
		"webhook_id", d.WebhookID.String())

	if err := e.deliveries.Update(ctx, d); err != nil {
		return fmt.Errorf("failed to record attempt outcome: %w", err)
	}
	e.publishOutcome(ctx, d)
	return nil
}

// deferForCircuit pushes the delivery past the cooldown without touching the
// attempt budget. An endpoint being down should not eat into the retry
// schedule; recovery after an outage still gets the full budget.
func (e *Executor) deferForCircuit(ctx context.Context, d *model.Delivery, ep *model.WebhookEndpoint) error {
	next := ep.CircuitOpenUntil.Add(probeDelay)
	d.NextRetryAt = &next

	e.metrics.CircuitOpenSkips.Inc()
	e.logger.Debug("circuit open, deferring delivery",
		"delivery_id", d.ID.String(),
		"webhook_id", ep.ID.String(),
		"next_retry_at", next)

	if err := e.deliveries.Update(ctx, d); err != nil {
		return fmt.Errorf("failed to defer delivery: %w", err)
	}
	return nil
}

func (e *Executor) recordSuccess(d *model.Delivery, ep *model.WebhookEndpoint, code int) {
	d.Status = model.DeliveryStatusSuccess
	d.ResponseCode = &code
	d.NextRetryAt = nil
	d.ErrorMessage = nil

	e.breaker.RecordSuccess(ep)
	e.metrics.DeliveriesSucceeded.Inc()
	e.logger.Info("delivery succeeded",
		"delivery_id", d.ID.String(),
		"webhook_id", ep.ID.String(),
		"attempts", d.Attempts,
		"response_code", code)
}

func (e *Executor) recordFailure(d *model.Delivery, ep *model.WebhookEndpoint, result *SendResult, sendErr error, now time.Time) {
	var msg string
	if sendErr != nil {
		msg = sendErr.Error()
	} else {
		msg = fmt.Sprintf("unexpected status %d", result.StatusCode)
		d.ResponseCode = &result.StatusCode
	}
	d.ErrorMessage = &msg

	e.breaker.RecordFailure(ep, now)

	if d.Attempts >= e.config.MaxAttempts {
		d.Status = model.DeliveryStatusFailed
		d.NextRetryAt = nil
		e.metrics.DeliveriesFailed.Inc()
		e.logger.Warn("delivery exhausted retry budget",
			"delivery_id", d.ID.String(),
			"webhook_id", ep.ID.String(),
			"attempts", d.Attempts,
			"error", msg)
		return
	}

	next := now.Add(e.config.Backoff[d.Attempts])
	d.NextRetryAt = &next
	e.metrics.RetriesScheduled.Inc()
	e.logger.Info("delivery attempt failed, retry scheduled",
		"delivery_id", d.ID.String(),
		"webhook_id", ep.ID.String(),
		"attempts", d.Attempts,
		"next_retry_at", next,
		"error", msg)
}

func (e *Executor) publishOutcome(ctx context.Context, d *model.Delivery) {
	if e.broker == nil {
		return
	}

	channel := ChannelDeliverySucceeded
	if d.Status == model.DeliveryStatusFailed {
		channel = ChannelDeliveryFailed
	}

	outcome := map[string]interface{}{
		"delivery_id": d.ID,
		"webhook_id":  d.WebhookID,
		"event_type":  d.EventType,
		"status":      d.Status,
		"attempts":    d.Attempts,
	}
	if d.ResponseCode != nil {
		outcome["response_code"] = *d.ResponseCode
	}
	if d.ErrorMessage != nil {
		outcome["error_message"] = *d.ErrorMessage
	}

	if err := e.broker.Publish(ctx, channel, outcome); err != nil {
		e.logger.Warn("failed to publish delivery outcome",
			"delivery_id", d.ID.String(),
			"channel", channel,
			"error", err.Error())
	}
}
