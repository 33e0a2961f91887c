// Package circuitbreaker gates delivery attempts per webhook endpoint.
//
// Unlike an in-memory breaker, the state lives on the webhook_endpoints row
// (consecutive_failures, circuit_open_until) so that any number of worker
// processes observe the same circuit. The breaker is advisory: last-writer-wins
// races on the counters are acceptable because its only job is to reduce
// wasted calls to a known-down destination.
package circuitbreaker

import (
	"time"

	"github.com/geomark/dispatch-api/internal/model"
)

const (
	DefaultFailureThreshold = 5
	DefaultCooldown         = 5 * time.Minute
)

type Breaker struct {
	failureThreshold int
	cooldown         time.Duration
}

func New(failureThreshold int, cooldown time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
	}
}

// IsOpen reports whether attempts to the endpoint are currently suspended.
// There is no half-open state: the first attempt after circuit_open_until
// elapses goes through as the probe, and its outcome decides whether the
// circuit reopens or stays closed.
func (b *Breaker) IsOpen(ep *model.WebhookEndpoint, now time.Time) bool {
	return ep.CircuitOpenUntil != nil && ep.CircuitOpenUntil.After(now)
}

// RecordSuccess re-closes the circuit. Any single successful delivery resets
// the failure count, regardless of how many failures preceded it.
func (b *Breaker) RecordSuccess(ep *model.WebhookEndpoint) {
	ep.ConsecutiveFailures = 0
	ep.CircuitOpenUntil = nil
}

// RecordFailure bumps the failure count and opens the circuit once it
// reaches the threshold.
func (b *Breaker) RecordFailure(ep *model.WebhookEndpoint, now time.Time) {
	ep.ConsecutiveFailures++
	if ep.ConsecutiveFailures >= b.failureThreshold {
		until := now.Add(b.cooldown)
		ep.CircuitOpenUntil = &until
	}
}
