package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type DeliveryStatus string

const (
	DeliveryStatusPending DeliveryStatus = "pending"
	DeliveryStatusSuccess DeliveryStatus = "success"
	DeliveryStatusFailed  DeliveryStatus = "failed"
)

// ErrMsgEndpointUnavailable is recorded when the target endpoint was deleted
// or disabled between delivery creation and the attempt.
const ErrMsgEndpointUnavailable = "endpoint_unavailable"

// Delivery tracks one event's notification lifecycle to one webhook endpoint
// across all of its attempts. The payload is fixed at creation; only status,
// attempt counters, timestamps and response fields mutate afterwards.
type Delivery struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	WebhookID     uuid.UUID       `db:"webhook_id" json:"webhook_id"`
	EventID       *uuid.UUID      `db:"event_id" json:"event_id,omitempty"`
	EventType     string          `db:"event_type" json:"event_type"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	Status        DeliveryStatus  `db:"status" json:"status"`
	Attempts      int             `db:"attempts" json:"attempts"`
	LastAttemptAt *time.Time      `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	NextRetryAt   *time.Time      `db:"next_retry_at" json:"next_retry_at,omitempty"`
	ResponseCode  *int            `db:"response_code" json:"response_code,omitempty"`
	ErrorMessage  *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// Terminal reports whether the delivery has reached a final state.
func (d *Delivery) Terminal() bool {
	return d.Status == DeliveryStatusSuccess || d.Status == DeliveryStatusFailed
}
