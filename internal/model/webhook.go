package model

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEndpoint is a registered delivery destination. Registration and
// validation are owned by the registry service; this engine only reads
// endpoints and updates the circuit breaker fields.
type WebhookEndpoint struct {
	ID                  uuid.UUID  `db:"id" json:"id"`
	SourceID            uuid.UUID  `db:"source_id" json:"source_id"`
	URL                 string     `db:"url" json:"url"`
	Secret              string     `db:"secret" json:"-"`
	Enabled             bool       `db:"enabled" json:"enabled"`
	ConsecutiveFailures int        `db:"consecutive_failures" json:"consecutive_failures"`
	CircuitOpenUntil    *time.Time `db:"circuit_open_until" json:"circuit_open_until,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}
