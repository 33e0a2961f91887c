package messaging

import (
	"context"
)

// Broker defines the interface for message brokers. The delivery engine
// publishes terminal delivery outcomes through it; consumers are dashboards
// and alerting, so publishing is always best-effort.
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}
