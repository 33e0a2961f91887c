// Package registry exposes the webhook registry to the ingest path. The
// registry service owns endpoint registration; this client only reads.
package registry

import (
	"context"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/geomark/dispatch-api/internal/model"
	"github.com/geomark/dispatch-api/internal/repository"
)

const defaultTTL = 30 * time.Second

// Client caches enabled-endpoint lookups for the ingest hot path. Attempt
// execution must never read through this cache: the executor needs fresh
// circuit breaker state and must observe endpoint deletion promptly.
type Client struct {
	webhooks repository.WebhookRepository
	cache    *gocache.Cache
	ttl      time.Duration
}

func NewClient(webhooks repository.WebhookRepository, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Client{
		webhooks: webhooks,
		cache:    gocache.New(ttl, 2*ttl),
		ttl:      ttl,
	}
}

// EnabledForSource returns the enabled endpoints subscribed to events from
// the given source, served from cache within the TTL.
func (c *Client) EnabledForSource(ctx context.Context, sourceID uuid.UUID) ([]*model.WebhookEndpoint, error) {
	key := sourceID.String()
	if cached, ok := c.cache.Get(key); ok {
		return cached.([]*model.WebhookEndpoint), nil
	}

	endpoints, err := c.webhooks.ListEnabledForSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	c.cache.Set(key, endpoints, c.ttl)
	return endpoints, nil
}
