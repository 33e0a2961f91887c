package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/geomark/dispatch-api/internal/model"
	"github.com/geomark/dispatch-api/internal/repository"
	"github.com/geomark/dispatch-api/pkg/logger"
	"github.com/geomark/dispatch-api/pkg/metrics"
)

// In-memory repositories backing the dispatch tests. They copy on read and
// write like a real store so mutations only land through Update calls.

type fakeDeliveryRepo struct {
	mu         sync.Mutex
	deliveries map[uuid.UUID]*model.Delivery
	createErr  error
	updates    int
}

func newFakeDeliveryRepo() *fakeDeliveryRepo {
	return &fakeDeliveryRepo{deliveries: make(map[uuid.UUID]*model.Delivery)}
}

func (f *fakeDeliveryRepo) Create(ctx context.Context, d *model.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	cp := *d
	f.deliveries[d.ID] = &cp
	return nil
}

func (f *fakeDeliveryRepo) Get(ctx context.Context, id uuid.UUID) (*model.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deliveries[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDeliveryRepo) Update(ctx context.Context, d *model.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.deliveries[d.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *d
	f.deliveries[d.ID] = &cp
	f.updates++
	return nil
}

func (f *fakeDeliveryRepo) GetDueWithLock(ctx context.Context, now time.Time, limit int) ([]*model.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []*model.Delivery
	for _, d := range f.deliveries {
		if d.Status == model.DeliveryStatusPending && d.NextRetryAt != nil && !d.NextRetryAt.After(now) {
			cp := *d
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRetryAt.Before(*due[j].NextRetryAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (f *fakeDeliveryRepo) List(ctx context.Context, filter repository.DeliveryFilter) ([]*model.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Delivery
	for _, d := range f.deliveries {
		if filter.WebhookID != nil && d.WebhookID != *filter.WebhookID {
			continue
		}
		if filter.Status != nil && d.Status != *filter.Status {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeDeliveryRepo) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for id, d := range f.deliveries {
		if d.CreatedAt.Before(cutoff) {
			delete(f.deliveries, id)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeDeliveryRepo) get(id uuid.UUID) *model.Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.deliveries[id]
	return &cp
}

type fakeWebhookRepo struct {
	mu        sync.Mutex
	endpoints map[uuid.UUID]*model.WebhookEndpoint
}

func newFakeWebhookRepo(endpoints ...*model.WebhookEndpoint) *fakeWebhookRepo {
	f := &fakeWebhookRepo{endpoints: make(map[uuid.UUID]*model.WebhookEndpoint)}
	for _, ep := range endpoints {
		cp := *ep
		f.endpoints[ep.ID] = &cp
	}
	return f
}

func (f *fakeWebhookRepo) Get(ctx context.Context, id uuid.UUID) (*model.WebhookEndpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ep, ok := f.endpoints[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *ep
	return &cp, nil
}

func (f *fakeWebhookRepo) ListEnabledForSource(ctx context.Context, sourceID uuid.UUID) ([]*model.WebhookEndpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.WebhookEndpoint
	for _, ep := range f.endpoints {
		if ep.SourceID == sourceID && ep.Enabled {
			cp := *ep
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeWebhookRepo) UpdateCircuitState(ctx context.Context, ep *model.WebhookEndpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.endpoints[ep.ID]
	if !ok {
		return repository.ErrNotFound
	}
	stored.ConsecutiveFailures = ep.ConsecutiveFailures
	stored.CircuitOpenUntil = ep.CircuitOpenUntil
	return nil
}

func (f *fakeWebhookRepo) get(id uuid.UUID) *model.WebhookEndpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.endpoints[id]
	return &cp
}

func (f *fakeWebhookRepo) remove(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.endpoints, id)
}

// fakeSender replays scripted outcomes and records every call it receives.
type fakeSender struct {
	mu      sync.Mutex
	results []sendOutcome
	calls   []sentCall
}

type sendOutcome struct {
	code int
	err  error
}

type sentCall struct {
	url     string
	payload []byte
	sig     string
}

func (f *fakeSender) script(outcomes ...sendOutcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, outcomes...)
}

func (f *fakeSender) Send(ctx context.Context, url string, payload []byte, sig string) (*SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sentCall{url: url, payload: payload, sig: sig})
	if len(f.results) == 0 {
		return &SendResult{StatusCode: 200}, nil
	}
	next := f.results[0]
	f.results = f.results[1:]
	if next.err != nil {
		return nil, next.err
	}
	return &SendResult{StatusCode: next.code}, nil
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: logger.ErrorLevel})
}

func testMetrics() *metrics.Metrics {
	return metrics.New("test")
}
