package event

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geomark/dispatch-api/internal/handler"
	"github.com/geomark/dispatch-api/internal/model"
	"github.com/geomark/dispatch-api/internal/registry"
	"github.com/geomark/dispatch-api/internal/repository"
	"github.com/geomark/dispatch-api/internal/service/dispatch"
	"github.com/geomark/dispatch-api/pkg/circuitbreaker"
	"github.com/geomark/dispatch-api/pkg/logger"
	"github.com/geomark/dispatch-api/pkg/metrics"
)

type memDeliveryRepo struct {
	mu         sync.Mutex
	deliveries map[uuid.UUID]*model.Delivery
}

func newMemDeliveryRepo() *memDeliveryRepo {
	return &memDeliveryRepo{deliveries: make(map[uuid.UUID]*model.Delivery)}
}

func (r *memDeliveryRepo) Create(ctx context.Context, d *model.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.deliveries[d.ID] = &cp
	return nil
}

func (r *memDeliveryRepo) Get(ctx context.Context, id uuid.UUID) (*model.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *memDeliveryRepo) Update(ctx context.Context, d *model.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.deliveries[d.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *d
	r.deliveries[d.ID] = &cp
	return nil
}

func (r *memDeliveryRepo) GetDueWithLock(ctx context.Context, now time.Time, limit int) ([]*model.Delivery, error) {
	return nil, nil
}

func (r *memDeliveryRepo) List(ctx context.Context, filter repository.DeliveryFilter) ([]*model.Delivery, error) {
	return nil, nil
}

func (r *memDeliveryRepo) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type memWebhookRepo struct {
	mu        sync.Mutex
	endpoints map[uuid.UUID]*model.WebhookEndpoint
}

func newMemWebhookRepo(endpoints ...*model.WebhookEndpoint) *memWebhookRepo {
	r := &memWebhookRepo{endpoints: make(map[uuid.UUID]*model.WebhookEndpoint)}
	for _, ep := range endpoints {
		r.endpoints[ep.ID] = ep
	}
	return r
}

func (r *memWebhookRepo) Get(ctx context.Context, id uuid.UUID) (*model.WebhookEndpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.endpoints[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *ep
	return &cp, nil
}

func (r *memWebhookRepo) ListEnabledForSource(ctx context.Context, sourceID uuid.UUID) ([]*model.WebhookEndpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.WebhookEndpoint
	for _, ep := range r.endpoints {
		if ep.SourceID == sourceID && ep.Enabled {
			cp := *ep
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memWebhookRepo) UpdateCircuitState(ctx context.Context, ep *model.WebhookEndpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.endpoints[ep.ID]
	if !ok {
		return repository.ErrNotFound
	}
	stored.ConsecutiveFailures = ep.ConsecutiveFailures
	stored.CircuitOpenUntil = ep.CircuitOpenUntil
	return nil
}

func setupIngest(t *testing.T, webhooks *memWebhookRepo, deliveries *memDeliveryRepo) (*gin.Engine, *dispatch.Dispatcher) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, handler.RegisterValidators())

	log := logger.New(&logger.Config{Level: logger.ErrorLevel})
	m := metrics.New("ingest_test")
	executor := dispatch.NewExecutor(
		deliveries, webhooks, circuitbreaker.New(0, 0),
		dispatch.NewHTTPSender(2*time.Second), nil,
		dispatch.DefaultExecutorConfig(), log, m,
	)
	dispatcher := dispatch.NewDispatcher(deliveries, executor, log)

	engine := gin.New()
	NewHandler(registry.NewClient(webhooks, time.Second), dispatcher).RegisterRoutes(engine.Group("/api/v1"))
	return engine, dispatcher
}

func postEvent(engine *gin.Engine, body map[string]interface{}) (*httptest.ResponseRecorder, handler.Response) {
	raw, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)

	var resp handler.Response
	json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestIngestEventFansOutAndDelivers(t *testing.T) {
	received := make(chan []byte, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		received <- raw
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sourceID := uuid.New()
	endpoints := []*model.WebhookEndpoint{
		{ID: uuid.New(), SourceID: sourceID, URL: server.URL, Secret: "s1", Enabled: true},
		{ID: uuid.New(), SourceID: sourceID, URL: server.URL, Secret: "s2", Enabled: true},
	}
	deliveries := newMemDeliveryRepo()
	engine, dispatcher := setupIngest(t, newMemWebhookRepo(endpoints...), deliveries)

	w, resp := postEvent(engine, map[string]interface{}{
		"source_id":  sourceID.String(),
		"event_type": "geofence.enter",
		"payload":    map[string]string{"device": "tracker-7"},
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	require.NotNil(t, resp.Count)
	assert.Equal(t, 2, *resp.Count)

	dispatcher.Wait()
	for i := 0; i < 2; i++ {
		select {
		case body := <-received:
			assert.JSONEq(t, `{"device":"tracker-7"}`, string(body))
		default:
			t.Fatal("expected two deliveries to reach the endpoint")
		}
	}

	for _, d := range deliveries.deliveries {
		assert.Equal(t, model.DeliveryStatusSuccess, d.Status)
		assert.Equal(t, 1, d.Attempts)
	}
}

func TestIngestEventNoSubscribers(t *testing.T) {
	engine, _ := setupIngest(t, newMemWebhookRepo(), newMemDeliveryRepo())

	w, resp := postEvent(engine, map[string]interface{}{
		"source_id":  uuid.NewString(),
		"event_type": "geofence.exit",
		"payload":    map[string]string{},
	})
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.NotNil(t, resp.Count)
	assert.Equal(t, 0, *resp.Count)
}

func TestIngestEventValidation(t *testing.T) {
	engine, _ := setupIngest(t, newMemWebhookRepo(), newMemDeliveryRepo())

	cases := []map[string]interface{}{
		{"event_type": "geofence.enter", "payload": map[string]string{}},
		{"source_id": "not-a-uuid", "event_type": "geofence.enter", "payload": map[string]string{}},
		{"source_id": uuid.NewString(), "payload": map[string]string{}},
		{"source_id": uuid.NewString(), "event_type": "geofence.enter"},
	}
	for _, body := range cases {
		w, _ := postEvent(engine, body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}
}
