package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geomark/dispatch-api/internal/model"
	"github.com/geomark/dispatch-api/internal/repository"
	"github.com/geomark/dispatch-api/pkg/logger"
	"github.com/geomark/dispatch-api/pkg/metrics"
)

type stubDeliveryStore struct {
	mu         sync.Mutex
	deliveries map[uuid.UUID]*model.Delivery
	deleteErr  error
}

func newStubDeliveryStore() *stubDeliveryStore {
	return &stubDeliveryStore{deliveries: make(map[uuid.UUID]*model.Delivery)}
}

func (s *stubDeliveryStore) add(status model.DeliveryStatus, age time.Duration) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.deliveries[id] = &model.Delivery{
		ID:        id,
		Status:    status,
		CreatedAt: time.Now().Add(-age),
	}
	return id
}

func (s *stubDeliveryStore) has(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.deliveries[id]
	return ok
}

func (s *stubDeliveryStore) Create(ctx context.Context, d *model.Delivery) error { return nil }
func (s *stubDeliveryStore) Update(ctx context.Context, d *model.Delivery) error { return nil }
func (s *stubDeliveryStore) Get(ctx context.Context, id uuid.UUID) (*model.Delivery, error) {
	return nil, repository.ErrNotFound
}
func (s *stubDeliveryStore) GetDueWithLock(ctx context.Context, now time.Time, limit int) ([]*model.Delivery, error) {
	return nil, nil
}
func (s *stubDeliveryStore) List(ctx context.Context, f repository.DeliveryFilter) ([]*model.Delivery, error) {
	return nil, nil
}

func (s *stubDeliveryStore) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	var removed int64
	for id, d := range s.deliveries {
		if d.CreatedAt.Before(cutoff) {
			delete(s.deliveries, id)
			removed++
		}
	}
	return removed, nil
}

func testCleanupWorker(store repository.DeliveryRepository) *DeliveryCleanupWorker {
	return NewDeliveryCleanupWorker(store, 7, 24*time.Hour,
		logger.New(&logger.Config{Level: logger.ErrorLevel}), metrics.New("test"))
}

func TestCleanupRemovesOnlyExpiredRows(t *testing.T) {
	store := newStubDeliveryStore()

	oldSuccess := store.add(model.DeliveryStatusSuccess, 8*24*time.Hour)
	oldFailed := store.add(model.DeliveryStatusFailed, 30*24*time.Hour)
	oldPending := store.add(model.DeliveryStatusPending, 9*24*time.Hour)
	freshSuccess := store.add(model.DeliveryStatusSuccess, 24*time.Hour)
	freshPending := store.add(model.DeliveryStatusPending, time.Hour)

	w := testCleanupWorker(store)
	require.NoError(t, w.cleanup(context.Background()))

	// Retention ignores status: every expired row goes, every fresh row stays.
	assert.False(t, store.has(oldSuccess))
	assert.False(t, store.has(oldFailed))
	assert.False(t, store.has(oldPending))
	assert.True(t, store.has(freshSuccess))
	assert.True(t, store.has(freshPending))
}

func TestCleanupBoundary(t *testing.T) {
	store := newStubDeliveryStore()
	justInside := store.add(model.DeliveryStatusSuccess, 7*24*time.Hour-time.Minute)

	w := testCleanupWorker(store)
	require.NoError(t, w.cleanup(context.Background()))

	assert.True(t, store.has(justInside), "rows newer than the cutoff must survive")
}

func TestCleanupPropagatesErrors(t *testing.T) {
	store := newStubDeliveryStore()
	store.deleteErr = errors.New("connection refused")

	w := testCleanupWorker(store)
	assert.Error(t, w.cleanup(context.Background()))
}

func TestNewDeliveryCleanupWorkerDefaults(t *testing.T) {
	w := NewDeliveryCleanupWorker(newStubDeliveryStore(), 0, 0,
		logger.New(&logger.Config{Level: logger.ErrorLevel}), metrics.New("test"))
	assert.Equal(t, 7, w.retentionDays)
	assert.Equal(t, 24*time.Hour, w.cleanupInterval)
}
