package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/surge-ticketing/internal/model"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/repository"
)

var testNow = time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

func fixedClock() func() time.Time {
	return func() time.Time { return testNow }
}

// newEvent builds a quiet event: 40 days out, nothing sold, equal weights.
func newEvent(id string, capacity int) *model.Event {
	cfg := model.DefaultPricingConfig()
	cfg.TimeWeight, cfg.DemandWeight, cfg.InventoryWeight = 1.0/3, 1.0/3, 1.0/3

	return &model.Event{
		ID:            id,
		Name:          "Concert " + id,
		Venue:         "Arena",
		TotalCapacity: capacity,
		BasePrice:     10000,
		PriceFloor:    10000,
		PriceCeiling:  30000,
		CurrentPrice:  10000,
		ScheduledAt:   testNow.Add(40 * 24 * time.Hour),
		PricingConfig: cfg,
		CreatedAt:     testNow.Add(-24 * time.Hour),
		UpdatedAt:     testNow.Add(-24 * time.Hour),
	}
}

func seed(t *testing.T, store *repository.MemoryStore, events ...*model.Event) {
	t.Helper()
	for _, e := range events {
		require.NoError(t, store.CreateEvent(context.Background(), e))
	}
}

// mockStore overrides selected Store methods.
type mockStore struct {
	repository.Store
	BeginExclusiveFunc        func(ctx context.Context, eventID string) (repository.EventTx, error)
	TryUpdateCurrentPriceFunc func(ctx context.Context, eventID string, price int64) (bool, error)
	ListEventsFunc            func(ctx context.Context) ([]model.Event, error)
}

func (m *mockStore) BeginExclusive(ctx context.Context, eventID string) (repository.EventTx, error) {
	if m.BeginExclusiveFunc != nil {
		return m.BeginExclusiveFunc(ctx, eventID)
	}
	return m.Store.BeginExclusive(ctx, eventID)
}

func (m *mockStore) TryUpdateCurrentPrice(ctx context.Context, eventID string, price int64) (bool, error) {
	if m.TryUpdateCurrentPriceFunc != nil {
		return m.TryUpdateCurrentPriceFunc(ctx, eventID, price)
	}
	return m.Store.TryUpdateCurrentPrice(ctx, eventID, price)
}

func (m *mockStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	if m.ListEventsFunc != nil {
		return m.ListEventsFunc(ctx)
	}
	return m.Store.ListEvents(ctx)
}

// mockTx overrides selected EventTx methods and records rollbacks.
type mockTx struct {
	repository.EventTx
	InsertBookingFunc func(ctx context.Context, b *model.Booking) error
	CommitFunc        func(ctx context.Context) error

	mu             sync.Mutex
	rollbacks      int
	rollbackCtxErr error
}

func (m *mockTx) InsertBooking(ctx context.Context, b *model.Booking) error {
	if m.InsertBookingFunc != nil {
		return m.InsertBookingFunc(ctx, b)
	}
	return m.EventTx.InsertBooking(ctx, b)
}

func (m *mockTx) Commit(ctx context.Context) error {
	if m.CommitFunc != nil {
		if err := m.CommitFunc(ctx); err != nil {
			return err
		}
	}
	return m.EventTx.Commit(ctx)
}

func (m *mockTx) Rollback(ctx context.Context) error {
	m.mu.Lock()
	m.rollbacks++
	m.rollbackCtxErr = ctx.Err()
	m.mu.Unlock()
	return m.EventTx.Rollback(ctx)
}

// mockPublisher records published bookings.
type mockPublisher struct {
	mu        sync.Mutex
	published []*model.Booking
	err       error
}

func (m *mockPublisher) PublishBookingCommitted(_ context.Context, b *model.Booking, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, b)
	return m.err
}

func (m *mockPublisher) Close() error { return nil }

func (m *mockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}

// mockPriceCache is a PriceCache with a fixed throttle answer.
type mockPriceCache struct {
	acquire    bool
	acquireErr error

	mu        sync.Mutex
	published map[string]int64
	writes    int
	releases  int
}

func (m *mockPriceCache) AcquireRefresh(context.Context, string, time.Duration) (bool, error) {
	return m.acquire, m.acquireErr
}

func (m *mockPriceCache) PublishPrice(_ context.Context, eventID string, price int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.published == nil {
		m.published = map[string]int64{}
	}
	m.published[eventID] = price
	m.writes++
	return nil
}

func (m *mockPriceCache) ReleaseRefresh(context.Context, string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases++
	return nil
}

func (m *mockPriceCache) LastPrice(_ context.Context, eventID string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.published[eventID]
	return p, ok, nil
}
