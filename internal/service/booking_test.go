package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Shivanand-hulikatti/surge-ticketing/internal/config"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/metrics"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/model"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/repository"
)

var bookingCfg = config.BookingConfig{
	DemandWindow:    time.Hour,
	RollbackTimeout: time.Second,
}

func newCoordinator(store repository.Store, opts ...Option) *BookingCoordinator {
	opts = append([]Option{WithClock(fixedClock())}, opts...)
	return NewBookingCoordinator(store, bookingCfg, opts...)
}

func reserve(qty int) model.ReserveRequest {
	return model.ReserveRequest{Quantity: qty, BookerContact: "fan@example.com"}
}

func TestReserve_CommitsAtQuietPrice(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(0)
	seed(t, store, newEvent("e1", 100))
	pub := &mockPublisher{}
	c := newCoordinator(store, WithPublisher(pub), WithMetrics(metrics.MustNew(prometheus.NewRegistry())))

	b, err := c.Reserve(ctx, "e1", reserve(2))
	require.NoError(t, err)

	assert.NotEmpty(t, b.ID)
	assert.Equal(t, "e1", b.EventID)
	assert.Equal(t, int64(10000), b.UnitPrice)
	assert.Equal(t, int64(20000), b.PricePaid)
	assert.Equal(t, testNow, b.CommittedAt)
	assert.Equal(t, 1, pub.count())

	ev, err := store.GetEvent(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 2, ev.ReservedCount)
	assert.Equal(t, int64(10000), ev.CurrentPrice)
}

func TestReserve_RejectsInvalidQuantity(t *testing.T) {
	store := repository.NewMemoryStore(0)
	seed(t, store, newEvent("e1", 10))
	c := newCoordinator(store)

	for _, qty := range []int{0, -3} {
		_, err := c.Reserve(context.Background(), "e1", reserve(qty))
		assert.ErrorIs(t, err, model.ErrInvalidQuantity)
		assert.True(t, model.IsClientError(err))
	}
}

func TestReserve_UnknownEvent(t *testing.T) {
	c := newCoordinator(repository.NewMemoryStore(0))
	_, err := c.Reserve(context.Background(), "nope", reserve(1))
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestReserve_InsufficientInventoryReportsRemaining(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(0)
	seed(t, store, newEvent("e1", 5))
	c := newCoordinator(store)

	_, err := c.Reserve(ctx, "e1", reserve(3))
	require.NoError(t, err)

	_, err = c.Reserve(ctx, "e1", reserve(3))
	require.ErrorIs(t, err, model.ErrInsufficientInventory)
	remaining, ok := model.RemainingFrom(err)
	require.True(t, ok)
	assert.Equal(t, 2, remaining)

	ev, err := store.GetEvent(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 3, ev.ReservedCount)
}

func TestReserve_NeverOversells(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(0)
	seed(t, store, newEvent("e1", 50))
	c := newCoordinator(store)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		sold int
		errs []error
	)
	for i := range 120 {
		wg.Add(1)
		go func(qty int) {
			defer wg.Done()
			b, err := c.Reserve(ctx, "e1", reserve(qty))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			sold += b.Quantity
		}(i%3 + 1)
	}
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, model.ErrInsufficientInventory)
	}
	ev, err := store.GetEvent(ctx, "e1")
	require.NoError(t, err)
	assert.LessOrEqual(t, ev.ReservedCount, ev.TotalCapacity)
	assert.Equal(t, sold, ev.ReservedCount)

	bookings, err := store.ListBookings(ctx, "e1")
	require.NoError(t, err)
	total := 0
	for _, b := range bookings {
		total += b.Quantity
		assert.GreaterOrEqual(t, b.UnitPrice, ev.PriceFloor)
		assert.LessOrEqual(t, b.UnitPrice, ev.PriceCeiling)
		assert.Equal(t, b.UnitPrice*int64(b.Quantity), b.PricePaid)
	}
	assert.Equal(t, ev.ReservedCount, total)
}

func TestReserve_LastTicketGoesToExactlyOneRacer(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(0)
	seed(t, store, newEvent("e1", 1))
	c := newCoordinator(store)

	results := make(chan error, 2)
	start := make(chan struct{})
	for range 2 {
		go func() {
			<-start
			_, err := c.Reserve(ctx, "e1", reserve(1))
			results <- err
		}()
	}
	close(start)

	var succeeded, rejected int
	for range 2 {
		err := <-results
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, model.ErrInsufficientInventory)
		remaining, _ := model.RemainingFrom(err)
		assert.Equal(t, 0, remaining)
		rejected++
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)

	bookings, err := store.ListBookings(ctx, "e1")
	require.NoError(t, err)
	assert.Len(t, bookings, 1)
}

func TestReserve_ThreeOfFiveSucceed(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(0)
	pinned := newEvent("e1", 3)
	pinned.BasePrice, pinned.PriceFloor, pinned.PriceCeiling, pinned.CurrentPrice = 5000, 5000, 5000, 5000
	seed(t, store, pinned)
	c := newCoordinator(store)

	type result struct {
		booking *model.Booking
		err     error
	}
	var wg sync.WaitGroup
	results := make(chan result, 5)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := c.Reserve(ctx, "e1", reserve(1))
			results <- result{b, err}
		}()
	}
	wg.Wait()
	close(results)

	ok, insufficient := 0, 0
	for r := range results {
		err := r.err
		switch {
		case err == nil:
			ok++
			assert.Equal(t, int64(5000), r.booking.UnitPrice)
			assert.Equal(t, int64(5000), r.booking.PricePaid)
		case errors.Is(err, model.ErrInsufficientInventory):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 3, ok)
	assert.Equal(t, 2, insufficient)

	ev, err := store.GetEvent(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 3, ev.ReservedCount)
}

func TestReserve_ChargesUrgentPrice(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(0)
	ev := newEvent("e1", 100)
	ev.ScheduledAt = testNow.Add(12 * time.Hour)
	seed(t, store, ev)
	c := newCoordinator(store)

	// Fifteen recent bookings leaving five tickets: 14×6 + 11 = 95.
	for i := range 15 {
		qty := 6
		if i == 14 {
			qty = 11
		}
		_, err := c.Reserve(ctx, "e1", reserve(qty))
		require.NoError(t, err)
	}

	b, err := c.Reserve(ctx, "e1", reserve(1))
	require.NoError(t, err)
	assert.Equal(t, int64(13833), b.UnitPrice)
	assert.Equal(t, int64(13833), b.PricePaid)

	got, err := store.GetEvent(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(13833), got.CurrentPrice)
}

func TestReserve_PricePaidNeverChanges(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(0)
	ev := newEvent("e1", 20)
	ev.ScheduledAt = testNow.Add(12 * time.Hour)
	seed(t, store, ev)
	c := newCoordinator(store)

	first, err := c.Reserve(ctx, "e1", reserve(1))
	require.NoError(t, err)

	for range 15 {
		_, err := c.Reserve(ctx, "e1", reserve(1))
		require.NoError(t, err)
	}
	last, err := c.Reserve(ctx, "e1", reserve(1))
	require.NoError(t, err)
	require.Greater(t, last.UnitPrice, first.UnitPrice)

	bookings, err := store.ListBookings(ctx, "e1")
	require.NoError(t, err)
	require.NotEmpty(t, bookings)
	assert.Equal(t, first.ID, bookings[0].ID)
	assert.Equal(t, first.PricePaid, bookings[0].PricePaid)
	assert.Equal(t, first.UnitPrice, bookings[0].UnitPrice)
}

func TestReserve_IdempotencyKeyReplaysBooking(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(0)
	seed(t, store, newEvent("e1", 10))
	pub := &mockPublisher{}
	c := newCoordinator(store, WithPublisher(pub))

	req := reserve(2)
	req.IdempotencyKey = "order-42"
	first, err := c.Reserve(ctx, "e1", req)
	require.NoError(t, err)

	req.Quantity = 5
	again, err := c.Reserve(ctx, "e1", req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 2, again.Quantity)

	ev, err := store.GetEvent(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 2, ev.ReservedCount)
	assert.Equal(t, 1, pub.count())
}

func TestReserve_StorageFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	mem := repository.NewMemoryStore(0)
	seed(t, mem, newEvent("e1", 10))

	cause := errors.New("disk full")
	var tx *mockTx
	store := &mockStore{
		Store: mem,
		BeginExclusiveFunc: func(ctx context.Context, eventID string) (repository.EventTx, error) {
			inner, err := mem.BeginExclusive(ctx, eventID)
			if err != nil {
				return nil, err
			}
			tx = &mockTx{
				EventTx:           inner,
				InsertBookingFunc: func(context.Context, *model.Booking) error { return cause },
			}
			return tx, nil
		},
	}
	c := newCoordinator(store)

	_, err := c.Reserve(ctx, "e1", reserve(1))
	require.Error(t, err)
	assert.True(t, model.IsTransient(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, tx.rollbacks)

	ev, err := mem.GetEvent(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 0, ev.ReservedCount)

	// The lock was released.
	b, err := newCoordinator(mem).Reserve(ctx, "e1", reserve(1))
	require.NoError(t, err)
	assert.Equal(t, 1, b.Quantity)
}

func TestReserve_RollbackSurvivesCallerCancellation(t *testing.T) {
	mem := repository.NewMemoryStore(0)
	seed(t, mem, newEvent("e1", 10))

	ctx, cancel := context.WithCancel(context.Background())
	var tx *mockTx
	store := &mockStore{
		Store: mem,
		BeginExclusiveFunc: func(ctx context.Context, eventID string) (repository.EventTx, error) {
			inner, err := mem.BeginExclusive(ctx, eventID)
			if err != nil {
				return nil, err
			}
			tx = &mockTx{
				EventTx: inner,
				CommitFunc: func(ctx context.Context) error {
					cancel()
					return ctx.Err()
				},
			}
			return tx, nil
		},
	}

	_, err := newCoordinator(store).Reserve(ctx, "e1", reserve(1))
	require.Error(t, err)
	assert.True(t, model.IsTransient(err))
	assert.Equal(t, 1, tx.rollbacks)
	assert.NoError(t, tx.rollbackCtxErr)

	ev, err := mem.GetEvent(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, 0, ev.ReservedCount)
}

func TestReserve_TimesOutWaitingForLock(t *testing.T) {
	mem := repository.NewMemoryStore(0)
	seed(t, mem, newEvent("e1", 10))

	held, err := mem.BeginExclusive(context.Background(), "e1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = newCoordinator(mem).Reserve(ctx, "e1", reserve(1))
	require.Error(t, err)
	assert.True(t, model.IsTransient(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, held.Rollback(context.Background()))
	ev, err := mem.GetEvent(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, 0, ev.ReservedCount)
}

func TestReserve_OtherEventsDoNotWait(t *testing.T) {
	mem := repository.NewMemoryStore(0)
	seed(t, mem, newEvent("e1", 10), newEvent("e2", 10))

	held, err := mem.BeginExclusive(context.Background(), "e1")
	require.NoError(t, err)
	defer held.Rollback(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = newCoordinator(mem).Reserve(ctx, "e2", reserve(1))
	assert.NoError(t, err)
}

func TestReserve_PublishFailureKeepsBooking(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(0)
	seed(t, store, newEvent("e1", 10))
	pub := &mockPublisher{err: fmt.Errorf("broker down")}

	b, err := newCoordinator(store, WithPublisher(pub)).Reserve(ctx, "e1", reserve(1))
	require.NoError(t, err)
	assert.Equal(t, 1, pub.count())

	bookings, err := store.ListBookings(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, b.ID, bookings[0].ID)
}

func TestReservationOutcome(t *testing.T) {
	tests := []struct {
		err      error
		replayed bool
		want     string
	}{
		{nil, false, metrics.OutcomeCommitted},
		{nil, true, metrics.OutcomeReplayed},
		{model.ErrNotFound, false, metrics.OutcomeNotFound},
		{model.Transient("op", errors.New("x")), false, metrics.OutcomeTransient},
		{&model.InsufficientInventoryError{Remaining: 1}, false, metrics.OutcomeInsufficient},
		{model.ErrInvalidQuantity, false, metrics.OutcomeInvalid},
		{errors.New("boom"), false, metrics.OutcomeError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, reservationOutcome(tt.err, tt.replayed))
	}
}

func TestReserve_LogsWhenEventSellsOut(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(0)
	seed(t, store, newEvent("e1", 3))
	core, logs := observer.New(zapcore.InfoLevel)
	c := newCoordinator(store, WithLogger(zap.New(core)))

	_, err := c.Reserve(ctx, "e1", reserve(2))
	require.NoError(t, err)
	assert.Zero(t, logs.FilterMessage("event sold out").Len())

	_, err = c.Reserve(ctx, "e1", reserve(1))
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("event sold out").Len())
}
