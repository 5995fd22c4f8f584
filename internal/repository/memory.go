package repository

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/surge-ticketing/internal/model"
)

var (
	errLockWaitTimeout = errors.New("lock wait timeout")
	errTxDone          = errors.New("transaction already committed or rolled back")
	errOverReserved    = errors.New("reserved_count would exceed total_capacity")
)

// MemoryStore keeps events and bookings in process memory.
//
// Each event owns a one-slot channel used as its exclusive lock, so waiting
// for a busy event can be abandoned when the caller's context ends. Reads go
// through a store-wide RWMutex and never wait for an event lock. Writes of a
// unit of work are buffered and applied at Commit.
type MemoryStore struct {
	lockTimeout time.Duration

	mu     sync.RWMutex
	events map[string]*memEvent
}

type memEvent struct {
	lock     chan struct{}
	event    model.Event
	bookings []model.Booking
}

// NewMemoryStore constructs an empty MemoryStore. lockTimeout bounds how long
// BeginExclusive waits for a busy event; zero waits until ctx ends.
func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		lockTimeout: lockTimeout,
		events:      make(map[string]*memEvent),
	}
}

func (s *MemoryStore) entry(id string) *memEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events[id]
}

// CreateEvent stores a copy of e.
func (s *MemoryStore) CreateEvent(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[e.ID]; ok {
		return fmt.Errorf("insert event: duplicate id %s", e.ID)
	}
	s.events[e.ID] = &memEvent{
		lock:  make(chan struct{}, 1),
		event: *e,
	}
	return nil
}

// GetEvent returns a copy of the committed event.
func (s *MemoryStore) GetEvent(_ context.Context, id string) (*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	me, ok := s.events[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return me.event.Clone(), nil
}

// ListEvents returns all events, soonest first.
func (s *MemoryStore) ListEvents(_ context.Context) ([]model.Event, error) {
	s.mu.RLock()
	events := make([]model.Event, 0, len(s.events))
	for _, me := range s.events {
		events = append(events, me.event)
	}
	s.mu.RUnlock()

	slices.SortStableFunc(events, func(a, b model.Event) int {
		if c := a.ScheduledAt.Compare(b.ScheduledAt); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return events, nil
}

// ListBookings returns the committed bookings of an event.
func (s *MemoryStore) ListBookings(_ context.Context, eventID string) ([]model.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	me, ok := s.events[eventID]
	if !ok {
		return nil, nil
	}
	return slices.Clone(me.bookings), nil
}

// CountBookingsSince counts committed bookings in [since, now].
func (s *MemoryStore) CountBookingsSince(_ context.Context, eventID string, since, now time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	me, ok := s.events[eventID]
	if !ok {
		return 0, nil
	}
	return countBetween(me.bookings, since, now), nil
}

// TryUpdateCurrentPrice writes price only when no unit of work holds the event.
func (s *MemoryStore) TryUpdateCurrentPrice(_ context.Context, eventID string, price int64) (bool, error) {
	me := s.entry(eventID)
	if me == nil {
		return false, nil
	}
	select {
	case me.lock <- struct{}{}:
	default:
		return false, nil
	}
	defer func() { <-me.lock }()

	s.mu.Lock()
	me.event.CurrentPrice = price
	me.event.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()
	return true, nil
}

// BeginExclusive waits for the event lock, bounded by ctx and the store's
// lock timeout, then snapshots the event.
func (s *MemoryStore) BeginExclusive(ctx context.Context, eventID string) (EventTx, error) {
	me := s.entry(eventID)
	if me == nil {
		return nil, model.ErrNotFound
	}

	var timeout <-chan time.Time
	if s.lockTimeout > 0 {
		timer := time.NewTimer(s.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case me.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, model.Transient("lock event", ctx.Err())
	case <-timeout:
		return nil, model.Transient("lock event", errLockWaitTimeout)
	}

	s.mu.RLock()
	snapshot := me.event.Clone()
	s.mu.RUnlock()

	return &memEventTx{store: s, entry: me, event: snapshot}, nil
}

type memEventTx struct {
	store *MemoryStore
	entry *memEvent
	event *model.Event

	inserts  []model.Booking
	reserved int
	price    *int64
	done     bool
}

func (t *memEventTx) Event() *model.Event {
	return t.event.Clone()
}

func (t *memEventTx) CountBookingsSince(_ context.Context, since, now time.Time) (int, error) {
	if t.done {
		return 0, errTxDone
	}
	t.store.mu.RLock()
	n := countBetween(t.entry.bookings, since, now)
	t.store.mu.RUnlock()
	return n + countBetween(t.inserts, since, now), nil
}

func (t *memEventTx) FindBookingByIdempotencyKey(_ context.Context, key string) (*model.Booking, error) {
	if t.done {
		return nil, errTxDone
	}
	if b := findByKey(t.inserts, key); b != nil {
		return b, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if b := findByKey(t.entry.bookings, key); b != nil {
		return b, nil
	}
	return nil, model.ErrNotFound
}

func (t *memEventTx) InsertBooking(_ context.Context, b *model.Booking) error {
	if t.done {
		return errTxDone
	}
	t.inserts = append(t.inserts, *b)
	return nil
}

func (t *memEventTx) IncrementReserved(_ context.Context, delta int) error {
	if t.done {
		return errTxDone
	}
	t.reserved += delta
	return nil
}

func (t *memEventTx) SetCurrentPrice(_ context.Context, price int64) error {
	if t.done {
		return errTxDone
	}
	t.price = &price
	return nil
}

func (t *memEventTx) Commit(_ context.Context) error {
	if t.done {
		return errTxDone
	}

	t.store.mu.Lock()
	ev := &t.entry.event
	if ev.ReservedCount+t.reserved > ev.TotalCapacity || ev.ReservedCount+t.reserved < 0 {
		t.store.mu.Unlock()
		_ = t.Rollback(context.Background())
		return fmt.Errorf("commit transaction: %w", errOverReserved)
	}
	ev.ReservedCount += t.reserved
	if t.price != nil {
		ev.CurrentPrice = *t.price
	}
	if t.reserved != 0 || t.price != nil || len(t.inserts) > 0 {
		ev.UpdatedAt = time.Now().UTC()
	}
	t.entry.bookings = append(t.entry.bookings, t.inserts...)
	t.store.mu.Unlock()

	t.finish()
	return nil
}

func (t *memEventTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.finish()
	return nil
}

func (t *memEventTx) finish() {
	t.done = true
	t.inserts = nil
	<-t.entry.lock
}

func countBetween(bookings []model.Booking, since, now time.Time) int {
	n := 0
	for i := range bookings {
		at := bookings[i].CommittedAt
		if !at.Before(since) && !at.After(now) {
			n++
		}
	}
	return n
}

func findByKey(bookings []model.Booking, key string) *model.Booking {
	for i := range bookings {
		if bookings[i].IdempotencyKey == key {
			b := bookings[i]
			return &b
		}
	}
	return nil
}
