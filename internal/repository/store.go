// Package repository implements persistence for events and bookings.
//
// Two stores satisfy the same contract: a PostgreSQL store that serialises
// reservations with row-level locks, and an in-process store that uses one
// lock per event for single-process deployments and tests.
package repository

import (
	"context"
	"time"

	"github.com/Shivanand-hulikatti/surge-ticketing/internal/model"
)

// Store is the persistence contract consumed by the coordinators.
type Store interface {
	// CreateEvent inserts a validated event.
	CreateEvent(ctx context.Context, event *model.Event) error
	// GetEvent returns a point-in-time snapshot or model.ErrNotFound.
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	// ListEvents returns all events ordered by schedule.
	ListEvents(ctx context.Context) ([]model.Event, error)
	// ListBookings returns the bookings of an event in commit order.
	ListBookings(ctx context.Context, eventID string) ([]model.Booking, error)
	// CountBookingsSince counts bookings committed in [since, now]. Rows dated
	// after now are ignored. Read-only, it never waits for the event lock.
	CountBookingsSince(ctx context.Context, eventID string, since, now time.Time) (int, error)
	// TryUpdateCurrentPrice writes the cached current price only if the event
	// is not locked by a reservation. It reports whether the write happened.
	TryUpdateCurrentPrice(ctx context.Context, eventID string, price int64) (bool, error)
	// BeginExclusive starts a unit of work holding the event's exclusive lock.
	// It returns model.ErrNotFound for an unknown event.
	BeginExclusive(ctx context.Context, eventID string) (EventTx, error)
}

// EventTx is a unit of work scoped to one locked event. Every method runs in
// the same transaction; nothing is visible to others before Commit.
type EventTx interface {
	// Event returns the snapshot read under the lock.
	Event() *model.Event
	CountBookingsSince(ctx context.Context, since, now time.Time) (int, error)
	// FindBookingByIdempotencyKey returns model.ErrNotFound when no booking
	// of this event carries key.
	FindBookingByIdempotencyKey(ctx context.Context, key string) (*model.Booking, error)
	InsertBooking(ctx context.Context, booking *model.Booking) error
	IncrementReserved(ctx context.Context, delta int) error
	SetCurrentPrice(ctx context.Context, price int64) error
	Commit(ctx context.Context) error
	// Rollback releases the lock and discards all writes. It is safe to call
	// after Commit, in which case it does nothing.
	Rollback(ctx context.Context) error
}
