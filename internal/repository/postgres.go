package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Shivanand-hulikatti/surge-ticketing/internal/model"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/telemetry"
)

const eventColumns = `id, name, venue, description, total_capacity, reserved_count,
	base_price, price_floor, price_ceiling, current_price, scheduled_at,
	pricing_config, created_at, updated_at`

// rollbackTimeout bounds the cleanup of a half-opened unit of work.
const rollbackTimeout = 5 * time.Second

const bookingColumns = `id, event_id, quantity, unit_price, price_paid, booker_contact,
	COALESCE(idempotency_key, ''), committed_at`

// PostgresStore persists events and bookings with pgx. Reservations are
// serialised per event by SELECT … FOR UPDATE on the event row.
type PostgresStore struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresStore constructs a PostgresStore. lockTimeout bounds how long a
// reservation waits for the event row lock; zero leaves the server default.
func NewPostgresStore(db *pgxpool.Pool, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, lockTimeout: lockTimeout}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*model.Event, error) {
	var e model.Event
	err := row.Scan(
		&e.ID, &e.Name, &e.Venue, &e.Description, &e.TotalCapacity, &e.ReservedCount,
		&e.BasePrice, &e.PriceFloor, &e.PriceCeiling, &e.CurrentPrice, &e.ScheduledAt,
		&e.PricingConfig, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanBooking(row scanner) (*model.Booking, error) {
	var b model.Booking
	err := row.Scan(
		&b.ID, &b.EventID, &b.Quantity, &b.UnitPrice, &b.PricePaid, &b.BookerContact,
		&b.IdempotencyKey, &b.CommittedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateEvent inserts a new event row.
func (s *PostgresStore) CreateEvent(ctx context.Context, e *model.Event) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "repository.CreateEvent", attribute.String("event.id", e.ID))
	defer func() { telemetry.EndSpan(span, err) }()

	_, err = s.db.Exec(ctx,
		`INSERT INTO events (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, e.Name, e.Venue, e.Description, e.TotalCapacity, e.ReservedCount,
		e.BasePrice, e.PriceFloor, e.PriceCeiling, e.CurrentPrice, e.ScheduledAt,
		e.PricingConfig, e.CreatedAt, e.UpdatedAt,
	)
	return classify("insert event", err)
}

// GetEvent returns a single event or model.ErrNotFound.
func (s *PostgresStore) GetEvent(ctx context.Context, id string) (_ *model.Event, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repository.GetEvent", attribute.String("event.id", id))
	defer func() { telemetry.EndSpan(span, err) }()

	if _, perr := uuid.Parse(id); perr != nil {
		return nil, model.ErrNotFound
	}
	e, err := scanEvent(s.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, classify("get event", err)
	}
	return e, nil
}

// ListEvents returns all events, soonest first.
func (s *PostgresStore) ListEvents(ctx context.Context) (_ []model.Event, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repository.ListEvents")
	defer func() { telemetry.EndSpan(span, err) }()

	rows, err := s.db.Query(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY scheduled_at ASC, created_at ASC`)
	if err != nil {
		return nil, classify("list events", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, classify("list events", rows.Err())
}

// ListBookings returns all bookings of an event in commit order.
func (s *PostgresStore) ListBookings(ctx context.Context, eventID string) (_ []model.Booking, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repository.ListBookings", attribute.String("event.id", eventID))
	defer func() { telemetry.EndSpan(span, err) }()

	if _, perr := uuid.Parse(eventID); perr != nil {
		return nil, nil
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE event_id = $1
		 ORDER BY committed_at ASC, id ASC`,
		eventID,
	)
	if err != nil {
		return nil, classify("list bookings", err)
	}
	defer rows.Close()

	var bookings []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, *b)
	}
	return bookings, classify("list bookings", rows.Err())
}

// CountBookingsSince counts bookings committed in [since, now].
func (s *PostgresStore) CountBookingsSince(ctx context.Context, eventID string, since, now time.Time) (n int, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repository.CountBookingsSince", attribute.String("event.id", eventID))
	defer func() { telemetry.EndSpan(span, err) }()

	err = s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM bookings WHERE event_id = $1 AND committed_at >= $2 AND committed_at <= $3`,
		eventID, since, now,
	).Scan(&n)
	return n, classify("count bookings", err)
}

// TryUpdateCurrentPrice skips the write when a reservation holds the row.
func (s *PostgresStore) TryUpdateCurrentPrice(ctx context.Context, eventID string, price int64) (_ bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repository.TryUpdateCurrentPrice", attribute.String("event.id", eventID))
	defer func() { telemetry.EndSpan(span, err) }()

	tag, err := s.db.Exec(ctx,
		`UPDATE events SET current_price = $2, updated_at = now()
		 WHERE id = (SELECT id FROM events WHERE id = $1 FOR UPDATE SKIP LOCKED)`,
		eventID, price,
	)
	if err != nil {
		return false, classify("update current price", err)
	}
	return tag.RowsAffected() == 1, nil
}

// BeginExclusive opens a transaction and locks the event row.
//
// Two reservations that both read reserved_count before either writes would
// each see free capacity and oversell. FOR UPDATE makes the second one wait
// on the row until the first commits or rolls back, so the read-check-write
// sequence runs one reservation at a time per event.
func (s *PostgresStore) BeginExclusive(ctx context.Context, eventID string) (_ EventTx, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repository.BeginExclusive", attribute.String("event.id", eventID))
	defer func() { telemetry.EndSpan(span, err) }()

	if _, perr := uuid.Parse(eventID); perr != nil {
		return nil, model.ErrNotFound
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, classify("begin transaction", err)
	}
	defer func() {
		if err != nil {
			abandon(ctx, tx)
		}
	}()

	if s.lockTimeout > 0 {
		// SET LOCAL takes no bind parameters.
		_, err = tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`,
			fmt.Sprintf("%dms", s.lockTimeout.Milliseconds()))
		if err != nil {
			return nil, classify("set lock timeout", err)
		}
	}

	e, err := scanEvent(tx.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, eventID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, classify("lock event row", err)
	}
	return &pgEventTx{tx: tx, event: e}, nil
}

// abandon rolls tx back even when ctx is already done, so the row lock is
// not held until the server notices the dead connection.
func abandon(ctx context.Context, tx pgx.Tx) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	_ = tx.Rollback(rctx)
}

type pgEventTx struct {
	tx    pgx.Tx
	event *model.Event
	done  bool
}

func (t *pgEventTx) Event() *model.Event {
	return t.event.Clone()
}

func (t *pgEventTx) CountBookingsSince(ctx context.Context, since, now time.Time) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM bookings WHERE event_id = $1 AND committed_at >= $2 AND committed_at <= $3`,
		t.event.ID, since, now,
	).Scan(&n)
	return n, classify("count bookings", err)
}

func (t *pgEventTx) FindBookingByIdempotencyKey(ctx context.Context, key string) (*model.Booking, error) {
	b, err := scanBooking(t.tx.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE event_id = $1 AND idempotency_key = $2`,
		t.event.ID, key,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, classify("find booking", err)
	}
	return b, nil
}

func (t *pgEventTx) InsertBooking(ctx context.Context, b *model.Booking) error {
	var key *string
	if b.IdempotencyKey != "" {
		key = &b.IdempotencyKey
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO bookings (id, event_id, quantity, unit_price, price_paid, booker_contact, idempotency_key, committed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		b.ID, b.EventID, b.Quantity, b.UnitPrice, b.PricePaid, b.BookerContact, key, b.CommittedAt,
	)
	return classify("insert booking", err)
}

func (t *pgEventTx) IncrementReserved(ctx context.Context, delta int) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE events SET reserved_count = reserved_count + $2, updated_at = now() WHERE id = $1`,
		t.event.ID, delta,
	)
	return classify("increment reserved_count", err)
}

func (t *pgEventTx) SetCurrentPrice(ctx context.Context, price int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE events SET current_price = $2, updated_at = now() WHERE id = $1`,
		t.event.ID, price,
	)
	return classify("set current price", err)
}

func (t *pgEventTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return classify("commit transaction", err)
	}
	t.done = true
	return nil
}

func (t *pgEventTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return classify("rollback transaction", err)
	}
	return nil
}

// classify wraps err with op, marking failures that are safe to retry as
// model.ErrTransientStorage.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return model.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03", // lock_not_available, raised by lock_timeout
			"57014": // query_canceled, raised by statement_timeout
			return true
		}
		// Class 08: connection exceptions.
		return strings.HasPrefix(pgErr.Code, "08")
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	return pgconn.Timeout(err) || pgconn.SafeToRetry(err)
}
