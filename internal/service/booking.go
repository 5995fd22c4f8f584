package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/surge-ticketing/internal/config"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/metrics"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/model"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/pricing"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/repository"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/telemetry"
)

const (
	defaultRollbackTimeout = 2 * time.Second
	publishTimeout         = 3 * time.Second
)

// BookingCoordinator sells tickets. For any one event it runs a single
// reservation at a time, so the capacity check, the price the booking is
// charged and the counter update all see the same state.
type BookingCoordinator struct {
	store           repository.Store
	window          time.Duration
	rollbackTimeout time.Duration
	opts            options
}

// NewBookingCoordinator constructs a BookingCoordinator.
func NewBookingCoordinator(store repository.Store, cfg config.BookingConfig, opts ...Option) *BookingCoordinator {
	window := cfg.DemandWindow
	if window <= 0 {
		window = defaultDemandWindow
	}
	rollbackTimeout := cfg.RollbackTimeout
	if rollbackTimeout <= 0 {
		rollbackTimeout = defaultRollbackTimeout
	}
	return &BookingCoordinator{
		store:           store,
		window:          window,
		rollbackTimeout: rollbackTimeout,
		opts:            buildOptions(opts),
	}
}

// Reserve books req.Quantity tickets of an event at the price derived under
// the event lock.
//
// On success the returned booking is committed and its PricePaid is final.
// When req.IdempotencyKey matches an earlier booking of the same event, that
// booking is returned and nothing is written. On any error nothing was
// written; errors matching model.ErrTransientStorage may be retried as a whole.
func (c *BookingCoordinator) Reserve(ctx context.Context, eventID string, req model.ReserveRequest) (_ *model.Booking, err error) {
	start := time.Now()
	replayed := false

	ctx, span := telemetry.StartSpan(ctx, "booking.Reserve",
		attribute.String("event.id", eventID),
		attribute.Int("booking.quantity", req.Quantity),
	)
	defer func() {
		telemetry.EndSpan(span, err)
		c.opts.metrics.ObserveReservation(reservationOutcome(err, replayed), time.Since(start))
	}()

	if req.Quantity < 1 {
		return nil, fmt.Errorf("%w: got %d", model.ErrInvalidQuantity, req.Quantity)
	}
	key := strings.TrimSpace(req.IdempotencyKey)

	// Step 1: take the event lock. Everything until Commit is invisible to
	// other reservations and to the pricing reads.
	tx, err := c.store.BeginExclusive(ctx, eventID)
	if err != nil {
		return nil, storageErr("lock event", err)
	}
	committed := false
	defer func() {
		if !committed {
			c.rollback(ctx, tx, eventID)
		}
	}()

	// Step 2: everything below reads the state observed under the lock.
	ev := tx.Event()

	if key != "" {
		existing, ferr := tx.FindBookingByIdempotencyKey(ctx, key)
		if ferr == nil {
			replayed = true
			return existing, nil
		}
		if !model.IsNotFound(ferr) {
			return nil, storageErr("find booking", ferr)
		}
	}

	// Step 3: guard against overselling.
	if remaining := ev.Remaining(); req.Quantity > remaining {
		return nil, &model.InsufficientInventoryError{
			EventID:   eventID,
			Requested: req.Quantity,
			Remaining: max(remaining, 0),
		}
	}

	// Step 4: derive the charged price from the locked snapshot.
	now := c.opts.now()
	recent, err := tx.CountBookingsSince(ctx, now.Add(-c.window), now)
	if err != nil {
		return nil, storageErr("count recent bookings", err)
	}
	price := pricing.Calculate(ev, recent, now)
	if price.CurrentPrice > 0 && int64(req.Quantity) > math.MaxInt64/price.CurrentPrice {
		return nil, fmt.Errorf("%w: total price overflows", model.ErrInvalidQuantity)
	}

	booking := &model.Booking{
		ID:             uuid.New().String(),
		EventID:        eventID,
		Quantity:       req.Quantity,
		UnitPrice:      price.CurrentPrice,
		PricePaid:      price.CurrentPrice * int64(req.Quantity),
		BookerContact:  strings.TrimSpace(req.BookerContact),
		IdempotencyKey: key,
		CommittedAt:    now,
	}

	// Step 5: write the booking, the counter and the charged price.
	if err = tx.InsertBooking(ctx, booking); err != nil {
		return nil, storageErr("insert booking", err)
	}
	if err = tx.IncrementReserved(ctx, req.Quantity); err != nil {
		return nil, storageErr("increment reserved_count", err)
	}
	if err = tx.SetCurrentPrice(ctx, price.CurrentPrice); err != nil {
		return nil, storageErr("set current price", err)
	}

	// Step 6: commit. Only now do other reservations see the new count.
	if err = tx.Commit(ctx); err != nil {
		return nil, storageErr("commit", err)
	}
	committed = true

	ev.ReservedCount += req.Quantity
	remaining := ev.Remaining()
	c.opts.metrics.ObserveSale(req.Quantity, booking.PricePaid, price.CappedByFloor, price.CappedByCeiling)
	c.opts.log.Info("booking committed",
		zap.String("event_id", eventID),
		zap.String("booking_id", booking.ID),
		zap.Int("quantity", booking.Quantity),
		zap.Int64("unit_price", booking.UnitPrice),
		zap.Int64("price_paid", booking.PricePaid),
		zap.Int("remaining", remaining),
	)
	if ev.IsSoldOut() {
		c.opts.log.Info("event sold out", zap.String("event_id", eventID), zap.Int("capacity", ev.TotalCapacity))
	}
	c.publish(ctx, booking, remaining)

	return booking, nil
}

// rollback releases the lock even when ctx is already cancelled.
func (c *BookingCoordinator) rollback(ctx context.Context, tx repository.EventTx, eventID string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.rollbackTimeout)
	defer cancel()
	if err := tx.Rollback(rctx); err != nil {
		c.opts.log.Error("rollback failed", zap.String("event_id", eventID), zap.Error(err))
	}
}

// publish announces a committed booking. The booking stands regardless of
// the outcome.
func (c *BookingCoordinator) publish(ctx context.Context, b *model.Booking, remaining int) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := c.opts.publisher.PublishBookingCommitted(pctx, b, remaining); err != nil {
		c.opts.log.Warn("publish booking committed failed",
			zap.String("event_id", b.EventID),
			zap.String("booking_id", b.ID),
			zap.Error(err),
		)
	}
}

// storageErr passes domain errors through and marks everything else retryable.
func storageErr(op string, err error) error {
	if model.IsNotFound(err) || model.IsTransient(err) {
		return err
	}
	return model.Transient(op, err)
}

func reservationOutcome(err error, replayed bool) string {
	switch {
	case err == nil && replayed:
		return metrics.OutcomeReplayed
	case err == nil:
		return metrics.OutcomeCommitted
	case model.IsNotFound(err):
		return metrics.OutcomeNotFound
	case model.IsTransient(err):
		return metrics.OutcomeTransient
	case model.IsClientError(err):
		if _, ok := model.RemainingFrom(err); ok {
			return metrics.OutcomeInsufficient
		}
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeError
	}
}
