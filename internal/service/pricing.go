package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/surge-ticketing/internal/config"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/metrics"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/model"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/pricing"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/repository"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/telemetry"
)

// PricingCoordinator computes advisory prices outside the booking lock.
// Nothing it returns is binding; Reserve re-derives the charged price.
type PricingCoordinator struct {
	store    repository.Store
	window   time.Duration
	throttle time.Duration
	opts     options
}

// NewPricingCoordinator constructs a PricingCoordinator.
func NewPricingCoordinator(store repository.Store, cfg config.BookingConfig, opts ...Option) *PricingCoordinator {
	window := cfg.DemandWindow
	if window <= 0 {
		window = defaultDemandWindow
	}
	return &PricingCoordinator{
		store:    store,
		window:   window,
		throttle: cfg.RefreshThrottle,
		opts:     buildOptions(opts),
	}
}

// GetCurrentPrice derives the price of an event from its committed state.
func (c *PricingCoordinator) GetCurrentPrice(ctx context.Context, eventID string) (_ model.PriceCalculationResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, "pricing.GetCurrentPrice", attribute.String("event.id", eventID))
	defer func() { telemetry.EndSpan(span, err) }()

	ev, err := c.store.GetEvent(ctx, eventID)
	if err != nil {
		return model.PriceCalculationResult{}, fmt.Errorf("get event: %w", err)
	}
	return c.calculate(ctx, ev)
}

func (c *PricingCoordinator) calculate(ctx context.Context, ev *model.Event) (model.PriceCalculationResult, error) {
	now := c.opts.now()
	recent, err := c.store.CountBookingsSince(ctx, ev.ID, now.Add(-c.window), now)
	if err != nil {
		return model.PriceCalculationResult{}, fmt.Errorf("count recent bookings: %w", err)
	}
	return pricing.Calculate(ev, recent, now), nil
}

// GetBreakdown returns the human-readable explanation of the current price.
func (c *PricingCoordinator) GetBreakdown(ctx context.Context, eventID string) (model.PriceBreakdown, error) {
	res, err := c.GetCurrentPrice(ctx, eventID)
	if err != nil {
		return model.PriceBreakdown{}, err
	}
	return pricing.Breakdown(res), nil
}

// RefreshAndPersist derives the current price and caches it on the event when
// that can be done without waiting. A reservation in flight, or a refresh by
// another replica inside the throttle window, leaves the cached value as is.
// The derived price is returned either way.
func (c *PricingCoordinator) RefreshAndPersist(ctx context.Context, eventID string) (_ int64, err error) {
	ctx, span := telemetry.StartSpan(ctx, "pricing.RefreshAndPersist", attribute.String("event.id", eventID))
	defer func() { telemetry.EndSpan(span, err) }()

	res, err := c.GetCurrentPrice(ctx, eventID)
	if err != nil {
		if !model.IsNotFound(err) {
			c.opts.metrics.ObserveRefresh(metrics.RefreshFailed)
		}
		return 0, err
	}
	if err = c.persist(ctx, eventID, res.CurrentPrice); err != nil {
		return 0, err
	}
	return res.CurrentPrice, nil
}

// persist caches price on the event unless a reservation holds it or another
// replica refreshed it inside the throttle window.
func (c *PricingCoordinator) persist(ctx context.Context, eventID string, price int64) error {
	log := c.opts.log.With(zap.String("event_id", eventID), zap.Int64("price", price))

	acquired, cerr := c.opts.cache.AcquireRefresh(ctx, eventID, c.throttle)
	if cerr != nil {
		// Redis being down only loses the throttle.
		log.Warn("refresh throttle unavailable", zap.Error(cerr))
		acquired = true
	}
	if !acquired {
		c.opts.metrics.ObserveRefresh(metrics.RefreshThrottled)
		return nil
	}

	persisted, err := c.store.TryUpdateCurrentPrice(ctx, eventID, price)
	if err != nil {
		c.release(ctx, log, eventID)
		c.opts.metrics.ObserveRefresh(metrics.RefreshFailed)
		return fmt.Errorf("persist current price: %w", err)
	}
	if !persisted {
		// Nothing was written, so other replicas may try again right away.
		c.release(ctx, log, eventID)
		log.Debug("price refresh skipped, event locked")
		c.opts.metrics.ObserveRefresh(metrics.RefreshSkipped)
		return nil
	}

	c.opts.metrics.ObserveRefresh(metrics.RefreshPersisted)
	c.publishPrice(ctx, log, eventID, price)
	return nil
}

// freshen overlays the derived price on ev and caches it when the stored value
// is stale. Caching failures are logged; the derived price stands.
func (c *PricingCoordinator) freshen(ctx context.Context, ev *model.Event) (model.PriceCalculationResult, error) {
	res, err := c.calculate(ctx, ev)
	if err != nil {
		return model.PriceCalculationResult{}, err
	}
	if ev.CurrentPrice != res.CurrentPrice {
		if err := c.persist(ctx, ev.ID, res.CurrentPrice); err != nil {
			c.opts.log.Warn("cache derived price failed", zap.String("event_id", ev.ID), zap.Error(err))
		}
		ev.CurrentPrice = res.CurrentPrice
	}
	return res, nil
}

func (c *PricingCoordinator) release(ctx context.Context, log *zap.Logger, eventID string) {
	if err := c.opts.cache.ReleaseRefresh(ctx, eventID); err != nil {
		log.Warn("release refresh throttle failed", zap.Error(err))
	}
}

// publishPrice shares price with other replicas when it moved.
func (c *PricingCoordinator) publishPrice(ctx context.Context, log *zap.Logger, eventID string, price int64) {
	prev, found, err := c.opts.cache.LastPrice(ctx, eventID)
	if err != nil {
		log.Warn("read published price failed", zap.Error(err))
	}
	if found && prev == price {
		return
	}
	if found {
		log.Info("price changed", zap.Int64("previous_price", prev))
	}
	if err := c.opts.cache.PublishPrice(ctx, eventID, price); err != nil {
		log.Warn("publish refreshed price failed", zap.Error(err))
	}
}

// RefreshAll refreshes every event, continuing past failures. It returns the
// number of events processed without error and the joined failures.
func (c *PricingCoordinator) RefreshAll(ctx context.Context) (int, error) {
	list, err := c.store.ListEvents(ctx)
	if err != nil {
		return 0, fmt.Errorf("list events: %w", err)
	}

	var errs []error
	ok := 0
	for i := range list {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := c.RefreshAndPersist(ctx, list[i].ID); err != nil {
			c.opts.log.Warn("price refresh failed", zap.String("event_id", list[i].ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("event %s: %w", list[i].ID, err))
			continue
		}
		ok++
	}
	return ok, errors.Join(errs...)
}

// RunRefresher calls RefreshAll every interval until ctx ends.
func (c *PricingCoordinator) RunRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.RefreshAll(ctx)
			if err != nil && ctx.Err() == nil {
				c.opts.log.Warn("periodic price refresh incomplete", zap.Int("refreshed", n), zap.Error(err))
			}
		}
	}
}
