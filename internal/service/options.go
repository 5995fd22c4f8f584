// Package service implements the booking and pricing coordinators and the
// event administration operations that sit between the HTTP handlers and the
// repository layer.
package service

import (
	"time"

	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/surge-ticketing/internal/cache"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/events"
	"github.com/Shivanand-hulikatti/surge-ticketing/internal/metrics"
)

const defaultDemandWindow = time.Hour

type options struct {
	log       *zap.Logger
	metrics   *metrics.Metrics
	publisher events.Publisher
	cache     cache.PriceCache
	now       func() time.Time
}

// Option configures a coordinator.
type Option func(*options)

// WithLogger sets the logger. The default discards output.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithPublisher sets where committed bookings are announced.
func WithPublisher(p events.Publisher) Option {
	return func(o *options) {
		if p != nil {
			o.publisher = p
		}
	}
}

// WithPriceCache sets the cross-process refresh throttle.
func WithPriceCache(c cache.PriceCache) Option {
	return func(o *options) {
		if c != nil {
			o.cache = c
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		log:       zap.NewNop(),
		publisher: events.NewNoOpPublisher(),
		cache:     cache.NoOpPriceCache{},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
