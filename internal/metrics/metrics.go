// Package metrics exports reservation and pricing metrics to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "surge_ticketing"

// Reservation outcomes.
const (
	OutcomeCommitted    = "committed"
	OutcomeReplayed     = "replayed"
	OutcomeInsufficient = "insufficient_inventory"
	OutcomeNotFound     = "not_found"
	OutcomeInvalid      = "invalid"
	OutcomeTransient    = "transient"
	OutcomeError        = "error"
)

// Refresh outcomes.
const (
	RefreshPersisted = "persisted"
	RefreshSkipped   = "skipped_locked"
	RefreshThrottled = "throttled"
	RefreshFailed    = "failed"
)

// Metrics holds the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	reservations       *prometheus.CounterVec
	reservationLatency *prometheus.HistogramVec
	ticketsSold        prometheus.Counter
	revenue            prometheus.Counter
	priceRefreshes     *prometheus.CounterVec
	priceClamps        *prometheus.CounterVec
}

// New registers the collectors on reg, reusing any already registered.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Reservation attempts by outcome.",
		}, []string{"outcome"}),
		reservationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reservation_duration_seconds",
			Help:      "Latency of the reservation unit of work, including lock wait.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"outcome"}),
		ticketsSold: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_sold_total",
			Help:      "Tickets reserved by committed bookings.",
		}),
		revenue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revenue_minor_units_total",
			Help:      "Sum of price paid by committed bookings, in minor currency units.",
		}),
		priceRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_refreshes_total",
			Help:      "Advisory price refreshes by outcome.",
		}, []string{"outcome"}),
		priceClamps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_clamps_total",
			Help:      "Charged prices clamped by a bound.",
		}, []string{"bound"}),
	}

	if err := register(reg, m); err != nil {
		return nil, err
	}
	return m, nil
}

// MustNew is New that panics on a registration conflict.
func MustNew(reg prometheus.Registerer) *Metrics {
	m, err := New(reg)
	if err != nil {
		panic(err)
	}
	return m
}

func register(reg prometheus.Registerer, m *Metrics) error {
	var are prometheus.AlreadyRegisteredError

	if err := reg.Register(m.reservations); err != nil {
		if !errors.As(err, &are) {
			return fmt.Errorf("register reservations: %w", err)
		}
		m.reservations = are.ExistingCollector.(*prometheus.CounterVec)
	}
	if err := reg.Register(m.reservationLatency); err != nil {
		if !errors.As(err, &are) {
			return fmt.Errorf("register reservation latency: %w", err)
		}
		m.reservationLatency = are.ExistingCollector.(*prometheus.HistogramVec)
	}
	if err := reg.Register(m.ticketsSold); err != nil {
		if !errors.As(err, &are) {
			return fmt.Errorf("register tickets sold: %w", err)
		}
		m.ticketsSold = are.ExistingCollector.(prometheus.Counter)
	}
	if err := reg.Register(m.revenue); err != nil {
		if !errors.As(err, &are) {
			return fmt.Errorf("register revenue: %w", err)
		}
		m.revenue = are.ExistingCollector.(prometheus.Counter)
	}
	if err := reg.Register(m.priceRefreshes); err != nil {
		if !errors.As(err, &are) {
			return fmt.Errorf("register price refreshes: %w", err)
		}
		m.priceRefreshes = are.ExistingCollector.(*prometheus.CounterVec)
	}
	if err := reg.Register(m.priceClamps); err != nil {
		if !errors.As(err, &are) {
			return fmt.Errorf("register price clamps: %w", err)
		}
		m.priceClamps = are.ExistingCollector.(*prometheus.CounterVec)
	}
	return nil
}

// ObserveReservation records the outcome and latency of one Reserve call.
func (m *Metrics) ObserveReservation(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(outcome).Inc()
	m.reservationLatency.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveSale records a committed booking.
func (m *Metrics) ObserveSale(quantity int, pricePaid int64, cappedByFloor, cappedByCeiling bool) {
	if m == nil {
		return
	}
	m.ticketsSold.Add(float64(quantity))
	m.revenue.Add(float64(pricePaid))
	if cappedByFloor {
		m.priceClamps.WithLabelValues("floor").Inc()
	}
	if cappedByCeiling {
		m.priceClamps.WithLabelValues("ceiling").Inc()
	}
}

// ObserveRefresh records the outcome of one advisory refresh.
func (m *Metrics) ObserveRefresh(outcome string) {
	if m == nil {
		return
	}
	m.priceRefreshes.WithLabelValues(outcome).Inc()
}
