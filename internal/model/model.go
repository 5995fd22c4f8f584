// Package model defines the core domain types for the dynamic-price ticketing system.
package model

import "time"

// Event is a sellable, time-bound inventory unit with capacity and pricing configuration.
// All amounts are integer minor currency units.
type Event struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Venue         string        `json:"venue"`
	Description   string        `json:"description"`
	TotalCapacity int           `json:"total_capacity"`
	ReservedCount int           `json:"reserved_count"`
	BasePrice     int64         `json:"base_price"`
	PriceFloor    int64         `json:"price_floor"`
	PriceCeiling  int64         `json:"price_ceiling"`
	CurrentPrice  int64         `json:"current_price"`
	ScheduledAt   time.Time     `json:"scheduled_at"`
	PricingConfig PricingConfig `json:"pricing_config"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Remaining returns the number of unreserved tickets.
func (e *Event) Remaining() int {
	return e.TotalCapacity - e.ReservedCount
}

// IsSoldOut returns true when no tickets remain.
func (e *Event) IsSoldOut() bool {
	return e.ReservedCount >= e.TotalCapacity
}

// Clone returns a copy that shares no mutable state with e.
func (e *Event) Clone() *Event {
	c := *e
	return &c
}

// PricingConfig holds the rule weights and per-rule thresholds of an event.
// Weights are linear coefficients and need not sum to one.
type PricingConfig struct {
	TimeWeight      float64        `json:"time_weight"`
	DemandWeight    float64        `json:"demand_weight"`
	InventoryWeight float64        `json:"inventory_weight"`
	Time            TimeRules      `json:"time_rules"`
	Demand          DemandRules    `json:"demand_rules"`
	Inventory       InventoryRules `json:"inventory_rules"`
}

// TimeRules are the time-urgency ratios, most urgent first.
type TimeRules struct {
	HoursTo24  float64 `json:"hours_to_24"`
	Days1To7   float64 `json:"days_1_to_7"`
	Days7To30  float64 `json:"days_7_to_30"`
	Days30Plus float64 `json:"days_30_plus"`
}

// DemandRules configure the booking-velocity step.
type DemandRules struct {
	Threshold int     `json:"threshold"`
	Increase  float64 `json:"increase"`
}

// InventoryRules are the scarcity ratios keyed by percentage of remaining inventory.
type InventoryRules struct {
	SoldOut float64 `json:"sold_out"`
	Below10 float64 `json:"below_10"`
	Below20 float64 `json:"below_20"`
	Below50 float64 `json:"below_50"`
	Rest    float64 `json:"rest"`
}

// DefaultPricingConfig returns the rule configuration applied when an event is
// created without one.
func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		TimeWeight:      0.33,
		DemandWeight:    0.33,
		InventoryWeight: 0.34,
		Time: TimeRules{
			HoursTo24:  0.50,
			Days1To7:   0.20,
			Days7To30:  0.10,
			Days30Plus: 0,
		},
		Demand: DemandRules{
			Threshold: 10,
			Increase:  0.15,
		},
		Inventory: InventoryRules{
			SoldOut: 0.50,
			Below10: 0.50,
			Below20: 0.25,
			Below50: 0.10,
			Rest:    0,
		},
	}
}

// Booking is an immutable record of a committed purchase at a snapshotted price.
type Booking struct {
	ID             string    `json:"id"`
	EventID        string    `json:"event_id"`
	Quantity       int       `json:"quantity"`
	UnitPrice      int64     `json:"unit_price"`
	PricePaid      int64     `json:"price_paid"`
	BookerContact  string    `json:"booker_contact"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	CommittedAt    time.Time `json:"committed_at"`
}

// RuleAdjustments are the raw ratios produced by each pricing rule.
type RuleAdjustments struct {
	Time      float64 `json:"time"`
	Demand    float64 `json:"demand"`
	Inventory float64 `json:"inventory"`
}

// WeightedAdjustments are the rule ratios multiplied by their weights.
type WeightedAdjustments struct {
	Time      float64 `json:"time"`
	Demand    float64 `json:"demand"`
	Inventory float64 `json:"inventory"`
	Total     float64 `json:"total"`
}

// PriceCalculationResult is the full, explainable outcome of one price derivation.
// It is recomputed on every request and never persisted.
type PriceCalculationResult struct {
	EventID         string              `json:"event_id"`
	BasePrice       int64               `json:"base_price"`
	RawPrice        int64               `json:"raw_price"`
	CurrentPrice    int64               `json:"current_price"`
	Adjustments     RuleAdjustments     `json:"adjustments"`
	Weighted        WeightedAdjustments `json:"weighted"`
	CappedByFloor   bool                `json:"capped_by_floor"`
	CappedByCeiling bool                `json:"capped_by_ceiling"`
	RecentBookings  int                 `json:"recent_bookings"`
	CalculatedAt    time.Time           `json:"calculated_at"`
}

// PriceBreakdown is the human-readable rendering of a PriceCalculationResult.
type PriceBreakdown struct {
	EventID      string           `json:"event_id"`
	BasePrice    string           `json:"base_price"`
	CurrentPrice string           `json:"current_price"`
	PriceChange  string           `json:"price_change"`
	Impacts      PriceImpacts     `json:"impacts"`
	Constraints  PriceConstraints `json:"constraints"`
}

// PriceImpacts are weighted adjustments rendered as percentages.
type PriceImpacts struct {
	Time      string `json:"time"`
	Demand    string `json:"demand"`
	Inventory string `json:"inventory"`
	Total     string `json:"total"`
}

// PriceConstraints report which bound, if any, clamped the price.
type PriceConstraints struct {
	CappedByFloor   bool `json:"capped_by_floor"`
	CappedByCeiling bool `json:"capped_by_ceiling"`
}

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Name          string         `json:"name" validate:"required,max=200"`
	Venue         string         `json:"venue" validate:"required,max=200"`
	Description   string         `json:"description" validate:"max=2000"`
	TotalCapacity int            `json:"total_capacity" validate:"required,gt=0"`
	BasePrice     int64          `json:"base_price" validate:"gte=0"`
	PriceFloor    int64          `json:"price_floor" validate:"gte=0"`
	PriceCeiling  int64          `json:"price_ceiling" validate:"gte=0"`
	ScheduledAt   time.Time      `json:"scheduled_at" validate:"required"`
	PricingConfig *PricingConfig `json:"pricing_config,omitempty"`
}

// ReserveRequest is the payload for purchasing tickets for an event.
type ReserveRequest struct {
	Quantity       int    `json:"quantity" validate:"required,gte=1"`
	BookerContact  string `json:"booker_contact" validate:"required,max=320"`
	IdempotencyKey string `json:"idempotency_key,omitempty" validate:"max=128"`
}

// EventDetail is an event together with its current price breakdown.
type EventDetail struct {
	Event
	Remaining int             `json:"remaining"`
	Breakdown *PriceBreakdown `json:"price_breakdown,omitempty"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}
