package model

import "math"

// Validate checks the creation-time invariants of an event: positive capacity,
// non-negative prices with floor <= base <= ceiling, and a usable pricing config.
func (e *Event) Validate() error {
	if e.TotalCapacity <= 0 {
		return &ConfigError{Field: "total_capacity", Reason: "must be positive"}
	}
	if e.ReservedCount < 0 || e.ReservedCount > e.TotalCapacity {
		return &ConfigError{Field: "reserved_count", Reason: "must be within [0, total_capacity]"}
	}
	if e.PriceFloor < 0 {
		return &ConfigError{Field: "price_floor", Reason: "must not be negative"}
	}
	if e.PriceFloor > e.BasePrice {
		return &ConfigError{Field: "price_floor", Reason: "must not exceed base_price"}
	}
	if e.BasePrice > e.PriceCeiling {
		return &ConfigError{Field: "price_ceiling", Reason: "must not be below base_price"}
	}
	if e.ScheduledAt.IsZero() {
		return &ConfigError{Field: "scheduled_at", Reason: "is required"}
	}
	return e.PricingConfig.Validate()
}

// Validate checks that weights and ratios are finite and non-negative and that
// the tiered ratios never decrease as urgency or scarcity increases.
func (c PricingConfig) Validate() error {
	checks := []struct {
		field string
		value float64
	}{
		{"time_weight", c.TimeWeight},
		{"demand_weight", c.DemandWeight},
		{"inventory_weight", c.InventoryWeight},
		{"time_rules.hours_to_24", c.Time.HoursTo24},
		{"time_rules.days_1_to_7", c.Time.Days1To7},
		{"time_rules.days_7_to_30", c.Time.Days7To30},
		{"time_rules.days_30_plus", c.Time.Days30Plus},
		{"demand_rules.increase", c.Demand.Increase},
		{"inventory_rules.sold_out", c.Inventory.SoldOut},
		{"inventory_rules.below_10", c.Inventory.Below10},
		{"inventory_rules.below_20", c.Inventory.Below20},
		{"inventory_rules.below_50", c.Inventory.Below50},
		{"inventory_rules.rest", c.Inventory.Rest},
	}
	for _, ch := range checks {
		if math.IsNaN(ch.value) || math.IsInf(ch.value, 0) || ch.value < 0 {
			return &ConfigError{Field: ch.field, Reason: "must be a finite non-negative number"}
		}
	}

	if c.Demand.Threshold < 0 {
		return &ConfigError{Field: "demand_rules.threshold", Reason: "must not be negative"}
	}

	t := c.Time
	if !(t.HoursTo24 >= t.Days1To7 && t.Days1To7 >= t.Days7To30 && t.Days7To30 >= t.Days30Plus) {
		return &ConfigError{Field: "time_rules", Reason: "must not decrease as the event approaches"}
	}
	inv := c.Inventory
	if !(inv.SoldOut >= inv.Below10 && inv.Below10 >= inv.Below20 && inv.Below20 >= inv.Below50 && inv.Below50 >= inv.Rest) {
		return &ConfigError{Field: "inventory_rules", Reason: "must not decrease as inventory runs out"}
	}
	return nil
}
