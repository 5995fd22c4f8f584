// Package pricing derives a bounded, explainable ticket price from an event
// snapshot. Everything here is pure: no I/O, no clock reads.
package pricing

import (
	"time"

	"github.com/Shivanand-hulikatti/surge-ticketing/internal/model"
)

// RuleKind identifies one of the fixed pricing rules.
type RuleKind int

const (
	TimeUrgency RuleKind = iota
	DemandVelocity
	InventoryScarcity
)

const (
	day   = 24 * time.Hour
	week  = 7 * day
	month = 30 * day
)

// Inputs is everything a rule may look at.
type Inputs struct {
	Event          *model.Event
	RecentBookings int
	Now            time.Time
}

// Evaluate returns the adjustment ratio of rule k for the given inputs.
func Evaluate(k RuleKind, in Inputs) float64 {
	switch k {
	case TimeUrgency:
		return TimeUrgencyRatio(in.Event.PricingConfig.Time, in.Event.ScheduledAt.Sub(in.Now))
	case DemandVelocity:
		return DemandVelocityRatio(in.Event.PricingConfig.Demand, in.RecentBookings)
	case InventoryScarcity:
		return InventoryScarcityRatio(in.Event.PricingConfig.Inventory, in.Event.TotalCapacity, in.Event.ReservedCount)
	default:
		return 0
	}
}

// TimeUrgencyRatio maps time-to-event to a ratio. Each boundary belongs to the
// more urgent tier; events in the past get no adjustment.
func TimeUrgencyRatio(r model.TimeRules, untilEvent time.Duration) float64 {
	switch {
	case untilEvent < 0:
		return 0
	case untilEvent <= day:
		return r.HoursTo24
	case untilEvent <= week:
		return r.Days1To7
	case untilEvent <= month:
		return r.Days7To30
	default:
		return r.Days30Plus
	}
}

// DemandVelocityRatio is a binary step on the trailing-window booking count.
func DemandVelocityRatio(r model.DemandRules, recentBookings int) float64 {
	if recentBookings >= r.Threshold {
		return r.Increase
	}
	return 0
}

// InventoryScarcityRatio maps the remaining share of capacity to a ratio.
// A sold-out (or oversold) event is its own top-severity case.
func InventoryScarcityRatio(r model.InventoryRules, totalCapacity, reservedCount int) float64 {
	remaining := totalCapacity - reservedCount
	if remaining <= 0 || totalCapacity <= 0 {
		return r.SoldOut
	}

	pct := 100 * float64(remaining) / float64(totalCapacity)
	switch {
	case pct < 10:
		return r.Below10
	case pct < 20:
		return r.Below20
	case pct < 50:
		return r.Below50
	default:
		return r.Rest
	}
}
