package pricing

import (
	"fmt"
	"math"
	"time"

	"github.com/Shivanand-hulikatti/surge-ticketing/internal/model"
)

// weightedRule pairs a rule with its coefficient.
type weightedRule struct {
	kind   RuleKind
	weight float64
}

// rulesFor returns the fixed, ordered rule list for a configuration.
func rulesFor(cfg model.PricingConfig) [3]weightedRule {
	return [3]weightedRule{
		{kind: TimeUrgency, weight: cfg.TimeWeight},
		{kind: DemandVelocity, weight: cfg.DemandWeight},
		{kind: InventoryScarcity, weight: cfg.InventoryWeight},
	}
}

// Calculate derives the current price of ev.
//
//	current = clamp(round(base × (1 + Σ ratio_i × weight_i)), floor, ceiling)
//
// Rounding is half away from zero. The weighted adjustments and clamp flags in
// the result are the only source of truth for explaining the price.
func Calculate(ev *model.Event, recentBookings int, now time.Time) model.PriceCalculationResult {
	in := Inputs{Event: ev, RecentBookings: recentBookings, Now: now}

	var raw model.RuleAdjustments
	var weighted model.WeightedAdjustments
	for _, r := range rulesFor(ev.PricingConfig) {
		ratio := Evaluate(r.kind, in)
		w := ratio * r.weight
		switch r.kind {
		case TimeUrgency:
			raw.Time, weighted.Time = ratio, w
		case DemandVelocity:
			raw.Demand, weighted.Demand = ratio, w
		case InventoryScarcity:
			raw.Inventory, weighted.Inventory = ratio, w
		}
		weighted.Total += w
	}

	rounded := math.Round(float64(ev.BasePrice) * (1 + weighted.Total))

	res := model.PriceCalculationResult{
		EventID:        ev.ID,
		BasePrice:      ev.BasePrice,
		RawPrice:       saturate(rounded),
		Adjustments:    raw,
		Weighted:       weighted,
		RecentBookings: recentBookings,
		CalculatedAt:   now,
	}

	switch {
	case math.IsNaN(rounded) || rounded > float64(ev.PriceCeiling):
		res.CurrentPrice = ev.PriceCeiling
		res.CappedByCeiling = true
	case rounded < float64(ev.PriceFloor):
		res.CurrentPrice = ev.PriceFloor
		res.CappedByFloor = true
	default:
		res.CurrentPrice = int64(rounded)
	}
	return res
}

// saturate converts a rounded float to int64 without overflow.
func saturate(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return math.MaxInt64
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	default:
		return int64(f)
	}
}

// Breakdown renders a calculation result for display.
func Breakdown(res model.PriceCalculationResult) model.PriceBreakdown {
	return model.PriceBreakdown{
		EventID:      res.EventID,
		BasePrice:    FormatPrice(res.BasePrice),
		CurrentPrice: FormatPrice(res.CurrentPrice),
		PriceChange:  formatPercent(PriceChange(res.BasePrice, res.CurrentPrice)),
		Impacts: model.PriceImpacts{
			Time:      formatPercent(res.Weighted.Time * 100),
			Demand:    formatPercent(res.Weighted.Demand * 100),
			Inventory: formatPercent(res.Weighted.Inventory * 100),
			Total:     formatPercent(res.Weighted.Total * 100),
		},
		Constraints: model.PriceConstraints{
			CappedByFloor:   res.CappedByFloor,
			CappedByCeiling: res.CappedByCeiling,
		},
	}
}

// FormatPrice renders minor units as a dollar amount, e.g. 13833 -> "$138.33".
func FormatPrice(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s$%d.%02d", sign, minor/100, minor%100)
}

// PriceChange returns the percentage change from base to current.
func PriceChange(base, current int64) float64 {
	if base == 0 {
		return 0
	}
	return float64(current-base) / float64(base) * 100
}

func formatPercent(p float64) string {
	return fmt.Sprintf("%.1f%%", p)
}
