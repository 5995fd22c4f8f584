package model

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEvent() *Event {
	return &Event{
		ID:            "evt-1",
		Name:          "Concert",
		TotalCapacity: 100,
		BasePrice:     10000,
		PriceFloor:    8000,
		PriceCeiling:  30000,
		ScheduledAt:   time.Date(2030, 1, 1, 20, 0, 0, 0, time.UTC),
		PricingConfig: DefaultPricingConfig(),
	}
}

func TestEventValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(e *Event)
		wantField string
	}{
		{name: "valid", mutate: func(e *Event) {}},
		{name: "degenerate bounds", mutate: func(e *Event) { e.PriceFloor, e.PriceCeiling = 10000, 10000 }},
		{name: "zero capacity", mutate: func(e *Event) { e.TotalCapacity = 0 }, wantField: "total_capacity"},
		{name: "negative floor", mutate: func(e *Event) { e.PriceFloor = -1 }, wantField: "price_floor"},
		{name: "floor above base", mutate: func(e *Event) { e.PriceFloor = 10001 }, wantField: "price_floor"},
		{name: "ceiling below base", mutate: func(e *Event) { e.PriceCeiling = 9999 }, wantField: "price_ceiling"},
		{name: "missing schedule", mutate: func(e *Event) { e.ScheduledAt = time.Time{} }, wantField: "scheduled_at"},
		{name: "negative weight", mutate: func(e *Event) { e.PricingConfig.DemandWeight = -0.1 }, wantField: "demand_weight"},
		{name: "nan ratio", mutate: func(e *Event) { e.PricingConfig.Time.Days1To7 = math.NaN() }, wantField: "time_rules.days_1_to_7"},
		{name: "time tiers decreasing with urgency", mutate: func(e *Event) { e.PricingConfig.Time.HoursTo24 = 0.05 }, wantField: "time_rules"},
		{name: "inventory tiers decreasing with scarcity", mutate: func(e *Event) { e.PricingConfig.Inventory.SoldOut = 0.1 }, wantField: "inventory_rules"},
		{name: "negative demand threshold", mutate: func(e *Event) { e.PricingConfig.Demand.Threshold = -1 }, wantField: "demand_rules.threshold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEvent()
			tt.mutate(e)
			err := e.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfiguration))
			var ce *ConfigError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.wantField, ce.Field)
		})
	}
}

func TestEventRemaining(t *testing.T) {
	e := validEvent()
	e.ReservedCount = 100
	assert.Equal(t, 0, e.Remaining())
	assert.True(t, e.IsSoldOut())

	c := e.Clone()
	c.ReservedCount = 1
	assert.Equal(t, 100, e.ReservedCount)
}
