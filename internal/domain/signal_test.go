package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignalDTO_IsScheduled(t *testing.T) {
	immediate := SignalDTO{}
	assert.False(t, immediate.IsScheduled())

	price := 100.0
	scheduled := SignalDTO{PriceOpen: &price}
	assert.True(t, scheduled.IsScheduled())
}

func TestSignalRow_EffectivePricesFallBackWithoutTrailing(t *testing.T) {
	row := SignalRow{PriceStopLoss: 90, PriceTakeProfit: 110}
	assert.Equal(t, 90.0, row.EffectiveStopLoss())
	assert.Equal(t, 110.0, row.EffectiveTakeProfit())
}

func TestSignalRow_EffectivePricesPreferTrailing(t *testing.T) {
	trailSL, trailTP := 95.0, 115.0
	row := SignalRow{
		PriceStopLoss:           90,
		PriceTakeProfit:         110,
		TrailingPriceStopLoss:   &trailSL,
		TrailingPriceTakeProfit: &trailTP,
	}
	assert.Equal(t, 95.0, row.EffectiveStopLoss())
	assert.Equal(t, 115.0, row.EffectiveTakeProfit())
}

func TestSignalRow_TrailDirectionAccessors(t *testing.T) {
	row := &SignalRow{}
	assert.Equal(t, DirUnset, row.TrailingSLDirection())

	row.SetTrailingSLDirection(DirTighten)
	assert.Equal(t, DirTighten, row.TrailingSLDirection())

	row.SetTrailingTPDirection(DirLoosen)
	assert.Equal(t, DirLoosen, row.TrailingTPDirection())
}

func TestSignalRow_BreakevenAccessor(t *testing.T) {
	row := &SignalRow{}
	assert.False(t, row.BreakevenAchieved())
	row.SetBreakevenAchieved(true)
	assert.True(t, row.BreakevenAchieved())
}

func TestSignalRow_PartialPercentClosed(t *testing.T) {
	row := SignalRow{Partial: []PartialEntry{
		{Kind: PartialProfit, Percent: 30},
		{Kind: PartialLoss, Percent: 20},
	}}
	assert.Equal(t, 50.0, row.PartialPercentClosed())
}

func TestSignalRow_ToPublicHidesTrailingInternals(t *testing.T) {
	trailSL := 95.0
	row := SignalRow{
		ID:              "sig-1",
		Position:        Long,
		PriceStopLoss:   90,
		PriceTakeProfit: 110,
		TrailingPriceStopLoss: &trailSL,
	}
	pub := row.ToPublic()
	assert.Equal(t, 95.0, pub.PriceStopLoss)
	assert.Equal(t, 90.0, pub.OriginalPriceStopLoss)
	assert.Equal(t, 110.0, pub.PriceTakeProfit)
}

func TestNewSignalID_ReturnsNonEmptyUniqueIDs(t *testing.T) {
	a := NewSignalID()
	b := NewSignalID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
