package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tripolskypetr/backtest-kit/internal/domain"
)

func TestLegPercentage_LongProfit(t *testing.T) {
	pct := LegPercentage(domain.Long, 100, 110, 0, 0)
	assert.InDelta(t, 10.0, pct, 0.0001)
}

func TestLegPercentage_ShortProfit(t *testing.T) {
	pct := LegPercentage(domain.Short, 100, 90, 0, 0)
	assert.InDelta(t, 10.0, pct, 0.0001)
}

func TestLegPercentage_FeesReduceProfit(t *testing.T) {
	noFee := LegPercentage(domain.Long, 100, 110, 0, 0)
	withFee := LegPercentage(domain.Long, 100, 110, 0.1, 0.05)
	assert.Less(t, withFee, noFee)
}

func TestWeighted_NoPartials(t *testing.T) {
	row := domain.SignalRow{Position: domain.Long, PriceOpen: 100}
	pct := Weighted(row, 110, 0, 0)
	assert.InDelta(t, 10.0, pct, 0.0001)
}

func TestWeighted_WithPartialProfit(t *testing.T) {
	row := domain.SignalRow{
		Position:  domain.Long,
		PriceOpen: 100,
		Partial: []domain.PartialEntry{
			{Kind: domain.PartialProfit, Percent: 50, Price: 120},
		},
	}
	// 50% closed at +20%, remaining 50% closed at +10%.
	pct := Weighted(row, 110, 0, 0)
	assert.InDelta(t, 15.0, pct, 0.0001)
}

func TestWeighted_ClipsOverclosedLedger(t *testing.T) {
	row := domain.SignalRow{
		Position:  domain.Long,
		PriceOpen: 100,
		Partial: []domain.PartialEntry{
			{Kind: domain.PartialProfit, Percent: 80, Price: 120},
			{Kind: domain.PartialProfit, Percent: 80, Price: 130},
		},
	}
	pct := Weighted(row, 200, 0, 0)
	// The second entry counts only for the 20% the first left open, and the
	// remainder clips to 0, not negative.
	expected := 0.8*LegPercentage(domain.Long, 100, 120, 0, 0) + 0.2*LegPercentage(domain.Long, 100, 130, 0, 0)
	assert.InDelta(t, expected, pct, 0.0001)
}
