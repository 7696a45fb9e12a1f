package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tripolskypetr/backtest-kit/internal/domain"
)

func TestVWAP_Empty(t *testing.T) {
	assert.Equal(t, 0.0, VWAP(nil))
}

func TestVWAP_WeightedByVolume(t *testing.T) {
	candles := []domain.Candle{
		{Open: 10, High: 12, Low: 8, Close: 10, Volume: 1},
		{Open: 20, High: 22, Low: 18, Close: 20, Volume: 9},
	}
	// typical prices: 10, 20; weighted heavily toward the second candle.
	got := VWAP(candles)
	assert.InDelta(t, 19, got, 0.001)
}

func TestVWAP_ZeroVolumeFallsBackToMeanClose(t *testing.T) {
	candles := []domain.Candle{
		{Close: 10, Volume: 0},
		{Close: 20, Volume: 0},
	}
	assert.Equal(t, 15.0, VWAP(candles))
}
