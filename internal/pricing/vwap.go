// Package pricing implements the pure VWAP (C2) and PnL (C3) calculators.
package pricing

import "github.com/tripolskypetr/backtest-kit/internal/domain"

// VWAP computes the volume-weighted average of the typical price
// (H+L+C)/3 over the given candles, falling back to the mean close when
// total volume is zero (spec §4.2).
func VWAP(candles []domain.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}

	var weightedSum, totalVolume, closeSum float64
	for _, c := range candles {
		weightedSum += c.TypicalPrice() * c.Volume
		totalVolume += c.Volume
		closeSum += c.Close
	}

	if totalVolume == 0 {
		return closeSum / float64(len(candles))
	}
	return weightedSum / totalVolume
}
