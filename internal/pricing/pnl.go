package pricing

import "github.com/tripolskypetr/backtest-kit/internal/domain"

// EffectiveOpen applies fee+slippage symmetrically to an entry price
// (spec §4.3).
func EffectiveOpen(position domain.Position, openPrice, feePercent, slippagePercent float64) float64 {
	cost := (feePercent + slippagePercent) / 100
	if position == domain.Long {
		return openPrice * (1 + cost)
	}
	return openPrice * (1 - cost)
}

// EffectiveClose applies fee+slippage symmetrically to an exit price
// (spec §4.3).
func EffectiveClose(position domain.Position, closePrice, feePercent, slippagePercent float64) float64 {
	cost := (feePercent + slippagePercent) / 100
	if position == domain.Long {
		return closePrice * (1 - cost)
	}
	return closePrice * (1 + cost)
}

// LegPercentage is the PnL percentage of a single open->close leg, after
// fee+slippage, for the given position.
func LegPercentage(position domain.Position, openPrice, closePrice, feePercent, slippagePercent float64) float64 {
	effOpen := EffectiveOpen(position, openPrice, feePercent, slippagePercent)
	effClose := EffectiveClose(position, closePrice, feePercent, slippagePercent)
	raw := (effClose - effOpen) / effOpen * 100
	if position == domain.Short {
		raw = -raw
	}
	return raw
}

// Weighted computes the final PnL percentage for a signal whose partial
// ledger may be non-empty, weighting each partial entry by its percent and
// the remainder by the close price (spec §4.3). The sum of partial
// percents is clipped so total closed never exceeds 100: entries count in
// ledger order, the entry that crosses 100 counts only up to it, and later
// entries count for nothing.
func Weighted(row domain.SignalRow, closePrice, feePercent, slippagePercent float64) float64 {
	var closed, total float64
	for _, p := range row.Partial {
		percent := p.Percent
		if closed+percent > 100 {
			percent = 100 - closed
		}
		if percent <= 0 {
			break
		}
		closed += percent
		total += (percent / 100) * LegPercentage(row.Position, row.PriceOpen, p.Price, feePercent, slippagePercent)
	}

	remainder := 100 - closed
	total += (remainder / 100) * LegPercentage(row.Position, row.PriceOpen, closePrice, feePercent, slippagePercent)

	return total
}
