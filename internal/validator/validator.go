// Package validator implements the pure signal-admission checks of spec §4.1.
package validator

import (
	"fmt"
	"math"
	"strings"

	"github.com/tripolskypetr/backtest-kit/config"
	"github.com/tripolskypetr/backtest-kit/internal/domain"
)

// ValidationError is the composite error returned when one or more checks
// fail; it carries every failure found by the checks that ran (spec §4.1).
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return "signal validation failed: " + strings.Join(e.Reasons, "; ")
}

// Validate runs the checks from spec §4.1 in order, accumulating failures.
// If any of checks 1-2 fails, it returns those failures without running
// checks 3-9. Returns nil if the signal is admissible.
func Validate(row domain.SignalRow, currentPrice float64, isScheduled bool, cfg config.EngineConfig) error {
	var reasons []string
	fail := func(format string, args ...any) {
		reasons = append(reasons, fmt.Sprintf(format, args...))
	}

	// 1. Required identity fields, position enum.
	if row.Symbol == "" {
		fail("symbol is required")
	}
	if row.StrategyName == "" {
		fail("strategyName is required")
	}
	if row.ExchangeName == "" {
		fail("exchangeName is required")
	}
	if row.Position != domain.Long && row.Position != domain.Short {
		fail("position must be long or short, got %q", row.Position)
	}

	// 2. current_price and the three prices finite and > 0.
	if !finitePositive(currentPrice) {
		fail("current_price must be finite and > 0, got %v", currentPrice)
	}
	if !finitePositive(row.PriceOpen) {
		fail("priceOpen must be finite and > 0, got %v", row.PriceOpen)
	}
	if !finitePositive(row.PriceTakeProfit) {
		fail("priceTakeProfit must be finite and > 0, got %v", row.PriceTakeProfit)
	}
	if !finitePositive(row.PriceStopLoss) {
		fail("priceStopLoss must be finite and > 0, got %v", row.PriceStopLoss)
	}

	// Remaining checks need well-formed prices; bail out early if we don't have them.
	if len(reasons) > 0 {
		return &ValidationError{Reasons: reasons}
	}

	// 3. Position-consistent ordering (and, defensively, SL vs TP directly —
	// spec §9 notes the source only implies this transitively).
	switch row.Position {
	case domain.Long:
		if !(row.PriceStopLoss < row.PriceOpen && row.PriceOpen < row.PriceTakeProfit) {
			fail("long signal requires priceStopLoss < priceOpen < priceTakeProfit")
		}
		if row.PriceStopLoss >= row.PriceTakeProfit {
			fail("long signal requires priceStopLoss < priceTakeProfit")
		}
	case domain.Short:
		if !(row.PriceTakeProfit < row.PriceOpen && row.PriceOpen < row.PriceStopLoss) {
			fail("short signal requires priceTakeProfit < priceOpen < priceStopLoss")
		}
		if row.PriceTakeProfit >= row.PriceStopLoss {
			fail("short signal requires priceTakeProfit < priceStopLoss")
		}
	}

	// 4/5. Entry-price safety relative to current price.
	if isScheduled {
		// At activation time, priceOpen itself must sit strictly between SL/TP —
		// already implied by check 3 since priceOpen is the admitted entry. The
		// live current_price is not checked against SL/TP here.
	} else {
		switch row.Position {
		case domain.Long:
			if !(row.PriceStopLoss < currentPrice && currentPrice < row.PriceTakeProfit) {
				fail("immediate long signal requires current_price strictly between SL and TP")
			}
		case domain.Short:
			if !(row.PriceTakeProfit < currentPrice && currentPrice < row.PriceStopLoss) {
				fail("immediate short signal requires current_price strictly between TP and SL")
			}
		}
	}

	// 6/7. Distance checks, relative to priceOpen.
	tpDist := pctDistance(row.PriceTakeProfit, row.PriceOpen)
	slDist := pctDistance(row.PriceStopLoss, row.PriceOpen)

	if tpDist < cfg.MinTakeProfitDistancePercent {
		fail("takeProfit distance %.4f%% below minimum %.4f%%", tpDist, cfg.MinTakeProfitDistancePercent)
	}
	if slDist < cfg.MinStopLossDistancePercent {
		fail("stopLoss distance %.4f%% below minimum %.4f%%", slDist, cfg.MinStopLossDistancePercent)
	}
	if cfg.MaxStopLossDistancePercent > 0 && slDist > cfg.MaxStopLossDistancePercent {
		fail("stopLoss distance %.4f%% above maximum %.4f%%", slDist, cfg.MaxStopLossDistancePercent)
	}

	// 8. minuteEstimatedTime.
	if row.MinuteEstimatedTime <= 0 {
		fail("minuteEstimatedTime must be a positive integer")
	}
	if cfg.MaxSignalLifetimeMinutes > 0 && row.MinuteEstimatedTime > cfg.MaxSignalLifetimeMinutes {
		fail("minuteEstimatedTime %d exceeds maximum %d", row.MinuteEstimatedTime, cfg.MaxSignalLifetimeMinutes)
	}

	// 9. scheduledAt / pendingAt.
	if row.ScheduledAt <= 0 {
		fail("scheduledAt must be a positive integer")
	}
	if row.PendingAt <= 0 {
		fail("pendingAt must be a positive integer")
	}

	if len(reasons) > 0 {
		return &ValidationError{Reasons: reasons}
	}
	return nil
}

func finitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// pctDistance returns |a-base|/base * 100.
func pctDistance(a, base float64) float64 {
	if base == 0 {
		return 0
	}
	return math.Abs(a-base) / base * 100
}
