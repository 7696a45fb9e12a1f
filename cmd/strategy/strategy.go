package main

import (
	"context"
	"fmt"

	"github.com/tripolskypetr/backtest-kit/config"
	"github.com/tripolskypetr/backtest-kit/internal/contracts"
	"github.com/tripolskypetr/backtest-kit/internal/domain"
)

const (
	momentumLookbackCandles = 15
	momentumThresholdPct    = 0.5
)

// newMomentumSignal is the demo getSignal callback wired by cmd/strategy: a
// simple momentum-threshold strategy (not a production trading strategy —
// it exists to exercise the engine end-to-end). It proposes an immediate
// long when price has risen momentumThresholdPct over the lookback window,
// an immediate short on the symmetric drop, and otherwise proposes
// nothing.
func newMomentumSignal(exchange contracts.Exchange, cfg config.EngineConfig) contracts.GetSignalFunc {
	return func(ctx context.Context, symbol string, now int64) (*domain.SignalDTO, error) {
		candles, err := exchange.GetCandles(ctx, symbol, "1m", momentumLookbackCandles)
		if err != nil {
			return nil, fmt.Errorf("newMomentumSignal: %w", err)
		}
		if len(candles) < 2 {
			return nil, nil
		}

		first := candles[0].Close
		last := candles[len(candles)-1].Close
		if first == 0 {
			return nil, nil
		}
		changePct := (last - first) / first * 100

		tpDist := max2(cfg.MinTakeProfitDistancePercent, 2*cfg.FeeSlippagePercent()+1)
		slDist := max2(cfg.MinStopLossDistancePercent, 1)
		lifetime := cfg.MaxSignalLifetimeMinutes / 4
		if lifetime < 1 {
			lifetime = 60
		}

		switch {
		case changePct >= momentumThresholdPct:
			return &domain.SignalDTO{
				Position:            domain.Long,
				PriceTakeProfit:     last * (1 + tpDist/100),
				PriceStopLoss:       last * (1 - slDist/100),
				MinuteEstimatedTime: lifetime,
				Note:                fmt.Sprintf("momentum +%.3f%% over %d candles", changePct, momentumLookbackCandles),
			}, nil
		case changePct <= -momentumThresholdPct:
			return &domain.SignalDTO{
				Position:            domain.Short,
				PriceTakeProfit:     last * (1 - tpDist/100),
				PriceStopLoss:       last * (1 + slDist/100),
				MinuteEstimatedTime: lifetime,
				Note:                fmt.Sprintf("momentum %.3f%% over %d candles", changePct, momentumLookbackCandles),
			}, nil
		default:
			return nil, nil
		}
	}
}

func max2(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
