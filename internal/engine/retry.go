package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/tripolskypetr/backtest-kit/config"
	"github.com/tripolskypetr/backtest-kit/internal/domain"
)

// fetchCandles pulls the cfg.AvgPriceCandlesCount most recent 1-minute candles for symbol,
// retrying up to cfg.GetCandlesRetryCount times on a transport error or a
// detected price anomaly (spec §5 "retries" / §4.2). Grounded on the
// teacher's Polymarket client retry wrapper, generalized from HTTP status
// codes to "any error, including a locally-detected anomaly".
func fetchCandles(ctx context.Context, exchange exchangeCandleSource, symbol string, cfg config.EngineConfig) ([]domain.Candle, error) {
	var lastErr error
	for attempt := 0; attempt <= cfg.GetCandlesRetryCount; attempt++ {
		candles, err := exchange.GetCandles(ctx, symbol, "1m", cfg.AvgPriceCandlesCount)
		if err == nil {
			if aerr := checkAnomaly(candles, cfg); aerr == nil {
				return candles, nil
			} else {
				lastErr = aerr
			}
		} else {
			lastErr = err
		}

		if attempt < cfg.GetCandlesRetryCount {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(cfg.GetCandlesRetryDelayMs) * time.Millisecond):
			}
		}
	}
	return nil, fmt.Errorf("engine.fetchCandles: exhausted %d retries: %w", cfg.GetCandlesRetryCount, lastErr)
}

// exchangeCandleSource is the narrow slice of contracts.Exchange this file needs.
type exchangeCandleSource interface {
	GetCandles(ctx context.Context, symbol, interval string, count int) ([]domain.Candle, error)
}

// checkAnomaly flags a candle batch as a retry-eligible failure when any
// OHLC component falls far enough below the batch's central tendency to
// look like a bad tick rather than real price action (spec §4.2, §5).
func checkAnomaly(candles []domain.Candle, cfg config.EngineConfig) error {
	if len(candles) == 0 {
		return fmt.Errorf("no candles returned")
	}

	values := make([]float64, 0, len(candles)*4)
	for _, c := range candles {
		values = append(values, c.Open, c.High, c.Low, c.Close)
	}

	var center float64
	if len(candles) >= cfg.GetCandlesMinCandlesForMedian {
		center = median(values)
	} else {
		center = mean(values)
	}

	if center <= 0 || cfg.GetCandlesPriceAnomalyThresholdFactor <= 0 {
		return nil
	}

	threshold := center / cfg.GetCandlesPriceAnomalyThresholdFactor
	for _, v := range values {
		if v < threshold {
			return fmt.Errorf("candle anomaly: value %.8f below threshold %.8f (center %.8f)", v, threshold, center)
		}
	}
	return nil
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// progressPercent maps current linearly between open and target into
// [0, 100], clamped — used to report Active.PercentTp/PercentSl (spec §6.1).
func progressPercent(open, target, current float64) float64 {
	denom := target - open
	if denom == 0 {
		return 0
	}
	pct := (current - open) / denom * 100
	return math.Max(0, math.Min(100, pct))
}

// pctDistance returns |a-base|/base * 100.
func pctDistance(a, base float64) float64 {
	if base == 0 {
		return 0
	}
	return math.Abs(a-base) / base * 100
}
