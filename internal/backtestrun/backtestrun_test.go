package backtestrun

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripolskypetr/backtest-kit/config"
	"github.com/tripolskypetr/backtest-kit/internal/contracts"
	"github.com/tripolskypetr/backtest-kit/internal/domain"
	"github.com/tripolskypetr/backtest-kit/internal/engine"
	"github.com/tripolskypetr/backtest-kit/internal/noop"
	"github.com/tripolskypetr/backtest-kit/internal/state"
)

// fakeExchange serves a flat price for the idle-detection tick and a
// scripted candle batch for the fast-forward fetch.
type fakeExchange struct {
	flatPrice    float64
	nextCandles  []domain.Candle
}

func (f *fakeExchange) GetAveragePrice(ctx context.Context, ec contracts.ExecutionContext, symbol string) (float64, error) {
	return f.flatPrice, nil
}

func (f *fakeExchange) GetCandles(ctx context.Context, symbol, interval string, count int) ([]domain.Candle, error) {
	out := make([]domain.Candle, count)
	for i := range out {
		out[i] = domain.Candle{Open: f.flatPrice, High: f.flatPrice, Low: f.flatPrice, Close: f.flatPrice, Volume: 1}
	}
	return out, nil
}

func (f *fakeExchange) GetNextCandles(ctx context.Context, symbol, interval string, count int, fromTimestamp int64, inclusiveOfFuture bool) ([]domain.Candle, error) {
	return f.nextCandles, nil
}

func (f *fakeExchange) FormatPrice(symbol string, price float64) string       { return "" }
func (f *fakeExchange) FormatQuantity(symbol string, quantity float64) string { return "" }

func testConfig() config.EngineConfig {
	return config.EngineConfig{
		AvgPriceCandlesCount:                  2,
		MinTakeProfitDistancePercent:          1,
		MinStopLossDistancePercent:            1,
		MaxStopLossDistancePercent:             20,
		MaxSignalLifetimeMinutes:               120,
		MaxSignalGenerationSeconds:             5,
		ScheduleAwaitMinutes:                   30,
		GetCandlesRetryCount:                   0,
		GetCandlesRetryDelayMs:                 1,
		GetCandlesPriceAnomalyThresholdFactor:  0,
		GetCandlesMinCandlesForMedian:          3,
	}
}

func TestOrchestrator_FastForwardsToTakeProfitClose(t *testing.T) {
	exchange := &fakeExchange{
		flatPrice: 100,
		nextCandles: []domain.Candle{
			{Timestamp: 0, Open: 100, High: 100, Low: 100, Close: 100, Volume: 1},
			{Timestamp: 60_000, Open: 100, High: 100, Low: 100, Close: 100, Volume: 1},
			{Timestamp: 120_000, Open: 100, High: 100, Low: 100, Close: 100, Volume: 1},
			// Trailing 2-candle VWAP here is (100 + 113.33)/2 = 106.67, past the 105 TP.
			{Timestamp: 180_000, Open: 100, High: 120, Low: 100, Close: 120, Volume: 1},
		},
	}

	getSignal := func(ctx context.Context, symbol string, now int64) (*domain.SignalDTO, error) {
		return &domain.SignalDTO{
			Position:            domain.Long,
			PriceTakeProfit:     105,
			PriceStopLoss:       95,
			MinuteEstimatedTime: 5,
		}, nil
	}

	risk, partial, breakeven := noop.Risk{}, noop.Partial{}, noop.Breakeven{}
	st := &state.StrategyState{}
	eng := engine.New(
		engine.Params{Symbol: "BTCUSDT", StrategyName: "demo", ExchangeName: "demo-exchange", FrameName: "bt", Interval: "1m"},
		testConfig(),
		exchange, risk, partial, breakeven,
		nil, nil, getSignal, st, true,
	)

	orchestrator := &Orchestrator{
		Engine: eng, Exchange: exchange, Cfg: testConfig(),
		Symbol: "BTCUSDT", StrategyName: "demo", ExchangeName: "demo-exchange", FrameName: "bt", Interval: "1m",
	}

	results := orchestrator.Collect(context.Background(), 60_000, 60_000)
	require.Len(t, results, 1)
	assert.Equal(t, domain.ResultClosed, results[0].Kind)
	assert.Equal(t, domain.CloseTakeProfit, results[0].CloseReason)
}

func TestOrchestrator_NoSignalYieldsNoTerminalResults(t *testing.T) {
	exchange := &fakeExchange{flatPrice: 100}
	getSignal := func(ctx context.Context, symbol string, now int64) (*domain.SignalDTO, error) {
		return nil, nil
	}

	risk, partial, breakeven := noop.Risk{}, noop.Partial{}, noop.Breakeven{}
	st := &state.StrategyState{}
	eng := engine.New(
		engine.Params{Symbol: "BTCUSDT", StrategyName: "demo", ExchangeName: "demo-exchange", Interval: "1m"},
		testConfig(),
		exchange, risk, partial, breakeven,
		nil, nil, getSignal, st, true,
	)

	orchestrator := &Orchestrator{
		Engine: eng, Exchange: exchange, Cfg: testConfig(),
		Symbol: "BTCUSDT", StrategyName: "demo", ExchangeName: "demo-exchange", Interval: "1m",
	}

	results := orchestrator.Collect(context.Background(), 0, 120_000)
	assert.Empty(t, results)
}

func TestIntervalMsFor_UnknownIntervalDefaultsToOneMinute(t *testing.T) {
	assert.Equal(t, int64(60_000), intervalMsFor("bogus"))
	assert.Equal(t, int64(5*60_000), intervalMsFor("5m"))
}
