package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripolskypetr/backtest-kit/internal/domain"
	"github.com/tripolskypetr/backtest-kit/internal/noop"
	"github.com/tripolskypetr/backtest-kit/internal/state"
)

func flatCandles(n int, price float64, startMs, stepMs int64) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := range out {
		out[i] = domain.Candle{
			Timestamp: startMs + int64(i)*stepMs,
			Open:      price, High: price, Low: price, Close: price, Volume: 1,
		}
	}
	return out
}

func newBacktestEngine() *Engine {
	risk, partial, breakeven := noop.Risk{}, noop.Partial{}, noop.Breakeven{}
	st := &state.StrategyState{}
	return New(
		Params{Symbol: "BTCUSDT", StrategyName: "demo", ExchangeName: "demo-exchange", FrameName: "f1", Interval: "1m"},
		testConfig(),
		nil, risk, partial, breakeven,
		nil, nil, nil, st, true,
	)
}

func TestBacktest_ErrorsBelowVWAPWindow(t *testing.T) {
	eng := newBacktestEngine()
	_, err := eng.Backtest(context.Background(), flatCandles(1, 100, 0, 60_000))
	assert.Error(t, err)
}

// testConfig sets AvgPriceCandlesCount to 3, so stepPending's trailing VWAP
// window covers the current candle and the two before it.
func TestBacktest_PendingSignalClosesWhenTrailingVWAPCrossesTakeProfit(t *testing.T) {
	eng := newBacktestEngine()
	eng.state.PendingSignal = &domain.SignalRow{
		Position: domain.Long, PriceOpen: 100, PriceTakeProfit: 102, PriceStopLoss: 90,
		MinuteEstimatedTime: 120, PendingAt: 0,
	}

	candles := []domain.Candle{
		{Timestamp: 0, Open: 100, High: 100, Low: 100, Close: 100, Volume: 1},
		{Timestamp: 60_000, Open: 100, High: 100, Low: 100, Close: 100, Volume: 1},
		// A high wick here (103) would have wrongly closed at TP under
		// candle-extreme triggering; the trailing VWAP stays below 102.
		{Timestamp: 120_000, Open: 100, High: 103, Low: 100, Close: 102, Volume: 1},
		{Timestamp: 180_000, Open: 102, High: 104, Low: 101, Close: 103, Volume: 1},
		{Timestamp: 240_000, Open: 103, High: 105, Low: 102, Close: 104, Volume: 1},
	}

	res, err := eng.Backtest(context.Background(), candles)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultClosed, res.Kind)
	assert.Equal(t, domain.CloseTakeProfit, res.CloseReason)
	assert.Equal(t, int64(240_000), res.CloseTimestamp, "must not close on the earlier wick, only once the trailing VWAP itself crosses TP")
}

func TestBacktest_PendingSignalClosesAsTimeExpiredWhenWindowRunsOut(t *testing.T) {
	eng := newBacktestEngine()
	eng.state.PendingSignal = &domain.SignalRow{
		Position: domain.Long, PriceOpen: 100, PriceTakeProfit: 200, PriceStopLoss: 50,
		MinuteEstimatedTime: 1000, PendingAt: 0,
	}

	candles := flatCandles(5, 100, 0, 60_000)
	res, err := eng.Backtest(context.Background(), candles)
	require.NoError(t, err)
	assert.Equal(t, domain.CloseTimeExpired, res.CloseReason)
}

func TestBacktest_ScheduledSignalActivatesOnEntryTouch(t *testing.T) {
	eng := newBacktestEngine()
	eng.state.ScheduledSignal = &domain.SignalRow{
		Position: domain.Long, PriceOpen: 90, PriceTakeProfit: 99, PriceStopLoss: 80,
		MinuteEstimatedTime: 120, ScheduledAt: 0,
	}

	candles := flatCandles(5, 100, 0, 60_000)
	candles[4].Low = 89 // dips to the entry on the last candle

	res, err := eng.Backtest(context.Background(), candles)
	require.NoError(t, err)
	// Activation on the last candle leaves nothing more to replay, so the
	// window end closes the freshly opened position as time_expired.
	assert.Equal(t, domain.ResultClosed, res.Kind)
	assert.Equal(t, int64(240_000), res.Signal.PendingAt)
	assert.Nil(t, eng.state.ScheduledSignal)
}

func TestBacktest_ScheduledSignalCancelsOnTimeout(t *testing.T) {
	eng := newBacktestEngine()
	eng.cfg.ScheduleAwaitMinutes = 2
	eng.state.ScheduledSignal = &domain.SignalRow{
		Position: domain.Long, PriceOpen: 50, PriceTakeProfit: 99, PriceStopLoss: 40,
		MinuteEstimatedTime: 120, ScheduledAt: 0,
	}

	candles := flatCandles(6, 100, 0, 60_000) // entry at 50 never touched, 6 minutes pass
	res, err := eng.Backtest(context.Background(), candles)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultCancelled, res.Kind)
	assert.Equal(t, domain.CancelTimeout, res.CancelReason)
}

func TestBacktest_DeliversBufferedCancelBeforeAnythingElse(t *testing.T) {
	eng := newBacktestEngine()
	cancelled := domain.SignalRow{Position: domain.Long, PriceOpen: 100}
	eng.state.CancelledSignal = &cancelled
	eng.state.CancelledReason = domain.CancelUser
	eng.state.CancelledID = "req-1"
	eng.state.ScheduledSignal = &domain.SignalRow{Position: domain.Long, PriceOpen: 90, PriceTakeProfit: 99, PriceStopLoss: 80, MinuteEstimatedTime: 120}

	candles := flatCandles(5, 100, 0, 60_000)
	res, err := eng.Backtest(context.Background(), candles)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultCancelled, res.Kind)
	assert.Equal(t, "req-1", res.CancelID)
}

func TestBacktest_NothingAdmittedReturnsIdle(t *testing.T) {
	eng := newBacktestEngine()
	candles := flatCandles(5, 100, 0, 60_000)
	res, err := eng.Backtest(context.Background(), candles)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultIdle, res.Kind)
}
