package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripolskypetr/backtest-kit/internal/domain"
)

func openLongAt100(t *testing.T, tp, sl float64) *Engine {
	t.Helper()
	exchange := &fakeExchange{price: 100}
	getSignal := func(ctx context.Context, symbol string, now int64) (*domain.SignalDTO, error) {
		return &domain.SignalDTO{
			Position:            domain.Long,
			PriceTakeProfit:     tp,
			PriceStopLoss:       sl,
			MinuteEstimatedTime: 120,
		}, nil
	}
	eng := newTestEngine(exchange, getSignal)
	res, err := eng.Tick(context.Background(), 1000)
	require.NoError(t, err)
	require.Equal(t, domain.ResultOpened, res.Kind)
	return eng
}

func TestPartialProfit_RecordsLedgerEntryInProfitZone(t *testing.T) {
	eng := openLongAt100(t, 120, 80)
	err := eng.PartialProfit(context.Background(), 50, 110, 1000)
	require.NoError(t, err)
	assert.Equal(t, 50.0, eng.state.PendingSignal.PartialPercentClosed())
}

func TestPartialProfit_RejectsWhenNotInProfit(t *testing.T) {
	eng := openLongAt100(t, 120, 80)
	err := eng.PartialProfit(context.Background(), 50, 95, 1000)
	assert.Error(t, err)
}

func TestPartialProfit_RejectsOverclose(t *testing.T) {
	eng := openLongAt100(t, 120, 80)
	require.NoError(t, eng.PartialProfit(context.Background(), 70, 110, 1000))
	err := eng.PartialProfit(context.Background(), 40, 110, 1000)
	assert.Error(t, err)
}

func TestPartialLoss_RecordsLedgerEntryInLossZone(t *testing.T) {
	eng := openLongAt100(t, 120, 80)
	err := eng.PartialLoss(context.Background(), 30, 90, 1000)
	require.NoError(t, err)
	assert.Equal(t, 30.0, eng.state.PendingSignal.PartialPercentClosed())
}

func TestTrailingStop_TightensAndLocksDirection(t *testing.T) {
	eng := openLongAt100(t, 130, 80)
	require.NoError(t, eng.TrailingStop(context.Background(), -5, 105))
	require.NotNil(t, eng.state.PendingSignal.TrailingPriceStopLoss)
	tightened := *eng.state.PendingSignal.TrailingPriceStopLoss
	assert.Greater(t, tightened, 80.0)

	// A loosening call after a tightening one is ignored (direction locked).
	require.NoError(t, eng.TrailingStop(context.Background(), 5, 105))
	assert.Equal(t, tightened, *eng.state.PendingSignal.TrailingPriceStopLoss)
}

func TestTrailingStop_ErrorsWithoutPendingSignal(t *testing.T) {
	eng := newTestEngine(&fakeExchange{price: 100}, noSignal())
	err := eng.TrailingStop(context.Background(), -5, 100)
	assert.Error(t, err)
}

func TestTrailingTake_LoosensTowardFurtherTarget(t *testing.T) {
	eng := openLongAt100(t, 120, 80)
	require.NoError(t, eng.TrailingTake(context.Background(), 5, 110))
	require.NotNil(t, eng.state.PendingSignal.TrailingPriceTakeProfit)
	assert.Greater(t, *eng.state.PendingSignal.TrailingPriceTakeProfit, 120.0)
}

func TestBreakeven_PromotesOncePastThreshold(t *testing.T) {
	eng := openLongAt100(t, 130, 80)
	eng.cfg.BreakevenThreshold = 1
	achieved, err := eng.Breakeven(context.Background(), 105, 1000)
	require.NoError(t, err)
	assert.True(t, achieved)
	require.NotNil(t, eng.state.PendingSignal.TrailingPriceStopLoss)
	assert.Equal(t, 100.0, *eng.state.PendingSignal.TrailingPriceStopLoss)

	// Idempotent: calling again doesn't re-promote or error.
	achieved, err = eng.Breakeven(context.Background(), 110, 1000)
	require.NoError(t, err)
	assert.False(t, achieved)
}

func TestBreakeven_NotYetEligible(t *testing.T) {
	eng := openLongAt100(t, 130, 80)
	eng.cfg.BreakevenThreshold = 50
	achieved, err := eng.Breakeven(context.Background(), 101, 1000)
	require.NoError(t, err)
	assert.False(t, achieved)
	assert.Nil(t, eng.state.PendingSignal.TrailingPriceStopLoss)
}

func TestStop_HaltsFutureSignalGeneration(t *testing.T) {
	eng := newTestEngine(&fakeExchange{price: 100}, immediateLongSignal(100))
	require.NoError(t, eng.Stop(context.Background()))
	res, err := eng.Tick(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultIdle, res.Kind)
	assert.Nil(t, eng.state.PendingSignal)
}

func TestStop_CancelsOutstandingScheduledSignal(t *testing.T) {
	entry := 90.0
	getSignal := func(ctx context.Context, symbol string, now int64) (*domain.SignalDTO, error) {
		return &domain.SignalDTO{
			Position: domain.Long, PriceOpen: &entry, PriceTakeProfit: 99, PriceStopLoss: 80, MinuteEstimatedTime: 60,
		}, nil
	}
	eng := newTestEngine(&fakeExchange{price: 100}, getSignal)
	_, err := eng.Tick(context.Background(), 1000)
	require.NoError(t, err)
	require.NotNil(t, eng.state.ScheduledSignal)

	require.NoError(t, eng.Stop(context.Background()))
	assert.Nil(t, eng.state.ScheduledSignal)
}

func TestCancel_ErrorsWithoutScheduledSignal(t *testing.T) {
	eng := newTestEngine(&fakeExchange{price: 100}, noSignal())
	err := eng.Cancel(context.Background(), "id")
	assert.Error(t, err)
}
