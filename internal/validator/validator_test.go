package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripolskypetr/backtest-kit/config"
	"github.com/tripolskypetr/backtest-kit/internal/domain"
)

func validConfig() config.EngineConfig {
	return config.EngineConfig{
		MinTakeProfitDistancePercent: 1,
		MinStopLossDistancePercent:   1,
		MaxStopLossDistancePercent:   10,
		MaxSignalLifetimeMinutes:     120,
	}
}

func validLongRow() domain.SignalRow {
	return domain.SignalRow{
		Symbol:              "BTCUSDT",
		StrategyName:        "demo",
		ExchangeName:        "demo-exchange",
		Position:            domain.Long,
		PriceOpen:           100,
		PriceTakeProfit:     105,
		PriceStopLoss:       95,
		MinuteEstimatedTime: 30,
		ScheduledAt:         1,
		PendingAt:           1,
	}
}

func TestValidate_AdmitsWellFormedImmediateSignal(t *testing.T) {
	row := validLongRow()
	err := Validate(row, 100, false, validConfig())
	assert.NoError(t, err)
}

func TestValidate_RejectsMissingIdentity(t *testing.T) {
	row := validLongRow()
	row.Symbol = ""
	err := Validate(row, 100, false, validConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbol is required")
}

func TestValidate_RejectsBadPosition(t *testing.T) {
	row := validLongRow()
	row.Position = "sideways"
	err := Validate(row, 100, false, validConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "position must be long or short")
}

func TestValidate_RejectsLongWithSLAboveOpen(t *testing.T) {
	row := validLongRow()
	row.PriceStopLoss = 101
	err := Validate(row, 100, false, validConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "priceStopLoss < priceOpen < priceTakeProfit")
}

func TestValidate_RejectsShortWithBadOrdering(t *testing.T) {
	row := validLongRow()
	row.Position = domain.Short
	row.PriceTakeProfit = 105 // should be below open for a short
	row.PriceStopLoss = 95    // should be above open for a short
	err := Validate(row, 100, false, validConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "priceTakeProfit < priceOpen < priceStopLoss")
}

func TestValidate_RejectsImmediateSignalPastStop(t *testing.T) {
	row := validLongRow()
	err := Validate(row, 94, false, validConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "current_price strictly between SL and TP")
}

func TestValidate_ScheduledSignalSkipsCurrentPriceCheck(t *testing.T) {
	row := validLongRow()
	row.IsScheduled = true
	// current_price far outside the SL/TP band is fine for a scheduled signal.
	err := Validate(row, 50, true, validConfig())
	assert.NoError(t, err)
}

func TestValidate_RejectsTooTightTakeProfit(t *testing.T) {
	row := validLongRow()
	row.PriceTakeProfit = 100.1 // 0.1% distance, below the 1% minimum
	err := Validate(row, 100, false, validConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "takeProfit distance")
}

func TestValidate_RejectsStopLossBeyondMaximum(t *testing.T) {
	row := validLongRow()
	row.PriceStopLoss = 80 // 20% distance, above the 10% maximum
	err := Validate(row, 100, false, validConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopLoss distance")
	assert.Contains(t, err.Error(), "above maximum")
}

func TestValidate_RejectsNonPositiveMinuteEstimatedTime(t *testing.T) {
	row := validLongRow()
	row.MinuteEstimatedTime = 0
	err := Validate(row, 100, false, validConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minuteEstimatedTime must be a positive integer")
}

func TestValidate_RejectsLifetimeBeyondMaximum(t *testing.T) {
	row := validLongRow()
	row.MinuteEstimatedTime = 500
	err := Validate(row, 100, false, validConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")
}

func TestValidate_AccumulatesMultipleFailures(t *testing.T) {
	row := validLongRow()
	row.Symbol = ""
	row.StrategyName = ""
	err := Validate(row, 100, false, validConfig())
	require.Error(t, err)
	ve, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(ve.Reasons), 2)
}
