// Package contracts defines the abstract capabilities the engine consumes
// (spec §4.9, §6.4). Concrete providers — real exchange adapters, risk
// managers, partial-close trackers, breakeven trackers — are external
// collaborators; this package only fixes the interfaces between them and
// the core.
package contracts

import (
	"context"

	"github.com/tripolskypetr/backtest-kit/internal/domain"
)

// ExecutionContext is the propagated "now" every external capability call
// sees, replacing ambient/implicit context propagation (spec §9).
type ExecutionContext struct {
	Symbol   string
	When     int64
	Backtest bool
}

// Clock returns the current time, in unix milliseconds.
type Clock interface {
	Now() int64
}

// Exchange supplies price data and symbol formatting.
type Exchange interface {
	// GetAveragePrice returns the VWAP over the last N 1-minute candles.
	GetAveragePrice(ctx context.Context, ec ExecutionContext, symbol string) (float64, error)

	// GetCandles returns `count` most recent candles for symbol at the given
	// interval ("1m", "3m", "5m", "15m", "30m", "1h").
	GetCandles(ctx context.Context, symbol, interval string, count int) ([]domain.Candle, error)

	// GetNextCandles is the backtest-only forward fetch: `count` candles
	// starting at fromTimestamp. inclusiveOfFuture controls whether a candle
	// exactly at fromTimestamp is included.
	GetNextCandles(ctx context.Context, symbol, interval string, count int, fromTimestamp int64, inclusiveOfFuture bool) ([]domain.Candle, error)

	FormatPrice(symbol string, price float64) string
	FormatQuantity(symbol string, quantity float64) string
}

// RiskContext is the information the risk gate needs to decide.
type RiskContext struct {
	ExecutionContext
	PositionCount int
	Signal        domain.SignalRow
	StrategyName  string
	ExchangeName  string
	FrameName     string
	CurrentPrice  float64
}

// Risk gatekeeps signal admission/activation and tracks open position count.
type Risk interface {
	CheckSignal(ctx context.Context, rc RiskContext) (bool, error)
	AddSignal(ctx context.Context, symbol string, rc RiskContext) error
	RemoveSignal(ctx context.Context, symbol string, rc RiskContext) error
}

// Partial records partial-close events for external reporting.
type Partial interface {
	Profit(ctx context.Context, symbol string, signal domain.SignalRow, price, percent float64, backtest bool, ts int64) error
	Loss(ctx context.Context, symbol string, signal domain.SignalRow, price, percent float64, backtest bool, ts int64) error
	Clear(ctx context.Context, symbol string, signal domain.SignalRow, price float64, backtest bool) error
}

// Breakeven checks/clears breakeven promotion for reporting purposes.
// The engine itself decides and applies the promotion (spec §4.4); this
// collaborator only observes it, mirroring Partial.
type Breakeven interface {
	Check(ctx context.Context, symbol string, signal domain.SignalRow, price float64, backtest bool, ts int64) (bool, error)
	Clear(ctx context.Context, symbol string, signal domain.SignalRow, backtest bool) error
}

// GetSignalFunc is the user-supplied signal generator the engine drives.
type GetSignalFunc func(ctx context.Context, symbol string, now int64) (*domain.SignalDTO, error)
