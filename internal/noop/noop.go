// Package noop provides zero-behavior implementations of the Risk, Partial
// and Breakeven contracts, so the engine is runnable stand-alone — the
// same role the teacher's DryRun config plays for the scanner.
package noop

import (
	"context"

	"github.com/tripolskypetr/backtest-kit/internal/contracts"
	"github.com/tripolskypetr/backtest-kit/internal/domain"
)

// Risk accepts every signal and tracks nothing.
type Risk struct{}

func (Risk) CheckSignal(context.Context, contracts.RiskContext) (bool, error) { return true, nil }
func (Risk) AddSignal(context.Context, string, contracts.RiskContext) error   { return nil }
func (Risk) RemoveSignal(context.Context, string, contracts.RiskContext) error {
	return nil
}

// Partial records nothing.
type Partial struct{}

func (Partial) Profit(context.Context, string, domain.SignalRow, float64, float64, bool, int64) error {
	return nil
}
func (Partial) Loss(context.Context, string, domain.SignalRow, float64, float64, bool, int64) error {
	return nil
}
func (Partial) Clear(context.Context, string, domain.SignalRow, float64, bool) error { return nil }

// Breakeven always reports "not yet achieved" so the engine's own
// eligibility math is what decides promotion; Check here is purely an
// observability hook external reporting can use.
type Breakeven struct{}

func (Breakeven) Check(context.Context, string, domain.SignalRow, float64, bool, int64) (bool, error) {
	return false, nil
}
func (Breakeven) Clear(context.Context, string, domain.SignalRow, bool) error { return nil }
