package engine

import (
	"context"
	"fmt"

	"github.com/tripolskypetr/backtest-kit/internal/domain"
)

// PartialProfit records a partial close taken while the position is in
// profit (spec §4.4 auxiliary operations, §3.1 partial ledger).
func (e *Engine) PartialProfit(ctx context.Context, percent, currentPrice float64, now int64) error {
	sig := e.state.PendingSignal
	if sig == nil {
		return fmt.Errorf("engine.PartialProfit: no pending signal")
	}
	if percent <= 0 || percent > 100 {
		return fmt.Errorf("engine.PartialProfit: percent must be in (0, 100], got %v", percent)
	}

	var inProfit bool
	switch sig.Position {
	case domain.Long:
		inProfit = currentPrice > sig.PriceOpen
	case domain.Short:
		inProfit = currentPrice < sig.PriceOpen
	}
	if !inProfit {
		return fmt.Errorf("engine.PartialProfit: current_price is not in the profit zone for this signal")
	}
	if sig.PartialPercentClosed()+percent > 100 {
		return fmt.Errorf("engine.PartialProfit: would close %v%% of a position, exceeding 100%%", sig.PartialPercentClosed()+percent)
	}

	sig.Partial = append(sig.Partial, domain.PartialEntry{Kind: domain.PartialProfit, Percent: percent, Price: currentPrice})
	e.persistPending(ctx)

	if err := e.partial.Profit(ctx, e.params.Symbol, *sig, currentPrice, percent, e.backtest, now); err != nil {
		e.reportError(ctx, "partial profit callback", err)
	}
	return nil
}

// PartialLoss records a partial close taken while the position is in loss.
func (e *Engine) PartialLoss(ctx context.Context, percent, currentPrice float64, now int64) error {
	sig := e.state.PendingSignal
	if sig == nil {
		return fmt.Errorf("engine.PartialLoss: no pending signal")
	}
	if percent <= 0 || percent > 100 {
		return fmt.Errorf("engine.PartialLoss: percent must be in (0, 100], got %v", percent)
	}

	var inLoss bool
	switch sig.Position {
	case domain.Long:
		inLoss = currentPrice < sig.PriceOpen
	case domain.Short:
		inLoss = currentPrice > sig.PriceOpen
	}
	if !inLoss {
		return fmt.Errorf("engine.PartialLoss: current_price is not in the loss zone for this signal")
	}
	if sig.PartialPercentClosed()+percent > 100 {
		return fmt.Errorf("engine.PartialLoss: would close %v%% of a position, exceeding 100%%", sig.PartialPercentClosed()+percent)
	}

	sig.Partial = append(sig.Partial, domain.PartialEntry{Kind: domain.PartialLoss, Percent: percent, Price: currentPrice})
	e.persistPending(ctx)

	if err := e.partial.Loss(ctx, e.params.Symbol, *sig, currentPrice, percent, e.backtest, now); err != nil {
		e.reportError(ctx, "partial loss callback", err)
	}
	return nil
}

// TrailingStop shifts the effective stop-loss distance (as a percent of
// entry price) by percentShift. A negative shift tightens the stop, a
// positive one loosens it. The first call on a signal fixes the direction;
// later calls that would reverse it are silently ignored (spec §4.4, §8
// S4), as is any shift that would immediately trigger the new stop or
// cross the effective take-profit.
func (e *Engine) TrailingStop(ctx context.Context, percentShift, currentPrice float64) error {
	sig := e.state.PendingSignal
	if sig == nil {
		return fmt.Errorf("engine.TrailingStop: no pending signal")
	}
	if percentShift == 0 {
		return nil
	}

	dir := trailTightenDir(percentShift)
	if sig.TrailingSLDirection() == domain.DirUnset {
		sig.SetTrailingSLDirection(dir)
	} else if sig.TrailingSLDirection() != dir {
		return nil
	}

	curDist := pctDistance(sig.EffectiveStopLoss(), sig.PriceOpen)
	newDist := curDist + percentShift
	if newDist < 0 {
		newDist = 0
	}

	var newSL float64
	switch sig.Position {
	case domain.Long:
		newSL = sig.PriceOpen * (1 - newDist/100)
		if currentPrice <= newSL || newSL >= sig.EffectiveTakeProfit() {
			return nil
		}
	case domain.Short:
		newSL = sig.PriceOpen * (1 + newDist/100)
		if currentPrice >= newSL || newSL <= sig.EffectiveTakeProfit() {
			return nil
		}
	}

	sig.TrailingPriceStopLoss = &newSL
	e.persistPending(ctx)
	return nil
}

// TrailingTake is the symmetric operation on the take-profit side.
func (e *Engine) TrailingTake(ctx context.Context, percentShift, currentPrice float64) error {
	sig := e.state.PendingSignal
	if sig == nil {
		return fmt.Errorf("engine.TrailingTake: no pending signal")
	}
	if percentShift == 0 {
		return nil
	}

	dir := trailTightenDir(percentShift)
	if sig.TrailingTPDirection() == domain.DirUnset {
		sig.SetTrailingTPDirection(dir)
	} else if sig.TrailingTPDirection() != dir {
		return nil
	}

	curDist := pctDistance(sig.EffectiveTakeProfit(), sig.PriceOpen)
	newDist := curDist + percentShift
	if newDist < 0 {
		newDist = 0
	}

	var newTP float64
	switch sig.Position {
	case domain.Long:
		newTP = sig.PriceOpen * (1 + newDist/100)
		if currentPrice >= newTP || newTP <= sig.EffectiveStopLoss() {
			return nil
		}
	case domain.Short:
		newTP = sig.PriceOpen * (1 - newDist/100)
		if currentPrice <= newTP || newTP >= sig.EffectiveStopLoss() {
			return nil
		}
	}

	sig.TrailingPriceTakeProfit = &newTP
	e.persistPending(ctx)
	return nil
}

// trailTightenDir reports the trailing direction a raw percent shift
// implies: negative tightens, positive loosens.
func trailTightenDir(percentShift float64) domain.TrailDirection {
	if percentShift < 0 {
		return domain.DirTighten
	}
	return domain.DirLoosen
}

// Breakeven promotes the stop-loss to break-even (entry price) once the
// position has moved favorably by at least 2x(fee+slippage) plus the
// configured threshold (spec §4.4, §8 S5). Idempotent: once achieved,
// further calls return false without re-promoting.
func (e *Engine) Breakeven(ctx context.Context, currentPrice float64, now int64) (bool, error) {
	sig := e.state.PendingSignal
	if sig == nil {
		return false, fmt.Errorf("engine.Breakeven: no pending signal")
	}

	if sig.BreakevenAchieved() {
		return false, nil
	}

	required := 2*e.cfg.FeeSlippagePercent() + e.cfg.BreakevenThreshold
	var favorableDistance float64
	switch sig.Position {
	case domain.Long:
		favorableDistance = (currentPrice - sig.PriceOpen) / sig.PriceOpen * 100
	case domain.Short:
		favorableDistance = (sig.PriceOpen - currentPrice) / sig.PriceOpen * 100
	}
	if favorableDistance < required {
		return false, nil
	}

	breakevenPrice := sig.PriceOpen
	sig.TrailingPriceStopLoss = &breakevenPrice
	sig.SetBreakevenAchieved(true)
	e.persistPending(ctx)

	if _, err := e.breakeven.Check(ctx, e.params.Symbol, *sig, currentPrice, e.backtest, now); err != nil {
		e.reportError(ctx, "breakeven promotion callback", err)
	}
	return true, nil
}

// Stop halts signal generation for this (symbol, strategy, exchange):
// once no pending signal remains, every Tick reports Idle without calling
// getSignal again. A scheduled signal, if any, is dropped outright; a
// pending signal is left to run its course (spec §4.4 auxiliary
// operations).
func (e *Engine) Stop(ctx context.Context) error {
	e.state.Stopped = true
	if e.state.ScheduledSignal != nil {
		e.state.ScheduledSignal = nil
		e.persistScheduled(ctx)
	}
	return nil
}

// Cancel withdraws the current scheduled signal, if any, with reason
// "user". Delivery of the resulting Cancelled result is deferred to the
// next Tick (spec §4.4: "the cancellation is buffered and delivered on the
// engine's own schedule, not synchronously").
func (e *Engine) Cancel(ctx context.Context, cancelID string) error {
	if e.state.ScheduledSignal == nil {
		return fmt.Errorf("engine.Cancel: no scheduled signal to cancel")
	}
	e.state.CancelledSignal = e.state.ScheduledSignal
	e.state.CancelledReason = domain.CancelUser
	e.state.CancelledID = cancelID
	e.state.ScheduledSignal = nil
	e.persistScheduled(ctx)
	return nil
}
