package engine

import (
	"context"
	"fmt"

	"github.com/tripolskypetr/backtest-kit/internal/contracts"
	"github.com/tripolskypetr/backtest-kit/internal/domain"
	"github.com/tripolskypetr/backtest-kit/internal/pricing"
)

// Backtest fast-forwards an already-admitted scheduled or pending signal
// across a contiguous candle window, stopping at the first terminal
// (Closed/Cancelled) result (spec §4.4, §4.6). A pending signal still open
// when the window runs out is closed as time_expired at the final VWAP and
// the last candle's timestamp; a scheduled signal still waiting is
// returned as Scheduled. The first AvgPriceCandlesCount-1 candles are
// consumed only to build the VWAP warm-up window and never evaluated on
// their own.
func (e *Engine) Backtest(ctx context.Context, candles []domain.Candle) (domain.TickResult, error) {
	n := e.cfg.AvgPriceCandlesCount
	if n < 1 {
		n = 1
	}
	if len(candles) < n {
		return domain.TickResult{}, fmt.Errorf("engine.Backtest: need at least %d candles for the VWAP window, got %d", n, len(candles))
	}

	for i := n - 1; i < len(candles); i++ {
		c := candles[i]
		window := candles[i-n+1 : i+1]
		vwap := pricing.VWAP(window)
		ec := contracts.ExecutionContext{Symbol: e.params.Symbol, When: c.Timestamp, Backtest: true}

		if e.state.CancelledSignal != nil {
			return e.emit(e.deliverBufferedCancel(c.Timestamp)), nil
		}

		if sig := e.state.ScheduledSignal; sig != nil {
			res, terminal, err := e.stepScheduled(ctx, ec, c, vwap)
			if err != nil {
				return domain.TickResult{}, err
			}
			if terminal {
				return e.emit(res), nil
			}
			continue
		}

		if sig := e.state.PendingSignal; sig != nil {
			res, terminal := e.stepPending(ctx, c, vwap)
			if terminal {
				return e.emit(res), nil
			}
			continue
		}

		// Nothing admitted yet to fast-forward; the caller is expected to
		// have set up a Scheduled or Pending signal via Tick before calling
		// Backtest (spec §4.6: backtest only replays an already-open signal).
		break
	}

	last := candles[len(candles)-1]
	windowStart := len(candles) - n
	if windowStart < 0 {
		windowStart = 0
	}
	finalVWAP := pricing.VWAP(candles[windowStart:])

	if sig := e.state.PendingSignal; sig != nil {
		res := e.closePending(ctx, last.Timestamp, domain.CloseTimeExpired, finalVWAP)
		return e.emit(res), nil
	}
	if sig := e.state.ScheduledSignal; sig != nil {
		pub := sig.ToPublic()
		res := e.base(domain.ResultScheduled)
		res.Signal = &pub
		res.CurrentPrice = finalVWAP
		return res, nil
	}

	res := e.base(domain.ResultIdle)
	res.CurrentPrice = finalVWAP
	return res, nil
}

// stepScheduled evaluates one candle against a scheduled signal using the
// candle's extremes rather than a single VWAP point, the way the live path
// uses a single fetched price (spec §4.6: "use candle high/low to detect an
// intra-candle touch the VWAP alone would miss").
func (e *Engine) stepScheduled(ctx context.Context, ec contracts.ExecutionContext, c domain.Candle, vwap float64) (domain.TickResult, bool, error) {
	sig := e.state.ScheduledSignal
	awaitMs := int64(e.cfg.ScheduleAwaitMinutes) * 60_000

	if c.Timestamp-sig.ScheduledAt >= awaitMs {
		return e.cancelScheduled(ctx, c.Timestamp, domain.CancelTimeout, vwap), true, nil
	}

	var slHit, entryHit bool
	switch sig.Position {
	case domain.Long:
		slHit = c.Low <= sig.EffectiveStopLoss()
		entryHit = c.Low <= sig.PriceOpen
	case domain.Short:
		slHit = c.High >= sig.EffectiveStopLoss()
		entryHit = c.High >= sig.PriceOpen
	}

	if slHit {
		return e.cancelScheduled(ctx, c.Timestamp, domain.CancelPriceReject, sig.EffectiveStopLoss()), true, nil
	}
	if entryHit {
		res, err := e.activate(ctx, ec, c.Timestamp, sig.PriceOpen)
		if err != nil {
			return domain.TickResult{}, false, err
		}
		// Idle here means the risk re-check rejected activation — that ends
		// this signal's replay just as it would end a live tick.
		return res, res.Kind == domain.ResultIdle, nil
	}

	return domain.TickResult{}, false, nil
}

// stepPending evaluates one candle's trailing VWAP window against a pending
// signal, triggering TP/SL off vwap the same way the live path triggers off
// its single fetched price (spec §4.4: the two execution paths produce
// equivalent semantics). Only the scheduled branch uses candle extremes, to
// catch an intra-candle entry/stop touch the VWAP alone would miss.
func (e *Engine) stepPending(ctx context.Context, c domain.Candle, vwap float64) (domain.TickResult, bool) {
	sig := e.state.PendingSignal

	elapsedMinutes := float64(c.Timestamp-sig.PendingAt) / 60_000
	if elapsedMinutes >= float64(sig.MinuteEstimatedTime) {
		return e.closePending(ctx, c.Timestamp, domain.CloseTimeExpired, vwap), true
	}

	effTP := sig.EffectiveTakeProfit()
	effSL := sig.EffectiveStopLoss()
	switch sig.Position {
	case domain.Long:
		if vwap >= effTP {
			return e.closePending(ctx, c.Timestamp, domain.CloseTakeProfit, effTP), true
		}
		if vwap <= effSL {
			return e.closePending(ctx, c.Timestamp, domain.CloseStopLoss, effSL), true
		}
	case domain.Short:
		if vwap <= effTP {
			return e.closePending(ctx, c.Timestamp, domain.CloseTakeProfit, effTP), true
		}
		if vwap >= effSL {
			return e.closePending(ctx, c.Timestamp, domain.CloseStopLoss, effSL), true
		}
	}

	if _, err := e.breakeven.Check(ctx, e.params.Symbol, *sig, vwap, true, c.Timestamp); err != nil {
		e.reportError(ctx, "breakeven observability check", err)
	}
	return domain.TickResult{}, false
}

func (e *Engine) deliverBufferedCancel(now int64) domain.TickResult {
	sig := *e.state.CancelledSignal
	reason := e.state.CancelledReason
	id := e.state.CancelledID
	e.state.CancelledSignal = nil
	e.state.CancelledID = ""
	e.state.ScheduledSignal = nil

	pub := sig.ToPublic()
	res := e.base(domain.ResultCancelled)
	res.Signal = &pub
	res.CancelReason = reason
	res.CancelTimestamp = now
	res.CancelID = id
	return res
}
