// Package liverun implements C8: the infinite-loop live orchestrator that
// ticks one engine at a fixed wall-clock cadence, restores persisted state
// on start, and drains open positions on a cooperative stop request (spec
// §4.7). Shaped after the teacher's live scanner loop — same
// tick/sleep/repeat skeleton, generalized from its CTF opportunity scan to
// a single engine's lifecycle.
package liverun

import (
	"context"
	"time"

	"github.com/tripolskypetr/backtest-kit/config"
	"github.com/tripolskypetr/backtest-kit/internal/contracts"
	"github.com/tripolskypetr/backtest-kit/internal/domain"
	"github.com/tripolskypetr/backtest-kit/internal/engine"
	"github.com/tripolskypetr/backtest-kit/internal/eventbus"
)

// RestoreHook fires once at startup for a signal recovered from
// persistence, carrying the current wall-clock VWAP (spec §4.7 step 1).
type RestoreHook func(signal domain.PublicSignal, currentPrice float64, now int64)

// Orchestrator drives one engine's live polling loop.
type Orchestrator struct {
	Engine       *engine.Engine
	Clock        contracts.Clock
	Bus          *eventbus.Bus
	Cfg          config.LiveConfig
	Symbol       string
	StrategyName string
	ExchangeName string

	// OnActive/OnSchedule are optional one-shot callbacks fired for a
	// restored pending/scheduled signal, respectively.
	OnActive   RestoreHook
	OnSchedule RestoreHook
}

// Run restores persisted state, then ticks until ctx is cancelled or Stop
// is closed, yielding every result on the returned channel. Stop requests
// are cooperative (spec §4.7 step 3): the orchestrator keeps yielding
// until the last result it produced is no longer an open position.
func (o *Orchestrator) Run(ctx context.Context, stop <-chan struct{}) <-chan domain.TickResult {
	out := make(chan domain.TickResult)
	go func() {
		defer close(out)
		o.run(ctx, stop, out)
	}()
	return out
}

func (o *Orchestrator) run(ctx context.Context, stop <-chan struct{}, out chan<- domain.TickResult) {
	o.restore(ctx)

	shuttingDown := false
	var lastResult domain.TickResult

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !shuttingDown {
			select {
			case <-stop:
				shuttingDown = true
				if err := o.Engine.Stop(ctx); err != nil && o.Bus != nil {
					o.Bus.ReportError(ctx, o.Symbol, o.StrategyName, o.ExchangeName, "stop", err)
				}
			default:
			}
		}

		now := o.Clock.Now()
		res, err := o.Engine.Tick(ctx, now)
		if err != nil {
			if o.Bus != nil {
				o.Bus.ReportError(ctx, o.Symbol, o.StrategyName, o.ExchangeName, "tick failed", err)
			}
		} else {
			lastResult = res
			select {
			case out <- res:
			case <-ctx.Done():
				return
			}
		}

		if shuttingDown && !hasOpenPosition(lastResult) {
			break
		}

		select {
		case <-time.After(time.Duration(o.Cfg.TickPeriodMs) * time.Millisecond):
		case <-ctx.Done():
			return
		}
	}

	if o.Bus != nil {
		o.Bus.EmitCompletion(domain.CompletionEvent{
			Symbol:       o.Symbol,
			StrategyName: o.StrategyName,
			ExchangeName: o.ExchangeName,
			Backtest:     false,
		})
	}
}

// hasOpenPosition reports whether the last result represents a position
// still live (Opened/Active/Scheduled) rather than a terminal or idle one —
// the drain condition from spec §4.7 step 3.
func hasOpenPosition(res domain.TickResult) bool {
	switch res.Kind {
	case domain.ResultOpened, domain.ResultActive, domain.ResultScheduled:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) restore(ctx context.Context) {
	pending, scheduled, err := o.Engine.Restore(ctx)
	if err != nil {
		if o.Bus != nil {
			o.Bus.ReportError(ctx, o.Symbol, o.StrategyName, o.ExchangeName, "restore persisted state", err)
		}
		return
	}

	now := o.Clock.Now()
	if pending != nil && o.OnActive != nil {
		price, err := o.Engine.CurrentPrice(ctx)
		if err != nil {
			if o.Bus != nil {
				o.Bus.ReportError(ctx, o.Symbol, o.StrategyName, o.ExchangeName, "restore price ping", err)
			}
		} else {
			o.OnActive(pending.ToPublic(), price, now)
		}
	}
	if scheduled != nil && o.OnSchedule != nil {
		price, err := o.Engine.CurrentPrice(ctx)
		if err != nil {
			if o.Bus != nil {
				o.Bus.ReportError(ctx, o.Symbol, o.StrategyName, o.ExchangeName, "restore price ping", err)
			}
		} else {
			o.OnSchedule(scheduled.ToPublic(), price, now)
		}
	}
}
