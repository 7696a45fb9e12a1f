// Package backtestrun implements C7, the backtest orchestrator: it drives
// one engine across a finite timeframe, detecting the moment a signal
// opens or schedules and handing the rest of its lifetime to the engine's
// fast-forward Backtest path instead of ticking candle-by-candle, the same
// "batch fetch, then fast-forward" shape the teacher's scanner used for
// its own candle-driven analysis loop (spec §4.6).
package backtestrun

import (
	"context"
	"fmt"

	"github.com/tripolskypetr/backtest-kit/config"
	"github.com/tripolskypetr/backtest-kit/internal/contracts"
	"github.com/tripolskypetr/backtest-kit/internal/domain"
	"github.com/tripolskypetr/backtest-kit/internal/engine"
	"github.com/tripolskypetr/backtest-kit/internal/eventbus"
	"github.com/tripolskypetr/backtest-kit/internal/timeframe"
)

const vwapInterval = "1m"

// Orchestrator replays one (symbol, strategy, exchange, frame) over a
// fixed timeframe.
type Orchestrator struct {
	Engine       *engine.Engine
	Exchange     contracts.Exchange
	Bus          *eventbus.Bus
	Cfg          config.EngineConfig
	Symbol       string
	StrategyName string
	ExchangeName string
	FrameName    string
	Interval     string // signal-generation cadence, e.g. "5m"
}

// Run drives the full [startMs, endMs] timeframe and returns a lazy,
// unbuffered stream of only the terminal (Closed/Cancelled) results (spec
// §4.6: "only Closed and Cancelled results are yielded"). The channel is
// closed once the replay completes; a completion event is emitted on the
// bus at that point.
func (o *Orchestrator) Run(ctx context.Context, startMs, endMs int64) <-chan domain.TickResult {
	out := make(chan domain.TickResult)
	go func() {
		defer close(out)
		o.run(ctx, startMs, endMs, out)
	}()
	return out
}

// Drain runs the replay to completion without yielding to the caller — the
// "fire-and-forget" variant spec §4.6 calls for, useful when only the
// progress/completion/error events matter.
func (o *Orchestrator) Drain(ctx context.Context, startMs, endMs int64) {
	for range o.Run(ctx, startMs, endMs) {
	}
}

// Collect runs the replay to completion and returns every terminal result
// in emission order; a convenience wrapper over Run for callers (and
// tests) that want the whole result set at once.
func (o *Orchestrator) Collect(ctx context.Context, startMs, endMs int64) []domain.TickResult {
	var results []domain.TickResult
	for r := range o.Run(ctx, startMs, endMs) {
		results = append(results, r)
	}
	return results
}

func (o *Orchestrator) run(ctx context.Context, startMs, endMs int64, out chan<- domain.TickResult) {
	intervalMs := intervalMsFor(o.Interval)
	timestamps := timeframe.Generate(startMs, endMs, intervalMs)
	total := len(timestamps)

	for i := 0; i < total; {
		now := timestamps[i]
		if o.Bus != nil {
			o.Bus.EmitProgress(domain.ProgressEvent{
				Symbol:          o.Symbol,
				StrategyName:    o.StrategyName,
				ExchangeName:    o.ExchangeName,
				ProcessedFrames: i,
				TotalFrames:     total,
				Progress:        float64(i) / float64(total),
			})
		}

		res, err := o.Engine.Tick(ctx, now)
		if err != nil {
			if o.Bus != nil {
				o.Bus.ReportError(ctx, o.Symbol, o.StrategyName, o.ExchangeName, "tick failed", err)
			}
			i++
			continue
		}

		switch res.Kind {
		case domain.ResultScheduled:
			i += o.fastForward(ctx, now, res.Signal.MinuteEstimatedTime+o.Cfg.ScheduleAwaitMinutes, out)
		case domain.ResultOpened:
			i += o.fastForward(ctx, now, res.Signal.MinuteEstimatedTime, out)
		default:
			i++
		}
	}

	if o.Bus != nil {
		o.Bus.EmitCompletion(domain.CompletionEvent{
			Symbol:       o.Symbol,
			StrategyName: o.StrategyName,
			ExchangeName: o.ExchangeName,
			Backtest:     true,
		})
	}
}

// fastForward fetches the candle batch a signal needs to play out in full
// and hands it to the engine's Backtest path, yielding the terminal result
// if one was reached. It returns how many timeframe steps the caller
// should skip (spec §4.6 "frame skip").
func (o *Orchestrator) fastForward(ctx context.Context, from int64, lifetimeMinutes int, out chan<- domain.TickResult) int {
	n := o.Cfg.AvgPriceCandlesCount
	if n < 1 {
		n = 1
	}
	count := (n - 1) + lifetimeMinutes + 1
	fromTimestamp := from - int64(n-1)*60_000

	candles, err := o.Exchange.GetNextCandles(ctx, o.Symbol, vwapInterval, count, fromTimestamp, true)
	if err != nil {
		if o.Bus != nil {
			o.Bus.ReportError(ctx, o.Symbol, o.StrategyName, o.ExchangeName, "fetch fast-forward candle batch", err)
		}
		return 1
	}
	if len(candles) < n {
		if o.Bus != nil {
			o.Bus.ReportError(ctx, o.Symbol, o.StrategyName, o.ExchangeName, "fast-forward batch",
				fmt.Errorf("requested %d candles, exchange returned %d", count, len(candles)))
		}
		return 1
	}

	res, err := o.Engine.Backtest(ctx, candles)
	if err != nil {
		if o.Bus != nil {
			o.Bus.ReportError(ctx, o.Symbol, o.StrategyName, o.ExchangeName, "fast-forward replay", err)
		}
		return max(1, len(candles))
	}

	if res.IsTerminal() {
		select {
		case out <- res:
		case <-ctx.Done():
		}
	}

	return max(1, len(candles))
}

func intervalMsFor(interval string) int64 {
	minutes, ok := config.IntervalMinutes[interval]
	if !ok || minutes <= 0 {
		minutes = 1
	}
	return int64(minutes) * 60_000
}
