package main

import (
	"context"
	"log/slog"

	"github.com/tripolskypetr/backtest-kit/config"
	"github.com/tripolskypetr/backtest-kit/internal/backtestrun"
	"github.com/tripolskypetr/backtest-kit/internal/contracts"
	"github.com/tripolskypetr/backtest-kit/internal/engine"
	"github.com/tripolskypetr/backtest-kit/internal/eventbus"
	"github.com/tripolskypetr/backtest-kit/internal/report"
	"github.com/tripolskypetr/backtest-kit/internal/state"
)

type backtestParams struct {
	symbol       string
	strategyName string
	exchangeName string
	interval     string
	startMs      int64
	endMs        int64
}

// runBacktest replays a finite historical window through a fresh engine
// (no persistence — a backtest run never survives the process) and prints
// the closed/cancelled outcomes once the replay drains.
func runBacktest(ctx context.Context, cfg *config.Config, exchange contracts.Exchange, bus *eventbus.Bus, reporter *report.Console, st *state.StrategyState, params backtestParams) {
	risk, partial, breakeven := defaultCollaborators()
	getSignal := newMomentumSignal(exchange, cfg.Engine)

	eng := engine.New(
		engine.Params{
			Symbol:       params.symbol,
			StrategyName: params.strategyName,
			ExchangeName: params.exchangeName,
			FrameName:    "backtest",
			Interval:     params.interval,
		},
		cfg.Engine,
		exchange,
		risk,
		partial,
		breakeven,
		nil,
		bus,
		getSignal,
		st,
		true,
	)

	orchestrator := &backtestrun.Orchestrator{
		Engine:       eng,
		Exchange:     exchange,
		Bus:          bus,
		Cfg:          cfg.Engine,
		Symbol:       params.symbol,
		StrategyName: params.strategyName,
		ExchangeName: params.exchangeName,
		FrameName:    "backtest",
		Interval:     params.interval,
	}

	slog.Info("backtest run starting", "start", params.startMs, "end", params.endMs)
	results := orchestrator.Collect(ctx, params.startMs, params.endMs)
	reporter.PrintBacktestSummary(results)
}
