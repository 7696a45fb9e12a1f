package main

import (
	"context"
	"log/slog"

	"github.com/tripolskypetr/backtest-kit/config"
	"github.com/tripolskypetr/backtest-kit/internal/clock"
	"github.com/tripolskypetr/backtest-kit/internal/contracts"
	"github.com/tripolskypetr/backtest-kit/internal/domain"
	"github.com/tripolskypetr/backtest-kit/internal/engine"
	"github.com/tripolskypetr/backtest-kit/internal/eventbus"
	"github.com/tripolskypetr/backtest-kit/internal/liverun"
	"github.com/tripolskypetr/backtest-kit/internal/persist"
	"github.com/tripolskypetr/backtest-kit/internal/report"
	"github.com/tripolskypetr/backtest-kit/internal/state"
)

type liveParams struct {
	symbol       string
	strategyName string
	exchangeName string
	interval     string
}

// runLive polls one engine at the configured cadence until ctx is
// cancelled (SIGINT/SIGTERM, wired by main), restoring any persisted
// signal first and printing every tick through reporter.
func runLive(ctx context.Context, cfg *config.Config, exchange contracts.Exchange, store *persist.Store, bus *eventbus.Bus, reporter *report.Console, st *state.StrategyState, params liveParams) {
	risk, partial, breakeven := defaultCollaborators()
	getSignal := newMomentumSignal(exchange, cfg.Engine)

	eng := engine.New(
		engine.Params{
			Symbol:       params.symbol,
			StrategyName: params.strategyName,
			ExchangeName: params.exchangeName,
			FrameName:    "",
			Interval:     params.interval,
		},
		cfg.Engine,
		exchange,
		risk,
		partial,
		breakeven,
		store,
		bus,
		getSignal,
		st,
		false,
	)

	orchestrator := &liverun.Orchestrator{
		Engine:       eng,
		Clock:        clock.Wall{},
		Bus:          bus,
		Cfg:          cfg.Live,
		Symbol:       params.symbol,
		StrategyName: params.strategyName,
		ExchangeName: params.exchangeName,
		OnActive: func(sig domain.PublicSignal, currentPrice float64, now int64) {
			slog.Info("restored pending signal", "position", sig.Position, "price", currentPrice)
		},
		OnSchedule: func(sig domain.PublicSignal, currentPrice float64, now int64) {
			slog.Info("restored scheduled signal", "position", sig.Position, "price", currentPrice)
		},
	}

	// The orchestrator's own context must outlive the shutdown signal: a
	// stop request should drain the open position gracefully rather than
	// abort the loop the instant ctx is cancelled, so runCtx is only ever
	// cancelled by the drain completing.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	stop := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()

	for res := range orchestrator.Run(runCtx, stop) {
		reporter.NotifyTick(res)
	}
}
