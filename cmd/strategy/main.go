// Command strategy runs one (symbol, strategy, exchange) engine instance,
// either replaying a historical window (-backtest) or polling live
// (default), the same config-driven single-binary shape as the teacher's
// cmd/scanner.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tripolskypetr/backtest-kit/config"
	"github.com/tripolskypetr/backtest-kit/internal/adapters/httpexchange"
	"github.com/tripolskypetr/backtest-kit/internal/eventbus"
	"github.com/tripolskypetr/backtest-kit/internal/noop"
	"github.com/tripolskypetr/backtest-kit/internal/persist"
	"github.com/tripolskypetr/backtest-kit/internal/report"
	"github.com/tripolskypetr/backtest-kit/internal/state"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	symbol := flag.String("symbol", "BTCUSDT", "trading symbol")
	strategyName := flag.String("strategy", "vwap-momentum", "strategy name")
	exchangeName := flag.String("exchange", "demo-exchange", "exchange name")
	exchangeURL := flag.String("exchange-url", "https://api.example.com", "exchange REST base URL")
	interval := flag.String("interval", "5m", "signal-generation cadence: 1m|3m|5m|15m|30m|1h")
	backtestMode := flag.Bool("backtest", false, "replay a historical window instead of polling live")
	startMs := flag.Int64("start", 0, "backtest window start, unix ms")
	endMs := flag.Int64("end", 0, "backtest window end, unix ms")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("backtest-kit starting",
		"config", *configPath,
		"symbol", *symbol,
		"strategy", *strategyName,
		"exchange", *exchangeName,
		"interval", *interval,
		"backtest", *backtestMode,
	)

	exchange := httpexchange.NewClient(*exchangeURL, 10, 20)
	bus := eventbus.New()
	defer bus.Close()
	reporter := report.NewConsole()

	bus.Subscribe(eventbus.TopicError, nil, func(ev any) {
		if e, ok := ev.(interface{ Error() string }); ok {
			slog.Warn("engine error", "err", e.Error())
		}
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := state.NewRegistry()
	key := state.Key{Symbol: *symbol, StrategyName: *strategyName, ExchangeName: *exchangeName}
	st := registry.Get(key)

	if *backtestMode {
		if *startMs <= 0 || *endMs <= 0 || *endMs <= *startMs {
			slog.Error("backtest mode requires -start and -end as unix ms, with end > start")
			os.Exit(1)
		}
		runBacktest(ctx, cfg, exchange, bus, reporter, st, backtestParams{
			symbol:       *symbol,
			strategyName: *strategyName,
			exchangeName: *exchangeName,
			interval:     *interval,
			startMs:      *startMs,
			endMs:        *endMs,
		})
		return
	}

	store, err := persist.Open(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open persistence store", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	runLive(ctx, cfg, exchange, store, bus, reporter, st, liveParams{
		symbol:       *symbol,
		strategyName: *strategyName,
		exchangeName: *exchangeName,
		interval:     *interval,
	})

	slog.Info("backtest-kit stopped cleanly")
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// defaultCollaborators returns the no-risk/no-partial/no-breakeven default
// set of external capabilities, the way the teacher's DryRun mode stands in
// for real order execution.
func defaultCollaborators() (noop.Risk, noop.Partial, noop.Breakeven) {
	return noop.Risk{}, noop.Partial{}, noop.Breakeven{}
}
