// Package config loads the engine's CC_* options (spec §3.3) from YAML with
// .env overrides, the way the teacher's scanner config does it.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the immutable configuration passed into an engine at
// construction (spec §9 — "treat CC_* as an immutable configuration struct").
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Live    LiveConfig    `yaml:"live"`
	Log     LogConfig     `yaml:"log"`
	Storage StorageConfig `yaml:"storage"`
}

// EngineConfig holds the per-(symbol,strategy) numeric/timing options from
// spec §3.3.
type EngineConfig struct {
	AvgPriceCandlesCount                  int     `yaml:"avg_price_candles_count"`
	PercentFee                            float64 `yaml:"percent_fee"`
	PercentSlippage                       float64 `yaml:"percent_slippage"`
	MinTakeProfitDistancePercent          float64 `yaml:"min_takeprofit_distance_percent"`
	MinStopLossDistancePercent            float64 `yaml:"min_stoploss_distance_percent"`
	MaxStopLossDistancePercent            float64 `yaml:"max_stoploss_distance_percent"`
	MaxSignalLifetimeMinutes              int     `yaml:"max_signal_lifetime_minutes"`
	MaxSignalGenerationSeconds            int     `yaml:"max_signal_generation_seconds"`
	ScheduleAwaitMinutes                  int     `yaml:"schedule_await_minutes"`
	BreakevenThreshold                    float64 `yaml:"breakeven_threshold"`
	GetCandlesRetryCount                  int     `yaml:"get_candles_retry_count"`
	GetCandlesRetryDelayMs                int     `yaml:"get_candles_retry_delay_ms"`
	GetCandlesPriceAnomalyThresholdFactor float64 `yaml:"get_candles_price_anomaly_threshold_factor"`
	GetCandlesMinCandlesForMedian         int     `yaml:"get_candles_min_candles_for_median"`
}

// LiveConfig controls the live orchestrator's polling cadence.
type LiveConfig struct {
	TickPeriodMs int `yaml:"tick_period_ms"`
}

// LogConfig mirrors the teacher's log config shape.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig controls where persisted engine state lives.
type StorageConfig struct {
	DSN string `yaml:"dsn"`
}

// FeeSlippagePercent returns the combined per-transaction cost
// (fee+slippage), expressed as a percent, used throughout PnL/validation;
// a round trip costs twice this.
func (c EngineConfig) FeeSlippagePercent() float64 {
	return c.PercentFee + c.PercentSlippage
}

// Load reads the YAML config at path, applies .env overrides, defaults and
// startup validation.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides overrides values with CC_* environment variables when present.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CC_AVG_PRICE_CANDLES_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.AvgPriceCandlesCount = n
		}
	}
	if v := os.Getenv("CC_PERCENT_FEE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Engine.PercentFee = f
		}
	}
	if v := os.Getenv("CC_PERCENT_SLIPPAGE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Engine.PercentSlippage = f
		}
	}
	if v := os.Getenv("CC_LIVE_TICK_PERIOD_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Live.TickPeriodMs = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults fills in sensible production defaults, matching spec §3.3.
func setDefaults(cfg *Config) {
	e := &cfg.Engine
	if e.AvgPriceCandlesCount <= 0 {
		e.AvgPriceCandlesCount = 5
	}
	if e.MaxSignalLifetimeMinutes <= 0 {
		e.MaxSignalLifetimeMinutes = 60 * 24 // one day, a "large" default
	}
	if e.MaxSignalGenerationSeconds <= 0 {
		e.MaxSignalGenerationSeconds = 5
	}
	if e.ScheduleAwaitMinutes <= 0 {
		e.ScheduleAwaitMinutes = 30
	}
	if e.GetCandlesRetryCount <= 0 {
		e.GetCandlesRetryCount = 3
	}
	if e.GetCandlesRetryDelayMs <= 0 {
		e.GetCandlesRetryDelayMs = 500
	}
	if e.GetCandlesPriceAnomalyThresholdFactor <= 0 {
		e.GetCandlesPriceAnomalyThresholdFactor = 3
	}
	if e.GetCandlesMinCandlesForMedian <= 0 {
		e.GetCandlesMinCandlesForMedian = 3
	}
	if cfg.Live.TickPeriodMs <= 0 {
		cfg.Live.TickPeriodMs = 1000
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "backtest-kit.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Validate enforces the config-level invariant from spec §9: the
// take-profit distance floor must cover the round-trip fee+slippage cost,
// 2*(fee+slippage), or every admitted signal would be economically
// pointless.
func (c Config) Validate() error {
	e := c.Engine
	roundTrip := 2 * e.FeeSlippagePercent()
	if e.MinTakeProfitDistancePercent > 0 && e.MinTakeProfitDistancePercent < roundTrip {
		return fmt.Errorf("min_takeprofit_distance_percent (%.4f) must be >= 2*(fee+slippage) (%.4f)",
			e.MinTakeProfitDistancePercent, roundTrip)
	}
	if e.MinStopLossDistancePercent < 0 {
		return fmt.Errorf("min_stoploss_distance_percent must be >= 0")
	}
	if e.MaxStopLossDistancePercent > 0 && e.MaxStopLossDistancePercent < e.MinStopLossDistancePercent {
		return fmt.Errorf("max_stoploss_distance_percent must be >= min_stoploss_distance_percent")
	}
	if e.AvgPriceCandlesCount < 1 {
		return fmt.Errorf("avg_price_candles_count must be >= 1")
	}
	return nil
}

// IntervalMinutes maps the interval names from spec §4.4 to minutes.
var IntervalMinutes = map[string]int{
	"1m":  1,
	"3m":  3,
	"5m":  5,
	"15m": 15,
	"30m": 30,
	"1h":  60,
}
