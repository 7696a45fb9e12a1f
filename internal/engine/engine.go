// Package engine implements C5, the per-(symbol, strategy, exchange)
// lifecycle state machine: one Tick (live) or Backtest (fast-forward) call
// at a time drives a StrategyState through Idle -> Scheduled -> Pending ->
// terminal, exactly mirroring the scanner's per-tick analysis loop in the
// teacher repo but generalized from CTF-arbitrage opportunities to
// take-profit/stop-loss trading signals (spec §4.4).
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/tripolskypetr/backtest-kit/config"
	"github.com/tripolskypetr/backtest-kit/internal/contracts"
	"github.com/tripolskypetr/backtest-kit/internal/domain"
	"github.com/tripolskypetr/backtest-kit/internal/eventbus"
	"github.com/tripolskypetr/backtest-kit/internal/persist"
	"github.com/tripolskypetr/backtest-kit/internal/pricing"
	"github.com/tripolskypetr/backtest-kit/internal/state"
	"github.com/tripolskypetr/backtest-kit/internal/validator"
)

// Params identifies one engine instance.
type Params struct {
	Symbol       string
	StrategyName string
	ExchangeName string
	FrameName    string // empty in live mode, set to the backtest's frame identifier otherwise
	Interval     string // signal-generation throttle interval, e.g. "5m"
}

// Engine drives one (symbol, strategy, exchange) pair through its lifecycle.
// Not safe for concurrent use from multiple goroutines against the same
// instance; the registry in package state hands out one Engine worth of
// state per key, and callers are expected to serialize ticks for a given
// key the same way the source's single-threaded event loop did.
type Engine struct {
	params Params
	cfg    config.EngineConfig

	exchange  contracts.Exchange
	risk      contracts.Risk
	partial   contracts.Partial
	breakeven contracts.Breakeven
	persist   *persist.Store // nil disables persistence (typically: backtest mode)
	bus       *eventbus.Bus
	getSignal contracts.GetSignalFunc

	state *state.StrategyState

	backtest bool // true for the lifetime of a backtest-driven engine instance
}

// New constructs an Engine. persistence may be nil (no durability, e.g. for
// a pure backtest run); bus may be nil (events are simply dropped).
func New(
	params Params,
	cfg config.EngineConfig,
	exchange contracts.Exchange,
	risk contracts.Risk,
	partial contracts.Partial,
	breakeven contracts.Breakeven,
	persistence *persist.Store,
	bus *eventbus.Bus,
	getSignal contracts.GetSignalFunc,
	st *state.StrategyState,
	backtestMode bool,
) *Engine {
	return &Engine{
		params:    params,
		cfg:       cfg,
		exchange:  exchange,
		risk:      risk,
		partial:   partial,
		breakeven: breakeven,
		persist:   persistence,
		bus:       bus,
		getSignal: getSignal,
		state:     st,
		backtest:  backtestMode,
	}
}

func (e *Engine) key() persist.Key {
	return persist.Key{Symbol: e.params.Symbol, StrategyName: e.params.StrategyName, ExchangeName: e.params.ExchangeName}
}

// Restore loads any persisted pending/scheduled signal for this engine's
// key into its state, for the live orchestrator to call once at startup
// (spec §4.7 step 1). Returns the restored rows, if any, so the caller can
// fire its one-shot onActive/onSchedule callbacks.
func (e *Engine) Restore(ctx context.Context) (pending, scheduled *domain.SignalRow, err error) {
	if e.persist == nil {
		return nil, nil, nil
	}
	pending, err = e.persist.ReadPending(ctx, e.key())
	if err != nil {
		return nil, nil, fmt.Errorf("engine.Restore: read pending: %w", err)
	}
	scheduled, err = e.persist.ReadScheduled(ctx, e.key())
	if err != nil {
		return nil, nil, fmt.Errorf("engine.Restore: read scheduled: %w", err)
	}
	e.state.PendingSignal = pending
	e.state.ScheduledSignal = scheduled
	return pending, scheduled, nil
}

// CurrentPrice exposes the VWAP price fetch for callers outside the
// lifecycle state machine itself (the live orchestrator's restore ping).
func (e *Engine) CurrentPrice(ctx context.Context) (float64, error) {
	return e.currentPrice(ctx, contracts.ExecutionContext{Symbol: e.params.Symbol, When: 0, Backtest: e.backtest})
}

func (e *Engine) intervalMs() int64 {
	minutes, ok := config.IntervalMinutes[e.params.Interval]
	if !ok || minutes <= 0 {
		minutes = 1
	}
	return int64(minutes) * 60_000
}

func (e *Engine) reportError(ctx context.Context, message string, err error) {
	if e.bus == nil {
		return
	}
	e.bus.ReportError(ctx, e.params.Symbol, e.params.StrategyName, e.params.ExchangeName, message, err)
}

func (e *Engine) emit(result domain.TickResult) domain.TickResult {
	if e.bus != nil {
		e.bus.EmitSignal(result)
	}
	return result
}

func (e *Engine) base(kind domain.ResultKind) domain.TickResult {
	return domain.TickResult{
		Kind:         kind,
		Symbol:       e.params.Symbol,
		StrategyName: e.params.StrategyName,
		ExchangeName: e.params.ExchangeName,
		FrameName:    e.params.FrameName,
		Backtest:     e.backtest,
	}
}

func (e *Engine) persistPending(ctx context.Context) {
	if e.persist == nil || e.backtest {
		return
	}
	if err := e.persist.WritePending(ctx, e.key(), e.state.PendingSignal); err != nil {
		e.reportError(ctx, "persist pending signal", err)
	}
}

func (e *Engine) persistScheduled(ctx context.Context) {
	if e.persist == nil || e.backtest {
		return
	}
	if err := e.persist.WriteScheduled(ctx, e.key(), e.state.ScheduledSignal); err != nil {
		e.reportError(ctx, "persist scheduled signal", err)
	}
}

// currentPrice fetches the most recent candle window from the exchange and
// reduces it to a single VWAP figure (spec §4.2), retrying and filtering
// anomalies per config.
func (e *Engine) currentPrice(ctx context.Context, ec contracts.ExecutionContext) (float64, error) {
	candles, err := fetchCandles(ctx, e.exchange, e.params.Symbol, e.cfg)
	if err != nil {
		return 0, fmt.Errorf("engine.currentPrice: %w", err)
	}
	return pricing.VWAP(candles), nil
}

// currentPriceBestEffort is used for results where a stale/zero price is
// acceptable (Idle, Cancelled) rather than failing the whole tick.
func (e *Engine) currentPriceBestEffort(ctx context.Context, ec contracts.ExecutionContext) float64 {
	price, err := e.currentPrice(ctx, ec)
	if err != nil {
		e.reportError(ctx, "fetch current price", err)
		return 0
	}
	return price
}

// Tick advances the state machine by one step at time now (wall clock in
// live mode, the frame timestamp in backtest) (spec §4.4). Failures — a
// getSignal timeout or panic, a rejected DTO, an exchange fetch error — are
// reported on the error bus and folded into the returned result (Idle, or
// the signal's unchanged Scheduled/Active view), so every path returns a
// nil error. Once stopped, Tick reports Idle, except that a pending signal
// keeps being evaluated until it closes.
func (e *Engine) Tick(ctx context.Context, now int64) (domain.TickResult, error) {
	st := e.state
	ec := contracts.ExecutionContext{Symbol: e.params.Symbol, When: now, Backtest: e.backtest}

	if st.Stopped && st.PendingSignal == nil {
		res := e.base(domain.ResultIdle)
		res.CurrentPrice = e.currentPriceBestEffort(ctx, ec)
		return e.emit(res), nil
	}

	if st.CancelledSignal != nil {
		sig := *st.CancelledSignal
		reason := st.CancelledReason
		id := st.CancelledID
		st.CancelledSignal = nil
		st.CancelledID = ""
		pub := sig.ToPublic()
		res := e.base(domain.ResultCancelled)
		res.Signal = &pub
		res.CurrentPrice = e.currentPriceBestEffort(ctx, ec)
		res.CancelReason = reason
		res.CancelTimestamp = now
		res.CancelID = id
		return e.emit(res), nil
	}

	if st.ScheduledSignal != nil {
		return e.tickScheduled(ctx, ec, now)
	}

	if st.PendingSignal != nil {
		return e.tickPending(ctx, ec, now)
	}

	return e.tickIdle(ctx, ec, now)
}

func (e *Engine) tickScheduled(ctx context.Context, ec contracts.ExecutionContext, now int64) (domain.TickResult, error) {
	sig := e.state.ScheduledSignal
	awaitMs := int64(e.cfg.ScheduleAwaitMinutes) * 60_000

	price, err := e.currentPrice(ctx, ec)
	if err != nil {
		e.reportError(ctx, "fetch current price for scheduled signal", err)
		res := e.base(domain.ResultScheduled)
		pub := sig.ToPublic()
		res.Signal = &pub
		return e.emit(res), nil
	}

	if now-sig.ScheduledAt >= awaitMs {
		return e.emit(e.cancelScheduled(ctx, now, domain.CancelTimeout, price)), nil
	}

	var slHit, entryHit bool
	switch sig.Position {
	case domain.Long:
		slHit = price <= sig.EffectiveStopLoss()
		entryHit = price <= sig.PriceOpen
	case domain.Short:
		slHit = price >= sig.EffectiveStopLoss()
		entryHit = price >= sig.PriceOpen
	}

	// SL-before-entry cancellation priority (spec §4.4, §8 B2): if both
	// trigger on the same tick, the cancellation wins.
	if slHit {
		return e.emit(e.cancelScheduled(ctx, now, domain.CancelPriceReject, price)), nil
	}
	if entryHit {
		return e.activate(ctx, ec, now, price)
	}

	res := e.base(domain.ResultScheduled)
	pub := sig.ToPublic()
	res.Signal = &pub
	res.CurrentPrice = price
	return e.emit(res), nil
}

// cancelScheduled clears the scheduled signal and builds its Cancelled result.
func (e *Engine) cancelScheduled(ctx context.Context, now int64, reason domain.CancelReason, price float64) domain.TickResult {
	sig := *e.state.ScheduledSignal
	e.state.ScheduledSignal = nil
	e.persistScheduled(ctx)

	pub := sig.ToPublic()
	res := e.base(domain.ResultCancelled)
	res.Signal = &pub
	res.CurrentPrice = price
	res.CancelReason = reason
	res.CancelTimestamp = now
	return res
}

// activate promotes a scheduled signal to pending, re-running the risk
// check at the activation price (spec §4.4). On rejection the signal is
// dropped silently (no Cancelled emitted — spec calls this out explicitly:
// "drop to Idle without emitting Opened").
func (e *Engine) activate(ctx context.Context, ec contracts.ExecutionContext, now int64, price float64) (domain.TickResult, error) {
	sig := *e.state.ScheduledSignal

	rc := contracts.RiskContext{
		ExecutionContext: ec,
		Signal:           sig,
		StrategyName:     e.params.StrategyName,
		ExchangeName:     e.params.ExchangeName,
		FrameName:        e.params.FrameName,
		CurrentPrice:     price,
	}
	ok, err := e.risk.CheckSignal(ctx, rc)
	if err != nil {
		e.reportError(ctx, "risk check at activation", err)
		ok = false
	}
	if !ok {
		e.state.ScheduledSignal = nil
		e.persistScheduled(ctx)
		res := e.base(domain.ResultIdle)
		res.CurrentPrice = price
		return e.emit(res), nil
	}

	sig.PendingAt = now
	e.state.ScheduledSignal = nil
	e.state.PendingSignal = &sig
	e.persistScheduled(ctx)
	e.persistPending(ctx)

	if err := e.risk.AddSignal(ctx, e.params.Symbol, rc); err != nil {
		e.reportError(ctx, "risk add signal", err)
	}

	pub := sig.ToPublic()
	res := e.base(domain.ResultOpened)
	res.Signal = &pub
	res.CurrentPrice = sig.PriceOpen
	return e.emit(res), nil
}

func (e *Engine) tickPending(ctx context.Context, ec contracts.ExecutionContext, now int64) (domain.TickResult, error) {
	sig := e.state.PendingSignal

	price, err := e.currentPrice(ctx, ec)
	if err != nil {
		// Exchange fetch failures beyond the retry budget are routed to the
		// error bus and the tick makes no progress on this signal (spec §5
		// "Retries"); the pending signal stays exactly where it was.
		e.reportError(ctx, "fetch current price for pending signal", err)
		res := e.base(domain.ResultActive)
		pub := sig.ToPublic()
		res.Signal = &pub
		return res, nil
	}

	elapsedMinutes := float64(now-sig.PendingAt) / 60_000
	if elapsedMinutes >= float64(sig.MinuteEstimatedTime) {
		return e.emit(e.closePending(ctx, now, domain.CloseTimeExpired, price)), nil
	}

	effTP := sig.EffectiveTakeProfit()
	effSL := sig.EffectiveStopLoss()
	switch sig.Position {
	case domain.Long:
		if price >= effTP {
			return e.emit(e.closePending(ctx, now, domain.CloseTakeProfit, effTP)), nil
		}
		if price <= effSL {
			return e.emit(e.closePending(ctx, now, domain.CloseStopLoss, effSL)), nil
		}
	case domain.Short:
		if price <= effTP {
			return e.emit(e.closePending(ctx, now, domain.CloseTakeProfit, effTP)), nil
		}
		if price >= effSL {
			return e.emit(e.closePending(ctx, now, domain.CloseStopLoss, effSL)), nil
		}
	}

	if _, err := e.breakeven.Check(ctx, e.params.Symbol, *sig, price, e.backtest, now); err != nil {
		e.reportError(ctx, "breakeven observability check", err)
	}

	res := e.base(domain.ResultActive)
	pub := sig.ToPublic()
	res.Signal = &pub
	res.CurrentPrice = price
	res.PercentTp = progressPercent(sig.PriceOpen, effTP, price)
	res.PercentSl = progressPercent(sig.PriceOpen, effSL, price)
	return res, nil
}

// closePending closes the pending signal at closePrice for reason,
// computing final weighted PnL and clearing every piece of bookkeeping tied
// to the position (spec §4.3, §4.4).
func (e *Engine) closePending(ctx context.Context, now int64, reason domain.CloseReason, closePrice float64) domain.TickResult {
	sig := *e.state.PendingSignal
	pnl := pricing.Weighted(sig, closePrice, e.cfg.PercentFee, e.cfg.PercentSlippage)

	e.state.PendingSignal = nil
	e.persistPending(ctx)

	rc := contracts.RiskContext{
		ExecutionContext: contracts.ExecutionContext{Symbol: e.params.Symbol, When: now, Backtest: e.backtest},
		Signal:           sig,
		StrategyName:     e.params.StrategyName,
		ExchangeName:     e.params.ExchangeName,
		FrameName:        e.params.FrameName,
		CurrentPrice:     closePrice,
	}
	if err := e.risk.RemoveSignal(ctx, e.params.Symbol, rc); err != nil {
		e.reportError(ctx, "risk remove signal", err)
	}
	if err := e.partial.Clear(ctx, e.params.Symbol, sig, closePrice, e.backtest); err != nil {
		e.reportError(ctx, "partial clear", err)
	}
	if err := e.breakeven.Clear(ctx, e.params.Symbol, sig, e.backtest); err != nil {
		e.reportError(ctx, "breakeven clear", err)
	}

	pub := sig.ToPublic()
	res := e.base(domain.ResultClosed)
	res.Signal = &pub
	res.CurrentPrice = closePrice
	res.CloseReason = reason
	res.CloseTimestamp = now
	res.PnLPercentage = pnl
	return res
}

func (e *Engine) tickIdle(ctx context.Context, ec contracts.ExecutionContext, now int64) (domain.TickResult, error) {
	st := e.state

	if st.LastSignalTimestamp != nil && now-*st.LastSignalTimestamp < e.intervalMs() {
		res := e.base(domain.ResultIdle)
		res.CurrentPrice = e.currentPriceBestEffort(ctx, ec)
		return e.emit(res), nil
	}
	stamped := now
	st.LastSignalTimestamp = &stamped

	dto, err := e.callGetSignal(ctx, now)
	if err != nil {
		e.reportError(ctx, "getSignal", err)
		res := e.base(domain.ResultIdle)
		res.CurrentPrice = e.currentPriceBestEffort(ctx, ec)
		return e.emit(res), nil
	}
	if dto == nil {
		res := e.base(domain.ResultIdle)
		res.CurrentPrice = e.currentPriceBestEffort(ctx, ec)
		return e.emit(res), nil
	}

	price, err := e.currentPrice(ctx, ec)
	if err != nil {
		e.reportError(ctx, "fetch current price for new signal", err)
		res := e.base(domain.ResultIdle)
		return e.emit(res), nil
	}

	if !dto.IsScheduled() {
		return e.admitImmediate(ctx, ec, now, *dto, price)
	}
	return e.admitScheduled(ctx, ec, now, *dto, price)
}

func (e *Engine) buildRow(dto domain.SignalDTO, scheduledAt, pendingAt int64, priceOpen float64, isScheduled bool) domain.SignalRow {
	id := dto.ID
	if id == "" {
		id = domain.NewSignalID()
	}
	return domain.SignalRow{
		ID:                  id,
		Symbol:              e.params.Symbol,
		ExchangeName:        e.params.ExchangeName,
		StrategyName:        e.params.StrategyName,
		FrameName:           e.params.FrameName,
		Position:            dto.Position,
		PriceOpen:           priceOpen,
		PriceTakeProfit:     dto.PriceTakeProfit,
		PriceStopLoss:       dto.PriceStopLoss,
		MinuteEstimatedTime: dto.MinuteEstimatedTime,
		Note:                dto.Note,
		ScheduledAt:         scheduledAt,
		PendingAt:           pendingAt,
		IsScheduled:         isScheduled,
	}
}

func (e *Engine) admitImmediate(ctx context.Context, ec contracts.ExecutionContext, now int64, dto domain.SignalDTO, price float64) (domain.TickResult, error) {
	row := e.buildRow(dto, now, now, price, false)
	if err := validator.Validate(row, price, false, e.cfg); err != nil {
		e.reportError(ctx, "validate immediate signal", err)
		res := e.base(domain.ResultIdle)
		res.CurrentPrice = price
		return e.emit(res), nil
	}

	rc := contracts.RiskContext{
		ExecutionContext: ec,
		Signal:           row,
		StrategyName:     e.params.StrategyName,
		ExchangeName:     e.params.ExchangeName,
		FrameName:        e.params.FrameName,
		CurrentPrice:     price,
	}
	ok, err := e.risk.CheckSignal(ctx, rc)
	if err != nil {
		e.reportError(ctx, "risk check immediate signal", err)
		ok = false
	}
	if !ok {
		res := e.base(domain.ResultIdle)
		res.CurrentPrice = price
		return e.emit(res), nil
	}

	e.state.PendingSignal = &row
	e.persistPending(ctx)
	if err := e.risk.AddSignal(ctx, e.params.Symbol, rc); err != nil {
		e.reportError(ctx, "risk add signal", err)
	}

	pub := row.ToPublic()
	res := e.base(domain.ResultOpened)
	res.Signal = &pub
	res.CurrentPrice = row.PriceOpen
	return e.emit(res), nil
}

func (e *Engine) admitScheduled(ctx context.Context, ec contracts.ExecutionContext, now int64, dto domain.SignalDTO, price float64) (domain.TickResult, error) {
	priceOpen := *dto.PriceOpen
	row := e.buildRow(dto, now, now, priceOpen, true)
	if err := validator.Validate(row, price, true, e.cfg); err != nil {
		e.reportError(ctx, "validate scheduled signal", err)
		res := e.base(domain.ResultIdle)
		res.CurrentPrice = price
		return e.emit(res), nil
	}

	var entryAlreadyMet bool
	switch row.Position {
	case domain.Long:
		entryAlreadyMet = price <= priceOpen
	case domain.Short:
		entryAlreadyMet = price >= priceOpen
	}

	e.state.ScheduledSignal = &row
	if entryAlreadyMet {
		// Entry price already satisfied on the same tick it was generated —
		// fall straight through activation instead of waiting a tick.
		return e.activate(ctx, ec, now, price)
	}

	e.persistScheduled(ctx)
	pub := row.ToPublic()
	res := e.base(domain.ResultScheduled)
	res.Signal = &pub
	res.CurrentPrice = price
	return e.emit(res), nil
}

// callGetSignal invokes the user-supplied generator under
// MaxSignalGenerationSeconds, converting both a timeout and a panic into an
// error rather than ever stalling or crashing the engine (spec §4.4, §7).
func (e *Engine) callGetSignal(ctx context.Context, now int64) (*domain.SignalDTO, error) {
	timeout := time.Duration(e.cfg.MaxSignalGenerationSeconds) * time.Second
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		dto *domain.SignalDTO
		err error
	}
	ch := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{nil, fmt.Errorf("getSignal panicked: %v", r)}
			}
		}()
		dto, err := e.getSignal(cctx, e.params.Symbol, now)
		ch <- result{dto, err}
	}()

	select {
	case r := <-ch:
		return r.dto, r.err
	case <-cctx.Done():
		return nil, fmt.Errorf("getSignal exceeded %s: %w", timeout, cctx.Err())
	}
}
