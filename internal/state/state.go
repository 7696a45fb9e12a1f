// Package state implements the per-(symbol, strategy) state container
// (spec §3.1, C4) and the registry that owns one instance per pair,
// replacing the source's prototype-method memoization of per-symbol
// clients (spec §9).
package state

import (
	"sync"

	"github.com/tripolskypetr/backtest-kit/internal/domain"
)

// StrategyState holds everything the lifecycle engine needs to remember
// between ticks for one (symbol, strategy).
//
// Invariant (I1): PendingSignal and ScheduledSignal are never both set.
type StrategyState struct {
	PendingSignal       *domain.SignalRow
	ScheduledSignal     *domain.SignalRow
	CancelledSignal     *domain.SignalRow
	CancelledReason     domain.CancelReason
	CancelledID         string
	Stopped             bool
	LastSignalTimestamp *int64
}

// ClearPending resets the pending-signal-related bookkeeping once a pending
// signal closes (spec §3.1: "Once pendingSignal closes, all related state
// is cleared").
func (s *StrategyState) ClearPending() {
	s.PendingSignal = nil
}

// Key identifies one (symbol, strategyName, exchangeName) instance.
type Key struct {
	Symbol       string
	StrategyName string
	ExchangeName string
}

func (k Key) String() string {
	return k.Symbol + "|" + k.StrategyName + "|" + k.ExchangeName
}

// Registry owns one StrategyState per (symbol, strategy, exchange),
// replacing the source's implicit per-symbol client cache with an explicit
// map (spec §9).
type Registry struct {
	mu sync.Mutex
	m  map[string]*StrategyState
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{m: make(map[string]*StrategyState)}
}

// Get returns the state for key, creating it if absent.
func (r *Registry) Get(key Key) *StrategyState {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key.String()
	s, ok := r.m[k]
	if !ok {
		s = &StrategyState{}
		r.m[k] = s
	}
	return s
}

// Delete removes the state for key, if present.
func (r *Registry) Delete(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, key.String())
}
