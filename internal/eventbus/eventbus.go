// Package eventbus implements C9: ordered, serialized dispatch of lifecycle
// events to subscribers. Each subscriber drains its own queue on its own
// goroutine, so no subscriber callback ever runs concurrently with itself,
// and the order it observes matches emission order (spec §4.8, §5).
package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tripolskypetr/backtest-kit/internal/domain"
)

// Topic names the four logical topics the core emits on (spec §4.8).
type Topic string

const (
	TopicSignal     Topic = "signal"
	TopicProgress   Topic = "progress"
	TopicCompletion Topic = "completion"
	TopicError      Topic = "error"
)

// Filter decides whether a subscriber wants a given event. A nil filter
// accepts everything.
type Filter func(event any) bool

// Handler processes one event. It runs on the subscriber's own goroutine;
// it must not block indefinitely or it will stall that subscriber's queue
// (other subscribers are unaffected — delivery is per-subscriber).
type Handler func(event any)

const subscriberQueueDepth = 256

type subscriber struct {
	filter  Filter
	handler Handler
	queue   chan any
}

// Bus is the event bus. The zero value is not usable; use New.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]*subscriber
	wg   sync.WaitGroup
	done chan struct{}
}

// New creates an empty, running event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[Topic][]*subscriber),
		done: make(chan struct{}),
	}
}

// Subscribe registers handler on topic, optionally gated by filter. Returns
// an unsubscribe function.
func (b *Bus) Subscribe(topic Topic, filter Filter, handler Handler) func() {
	sub := &subscriber{filter: filter, handler: handler, queue: make(chan any, subscriberQueueDepth)}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case ev, ok := <-sub.queue:
				if !ok {
					return
				}
				sub.handler(ev)
			case <-b.done:
				return
			}
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[topic]
		for i, s := range list {
			if s == sub {
				b.subs[topic] = append(list[:i], list[i+1:]...)
				close(sub.queue)
				break
			}
		}
	}
}

// Publish enqueues event on topic for every matching subscriber. Publish
// never blocks on a slow subscriber beyond the queue depth; a full queue
// means that subscriber is falling behind and further events to it wait
// for room (back-pressure), matching "no subscriber runs concurrently with
// itself" without dropping events silently.
func (b *Bus) Publish(topic Topic, event any) {
	b.mu.RLock()
	subs := append([]*subscriber(nil), b.subs[topic]...)
	b.mu.RUnlock()

	for _, s := range subs {
		if s.filter != nil && !s.filter(event) {
			continue
		}
		select {
		case s.queue <- event:
		case <-b.done:
			return
		}
	}
}

// EmitSignal publishes a TickResult on the signal topic.
func (b *Bus) EmitSignal(result domain.TickResult) {
	b.Publish(TopicSignal, result)
}

// EmitProgress publishes backtest progress.
func (b *Bus) EmitProgress(ev domain.ProgressEvent) {
	b.Publish(TopicProgress, ev)
}

// EmitCompletion publishes an orchestrator completion event.
func (b *Bus) EmitCompletion(ev domain.CompletionEvent) {
	b.Publish(TopicCompletion, ev)
}

// ReportError publishes an ErrorEvent and logs it, concentrating the
// "error becomes an event, never a panic" policy from spec §7/§9 in one
// place used at the boundary of every fallible external call.
func (b *Bus) ReportError(_ context.Context, symbol, strategyName, exchangeName, message string, err error) {
	ev := domain.ErrorEvent{
		Symbol:       symbol,
		StrategyName: strategyName,
		ExchangeName: exchangeName,
		Message:      message,
		Err:          err,
	}
	slog.Warn("engine error", "symbol", symbol, "strategy", strategyName, "msg", message, "err", err)
	b.Publish(TopicError, ev)
}

// Close stops all subscriber goroutines. Safe to call once, after all
// publishers are done.
func (b *Bus) Close() {
	close(b.done)
	b.wg.Wait()
}
