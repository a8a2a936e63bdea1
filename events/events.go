// Package events is the pub/sub dispatcher. Events are one-way,
// cancellation-free notifications: no listener can stop propagation to later
// listeners, and listener failures are logged, never surfaced to the
// emitter.
//
// The listener table uses the same immutable-snapshot pattern as the hook
// system: mutation swaps a complete table, dispatch reads lock-free.
package events

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Listener handles one event payload.
type Listener func(ctx context.Context, payload any) error

type subscription struct {
	pluginID string
	priority int
	seq      uint64
	isAsync  bool
	fn       Listener
}

type table struct {
	listeners map[string][]*subscription
}

// System is the event registry and dispatcher.
type System struct {
	mu      sync.Mutex
	table   atomic.Pointer[table]
	seq     atomic.Uint64
	wg      sync.WaitGroup
	observe func(event string)
	logger  *zap.Logger
}

// NewSystem creates an event system.
func NewSystem(logger *zap.Logger) *System {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &System{logger: logger.With(zap.String("component", "events"))}
	s.table.Store(&table{listeners: map[string][]*subscription{}})
	return s
}

// SetObserver installs a per-emit callback, used for metrics. Must be called
// before dispatch starts.
func (s *System) SetObserver(fn func(event string)) {
	s.observe = fn
}

// On registers a listener for eventName. Listeners registered with isAsync
// run fire-and-forget on Emit; Emit never blocks on them.
func (s *System) On(eventName, pluginID string, priority int, isAsync bool, fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.table.Load()
	next := &table{listeners: make(map[string][]*subscription, len(cur.listeners))}
	for name, subs := range cur.listeners {
		next.listeners[name] = subs
	}
	chain := append(append([]*subscription{}, next.listeners[eventName]...), &subscription{
		pluginID: pluginID,
		priority: priority,
		seq:      s.seq.Add(1),
		isAsync:  isAsync,
		fn:       fn,
	})
	sort.SliceStable(chain, func(i, j int) bool {
		if chain[i].priority != chain[j].priority {
			return chain[i].priority < chain[j].priority
		}
		return chain[i].seq < chain[j].seq
	})
	next.listeners[eventName] = chain
	s.table.Store(next)
}

// UnregisterAll removes every listener owned by pluginID.
func (s *System) UnregisterAll(pluginID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.table.Load()
	next := &table{listeners: make(map[string][]*subscription)}
	for name, subs := range cur.listeners {
		var kept []*subscription
		for _, sub := range subs {
			if sub.pluginID != pluginID {
				kept = append(kept, sub)
			}
		}
		if len(kept) > 0 {
			next.listeners[name] = kept
		}
	}
	s.table.Store(next)
}

// Emit delivers the payload: synchronous listeners run inline in priority
// order; async listeners are scheduled on their own goroutines and not
// awaited. Emit never blocks on async work.
func (s *System) Emit(ctx context.Context, eventName string, payload any) {
	if s.observe != nil {
		s.observe(eventName)
	}
	for _, sub := range s.table.Load().listeners[eventName] {
		if sub.isAsync {
			s.wg.Add(1)
			go func(sub *subscription) {
				defer s.wg.Done()
				if err := s.invoke(context.WithoutCancel(ctx), sub, payload); err != nil {
					s.logFailure(eventName, sub, err)
				}
			}(sub)
			continue
		}
		if err := s.invoke(ctx, sub, payload); err != nil {
			s.logFailure(eventName, sub, err)
		}
	}
}

// EmitAsync awaits every listener sequentially in priority order, async ones
// included. Callers use it when they need a completion signal.
func (s *System) EmitAsync(ctx context.Context, eventName string, payload any) {
	if s.observe != nil {
		s.observe(eventName)
	}
	for _, sub := range s.table.Load().listeners[eventName] {
		if err := s.invoke(ctx, sub, payload); err != nil {
			s.logFailure(eventName, sub, err)
		}
	}
}

// Wait blocks until all in-flight async listeners finish. Used on shutdown
// and in tests.
func (s *System) Wait() {
	s.wg.Wait()
}

func (s *System) invoke(ctx context.Context, sub *subscription, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return sub.fn(ctx, payload)
}

func (s *System) logFailure(eventName string, sub *subscription, err error) {
	s.logger.Error("event listener failed, propagation continues",
		zap.String("event", eventName),
		zap.String("plugin_id", sub.pluginID),
		zap.Int("priority", sub.priority),
		zap.String("correlation_id", uuid.NewString()),
		zap.Error(err))
}
