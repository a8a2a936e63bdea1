// Package hooks is the filter/action chain executor. Filters transform a
// value through registered handlers in ascending priority order; actions run
// for side effects only. A failing or slow handler is logged and skipped;
// the chain continues with the last good value, so one broken plugin never
// breaks the host request.
//
// The hook table is an immutable snapshot behind an atomic pointer, rebuilt
// under a mutex on registration changes. Dispatch is lock-free and always
// observes one complete, consistent table.
package hooks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FilterFunc receives the current value and the hook context and returns the
// next value.
type FilterFunc func(ctx context.Context, value any, hctx map[string]any) (any, error)

// ActionFunc runs for side effects; its return value is only used for fault
// logging.
type ActionFunc func(ctx context.Context, args ...any) error

type registration struct {
	pluginID string
	priority int
	seq      uint64
	filter   FilterFunc
	action   ActionFunc
}

type table struct {
	filters map[string][]*registration
	actions map[string][]*registration
}

// System is the hook registry and dispatcher.
type System struct {
	mu      sync.Mutex
	table   atomic.Pointer[table]
	seq     atomic.Uint64
	observe func(hook string, failed bool)
	logger  *zap.Logger
}

// NewSystem creates a hook system.
func NewSystem(logger *zap.Logger) *System {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &System{logger: logger.With(zap.String("component", "hooks"))}
	s.table.Store(&table{
		filters: map[string][]*registration{},
		actions: map[string][]*registration{},
	})
	return s
}

// SetObserver installs a per-invocation callback, used for metrics. Must be
// called before dispatch starts.
func (s *System) SetObserver(fn func(hook string, failed bool)) {
	s.observe = fn
}

// RegisterFilter adds a filter for hookName. Equal priorities keep
// registration order.
func (s *System) RegisterFilter(hookName, pluginID string, priority int, fn FilterFunc) {
	s.register(hookName, &registration{
		pluginID: pluginID,
		priority: priority,
		seq:      s.seq.Add(1),
		filter:   fn,
	}, true)
}

// RegisterAction adds an action for hookName.
func (s *System) RegisterAction(hookName, pluginID string, priority int, fn ActionFunc) {
	s.register(hookName, &registration{
		pluginID: pluginID,
		priority: priority,
		seq:      s.seq.Add(1),
		action:   fn,
	}, false)
}

func (s *System) register(hookName string, reg *registration, isFilter bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cloneTable()
	target := next.actions
	if isFilter {
		target = next.filters
	}
	chain := append(append([]*registration{}, target[hookName]...), reg)
	sortChain(chain)
	target[hookName] = chain
	s.table.Store(next)
}

// UnregisterAll removes every registration owned by pluginID.
func (s *System) UnregisterAll(pluginID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := &table{
		filters: make(map[string][]*registration),
		actions: make(map[string][]*registration),
	}
	cur := s.table.Load()
	for name, chain := range cur.filters {
		if kept := withoutPlugin(chain, pluginID); len(kept) > 0 {
			next.filters[name] = kept
		}
	}
	for name, chain := range cur.actions {
		if kept := withoutPlugin(chain, pluginID); len(kept) > 0 {
			next.actions[name] = kept
		}
	}
	s.table.Store(next)
}

// Apply invokes the filters registered for hookName in ascending priority
// order. Each filter receives the current value; a filter that errors is
// logged with a correlation id and the chain continues with the value it was
// given.
func (s *System) Apply(ctx context.Context, hookName string, value any, hctx map[string]any) any {
	for _, reg := range s.table.Load().filters[hookName] {
		next, err := s.invokeFilter(ctx, reg, value, hctx)
		s.observed(hookName, err != nil)
		if err != nil {
			s.logFailure(hookName, reg, err)
			continue
		}
		value = next
	}
	return value
}

// ApplyAsync is Apply for handler chains that suspend on I/O. Handlers are
// awaited one at a time, in priority order; the chain is never parallelized.
func (s *System) ApplyAsync(ctx context.Context, hookName string, value any, hctx map[string]any) any {
	return s.Apply(ctx, hookName, value, hctx)
}

// DoAction invokes the actions registered for hookName in priority order,
// discarding results. Fault policy matches Apply.
func (s *System) DoAction(ctx context.Context, hookName string, args ...any) {
	for _, reg := range s.table.Load().actions[hookName] {
		err := s.invokeAction(ctx, reg, args)
		s.observed(hookName, err != nil)
		if err != nil {
			s.logFailure(hookName, reg, err)
		}
	}
}

// DoActionAsync is DoAction for handlers that suspend on I/O; each handler
// is awaited sequentially.
func (s *System) DoActionAsync(ctx context.Context, hookName string, args ...any) {
	s.DoAction(ctx, hookName, args...)
}

// HookNames returns the registered hook names, for diagnostics.
func (s *System) HookNames() []string {
	t := s.table.Load()
	seen := make(map[string]struct{}, len(t.filters)+len(t.actions))
	for name := range t.filters {
		seen[name] = struct{}{}
	}
	for name := range t.actions {
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *System) invokeFilter(ctx context.Context, reg *registration, value any, hctx map[string]any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("filter panic: %v", r)
		}
	}()
	return reg.filter(ctx, value, hctx)
}

func (s *System) invokeAction(ctx context.Context, reg *registration, args []any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panic: %v", r)
		}
	}()
	return reg.action(ctx, args...)
}

func (s *System) observed(hookName string, failed bool) {
	if s.observe != nil {
		s.observe(hookName, failed)
	}
}

func (s *System) logFailure(hookName string, reg *registration, err error) {
	s.logger.Error("hook handler failed, chain continues",
		zap.String("hook", hookName),
		zap.String("plugin_id", reg.pluginID),
		zap.Int("priority", reg.priority),
		zap.String("correlation_id", uuid.NewString()),
		zap.Error(err))
}

func (s *System) cloneTable() *table {
	cur := s.table.Load()
	next := &table{
		filters: make(map[string][]*registration, len(cur.filters)),
		actions: make(map[string][]*registration, len(cur.actions)),
	}
	for name, chain := range cur.filters {
		next.filters[name] = chain
	}
	for name, chain := range cur.actions {
		next.actions[name] = chain
	}
	return next
}

func sortChain(chain []*registration) {
	sort.SliceStable(chain, func(i, j int) bool {
		if chain[i].priority != chain[j].priority {
			return chain[i].priority < chain[j].priority
		}
		return chain[i].seq < chain[j].seq
	})
}

func withoutPlugin(chain []*registration, pluginID string) []*registration {
	var kept []*registration
	for _, reg := range chain {
		if reg.pluginID != pluginID {
			kept = append(kept, reg)
		}
	}
	return kept
}
