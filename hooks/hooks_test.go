package hooks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestSystem(t *testing.T) *System {
	t.Helper()
	return NewSystem(nil)
}

func TestNewSystem(t *testing.T) {
	s := newTestSystem(t)
	require.NotNil(t, s)
	assert.Empty(t, s.HookNames())
}

// --- Apply ---

func TestApply_PriorityOrder(t *testing.T) {
	s := newTestSystem(t)
	ctx := context.Background()

	// Register out of order; priority 5 must still run before priority 10.
	s.RegisterFilter("cart.total", "plugin-b", 10, func(_ context.Context, value any, _ map[string]any) (any, error) {
		return value.(float64) - 1, nil
	})
	s.RegisterFilter("cart.total", "plugin-a", 5, func(_ context.Context, value any, _ map[string]any) (any, error) {
		return value.(float64) * 0.9, nil
	})

	got := s.Apply(ctx, "cart.total", 100.0, nil)
	assert.Equal(t, 89.0, got) // (100 * 0.9) - 1, not (100 - 1) * 0.9
}

func TestApply_EqualPriorityKeepsRegistrationOrder(t *testing.T) {
	s := newTestSystem(t)
	ctx := context.Background()

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		s.RegisterFilter("h", "p", 10, func(_ context.Context, value any, _ map[string]any) (any, error) {
			order = append(order, name)
			return value, nil
		})
	}

	s.Apply(ctx, "h", nil, nil)
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestApply_NoFiltersReturnsValueUnchanged(t *testing.T) {
	s := newTestSystem(t)
	got := s.Apply(context.Background(), "unknown.hook", "original", nil)
	assert.Equal(t, "original", got)
}

func TestApply_FailingFilterKeepsLastGoodValue(t *testing.T) {
	s := newTestSystem(t)
	ctx := context.Background()

	s.RegisterFilter("h", "good-1", 1, func(_ context.Context, value any, _ map[string]any) (any, error) {
		return value.(int) + 1, nil
	})
	s.RegisterFilter("h", "broken", 2, func(_ context.Context, _ any, _ map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	s.RegisterFilter("h", "good-2", 3, func(_ context.Context, value any, _ map[string]any) (any, error) {
		return value.(int) + 10, nil
	})

	// The broken filter is skipped; good-2 receives good-1's output.
	got := s.Apply(ctx, "h", 0, nil)
	assert.Equal(t, 11, got)
}

func TestApply_PanickingFilterIsIsolated(t *testing.T) {
	s := newTestSystem(t)

	s.RegisterFilter("h", "panicky", 1, func(_ context.Context, _ any, _ map[string]any) (any, error) {
		panic("filter exploded")
	})
	s.RegisterFilter("h", "sane", 2, func(_ context.Context, value any, _ map[string]any) (any, error) {
		return value.(string) + "!", nil
	})

	got := s.Apply(context.Background(), "h", "ok", nil)
	assert.Equal(t, "ok!", got)
}

func TestApply_HookContextIsPassedThrough(t *testing.T) {
	s := newTestSystem(t)

	s.RegisterFilter("price", "p", 10, func(_ context.Context, value any, hctx map[string]any) (any, error) {
		if hctx["vip"] == true {
			return value.(float64) / 2, nil
		}
		return value, nil
	})

	assert.Equal(t, 50.0, s.Apply(context.Background(), "price", 100.0, map[string]any{"vip": true}))
	assert.Equal(t, 100.0, s.Apply(context.Background(), "price", 100.0, nil))
}

func TestApplyAsync_MatchesApply(t *testing.T) {
	s := newTestSystem(t)
	s.RegisterFilter("h", "p", 10, func(_ context.Context, value any, _ map[string]any) (any, error) {
		return value.(int) * 2, nil
	})
	assert.Equal(t, 42, s.ApplyAsync(context.Background(), "h", 21, nil))
}

// --- DoAction ---

func TestDoAction_RunsAllInOrder(t *testing.T) {
	s := newTestSystem(t)

	var order []int
	s.RegisterAction("order.placed", "b", 20, func(_ context.Context, _ ...any) error {
		order = append(order, 20)
		return nil
	})
	s.RegisterAction("order.placed", "a", 10, func(_ context.Context, _ ...any) error {
		order = append(order, 10)
		return nil
	})

	s.DoAction(context.Background(), "order.placed", "order-1")
	assert.Equal(t, []int{10, 20}, order)
}

func TestDoAction_FailureDoesNotStopSiblings(t *testing.T) {
	s := newTestSystem(t)

	var ran bool
	s.RegisterAction("h", "broken", 1, func(_ context.Context, _ ...any) error {
		return errors.New("boom")
	})
	s.RegisterAction("h", "panicky", 2, func(_ context.Context, _ ...any) error {
		panic("action exploded")
	})
	s.RegisterAction("h", "sane", 3, func(_ context.Context, _ ...any) error {
		ran = true
		return nil
	})

	s.DoAction(context.Background(), "h")
	assert.True(t, ran)
}

func TestDoAction_ReceivesArgs(t *testing.T) {
	s := newTestSystem(t)

	var got []any
	s.RegisterAction("h", "p", 10, func(_ context.Context, args ...any) error {
		got = args
		return nil
	})

	s.DoAction(context.Background(), "h", "order-1", 3)
	assert.Equal(t, []any{"order-1", 3}, got)
}

// --- UnregisterAll ---

func TestUnregisterAll_RemovesOnlyThatPlugin(t *testing.T) {
	s := newTestSystem(t)

	s.RegisterFilter("h", "keep", 1, func(_ context.Context, value any, _ map[string]any) (any, error) {
		return value.(int) + 1, nil
	})
	s.RegisterFilter("h", "drop", 2, func(_ context.Context, value any, _ map[string]any) (any, error) {
		return value.(int) + 100, nil
	})
	s.RegisterAction("other", "drop", 1, func(_ context.Context, _ ...any) error { return nil })

	s.UnregisterAll("drop")

	assert.Equal(t, 1, s.Apply(context.Background(), "h", 0, nil))
	assert.Equal(t, []string{"h"}, s.HookNames())
}

func TestHookNames_SortedUnion(t *testing.T) {
	s := newTestSystem(t)
	s.RegisterFilter("b.filter", "p", 1, func(_ context.Context, v any, _ map[string]any) (any, error) { return v, nil })
	s.RegisterAction("a.action", "p", 1, func(_ context.Context, _ ...any) error { return nil })
	assert.Equal(t, []string{"a.action", "b.filter"}, s.HookNames())
}

// --- observer ---

func TestObserver_SeesFailures(t *testing.T) {
	s := newTestSystem(t)

	type obs struct {
		hook   string
		failed bool
	}
	var seen []obs
	s.SetObserver(func(hook string, failed bool) {
		seen = append(seen, obs{hook, failed})
	})

	s.RegisterFilter("h", "ok", 1, func(_ context.Context, v any, _ map[string]any) (any, error) { return v, nil })
	s.RegisterFilter("h", "bad", 2, func(_ context.Context, _ any, _ map[string]any) (any, error) {
		return nil, errors.New("boom")
	})

	s.Apply(context.Background(), "h", nil, nil)
	require.Len(t, seen, 2)
	assert.Equal(t, obs{"h", false}, seen[0])
	assert.Equal(t, obs{"h", true}, seen[1])
}

// --- concurrency ---

func TestConcurrentRegisterAndDispatch(t *testing.T) {
	s := newTestSystem(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		i := i
		go func() {
			defer wg.Done()
			pluginID := fmt.Sprintf("plugin-%d", i)
			s.RegisterFilter("h", pluginID, i, func(_ context.Context, v any, _ map[string]any) (any, error) {
				return v, nil
			})
			s.UnregisterAll(pluginID)
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Apply(context.Background(), "h", j, nil)
			}
		}()
	}
	wg.Wait()
}

// --- property: dispatch order is (priority, registration) regardless of
// registration sequence ---

func TestProperty_DispatchOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		priorities := rapid.SliceOfN(rapid.IntRange(-20, 20), 1, 16).Draw(rt, "priorities")

		s := NewSystem(nil)
		var got []int
		for idx, prio := range priorities {
			idx, prio := idx, prio
			s.RegisterFilter("h", fmt.Sprintf("p%d", idx), prio, func(_ context.Context, v any, _ map[string]any) (any, error) {
				got = append(got, idx)
				return v, nil
			})
		}

		s.Apply(context.Background(), "h", nil, nil)

		require.Len(rt, got, len(priorities))
		for i := 1; i < len(got); i++ {
			prev, cur := got[i-1], got[i]
			if priorities[prev] > priorities[cur] {
				rt.Fatalf("index %d (priority %d) ran before index %d (priority %d)",
					prev, priorities[prev], cur, priorities[cur])
			}
			if priorities[prev] == priorities[cur] && prev > cur {
				rt.Fatalf("equal priority %d broke registration order: %d before %d",
					priorities[cur], prev, cur)
			}
		}
	})
}
