package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmit_SyncListenersRunInPriorityOrder(t *testing.T) {
	s := NewSystem(nil)

	var order []string
	s.On("order.placed", "b", 20, false, func(_ context.Context, _ any) error {
		order = append(order, "inventory")
		return nil
	})
	s.On("order.placed", "a", 10, false, func(_ context.Context, _ any) error {
		order = append(order, "email")
		return nil
	})

	s.Emit(context.Background(), "order.placed", map[string]any{"id": "o-1"})
	assert.Equal(t, []string{"email", "inventory"}, order)
}

func TestEmit_PayloadDelivered(t *testing.T) {
	s := NewSystem(nil)

	var got any
	s.On("e", "p", 10, false, func(_ context.Context, payload any) error {
		got = payload
		return nil
	})

	s.Emit(context.Background(), "e", "hello")
	assert.Equal(t, "hello", got)
}

func TestEmit_FailingListenerDoesNotStopPropagation(t *testing.T) {
	s := NewSystem(nil)

	var reached bool
	s.On("e", "broken", 1, false, func(_ context.Context, _ any) error {
		return errors.New("boom")
	})
	s.On("e", "panicky", 2, false, func(_ context.Context, _ any) error {
		panic("listener exploded")
	})
	s.On("e", "sane", 3, false, func(_ context.Context, _ any) error {
		reached = true
		return nil
	})

	s.Emit(context.Background(), "e", nil)
	assert.True(t, reached)
}

func TestEmit_AsyncListenerDoesNotBlock(t *testing.T) {
	s := NewSystem(nil)

	release := make(chan struct{})
	var ran atomic.Bool
	s.On("e", "slow", 10, true, func(_ context.Context, _ any) error {
		<-release
		ran.Store(true)
		return nil
	})

	done := make(chan struct{})
	go func() {
		s.Emit(context.Background(), "e", nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on an async listener")
	}
	assert.False(t, ran.Load())

	close(release)
	s.Wait()
	assert.True(t, ran.Load())
}

func TestEmit_AsyncListenerSurvivesCallerCancellation(t *testing.T) {
	s := NewSystem(nil)

	var ctxErr error
	var wg sync.WaitGroup
	wg.Add(1)
	s.On("e", "p", 10, true, func(ctx context.Context, _ any) error {
		defer wg.Done()
		ctxErr = ctx.Err()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Emit(ctx, "e", nil)
	cancel()
	wg.Wait()

	// The listener's context is detached from the emitter's.
	assert.NoError(t, ctxErr)
}

func TestEmitAsync_AwaitsEveryListener(t *testing.T) {
	s := NewSystem(nil)

	var order []string
	s.On("e", "async", 20, true, func(_ context.Context, _ any) error {
		order = append(order, "async")
		return nil
	})
	s.On("e", "sync", 10, false, func(_ context.Context, _ any) error {
		order = append(order, "sync")
		return nil
	})

	s.EmitAsync(context.Background(), "e", nil)

	// Sequential in priority order, async flag included.
	assert.Equal(t, []string{"sync", "async"}, order)
}

func TestUnregisterAll_RemovesOnlyThatPlugin(t *testing.T) {
	s := NewSystem(nil)

	var count atomic.Int32
	s.On("e", "keep", 10, false, func(_ context.Context, _ any) error {
		count.Add(1)
		return nil
	})
	s.On("e", "drop", 10, false, func(_ context.Context, _ any) error {
		count.Add(100)
		return nil
	})

	s.UnregisterAll("drop")
	s.Emit(context.Background(), "e", nil)
	assert.Equal(t, int32(1), count.Load())
}

func TestObserver_CountsEmits(t *testing.T) {
	s := NewSystem(nil)

	var events []string
	s.SetObserver(func(event string) { events = append(events, event) })

	s.Emit(context.Background(), "a", nil)
	s.EmitAsync(context.Background(), "b", nil)

	require.Equal(t, []string{"a", "b"}, events)
}

func TestConcurrentEmitAndRegister(t *testing.T) {
	s := NewSystem(nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.On("e", "p", 10, false, func(_ context.Context, _ any) error { return nil })
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Emit(context.Background(), "e", j)
			}
		}()
	}
	wg.Wait()
	s.Wait()
}
