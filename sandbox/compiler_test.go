package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCaps(t *testing.T, declared ...string) CapabilitySet {
	t.Helper()
	set, err := NewCapabilitySet(declared)
	require.NoError(t, err)
	return set
}

func TestCompile_ValidSource(t *testing.T) {
	c := NewCompiler(nil)
	callable, err := c.Compile(context.Background(), `return function(v) return v * 2 end`, Binding{})
	require.NoError(t, err)
	require.NotNil(t, callable)
	assert.NotEmpty(t, callable.Hash())
}

func TestCompile_SyntaxError(t *testing.T) {
	c := NewCompiler(nil)
	_, err := c.Compile(context.Background(), `this is not valid lua`, Binding{})
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
}

func TestCompile_ChunkMustReturnFunction(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{name: "returns number", source: `return 42`},
		{name: "returns string", source: `return "hello"`},
		{name: "returns nothing", source: `local x = 1`},
		{name: "returns table", source: `return {}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCompiler(nil)
			_, err := c.Compile(context.Background(), tt.source, Binding{})
			var ce *CompileError
			require.ErrorAs(t, err, &ce)
		})
	}
}

func TestCompile_FailureLeavesCompilerUsable(t *testing.T) {
	c := NewCompiler(nil)
	_, err := c.Compile(context.Background(), `syntax error here`, Binding{})
	require.Error(t, err)

	_, err = c.Compile(context.Background(), `return function() return 1 end`, Binding{})
	require.NoError(t, err)
}

func TestCompile_CacheByContentHash(t *testing.T) {
	type obs struct {
		cached bool
		failed bool
	}
	var seen []obs
	c := NewCompiler(nil, WithObserver(func(cached, failed bool) {
		seen = append(seen, obs{cached, failed})
	}))

	src := `return function() return "x" end`
	a, err := c.Compile(context.Background(), src, Binding{})
	require.NoError(t, err)
	b, err := c.Compile(context.Background(), src, Binding{})
	require.NoError(t, err)

	assert.Equal(t, a.Hash(), b.Hash())
	assert.Equal(t, 1, c.CacheSize())
	require.Equal(t, []obs{{false, false}, {true, false}}, seen)

	_, err = c.Compile(context.Background(), `return function() return "y" end`, Binding{})
	require.NoError(t, err)
	assert.Equal(t, 2, c.CacheSize())
}

func TestCompile_AfterCloseFails(t *testing.T) {
	c := NewCompiler(nil)
	callable, err := c.Compile(context.Background(), `return function() return 7 end`, Binding{})
	require.NoError(t, err)

	c.Close()
	_, err = c.Compile(context.Background(), `return function() return 8 end`, Binding{})
	require.ErrorIs(t, err, ErrCompilerClosed)

	// Outstanding callables keep working.
	out, err := callable.Invoke(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), out)
}

// --- invocation ---

func TestInvoke_ArgumentAndReturnBridging(t *testing.T) {
	c := NewCompiler(nil)

	tests := []struct {
		name   string
		source string
		args   []any
		want   any
	}{
		{
			name:   "numbers",
			source: `return function(a, b) return a + b end`,
			args:   []any{2, 3},
			want:   int64(5),
		},
		{
			name:   "float result",
			source: `return function(v) return v * 0.5 end`,
			args:   []any{5},
			want:   2.5,
		},
		{
			name:   "string",
			source: `return function(s) return string.upper(s) end`,
			args:   []any{"hi"},
			want:   "HI",
		},
		{
			name:   "bool",
			source: `return function(v) return not v end`,
			args:   []any{true},
			want:   false,
		},
		{
			name:   "map in map out",
			source: `return function(m) m.total = m.total * 2 return m end`,
			args:   []any{map[string]any{"total": 10}},
			want:   map[string]any{"total": int64(20)},
		},
		{
			name:   "array round trip",
			source: `return function(a) return a end`,
			args:   []any{[]any{int64(1), "two", true}},
			want:   []any{int64(1), "two", true},
		},
		{
			name:   "nil result",
			source: `return function() return nil end`,
			args:   nil,
			want:   nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			callable, err := c.Compile(context.Background(), tt.source, Binding{})
			require.NoError(t, err)
			out, err := callable.Invoke(context.Background(), tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestInvoke_HandlerErrorIsRuntimeError(t *testing.T) {
	c := NewCompiler(nil)
	callable, err := c.Compile(context.Background(), `return function() error("kaboom") end`, Binding{})
	require.NoError(t, err)

	_, err = callable.Invoke(context.Background())
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.False(t, re.Timeout)
	assert.Contains(t, re.Message, "kaboom")
}

func TestInvoke_ExecutionBudgetEnforced(t *testing.T) {
	c := NewCompiler(nil, WithExecutionBudget(100*time.Millisecond))
	callable, err := c.Compile(context.Background(), `return function() while true do end end`, Binding{})
	require.NoError(t, err)

	start := time.Now()
	_, err = callable.Invoke(context.Background())
	elapsed := time.Since(start)

	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.True(t, re.Timeout)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, elapsed, 3*time.Second)
}

func TestInvoke_ConcurrentCallsAreIsolated(t *testing.T) {
	c := NewCompiler(nil)
	callable, err := c.Compile(context.Background(), `
		local counter = 0
		return function()
			counter = counter + 1
			return counter
		end`, Binding{})
	require.NoError(t, err)

	// Each invocation runs on a fresh state, so the upvalue never
	// accumulates across calls.
	for i := 0; i < 3; i++ {
		out, err := callable.Invoke(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1), out)
	}
}

// --- sandbox environment ---

func TestSandbox_DangerousGlobalsUnavailable(t *testing.T) {
	c := NewCompiler(nil)
	for _, global := range []string{"dofile", "loadstring", "load", "os", "io"} {
		global := global
		t.Run(global, func(t *testing.T) {
			callable, err := c.Compile(context.Background(),
				`return function(name) return _G[name] == nil end`, Binding{})
			require.NoError(t, err)
			out, err := callable.Invoke(context.Background(), global)
			require.NoError(t, err)
			assert.Equal(t, true, out, "global %q should be nil", global)
		})
	}
}

func TestSandbox_RequireWhitelist(t *testing.T) {
	c := NewCompiler(nil)

	_, err := c.Compile(context.Background(), `local os = require("os") return function() end`, Binding{})
	var ce *CompileError
	require.ErrorAs(t, err, &ce)

	callable, err := c.Compile(context.Background(),
		`local s = require("string") return function(v) return s.lower(v) end`, Binding{})
	require.NoError(t, err)
	out, err := callable.Invoke(context.Background(), "ABC")
	require.NoError(t, err)
	assert.Equal(t, "abc", out)
}

// --- capability bindings ---

type fakeDB struct {
	lastQuery string
	lastArgs  []any
	rows      []map[string]any
	execCount int64
}

func (f *fakeDB) Query(_ context.Context, query string, args ...any) ([]map[string]any, error) {
	f.lastQuery = query
	f.lastArgs = args
	return f.rows, nil
}

func (f *fakeDB) Exec(_ context.Context, query string, args ...any) (int64, error) {
	f.lastQuery = query
	f.lastArgs = args
	return f.execCount, nil
}

func TestBinding_DBModuleAvailableWithCapability(t *testing.T) {
	c := NewCompiler(nil)
	db := &fakeDB{rows: []map[string]any{{"sku": "a-1", "qty": int64(3)}}}
	binding := Binding{Caps: mustCaps(t, "db"), DB: db}

	callable, err := c.Compile(context.Background(), `
		return function()
			local rows = db.query("SELECT sku, qty FROM stock WHERE qty > ?", 0)
			return rows[1].sku
		end`, binding)
	require.NoError(t, err)

	out, err := callable.Invoke(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a-1", out)
	assert.Contains(t, db.lastQuery, "FROM stock")
	assert.Equal(t, []any{int64(0)}, db.lastArgs)
}

func TestBinding_DBExecReturnsAffectedRows(t *testing.T) {
	c := NewCompiler(nil)
	db := &fakeDB{execCount: 2}
	binding := Binding{Caps: mustCaps(t, "db"), DB: db}

	callable, err := c.Compile(context.Background(), `
		return function()
			return db.exec("UPDATE stock SET qty = 0")
		end`, binding)
	require.NoError(t, err)

	out, err := callable.Invoke(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), out)
}

func TestBinding_DBModuleAbsentWithoutCapability(t *testing.T) {
	c := NewCompiler(nil)
	callable, err := c.Compile(context.Background(),
		`return function() return db == nil end`, Binding{})
	require.NoError(t, err)

	out, err := callable.Invoke(context.Background())
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestBinding_HTTPHostGating(t *testing.T) {
	c := NewCompiler(nil)
	binding := Binding{Caps: mustCaps(t, "network:allowed.example.com")}

	callable, err := c.Compile(context.Background(), `
		return function(url)
			return http.get(url)
		end`, binding)
	require.NoError(t, err)

	// A host outside the manifest raises inside the plugin before any
	// connection is attempted.
	_, err = callable.Invoke(context.Background(), "http://forbidden.example.com/data")
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Contains(t, re.Message, "not allowed")
}

func TestBinding_HTTPModuleAbsentWithoutCapability(t *testing.T) {
	c := NewCompiler(nil)
	callable, err := c.Compile(context.Background(),
		`return function() return http == nil end`, Binding{})
	require.NoError(t, err)

	out, err := callable.Invoke(context.Background())
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestRuntimeError_Unwrap(t *testing.T) {
	timeoutErr := &RuntimeError{Message: "deadline", Timeout: true}
	assert.ErrorIs(t, timeoutErr, ErrTimeout)

	plainErr := &RuntimeError{Message: "boom"}
	assert.False(t, errors.Is(plainErr, ErrTimeout))
}
