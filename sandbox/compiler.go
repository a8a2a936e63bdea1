package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultExecutionBudget bounds a single handler invocation.
const DefaultExecutionBudget = 3 * time.Second

// Option configures a Compiler.
type Option func(*Compiler)

// WithExecutionBudget sets the wall-clock budget for a single invocation.
func WithExecutionBudget(d time.Duration) Option {
	return func(c *Compiler) { c.budget = d }
}

// WithObserver installs a per-compile callback, used for metrics.
func WithObserver(fn func(cached, failed bool)) Option {
	return func(c *Compiler) { c.observe = fn }
}

// Compiler turns stored source text into callables. Compiled function
// prototypes are cached by SHA-256 content hash, write-once per hash; the
// singleflight group collapses concurrent first compilations of identical
// source.
type Compiler struct {
	mu      sync.RWMutex
	cache   map[string]*lua.FunctionProto
	group   singleflight.Group
	budget  time.Duration
	observe func(cached, failed bool)
	logger  *zap.Logger
	closed  bool
}

// NewCompiler creates a Compiler.
func NewCompiler(logger *zap.Logger, opts ...Option) *Compiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Compiler{
		cache:  make(map[string]*lua.FunctionProto),
		budget: DefaultExecutionBudget,
		logger: logger.With(zap.String("component", "sandbox")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile parses and compiles source under the given capability binding. The
// returned error is a *CompileError for bad source; it never panics and a
// failed compile leaves the compiler fully usable.
func (c *Compiler) Compile(ctx context.Context, source string, binding Binding) (*Callable, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, ErrCompilerClosed
	}
	c.mu.RUnlock()

	hash := contentHash(source)

	c.mu.RLock()
	proto, hit := c.cache[hash]
	c.mu.RUnlock()

	if !hit {
		v, err, _ := c.group.Do(hash, func() (any, error) {
			p, err := compileSource(source)
			if err != nil {
				return nil, err
			}
			c.mu.Lock()
			c.cache[hash] = p
			c.mu.Unlock()
			return p, nil
		})
		if err != nil {
			c.observed(false, true)
			var ce *CompileError
			if errors.As(err, &ce) {
				return nil, ce
			}
			return nil, &CompileError{Message: err.Error()}
		}
		proto = v.(*lua.FunctionProto)
		c.logger.Debug("source compiled", zap.String("hash", hash[:12]))
	}
	c.observed(hit, false)

	return &Callable{
		proto:   proto,
		binding: binding,
		budget:  c.budget,
		hash:    hash,
	}, nil
}

func (c *Compiler) observed(cached, failed bool) {
	if c.observe != nil {
		c.observe(cached, failed)
	}
}

// CacheSize returns the number of distinct compiled sources.
func (c *Compiler) CacheSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Close drops the cache. Outstanding callables keep working; new Compile
// calls fail.
func (c *Compiler) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cache = make(map[string]*lua.FunctionProto)
}

// compileSource parses and compiles a chunk, then verifies in a throwaway
// restricted state that evaluating it yields a function. Doing the shape
// check here means a broken component is rejected at activation, not at
// first dispatch.
func compileSource(source string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(strings.NewReader(source), "plugin")
	if err != nil {
		return nil, compileErrFromLua(err)
	}
	proto, err := lua.Compile(chunk, "plugin")
	if err != nil {
		return nil, compileErrFromLua(err)
	}

	L := newRestrictedState()
	defer L.Close()
	L.Push(L.NewFunctionFromProto(proto))
	if err := L.PCall(0, 1, nil); err != nil {
		return nil, compileErrFromLua(err)
	}
	if _, ok := L.Get(-1).(*lua.LFunction); !ok {
		return nil, &CompileError{Message: "source must return a function"}
	}
	return proto, nil
}

func compileErrFromLua(err error) *CompileError {
	ce := &CompileError{Message: err.Error()}
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		ce.Message = apiErr.Object.String()
	}
	return ce
}

func contentHash(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}
