package sandbox

import (
	"context"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Callable is a compiled handler bound to one plugin's capability set. It is
// safe for concurrent use: every invocation runs on its own LState.
type Callable struct {
	proto   *lua.FunctionProto
	binding Binding
	budget  time.Duration
	hash    string
}

// Hash returns the content hash of the compiled source.
func (c *Callable) Hash() string { return c.hash }

// Invoke runs the handler with the given arguments. Arguments and the return
// value cross the bridge as Go values (numbers, strings, bools, []any,
// map[string]any). A handler that throws or exceeds the execution budget
// yields a *RuntimeError; the error never escapes as a panic.
func (c *Callable) Invoke(ctx context.Context, args ...any) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.budget)
	defer cancel()

	L := newRestrictedState()
	defer L.Close()
	L.SetContext(ctx)
	installBinding(L, c.binding)

	// Evaluate the chunk to obtain the handler function. The chunk was
	// verified at compile time to return a function.
	L.Push(L.NewFunctionFromProto(c.proto))
	if err := L.PCall(0, 1, nil); err != nil {
		return nil, c.runtimeErr(ctx, err)
	}
	handler, ok := L.Get(-1).(*lua.LFunction)
	L.Pop(1)
	if !ok {
		return nil, &RuntimeError{Message: "source did not return a function"}
	}

	L.Push(handler)
	for _, a := range args {
		L.Push(toLua(L, a))
	}
	if err := L.PCall(len(args), 1, nil); err != nil {
		return nil, c.runtimeErr(ctx, err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	return toGo(ret), nil
}

func (c *Callable) runtimeErr(ctx context.Context, err error) *RuntimeError {
	if ctx.Err() != nil {
		return &RuntimeError{Message: ctx.Err().Error(), Timeout: true}
	}
	return &RuntimeError{Message: err.Error()}
}
