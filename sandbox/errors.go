package sandbox

import (
	"errors"
	"fmt"
)

// Sentinel errors for the sandbox.
var (
	ErrCompilerClosed = errors.New("compiler is closed")
	ErrTimeout        = errors.New("execution budget exceeded")
)

// CompileError reports that plugin source could not be turned into a
// callable. It is always returned as a value; a bad component never crashes
// the caller.
type CompileError struct {
	Message string
	Line    int
}

func (e *CompileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("compile error at line %d: %s", e.Line, e.Message)
	}
	return "compile error: " + e.Message
}

// RuntimeError reports that a compiled handler failed at call time. The
// failure is isolated to that single call.
type RuntimeError struct {
	Message string
	Timeout bool
}

func (e *RuntimeError) Error() string {
	if e.Timeout {
		return "runtime timeout: " + e.Message
	}
	return "runtime error: " + e.Message
}

func (e *RuntimeError) Unwrap() error {
	if e.Timeout {
		return ErrTimeout
	}
	return nil
}

// CapabilityError reports a capability that was requested but not granted.
type CapabilityError struct {
	Capability Capability
}

func (e *CapabilityError) Error() string {
	return "capability not granted: " + e.Capability.String()
}
