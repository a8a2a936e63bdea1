package manager

import (
	"fmt"
	"strings"
)

// ValidationError rejects a plugin definition before persistence.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid plugin definition: " + strings.Join(e.Issues, "; ")
}

// PermissionError reports a manifest capability the host refuses. The whole
// plugin is flagged errored and nothing of it is registered.
type PermissionError struct {
	PluginID string
	Cause    error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("plugin %s: capability violation: %v", e.PluginID, e.Cause)
}

func (e *PermissionError) Unwrap() error { return e.Cause }
