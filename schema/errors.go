package schema

import (
	"fmt"
	"strings"
)

// ValidationError rejects a schema definition before anything is persisted.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid schema definition: %s", strings.Join(e.Issues, "; "))
}

// MigrationError reports a transactional migration failure. It is always
// surfaced and never silently retried.
type MigrationError struct {
	PluginID string
	Version  string
	Message  string
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %s/%s: %s", e.PluginID, e.Version, e.Message)
}

// RollbackError reports a failed down migration. The migration stays
// completed; resolving the divergence requires operator action.
type RollbackError struct {
	PluginID string
	Version  string
	Message  string
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback %s/%s: %s (manual intervention required)", e.PluginID, e.Version, e.Message)
}
