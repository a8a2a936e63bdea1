package api

import (
	"time"

	"github.com/shopforge/plugrt/manager"
	"github.com/shopforge/plugrt/schema"
	"github.com/shopforge/plugrt/store"
)

// PluginInfo is the admin-facing view of an installed plugin.
type PluginInfo struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ToPluginInfo converts a stored plugin row.
func ToPluginInfo(p *store.Plugin) PluginInfo {
	return PluginInfo{
		ID:        p.ID,
		TenantID:  p.TenantID,
		Slug:      p.Slug,
		Name:      p.Name,
		Version:   p.Version,
		Status:    string(p.Status),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

// CreatePluginRequest installs a new plugin for the calling tenant.
type CreatePluginRequest = manager.Definition

// DefineEntityRequest declares one entity schema on an installed plugin.
type DefineEntityRequest = schema.Definition

// MigrationRunRequest controls one migration execution.
type MigrationRunRequest struct {
	DryRun bool `json:"dry_run,omitempty"`
	Force  bool `json:"force,omitempty"`
}

// MigrationInfo is the admin-facing view of a plugin migration row.
type MigrationInfo struct {
	Version         string     `json:"version"`
	Description     string     `json:"description,omitempty"`
	TableName       string     `json:"table_name,omitempty"`
	Status          string     `json:"status"`
	Checksum        string     `json:"checksum"`
	ExecutedAt      *time.Time `json:"executed_at,omitempty"`
	ExecutionTimeMs int64      `json:"execution_time_ms"`
	ErrorMessage    string     `json:"error_message,omitempty"`
}

// ToMigrationInfo converts a stored migration row.
func ToMigrationInfo(m *store.Migration) MigrationInfo {
	return MigrationInfo{
		Version:         m.Version,
		Description:     m.Description,
		TableName:       m.TableName_,
		Status:          string(m.Status),
		Checksum:        m.Checksum,
		ExecutedAt:      m.ExecutedAt,
		ExecutionTimeMs: m.ExecutionTimeMs,
		ErrorMessage:    m.ErrorMessage,
	}
}
