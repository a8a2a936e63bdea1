package store

import (
	"time"
)

// PluginStatus is the lifecycle state of an installed plugin.
type PluginStatus string

const (
	PluginStatusInstalling PluginStatus = "installing"
	PluginStatusActive     PluginStatus = "active"
	PluginStatusInactive   PluginStatus = "inactive"
	PluginStatusError      PluginStatus = "error"
)

// HookType distinguishes value-transforming filters from side-effect actions.
type HookType string

const (
	HookTypeFilter HookType = "filter"
	HookTypeAction HookType = "action"
)

// MigrationStatus is the state machine position of one plugin migration.
// Status only advances pending → running → {completed, failed};
// completed → rolled_back is the single reverse edge, taken only by an
// explicit rollback.
type MigrationStatus string

const (
	MigrationPending    MigrationStatus = "pending"
	MigrationRunning    MigrationStatus = "running"
	MigrationCompleted  MigrationStatus = "completed"
	MigrationFailed     MigrationStatus = "failed"
	MigrationRolledBack MigrationStatus = "rolled_back"
)

// EntityStatus mirrors the owning migration for the entity row.
type EntityStatus string

const (
	EntityPending  EntityStatus = "pending"
	EntityMigrated EntityStatus = "migrated"
	EntityFailed   EntityStatus = "failed"
)

// Plugin is one tenant-installed plugin. Slug is unique per tenant; status
// transitions happen only through the plugin manager.
type Plugin struct {
	ID        string       `gorm:"primaryKey;size:36" json:"id"`
	TenantID  string       `gorm:"size:36;not null;uniqueIndex:ux_plugins_tenant_slug" json:"tenant_id"`
	Slug      string       `gorm:"size:64;not null;uniqueIndex:ux_plugins_tenant_slug" json:"slug"`
	Name      string       `gorm:"size:128" json:"name"`
	Version   string       `gorm:"size:32" json:"version"`
	Status    PluginStatus `gorm:"size:16;not null" json:"status"`
	Manifest  string       `gorm:"type:text" json:"manifest"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (Plugin) TableName() string { return "plugins" }

// HookRegistration is one stored hook handler. A plugin may register several
// handlers for the same hook name with distinct priorities; the
// auto-increment id doubles as the tie-breaker for equal priorities.
type HookRegistration struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID  string    `gorm:"size:36;not null;index" json:"tenant_id"`
	PluginID  string    `gorm:"size:36;not null;index" json:"plugin_id"`
	HookName  string    `gorm:"size:128;not null;index" json:"hook_name"`
	HookType  HookType  `gorm:"size:8;not null" json:"hook_type"`
	Source    string    `gorm:"type:text;not null" json:"source"`
	Priority  int       `gorm:"not null;default:10" json:"priority"`
	Enabled   bool      `gorm:"not null;default:true" json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

func (HookRegistration) TableName() string { return "plugin_hooks" }

// EventListener is one stored pub/sub listener.
type EventListener struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID  string    `gorm:"size:36;not null;index" json:"tenant_id"`
	PluginID  string    `gorm:"size:36;not null;index" json:"plugin_id"`
	EventName string    `gorm:"size:128;not null;index" json:"event_name"`
	Source    string    `gorm:"type:text;not null" json:"source"`
	Priority  int       `gorm:"not null;default:10" json:"priority"`
	IsAsync   bool      `gorm:"not null;default:false" json:"is_async"`
	Enabled   bool      `gorm:"not null;default:true" json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

func (EventListener) TableName() string { return "plugin_event_listeners" }

// Controller is one stored API endpoint. (plugin_id, method, path) is unique.
type Controller struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID     string    `gorm:"size:36;not null;index" json:"tenant_id"`
	PluginID     string    `gorm:"size:36;not null;uniqueIndex:ux_controllers_route" json:"plugin_id"`
	Method       string    `gorm:"size:8;not null;uniqueIndex:ux_controllers_route" json:"method"`
	Path         string    `gorm:"size:256;not null;uniqueIndex:ux_controllers_route" json:"path"`
	Source       string    `gorm:"type:text;not null" json:"source"`
	RequiresAuth bool      `gorm:"not null;default:false" json:"requires_auth"`
	AllowedRoles string    `gorm:"size:512" json:"allowed_roles"`
	RateLimit    int       `gorm:"not null;default:0" json:"rate_limit"`
	Enabled      bool      `gorm:"not null;default:true" json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
}

func (Controller) TableName() string { return "plugin_controllers" }

// Widget is one stored renderable unit; widget_id is unique per plugin.
type Widget struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID      string    `gorm:"size:36;not null;index" json:"tenant_id"`
	PluginID      string    `gorm:"size:36;not null;uniqueIndex:ux_widgets_plugin_widget" json:"plugin_id"`
	WidgetID      string    `gorm:"size:128;not null;uniqueIndex:ux_widgets_plugin_widget" json:"widget_id"`
	Source        string    `gorm:"type:text;not null" json:"source"`
	DefaultConfig string    `gorm:"type:text" json:"default_config"`
	Category      string    `gorm:"size:64" json:"category"`
	CreatedAt     time.Time `json:"created_at"`
}

func (Widget) TableName() string { return "plugin_widgets" }

// Entity is one plugin-declared table schema. The entity is not live until
// its owning migration is completed.
type Entity struct {
	ID               uint         `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID         string       `gorm:"size:36;not null;index" json:"tenant_id"`
	PluginID         string       `gorm:"size:36;not null;uniqueIndex:ux_entities_plugin_name" json:"plugin_id"`
	EntityName       string       `gorm:"size:128;not null;uniqueIndex:ux_entities_plugin_name" json:"entity_name"`
	TableName_       string       `gorm:"column:table_name;size:128;not null" json:"table_name"`
	SchemaDefinition string       `gorm:"type:text;not null" json:"schema_definition"`
	MigrationStatus  EntityStatus `gorm:"size:16;not null;default:pending" json:"migration_status"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

func (Entity) TableName() string { return "plugin_entities" }

// Migration is one versioned, reversible schema change. (plugin_id, version)
// is unique; version strings sort ascending in execution order.
type Migration struct {
	ID              uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID        string          `gorm:"size:36;not null;index" json:"tenant_id"`
	PluginID        string          `gorm:"size:36;not null;uniqueIndex:ux_migrations_plugin_version" json:"plugin_id"`
	Version         string          `gorm:"size:32;not null;uniqueIndex:ux_migrations_plugin_version" json:"version"`
	Description     string          `gorm:"size:256" json:"description"`
	TableName_      string          `gorm:"column:table_name;size:128" json:"table_name"`
	UpSQL           string          `gorm:"type:text;not null" json:"up_sql"`
	DownSQL         string          `gorm:"type:text;not null" json:"down_sql"`
	Checksum        string          `gorm:"size:64;not null" json:"checksum"`
	Status          MigrationStatus `gorm:"size:16;not null;default:pending" json:"status"`
	ExecutedAt      *time.Time      `json:"executed_at,omitempty"`
	ExecutionTimeMs int64           `gorm:"not null;default:0" json:"execution_time_ms"`
	ErrorMessage    string          `gorm:"type:text" json:"error_message"`
	CreatedAt       time.Time       `json:"created_at"`
}

func (Migration) TableName() string { return "plugin_migrations" }

// AuditEntry records a lifecycle transition for the operator trail.
type AuditEntry struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID  string    `gorm:"size:36;not null;index" json:"tenant_id"`
	PluginID  string    `gorm:"size:36;index" json:"plugin_id"`
	Action    string    `gorm:"size:64;not null" json:"action"`
	Detail    string    `gorm:"type:text" json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

func (AuditEntry) TableName() string { return "plugin_audit_log" }

// AllModels lists every code-store model, in foreign-key-safe order.
func AllModels() []any {
	return []any{
		&Plugin{},
		&HookRegistration{},
		&EventListener{},
		&Controller{},
		&Widget{},
		&Entity{},
		&Migration{},
		&AuditEntry{},
	}
}
