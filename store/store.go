package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Sentinel errors for the code store.
var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateRoute = errors.New("duplicate controller route")
)

// Store is the repository over the code-store tables. All methods are
// tenant-scoped; ordinary row-level transactions make concurrent access safe.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New creates a Store.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "store")),
	}
}

// DB exposes the underlying handle for the schema subsystem, which executes
// generated DDL through the same connection.
func (s *Store) DB() *gorm.DB { return s.db }

// Transaction runs fn inside a database transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// =============================================================================
// Plugin rows
// =============================================================================

// Bundle is the full row set of one plugin, persisted atomically on create.
type Bundle struct {
	Plugin      *Plugin
	Hooks       []HookRegistration
	Listeners   []EventListener
	Controllers []Controller
	Widgets     []Widget
	Entities    []Entity
	Migrations  []Migration
}

// CreateBundle persists a plugin and all of its sub-rows as one atomic unit:
// either every row exists afterwards or none do.
func (s *Store) CreateBundle(ctx context.Context, b *Bundle) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(b.Plugin).Error; err != nil {
			return fmt.Errorf("create plugin: %w", err)
		}
		for i := range b.Hooks {
			b.Hooks[i].TenantID = b.Plugin.TenantID
			b.Hooks[i].PluginID = b.Plugin.ID
		}
		for i := range b.Listeners {
			b.Listeners[i].TenantID = b.Plugin.TenantID
			b.Listeners[i].PluginID = b.Plugin.ID
		}
		for i := range b.Controllers {
			b.Controllers[i].TenantID = b.Plugin.TenantID
			b.Controllers[i].PluginID = b.Plugin.ID
		}
		for i := range b.Widgets {
			b.Widgets[i].TenantID = b.Plugin.TenantID
			b.Widgets[i].PluginID = b.Plugin.ID
		}
		for i := range b.Entities {
			b.Entities[i].TenantID = b.Plugin.TenantID
			b.Entities[i].PluginID = b.Plugin.ID
		}
		for i := range b.Migrations {
			b.Migrations[i].TenantID = b.Plugin.TenantID
			b.Migrations[i].PluginID = b.Plugin.ID
		}
		if len(b.Hooks) > 0 {
			if err := tx.Create(&b.Hooks).Error; err != nil {
				return fmt.Errorf("create hooks: %w", err)
			}
		}
		if len(b.Listeners) > 0 {
			if err := tx.Create(&b.Listeners).Error; err != nil {
				return fmt.Errorf("create listeners: %w", err)
			}
		}
		if len(b.Controllers) > 0 {
			if err := tx.Create(&b.Controllers).Error; err != nil {
				return fmt.Errorf("create controllers: %w", err)
			}
		}
		if len(b.Widgets) > 0 {
			if err := tx.Create(&b.Widgets).Error; err != nil {
				return fmt.Errorf("create widgets: %w", err)
			}
		}
		if len(b.Entities) > 0 {
			if err := tx.Create(&b.Entities).Error; err != nil {
				return fmt.Errorf("create entities: %w", err)
			}
		}
		if len(b.Migrations) > 0 {
			if err := tx.Create(&b.Migrations).Error; err != nil {
				return fmt.Errorf("create migrations: %w", err)
			}
		}
		return nil
	})
}

// GetPlugin returns one plugin by id within the tenant.
func (s *Store) GetPlugin(ctx context.Context, tenantID, pluginID string) (*Plugin, error) {
	var p Plugin
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, pluginID).
		First(&p).Error
	if err != nil {
		return nil, wrapNotFound(err, "plugin %s", pluginID)
	}
	return &p, nil
}

// GetPluginBySlug returns one plugin by slug within the tenant.
func (s *Store) GetPluginBySlug(ctx context.Context, tenantID, slug string) (*Plugin, error) {
	var p Plugin
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND slug = ?", tenantID, slug).
		First(&p).Error
	if err != nil {
		return nil, wrapNotFound(err, "plugin slug %s", slug)
	}
	return &p, nil
}

// ListPlugins returns all plugins of a tenant ordered by slug.
func (s *Store) ListPlugins(ctx context.Context, tenantID string) ([]Plugin, error) {
	var out []Plugin
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("slug").
		Find(&out).Error
	return out, err
}

// UpdatePluginStatus transitions a plugin's lifecycle status.
func (s *Store) UpdatePluginStatus(ctx context.Context, tenantID, pluginID string, status PluginStatus) error {
	res := s.db.WithContext(ctx).
		Model(&Plugin{}).
		Where("tenant_id = ? AND id = ?", tenantID, pluginID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("plugin %s: %w", pluginID, ErrNotFound)
	}
	return nil
}

// =============================================================================
// Component rows
// =============================================================================

// Hooks returns a plugin's hook registrations ordered by priority then
// insertion, optionally only enabled ones.
func (s *Store) Hooks(ctx context.Context, tenantID, pluginID string, enabledOnly bool) ([]HookRegistration, error) {
	var out []HookRegistration
	q := s.db.WithContext(ctx).
		Where("tenant_id = ? AND plugin_id = ?", tenantID, pluginID)
	if enabledOnly {
		q = q.Where("enabled = ?", true)
	}
	err := q.Order("priority, id").Find(&out).Error
	return out, err
}

// Listeners returns a plugin's event listeners ordered by priority then
// insertion.
func (s *Store) Listeners(ctx context.Context, tenantID, pluginID string, enabledOnly bool) ([]EventListener, error) {
	var out []EventListener
	q := s.db.WithContext(ctx).
		Where("tenant_id = ? AND plugin_id = ?", tenantID, pluginID)
	if enabledOnly {
		q = q.Where("enabled = ?", true)
	}
	err := q.Order("priority, id").Find(&out).Error
	return out, err
}

// Controllers returns a plugin's controllers.
func (s *Store) Controllers(ctx context.Context, tenantID, pluginID string, enabledOnly bool) ([]Controller, error) {
	var out []Controller
	q := s.db.WithContext(ctx).
		Where("tenant_id = ? AND plugin_id = ?", tenantID, pluginID)
	if enabledOnly {
		q = q.Where("enabled = ?", true)
	}
	err := q.Order("id").Find(&out).Error
	return out, err
}

// Widgets returns a plugin's widgets.
func (s *Store) Widgets(ctx context.Context, tenantID, pluginID string) ([]Widget, error) {
	var out []Widget
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND plugin_id = ?", tenantID, pluginID).
		Order("id").Find(&out).Error
	return out, err
}

// SetHookEnabled flips one hook registration. The authoring tools use these
// toggles; runtime registries pick the change up on the next activation.
func (s *Store) SetHookEnabled(ctx context.Context, tenantID string, hookID uint, enabled bool) error {
	return s.setEnabled(ctx, &HookRegistration{}, tenantID, hookID, enabled)
}

// SetListenerEnabled flips one event listener.
func (s *Store) SetListenerEnabled(ctx context.Context, tenantID string, listenerID uint, enabled bool) error {
	return s.setEnabled(ctx, &EventListener{}, tenantID, listenerID, enabled)
}

// SetControllerEnabled flips one controller.
func (s *Store) SetControllerEnabled(ctx context.Context, tenantID string, controllerID uint, enabled bool) error {
	return s.setEnabled(ctx, &Controller{}, tenantID, controllerID, enabled)
}

func (s *Store) setEnabled(ctx context.Context, model any, tenantID string, id uint, enabled bool) error {
	res := s.db.WithContext(ctx).
		Model(model).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Update("enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// Entities and migrations
// =============================================================================

// CreateEntityWithMigration persists an entity and its owning migration in
// one transaction.
func (s *Store) CreateEntityWithMigration(ctx context.Context, entity *Entity, migration *Migration) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entity).Error; err != nil {
			return fmt.Errorf("create entity: %w", err)
		}
		if err := tx.Create(migration).Error; err != nil {
			return fmt.Errorf("create migration: %w", err)
		}
		return nil
	})
}

// Entities returns a plugin's entities.
func (s *Store) Entities(ctx context.Context, tenantID, pluginID string) ([]Entity, error) {
	var out []Entity
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND plugin_id = ?", tenantID, pluginID).
		Order("id").Find(&out).Error
	return out, err
}

// Migrations returns migrations ordered by ascending version; pluginID may
// be empty to list a tenant's full migration history.
func (s *Store) Migrations(ctx context.Context, tenantID, pluginID string) ([]Migration, error) {
	var out []Migration
	q := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if pluginID != "" {
		q = q.Where("plugin_id = ?", pluginID)
	}
	err := q.Order("version").Find(&out).Error
	return out, err
}

// GetMigration returns one migration addressed by plugin and version.
func (s *Store) GetMigration(ctx context.Context, tenantID, pluginID, version string) (*Migration, error) {
	var m Migration
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND plugin_id = ? AND version = ?", tenantID, pluginID, version).
		First(&m).Error
	if err != nil {
		return nil, wrapNotFound(err, "migration %s/%s", pluginID, version)
	}
	return &m, nil
}

// UpdateMigration saves the mutable migration fields (status, timestamps,
// timing, error message).
func (s *Store) UpdateMigration(ctx context.Context, m *Migration) error {
	return s.db.WithContext(ctx).
		Model(&Migration{}).
		Where("id = ?", m.ID).
		Select("status", "executed_at", "execution_time_ms", "error_message").
		Updates(m).Error
}

// UpdateEntityStatus mirrors a migration outcome onto the entity row.
func (s *Store) UpdateEntityStatus(ctx context.Context, tenantID, pluginID, tableName string, status EntityStatus) error {
	return s.db.WithContext(ctx).
		Model(&Entity{}).
		Where("tenant_id = ? AND plugin_id = ? AND table_name = ?", tenantID, pluginID, tableName).
		Update("migration_status", status).Error
}

// =============================================================================
// Deletion and audit
// =============================================================================

// CleanupOptions selects which rows Uninstall removes. Deletion is never
// implicit; callers opt in per category.
type CleanupOptions struct {
	RemoveCode  bool // hook/listener/controller/widget rows and the plugin row
	CleanupData bool // entity and migration rows
}

// DeletePluginRows removes a plugin's rows according to opts, in one
// transaction.
func (s *Store) DeletePluginRows(ctx context.Context, tenantID, pluginID string, opts CleanupOptions) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scoped := func() *gorm.DB {
			return tx.Where("tenant_id = ? AND plugin_id = ?", tenantID, pluginID)
		}
		if opts.RemoveCode {
			for _, model := range []any{&HookRegistration{}, &EventListener{}, &Controller{}, &Widget{}} {
				if err := scoped().Delete(model).Error; err != nil {
					return err
				}
			}
		}
		if opts.CleanupData {
			for _, model := range []any{&Entity{}, &Migration{}} {
				if err := scoped().Delete(model).Error; err != nil {
					return err
				}
			}
		}
		if opts.RemoveCode {
			if err := tx.Where("tenant_id = ? AND id = ?", tenantID, pluginID).
				Delete(&Plugin{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Audit appends an audit entry. Audit failures are logged, never fatal.
func (s *Store) Audit(ctx context.Context, entry *AuditEntry) {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		s.logger.Warn("audit write failed",
			zap.String("action", entry.Action),
			zap.String("plugin_id", entry.PluginID),
			zap.Error(err))
	}
}

func wrapNotFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return err
}
