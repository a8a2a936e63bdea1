// Package manager orchestrates the plugin lifecycle: install, activate,
// deactivate and uninstall. It is the only component that transitions plugin
// status and the only writer of the four runtime registries.
//
// Fault isolation is per component: a hook, listener, controller or widget
// that fails to compile is recorded in the activation report and skipped
// while its siblings register normally. The exception is a manifest
// capability the host refuses: that flags the whole plugin errored and
// registers nothing.
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shopforge/plugrt/events"
	"github.com/shopforge/plugrt/hooks"
	"github.com/shopforge/plugrt/router"
	"github.com/shopforge/plugrt/sandbox"
	"github.com/shopforge/plugrt/schema"
	"github.com/shopforge/plugrt/store"
	"github.com/shopforge/plugrt/widgets"
)

// ComponentError records one component that failed to compile or register
// during activation.
type ComponentError struct {
	Kind  string `json:"kind"` // hook, listener, controller, widget
	Name  string `json:"name"`
	Error string `json:"error"`
}

// ActivationReport summarizes an activation: how many components registered
// and which ones were skipped.
type ActivationReport struct {
	PluginID   string           `json:"plugin_id"`
	Registered int              `json:"registered"`
	Failed     []ComponentError `json:"failed,omitempty"`
}

// UninstallOptions select what an uninstall removes. Nothing is deleted
// implicitly.
type UninstallOptions struct {
	RemoveCode    bool `json:"remove_code"`
	CleanupData   bool `json:"cleanup_data"`
	CleanupTables bool `json:"cleanup_tables"`
}

// UninstallReport carries per-migration rollback outcomes; table cleanup is
// best-effort and never aborts the uninstall.
type UninstallReport struct {
	PluginID       string   `json:"plugin_id"`
	RolledBack     []string `json:"rolled_back,omitempty"`
	RollbackErrors []string `json:"rollback_errors,omitempty"`
}

// Manager wires the code store, the sandbox and the four runtime registries
// together.
type Manager struct {
	store    *store.Store
	compiler *sandbox.Compiler
	hooks    *hooks.System
	events   *events.System
	router   *router.Router
	widgets  *widgets.Registry
	schema   *schema.Service
	logger   *zap.Logger
}

// New creates a Manager.
func New(
	st *store.Store,
	compiler *sandbox.Compiler,
	hookSys *hooks.System,
	eventSys *events.System,
	rt *router.Router,
	widgetReg *widgets.Registry,
	schemaSvc *schema.Service,
	logger *zap.Logger,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:    st,
		compiler: compiler,
		hooks:    hookSys,
		events:   eventSys,
		router:   rt,
		widgets:  widgetReg,
		schema:   schemaSvc,
		logger:   logger.With(zap.String("component", "manager")),
	}
}

// Schema exposes the migration operator surface.
func (m *Manager) Schema() *schema.Service { return m.schema }

// CreatePlugin validates the definition and persists the plugin with all of
// its sub-rows as one atomic unit. Entity definitions get their migrations
// generated here; nothing is executed until Run is called.
func (m *Manager) CreatePlugin(ctx context.Context, tenantID string, def *Definition) (*store.Plugin, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	plugin := &store.Plugin{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		Slug:     def.Slug,
		Name:     def.Name,
		Version:  def.Version,
		Status:   store.PluginStatusInstalling,
		Manifest: encodeManifest(def.Manifest),
	}

	bundle := &store.Bundle{Plugin: plugin}
	for _, h := range def.Hooks {
		bundle.Hooks = append(bundle.Hooks, store.HookRegistration{
			HookName: h.HookName,
			HookType: h.HookType,
			Source:   h.Source,
			Priority: priorityOrDefault(h.Priority),
			Enabled:  h.Enabled,
		})
	}
	for _, l := range def.Listeners {
		bundle.Listeners = append(bundle.Listeners, store.EventListener{
			EventName: l.EventName,
			Source:    l.Source,
			Priority:  priorityOrDefault(l.Priority),
			IsAsync:   l.IsAsync,
			Enabled:   l.Enabled,
		})
	}
	for _, c := range def.Controllers {
		bundle.Controllers = append(bundle.Controllers, store.Controller{
			Method:       c.Method,
			Path:         c.Path,
			Source:       c.Source,
			RequiresAuth: c.RequiresAuth,
			AllowedRoles: encodeRoles(c.AllowedRoles),
			RateLimit:    c.RateLimit,
			Enabled:      c.Enabled,
		})
	}
	for _, w := range def.Widgets {
		bundle.Widgets = append(bundle.Widgets, store.Widget{
			WidgetID:      w.WidgetID,
			Source:        w.Source,
			DefaultConfig: encodeConfig(w.DefaultConfig),
			Category:      w.Category,
		})
	}

	base := time.Now().UTC().Format("20060102_150405")
	for i := range def.Entities {
		entityDef := def.Entities[i]
		upSQL := schema.GenerateUpSQL(&entityDef, m.schema.Dialect())
		downSQL := schema.GenerateDownSQL(&entityDef, m.schema.Dialect())
		rawDef, err := json.Marshal(&entityDef)
		if err != nil {
			return nil, fmt.Errorf("encode entity %s: %w", entityDef.EntityName, err)
		}
		version := base
		if i > 0 {
			version = fmt.Sprintf("%s_%02d", base, i)
		}
		bundle.Entities = append(bundle.Entities, store.Entity{
			EntityName:       entityDef.EntityName,
			TableName_:       entityDef.TableName,
			SchemaDefinition: string(rawDef),
			MigrationStatus:  store.EntityPending,
		})
		bundle.Migrations = append(bundle.Migrations, store.Migration{
			Version:     version,
			Description: "create table " + entityDef.TableName,
			TableName_:  entityDef.TableName,
			UpSQL:       upSQL,
			DownSQL:     downSQL,
			Checksum:    schema.Checksum(upSQL, downSQL),
			Status:      store.MigrationPending,
		})
	}

	if err := m.store.CreateBundle(ctx, bundle); err != nil {
		return nil, err
	}
	if err := m.store.UpdatePluginStatus(ctx, tenantID, plugin.ID, store.PluginStatusInactive); err != nil {
		return nil, err
	}
	plugin.Status = store.PluginStatusInactive

	m.audit(ctx, tenantID, plugin.ID, "plugin.created", def.Slug)
	m.logger.Info("plugin created",
		zap.String("plugin_id", plugin.ID),
		zap.String("slug", def.Slug),
		zap.String("tenant_id", tenantID))
	return plugin, nil
}

// Activate compiles every enabled component and registers the successes
// into the runtime registries. Per-component failures land in the report;
// a capability violation flags the plugin errored and registers nothing.
// Activating an active plugin re-registers it from scratch, so stale
// registrations never stack.
func (m *Manager) Activate(ctx context.Context, tenantID, pluginID string) (*ActivationReport, error) {
	plugin, err := m.store.GetPlugin(ctx, tenantID, pluginID)
	if err != nil {
		return nil, err
	}

	m.unregisterAll(pluginID)

	manifest, err := decodeManifest(plugin.Manifest)
	if err != nil {
		return nil, m.flagError(ctx, plugin, fmt.Errorf("manifest unreadable: %w", err))
	}
	caps, err := sandbox.NewCapabilitySet(manifest.Capabilities)
	if err != nil {
		return nil, m.flagError(ctx, plugin, err)
	}

	binding := sandbox.Binding{Caps: caps}
	if caps.HasDB() {
		tables, err := m.liveTables(ctx, tenantID, pluginID)
		if err != nil {
			return nil, err
		}
		binding.DB = store.NewTenantAccessor(m.store.DB(), tenantID, pluginID, tables)
	}

	report := &ActivationReport{PluginID: pluginID}

	hookRows, err := m.store.Hooks(ctx, tenantID, pluginID, true)
	if err != nil {
		return nil, err
	}
	for _, row := range hookRows {
		callable, cerr := m.compiler.Compile(ctx, row.Source, binding)
		if cerr != nil {
			report.Failed = append(report.Failed, ComponentError{Kind: "hook", Name: row.HookName, Error: cerr.Error()})
			continue
		}
		switch row.HookType {
		case store.HookTypeFilter:
			m.hooks.RegisterFilter(row.HookName, pluginID, row.Priority, filterAdapter(callable))
		case store.HookTypeAction:
			m.hooks.RegisterAction(row.HookName, pluginID, row.Priority, actionAdapter(callable))
		}
		report.Registered++
	}

	listenerRows, err := m.store.Listeners(ctx, tenantID, pluginID, true)
	if err != nil {
		return nil, err
	}
	for _, row := range listenerRows {
		callable, cerr := m.compiler.Compile(ctx, row.Source, binding)
		if cerr != nil {
			report.Failed = append(report.Failed, ComponentError{Kind: "listener", Name: row.EventName, Error: cerr.Error()})
			continue
		}
		m.events.On(row.EventName, pluginID, row.Priority, row.IsAsync, listenerAdapter(callable))
		report.Registered++
	}

	controllerRows, err := m.store.Controllers(ctx, tenantID, pluginID, true)
	if err != nil {
		return nil, err
	}
	for _, row := range controllerRows {
		callable, cerr := m.compiler.Compile(ctx, row.Source, binding)
		if cerr != nil {
			report.Failed = append(report.Failed, ComponentError{Kind: "controller", Name: row.Method + " " + row.Path, Error: cerr.Error()})
			continue
		}
		route := &router.Route{
			TenantID:     tenantID,
			PluginID:     pluginID,
			Slug:         plugin.Slug,
			Method:       row.Method,
			Path:         row.Path,
			RequiresAuth: row.RequiresAuth,
			AllowedRoles: decodeRoles(row.AllowedRoles),
			RateLimit:    row.RateLimit,
			Handler:      controllerAdapter(callable),
		}
		if rerr := m.router.Register(route); rerr != nil {
			report.Failed = append(report.Failed, ComponentError{Kind: "controller", Name: row.Method + " " + row.Path, Error: rerr.Error()})
			continue
		}
		report.Registered++
	}

	widgetRows, err := m.store.Widgets(ctx, tenantID, pluginID)
	if err != nil {
		return nil, err
	}
	for _, row := range widgetRows {
		callable, cerr := m.compiler.Compile(ctx, row.Source, binding)
		if cerr != nil {
			report.Failed = append(report.Failed, ComponentError{Kind: "widget", Name: row.WidgetID, Error: cerr.Error()})
			continue
		}
		if werr := m.widgets.Register(pluginID, row.WidgetID, row.Category, decodeConfig(row.DefaultConfig), widgetAdapter(callable)); werr != nil {
			report.Failed = append(report.Failed, ComponentError{Kind: "widget", Name: row.WidgetID, Error: werr.Error()})
			continue
		}
		report.Registered++
	}

	if err := m.store.UpdatePluginStatus(ctx, tenantID, pluginID, store.PluginStatusActive); err != nil {
		return nil, err
	}

	m.audit(ctx, tenantID, pluginID, "plugin.activated",
		fmt.Sprintf("registered=%d failed=%d", report.Registered, len(report.Failed)))
	m.logger.Info("plugin activated",
		zap.String("plugin_id", pluginID),
		zap.Int("registered", report.Registered),
		zap.Int("failed", len(report.Failed)))
	return report, nil
}

// Deactivate unregisters the plugin from all four runtime registries.
// Persisted rows, entities and migrations included, are untouched.
func (m *Manager) Deactivate(ctx context.Context, tenantID, pluginID string) error {
	if _, err := m.store.GetPlugin(ctx, tenantID, pluginID); err != nil {
		return err
	}

	m.unregisterAll(pluginID)

	if err := m.store.UpdatePluginStatus(ctx, tenantID, pluginID, store.PluginStatusInactive); err != nil {
		return err
	}
	m.audit(ctx, tenantID, pluginID, "plugin.deactivated", "")
	m.logger.Info("plugin deactivated", zap.String("plugin_id", pluginID))
	return nil
}

// Uninstall deactivates and removes the plugin per opts. Table rollback is
// best-effort: each failure is reported and the uninstall continues.
func (m *Manager) Uninstall(ctx context.Context, tenantID, pluginID string, opts UninstallOptions) (*UninstallReport, error) {
	if _, err := m.store.GetPlugin(ctx, tenantID, pluginID); err != nil {
		return nil, err
	}

	m.unregisterAll(pluginID)
	report := &UninstallReport{PluginID: pluginID}

	if opts.CleanupTables {
		migrations, err := m.store.Migrations(ctx, tenantID, pluginID)
		if err != nil {
			return nil, err
		}
		for _, mig := range migrations {
			if mig.Status != store.MigrationCompleted {
				continue
			}
			if _, rerr := m.schema.Rollback(ctx, tenantID, pluginID, mig.Version); rerr != nil {
				report.RollbackErrors = append(report.RollbackErrors,
					fmt.Sprintf("%s: %v", mig.Version, rerr))
				continue
			}
			report.RolledBack = append(report.RolledBack, mig.Version)
		}
	}

	if opts.RemoveCode || opts.CleanupData {
		err := m.store.DeletePluginRows(ctx, tenantID, pluginID, store.CleanupOptions{
			RemoveCode:  opts.RemoveCode,
			CleanupData: opts.CleanupData,
		})
		if err != nil {
			return report, err
		}
	}

	m.audit(ctx, tenantID, pluginID, "plugin.uninstalled",
		fmt.Sprintf("remove_code=%t cleanup_data=%t cleanup_tables=%t rollback_errors=%d",
			opts.RemoveCode, opts.CleanupData, opts.CleanupTables, len(report.RollbackErrors)))
	m.logger.Info("plugin uninstalled", zap.String("plugin_id", pluginID))
	return report, nil
}

// DispatchHTTP adapts an incoming host request onto the router. The caller
// mounts it under router.MountPrefix.
func (m *Manager) DispatchHTTP(w http.ResponseWriter, r *http.Request, tenantID string) {
	req := router.RequestFromHTTP(r)
	resp := m.router.Dispatch(r.Context(), tenantID, r.Method, r.URL.Path, req)
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}

func (m *Manager) unregisterAll(pluginID string) {
	m.hooks.UnregisterAll(pluginID)
	m.events.UnregisterAll(pluginID)
	m.router.UnregisterAll(pluginID)
	m.widgets.UnregisterAll(pluginID)
}

// liveTables returns the plugin's entity tables whose migration completed.
// Only those are reachable through the sandbox accessor.
func (m *Manager) liveTables(ctx context.Context, tenantID, pluginID string) ([]string, error) {
	entities, err := m.store.Entities(ctx, tenantID, pluginID)
	if err != nil {
		return nil, err
	}
	var tables []string
	for _, e := range entities {
		if e.MigrationStatus == store.EntityMigrated {
			tables = append(tables, e.TableName_)
		}
	}
	return tables, nil
}

func (m *Manager) flagError(ctx context.Context, plugin *store.Plugin, cause error) error {
	if err := m.store.UpdatePluginStatus(ctx, plugin.TenantID, plugin.ID, store.PluginStatusError); err != nil {
		m.logger.Error("failed to flag plugin errored", zap.Error(err))
	}
	m.audit(ctx, plugin.TenantID, plugin.ID, "plugin.capability_violation", cause.Error())
	return &PermissionError{PluginID: plugin.ID, Cause: cause}
}

func (m *Manager) audit(ctx context.Context, tenantID, pluginID, action, detail string) {
	m.store.Audit(ctx, &store.AuditEntry{
		TenantID: tenantID,
		PluginID: pluginID,
		Action:   action,
		Detail:   detail,
	})
}

func priorityOrDefault(p *int) int {
	if p == nil {
		return 10
	}
	return *p
}
