package manager

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shopforge/plugrt/store"
)

// PackageVersion is the current export envelope version.
const PackageVersion = 1

// Package is the versioned JSON envelope a plugin exports to and imports
// from. Import assigns a fresh plugin id but preserves names, priorities and
// source text verbatim, so export→import round-trips exactly.
type Package struct {
	PackageVersion int                      `json:"packageVersion"`
	Plugin         PackagePlugin            `json:"plugin"`
	Hooks          []store.HookRegistration `json:"hooks"`
	Events         []store.EventListener    `json:"events"`
	Controllers    []store.Controller       `json:"controllers"`
	Widgets        []store.Widget           `json:"widgets"`
	Entities       []store.Entity           `json:"entities"`
	Migrations     []store.Migration        `json:"migrations"`
}

// PackagePlugin is the plugin row without its runtime identity.
type PackagePlugin struct {
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	Version  string `json:"version"`
	Manifest string `json:"manifest"`
}

// Export serializes a plugin and all of its rows into a package envelope.
func (m *Manager) Export(ctx context.Context, tenantID, pluginID string) (*Package, error) {
	plugin, err := m.store.GetPlugin(ctx, tenantID, pluginID)
	if err != nil {
		return nil, err
	}

	pkg := &Package{
		PackageVersion: PackageVersion,
		Plugin: PackagePlugin{
			Slug:     plugin.Slug,
			Name:     plugin.Name,
			Version:  plugin.Version,
			Manifest: plugin.Manifest,
		},
	}
	if pkg.Hooks, err = m.store.Hooks(ctx, tenantID, pluginID, false); err != nil {
		return nil, err
	}
	if pkg.Events, err = m.store.Listeners(ctx, tenantID, pluginID, false); err != nil {
		return nil, err
	}
	if pkg.Controllers, err = m.store.Controllers(ctx, tenantID, pluginID, false); err != nil {
		return nil, err
	}
	if pkg.Widgets, err = m.store.Widgets(ctx, tenantID, pluginID); err != nil {
		return nil, err
	}
	if pkg.Entities, err = m.store.Entities(ctx, tenantID, pluginID); err != nil {
		return nil, err
	}
	if pkg.Migrations, err = m.store.Migrations(ctx, tenantID, pluginID); err != nil {
		return nil, err
	}

	m.audit(ctx, tenantID, pluginID, "plugin.exported", plugin.Slug)
	return pkg, nil
}

// Import installs a package under a new plugin id. Row ids are reset so the
// receiving database assigns fresh ones; everything the author wrote
// (names, priorities, source text) is preserved byte for byte. Migration
// state is reset to pending: imported tables do not exist yet on this side.
func (m *Manager) Import(ctx context.Context, tenantID string, pkg *Package) (*store.Plugin, error) {
	if pkg.PackageVersion != PackageVersion {
		return nil, fmt.Errorf("unsupported package version %d", pkg.PackageVersion)
	}

	plugin := &store.Plugin{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		Slug:     pkg.Plugin.Slug,
		Name:     pkg.Plugin.Name,
		Version:  pkg.Plugin.Version,
		Status:   store.PluginStatusInstalling,
		Manifest: pkg.Plugin.Manifest,
	}

	bundle := &store.Bundle{Plugin: plugin}
	for _, h := range pkg.Hooks {
		h.ID = 0
		bundle.Hooks = append(bundle.Hooks, h)
	}
	for _, l := range pkg.Events {
		l.ID = 0
		bundle.Listeners = append(bundle.Listeners, l)
	}
	for _, c := range pkg.Controllers {
		c.ID = 0
		bundle.Controllers = append(bundle.Controllers, c)
	}
	for _, w := range pkg.Widgets {
		w.ID = 0
		bundle.Widgets = append(bundle.Widgets, w)
	}
	for _, e := range pkg.Entities {
		e.ID = 0
		e.MigrationStatus = store.EntityPending
		bundle.Entities = append(bundle.Entities, e)
	}
	for _, mig := range pkg.Migrations {
		mig.ID = 0
		mig.Status = store.MigrationPending
		mig.ExecutedAt = nil
		mig.ExecutionTimeMs = 0
		mig.ErrorMessage = ""
		bundle.Migrations = append(bundle.Migrations, mig)
	}

	if err := m.store.CreateBundle(ctx, bundle); err != nil {
		return nil, err
	}
	if err := m.store.UpdatePluginStatus(ctx, tenantID, plugin.ID, store.PluginStatusInactive); err != nil {
		return nil, err
	}
	plugin.Status = store.PluginStatusInactive

	m.audit(ctx, tenantID, plugin.ID, "plugin.imported", plugin.Slug)
	m.logger.Info("plugin imported",
		zap.String("plugin_id", plugin.ID),
		zap.String("slug", plugin.Slug))
	return plugin, nil
}
