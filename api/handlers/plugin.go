package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/shopforge/plugrt/api"
	"github.com/shopforge/plugrt/manager"
	"github.com/shopforge/plugrt/store"
)

// PluginsPrefix is where the plugin admin routes are mounted.
const PluginsPrefix = "/admin/v1/plugins"

// PluginHandler serves the plugin lifecycle admin endpoints.
//
// Routes under PluginsPrefix:
//
//	GET    /admin/v1/plugins                 list tenant plugins
//	POST   /admin/v1/plugins                 install a plugin
//	POST   /admin/v1/plugins/import          import an exported package
//	GET    /admin/v1/plugins/{id}            plugin detail
//	DELETE /admin/v1/plugins/{id}            uninstall
//	POST   /admin/v1/plugins/{id}/activate
//	POST   /admin/v1/plugins/{id}/deactivate
//	GET    /admin/v1/plugins/{id}/export
//	POST   /admin/v1/plugins/{id}/entities   declare an entity schema
//	.../{id}/migrations...                   delegated to MigrationHandler
type PluginHandler struct {
	mgr        *manager.Manager
	store      *store.Store
	migrations *MigrationHandler
	logger     *zap.Logger
}

// NewPluginHandler builds the plugin admin handler.
func NewPluginHandler(mgr *manager.Manager, st *store.Store, migrations *MigrationHandler, logger *zap.Logger) *PluginHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PluginHandler{
		mgr:        mgr,
		store:      st,
		migrations: migrations,
		logger:     logger.With(zap.String("component", "admin_api")),
	}
}

// HandleCollection serves the bare collection path.
func (h *PluginHandler) HandleCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.create(w, r)
	default:
		MethodNotAllowed(w)
	}
}

// HandleItem serves everything below the collection path.
func (h *PluginHandler) HandleItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, PluginsPrefix), "/")
	parts := strings.Split(rest, "/")
	if rest == "" || len(parts) == 0 {
		h.HandleCollection(w, r)
		return
	}

	if parts[0] == "import" {
		if r.Method != http.MethodPost {
			MethodNotAllowed(w)
			return
		}
		h.importPackage(w, r)
		return
	}

	pluginID := parts[0]
	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			h.get(w, r, pluginID)
		case http.MethodDelete:
			h.uninstall(w, r, pluginID)
		default:
			MethodNotAllowed(w)
		}
	case len(parts) == 2 && parts[1] == "activate":
		h.postOnly(w, r, func() { h.activate(w, r, pluginID) })
	case len(parts) == 2 && parts[1] == "deactivate":
		h.postOnly(w, r, func() { h.deactivate(w, r, pluginID) })
	case len(parts) == 2 && parts[1] == "export":
		if r.Method != http.MethodGet {
			MethodNotAllowed(w)
			return
		}
		h.export(w, r, pluginID)
	case len(parts) == 2 && parts[1] == "entities":
		h.postOnly(w, r, func() { h.defineEntity(w, r, pluginID) })
	case parts[1] == "migrations":
		h.migrations.Handle(w, r, pluginID, parts[2:])
	default:
		WriteErrorMessage(w, http.StatusNotFound, "not_found", "unknown admin route")
	}
}

func (h *PluginHandler) postOnly(w http.ResponseWriter, r *http.Request, fn func()) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w)
		return
	}
	fn()
}

func (h *PluginHandler) list(w http.ResponseWriter, r *http.Request) {
	tenant, ok := RequireTenant(w, r)
	if !ok {
		return
	}
	plugins, err := h.store.ListPlugins(r.Context(), tenant)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	out := make([]api.PluginInfo, 0, len(plugins))
	for i := range plugins {
		out = append(out, api.ToPluginInfo(&plugins[i]))
	}
	WriteSuccess(w, out)
}

func (h *PluginHandler) create(w http.ResponseWriter, r *http.Request) {
	tenant, ok := RequireTenant(w, r)
	if !ok {
		return
	}
	var def api.CreatePluginRequest
	if !DecodeJSONBody(w, r, &def) {
		return
	}
	plugin, err := h.mgr.CreatePlugin(r.Context(), tenant, &def)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusCreated, Response{
		Success: true,
		Data:    api.ToPluginInfo(plugin),
	})
}

func (h *PluginHandler) get(w http.ResponseWriter, r *http.Request, pluginID string) {
	tenant, ok := RequireTenant(w, r)
	if !ok {
		return
	}
	plugin, err := h.store.GetPlugin(r.Context(), tenant, pluginID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.ToPluginInfo(plugin))
}

func (h *PluginHandler) activate(w http.ResponseWriter, r *http.Request, pluginID string) {
	tenant, ok := RequireTenant(w, r)
	if !ok {
		return
	}
	report, err := h.mgr.Activate(r.Context(), tenant, pluginID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, report)
}

func (h *PluginHandler) deactivate(w http.ResponseWriter, r *http.Request, pluginID string) {
	tenant, ok := RequireTenant(w, r)
	if !ok {
		return
	}
	if err := h.mgr.Deactivate(r.Context(), tenant, pluginID); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"status": string(store.PluginStatusInactive)})
}

func (h *PluginHandler) uninstall(w http.ResponseWriter, r *http.Request, pluginID string) {
	tenant, ok := RequireTenant(w, r)
	if !ok {
		return
	}
	opts := manager.UninstallOptions{
		RemoveCode:    queryBool(r, "remove_code", true),
		CleanupData:   queryBool(r, "cleanup_data", false),
		CleanupTables: queryBool(r, "cleanup_tables", false),
	}
	report, err := h.mgr.Uninstall(r.Context(), tenant, pluginID, opts)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, report)
}

func (h *PluginHandler) export(w http.ResponseWriter, r *http.Request, pluginID string) {
	tenant, ok := RequireTenant(w, r)
	if !ok {
		return
	}
	pkg, err := h.mgr.Export(r.Context(), tenant, pluginID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, pkg)
}

func (h *PluginHandler) importPackage(w http.ResponseWriter, r *http.Request) {
	tenant, ok := RequireTenant(w, r)
	if !ok {
		return
	}
	var pkg manager.Package
	if !DecodeJSONBody(w, r, &pkg) {
		return
	}
	plugin, err := h.mgr.Import(r.Context(), tenant, &pkg)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusCreated, Response{
		Success: true,
		Data:    api.ToPluginInfo(plugin),
	})
}

func (h *PluginHandler) defineEntity(w http.ResponseWriter, r *http.Request, pluginID string) {
	tenant, ok := RequireTenant(w, r)
	if !ok {
		return
	}
	var def api.DefineEntityRequest
	if !DecodeJSONBody(w, r, &def) {
		return
	}
	_, migration, err := h.mgr.Schema().DefineEntity(r.Context(), tenant, pluginID, &def)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusCreated, Response{
		Success: true,
		Data:    api.ToMigrationInfo(migration),
	})
}

func queryBool(r *http.Request, key string, def bool) bool {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}
