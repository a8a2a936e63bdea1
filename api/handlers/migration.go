package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/shopforge/plugrt/api"
	"github.com/shopforge/plugrt/schema"
)

// MigrationHandler serves the per-plugin migration admin endpoints.
//
//	GET  .../{id}/migrations                     list migrations
//	POST .../{id}/migrations/{version}/run       execute one migration
//	POST .../{id}/migrations/{version}/rollback  reverse a completed migration
type MigrationHandler struct {
	schema *schema.Service
	logger *zap.Logger
}

// NewMigrationHandler builds the migration admin handler.
func NewMigrationHandler(svc *schema.Service, logger *zap.Logger) *MigrationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MigrationHandler{
		schema: svc,
		logger: logger.With(zap.String("component", "admin_api")),
	}
}

// Handle dispatches the migration subtree. parts holds the path segments
// after ".../migrations".
func (h *MigrationHandler) Handle(w http.ResponseWriter, r *http.Request, pluginID string, parts []string) {
	switch {
	case len(parts) == 0 || (len(parts) == 1 && parts[0] == ""):
		if r.Method != http.MethodGet {
			MethodNotAllowed(w)
			return
		}
		h.list(w, r, pluginID)
	case len(parts) == 2 && parts[1] == "run":
		if r.Method != http.MethodPost {
			MethodNotAllowed(w)
			return
		}
		h.run(w, r, pluginID, parts[0])
	case len(parts) == 2 && parts[1] == "rollback":
		if r.Method != http.MethodPost {
			MethodNotAllowed(w)
			return
		}
		h.rollback(w, r, pluginID, parts[0])
	default:
		WriteErrorMessage(w, http.StatusNotFound, "not_found", "unknown migration route")
	}
}

func (h *MigrationHandler) list(w http.ResponseWriter, r *http.Request, pluginID string) {
	tenant, ok := RequireTenant(w, r)
	if !ok {
		return
	}
	migrations, err := h.schema.List(r.Context(), tenant, pluginID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	out := make([]api.MigrationInfo, 0, len(migrations))
	for i := range migrations {
		out = append(out, api.ToMigrationInfo(&migrations[i]))
	}
	WriteSuccess(w, out)
}

func (h *MigrationHandler) run(w http.ResponseWriter, r *http.Request, pluginID, version string) {
	tenant, ok := RequireTenant(w, r)
	if !ok {
		return
	}
	var req api.MigrationRunRequest
	if r.ContentLength > 0 && !DecodeJSONBody(w, r, &req) {
		return
	}
	migration, err := h.schema.Run(r.Context(), tenant, pluginID, version, schema.RunOptions{
		DryRun: req.DryRun,
		Force:  req.Force,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.ToMigrationInfo(migration))
}

func (h *MigrationHandler) rollback(w http.ResponseWriter, r *http.Request, pluginID, version string) {
	tenant, ok := RequireTenant(w, r)
	if !ok {
		return
	}
	migration, err := h.schema.Rollback(r.Context(), tenant, pluginID, version)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.ToMigrationInfo(migration))
}
