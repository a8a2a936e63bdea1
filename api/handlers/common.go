package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/shopforge/plugrt/manager"
	"github.com/shopforge/plugrt/sandbox"
	"github.com/shopforge/plugrt/schema"
	"github.com/shopforge/plugrt/store"
)

// TenantHeader carries the tenant scope for every admin request.
const TenantHeader = "X-Tenant-ID"

// Response is the uniform admin API envelope.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorInfo carries a machine-readable code alongside the message.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes data as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a 200 envelope around data.
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// WriteError maps a domain error onto an HTTP status and writes the error
// envelope.
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	status, code := classifyError(err)
	if logger != nil && status >= 500 {
		logger.Error("admin API error",
			zap.String("code", code),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	WriteJSON(w, status, Response{
		Success:   false,
		Error:     &ErrorInfo{Code: code, Message: err.Error()},
		Timestamp: time.Now(),
	})
}

// WriteErrorMessage writes a plain error envelope with an explicit status.
func WriteErrorMessage(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, Response{
		Success:   false,
		Error:     &ErrorInfo{Code: code, Message: message},
		Timestamp: time.Now(),
	})
}

func classifyError(err error) (int, string) {
	var (
		valErr       *manager.ValidationError
		schemaValErr *schema.ValidationError
		permErr      *manager.PermissionError
		capErr       *sandbox.CapabilityError
		compileErr   *sandbox.CompileError
		runtimeErr   *sandbox.RuntimeError
		migErr       *schema.MigrationError
		rbErr        *schema.RollbackError
	)

	switch {
	case errors.As(err, &valErr), errors.As(err, &schemaValErr), errors.As(err, &compileErr):
		return http.StatusBadRequest, "validation_failed"
	case errors.As(err, &permErr), errors.As(err, &capErr):
		return http.StatusForbidden, "permission_denied"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, store.ErrDuplicateRoute):
		return http.StatusConflict, "duplicate_route"
	case errors.As(err, &migErr):
		return http.StatusConflict, "migration_failed"
	case errors.As(err, &rbErr):
		return http.StatusInternalServerError, "rollback_failed"
	case errors.As(err, &runtimeErr) && runtimeErr.Timeout:
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// DecodeJSONBody decodes a strict JSON request body into dst, writing the
// error response itself on failure.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		WriteErrorMessage(w, http.StatusBadRequest, "invalid_request", "request body is empty")
		return false
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// RequireTenant extracts the tenant header, writing a 400 when absent.
func RequireTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenant := r.Header.Get(TenantHeader)
	if tenant == "" {
		WriteErrorMessage(w, http.StatusBadRequest, "invalid_request", TenantHeader+" header is required")
		return "", false
	}
	return tenant, true
}

// MethodNotAllowed writes the standard 405 envelope.
func MethodNotAllowed(w http.ResponseWriter) {
	WriteErrorMessage(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}
