// Package router is the dynamic endpoint table for plugin controllers.
// Every controller is addressed as (pluginSlug, method, path) and mounted
// under /plugins/{slug}/{path}. Dispatch resolves the route, enforces auth
// and rate limits, and runs the compiled handler inside a wall-clock
// timeout. The route table is an immutable snapshot swapped on
// activate/deactivate, so in-flight dispatches never observe a half-updated
// table.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shopforge/plugrt/sandbox"
)

// MountPrefix is the fixed prefix plugin endpoints live under.
const MountPrefix = "/plugins/"

// DefaultHandlerTimeout bounds a single controller invocation.
const DefaultHandlerTimeout = 10 * time.Second

// ErrDuplicateRoute reports a second registration for an existing
// (plugin, method, path).
var ErrDuplicateRoute = errors.New("duplicate route")

// Identity is the authenticated caller.
type Identity struct {
	Subject string
	Roles   []string
}

// Request is the transport-agnostic request handed to a controller.
type Request struct {
	Method   string
	Path     string
	Headers  map[string]string
	Query    map[string]string
	Body     []byte
	Identity *Identity
}

// Response is the controller result mapped back onto the host envelope.
type Response struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

// Handler executes one controller call.
type Handler func(ctx context.Context, req *Request) (*Response, error)

// Authenticator verifies the caller identity for routes that require auth.
type Authenticator interface {
	Authenticate(req *Request) (*Identity, error)
}

// Route is one registered controller endpoint.
type Route struct {
	TenantID     string
	PluginID     string
	Slug         string
	Method       string
	Path         string
	RequiresAuth bool
	AllowedRoles []string
	RateLimit    int // requests per minute, 0 = unlimited
	Handler      Handler
}

type routeKey struct {
	tenantID string
	slug     string
	method   string
	path     string
}

type routeTable struct {
	routes map[routeKey]*Route
}

// Router is the route registry and dispatcher.
type Router struct {
	mu      sync.Mutex
	table   atomic.Pointer[routeTable]
	auth    Authenticator
	limiter Limiter
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithAuthenticator sets the authenticator for requires_auth routes.
func WithAuthenticator(a Authenticator) Option {
	return func(r *Router) { r.auth = a }
}

// WithLimiter sets the rate limiter backend.
func WithLimiter(l Limiter) Option {
	return func(r *Router) { r.limiter = l }
}

// WithHandlerTimeout sets the per-call wall-clock budget.
func WithHandlerTimeout(d time.Duration) Option {
	return func(r *Router) { r.timeout = d }
}

// New creates a Router.
func New(logger *zap.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		timeout: DefaultHandlerTimeout,
		logger:  logger.With(zap.String("component", "router")),
	}
	r.table.Store(&routeTable{routes: map[routeKey]*Route{}})
	for _, opt := range opts {
		opt(r)
	}
	if r.limiter == nil {
		r.limiter = NewLocalLimiter()
	}
	return r
}

// Register adds a route. A second route at an existing (plugin, method,
// path) is rejected.
func (r *Router) Register(route *Route) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := routeKey{
		tenantID: route.TenantID,
		slug:     route.Slug,
		method:   strings.ToUpper(route.Method),
		path:     normalizePath(route.Path),
	}
	cur := r.table.Load()
	if _, exists := cur.routes[key]; exists {
		return fmt.Errorf("%w: %s %s%s/%s", ErrDuplicateRoute, key.method, MountPrefix, key.slug, strings.TrimPrefix(key.path, "/"))
	}

	next := &routeTable{routes: make(map[routeKey]*Route, len(cur.routes)+1)}
	for k, v := range cur.routes {
		next.routes[k] = v
	}
	next.routes[key] = route
	r.table.Store(next)
	return nil
}

// UnregisterAll removes every route owned by pluginID.
func (r *Router) UnregisterAll(pluginID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.table.Load()
	next := &routeTable{routes: make(map[routeKey]*Route, len(cur.routes))}
	for k, v := range cur.routes {
		if v.PluginID != pluginID {
			next.routes[k] = v
		}
	}
	r.table.Store(next)
}

// Dispatch resolves and executes the controller for (method, fullPath)
// within the tenant. Unmatched routes, including a path match with the
// wrong method, yield 404. Auth failures yield 403 without invoking the
// handler, rate-limit violations 429, handler timeouts 504 and uncategorized
// handler failures 500.
func (r *Router) Dispatch(ctx context.Context, tenantID, method, fullPath string, req *Request) *Response {
	slug, path, ok := splitMountPath(fullPath)
	if !ok {
		return errorResponse(http.StatusNotFound, "no such endpoint")
	}

	key := routeKey{tenantID: tenantID, slug: slug, method: strings.ToUpper(method), path: path}
	route, found := r.table.Load().routes[key]
	if !found {
		return errorResponse(http.StatusNotFound, "no such endpoint")
	}

	if route.RequiresAuth {
		identity, err := r.authenticate(req)
		if err != nil || !roleAllowed(identity, route.AllowedRoles) {
			return errorResponse(http.StatusForbidden, "forbidden")
		}
		req.Identity = identity
	}

	if route.RateLimit > 0 {
		limitKey := route.PluginID + "|" + route.Path + "|" + route.TenantID
		allowed, err := r.limiter.Allow(ctx, limitKey, route.RateLimit)
		if err != nil {
			r.logger.Warn("rate limiter unavailable, allowing request", zap.Error(err))
		} else if !allowed {
			return errorResponse(http.StatusTooManyRequests, "rate limit exceeded")
		}
	}

	return r.invoke(ctx, route, req)
}

func (r *Router) invoke(ctx context.Context, route *Route, req *Request) *Response {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := route.Handler(ctx, req)
	if err != nil {
		correlationID := uuid.NewString()
		r.logger.Error("controller failed",
			zap.String("plugin_id", route.PluginID),
			zap.String("method", route.Method),
			zap.String("path", route.Path),
			zap.String("correlation_id", correlationID),
			zap.Error(err))

		var rtErr *sandbox.RuntimeError
		if errors.As(err, &rtErr) && rtErr.Timeout || ctx.Err() != nil {
			return errorResponse(http.StatusGatewayTimeout, "handler timed out")
		}
		return errorResponse(http.StatusInternalServerError, "handler error, correlation "+correlationID)
	}
	if resp == nil {
		resp = &Response{Status: http.StatusNoContent}
	}
	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	return resp
}

func (r *Router) authenticate(req *Request) (*Identity, error) {
	if r.auth == nil {
		return nil, errors.New("no authenticator configured")
	}
	return r.auth.Authenticate(req)
}

// splitMountPath resolves "/plugins/{slug}/{path}" into its parts.
func splitMountPath(fullPath string) (slug, path string, ok bool) {
	if !strings.HasPrefix(fullPath, MountPrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(fullPath, MountPrefix)
	slug, path, found := strings.Cut(rest, "/")
	if !found || slug == "" {
		return "", "", false
	}
	return slug, normalizePath(path), true
}

func normalizePath(p string) string {
	return "/" + strings.Trim(p, "/")
}

func roleAllowed(identity *Identity, allowed []string) bool {
	if identity == nil {
		return false
	}
	if len(allowed) == 0 {
		return true
	}
	for _, want := range allowed {
		for _, have := range identity.Roles {
			if want == have {
				return true
			}
		}
	}
	return false
}

func errorResponse(status int, message string) *Response {
	body, _ := json.Marshal(map[string]string{"error": message})
	return &Response{
		Status:  status,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	}
}
