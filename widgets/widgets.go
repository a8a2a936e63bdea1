// Package widgets holds compiled renderable units keyed by widget id. Every
// render call is its own fault boundary: a throwing or slow widget produces
// an inline error placeholder for that widget only, never an error to the
// surrounding page.
package widgets

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrDuplicateWidget reports a widget id already claimed by another plugin.
var ErrDuplicateWidget = errors.New("widget id already registered")

// Renderer produces output for one widget render call.
type Renderer func(ctx context.Context, config map[string]any, slotData map[string]any) (string, error)

type widget struct {
	pluginID      string
	renderer      Renderer
	defaultConfig map[string]any
	category      string
}

type table struct {
	widgets map[string]*widget
}

// Registry is the widget table and render dispatcher.
type Registry struct {
	mu      sync.Mutex
	table   atomic.Pointer[table]
	observe func(widgetID string, failed bool)
	logger  *zap.Logger
}

// NewRegistry creates a widget registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{logger: logger.With(zap.String("component", "widgets"))}
	r.table.Store(&table{widgets: map[string]*widget{}})
	return r
}

// SetObserver installs a per-render callback, used for metrics. Must be
// called before rendering starts.
func (r *Registry) SetObserver(fn func(widgetID string, failed bool)) {
	r.observe = fn
}

// Register adds a widget under widgetID. Re-registering the same id from
// the same plugin replaces it; another plugin's id is rejected.
func (r *Registry) Register(pluginID, widgetID, category string, defaultConfig map[string]any, renderer Renderer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.table.Load()
	if existing, ok := cur.widgets[widgetID]; ok && existing.pluginID != pluginID {
		return fmt.Errorf("%w: %s (owned by plugin %s)", ErrDuplicateWidget, widgetID, existing.pluginID)
	}

	next := &table{widgets: make(map[string]*widget, len(cur.widgets)+1)}
	for id, w := range cur.widgets {
		next.widgets[id] = w
	}
	next.widgets[widgetID] = &widget{
		pluginID:      pluginID,
		renderer:      renderer,
		defaultConfig: defaultConfig,
		category:      category,
	}
	r.table.Store(next)
	return nil
}

// UnregisterAll removes every widget owned by pluginID.
func (r *Registry) UnregisterAll(pluginID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.table.Load()
	next := &table{widgets: make(map[string]*widget, len(cur.widgets))}
	for id, w := range cur.widgets {
		if w.pluginID != pluginID {
			next.widgets[id] = w
		}
	}
	r.table.Store(next)
}

// Render executes the widget with the caller config merged over the widget's
// defaults (caller values win). Any failure, whether unknown id, handler
// error or timeout, yields an inline placeholder, never an error.
func (r *Registry) Render(ctx context.Context, widgetID string, config map[string]any, slotData map[string]any) string {
	w, ok := r.table.Load().widgets[widgetID]
	if !ok {
		r.observed(widgetID, true)
		return placeholder(widgetID, "not registered")
	}

	merged := make(map[string]any, len(w.defaultConfig)+len(config))
	for k, v := range w.defaultConfig {
		merged[k] = v
	}
	for k, v := range config {
		merged[k] = v
	}

	out, err := r.render(ctx, w, merged, slotData)
	r.observed(widgetID, err != nil)
	if err != nil {
		r.logger.Error("widget render failed",
			zap.String("widget_id", widgetID),
			zap.String("plugin_id", w.pluginID),
			zap.String("correlation_id", uuid.NewString()),
			zap.Error(err))
		return placeholder(widgetID, "render failed")
	}
	return out
}

func (r *Registry) render(ctx context.Context, w *widget, config, slotData map[string]any) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("widget panic: %v", rec)
		}
	}()
	return w.renderer(ctx, config, slotData)
}

func (r *Registry) observed(widgetID string, failed bool) {
	if r.observe != nil {
		r.observe(widgetID, failed)
	}
}

func placeholder(widgetID, reason string) string {
	return fmt.Sprintf(`<div class="widget-error" data-widget=%q><!-- %s --></div>`,
		html.EscapeString(widgetID), html.EscapeString(reason))
}
