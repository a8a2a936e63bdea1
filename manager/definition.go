package manager

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopforge/plugrt/sandbox"
	"github.com/shopforge/plugrt/schema"
	"github.com/shopforge/plugrt/store"
)

var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9-]{1,63}$`)

// Manifest is a plugin's declared capability/permission set, enforced at
// activation and execution time.
type Manifest struct {
	Capabilities []string `json:"capabilities,omitempty"`
	Description  string   `json:"description,omitempty"`
	Author       string   `json:"author,omitempty"`
}

// HookDef declares one hook handler in a plugin definition.
type HookDef struct {
	HookName string         `json:"hook_name"`
	HookType store.HookType `json:"hook_type"`
	Source   string         `json:"source"`
	// Priority nil means the default of 10; an explicit 0 is honored.
	Priority *int `json:"priority,omitempty"`
	Enabled  bool `json:"enabled"`
}

// ListenerDef declares one event listener.
type ListenerDef struct {
	EventName string `json:"event_name"`
	Source    string `json:"source"`
	Priority  *int   `json:"priority,omitempty"`
	IsAsync   bool   `json:"is_async"`
	Enabled   bool   `json:"enabled"`
}

// ControllerDef declares one API endpoint.
type ControllerDef struct {
	Method       string   `json:"method"`
	Path         string   `json:"path"`
	Source       string   `json:"source"`
	RequiresAuth bool     `json:"requires_auth"`
	AllowedRoles []string `json:"allowed_roles,omitempty"`
	RateLimit    int      `json:"rate_limit"`
	Enabled      bool     `json:"enabled"`
}

// WidgetDef declares one renderable widget.
type WidgetDef struct {
	WidgetID      string         `json:"widget_id"`
	Source        string         `json:"source"`
	DefaultConfig map[string]any `json:"default_config,omitempty"`
	Category      string         `json:"category,omitempty"`
}

// Definition is the full structure of a plugin to install.
type Definition struct {
	Slug        string              `json:"slug"`
	Name        string              `json:"name"`
	Version     string              `json:"version"`
	Manifest    Manifest            `json:"manifest"`
	Hooks       []HookDef           `json:"hooks,omitempty"`
	Listeners   []ListenerDef       `json:"events,omitempty"`
	Controllers []ControllerDef     `json:"controllers,omitempty"`
	Widgets     []WidgetDef         `json:"widgets,omitempty"`
	Entities    []schema.Definition `json:"entities,omitempty"`
}

// Validate checks the definition's structure before anything is persisted.
func (d *Definition) Validate() error {
	var issues []string
	addf := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if !slugPattern.MatchString(d.Slug) {
		addf("slug %q is invalid (lowercase letters, digits and dashes)", d.Slug)
	}
	if d.Version == "" {
		addf("version is required")
	}
	if _, err := sandbox.NewCapabilitySet(d.Manifest.Capabilities); err != nil {
		addf("manifest: %v", err)
	}

	for i, h := range d.Hooks {
		if h.HookName == "" {
			addf("hook %d: hook_name is required", i)
		}
		if h.HookType != store.HookTypeFilter && h.HookType != store.HookTypeAction {
			addf("hook %d: hook_type must be filter or action", i)
		}
		if h.Source == "" {
			addf("hook %d: source is required", i)
		}
	}
	for i, l := range d.Listeners {
		if l.EventName == "" {
			addf("listener %d: event_name is required", i)
		}
		if l.Source == "" {
			addf("listener %d: source is required", i)
		}
	}

	routes := make(map[string]bool, len(d.Controllers))
	for i, c := range d.Controllers {
		if c.Method == "" || c.Path == "" {
			addf("controller %d: method and path are required", i)
		}
		if c.Source == "" {
			addf("controller %d: source is required", i)
		}
		key := strings.ToUpper(c.Method) + " " + c.Path
		if routes[key] {
			addf("controller %d: duplicate route %s", i, key)
		}
		routes[key] = true
	}

	widgetIDs := make(map[string]bool, len(d.Widgets))
	for i, w := range d.Widgets {
		if w.WidgetID == "" {
			addf("widget %d: widget_id is required", i)
		}
		if w.Source == "" {
			addf("widget %d: source is required", i)
		}
		if widgetIDs[w.WidgetID] {
			addf("widget %d: duplicate widget_id %q", i, w.WidgetID)
		}
		widgetIDs[w.WidgetID] = true
	}

	for i := range d.Entities {
		if err := d.Entities[i].Validate(); err != nil {
			addf("entity %d: %v", i, err)
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func encodeManifest(m Manifest) string {
	raw, _ := json.Marshal(m)
	return string(raw)
}

func decodeManifest(raw string) (Manifest, error) {
	var m Manifest
	if raw == "" {
		return m, nil
	}
	err := json.Unmarshal([]byte(raw), &m)
	return m, err
}

func encodeConfig(cfg map[string]any) string {
	if cfg == nil {
		return ""
	}
	raw, _ := json.Marshal(cfg)
	return string(raw)
}

func decodeConfig(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var cfg map[string]any
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil
	}
	return cfg
}
