package manager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopforge/plugrt/schema"
	"github.com/shopforge/plugrt/store"
)

func TestDefinitionValidate(t *testing.T) {
	valid := func() *Definition {
		return &Definition{
			Slug:    "gift-cards",
			Version: "0.1.0",
			Manifest: Manifest{
				Capabilities: []string{"db", "network:api.example.com"},
			},
			Hooks: []HookDef{
				{HookName: "cart.total", HookType: store.HookTypeFilter, Source: "return function(v) return v end"},
			},
			Listeners: []ListenerDef{
				{EventName: "order.paid", Source: "return function(p) end"},
			},
			Controllers: []ControllerDef{
				{Method: "get", Path: "cards", Source: "return function(r) end"},
				{Method: "POST", Path: "cards", Source: "return function(r) end"},
			},
			Widgets: []WidgetDef{
				{WidgetID: "card-balance", Source: "return function(c, s) end"},
			},
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(d *Definition)
		issue  string
	}{
		{"empty slug", func(d *Definition) { d.Slug = "" }, "slug"},
		{"uppercase slug", func(d *Definition) { d.Slug = "GiftCards" }, "slug"},
		{"slug starting with digit", func(d *Definition) { d.Slug = "1cards" }, "slug"},
		{"missing version", func(d *Definition) { d.Version = "" }, "version"},
		{"unknown capability", func(d *Definition) { d.Manifest.Capabilities = []string{"exec"} }, "manifest"},
		{"network capability without host", func(d *Definition) { d.Manifest.Capabilities = []string{"network"} }, "manifest"},
		{"hook missing name", func(d *Definition) { d.Hooks[0].HookName = "" }, "hook_name"},
		{"hook bad type", func(d *Definition) { d.Hooks[0].HookType = "trigger" }, "hook_type"},
		{"hook missing source", func(d *Definition) { d.Hooks[0].Source = "" }, "source"},
		{"listener missing event", func(d *Definition) { d.Listeners[0].EventName = "" }, "event_name"},
		{"listener missing source", func(d *Definition) { d.Listeners[0].Source = "" }, "source"},
		{"controller missing method", func(d *Definition) { d.Controllers[0].Method = "" }, "method"},
		{"controller missing source", func(d *Definition) { d.Controllers[0].Source = "" }, "source"},
		{"duplicate route case-insensitive", func(d *Definition) { d.Controllers[1].Method = "GET" }, "duplicate route"},
		{"widget missing id", func(d *Definition) { d.Widgets[0].WidgetID = "" }, "widget_id"},
		{"widget missing source", func(d *Definition) { d.Widgets[0].Source = "" }, "source"},
		{"invalid entity", func(d *Definition) {
			d.Entities = []schema.Definition{{EntityName: "x", TableName: "x"}}
		}, "entity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := valid()
			tt.mutate(def)
			err := def.Validate()
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, err.Error(), tt.issue)
		})
	}
}

func TestDefinitionValidate_CollectsAllIssues(t *testing.T) {
	def := &Definition{
		Slug: "!",
		Hooks: []HookDef{
			{HookName: "", HookType: "bogus", Source: ""},
		},
	}
	err := def.Validate()
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.GreaterOrEqual(t, len(ve.Issues), 4)
}

func TestRolesRoundTrip(t *testing.T) {
	assert.Equal(t, "admin,editor", encodeRoles([]string{"admin", "editor"}))
	assert.Equal(t, []string{"admin", "editor"}, decodeRoles("admin, editor"))
	assert.Nil(t, decodeRoles(""))
	assert.Equal(t, []string{"admin"}, decodeRoles("admin,,"))
}

func TestManifestRoundTrip(t *testing.T) {
	m := Manifest{Capabilities: []string{"db"}, Author: "acme"}
	decoded, err := decodeManifest(encodeManifest(m))
	require.NoError(t, err)
	assert.Equal(t, m, decoded)

	empty, err := decodeManifest("")
	require.NoError(t, err)
	assert.Empty(t, empty.Capabilities)
}
