package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCapability(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Capability
		wantErr bool
	}{
		{name: "db", input: "db", want: Capability{Kind: CapabilityDB}},
		{name: "network with host", input: "network:api.stripe.com", want: Capability{Kind: CapabilityNetwork, Host: "api.stripe.com"}},
		{name: "db takes no argument", input: "db:main", wantErr: true},
		{name: "network requires host", input: "network", wantErr: true},
		{name: "unknown capability", input: "filesystem", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCapability(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewCapabilitySet(t *testing.T) {
	set, err := NewCapabilitySet([]string{"db", "network:API.Example.com", "network:other.example.com"})
	require.NoError(t, err)

	assert.True(t, set.HasDB())
	assert.True(t, set.HasNetwork())
	assert.True(t, set.AllowsHost("api.example.com"))
	assert.True(t, set.AllowsHost("API.EXAMPLE.COM"))
	assert.True(t, set.AllowsHost("other.example.com"))
	assert.False(t, set.AllowsHost("evil.example.com"))
}

func TestNewCapabilitySet_UnknownCapabilityFailsWholeSet(t *testing.T) {
	_, err := NewCapabilitySet([]string{"db", "teleport"})
	require.Error(t, err)
}

func TestNewCapabilitySet_Empty(t *testing.T) {
	set, err := NewCapabilitySet(nil)
	require.NoError(t, err)
	assert.False(t, set.HasDB())
	assert.False(t, set.HasNetwork())
	assert.Empty(t, set.Strings())
}

func TestCapabilitySet_Strings(t *testing.T) {
	set, err := NewCapabilitySet([]string{"db", "network:a.example.com"})
	require.NoError(t, err)

	out := set.Strings()
	assert.Contains(t, out, "db")
	assert.Contains(t, out, "network:a.example.com")
}
