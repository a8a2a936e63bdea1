package sandbox

import (
	"context"
	"fmt"
	"strings"
)

// CapabilityKind is the closed set of permissions a plugin manifest may
// declare. Free-form capability strings are rejected at parse time.
type CapabilityKind string

const (
	// CapabilityDB grants a database accessor scoped to the owning tenant
	// and the plugin's own entity tables.
	CapabilityDB CapabilityKind = "db"
	// CapabilityNetwork grants outbound HTTP to a single named host.
	CapabilityNetwork CapabilityKind = "network"
)

// Capability is one declared permission, e.g. "db" or "network:api.stripe.com".
type Capability struct {
	Kind CapabilityKind
	Host string
}

func (c Capability) String() string {
	if c.Kind == CapabilityNetwork {
		return string(c.Kind) + ":" + c.Host
	}
	return string(c.Kind)
}

// ParseCapability parses a manifest capability string.
func ParseCapability(s string) (Capability, error) {
	kind, rest, _ := strings.Cut(s, ":")
	switch CapabilityKind(kind) {
	case CapabilityDB:
		if rest != "" {
			return Capability{}, fmt.Errorf("capability %q takes no argument", kind)
		}
		return Capability{Kind: CapabilityDB}, nil
	case CapabilityNetwork:
		if rest == "" {
			return Capability{}, fmt.Errorf("capability %q requires a host, e.g. network:api.example.com", kind)
		}
		return Capability{Kind: CapabilityNetwork, Host: rest}, nil
	default:
		return Capability{}, fmt.Errorf("unknown capability %q", s)
	}
}

// CapabilitySet is the parsed, validated capability grant for one plugin.
type CapabilitySet struct {
	db    bool
	hosts map[string]struct{}
}

// NewCapabilitySet parses manifest capability strings into a set. Any
// unknown capability fails the whole set; the caller flags the plugin as
// errored in that case.
func NewCapabilitySet(declared []string) (CapabilitySet, error) {
	set := CapabilitySet{}
	for _, s := range declared {
		cap, err := ParseCapability(s)
		if err != nil {
			return CapabilitySet{}, err
		}
		switch cap.Kind {
		case CapabilityDB:
			set.db = true
		case CapabilityNetwork:
			if set.hosts == nil {
				set.hosts = make(map[string]struct{})
			}
			set.hosts[strings.ToLower(cap.Host)] = struct{}{}
		}
	}
	return set, nil
}

// HasDB reports whether the database capability was granted.
func (s CapabilitySet) HasDB() bool { return s.db }

// HasNetwork reports whether any outbound host was granted.
func (s CapabilitySet) HasNetwork() bool { return len(s.hosts) > 0 }

// AllowsHost reports whether outbound HTTP to host was granted.
func (s CapabilitySet) AllowsHost(host string) bool {
	_, ok := s.hosts[strings.ToLower(host)]
	return ok
}

// Strings returns the set in manifest form, for logging and audit rows.
func (s CapabilitySet) Strings() []string {
	var out []string
	if s.db {
		out = append(out, string(CapabilityDB))
	}
	for h := range s.hosts {
		out = append(out, string(CapabilityNetwork)+":"+h)
	}
	return out
}

// DBAccessor is the tenant-scoped database surface handed to plugin code
// when the db capability is granted. Implementations must make cross-tenant
// access structurally impossible: every query is bound to one tenant and
// restricted to the plugin's own entity tables.
type DBAccessor interface {
	Query(ctx context.Context, query string, args ...any) ([]map[string]any, error)
	Exec(ctx context.Context, query string, args ...any) (int64, error)
}

// Binding pairs a capability set with the concrete host facilities backing
// it for one plugin. A nil DB with the db capability granted is a
// configuration error caught at compile time.
type Binding struct {
	Caps CapabilitySet
	DB   DBAccessor
}
