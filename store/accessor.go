package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"gorm.io/gorm"
)

// tableRefPattern extracts table identifiers from the clauses a plugin
// statement may contain.
var tableRefPattern = regexp.MustCompile(`(?i)(?:from|join|into|update)\s+["` + "`" + `]?([a-zA-Z_][a-zA-Z0-9_]*)`)

// leadingVerbPattern limits plugins to plain DML. Anything else (DDL,
// PRAGMA, ATTACH) has no table clause for checkTables to inspect.
var leadingVerbPattern = regexp.MustCompile(`(?i)^\s*(select|insert|update|delete)\b`)

// TenantAccessor is the database surface handed to sandboxed plugin code
// when the db capability is granted. It is bound to one tenant and one
// plugin, and only the plugin's own entity tables are reachable: statements
// are limited to a single DML statement, and every table identifier is
// checked against the plugin's allow list before execution, which makes
// cross-tenant access structurally impossible.
type TenantAccessor struct {
	db       *gorm.DB
	tenantID string
	pluginID string
	tables   map[string]struct{}
}

// NewTenantAccessor builds an accessor over the plugin's entity tables.
func NewTenantAccessor(db *gorm.DB, tenantID, pluginID string, tables []string) *TenantAccessor {
	allowed := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		allowed[strings.ToLower(t)] = struct{}{}
	}
	return &TenantAccessor{db: db, tenantID: tenantID, pluginID: pluginID, tables: allowed}
}

// Query runs a read statement and returns generic rows.
func (a *TenantAccessor) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	if err := a.checkTables(query); err != nil {
		return nil, err
	}
	var rows []map[string]any
	if err := a.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Exec runs a write statement and returns the affected row count.
func (a *TenantAccessor) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	if err := a.checkTables(query); err != nil {
		return 0, err
	}
	res := a.db.WithContext(ctx).Exec(query, args...)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (a *TenantAccessor) checkTables(query string) error {
	if err := checkSingleStatement(query); err != nil {
		return err
	}
	if !leadingVerbPattern.MatchString(query) {
		return fmt.Errorf("statement must begin with select, insert, update or delete")
	}
	refs := tableRefPattern.FindAllStringSubmatch(query, -1)
	if len(refs) == 0 {
		return fmt.Errorf("statement references no recognizable table")
	}
	for _, ref := range refs {
		table := strings.ToLower(ref[1])
		if _, ok := a.tables[table]; !ok {
			return fmt.Errorf("table %q is not owned by plugin %s", ref[1], a.pluginID)
		}
	}
	return nil
}

// checkSingleStatement rejects statement separators outside string literals,
// so a second statement cannot ride past the table scan. A trailing
// semicolon followed only by whitespace is tolerated.
func checkSingleStatement(query string) error {
	var inSingle, inDouble bool
	for i := 0; i < len(query); i++ {
		switch c := query[i]; {
		case inSingle:
			if c == '\'' {
				inSingle = false
			}
		case inDouble:
			if c == '"' {
				inDouble = false
			}
		case c == '\'':
			inSingle = true
		case c == '"':
			inDouble = true
		case c == ';':
			if strings.TrimSpace(query[i+1:]) != "" {
				return fmt.Errorf("multiple statements are not allowed")
			}
		}
	}
	return nil
}
