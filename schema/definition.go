package schema

import (
	"fmt"
	"regexp"
)

// ColumnType is the closed set of column types a plugin entity may declare.
type ColumnType string

const (
	TypeString   ColumnType = "string"
	TypeText     ColumnType = "text"
	TypeInteger  ColumnType = "integer"
	TypeBigInt   ColumnType = "bigint"
	TypeFloat    ColumnType = "float"
	TypeBoolean  ColumnType = "boolean"
	TypeDatetime ColumnType = "datetime"
	TypeJSON     ColumnType = "json"
	TypeUUID     ColumnType = "uuid"
)

var columnTypes = map[ColumnType]bool{
	TypeString: true, TypeText: true, TypeInteger: true, TypeBigInt: true,
	TypeFloat: true, TypeBoolean: true, TypeDatetime: true, TypeJSON: true,
	TypeUUID: true,
}

var fkActions = map[string]bool{
	"": true, "cascade": true, "restrict": true, "set null": true, "no action": true,
}

var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// Column declares one entity column.
type Column struct {
	Name       string     `json:"name"`
	Type       ColumnType `json:"type"`
	Nullable   bool       `json:"nullable"`
	Unique     bool       `json:"unique"`
	PrimaryKey bool       `json:"primary_key"`
	Default    string     `json:"default,omitempty"`
}

// Index declares one entity index.
type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// ForeignKey declares a reference to another table.
type ForeignKey struct {
	Column    string `json:"column"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
	OnDelete  string `json:"on_delete,omitempty"`
}

// Definition is the structured schema a plugin declares for one entity.
type Definition struct {
	EntityName  string       `json:"entity_name"`
	TableName   string       `json:"table_name"`
	Columns     []Column     `json:"columns"`
	Indexes     []Index      `json:"indexes,omitempty"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
}

// Validate checks identifiers, the closed type set, index column references
// and foreign keys. It collects every issue instead of stopping at the
// first, so the authoring tools can present all of them at once.
func (d *Definition) Validate() error {
	var issues []string
	addf := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if !identifierPattern.MatchString(d.EntityName) {
		addf("entity name %q is not a valid identifier", d.EntityName)
	}
	if !identifierPattern.MatchString(d.TableName) {
		addf("table name %q is not a valid identifier", d.TableName)
	}
	if len(d.Columns) == 0 {
		addf("at least one column is required")
	}

	colNames := make(map[string]bool, len(d.Columns))
	pkCount := 0
	for _, col := range d.Columns {
		if !identifierPattern.MatchString(col.Name) {
			addf("column name %q is not a valid identifier", col.Name)
			continue
		}
		if colNames[col.Name] {
			addf("duplicate column %q", col.Name)
		}
		colNames[col.Name] = true
		if !columnTypes[col.Type] {
			addf("column %q has unknown type %q", col.Name, col.Type)
		}
		if col.PrimaryKey {
			pkCount++
			if col.Nullable {
				addf("primary key column %q cannot be nullable", col.Name)
			}
		}
	}
	if pkCount > 1 {
		addf("at most one primary key column is allowed")
	}

	idxNames := make(map[string]bool, len(d.Indexes))
	for _, idx := range d.Indexes {
		if !identifierPattern.MatchString(idx.Name) {
			addf("index name %q is not a valid identifier", idx.Name)
			continue
		}
		if idxNames[idx.Name] {
			addf("duplicate index %q", idx.Name)
		}
		idxNames[idx.Name] = true
		if len(idx.Columns) == 0 {
			addf("index %q has no columns", idx.Name)
		}
		for _, c := range idx.Columns {
			if !colNames[c] {
				addf("index %q references unknown column %q", idx.Name, c)
			}
		}
	}

	for _, fk := range d.ForeignKeys {
		if !colNames[fk.Column] {
			addf("foreign key references unknown column %q", fk.Column)
		}
		if !identifierPattern.MatchString(fk.RefTable) {
			addf("foreign key target table %q is not a valid identifier", fk.RefTable)
		}
		if !identifierPattern.MatchString(fk.RefColumn) {
			addf("foreign key target column %q is not a valid identifier", fk.RefColumn)
		}
		if !fkActions[fk.OnDelete] {
			addf("foreign key on %q has unknown on_delete action %q", fk.Column, fk.OnDelete)
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
