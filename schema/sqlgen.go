package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Dialect selects the SQL flavor generated for plugin tables, mirroring the
// databases the host itself runs on.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

var typeSQL = map[Dialect]map[ColumnType]string{
	DialectSQLite: {
		TypeString: "TEXT", TypeText: "TEXT", TypeInteger: "INTEGER",
		TypeBigInt: "INTEGER", TypeFloat: "REAL", TypeBoolean: "INTEGER",
		TypeDatetime: "TIMESTAMP", TypeJSON: "TEXT", TypeUUID: "TEXT",
	},
	DialectPostgres: {
		TypeString: "VARCHAR(255)", TypeText: "TEXT", TypeInteger: "INTEGER",
		TypeBigInt: "BIGINT", TypeFloat: "DOUBLE PRECISION", TypeBoolean: "BOOLEAN",
		TypeDatetime: "TIMESTAMPTZ", TypeJSON: "JSONB", TypeUUID: "UUID",
	},
	DialectMySQL: {
		TypeString: "VARCHAR(255)", TypeText: "TEXT", TypeInteger: "INT",
		TypeBigInt: "BIGINT", TypeFloat: "DOUBLE", TypeBoolean: "TINYINT(1)",
		TypeDatetime: "DATETIME", TypeJSON: "JSON", TypeUUID: "CHAR(36)",
	},
}

// GenerateUpSQL deterministically renders the CREATE TABLE statement plus
// one CREATE INDEX per declared index. The definition must already be
// validated.
func GenerateUpSQL(d *Definition, dialect Dialect) string {
	types := typeSQL[dialect]
	var b strings.Builder

	fmt.Fprintf(&b, "CREATE TABLE %s (\n", quoteIdent(d.TableName, dialect))

	var lines []string
	if !hasPrimaryKey(d) {
		// Implicit surrogate key when the definition declares none.
		lines = append(lines, fmt.Sprintf("  %s INTEGER PRIMARY KEY", quoteIdent("id", dialect)))
	}
	for _, col := range d.Columns {
		line := fmt.Sprintf("  %s %s", quoteIdent(col.Name, dialect), types[col.Type])
		if col.PrimaryKey {
			line += " PRIMARY KEY"
		} else if !col.Nullable {
			line += " NOT NULL"
		}
		if col.Default != "" {
			line += " DEFAULT " + col.Default
		}
		if col.Unique && !col.PrimaryKey {
			line += " UNIQUE"
		}
		lines = append(lines, line)
	}
	for _, fk := range d.ForeignKeys {
		line := fmt.Sprintf("  FOREIGN KEY (%s) REFERENCES %s (%s)",
			quoteIdent(fk.Column, dialect),
			quoteIdent(fk.RefTable, dialect),
			quoteIdent(fk.RefColumn, dialect))
		if fk.OnDelete != "" {
			line += " ON DELETE " + strings.ToUpper(fk.OnDelete)
		}
		lines = append(lines, line)
	}
	b.WriteString(strings.Join(lines, ",\n"))
	b.WriteString("\n);")

	for _, idx := range d.Indexes {
		unique := ""
		if idx.Unique {
			unique = "UNIQUE "
		}
		cols := make([]string, len(idx.Columns))
		for i, c := range idx.Columns {
			cols[i] = quoteIdent(c, dialect)
		}
		fmt.Fprintf(&b, "\nCREATE %sINDEX %s ON %s (%s);",
			unique,
			quoteIdent("ix_"+d.TableName+"_"+idx.Name, dialect),
			quoteIdent(d.TableName, dialect),
			strings.Join(cols, ", "))
	}

	return b.String()
}

// GenerateDownSQL renders the reversing DROP TABLE.
func GenerateDownSQL(d *Definition, dialect Dialect) string {
	if dialect == DialectPostgres {
		return fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE;", quoteIdent(d.TableName, dialect))
	}
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;", quoteIdent(d.TableName, dialect))
}

// Checksum fingerprints a migration's SQL pair.
func Checksum(upSQL, downSQL string) string {
	sum := sha256.Sum256([]byte(upSQL + downSQL))
	return hex.EncodeToString(sum[:])
}

// SplitStatements breaks generated SQL into single executable statements.
func SplitStatements(sql string) []string {
	var out []string
	for _, stmt := range strings.Split(sql, ";") {
		if trimmed := strings.TrimSpace(stmt); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func hasPrimaryKey(d *Definition) bool {
	for _, col := range d.Columns {
		if col.PrimaryKey {
			return true
		}
	}
	return false
}

func quoteIdent(name string, dialect Dialect) string {
	if dialect == DialectMySQL {
		return "`" + name + "`"
	}
	return `"` + name + `"`
}
