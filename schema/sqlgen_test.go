package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUpSQL_SQLite(t *testing.T) {
	sql := GenerateUpSQL(validDefinition(), DialectSQLite)

	assert.Contains(t, sql, `CREATE TABLE "plugin_reviews"`)
	assert.Contains(t, sql, `"id" TEXT PRIMARY KEY`)
	assert.Contains(t, sql, `"product_id" INTEGER NOT NULL`)
	assert.Contains(t, sql, `"body" TEXT`)
	assert.Contains(t, sql, `FOREIGN KEY ("product_id") REFERENCES "products" ("id") ON DELETE CASCADE`)
	assert.Contains(t, sql, `CREATE INDEX "ix_plugin_reviews_product" ON "plugin_reviews" ("product_id");`)
}

func TestGenerateUpSQL_DialectTypeMapping(t *testing.T) {
	def := &Definition{
		EntityName: "v",
		TableName:  "variants",
		Columns: []Column{
			{Name: "id", Type: TypeBigInt, PrimaryKey: true},
			{Name: "price", Type: TypeFloat},
			{Name: "meta", Type: TypeJSON, Nullable: true},
			{Name: "active", Type: TypeBoolean},
		},
	}

	pg := GenerateUpSQL(def, DialectPostgres)
	assert.Contains(t, pg, `"price" DOUBLE PRECISION`)
	assert.Contains(t, pg, `"meta" JSONB`)
	assert.Contains(t, pg, `"active" BOOLEAN`)

	my := GenerateUpSQL(def, DialectMySQL)
	assert.Contains(t, my, "`price` DOUBLE")
	assert.Contains(t, my, "`meta` JSON")
	assert.Contains(t, my, "`active` TINYINT(1)")
}

func TestGenerateUpSQL_ImplicitSurrogateKey(t *testing.T) {
	def := &Definition{
		EntityName: "n",
		TableName:  "notes",
		Columns:    []Column{{Name: "body", Type: TypeText}},
	}
	sql := GenerateUpSQL(def, DialectSQLite)
	assert.Contains(t, sql, `"id" INTEGER PRIMARY KEY`)
}

func TestGenerateUpSQL_UniqueAndDefault(t *testing.T) {
	def := &Definition{
		EntityName: "c",
		TableName:  "coupons",
		Columns: []Column{
			{Name: "code", Type: TypeString, Unique: true},
			{Name: "uses", Type: TypeInteger, Default: "0"},
		},
	}
	sql := GenerateUpSQL(def, DialectSQLite)
	assert.Contains(t, sql, `"code" TEXT NOT NULL UNIQUE`)
	assert.Contains(t, sql, `"uses" INTEGER NOT NULL DEFAULT 0`)
}

func TestGenerateUpSQL_Deterministic(t *testing.T) {
	def := validDefinition()
	assert.Equal(t, GenerateUpSQL(def, DialectSQLite), GenerateUpSQL(def, DialectSQLite))
}

func TestGenerateDownSQL(t *testing.T) {
	def := validDefinition()
	assert.Equal(t, `DROP TABLE IF EXISTS "plugin_reviews";`, GenerateDownSQL(def, DialectSQLite))
	assert.Equal(t, `DROP TABLE IF EXISTS "plugin_reviews" CASCADE;`, GenerateDownSQL(def, DialectPostgres))
	assert.Equal(t, "DROP TABLE IF EXISTS `plugin_reviews`;", GenerateDownSQL(def, DialectMySQL))
}

func TestChecksum(t *testing.T) {
	a := Checksum("CREATE TABLE x ();", "DROP TABLE x;")
	b := Checksum("CREATE TABLE x ();", "DROP TABLE x;")
	c := Checksum("CREATE TABLE y ();", "DROP TABLE y;")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestSplitStatements(t *testing.T) {
	sql := "CREATE TABLE a ();\nCREATE INDEX i ON a (x);\n\n  ;"
	stmts := SplitStatements(sql)
	require.Len(t, stmts, 2)
	assert.True(t, strings.HasPrefix(stmts[0], "CREATE TABLE"))
	assert.True(t, strings.HasPrefix(stmts[1], "CREATE INDEX"))
}
