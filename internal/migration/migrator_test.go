package migration

import (
	"context"
	"database/sql"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newSQLiteHandle(t *testing.T) *sql.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	db, err := gdb.DB()
	require.NoError(t, err)
	return db
}

func newRunner(t *testing.T) (*Runner, *sql.DB) {
	t.Helper()
	db := newSQLiteHandle(t)
	r, err := New(db, "sqlite", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, db
}

func tableCount(t *testing.T, db *sql.DB, name string) int {
	t.Helper()
	var count int
	err := db.QueryRow(
		"SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name,
	).Scan(&count)
	require.NoError(t, err)
	return count
}

func TestNew_Rejections(t *testing.T) {
	_, err := New(nil, "sqlite", nil)
	require.Error(t, err)

	db := newSQLiteHandle(t)
	_, err = New(db, "oracle", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported driver")
}

func TestUp_CreatesRuntimeTables(t *testing.T) {
	r, db := newRunner(t)
	ctx := context.Background()

	require.NoError(t, r.Up(ctx))

	for _, table := range []string{
		"plugins", "plugin_hooks", "plugin_event_listeners",
		"plugin_controllers", "plugin_widgets",
		"plugin_entities", "plugin_migrations", "plugin_audit_log",
	} {
		assert.Equal(t, 1, tableCount(t, db, table), "table %s", table)
	}

	v, dirty, err := r.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.False(t, dirty)
}

func TestUp_IsIdempotent(t *testing.T) {
	r, _ := newRunner(t)
	ctx := context.Background()

	require.NoError(t, r.Up(ctx))
	require.NoError(t, r.Up(ctx))
}

func TestVersion_FreshDatabaseIsZero(t *testing.T) {
	r, _ := newRunner(t)

	v, dirty, err := r.Version()
	require.NoError(t, err)
	assert.Zero(t, v)
	assert.False(t, dirty)
}

func TestStatus_TracksApplied(t *testing.T) {
	r, _ := newRunner(t)
	ctx := context.Background()

	statuses, err := r.Status("sqlite")
	require.NoError(t, err)
	require.NotEmpty(t, statuses)
	assert.Equal(t, "runtime_tables", statuses[0].Name)
	assert.False(t, statuses[0].Applied)

	require.NoError(t, r.Up(ctx))

	statuses, err = r.Status("sqlite")
	require.NoError(t, err)
	assert.True(t, statuses[0].Applied)
	assert.False(t, statuses[0].Dirty)
}

func TestDown_RollsBackLastMigration(t *testing.T) {
	r, db := newRunner(t)
	ctx := context.Background()

	require.NoError(t, r.Up(ctx))
	require.NoError(t, r.Down(ctx))

	assert.Zero(t, tableCount(t, db, "plugins"))
	v, _, err := r.Version()
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestReset_DropsEverything(t *testing.T) {
	r, db := newRunner(t)
	ctx := context.Background()

	require.NoError(t, r.Up(ctx))
	require.NoError(t, r.Reset(ctx))

	assert.Zero(t, tableCount(t, db, "plugins"))
	assert.Zero(t, tableCount(t, db, "plugin_migrations"))

	// A reset database can migrate back up.
	require.NoError(t, r.Up(ctx))
	assert.Equal(t, 1, tableCount(t, db, "plugins"))
}
