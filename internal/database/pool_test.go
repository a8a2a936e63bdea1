package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	db, err := Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NotNil(t, db)

	// Driver names are normalized.
	db, err = Open("SQLite3", ":memory:")
	require.NoError(t, err)
	require.NotNil(t, db)

	_, err = Open("oracle", "dsn")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestPoolManagerLifecycle(t *testing.T) {
	db, err := Open("sqlite", ":memory:")
	require.NoError(t, err)

	cfg := DefaultPoolConfig()
	cfg.HealthCheckInterval = 0 // no background loop in tests

	pm, err := NewPoolManager(db, cfg, nil)
	require.NoError(t, err)

	require.NoError(t, pm.Ping(context.Background()))
	assert.NotNil(t, pm.DB())
	assert.GreaterOrEqual(t, pm.Stats().OpenConnections, 0)

	require.NoError(t, pm.Close())
	assert.Error(t, pm.Ping(context.Background()))

	// Close is idempotent.
	require.NoError(t, pm.Close())
}

func TestNewPoolManagerNilDB(t *testing.T) {
	_, err := NewPoolManager(nil, DefaultPoolConfig(), nil)
	require.Error(t, err)
}
