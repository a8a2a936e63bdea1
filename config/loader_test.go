package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "local", cfg.RateLimit.Backend)
	assert.Equal(t, 3*time.Second, cfg.Sandbox.ExecutionBudget)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugrt.yaml")
	data := `
server:
  http_port: 9000
database:
  driver: postgres
  host: db.internal
  port: 5432
  user: plugrt
  name: plugrt
rate_limit:
  backend: redis
redis:
  addr: redis.internal:6379
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "redis", cfg.RateLimit.Backend)
	// Untouched sections keep their defaults.
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/plugrt.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugrt.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9000\n"), 0o600))

	t.Setenv("PLUGRT_SERVER_HTTP_PORT", "9100")
	t.Setenv("PLUGRT_SANDBOX_EXECUTION_BUDGET", "500ms")
	t.Setenv("PLUGRT_LOG_OUTPUT_PATHS", "stdout, /var/log/plugrt.log")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.HTTPPort)
	assert.Equal(t, 500*time.Millisecond, cfg.Sandbox.ExecutionBudget)
	assert.Equal(t, []string{"stdout", "/var/log/plugrt.log"}, cfg.Log.OutputPaths)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad http port", func(c *Config) { c.Server.HTTPPort = 0 }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"unknown limiter backend", func(c *Config) { c.RateLimit.Backend = "memcached" }},
		{"redis backend without addr", func(c *Config) {
			c.RateLimit.Backend = "redis"
			c.Redis.Addr = ""
		}},
		{"zero execution budget", func(c *Config) { c.Sandbox.ExecutionBudget = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidatorHook(t *testing.T) {
	called := false
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			called = true
			return nil
		}).
		Load()
	require.NoError(t, err)
	assert.True(t, called)
}

func TestDatabaseDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "postgres",
			cfg: DatabaseConfig{
				Driver: "postgres", Host: "db", Port: 5432,
				User: "u", Password: "p", Name: "plugrt", SSLMode: "disable",
			},
			want: "host=db port=5432 user=u password=p dbname=plugrt sslmode=disable",
		},
		{
			name: "mysql",
			cfg: DatabaseConfig{
				Driver: "mysql", Host: "db", Port: 3306,
				User: "u", Password: "p", Name: "plugrt",
			},
			want: "u:p@tcp(db:3306)/plugrt?parseTime=true",
		},
		{
			name: "sqlite",
			cfg:  DatabaseConfig{Driver: "sqlite", Name: "plugrt.db"},
			want: "plugrt.db",
		},
		{
			name: "unknown",
			cfg:  DatabaseConfig{Driver: "oracle"},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.DSN())
		})
	}
}
