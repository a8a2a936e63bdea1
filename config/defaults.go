package config

import "time"

// Default returns the configuration used when no file or env override is
// present. SQLite keeps a fresh checkout runnable without external services.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9091,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			HandlerTimeout:  10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Name:            "plugrt.db",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 2,
		},
		Sandbox: SandboxConfig{
			ExecutionBudget: 3 * time.Second,
		},
		Auth: AuthConfig{},
		RateLimit: RateLimitConfig{
			Backend: "local",
		},
		Log: LogConfig{
			Level:            "info",
			Format:           "json",
			OutputPaths:      []string{"stdout"},
			EnableCaller:     true,
			EnableStacktrace: false,
		},
	}
}
