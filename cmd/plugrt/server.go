package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shopforge/plugrt/api/handlers"
	"github.com/shopforge/plugrt/config"
	"github.com/shopforge/plugrt/events"
	"github.com/shopforge/plugrt/hooks"
	"github.com/shopforge/plugrt/internal/database"
	"github.com/shopforge/plugrt/internal/metrics"
	"github.com/shopforge/plugrt/internal/migration"
	"github.com/shopforge/plugrt/internal/server"
	"github.com/shopforge/plugrt/manager"
	"github.com/shopforge/plugrt/router"
	"github.com/shopforge/plugrt/sandbox"
	"github.com/shopforge/plugrt/schema"
	"github.com/shopforge/plugrt/store"
	"github.com/shopforge/plugrt/widgets"
)

// Server wires the runtime together: database pool, code store, sandbox,
// hook/event/widget systems, plugin router, admin API, and the two HTTP
// listeners (API and metrics).
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager

	pool        *database.PoolManager
	redisClient *redis.Client

	compiler *sandbox.Compiler
	hooks    *hooks.System
	events   *events.System
	widgets  *widgets.Registry
	router   *router.Router
	schema   *schema.Service
	store    *store.Store
	mgr      *manager.Manager

	collector *metrics.Collector

	healthHandler    *handlers.HealthHandler
	pluginHandler    *handlers.PluginHandler
	migrationHandler *handlers.MigrationHandler
}

// NewServer creates a Server. Nothing is opened until Start.
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// Start opens the database, runs the runtime schema migrations, assembles
// the runtime, and starts the API and metrics listeners.
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("plugrt", s.logger)

	if err := s.initDatabase(); err != nil {
		return fmt.Errorf("failed to init database: %w", err)
	}

	if err := s.initRuntime(); err != nil {
		return fmt.Errorf("failed to init runtime: %w", err)
	}

	s.initHandlers()

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("database_driver", s.cfg.Database.Driver),
	)

	return nil
}

// initDatabase opens the pool and brings the runtime tables up to date.
func (s *Server) initDatabase() error {
	db, err := database.Open(s.cfg.Database.Driver, s.cfg.Database.DSN())
	if err != nil {
		return err
	}

	poolCfg := database.DefaultPoolConfig()
	if s.cfg.Database.MaxOpenConns > 0 {
		poolCfg.MaxOpenConns = s.cfg.Database.MaxOpenConns
	}
	if s.cfg.Database.MaxIdleConns > 0 {
		poolCfg.MaxIdleConns = s.cfg.Database.MaxIdleConns
	}
	if s.cfg.Database.ConnMaxLifetime > 0 {
		poolCfg.ConnMaxLifetime = s.cfg.Database.ConnMaxLifetime
	}

	s.pool, err = database.NewPoolManager(db, poolCfg, s.logger)
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	runner, err := migration.New(sqlDB, s.cfg.Database.Driver, s.logger)
	if err != nil {
		return err
	}
	defer runner.Close()
	if err := runner.Up(context.Background()); err != nil {
		return fmt.Errorf("runtime schema migration: %w", err)
	}

	return nil
}

// initRuntime assembles the plugin runtime on top of the open pool and
// connects each subsystem's observer to the metrics collector.
func (s *Server) initRuntime() error {
	s.store = store.New(s.pool.DB(), s.logger)

	// The observer closes over s.compiler; it is assigned before any
	// compile can run.
	s.compiler = sandbox.NewCompiler(s.logger,
		sandbox.WithExecutionBudget(s.cfg.Sandbox.ExecutionBudget),
		sandbox.WithObserver(func(cached, failed bool) {
			s.collector.RecordCompile(cached, failed)
			s.collector.SetCompileCacheSize(s.compiler.CacheSize())
		}),
	)

	s.hooks = hooks.NewSystem(s.logger)
	s.hooks.SetObserver(s.collector.RecordHook)

	s.events = events.NewSystem(s.logger)
	s.events.SetObserver(s.collector.RecordEvent)

	s.widgets = widgets.NewRegistry(s.logger)
	s.widgets.SetObserver(s.collector.RecordWidget)

	routerOpts := []router.Option{
		router.WithLimiter(s.newLimiter()),
		router.WithHandlerTimeout(s.cfg.Server.HandlerTimeout),
	}
	if s.cfg.Auth.JWTSecret != "" {
		routerOpts = append(routerOpts, router.WithAuthenticator(
			router.NewJWTAuthenticator([]byte(s.cfg.Auth.JWTSecret))))
	} else {
		s.logger.Warn("JWT secret not configured, authenticated controllers will reject all requests")
	}
	s.router = router.New(s.logger, routerOpts...)

	s.schema = schema.NewService(s.store, schemaDialect(s.cfg.Database.Driver), s.logger)
	s.schema.SetObserver(s.collector.RecordMigration)

	s.mgr = manager.New(s.store, s.compiler, s.hooks, s.events, s.router, s.widgets, s.schema, s.logger)

	return nil
}

// newLimiter picks the rate limiter backend. The redis client is kept for
// shutdown and the readiness probe.
func (s *Server) newLimiter() router.Limiter {
	if s.cfg.RateLimit.Backend == "redis" {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:         s.cfg.Redis.Addr,
			Password:     s.cfg.Redis.Password,
			DB:           s.cfg.Redis.DB,
			PoolSize:     s.cfg.Redis.PoolSize,
			MinIdleConns: s.cfg.Redis.MinIdleConns,
		})
		s.logger.Info("Using redis rate limiter", zap.String("addr", s.cfg.Redis.Addr))
		return router.NewRedisLimiter(s.redisClient)
	}
	return router.NewLocalLimiter()
}

// initHandlers builds the admin API handlers and readiness probes.
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("database", s.pool.Ping))
	if s.redisClient != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("redis", func(ctx context.Context) error {
			return s.redisClient.Ping(ctx).Err()
		}))
	}

	s.migrationHandler = handlers.NewMigrationHandler(s.schema, s.logger)
	s.pluginHandler = handlers.NewPluginHandler(s.mgr, s.store, s.migrationHandler, s.logger)
}

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc(handlers.PluginsPrefix, s.pluginHandler.HandleCollection)
	mux.HandleFunc(handlers.PluginsPrefix+"/", s.pluginHandler.HandleItem)

	// Plugin-defined endpoints. Tenant scoping comes from the header; the
	// router resolves the rest of the path.
	mux.HandleFunc(router.MountPrefix, func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get(handlers.TenantHeader)
		if tenantID == "" {
			handlers.WriteErrorMessage(w, http.StatusBadRequest, "missing_tenant", "X-Tenant-ID header is required")
			return
		}
		s.mgr.DispatchHTTP(w, r, tenantID)
	})

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// WaitForShutdown blocks until a termination signal or a serve error, then
// shuts everything down.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown stops the listeners, drains async event listeners, and releases
// the sandbox and database resources.
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// Let in-flight async listeners finish before their states are closed.
	if s.events != nil {
		s.events.Wait()
	}
	if s.compiler != nil {
		s.compiler.Close()
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Redis client close error", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("Database pool close error", zap.Error(err))
		}
	}

	s.logger.Info("Shutdown complete")
}

// schemaDialect maps the configured database driver to the SQL dialect the
// plugin migration generator emits.
func schemaDialect(driver string) schema.Dialect {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql":
		return schema.DialectPostgres
	case "mysql", "mariadb":
		return schema.DialectMySQL
	default:
		return schema.DialectSQLite
	}
}
