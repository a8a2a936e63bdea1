// Command plugrt hosts the tenant plugin runtime: stored plugin code,
// hook/event dispatch, dynamic plugin endpoints, widgets, and plugin-owned
// entity migrations.
//
// Usage:
//
//	plugrt serve                       start the runtime
//	plugrt serve --config plugrt.yaml  with a config file
//	plugrt migrate up                  apply runtime schema migrations
//	plugrt migrate down                roll back the last runtime migration
//	plugrt migrate status              show runtime migration status
//	plugrt version                     show build information
//	plugrt health                      probe a running instance
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shopforge/plugrt/config"
	"github.com/shopforge/plugrt/internal/database"
	"github.com/shopforge/plugrt/internal/migration"
)

// Injected at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting plugrt",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	server := NewServer(cfg, logger)
	if err := server.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	server.WaitForShutdown()
	logger.Info("plugrt stopped")
}

func runMigrate(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "migrate requires a subcommand: up, down, reset, status, version")
		os.Exit(1)
	}
	sub := args[0]

	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args[1:])

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	gormDB, err := database.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		fmt.Fprintf(os.Stderr, "database handle: %v\n", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	runner, err := migration.New(sqlDB, cfg.Database.Driver, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init migrator: %v\n", err)
		os.Exit(1)
	}
	defer runner.Close()

	ctx := context.Background()
	switch sub {
	case "up":
		err = runner.Up(ctx)
	case "down":
		err = runner.Down(ctx)
	case "reset":
		err = runner.Reset(ctx)
	case "version":
		var v uint
		var dirty bool
		if v, dirty, err = runner.Version(); err == nil {
			fmt.Printf("version: %d dirty: %v\n", v, dirty)
		}
	case "status":
		var statuses []migration.Status
		if statuses, err = runner.Status(cfg.Database.Driver); err == nil {
			for _, st := range statuses {
				marker := " "
				if st.Applied {
					marker = "x"
				}
				if st.Dirty {
					marker = "!"
				}
				fmt.Printf("[%s] %04d %s\n", marker, st.Version, st.Name)
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown migrate subcommand: %s\n", sub)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", sub, err)
		os.Exit(1)
	}
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/healthz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func loadConfig(path string) *config.Config {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func printVersion() {
	fmt.Printf("plugrt %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`plugrt - tenant plugin runtime

Usage:
  plugrt <command> [options]

Commands:
  serve     Start the plugin runtime server
  migrate   Runtime schema migration commands
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve' and 'migrate':
  --config <path>   Path to configuration file (YAML)

Migration subcommands:
  migrate up        Apply all pending runtime migrations
  migrate down      Rollback the last runtime migration
  migrate status    Show runtime migration status
  migrate version   Show current runtime schema version
  migrate reset     Rollback all runtime migrations

Examples:
  plugrt serve
  plugrt serve --config /etc/plugrt/plugrt.yaml
  plugrt migrate up
  plugrt health --addr http://localhost:8080`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	var opts []zap.Option
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
