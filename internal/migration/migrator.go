package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/sqlite/*.sql
var sqliteFS embed.FS

//go:embed migrations/postgres/*.sql
var postgresFS embed.FS

//go:embed migrations/mysql/*.sql
var mysqlFS embed.FS

// versionsTable tracks the runtime's own schema version. Plugin migrations
// live in plugin_migrations and are managed by the schema service, not here.
const versionsTable = "plugrt_schema_migrations"

// Status describes one embedded migration relative to the database.
type Status struct {
	Version uint   `json:"version"`
	Name    string `json:"name"`
	Applied bool   `json:"applied"`
	Dirty   bool   `json:"dirty"`
}

// Runner applies the runtime's own table schema (plugins, plugin_hooks,
// plugin_migrations, ...) from embedded SQL. It wraps an existing *sql.DB
// rather than opening a second connection.
type Runner struct {
	m   *migrate.Migrate
	log *zap.Logger
}

// New builds a Runner for the given driver name (sqlite, postgres or mysql)
// over an already-open database handle.
func New(db *sql.DB, driver string, log *zap.Logger) (*Runner, error) {
	if db == nil {
		return nil, errors.New("migration: nil database handle")
	}
	if log == nil {
		log = zap.NewNop()
	}

	var (
		drv database.Driver
		err error
	)
	switch driver {
	case "sqlite":
		drv, err = sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: versionsTable})
	case "postgres":
		drv, err = postgres.WithInstance(db, &postgres.Config{MigrationsTable: versionsTable})
	case "mysql":
		drv, err = mysql.WithInstance(db, &mysql.Config{MigrationsTable: versionsTable})
	default:
		return nil, fmt.Errorf("migration: unsupported driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("migration: database driver: %w", err)
	}

	fsys, dir, err := embeddedSource(driver)
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("migration: source driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, drv)
	if err != nil {
		return nil, fmt.Errorf("migration: %w", err)
	}

	return &Runner{
		m:   m,
		log: log.With(zap.String("component", "migration"), zap.String("driver", driver)),
	}, nil
}

// Up applies every pending runtime migration. Already-current databases are
// a no-op.
func (r *Runner) Up(ctx context.Context) error {
	if err := r.m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			r.log.Debug("runtime schema already current")
			return nil
		}
		return fmt.Errorf("migration up: %w", err)
	}
	v, _, _ := r.m.Version()
	r.log.Info("runtime schema migrated", zap.Uint("version", v))
	return nil
}

// Down rolls back the most recent runtime migration.
func (r *Runner) Down(ctx context.Context) error {
	if err := r.m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down: %w", err)
	}
	return nil
}

// Reset rolls back every runtime migration. Destroys all stored plugin code.
func (r *Runner) Reset(ctx context.Context) error {
	if err := r.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration reset: %w", err)
	}
	r.log.Warn("runtime schema reset")
	return nil
}

// Version reports the current schema version and whether the last run left
// the database dirty. A fresh database reports version 0.
func (r *Runner) Version() (uint, bool, error) {
	v, dirty, err := r.m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("migration version: %w", err)
	}
	return v, dirty, nil
}

// Status lists every embedded migration and whether it has been applied.
func (r *Runner) Status(driver string) ([]Status, error) {
	current, dirty, err := r.Version()
	if err != nil {
		return nil, err
	}
	files, err := listEmbedded(driver)
	if err != nil {
		return nil, err
	}

	out := make([]Status, 0, len(files))
	for _, f := range files {
		out = append(out, Status{
			Version: f.version,
			Name:    f.name,
			Applied: f.version <= current,
			Dirty:   dirty && f.version == current,
		})
	}
	return out, nil
}

// Close releases the source driver. The wrapped *sql.DB stays open; it
// belongs to the caller.
func (r *Runner) Close() error {
	srcErr, _ := r.m.Close()
	return srcErr
}

func embeddedSource(driver string) (fs.FS, string, error) {
	switch driver {
	case "sqlite":
		return sqliteFS, "migrations/sqlite", nil
	case "postgres":
		return postgresFS, "migrations/postgres", nil
	case "mysql":
		return mysqlFS, "migrations/mysql", nil
	default:
		return nil, "", fmt.Errorf("migration: unsupported driver %q", driver)
	}
}

type embeddedFile struct {
	version uint
	name    string
}

func listEmbedded(driver string) ([]embeddedFile, error) {
	fsys, dir, err := embeddedSource(driver)
	if err != nil {
		return nil, err
	}
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("migration: read embedded dir: %w", err)
	}

	var files []embeddedFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		// 0001_runtime_tables.up.sql
		parts := strings.SplitN(name, "_", 2)
		if len(parts) != 2 {
			continue
		}
		v, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			continue
		}
		files = append(files, embeddedFile{
			version: uint(v),
			name:    strings.TrimSuffix(parts[1], ".up.sql"),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}
