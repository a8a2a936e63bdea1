package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shopforge/plugrt/store"
)

// versionLayout makes migration versions sort in creation order.
const versionLayout = "20060102_150405"

// RunOptions modify Run behavior. Force is the documented unsafe escape
// hatch: it skips the ascending-order check and re-runs completed
// migrations.
type RunOptions struct {
	DryRun bool
	Force  bool
}

// Service drives entity definition and the migration state machine.
type Service struct {
	store   *store.Store
	dialect Dialect
	logger  *zap.Logger

	// Per-plugin advisory locks: Run/Rollback for one plugin are
	// serialized, different plugins migrate concurrently.
	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	observe func(outcome string, d time.Duration)
	now     func() time.Time
}

// NewService creates a schema service.
func NewService(st *store.Store, dialect Dialect, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   st,
		dialect: dialect,
		logger:  logger.With(zap.String("component", "schema")),
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

// Dialect returns the SQL dialect plugin tables are generated for.
func (s *Service) Dialect() Dialect { return s.dialect }

// SetObserver installs a per-execution callback, used for metrics. Must be
// called before migrations run.
func (s *Service) SetObserver(fn func(outcome string, d time.Duration)) {
	s.observe = fn
}

func (s *Service) observed(outcome string, d time.Duration) {
	if s.observe != nil {
		s.observe(outcome, d)
	}
}

// DefineEntity validates the definition, generates its SQL pair and persists
// the entity together with its pending migration. A validation failure
// persists nothing.
func (s *Service) DefineEntity(ctx context.Context, tenantID, pluginID string, def *Definition) (*store.Entity, *store.Migration, error) {
	if err := def.Validate(); err != nil {
		return nil, nil, err
	}

	upSQL := GenerateUpSQL(def, s.dialect)
	downSQL := GenerateDownSQL(def, s.dialect)
	rawDef, err := json.Marshal(def)
	if err != nil {
		return nil, nil, fmt.Errorf("encode definition: %w", err)
	}

	entity := &store.Entity{
		TenantID:         tenantID,
		PluginID:         pluginID,
		EntityName:       def.EntityName,
		TableName_:       def.TableName,
		SchemaDefinition: string(rawDef),
		MigrationStatus:  store.EntityPending,
	}
	migration := &store.Migration{
		TenantID:    tenantID,
		PluginID:    pluginID,
		Version:     s.nextVersion(ctx, tenantID, pluginID),
		Description: "create table " + def.TableName,
		TableName_:  def.TableName,
		UpSQL:       upSQL,
		DownSQL:     downSQL,
		Checksum:    Checksum(upSQL, downSQL),
		Status:      store.MigrationPending,
	}

	if err := s.store.CreateEntityWithMigration(ctx, entity, migration); err != nil {
		return nil, nil, err
	}

	s.logger.Info("entity defined",
		zap.String("plugin_id", pluginID),
		zap.String("table", def.TableName),
		zap.String("version", migration.Version))
	return entity, migration, nil
}

// Run executes one migration addressed by plugin and version.
//
// Ordering is enforced per plugin: a version may not run while an earlier
// pending or failed migration exists, unless Force is set. Re-running a
// completed migration without Force is an idempotent no-op returning the
// current row. DryRun returns the SQL without executing or mutating state.
func (s *Service) Run(ctx context.Context, tenantID, pluginID, version string, opts RunOptions) (*store.Migration, error) {
	unlock := s.lockPlugin(pluginID)
	defer unlock()

	m, err := s.store.GetMigration(ctx, tenantID, pluginID, version)
	if err != nil {
		return nil, err
	}

	if m.Status == store.MigrationCompleted && !opts.Force {
		return m, nil
	}
	if m.Status == store.MigrationRunning {
		return nil, &MigrationError{PluginID: pluginID, Version: version, Message: "already running"}
	}

	if !opts.Force {
		if err := s.checkOrdering(ctx, tenantID, pluginID, version); err != nil {
			return nil, err
		}
	}

	if opts.DryRun {
		return m, nil
	}

	m.Status = store.MigrationRunning
	m.ErrorMessage = ""
	if err := s.store.UpdateMigration(ctx, m); err != nil {
		return nil, err
	}

	start := s.now()
	execErr := s.store.Transaction(ctx, func(tx *gorm.DB) error {
		for _, stmt := range SplitStatements(m.UpSQL) {
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}
		return nil
	})
	elapsed := s.now().Sub(start)

	executedAt := s.now().UTC()
	m.ExecutedAt = &executedAt
	m.ExecutionTimeMs = elapsed.Milliseconds()

	if execErr != nil {
		m.Status = store.MigrationFailed
		m.ErrorMessage = execErr.Error()
		if err := s.store.UpdateMigration(ctx, m); err != nil {
			s.logger.Error("failed to record migration failure", zap.Error(err))
		}
		s.markEntity(ctx, m, store.EntityFailed)
		s.observed("failed", elapsed)
		s.audit(ctx, m, "migration.failed", execErr.Error())
		s.logger.Error("migration failed",
			zap.String("plugin_id", pluginID),
			zap.String("version", version),
			zap.Error(execErr))
		return m, &MigrationError{PluginID: pluginID, Version: version, Message: execErr.Error()}
	}

	m.Status = store.MigrationCompleted
	if err := s.store.UpdateMigration(ctx, m); err != nil {
		return nil, err
	}
	s.markEntity(ctx, m, store.EntityMigrated)
	s.observed("completed", elapsed)
	s.audit(ctx, m, "migration.completed", m.TableName_)

	s.logger.Info("migration completed",
		zap.String("plugin_id", pluginID),
		zap.String("version", version),
		zap.Int64("execution_time_ms", m.ExecutionTimeMs))
	return m, nil
}

// Rollback reverses one completed migration. On failure the migration stays
// completed with the error recorded; the schema is never guessed at.
func (s *Service) Rollback(ctx context.Context, tenantID, pluginID, version string) (*store.Migration, error) {
	unlock := s.lockPlugin(pluginID)
	defer unlock()

	m, err := s.store.GetMigration(ctx, tenantID, pluginID, version)
	if err != nil {
		return nil, err
	}
	if m.Status != store.MigrationCompleted {
		return nil, &MigrationError{
			PluginID: pluginID,
			Version:  version,
			Message:  fmt.Sprintf("cannot roll back migration in status %q", m.Status),
		}
	}

	start := s.now()
	execErr := s.store.Transaction(ctx, func(tx *gorm.DB) error {
		for _, stmt := range SplitStatements(m.DownSQL) {
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}
		return nil
	})
	elapsed := s.now().Sub(start)

	if execErr != nil {
		s.observed("rollback_failed", elapsed)
		m.ErrorMessage = execErr.Error()
		if err := s.store.UpdateMigration(ctx, m); err != nil {
			s.logger.Error("failed to record rollback failure", zap.Error(err))
		}
		s.logger.Error("rollback failed",
			zap.String("plugin_id", pluginID),
			zap.String("version", version),
			zap.Error(execErr))
		return m, &RollbackError{PluginID: pluginID, Version: version, Message: execErr.Error()}
	}

	m.Status = store.MigrationRolledBack
	m.ErrorMessage = ""
	if err := s.store.UpdateMigration(ctx, m); err != nil {
		return nil, err
	}
	s.markEntity(ctx, m, store.EntityPending)
	s.observed("rolled_back", elapsed)
	s.audit(ctx, m, "migration.rolled_back", m.TableName_)

	s.logger.Info("migration rolled back",
		zap.String("plugin_id", pluginID),
		zap.String("version", version))
	return m, nil
}

// List returns migrations for a tenant, optionally narrowed to one plugin.
func (s *Service) List(ctx context.Context, tenantID, pluginID string) ([]store.Migration, error) {
	return s.store.Migrations(ctx, tenantID, pluginID)
}

// checkOrdering fails fast when an earlier migration of the plugin is still
// pending or failed.
func (s *Service) checkOrdering(ctx context.Context, tenantID, pluginID, version string) error {
	all, err := s.store.Migrations(ctx, tenantID, pluginID)
	if err != nil {
		return err
	}
	for _, other := range all {
		if other.Version >= version {
			continue
		}
		if other.Status == store.MigrationPending || other.Status == store.MigrationFailed {
			return &MigrationError{
				PluginID: pluginID,
				Version:  version,
				Message: fmt.Sprintf("earlier migration %s is %s; run it first or use force",
					other.Version, other.Status),
			}
		}
	}
	return nil
}

func (s *Service) audit(ctx context.Context, m *store.Migration, action, detail string) {
	s.store.Audit(ctx, &store.AuditEntry{
		TenantID: m.TenantID,
		PluginID: m.PluginID,
		Action:   action,
		Detail:   fmt.Sprintf("%s: %s", m.Version, detail),
	})
}

func (s *Service) markEntity(ctx context.Context, m *store.Migration, status store.EntityStatus) {
	if m.TableName_ == "" {
		return
	}
	if err := s.store.UpdateEntityStatus(ctx, m.TenantID, m.PluginID, m.TableName_, status); err != nil {
		s.logger.Warn("failed to update entity status",
			zap.String("table", m.TableName_),
			zap.Error(err))
	}
}

// nextVersion returns a sortable UTC timestamp version, disambiguated when
// two entities are defined within the same second.
func (s *Service) nextVersion(ctx context.Context, tenantID, pluginID string) string {
	base := s.now().UTC().Format(versionLayout)
	version := base
	for i := 1; ; i++ {
		if _, err := s.store.GetMigration(ctx, tenantID, pluginID, version); err != nil {
			return version
		}
		version = fmt.Sprintf("%s_%02d", base, i)
	}
}

func (s *Service) lockPlugin(pluginID string) func() {
	s.lockMu.Lock()
	mu, ok := s.locks[pluginID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[pluginID] = mu
	}
	s.lockMu.Unlock()

	mu.Lock()
	return mu.Unlock
}
