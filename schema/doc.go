// Package schema turns plugin-declared entity definitions into versioned,
// transactional, reversible database migrations.
//
// DefineEntity validates a structured schema definition, deterministically
// generates up/down SQL and persists an entity row plus its pending
// migration. Run and Rollback drive the migration state machine:
//
//	pending → running → {completed, failed}
//	completed → rolled_back   (explicit rollback only)
//
// Migrations for one plugin run in ascending version order behind a
// per-plugin advisory lock; different plugins migrate concurrently. A failed
// rollback leaves the migration completed with the error recorded; the
// system never guesses at schema state.
package schema
