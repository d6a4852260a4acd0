package store

import "fmt"

// migrations are applied in order; user_version tracks the last applied
// index. Append only, never edit a shipped migration.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		manifest_path TEXT NOT NULL,
		model_path    TEXT NOT NULL,
		gpus          INTEGER NOT NULL,
		epochs        INTEGER NOT NULL,
		status        TEXT NOT NULL,
		pid           INTEGER NOT NULL DEFAULT 0,
		exit_code     INTEGER NOT NULL DEFAULT -1,
		log_path      TEXT NOT NULL DEFAULT '',
		created_at    TEXT NOT NULL,
		started_at    TEXT,
		finished_at   TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
}

// migrate applies pending migrations inside a transaction per step.
func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback() //nolint:errcheck // already failing
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		// PRAGMA does not accept placeholders.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			_ = tx.Rollback() //nolint:errcheck // already failing
			return fmt.Errorf("bump schema version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}

	return nil
}
