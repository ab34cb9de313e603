// Package store provides database schema migration management.
package store

import (
	"database/sql"
	"fmt"
	"time"
)

// migration represents one ordered schema change.
type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered schema history. Append only; never edit an
// applied entry.
var migrations = []migration{
	{
		Version:     1,
		Description: "entries table with version counter",
		SQL: `
		CREATE TABLE IF NOT EXISTS entries (
			id TEXT PRIMARY KEY,
			analysis_id TEXT NOT NULL,
			node_id TEXT NOT NULL DEFAULT '',
			deviation TEXT NOT NULL DEFAULT '',
			causes TEXT NOT NULL DEFAULT '[]',
			consequences TEXT NOT NULL DEFAULT '[]',
			safeguards TEXT NOT NULL DEFAULT '[]',
			recommendations TEXT NOT NULL DEFAULT '[]',
			severity INTEGER,
			likelihood INTEGER,
			risk_ranking TEXT,
			version INTEGER NOT NULL CHECK(version > 0),
			updated_by TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_entries_analysis ON entries(analysis_id);`,
	},
	{
		Version:     2,
		Description: "change log for version-changing writes",
		SQL: `
		CREATE TABLE IF NOT EXISTS change_log (
			id TEXT PRIMARY KEY,
			entry_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			version INTEGER NOT NULL,
			author_id TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_change_log_entry ON change_log(entry_id);`,
	},
}

// Migrate applies all pending migrations in order.
func Migrate(db *sql.DB) error {
	if err := initMigrations(db); err != nil {
		return err
	}

	current, err := currentVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.Version, time.Now().Unix(), m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// initMigrations creates the schema_migrations table if it doesn't exist.
func initMigrations(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0)
	);`
	_, err := db.Exec(query)
	return err
}

// currentVersion returns the current schema version.
func currentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}
