package audit

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 1

type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations are applied in order, each exactly once, tracked in schema_version.
var migrations = []migration{
	{
		Version:     1,
		Description: "relay_log",
		SQL: `
		CREATE TABLE IF NOT EXISTS relay_log (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			kind        TEXT NOT NULL DEFAULT 'relay',
			run_id      TEXT NOT NULL DEFAULT '',
			outcome     TEXT NOT NULL,
			reason      TEXT NOT NULL DEFAULT '',
			channel_id  TEXT NOT NULL DEFAULT '',
			author_id   TEXT NOT NULL DEFAULT '',
			message_id  TEXT NOT NULL DEFAULT '',
			latency_ms  INTEGER NOT NULL DEFAULT 0,
			error       TEXT NOT NULL DEFAULT '',
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_relay_log_time ON relay_log(created_at);
		CREATE INDEX IF NOT EXISTS idx_relay_log_kind ON relay_log(kind, outcome);
		`,
	},
}

// RunMigrations applies all pending schema migrations.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := GetSchemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description)
		if err := applyMigration(db, m, logger); err != nil {
			return err
		}
	}
	return nil
}

// applyMigration runs each statement of m, skipping ones a partial earlier
// run already applied, then records the version.
func applyMigration(db *sql.DB, m migration, logger *slog.Logger) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration v%d: %w", m.Version, err)
	}
	defer tx.Rollback()

	for _, stmt := range strings.Split(m.SQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			msg := err.Error()
			if strings.Contains(msg, "already exists") {
				logger.Debug("migration statement skipped (already applied)", "version", m.Version)
				continue
			}
			return fmt.Errorf("migration v%d statement failed: %w", m.Version, err)
		}
	}

	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration v%d: %w", m.Version, err)
	}
	return nil
}

// GetSchemaVersion returns the highest applied migration version.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return v, nil
}
