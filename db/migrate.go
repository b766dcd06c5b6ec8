package db

import (
	"database/sql"
	"embed"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/paperdash/paperdash/errors"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

// Migrate runs all pending migrations.
// If logger is provided, logs migration progress; otherwise operates silently.
func Migrate(db *sql.DB, logger *zap.SugaredLogger) error {
	entries, err := migrations.ReadDir("sqlite/migrations")
	if err != nil {
		return errors.Wrap(err, "read migrations")
	}

	// Sort migrations (000_create_schema_migrations.sql runs first)
	var migrationFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			migrationFiles = append(migrationFiles, entry.Name())
		}
	}
	sort.Strings(migrationFiles)

	for _, filename := range migrationFiles {
		version := strings.Split(filename, "_")[0]

		// Check if already applied (schema_migrations created by 000)
		var exists bool
		err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version).Scan(&exists)
		if err != nil {
			// Table doesn't exist yet - this must be migration 000
			if version != "000" {
				return errors.Newf("schema_migrations table missing, but migration is not 000: %s", filename)
			}
		} else if exists {
			if logger != nil {
				logger.Debugw("Migration already applied", "version", version)
			}
			continue
		}

		contents, err := migrations.ReadFile("sqlite/migrations/" + filename)
		if err != nil {
			return errors.Wrapf(err, "read migration %s", filename)
		}

		// Apply and record atomically so a crash cannot leave an applied
		// migration unrecorded and replay it on the next start.
		tx, err := db.Begin()
		if err != nil {
			return errors.Wrapf(err, "begin transaction for migration %s", filename)
		}

		if _, err := tx.Exec(string(contents)); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "apply migration %s", filename)
		}

		if _, err := tx.Exec(
			"INSERT OR IGNORE INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			version, time.Now().Format(time.RFC3339),
		); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "record migration %s", filename)
		}

		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "commit migration %s", filename)
		}

		if logger != nil {
			logger.Infow("Applied migration", "version", version, "file", filename)
		}
	}

	return nil
}
