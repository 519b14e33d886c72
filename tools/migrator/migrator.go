package migrator

import (
	"database/sql"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"
)

// RunMigrations applies all pending migrations found in dir of fsys, in
// version order. Each migration runs in its own transaction unless marked
// notransaction.
func RunMigrations(db *sql.DB, fsys fs.FS, dir string, logger *slog.Logger) error {
	if err := createSchemaTable(db); err != nil {
		return errors.Wrap(err, "create schema table")
	}

	migrations, err := LoadMigrations(fsys, dir)
	if err != nil {
		return errors.Wrap(err, "load migrations")
	}

	applied, err := GetAppliedMigrations(db)
	if err != nil {
		return errors.Wrap(err, "get applied migrations")
	}

	appliedSet := make(map[int]bool)
	maxApplied := 0
	for _, v := range applied {
		appliedSet[v] = true
		if v > maxApplied {
			maxApplied = v
		}
	}

	for _, migration := range migrations {
		if appliedSet[migration.Version] {
			logger.Debug("migration already applied", "version", migration.Version, "name", migration.Name)
			continue
		}

		// Can't go backwards
		if migration.Version < maxApplied {
			return errors.Newf("cannot apply migration %d: version %d is already applied (migrations must be applied in order)",
				migration.Version, maxApplied)
		}

		for _, dep := range migration.Dependencies {
			if !appliedSet[dep] {
				return errors.Newf("migration %d depends on version %d which has not been applied", migration.Version, dep)
			}
		}

		logger.Info("applying migration", "version", migration.Version, "name", migration.Name)
		if err := applyMigration(db, migration); err != nil {
			return errors.Wrapf(err, "apply migration %d", migration.Version)
		}

		appliedSet[migration.Version] = true
		maxApplied = migration.Version
	}

	return nil
}

// GetCurrentVersion returns the highest applied migration version.
// Returns 0 if no migrations have been applied.
func GetCurrentVersion(db *sql.DB) (int, error) {
	var version int
	query := "SELECT COALESCE(MAX(version), 0) FROM schema_migrations"

	err := db.QueryRow(query).Scan(&version)
	if err != nil {
		if isMissingTable(err) {
			return 0, nil
		}
		return 0, err
	}

	return version, nil
}

// GetAppliedMigrations returns a slice of all applied migration versions, sorted.
func GetAppliedMigrations(db *sql.DB) ([]int, error) {
	query := "SELECT version FROM schema_migrations ORDER BY version"

	rows, err := db.Query(query)
	if err != nil {
		if isMissingTable(err) {
			return []int{}, nil
		}
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return versions, nil
}

func isMissingTable(err error) bool {
	return strings.Contains(err.Error(), "no such table")
}

// createSchemaTable creates the schema_migrations table if it doesn't exist.
func createSchemaTable(db *sql.DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	_, err := db.Exec(query)
	return err
}

// applyMigration executes a single migration and records it in schema_migrations.
func applyMigration(db *sql.DB, migration Migration) error {
	recordQuery := "INSERT INTO schema_migrations (version) VALUES (?)"

	if migration.NoTransaction {
		if _, err := db.Exec(migration.UpSQL); err != nil {
			return errors.Wrap(err, "execute SQL")
		}
		if _, err := db.Exec(recordQuery, migration.Version); err != nil {
			return errors.Wrap(err, "record migration")
		}
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}

	if _, err := tx.Exec(migration.UpSQL); err != nil {
		tx.Rollback()
		return errors.Wrap(err, "execute SQL")
	}

	if _, err := tx.Exec(recordQuery, migration.Version); err != nil {
		tx.Rollback()
		return errors.Wrap(err, "record migration")
	}

	return tx.Commit()
}
