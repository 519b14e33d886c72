package db

import (
	"embed"
	"log/slog"

	"github.com/livinlefevreloca/linsched/tools/migrator"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies any pending schema migrations and returns the resulting
// schema version.
func (db *DB) Migrate(logger *slog.Logger) (int, error) {
	if err := migrator.RunMigrations(db.DB, migrations, "migrations", logger); err != nil {
		return 0, err
	}
	return migrator.GetCurrentVersion(db.DB)
}
