package sqlite

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Migration sets, one per store file.
const (
	credentialsSchema  = "credentials"
	certificatesSchema = "certificates"
)

//go:embed migrations/credentials/*.sql migrations/certificates/*.sql
var migrationsFS embed.FS

// RunMigrations applies all pending migrations of the named embedded set.
// It is safe to call on every open; already-applied migrations are skipped.
func RunMigrations(db *sql.DB, schema string) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations/"+schema)
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("run %s migrations: %w", schema, err)
	}

	return nil
}
