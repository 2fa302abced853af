package migrate

import (
	"database/sql"
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	pgdriver "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrations embed.FS

// RunMigration applies every migration that hasn't been applied yet. It is a no-op when the schema is current.
func RunMigration(client *sql.DB) error {
	m, err := newMigrateInstance(client)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// RunMigrationToVersion migrates up or down to (and including) the specified migration version number
func RunMigrationToVersion(client *sql.DB, toVersion uint) error {
	m, err := newMigrateInstance(client)
	if err != nil {
		return err
	}

	if err := m.Migrate(toVersion); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func newMigrateInstance(client *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, err
	}

	d, err := pgdriver.WithInstance(client, &pgdriver.Config{})
	if err != nil {
		return nil, err
	}

	return migrate.NewWithInstance("iofs", src, "postgres", d)
}
