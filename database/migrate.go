package database

import (
	"context"
	"embed"
	stderrors "errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/orbas1/edulure/errors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// DefaultMigrationsTable records the applied schema version
const DefaultMigrationsTable = "schema_migrations"

// Migrate applies every pending embedded migration on a dedicated connection
// and returns the resulting schema version. The pool itself stays open.
func Migrate(ctx context.Context, db *sqlx.DB, table string) (uint, error) {
	if table == "" {
		table = DefaultMigrationsTable
	}

	m, err := newMigrator(ctx, db, table)
	if err != nil {
		return 0, err
	}
	// Closes the source and the dedicated connection, not the pool.
	defer m.Close()

	if err := m.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return 0, errors.WrapFatal(err, "database", "Migrate", "apply migrations")
	}

	return version(m)
}

// Rollback reverts the most recent migration
func Rollback(ctx context.Context, db *sqlx.DB, table string) (uint, error) {
	if table == "" {
		table = DefaultMigrationsTable
	}

	m, err := newMigrator(ctx, db, table)
	if err != nil {
		return 0, err
	}
	defer m.Close()

	if err := m.Steps(-1); err != nil {
		return 0, errors.WrapFatal(err, "database", "Rollback", "revert migration")
	}
	return version(m)
}

func newMigrator(ctx context.Context, db *sqlx.DB, table string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, errors.WrapFatal(err, "database", "Migrate", "load embedded migrations")
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = source.Close()
		return nil, errors.WrapTransient(err, "database", "Migrate", "acquire connection")
	}

	driver, err := postgres.WithConnection(ctx, conn, &postgres.Config{MigrationsTable: table})
	if err != nil {
		_ = conn.Close()
		_ = source.Close()
		return nil, errors.WrapFatal(err, "database", "Migrate", "create postgres driver")
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = driver.Close()
		_ = source.Close()
		return nil, errors.WrapFatal(err, "database", "Migrate", "create migrator")
	}
	return m, nil
}

func version(m *migrate.Migrate) (uint, error) {
	v, dirty, err := m.Version()
	if stderrors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.WrapTransient(err, "database", "Migrate", "read schema version")
	}
	if dirty {
		return v, errors.WrapFatal(errors.ErrInvalidConfig, "database", "Migrate", "schema is dirty")
	}
	return v, nil
}
