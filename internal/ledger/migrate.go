package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tallyfinance/tally/internal/ledger/migrations"
)

// Dialects with an embedded migration set.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// NewMigrator binds the embedded migration set for dialect to db. The
// caller drives it (Up, Down, Steps) and closes it.
func NewMigrator(db *sql.DB, dialect string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.FS, dialect)
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}

	var driver database.Driver
	switch dialect {
	case DialectSQLite:
		driver, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	case DialectPostgres:
		driver, err = migratepgx.WithInstance(db, &migratepgx.Config{})
	default:
		return nil, fmt.Errorf("unknown migration dialect %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("bind %s migrations: %w", dialect, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dialect, driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

// MigrateUp applies all pending schema migrations and then any pending
// data hooks. db stays open afterwards; the migrator is deliberately
// not closed because some drivers close the shared handle with it.
func MigrateUp(ctx context.Context, db *sql.DB, dialect string) error {
	m, err := NewMigrator(db, dialect)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	if _, err := RunPendingHooks(ctx, db); err != nil {
		return fmt.Errorf("data hooks: %w", err)
	}
	return nil
}
