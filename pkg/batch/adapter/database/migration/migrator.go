// Package migration applies embedded golang-migrate migrations to a datasource.
package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// Tables tracking applied versions.
const (
	FrameworkMigrationsTable = "batch_framework_migrations"
	AppMigrationsTable       = "batch_app_migrations"
)

// Migrator applies migrations to one connection.
type Migrator struct {
	conn database.DBConnection
}

// NewMigrator creates a Migrator for conn.
func NewMigrator(conn database.DBConnection) *Migrator {
	return &Migrator{conn: conn}
}

// Up applies every pending migration found under dir of migrationFS. When dir
// has a subdirectory named after the database type, that one is used.
func (m *Migrator) Up(ctx context.Context, migrationFS fs.FS, dir string, tableName string) error {
	if sub := dir + "/" + m.conn.Type(); isDir(migrationFS, sub) {
		dir = sub
	}
	logger.Infof("Applying migrations from '%s' to '%s' (table: %s)", dir, m.conn.Name(), tableName)

	sqlDB, err := m.conn.GetSQLDB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sourceDriver, err := iofs.New(migrationFS, dir)
	if err != nil {
		return fmt.Errorf("failed to create iofs source driver for path %s: %w", dir, err)
	}
	// Only the source is closed afterwards: closing the database driver would
	// close the shared pool.
	defer sourceDriver.Close()

	dbDriver, err := m.databaseDriver(sqlDB, tableName)
	if err != nil {
		return err
	}
	instance, err := migrate.NewWithInstance("iofs", sourceDriver, m.conn.Type(), dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		version, dirty, _ := instance.Version()
		return fmt.Errorf("migration of '%s' failed at version %d (dirty: %t): %w", m.conn.Name(), version, dirty, err)
	}
	logger.Infof("Migrations applied to '%s'.", m.conn.Name())
	return nil
}

func (m *Migrator) databaseDriver(sqlDB *sql.DB, tableName string) (migratedb.Driver, error) {
	switch m.conn.Type() {
	case "postgres":
		return postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: tableName})
	case "mysql":
		return mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: tableName})
	case "sqlite":
		return sqlite.WithInstance(sqlDB, &sqlite.Config{MigrationsTable: tableName})
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", m.conn.Type())
	}
}

func isDir(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	return err == nil && info.IsDir()
}
