// Package database defines the datasource abstraction shared by the SQL job
// repository, the SQL readers and writers, and the gorm adapter.
package database

import (
	"database/sql"

	dbconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/config"
)

// DBConnection is an open, named datasource.
type DBConnection interface {
	Name() string
	// Type is the database type ("sqlite", "mysql", "postgres").
	Type() string
	Config() dbconfig.DatabaseConfig
	// GetSQLDB returns the underlying pool for database/sql based components.
	GetSQLDB() (*sql.DB, error)
	// IsTableNotExistError reports whether err means a table is missing.
	IsTableNotExistError(err error) bool
	Close() error
}

// DBProvider opens and caches connections by datasource name.
type DBProvider interface {
	GetConnection(name string) (DBConnection, error)
	// ForceReconnect closes the cached connection, if any, and opens a new one.
	ForceReconnect(name string) (DBConnection, error)
	CloseAll() error
}
