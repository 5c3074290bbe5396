// Package sqlite registers the SQLite dialector. Import it for its side effect.
package sqlite

import (
	"errors"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
)

func init() {
	gormadapter.RegisterDialector("sqlite", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Database == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		return sqlite.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString returns the SQLite DSN: the file path plus optional parameters.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	if c.Params == "" {
		return c.Database
	}
	return c.Database + "?" + c.Params
}
