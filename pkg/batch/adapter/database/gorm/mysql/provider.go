// Package mysql registers the MySQL dialector. Import it for its side effect.
package mysql

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	driver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
)

func init() {
	gormadapter.RegisterDialector("mysql", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		dsn, err := ConnectionString(cfg)
		if err != nil {
			return nil, err
		}
		return mysql.Open(dsn), nil
	})
}

// ConnectionString returns the go-sql-driver/mysql DSN. parseTime and
// multiStatements (needed by the migrations) are always on. Params is parsed as
// a URL query and added to the DSN.
func ConnectionString(c dbconfig.DatabaseConfig) (string, error) {
	cfg := driver.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.MultiStatements = true
	cfg.Loc = time.Local
	cfg.Collation = "utf8mb4_general_ci"
	if c.Params != "" {
		extra, err := url.ParseQuery(c.Params)
		if err != nil {
			return "", fmt.Errorf("invalid mysql params %q: %w", c.Params, err)
		}
		cfg.Params = make(map[string]string, len(extra))
		for k := range extra {
			cfg.Params[k] = extra.Get(k)
		}
	}
	return cfg.FormatDSN(), nil
}
