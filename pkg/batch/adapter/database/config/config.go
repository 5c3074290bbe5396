// Package config holds the connection settings of a named datasource.
package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes" mapstructure:"conn_max_lifetime_minutes"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Type     string     `yaml:"type" mapstructure:"type"` // "sqlite", "mysql" or "postgres".
	Host     string     `yaml:"host" mapstructure:"host"`
	Port     int        `yaml:"port" mapstructure:"port"`
	Database string     `yaml:"database" mapstructure:"database"` // File path for sqlite.
	User     string     `yaml:"user" mapstructure:"user"`
	Password string     `yaml:"password" mapstructure:"password"`
	Schema   string     `yaml:"schema,omitempty" mapstructure:"schema"`
	Sslmode  string     `yaml:"sslmode" mapstructure:"sslmode"`
	Params   string     `yaml:"params,omitempty" mapstructure:"params"` // Extra DSN parameters appended verbatim.
	Pool     PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// Decode converts the raw settings of one datasource (as found under
// chunkflow.datasources.<name>) into a DatabaseConfig. Numeric values given
// as strings, as environment overrides produce them, are accepted.
func Decode(raw interface{}) (DatabaseConfig, error) {
	var cfg DatabaseConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return cfg, err
	}
	if err := decoder.Decode(raw); err != nil {
		return cfg, fmt.Errorf("failed to decode database config: %w", err)
	}
	if cfg.Type == "" {
		return cfg, fmt.Errorf("database config has no type")
	}
	return cfg, nil
}
