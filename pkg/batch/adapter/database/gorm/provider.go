// Package gorm implements the datasource abstraction, the chunk transaction
// manager and its helpers on top of gorm.
package gorm

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"gorm.io/gorm"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/config"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// DialectorFactory generates a gorm.Dialector from a dbconfig.DatabaseConfig.
type DialectorFactory func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error)

var (
	dialectorRegistry = make(map[string]DialectorFactory)
	dialectorMutex    sync.RWMutex
)

// RegisterDialector registers a DialectorFactory for the given database type.
// The dialect subpackages call it from init.
func RegisterDialector(dbType string, factory DialectorFactory) {
	dialectorMutex.Lock()
	defer dialectorMutex.Unlock()
	if _, exists := dialectorRegistry[dbType]; exists {
		logger.Warnf("Dialector for type '%s' already registered. Overwriting.", dbType)
	}
	dialectorRegistry[dbType] = factory
}

// GetDialectorFactory retrieves the DialectorFactory corresponding to the specified DB type.
func GetDialectorFactory(dbType string) (DialectorFactory, error) {
	dialectorMutex.RLock()
	defer dialectorMutex.RUnlock()
	factory, ok := dialectorRegistry[dbType]
	if !ok {
		return nil, fmt.Errorf("no dialector registered for database type: %s (is the dialect package imported?)", dbType)
	}
	return factory, nil
}

// GormDBProvider opens gorm connections for the datasources of the configuration.
// Connections are opened on first use and cached by name.
type GormDBProvider struct {
	datasources map[string]interface{}
	logLevel    string
	connections map[string]*GormDBAdapter
	mu          sync.RWMutex
}

// NewGormDBProvider creates a provider for cfg.Chunkflow.Datasources.
func NewGormDBProvider(cfg *config.Config) *GormDBProvider {
	// SQL statements are only logged when the application itself runs at DEBUG.
	level := string(config.LogLevelSilent)
	if config.LogLevel(cfg.Chunkflow.System.Logging.Level) == config.LogLevelDebug {
		level = string(config.LogLevelInfo)
	}
	return &GormDBProvider{
		datasources: cfg.Chunkflow.Datasources,
		logLevel:    level,
		connections: make(map[string]*GormDBAdapter),
	}
}

// GetConnection implements database.DBProvider.
func (p *GormDBProvider) GetConnection(name string) (database.DBConnection, error) {
	return p.Connection(name)
}

// Connection is GetConnection returning the concrete adapter.
func (p *GormDBProvider) Connection(name string) (*GormDBAdapter, error) {
	p.mu.RLock()
	conn, ok := p.connections[name]
	p.mu.RUnlock()
	if ok {
		return conn, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double check (DCL)
	if conn, ok = p.connections[name]; ok {
		return conn, nil
	}
	return p.createAndStoreConnection(name)
}

func (p *GormDBProvider) createAndStoreConnection(name string) (*GormDBAdapter, error) {
	rawConfig, ok := p.datasources[name]
	if !ok {
		return nil, fmt.Errorf("datasource '%s' not found in chunkflow.datasources", name)
	}
	dbConfig, err := dbconfig.Decode(rawConfig)
	if err != nil {
		return nil, fmt.Errorf("datasource '%s': %w", name, err)
	}

	gormDB, err := Open(dbConfig, p.logLevel)
	if err != nil {
		return nil, fmt.Errorf("datasource '%s': %w", name, err)
	}
	conn, err := NewGormDBAdapter(gormDB, dbConfig, name)
	if err != nil {
		return nil, err
	}
	p.connections[name] = conn
	logger.Infof("Established new DB connection: %s (%s)", name, dbConfig.Type)
	return conn, nil
}

// ForceReconnect implements database.DBProvider.
func (p *GormDBProvider) ForceReconnect(name string) (database.DBConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existingConn, ok := p.connections[name]; ok {
		if err := existingConn.Close(); err != nil {
			logger.Warnf("Failed to close existing connection '%s' before reconnect: %v", name, err)
		}
		delete(p.connections, name)
	}
	conn, err := p.createAndStoreConnection(name)
	if err != nil {
		return nil, err
	}
	logger.Infof("Re-established DB connection: %s", name)
	return conn, nil
}

// CloseAll implements database.DBProvider.
func (p *GormDBProvider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result *multierror.Error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			logger.Errorf("Failed to close connection '%s': %v", name, err)
			result = multierror.Append(result, fmt.Errorf("close '%s': %w", name, err))
		}
		delete(p.connections, name)
	}
	return result.ErrorOrNil()
}

// Open establishes a gorm connection and applies the pool settings.
func Open(dbConfig dbconfig.DatabaseConfig, logLevel string) (*gorm.DB, error) {
	dialectorFactory, err := GetDialectorFactory(dbConfig.Type)
	if err != nil {
		return nil, err
	}
	dialector, err := dialectorFactory(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create dialector for %s: %w", dbConfig.Type, err)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 NewGormLogger(logLevel),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if dbConfig.Pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(dbConfig.Pool.MaxOpenConns)
	}
	if dbConfig.Pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(dbConfig.Pool.MaxIdleConns)
	}
	if dbConfig.Pool.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(dbConfig.Pool.ConnMaxLifetimeMinutes) * time.Minute)
	}
	return db, nil
}
