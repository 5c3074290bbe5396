package sql

import (
	"context"

	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// NewJobRepository opens the datasource named by
// infrastructure.job_repository_db_ref and migrates it when
// infrastructure.migrate_on_startup is set.
func NewJobRepository(cfg *config.Config, provider *gormadapter.GormDBProvider) (*SQLJobRepository, error) {
	name := cfg.Chunkflow.Infrastructure.JobRepositoryDBRef
	conn, err := provider.Connection(name)
	if err != nil {
		return nil, err
	}
	repo := NewSQLJobRepository(conn)
	if cfg.Chunkflow.Infrastructure.MigrateOnStartup {
		if err := repo.Migrate(context.Background()); err != nil {
			return nil, err
		}
	}
	logger.Infof("Using SQL job repository on datasource '%s'.", name)
	return repo, nil
}
