// Package repository selects the JobRepository backend from the configuration.
package repository

import (
	"fmt"

	"go.uber.org/fx"

	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/inmemory"
	sqlrepo "github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/sql"
)

// Params are the dependencies of NewJobRepository. The gorm provider is only
// needed by the sql backend.
type Params struct {
	fx.In
	Config     *config.Config
	DBProvider *gormadapter.GormDBProvider `optional:"true"`
}

// NewJobRepository returns the backend named by infrastructure.job_repository_type.
func NewJobRepository(p Params) (repository.JobRepository, error) {
	switch p.Config.Chunkflow.Infrastructure.JobRepositoryType {
	case config.JobRepositoryInMemory:
		return inmemory.NewInMemoryJobRepository(), nil
	case config.JobRepositorySQL:
		if p.DBProvider == nil {
			return nil, fmt.Errorf("job repository type %q needs the gorm database module", config.JobRepositorySQL)
		}
		return sqlrepo.NewJobRepository(p.Config, p.DBProvider)
	default:
		return nil, fmt.Errorf("unsupported job repository type: %s", p.Config.Chunkflow.Infrastructure.JobRepositoryType)
	}
}

// Module provides repository.JobRepository.
var Module = fx.Provide(NewJobRepository)
