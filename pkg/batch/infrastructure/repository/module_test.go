package repository

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/sqlite"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/inmemory"
	sqlrepo "github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/sql"
)

func TestNewJobRepository(t *testing.T) {
	cfg := config.NewConfig()
	repo, err := NewJobRepository(Params{Config: cfg})
	require.NoError(t, err)
	assert.IsType(t, &inmemory.InMemoryJobRepository{}, repo)

	cfg.Chunkflow.Infrastructure.JobRepositoryType = config.JobRepositorySQL
	_, err = NewJobRepository(Params{Config: cfg})
	assert.Error(t, err)

	cfg.Chunkflow.Infrastructure.MigrateOnStartup = true
	cfg.Chunkflow.Datasources["metadata"] = map[string]interface{}{
		"type":     "sqlite",
		"database": filepath.Join(t.TempDir(), "metadata.db"),
	}
	provider := gormadapter.NewGormDBProvider(cfg)
	t.Cleanup(func() { _ = provider.CloseAll() })
	repo, err = NewJobRepository(Params{Config: cfg, DBProvider: provider})
	require.NoError(t, err)
	assert.IsType(t, &sqlrepo.SQLJobRepository{}, repo)

	cfg.Chunkflow.Infrastructure.JobRepositoryType = "redis"
	_, err = NewJobRepository(Params{Config: cfg})
	assert.Error(t, err)
}
