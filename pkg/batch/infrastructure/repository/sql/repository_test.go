package sql

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

func newTestRepository(t *testing.T) (*SQLJobRepository, *gormadapter.GormDBAdapter) {
	t.Helper()
	cfg := dbconfig.DatabaseConfig{Type: "sqlite", Database: filepath.Join(t.TempDir(), "metadata.db")}
	db, err := gormadapter.Open(cfg, "SILENT")
	require.NoError(t, err)
	conn, err := gormadapter.NewGormDBAdapter(db, cfg, "metadata")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	repo := NewSQLJobRepository(conn)
	require.NoError(t, repo.Migrate(context.Background()))
	// A second run finds nothing to apply.
	require.NoError(t, repo.Migrate(context.Background()))
	return repo, conn
}

func TestSQLJobRepository_JobInstance(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	params := model.NewJobParameters()
	params.Put("input", "products.csv")
	params.Put("startAt", int64(1700000000000))
	ji := model.NewJobInstance("productJob", params)
	require.NoError(t, repo.SaveJobInstance(ctx, ji))

	lookup := model.NewJobParameters()
	lookup.Put("startAt", float64(1700000000000))
	lookup.Put("input", "products.csv")
	found, err := repo.FindJobInstanceByJobNameAndParameters(ctx, "productJob", lookup)
	require.NoError(t, err)
	assert.Equal(t, ji.ID, found.ID)
	input, _ := found.Parameters.GetString("input")
	assert.Equal(t, "products.csv", input)

	_, err = repo.FindJobInstanceByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrJobInstanceNotFound)

	names, err := repo.GetJobNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"productJob"}, names)
}

func TestSQLJobRepository_StepExecutionVersioning(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	je := model.NewJobExecution("instance", "job", model.NewJobParameters())
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	se := model.NewStepExecution(model.NewID(), je, "step")
	require.NoError(t, repo.SaveStepExecution(ctx, se))

	stale, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)

	require.NoError(t, se.MarkAsStarted())
	se.ReadCount = 3
	se.FilterCount = 1
	se.ExecutionContext.Put("reader.index", int64(3))
	require.NoError(t, repo.UpdateStepExecution(ctx, se))
	assert.Equal(t, 1, se.Version)

	err = repo.UpdateStepExecution(ctx, stale)
	assert.True(t, exception.IsOptimisticLockingFailure(err))

	ghost := model.NewStepExecution(model.NewID(), je, "ghost")
	assert.ErrorIs(t, repo.UpdateStepExecution(ctx, ghost), repository.ErrStepExecutionNotFound)

	stored, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStarted, stored.Status)
	assert.Equal(t, 3, stored.ReadCount)
	assert.Equal(t, 1, stored.SkipCount())
	idx, _ := stored.ExecutionContext.GetInt64("reader.index")
	assert.Equal(t, int64(3), idx)

	// Zero values are written too.
	se.ReadCount = 0
	require.NoError(t, repo.UpdateStepExecution(ctx, se))
	stored, _ = repo.FindStepExecutionByID(ctx, se.ID)
	assert.Equal(t, 0, stored.ReadCount)
}

func TestSQLJobRepository_LatestRestartable(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	first := model.NewJobExecution("instance", "job", model.NewJobParameters())
	require.NoError(t, repo.SaveJobExecution(ctx, first))
	require.NoError(t, first.MarkAsStarted())
	require.NoError(t, first.MarkAsFailed(errors.New("writer down")))
	require.NoError(t, repo.UpdateJobExecution(ctx, first))

	second := model.NewJobExecution("instance", "job", model.NewJobParameters())
	second.CreateTime = first.CreateTime.Add(time.Second)
	second.Status = model.BatchStatusStopped
	require.NoError(t, repo.SaveJobExecution(ctx, second))
	step := model.NewStepExecution(model.NewID(), second, "step")
	step.ExecutionContext.Put("reader.index", int64(6))
	require.NoError(t, repo.SaveStepExecution(ctx, step))

	running := model.NewJobExecution("instance", "job", model.NewJobParameters())
	running.CreateTime = first.CreateTime.Add(2 * time.Second)
	running.Status = model.BatchStatusStarted
	require.NoError(t, repo.SaveJobExecution(ctx, running))

	latest, err := repo.FindLatestRestartableJobExecution(ctx, "instance")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	require.Len(t, latest.StepExecutions, 1)
	idx, _ := latest.StepExecutions[0].ExecutionContext.GetInt64("reader.index")
	assert.Equal(t, int64(6), idx)

	runningJobs, err := repo.FindRunningJobExecutions(ctx, "job")
	require.NoError(t, err)
	require.Len(t, runningJobs, 1)
	assert.Equal(t, running.ID, runningJobs[0].ID)

	all, err := repo.FindJobExecutionsByJobInstance(ctx, "instance")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, running.ID, all[0].ID)

	failed, err := repo.FindJobExecutionByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusFailed, failed.Status)
	assert.Equal(t, "writer down", failed.LastFailure())

	_, err = repo.FindLatestRestartableJobExecution(ctx, "other")
	assert.ErrorIs(t, err, repository.ErrJobExecutionNotFound)
}

func TestSQLJobRepository_CheckpointFollowsTransaction(t *testing.T) {
	ctx := context.Background()
	repo, conn := newTestRepository(t)
	mgr := gormadapter.NewGormTransactionManager(conn)

	_, err := repo.FindCheckpointData(ctx, "se")
	assert.ErrorIs(t, err, repository.ErrCheckpointDataNotFound)

	save := func(index int64) error {
		ec := model.NewExecutionContext()
		ec.Put("reader.index", index)
		return repo.SaveCheckpointData(ctx, &model.CheckpointData{StepExecutionID: "se", ExecutionContext: ec, LastUpdated: time.Now()})
	}
	require.NoError(t, save(3))
	require.NoError(t, save(6))

	err = tx.WithinTransaction(ctx, mgr, func(ctx context.Context, _ tx.Tx) error {
		ec := model.NewExecutionContext()
		ec.Put("reader.index", int64(9))
		if err := repo.SaveCheckpointData(ctx, &model.CheckpointData{StepExecutionID: "se", ExecutionContext: ec, LastUpdated: time.Now()}); err != nil {
			return err
		}
		return errors.New("chunk failed")
	})
	require.Error(t, err)

	cp, err := repo.FindCheckpointData(ctx, "se")
	require.NoError(t, err)
	idx, _ := cp.ExecutionContext.GetInt64("reader.index")
	assert.Equal(t, int64(6), idx)
}
