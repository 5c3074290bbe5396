// Package sql provides a JobRepository persisted through gorm, with its schema
// shipped as embedded golang-migrate migrations.
package sql

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database/migration"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

const moduleName = "SQLJobRepository"

// Migrations holds the schema of the batch_* tables, one directory per database type.
//
//go:embed migrations
var Migrations embed.FS

// SQLJobRepository implements repository.JobRepository on a gorm connection.
// Every call joins the chunk transaction carried by ctx when it runs on the
// same connection.
type SQLJobRepository struct {
	conn *gormadapter.GormDBAdapter
}

var _ repository.JobRepository = (*SQLJobRepository)(nil)

// NewSQLJobRepository creates a repository on conn. The schema must exist; see Migrate.
func NewSQLJobRepository(conn *gormadapter.GormDBAdapter) *SQLJobRepository {
	return &SQLJobRepository{conn: conn}
}

// Migrate creates or upgrades the batch_* tables.
func (r *SQLJobRepository) Migrate(ctx context.Context) error {
	return migration.NewMigrator(r.conn).Up(ctx, Migrations, "migrations", migration.FrameworkMigrationsTable)
}

func (r *SQLJobRepository) db(ctx context.Context) *gorm.DB {
	return r.conn.DB(ctx)
}

func (r *SQLJobRepository) wrap(message string, err error) error {
	return exception.NewBatchError(moduleName, message, err, false, false)
}

// notFound maps gorm's not-found and missing-table errors to target.
func (r *SQLJobRepository) notFound(err error, target error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) || r.conn.IsTableNotExistError(err) {
		return target
	}
	return nil
}

// --- JobInstance ---

func (r *SQLJobRepository) SaveJobInstance(ctx context.Context, instance *model.JobInstance) error {
	if err := r.db(ctx).Create(instanceRow(instance)).Error; err != nil {
		return r.wrap(fmt.Sprintf("failed to save JobInstance (ID: %s)", instance.ID), err)
	}
	return nil
}

func (r *SQLJobRepository) FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error) {
	var entity JobInstanceEntity
	if err := r.db(ctx).Where("id = ?", id).Take(&entity).Error; err != nil {
		if nf := r.notFound(err, repository.ErrJobInstanceNotFound); nf != nil {
			return nil, nf
		}
		return nil, r.wrap(fmt.Sprintf("failed to find JobInstance (ID: %s)", id), err)
	}
	return entity.model(), nil
}

func (r *SQLJobRepository) FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	hash, err := params.Hash()
	if err != nil {
		return nil, r.wrap("failed to hash job parameters", err)
	}
	var entity JobInstanceEntity
	err = r.db(ctx).
		Where("job_name = ? AND parameters_hash = ?", jobName, hash).
		Order("create_time DESC").
		Take(&entity).Error
	if err != nil {
		if nf := r.notFound(err, repository.ErrJobInstanceNotFound); nf != nil {
			return nil, nf
		}
		return nil, r.wrap(fmt.Sprintf("failed to find JobInstance of '%s'", jobName), err)
	}
	return entity.model(), nil
}

func (r *SQLJobRepository) GetJobNames(ctx context.Context) ([]string, error) {
	var names []string
	err := r.db(ctx).Model(&JobInstanceEntity{}).Distinct().Pluck("job_name", &names).Error
	if err != nil {
		if r.conn.IsTableNotExistError(err) {
			return []string{}, nil
		}
		return nil, r.wrap("failed to list job names", err)
	}
	sort.Strings(names)
	return names, nil
}

// --- JobExecution ---

func (r *SQLJobRepository) SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	if err := r.db(ctx).Create(jobExecutionRow(jobExecution)).Error; err != nil {
		return r.wrap(fmt.Sprintf("failed to save JobExecution (ID: %s)", jobExecution.ID), err)
	}
	return nil
}

// UpdateJobExecution writes every column when the stored version still
// matches, then increments jobExecution.Version.
func (r *SQLJobRepository) UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	entity := jobExecutionRow(jobExecution)
	entity.Version = jobExecution.Version + 1

	result := r.db(ctx).Model(&JobExecutionEntity{}).
		Where("id = ? AND version = ?", jobExecution.ID, jobExecution.Version).
		Select("*").
		Updates(entity)
	if result.Error != nil {
		return r.wrap(fmt.Sprintf("failed to update JobExecution (ID: %s)", jobExecution.ID), result.Error)
	}
	if result.RowsAffected == 0 {
		return r.versionConflict(ctx, &JobExecutionEntity{}, jobExecution.ID, jobExecution.Version, repository.ErrJobExecutionNotFound)
	}
	jobExecution.Version++
	return nil
}

// versionConflict tells a missing row from a stale version.
func (r *SQLJobRepository) versionConflict(ctx context.Context, entity interface{}, id string, version int, missing error) error {
	var count int64
	if err := r.db(ctx).Model(entity).Where("id = ?", id).Count(&count).Error; err != nil {
		return r.wrap(fmt.Sprintf("failed to check version of %s", id), err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", missing, id)
	}
	return exception.NewOptimisticLockingFailureException(moduleName,
		fmt.Sprintf("%s was updated concurrently (expected version %d)", id, version), nil)
}

func (r *SQLJobRepository) FindJobExecutionByID(ctx context.Context, executionID string) (*model.JobExecution, error) {
	var entity JobExecutionEntity
	if err := r.db(ctx).Where("id = ?", executionID).Take(&entity).Error; err != nil {
		if nf := r.notFound(err, repository.ErrJobExecutionNotFound); nf != nil {
			return nil, nf
		}
		return nil, r.wrap(fmt.Sprintf("failed to find JobExecution (ID: %s)", executionID), err)
	}
	return r.withSteps(ctx, &entity)
}

// withSteps converts entity and attaches its step executions, oldest first.
func (r *SQLJobRepository) withSteps(ctx context.Context, entity *JobExecutionEntity) (*model.JobExecution, error) {
	je := entity.model()
	steps, err := r.FindStepExecutionsByJobExecutionID(ctx, je.ID)
	if err != nil {
		return nil, err
	}
	for _, se := range steps {
		se.JobExecution = je
		je.StepExecutions = append(je.StepExecutions, se)
	}
	return je, nil
}

func (r *SQLJobRepository) findJobExecutions(ctx context.Context, query *gorm.DB, what string) ([]*model.JobExecution, error) {
	var entities []JobExecutionEntity
	if err := query.Find(&entities).Error; err != nil {
		if r.conn.IsTableNotExistError(err) {
			return []*model.JobExecution{}, nil
		}
		return nil, r.wrap("failed to find "+what, err)
	}
	executions := make([]*model.JobExecution, 0, len(entities))
	for i := range entities {
		je, err := r.withSteps(ctx, &entities[i])
		if err != nil {
			return nil, err
		}
		executions = append(executions, je)
	}
	return executions, nil
}

func (r *SQLJobRepository) FindLatestRestartableJobExecution(ctx context.Context, jobInstanceID string) (*model.JobExecution, error) {
	query := r.db(ctx).
		Where("job_instance_id = ? AND status IN ?", jobInstanceID, []model.JobStatus{model.BatchStatusFailed, model.BatchStatusStopped}).
		Order("create_time DESC").
		Limit(1)
	executions, err := r.findJobExecutions(ctx, query, "restartable JobExecution")
	if err != nil {
		return nil, err
	}
	if len(executions) == 0 {
		return nil, repository.ErrJobExecutionNotFound
	}
	return executions[0], nil
}

func (r *SQLJobRepository) FindJobExecutionsByJobInstance(ctx context.Context, jobInstanceID string) ([]*model.JobExecution, error) {
	query := r.db(ctx).Where("job_instance_id = ?", jobInstanceID).Order("create_time DESC")
	return r.findJobExecutions(ctx, query, "JobExecutions of instance "+jobInstanceID)
}

func (r *SQLJobRepository) FindRunningJobExecutions(ctx context.Context, jobName string) ([]*model.JobExecution, error) {
	var running []model.JobStatus
	for _, s := range []model.JobStatus{
		model.BatchStatusStarting, model.BatchStatusStarted, model.BatchStatusReadingChunk,
		model.BatchStatusCommitting, model.BatchStatusStopping,
	} {
		if s.IsRunning() {
			running = append(running, s)
		}
	}
	query := r.db(ctx).Where("job_name = ? AND status IN ?", jobName, running).Order("create_time DESC")
	return r.findJobExecutions(ctx, query, "running JobExecutions of "+jobName)
}

// --- StepExecution ---

func (r *SQLJobRepository) SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	if err := r.db(ctx).Create(stepExecutionRow(stepExecution)).Error; err != nil {
		return r.wrap(fmt.Sprintf("failed to save StepExecution (ID: %s)", stepExecution.ID), err)
	}
	return nil
}

// UpdateStepExecution writes every column when the stored version still
// matches, then increments stepExecution.Version.
func (r *SQLJobRepository) UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	entity := stepExecutionRow(stepExecution)
	entity.Version = stepExecution.Version + 1

	result := r.db(ctx).Model(&StepExecutionEntity{}).
		Where("id = ? AND version = ?", stepExecution.ID, stepExecution.Version).
		Select("*").
		Updates(entity)
	if result.Error != nil {
		return r.wrap(fmt.Sprintf("failed to update StepExecution (ID: %s)", stepExecution.ID), result.Error)
	}
	if result.RowsAffected == 0 {
		return r.versionConflict(ctx, &StepExecutionEntity{}, stepExecution.ID, stepExecution.Version, repository.ErrStepExecutionNotFound)
	}
	stepExecution.Version++
	return nil
}

func (r *SQLJobRepository) FindStepExecutionByID(ctx context.Context, executionID string) (*model.StepExecution, error) {
	var entity StepExecutionEntity
	if err := r.db(ctx).Where("id = ?", executionID).Take(&entity).Error; err != nil {
		if nf := r.notFound(err, repository.ErrStepExecutionNotFound); nf != nil {
			return nil, nf
		}
		return nil, r.wrap(fmt.Sprintf("failed to find StepExecution (ID: %s)", executionID), err)
	}
	return entity.model(), nil
}

func (r *SQLJobRepository) FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error) {
	var entities []StepExecutionEntity
	err := r.db(ctx).Where("job_execution_id = ?", jobExecutionID).Order("start_time ASC").Find(&entities).Error
	if err != nil {
		if r.conn.IsTableNotExistError(err) {
			return []*model.StepExecution{}, nil
		}
		return nil, r.wrap(fmt.Sprintf("failed to find StepExecutions of JobExecution %s", jobExecutionID), err)
	}
	steps := make([]*model.StepExecution, 0, len(entities))
	for i := range entities {
		steps = append(steps, entities[i].model())
	}
	return steps, nil
}

// --- CheckpointData ---

// SaveCheckpointData inserts or replaces the checkpoint of a step execution.
func (r *SQLJobRepository) SaveCheckpointData(ctx context.Context, data *model.CheckpointData) error {
	err := r.db(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "step_execution_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"execution_context", "last_updated"}),
	}).Create(checkpointRow(data)).Error
	if err != nil {
		return r.wrap(fmt.Sprintf("failed to save checkpoint of StepExecution %s", data.StepExecutionID), err)
	}
	return nil
}

func (r *SQLJobRepository) FindCheckpointData(ctx context.Context, stepExecutionID string) (*model.CheckpointData, error) {
	var entity CheckpointDataEntity
	if err := r.db(ctx).Where("step_execution_id = ?", stepExecutionID).Take(&entity).Error; err != nil {
		if nf := r.notFound(err, repository.ErrCheckpointDataNotFound); nf != nil {
			return nil, nf
		}
		return nil, r.wrap(fmt.Sprintf("failed to find checkpoint of StepExecution %s", stepExecutionID), err)
	}
	return entity.model(), nil
}

// Close implements repository.JobRepository. The connection belongs to the
// provider and is not closed here.
func (r *SQLJobRepository) Close() error {
	return nil
}
