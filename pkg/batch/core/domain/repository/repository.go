// Package repository defines the persistence contract for job and step executions.
// The chunk engine reports StepExecution snapshots at start, after every chunk
// commit and at the terminal state; the launcher uses the same contract to find
// the most recent restartable execution and its checkpoint.
package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

var (
	// ErrJobInstanceNotFound is returned when a JobInstance is not found.
	ErrJobInstanceNotFound = errors.New("job instance not found")
	// ErrJobExecutionNotFound is returned when a JobExecution is not found.
	ErrJobExecutionNotFound = errors.New("job execution not found")
	// ErrStepExecutionNotFound is returned when a StepExecution is not found.
	ErrStepExecutionNotFound = errors.New("step execution not found")
	// ErrCheckpointDataNotFound is returned when no checkpoint has been committed yet.
	ErrCheckpointDataNotFound = errors.New("checkpoint data not found")
)

func init() {
	exception.RegisterErrorType("ErrJobInstanceNotFound", ErrJobInstanceNotFound)
	exception.RegisterErrorType("ErrJobExecutionNotFound", ErrJobExecutionNotFound)
	exception.RegisterErrorType("ErrStepExecutionNotFound", ErrStepExecutionNotFound)
	exception.RegisterErrorType("ErrCheckpointDataNotFound", ErrCheckpointDataNotFound)
}

// JobInstance persists job instances.
type JobInstance interface {
	SaveJobInstance(ctx context.Context, instance *model.JobInstance) error
	FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error)
	// FindJobInstanceByJobNameAndParameters matches on the canonical parameter hash.
	FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error)
	GetJobNames(ctx context.Context) ([]string, error)
}

// JobExecution persists job executions.
type JobExecution interface {
	SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error
	UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error
	// FindJobExecutionByID loads the execution together with its step executions.
	FindJobExecutionByID(ctx context.Context, executionID string) (*model.JobExecution, error)
	// FindLatestRestartableJobExecution returns the newest FAILED or STOPPED execution of an instance.
	FindLatestRestartableJobExecution(ctx context.Context, jobInstanceID string) (*model.JobExecution, error)
	FindJobExecutionsByJobInstance(ctx context.Context, jobInstanceID string) ([]*model.JobExecution, error)
	// FindRunningJobExecutions returns executions of jobName whose status is not finished.
	FindRunningJobExecutions(ctx context.Context, jobName string) ([]*model.JobExecution, error)
}

// StepExecution persists step executions.
type StepExecution interface {
	SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error
	// UpdateStepExecution fails with exception.ErrOptimisticLockingFailure when the
	// stored version differs from stepExecution.Version.
	UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error
	FindStepExecutionByID(ctx context.Context, executionID string) (*model.StepExecution, error)
	FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error)
}

// CheckpointDataRepository persists the checkpoint of the last committed chunk.
type CheckpointDataRepository interface {
	SaveCheckpointData(ctx context.Context, data *model.CheckpointData) error
	FindCheckpointData(ctx context.Context, stepExecutionID string) (*model.CheckpointData, error)
}

// JobRepository aggregates every persistence operation the engine needs.
type JobRepository interface {
	JobInstance
	JobExecution
	StepExecution
	CheckpointDataRepository

	// Close releases resources held by the repository.
	Close() error
}
