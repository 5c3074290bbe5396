package usecase

import (
	"context"
	"errors"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

var (
	// ErrJobInstanceAlreadyComplete is returned when a completed job instance is launched again.
	ErrJobInstanceAlreadyComplete = errors.New("job instance already completed")
	// ErrJobNotRunning is returned when stopping an execution that is not running.
	ErrJobNotRunning = errors.New("job execution is not running")
	// ErrJobNotRestartable is returned when restarting an execution that did not fail or stop.
	ErrJobNotRestartable = errors.New("job execution is not restartable")
)

// LaunchStatus is the outcome category of a launch request.
type LaunchStatus string

const (
	Launched       LaunchStatus = "LAUNCHED"
	AlreadyRunning LaunchStatus = "ALREADY_RUNNING"
	FailedToLaunch LaunchStatus = "FAILED_TO_LAUNCH"
)

// LaunchResult describes a launch. Execution is a snapshot: in synchronous mode
// it carries the terminal state, in asynchronous mode the state at submission.
type LaunchResult struct {
	Status    LaunchStatus
	Message   string
	Execution *model.JobExecution
}

// JobLocator creates a fresh job instance by name.
type JobLocator interface {
	CreateJob(jobName string) (port.Job, error)
	JobNames() []string
}

// JobLauncher starts jobs.
type JobLauncher interface {
	// Launch starts jobName with params. An error is returned only together with
	// FailedToLaunch; job failures are reported on the execution.
	Launch(ctx context.Context, jobName string, params model.JobParameters) (LaunchResult, error)
}

// JobOperator controls executions.
type JobOperator interface {
	// Stop asks a running execution to stop at its next chunk boundary.
	Stop(ctx context.Context, executionID string) error
	// Restart resumes a FAILED or STOPPED execution from its last committed checkpoint.
	Restart(ctx context.Context, executionID string) (LaunchResult, error)
	// Abandon marks a FAILED or STOPPED execution as never to be restarted.
	Abandon(ctx context.Context, executionID string) error
}

// JobExplorer queries batch metadata.
type JobExplorer interface {
	GetJobExecution(ctx context.Context, executionID string) (*model.JobExecution, error)
	GetJobExecutions(ctx context.Context, instanceID string) ([]*model.JobExecution, error)
	GetJobInstance(ctx context.Context, instanceID string) (*model.JobInstance, error)
	GetJobNames(ctx context.Context) ([]string, error)
}
