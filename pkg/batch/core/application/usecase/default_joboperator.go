package usecase

import (
	"context"
	"fmt"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// DefaultJobOperator controls executions launched by a SimpleJobLauncher.
type DefaultJobOperator struct {
	jobRepository repository.JobRepository
	jobLauncher   *SimpleJobLauncher
}

var _ JobOperator = (*DefaultJobOperator)(nil)

// NewDefaultJobOperator creates a DefaultJobOperator.
func NewDefaultJobOperator(repo repository.JobRepository, launcher *SimpleJobLauncher) *DefaultJobOperator {
	return &DefaultJobOperator{jobRepository: repo, jobLauncher: launcher}
}

// Stop flags a running execution. The running step finishes its current chunk,
// commits it and ends STOPPED; the stop is recorded when the job ends.
func (o *DefaultJobOperator) Stop(ctx context.Context, executionID string) error {
	logger.Infof("JobOperator: stop requested. Execution ID: %s", executionID)

	if o.jobLauncher.requestStop(executionID) {
		logger.Infof("Sent stop signal for JobExecution (ID: %s).", executionID)
		return nil
	}

	je, err := o.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return exception.NewBatchError("job_operator", fmt.Sprintf("failed to load JobExecution (ID: %s)", executionID), err, false, false)
	}
	if je.Status.IsRunning() {
		return fmt.Errorf("%w: JobExecution %s (%s) is not running in this process", ErrJobNotRunning, executionID, je.Status)
	}
	return fmt.Errorf("%w: JobExecution %s is %s", ErrJobNotRunning, executionID, je.Status)
}

// Restart relaunches a FAILED or STOPPED execution with its stored parameters.
func (o *DefaultJobOperator) Restart(ctx context.Context, executionID string) (LaunchResult, error) {
	logger.Infof("JobOperator: restart requested. Execution ID: %s", executionID)

	prev, err := o.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return failedToLaunch(exception.NewBatchError("job_operator", fmt.Sprintf("failed to load JobExecution (ID: %s)", executionID), err, false, false))
	}
	if !prev.Status.IsRestartable() {
		return failedToLaunch(fmt.Errorf("%w: JobExecution %s is %s", ErrJobNotRestartable, executionID, prev.Status))
	}
	return o.jobLauncher.relaunch(ctx, prev)
}

// Abandon marks a FAILED or STOPPED execution ABANDONED. Abandoning an
// abandoned execution is a no-op.
func (o *DefaultJobOperator) Abandon(ctx context.Context, executionID string) error {
	logger.Infof("JobOperator: abandon requested. Execution ID: %s", executionID)

	je, err := o.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return exception.NewBatchError("job_operator", fmt.Sprintf("failed to load JobExecution (ID: %s)", executionID), err, false, false)
	}
	if je.Status == model.BatchStatusAbandoned {
		return nil
	}
	if !je.Status.IsRestartable() {
		return exception.NewBatchErrorf("job_operator", "JobExecution (ID: %s) cannot be abandoned in status %s", executionID, je.Status)
	}
	if err := je.MarkAsAbandoned(); err != nil {
		return err
	}
	if err := o.jobRepository.UpdateJobExecution(ctx, je); err != nil {
		return exception.NewBatchError("job_operator", fmt.Sprintf("failed to update JobExecution (ID: %s)", executionID), err, false, false)
	}
	logger.Infof("JobExecution (ID: %s) abandoned.", executionID)
	return nil
}
