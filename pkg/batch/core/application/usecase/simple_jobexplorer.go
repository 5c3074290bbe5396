package usecase

import (
	"context"
	"fmt"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// SimpleJobExplorer reads batch metadata from a JobRepository.
type SimpleJobExplorer struct {
	jobRepository repository.JobRepository
}

var _ JobExplorer = (*SimpleJobExplorer)(nil)

func NewSimpleJobExplorer(repo repository.JobRepository) *SimpleJobExplorer {
	return &SimpleJobExplorer{jobRepository: repo}
}

// GetJobExecution returns the stored execution. The returned error wraps
// repository.ErrJobExecutionNotFound for unknown IDs.
func (e *SimpleJobExplorer) GetJobExecution(ctx context.Context, executionID string) (*model.JobExecution, error) {
	je, err := e.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("failed to retrieve JobExecution (ID: %s)", executionID), err, false, false)
	}
	return je, nil
}

// GetJobExecutions returns the executions of an instance, newest first.
func (e *SimpleJobExplorer) GetJobExecutions(ctx context.Context, instanceID string) ([]*model.JobExecution, error) {
	executions, err := e.jobRepository.FindJobExecutionsByJobInstance(ctx, instanceID)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("failed to retrieve JobExecutions of JobInstance (ID: %s)", instanceID), err, false, false)
	}
	return executions, nil
}

func (e *SimpleJobExplorer) GetJobInstance(ctx context.Context, instanceID string) (*model.JobInstance, error) {
	instance, err := e.jobRepository.FindJobInstanceByID(ctx, instanceID)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("failed to retrieve JobInstance (ID: %s)", instanceID), err, false, false)
	}
	return instance, nil
}

// GetJobNames returns the names of jobs that have at least one instance.
func (e *SimpleJobExplorer) GetJobNames(ctx context.Context) ([]string, error) {
	names, err := e.jobRepository.GetJobNames(ctx)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", "failed to retrieve job names", err, false, false)
	}
	return names, nil
}
