package inmemory

import (
	"context"
	"fmt"
	"sort"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

func detach(se *model.StepExecution) *model.StepExecution {
	cp := se.Snapshot()
	cp.JobExecution = nil
	return cp
}

// SaveStepExecution stores a new StepExecution.
func (r *InMemoryJobRepository) SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.stepExecutions[stepExecution.ID]; exists {
		return fmt.Errorf("StepExecution with ID %s already exists", stepExecution.ID)
	}
	r.stepExecutions[stepExecution.ID] = detach(stepExecution)
	return nil
}

// UpdateStepExecution replaces a stored StepExecution, checking its version.
func (r *InMemoryJobRepository) UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.stepExecutions[stepExecution.ID]
	if !exists {
		return fmt.Errorf("%w: %s", repository.ErrStepExecutionNotFound, stepExecution.ID)
	}
	if current.Version != stepExecution.Version {
		return exception.NewOptimisticLockingFailureException("inmemory",
			fmt.Sprintf("StepExecution %s was updated concurrently (expected version %d, found %d)", stepExecution.ID, stepExecution.Version, current.Version), nil)
	}
	stepExecution.Version++
	r.stepExecutions[stepExecution.ID] = detach(stepExecution)
	return nil
}

// FindStepExecutionByID returns the StepExecution with the given ID.
func (r *InMemoryJobRepository) FindStepExecutionByID(ctx context.Context, id string) (*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	se, ok := r.stepExecutions[id]
	if !ok {
		return nil, repository.ErrStepExecutionNotFound
	}
	return detach(se), nil
}

// FindStepExecutionsByJobExecutionID returns the step executions of a job execution, oldest first.
func (r *InMemoryJobRepository) FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	steps := make([]*model.StepExecution, 0)
	for _, se := range r.stepExecutions {
		if se.JobExecutionID == jobExecutionID {
			steps = append(steps, detach(se))
		}
	}
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].StartTime.Before(steps[j].StartTime)
	})
	return steps, nil
}
