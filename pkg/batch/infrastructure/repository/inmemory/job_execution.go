package inmemory

import (
	"context"
	"fmt"
	"sort"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// SaveJobExecution stores a new JobExecution. Its step executions are not stored.
func (r *InMemoryJobRepository) SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobExecutions[jobExecution.ID]; exists {
		return fmt.Errorf("JobExecution with ID %s already exists", jobExecution.ID)
	}
	stored := jobExecution.Snapshot()
	stored.StepExecutions = nil
	r.jobExecutions[jobExecution.ID] = stored
	return nil
}

// UpdateJobExecution replaces a stored JobExecution, checking its version.
func (r *InMemoryJobRepository) UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.jobExecutions[jobExecution.ID]
	if !exists {
		return fmt.Errorf("%w: %s", repository.ErrJobExecutionNotFound, jobExecution.ID)
	}
	if current.Version != jobExecution.Version {
		return exception.NewOptimisticLockingFailureException("inmemory",
			fmt.Sprintf("JobExecution %s was updated concurrently (expected version %d, found %d)", jobExecution.ID, jobExecution.Version, current.Version), nil)
	}
	jobExecution.Version++
	stored := jobExecution.Snapshot()
	stored.StepExecutions = nil
	r.jobExecutions[jobExecution.ID] = stored
	return nil
}

// withSteps returns a copy of je with its step executions attached, oldest first.
// The caller must hold r.mu.
func (r *InMemoryJobRepository) withSteps(je *model.JobExecution) *model.JobExecution {
	cp := je.Snapshot()
	steps := make([]*model.StepExecution, 0)
	for _, se := range r.stepExecutions {
		if se.JobExecutionID == je.ID {
			steps = append(steps, se)
		}
	}
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].StartTime.Before(steps[j].StartTime)
	})
	cp.StepExecutions = make([]*model.StepExecution, 0, len(steps))
	for _, se := range steps {
		s := se.Snapshot()
		s.JobExecution = cp
		cp.StepExecutions = append(cp.StepExecutions, s)
	}
	return cp
}

// FindJobExecutionByID returns the JobExecution with its step executions.
func (r *InMemoryJobRepository) FindJobExecutionByID(ctx context.Context, id string) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	je, ok := r.jobExecutions[id]
	if !ok {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.withSteps(je), nil
}

// FindLatestRestartableJobExecution returns the newest FAILED or STOPPED
// execution of the instance, with its step executions.
func (r *InMemoryJobRepository) FindLatestRestartableJobExecution(ctx context.Context, jobInstanceID string) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *model.JobExecution
	for _, je := range r.jobExecutions {
		if je.JobInstanceID != jobInstanceID || !je.Status.IsRestartable() {
			continue
		}
		if latest == nil || je.CreateTime.After(latest.CreateTime) {
			latest = je
		}
	}
	if latest == nil {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.withSteps(latest), nil
}

// FindJobExecutionsByJobInstance returns the executions of an instance, newest first.
func (r *InMemoryJobRepository) FindJobExecutionsByJobInstance(ctx context.Context, jobInstanceID string) ([]*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executions := make([]*model.JobExecution, 0)
	for _, je := range r.jobExecutions {
		if je.JobInstanceID == jobInstanceID {
			executions = append(executions, r.withSteps(je))
		}
	}
	sort.Slice(executions, func(i, j int) bool {
		return executions[j].CreateTime.Before(executions[i].CreateTime)
	})
	return executions, nil
}

// FindRunningJobExecutions returns the unfinished executions of jobName.
func (r *InMemoryJobRepository) FindRunningJobExecutions(ctx context.Context, jobName string) ([]*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	running := make([]*model.JobExecution, 0)
	for _, je := range r.jobExecutions {
		if je.JobName == jobName && je.Status.IsRunning() {
			running = append(running, r.withSteps(je))
		}
	}
	return running, nil
}
