package inmemory

import (
	"context"
	"fmt"
	"sort"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
)

func cloneInstance(ji *model.JobInstance) *model.JobInstance {
	cp := *ji
	cp.Parameters = model.JobParameters{Params: model.ExecutionContext(ji.Parameters.Params).Copy()}
	return &cp
}

// SaveJobInstance stores a new JobInstance.
func (r *InMemoryJobRepository) SaveJobInstance(ctx context.Context, instance *model.JobInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobInstances[instance.ID]; exists {
		return fmt.Errorf("JobInstance with ID %s already exists", instance.ID)
	}
	if instance.ParametersHash == "" {
		hash, err := instance.Parameters.Hash()
		if err != nil {
			return err
		}
		instance.ParametersHash = hash
	}
	r.jobInstances[instance.ID] = cloneInstance(instance)
	return nil
}

// FindJobInstanceByID returns the JobInstance with the given ID.
func (r *InMemoryJobRepository) FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ji, ok := r.jobInstances[id]
	if !ok {
		return nil, repository.ErrJobInstanceNotFound
	}
	return cloneInstance(ji), nil
}

// FindJobInstanceByJobNameAndParameters returns the instance of jobName whose
// parameters hash equals that of params.
func (r *InMemoryJobRepository) FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	hash, err := params.Hash()
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ji := range r.jobInstances {
		if ji.JobName == jobName && ji.ParametersHash == hash {
			return cloneInstance(ji), nil
		}
	}
	return nil, repository.ErrJobInstanceNotFound
}

// GetJobNames returns the distinct job names, sorted.
func (r *InMemoryJobRepository) GetJobNames(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	names := make([]string, 0)
	for _, ji := range r.jobInstances {
		if _, ok := seen[ji.JobName]; ok {
			continue
		}
		seen[ji.JobName] = struct{}{}
		names = append(names, ji.JobName)
	}
	sort.Strings(names)
	return names, nil
}
