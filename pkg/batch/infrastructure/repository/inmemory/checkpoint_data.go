package inmemory

import (
	"context"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
)

// SaveCheckpointData stores the checkpoint of a step execution, replacing any previous one.
func (r *InMemoryJobRepository) SaveCheckpointData(ctx context.Context, data *model.CheckpointData) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *data
	cp.ExecutionContext = data.ExecutionContext.Copy()
	r.checkpointData[data.StepExecutionID] = &cp
	return nil
}

// FindCheckpointData returns the checkpoint of a step execution, or
// repository.ErrCheckpointDataNotFound.
func (r *InMemoryJobRepository) FindCheckpointData(ctx context.Context, stepExecutionID string) (*model.CheckpointData, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	data, ok := r.checkpointData[stepExecutionID]
	if !ok {
		return nil, repository.ErrCheckpointDataNotFound
	}
	cp := *data
	cp.ExecutionContext = data.ExecutionContext.Copy()
	return &cp, nil
}
