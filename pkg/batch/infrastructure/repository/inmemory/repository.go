// Package inmemory provides a JobRepository that keeps every record in memory.
// Records are copied on the way in and on the way out, so callers never share
// state with the repository.
package inmemory

import (
	"sync"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
)

// InMemoryJobRepository is a repository.JobRepository backed by maps.
type InMemoryJobRepository struct {
	mu             sync.RWMutex
	jobInstances   map[string]*model.JobInstance
	jobExecutions  map[string]*model.JobExecution
	stepExecutions map[string]*model.StepExecution
	checkpointData map[string]*model.CheckpointData
}

var _ repository.JobRepository = (*InMemoryJobRepository)(nil)

// NewInMemoryJobRepository creates an empty repository.
func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{
		jobInstances:   make(map[string]*model.JobInstance),
		jobExecutions:  make(map[string]*model.JobExecution),
		stepExecutions: make(map[string]*model.StepExecution),
		checkpointData: make(map[string]*model.CheckpointData),
	}
}

// Close implements repository.JobRepository. It holds no resources.
func (r *InMemoryJobRepository) Close() error {
	return nil
}
