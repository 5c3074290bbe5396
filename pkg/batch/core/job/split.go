package job

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/panjf2000/ants/v2"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// Split runs independent steps in parallel on a bounded goroutine pool.
// It completes when every step completes; any failed step fails it.
type Split struct {
	name     string
	steps    []port.Step
	poolSize int
}

var _ Element = (*Split)(nil)

// NewSplit creates a split. poolSize <= 0 runs every step concurrently.
func NewSplit(name string, poolSize int, steps ...port.Step) *Split {
	if poolSize <= 0 || poolSize > len(steps) {
		poolSize = len(steps)
	}
	return &Split{name: name, steps: steps, poolSize: poolSize}
}

// ElementName implements Element.
func (s *Split) ElementName() string { return s.name }

func (s *Split) stepNames() []string {
	names := make([]string, 0, len(s.steps))
	for _, st := range s.steps {
		names = append(names, st.StepName())
	}
	return names
}

func (s *Split) execute(ctx context.Context, j *SimpleJob, jobExecution *model.JobExecution) (model.JobStatus, error) {
	if len(s.steps) == 0 {
		return model.BatchStatusCompleted, nil
	}
	pool, err := ants.NewPool(s.poolSize)
	if err != nil {
		return model.BatchStatusFailed, fmt.Errorf("split '%s': failed to create pool: %w", s.name, err)
	}
	defer pool.Release()

	logger.Infof("Job '%s': running split '%s' with %d step(s), pool size %d.", j.name, s.name, len(s.steps), s.poolSize)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		errs     *multierror.Error
		statuses = make(map[string]model.JobStatus, len(s.steps))
	)
	for _, step := range s.steps {
		step := step
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			status, err := s.runGuarded(ctx, j, step, jobExecution)
			mu.Lock()
			defer mu.Unlock()
			statuses[step.StepName()] = status
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("step '%s': %w", step.StepName(), err))
			}
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			statuses[step.StepName()] = model.BatchStatusFailed
			errs = multierror.Append(errs, fmt.Errorf("step '%s': %w", step.StepName(), submitErr))
			mu.Unlock()
		}
	}
	wg.Wait()

	result := model.BatchStatusCompleted
	for _, status := range statuses {
		switch {
		case status == model.BatchStatusFailed:
			result = model.BatchStatusFailed
		case status == model.BatchStatusStopped && result == model.BatchStatusCompleted:
			result = model.BatchStatusStopped
		}
	}
	return result, errs.ErrorOrNil()
}

func (s *Split) runGuarded(ctx context.Context, j *SimpleJob, step port.Step, jobExecution *model.JobExecution) (status model.JobStatus, err error) {
	defer func() {
		if r := recover(); r != nil {
			status = model.BatchStatusFailed
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return j.runStep(ctx, step, jobExecution)
}
