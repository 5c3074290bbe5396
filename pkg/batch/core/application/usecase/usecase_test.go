package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	job "github.com/tigerroll/chunkflow/pkg/batch/core/job"
	runner "github.com/tigerroll/chunkflow/pkg/batch/core/job/runner"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/inmemory"
)

var errStop = errors.New("stop")

// scriptedStep runs behave and records the outcome on the step execution.
// Returning errStop ends the step STOPPED.
type scriptedStep struct {
	name   string
	repo   repository.JobRepository
	calls  atomic.Int32
	behave func(ctx context.Context, je *model.JobExecution) error
}

func (s *scriptedStep) StepName() string { return s.name }

func (s *scriptedStep) Execute(ctx context.Context, je *model.JobExecution, se *model.StepExecution) error {
	s.calls.Add(1)
	if err := se.MarkAsStarted(); err != nil {
		return err
	}
	var err error
	if s.behave != nil {
		err = s.behave(ctx, je)
	}
	switch {
	case errors.Is(err, errStop):
		_ = se.MarkAsStopped()
		err = nil
	case err != nil:
		_ = se.MarkAsFailed(err)
	default:
		se.WriteCount++
		_ = se.MarkAsCompleted()
	}
	if uerr := s.repo.UpdateStepExecution(ctx, se); uerr != nil {
		return uerr
	}
	return err
}

type fakeLocator struct {
	build map[string]func() (port.Job, error)
}

func (l fakeLocator) CreateJob(name string) (port.Job, error) {
	b, ok := l.build[name]
	if !ok {
		return nil, fmt.Errorf("job '%s' is not registered", name)
	}
	return b()
}

func (l fakeLocator) JobNames() []string { return nil }

type fixture struct {
	repo     *inmemory.InMemoryJobRepository
	launcher *SimpleJobLauncher
	operator *DefaultJobOperator
	explorer *SimpleJobExplorer
}

func newFixture(t *testing.T, mode string, steps ...*scriptedStep) *fixture {
	t.Helper()
	repo := inmemory.NewInMemoryJobRepository()
	for _, s := range steps {
		s.repo = repo
	}
	locator := fakeLocator{build: map[string]func() (port.Job, error){
		"productJob": func() (port.Job, error) {
			ps := make([]port.Step, len(steps))
			for i, s := range steps {
				ps[i] = s
			}
			return job.NewSimpleJob("productJob", repo, job.Steps(ps...))
		},
	}}
	cfg := config.NewConfig()
	cfg.Chunkflow.Batch.LaunchMode = mode
	launcher := NewSimpleJobLauncher(cfg, repo, locator, runner.NewSimpleJobRunner(repo))
	return &fixture{
		repo:     repo,
		launcher: launcher,
		operator: NewDefaultJobOperator(repo, launcher),
		explorer: NewSimpleJobExplorer(repo),
	}
}

func params(kv ...string) model.JobParameters {
	p := model.NewJobParameters()
	for i := 0; i+1 < len(kv); i += 2 {
		p.Put(kv[i], kv[i+1])
	}
	return p
}

func TestLaunch_SyncCompletesAndRefusesCompletedInstance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.LaunchModeSync, &scriptedStep{name: "extract"})

	res, err := f.launcher.Launch(ctx, "productJob", params("date", "2024-01-01"))
	require.NoError(t, err)
	assert.Equal(t, Launched, res.Status)
	assert.Equal(t, model.BatchStatusCompleted, res.Execution.Status)

	res, err = f.launcher.Launch(ctx, "productJob", params("date", "2024-01-01"))
	require.ErrorIs(t, err, ErrJobInstanceAlreadyComplete)
	assert.Equal(t, FailedToLaunch, res.Status)

	names, err := f.explorer.GetJobNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"productJob"}, names)
}

func TestLaunch_UnknownJob(t *testing.T) {
	f := newFixture(t, config.LaunchModeSync)
	res, err := f.launcher.Launch(context.Background(), "missing", params())
	require.Error(t, err)
	assert.Equal(t, FailedToLaunch, res.Status)
	assert.Contains(t, res.Message, "not registered")
}

func TestLaunch_SameParametersResumeFailedExecution(t *testing.T) {
	ctx := context.Background()
	extract := &scriptedStep{name: "extract"}
	fail := true
	load := &scriptedStep{name: "load", behave: func(context.Context, *model.JobExecution) error {
		if fail {
			return errors.New("db down")
		}
		return nil
	}}
	f := newFixture(t, config.LaunchModeSync, extract, load)

	first, err := f.launcher.Launch(ctx, "productJob", params("date", "d1"))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusFailed, first.Execution.Status)

	fail = false
	second, err := f.launcher.Launch(ctx, "productJob", params("date", "d1"))
	require.NoError(t, err)
	require.Equal(t, model.BatchStatusCompleted, second.Execution.Status)

	assert.Equal(t, first.Execution.JobInstanceID, second.Execution.JobInstanceID)
	assert.Equal(t, 1, second.Execution.RestartCount)
	assert.EqualValues(t, 1, extract.calls.Load())
	assert.EqualValues(t, 2, load.calls.Load())

	executions, err := f.explorer.GetJobExecutions(ctx, second.Execution.JobInstanceID)
	require.NoError(t, err)
	require.Len(t, executions, 2)
	assert.Equal(t, second.Execution.ID, executions[0].ID)
	assert.Equal(t, model.BatchStatusFailed, executions[1].Status)
}

func TestLaunch_AsyncStopAndRestart(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{}, 1)
	var block atomic.Bool
	block.Store(true)
	step := &scriptedStep{name: "extract", behave: func(ctx context.Context, je *model.JobExecution) error {
		if !block.Load() {
			return nil
		}
		started <- struct{}{}
		for !je.IsStopRequested() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Millisecond):
			}
		}
		return errStop
	}}
	f := newFixture(t, config.LaunchModeAsync, step)

	res, err := f.launcher.Launch(ctx, "productJob", params("date", "d1"))
	require.NoError(t, err)
	require.Equal(t, Launched, res.Status)
	id := res.Execution.ID
	<-started

	busy, err := f.launcher.Launch(ctx, "productJob", params("date", "d2"))
	require.NoError(t, err)
	assert.Equal(t, AlreadyRunning, busy.Status)
	assert.Equal(t, id, busy.Execution.ID)

	require.NoError(t, f.operator.Stop(ctx, id))
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, f.launcher.Wait(waitCtx, id))

	stopped, err := f.explorer.GetJobExecution(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStopped, stopped.Status)
	assert.ErrorIs(t, f.operator.Stop(ctx, id), ErrJobNotRunning)

	block.Store(false)
	restarted, err := f.operator.Restart(ctx, id)
	require.NoError(t, err)
	require.Equal(t, Launched, restarted.Status)
	require.NoError(t, f.launcher.Wait(waitCtx, restarted.Execution.ID))

	done, err := f.explorer.GetJobExecution(ctx, restarted.Execution.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, done.Status)
	assert.Equal(t, 1, done.RestartCount)
}

func TestOperator_StopUnknownExecution(t *testing.T) {
	f := newFixture(t, config.LaunchModeSync)
	err := f.operator.Stop(context.Background(), "nope")
	assert.ErrorIs(t, err, repository.ErrJobExecutionNotFound)
}

func TestOperator_AbandonThenLaunchStartsOver(t *testing.T) {
	ctx := context.Background()
	fail := true
	step := &scriptedStep{name: "extract", behave: func(context.Context, *model.JobExecution) error {
		if fail {
			return errors.New("boom")
		}
		return nil
	}}
	f := newFixture(t, config.LaunchModeSync, step)

	first, err := f.launcher.Launch(ctx, "productJob", params("date", "d1"))
	require.NoError(t, err)
	require.Equal(t, model.BatchStatusFailed, first.Execution.Status)

	require.NoError(t, f.operator.Abandon(ctx, first.Execution.ID))
	require.NoError(t, f.operator.Abandon(ctx, first.Execution.ID))

	_, err = f.operator.Restart(ctx, first.Execution.ID)
	assert.ErrorIs(t, err, ErrJobNotRestartable)

	fail = false
	second, err := f.launcher.Launch(ctx, "productJob", params("date", "d1"))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, second.Execution.Status)
	assert.Equal(t, 0, second.Execution.RestartCount)
	assert.Equal(t, first.Execution.JobInstanceID, second.Execution.JobInstanceID)

	err = f.operator.Abandon(ctx, second.Execution.ID)
	assert.Error(t, err)
}

func TestLaunch_ConcurrentRunsAllowed(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	step := &scriptedStep{name: "extract", behave: func(context.Context, *model.JobExecution) error {
		<-release
		return nil
	}}
	f := newFixture(t, config.LaunchModeAsync, step)
	f.launcher.allowConcurrent = true

	a, err := f.launcher.Launch(ctx, "productJob", params("date", "d1"))
	require.NoError(t, err)
	b, err := f.launcher.Launch(ctx, "productJob", params("date", "d2"))
	require.NoError(t, err)
	assert.Equal(t, Launched, b.Status)

	close(release)
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, f.launcher.Wait(waitCtx, a.Execution.ID))
	require.NoError(t, f.launcher.Wait(waitCtx, b.Execution.ID))
	require.NoError(t, f.launcher.Shutdown(waitCtx))
}
