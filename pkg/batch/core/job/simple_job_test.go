package job

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/inmemory"
)

type fakeStep struct {
	name  string
	err   error
	calls atomic.Int32
	run   func(je *model.JobExecution)
}

func (s *fakeStep) StepName() string { return s.name }

func (s *fakeStep) Execute(_ context.Context, je *model.JobExecution, se *model.StepExecution) error {
	s.calls.Add(1)
	if err := se.MarkAsStarted(); err != nil {
		return err
	}
	if s.run != nil {
		s.run(je)
	}
	if s.err != nil {
		_ = se.MarkAsFailed(s.err)
		return s.err
	}
	se.ReadCount = 3
	return se.MarkAsCompleted()
}

type recordingListener struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingListener) BeforeJob(_ context.Context, je *model.JobExecution) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "before:"+je.Status.String())
}

func (l *recordingListener) AfterJob(_ context.Context, je *model.JobExecution) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "after:"+je.Status.String())
}

func newExecution(t *testing.T, repo *inmemory.InMemoryJobRepository) *model.JobExecution {
	t.Helper()
	je := model.NewJobExecution("instance", "productJob", model.NewJobParameters())
	require.NoError(t, repo.SaveJobExecution(context.Background(), je))
	return je
}

func TestSimpleJob_RunsStepsInOrder(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	var order []string
	mk := func(name string) *fakeStep {
		return &fakeStep{name: name, run: func(*model.JobExecution) { order = append(order, name) }}
	}
	listener := &recordingListener{}
	j, err := NewSimpleJob("productJob", repo, Steps(mk("extract"), mk("load")), WithListeners(listener))
	require.NoError(t, err)

	je := newExecution(t, repo)
	require.NoError(t, j.Run(context.Background(), je))

	assert.Equal(t, []string{"extract", "load"}, order)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	assert.Equal(t, model.ExitStatusCompleted, je.ExitStatus)
	assert.Equal(t, []string{"before:STARTING", "after:COMPLETED"}, listener.events)

	stored, err := repo.FindJobExecutionByID(context.Background(), je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, stored.Status)
	assert.Len(t, stored.StepExecutions, 2)
}

func TestSimpleJob_StopsAtFirstFailedStep(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	boom := errors.New("writer unavailable")
	first := &fakeStep{name: "extract", err: boom}
	second := &fakeStep{name: "load"}
	j, err := NewSimpleJob("productJob", repo, Steps(first, second))
	require.NoError(t, err)

	je := newExecution(t, repo)
	err = j.Run(context.Background(), je)

	require.ErrorIs(t, err, boom)
	assert.Equal(t, model.BatchStatusFailed, je.Status)
	assert.EqualValues(t, 0, second.calls.Load())
	assert.Contains(t, je.LastFailure(), "writer unavailable")
}

func TestSimpleJob_RestartSkipsCompletedSteps(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	ctx := context.Background()

	extract := &fakeStep{name: "extract"}
	load := &fakeStep{name: "load", err: errors.New("down")}
	j, err := NewSimpleJob("productJob", repo, Steps(extract, load))
	require.NoError(t, err)
	failed := newExecution(t, repo)
	require.Error(t, j.Run(ctx, failed))

	restart := newExecution(t, repo)
	for _, se := range failed.StepExecutions {
		restart.AddStepExecution(se.CopyForRestart(restart.ID))
	}
	load.err = nil
	require.NoError(t, j.Run(ctx, restart))

	assert.EqualValues(t, 1, extract.calls.Load())
	assert.EqualValues(t, 2, load.calls.Load())
	assert.Equal(t, model.BatchStatusCompleted, restart.Status)
	assert.Equal(t, 3, restart.FindStepExecution("extract").ReadCount)
}

func TestSimpleJob_StopRequestedBetweenSteps(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	first := &fakeStep{name: "extract", run: func(je *model.JobExecution) { je.RequestStop() }}
	second := &fakeStep{name: "load"}
	j, err := NewSimpleJob("productJob", repo, Steps(first, second))
	require.NoError(t, err)

	je := newExecution(t, repo)
	require.NoError(t, j.Run(context.Background(), je))
	assert.Equal(t, model.BatchStatusStopped, je.Status)
	assert.EqualValues(t, 0, second.calls.Load())
}

func TestSplit_RunsStepsConcurrently(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	var running, peak atomic.Int32
	mk := func(name string) port.Step {
		return &fakeStep{name: name, run: func(*model.JobExecution) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			running.Add(-1)
		}}
	}
	elements := append(Steps(mk("prepare")), NewSplit("exports", 0, mk("csv"), mk("parquet"), mk("db")))
	j, err := NewSimpleJob("productJob", repo, elements)
	require.NoError(t, err)

	je := newExecution(t, repo)
	require.NoError(t, j.Run(context.Background(), je))

	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	assert.Len(t, je.StepExecutions, 4)
	assert.Greater(t, peak.Load(), int32(1))
}

func TestSplit_AggregatesFailures(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	split := NewSplit("exports", 2,
		&fakeStep{name: "csv", err: errors.New("disk full")},
		&fakeStep{name: "parquet", err: errors.New("bucket missing")},
		&fakeStep{name: "db"},
	)
	after := &fakeStep{name: "report"}
	j, err := NewSimpleJob("productJob", repo, append([]Element{split}, Steps(after)...))
	require.NoError(t, err)

	je := newExecution(t, repo)
	err = j.Run(context.Background(), je)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Contains(t, err.Error(), "bucket missing")
	assert.Equal(t, model.BatchStatusFailed, je.Status)
	assert.EqualValues(t, 0, after.calls.Load())
	assert.Equal(t, model.BatchStatusCompleted, je.FindStepExecution("db").Status)
}

func TestNewSimpleJob_Validation(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()

	_, err := NewSimpleJob("", repo, Steps(&fakeStep{name: "a"}))
	assert.Error(t, err)
	_, err = NewSimpleJob("job", nil, Steps(&fakeStep{name: "a"}))
	assert.Error(t, err)
	_, err = NewSimpleJob("job", repo, nil)
	assert.Error(t, err)
	_, err = NewSimpleJob("job", repo, []Element{
		StepElement{Step: &fakeStep{name: "a"}},
		NewSplit("s", 0, &fakeStep{name: "b"}, &fakeStep{name: "a"}),
	})
	assert.ErrorContains(t, err, "duplicate step name 'a'")
}
