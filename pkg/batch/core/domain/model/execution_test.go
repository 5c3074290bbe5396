package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStepExecution_StateMachine walks the chunk loop states and checks that
// terminal states are immutable.
func TestStepExecution_StateMachine(t *testing.T) {
	se := NewStepExecution(NewID(), nil, "step")
	require.Equal(t, BatchStatusStarting, se.Status)

	require.NoError(t, se.MarkAsStarted())
	require.NoError(t, se.TransitionTo(BatchStatusReadingChunk))
	require.NoError(t, se.TransitionTo(BatchStatusCommitting))
	require.NoError(t, se.TransitionTo(BatchStatusReadingChunk))
	require.NoError(t, se.TransitionTo(BatchStatusCommitting))
	require.NoError(t, se.MarkAsCompleted())
	assert.Equal(t, ExitStatusCompleted, se.ExitStatus)
	assert.NotNil(t, se.EndTime)

	err := se.MarkAsFailed(errors.New("late failure"))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, BatchStatusCompleted, se.Status)
	assert.Empty(t, se.Failures)
}

func TestStepExecution_ReadingChunkCannotStop(t *testing.T) {
	se := NewStepExecution(NewID(), nil, "step")
	require.NoError(t, se.MarkAsStarted())
	require.NoError(t, se.TransitionTo(BatchStatusReadingChunk))
	assert.ErrorIs(t, se.MarkAsStopped(), ErrInvalidTransition)
	assert.Equal(t, BatchStatusReadingChunk, se.Status)
}

func TestStepExecution_SkipCount(t *testing.T) {
	se := NewStepExecution(NewID(), nil, "step")
	se.FilterCount = 1
	se.SkipProcessCount = 2
	se.SkipWriteCount = 3
	assert.Equal(t, 6, se.SkipCount())
}

func TestStepExecution_CopyForRestart(t *testing.T) {
	je := NewJobExecution("instance", "job", NewJobParameters())
	failed := NewStepExecution(NewID(), je, "failed")
	failed.Status = BatchStatusFailed
	failed.ReadCount = 6
	failed.ExecutionContext.Put("reader.index", int64(6))

	restarted := failed.CopyForRestart("new-exec")
	assert.Equal(t, BatchStatusStarting, restarted.Status)
	assert.Equal(t, 0, restarted.ReadCount)
	idx, ok := restarted.ExecutionContext.GetInt64("reader.index")
	assert.True(t, ok)
	assert.Equal(t, int64(6), idx)
	assert.NotEqual(t, failed.ID, restarted.ID)

	done := NewStepExecution(NewID(), je, "done")
	done.Status = BatchStatusCompleted
	done.WriteCount = 4
	copied := done.CopyForRestart("new-exec")
	assert.Equal(t, BatchStatusCompleted, copied.Status)
	assert.Equal(t, 4, copied.WriteCount)
}

func TestExecutionContext_RoundTrip(t *testing.T) {
	ec := NewExecutionContext()
	ec.Put("offset", int64(1234567890123))
	ec.Put("name", "products.csv")
	ec.Put("done", false)
	ec.Put("ratio", 0.5)

	v, err := ec.Value()
	require.NoError(t, err)

	var restored ExecutionContext
	require.NoError(t, restored.Scan(v))

	offset, ok := restored.GetInt64("offset")
	assert.True(t, ok)
	assert.Equal(t, int64(1234567890123), offset)
	name, _ := restored.GetString("name")
	assert.Equal(t, "products.csv", name)
	done, ok := restored.GetBool("done")
	assert.True(t, ok)
	assert.False(t, done)
	ratio, _ := restored.GetFloat64("ratio")
	assert.Equal(t, 0.5, ratio)
}

func TestJobParameters_HashIgnoresNumericRepresentation(t *testing.T) {
	a := NewJobParameters()
	a.Put("startAt", int64(1700000000000))
	a.Put("jobName", "productJob")

	b := NewJobParameters()
	b.Put("jobName", "productJob")
	b.Put("startAt", float64(1700000000000))

	assert.True(t, a.Equal(b))

	c := NewJobParameters()
	c.Put("startAt", int64(1700000000001))
	c.Put("jobName", "productJob")
	assert.False(t, a.Equal(c))
}

func TestJobExecution_Lifecycle(t *testing.T) {
	je := NewJobExecution("instance", "job", NewJobParameters())
	require.NoError(t, je.MarkAsStarted())
	require.NoError(t, je.MarkAsFailed(errors.New("boom")))
	assert.Equal(t, "boom", je.LastFailure())
	assert.True(t, je.Status.IsRestartable())
	require.NoError(t, je.MarkAsAbandoned())
	assert.ErrorIs(t, je.MarkAsCompleted(), ErrInvalidTransition)

	je.RequestStop()
	assert.True(t, je.IsStopRequested())
	assert.False(t, je.Snapshot().IsStopRequested())
}
