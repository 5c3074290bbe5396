// Package port declares the contracts between the chunk engine and its collaborators:
// item readers, processors and writers, steps and jobs, and execution listeners.
package port

import (
	"context"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// Job is an ordered composition of steps launched as one logical run.
type Job interface {
	// Run executes every step of the job against jobExecution and records the
	// terminal job status on it.
	Run(ctx context.Context, jobExecution *model.JobExecution) error
	// JobName returns the logical name used to launch the job.
	JobName() string
}

// Step is a single read-process-write pipeline (or any other unit of work) in a job.
type Step interface {
	// Execute runs the step. The returned error is the terminal failure, if any;
	// the step's outcome is also recorded on stepExecution.
	Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error
	StepName() string
}

// StepExecutionListener observes step boundaries.
type StepExecutionListener interface {
	BeforeStep(ctx context.Context, stepExecution *model.StepExecution)
	AfterStep(ctx context.Context, stepExecution *model.StepExecution)
}

// ChunkListener observes chunk boundaries.
type ChunkListener interface {
	BeforeChunk(ctx context.Context, stepExecution *model.StepExecution)
	AfterChunk(ctx context.Context, stepExecution *model.StepExecution)
	// AfterChunkError is called after the chunk's transaction has been rolled back.
	AfterChunkError(ctx context.Context, stepExecution *model.StepExecution, err error)
}

// SkipListener is notified for every item excluded from the write set.
type SkipListener interface {
	OnSkipProcess(ctx context.Context, item interface{}, err error)
	OnSkipWrite(ctx context.Context, item interface{}, err error)
}

// RetryListener is notified before a failed read or chunk write is retried.
type RetryListener interface {
	OnRetryRead(ctx context.Context, attempt int, err error)
	OnRetryWrite(ctx context.Context, items []interface{}, attempt int, err error)
}

// JobExecutionListener observes job boundaries.
type JobExecutionListener interface {
	BeforeJob(ctx context.Context, jobExecution *model.JobExecution)
	AfterJob(ctx context.Context, jobExecution *model.JobExecution)
}

// JobRunner drives a job against a prepared JobExecution and guarantees the
// execution ends in a persisted terminal state.
type JobRunner interface {
	Run(ctx context.Context, job Job, jobExecution *model.JobExecution)
}
