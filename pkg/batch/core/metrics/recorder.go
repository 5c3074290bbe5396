// Package metrics declares the observability hooks used by jobs and the chunk engine.
package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// MetricRecorder collects execution counters.
type MetricRecorder interface {
	RecordJobStart(ctx context.Context, execution *model.JobExecution)
	RecordJobEnd(ctx context.Context, execution *model.JobExecution)
	RecordStepStart(ctx context.Context, execution *model.StepExecution)
	RecordStepEnd(ctx context.Context, execution *model.StepExecution)

	RecordItemRead(ctx context.Context, stepName string, count int)
	RecordItemWrite(ctx context.Context, stepName string, count int)
	RecordItemFilter(ctx context.Context, stepName string, count int)
	// RecordItemSkip counts items excluded by the skip policy. phase is "process" or "write".
	RecordItemSkip(ctx context.Context, stepName string, phase string, reason string)
	RecordItemRetry(ctx context.Context, stepName string, phase string)

	RecordChunkCommit(ctx context.Context, stepName string, count int)
	RecordChunkRollback(ctx context.Context, stepName string)

	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}

// Tracer creates spans around job and step executions.
type Tracer interface {
	StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func())
	StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func())
	RecordError(ctx context.Context, module string, err error)
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
