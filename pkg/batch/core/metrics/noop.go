package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// NoOpMetricRecorder discards everything. It is used when metrics are disabled.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

func (r *NoOpMetricRecorder) RecordJobStart(context.Context, *model.JobExecution)    {}
func (r *NoOpMetricRecorder) RecordJobEnd(context.Context, *model.JobExecution)      {}
func (r *NoOpMetricRecorder) RecordStepStart(context.Context, *model.StepExecution)  {}
func (r *NoOpMetricRecorder) RecordStepEnd(context.Context, *model.StepExecution)    {}
func (r *NoOpMetricRecorder) RecordItemRead(context.Context, string, int)            {}
func (r *NoOpMetricRecorder) RecordItemWrite(context.Context, string, int)           {}
func (r *NoOpMetricRecorder) RecordItemFilter(context.Context, string, int)          {}
func (r *NoOpMetricRecorder) RecordItemSkip(context.Context, string, string, string) {}
func (r *NoOpMetricRecorder) RecordItemRetry(context.Context, string, string)        {}
func (r *NoOpMetricRecorder) RecordChunkCommit(context.Context, string, int)         {}
func (r *NoOpMetricRecorder) RecordChunkRollback(context.Context, string)            {}
func (r *NoOpMetricRecorder) RecordDuration(context.Context, string, time.Duration, map[string]string) {
}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// NoOpTracer starts no spans.
type NoOpTracer struct{}

// NewNoOpTracer creates a NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

func (t *NoOpTracer) StartJobSpan(ctx context.Context, _ *model.JobExecution) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) StartStepSpan(ctx context.Context, _ *model.StepExecution) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) RecordError(context.Context, string, error)                  {}
func (t *NoOpTracer) RecordEvent(context.Context, string, map[string]interface{}) {}

var _ Tracer = (*NoOpTracer)(nil)

// Multi fans every call out to several recorders.
type Multi []MetricRecorder

func (m Multi) RecordJobStart(ctx context.Context, e *model.JobExecution) {
	for _, r := range m {
		r.RecordJobStart(ctx, e)
	}
}

func (m Multi) RecordJobEnd(ctx context.Context, e *model.JobExecution) {
	for _, r := range m {
		r.RecordJobEnd(ctx, e)
	}
}

func (m Multi) RecordStepStart(ctx context.Context, e *model.StepExecution) {
	for _, r := range m {
		r.RecordStepStart(ctx, e)
	}
}

func (m Multi) RecordStepEnd(ctx context.Context, e *model.StepExecution) {
	for _, r := range m {
		r.RecordStepEnd(ctx, e)
	}
}

func (m Multi) RecordItemRead(ctx context.Context, step string, n int) {
	for _, r := range m {
		r.RecordItemRead(ctx, step, n)
	}
}

func (m Multi) RecordItemWrite(ctx context.Context, step string, n int) {
	for _, r := range m {
		r.RecordItemWrite(ctx, step, n)
	}
}

func (m Multi) RecordItemFilter(ctx context.Context, step string, n int) {
	for _, r := range m {
		r.RecordItemFilter(ctx, step, n)
	}
}

func (m Multi) RecordItemSkip(ctx context.Context, step, phase, reason string) {
	for _, r := range m {
		r.RecordItemSkip(ctx, step, phase, reason)
	}
}

func (m Multi) RecordItemRetry(ctx context.Context, step, phase string) {
	for _, r := range m {
		r.RecordItemRetry(ctx, step, phase)
	}
}

func (m Multi) RecordChunkCommit(ctx context.Context, step string, n int) {
	for _, r := range m {
		r.RecordChunkCommit(ctx, step, n)
	}
}

func (m Multi) RecordChunkRollback(ctx context.Context, step string) {
	for _, r := range m {
		r.RecordChunkRollback(ctx, step)
	}
}

func (m Multi) RecordDuration(ctx context.Context, name string, d time.Duration, tags map[string]string) {
	for _, r := range m {
		r.RecordDuration(ctx, name, d, tags)
	}
}

var _ MetricRecorder = Multi(nil)
