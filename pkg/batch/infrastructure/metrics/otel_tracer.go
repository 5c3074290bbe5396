package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
)

const instrumentationName = "github.com/tigerroll/chunkflow/pkg/batch"

// OpenTelemetryTracer implements metrics.Tracer with OpenTelemetry spans.
// Step spans are children of the job span carried by ctx.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)

// NewOpenTelemetryTracer creates a tracer from provider.
func NewOpenTelemetryTracer(provider trace.TracerProvider) *OpenTelemetryTracer {
	return &OpenTelemetryTracer{tracer: provider.Tracer(instrumentationName)}
}

func (t *OpenTelemetryTracer) StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "job "+execution.JobName,
		trace.WithAttributes(
			attribute.String("job.name", execution.JobName),
			attribute.String("job.execution_id", execution.ID),
			attribute.String("job.instance_id", execution.JobInstanceID),
		))
	return ctx, func() {
		span.SetAttributes(attribute.String("job.status", execution.Status.String()))
		if execution.Status == model.BatchStatusFailed {
			span.SetStatus(codes.Error, execution.LastFailure())
		}
		span.End()
	}
}

func (t *OpenTelemetryTracer) StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "step "+execution.StepName,
		trace.WithAttributes(
			attribute.String("step.name", execution.StepName),
			attribute.String("step.execution_id", execution.ID),
		))
	return ctx, func() {
		span.SetAttributes(
			attribute.String("step.status", execution.Status.String()),
			attribute.Int("step.read_count", execution.ReadCount),
			attribute.Int("step.write_count", execution.WriteCount),
			attribute.Int("step.skip_count", execution.SkipCount()),
			attribute.Int("step.commit_count", execution.CommitCount),
			attribute.Int("step.rollback_count", execution.RollbackCount),
		)
		span.End()
	}
}

// RecordError records err on the span in ctx and marks it failed.
func (t *OpenTelemetryTracer) RecordError(ctx context.Context, module string, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err, trace.WithAttributes(attribute.String("module", module)))
	span.SetStatus(codes.Error, err.Error())
}

// RecordEvent adds an event to the span in ctx.
func (t *OpenTelemetryTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(toAttributes(attributes)...))
}

func toAttributes(values map[string]interface{}) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(values))
	for k, v := range values {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprint(val)))
		}
	}
	return attrs
}
