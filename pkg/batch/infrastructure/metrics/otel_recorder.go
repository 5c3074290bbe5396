package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
)

// OTelRecorder implements metrics.MetricRecorder with OpenTelemetry instruments.
type OTelRecorder struct {
	jobs          metric.Int64Counter
	steps         metric.Int64Counter
	itemsRead     metric.Int64Counter
	itemsWritten  metric.Int64Counter
	itemsFiltered metric.Int64Counter
	itemsSkipped  metric.Int64Counter
	retries       metric.Int64Counter
	commits       metric.Int64Counter
	rollbacks     metric.Int64Counter
	duration      metric.Float64Histogram
}

var _ metrics.MetricRecorder = (*OTelRecorder)(nil)

// NewOTelRecorder creates the instruments on a meter of provider.
func NewOTelRecorder(provider metric.MeterProvider) (*OTelRecorder, error) {
	meter := provider.Meter(instrumentationName)
	r := &OTelRecorder{}
	counters := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&r.jobs, "chunkflow.job.status", "Job executions by reached status"},
		{&r.steps, "chunkflow.step.status", "Step executions by reached status"},
		{&r.itemsRead, "chunkflow.item.read", "Items read"},
		{&r.itemsWritten, "chunkflow.item.write", "Items written in committed chunks"},
		{&r.itemsFiltered, "chunkflow.item.filter", "Items filtered by processors"},
		{&r.itemsSkipped, "chunkflow.item.skip", "Items skipped"},
		{&r.retries, "chunkflow.item.retry", "Retried reads and chunk writes"},
		{&r.commits, "chunkflow.chunk.commit", "Committed chunks"},
		{&r.rollbacks, "chunkflow.chunk.rollback", "Rolled back chunk transactions"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("creating %s counter: %w", c.name, err)
		}
		*c.target = counter
	}

	duration, err := meter.Float64Histogram("chunkflow.operation.duration",
		metric.WithDescription("Duration of named operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating chunkflow.operation.duration histogram: %w", err)
	}
	r.duration = duration
	return r, nil
}

func stepAttr(stepName string, extra ...attribute.KeyValue) metric.MeasurementOption {
	return metric.WithAttributes(append([]attribute.KeyValue{attribute.String("step.name", stepName)}, extra...)...)
}

func (r *OTelRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	r.jobs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job.name", execution.JobName),
		attribute.String("status", execution.Status.String())))
}

func (r *OTelRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	r.RecordJobStart(ctx, execution)
}

func (r *OTelRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	r.steps.Add(ctx, 1, stepAttr(execution.StepName, attribute.String("status", execution.Status.String())))
}

func (r *OTelRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	r.RecordStepStart(ctx, execution)
}

func (r *OTelRecorder) RecordItemRead(ctx context.Context, stepName string, count int) {
	r.itemsRead.Add(ctx, int64(count), stepAttr(stepName))
}

func (r *OTelRecorder) RecordItemWrite(ctx context.Context, stepName string, count int) {
	r.itemsWritten.Add(ctx, int64(count), stepAttr(stepName))
}

func (r *OTelRecorder) RecordItemFilter(ctx context.Context, stepName string, count int) {
	r.itemsFiltered.Add(ctx, int64(count), stepAttr(stepName))
}

func (r *OTelRecorder) RecordItemSkip(ctx context.Context, stepName string, phase string, reason string) {
	r.itemsSkipped.Add(ctx, 1, stepAttr(stepName, attribute.String("phase", phase), attribute.String("reason", reason)))
}

func (r *OTelRecorder) RecordItemRetry(ctx context.Context, stepName string, phase string) {
	r.retries.Add(ctx, 1, stepAttr(stepName, attribute.String("phase", phase)))
}

func (r *OTelRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	r.commits.Add(ctx, 1, stepAttr(stepName))
}

func (r *OTelRecorder) RecordChunkRollback(ctx context.Context, stepName string) {
	r.rollbacks.Add(ctx, 1, stepAttr(stepName))
}

func (r *OTelRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	attrs := []attribute.KeyValue{attribute.String("name", name)}
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	r.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}
