// Package metrics implements the engine's MetricRecorder and Tracer with
// Prometheus and OpenTelemetry.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of metrics.MetricRecorder.
// It owns its registry; Handler exposes it.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	jobDurationSeconds *prometheus.HistogramVec
	jobStatusCounter   *prometheus.CounterVec

	stepDurationSeconds *prometheus.HistogramVec
	stepStatusCounter   *prometheus.CounterVec

	itemReadCounter     *prometheus.CounterVec
	itemWriteCounter    *prometheus.CounterVec
	itemFilterCounter   *prometheus.CounterVec
	itemSkipCounter     *prometheus.CounterVec
	itemRetryCounter    *prometheus.CounterVec
	chunkCommitCounter  *prometheus.CounterVec
	chunkRollbackCount  *prometheus.CounterVec
	operationDurSeconds *prometheus.HistogramVec
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder creates a recorder with its own registry, including
// the Go runtime and process collectors.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	stepLabels := []string{"step_name"}
	r := &PrometheusRecorder{
		registry: registry,
		jobDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chunkflow_job_duration_seconds",
			Help:    "Duration of job executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name", "status"}),
		jobStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkflow_job_status_total",
			Help: "Job executions by reached status.",
		}, []string{"job_name", "status"}),
		stepDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chunkflow_step_duration_seconds",
			Help:    "Duration of step executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"step_name", "status"}),
		stepStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkflow_step_status_total",
			Help: "Step executions by reached status.",
		}, []string{"step_name", "status"}),
		itemReadCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkflow_item_read_total",
			Help: "Items read.",
		}, stepLabels),
		itemWriteCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkflow_item_write_total",
			Help: "Items written in committed chunks.",
		}, stepLabels),
		itemFilterCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkflow_item_filter_total",
			Help: "Items filtered by processors.",
		}, stepLabels),
		itemSkipCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkflow_item_skip_total",
			Help: "Items skipped by phase and reason.",
		}, []string{"step_name", "phase", "reason"}),
		itemRetryCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkflow_item_retry_total",
			Help: "Retried reads and chunk writes.",
		}, []string{"step_name", "phase"}),
		chunkCommitCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkflow_chunk_commit_total",
			Help: "Committed chunks.",
		}, stepLabels),
		chunkRollbackCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkflow_chunk_rollback_total",
			Help: "Rolled back chunk transactions.",
		}, stepLabels),
		operationDurSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chunkflow_operation_duration_seconds",
			Help:    "Duration of named operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"name"}),
	}

	registry.MustRegister(
		r.jobDurationSeconds, r.jobStatusCounter,
		r.stepDurationSeconds, r.stepStatusCounter,
		r.itemReadCounter, r.itemWriteCounter, r.itemFilterCounter,
		r.itemSkipCounter, r.itemRetryCounter,
		r.chunkCommitCounter, r.chunkRollbackCount,
		r.operationDurSeconds,
	)
	return r
}

// Registry returns the Prometheus registry.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *PrometheusRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	r.jobStatusCounter.WithLabelValues(execution.JobName, execution.Status.String()).Inc()
}

func (r *PrometheusRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	r.jobStatusCounter.WithLabelValues(execution.JobName, execution.Status.String()).Inc()
	if execution.EndTime == nil {
		return
	}
	duration := execution.EndTime.Sub(execution.StartTime).Seconds()
	r.jobDurationSeconds.WithLabelValues(execution.JobName, execution.Status.String()).Observe(duration)
	logger.Debugf("Metrics: Job '%s' ended. Duration: %.3fs", execution.JobName, duration)
}

func (r *PrometheusRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	r.stepStatusCounter.WithLabelValues(execution.StepName, execution.Status.String()).Inc()
}

func (r *PrometheusRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	r.stepStatusCounter.WithLabelValues(execution.StepName, execution.Status.String()).Inc()
	if execution.EndTime == nil {
		return
	}
	duration := execution.EndTime.Sub(execution.StartTime).Seconds()
	r.stepDurationSeconds.WithLabelValues(execution.StepName, execution.Status.String()).Observe(duration)
}

func (r *PrometheusRecorder) RecordItemRead(ctx context.Context, stepName string, count int) {
	r.itemReadCounter.WithLabelValues(stepName).Add(float64(count))
}

func (r *PrometheusRecorder) RecordItemWrite(ctx context.Context, stepName string, count int) {
	r.itemWriteCounter.WithLabelValues(stepName).Add(float64(count))
}

func (r *PrometheusRecorder) RecordItemFilter(ctx context.Context, stepName string, count int) {
	r.itemFilterCounter.WithLabelValues(stepName).Add(float64(count))
}

func (r *PrometheusRecorder) RecordItemSkip(ctx context.Context, stepName string, phase string, reason string) {
	r.itemSkipCounter.WithLabelValues(stepName, phase, reason).Inc()
}

func (r *PrometheusRecorder) RecordItemRetry(ctx context.Context, stepName string, phase string) {
	r.itemRetryCounter.WithLabelValues(stepName, phase).Inc()
}

func (r *PrometheusRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	r.chunkCommitCounter.WithLabelValues(stepName).Inc()
}

func (r *PrometheusRecorder) RecordChunkRollback(ctx context.Context, stepName string) {
	r.chunkRollbackCount.WithLabelValues(stepName).Inc()
}

// RecordDuration observes duration under name. Tags are not used as labels.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.operationDurSeconds.WithLabelValues(name).Observe(duration.Seconds())
}
