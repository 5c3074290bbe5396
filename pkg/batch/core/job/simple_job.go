// Package job composes steps into jobs. A SimpleJob runs its flow elements in
// declaration order and ends at the first element that does not complete.
package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// Element is one position of a job flow: a single step or a Split.
type Element interface {
	ElementName() string
	execute(ctx context.Context, j *SimpleJob, jobExecution *model.JobExecution) (model.JobStatus, error)
}

// StepElement wraps a step as a flow element.
type StepElement struct {
	Step port.Step
}

// ElementName implements Element.
func (e StepElement) ElementName() string { return e.Step.StepName() }

func (e StepElement) execute(ctx context.Context, j *SimpleJob, jobExecution *model.JobExecution) (model.JobStatus, error) {
	return j.runStep(ctx, e.Step, jobExecution)
}

// SimpleJob is a port.Job running its elements in order.
type SimpleJob struct {
	name           string
	elements       []Element
	jobRepository  repository.JobRepository
	listeners      []port.JobExecutionListener
	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer

	// guards jobExecution.StepExecutions while a Split runs
	mu sync.Mutex
}

var _ port.Job = (*SimpleJob)(nil)

// Option configures a SimpleJob.
type Option func(*SimpleJob)

// WithListeners registers job execution listeners.
func WithListeners(l ...port.JobExecutionListener) Option {
	return func(j *SimpleJob) { j.listeners = append(j.listeners, l...) }
}

// WithMetrics sets the metric recorder and tracer. Nil values keep the no-op defaults.
func WithMetrics(recorder metrics.MetricRecorder, tracer metrics.Tracer) Option {
	return func(j *SimpleJob) {
		if recorder != nil {
			j.metricRecorder = recorder
		}
		if tracer != nil {
			j.tracer = tracer
		}
	}
}

// NewSimpleJob creates a job from elements. Element names must be unique.
func NewSimpleJob(name string, repo repository.JobRepository, elements []Element, opts ...Option) (*SimpleJob, error) {
	if name == "" {
		return nil, errors.New("job name is required")
	}
	if repo == nil {
		return nil, fmt.Errorf("job '%s': job repository is required", name)
	}
	if len(elements) == 0 {
		return nil, fmt.Errorf("job '%s' has no steps", name)
	}
	seen := make(map[string]bool)
	for _, e := range elements {
		names := []string{e.ElementName()}
		if s, ok := e.(*Split); ok {
			names = s.stepNames()
		}
		for _, n := range names {
			if seen[n] {
				return nil, fmt.Errorf("job '%s': duplicate step name '%s'", name, n)
			}
			seen[n] = true
		}
	}
	j := &SimpleJob{
		name:           name,
		elements:       elements,
		jobRepository:  repo,
		metricRecorder: metrics.NewNoOpMetricRecorder(),
		tracer:         metrics.NewNoOpTracer(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Steps wraps steps as sequential elements.
func Steps(steps ...port.Step) []Element {
	out := make([]Element, 0, len(steps))
	for _, s := range steps {
		out = append(out, StepElement{Step: s})
	}
	return out
}

// JobName implements port.Job.
func (j *SimpleJob) JobName() string {
	return j.name
}

// Run implements port.Job. It returns the error of the element that failed the
// job; a stopped job returns nil.
func (j *SimpleJob) Run(ctx context.Context, jobExecution *model.JobExecution) error {
	ctx, endSpan := j.tracer.StartJobSpan(ctx, jobExecution)
	defer endSpan()

	startedAt := time.Now()
	logger.Infof("Starting Job '%s' (Execution ID: %s).", j.name, jobExecution.ID)
	j.metricRecorder.RecordJobStart(ctx, jobExecution)
	for _, l := range j.listeners {
		l.BeforeJob(ctx, jobExecution)
	}

	runErr := j.start(ctx, jobExecution)
	status := model.BatchStatusFailed
	if runErr == nil {
		status, runErr = j.runElements(ctx, jobExecution)
	}
	j.finish(ctx, jobExecution, status, runErr)

	for _, l := range j.listeners {
		l.AfterJob(ctx, jobExecution)
	}
	j.metricRecorder.RecordJobEnd(ctx, jobExecution)
	j.metricRecorder.RecordDuration(ctx, "job_duration", time.Since(startedAt), map[string]string{
		"job_name": j.name,
		"status":   jobExecution.Status.String(),
	})
	logger.Infof("Job '%s' (Execution ID: %s) finished. Status: %s, Exit Status: %s",
		j.name, jobExecution.ID, jobExecution.Status, jobExecution.ExitStatus)
	for _, se := range jobExecution.StepExecutions {
		logger.Debugf("  Step '%s': %s", se.StepName, se.DebugString())
	}
	if jobExecution.Status == model.BatchStatusFailed {
		return runErr
	}
	return nil
}

func (j *SimpleJob) start(ctx context.Context, jobExecution *model.JobExecution) error {
	if jobExecution.Status != model.BatchStatusStarting {
		return nil
	}
	if err := jobExecution.MarkAsStarted(); err != nil {
		return err
	}
	if err := j.jobRepository.UpdateJobExecution(ctx, jobExecution); err != nil {
		return exception.NewBatchError(j.name, "failed to persist started JobExecution", err, false, false)
	}
	return nil
}

func (j *SimpleJob) runElements(ctx context.Context, jobExecution *model.JobExecution) (model.JobStatus, error) {
	for _, e := range j.elements {
		if jobExecution.IsStopRequested() {
			logger.Infof("Job '%s': stop requested before element '%s'.", j.name, e.ElementName())
			return model.BatchStatusStopped, nil
		}
		status, err := e.execute(ctx, j, jobExecution)
		if status != model.BatchStatusCompleted {
			return status, err
		}
	}
	return model.BatchStatusCompleted, nil
}

func (j *SimpleJob) finish(ctx context.Context, jobExecution *model.JobExecution, status model.JobStatus, runErr error) {
	if jobExecution.Status.IsFinished() {
		return
	}
	var err error
	switch status {
	case model.BatchStatusCompleted:
		err = jobExecution.MarkAsCompleted()
	case model.BatchStatusStopped:
		err = jobExecution.MarkAsStopped()
	default:
		if runErr == nil {
			runErr = exception.NewBatchErrorf(j.name, "job ended with status %s", status)
		}
		j.tracer.RecordError(ctx, j.name, runErr)
		err = jobExecution.MarkAsFailed(runErr)
	}
	if err != nil {
		logger.Errorf("Job '%s': %v", j.name, err)
	}
	if err := j.jobRepository.UpdateJobExecution(context.WithoutCancel(ctx), jobExecution); err != nil {
		logger.Errorf("Job '%s': failed to update final JobExecution state: %v", j.name, err)
	}
}

// runStep resolves the StepExecution for step (a new one, or the copy made for a
// restart) and executes it. A step completed by a previous execution is not run again.
func (j *SimpleJob) runStep(ctx context.Context, step port.Step, jobExecution *model.JobExecution) (model.JobStatus, error) {
	name := step.StepName()
	se, fresh := j.stepExecution(jobExecution, name)
	if !fresh && se.Status == model.BatchStatusCompleted {
		logger.Infof("Job '%s': step '%s' already completed, skipping.", j.name, name)
		if err := j.jobRepository.SaveStepExecution(ctx, se); err != nil {
			return model.BatchStatusFailed, exception.NewBatchError(j.name, "failed to save StepExecution", err, false, false)
		}
		return model.BatchStatusCompleted, nil
	}
	if err := j.jobRepository.SaveStepExecution(ctx, se); err != nil {
		return model.BatchStatusFailed, exception.NewBatchError(j.name, "failed to save StepExecution", err, false, false)
	}

	err := step.Execute(ctx, jobExecution, se)
	if se.Status == model.BatchStatusCompleted || se.Status == model.BatchStatusStopped {
		return se.Status, nil
	}
	if err == nil {
		err = exception.NewBatchErrorf(name, "step ended with status %s", se.Status)
	}
	return model.BatchStatusFailed, err
}

func (j *SimpleJob) stepExecution(jobExecution *model.JobExecution, name string) (*model.StepExecution, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if se := jobExecution.FindStepExecution(name); se != nil {
		return se, false
	}
	se := model.NewStepExecution(model.NewID(), jobExecution, name)
	jobExecution.AddStepExecution(se)
	return se, true
}
