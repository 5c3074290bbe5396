// Package support provides the JobFactory, which builds a fresh job instance
// for every launch from a job definition and the registered component builders.
package support

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/fx"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	jsl "github.com/tigerroll/chunkflow/pkg/batch/core/config/jsl"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	job "github.com/tigerroll/chunkflow/pkg/batch/core/job"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/factory"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// JobBuilder builds a job in code, bypassing job definitions.
type JobBuilder func() (port.Job, error)

// JobFactory creates jobs by name. Readers and writers keep per-run state, so
// every call to CreateJob builds new component instances.
type JobFactory struct {
	config         *config.Config
	definitions    *jsl.Definitions
	stepFactory    factory.StepFactory
	jobRepository  repository.JobRepository
	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer

	mu                sync.RWMutex
	componentBuilders map[string]jsl.ComponentBuilder
	listenerBuilders  map[string]jsl.ListenerBuilder
	jobBuilders       map[string]JobBuilder
}

// JobFactoryParams are the dependencies of JobFactory.
type JobFactoryParams struct {
	fx.In
	Config         *config.Config
	Definitions    *jsl.Definitions
	StepFactory    factory.StepFactory
	Repo           repository.JobRepository
	MetricRecorder metrics.MetricRecorder `optional:"true"`
	Tracer         metrics.Tracer         `optional:"true"`
}

// NewJobFactory creates a JobFactory.
func NewJobFactory(p JobFactoryParams) *JobFactory {
	return &JobFactory{
		config:            p.Config,
		definitions:       p.Definitions,
		stepFactory:       p.StepFactory,
		jobRepository:     p.Repo,
		metricRecorder:    p.MetricRecorder,
		tracer:            p.Tracer,
		componentBuilders: make(map[string]jsl.ComponentBuilder),
		listenerBuilders:  make(map[string]jsl.ListenerBuilder),
		jobBuilders:       make(map[string]JobBuilder),
	}
}

// RegisterComponentBuilder registers a reader, processor or writer builder under name.
func (f *JobFactory) RegisterComponentBuilder(name string, builder jsl.ComponentBuilder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.componentBuilders[name] = builder
}

// RegisterListenerBuilder registers a listener builder under name.
func (f *JobFactory) RegisterListenerBuilder(name string, builder jsl.ListenerBuilder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listenerBuilders[name] = builder
}

// RegisterJobBuilder registers a job built in code. It takes precedence over a
// job definition with the same name.
func (f *JobFactory) RegisterJobBuilder(name string, builder JobBuilder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobBuilders[name] = builder
}

// JobNames returns the names of every job the factory can create.
func (f *JobFactory) JobNames() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	set := make(map[string]struct{})
	for n := range f.jobBuilders {
		set[n] = struct{}{}
	}
	if f.definitions != nil {
		for _, n := range f.definitions.Names() {
			set[n] = struct{}{}
		}
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// CreateJob builds the job named jobName.
func (f *JobFactory) CreateJob(jobName string) (port.Job, error) {
	f.mu.RLock()
	builder, ok := f.jobBuilders[jobName]
	f.mu.RUnlock()
	if ok {
		j, err := builder()
		if err != nil {
			return nil, exception.NewBatchError("job_factory", fmt.Sprintf("failed to build job '%s'", jobName), err, false, false)
		}
		return j, nil
	}

	if f.definitions == nil {
		return nil, exception.NewBatchErrorf("job_factory", "job '%s' is not registered", jobName)
	}
	def, ok := f.definitions.Get(jobName)
	if !ok {
		return nil, exception.NewBatchErrorf("job_factory", "job '%s' is not registered", jobName)
	}
	j, err := f.buildFromDefinition(def)
	if err != nil {
		return nil, exception.NewBatchError("job_factory", fmt.Sprintf("failed to build job '%s'", jobName), err, false, false)
	}
	return j, nil
}

func (f *JobFactory) buildFromDefinition(def jsl.Job) (port.Job, error) {
	elements := make([]job.Element, 0, len(def.Flow))
	for _, e := range def.Flow {
		if e.Step != nil {
			step, err := f.buildStep(*e.Step)
			if err != nil {
				return nil, err
			}
			elements = append(elements, job.StepElement{Step: step})
			continue
		}
		steps := make([]port.Step, 0, len(e.Split.Steps))
		for _, s := range e.Split.Steps {
			step, err := f.buildStep(s)
			if err != nil {
				return nil, err
			}
			steps = append(steps, step)
		}
		elements = append(elements, job.NewSplit(e.Split.ID, e.Split.PoolSize, steps...))
	}

	var listeners []port.JobExecutionListener
	for _, ref := range def.Listeners {
		l, err := f.buildListener(ref)
		if err != nil {
			return nil, err
		}
		jl, ok := l.(port.JobExecutionListener)
		if !ok {
			return nil, fmt.Errorf("listener '%s' (%T) is not a JobExecutionListener", ref.Ref, l)
		}
		listeners = append(listeners, jl)
	}

	logger.Debugf("JobFactory: building job '%s' with %d element(s).", def.ID, len(elements))
	return job.NewSimpleJob(def.ID, f.jobRepository, elements,
		job.WithListeners(listeners...),
		job.WithMetrics(f.metricRecorder, f.tracer))
}

func (f *JobFactory) buildStep(s jsl.Step) (port.Step, error) {
	reader, err := resolve[port.ItemReader[any]](f, s.Reader, "reader")
	if err != nil {
		return nil, fmt.Errorf("step '%s': %w", s.ID, err)
	}
	writer, err := resolve[port.ItemWriter[any]](f, s.Writer, "writer")
	if err != nil {
		return nil, fmt.Errorf("step '%s': %w", s.ID, err)
	}
	var processor port.ItemProcessor[any, any]
	if s.Processor.Ref != "" {
		if processor, err = resolve[port.ItemProcessor[any, any]](f, s.Processor, "processor"); err != nil {
			return nil, fmt.Errorf("step '%s': %w", s.ID, err)
		}
	}
	listeners := make([]interface{}, 0, len(s.Listeners))
	for _, ref := range s.Listeners {
		l, err := f.buildListener(ref)
		if err != nil {
			return nil, fmt.Errorf("step '%s': %w", s.ID, err)
		}
		listeners = append(listeners, l)
	}

	return f.stepFactory.CreateChunkStep(factory.ChunkStepSpec{
		Name:           s.ID,
		Reader:         reader,
		Processor:      processor,
		Writer:         writer,
		ChunkSize:      s.Chunk.ItemCount,
		IsolationLevel: s.Chunk.IsolationLevel,
		Timeout:        time.Duration(s.Chunk.Timeout) * time.Second,
		Datasource:     s.TransactionManager,
		Listeners:      listeners,
	})
}

func resolve[T any](f *JobFactory, ref jsl.ComponentRef, role string) (T, error) {
	var zero T
	f.mu.RLock()
	builder, ok := f.componentBuilders[ref.Ref]
	f.mu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("%s '%s' is not registered", role, ref.Ref)
	}
	c, err := builder(f.config, ref.Properties)
	if err != nil {
		return zero, fmt.Errorf("failed to build %s '%s': %w", role, ref.Ref, err)
	}
	typed, ok := c.(T)
	if !ok {
		return zero, fmt.Errorf("component '%s' (%T) cannot be used as a %s; wrap it with jsl.Any%s", ref.Ref, c, role, roleAdapter(role))
	}
	return typed, nil
}

func roleAdapter(role string) string {
	switch role {
	case "reader":
		return "Reader"
	case "writer":
		return "Writer"
	}
	return "Processor"
}

func (f *JobFactory) buildListener(ref jsl.ComponentRef) (interface{}, error) {
	f.mu.RLock()
	builder, ok := f.listenerBuilders[ref.Ref]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("listener '%s' is not registered", ref.Ref)
	}
	l, err := builder(f.config, ref.Properties)
	if err != nil {
		return nil, fmt.Errorf("failed to build listener '%s': %w", ref.Ref, err)
	}
	return l, nil
}
