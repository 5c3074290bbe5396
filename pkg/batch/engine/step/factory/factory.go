// Package factory assembles chunk steps from resolved components and the
// chunkflow.batch defaults.
package factory

import (
	"fmt"
	"time"

	"go.uber.org/fx"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	itemstep "github.com/tigerroll/chunkflow/pkg/batch/engine/step/item"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/retry"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/skip"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ChunkStepSpec describes one chunk step. Zero values fall back to the
// configured batch defaults.
type ChunkStepSpec struct {
	Name      string
	Reader    port.ItemReader[any]
	Processor port.ItemProcessor[any, any]
	Writer    port.ItemWriter[any]

	ChunkSize      int
	IsolationLevel string
	Timeout        time.Duration
	// Datasource selects the transaction manager; empty means resourceless.
	Datasource string
	Listeners  []interface{}
}

// StepFactory converts step descriptions into executable steps.
type StepFactory interface {
	CreateChunkStep(spec ChunkStepSpec) (port.Step, error)
}

// DefaultStepFactory builds item.ChunkStep instances.
type DefaultStepFactory struct {
	cfg              *config.Config
	jobRepository    repository.JobRepository
	txManagerFactory tx.TransactionManagerFactory
	metricRecorder   metrics.MetricRecorder
	tracer           metrics.Tracer
}

// DefaultStepFactoryParams are the dependencies of DefaultStepFactory.
type DefaultStepFactoryParams struct {
	fx.In
	Config         *config.Config
	JobRepository  repository.JobRepository
	TxFactory      tx.TransactionManagerFactory `optional:"true"`
	MetricRecorder metrics.MetricRecorder       `optional:"true"`
	Tracer         metrics.Tracer               `optional:"true"`
}

// NewDefaultStepFactory creates a DefaultStepFactory.
func NewDefaultStepFactory(p DefaultStepFactoryParams) *DefaultStepFactory {
	return &DefaultStepFactory{
		cfg:              p.Config,
		jobRepository:    p.JobRepository,
		txManagerFactory: p.TxFactory,
		metricRecorder:   p.MetricRecorder,
		tracer:           p.Tracer,
	}
}

// CreateChunkStep implements StepFactory.
func (f *DefaultStepFactory) CreateChunkStep(spec ChunkStepSpec) (port.Step, error) {
	batch := f.cfg.Chunkflow.Batch

	chunkSize := spec.ChunkSize
	if chunkSize == 0 {
		chunkSize = batch.ChunkSize
	}
	isolation := spec.IsolationLevel
	if isolation == "" {
		isolation = batch.IsolationLevel
	}
	timeout := spec.Timeout
	if timeout == 0 {
		timeout = time.Duration(batch.StepTimeout) * time.Second
	}

	b := itemstep.NewStepBuilder[any, any](spec.Name).
		Reader(spec.Reader).
		Writer(spec.Writer).
		ChunkSize(chunkSize).
		Timeout(timeout).
		IsolationLevel(isolation).
		Repository(f.jobRepository).
		SkipPolicy(SkipPolicy(batch.ItemSkip)).
		RetryPolicy(RetryPolicy(batch.ItemRetry)).
		Metrics(f.metricRecorder, f.tracer)
	if spec.Processor != nil {
		b.Processor(spec.Processor)
	}
	if spec.Datasource != "" {
		if f.txManagerFactory == nil {
			return nil, fmt.Errorf("step '%s': datasource '%s' requested but no transaction manager factory is configured", spec.Name, spec.Datasource)
		}
		mgr, err := f.txManagerFactory.ForDatasource(spec.Datasource)
		if err != nil {
			return nil, fmt.Errorf("step '%s': %w", spec.Name, err)
		}
		b.TransactionManager(mgr)
	}
	for _, l := range spec.Listeners {
		b.Listener(l)
	}

	step, err := b.Build()
	if err != nil {
		return nil, err
	}
	logger.Debugf("Chunk step '%s' built (chunk size %d, isolation %s).", spec.Name, chunkSize, isolation)
	return step, nil
}

// SkipPolicy converts the skip configuration to a policy.
func SkipPolicy(c config.SkipConfig) skip.SkipPolicy {
	return skip.NewDefaultSkipPolicy(skip.Config{
		SkipLimit:           c.SkipLimit,
		SkippableExceptions: c.SkippableExceptions,
		FatalExceptions:     c.FatalExceptions,
		InvalidIsFatal:      c.InvalidIsFatal,
	})
}

// RetryPolicy converts the retry configuration to a policy.
func RetryPolicy(c config.RetryConfig) retry.RetryPolicy {
	return retry.NewDefaultRetryPolicy(retry.Config{
		MaxAttempts:         c.MaxAttempts,
		InitialInterval:     time.Duration(c.InitialInterval) * time.Millisecond,
		MaxInterval:         time.Duration(c.MaxInterval) * time.Millisecond,
		Multiplier:          c.Multiplier,
		RetryableExceptions: c.RetryableExceptions,
	})
}

var _ StepFactory = (*DefaultStepFactory)(nil)
