package item

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/retry"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/skip"
)

// StepBuilder assembles a ChunkStep. Reader, writer and job repository are required.
type StepBuilder[I, O any] struct {
	step *ChunkStep[I, O]
	errs []error
}

// NewStepBuilder starts a builder for a step named name.
func NewStepBuilder[I, O any](name string) *StepBuilder[I, O] {
	return &StepBuilder[I, O]{
		step: &ChunkStep[I, O]{
			name:           name,
			chunkSize:      10,
			skipPolicy:     skip.NeverSkipPolicy{},
			retryPolicy:    retry.NoRetryPolicy{},
			metricRecorder: metrics.NewNoOpMetricRecorder(),
			tracer:         metrics.NewNoOpTracer(),
		},
	}
}

// Reader sets the item source.
func (b *StepBuilder[I, O]) Reader(r port.ItemReader[I]) *StepBuilder[I, O] {
	b.step.reader = r
	return b
}

// Processor sets the processor. Without one, items are passed to the writer as is.
func (b *StepBuilder[I, O]) Processor(p port.ItemProcessor[I, O]) *StepBuilder[I, O] {
	b.step.processor = p
	return b
}

// Writer sets the item sink.
func (b *StepBuilder[I, O]) Writer(w port.ItemWriter[O]) *StepBuilder[I, O] {
	b.step.writer = w
	return b
}

// ChunkSize sets the maximum number of items read per chunk.
func (b *StepBuilder[I, O]) ChunkSize(n int) *StepBuilder[I, O] {
	if n < 1 {
		b.errs = append(b.errs, fmt.Errorf("chunk size must be at least 1, got %d", n))
	}
	b.step.chunkSize = n
	return b
}

// Timeout sets a wall-clock budget checked between chunks. Zero disables it.
func (b *StepBuilder[I, O]) Timeout(d time.Duration) *StepBuilder[I, O] {
	b.step.timeout = d
	return b
}

// Repository sets the job repository that receives StepExecution updates and checkpoints.
func (b *StepBuilder[I, O]) Repository(r repository.JobRepository) *StepBuilder[I, O] {
	b.step.jobRepository = r
	return b
}

// TransactionManager sets the manager of the per-chunk transaction.
// Without one, a resourceless manager is used.
func (b *StepBuilder[I, O]) TransactionManager(m tx.TransactionManager) *StepBuilder[I, O] {
	b.step.txManager = m
	return b
}

// IsolationLevel sets the isolation level of chunk transactions
// (DEFAULT, READ_UNCOMMITTED, READ_COMMITTED, REPEATABLE_READ, SERIALIZABLE).
func (b *StepBuilder[I, O]) IsolationLevel(level string) *StepBuilder[I, O] {
	b.step.txOptions = &sql.TxOptions{Isolation: parseIsolationLevel(level)}
	return b
}

// SkipPolicy sets the skip policy.
func (b *StepBuilder[I, O]) SkipPolicy(p skip.SkipPolicy) *StepBuilder[I, O] {
	b.step.skipPolicy = p
	return b
}

// RetryPolicy sets the retry policy applied to reads and chunk writes.
func (b *StepBuilder[I, O]) RetryPolicy(p retry.RetryPolicy) *StepBuilder[I, O] {
	b.step.retryPolicy = p
	return b
}

// Metrics sets the metric recorder and tracer. Nil values keep the no-op defaults.
func (b *StepBuilder[I, O]) Metrics(recorder metrics.MetricRecorder, tracer metrics.Tracer) *StepBuilder[I, O] {
	if recorder != nil {
		b.step.metricRecorder = recorder
	}
	if tracer != nil {
		b.step.tracer = tracer
	}
	return b
}

// Listener registers l for every listener interface it implements.
func (b *StepBuilder[I, O]) Listener(l interface{}) *StepBuilder[I, O] {
	matched := false
	if sl, ok := l.(port.StepExecutionListener); ok {
		b.step.stepListeners = append(b.step.stepListeners, sl)
		matched = true
	}
	if cl, ok := l.(port.ChunkListener); ok {
		b.step.chunkListeners = append(b.step.chunkListeners, cl)
		matched = true
	}
	if kl, ok := l.(port.SkipListener); ok {
		b.step.skipListeners = append(b.step.skipListeners, kl)
		matched = true
	}
	if rl, ok := l.(port.RetryListener); ok {
		b.step.retryListeners = append(b.step.retryListeners, rl)
		matched = true
	}
	if !matched {
		b.errs = append(b.errs, fmt.Errorf("listener %T implements no step listener interface", l))
	}
	return b
}

// Build validates the configuration and returns the step.
func (b *StepBuilder[I, O]) Build() (*ChunkStep[I, O], error) {
	errs := append([]error{}, b.errs...)
	if b.step.name == "" {
		errs = append(errs, errors.New("step name is required"))
	}
	if b.step.reader == nil {
		errs = append(errs, errors.New("reader is required"))
	}
	if b.step.writer == nil {
		errs = append(errs, errors.New("writer is required"))
	}
	if b.step.jobRepository == nil {
		errs = append(errs, errors.New("job repository is required"))
	}
	if b.step.processor == nil {
		var zero I
		if _, ok := any(zero).(O); !ok && !sameType[I, O]() {
			errs = append(errs, errors.New("processor is required when reader and writer item types differ"))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid step '%s': %w", b.step.name, errors.Join(errs...))
	}
	if b.step.txManager == nil {
		b.step.txManager = tx.NewResourcelessTransactionManager()
	}
	s := *b.step
	return &s, nil
}

func sameType[I, O any]() bool {
	_, ok := any((*I)(nil)).(*O)
	return ok
}

// parseIsolationLevel converts a configured name to sql.IsolationLevel.
func parseIsolationLevel(level string) sql.IsolationLevel {
	switch strings.ToUpper(strings.ReplaceAll(level, " ", "_")) {
	case "READ_UNCOMMITTED":
		return sql.LevelReadUncommitted
	case "READ_COMMITTED":
		return sql.LevelReadCommitted
	case "REPEATABLE_READ":
		return sql.LevelRepeatableRead
	case "SERIALIZABLE":
		return sql.LevelSerializable
	default:
		return sql.LevelDefault
	}
}
