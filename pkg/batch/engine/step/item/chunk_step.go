// Package item implements the chunk-oriented step: items are read one at a
// time, run through a processor, accumulated into a chunk and written as a
// unit inside a transaction. The reader checkpoint is persisted only after the
// chunk's transaction has committed.
package item

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/retry"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/skip"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// errStopRequested ends the chunk loop at a chunk boundary.
var errStopRequested = errors.New("stop requested")

// errProbeRollback forces the rollback of a single-item probe transaction.
var errProbeRollback = errors.New("probe transaction rolled back")

// ChunkStep is a port.Step that processes items in chunks.
// Use NewStepBuilder to create one.
type ChunkStep[I, O any] struct {
	name      string
	reader    port.ItemReader[I]
	processor port.ItemProcessor[I, O]
	writer    port.ItemWriter[O]
	chunkSize int
	timeout   time.Duration

	jobRepository repository.JobRepository
	txManager     tx.TransactionManager
	txOptions     *sql.TxOptions

	skipPolicy  skip.SkipPolicy
	retryPolicy retry.RetryPolicy

	stepListeners  []port.StepExecutionListener
	chunkListeners []port.ChunkListener
	skipListeners  []port.SkipListener
	retryListeners []port.RetryListener

	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
}

var _ port.Step = (*ChunkStep[any, any])(nil)

// StepName implements port.Step.
func (s *ChunkStep[I, O]) StepName() string {
	return s.name
}

// ChunkSize returns the maximum number of items read per chunk.
func (s *ChunkStep[I, O]) ChunkSize() int {
	return s.chunkSize
}

// chunk is the state of the chunk being assembled.
type chunk[O any] struct {
	items []O
	read  int
	eof   bool
}

// Execute implements port.Step. The outcome is recorded on stepExecution; the
// returned error is the terminal failure, if any. A stop request ends the step
// as STOPPED and returns nil.
func (s *ChunkStep[I, O]) Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error {
	ctx, endSpan := s.tracer.StartStepSpan(ctx, stepExecution)
	defer endSpan()

	startedAt := time.Now()
	s.metricRecorder.RecordStepStart(ctx, stepExecution)
	for _, l := range s.stepListeners {
		l.BeforeStep(ctx, stepExecution)
	}

	logger.Infof("ChunkStep '%s' (Execution ID: %s) starting. Chunk size: %d", s.name, stepExecution.ID, s.chunkSize)

	runErr := s.open(ctx, stepExecution)
	if runErr == nil {
		runErr = s.run(ctx, jobExecution, stepExecution, startedAt)
		runErr = s.close(ctx, runErr)
	}

	resultErr := s.finish(ctx, stepExecution, runErr)

	for _, l := range s.stepListeners {
		l.AfterStep(ctx, stepExecution)
	}
	s.metricRecorder.RecordStepEnd(ctx, stepExecution)
	s.metricRecorder.RecordDuration(ctx, "step_duration", time.Since(startedAt), map[string]string{
		"step_name": s.name,
		"status":    stepExecution.Status.String(),
	})
	logger.Infof("ChunkStep '%s' finished. Status: %s, %s", s.name, stepExecution.Status, stepExecution.DebugString())
	return resultErr
}

// open restores the checkpoint of the last committed chunk and opens the reader and writer.
func (s *ChunkStep[I, O]) open(ctx context.Context, stepExecution *model.StepExecution) error {
	checkpoint := stepExecution.ExecutionContext.Copy()
	cp, err := s.jobRepository.FindCheckpointData(ctx, stepExecution.ID)
	switch {
	case err == nil && cp != nil:
		checkpoint = cp.ExecutionContext.Copy()
	case err != nil && !errors.Is(err, repository.ErrCheckpointDataNotFound):
		return exception.NewBatchError(s.name, "failed to load checkpoint data", err, false, false)
	}
	if len(checkpoint) > 0 {
		logger.Infof("ChunkStep '%s': restoring from checkpoint %v", s.name, checkpoint)
	}
	stepExecution.ExecutionContext = checkpoint

	if err := s.reader.Open(ctx, checkpoint.Copy()); err != nil {
		return exception.ReaderFatalError("failed to open reader", err)
	}
	if err := s.writer.Open(ctx, checkpoint.Copy()); err != nil {
		_ = s.reader.Close(ctx)
		return exception.WriterFatalError("failed to open writer", err)
	}
	if err := stepExecution.MarkAsStarted(); err != nil {
		return s.close(ctx, err)
	}
	if err := s.jobRepository.UpdateStepExecution(ctx, stepExecution); err != nil {
		return s.close(ctx, exception.NewBatchError(s.name, "failed to persist started StepExecution", err, false, false))
	}
	return nil
}

func (s *ChunkStep[I, O]) close(ctx context.Context, runErr error) error {
	if err := s.writer.Close(ctx); err != nil {
		logger.Warnf("ChunkStep '%s': failed to close writer: %v", s.name, err)
		if runErr == nil || errors.Is(runErr, errStopRequested) {
			runErr = exception.WriterFatalError("failed to close writer", err)
		}
	}
	if err := s.reader.Close(ctx); err != nil {
		logger.Warnf("ChunkStep '%s': failed to close reader: %v", s.name, err)
	}
	return runErr
}

// run drives READING_CHUNK and COMMITTING until the reader is exhausted, a
// failure occurs or a stop is observed at a chunk boundary.
func (s *ChunkStep[I, O]) run(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution, startedAt time.Time) error {
	for {
		if err := s.checkBoundary(ctx, jobExecution, startedAt); err != nil {
			return err
		}

		if err := stepExecution.TransitionTo(model.BatchStatusReadingChunk); err != nil {
			return err
		}
		for _, l := range s.chunkListeners {
			l.BeforeChunk(ctx, stepExecution)
		}

		c, err := s.readChunk(ctx, stepExecution)
		if err != nil {
			s.notifyChunkError(ctx, stepExecution, err)
			return err
		}

		if err := stepExecution.TransitionTo(model.BatchStatusCommitting); err != nil {
			return err
		}
		if err := s.commitChunk(ctx, stepExecution, c); err != nil {
			s.notifyChunkError(ctx, stepExecution, err)
			return err
		}
		for _, l := range s.chunkListeners {
			l.AfterChunk(ctx, stepExecution)
		}

		if c.eof {
			return nil
		}
	}
}

// checkBoundary is evaluated between chunks only.
func (s *ChunkStep[I, O]) checkBoundary(ctx context.Context, jobExecution *model.JobExecution, startedAt time.Time) error {
	if jobExecution != nil && jobExecution.IsStopRequested() {
		return errStopRequested
	}
	if ctx.Err() != nil {
		return errStopRequested
	}
	if s.timeout > 0 && time.Since(startedAt) > s.timeout {
		return exception.NewBatchErrorf(s.name, "step exceeded its time budget of %s", s.timeout)
	}
	return nil
}

// readChunk reads until the chunk is full or the reader reports end of data.
// Filtered and skipped items are counted immediately; they never reach the writer.
func (s *ChunkStep[I, O]) readChunk(ctx context.Context, stepExecution *model.StepExecution) (*chunk[O], error) {
	c := &chunk[O]{items: make([]O, 0, s.chunkSize)}
	for c.read < s.chunkSize {
		in, err := s.readItem(ctx, stepExecution)
		if isEndOfData(err) {
			c.eof = true
			break
		}
		if err != nil {
			return nil, err
		}
		c.read++
		stepExecution.ReadCount++
		s.metricRecorder.RecordItemRead(ctx, s.name, 1)

		out, keep, err := s.processItem(ctx, stepExecution, in)
		if err != nil {
			return nil, err
		}
		if keep {
			c.items = append(c.items, out)
		}
	}
	return c, nil
}

// readItem reads one item, retrying transient failures without advancing the reader.
func (s *ChunkStep[I, O]) readItem(ctx context.Context, stepExecution *model.StepExecution) (I, error) {
	var in I
	err := retry.Do(ctx, s.retryPolicy, func(int) error {
		var readErr error
		in, readErr = s.reader.Read(ctx)
		return readErr
	}, func(attempt int, err error) {
		stepExecution.RetryCount++
		s.notifyRetryRead(ctx, attempt, err)
	})
	if err == nil || isEndOfData(err) {
		return in, err
	}
	if exception.IsKind(err, exception.ReaderTransient) {
		return in, exception.NewKindError(exception.ReaderFatal, "reader failed after retries", err)
	}
	if exception.KindOf(err) == exception.KindUnknown {
		return in, exception.ReaderFatalError("reader failed", err)
	}
	return in, err
}

// isEndOfData reports a clean end of input. A classified reader error never
// counts as one, whatever it wraps.
func isEndOfData(err error) bool {
	return errors.Is(err, port.ErrEndOfData) && exception.KindOf(err) == exception.KindUnknown
}

// processItem runs the processor. It reports keep=false for filtered and skipped items.
func (s *ChunkStep[I, O]) processItem(ctx context.Context, stepExecution *model.StepExecution, in I) (out O, keep bool, err error) {
	if s.processor == nil {
		o, ok := any(in).(O)
		if !ok {
			return out, false, exception.NewBatchErrorf(s.name, "no processor configured and item type %T is not assignable to the writer type", in)
		}
		return o, true, nil
	}

	res, procErr := s.processor.Process(ctx, in)
	if procErr == nil {
		switch res.Outcome {
		case port.OutcomeProcessed:
			return res.Item, true, nil
		case port.OutcomeFiltered:
			stepExecution.FilterCount++
			s.metricRecorder.RecordItemFilter(ctx, s.name, 1)
			logger.Debugf("ChunkStep '%s': item filtered: %+v", s.name, in)
			return out, false, nil
		case port.OutcomeInvalid:
			procErr = exception.InvalidItemError(res.Reason)
		default:
			return out, false, exception.NewBatchErrorf(s.name, "unknown processor outcome %s", res.Outcome)
		}
	}

	if !s.skipPolicy.IsSkippable(procErr) {
		return out, false, procErr
	}
	if limitErr := s.skipPolicy.Skip(procErr, stepExecution.SkipProcessCount+stepExecution.SkipWriteCount); limitErr != nil {
		return out, false, limitErr
	}
	stepExecution.SkipProcessCount++
	s.notifySkipProcess(ctx, in, procErr)
	logger.Warnf("ChunkStep '%s': item skipped during processing: %v", s.name, procErr)
	return out, false, nil
}

// commitChunk writes the chunk in a transaction and, once it has committed,
// advances the checkpoint. Rejected and skippable items are removed from the
// chunk and the remainder is written again in a new transaction.
func (s *ChunkStep[I, O]) commitChunk(ctx context.Context, stepExecution *model.StepExecution, c *chunk[O]) error {
	pending := c.items
	committed := false
	for len(pending) > 0 {
		err := s.writeWithRetry(ctx, stepExecution, pending)
		if err == nil {
			committed = true
			break
		}
		stepExecution.RollbackCount++
		s.metricRecorder.RecordChunkRollback(ctx, s.name)

		var rejected *port.RejectedItemsError
		switch {
		case errors.As(err, &rejected) && len(rejected.Rejected) > 0:
			remaining, skipErr := s.skipRejected(ctx, stepExecution, pending, rejected)
			if skipErr != nil {
				return skipErr
			}
			pending = remaining
		case s.skipPolicy.IsSkippable(err):
			remaining, scanErr := s.scanChunk(ctx, stepExecution, pending)
			if scanErr != nil {
				return scanErr
			}
			if len(remaining) == len(pending) {
				return exception.WriterFatalError("chunk write failed but no single item could be isolated", err)
			}
			pending = remaining
		default:
			if exception.KindOf(err) == exception.KindUnknown {
				return exception.WriterFatalError("chunk write failed", err)
			}
			return err
		}
	}

	if committed {
		stepExecution.WriteCount += len(pending)
		stepExecution.CommitCount++
		s.metricRecorder.RecordItemWrite(ctx, s.name, len(pending))
		s.metricRecorder.RecordChunkCommit(ctx, s.name, len(pending))
	}
	return s.saveCheckpoint(ctx, stepExecution)
}

// writeWithRetry writes items in one transaction, retrying transient failures
// with the same items. Processors are not run again.
func (s *ChunkStep[I, O]) writeWithRetry(ctx context.Context, stepExecution *model.StepExecution, items []O) error {
	return retry.Do(ctx, s.retryPolicy, func(int) error {
		return tx.WithinTransaction(ctx, s.txManager, func(txCtx context.Context, t tx.Tx) error {
			return s.writer.Write(txCtx, t, items)
		}, s.txOptions)
	}, func(attempt int, err error) {
		stepExecution.RetryCount++
		stepExecution.RollbackCount++
		s.notifyRetryWrite(ctx, items, attempt, err)
	})
}

// skipRejected drops the items a writer refused and returns the rest.
func (s *ChunkStep[I, O]) skipRejected(ctx context.Context, stepExecution *model.StepExecution, items []O, rejected *port.RejectedItemsError) ([]O, error) {
	remaining := make([]O, 0, len(items))
	for i, it := range items {
		cause, ok := rejected.Rejected[i]
		if !ok {
			remaining = append(remaining, it)
			continue
		}
		if cause == nil {
			cause = exception.WriterRejectedError("item rejected by writer", nil)
		}
		if err := s.skipWrite(ctx, stepExecution, it, cause); err != nil {
			return nil, err
		}
	}
	return remaining, nil
}

// scanChunk writes each item alone in a transaction that is always rolled back,
// to find the items that cannot be written. The items that passed are returned
// and written together afterwards, so the chunk stays atomic.
func (s *ChunkStep[I, O]) scanChunk(ctx context.Context, stepExecution *model.StepExecution, items []O) ([]O, error) {
	logger.Warnf("ChunkStep '%s': scanning %d item(s) to isolate the failing ones", s.name, len(items))
	remaining := make([]O, 0, len(items))
	for _, it := range items {
		one := []O{it}
		err := retry.Do(ctx, s.retryPolicy, func(int) error {
			probeErr := tx.WithinTransaction(ctx, s.txManager, func(txCtx context.Context, t tx.Tx) error {
				if err := s.writer.Write(txCtx, t, one); err != nil {
					return err
				}
				return errProbeRollback
			}, s.txOptions)
			if errors.Is(probeErr, errProbeRollback) {
				return nil
			}
			return probeErr
		}, func(attempt int, err error) {
			stepExecution.RetryCount++
			s.notifyRetryWrite(ctx, []interface{}{it}, attempt, err)
		})
		if err == nil {
			remaining = append(remaining, it)
			continue
		}
		var rejected *port.RejectedItemsError
		if errors.As(err, &rejected) || s.skipPolicy.IsSkippable(err) {
			if skipErr := s.skipWrite(ctx, stepExecution, it, err); skipErr != nil {
				return nil, skipErr
			}
			continue
		}
		if exception.KindOf(err) == exception.KindUnknown {
			return nil, exception.WriterFatalError("item write failed", err)
		}
		return nil, err
	}
	return remaining, nil
}

func (s *ChunkStep[I, O]) skipWrite(ctx context.Context, stepExecution *model.StepExecution, it O, cause error) error {
	if err := s.skipPolicy.Skip(cause, stepExecution.SkipProcessCount+stepExecution.SkipWriteCount); err != nil {
		return err
	}
	stepExecution.SkipWriteCount++
	s.notifySkipWrite(ctx, it, cause)
	logger.Warnf("ChunkStep '%s': item skipped during write: %v", s.name, cause)
	return nil
}

// saveCheckpoint captures the reader position (and writer state, if any) after
// a commit and persists it together with the counts.
func (s *ChunkStep[I, O]) saveCheckpoint(ctx context.Context, stepExecution *model.StepExecution) error {
	checkpoint := model.NewExecutionContext()
	checkpoint.Merge(s.reader.Checkpoint())
	if stream, ok := s.writer.(port.ItemStream); ok {
		checkpoint.Merge(stream.Checkpoint())
	}
	stepExecution.ExecutionContext = checkpoint

	data := &model.CheckpointData{
		StepExecutionID:  stepExecution.ID,
		ExecutionContext: checkpoint.Copy(),
		LastUpdated:      time.Now(),
	}
	if err := s.jobRepository.SaveCheckpointData(ctx, data); err != nil {
		return exception.NewBatchError(s.name, "failed to save checkpoint data", err, false, false)
	}
	if err := s.jobRepository.UpdateStepExecution(ctx, stepExecution); err != nil {
		return exception.NewBatchError(s.name, "failed to update StepExecution after commit", err, false, false)
	}
	logger.Debugf("ChunkStep '%s': chunk committed. %s", s.name, stepExecution.DebugString())
	return nil
}

// finish records the terminal status and persists the StepExecution.
func (s *ChunkStep[I, O]) finish(ctx context.Context, stepExecution *model.StepExecution, runErr error) error {
	var resultErr error
	switch {
	case runErr == nil:
		if err := stepExecution.MarkAsCompleted(); err != nil {
			resultErr = err
		}
	case errors.Is(runErr, errStopRequested):
		logger.Infof("ChunkStep '%s': stop observed at chunk boundary", s.name)
		if err := stepExecution.MarkAsStopped(); err != nil {
			resultErr = err
		}
	default:
		s.tracer.RecordError(ctx, s.name, runErr)
		logger.Errorf("ChunkStep '%s' failed: %v", s.name, runErr)
		_ = stepExecution.MarkAsFailed(runErr)
		resultErr = runErr
	}

	if err := s.jobRepository.UpdateStepExecution(context.WithoutCancel(ctx), stepExecution); err != nil {
		logger.Errorf("ChunkStep '%s': failed to update final StepExecution state: %v", s.name, err)
		if resultErr == nil {
			resultErr = err
		}
	}
	return resultErr
}

func (s *ChunkStep[I, O]) notifyChunkError(ctx context.Context, stepExecution *model.StepExecution, err error) {
	for _, l := range s.chunkListeners {
		l.AfterChunkError(ctx, stepExecution, err)
	}
}

func (s *ChunkStep[I, O]) notifyRetryRead(ctx context.Context, attempt int, err error) {
	s.tracer.RecordError(ctx, s.name, err)
	s.metricRecorder.RecordItemRetry(ctx, s.name, "read")
	logger.Warnf("ChunkStep '%s': retrying read (attempt %d): %v", s.name, attempt, err)
	for _, l := range s.retryListeners {
		l.OnRetryRead(ctx, attempt, err)
	}
}

func (s *ChunkStep[I, O]) notifyRetryWrite(ctx context.Context, items interface{}, attempt int, err error) {
	s.tracer.RecordError(ctx, s.name, err)
	s.metricRecorder.RecordItemRetry(ctx, s.name, "write")
	logger.Warnf("ChunkStep '%s': retrying write (attempt %d): %v", s.name, attempt, err)
	if len(s.retryListeners) == 0 {
		return
	}
	var boxed []interface{}
	switch v := items.(type) {
	case []O:
		boxed = make([]interface{}, len(v))
		for i := range v {
			boxed[i] = v[i]
		}
	case []interface{}:
		boxed = v
	}
	for _, l := range s.retryListeners {
		l.OnRetryWrite(ctx, boxed, attempt, err)
	}
}

func (s *ChunkStep[I, O]) notifySkipProcess(ctx context.Context, item I, err error) {
	s.tracer.RecordError(ctx, s.name, err)
	s.metricRecorder.RecordItemSkip(ctx, s.name, "process", skipReason(err))
	for _, l := range s.skipListeners {
		l.OnSkipProcess(ctx, item, err)
	}
}

func (s *ChunkStep[I, O]) notifySkipWrite(ctx context.Context, item O, err error) {
	s.tracer.RecordError(ctx, s.name, err)
	s.metricRecorder.RecordItemSkip(ctx, s.name, "write", skipReason(err))
	for _, l := range s.skipListeners {
		l.OnSkipWrite(ctx, item, err)
	}
}

func skipReason(err error) string {
	if kind := exception.KindOf(err); kind != exception.KindUnknown {
		return string(kind)
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}
