package port

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

// ErrEndOfData is returned by ItemReader.Read when the source is exhausted.
// It is not io.EOF: a driver error wrapping io.EOF is a read failure.
var ErrEndOfData = errors.New("end of data")

// ItemReader produces items on demand and tracks its own read position.
//
// For a given checkpoint and underlying data snapshot, Read must return the same
// sequence of items. Paging and cursor readers therefore require an explicit
// sort key.
type ItemReader[T any] interface {
	// Open acquires resources and restores the read position from ec. An empty ec
	// starts at the beginning.
	Open(ctx context.Context, ec model.ExecutionContext) error
	// Read returns the next item, or ErrEndOfData. Transient failures should be
	// reported as exception.ReaderTransient, permanent ones as exception.ReaderFatal.
	Read(ctx context.Context) (T, error)
	// Checkpoint returns the position after the last item returned by Read.
	Checkpoint() model.ExecutionContext
	Close(ctx context.Context) error
}

// Outcome is the result category of processing one item.
type Outcome int

const (
	// OutcomeProcessed means the item continues down the chain.
	OutcomeProcessed Outcome = iota
	// OutcomeFiltered means the item was deliberately dropped.
	OutcomeFiltered
	// OutcomeInvalid means the item failed validation.
	OutcomeInvalid
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "PROCESSED"
	case OutcomeFiltered:
		return "FILTERED"
	case OutcomeInvalid:
		return "INVALID"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Result is what an ItemProcessor returns for one item.
type Result[O any] struct {
	Item    O
	Outcome Outcome
	// Reason explains an OutcomeInvalid result.
	Reason string
}

// Processed wraps a transformed item.
func Processed[O any](item O) Result[O] {
	return Result[O]{Item: item, Outcome: OutcomeProcessed}
}

// Filtered drops the item without treating it as an error.
func Filtered[O any]() Result[O] {
	return Result[O]{Outcome: OutcomeFiltered}
}

// Invalid rejects the item with a validation reason.
func Invalid[O any](reason string) Result[O] {
	return Result[O]{Outcome: OutcomeInvalid, Reason: reason}
}

// ItemProcessor transforms, validates or filters one item. It must not depend on
// the order of items and must be safe to call again for the same item.
// A non-nil error is a processing failure classified by the skip policy.
type ItemProcessor[I, O any] interface {
	Process(ctx context.Context, item I) (Result[O], error)
}

// ItemProcessorFunc adapts a function to ItemProcessor.
type ItemProcessorFunc[I, O any] func(ctx context.Context, item I) (Result[O], error)

// Process implements ItemProcessor.
func (f ItemProcessorFunc[I, O]) Process(ctx context.Context, item I) (Result[O], error) {
	return f(ctx, item)
}

// ItemWriter accepts a whole chunk. Everything written through t must become
// visible only if t commits.
type ItemWriter[T any] interface {
	Open(ctx context.Context, ec model.ExecutionContext) error
	Write(ctx context.Context, t tx.Tx, items []T) error
	Close(ctx context.Context) error
}

// ItemStream is implemented by writers that keep restart state of their own
// (for example the committed size of an output file). The state is saved with
// the reader checkpoint after every commit.
type ItemStream interface {
	Checkpoint() model.ExecutionContext
}

// RejectedItemsError is returned by writers that refuse individual items of a
// chunk. Keys are indexes into the chunk passed to Write. The engine drops the
// rejected items as skips and writes the remainder again in a new transaction.
type RejectedItemsError struct {
	Rejected map[int]error
}

// Error implements error.
func (e *RejectedItemsError) Error() string {
	idx := make([]int, 0, len(e.Rejected))
	for i := range e.Rejected {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	parts := make([]string, 0, len(idx))
	for _, i := range idx {
		parts = append(parts, fmt.Sprintf("#%d: %v", i, e.Rejected[i]))
	}
	return fmt.Sprintf("%d item(s) rejected by writer: %s", len(idx), strings.Join(parts, "; "))
}
