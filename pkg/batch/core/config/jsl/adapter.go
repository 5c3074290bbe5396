package jsl

import (
	"context"
	"fmt"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// AnyReader adapts a typed reader to port.ItemReader[any].
func AnyReader[T any](r port.ItemReader[T]) port.ItemReader[any] {
	return &anyReader[T]{delegate: r}
}

type anyReader[T any] struct {
	delegate port.ItemReader[T]
}

func (r *anyReader[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	return r.delegate.Open(ctx, ec)
}

func (r *anyReader[T]) Read(ctx context.Context) (any, error) {
	item, err := r.delegate.Read(ctx)
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (r *anyReader[T]) Checkpoint() model.ExecutionContext { return r.delegate.Checkpoint() }

func (r *anyReader[T]) Close(ctx context.Context) error { return r.delegate.Close(ctx) }

// AnyProcessor adapts a typed processor to port.ItemProcessor[any, any].
func AnyProcessor[I, O any](p port.ItemProcessor[I, O]) port.ItemProcessor[any, any] {
	return port.ItemProcessorFunc[any, any](func(ctx context.Context, item any) (port.Result[any], error) {
		in, ok := item.(I)
		if !ok {
			return port.Result[any]{}, exception.NewBatchErrorf("jsl_adapter", "processor expects %T, got %T", *new(I), item)
		}
		res, err := p.Process(ctx, in)
		if err != nil {
			return port.Result[any]{}, err
		}
		return port.Result[any]{Item: res.Item, Outcome: res.Outcome, Reason: res.Reason}, nil
	})
}

// AnyWriter adapts a typed writer to port.ItemWriter[any]. A wrapped
// port.ItemStream keeps contributing its checkpoint.
func AnyWriter[T any](w port.ItemWriter[T]) port.ItemWriter[any] {
	return &anyWriter[T]{delegate: w}
}

type anyWriter[T any] struct {
	delegate port.ItemWriter[T]
}

func (w *anyWriter[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	return w.delegate.Open(ctx, ec)
}

func (w *anyWriter[T]) Write(ctx context.Context, t tx.Tx, items []any) error {
	typed := make([]T, len(items))
	for i, it := range items {
		v, ok := it.(T)
		if !ok {
			return exception.WriterFatalError(fmt.Sprintf("writer expects %T, got %T at index %d", *new(T), it, i), nil)
		}
		typed[i] = v
	}
	return w.delegate.Write(ctx, t, typed)
}

func (w *anyWriter[T]) Close(ctx context.Context) error { return w.delegate.Close(ctx) }

func (w *anyWriter[T]) Checkpoint() model.ExecutionContext {
	if s, ok := w.delegate.(port.ItemStream); ok {
		return s.Checkpoint()
	}
	return nil
}

var _ port.ItemStream = (*anyWriter[int])(nil)
