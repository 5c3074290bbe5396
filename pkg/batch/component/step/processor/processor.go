// Package processor provides reusable item processors: pass-through, chained,
// filtering and validating.
package processor

import (
	"context"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
)

// PassThrough returns every item unchanged.
func PassThrough[T any]() port.ItemProcessor[T, T] {
	return port.ItemProcessorFunc[T, T](func(_ context.Context, item T) (port.Result[T], error) {
		return port.Processed(item), nil
	})
}

// Chain runs second on the output of first. A filtered or invalid result of
// first is returned without calling second.
func Chain[I, M, O any](first port.ItemProcessor[I, M], second port.ItemProcessor[M, O]) port.ItemProcessor[I, O] {
	return port.ItemProcessorFunc[I, O](func(ctx context.Context, item I) (port.Result[O], error) {
		mid, err := first.Process(ctx, item)
		if err != nil {
			return port.Result[O]{}, err
		}
		if mid.Outcome != port.OutcomeProcessed {
			return port.Result[O]{Outcome: mid.Outcome, Reason: mid.Reason}, nil
		}
		return second.Process(ctx, mid.Item)
	})
}

// Composite chains processors of the same type in order.
type Composite[T any] struct {
	delegates []port.ItemProcessor[T, T]
}

var _ port.ItemProcessor[any, any] = (*Composite[any])(nil)

func NewComposite[T any](delegates ...port.ItemProcessor[T, T]) *Composite[T] {
	return &Composite[T]{delegates: delegates}
}

func (c *Composite[T]) Process(ctx context.Context, item T) (port.Result[T], error) {
	res := port.Processed(item)
	for _, d := range c.delegates {
		var err error
		if res, err = d.Process(ctx, res.Item); err != nil || res.Outcome != port.OutcomeProcessed {
			return res, err
		}
	}
	return res, nil
}

// Filter keeps the items keep returns true for and filters the rest.
func Filter[T any](keep func(T) bool) port.ItemProcessor[T, T] {
	return port.ItemProcessorFunc[T, T](func(_ context.Context, item T) (port.Result[T], error) {
		if keep(item) {
			return port.Processed(item), nil
		}
		return port.Filtered[T](), nil
	})
}

// Map transforms every item; an error from fn is a processing failure.
func Map[I, O any](fn func(context.Context, I) (O, error)) port.ItemProcessor[I, O] {
	return port.ItemProcessorFunc[I, O](func(ctx context.Context, item I) (port.Result[O], error) {
		out, err := fn(ctx, item)
		if err != nil {
			return port.Result[O]{}, err
		}
		return port.Processed(out), nil
	})
}
