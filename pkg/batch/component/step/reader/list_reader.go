// Package reader provides the item reader backends: an in-memory list, a
// delimited flat file, a SQL cursor, a SQL paging query and a gorm repository.
// Every reader keeps its position under "<name>.read.count" in its checkpoint.
package reader

import (
	"context"

	"github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

func readCountKey(name string) string { return name + ".read.count" }

// ListReader reads items from a slice.
type ListReader[T any] struct {
	name  string
	items []T
	index int
}

var _ port.ItemReader[any] = (*ListReader[any])(nil)

// NewListReader creates a reader over items. The slice is not copied.
func NewListReader[T any](name string, items []T) *ListReader[T] {
	return &ListReader[T]{name: name, items: items}
}

// Open restores the read position.
func (r *ListReader[T]) Open(_ context.Context, ec model.ExecutionContext) error {
	r.index, _ = ec.GetInt(readCountKey(r.name))
	if r.index > len(r.items) {
		r.index = len(r.items)
	}
	return nil
}

// Read returns the next item of the slice.
func (r *ListReader[T]) Read(ctx context.Context) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if r.index >= len(r.items) {
		return zero, port.ErrEndOfData
	}
	item := r.items[r.index]
	r.index++
	return item, nil
}

// Checkpoint returns the number of items read.
func (r *ListReader[T]) Checkpoint() model.ExecutionContext {
	ec := model.NewExecutionContext()
	ec.Put(readCountKey(r.name), r.index)
	return ec
}

// Close is a no-op.
func (r *ListReader[T]) Close(context.Context) error { return nil }
