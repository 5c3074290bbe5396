package writer

import (
	"context"
	"fmt"

	"github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// RepositoryWriterConfig configures a RepositoryWriter.
type RepositoryWriterConfig struct {
	// Table overrides the table derived from the model.
	Table string
	// ConflictColumns turns inserts into upserts on these columns.
	ConflictColumns []string
	// UpdateColumns are updated on conflict; empty means DO NOTHING.
	UpdateColumns []string
	// BatchSize caps the rows saved by one statement; 0 saves the chunk at once.
	BatchSize int
}

// RepositoryWriter saves a chunk of gorm models through the chunk's transaction.
type RepositoryWriter[T any] struct {
	name string
	cfg  RepositoryWriterConfig
}

var _ port.ItemWriter[any] = (*RepositoryWriter[any])(nil)

// NewRepositoryWriter creates a writer for the gorm model T.
func NewRepositoryWriter[T any](name string, cfg RepositoryWriterConfig) *RepositoryWriter[T] {
	return &RepositoryWriter[T]{name: name, cfg: cfg}
}

// Open is a no-op.
func (w *RepositoryWriter[T]) Open(context.Context, model.ExecutionContext) error { return nil }

// Write creates or upserts the chunk through t, BatchSize items at a time.
func (w *RepositoryWriter[T]) Write(ctx context.Context, t tx.Tx, items []T) error {
	size := w.cfg.BatchSize
	if size <= 0 {
		size = len(items)
	}
	for start := 0; start < len(items); start += size {
		batch := append([]T(nil), items[start:min(start+size, len(items))]...)
		var err error
		if len(w.cfg.ConflictColumns) > 0 {
			_, err = t.ExecuteUpsert(ctx, &batch, w.cfg.Table, w.cfg.ConflictColumns, w.cfg.UpdateColumns)
		} else {
			_, err = t.ExecuteUpdate(ctx, &batch, "CREATE", w.cfg.Table, nil)
		}
		if err != nil {
			return fmt.Errorf("repository writer '%s': save of %d item(s) failed: %w", w.name, len(batch), err)
		}
	}
	logger.Debugf("RepositoryWriter '%s': saved %d item(s).", w.name, len(items))
	return nil
}

// Close is a no-op.
func (w *RepositoryWriter[T]) Close(context.Context) error { return nil }
