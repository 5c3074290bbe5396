// Package writer provides the item writer backends: a delimited flat file,
// parameterized SQL batch inserts, gorm repository saves and Parquet files on
// a storage connection. Each writer makes a chunk visible only when the
// chunk's transaction commits.
package writer

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"

	"github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// LineAggregator turns an item into the fields of one record.
type LineAggregator[T any] func(item T) ([]string, error)

// FlatFileWriterConfig configures a FlatFileWriter.
type FlatFileWriterConfig struct {
	Path string
	// Delimiter defaults to ','.
	Delimiter rune
	// Header, if set, is written as the first record of a new file.
	Header []string
}

// FlatFileWriter appends delimited records. A chunk is buffered and written in
// the before-commit hook of its transaction; a rollback truncates the file to
// its size before the chunk. On restart the file is truncated to the size
// recorded in the last checkpoint.
type FlatFileWriter[T any] struct {
	name string
	cfg  FlatFileWriterConfig
	agg  LineAggregator[T]

	file *os.File
	size int64
}

var (
	_ port.ItemWriter[any] = (*FlatFileWriter[any])(nil)
	_ port.ItemStream      = (*FlatFileWriter[any])(nil)
)

// NewFlatFileWriter creates a writer. Path is required.
func NewFlatFileWriter[T any](name string, cfg FlatFileWriterConfig, agg LineAggregator[T]) (*FlatFileWriter[T], error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("flat file writer '%s': path is required", name)
	}
	if cfg.Delimiter == 0 {
		cfg.Delimiter = ','
	}
	return &FlatFileWriter[T]{name: name, cfg: cfg, agg: agg}, nil
}

func (w *FlatFileWriter[T]) sizeKey() string { return w.name + ".written.bytes" }

// Open creates or reopens the file and truncates it to the checkpointed size.
func (w *FlatFileWriter[T]) Open(_ context.Context, ec model.ExecutionContext) error {
	if size, ok := ec.GetInt64(w.sizeKey()); ok {
		f, err := os.OpenFile(w.cfg.Path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return exception.WriterFatalError(fmt.Sprintf("flat file writer '%s': failed to open '%s'", w.name, w.cfg.Path), err)
		}
		if err := f.Truncate(size); err != nil {
			f.Close()
			return exception.WriterFatalError(fmt.Sprintf("flat file writer '%s': failed to restore '%s' to %d bytes", w.name, w.cfg.Path, size), err)
		}
		w.file, w.size = f, size
		logger.Infof("FlatFileWriter '%s': resuming '%s' at %d bytes.", w.name, w.cfg.Path, size)
		return nil
	}

	f, err := os.Create(w.cfg.Path)
	if err != nil {
		return exception.WriterFatalError(fmt.Sprintf("flat file writer '%s': failed to create '%s'", w.name, w.cfg.Path), err)
	}
	w.file, w.size = f, 0
	if len(w.cfg.Header) > 0 {
		data, err := w.encode([][]string{w.cfg.Header})
		if err == nil {
			err = w.append(data)
		}
		if err != nil {
			return exception.WriterFatalError(fmt.Sprintf("flat file writer '%s': failed to write header", w.name), err)
		}
	}
	return nil
}

// Write formats the chunk. Items the aggregator cannot format are rejected.
func (w *FlatFileWriter[T]) Write(_ context.Context, t tx.Tx, items []T) error {
	records := make([][]string, 0, len(items))
	rejected := make(map[int]error)
	for i, it := range items {
		fields, err := w.agg(it)
		if err != nil {
			rejected[i] = exception.WriterRejectedError(fmt.Sprintf("flat file writer '%s': cannot format item", w.name), err)
			continue
		}
		records = append(records, fields)
	}
	if len(rejected) > 0 {
		return &port.RejectedItemsError{Rejected: rejected}
	}
	data, err := w.encode(records)
	if err != nil {
		return exception.WriterFatalError(fmt.Sprintf("flat file writer '%s': failed to encode chunk", w.name), err)
	}

	start := w.size
	t.BeforeCommit(func() error { return w.append(data) })
	t.AfterRollback(func() {
		if w.size == start {
			return
		}
		if err := w.file.Truncate(start); err != nil {
			logger.Errorf("FlatFileWriter '%s': failed to truncate '%s' after rollback: %v", w.name, w.cfg.Path, err)
			return
		}
		w.size = start
	})
	return nil
}

func (w *FlatFileWriter[T]) encode(records [][]string) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	cw.Comma = w.cfg.Delimiter
	if err := cw.WriteAll(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (w *FlatFileWriter[T]) append(data []byte) error {
	if w.file == nil {
		return fmt.Errorf("flat file writer '%s' is not open", w.name)
	}
	n, err := w.file.WriteAt(data, w.size)
	if err == nil {
		err = w.file.Sync()
	}
	if err != nil {
		_ = w.file.Truncate(w.size)
		return err
	}
	w.size += int64(n)
	return nil
}

// Checkpoint returns the committed size of the file.
func (w *FlatFileWriter[T]) Checkpoint() model.ExecutionContext {
	ec := model.NewExecutionContext()
	ec.Put(w.sizeKey(), w.size)
	return ec
}

// Close closes the file.
func (w *FlatFileWriter[T]) Close(context.Context) error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
