package reader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// FieldSetMapper maps the named fields of one record to an item.
type FieldSetMapper[T any] func(fields map[string]string) (T, error)

// FlatFileReaderConfig configures a FlatFileReader.
type FlatFileReaderConfig struct {
	Path string
	// Delimiter defaults to ','.
	Delimiter rune
	// FieldNames is the declared field order of every record.
	FieldNames []string
	// LinesToSkip header lines are discarded before the first record.
	LinesToSkip int
}

// FlatFileReader reads delimited records. A record with a field count other
// than len(FieldNames) is a ReaderFatal error.
type FlatFileReader[T any] struct {
	name   string
	cfg    FlatFileReaderConfig
	mapper FieldSetMapper[T]

	file  *os.File
	csv   *csv.Reader
	count int
}

var _ port.ItemReader[any] = (*FlatFileReader[any])(nil)

// NewFlatFileReader creates a reader. Path and FieldNames are required.
func NewFlatFileReader[T any](name string, cfg FlatFileReaderConfig, mapper FieldSetMapper[T]) (*FlatFileReader[T], error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("flat file reader '%s': path is required", name)
	}
	if len(cfg.FieldNames) == 0 {
		return nil, fmt.Errorf("flat file reader '%s': field names are required", name)
	}
	if cfg.Delimiter == 0 {
		cfg.Delimiter = ','
	}
	return &FlatFileReader[T]{name: name, cfg: cfg, mapper: mapper}, nil
}

// Open skips the header lines and, on restart, the records already read.
func (r *FlatFileReader[T]) Open(_ context.Context, ec model.ExecutionContext) error {
	f, err := os.Open(r.cfg.Path)
	if err != nil {
		return exception.ReaderFatalError(fmt.Sprintf("flat file reader '%s': failed to open '%s'", r.name, r.cfg.Path), err)
	}
	r.file = f
	r.csv = csv.NewReader(f)
	r.csv.Comma = r.cfg.Delimiter
	r.csv.FieldsPerRecord = -1
	r.csv.ReuseRecord = true

	for i := 0; i < r.cfg.LinesToSkip; i++ {
		if _, err := r.csv.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return exception.ReaderFatalError(fmt.Sprintf("flat file reader '%s': failed to skip header", r.name), err)
		}
	}

	resume, _ := ec.GetInt(readCountKey(r.name))
	r.count = 0
	for r.count < resume {
		if _, err := r.csv.Read(); err != nil {
			return exception.ReaderFatalError(fmt.Sprintf("flat file reader '%s': file is shorter than checkpoint %d", r.name, resume), err)
		}
		r.count++
	}
	if resume > 0 {
		logger.Infof("FlatFileReader '%s': resuming after %d record(s).", r.name, resume)
	}
	return nil
}

// Read parses the next record. The end of the file is port.ErrEndOfData.
func (r *FlatFileReader[T]) Read(_ context.Context) (T, error) {
	var zero T
	if r.csv == nil {
		return zero, exception.ReaderFatalError(fmt.Sprintf("flat file reader '%s' is not open", r.name), nil)
	}
	record, err := r.csv.Read()
	if errors.Is(err, io.EOF) {
		return zero, port.ErrEndOfData
	}
	if err != nil {
		return zero, exception.ReaderFatalError(fmt.Sprintf("flat file reader '%s': malformed record %d", r.name, r.count+1), err)
	}
	r.count++
	if len(record) != len(r.cfg.FieldNames) {
		return zero, exception.ReaderFatalError(fmt.Sprintf("flat file reader '%s': record %d has %d field(s), expected %d",
			r.name, r.count, len(record), len(r.cfg.FieldNames)), nil)
	}
	fields := make(map[string]string, len(record))
	for i, name := range r.cfg.FieldNames {
		fields[name] = record[i]
	}
	item, err := r.mapper(fields)
	if err != nil {
		return zero, exception.ReaderFatalError(fmt.Sprintf("flat file reader '%s': failed to map record %d", r.name, r.count), err)
	}
	return item, nil
}

// Checkpoint returns the number of records read.
func (r *FlatFileReader[T]) Checkpoint() model.ExecutionContext {
	ec := model.NewExecutionContext()
	ec.Put(readCountKey(r.name), r.count)
	return ec
}

// Close closes the file.
func (r *FlatFileReader[T]) Close(context.Context) error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file, r.csv = nil, nil
	return err
}
