package writer

import (
	"context"
	"fmt"
	"strings"

	"github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ParameterSource returns the values of Columns for one item.
type ParameterSource[T any] func(item T) ([]any, error)

// SQLBatchWriterConfig configures a SQLBatchWriter.
type SQLBatchWriterConfig struct {
	Table   string
	Columns []string
	// DBType selects the placeholder syntax: "$n" for postgres, "?" otherwise.
	DBType string
	// BatchSize caps the rows of one INSERT statement; 0 writes the chunk in one statement.
	BatchSize int
	// KeyColumns turns the INSERT into an upsert: a row conflicting on these
	// columns updates the remaining ones.
	KeyColumns []string
}

// SQLBatchWriter writes a chunk with parameterized multi-row INSERT statements
// executed on the chunk's transaction. Sink errors are returned wrapped so that
// the skip and retry policies can match them by name.
type SQLBatchWriter[T any] struct {
	name   string
	cfg    SQLBatchWriterConfig
	params ParameterSource[T]
}

var _ port.ItemWriter[any] = (*SQLBatchWriter[any])(nil)

// NewSQLBatchWriter creates a writer. Table and Columns are required.
func NewSQLBatchWriter[T any](name string, cfg SQLBatchWriterConfig, params ParameterSource[T]) (*SQLBatchWriter[T], error) {
	if cfg.Table == "" || len(cfg.Columns) == 0 {
		return nil, fmt.Errorf("sql batch writer '%s': table and columns are required", name)
	}
	return &SQLBatchWriter[T]{name: name, cfg: cfg, params: params}, nil
}

// Open is a no-op.
func (w *SQLBatchWriter[T]) Open(context.Context, model.ExecutionContext) error { return nil }

// Write inserts the chunk through t. Items without valid parameters are rejected.
func (w *SQLBatchWriter[T]) Write(ctx context.Context, t tx.Tx, items []T) error {
	rows := make([][]any, 0, len(items))
	rejected := make(map[int]error)
	for i, it := range items {
		values, err := w.params(it)
		if err == nil && len(values) != len(w.cfg.Columns) {
			err = fmt.Errorf("got %d value(s) for %d column(s)", len(values), len(w.cfg.Columns))
		}
		if err != nil {
			rejected[i] = exception.WriterRejectedError(fmt.Sprintf("sql batch writer '%s': cannot bind item", w.name), err)
			continue
		}
		rows = append(rows, values)
	}
	if len(rejected) > 0 {
		return &port.RejectedItemsError{Rejected: rejected}
	}

	size := w.cfg.BatchSize
	if size <= 0 {
		size = len(rows)
	}
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		query, args := w.insert(rows[start:end])
		if _, err := t.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("sql batch writer '%s': insert of rows %d-%d into %s failed: %w", w.name, start, end-1, w.cfg.Table, err)
		}
	}
	logger.Debugf("SQLBatchWriter '%s': inserted %d row(s) into %s.", w.name, len(rows), w.cfg.Table)
	return nil
}

func (w *SQLBatchWriter[T]) insert(rows [][]any) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", w.cfg.Table, strings.Join(w.cfg.Columns, ", "))
	args := make([]any, 0, len(rows)*len(w.cfg.Columns))
	for r, row := range rows {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range row {
			if c > 0 {
				b.WriteString(", ")
			}
			if w.cfg.DBType == "postgres" {
				fmt.Fprintf(&b, "$%d", len(args)+1)
			} else {
				b.WriteByte('?')
			}
			args = append(args, row[c])
		}
		b.WriteByte(')')
	}
	b.WriteString(w.upsertClause())
	return b.String(), args
}

func (w *SQLBatchWriter[T]) upsertClause() string {
	if len(w.cfg.KeyColumns) == 0 {
		return ""
	}
	keys := make(map[string]bool, len(w.cfg.KeyColumns))
	for _, k := range w.cfg.KeyColumns {
		keys[k] = true
	}
	var sets []string
	for _, c := range w.cfg.Columns {
		if keys[c] {
			continue
		}
		if w.cfg.DBType == "mysql" {
			sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", c, c))
		} else {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	if w.cfg.DBType == "mysql" {
		if len(sets) == 0 {
			return fmt.Sprintf(" ON DUPLICATE KEY UPDATE %s = %s", w.cfg.KeyColumns[0], w.cfg.KeyColumns[0])
		}
		return " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}
	if len(sets) == 0 {
		return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(w.cfg.KeyColumns, ", "))
	}
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(w.cfg.KeyColumns, ", "), strings.Join(sets, ", "))
}

// Close is a no-op.
func (w *SQLBatchWriter[T]) Close(context.Context) error { return nil }
