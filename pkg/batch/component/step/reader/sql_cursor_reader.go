package reader

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

var orderByPattern = regexp.MustCompile(`(?i)\border\s+by\b`)

// RowMapper maps the current row to an item.
type RowMapper[T any] func(rows *sql.Rows) (T, error)

// SQLCursorReader streams the rows of one query. The query must be ordered by
// a unique key so that a restart can skip the rows already read.
type SQLCursorReader[T any] struct {
	db     *sql.DB
	name   string
	query  string
	args   []any
	mapper RowMapper[T]

	rows  *sql.Rows
	count int
}

var _ port.ItemReader[any] = (*SQLCursorReader[any])(nil)

// NewSQLCursorReader creates a cursor reader. A query without ORDER BY is rejected.
func NewSQLCursorReader[T any](db *sql.DB, name, query string, args []any, mapper RowMapper[T]) (*SQLCursorReader[T], error) {
	if !orderByPattern.MatchString(query) {
		return nil, fmt.Errorf("sql cursor reader '%s': query must have an ORDER BY clause", name)
	}
	return &SQLCursorReader[T]{db: db, name: name, query: query, args: args, mapper: mapper}, nil
}

// Open runs the query and skips the rows read before the checkpoint.
func (r *SQLCursorReader[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	rows, err := r.db.QueryContext(ctx, r.query, r.args...)
	if err != nil {
		return exception.ReaderFatalError(fmt.Sprintf("sql cursor reader '%s': query failed", r.name), err)
	}
	r.rows = rows
	r.count = 0

	resume, _ := ec.GetInt(readCountKey(r.name))
	for r.count < resume {
		if !rows.Next() {
			return exception.ReaderFatalError(fmt.Sprintf("sql cursor reader '%s': result is shorter than checkpoint %d", r.name, resume), rows.Err())
		}
		r.count++
	}
	logger.Debugf("SQLCursorReader '%s' opened at row %d.", r.name, r.count)
	return nil
}

// Read maps the next row. A row or mapping error is ReaderFatal.
func (r *SQLCursorReader[T]) Read(_ context.Context) (T, error) {
	var zero T
	if r.rows == nil {
		return zero, exception.ReaderFatalError(fmt.Sprintf("sql cursor reader '%s' is not open", r.name), nil)
	}
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return zero, exception.ReaderFatalError(fmt.Sprintf("sql cursor reader '%s': row iteration failed", r.name), err)
		}
		return zero, port.ErrEndOfData
	}
	item, err := r.mapper(r.rows)
	if err != nil {
		return zero, exception.ReaderFatalError(fmt.Sprintf("sql cursor reader '%s': failed to map row %d", r.name, r.count+1), err)
	}
	r.count++
	return item, nil
}

// Checkpoint returns the number of rows read.
func (r *SQLCursorReader[T]) Checkpoint() model.ExecutionContext {
	ec := model.NewExecutionContext()
	ec.Put(readCountKey(r.name), r.count)
	return ec
}

// Close closes the cursor.
func (r *SQLCursorReader[T]) Close(context.Context) error {
	if r.rows == nil {
		return nil
	}
	err := r.rows.Close()
	r.rows = nil
	if err != nil {
		return exception.NewBatchError("reader", fmt.Sprintf("sql cursor reader '%s': failed to close rows", r.name), err, false, false)
	}
	return nil
}
