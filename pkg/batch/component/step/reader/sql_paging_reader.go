package reader

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// PlaceholderStyle is the bind parameter syntax of a database.
type PlaceholderStyle int

const (
	// QuestionPlaceholders is "?" (sqlite, mysql).
	QuestionPlaceholders PlaceholderStyle = iota
	// DollarPlaceholders is "$n" (postgres).
	DollarPlaceholders
)

// PlaceholderStyleFor returns the style of a datasource type.
func PlaceholderStyleFor(dbType string) PlaceholderStyle {
	if dbType == "postgres" {
		return DollarPlaceholders
	}
	return QuestionPlaceholders
}

// SQLPagingReaderConfig configures a SQLPagingReader.
type SQLPagingReaderConfig struct {
	SelectClause string
	FromClause   string
	// WhereClause is optional; its parameters are given in Args.
	WhereClause string
	// SortKeys must form a unique, stable order.
	SortKeys    []string
	PageSize    int
	Args        []any
	Placeholder PlaceholderStyle
}

// SQLPagingReader reads one page at a time with LIMIT/OFFSET over an explicit
// sort key. A failed page query is ReaderTransient: the read can be retried
// without losing position.
type SQLPagingReader[T any] struct {
	db     *sql.DB
	name   string
	cfg    SQLPagingReaderConfig
	query  string
	mapper RowMapper[T]

	page     []T
	pos      int
	count    int
	lastPage bool
}

var _ port.ItemReader[any] = (*SQLPagingReader[any])(nil)

// NewSQLPagingReader creates a paging reader. A sort key, a positive page size
// and the select and from clauses are required.
func NewSQLPagingReader[T any](db *sql.DB, name string, cfg SQLPagingReaderConfig, mapper RowMapper[T]) (*SQLPagingReader[T], error) {
	if len(cfg.SortKeys) == 0 {
		return nil, fmt.Errorf("sql paging reader '%s': a sort key is required", name)
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("sql paging reader '%s': page size must be positive, got %d", name, cfg.PageSize)
	}
	if cfg.SelectClause == "" || cfg.FromClause == "" {
		return nil, fmt.Errorf("sql paging reader '%s': select and from clauses are required", name)
	}
	return &SQLPagingReader[T]{db: db, name: name, cfg: cfg, query: pageQuery(cfg), mapper: mapper}, nil
}

func pageQuery(cfg SQLPagingReaderConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", cfg.SelectClause, cfg.FromClause)
	if cfg.WhereClause != "" {
		fmt.Fprintf(&b, " WHERE %s", cfg.WhereClause)
	}
	fmt.Fprintf(&b, " ORDER BY %s", strings.Join(cfg.SortKeys, ", "))
	if cfg.Placeholder == DollarPlaceholders {
		n := len(cfg.Args)
		fmt.Fprintf(&b, " LIMIT $%d OFFSET $%d", n+1, n+2)
	} else {
		b.WriteString(" LIMIT ? OFFSET ?")
	}
	return b.String()
}

// Open restores the read position. The first page is fetched lazily.
func (r *SQLPagingReader[T]) Open(_ context.Context, ec model.ExecutionContext) error {
	r.count, _ = ec.GetInt(readCountKey(r.name))
	r.page, r.pos, r.lastPage = nil, 0, false
	return nil
}

// Read returns the next row, querying a new page when the current one is used up.
func (r *SQLPagingReader[T]) Read(ctx context.Context) (T, error) {
	var zero T
	if r.pos >= len(r.page) {
		if r.lastPage {
			return zero, port.ErrEndOfData
		}
		if err := r.fetch(ctx); err != nil {
			return zero, err
		}
		if len(r.page) == 0 {
			return zero, port.ErrEndOfData
		}
	}
	item := r.page[r.pos]
	r.pos++
	r.count++
	return item, nil
}

func (r *SQLPagingReader[T]) fetch(ctx context.Context) error {
	args := append(append([]any{}, r.cfg.Args...), r.cfg.PageSize, r.count)
	rows, err := r.db.QueryContext(ctx, r.query, args...)
	if err != nil {
		return exception.ReaderTransientError(fmt.Sprintf("sql paging reader '%s': page query at offset %d failed", r.name, r.count), err)
	}
	defer rows.Close()

	page := make([]T, 0, r.cfg.PageSize)
	for rows.Next() {
		item, err := r.mapper(rows)
		if err != nil {
			return exception.ReaderFatalError(fmt.Sprintf("sql paging reader '%s': failed to map row %d", r.name, r.count+len(page)+1), err)
		}
		page = append(page, item)
	}
	if err := rows.Err(); err != nil {
		return exception.ReaderTransientError(fmt.Sprintf("sql paging reader '%s': page iteration at offset %d failed", r.name, r.count), err)
	}
	r.page, r.pos = page, 0
	r.lastPage = len(page) < r.cfg.PageSize
	return nil
}

// Checkpoint returns the number of rows read.
func (r *SQLPagingReader[T]) Checkpoint() model.ExecutionContext {
	ec := model.NewExecutionContext()
	ec.Put(readCountKey(r.name), r.count)
	return ec
}

// Close drops the buffered page.
func (r *SQLPagingReader[T]) Close(context.Context) error {
	r.page = nil
	return nil
}
