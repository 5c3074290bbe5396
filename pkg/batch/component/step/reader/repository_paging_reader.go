package reader

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// RepositoryPagingReader pages through a gorm model ordered by Sort.
type RepositoryPagingReader[T any] struct {
	db       *gorm.DB
	name     string
	sort     string
	pageSize int
	scope    func(*gorm.DB) *gorm.DB

	page     []T
	pos      int
	count    int
	lastPage bool
}

var _ port.ItemReader[any] = (*RepositoryPagingReader[any])(nil)

// NewRepositoryPagingReader creates a reader. sort is a gorm order expression
// such as "product_id ASC" and must define a stable order. scope, if not nil,
// narrows the query.
func NewRepositoryPagingReader[T any](db *gorm.DB, name, sort string, pageSize int, scope func(*gorm.DB) *gorm.DB) (*RepositoryPagingReader[T], error) {
	if sort == "" {
		return nil, fmt.Errorf("repository reader '%s': a sort is required", name)
	}
	if pageSize <= 0 {
		return nil, fmt.Errorf("repository reader '%s': page size must be positive, got %d", name, pageSize)
	}
	return &RepositoryPagingReader[T]{db: db, name: name, sort: sort, pageSize: pageSize, scope: scope}, nil
}

// Open restores the read position. The first page is fetched lazily.
func (r *RepositoryPagingReader[T]) Open(_ context.Context, ec model.ExecutionContext) error {
	r.count, _ = ec.GetInt(readCountKey(r.name))
	r.page, r.pos, r.lastPage = nil, 0, false
	return nil
}

// Read returns the next model, fetching a new page when the current one is used up.
func (r *RepositoryPagingReader[T]) Read(ctx context.Context) (T, error) {
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

func (r *RepositoryPagingReader[T]) fetch(ctx context.Context) error {
	page := make([]T, 0, r.pageSize)
	q := gormadapter.ApplyTableName(r.db.WithContext(ctx), &page)
	if r.scope != nil {
		q = r.scope(q)
	}
	if err := q.Order(r.sort).Limit(r.pageSize).Offset(r.count).Find(&page).Error; err != nil {
		return exception.ReaderTransientError(fmt.Sprintf("repository reader '%s': page at offset %d failed", r.name, r.count), err)
	}
	r.page, r.pos = page, 0
	r.lastPage = len(page) < r.pageSize
	return nil
}

// Checkpoint returns the number of models read.
func (r *RepositoryPagingReader[T]) Checkpoint() model.ExecutionContext {
	ec := model.NewExecutionContext()
	ec.Put(readCountKey(r.name), r.count)
	return ec
}

// Close drops the buffered page.
func (r *RepositoryPagingReader[T]) Close(context.Context) error {
	r.page = nil
	return nil
}
