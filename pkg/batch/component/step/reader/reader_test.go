package reader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

type product struct {
	ProductID   int64 `gorm:"primaryKey"`
	ProductName string
}

func (product) TableName() string { return "products" }

func scanProduct(rows *sql.Rows) (product, error) {
	var p product
	err := rows.Scan(&p.ProductID, &p.ProductName)
	return p, err
}

func readAll[T any](t *testing.T, r port.ItemReader[T], ec model.ExecutionContext) []T {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, r.Open(ctx, ec))
	defer r.Close(ctx)
	var out []T
	for {
		item, err := r.Read(ctx)
		if errors.Is(err, port.ErrEndOfData) {
			return out
		}
		require.NoError(t, err)
		out = append(out, item)
	}
}

func TestListReader_ResumesFromCheckpoint(t *testing.T) {
	r := NewListReader("list", []int{1, 2, 3, 4})
	ctx := context.Background()
	require.NoError(t, r.Open(ctx, model.NewExecutionContext()))
	_, _ = r.Read(ctx)
	_, _ = r.Read(ctx)
	cp := r.Checkpoint()

	assert.Equal(t, []int{3, 4}, readAll[int](t, NewListReader("list", []int{1, 2, 3, 4}), cp))
}

func TestFlatFileReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.csv")
	require.NoError(t, os.WriteFile(path, []byte("id;name\n1;Phone\n2;Tablet\n3;TV\n"), 0o644))
	mapper := func(f map[string]string) (product, error) {
		id, err := strconv.ParseInt(f["id"], 10, 64)
		return product{ProductID: id, ProductName: f["name"]}, err
	}
	cfg := FlatFileReaderConfig{Path: path, Delimiter: ';', FieldNames: []string{"id", "name"}, LinesToSkip: 1}

	r, err := NewFlatFileReader("csv", cfg, mapper)
	require.NoError(t, err)
	all := readAll[product](t, r, model.NewExecutionContext())
	require.Len(t, all, 3)
	assert.Equal(t, product{ProductID: 1, ProductName: "Phone"}, all[0])
	assert.EqualValues(t, 3, r.Checkpoint()[readCountKey("csv")])

	cp := model.NewExecutionContext()
	cp.Put(readCountKey("csv"), 2)
	r, err = NewFlatFileReader("csv", cfg, mapper)
	require.NoError(t, err)
	assert.Equal(t, []product{{ProductID: 3, ProductName: "TV"}}, readAll[product](t, r, cp))
}

func TestFlatFileReader_WrongFieldCountIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("1,Phone,extra\n"), 0o644))
	r, err := NewFlatFileReader("csv", FlatFileReaderConfig{Path: path, FieldNames: []string{"id", "name"}},
		func(map[string]string) (product, error) { return product{}, nil })
	require.NoError(t, err)
	require.NoError(t, r.Open(context.Background(), nil))
	defer r.Close(context.Background())

	_, err = r.Read(context.Background())
	assert.True(t, exception.IsKind(err, exception.ReaderFatal))
}

func TestSQLCursorReader_SkipsCommittedRowsOnRestart(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT product_id, product_name FROM products ORDER BY product_id").
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "product_name"}).
			AddRow(1, "a").AddRow(2, "b").AddRow(3, "c"))

	r, err := NewSQLCursorReader(db, "cursor", "SELECT product_id, product_name FROM products ORDER BY product_id", nil, scanProduct)
	require.NoError(t, err)
	cp := model.NewExecutionContext()
	cp.Put(readCountKey("cursor"), 1)

	got := readAll[product](t, r, cp)
	assert.Equal(t, []product{{2, "b"}, {3, "c"}}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLCursorReader_RequiresOrderBy(t *testing.T) {
	_, err := NewSQLCursorReader[product](nil, "cursor", "SELECT * FROM products", nil, scanProduct)
	assert.ErrorContains(t, err, "ORDER BY")
}

func newSQLiteProducts(t *testing.T, n int) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "products.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec("CREATE TABLE products (product_id INTEGER PRIMARY KEY, product_name TEXT)")
	require.NoError(t, err)
	// insert in reverse so that storage order differs from sort order
	for i := n; i >= 1; i-- {
		_, err := db.Exec("INSERT INTO products (product_id, product_name) VALUES (?, ?)", i, fmt.Sprintf("p%d", i))
		require.NoError(t, err)
	}
	return db
}

func TestSQLPagingReader_SameSequenceForAnyPageSize(t *testing.T) {
	db := newSQLiteProducts(t, 10)
	read := func(pageSize int) []product {
		r, err := NewSQLPagingReader(db, "paging", SQLPagingReaderConfig{
			SelectClause: "product_id, product_name",
			FromClause:   "products",
			SortKeys:     []string{"product_id"},
			PageSize:     pageSize,
		}, scanProduct)
		require.NoError(t, err)
		return readAll[product](t, r, model.NewExecutionContext())
	}
	three, four, all := read(3), read(4), read(10)
	require.Len(t, three, 10)
	assert.Equal(t, three, four)
	assert.Equal(t, three, all)
	assert.EqualValues(t, 1, three[0].ProductID)
}

func TestSQLPagingReader_RestartAndValidation(t *testing.T) {
	db := newSQLiteProducts(t, 5)
	cfg := SQLPagingReaderConfig{
		SelectClause: "product_id, product_name",
		FromClause:   "products",
		WhereClause:  "product_id > ?",
		Args:         []any{1},
		SortKeys:     []string{"product_id"},
		PageSize:     2,
	}
	r, err := NewSQLPagingReader(db, "paging", cfg, scanProduct)
	require.NoError(t, err)
	cp := model.NewExecutionContext()
	cp.Put(readCountKey("paging"), 2)
	got := readAll[product](t, r, cp)
	assert.Equal(t, []product{{4, "p4"}, {5, "p5"}}, got)

	cfg.SortKeys = nil
	_, err = NewSQLPagingReader(db, "paging", cfg, scanProduct)
	assert.ErrorContains(t, err, "sort key is required")
}

func TestSQLPagingReader_QueryFailureIsTransient(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT product_id, product_name FROM products ORDER BY product_id LIMIT \\$1 OFFSET \\$2").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectQuery("SELECT product_id, product_name FROM products ORDER BY product_id LIMIT \\$1 OFFSET \\$2").
		WithArgs(2, 0).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "product_name"}).AddRow(1, "a"))

	r, err := NewSQLPagingReader(db, "paging", SQLPagingReaderConfig{
		SelectClause: "product_id, product_name",
		FromClause:   "products",
		SortKeys:     []string{"product_id"},
		PageSize:     2,
		Placeholder:  PlaceholderStyleFor("postgres"),
	}, scanProduct)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, r.Open(ctx, nil))

	_, err = r.Read(ctx)
	require.True(t, exception.IsKind(err, exception.ReaderTransient))
	item, err := r.Read(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, item.ProductID)
	_, err = r.Read(ctx)
	assert.ErrorIs(t, err, port.ErrEndOfData)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryPagingReader(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "repo.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&product{}))
	for i := 7; i >= 1; i-- {
		require.NoError(t, db.Create(&product{ProductID: int64(i), ProductName: fmt.Sprintf("p%d", i)}).Error)
	}

	r, err := NewRepositoryPagingReader[product](db, "repo", "product_id ASC", 3, nil)
	require.NoError(t, err)
	all := readAll[product](t, r, model.NewExecutionContext())
	require.Len(t, all, 7)
	for i, p := range all {
		assert.EqualValues(t, i+1, p.ProductID)
	}

	cp := model.NewExecutionContext()
	cp.Put(readCountKey("repo"), 5)
	r, err = NewRepositoryPagingReader[product](db, "repo", "product_id ASC", 2, func(q *gorm.DB) *gorm.DB {
		return q.Where("product_id <> ?", 2)
	})
	require.NoError(t, err)
	rest := readAll[product](t, r, cp)
	assert.Equal(t, []product{{7, "p7"}}, rest)

	_, err = NewRepositoryPagingReader[product](db, "repo", "", 2, nil)
	assert.Error(t, err)
}
