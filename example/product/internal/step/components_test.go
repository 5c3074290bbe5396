package step

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/example/product/internal/domain"
	"github.com/tigerroll/chunkflow/example/product/internal/schema"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	localstorage "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/core/config/bootstrap"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

func newBuilders(t *testing.T) (*builders, *gormadapter.GormDBProvider) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewConfig()
	cfg.Chunkflow.Datasources["output"] = map[string]interface{}{
		"type":     "sqlite",
		"database": filepath.Join(dir, "products.db"),
		"pool":     map[string]interface{}{"max_open_conns": "1"},
	}
	cfg.Chunkflow.Storage["exports"] = map[string]interface{}{"type": "local", "base_dir": filepath.Join(dir, "exports")}

	provider := gormadapter.NewGormDBProvider(cfg)
	t.Cleanup(func() { _ = provider.CloseAll() })
	resolver := storage.NewResolver(cfg, []storage.Provider{localstorage.NewProvider()})
	t.Cleanup(func() { _ = resolver.CloseAll() })
	require.NoError(t, bootstrap.RunAppMigrations(context.Background(), provider, []bootstrap.AppMigration{schema.Migration("output")}))

	return &builders{db: provider, resolver: resolver, validate: validator.New()}, provider
}

func readAll(t *testing.T, c interface{}) []any {
	t.Helper()
	r, ok := c.(port.ItemReader[any])
	require.True(t, ok, "%T is not a reader", c)
	ctx := context.Background()
	require.NoError(t, r.Open(ctx, model.NewExecutionContext()))
	defer r.Close(ctx)
	var items []any
	for {
		item, err := r.Read(ctx)
		if errors.Is(err, port.ErrEndOfData) {
			return items
		}
		require.NoError(t, err)
		items = append(items, item)
	}
}

func write(t *testing.T, mgr tx.TransactionManager, c interface{}, items ...any) {
	t.Helper()
	w, ok := c.(port.ItemWriter[any])
	require.True(t, ok, "%T is not a writer", c)
	ctx := context.Background()
	require.NoError(t, w.Open(ctx, model.NewExecutionContext()))
	defer w.Close(ctx)
	require.NoError(t, tx.WithinTransaction(ctx, mgr, func(ctx context.Context, txn tx.Tx) error {
		return w.Write(ctx, txn, items)
	}))
}

var products = []domain.Product{
	{ProductID: 1, ProductName: "Apple iPhone 15", ProductCategory: domain.CategoryMobilePhones, ProductPrice: 79900},
	{ProductID: 2, ProductName: "Samsung Galaxy Tab S9", ProductCategory: domain.CategoryTablets, ProductPrice: 72999},
	{ProductID: 4, ProductName: "Yonex Badminton Racket", ProductCategory: domain.CategorySportsAccessories, ProductPrice: 2499},
}

func asAny[T any](items []T) []any {
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out
}

func TestFileReader(t *testing.T) {
	b, _ := newBuilders(t)
	path := filepath.Join(t.TempDir(), "products.csv")
	require.NoError(t, os.WriteFile(path, []byte("product_id;product_name;product_category;product_price\n"+
		"1;Apple iPhone 15;Mobile Phones;79900\n"+
		"2;Samsung Galaxy Tab S9;Tablets;72999\n"), 0o644))

	c, err := b.fileReader(nil, map[string]string{"path": path, "delimiter": ";"})
	require.NoError(t, err)
	assert.Equal(t, asAny(products[:2]), readAll(t, c))
}

func TestBuilders_RejectBadProperties(t *testing.T) {
	b, _ := newBuilders(t)

	_, err := b.fileReader(nil, map[string]string{"path": "x.csv", "delimiter": "||"})
	assert.ErrorContains(t, err, "single character")
	_, err = b.fileReader(nil, map[string]string{"path": "x.csv", "linesToSkip": "one"})
	assert.ErrorContains(t, err, "linesToSkip")
	_, err = b.fileReader(nil, map[string]string{})
	assert.ErrorContains(t, err, "path is required")
	_, err = b.validation(nil, map[string]string{"mode": "strict"})
	assert.ErrorContains(t, err, "strict")
	_, err = b.pagingReader(nil, map[string]string{"pageSize": "0"})
	assert.Error(t, err)
	_, err = b.cursorReader(nil, map[string]string{"datasource": "missing"})
	assert.Error(t, err)
	_, err = b.parquetWriter(nil, map[string]string{"outputBaseDir": "products"})
	assert.ErrorContains(t, err, "storageRef")
}

func TestValidation(t *testing.T) {
	b, _ := newBuilders(t)
	ctx := context.Background()
	tooExpensive := domain.Product{ProductID: 3, ProductName: "Sony Bravia 55", ProductCategory: domain.CategoryTelevisions, ProductPrice: 200000}
	unknownCategory := domain.Product{ProductID: 6, ProductName: "Cricket Helmet", ProductCategory: "Sports Gear", ProductPrice: 1899}

	c, err := b.validation(nil, nil)
	require.NoError(t, err)
	p := c.(port.ItemProcessor[any, any])

	res, err := p.Process(ctx, products[0])
	require.NoError(t, err)
	assert.Equal(t, port.OutcomeProcessed, res.Outcome)

	res, err = p.Process(ctx, tooExpensive)
	require.NoError(t, err)
	assert.Equal(t, port.OutcomeInvalid, res.Outcome)
	assert.Contains(t, res.Reason, "ProductPrice")

	res, err = p.Process(ctx, unknownCategory)
	require.NoError(t, err)
	assert.Equal(t, port.OutcomeInvalid, res.Outcome)
	assert.Contains(t, res.Reason, "ProductCategory")

	c, err = b.validation(nil, map[string]string{"mode": "filter"})
	require.NoError(t, err)
	res, err = c.(port.ItemProcessor[any, any]).Process(ctx, tooExpensive)
	require.NoError(t, err)
	assert.Equal(t, port.OutcomeFiltered, res.Outcome)
}

func TestCategoryFilter(t *testing.T) {
	b, _ := newBuilders(t)
	_, err := b.categoryFilter(nil, map[string]string{"categories": " , "})
	assert.ErrorContains(t, err, "categories is required")

	c, err := b.categoryFilter(nil, map[string]string{"categories": "Tablets, Sports Accessories"})
	require.NoError(t, err)
	p := c.(port.ItemProcessor[any, any])
	var kept []any
	for _, it := range products {
		res, err := p.Process(context.Background(), it)
		require.NoError(t, err)
		if res.Outcome == port.OutcomeProcessed {
			kept = append(kept, res.Item)
		}
	}
	assert.Equal(t, asAny(products[1:]), kept)
}

func TestTableWriterAndReaders(t *testing.T) {
	b, provider := newBuilders(t)
	conn, err := provider.Connection("output")
	require.NoError(t, err)
	mgr := gormadapter.NewGormTransactionManager(conn)

	w, err := b.tableWriter(nil, map[string]string{"batchSize": "2"})
	require.NoError(t, err)
	write(t, mgr, w, asAny(products)...)

	// A second load of the same products updates them in place.
	renamed := products[0]
	renamed.ProductName = "Apple iPhone 15 Pro"
	write(t, mgr, w, renamed)
	want := append([]domain.Product{renamed}, products[1:]...)

	for name, build := range map[string]func(*config.Config, map[string]string) (interface{}, error){
		ProductCursorReader:     b.cursorReader,
		ProductPagingReader:     b.pagingReader,
		ProductRepositoryReader: b.repositoryReader,
	} {
		c, err := build(nil, map[string]string{"pageSize": "2"})
		require.NoError(t, err, name)
		assert.Equal(t, asAny(want), readAll(t, c), name)
	}
}

func TestOSProductProcessorAndWriter(t *testing.T) {
	b, provider := newBuilders(t)
	conn, err := provider.Connection("output")
	require.NoError(t, err)
	mgr := gormadapter.NewGormTransactionManager(conn)

	c, err := b.osProductProcessor(nil, nil)
	require.NoError(t, err)
	var items []any
	for _, p := range products {
		res, err := c.(port.ItemProcessor[any, any]).Process(context.Background(), p)
		require.NoError(t, err)
		items = append(items, res.Item)
	}

	w, err := b.osProductWriter(nil, nil)
	require.NoError(t, err)
	write(t, mgr, w, items...)
	write(t, mgr, w, items[2])

	var stored []domain.OSProduct
	require.NoError(t, conn.GormDB().Order("product_id").Find(&stored).Error)
	require.Len(t, stored, 3)
	assert.Equal(t, "YON-000004", stored[2].Sku)
	assert.Equal(t, 12, stored[2].TaxPercent)
	assert.Equal(t, products[0], stored[0].Product)
}

func TestFileAndParquetWriters(t *testing.T) {
	b, _ := newBuilders(t)
	out := filepath.Join(t.TempDir(), "products.csv")
	mgr := tx.NewResourcelessTransactionManager()

	c, err := b.fileWriter(nil, map[string]string{"path": out})
	require.NoError(t, err)
	write(t, mgr, c, asAny(products[:1])...)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "product_id,product_name,product_category,product_price\n1,Apple iPhone 15,Mobile Phones,79900\n", string(data))

	c, err = b.parquetWriter(nil, map[string]string{"storageRef": "exports", "outputBaseDir": "products"})
	require.NoError(t, err)
	write(t, mgr, c, asAny(products)...)

	var files []string
	conn, err := b.resolver.Resolve(context.Background(), "exports")
	require.NoError(t, err)
	require.NoError(t, conn.ListObjects(context.Background(), conn.Bucket(), "products/", func(name string) error {
		files = append(files, name)
		return nil
	}))
	assert.ElementsMatch(t, []string{
		"products/category=mobile_phones/productParquetWriter-000001.parquet",
		"products/category=sports_accessories/productParquetWriter-000001.parquet",
		"products/category=tablets/productParquetWriter-000001.parquet",
	}, files)
}
