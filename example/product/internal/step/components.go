// Package step registers the product job's readers, processors and writers
// with the JobFactory under the names used in job definitions.
package step

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/example/product/internal/domain"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkflow/pkg/batch/component/step/processor"
	"github.com/tigerroll/chunkflow/pkg/batch/component/step/reader"
	"github.com/tigerroll/chunkflow/pkg/batch/component/step/writer"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	jsl "github.com/tigerroll/chunkflow/pkg/batch/core/config/jsl"
	support "github.com/tigerroll/chunkflow/pkg/batch/core/config/support"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// Component names.
const (
	ProductFileReader       = "productFileReader"
	ProductCursorReader     = "productCursorReader"
	ProductPagingReader     = "productPagingReader"
	ProductRepositoryReader = "productRepositoryReader"
	ProductValidator        = "productValidator"
	ProductCategoryFilter   = "productCategoryFilter"
	OSProductProcessor      = "osProductProcessor"
	ProductTableWriter      = "productTableWriter"
	ProductFileWriter       = "productFileWriter"
	ProductParquetWriter    = "productParquetWriter"
	OSProductWriter         = "osProductWriter"
)

const (
	defaultDatasource = "output"
	defaultPageSize   = 3
	productSelect     = "product_id, product_name, product_category, product_price"
	productSortKey    = "product_id"
)

// Params are the dependencies of Register.
type Params struct {
	fx.In
	Factory  *support.JobFactory
	DB       *gormadapter.GormDBProvider
	Resolver *storage.Resolver
}

type builders struct {
	db       *gormadapter.GormDBProvider
	resolver *storage.Resolver
	validate *validator.Validate
}

// Register adds every product component builder to the factory.
func Register(p Params) {
	b := &builders{
		db:       p.DB,
		resolver: p.Resolver,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for name, build := range map[string]jsl.ComponentBuilder{
		ProductFileReader:       b.fileReader,
		ProductCursorReader:     b.cursorReader,
		ProductPagingReader:     b.pagingReader,
		ProductRepositoryReader: b.repositoryReader,
		ProductValidator:        b.validation,
		ProductCategoryFilter:   b.categoryFilter,
		OSProductProcessor:      b.osProductProcessor,
		ProductTableWriter:      b.tableWriter,
		ProductFileWriter:       b.fileWriter,
		ProductParquetWriter:    b.parquetWriter,
		OSProductWriter:         b.osProductWriter,
	} {
		p.Factory.RegisterComponentBuilder(name, build)
	}
	logger.Debugf("Registered product job components.")
}

// Module registers the product components.
var Module = fx.Invoke(Register)

func (b *builders) fileReader(_ *config.Config, props map[string]string) (interface{}, error) {
	delim, err := delimiter(props["delimiter"])
	if err != nil {
		return nil, err
	}
	skip, err := intProperty(props, "linesToSkip", 1)
	if err != nil {
		return nil, err
	}
	r, err := reader.NewFlatFileReader[domain.Product](ProductFileReader, reader.FlatFileReaderConfig{
		Path:        props["path"],
		Delimiter:   delim,
		FieldNames:  domain.Fields,
		LinesToSkip: skip,
	}, domain.ParseProduct)
	if err != nil {
		return nil, err
	}
	return jsl.AnyReader[domain.Product](r), nil
}

func (b *builders) cursorReader(_ *config.Config, props map[string]string) (interface{}, error) {
	conn, err := b.db.Connection(datasource(props))
	if err != nil {
		return nil, err
	}
	db, err := conn.GetSQLDB()
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", productSelect, domain.Product{}.TableName(), productSortKey)
	r, err := reader.NewSQLCursorReader[domain.Product](db, ProductCursorReader, query, nil, scanProduct)
	if err != nil {
		return nil, err
	}
	return jsl.AnyReader[domain.Product](r), nil
}

func (b *builders) pagingReader(_ *config.Config, props map[string]string) (interface{}, error) {
	pageSize, err := intProperty(props, "pageSize", defaultPageSize)
	if err != nil {
		return nil, err
	}
	conn, err := b.db.Connection(datasource(props))
	if err != nil {
		return nil, err
	}
	db, err := conn.GetSQLDB()
	if err != nil {
		return nil, err
	}
	r, err := reader.NewSQLPagingReader[domain.Product](db, ProductPagingReader, reader.SQLPagingReaderConfig{
		SelectClause: productSelect,
		FromClause:   domain.Product{}.TableName(),
		SortKeys:     []string{productSortKey},
		PageSize:     pageSize,
		Placeholder:  reader.PlaceholderStyleFor(conn.Type()),
	}, scanProduct)
	if err != nil {
		return nil, err
	}
	return jsl.AnyReader[domain.Product](r), nil
}

func (b *builders) repositoryReader(_ *config.Config, props map[string]string) (interface{}, error) {
	pageSize, err := intProperty(props, "pageSize", defaultPageSize)
	if err != nil {
		return nil, err
	}
	conn, err := b.db.Connection(datasource(props))
	if err != nil {
		return nil, err
	}
	r, err := reader.NewRepositoryPagingReader[domain.Product](conn.GormDB(), ProductRepositoryReader, productSortKey, pageSize, nil)
	if err != nil {
		return nil, err
	}
	return jsl.AnyReader[domain.Product](r), nil
}

// validation reports products violating their tags as invalid, or drops them
// with mode "filter".
func (b *builders) validation(_ *config.Config, props map[string]string) (interface{}, error) {
	mode := processor.ModeInvalid
	switch props["mode"] {
	case "", "invalid":
	case "filter":
		mode = processor.ModeFilter
	default:
		return nil, fmt.Errorf("unknown validation mode %q", props["mode"])
	}
	return jsl.AnyProcessor[domain.Product, domain.Product](processor.NewStructValidator[domain.Product](b.validate, mode)), nil
}

// categoryFilter keeps the products of the comma separated categories property.
func (b *builders) categoryFilter(_ *config.Config, props map[string]string) (interface{}, error) {
	keep := make(map[string]bool)
	for _, c := range strings.Split(props["categories"], ",") {
		if c = strings.TrimSpace(c); c != "" {
			keep[c] = true
		}
	}
	if len(keep) == 0 {
		return nil, fmt.Errorf("%s: categories is required", ProductCategoryFilter)
	}
	return jsl.AnyProcessor(processor.Filter(func(p domain.Product) bool {
		return keep[p.ProductCategory]
	})), nil
}

func (b *builders) osProductProcessor(*config.Config, map[string]string) (interface{}, error) {
	return jsl.AnyProcessor(processor.Map(func(_ context.Context, p domain.Product) (domain.OSProduct, error) {
		return domain.ToOSProduct(p), nil
	})), nil
}

func (b *builders) tableWriter(_ *config.Config, props map[string]string) (interface{}, error) {
	conn, err := b.db.Connection(datasource(props))
	if err != nil {
		return nil, err
	}
	batchSize, err := intProperty(props, "batchSize", 0)
	if err != nil {
		return nil, err
	}
	w, err := writer.NewSQLBatchWriter[domain.Product](ProductTableWriter, writer.SQLBatchWriterConfig{
		Table:      domain.Product{}.TableName(),
		Columns:    domain.Columns,
		DBType:     conn.Type(),
		BatchSize:  batchSize,
		KeyColumns: []string{productSortKey},
	}, func(p domain.Product) ([]any, error) { return p.Values(), nil })
	if err != nil {
		return nil, err
	}
	return jsl.AnyWriter[domain.Product](w), nil
}

func (b *builders) fileWriter(_ *config.Config, props map[string]string) (interface{}, error) {
	delim, err := delimiter(props["delimiter"])
	if err != nil {
		return nil, err
	}
	w, err := writer.NewFlatFileWriter[domain.Product](ProductFileWriter, writer.FlatFileWriterConfig{
		Path:      props["path"],
		Delimiter: delim,
		Header:    domain.Fields,
	}, func(p domain.Product) ([]string, error) { return p.Record(), nil })
	if err != nil {
		return nil, err
	}
	return jsl.AnyWriter[domain.Product](w), nil
}

// parquetWriter partitions products by category: category=mobile_phones.
func (b *builders) parquetWriter(_ *config.Config, props map[string]string) (interface{}, error) {
	properties := make(map[string]interface{}, len(props))
	for k, v := range props {
		properties[k] = v
	}
	w, err := writer.NewParquetWriter[domain.Product](ProductParquetWriter, properties, b.resolver, func(p domain.Product) (string, error) {
		if p.ProductCategory == "" {
			return "", fmt.Errorf("product %d has no category", p.ProductID)
		}
		return "category=" + strings.ToLower(strings.ReplaceAll(p.ProductCategory, " ", "_")), nil
	})
	if err != nil {
		return nil, err
	}
	return jsl.AnyWriter[domain.Product](w), nil
}

func (b *builders) osProductWriter(_ *config.Config, props map[string]string) (interface{}, error) {
	batchSize, err := intProperty(props, "batchSize", 0)
	if err != nil {
		return nil, err
	}
	w := writer.NewRepositoryWriter[domain.OSProduct](OSProductWriter, writer.RepositoryWriterConfig{
		Table:           domain.OSProduct{}.TableName(),
		ConflictColumns: []string{productSortKey},
		UpdateColumns:   domain.OSColumns[1:],
		BatchSize:       batchSize,
	})
	return jsl.AnyWriter[domain.OSProduct](w), nil
}

func scanProduct(rows *sql.Rows) (domain.Product, error) {
	var p domain.Product
	err := rows.Scan(&p.ProductID, &p.ProductName, &p.ProductCategory, &p.ProductPrice)
	return p, err
}

func datasource(props map[string]string) string {
	if ds := props["datasource"]; ds != "" {
		return ds
	}
	return defaultDatasource
}

func delimiter(v string) (rune, error) {
	if v == "" {
		return 0, nil
	}
	if utf8.RuneCountInString(v) != 1 {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", v)
	}
	r, _ := utf8.DecodeRuneInString(v)
	return r, nil
}

func intProperty(props map[string]string, key string, def int) (int, error) {
	v, ok := props[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("property %s: %w", key, err)
	}
	return n, nil
}
