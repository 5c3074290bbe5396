package writer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	localstorage "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

type row struct {
	ID    int64  `gorm:"primaryKey" parquet:"name=id, type=INT64"`
	Name  string `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Day   string `gorm:"-" parquet:"name=day, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price int64  `parquet:"name=price, type=INT64"`
}

func (row) TableName() string { return "rows" }

var errRollback = errors.New("rollback")

// chunk writes items in one transaction; commit false rolls it back.
func chunk[T any](t *testing.T, mgr tx.TransactionManager, w port.ItemWriter[T], items []T, commit bool) error {
	t.Helper()
	err := tx.WithinTransaction(context.Background(), mgr, func(ctx context.Context, txn tx.Tx) error {
		if err := w.Write(ctx, txn, items); err != nil {
			return err
		}
		if !commit {
			return errRollback
		}
		return nil
	})
	if !commit {
		require.ErrorIs(t, err, errRollback)
		return nil
	}
	return err
}

func csvLine(r row) ([]string, error) {
	if r.Name == "" {
		return nil, errors.New("name is empty")
	}
	return []string{r.Name, r.Day}, nil
}

func TestFlatFileWriter_CommitRollbackRestart(t *testing.T) {
	ctx := context.Background()
	mgr := tx.NewResourcelessTransactionManager()
	path := filepath.Join(t.TempDir(), "out.csv")
	cfg := FlatFileWriterConfig{Path: path, Delimiter: ';', Header: []string{"name", "day"}}

	w, err := NewFlatFileWriter[row]("csvOut", cfg, csvLine)
	require.NoError(t, err)
	require.NoError(t, w.Open(ctx, model.NewExecutionContext()))
	require.NoError(t, chunk[row](t, mgr, w, []row{{Name: "a", Day: "mon"}, {Name: "b", Day: "tue"}}, true))
	require.NoError(t, chunk[row](t, mgr, w, []row{{Name: "lost", Day: "wed"}}, false))
	checkpoint := w.Checkpoint()
	require.NoError(t, chunk[row](t, mgr, w, []row{{Name: "c", Day: "thu"}}, true))
	require.NoError(t, w.Close(ctx))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "name;day\na;mon\nb;tue\nc;thu\n", string(data))

	restarted, err := NewFlatFileWriter[row]("csvOut", cfg, csvLine)
	require.NoError(t, err)
	require.NoError(t, restarted.Open(ctx, checkpoint))
	require.NoError(t, chunk[row](t, mgr, restarted, []row{{Name: "c2", Day: "thu"}}, true))
	require.NoError(t, restarted.Close(ctx))

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "name;day\na;mon\nb;tue\nc2;thu\n", string(data))
}

func TestFlatFileWriter_RejectsUnformattableItems(t *testing.T) {
	ctx := context.Background()
	w, err := NewFlatFileWriter[row]("csvOut", FlatFileWriterConfig{Path: filepath.Join(t.TempDir(), "out.csv")}, csvLine)
	require.NoError(t, err)
	require.NoError(t, w.Open(ctx, nil))
	defer w.Close(ctx)

	err = chunk[row](t, tx.NewResourcelessTransactionManager(), w, []row{{Name: "a"}, {}, {Name: "c"}}, true)
	var rejected *port.RejectedItemsError
	require.ErrorAs(t, err, &rejected)
	require.Len(t, rejected.Rejected, 1)
	assert.True(t, exception.IsKind(rejected.Rejected[1], exception.WriterRejected))
	n, _ := w.Checkpoint().GetInt64("csvOut.written.bytes")
	assert.Zero(t, n)
}

type recordingTx struct {
	tx.Synchronizations
	queries []string
	args    [][]interface{}
}

func (r *recordingTx) ExecuteUpdate(context.Context, interface{}, string, string, map[string]interface{}) (int64, error) {
	return 0, tx.ErrNoResource
}

func (r *recordingTx) ExecuteUpsert(context.Context, interface{}, string, []string, []string) (int64, error) {
	return 0, tx.ErrNoResource
}

func (r *recordingTx) Exec(_ context.Context, query string, args ...interface{}) (int64, error) {
	r.queries = append(r.queries, query)
	r.args = append(r.args, args)
	return int64(len(args) / 2), nil
}

func (r *recordingTx) Savepoint(string) error           { return nil }
func (r *recordingTx) RollbackToSavepoint(string) error { return nil }

func rowParams(r row) ([]any, error) { return []any{r.ID, r.Name}, nil }

func TestSQLBatchWriter_BuildsBatchedInserts(t *testing.T) {
	w, err := NewSQLBatchWriter[row]("dbOut", SQLBatchWriterConfig{
		Table: "rows", Columns: []string{"id", "name"}, DBType: "postgres", BatchSize: 2,
	}, rowParams)
	require.NoError(t, err)

	rec := &recordingTx{}
	require.NoError(t, w.Write(context.Background(), rec, []row{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}, {ID: 3, Name: "c"}}))

	assert.Equal(t, []string{
		"INSERT INTO rows (id, name) VALUES ($1, $2), ($3, $4)",
		"INSERT INTO rows (id, name) VALUES ($1, $2)",
	}, rec.queries)
	assert.Equal(t, []interface{}{int64(3), "c"}, rec.args[1])

	_, err = NewSQLBatchWriter[row]("dbOut", SQLBatchWriterConfig{Table: "rows"}, rowParams)
	assert.Error(t, err)
}

func TestSQLBatchWriter_UpsertClause(t *testing.T) {
	for dbType, want := range map[string]string{
		"postgres": "INSERT INTO rows (id, name) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET name = excluded.name",
		"sqlite":   "INSERT INTO rows (id, name) VALUES (?, ?) ON CONFLICT (id) DO UPDATE SET name = excluded.name",
		"mysql":    "INSERT INTO rows (id, name) VALUES (?, ?) ON DUPLICATE KEY UPDATE name = VALUES(name)",
	} {
		w, err := NewSQLBatchWriter[row]("dbOut", SQLBatchWriterConfig{
			Table: "rows", Columns: []string{"id", "name"}, DBType: dbType, KeyColumns: []string{"id"},
		}, rowParams)
		require.NoError(t, err)
		rec := &recordingTx{}
		require.NoError(t, w.Write(context.Background(), rec, []row{{ID: 1, Name: "a"}}))
		assert.Equal(t, []string{want}, rec.queries, dbType)
	}
}

func TestSQLBatchWriter_UpsertRewritesExistingRows(t *testing.T) {
	conn := newDB(t)
	mgr := gormadapter.NewGormTransactionManager(conn)
	w, err := NewSQLBatchWriter[row]("dbOut", SQLBatchWriterConfig{
		Table: "rows", Columns: []string{"id", "name", "price"}, DBType: "sqlite", KeyColumns: []string{"id"},
	}, func(r row) ([]any, error) { return []any{r.ID, r.Name, r.Price}, nil })
	require.NoError(t, err)

	chunk(t, mgr, w, []row{{ID: 1, Name: "a", Price: 1}, {ID: 2, Name: "b", Price: 2}}, true)
	chunk(t, mgr, w, []row{{ID: 2, Name: "b2", Price: 20}}, true)

	assert.EqualValues(t, 2, countRows(t, conn))
	var got row
	require.NoError(t, conn.GormDB().First(&got, 2).Error)
	assert.Equal(t, "b2", got.Name)
	assert.EqualValues(t, 20, got.Price)
}

func newDB(t *testing.T) *gormadapter.GormDBAdapter {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Chunkflow.Datasources["main"] = map[string]interface{}{
		"type":     "sqlite",
		"database": filepath.Join(t.TempDir(), "writer.db"),
		"pool":     map[string]interface{}{"max_open_conns": "1"},
	}
	provider := gormadapter.NewGormDBProvider(cfg)
	t.Cleanup(func() { _ = provider.CloseAll() })
	conn, err := provider.Connection("main")
	require.NoError(t, err)
	require.NoError(t, conn.GormDB().AutoMigrate(&row{}))
	return conn
}

func countRows(t *testing.T, conn *gormadapter.GormDBAdapter) int64 {
	var n int64
	require.NoError(t, conn.GormDB().Model(&row{}).Count(&n).Error)
	return n
}

func TestSQLBatchWriter_ChunkIsAtomic(t *testing.T) {
	conn := newDB(t)
	mgr := gormadapter.NewGormTransactionManager(conn)
	w, err := NewSQLBatchWriter[row]("dbOut", SQLBatchWriterConfig{Table: "rows", Columns: []string{"id", "name"}, BatchSize: 2}, rowParams)
	require.NoError(t, err)

	require.NoError(t, chunk[row](t, mgr, w, []row{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}, true))
	err = chunk[row](t, mgr, w, []row{{ID: 3, Name: "c"}, {ID: 4, Name: "d"}, {ID: 1, Name: "dup"}}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNIQUE constraint failed")
	assert.Equal(t, exception.KindUnknown, exception.KindOf(err))
	assert.EqualValues(t, 2, countRows(t, conn))
}

func TestRepositoryWriter_CreateAndUpsert(t *testing.T) {
	conn := newDB(t)
	mgr := gormadapter.NewGormTransactionManager(conn)

	create := NewRepositoryWriter[row]("repoOut", RepositoryWriterConfig{BatchSize: 2})
	require.NoError(t, chunk[row](t, mgr, create, []row{{ID: 1, Name: "a", Price: 10}, {ID: 2, Name: "b"}, {ID: 3, Name: "c"}}, true))
	assert.EqualValues(t, 3, countRows(t, conn))

	require.NoError(t, chunk[row](t, mgr, create, []row{{ID: 4, Name: "d"}}, false))
	assert.EqualValues(t, 3, countRows(t, conn))

	upsert := NewRepositoryWriter[row]("repoOut", RepositoryWriterConfig{ConflictColumns: []string{"id"}, UpdateColumns: []string{"price"}})
	require.NoError(t, chunk[row](t, mgr, upsert, []row{{ID: 1, Name: "ignored", Price: 99}, {ID: 5, Name: "e"}}, true))

	var first row
	require.NoError(t, conn.GormDB().First(&first, 1).Error)
	assert.Equal(t, "a", first.Name)
	assert.EqualValues(t, 99, first.Price)
	assert.EqualValues(t, 4, countRows(t, conn))
}

func newParquetWriter(t *testing.T, baseDir string) *ParquetWriter[row] {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Chunkflow.Storage["exports"] = map[string]interface{}{"type": "local", "base_dir": baseDir}
	resolver := storage.NewResolver(cfg, []storage.Provider{localstorage.NewProvider()})
	t.Cleanup(func() { _ = resolver.CloseAll() })

	w, err := NewParquetWriter[row]("parquetOut", map[string]interface{}{
		"storageRef":    "exports",
		"outputBaseDir": "rows",
	}, resolver, func(r row) (string, error) {
		if r.Day == "" {
			return "", errors.New("no day")
		}
		return "dt=" + r.Day, nil
	})
	require.NoError(t, err)
	return w
}

func readParquet(t *testing.T, path string) []row {
	t.Helper()
	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(row), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	rows := make([]row, int(pr.GetNumRows()))
	require.NoError(t, pr.Read(&rows))
	return rows
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	var files []string
	require.NoError(t, filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(dir, p)
		files = append(files, filepath.ToSlash(rel))
		return nil
	}))
	return files
}

func TestParquetWriter_UploadsCommittedChunksPerPartition(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	mgr := tx.NewResourcelessTransactionManager()

	w := newParquetWriter(t, base)
	require.NoError(t, w.Open(ctx, model.NewExecutionContext()))
	require.NoError(t, chunk[row](t, mgr, w, []row{
		{ID: 1, Name: "a", Day: "2024-01-01", Price: 100},
		{ID: 2, Name: "b", Day: "2024-01-02", Price: 200},
		{ID: 3, Name: "c", Day: "2024-01-01", Price: 300},
	}, true))
	require.NoError(t, chunk[row](t, mgr, w, []row{{ID: 4, Name: "d", Day: "2024-01-03"}}, false))
	require.NoError(t, w.Close(ctx))

	assert.ElementsMatch(t, []string{
		"rows/dt=2024-01-01/parquetOut-000001.parquet",
		"rows/dt=2024-01-02/parquetOut-000001.parquet",
	}, listFiles(t, base))
	seq, _ := w.Checkpoint().GetInt64("parquetOut.written.files")
	assert.EqualValues(t, 1, seq)

	rows := readParquet(t, filepath.Join(base, "rows", "dt=2024-01-01", "parquetOut-000001.parquet"))
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].Name)
	assert.EqualValues(t, 300, rows[1].Price)
}

func TestParquetWriter_RestartOverwritesUncommittedChunk(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	mgr := tx.NewResourcelessTransactionManager()

	w := newParquetWriter(t, base)
	require.NoError(t, w.Open(ctx, model.NewExecutionContext()))
	require.NoError(t, chunk[row](t, mgr, w, []row{{ID: 1, Name: "a", Day: "d1"}}, true))
	checkpoint := w.Checkpoint()
	require.NoError(t, chunk[row](t, mgr, w, []row{{ID: 2, Name: "orphan", Day: "d1"}}, true))

	restarted := newParquetWriter(t, base)
	require.NoError(t, restarted.Open(ctx, checkpoint))
	require.NoError(t, chunk[row](t, mgr, restarted, []row{{ID: 2, Name: "b", Day: "d1"}}, true))

	assert.Len(t, listFiles(t, base), 2)
	rows := readParquet(t, filepath.Join(base, "rows", "dt=d1", "parquetOut-000002.parquet"))
	require.Len(t, rows, 1)
	assert.Equal(t, "b", rows[0].Name)
}

func TestParquetWriter_RejectsItemsWithoutPartition(t *testing.T) {
	w := newParquetWriter(t, t.TempDir())
	require.NoError(t, w.Open(context.Background(), nil))

	err := chunk[row](t, tx.NewResourcelessTransactionManager(), w, []row{{ID: 1, Day: "d"}, {ID: 2}}, true)
	var rejected *port.RejectedItemsError
	require.ErrorAs(t, err, &rejected)
	assert.Contains(t, rejected.Rejected, 1)
	assert.True(t, strings.Contains(rejected.Error(), "no day"))

	_, err = NewParquetWriter[row]("p", map[string]interface{}{"storageRef": "x", "outputBaseDir": "y", "compressionType": "LZ4"}, nil, nil)
	assert.Error(t, err)
}
