package gorm_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/sqlite"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

type product struct {
	ID   int64 `gorm:"primaryKey"`
	Name string
}

func (product) TableName() string { return "products" }

func newConnection(t *testing.T) *gormadapter.GormDBAdapter {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Chunkflow.Datasources["main"] = map[string]interface{}{
		"type":     "sqlite",
		"database": filepath.Join(t.TempDir(), "test.db"),
		"pool":     map[string]interface{}{"max_open_conns": "1"},
	}
	provider := gormadapter.NewGormDBProvider(cfg)
	t.Cleanup(func() { _ = provider.CloseAll() })

	conn, err := provider.Connection("main")
	require.NoError(t, err)
	require.NoError(t, conn.GormDB().AutoMigrate(&product{}))

	again, err := provider.GetConnection("main")
	require.NoError(t, err)
	assert.Same(t, conn, again)
	return conn
}

func countProducts(t *testing.T, conn *gormadapter.GormDBAdapter) int64 {
	var n int64
	require.NoError(t, conn.GormDB().Model(&product{}).Count(&n).Error)
	return n
}

func TestGormTransactionManager_CommitRunsHooks(t *testing.T) {
	conn := newConnection(t)
	mgr := gormadapter.NewGormTransactionManager(conn)
	var flushed bool

	err := tx.WithinTransaction(context.Background(), mgr, func(ctx context.Context, txn tx.Tx) error {
		txn.BeforeCommit(func() error { flushed = true; return nil })
		_, err := txn.ExecuteUpdate(ctx, &product{ID: 1, Name: "apple"}, "CREATE", "", nil)
		if err != nil {
			return err
		}
		// Reads through the connection inside the scope join the transaction.
		var n int64
		require.NoError(t, conn.DB(ctx).Model(&product{}).Count(&n).Error)
		assert.Equal(t, int64(1), n)
		return nil
	})

	require.NoError(t, err)
	assert.True(t, flushed)
	assert.Equal(t, int64(1), countProducts(t, conn))
}

func TestGormTransactionManager_RollbackDiscardsWrites(t *testing.T) {
	conn := newConnection(t)
	mgr := gormadapter.NewGormTransactionManager(conn)
	var flushed, rolledBack bool

	err := tx.WithinTransaction(context.Background(), mgr, func(ctx context.Context, txn tx.Tx) error {
		txn.BeforeCommit(func() error { flushed = true; return nil })
		txn.AfterRollback(func() { rolledBack = true })
		if _, err := txn.Exec(ctx, "INSERT INTO products (id, name) VALUES (?, ?)", 1, "apple"); err != nil {
			return err
		}
		return errors.New("chunk failed")
	})

	require.EqualError(t, err, "chunk failed")
	assert.False(t, flushed)
	assert.True(t, rolledBack)
	assert.Equal(t, int64(0), countProducts(t, conn))
}

func TestGormTransactionManager_FailingHookRollsBack(t *testing.T) {
	conn := newConnection(t)
	mgr := gormadapter.NewGormTransactionManager(conn)

	txn, err := mgr.Begin(context.Background(), nil)
	require.NoError(t, err)
	_, err = txn.ExecuteUpsert(context.Background(), &product{ID: 1, Name: "apple"}, "", []string{"id"}, []string{"name"})
	require.NoError(t, err)
	txn.BeforeCommit(func() error { return errors.New("flush failed") })

	require.EqualError(t, mgr.Commit(txn), "flush failed")
	assert.Equal(t, int64(0), countProducts(t, conn))
	assert.Error(t, mgr.Rollback(txn))
}

func TestIsTableNotExistError(t *testing.T) {
	conn := newConnection(t)
	err := conn.GormDB().Exec("SELECT * FROM missing").Error
	require.Error(t, err)
	assert.True(t, conn.IsTableNotExistError(err))
	assert.False(t, gormadapter.IsTableNotExistError(errors.New("syntax error")))
}

func TestGormDBProvider_UnknownDatasource(t *testing.T) {
	provider := gormadapter.NewGormDBProvider(config.NewConfig())
	_, err := provider.GetConnection("nope")
	assert.Error(t, err)
}
