package tx_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

func TestWithinTransaction_CommitRunsBeforeCommitHooks(t *testing.T) {
	mgr := tx.NewResourcelessTransactionManager()
	var flushed, rolledBack bool

	err := tx.WithinTransaction(context.Background(), mgr, func(ctx context.Context, txn tx.Tx) error {
		current, ok := tx.FromContext(ctx)
		assert.True(t, ok)
		assert.Same(t, current, txn)
		txn.BeforeCommit(func() error { flushed = true; return nil })
		txn.AfterRollback(func() { rolledBack = true })
		return nil
	})

	require.NoError(t, err)
	assert.True(t, flushed)
	assert.False(t, rolledBack)
}

func TestWithinTransaction_ErrorRollsBack(t *testing.T) {
	mgr := tx.NewResourcelessTransactionManager()
	boom := errors.New("boom")
	var flushed, rolledBack bool

	err := tx.WithinTransaction(context.Background(), mgr, func(ctx context.Context, txn tx.Tx) error {
		txn.BeforeCommit(func() error { flushed = true; return nil })
		txn.AfterRollback(func() { rolledBack = true })
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.False(t, flushed)
	assert.True(t, rolledBack)
}

func TestWithinTransaction_FailingHookRollsBack(t *testing.T) {
	mgr := tx.NewResourcelessTransactionManager()
	hookErr := errors.New("flush failed")
	var rolledBack bool

	err := tx.WithinTransaction(context.Background(), mgr, func(ctx context.Context, txn tx.Tx) error {
		txn.BeforeCommit(func() error { return hookErr })
		txn.AfterRollback(func() { rolledBack = true })
		return nil
	})

	assert.ErrorIs(t, err, hookErr)
	assert.True(t, rolledBack)
}

func TestWithinTransaction_PanicRollsBackAndRepanics(t *testing.T) {
	mgr := tx.NewResourcelessTransactionManager()
	var rolledBack bool

	assert.Panics(t, func() {
		_ = tx.WithinTransaction(context.Background(), mgr, func(ctx context.Context, txn tx.Tx) error {
			txn.AfterRollback(func() { rolledBack = true })
			panic("writer exploded")
		})
	})
	assert.True(t, rolledBack)
}

func TestResourcelessTx_DoubleCommit(t *testing.T) {
	mgr := tx.NewResourcelessTransactionManager()
	tr, err := mgr.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, mgr.Commit(tr))
	assert.Error(t, mgr.Commit(tr))

	_, err = tr.Exec(context.Background(), "INSERT INTO t VALUES (1)")
	assert.ErrorIs(t, err, tx.ErrNoResource)
}
