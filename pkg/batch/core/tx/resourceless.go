package tx

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
)

// ResourcelessTx is a transaction with no database behind it. Its callbacks still
// run on commit and rollback, which is what buffered file and in-memory sinks rely on.
type ResourcelessTx struct {
	Synchronizations
	id     int64
	closed atomic.Bool
}

// ExecuteUpdate always fails with ErrNoResource.
func (t *ResourcelessTx) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	return 0, ErrNoResource
}

// ExecuteUpsert always fails with ErrNoResource.
func (t *ResourcelessTx) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	return 0, ErrNoResource
}

// Exec always fails with ErrNoResource.
func (t *ResourcelessTx) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	return 0, ErrNoResource
}

// Savepoint is a no-op.
func (t *ResourcelessTx) Savepoint(name string) error { return nil }

// RollbackToSavepoint is a no-op.
func (t *ResourcelessTx) RollbackToSavepoint(name string) error { return nil }

// ResourcelessTransactionManager hands out ResourcelessTx values.
type ResourcelessTransactionManager struct {
	seq atomic.Int64
}

// NewResourcelessTransactionManager creates a manager for steps without a database sink.
func NewResourcelessTransactionManager() *ResourcelessTransactionManager {
	return &ResourcelessTransactionManager{}
}

// Begin implements TransactionManager.
func (m *ResourcelessTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error) {
	return &ResourcelessTx{id: m.seq.Add(1)}, nil
}

// Commit runs the before-commit callbacks. A failing callback rolls the transaction back.
func (m *ResourcelessTransactionManager) Commit(t Tx) error {
	rt, ok := t.(*ResourcelessTx)
	if !ok {
		return fmt.Errorf("unexpected transaction type %T", t)
	}
	if !rt.closed.CompareAndSwap(false, true) {
		return sql.ErrTxDone
	}
	if err := rt.TriggerBeforeCommit(); err != nil {
		rt.TriggerAfterRollback()
		return err
	}
	return nil
}

// Rollback runs the after-rollback callbacks.
func (m *ResourcelessTransactionManager) Rollback(t Tx) error {
	rt, ok := t.(*ResourcelessTx)
	if !ok {
		return fmt.Errorf("unexpected transaction type %T", t)
	}
	if !rt.closed.CompareAndSwap(false, true) {
		return sql.ErrTxDone
	}
	rt.TriggerAfterRollback()
	return nil
}
