// Package tx abstracts the transactional scope that wraps every chunk write.
// A chunk's items are written through a Tx; the TransactionManager commits or
// rolls back the scope as a unit so that a failed chunk is never partially
// visible at the sink.
package tx

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

// ErrNoResource is returned by executors of a transaction that is not bound to a database.
var ErrNoResource = errors.New("transaction is not bound to a database resource")

// TxExecutor defines the write operations available inside a transaction.
type TxExecutor interface {
	// ExecuteUpdate performs a CREATE, UPDATE or DELETE of model on tableName.
	// query holds the column conditions for UPDATE and DELETE.
	ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error)

	// ExecuteUpsert inserts model, updating updateColumns when conflictColumns collide.
	// An empty updateColumns means DO NOTHING on conflict.
	ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error)

	// Exec runs a parameterized statement.
	Exec(ctx context.Context, query string, args ...interface{}) (rowsAffected int64, err error)
}

// Tx is an open transaction.
type Tx interface {
	TxExecutor

	// Savepoint creates a named savepoint.
	Savepoint(name string) error
	// RollbackToSavepoint undoes work done after the named savepoint.
	RollbackToSavepoint(name string) error

	// BeforeCommit registers fn to run right before the commit. An error aborts
	// the commit and the transaction is rolled back.
	BeforeCommit(fn func() error)
	// AfterRollback registers fn to run once the transaction has been rolled back.
	AfterRollback(fn func())
}

// TransactionManager manages the lifecycle of transactions.
type TransactionManager interface {
	Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error)
	Commit(tx Tx) error
	Rollback(tx Tx) error
}

// TransactionManagerFactory resolves the transaction manager of a named datasource.
type TransactionManagerFactory interface {
	ForDatasource(name string) (TransactionManager, error)
}

// Synchronizations stores commit and rollback callbacks. Tx implementations embed it.
type Synchronizations struct {
	mu            sync.Mutex
	beforeCommit  []func() error
	afterRollback []func()
}

// BeforeCommit implements Tx.
func (s *Synchronizations) BeforeCommit(fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeCommit = append(s.beforeCommit, fn)
}

// AfterRollback implements Tx.
func (s *Synchronizations) AfterRollback(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterRollback = append(s.afterRollback, fn)
}

// TriggerBeforeCommit runs the registered before-commit callbacks in order and
// stops at the first error.
func (s *Synchronizations) TriggerBeforeCommit() error {
	s.mu.Lock()
	fns := s.beforeCommit
	s.beforeCommit = nil
	s.mu.Unlock()
	for _, fn := range fns {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

// TriggerAfterRollback runs the registered rollback callbacks and clears both lists.
func (s *Synchronizations) TriggerAfterRollback() {
	s.mu.Lock()
	fns := s.afterRollback
	s.afterRollback = nil
	s.beforeCommit = nil
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type txKey struct{}

// WithTx returns a context carrying t, so repositories can join the current transaction.
func WithTx(ctx context.Context, t Tx) context.Context {
	return context.WithValue(ctx, txKey{}, t)
}

// FromContext returns the transaction stored by WithTx.
func FromContext(ctx context.Context) (Tx, bool) {
	t, ok := ctx.Value(txKey{}).(Tx)
	return t, ok && t != nil
}
