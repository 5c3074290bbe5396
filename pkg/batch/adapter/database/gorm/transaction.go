package gorm

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

// GormTxAdapter implements tx.Tx over a gorm transaction.
type GormTxAdapter struct {
	tx.Synchronizations
	db     *gorm.DB
	conn   *GormDBAdapter
	closed atomic.Bool
}

// GormDB returns the transaction's *gorm.DB.
func (t *GormTxAdapter) GormDB() *gorm.DB {
	return t.db
}

// ExecuteUpdate implements tx.TxExecutor.
func (t *GormTxAdapter) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error) {
	db := t.db.WithContext(ctx)
	if tableName != "" {
		db = db.Table(tableName)
	}

	var result *gorm.DB
	switch operation {
	case "CREATE":
		result = db.Create(model)
	case "UPDATE":
		result = db.Model(model).Where(query).Updates(model)
	case "DELETE":
		if query != nil {
			db = db.Where(query)
		}
		result = db.Delete(model)
	default:
		return 0, fmt.Errorf("unsupported update operation: %s", operation)
	}

	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ExecuteUpsert implements tx.TxExecutor.
func (t *GormTxAdapter) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error) {
	db := t.db.WithContext(ctx)
	if tableName != "" {
		db = db.Table(tableName)
	}

	var columns []clause.Column
	for _, col := range conflictColumns {
		columns = append(columns, clause.Column{Name: col})
	}
	onConflict := clause.OnConflict{Columns: columns}
	if len(updateColumns) > 0 {
		onConflict.DoUpdates = clause.AssignmentColumns(updateColumns)
	} else {
		onConflict.DoNothing = true
	}

	result := db.Clauses(onConflict).Create(model)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// Exec implements tx.TxExecutor.
func (t *GormTxAdapter) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	result := t.db.WithContext(ctx).Exec(query, args...)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// Savepoint implements tx.Tx.
func (t *GormTxAdapter) Savepoint(name string) error {
	return t.db.SavePoint(name).Error
}

// RollbackToSavepoint implements tx.Tx.
func (t *GormTxAdapter) RollbackToSavepoint(name string) error {
	return t.db.RollbackTo(name).Error
}

// GormTransactionManager implements tx.TransactionManager for one connection.
type GormTransactionManager struct {
	conn *GormDBAdapter
}

// NewGormTransactionManager creates a manager whose transactions run on conn.
func NewGormTransactionManager(conn *GormDBAdapter) *GormTransactionManager {
	return &GormTransactionManager{conn: conn}
}

// Begin implements tx.TransactionManager.
func (m *GormTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	var txOpts *sql.TxOptions
	if len(opts) > 0 && opts[0] != nil {
		txOpts = opts[0]
	}
	gormTx := m.conn.db.WithContext(ctx).Begin(txOpts)
	if gormTx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction on '%s': %w", m.conn.name, gormTx.Error)
	}
	return &GormTxAdapter{db: gormTx, conn: m.conn}, nil
}

// Commit runs the before-commit callbacks and commits. A failing callback
// rolls the transaction back instead.
func (m *GormTransactionManager) Commit(t tx.Tx) error {
	gtx, err := m.adapter(t)
	if err != nil {
		return err
	}
	if !gtx.closed.CompareAndSwap(false, true) {
		return sql.ErrTxDone
	}
	if err := gtx.TriggerBeforeCommit(); err != nil {
		rbErr := gtx.db.Rollback().Error
		gtx.TriggerAfterRollback()
		if rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := gtx.db.Commit().Error; err != nil {
		gtx.TriggerAfterRollback()
		return err
	}
	return nil
}

// Rollback implements tx.TransactionManager.
func (m *GormTransactionManager) Rollback(t tx.Tx) error {
	gtx, err := m.adapter(t)
	if err != nil {
		return err
	}
	if !gtx.closed.CompareAndSwap(false, true) {
		return sql.ErrTxDone
	}
	err = gtx.db.Rollback().Error
	gtx.TriggerAfterRollback()
	return err
}

func (m *GormTransactionManager) adapter(t tx.Tx) (*GormTxAdapter, error) {
	gtx, ok := t.(*GormTxAdapter)
	if !ok {
		return nil, fmt.Errorf("invalid transaction type: expected *GormTxAdapter, got %T", t)
	}
	if gtx.conn != m.conn {
		return nil, fmt.Errorf("transaction belongs to connection '%s', not '%s'", gtx.conn.name, m.conn.name)
	}
	return gtx, nil
}

// TxDB returns the *gorm.DB of t when t is a gorm transaction.
func TxDB(t tx.Tx) (*gorm.DB, bool) {
	gtx, ok := t.(*GormTxAdapter)
	if !ok {
		return nil, false
	}
	return gtx.db, true
}
