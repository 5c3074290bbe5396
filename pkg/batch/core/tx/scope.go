package tx

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// WithinTransaction runs fn inside a transaction acquired from mgr. The
// transaction is committed when fn returns nil and rolled back on every other
// exit path, including a panic (which is re-raised after the rollback).
// The context passed to fn carries the transaction (see FromContext).
func WithinTransaction(ctx context.Context, mgr TransactionManager, fn func(ctx context.Context, t Tx) error, opts ...*sql.TxOptions) (err error) {
	t, err := mgr.Begin(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	done := false
	defer func() {
		if done {
			return
		}
		if r := recover(); r != nil {
			_ = mgr.Rollback(t)
			panic(r)
		}
	}()

	if fnErr := fn(WithTx(ctx, t), t); fnErr != nil {
		done = true
		if rbErr := mgr.Rollback(t); rbErr != nil {
			return multierror.Append(fnErr, fmt.Errorf("rollback failed: %w", rbErr))
		}
		return fnErr
	}
	done = true
	return mgr.Commit(t)
}
