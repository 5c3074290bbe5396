package gorm

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

// TransactionManagerFactory creates chunk transaction managers for named datasources.
type TransactionManagerFactory struct {
	provider *GormDBProvider
}

// NewTransactionManagerFactory creates a factory backed by provider.
func NewTransactionManagerFactory(provider *GormDBProvider) *TransactionManagerFactory {
	return &TransactionManagerFactory{provider: provider}
}

// ForDatasource returns a manager running transactions on the named datasource.
func (f *TransactionManagerFactory) ForDatasource(name string) (tx.TransactionManager, error) {
	conn, err := f.provider.Connection(name)
	if err != nil {
		return nil, err
	}
	return NewGormTransactionManager(conn), nil
}

var _ tx.TransactionManagerFactory = (*TransactionManagerFactory)(nil)

func registerLifecycle(lc fx.Lifecycle, provider *GormDBProvider) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return provider.CloseAll()
		},
	})
}

// Module provides the gorm datasource provider and the transaction manager factory.
// Dialects are enabled by importing gorm/sqlite, gorm/mysql or gorm/postgres.
var Module = fx.Options(
	fx.Provide(NewGormDBProvider),
	fx.Provide(func(p *GormDBProvider) database.DBProvider { return p }),
	fx.Provide(NewTransactionManagerFactory),
	fx.Provide(func(f *TransactionManagerFactory) tx.TransactionManagerFactory { return f }),
	fx.Invoke(registerLifecycle),
)
