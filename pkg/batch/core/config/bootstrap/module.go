package bootstrap

import (
	"context"
	"fmt"
	"io/fs"

	"go.uber.org/fx"

	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database/migration"
	"github.com/tigerroll/chunkflow/pkg/batch/core/config/support"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/factory"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// AppMigration is a set of application schema migrations for one datasource.
// Scripts are read from Dir, or from Dir/<database type> when that exists.
type AppMigration struct {
	Datasource string
	FS         fs.FS
	Dir        string
}

// AsAppMigration contributes m to the "appMigrations" group.
func AsAppMigration(m AppMigration) fx.Option {
	return fx.Supply(fx.Annotate(m, fx.ResultTags(`group:"appMigrations"`)))
}

// Module provides job definitions, the step factory and the job factory, and
// applies contributed application migrations on start.
var Module = fx.Options(
	fx.Provide(NewDefinitions),
	factory.Module,
	support.Module,
	fx.Invoke(runAppMigrationsHook),
)

// RunAppMigrationsHookParams are the dependencies of runAppMigrationsHook.
type RunAppMigrationsHookParams struct {
	fx.In
	Lifecycle  fx.Lifecycle
	Migrations []AppMigration              `group:"appMigrations"`
	DBProvider *gormadapter.GormDBProvider `optional:"true"`
}

func runAppMigrationsHook(p RunAppMigrationsHookParams) {
	if len(p.Migrations) == 0 {
		return
	}
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return RunAppMigrations(ctx, p.DBProvider, p.Migrations)
		},
	})
}

// RunAppMigrations applies each migration set to its datasource, tracked in the
// application migrations table.
func RunAppMigrations(ctx context.Context, provider *gormadapter.GormDBProvider, migrations []AppMigration) error {
	if provider == nil {
		return fmt.Errorf("application migrations require a database provider")
	}
	for _, m := range migrations {
		conn, err := provider.GetConnection(m.Datasource)
		if err != nil {
			return fmt.Errorf("application migrations for '%s': %w", m.Datasource, err)
		}
		logger.Infof("Running application migrations for datasource '%s'.", m.Datasource)
		if err := migration.NewMigrator(conn).Up(ctx, m.FS, m.Dir, migration.AppMigrationsTable); err != nil {
			return fmt.Errorf("application migrations for '%s': %w", m.Datasource, err)
		}
	}
	return nil
}
