// Package app composes the product batch application.
package app

import (
	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/example/product/internal/schema"
	"github.com/tigerroll/chunkflow/example/product/internal/step"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/mysql"
	_ "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/postgres"
	_ "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/gcs"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/web"
	usecase "github.com/tigerroll/chunkflow/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	bootstrap "github.com/tigerroll/chunkflow/pkg/batch/core/config/bootstrap"
	"github.com/tigerroll/chunkflow/pkg/batch/core/job/runner"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/listener"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// OutputDatasource is the datasource holding the product tables.
const OutputDatasource = "output"

// Options builds the fx options of the application from its configuration
// and job definition files.
func Options(embeddedConfig config.EmbeddedConfig, jobDefinition []byte, envFilePath string) fx.Option {
	return fx.Options(
		fx.Supply(
			embeddedConfig,
			fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
		),
		logger.Module,
		config.Module,
		metrics.Module,
		gormadapter.Module,
		storage.Module,
		local.Module,
		gcs.Module,
		repository.Module,
		runner.Module,
		bootstrap.Module,
		usecase.Module,
		listener.Module,
		step.Module,
		web.Module,
		bootstrap.AsJobDefinition(jobDefinition),
		bootstrap.AsAppMigration(schema.Migration(OutputDatasource)),
	)
}
