// Package schema embeds the product tables' migrations.
package schema

import (
	"embed"

	bootstrap "github.com/tigerroll/chunkflow/pkg/batch/core/config/bootstrap"
)

//go:embed migrations
var migrations embed.FS

// Migration returns the product schema migrations for datasource.
func Migration(datasource string) bootstrap.AppMigration {
	return bootstrap.AppMigration{Datasource: datasource, FS: migrations, Dir: "migrations"}
}
