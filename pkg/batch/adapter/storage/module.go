package storage

import (
	"context"

	"go.uber.org/fx"

	coreconfig "github.com/tigerroll/chunkflow/pkg/batch/core/config"
)

// ProviderGroup is the fx value group storage providers are registered in.
const ProviderGroup = `group:"storage_providers"`

type resolverParams struct {
	fx.In
	Config    *coreconfig.Config
	Providers []Provider `group:"storage_providers"`
}

// Module provides the storage Resolver. Provider modules (local, gcs) add
// themselves to ProviderGroup.
var Module = fx.Options(
	fx.Provide(func(p resolverParams) *Resolver { return NewResolver(p.Config, p.Providers) }),
	fx.Invoke(func(lc fx.Lifecycle, r *Resolver) {
		lc.Append(fx.Hook{OnStop: func(context.Context) error { return r.CloseAll() }})
	}),
)
