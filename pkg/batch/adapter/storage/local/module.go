package local

import (
	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
)

// Module registers the local storage provider.
var Module = fx.Provide(fx.Annotate(
	NewProvider,
	fx.As(new(storage.Provider)),
	fx.ResultTags(storage.ProviderGroup),
))
