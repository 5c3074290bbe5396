package support

import (
	"go.uber.org/fx"
)

// Module provides the JobFactory.
var Module = fx.Options(
	fx.Provide(NewJobFactory),
)
