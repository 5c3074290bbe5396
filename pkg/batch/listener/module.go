// Package listener aggregates the execution listeners that can be referenced
// from job definitions.
package listener

import (
	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/pkg/batch/listener/logging"
)

// Module registers every listener builder with the JobFactory.
var Module = fx.Options(
	logging.Module,
)
