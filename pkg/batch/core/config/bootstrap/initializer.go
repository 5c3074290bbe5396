// Package bootstrap loads job definitions and applies application schema
// migrations when the fx application starts.
package bootstrap

import (
	"go.uber.org/fx"

	jsl "github.com/tigerroll/chunkflow/pkg/batch/core/config/jsl"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// DefinitionFiles collects job definition files contributed to the
// "jobDefinitions" value group.
type DefinitionFiles struct {
	fx.In
	Files []jsl.JSLDefinitionBytes `group:"jobDefinitions"`
}

// NewDefinitions parses every contributed job definition file.
func NewDefinitions(p DefinitionFiles) (*jsl.Definitions, error) {
	defs := jsl.NewDefinitions()
	for _, data := range p.Files {
		if _, err := defs.LoadFromBytes(data); err != nil {
			return nil, err
		}
	}
	logger.Infof("Job definition loading completed. Number of jobs loaded: %d", len(defs.Names()))
	return defs, nil
}

// AsJobDefinition contributes data to the "jobDefinitions" group.
func AsJobDefinition(data []byte) fx.Option {
	return fx.Supply(fx.Annotate(jsl.JSLDefinitionBytes(data), fx.ResultTags(`group:"jobDefinitions"`)))
}
