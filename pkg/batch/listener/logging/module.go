package logging

import (
	"go.uber.org/fx"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	support "github.com/tigerroll/chunkflow/pkg/batch/core/config/support"
)

// ListenerName is the name job definitions use to reference the logging listener.
const ListenerName = "loggingListener"

func register(jf *support.JobFactory) {
	jf.RegisterListenerBuilder(ListenerName, func(_ *config.Config, properties map[string]string) (interface{}, error) {
		return NewListener(properties), nil
	})
}

// Module registers the logging listener with the JobFactory.
var Module = fx.Invoke(register)
