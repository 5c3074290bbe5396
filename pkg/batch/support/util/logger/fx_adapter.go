package logger

import (
	"strings"

	"go.uber.org/fx/fxevent"
)

// FxLoggerAdapter forwards fx container events to the chunkflow logger.
// Successful wiring events are logged at DEBUG so that job output stays readable.
type FxLoggerAdapter struct{}

// NewFxLoggerAdapter returns an fxevent.Logger backed by this package.
func NewFxLoggerAdapter() fxevent.Logger {
	return &FxLoggerAdapter{}
}

// LogEvent implements fxevent.Logger.
func (l *FxLoggerAdapter) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuted:
		logHook("OnStart", e.FunctionName, e.Err)
	case *fxevent.OnStopExecuted:
		logHook("OnStop", e.FunctionName, e.Err)
	case *fxevent.Provided:
		if e.Err != nil {
			Errorf("fx: provide %s failed: %v", e.ConstructorName, e.Err)
			return
		}
		for _, t := range e.OutputTypeNames {
			Debugf("fx: provided %s", t)
		}
	case *fxevent.Invoked:
		if e.Err != nil {
			Errorf("fx: invoke %s failed: %v", e.FunctionName, e.Err)
		}
	case *fxevent.Stopping:
		Infof("fx: received %s, stopping", strings.ToUpper(e.Signal.String()))
	case *fxevent.RollingBack:
		Errorf("fx: start failed, rolling back: %v", e.StartErr)
	case *fxevent.Started:
		if e.Err != nil {
			Errorf("fx: start failed: %v", e.Err)
		} else {
			Infof("Application started.")
		}
	case *fxevent.LoggerInitialized:
		if e.Err != nil {
			Errorf("fx: logger initialization failed: %v", e.Err)
		}
	}
}

func logHook(kind, fn string, err error) {
	name := fn
	if idx := strings.LastIndex(fn, ".func"); idx != -1 {
		name = fn[:idx]
	}
	if err != nil {
		Errorf("fx: %s hook %s failed: %v", kind, name, err)
		return
	}
	Debugf("fx: %s hook %s executed", kind, name)
}
