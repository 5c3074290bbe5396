package usecase

import (
	"context"

	"go.uber.org/fx"

	support "github.com/tigerroll/chunkflow/pkg/batch/core/config/support"
)

// Module provides the JobLauncher, JobOperator and JobExplorer. Live
// executions are asked to stop when the application stops.
var Module = fx.Options(
	fx.Provide(
		func(f *support.JobFactory) JobLocator { return f },
		NewSimpleJobLauncher,
		func(l *SimpleJobLauncher) JobLauncher { return l },
		fx.Annotate(NewDefaultJobOperator, fx.As(new(JobOperator))),
		fx.Annotate(NewSimpleJobExplorer, fx.As(new(JobExplorer))),
	),
	fx.Invoke(func(lc fx.Lifecycle, l *SimpleJobLauncher) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error { return l.Shutdown(ctx) },
		})
	}),
)
