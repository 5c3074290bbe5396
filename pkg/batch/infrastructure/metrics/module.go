package metrics

import (
	"context"

	"go.uber.org/fx"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
)

// Observability is what NewObservability provides. Prometheus is nil when disabled.
type Observability struct {
	fx.Out
	Recorder   metrics.MetricRecorder
	Tracer     metrics.Tracer
	Prometheus *PrometheusRecorder
}

// NewObservability builds the recorders and tracer enabled in cfg.Chunkflow.Metrics.
// Without any, the no-op implementations are provided.
func NewObservability(lc fx.Lifecycle, cfg *config.Config) (Observability, error) {
	out := Observability{Tracer: metrics.NewNoOpTracer()}
	var recorders metrics.Multi

	if cfg.Chunkflow.Metrics.Prometheus.Enabled {
		out.Prometheus = NewPrometheusRecorder()
		recorders = append(recorders, out.Prometheus)
	}

	if otelCfg := cfg.Chunkflow.Metrics.OTel; otelCfg.Enabled {
		providers, err := NewOTelProviders(context.Background(), otelCfg)
		if err != nil {
			return out, err
		}
		lc.Append(fx.Hook{OnStop: providers.Shutdown})

		recorder, err := NewOTelRecorder(providers.Meter)
		if err != nil {
			return out, err
		}
		recorders = append(recorders, recorder)
		out.Tracer = NewOpenTelemetryTracer(providers.Tracer)
	}

	switch len(recorders) {
	case 0:
		out.Recorder = metrics.NewNoOpMetricRecorder()
	case 1:
		out.Recorder = recorders[0]
	default:
		out.Recorder = recorders
	}
	return out, nil
}

// Module provides metrics.MetricRecorder, metrics.Tracer and *PrometheusRecorder.
var Module = fx.Provide(NewObservability)
