package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	usecase "github.com/tigerroll/chunkflow/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	batchmetrics "github.com/tigerroll/chunkflow/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ServerParams are the dependencies of the HTTP server.
type ServerParams struct {
	fx.In
	Lifecycle  fx.Lifecycle
	Config     *config.Config
	Launcher   usecase.JobLauncher
	Operator   usecase.JobOperator
	Explorer   usecase.JobExplorer
	Prometheus *batchmetrics.PrometheusRecorder `optional:"true"`
}

// NewServer creates the HTTP server and binds it to the application
// lifecycle. It returns nil when the server is disabled.
func NewServer(p ServerParams) *http.Server {
	serverCfg := p.Config.Chunkflow.Server
	if !serverCfg.Enabled {
		logger.Infof("HTTP server is disabled.")
		return nil
	}
	gin.SetMode(gin.ReleaseMode)

	var metricsHandler http.Handler
	if p.Prometheus != nil {
		metricsHandler = p.Prometheus.Handler()
	}
	srv := &http.Server{
		Addr:              serverCfg.Address,
		Handler:           NewRouter(NewHandler(p.Config, p.Launcher, p.Operator, p.Explorer), metricsHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			logger.Infof("HTTP server listening on %s.", ln.Addr())
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Errorf("HTTP server stopped: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			timeout := time.Duration(serverCfg.ShutdownTimeout) * time.Second
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			logger.Infof("Shutting down HTTP server.")
			return srv.Shutdown(ctx)
		},
	})
	return srv
}

// Module starts the HTTP server with the application.
var Module = fx.Options(
	fx.Provide(NewServer),
	fx.Invoke(func(*http.Server) {}),
)
