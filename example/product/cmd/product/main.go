// Command product loads the product details file into the output database
// and exports the loaded products. By default it serves the HTTP trigger;
// with -run it launches one job, waits for it and exits with its outcome.
package main

import (
	"context"
	_ "embed"
	"flag"
	"os"

	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/example/product/internal/app"
	usecase "github.com/tigerroll/chunkflow/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	incrementer "github.com/tigerroll/chunkflow/pkg/batch/core/support/incrementer"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

//go:embed resources/application.yaml
var embeddedConfig []byte

//go:embed resources/job.yaml
var embeddedJSL []byte

func main() {
	envFile := os.Getenv("ENV_FILE_PATH")
	if envFile == "" {
		envFile = ".env"
	}
	flag.StringVar(&envFile, "env", envFile, "path of the .env file")
	jobName := flag.String("run", "", "launch this job once and exit instead of serving HTTP")
	flag.Parse()

	options := []fx.Option{app.Options(config.EmbeddedConfig(embeddedConfig), embeddedJSL, envFile)}
	if *jobName != "" {
		if err := os.Setenv("CHUNKFLOW_SERVER_ENABLED", "false"); err != nil {
			logger.Fatalf("Failed to disable the HTTP trigger: %v", err)
		}
		options = append(options, runOnce(*jobName))
	}

	fxApp := fx.New(options...)
	fxApp.Run()
	if err := fxApp.Err(); err != nil {
		logger.Fatalf("Application run failed: %v", err)
	}
}

// runOnce launches jobName after startup and shuts the application down when
// the execution finishes. The exit code is 1 unless the job completed.
func runOnce(jobName string) fx.Option {
	return fx.Invoke(func(lc fx.Lifecycle, shutdowner fx.Shutdowner, launcher *usecase.SimpleJobLauncher, explorer usecase.JobExplorer) {
		ctx, cancel := context.WithCancel(context.Background())
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					code := 1
					defer func() {
						if r := recover(); r != nil {
							logger.Errorf("Panic recovered in job execution: %v", r)
						}
						if err := shutdowner.Shutdown(fx.ExitCode(code)); err != nil {
							logger.Errorf("Failed to shutdown application: %v", err)
						}
					}()

					params := incrementer.NewTimestampIncrementer(incrementer.StartAt, nil).Next(model.NewJobParameters())
					res, err := launcher.Launch(ctx, jobName, params)
					if err != nil || res.Status != usecase.Launched {
						logger.Errorf("Failed to launch job '%s': %s %v", jobName, res.Message, err)
						return
					}
					if err := launcher.Wait(ctx, res.Execution.ID); err != nil {
						logger.Warnf("Stopped waiting for job '%s' (Execution ID: %s): %v", jobName, res.Execution.ID, err)
						return
					}
					je, err := explorer.GetJobExecution(context.Background(), res.Execution.ID)
					if err != nil {
						logger.Errorf("Failed to fetch JobExecution %s: %v", res.Execution.ID, err)
						return
					}
					logger.Infof("Job '%s' (Execution ID: %s) finished with status: %s, ExitStatus: %s",
						jobName, je.ID, je.Status, je.ExitStatus)
					if je.Status == model.BatchStatusCompleted {
						code = 0
					}
				}()
				return nil
			},
			OnStop: func(context.Context) error {
				cancel()
				logger.Infof("Application is shutting down.")
				return nil
			},
		})
	})
}
