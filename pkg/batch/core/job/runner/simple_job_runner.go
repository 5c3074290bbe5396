package runner

import (
	"context"
	"fmt"
	"runtime/debug"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// SimpleJobRunner calls the job's Run method and repairs the JobExecution if
// the job returned without recording a terminal status or panicked.
type SimpleJobRunner struct {
	jobRepository repository.JobRepository
}

// NewSimpleJobRunner creates a SimpleJobRunner.
func NewSimpleJobRunner(repo repository.JobRepository) *SimpleJobRunner {
	return &SimpleJobRunner{jobRepository: repo}
}

// Run executes job. It blocks until the job has finished.
func (r *SimpleJobRunner) Run(ctx context.Context, job port.Job, jobExecution *model.JobExecution) {
	panicked, err := r.runRecovered(ctx, job, jobExecution)

	if jobExecution.Status.IsFinished() && !panicked {
		return
	}
	switch {
	case jobExecution.Status.IsFinished():
	case err != nil:
		_ = jobExecution.MarkAsFailed(err)
	case jobExecution.Status == model.BatchStatusStarting:
		_ = jobExecution.MarkAsFailed(fmt.Errorf("job '%s' never started", job.JobName()))
	default:
		_ = jobExecution.MarkAsCompleted()
	}
	if updateErr := r.jobRepository.UpdateJobExecution(context.WithoutCancel(ctx), jobExecution); updateErr != nil {
		logger.Errorf("JobRunner: failed to update final JobExecution (ID: %s) state: %v", jobExecution.ID, updateErr)
	}
}

func (r *SimpleJobRunner) runRecovered(ctx context.Context, job port.Job, jobExecution *model.JobExecution) (panicked bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			panicked = true
			logger.Errorf("JobRunner: job '%s' (Execution ID: %s) panicked: %v\n%s", job.JobName(), jobExecution.ID, rec, debug.Stack())
			err = fmt.Errorf("panic: %v", rec)
			if !jobExecution.Status.IsFinished() {
				_ = jobExecution.MarkAsFailed(err)
			}
		}
	}()
	return false, job.Run(ctx, jobExecution)
}

var _ port.JobRunner = (*SimpleJobRunner)(nil)
