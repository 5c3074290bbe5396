package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// liveExecution is an execution running in this process.
type liveExecution struct {
	execution *model.JobExecution
	cancel    context.CancelFunc
	done      chan struct{}
}

// SimpleJobLauncher launches jobs in this process, synchronously or on their own goroutine.
type SimpleJobLauncher struct {
	jobRepository   repository.JobRepository
	jobLocator      JobLocator
	jobRunner       port.JobRunner
	sync            bool
	allowConcurrent bool

	// serializes the running check with the creation of the execution
	launchMu sync.Mutex

	mu   sync.Mutex
	live map[string]*liveExecution
}

// NewSimpleJobLauncher creates a launcher configured by chunkflow.batch.
func NewSimpleJobLauncher(cfg *config.Config, repo repository.JobRepository, locator JobLocator, runner port.JobRunner) *SimpleJobLauncher {
	return &SimpleJobLauncher{
		jobRepository:   repo,
		jobLocator:      locator,
		jobRunner:       runner,
		sync:            cfg.Chunkflow.Batch.LaunchMode == config.LaunchModeSync,
		allowConcurrent: cfg.Chunkflow.Batch.AllowConcurrentRuns,
		live:            make(map[string]*liveExecution),
	}
}

var _ JobLauncher = (*SimpleJobLauncher)(nil)

// Launch implements JobLauncher. An existing instance with the same parameters
// is resumed if its latest execution FAILED or STOPPED.
func (l *SimpleJobLauncher) Launch(ctx context.Context, jobName string, params model.JobParameters) (LaunchResult, error) {
	logger.Infof("Launching Job '%s'. Parameters: %s", jobName, params.String())

	j, err := l.jobLocator.CreateJob(jobName)
	if err != nil {
		return failedToLaunch(err)
	}

	l.launchMu.Lock()
	je, result, err := l.prepare(ctx, jobName, params)
	l.launchMu.Unlock()
	if err != nil || result.Status != "" {
		return result, err
	}
	return l.start(ctx, j, je), nil
}

// relaunch restarts prev, which must be the latest execution of its instance.
func (l *SimpleJobLauncher) relaunch(ctx context.Context, prev *model.JobExecution) (LaunchResult, error) {
	j, err := l.jobLocator.CreateJob(prev.JobName)
	if err != nil {
		return failedToLaunch(err)
	}

	l.launchMu.Lock()
	je, result, err := l.prepareRestart(ctx, prev)
	l.launchMu.Unlock()
	if err != nil || result.Status != "" {
		return result, err
	}
	return l.start(ctx, j, je), nil
}

// prepare creates and saves the execution to run. A non-empty result status
// means nothing is to be run.
func (l *SimpleJobLauncher) prepare(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, LaunchResult, error) {
	if result, err, busy := l.checkRunning(ctx, jobName); busy {
		return nil, result, err
	}

	var je *model.JobExecution
	instance, err := l.jobRepository.FindJobInstanceByJobNameAndParameters(ctx, jobName, params)
	switch {
	case errors.Is(err, repository.ErrJobInstanceNotFound):
		instance = model.NewJobInstance(jobName, params)
		if err := l.jobRepository.SaveJobInstance(ctx, instance); err != nil {
			result, err := failedToLaunch(exception.NewBatchError("job_launcher", "failed to save JobInstance", err, false, false))
			return nil, result, err
		}
		logger.Infof("Created JobInstance (ID: %s, JobName: %s).", instance.ID, jobName)
		je = model.NewJobExecution(instance.ID, jobName, params)
	case err != nil:
		result, err := failedToLaunch(exception.NewBatchError("job_launcher", "failed to look up JobInstance", err, false, false))
		return nil, result, err
	default:
		var result LaunchResult
		je, result, err = l.nextExecution(ctx, instance, params)
		if je == nil {
			return nil, result, err
		}
	}
	return l.save(ctx, je)
}

func (l *SimpleJobLauncher) prepareRestart(ctx context.Context, prev *model.JobExecution) (*model.JobExecution, LaunchResult, error) {
	if result, err, busy := l.checkRunning(ctx, prev.JobName); busy {
		return nil, result, err
	}
	instance, err := l.jobRepository.FindJobInstanceByID(ctx, prev.JobInstanceID)
	if err != nil {
		result, err := failedToLaunch(exception.NewBatchError("job_launcher", "failed to load JobInstance", err, false, false))
		return nil, result, err
	}
	je, result, err := l.nextExecution(ctx, instance, prev.Parameters)
	if je == nil {
		return nil, result, err
	}
	if je.RestartCount == 0 {
		result, err := failedToLaunch(fmt.Errorf("%w: JobExecution %s is not the latest execution of its instance", ErrJobNotRestartable, prev.ID))
		return nil, result, err
	}
	return l.save(ctx, je)
}

func (l *SimpleJobLauncher) checkRunning(ctx context.Context, jobName string) (LaunchResult, error, bool) {
	if l.allowConcurrent {
		return LaunchResult{}, nil, false
	}
	running, err := l.jobRepository.FindRunningJobExecutions(ctx, jobName)
	if err != nil {
		result, err := failedToLaunch(exception.NewBatchError("job_launcher", "failed to look up running executions", err, false, false))
		return result, err, true
	}
	if len(running) > 0 {
		return alreadyRunning(running[0]), nil, true
	}
	return LaunchResult{}, nil, false
}

// nextExecution decides what launching an existing instance means: resume its
// latest FAILED or STOPPED execution, refuse if it is running or completed, or
// start over after an abandoned execution.
func (l *SimpleJobLauncher) nextExecution(ctx context.Context, instance *model.JobInstance, params model.JobParameters) (*model.JobExecution, LaunchResult, error) {
	executions, err := l.jobRepository.FindJobExecutionsByJobInstance(ctx, instance.ID)
	if err != nil {
		result, err := failedToLaunch(exception.NewBatchError("job_launcher", "failed to load executions of JobInstance", err, false, false))
		return nil, result, err
	}
	for _, e := range executions {
		switch {
		case e.Status.IsRunning():
			return nil, alreadyRunning(e), nil
		case e.Status == model.BatchStatusCompleted:
			result, err := failedToLaunch(fmt.Errorf("%w: JobInstance %s (%s)", ErrJobInstanceAlreadyComplete, instance.ID, instance.JobName))
			return nil, result, err
		}
	}

	latest, err := l.jobRepository.FindLatestRestartableJobExecution(ctx, instance.ID)
	switch {
	case errors.Is(err, repository.ErrJobExecutionNotFound):
	case err != nil:
		result, err := failedToLaunch(exception.NewBatchError("job_launcher", "failed to look up restartable execution", err, false, false))
		return nil, result, err
	case len(executions) > 0 && executions[0].ID == latest.ID:
		return restartExecution(latest, params), LaunchResult{}, nil
	}
	logger.Infof("Creating new JobExecution for existing JobInstance (ID: %s).", instance.ID)
	return model.NewJobExecution(instance.ID, instance.JobName, params), LaunchResult{}, nil
}

// restartExecution copies prev for a restart: completed steps keep their
// outcome, the others resume from their last committed checkpoint.
func restartExecution(prev *model.JobExecution, params model.JobParameters) *model.JobExecution {
	je := model.NewJobExecution(prev.JobInstanceID, prev.JobName, params)
	je.ExecutionContext = prev.ExecutionContext.Copy()
	je.RestartCount = prev.RestartCount + 1
	for _, se := range prev.StepExecutions {
		je.AddStepExecution(se.CopyForRestart(je.ID))
	}
	logger.Infof("Restarting JobExecution (ID: %s) as %s. Restart count: %d", prev.ID, je.ID, je.RestartCount)
	return je
}

func (l *SimpleJobLauncher) save(ctx context.Context, je *model.JobExecution) (*model.JobExecution, LaunchResult, error) {
	if err := l.jobRepository.SaveJobExecution(ctx, je); err != nil {
		result, err := failedToLaunch(exception.NewBatchError("job_launcher", "failed to save JobExecution", err, false, false))
		return nil, result, err
	}
	return je, LaunchResult{}, nil
}

func (l *SimpleJobLauncher) start(ctx context.Context, j port.Job, je *model.JobExecution) LaunchResult {
	parent := ctx
	if !l.sync {
		// An async run outlives the request that launched it.
		parent = context.WithoutCancel(ctx)
	}
	jobCtx, cancel := context.WithCancel(parent)
	je.CancelFunc = cancel
	live := &liveExecution{execution: je, cancel: cancel, done: make(chan struct{})}

	l.mu.Lock()
	l.live[je.ID] = live
	l.mu.Unlock()

	run := func() {
		defer close(live.done)
		defer l.unregister(je.ID)
		defer cancel()
		l.jobRunner.Run(jobCtx, j, je)
	}

	logger.Infof("Starting Job '%s' (Execution ID: %s, Job Instance ID: %s).", je.JobName, je.ID, je.JobInstanceID)
	if l.sync {
		run()
		return LaunchResult{Status: Launched, Message: "Job launched successfully", Execution: je.Snapshot()}
	}
	snapshot := je.Snapshot()
	go run()
	return LaunchResult{Status: Launched, Message: "Job launched successfully", Execution: snapshot}
}

func (l *SimpleJobLauncher) unregister(executionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.live, executionID)
}

// requestStop flags a live execution. It reports false if the execution is not running here.
func (l *SimpleJobLauncher) requestStop(executionID string) bool {
	l.mu.Lock()
	live, ok := l.live[executionID]
	l.mu.Unlock()
	if !ok {
		return false
	}
	live.execution.RequestStop()
	return true
}

// Wait blocks until the execution finishes or ctx is done. It returns
// immediately for executions not running in this process.
func (l *SimpleJobLauncher) Wait(ctx context.Context, executionID string) error {
	l.mu.Lock()
	live, ok := l.live[executionID]
	l.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-live.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown asks every live execution to stop at its next chunk boundary and
// waits for them. Executions still running when ctx ends are cancelled.
func (l *SimpleJobLauncher) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	lives := make([]*liveExecution, 0, len(l.live))
	for _, live := range l.live {
		lives = append(lives, live)
	}
	l.mu.Unlock()

	for _, live := range lives {
		live.execution.RequestStop()
	}
	for _, live := range lives {
		select {
		case <-live.done:
		case <-ctx.Done():
			logger.Warnf("JobLauncher: execution %s did not stop in time, cancelling.", live.execution.ID)
			live.cancel()
		}
	}
	return nil
}

func failedToLaunch(err error) (LaunchResult, error) {
	logger.Errorf("Failed to launch job: %v", err)
	return LaunchResult{Status: FailedToLaunch, Message: err.Error()}, err
}

func alreadyRunning(je *model.JobExecution) LaunchResult {
	msg := fmt.Sprintf("Job '%s' is already running (Execution ID: %s)", je.JobName, je.ID)
	logger.Warnf("%s", msg)
	return LaunchResult{Status: AlreadyRunning, Message: msg, Execution: je}
}
