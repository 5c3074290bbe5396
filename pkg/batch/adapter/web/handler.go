// Package web exposes the job launcher, operator and explorer over HTTP.
package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	usecase "github.com/tigerroll/chunkflow/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	incrementer "github.com/tigerroll/chunkflow/pkg/batch/core/support/incrementer"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/serialization"
)

const launchedMessage = "Job launched successfully"

// Handler serves the batch endpoints.
type Handler struct {
	launcher usecase.JobLauncher
	operator usecase.JobOperator
	explorer usecase.JobExplorer
	sync     bool
	// defaultJob is launched when /launchJob names no job.
	defaultJob string
	now        func() time.Time
}

// NewHandler creates the handler. In sync mode a launch is reported as
// successful only when the job ended COMPLETED; in async mode only the
// submission is reported.
func NewHandler(cfg *config.Config, launcher usecase.JobLauncher, operator usecase.JobOperator, explorer usecase.JobExplorer) *Handler {
	return &Handler{
		launcher:   launcher,
		operator:   operator,
		explorer:   explorer,
		sync:       cfg.Chunkflow.Batch.LaunchMode == config.LaunchModeSync,
		defaultJob: cfg.Chunkflow.Batch.JobName,
		now:        time.Now,
	}
}

// NewRouter registers the routes on a gin engine. A nil metrics handler leaves
// /metrics unregistered.
func NewRouter(h *Handler, metrics http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(recovery(), requestLogger())

	r.GET("/launchJob", h.launchJob)
	r.POST("/launchJob", h.launchJob)
	r.GET("/jobs", h.jobNames)
	r.GET("/executions/:id", h.execution)
	r.POST("/executions/:id/stop", h.stop)
	r.POST("/executions/:id/restart", h.restart)
	r.POST("/executions/:id/abandon", h.abandon)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}
	return r
}

// launchJob starts the job named by the jobName query parameter, or the
// configured batch.job_name when it is absent. Every other
// query parameter becomes a job parameter. startAt is set to the current time
// in milliseconds unless the caller supplies it, so repeated calls start new
// job instances; passing the startAt of a failed run resumes it.
func (h *Handler) launchJob(c *gin.Context) {
	jobName := c.DefaultQuery("jobName", h.defaultJob)
	if jobName == "" {
		c.String(http.StatusBadRequest, "Error launching Job: jobName is required when batch.job_name is not configured")
		return
	}
	params := model.NewJobParameters()
	for key, values := range c.Request.URL.Query() {
		if key == "jobName" || len(values) == 0 {
			continue
		}
		params.Put(key, values[0])
	}
	params = incrementer.NewTimestampIncrementer(incrementer.StartAt, h.now).Next(params)

	res, err := h.launcher.Launch(c.Request.Context(), jobName, params)
	h.respondLaunch(c, res, err)
}

func (h *Handler) respondLaunch(c *gin.Context, res usecase.LaunchResult, err error) {
	switch {
	case res.Status == usecase.AlreadyRunning:
		c.String(http.StatusConflict, res.Message)
	case err != nil || res.Status == usecase.FailedToLaunch:
		reason := res.Message
		if err != nil {
			reason = err.Error()
		}
		c.String(http.StatusInternalServerError, "Error launching Job: "+reason)
	case h.sync && res.Execution != nil && res.Execution.Status != model.BatchStatusCompleted:
		reason := res.Execution.LastFailure()
		if reason == "" {
			reason = "job ended with status " + res.Execution.Status.String()
		}
		c.String(http.StatusInternalServerError, "Error launching Job: "+reason)
	default:
		if res.Execution != nil {
			c.Header("X-Job-Execution-Id", res.Execution.ID)
		}
		c.String(http.StatusOK, launchedMessage)
	}
}

func (h *Handler) jobNames(c *gin.Context) {
	names, err := h.explorer.GetJobNames(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": names})
}

func (h *Handler) execution(c *gin.Context) {
	je, err := h.explorer.GetJobExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newExecutionView(je))
}

func (h *Handler) stop(c *gin.Context) {
	if err := h.operator.Stop(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Stop requested"})
}

func (h *Handler) restart(c *gin.Context) {
	res, err := h.operator.Restart(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrJobExecutionNotFound) || errors.Is(err, usecase.ErrJobNotRestartable) {
		respondError(c, err)
		return
	}
	h.respondLaunch(c, res, err)
}

func (h *Handler) abandon(c *gin.Context) {
	if err := h.operator.Abandon(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Execution abandoned"})
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repository.ErrJobExecutionNotFound), errors.Is(err, repository.ErrJobInstanceNotFound):
		status = http.StatusNotFound
	case errors.Is(err, usecase.ErrJobNotRunning), errors.Is(err, usecase.ErrJobNotRestartable):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

type stepView struct {
	Name             string     `json:"name"`
	Status           string     `json:"status"`
	ExitStatus       string     `json:"exitStatus"`
	StartTime        time.Time  `json:"startTime"`
	EndTime          *time.Time `json:"endTime,omitempty"`
	ReadCount        int        `json:"readCount"`
	WriteCount       int        `json:"writeCount"`
	FilterCount      int        `json:"filterCount"`
	SkipProcessCount int        `json:"skipProcessCount"`
	SkipWriteCount   int        `json:"skipWriteCount"`
	CommitCount      int        `json:"commitCount"`
	RollbackCount    int        `json:"rollbackCount"`
	RetryCount       int        `json:"retryCount"`
	Failures         []string   `json:"failures,omitempty"`
}

type executionView struct {
	ID            string                 `json:"id"`
	JobInstanceID string                 `json:"jobInstanceId"`
	JobName       string                 `json:"jobName"`
	Status        string                 `json:"status"`
	ExitStatus    string                 `json:"exitStatus"`
	Parameters    map[string]interface{} `json:"parameters"`
	StartTime     time.Time              `json:"startTime"`
	EndTime       *time.Time             `json:"endTime,omitempty"`
	RestartCount  int                    `json:"restartCount"`
	Failures      []string               `json:"failures,omitempty"`
	Steps         []stepView             `json:"steps"`
}

func newExecutionView(je *model.JobExecution) executionView {
	v := executionView{
		ID:            je.ID,
		JobInstanceID: je.JobInstanceID,
		JobName:       je.JobName,
		Status:        je.Status.String(),
		ExitStatus:    string(je.ExitStatus),
		Parameters:    serialization.GetMaskedJobParametersMap(je.Parameters.Params),
		StartTime:     je.StartTime,
		EndTime:       je.EndTime,
		RestartCount:  je.RestartCount,
		Failures:      je.Failures,
		Steps:         make([]stepView, 0, len(je.StepExecutions)),
	}
	for _, se := range je.StepExecutions {
		v.Steps = append(v.Steps, stepView{
			Name:             se.StepName,
			Status:           se.Status.String(),
			ExitStatus:       string(se.ExitStatus),
			StartTime:        se.StartTime,
			EndTime:          se.EndTime,
			ReadCount:        se.ReadCount,
			WriteCount:       se.WriteCount,
			FilterCount:      se.FilterCount,
			SkipProcessCount: se.SkipProcessCount,
			SkipWriteCount:   se.SkipWriteCount,
			CommitCount:      se.CommitCount,
			RollbackCount:    se.RollbackCount,
			RetryCount:       se.RetryCount,
			Failures:         se.Failures,
		})
	}
	return v
}
