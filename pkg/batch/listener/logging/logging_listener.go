// Package logging provides a listener that logs job, step, chunk, skip and
// retry events.
package logging

import (
	"context"
	"strconv"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// Listener logs execution events. Skipped items are only included in the log
// when logItems is set, since they may carry sensitive data.
type Listener struct {
	logItems bool
}

var (
	_ port.JobExecutionListener  = (*Listener)(nil)
	_ port.StepExecutionListener = (*Listener)(nil)
	_ port.ChunkListener         = (*Listener)(nil)
	_ port.SkipListener          = (*Listener)(nil)
	_ port.RetryListener         = (*Listener)(nil)
)

// NewListener creates a Listener. The "logItems" property enables item logging.
func NewListener(properties map[string]string) *Listener {
	logItems, _ := strconv.ParseBool(properties["logItems"])
	return &Listener{logItems: logItems}
}

func (l *Listener) BeforeJob(_ context.Context, je *model.JobExecution) {
	logger.Infof("Job '%s' starting (Execution ID: %s, Restart: %d, Params: %s).", je.JobName, je.ID, je.RestartCount, je.Parameters.String())
}

func (l *Listener) AfterJob(_ context.Context, je *model.JobExecution) {
	var read, write, skip int
	for _, se := range je.StepExecutions {
		read += se.ReadCount
		write += se.WriteCount
		skip += se.SkipCount()
	}
	if je.Status == model.BatchStatusCompleted {
		logger.Infof("Job '%s' %s (Execution ID: %s). Read: %d, Written: %d, Skipped: %d.", je.JobName, je.Status, je.ID, read, write, skip)
		return
	}
	logger.Warnf("Job '%s' %s (Execution ID: %s). Read: %d, Written: %d, Skipped: %d. Last failure: %s",
		je.JobName, je.Status, je.ID, read, write, skip, je.LastFailure())
}

func (l *Listener) BeforeStep(_ context.Context, se *model.StepExecution) {
	logger.Infof("Step '%s' starting (ID: %s).", se.StepName, se.ID)
}

func (l *Listener) AfterStep(_ context.Context, se *model.StepExecution) {
	logger.Infof("Step '%s' %s. %s", se.StepName, se.Status, se.DebugString())
}

func (l *Listener) BeforeChunk(context.Context, *model.StepExecution) {}

func (l *Listener) AfterChunk(_ context.Context, se *model.StepExecution) {
	logger.Debugf("Step '%s': chunk %d committed. Read: %d, Written: %d.", se.StepName, se.CommitCount, se.ReadCount, se.WriteCount)
}

func (l *Listener) AfterChunkError(_ context.Context, se *model.StepExecution, err error) {
	logger.Warnf("Step '%s': chunk rolled back: %v", se.StepName, err)
}

func (l *Listener) OnSkipProcess(_ context.Context, item interface{}, err error) {
	if l.logItems {
		logger.Warnf("Skipped in process: %+v: %v", item, err)
		return
	}
	logger.Warnf("Skipped in process: %v", err)
}

func (l *Listener) OnSkipWrite(_ context.Context, item interface{}, err error) {
	if l.logItems {
		logger.Warnf("Skipped in write: %+v: %v", item, err)
		return
	}
	logger.Warnf("Skipped in write: %v", err)
}

func (l *Listener) OnRetryRead(_ context.Context, attempt int, err error) {
	logger.Warnf("Retrying read (attempt %d): %v", attempt, err)
}

func (l *Listener) OnRetryWrite(_ context.Context, items []interface{}, attempt int, err error) {
	logger.Warnf("Retrying write of %d item(s) (attempt %d): %v", len(items), attempt, err)
}
