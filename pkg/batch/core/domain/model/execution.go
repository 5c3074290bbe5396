package model

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ErrInvalidTransition is returned when a status change violates the execution state machine.
var ErrInvalidTransition = errors.New("invalid state transition")

// NewID generates a new UUID string.
func NewID() string {
	return uuid.New().String()
}

// FailureList holds the failure messages recorded on an execution.
type FailureList []string

// Value implements driver.Valuer.
func (fl FailureList) Value() (driver.Value, error) {
	if fl == nil {
		return "[]", nil
	}
	data, err := json.Marshal(fl)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (fl *FailureList) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		*fl = FailureList{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for FailureList: %T", value)
	}
	if len(b) == 0 {
		*fl = FailureList{}
		return nil
	}
	return json.Unmarshal(b, fl)
}

func appendFailure(list FailureList, err error) FailureList {
	msg := err.Error()
	for _, existing := range list {
		if existing == msg {
			return list
		}
	}
	return append(list, msg)
}

// JobInstance is the logical run of a job for one set of parameters.
type JobInstance struct {
	ID             string
	JobName        string
	Parameters     JobParameters
	ParametersHash string
	CreateTime     time.Time
	Version        int
}

// NewJobInstance creates a JobInstance keyed by the hash of params.
func NewJobInstance(jobName string, params JobParameters) *JobInstance {
	hash, err := params.Hash()
	if err != nil {
		logger.Errorf("Failed to calculate JobParameters hash: %v", err)
	}
	return &JobInstance{
		ID:             NewID(),
		JobName:        jobName,
		Parameters:     params,
		ParametersHash: hash,
		CreateTime:     time.Now(),
	}
}

// JobExecution is one attempt at running a JobInstance.
type JobExecution struct {
	ID               string
	JobInstanceID    string
	JobName          string
	Parameters       JobParameters
	StartTime        time.Time
	EndTime          *time.Time
	Status           JobStatus
	ExitStatus       ExitStatus
	Failures         FailureList
	StepExecutions   []*StepExecution
	ExecutionContext ExecutionContext
	CreateTime       time.Time
	LastUpdated      time.Time
	RestartCount     int
	Version          int

	// CancelFunc cancels the context the execution runs under. Not persisted.
	CancelFunc context.CancelFunc `json:"-"`

	stopMu        sync.Mutex
	stopRequested bool
}

// NewJobExecution creates a JobExecution in STARTING state.
func NewJobExecution(jobInstanceID, jobName string, params JobParameters) *JobExecution {
	now := time.Now()
	return &JobExecution{
		ID:               NewID(),
		JobInstanceID:    jobInstanceID,
		JobName:          jobName,
		Parameters:       params,
		StartTime:        now,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		Failures:         FailureList{},
		StepExecutions:   []*StepExecution{},
		ExecutionContext: NewExecutionContext(),
		CreateTime:       now,
		LastUpdated:      now,
	}
}

var jobTransitions = map[JobStatus][]JobStatus{
	BatchStatusStarting: {BatchStatusStarted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned},
	BatchStatusStarted:  {BatchStatusStopping, BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned},
	BatchStatusStopping: {BatchStatusStopped, BatchStatusFailed, BatchStatusCompleted, BatchStatusAbandoned},
	BatchStatusStopped:  {BatchStatusAbandoned},
	BatchStatusFailed:   {BatchStatusAbandoned},
}

func allowed(table map[JobStatus][]JobStatus, from, to JobStatus) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionTo changes the status if the job state machine allows it.
func (je *JobExecution) TransitionTo(next JobStatus) error {
	if !allowed(jobTransitions, je.Status, next) {
		return fmt.Errorf("JobExecution (ID: %s): %w: %s -> %s", je.ID, ErrInvalidTransition, je.Status, next)
	}
	je.Status = next
	je.LastUpdated = time.Now()
	return nil
}

func (je *JobExecution) finish(status JobStatus) error {
	if err := je.TransitionTo(status); err != nil {
		logger.Warnf("%v", err)
		return err
	}
	je.ExitStatus = status.ToExitStatus()
	now := time.Now()
	je.EndTime = &now
	return nil
}

// MarkAsStarted moves the execution to STARTED.
func (je *JobExecution) MarkAsStarted() error {
	return je.TransitionTo(BatchStatusStarted)
}

// MarkAsCompleted moves the execution to COMPLETED.
func (je *JobExecution) MarkAsCompleted() error {
	return je.finish(BatchStatusCompleted)
}

// MarkAsFailed moves the execution to FAILED and records err.
func (je *JobExecution) MarkAsFailed(err error) error {
	if err != nil {
		je.AddFailureException(err)
	}
	return je.finish(BatchStatusFailed)
}

// MarkAsStopped moves the execution to STOPPED.
func (je *JobExecution) MarkAsStopped() error {
	return je.finish(BatchStatusStopped)
}

// MarkAsAbandoned moves a finished, unsuccessful execution to ABANDONED.
func (je *JobExecution) MarkAsAbandoned() error {
	return je.finish(BatchStatusAbandoned)
}

// AddFailureException records err, ignoring duplicates.
func (je *JobExecution) AddFailureException(err error) {
	if err == nil {
		return
	}
	je.Failures = appendFailure(je.Failures, err)
	je.LastUpdated = time.Now()
}

// LastFailure returns the most recent failure message, or "".
func (je *JobExecution) LastFailure() string {
	if n := len(je.Failures); n > 0 {
		return je.Failures[n-1]
	}
	for i := len(je.StepExecutions) - 1; i >= 0; i-- {
		if n := len(je.StepExecutions[i].Failures); n > 0 {
			return je.StepExecutions[i].Failures[n-1]
		}
	}
	return ""
}

// AddStepExecution attaches se to the execution.
func (je *JobExecution) AddStepExecution(se *StepExecution) {
	se.JobExecution = je
	se.JobExecutionID = je.ID
	je.StepExecutions = append(je.StepExecutions, se)
}

// FindStepExecution returns the step execution named stepName, if attached.
func (je *JobExecution) FindStepExecution(stepName string) *StepExecution {
	for _, se := range je.StepExecutions {
		if se.StepName == stepName {
			return se
		}
	}
	return nil
}

// RequestStop flags the execution so running steps stop at their next chunk boundary.
func (je *JobExecution) RequestStop() {
	je.stopMu.Lock()
	je.stopRequested = true
	je.stopMu.Unlock()
}

// IsStopRequested reports whether RequestStop has been called.
func (je *JobExecution) IsStopRequested() bool {
	je.stopMu.Lock()
	defer je.stopMu.Unlock()
	return je.stopRequested
}

// Snapshot returns a detached copy of the execution and its step executions.
// The stop flag and cancel function are not carried over.
func (je *JobExecution) Snapshot() *JobExecution {
	cp := &JobExecution{
		ID:               je.ID,
		JobInstanceID:    je.JobInstanceID,
		JobName:          je.JobName,
		Parameters:       JobParameters{Params: ExecutionContext(je.Parameters.Params).Copy()},
		StartTime:        je.StartTime,
		Status:           je.Status,
		ExitStatus:       je.ExitStatus,
		Failures:         append(FailureList{}, je.Failures...),
		ExecutionContext: je.ExecutionContext.Copy(),
		CreateTime:       je.CreateTime,
		LastUpdated:      je.LastUpdated,
		RestartCount:     je.RestartCount,
		Version:          je.Version,
	}
	if je.EndTime != nil {
		t := *je.EndTime
		cp.EndTime = &t
	}
	cp.StepExecutions = make([]*StepExecution, 0, len(je.StepExecutions))
	for _, se := range je.StepExecutions {
		s := se.Snapshot()
		s.JobExecution = cp
		cp.StepExecutions = append(cp.StepExecutions, s)
	}
	return cp
}

// StepExecution is the mutable record of one step run. Once it reaches a
// terminal status it no longer accepts transitions.
type StepExecution struct {
	ID             string
	StepName       string
	JobExecutionID string
	JobExecution   *JobExecution `json:"-"`
	StartTime      time.Time
	EndTime        *time.Time
	Status         JobStatus
	ExitStatus     ExitStatus
	Failures       FailureList

	ReadCount        int
	WriteCount       int
	FilterCount      int
	SkipProcessCount int
	SkipWriteCount   int
	// CommitCount counts committed write transactions. A chunk whose items
	// were all filtered or skipped opens none and is not counted.
	CommitCount   int
	RollbackCount int
	RetryCount    int

	// ExecutionContext is the checkpoint of the last committed chunk.
	ExecutionContext ExecutionContext
	LastUpdated      time.Time
	Version          int
}

// NewStepExecution creates a StepExecution in STARTING state attached to jobExecution.
func NewStepExecution(id string, jobExecution *JobExecution, stepName string) *StepExecution {
	now := time.Now()
	se := &StepExecution{
		ID:               id,
		StepName:         stepName,
		StartTime:        now,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		Failures:         FailureList{},
		ExecutionContext: NewExecutionContext(),
		LastUpdated:      now,
	}
	if jobExecution != nil {
		se.JobExecution = jobExecution
		se.JobExecutionID = jobExecution.ID
	}
	return se
}

var stepTransitions = map[JobStatus][]JobStatus{
	BatchStatusStarting:     {BatchStatusStarted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned},
	BatchStatusStarted:      {BatchStatusReadingChunk, BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped},
	BatchStatusReadingChunk: {BatchStatusCommitting, BatchStatusFailed},
	BatchStatusCommitting:   {BatchStatusReadingChunk, BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped},
}

// TransitionTo changes the status if the step state machine allows it.
func (se *StepExecution) TransitionTo(next JobStatus) error {
	if !allowed(stepTransitions, se.Status, next) {
		return fmt.Errorf("StepExecution (ID: %s): %w: %s -> %s", se.ID, ErrInvalidTransition, se.Status, next)
	}
	se.Status = next
	se.LastUpdated = time.Now()
	return nil
}

func (se *StepExecution) finish(status JobStatus) error {
	if err := se.TransitionTo(status); err != nil {
		logger.Warnf("%v", err)
		return err
	}
	se.ExitStatus = status.ToExitStatus()
	now := time.Now()
	se.EndTime = &now
	return nil
}

// MarkAsStarted moves the step to STARTED.
func (se *StepExecution) MarkAsStarted() error {
	return se.TransitionTo(BatchStatusStarted)
}

// MarkAsCompleted moves the step to COMPLETED.
func (se *StepExecution) MarkAsCompleted() error {
	return se.finish(BatchStatusCompleted)
}

// MarkAsFailed moves the step to FAILED and records err.
func (se *StepExecution) MarkAsFailed(err error) error {
	if se.Status.IsFinished() {
		return fmt.Errorf("StepExecution (ID: %s): %w: %s -> %s", se.ID, ErrInvalidTransition, se.Status, BatchStatusFailed)
	}
	if err != nil {
		se.AddFailureException(err)
	}
	return se.finish(BatchStatusFailed)
}

// MarkAsStopped moves the step to STOPPED.
func (se *StepExecution) MarkAsStopped() error {
	return se.finish(BatchStatusStopped)
}

// AddFailureException records err, ignoring duplicates.
func (se *StepExecution) AddFailureException(err error) {
	if err == nil {
		return
	}
	se.Failures = appendFailure(se.Failures, err)
	se.LastUpdated = time.Now()
}

// SkipCount is the number of items excluded from the write set:
// processor-filtered, processor-invalid and writer-rejected items.
func (se *StepExecution) SkipCount() int {
	return se.FilterCount + se.SkipProcessCount + se.SkipWriteCount
}

// CopyForRestart creates the step execution used by a restarted job execution.
// A completed step keeps its outcome; any other step starts over from the
// checkpoint of its last committed chunk.
func (se *StepExecution) CopyForRestart(newJobExecutionID string) *StepExecution {
	out := &StepExecution{
		ID:               NewID(),
		StepName:         se.StepName,
		JobExecutionID:   newJobExecutionID,
		Failures:         FailureList{},
		ExecutionContext: se.ExecutionContext.Copy(),
		LastUpdated:      time.Now(),
	}
	if se.Status == BatchStatusCompleted {
		out.Status = BatchStatusCompleted
		out.ExitStatus = se.ExitStatus
		out.StartTime = se.StartTime
		out.EndTime = se.EndTime
		out.ReadCount = se.ReadCount
		out.WriteCount = se.WriteCount
		out.FilterCount = se.FilterCount
		out.SkipProcessCount = se.SkipProcessCount
		out.SkipWriteCount = se.SkipWriteCount
		out.CommitCount = se.CommitCount
		out.RollbackCount = se.RollbackCount
		out.RetryCount = se.RetryCount
		return out
	}
	out.Status = BatchStatusStarting
	out.ExitStatus = ExitStatusUnknown
	out.StartTime = time.Now()
	return out
}

// Snapshot returns a detached copy suitable for handing to a repository or caller.
func (se *StepExecution) Snapshot() *StepExecution {
	cp := *se
	cp.Failures = append(FailureList{}, se.Failures...)
	cp.ExecutionContext = se.ExecutionContext.Copy()
	if se.EndTime != nil {
		t := *se.EndTime
		cp.EndTime = &t
	}
	return &cp
}

// DebugString renders the counters and status without the checkpoint contents.
func (se *StepExecution) DebugString() string {
	return fmt.Sprintf("&{ID:%s StepName:%s Status:%s Read:%d Write:%d Filter:%d SkipProcess:%d SkipWrite:%d Commit:%d Rollback:%d Retry:%d Checkpoint:(%d keys)}",
		se.ID, se.StepName, se.Status, se.ReadCount, se.WriteCount, se.FilterCount,
		se.SkipProcessCount, se.SkipWriteCount, se.CommitCount, se.RollbackCount, se.RetryCount,
		len(se.ExecutionContext))
}

// CheckpointData is the persisted checkpoint of a step execution.
type CheckpointData struct {
	StepExecutionID  string
	ExecutionContext ExecutionContext
	LastUpdated      time.Time
}
