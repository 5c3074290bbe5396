package model

// JobStatus is the lifecycle state of a job or step execution.
type JobStatus string

const (
	BatchStatusStarting     JobStatus = "STARTING"
	BatchStatusStarted      JobStatus = "STARTED"
	BatchStatusReadingChunk JobStatus = "READING_CHUNK"
	BatchStatusCommitting   JobStatus = "COMMITTING"
	BatchStatusStopping     JobStatus = "STOPPING"
	BatchStatusStopped      JobStatus = "STOPPED"
	BatchStatusCompleted    JobStatus = "COMPLETED"
	BatchStatusFailed       JobStatus = "FAILED"
	BatchStatusAbandoned    JobStatus = "ABANDONED"
	BatchStatusUnknown      JobStatus = "UNKNOWN"
)

// String returns the string representation of the JobStatus.
func (s JobStatus) String() string {
	return string(s)
}

// IsFinished reports whether s is terminal.
func (s JobStatus) IsFinished() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned:
		return true
	default:
		return false
	}
}

// IsRunning reports whether s is one of the active states.
func (s JobStatus) IsRunning() bool {
	switch s {
	case BatchStatusStarting, BatchStatusStarted, BatchStatusReadingChunk, BatchStatusCommitting, BatchStatusStopping:
		return true
	default:
		return false
	}
}

// IsRestartable reports whether an execution ending in s may be resumed.
func (s JobStatus) IsRestartable() bool {
	return s == BatchStatusFailed || s == BatchStatusStopped
}

// ToExitStatus converts the JobStatus to its corresponding ExitStatus.
func (s JobStatus) ToExitStatus() ExitStatus {
	switch s {
	case BatchStatusCompleted:
		return ExitStatusCompleted
	case BatchStatusFailed:
		return ExitStatusFailed
	case BatchStatusStopped:
		return ExitStatusStopped
	case BatchStatusAbandoned:
		return ExitStatusAbandoned
	default:
		return ExitStatusUnknown
	}
}

// ExitStatus is the outcome code recorded when an execution ends.
type ExitStatus string

const (
	ExitStatusUnknown   ExitStatus = "UNKNOWN"
	ExitStatusCompleted ExitStatus = "COMPLETED"
	ExitStatusFailed    ExitStatus = "FAILED"
	ExitStatusStopped   ExitStatus = "STOPPED"
	ExitStatusAbandoned ExitStatus = "ABANDONED"
	ExitStatusNoOp      ExitStatus = "NO_OP"
)

// String returns the ExitStatus as a string.
func (s ExitStatus) String() string {
	return string(s)
}
