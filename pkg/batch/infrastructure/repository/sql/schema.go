package sql

import (
	"time"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// JobInstanceEntity is the row of batch_job_instance.
type JobInstanceEntity struct {
	ID             string `gorm:"primaryKey"`
	JobName        string
	Parameters     model.JobParameters
	ParametersHash string
	CreateTime     time.Time
	Version        int
}

func (JobInstanceEntity) TableName() string {
	return "batch_job_instance"
}

// JobExecutionEntity is the row of batch_job_execution. Step executions live in their own table.
type JobExecutionEntity struct {
	ID               string `gorm:"primaryKey"`
	JobInstanceID    string
	JobName          string
	Parameters       model.JobParameters
	StartTime        time.Time
	EndTime          *time.Time
	Status           model.JobStatus
	ExitStatus       model.ExitStatus
	Failures         model.FailureList
	ExecutionContext model.ExecutionContext
	CreateTime       time.Time
	LastUpdated      time.Time
	RestartCount     int
	Version          int
}

func (JobExecutionEntity) TableName() string {
	return "batch_job_execution"
}

// StepExecutionEntity is the row of batch_step_execution.
type StepExecutionEntity struct {
	ID               string `gorm:"primaryKey"`
	StepName         string
	JobExecutionID   string
	StartTime        time.Time
	EndTime          *time.Time
	Status           model.JobStatus
	ExitStatus       model.ExitStatus
	Failures         model.FailureList
	ReadCount        int
	WriteCount       int
	FilterCount      int
	SkipProcessCount int
	SkipWriteCount   int
	CommitCount      int
	RollbackCount    int
	RetryCount       int
	ExecutionContext model.ExecutionContext
	LastUpdated      time.Time
	Version          int
}

func (StepExecutionEntity) TableName() string {
	return "batch_step_execution"
}

// CheckpointDataEntity is the row of batch_checkpoint_data, one per step execution.
type CheckpointDataEntity struct {
	StepExecutionID  string `gorm:"primaryKey"`
	ExecutionContext model.ExecutionContext
	LastUpdated      time.Time
}

func (CheckpointDataEntity) TableName() string {
	return "batch_checkpoint_data"
}
