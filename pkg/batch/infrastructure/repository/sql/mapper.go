package sql

import (
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// Instance and checkpoint rows carry exactly the model's fields, so they convert directly.

func instanceRow(m *model.JobInstance) *JobInstanceEntity {
	row := JobInstanceEntity(*m)
	return &row
}

func (e *JobInstanceEntity) model() *model.JobInstance {
	m := model.JobInstance(*e)
	return &m
}

func checkpointRow(m *model.CheckpointData) *CheckpointDataEntity {
	row := CheckpointDataEntity(*m)
	return &row
}

func (e *CheckpointDataEntity) model() *model.CheckpointData {
	m := model.CheckpointData(*e)
	return &m
}

func jobExecutionRow(m *model.JobExecution) *JobExecutionEntity {
	return &JobExecutionEntity{
		ID:               m.ID,
		JobInstanceID:    m.JobInstanceID,
		JobName:          m.JobName,
		Parameters:       m.Parameters,
		Status:           m.Status,
		ExitStatus:       m.ExitStatus,
		StartTime:        m.StartTime,
		EndTime:          m.EndTime,
		CreateTime:       m.CreateTime,
		LastUpdated:      m.LastUpdated,
		Failures:         m.Failures,
		ExecutionContext: m.ExecutionContext,
		RestartCount:     m.RestartCount,
		Version:          m.Version,
	}
}

// model leaves StepExecutions empty; the repository attaches them.
func (e *JobExecutionEntity) model() *model.JobExecution {
	return &model.JobExecution{
		ID:               e.ID,
		JobInstanceID:    e.JobInstanceID,
		JobName:          e.JobName,
		Parameters:       e.Parameters,
		Status:           e.Status,
		ExitStatus:       e.ExitStatus,
		StartTime:        e.StartTime,
		EndTime:          e.EndTime,
		CreateTime:       e.CreateTime,
		LastUpdated:      e.LastUpdated,
		Failures:         e.Failures,
		ExecutionContext: e.ExecutionContext,
		RestartCount:     e.RestartCount,
		Version:          e.Version,
		StepExecutions:   []*model.StepExecution{},
	}
}

func stepExecutionRow(m *model.StepExecution) *StepExecutionEntity {
	return &StepExecutionEntity{
		ID:               m.ID,
		JobExecutionID:   m.JobExecutionID,
		StepName:         m.StepName,
		Status:           m.Status,
		ExitStatus:       m.ExitStatus,
		StartTime:        m.StartTime,
		EndTime:          m.EndTime,
		LastUpdated:      m.LastUpdated,
		Failures:         m.Failures,
		ReadCount:        m.ReadCount,
		FilterCount:      m.FilterCount,
		WriteCount:       m.WriteCount,
		SkipProcessCount: m.SkipProcessCount,
		SkipWriteCount:   m.SkipWriteCount,
		RetryCount:       m.RetryCount,
		CommitCount:      m.CommitCount,
		RollbackCount:    m.RollbackCount,
		ExecutionContext: m.ExecutionContext,
		Version:          m.Version,
	}
}

func (e *StepExecutionEntity) model() *model.StepExecution {
	return &model.StepExecution{
		ID:               e.ID,
		JobExecutionID:   e.JobExecutionID,
		StepName:         e.StepName,
		Status:           e.Status,
		ExitStatus:       e.ExitStatus,
		StartTime:        e.StartTime,
		EndTime:          e.EndTime,
		LastUpdated:      e.LastUpdated,
		Failures:         e.Failures,
		ReadCount:        e.ReadCount,
		FilterCount:      e.FilterCount,
		WriteCount:       e.WriteCount,
		SkipProcessCount: e.SkipProcessCount,
		SkipWriteCount:   e.SkipWriteCount,
		RetryCount:       e.RetryCount,
		CommitCount:      e.CommitCount,
		RollbackCount:    e.RollbackCount,
		ExecutionContext: e.ExecutionContext,
		Version:          e.Version,
	}
}
