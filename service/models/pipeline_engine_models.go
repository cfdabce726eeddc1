/*
 * @module service/models/pipeline_engine_models
 * @description 流水线引擎相关模型定义
 * @architecture 分层架构 - 数据模型层
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 模型定义 -> 数据操作 -> 业务逻辑
 * @rules 确保数据模型的一致性和完整性
 * @dependencies github.com/google/uuid, service/meta
 * @refs service/pipeline
 */

package models

import (
	"context"
	"time"

	"sensorhub-service/service/meta"
)

// TaskStatus 任务状态枚举 - 使用meta中的定义
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = meta.PipelineTaskStatusPending
	TaskStatusRunning   TaskStatus = meta.PipelineTaskStatusRunning
	TaskStatusSuccess   TaskStatus = meta.PipelineTaskStatusSuccess
	TaskStatusFailed    TaskStatus = meta.PipelineTaskStatusFailed
	TaskStatusCancelled TaskStatus = meta.PipelineTaskStatusCancelled
)

// StageType 阶段类型枚举 - 使用meta中的定义
type StageType string

const (
	StageTypeCleanse   StageType = meta.PipelineStageCleanse
	StageTypeAggregate StageType = meta.PipelineStageAggregate
	StageTypeExport    StageType = meta.PipelineStageExport
)

// PipelineTaskContext 流水线任务上下文
type PipelineTaskContext struct {
	Task         *PipelineTask
	Context      context.Context
	Cancel       context.CancelFunc
	StartTime    time.Time
	Status       TaskStatus
	CurrentStage StageType
	Progress     *StageProgress
	Error        error
	Result       *PipelineResult
}

// StageProcessor 阶段处理器接口
type StageProcessor interface {
	Process(ctx context.Context, task *PipelineTask, progress *StageProgress) (*StageResult, error)
	GetStageType() string
	Validate(task *PipelineTask) error
	EstimateProgress(task *PipelineTask) (*ProgressEstimate, error)
}

// StageProgress 阶段进度
type StageProgress struct {
	ProcessedRows   int64     `json:"processed_rows"`
	TotalRows       int64     `json:"total_rows"`
	ProgressPercent int       `json:"progress_percent"`
	CurrentPhase    string    `json:"current_phase"`
	Speed           int64     `json:"speed"` // 每秒处理行数
	UpdatedAt       time.Time `json:"updated_at"`
}

// StageResult 单阶段执行结果
type StageResult struct {
	TaskID       string                 `json:"task_id"`
	StageType    StageType              `json:"stage_type"`
	Status       TaskStatus             `json:"status"`
	RowsIn       int64                  `json:"rows_in"`
	RowsOut      int64                  `json:"rows_out"`
	RowsDropped  int64                  `json:"rows_dropped"`
	Duration     time.Duration          `json:"-"`           // 不用于API序列化
	DurationMs   int64                  `json:"duration_ms"` // 毫秒数，便于JSON序列化
	StartTime    time.Time              `json:"start_time"`
	EndTime      time.Time              `json:"end_time"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Statistics   map[string]interface{} `json:"statistics,omitempty"`
}

// PipelineResult 整条流水线执行结果
type PipelineResult struct {
	TaskID       string         `json:"task_id"`
	Status       TaskStatus     `json:"status"`
	StageResults []*StageResult `json:"stage_results"`
	DurationMs   int64          `json:"duration_ms"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      time.Time      `json:"end_time"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// PipelineEvent 流水线事件
type PipelineEvent struct {
	TaskID    string                 `json:"task_id"`
	EventType string                 `json:"event_type"` // start, progress, stage_start, stage_complete, complete, error, cancel
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// PipelineTaskRequest 流水线任务请求
type PipelineTaskRequest struct {
	ScheduleID  *string                `json:"schedule_id,omitempty"`
	TriggerType string                 `json:"trigger_type"`
	Config      map[string]interface{} `json:"config,omitempty"`
	Priority    int                    `json:"priority"`
	ScheduledBy string                 `json:"scheduled_by"`
	Callback    func(*PipelineResult)  `json:"-"`
}

// ProgressEstimate 进度预估
type ProgressEstimate struct {
	EstimatedRows int64         `json:"estimated_rows"`
	EstimatedTime time.Duration `json:"estimated_time"`
	Complexity    string        `json:"complexity"` // low, medium, high
}
