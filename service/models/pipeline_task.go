/*
 * @module service/models/pipeline_task
 * @description 数据流水线任务模型，管理清洗-聚合-导出三阶段批处理任务
 * @architecture DDD领域驱动设计 - 实体模型
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 任务创建 -> 待执行 -> 执行中 -> 成功/失败/取消
 * @rules 状态流转必须通过meta.CanTransitionStatus校验;后一阶段只在前一阶段成功后启动
 * @dependencies gorm.io/gorm, github.com/google/uuid, service/meta
 * @refs service/pipeline, service/scheduler
 */

package models

import (
	"errors"
	"fmt"
	"time"

	"sensorhub-service/service/meta"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PipelineTask 数据流水线任务模型
type PipelineTask struct {
	ID           string     `json:"id" gorm:"primaryKey;type:varchar(36)" example:"550e8400-e29b-41d4-a716-446655440000"`
	TriggerType  string     `json:"trigger_type" gorm:"not null;size:20;default:'manual'" example:"manual"` // cron, interval, once, manual
	ScheduleID   *string    `json:"schedule_id,omitempty" gorm:"type:varchar(36);index"`
	Status       string     `json:"status" gorm:"not null;size:20;default:'pending';index" example:"pending"` // pending, running, success, failed, cancelled
	CurrentStage string     `json:"current_stage,omitempty" gorm:"size:20" example:"cleanse"`                 // cleanse, aggregate, export
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	Progress     int        `json:"progress" gorm:"default:0" example:"0"` // 进度百分比 0-100
	ErrorMessage string     `json:"error_message,omitempty" gorm:"type:text"`
	Config       JSONB      `json:"config,omitempty" gorm:"type:jsonb"` // 任务配置(数据范围、导出目录等)
	Result       JSONB      `json:"result,omitempty" gorm:"type:jsonb"` // 各阶段行数与耗时
	CreatedAt    time.Time  `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	CreatedBy    string     `json:"created_by" gorm:"not null;default:'system';size:100" example:"system"`
	UpdatedAt    time.Time  `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	// 关联的阶段执行记录
	StageRuns []PipelineStageRun `json:"stage_runs,omitempty" gorm:"foreignKey:TaskID"`
}

// TableName 指定表名
func (PipelineTask) TableName() string {
	return "pipeline_tasks"
}

// BeforeCreate GORM钩子，创建前生成UUID并验证
func (pt *PipelineTask) BeforeCreate(tx *gorm.DB) error {
	if pt.ID == "" {
		pt.ID = uuid.New().String()
	}
	if pt.CreatedBy == "" {
		pt.CreatedBy = "system"
	}
	if pt.TriggerType == "" {
		pt.TriggerType = meta.PipelineScheduleTypeManual
	}

	return pt.ValidateTriggerType()
}

// BeforeUpdate GORM钩子，更新前验证。
// 基于map的部分更新不携带触发类型，跳过校验。
func (pt *PipelineTask) BeforeUpdate(tx *gorm.DB) error {
	if pt.TriggerType == "" {
		return nil
	}
	return pt.ValidateTriggerType()
}

// ValidateTriggerType 验证触发类型
func (pt *PipelineTask) ValidateTriggerType() error {
	if !meta.IsValidScheduleType(pt.TriggerType) {
		return errors.New("无效的触发类型: " + pt.TriggerType)
	}
	return nil
}

// CanDelete 判断任务是否可以删除
func (pt *PipelineTask) CanDelete() bool {
	deletableStatuses := map[string]bool{
		"success":   true,
		"failed":    true,
		"cancelled": true,
	}
	return deletableStatuses[pt.Status]
}

// CanUpdate 判断任务是否可以更新
func (pt *PipelineTask) CanUpdate() bool {
	return pt.Status == "pending"
}

// CanCancel 判断任务是否可以取消
func (pt *PipelineTask) CanCancel() bool {
	cancellableStatuses := map[string]bool{
		"pending": true,
		"running": true,
	}
	return cancellableStatuses[pt.Status]
}

// CanRetry 判断任务是否可以重试
func (pt *PipelineTask) CanRetry() bool {
	return pt.Status == "failed"
}

// GetDuration 获取任务执行时长
func (pt *PipelineTask) GetDuration() *time.Duration {
	if pt.StartTime != nil && pt.EndTime != nil {
		duration := pt.EndTime.Sub(*pt.StartTime)
		return &duration
	}
	return nil
}

// GetProgressPercent 获取进度百分比的字符串表示
func (pt *PipelineTask) GetProgressPercent() string {
	if pt.Progress < 0 {
		return "0%"
	}
	if pt.Progress > 100 {
		return "100%"
	}
	return fmt.Sprintf("%d%%", pt.Progress)
}

// IsCompleted 判断任务是否已完成（成功、失败或取消）
func (pt *PipelineTask) IsCompleted() bool {
	completedStatuses := map[string]bool{
		"success":   true,
		"failed":    true,
		"cancelled": true,
	}
	return completedStatuses[pt.Status]
}

// IsRunning 判断任务是否正在运行
func (pt *PipelineTask) IsRunning() bool {
	return pt.Status == "running"
}

// IsPending 判断任务是否待执行
func (pt *PipelineTask) IsPending() bool {
	return pt.Status == "pending"
}

// PipelineStageRun 流水线阶段执行记录,一次任务的每个阶段各一行
type PipelineStageRun struct {
	ID           string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	TaskID       string     `json:"task_id" gorm:"not null;type:varchar(36);index"`
	StageType    string     `json:"stage_type" gorm:"not null;size:20" example:"cleanse"` // cleanse, aggregate, export
	Status       string     `json:"status" gorm:"not null;size:20;default:'pending'" example:"pending"`
	RowsIn       int64      `json:"rows_in" gorm:"default:0" example:"10080"`
	RowsOut      int64      `json:"rows_out" gorm:"default:0" example:"9856"`
	RowsDropped  int64      `json:"rows_dropped" gorm:"default:0" example:"224"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty" gorm:"type:text"`
	Detail       JSONB      `json:"detail,omitempty" gorm:"type:jsonb"` // 阶段统计明细(丢弃原因、分位数等)
	CreatedAt    time.Time  `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName 指定表名
func (PipelineStageRun) TableName() string {
	return "pipeline_stage_runs"
}

// BeforeCreate GORM钩子，创建前生成UUID并验证阶段类型
func (sr *PipelineStageRun) BeforeCreate(tx *gorm.DB) error {
	if sr.ID == "" {
		sr.ID = uuid.New().String()
	}
	if !meta.IsValidStageType(sr.StageType) {
		return errors.New("无效的阶段类型: " + sr.StageType)
	}
	return nil
}

// GetDuration 获取阶段执行时长
func (sr *PipelineStageRun) GetDuration() *time.Duration {
	if sr.StartTime != nil && sr.EndTime != nil {
		duration := sr.EndTime.Sub(*sr.StartTime)
		return &duration
	}
	return nil
}
