/*
 * @module service/models/pipeline_schedule
 * @description 流水线调度配置模型
 * @architecture 分层架构 - 数据模型层
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 调度创建 -> 调度器装载 -> 周期触发流水线任务
 * @rules 调度类型必须为cron/interval/once之一;manual任务不经调度器
 * @dependencies gorm.io/gorm, github.com/google/uuid, service/meta
 * @refs service/scheduler
 */

package models

import (
	"errors"
	"time"

	"sensorhub-service/service/meta"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PipelineSchedule 流水线调度配置
type PipelineSchedule struct {
	ID              string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name            string     `json:"name" gorm:"not null;size:255"`
	ScheduleType    string     `json:"schedule_type" gorm:"not null;size:20" example:"cron"` // cron, interval, once
	CronExpression  string     `json:"cron_expression,omitempty" gorm:"size:100" example:"0 0 * * * *"`
	IntervalSeconds int64      `json:"interval_seconds,omitempty" gorm:"default:0"`
	StartTime       *time.Time `json:"start_time,omitempty"` // once类型的触发时间
	TimeoutSeconds  int64      `json:"timeout_seconds" gorm:"default:600"`
	PipelineConfig  JSONB      `json:"pipeline_config,omitempty" gorm:"type:jsonb"` // 透传给任务的配置
	Enabled         bool       `json:"enabled" gorm:"not null;default:true"`
	LastRunTime     *time.Time `json:"last_run_time,omitempty"`
	LastStatus      string     `json:"last_status,omitempty" gorm:"size:20"`
	ExecutionCount  int64      `json:"execution_count" gorm:"default:0"`
	SuccessCount    int64      `json:"success_count" gorm:"default:0"`
	FailureCount    int64      `json:"failure_count" gorm:"default:0"`
	Description     string     `json:"description,omitempty" gorm:"type:text"`
	CreatedAt       time.Time  `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	CreatedBy       string     `json:"created_by" gorm:"not null;default:'system';size:100"`
	UpdatedAt       time.Time  `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName 指定表名
func (PipelineSchedule) TableName() string {
	return "pipeline_schedules"
}

// BeforeCreate GORM钩子，创建前生成UUID并验证
func (ps *PipelineSchedule) BeforeCreate(tx *gorm.DB) error {
	if ps.ID == "" {
		ps.ID = uuid.New().String()
	}
	if ps.CreatedBy == "" {
		ps.CreatedBy = "system"
	}
	return ps.ValidateScheduleType()
}

// BeforeUpdate GORM钩子，更新前验证
func (ps *PipelineSchedule) BeforeUpdate(tx *gorm.DB) error {
	return ps.ValidateScheduleType()
}

// ValidateScheduleType 验证调度类型,manual不允许作为调度配置
func (ps *PipelineSchedule) ValidateScheduleType() error {
	if ps.ScheduleType == meta.PipelineScheduleTypeManual {
		return errors.New("manual类型任务不经调度器触发")
	}
	if !meta.IsValidScheduleType(ps.ScheduleType) {
		return errors.New("无效的调度类型: " + ps.ScheduleType)
	}
	return nil
}

// ShouldRunAt 判断interval类型调度在指定时刻是否应该触发
func (ps *PipelineSchedule) ShouldRunAt(now time.Time) bool {
	if !ps.Enabled || ps.ScheduleType != meta.PipelineScheduleTypeInterval || ps.IntervalSeconds <= 0 {
		return false
	}
	if ps.LastRunTime == nil {
		return true
	}
	return now.Sub(*ps.LastRunTime) >= time.Duration(ps.IntervalSeconds)*time.Second
}
