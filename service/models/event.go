/*
 * @module service/models/event
 * @description 流水线事件持久化模型,供SSE推送与事件历史查询
 * @architecture 事件驱动架构 - 数据模型层
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 事件生产 -> 入库并NOTIFY -> SSE分发 -> 事件消费
 * @rules 事件只增不改,按任务ID与时间检索
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/event, service/pipeline
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PipelineEventRecord 流水线事件记录
type PipelineEventRecord struct {
	ID        string    `gorm:"type:uuid;primary_key" json:"id"`
	TaskID    string    `gorm:"not null;index" json:"task_id"`
	EventType string    `gorm:"not null;size:30" json:"event_type"` // start, progress, stage_start, stage_complete, complete, error, cancel
	Data      JSONB     `gorm:"type:jsonb" json:"data"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	CreatedBy string    `gorm:"not null;default:'system'" json:"created_by"`
}

// TableName 指定表名
func (PipelineEventRecord) TableName() string {
	return "pipeline_events"
}

// BeforeCreate 创建前钩子
func (p *PipelineEventRecord) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedBy == "" {
		p.CreatedBy = "system"
	}
	return nil
}
