/*
 * @module service/models/reading
 * @description 传感器读数模型，包含原始读数与清洗后读数
 * @architecture 分层架构 - 数据模型层
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 原始读数入库 -> 清洗任务处理 -> 清洗读数入库
 * @rules 原始读数保留上报原文，清洗读数保证时间戳、温度、湿度非空
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/pipeline
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SensorReading 原始传感器读数
// RecordedAt 保留设备上报的原始时间戳字符串,清洗阶段以该字段为准重新解析;
// EventTime 仅为入库时的尽力解析结果,用于列表过滤,不参与清洗判定
type SensorReading struct {
	ID          string     `json:"id" gorm:"primaryKey;type:varchar(36)" example:"550e8400-e29b-41d4-a716-446655440000"`
	SensorID    string     `json:"sensor_id" gorm:"not null;size:100;index" example:"sensor_001"`
	RecordedAt  string     `json:"recorded_at" gorm:"not null;size:64" example:"2024-01-01 10:00:00"`
	EventTime   *time.Time `json:"event_time,omitempty" gorm:"index"`
	Temperature *float64   `json:"temperature,omitempty" example:"25.3"`
	Humidity    *float64   `json:"humidity,omitempty" example:"62.1"`
	SourceID    *string    `json:"source_id,omitempty" gorm:"type:varchar(36);index"`
	SourceType  string     `json:"source_type" gorm:"size:20;default:'http_push'" example:"http_push"`
	CreatedAt   time.Time  `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName 指定表名
func (SensorReading) TableName() string {
	return "sensor_readings"
}

// BeforeCreate GORM钩子，创建前生成UUID
func (r *SensorReading) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// HasTemperature 判断温度是否缺失
func (r *SensorReading) HasTemperature() bool {
	return r.Temperature != nil
}

// HasHumidity 判断湿度是否缺失
func (r *SensorReading) HasHumidity() bool {
	return r.Humidity != nil
}

// CleanReading 清洗后的传感器读数
// 清洗完成后时间戳、温度、湿度均非空,质量评分只会是 1.0 或 0.8
type CleanReading struct {
	ID               string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	TaskID           string    `json:"task_id" gorm:"not null;type:varchar(36);index"`
	SensorID         string    `json:"sensor_id" gorm:"not null;size:100;index"`
	EventTime        time.Time `json:"event_time" gorm:"not null;index"`
	Temperature      float64   `json:"temperature" gorm:"not null"`
	Humidity         float64   `json:"humidity" gorm:"not null"`
	DataQualityScore float64   `json:"data_quality_score" gorm:"not null" example:"1.0"`
	CreatedAt        time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName 指定表名
func (CleanReading) TableName() string {
	return "clean_readings"
}

// BeforeCreate GORM钩子，创建前生成UUID
func (r *CleanReading) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// IsHighQuality 判断是否为高质量读数(温湿度均在合理物理区间内)
func (r *CleanReading) IsHighQuality() bool {
	return r.DataQualityScore >= 1.0
}
