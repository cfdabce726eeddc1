/*
 * @module service/models/aggregate
 * @description 窗口聚合模型，包含分析表与训练样本表
 * @architecture 分层架构 - 数据模型层
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 清洗读数 -> 5分钟窗口聚合 -> 分析表/训练样本表
 * @rules 窗口为左闭右开的5分钟对齐区间;avg_humidity为0时温湿比为NULL而非无穷大
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/pipeline
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WindowAggregate 窗口聚合分析记录,一个非空窗口对应一行
// DayOfWeek 约定为 1=周日 ... 7=周六
type WindowAggregate struct {
	ID                string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	TaskID            string    `json:"task_id" gorm:"not null;type:varchar(36);index"`
	WindowStart       time.Time `json:"window_start" gorm:"not null;index"`
	WindowEnd         time.Time `json:"window_end" gorm:"not null"`
	AvgTemperature    float64   `json:"avg_temperature" example:"25.31"`
	AvgHumidity       float64   `json:"avg_humidity" example:"61.95"`
	MinTemperature    float64   `json:"min_temperature" example:"24.8"`
	MaxTemperature    float64   `json:"max_temperature" example:"25.9"`
	MinHumidity       float64   `json:"min_humidity" example:"60.2"`
	MaxHumidity       float64   `json:"max_humidity" example:"63.4"`
	RecordCount       int64     `json:"record_count" example:"5"`
	AvgDataQuality    float64   `json:"avg_data_quality" example:"0.96"`
	TempHumidityRatio *float64  `json:"temp_humidity_ratio,omitempty" example:"0.4086"`
	TempRange         float64   `json:"temp_range" example:"1.1"`
	HumidityRange     float64   `json:"humidity_range" example:"3.2"`
	HourOfDay         int       `json:"hour_of_day" example:"10"`
	DayOfWeek         int       `json:"day_of_week" example:"2"`
	DayOfYear         int       `json:"day_of_year" example:"152"`
	CreatedAt         time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName 指定表名
func (WindowAggregate) TableName() string {
	return "window_aggregates"
}

// BeforeCreate GORM钩子，创建前生成UUID
func (w *WindowAggregate) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	return nil
}

// HasRatio 判断温湿比是否可用(平均湿度为0时不可用)
func (w *WindowAggregate) HasRatio() bool {
	return w.TempHumidityRatio != nil
}

// TrainingSample 训练样本,特征与 WindowAggregate 一致,外加下一窗口平均温度作为标签
// 最后一个窗口没有后继,不会生成样本
type TrainingSample struct {
	ID                string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	TaskID            string    `json:"task_id" gorm:"not null;type:varchar(36);index"`
	SampleIndex       int       `json:"sample_index" gorm:"not null"`
	WindowStart       time.Time `json:"window_start" gorm:"not null;index"`
	TargetTemp        float64   `json:"target_temp" example:"25.87"`
	AvgTemperature    float64   `json:"avg_temperature" example:"25.31"`
	AvgHumidity       float64   `json:"avg_humidity" example:"61.95"`
	MinTemperature    float64   `json:"min_temperature" example:"24.8"`
	MaxTemperature    float64   `json:"max_temperature" example:"25.9"`
	MinHumidity       float64   `json:"min_humidity" example:"60.2"`
	MaxHumidity       float64   `json:"max_humidity" example:"63.4"`
	RecordCount       int64     `json:"record_count" example:"5"`
	AvgDataQuality    float64   `json:"avg_data_quality" example:"0.96"`
	TempHumidityRatio *float64  `json:"temp_humidity_ratio,omitempty" example:"0.4086"`
	TempRange         float64   `json:"temp_range" example:"1.1"`
	HumidityRange     float64   `json:"humidity_range" example:"3.2"`
	HourOfDay         int       `json:"hour_of_day" example:"10"`
	DayOfWeek         int       `json:"day_of_week" example:"2"`
	DayOfYear         int       `json:"day_of_year" example:"152"`
	CreatedAt         time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName 指定表名
func (TrainingSample) TableName() string {
	return "training_samples"
}

// BeforeCreate GORM钩子，创建前生成UUID
func (t *TrainingSample) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return nil
}
