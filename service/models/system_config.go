/*
 * @module service/models/system_config
 * @description 系统配置模型，用于存储应用程序配置信息
 * @architecture 数据模型层
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 配置存储 -> 配置读取 -> 配置更新
 * @rules 同一环境下配置键唯一;环境变量优先于数据库取值
 * @dependencies gorm.io/gorm
 * @refs service/config
 */

package models

import (
	"time"
)

// SystemConfig 系统配置模型
type SystemConfig struct {
	ID          string    `gorm:"type:varchar(50);primaryKey" json:"id"`
	Key         string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_config_key_env" json:"key"`
	Value       string    `gorm:"type:text;not null" json:"value"`
	Environment string    `gorm:"type:varchar(20);not null;uniqueIndex:idx_config_key_env" json:"environment"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName 指定表名
func (SystemConfig) TableName() string {
	return "system_configs"
}

// SystemConfigItem 配置项DTO,供接口返回
type SystemConfigItem struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Description string `json:"description"`
}
