/*
 * @module service/models/datasource
 * @description 传感器数据接入源模型
 * @architecture 分层架构 - 数据模型层
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 数据源注册 -> 启动 -> 持续接入/一次性导入 -> 停止
 * @rules 连接配置与参数配置需符合meta中对应类型定义
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/datasource, service/meta
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DataSource 传感器数据接入源
type DataSource struct {
	ID               string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name             string    `json:"name" gorm:"not null;size:255;default:''"`
	Category         string    `json:"category" gorm:"not null;size:50"` // messaging, api, file
	Type             string    `json:"type" gorm:"not null;size:50;default:''"`
	Status           string    `json:"status" gorm:"not null;default:'active';size:20"` // active, inactive
	ConnectionConfig JSONB     `json:"connection_config" gorm:"type:jsonb;not null"`
	ParamsConfig     JSONB     `json:"params_config" gorm:"type:jsonb"`
	Script           string    `json:"script" gorm:"type:text"`                      // 预处理脚本,将异构报文转换为标准读数
	ScriptEnabled    bool      `json:"script_enabled" gorm:"not null;default:false"` // 是否启用脚本执行
	CreatedAt        time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	CreatedBy        string    `json:"created_by" gorm:"not null;default:'system';size:100"`
	UpdatedAt        time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedBy        string    `json:"updated_by" gorm:"not null;default:'system';size:100"`
}

// TableName 指定表名
func (DataSource) TableName() string {
	return "data_sources"
}

// BeforeCreate GORM钩子，创建前生成UUID
func (ds *DataSource) BeforeCreate(tx *gorm.DB) error {
	if ds.ID == "" {
		ds.ID = uuid.New().String()
	}
	if ds.CreatedBy == "" {
		ds.CreatedBy = "system"
	}
	return nil
}

// IsActive 判断数据源是否处于启用状态
func (ds *DataSource) IsActive() bool {
	return ds.Status == "active"
}
