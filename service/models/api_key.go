/*
 * @module service/models/api_key
 * @description 数据集下载API Key模型,供外部训练方拉取导出文件时鉴权
 * @architecture 分层架构 - 数据模型层
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow Key创建(仅此一次返回明文) -> 下载请求鉴权 -> 使用计数更新
 * @rules 明文Key只在创建时返回一次,库中仅存bcrypt哈希与前缀
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/access, api/middleware
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ApiKey 数据集下载凭证
type ApiKey struct {
	ID           string     `gorm:"type:uuid;primary_key" json:"id"`
	Name         string     `gorm:"not null" json:"name"`              // ApiKey名称
	KeyPrefix    string     `gorm:"not null;size:8" json:"key_prefix"` // Key的前缀，用于快速识别
	KeyValueHash string     `gorm:"not null;unique" json:"-"`          // 存储Hash后的Key值
	Description  string     `json:"description"`
	Status       string     `gorm:"not null;default:'active'" json:"status"` // active, inactive, revoked
	ExpiresAt    *time.Time `json:"expires_at"`
	LastUsedAt   *time.Time `json:"last_used_at"`
	UsageCount   int64      `gorm:"default:0" json:"usage_count"`
	CreatedBy    string     `gorm:"size:100" json:"created_by"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName 指定表名
func (ApiKey) TableName() string {
	return "api_keys"
}

// BeforeCreate 创建前钩子
func (ak *ApiKey) BeforeCreate(tx *gorm.DB) error {
	if ak.ID == "" {
		ak.ID = uuid.New().String()
	}
	if ak.CreatedBy == "" {
		ak.CreatedBy = "system"
	}
	return nil
}

// CanUse 判断Key当前是否可用
func (ak *ApiKey) CanUse() bool {
	if ak.Status != "active" {
		return false
	}
	if ak.ExpiresAt != nil && time.Now().After(*ak.ExpiresAt) {
		return false
	}
	return true
}
