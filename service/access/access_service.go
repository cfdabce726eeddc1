/*
 * @module service/access/access_service
 * @description 数据集下载ApiKey管理服务：创建、查询、更新、吊销与验证
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow Key创建(仅此一次返回明文) -> 下载请求携带Key -> 前缀定位+bcrypt校验 -> 使用计数更新
 * @rules 数据库仅存bcrypt哈希与8位前缀，验证失败不向调用方区分"前缀不存在"与"哈希不匹配"
 * @dependencies sensorhub-service/service/models, golang.org/x/crypto/bcrypt, gorm.io/gorm
 * @refs api/middleware, api/controllers
 */

package access

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"sensorhub-service/service/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AccessService 下载凭证管理服务
type AccessService struct {
	db *gorm.DB
}

// NewAccessService 创建下载凭证管理服务
func NewAccessService(db *gorm.DB) *AccessService {
	return &AccessService{db: db}
}

// CreateApiKey 创建一个新的ApiKey
// 返回的第二个值是完整的Key明文，仅在创建时返回一次，数据库只存储其Hash
func (s *AccessService) CreateApiKey(name, description, createdBy string, expiresAt *time.Time) (*models.ApiKey, string, error) {
	if name == "" {
		return nil, "", errors.New("ApiKey名称不能为空")
	}

	// 生成API Key（32字节随机串，转为64字符的hex）
	fullKey, err := generateRandomString(64)
	if err != nil {
		return nil, "", err
	}

	// 生成前缀（取前8个字符），用于验证时快速定位候选Key
	keyPrefix := fullKey[:8]

	// 对完整Key进行哈希
	hashedKey, err := bcrypt.GenerateFromPassword([]byte(fullKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}

	apiKey := &models.ApiKey{
		Name:         name,
		KeyPrefix:    keyPrefix,
		KeyValueHash: string(hashedKey),
		Description:  description,
		ExpiresAt:    expiresAt,
		Status:       "active",
		CreatedBy:    createdBy,
	}

	if err := s.db.Create(apiKey).Error; err != nil {
		return nil, "", err
	}

	// 返回完整的Key值（仅此一次）
	return apiKey, fullKey, nil
}

// GetApiKeys 分页获取ApiKey列表（不包含Key本身），可选择按状态过滤
func (s *AccessService) GetApiKeys(page, pageSize int, status string) ([]models.ApiKey, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	query := s.db.Model(&models.ApiKey{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var keys []models.ApiKey
	offset := (page - 1) * pageSize
	if err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&keys).Error; err != nil {
		return nil, 0, err
	}

	return keys, total, nil
}

// GetApiKeyByID 根据ID获取ApiKey
func (s *AccessService) GetApiKeyByID(keyID string) (*models.ApiKey, error) {
	var key models.ApiKey
	if err := s.db.First(&key, "id = ?", keyID).Error; err != nil {
		return nil, err
	}
	return &key, nil
}

// UpdateApiKey 更新ApiKey信息（如名称、描述、状态、过期时间）
// Key的哈希与前缀不可更新，需要更换Key时应吊销后重新创建
func (s *AccessService) UpdateApiKey(keyID string, updates map[string]interface{}) error {
	allowed := map[string]bool{
		"name":        true,
		"description": true,
		"status":      true,
		"expires_at":  true,
	}
	filtered := make(map[string]interface{})
	for field, value := range updates {
		if allowed[field] {
			filtered[field] = value
		}
	}
	if len(filtered) == 0 {
		return errors.New("没有可更新的字段")
	}

	return s.db.Model(&models.ApiKey{}).Where("id = ?", keyID).Updates(filtered).Error
}

// RevokeApiKey 吊销一个ApiKey（保留记录与使用统计）
func (s *AccessService) RevokeApiKey(keyID string) error {
	var key models.ApiKey
	if err := s.db.First(&key, "id = ?", keyID).Error; err != nil {
		return errors.New("ApiKey不存在")
	}

	return s.db.Model(&key).Update("status", "revoked").Error
}

// DeleteApiKey 删除一个ApiKey记录
func (s *AccessService) DeleteApiKey(keyID string) error {
	var key models.ApiKey
	if err := s.db.First(&key, "id = ?", keyID).Error; err != nil {
		return errors.New("ApiKey不存在")
	}

	return s.db.Delete(&models.ApiKey{}, "id = ?", keyID).Error
}

// VerifyApiKey 验证API Key
func (s *AccessService) VerifyApiKey(keyValue string) (*models.ApiKey, error) {
	if len(keyValue) < 8 {
		return nil, errors.New("无效的API Key格式")
	}

	keyPrefix := keyValue[:8]

	var keys []models.ApiKey
	if err := s.db.Where("key_prefix = ? AND status = 'active'", keyPrefix).Find(&keys).Error; err != nil {
		return nil, err
	}

	// 遍历所有匹配前缀的Key，验证完整Key
	for _, key := range keys {
		if err := bcrypt.CompareHashAndPassword([]byte(key.KeyValueHash), []byte(keyValue)); err == nil {
			// 检查是否过期
			if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now()) {
				return nil, errors.New("API Key已过期")
			}

			// 更新最后使用时间和使用次数
			s.db.Model(&key).Updates(map[string]interface{}{
				"last_used_at": time.Now(),
				"usage_count":  key.UsageCount + 1,
			})

			return &key, nil
		}
	}

	return nil, errors.New("无效的API Key")
}

// === 工具函数 ===

// generateRandomString 生成随机字符串
func generateRandomString(length int) (string, error) {
	bytes := make([]byte, length/2)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
