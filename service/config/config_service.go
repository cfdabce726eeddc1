/*
 * @module service/config/config_service
 * @description 系统配置服务，提供DB存储、环境变量覆盖与默认值兜底的运行时可调参数
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 读取：环境变量 -> 内存缓存 -> 数据库 -> 默认值；写入：数据库 -> 刷新缓存
 * @rules 环境变量优先于数据库取值，同一环境下配置键唯一，种子写入幂等
 * @dependencies sensorhub-service/service/models, gorm.io/gorm
 * @refs service/init.go, service/reading, service/scheduler
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"sensorhub-service/service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 配置键
const (
	ConfigKeyExportBaseDir         = "export.base_dir"
	ConfigKeyGeneratorDefaultDays  = "generator.default_days"
	ConfigKeyPipelineMaxConcurrent = "pipeline.max_concurrent"
	ConfigKeyTaskRetentionDays     = "pipeline.task_retention_days"
)

// 默认值
const (
	DefaultExportBaseDir         = "/data/exports"
	DefaultGeneratorDefaultDays  = 7
	DefaultPipelineMaxConcurrent = 3
	DefaultTaskRetentionDays     = 30
)

// envPrefix 环境变量覆盖前缀，export.base_dir -> SENSORHUB_EXPORT_BASE_DIR
const envPrefix = "SENSORHUB_"

// ConfigService 系统配置服务
type ConfigService struct {
	db          *gorm.DB
	environment string

	cache      map[string]string
	cacheMutex sync.RWMutex
}

// NewConfigService 创建配置服务实例
func NewConfigService(db *gorm.DB) *ConfigService {
	return &ConfigService{
		db:          db,
		environment: getEnvWithDefault("APP_ENV", "default"),
		cache:       make(map[string]string),
	}
}

// GetConfig 获取配置值，优先级：环境变量 -> 缓存 -> 数据库
func (s *ConfigService) GetConfig(key string) (string, error) {
	if value := os.Getenv(envKeyFor(key)); value != "" {
		return value, nil
	}

	s.cacheMutex.RLock()
	if value, exists := s.cache[key]; exists {
		s.cacheMutex.RUnlock()
		return value, nil
	}
	s.cacheMutex.RUnlock()

	var record models.SystemConfig
	err := s.db.Where("key = ? AND environment = ?", key, s.environment).First(&record).Error
	if err != nil {
		return "", fmt.Errorf("查询配置%s失败: %w", key, err)
	}

	s.cacheMutex.Lock()
	s.cache[key] = record.Value
	s.cacheMutex.Unlock()

	return record.Value, nil
}

// GetConfigWithDefault 获取配置值，不存在时返回默认值
func (s *ConfigService) GetConfigWithDefault(key, defaultValue string) string {
	value, err := s.GetConfig(key)
	if err != nil || value == "" {
		return defaultValue
	}
	return value
}

// GetIntConfig 获取整数配置值，不存在或解析失败时返回默认值
func (s *ConfigService) GetIntConfig(key string, defaultValue int) int {
	valueStr, err := s.GetConfig(key)
	if err != nil {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// SetConfig 设置配置值，已存在时更新并刷新缓存
func (s *ConfigService) SetConfig(key, value, description string) error {
	var record models.SystemConfig
	err := s.db.Where("key = ? AND environment = ?", key, s.environment).First(&record).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			return fmt.Errorf("查询配置%s失败: %w", key, err)
		}
		record = models.SystemConfig{
			ID:          uuid.New().String(),
			Key:         key,
			Value:       value,
			Environment: s.environment,
			Description: description,
		}
		if err := s.db.Create(&record).Error; err != nil {
			return fmt.Errorf("创建配置%s失败: %w", key, err)
		}
	} else {
		updates := map[string]interface{}{"value": value}
		if description != "" {
			updates["description"] = description
		}
		if err := s.db.Model(&record).Updates(updates).Error; err != nil {
			return fmt.Errorf("更新配置%s失败: %w", key, err)
		}
	}

	s.cacheMutex.Lock()
	s.cache[key] = value
	s.cacheMutex.Unlock()

	return nil
}

// GetAllConfigs 获取当前环境的全部配置项，数据库中缺失的已知键补默认值
func (s *ConfigService) GetAllConfigs() ([]models.SystemConfigItem, error) {
	var configs []models.SystemConfig
	if err := s.db.Where("environment = ?", s.environment).Order("key").Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("查询配置失败: %w", err)
	}

	items := make([]models.SystemConfigItem, 0, len(configs))
	existingKeys := make(map[string]bool)
	for _, config := range configs {
		items = append(items, models.SystemConfigItem{
			Key:         config.Key,
			Value:       config.Value,
			Description: config.Description,
		})
		existingKeys[config.Key] = true
	}

	for _, def := range defaultConfigs() {
		if !existingKeys[def.Key] {
			items = append(items, def)
		}
	}

	return items, nil
}

// SeedDefaults 写入默认配置种子，已存在的键不覆盖
func (s *ConfigService) SeedDefaults() error {
	for _, def := range defaultConfigs() {
		var record models.SystemConfig
		err := s.db.Where("key = ? AND environment = ?", def.Key, s.environment).First(&record).Error
		if err == nil {
			continue
		}
		if err != gorm.ErrRecordNotFound {
			return fmt.Errorf("查询配置%s失败: %w", def.Key, err)
		}

		record = models.SystemConfig{
			ID:          uuid.New().String(),
			Key:         def.Key,
			Value:       def.Value,
			Environment: s.environment,
			Description: def.Description,
		}
		if err := s.db.Create(&record).Error; err != nil {
			return fmt.Errorf("写入配置种子%s失败: %w", def.Key, err)
		}
	}
	return nil
}

// ClearCache 清除配置缓存
func (s *ConfigService) ClearCache() {
	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()
	s.cache = make(map[string]string)
}

// === 业务配置取值 ===

// GetExportBaseDir 获取数据集导出根目录
func (s *ConfigService) GetExportBaseDir() string {
	return s.GetConfigWithDefault(ConfigKeyExportBaseDir, DefaultExportBaseDir)
}

// GetGeneratorDefaultDays 获取样例数据生成的默认天数
func (s *ConfigService) GetGeneratorDefaultDays() int {
	return s.GetIntConfig(ConfigKeyGeneratorDefaultDays, DefaultGeneratorDefaultDays)
}

// GetPipelineMaxConcurrent 获取流水线最大并发任务数
func (s *ConfigService) GetPipelineMaxConcurrent() int {
	return s.GetIntConfig(ConfigKeyPipelineMaxConcurrent, DefaultPipelineMaxConcurrent)
}

// GetTaskRetentionDays 获取流水线任务及事件记录的保留天数
func (s *ConfigService) GetTaskRetentionDays() int {
	return s.GetIntConfig(ConfigKeyTaskRetentionDays, DefaultTaskRetentionDays)
}

// defaultConfigs 已知配置键的默认条目
func defaultConfigs() []models.SystemConfigItem {
	return []models.SystemConfigItem{
		{
			Key:         ConfigKeyExportBaseDir,
			Value:       DefaultExportBaseDir,
			Description: "训练数据集导出根目录",
		},
		{
			Key:         ConfigKeyGeneratorDefaultDays,
			Value:       strconv.Itoa(DefaultGeneratorDefaultDays),
			Description: "样例数据生成的默认天数",
		},
		{
			Key:         ConfigKeyPipelineMaxConcurrent,
			Value:       strconv.Itoa(DefaultPipelineMaxConcurrent),
			Description: "流水线最大并发任务数",
		},
		{
			Key:         ConfigKeyTaskRetentionDays,
			Value:       strconv.Itoa(DefaultTaskRetentionDays),
			Description: "流水线任务与事件记录保留天数",
		},
	}
}

// envKeyFor 配置键对应的环境变量覆盖名
func envKeyFor(key string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
