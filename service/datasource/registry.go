/*
 * @module service/datasource/registry
 * @description 数据源注册中心，负责数据源类型的注册和全局管理
 * @architecture 注册中心模式 + 单例模式 - 统一管理所有数据源类型
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 注册中心生命周期：初始化 -> 注册内置类型 -> 提供工厂服务 -> 管理实例
 * @rules 提供全局唯一的数据源工厂和管理器实例
 * @dependencies sync, log/slog
 * @refs interface.go, base.go, manager.go, mqtt.go, kafka.go, http_push.go, csv_file.go
 */

package datasource

import (
	"fmt"
	"log/slog"
	"sync"

	"sensorhub-service/service/meta"
)

// DataSourceRegistry 数据源注册中心。factory与manager在构造时装配，
// 之后只读，并发安全由二者内部的锁保证。
type DataSourceRegistry struct {
	factory DataSourceFactory
	manager DataSourceManager
}

var (
	globalRegistry     *DataSourceRegistry
	globalRegistryOnce sync.Once
)

// GetGlobalRegistry 获取全局数据源注册中心单例
func GetGlobalRegistry() *DataSourceRegistry {
	globalRegistryOnce.Do(func() {
		globalRegistry = NewDataSourceRegistry()
	})
	return globalRegistry
}

// NewDataSourceRegistry 创建数据源注册中心并装载内置接入类型
func NewDataSourceRegistry() *DataSourceRegistry {
	factory := NewDefaultDataSourceFactory()
	registry := &DataSourceRegistry{
		factory: factory,
		manager: NewDefaultDataSourceManager(factory),
	}
	registry.registerBuiltinTypes()
	return registry
}

// registerBuiltinTypes 注册内置接入类型，按固定顺序保证日志与行为可复现
func (r *DataSourceRegistry) registerBuiltinTypes() {
	builtins := []struct {
		dsType  string
		creator DataSourceCreator
	}{
		{meta.DataSourceTypeMQTT, NewMQTTDataSource},
		{meta.DataSourceTypeKafka, NewKafkaDataSource},
		{meta.DataSourceTypeHTTPPush, NewHTTPPushDataSource},
		{meta.DataSourceTypeCSVFile, NewCSVFileDataSource},
	}

	for _, b := range builtins {
		if err := r.factory.RegisterType(b.dsType, b.creator); err != nil {
			slog.Error("注册内置数据源类型失败", "type", b.dsType, "error", err)
		}
	}

	slog.Info("内置数据源类型注册完成", "types", r.factory.GetSupportedTypes())
}

// GetFactory 获取数据源工厂
func (r *DataSourceRegistry) GetFactory() DataSourceFactory { return r.factory }

// GetManager 获取数据源管理器
func (r *DataSourceRegistry) GetManager() DataSourceManager { return r.manager }

// RegisterType 注册自定义数据源类型
func (r *DataSourceRegistry) RegisterType(dsType string, creator DataSourceCreator) error {
	if err := r.factory.RegisterType(dsType, creator); err != nil {
		return fmt.Errorf("注册数据源类型失败: %v", err)
	}
	slog.Info("数据源类型注册成功", "type", dsType)
	return nil
}

// GetSupportedTypes 获取已注册的数据源类型
func (r *DataSourceRegistry) GetSupportedTypes() []string {
	return r.factory.GetSupportedTypes()
}

// CreateDataSource 按类型创建数据源实例
func (r *DataSourceRegistry) CreateDataSource(dsType string) (DataSourceInterface, error) {
	return r.factory.Create(dsType)
}

// DataSourceService 面向API层的数据源服务，封装类型校验与定义查询
type DataSourceService struct {
	registry *DataSourceRegistry
}

// NewDataSourceService 创建数据源服务
func NewDataSourceService() *DataSourceService {
	return &DataSourceService{registry: GetGlobalRegistry()}
}

// GetSupportedTypes 获取支持的数据源类型
func (s *DataSourceService) GetSupportedTypes() []string {
	return s.registry.GetSupportedTypes()
}

// ValidateDataSourceType 校验数据源类型是否已注册
func (s *DataSourceService) ValidateDataSourceType(dsType string) error {
	supported := s.registry.GetSupportedTypes()
	for _, t := range supported {
		if t == dsType {
			return nil
		}
	}
	return fmt.Errorf("不支持的数据源类型: %s，支持的类型: %v", dsType, supported)
}

// GetDataSourceTypeDefinition 获取数据源类型的元数据定义
func (s *DataSourceService) GetDataSourceTypeDefinition(dsType string) (*meta.DataSourceTypeDefinition, error) {
	if err := s.ValidateDataSourceType(dsType); err != nil {
		return nil, err
	}

	// 运行时注册的自定义类型没有元数据定义
	definition, ok := meta.DataSourceTypes[dsType]
	if !ok {
		return nil, fmt.Errorf("数据源类型定义不存在: %s", dsType)
	}
	return definition, nil
}

// ValidateDataSourceConfig 按类型定义校验连接配置与参数配置
func (s *DataSourceService) ValidateDataSourceConfig(dsType string, connectionConfig, paramsConfig map[string]interface{}) (*meta.ValidationResult, error) {
	definition, err := s.GetDataSourceTypeDefinition(dsType)
	if err != nil {
		return nil, err
	}
	return definition.ValidateConfig(connectionConfig, paramsConfig), nil
}

// GetDataSourceExamples 获取数据源类型的示例配置
func (s *DataSourceService) GetDataSourceExamples(dsType string) ([]meta.DataSourceExample, error) {
	definition, err := s.GetDataSourceTypeDefinition(dsType)
	if err != nil {
		return nil, err
	}
	return definition.Examples, nil
}

// 包级便捷入口，均指向全局注册中心

func GetRegistry() *DataSourceRegistry { return GetGlobalRegistry() }

func GetFactory() DataSourceFactory { return GetGlobalRegistry().GetFactory() }

func GetManager() DataSourceManager { return GetGlobalRegistry().GetManager() }

func GetService() *DataSourceService { return NewDataSourceService() }

func RegisterDataSourceType(dsType string, creator DataSourceCreator) error {
	return GetGlobalRegistry().RegisterType(dsType, creator)
}

func CreateDataSource(dsType string) (DataSourceInterface, error) {
	return GetGlobalRegistry().CreateDataSource(dsType)
}

func GetSupportedDataSourceTypes() []string {
	return GetGlobalRegistry().GetSupportedTypes()
}
