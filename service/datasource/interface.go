/*
 * @module service/datasource/interface
 * @description 数据源统一接口与数据传输结构定义
 * @architecture 接口隔离原则 - 定义数据源操作的标准接口
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 数据源生命周期：Init -> Start -> Execute -> Stop
 * @rules 所有数据源实现必须遵循统一接口，支持常驻接入和动态脚本预处理
 * @refs service/models/datasource.go, reading_sink.go
 */

package datasource

import (
	"context"
	"time"

	"sensorhub-service/service/models"
)

// 数据源通用操作
const (
	OperationQuery  = "query"  // 查询最近接收的报文
	OperationIngest = "ingest" // 写入一批读数报文
	OperationImport = "import" // 从文件导入读数
	OperationStatus = "status" // 查询数据源运行状态
	OperationTest   = "test"   // 连接测试
)

// DataSourceInterface 数据源统一接口。
// 常驻数据源在Start后持续接入读数，非常驻数据源由执行请求按需驱动。
type DataSourceInterface interface {
	// Init 解析连接配置并绑定数据源模型
	Init(ctx context.Context, ds *models.DataSource) error

	// Start 建立连接并开始接收上报数据
	Start(ctx context.Context) error

	// Execute 把请求分发到具体操作
	Execute(ctx context.Context, request *ExecuteRequest) (*ExecuteResponse, error)

	// Stop 断开连接并释放资源
	Stop(ctx context.Context) error

	// HealthCheck 返回当前连接健康状态
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// GetType 数据源类型标识
	GetType() string

	// GetID 数据源实例ID
	GetID() string

	// IsResident 是否常驻运行
	IsResident() bool

	// IsInitialized 是否已完成初始化
	IsInitialized() bool

	// IsStarted 是否处于启动状态
	IsStarted() bool
}

// ExecuteRequest 数据源执行请求
type ExecuteRequest struct {
	Operation string                 `json:"operation"` // query, ingest, import, status, test
	Data      interface{}            `json:"data,omitempty"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Timeout   time.Duration          `json:"timeout,omitempty"`
}

// ExecuteResponse 数据源执行结果
type ExecuteResponse struct {
	Success   bool                   `json:"success"`
	Data      interface{}            `json:"data,omitempty"`
	RowCount  int64                  `json:"row_count,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Duration  time.Duration          `json:"duration"`
	Timestamp time.Time              `json:"timestamp"`
}

// HealthStatus 健康检查结果
type HealthStatus struct {
	Status       string                 `json:"status"` // online, offline, error, ready
	Message      string                 `json:"message,omitempty"`
	LastCheck    time.Time              `json:"last_check"`
	ResponseTime time.Duration          `json:"response_time"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// DataSourceStatus 管理器维护的数据源运行时状态
type DataSourceStatus struct {
	ID                string                 `json:"id"`
	Type              string                 `json:"type"`
	Name              string                 `json:"name"`
	IsResident        bool                   `json:"is_resident"`
	IsInitialized     bool                   `json:"is_initialized"`
	IsStarted         bool                   `json:"is_started"`
	LastHealthCheck   time.Time              `json:"last_health_check"`
	HealthStatus      string                 `json:"health_status"`
	ErrorMessage      string                 `json:"error_message,omitempty"`
	StartedAt         time.Time              `json:"started_at,omitempty"`
	LastUsed          time.Time              `json:"last_used,omitempty"`
	UsageCount        int64                  `json:"usage_count"`
	ReconnectAttempts int                    `json:"reconnect_attempts"`
	MaxReconnects     int                    `json:"max_reconnects"`
	AutoRestart       bool                   `json:"auto_restart"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// DataSourceFactory 数据源实例工厂
type DataSourceFactory interface {
	// Create 按类型构造新实例
	Create(dsType string) (DataSourceInterface, error)

	// GetSupportedTypes 已注册的类型列表
	GetSupportedTypes() []string

	// RegisterType 注册自定义类型的构造函数
	RegisterType(dsType string, creator DataSourceCreator) error
}

// DataSourceCreator 数据源构造函数
type DataSourceCreator func() DataSourceInterface

// DataSourceManager 数据源实例的注册与生命周期管理
type DataSourceManager interface {
	// Register 创建并初始化数据源实例，常驻类型立即启动
	Register(ctx context.Context, ds *models.DataSource) error

	// Get 获取数据源实例并记录使用情况
	Get(dsID string) (DataSourceInterface, error)

	// Remove 停止并移除数据源实例
	Remove(dsID string) error

	// CreateInstance 创建数据源实例（不注册到管理器中）
	CreateInstance(dsType string) (DataSourceInterface, error)

	// CreateTestInstance 创建非常驻的连接测试实例
	CreateTestInstance(dsType string) (DataSourceInterface, error)

	// List 当前注册的全部实例
	List() map[string]DataSourceInterface

	// StartAll 启动全部常驻数据源，失败的实例交给自动重连
	StartAll(ctx context.Context) error

	// StopAll 停止全部实例
	StopAll(ctx context.Context) error

	// HealthCheckAll 并发检查全部实例并汇总结果
	HealthCheckAll(ctx context.Context) map[string]*HealthStatus

	// ExecuteDataSource 按ID执行操作，非常驻实例临时启停
	ExecuteDataSource(ctx context.Context, dsID string, request *ExecuteRequest) (*ExecuteResponse, error)

	// GetStatistics 管理器层面的汇总统计
	GetStatistics() map[string]interface{}

	// GetDataSourceStatus 单个实例的状态副本
	GetDataSourceStatus(dsID string) (*DataSourceStatus, error)

	// GetAllDataSourceStatus 全部实例的状态副本
	GetAllDataSourceStatus() map[string]*DataSourceStatus

	// RestartResidentDataSource 手动重启常驻实例并清零重连计数
	RestartResidentDataSource(ctx context.Context, dsID string) error

	// GetResidentDataSources 常驻实例的状态副本
	GetResidentDataSources() map[string]*DataSourceStatus

	// Shutdown 停止监控循环并停掉全部实例
	Shutdown() error
}

// ScriptExecutor 预处理脚本执行器
type ScriptExecutor interface {
	// Execute 编译并运行脚本，编译结果按内容哈希缓存
	Execute(ctx context.Context, script string, params map[string]interface{}) (interface{}, error)

	// Validate 只编译不运行，检查脚本语法
	Validate(script string) error
}
