/*
 * @module service/datasource/base
 * @description 数据源基础实现，提供通用功能和抽象基类
 * @architecture 模板方法模式 - 定义数据源操作的通用流程
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 数据源状态管理：初始化 -> 启动 -> 运行 -> 停止
 * @rules 所有具体数据源继承基础实现，重写特定方法；预处理脚本把异构报文转换为标准读数
 * @dependencies github.com/traefik/yaegi, sync, context
 * @refs interface.go, service/models/datasource.go
 */

package datasource

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"sensorhub-service/service/models"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// dsState 数据源生命周期状态，只允许 created -> inited <-> started 的迁移
type dsState int32

const (
	dsStateCreated dsState = iota
	dsStateInited
	dsStateStarted
)

// BaseDataSource 基础数据源实现，具体类型内嵌本类型并重写Start/Stop
type BaseDataSource struct {
	mu             sync.RWMutex
	state          dsState
	id             string
	dsType         string
	dataSource     *models.DataSource
	isResident     bool // 连接测试场景下可临时关闭常驻
	scriptExecutor ScriptExecutor
}

// NewBaseDataSource 创建基础数据源实例
func NewBaseDataSource(dsType string, isResident bool) *BaseDataSource {
	return &BaseDataSource{
		dsType:         dsType,
		isResident:     isResident,
		scriptExecutor: NewYaegiScriptExecutor(),
	}
}

// Init 绑定数据源配置，重复初始化返回错误
func (b *BaseDataSource) Init(ctx context.Context, ds *models.DataSource) error {
	if ds == nil {
		return fmt.Errorf("数据源配置不能为空")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != dsStateCreated {
		return fmt.Errorf("数据源 %s 已经初始化", ds.ID)
	}

	b.id = ds.ID
	b.dataSource = ds
	b.state = dsStateInited
	return nil
}

// Start 启动数据源，基础实现只推进状态，连接动作由具体类型完成
func (b *BaseDataSource) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case dsStateCreated:
		return fmt.Errorf("数据源 %s 未初始化", b.id)
	case dsStateStarted:
		return fmt.Errorf("数据源 %s 已经启动", b.id)
	}

	b.state = dsStateStarted
	return nil
}

// Stop 停止数据源，未启动时为空操作，停止后可再次Start
func (b *BaseDataSource) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == dsStateStarted {
		b.state = dsStateInited
	}
	return nil
}

// HealthCheck 健康检查，常驻数据源未启动视为离线
func (b *BaseDataSource) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	begin := time.Now()
	status := &HealthStatus{
		LastCheck: begin,
		Details:   map[string]interface{}{},
	}

	switch {
	case b.state == dsStateCreated:
		status.Status = "offline"
		status.Message = "数据源未初始化"
	case b.isResident && b.state != dsStateStarted:
		status.Status = "offline"
		status.Message = "数据源未启动"
	default:
		status.Status = "online"
		status.Message = "数据源正常"
		status.Details["type"] = b.dsType
		status.Details["resident"] = b.isResident
		status.Details["initialized"] = true
		status.Details["started"] = b.state == dsStateStarted
	}

	status.ResponseTime = time.Since(begin)
	return status, nil
}

// GetType 获取数据源类型
func (b *BaseDataSource) GetType() string { return b.dsType }

// GetID 获取数据源ID
func (b *BaseDataSource) GetID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.id
}

// IsResident 是否为常驻数据源
func (b *BaseDataSource) IsResident() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.isResident
}

// SetResident 设置常驻状态，连接测试时临时关闭常驻语义
func (b *BaseDataSource) SetResident(isResident bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.isResident = isResident
}

// GetDataSource 获取绑定的数据源模型，供具体类型读取配置
func (b *BaseDataSource) GetDataSource() *models.DataSource {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dataSource
}

// IsInitialized 检查是否已初始化
func (b *BaseDataSource) IsInitialized() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state != dsStateCreated
}

// IsStarted 检查是否已启动
func (b *BaseDataSource) IsStarted() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state == dsStateStarted
}

// runPreprocessScript 对单条报文执行预处理脚本
// 脚本返回标准化后的报文（单条map或多条[]interface{}），返回nil表示丢弃该条
func (b *BaseDataSource) runPreprocessScript(ctx context.Context, payload map[string]interface{}, extra map[string]interface{}) (interface{}, error) {
	ds := b.GetDataSource()
	if ds == nil || !ds.ScriptEnabled || ds.Script == "" {
		return payload, nil
	}

	if b.scriptExecutor == nil {
		return nil, fmt.Errorf("脚本执行器未初始化")
	}

	params := make(map[string]interface{})
	params["payload"] = payload
	params["dataSource"] = ds
	params["connectionConfig"] = map[string]interface{}(ds.ConnectionConfig)
	params["paramsConfig"] = map[string]interface{}(ds.ParamsConfig)
	for k, v := range extra {
		params[k] = v
	}

	return b.scriptExecutor.Execute(ctx, ds.Script, params)
}

// YaegiScriptExecutor 基于Yaegi解释器的脚本执行器，编译结果按脚本哈希缓存
type YaegiScriptExecutor struct {
	mu    sync.RWMutex
	cache map[string]*compiledScript
}

// compiledScript 编译产物，fn为脚本导出的Run函数
type compiledScript struct {
	fn         func(map[string]interface{}) (interface{}, error)
	hash       string
	compiledAt time.Time
}

// NewYaegiScriptExecutor 创建Yaegi脚本执行器
func NewYaegiScriptExecutor() *YaegiScriptExecutor {
	return &YaegiScriptExecutor{cache: map[string]*compiledScript{}}
}

// Execute 执行脚本，相同内容的脚本只编译一次
func (y *YaegiScriptExecutor) Execute(ctx context.Context, script string, params map[string]interface{}) (interface{}, error) {
	hash := scriptHash(script)

	if entry := y.lookup(hash); entry != nil {
		return entry.fn(params)
	}

	entry, err := y.compile(script, hash)
	if err != nil {
		return nil, fmt.Errorf("脚本编译失败: %v", err)
	}
	y.store(entry)

	return entry.fn(params)
}

func (y *YaegiScriptExecutor) lookup(hash string) *compiledScript {
	y.mu.RLock()
	defer y.mu.RUnlock()
	return y.cache[hash]
}

// store 写入缓存，并发编译同一脚本时保留先写入的条目
func (y *YaegiScriptExecutor) store(entry *compiledScript) {
	y.mu.Lock()
	defer y.mu.Unlock()
	if _, ok := y.cache[entry.hash]; !ok {
		y.cache[entry.hash] = entry
	}
}

func scriptHash(script string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(script)))
}

// wrapScript 把用户脚本包装为完整的main包：脚本内容作为Run函数体的结尾，
// 预置变量payload/topic/dataSource/connectionConfig/paramsConfig可直接使用
func wrapScript(script string) string {
	return fmt.Sprintf(`
package main

import (
	"fmt"
	"time"
	"strconv"
	"strings"
	"encoding/json"
	"math"
)

func Run(params map[string]interface{}) (interface{}, error) {
	payload, _ := params["payload"].(map[string]interface{})
	topic := params["topic"]
	dataSource := params["dataSource"]
	connectionConfig := params["connectionConfig"]
	paramsConfig := params["paramsConfig"]
	_, _, _, _, _ = payload, topic, dataSource, connectionConfig, paramsConfig

%s
}
`, script)
}

// compile 在新的解释器实例中编译脚本并取出Run函数
func (y *YaegiScriptExecutor) compile(script, hash string) (*compiledScript, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("加载标准库失败: %w", err)
	}

	if _, err := i.Eval(wrapScript(script)); err != nil {
		return nil, fmt.Errorf("脚本编译失败: %w", err)
	}

	v, err := i.Eval("Run")
	if err != nil {
		return nil, fmt.Errorf("脚本缺少 Run 函数: %w", err)
	}
	fn, ok := v.Interface().(func(map[string]interface{}) (interface{}, error))
	if !ok {
		return nil, fmt.Errorf("Run 函数签名必须是 func(map[string]interface{}) (interface{}, error)")
	}

	return &compiledScript{fn: fn, hash: hash, compiledAt: time.Now()}, nil
}

// GetCacheStats 获取缓存统计信息
func (y *YaegiScriptExecutor) GetCacheStats() map[string]interface{} {
	y.mu.RLock()
	defer y.mu.RUnlock()

	stats := map[string]interface{}{"cache_size": len(y.cache)}

	var oldest, newest time.Time
	for _, entry := range y.cache {
		if oldest.IsZero() || entry.compiledAt.Before(oldest) {
			oldest = entry.compiledAt
		}
		if entry.compiledAt.After(newest) {
			newest = entry.compiledAt
		}
	}
	if !oldest.IsZero() {
		stats["oldest_compiled"] = oldest
		stats["newest_compiled"] = newest
	}

	return stats
}

// ClearCache 清空编译缓存
func (y *YaegiScriptExecutor) ClearCache() {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.cache = map[string]*compiledScript{}
}

// Validate 验证脚本语法，只编译不执行
func (y *YaegiScriptExecutor) Validate(script string) error {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return fmt.Errorf("加载标准库符号失败: %v", err)
	}

	_, err := i.Compile(wrapScript(script))
	return err
}

// DefaultDataSourceFactory 默认数据源工厂，维护类型到构造函数的映射
type DefaultDataSourceFactory struct {
	mu       sync.RWMutex
	creators map[string]DataSourceCreator
}

// NewDefaultDataSourceFactory 创建默认数据源工厂
func NewDefaultDataSourceFactory() *DefaultDataSourceFactory {
	return &DefaultDataSourceFactory{creators: map[string]DataSourceCreator{}}
}

// RegisterType 注册数据源类型，重复注册以后者为准
func (f *DefaultDataSourceFactory) RegisterType(dsType string, creator DataSourceCreator) error {
	switch {
	case dsType == "":
		return fmt.Errorf("数据源类型不能为空")
	case creator == nil:
		return fmt.Errorf("数据源创建器不能为空")
	}

	f.mu.Lock()
	f.creators[dsType] = creator
	f.mu.Unlock()
	return nil
}

// Create 创建数据源实例
func (f *DefaultDataSourceFactory) Create(dsType string) (DataSourceInterface, error) {
	f.mu.RLock()
	creator := f.creators[dsType]
	f.mu.RUnlock()

	if creator == nil {
		return nil, fmt.Errorf("不支持的数据源类型: %s", dsType)
	}
	return creator(), nil
}

// GetSupportedTypes 列出已注册的数据源类型
func (f *DefaultDataSourceFactory) GetSupportedTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.creators))
	for t := range f.creators {
		types = append(types, t)
	}
	return types
}
