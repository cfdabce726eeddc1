/*
 * @module service/datasource/manager
 * @description 数据源管理器实现，负责数据源的注册、管理和生命周期控制
 * @architecture 单例模式 + 工厂模式 - 统一管理所有数据源实例，支持常驻数据源自动管理
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 管理器生命周期：初始化 -> 注册数据源 -> 启动常驻源 -> 监控健康 -> 自动重连 -> 停止清理
 * @rules 常驻数据源自动启动并保持连接；健康状态同步到监控指标
 * @dependencies context, sync, log/slog, time
 * @refs interface.go, base.go, service/metrics/metrics.go
 */

package datasource

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sensorhub-service/service/distributed_lock"
	"sensorhub-service/service/metrics"
	"sensorhub-service/service/models"
)

// DefaultDataSourceManager 默认数据源管理器实现
type DefaultDataSourceManager struct {
	mu              sync.RWMutex
	dataSources     map[string]DataSourceInterface
	dataSourceStats map[string]*DataSourceStatus
	factory         DataSourceFactory
	lockExecutor    *distributed_lock.LockExecutor

	ctx       context.Context
	cancel    context.CancelFunc
	isRunning bool

	healthCheckInterval  time.Duration
	reconnectInterval    time.Duration
	maxReconnectAttempts int
}

// NewDefaultDataSourceManager 创建默认数据源管理器并启动后台监控循环
func NewDefaultDataSourceManager(factory DataSourceFactory) *DefaultDataSourceManager {
	ctx, cancel := context.WithCancel(context.Background())

	manager := &DefaultDataSourceManager{
		dataSources:          map[string]DataSourceInterface{},
		dataSourceStats:      map[string]*DataSourceStatus{},
		factory:              factory,
		ctx:                  ctx,
		cancel:               cancel,
		healthCheckInterval:  30 * time.Second,
		reconnectInterval:    5 * time.Minute,
		maxReconnectAttempts: 3,
	}

	go manager.runMonitorLoop()

	return manager
}

// SetLockExecutor 注入分布式锁执行器，之后创建的消息类数据源会用它保证单实例消费
func (m *DefaultDataSourceManager) SetLockExecutor(executor *distributed_lock.LockExecutor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockExecutor = executor
}

// currentLockExecutor 读取当前注入的锁执行器
func (m *DefaultDataSourceManager) currentLockExecutor() *distributed_lock.LockExecutor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lockExecutor
}

// injectLockExecutor 为支持分布式锁的实例注入执行器
func injectLockExecutor(instance DataSourceInterface, executor *distributed_lock.LockExecutor) {
	if executor == nil {
		return
	}
	if aware, ok := instance.(interface {
		SetLockExecutor(*distributed_lock.LockExecutor)
	}); ok {
		aware.SetLockExecutor(executor)
	}
}

// snapshot 复制当前实例表，调用方在锁外遍历
func (m *DefaultDataSourceManager) snapshot() map[string]DataSourceInterface {
	m.mu.RLock()
	defer m.mu.RUnlock()

	copied := make(map[string]DataSourceInterface, len(m.dataSources))
	for id, instance := range m.dataSources {
		copied[id] = instance
	}
	return copied
}

// instanceOf 按ID取实例，不更新使用统计
func (m *DefaultDataSourceManager) instanceOf(dsID string) (DataSourceInterface, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	instance, ok := m.dataSources[dsID]
	return instance, ok
}

// mutateStatus 在锁内修改指定数据源的状态记录，不存在时静默跳过
func (m *DefaultDataSourceManager) mutateStatus(dsID string, fn func(*DataSourceStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status, ok := m.dataSourceStats[dsID]; ok {
		fn(status)
	}
}

// Register 注册数据源实例。注册流程持有管理器锁，注册动作串行执行。
func (m *DefaultDataSourceManager) Register(ctx context.Context, ds *models.DataSource) error {
	switch {
	case ds == nil:
		return fmt.Errorf("数据源配置不能为空")
	case ds.ID == "":
		return fmt.Errorf("数据源ID不能为空")
	case ds.Type == "":
		return fmt.Errorf("数据源类型不能为空")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.dataSources[ds.ID]; exists {
		return fmt.Errorf("数据源 %s 已存在", ds.ID)
	}

	instance, err := m.factory.Create(ds.Type)
	if err != nil {
		return fmt.Errorf("创建数据源实例失败: %v", err)
	}
	injectLockExecutor(instance, m.lockExecutor)

	if err := instance.Init(ctx, ds); err != nil {
		return fmt.Errorf("初始化数据源失败: %v", err)
	}

	status := &DataSourceStatus{
		ID:            ds.ID,
		Type:          ds.Type,
		Name:          ds.Name,
		IsResident:    instance.IsResident(),
		IsInitialized: true,
		MaxReconnects: m.maxReconnectAttempts,
		AutoRestart:   instance.IsResident(), // 常驻数据源默认自动重启
		Metadata:      map[string]interface{}{},
	}

	if !instance.IsResident() {
		status.HealthStatus = "ready"
	} else {
		// 常驻数据源注册时立即启动；启动失败的也保留下来，交给后台重连
		if err := instance.Start(ctx); err != nil {
			status.HealthStatus = "error"
			status.ErrorMessage = fmt.Sprintf("启动失败: %v", err)
			slog.Error("常驻数据源启动失败，等待自动重连",
				"datasource_id", ds.ID, "type", ds.Type, "error", err)
		} else {
			status.IsStarted = true
			status.StartedAt = time.Now()
			status.HealthStatus = "online"
			slog.Info("常驻数据源启动成功", "datasource_id", ds.ID, "type", ds.Type)
		}
		status.LastHealthCheck = time.Now()
	}

	m.dataSources[ds.ID] = instance
	m.dataSourceStats[ds.ID] = status
	m.updateUpMetric(ds.Type, ds.ID, status.HealthStatus)
	slog.Info("数据源注册成功", "datasource_id", ds.ID, "type", ds.Type)

	return nil
}

// Get 获取数据源实例并记一次使用
func (m *DefaultDataSourceManager) Get(dsID string) (DataSourceInterface, error) {
	if dsID == "" {
		return nil, fmt.Errorf("数据源ID不能为空")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	instance, ok := m.dataSources[dsID]
	if !ok {
		return nil, fmt.Errorf("数据源 %s 不存在", dsID)
	}

	if status, ok := m.dataSourceStats[dsID]; ok {
		status.LastUsed = time.Now()
		status.UsageCount++
	}

	return instance, nil
}

// CreateInstance 创建数据源实例（不注册到管理器中）
func (m *DefaultDataSourceManager) CreateInstance(dsType string) (DataSourceInterface, error) {
	if dsType == "" {
		return nil, fmt.Errorf("数据源类型不能为空")
	}

	instance, err := m.factory.Create(dsType)
	if err != nil {
		return nil, fmt.Errorf("创建数据源实例失败: %v", err)
	}
	injectLockExecutor(instance, m.currentLockExecutor())

	return instance, nil
}

// CreateTestInstance 创建测试数据源实例（非常驻模式，用于连接测试）
func (m *DefaultDataSourceManager) CreateTestInstance(dsType string) (DataSourceInterface, error) {
	instance, err := m.CreateInstance(dsType)
	if err != nil {
		return nil, err
	}

	// 测试实例一律按非常驻处理，避免注册时自动启动消费循环
	if setter, ok := instance.(interface{ SetResident(bool) }); ok {
		setter.SetResident(false)
	}

	return instance, nil
}

// Remove 停止并移除数据源实例
func (m *DefaultDataSourceManager) Remove(dsID string) error {
	if dsID == "" {
		return fmt.Errorf("数据源ID不能为空")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	instance, ok := m.dataSources[dsID]
	if !ok {
		return fmt.Errorf("数据源 %s 不存在", dsID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := instance.Stop(ctx); err != nil {
		slog.Warn("停止数据源时发生错误", "datasource_id", dsID, "error", err)
	}

	metrics.DatasourceUp.DeleteLabelValues(instance.GetType(), dsID)
	delete(m.dataSources, dsID)
	delete(m.dataSourceStats, dsID)
	slog.Info("数据源已移除", "datasource_id", dsID)

	return nil
}

// List 列出所有注册的数据源
func (m *DefaultDataSourceManager) List() map[string]DataSourceInterface {
	return m.snapshot()
}

// StartAll 启动所有未运行的常驻数据源，非常驻数据源不受影响
func (m *DefaultDataSourceManager) StartAll(ctx context.Context) error {
	var failures []string
	started := 0
	sources := m.snapshot()

	for id, instance := range sources {
		if !instance.IsResident() || instance.IsStarted() {
			continue
		}

		if err := instance.Start(ctx); err != nil {
			failures = append(failures, fmt.Sprintf("启动常驻数据源 %s 失败: %v", id, err))
			m.mutateStatus(id, func(s *DataSourceStatus) {
				s.HealthStatus = "error"
				s.ErrorMessage = err.Error()
			})
			m.updateUpMetric(instance.GetType(), id, "error")
			continue
		}

		started++
		m.mutateStatus(id, func(s *DataSourceStatus) {
			s.IsStarted = true
			s.StartedAt = time.Now()
			s.HealthStatus = "online"
			s.ErrorMessage = ""
		})
		m.updateUpMetric(instance.GetType(), id, "online")
	}

	slog.Info("常驻数据源启动完成",
		"total", len(sources), "started", started, "failed", len(failures))

	if len(failures) > 0 {
		return fmt.Errorf("启动部分数据源失败: %v", failures)
	}
	return nil
}

// StopAll 停止所有数据源
func (m *DefaultDataSourceManager) StopAll(ctx context.Context) error {
	var failures []string

	for id, instance := range m.snapshot() {
		if err := instance.Stop(ctx); err != nil {
			failures = append(failures, fmt.Sprintf("停止数据源 %s 失败: %v", id, err))
			continue
		}
		m.updateUpMetric(instance.GetType(), id, "offline")
	}

	if len(failures) > 0 {
		return fmt.Errorf("停止部分数据源失败: %v", failures)
	}
	return nil
}

// HealthCheckAll 并发检查所有数据源的健康状态
func (m *DefaultDataSourceManager) HealthCheckAll(ctx context.Context) map[string]*HealthStatus {
	sources := m.snapshot()

	type healthResult struct {
		id     string
		status *HealthStatus
	}
	resultCh := make(chan healthResult, len(sources))

	for id, instance := range sources {
		go func(dsID string, ds DataSourceInterface) {
			status, err := ds.HealthCheck(ctx)
			if err != nil {
				status = &HealthStatus{
					Status:    "error",
					Message:   fmt.Sprintf("健康检查失败: %v", err),
					LastCheck: time.Now(),
				}
			}
			resultCh <- healthResult{id: dsID, status: status}
		}(id, instance)
	}

	results := make(map[string]*HealthStatus, len(sources))
	for range sources {
		r := <-resultCh
		results[r.id] = r.status
	}
	return results
}

// ExecuteDataSource 执行数据源操作，非常驻数据源按需启停
func (m *DefaultDataSourceManager) ExecuteDataSource(ctx context.Context, dsID string, request *ExecuteRequest) (*ExecuteResponse, error) {
	instance, err := m.Get(dsID)
	if err != nil {
		return nil, err
	}

	if !instance.IsResident() && !instance.IsStarted() {
		if err := instance.Start(ctx); err != nil {
			return nil, fmt.Errorf("启动数据源失败: %v", err)
		}
		defer func() {
			if stopErr := instance.Stop(ctx); stopErr != nil {
				slog.Warn("停止数据源时发生错误", "datasource_id", dsID, "error", stopErr)
			}
		}()
	}

	return instance.Execute(ctx, request)
}

// GetStatistics 获取管理器统计信息
func (m *DefaultDataSourceManager) GetStatistics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	typeCount := map[string]int{}
	residentCount, onlineCount := 0, 0

	for _, instance := range m.dataSources {
		typeCount[instance.GetType()]++
		if instance.IsResident() {
			residentCount++
		}
		// 简单的在线判断，不执行完整健康检查
		if instance.IsInitialized() && (instance.IsStarted() || !instance.IsResident()) {
			onlineCount++
		}
	}

	return map[string]interface{}{
		"total_count":       len(m.dataSources),
		"type_distribution": typeCount,
		"resident_count":    residentCount,
		"online_count":      onlineCount,
		"supported_types":   m.factory.GetSupportedTypes(),
	}
}

// runMonitorLoop 后台监控循环：周期健康检查 + 周期重连检查
func (m *DefaultDataSourceManager) runMonitorLoop() {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = true
	m.mu.Unlock()

	healthTick := time.NewTicker(m.healthCheckInterval)
	reconnectTick := time.NewTicker(m.reconnectInterval)
	defer healthTick.Stop()
	defer reconnectTick.Stop()

	slog.Info("数据源管理器后台监控已启动")

	for {
		select {
		case <-m.ctx.Done():
			slog.Info("数据源管理器后台监控停止")
			return
		case <-healthTick.C:
			m.performHealthCheck()
		case <-reconnectTick.C:
			m.performReconnection()
		}
	}
}

// performHealthCheck 异步检查每个数据源并同步状态与指标
func (m *DefaultDataSourceManager) performHealthCheck() {
	for id, instance := range m.snapshot() {
		go m.checkOne(id, instance)
	}
}

// checkOne 单个数据源的健康检查，结果写回状态表
func (m *DefaultDataSourceManager) checkOne(dsID string, ds DataSourceInterface) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status, err := ds.HealthCheck(ctx)

	healthStatus := "error"
	if err == nil {
		healthStatus = status.Status
	}

	m.mutateStatus(dsID, func(s *DataSourceStatus) {
		s.LastHealthCheck = time.Now()
		s.HealthStatus = healthStatus
		if err != nil {
			s.ErrorMessage = err.Error()
		} else {
			s.ErrorMessage = ""
		}
		// 健康检查反映实际启动状态，供重连检查使用
		s.IsStarted = ds.IsStarted()
	})

	m.updateUpMetric(ds.GetType(), dsID, healthStatus)

	if err != nil {
		slog.Warn("数据源健康检查失败", "datasource_id", dsID, "error", err)
	}
}

// performReconnection 找出需要重连的常驻数据源并逐个尝试
func (m *DefaultDataSourceManager) performReconnection() {
	for _, dsID := range m.reconnectCandidates() {
		go m.attemptReconnect(dsID)
	}
}

// reconnectCandidates 符合重连条件：常驻 + 开启自动重启 + 未运行 + 处于错误态
func (m *DefaultDataSourceManager) reconnectCandidates() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates []string
	for id, status := range m.dataSourceStats {
		if status.IsResident && status.AutoRestart && !status.IsStarted && status.HealthStatus == "error" {
			candidates = append(candidates, id)
		}
	}
	return candidates
}

// attemptReconnect 尝试重连数据源，超过最大次数后放弃
func (m *DefaultDataSourceManager) attemptReconnect(dsID string) {
	instance, ok := m.instanceOf(dsID)
	if !ok {
		return
	}
	snapshot, err := m.GetDataSourceStatus(dsID)
	if err != nil {
		return
	}

	if snapshot.ReconnectAttempts >= snapshot.MaxReconnects {
		slog.Warn("数据源已达到最大重连次数，停止重连",
			"datasource_id", dsID, "max_reconnects", snapshot.MaxReconnects)
		return
	}

	attempt := snapshot.ReconnectAttempts + 1
	slog.Info("尝试重连数据源",
		"datasource_id", dsID, "attempt", attempt, "max_reconnects", snapshot.MaxReconnects)

	m.mutateStatus(dsID, func(s *DataSourceStatus) {
		s.ReconnectAttempts++
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 先停再启，清理半开连接
	if instance.IsStarted() {
		if err := instance.Stop(ctx); err != nil {
			slog.Warn("停止数据源失败", "datasource_id", dsID, "error", err)
		}
	}

	if err := instance.Start(ctx); err != nil {
		m.mutateStatus(dsID, func(s *DataSourceStatus) {
			s.HealthStatus = "error"
			s.ErrorMessage = fmt.Sprintf("重连失败 (第%d次): %v", attempt, err)
		})
		m.updateUpMetric(instance.GetType(), dsID, "error")
		slog.Error("数据源重连失败", "datasource_id", dsID, "attempt", attempt, "error", err)
		return
	}

	m.mutateStatus(dsID, func(s *DataSourceStatus) {
		s.IsStarted = true
		s.StartedAt = time.Now()
		s.HealthStatus = "online"
		s.ErrorMessage = ""
		s.ReconnectAttempts = 0
	})
	m.updateUpMetric(instance.GetType(), dsID, "online")
	slog.Info("数据源重连成功", "datasource_id", dsID)
}

// updateUpMetric 同步数据源在线指标
func (m *DefaultDataSourceManager) updateUpMetric(dsType, dsID, healthStatus string) {
	up := 0.0
	if healthStatus == "online" || healthStatus == "ready" {
		up = 1.0
	}
	metrics.DatasourceUp.WithLabelValues(dsType, dsID).Set(up)
}

// GetDataSourceStatus 获取数据源状态的副本
func (m *DefaultDataSourceManager) GetDataSourceStatus(dsID string) (*DataSourceStatus, error) {
	if dsID == "" {
		return nil, fmt.Errorf("数据源ID不能为空")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	status, ok := m.dataSourceStats[dsID]
	if !ok {
		return nil, fmt.Errorf("数据源 %s 不存在", dsID)
	}

	copied := *status
	return &copied, nil
}

// GetAllDataSourceStatus 获取所有数据源状态的副本
func (m *DefaultDataSourceManager) GetAllDataSourceStatus() map[string]*DataSourceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]*DataSourceStatus, len(m.dataSourceStats))
	for id, status := range m.dataSourceStats {
		copied := *status
		result[id] = &copied
	}
	return result
}

// Shutdown 停止后台监控并关闭所有数据源，可重复调用
func (m *DefaultDataSourceManager) Shutdown() error {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.isRunning = false
	m.mu.Unlock()

	m.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return m.StopAll(ctx)
}

// RestartResidentDataSource 重启指定的常驻数据源并重置重连计数
func (m *DefaultDataSourceManager) RestartResidentDataSource(ctx context.Context, dsID string) error {
	instance, ok := m.instanceOf(dsID)
	if !ok {
		return fmt.Errorf("数据源 %s 不存在", dsID)
	}
	snapshot, err := m.GetDataSourceStatus(dsID)
	if err != nil {
		return fmt.Errorf("数据源 %s 状态不存在", dsID)
	}
	if !snapshot.IsResident {
		return fmt.Errorf("数据源 %s 不是常驻数据源", dsID)
	}

	slog.Info("重启常驻数据源", "datasource_id", dsID)

	if instance.IsStarted() {
		if err := instance.Stop(ctx); err != nil {
			return fmt.Errorf("停止数据源失败: %w", err)
		}
	}

	m.mutateStatus(dsID, func(s *DataSourceStatus) {
		s.ReconnectAttempts = 0
		s.ErrorMessage = ""
	})

	if err := instance.Start(ctx); err != nil {
		m.mutateStatus(dsID, func(s *DataSourceStatus) {
			s.IsStarted = false
			s.HealthStatus = "error"
			s.ErrorMessage = fmt.Sprintf("重启失败: %v", err)
		})
		m.updateUpMetric(instance.GetType(), dsID, "error")
		return fmt.Errorf("启动数据源失败: %w", err)
	}

	m.mutateStatus(dsID, func(s *DataSourceStatus) {
		s.IsStarted = true
		s.StartedAt = time.Now()
		s.HealthStatus = "online"
		s.LastHealthCheck = time.Now()
	})
	m.updateUpMetric(instance.GetType(), dsID, "online")

	slog.Info("常驻数据源重启成功", "datasource_id", dsID)
	return nil
}

// GetResidentDataSources 获取所有常驻数据源的状态副本
func (m *DefaultDataSourceManager) GetResidentDataSources() map[string]*DataSourceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	resident := map[string]*DataSourceStatus{}
	for id, status := range m.dataSourceStats {
		if !status.IsResident {
			continue
		}
		copied := *status
		resident[id] = &copied
	}
	return resident
}

// SetAutoRestart 开关数据源的后台自动重启
func (m *DefaultDataSourceManager) SetAutoRestart(dsID string, autoRestart bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.dataSourceStats[dsID]
	if !ok {
		return fmt.Errorf("数据源 %s 不存在", dsID)
	}

	status.AutoRestart = autoRestart
	return nil
}

// ResetReconnectAttempts 清零数据源的重连计数
func (m *DefaultDataSourceManager) ResetReconnectAttempts(dsID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.dataSourceStats[dsID]
	if !ok {
		return fmt.Errorf("数据源 %s 不存在", dsID)
	}

	status.ReconnectAttempts = 0
	status.ErrorMessage = ""
	return nil
}

// GetDataSourceMetrics 获取数据源的运行指标，合并实例自身的扩展指标
func (m *DefaultDataSourceManager) GetDataSourceMetrics(dsID string) (map[string]interface{}, error) {
	instance, ok := m.instanceOf(dsID)
	if !ok {
		return nil, fmt.Errorf("数据源 %s 不存在", dsID)
	}
	status, err := m.GetDataSourceStatus(dsID)
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{
		"id":                 status.ID,
		"type":               status.Type,
		"name":               status.Name,
		"is_resident":        status.IsResident,
		"is_started":         status.IsStarted,
		"usage_count":        status.UsageCount,
		"reconnect_attempts": status.ReconnectAttempts,
		"max_reconnects":     status.MaxReconnects,
		"auto_restart":       status.AutoRestart,
		"health_status":      status.HealthStatus,
		"last_health_check":  status.LastHealthCheck,
		"started_at":         status.StartedAt,
		"last_used":          status.LastUsed,
	}

	// 数据源自身的扩展指标
	if provider, ok := instance.(interface {
		GetMetrics() map[string]interface{}
	}); ok {
		for k, v := range provider.GetMetrics() {
			result[k] = v
		}
	}

	return result, nil
}
