/*
 * @module service/datasource/test_utils
 * @description 数据源测试工具，提供可注入故障的桩数据源和通用测试辅助函数
 * @architecture 测试辅助模式 - 桩对象记录调用次数并按操作注入故障
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 测试流程：创建桩数据源 -> 注入故障 -> 执行测试 -> 检查调用计数
 * @rules 仅用于测试环境，不参与生产逻辑
 * @dependencies sync, time
 * @refs interface.go, base.go
 */

package datasource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sensorhub-service/service/models"
)

// 桩数据源支持的操作名，用于调用计数和故障注入
const (
	stubOpInit    = "init"
	stubOpStart   = "start"
	stubOpStop    = "stop"
	stubOpExecute = "execute"
	stubOpHealth  = "health"
)

// StubDataSource 可编程的桩数据源，框架测试用它替代真实的接入实现
type StubDataSource struct {
	*BaseDataSource

	mu       sync.Mutex
	calls    map[string]int
	failures map[string]error

	executeResponse *ExecuteResponse
	healthStatus    *HealthStatus
}

// NewStubDataSource 创建桩数据源
func NewStubDataSource(dsType string, isResident bool) *StubDataSource {
	return &StubDataSource{
		BaseDataSource: NewBaseDataSource(dsType, isResident),
		calls:          make(map[string]int),
		failures:       make(map[string]error),
		executeResponse: &ExecuteResponse{
			Success:   true,
			RowCount:  1,
			Message:   "ok",
			Timestamp: time.Now(),
		},
		healthStatus: &HealthStatus{
			Status:       "online",
			Message:      "stub healthy",
			LastCheck:    time.Now(),
			ResponseTime: time.Millisecond,
			Details:      map[string]interface{}{},
		},
	}
}

// step 记录一次操作调用并返回为该操作注入的故障
func (s *StubDataSource) step(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	return s.failures[op]
}

// FailOn 为指定操作注入持续性故障，err为nil时清除
func (s *StubDataSource) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Calls 返回指定操作的调用次数
func (s *StubDataSource) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Reset 清空调用计数和故障注入
func (s *StubDataSource) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[string]int)
	s.failures = make(map[string]error)
}

// SetExecuteResponse 设置Execute的固定返回值
func (s *StubDataSource) SetExecuteResponse(resp *ExecuteResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executeResponse = resp
}

// SetHealthStatus 设置HealthCheck的固定返回值
func (s *StubDataSource) SetHealthStatus(status *HealthStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthStatus = status
}

func (s *StubDataSource) Init(ctx context.Context, ds *models.DataSource) error {
	if err := s.step(stubOpInit); err != nil {
		return err
	}
	return s.BaseDataSource.Init(ctx, ds)
}

func (s *StubDataSource) Start(ctx context.Context) error {
	if err := s.step(stubOpStart); err != nil {
		return err
	}
	return s.BaseDataSource.Start(ctx)
}

func (s *StubDataSource) Stop(ctx context.Context) error {
	if err := s.step(stubOpStop); err != nil {
		return err
	}
	return s.BaseDataSource.Stop(ctx)
}

func (s *StubDataSource) Execute(ctx context.Context, request *ExecuteRequest) (*ExecuteResponse, error) {
	if err := s.step(stubOpExecute); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	resp := *s.executeResponse
	resp.Timestamp = time.Now()
	if resp.Metadata == nil {
		resp.Metadata = map[string]interface{}{}
	}
	return &resp, nil
}

func (s *StubDataSource) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	if err := s.step(stubOpHealth); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	status := *s.healthStatus
	status.LastCheck = time.Now()
	if status.Details == nil {
		status.Details = map[string]interface{}{}
	}
	return &status, nil
}

// TestDataSourceConfig 测试数据源配置
type TestDataSourceConfig struct {
	ID               string
	Name             string
	Category         string
	Type             string
	ConnectionConfig map[string]interface{}
	ParamsConfig     map[string]interface{}
	Script           string
	ScriptEnabled    bool
}

// CreateTestDataSource 按配置创建测试用数据源模型，空字段使用默认值
func CreateTestDataSource(config TestDataSourceConfig) *models.DataSource {
	if config.ID == "" {
		config.ID = "test-datasource-id"
	}
	if config.Name == "" {
		config.Name = "测试传感器数据源"
	}
	if config.Category == "" {
		config.Category = "messaging"
	}
	if config.Type == "" {
		config.Type = "stub"
	}
	if config.ConnectionConfig == nil {
		config.ConnectionConfig = map[string]interface{}{}
	}
	if config.ParamsConfig == nil {
		config.ParamsConfig = map[string]interface{}{}
	}

	now := time.Now()
	return &models.DataSource{
		ID:               config.ID,
		Name:             config.Name,
		Category:         config.Category,
		Type:             config.Type,
		Status:           "active",
		ConnectionConfig: models.JSONB(config.ConnectionConfig),
		ParamsConfig:     models.JSONB(config.ParamsConfig),
		Script:           config.Script,
		ScriptEnabled:    config.ScriptEnabled,
		CreatedAt:        now,
		CreatedBy:        "test",
		UpdatedAt:        now,
		UpdatedBy:        "test",
	}
}

// CreateTestExecuteRequest 创建测试执行请求
func CreateTestExecuteRequest(operation string, data interface{}) *ExecuteRequest {
	return &ExecuteRequest{
		Operation: operation,
		Data:      data,
		Params:    map[string]interface{}{},
		Timeout:   10 * time.Second,
	}
}

// WaitForCondition 轮询等待条件满足，超时返回错误
func WaitForCondition(condition func() bool, timeout time.Duration, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if condition() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("等待条件超时")
		}
		time.Sleep(interval)
	}
}
