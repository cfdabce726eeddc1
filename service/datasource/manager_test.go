/*
 * @module service/datasource/manager_test
 * @description 数据源管理器单元测试，覆盖注册、生命周期、按需执行和后台恢复逻辑
 * @architecture 单元测试 - 使用桩数据源驱动管理器行为
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 测试流程：构造管理器 -> 注册桩数据源 -> 驱动生命周期 -> 检查状态和调用计数
 * @rules 不依赖真实消息中间件，全部通过桩数据源驱动
 * @dependencies testing, context, time
 * @refs manager.go, test_utils.go
 */

package datasource

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
)

// newStubManager 构造注册了流式桩（常驻）和批量桩（非常驻）两种类型的管理器
func newStubManager() *DefaultDataSourceManager {
	factory := NewDefaultDataSourceFactory()
	factory.RegisterType("stub-stream", func() DataSourceInterface {
		return NewStubDataSource("stub-stream", true)
	})
	factory.RegisterType("stub-batch", func() DataSourceInterface {
		return NewStubDataSource("stub-batch", false)
	})
	return NewDefaultDataSourceManager(factory)
}

// stubFrom 取出已注册的桩实例，不经过Get避免影响使用统计
func stubFrom(t *testing.T, m *DefaultDataSourceManager, id string) *StubDataSource {
	t.Helper()
	m.mu.RLock()
	instance := m.dataSources[id]
	m.mu.RUnlock()
	stub, ok := instance.(*StubDataSource)
	if !ok {
		t.Fatalf("datasource %s is not a stub instance", id)
	}
	return stub
}

func registerSource(t *testing.T, m *DefaultDataSourceManager, id, name, dsType string) *StubDataSource {
	t.Helper()
	ds := CreateTestDataSource(TestDataSourceConfig{ID: id, Name: name, Type: dsType})
	if err := m.Register(context.Background(), ds); err != nil {
		t.Fatalf("register datasource %s: %v", id, err)
	}
	return stubFrom(t, m, id)
}

func TestManagerRegisterStartsResidentSource(t *testing.T) {
	m := newStubManager()
	defer m.Shutdown()

	stub := registerSource(t, m, "plant-a-gateway", "车间A温湿度网关", "stub-stream")

	if stub.Calls("start") != 1 {
		t.Errorf("expected resident source started once, got %d", stub.Calls("start"))
	}

	status, err := m.GetDataSourceStatus("plant-a-gateway")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !status.IsResident || !status.IsStarted {
		t.Errorf("expected resident started status, got %+v", status)
	}
	if status.HealthStatus != "online" {
		t.Errorf("expected online health, got %s", status.HealthStatus)
	}
	if status.StartedAt.IsZero() {
		t.Errorf("expected StartedAt to be set")
	}
}

func TestManagerRegisterNonResidentReady(t *testing.T) {
	m := newStubManager()
	defer m.Shutdown()

	stub := registerSource(t, m, "history-import", "历史数据导入", "stub-batch")

	if stub.Calls("start") != 0 {
		t.Errorf("non-resident source should not auto-start, got %d starts", stub.Calls("start"))
	}

	status, _ := m.GetDataSourceStatus("history-import")
	if status.HealthStatus != "ready" {
		t.Errorf("expected ready health, got %s", status.HealthStatus)
	}
	if status.IsStarted {
		t.Errorf("expected non-resident source not started")
	}
}

func TestManagerRegisterValidation(t *testing.T) {
	m := newStubManager()
	defer m.Shutdown()
	ctx := context.Background()

	if err := m.Register(ctx, nil); err == nil {
		t.Errorf("expected error for nil datasource")
	}

	noID := CreateTestDataSource(TestDataSourceConfig{Type: "stub-batch"})
	noID.ID = ""
	if err := m.Register(ctx, noID); err == nil {
		t.Errorf("expected error for empty id")
	}

	noType := CreateTestDataSource(TestDataSourceConfig{ID: "no-type"})
	noType.Type = ""
	if err := m.Register(ctx, noType); err == nil {
		t.Errorf("expected error for empty type")
	}

	if err := m.Register(ctx, CreateTestDataSource(TestDataSourceConfig{ID: "opc-gw", Type: "opc-ua"})); err == nil {
		t.Errorf("expected error for unregistered type")
	}

	registerSource(t, m, "dup-id", "重复注册", "stub-batch")
	if err := m.Register(ctx, CreateTestDataSource(TestDataSourceConfig{ID: "dup-id", Type: "stub-batch"})); err == nil {
		t.Errorf("expected error for duplicate id")
	}
}

func TestManagerRegisterKeepsFailedResident(t *testing.T) {
	// 注册时启动失败的常驻数据源要保留下来，等待后台重连
	factory := NewDefaultDataSourceFactory()
	factory.RegisterType("stub-stream", func() DataSourceInterface {
		stub := NewStubDataSource("stub-stream", true)
		stub.FailOn(stubOpStart, fmt.Errorf("broker unreachable"))
		return stub
	})
	m := NewDefaultDataSourceManager(factory)
	defer m.Shutdown()

	ds := CreateTestDataSource(TestDataSourceConfig{ID: "plant-b-gateway", Type: "stub-stream"})
	if err := m.Register(context.Background(), ds); err != nil {
		t.Fatalf("registration should succeed even if start fails: %v", err)
	}

	status, err := m.GetDataSourceStatus("plant-b-gateway")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.HealthStatus != "error" {
		t.Errorf("expected error health, got %s", status.HealthStatus)
	}
	if !strings.Contains(status.ErrorMessage, "启动失败") {
		t.Errorf("expected start failure message, got %s", status.ErrorMessage)
	}

	if _, err := m.Get("plant-b-gateway"); err != nil {
		t.Errorf("failed source should still be retrievable: %v", err)
	}
}

func TestManagerStartAllRecoversFailedResident(t *testing.T) {
	factory := NewDefaultDataSourceFactory()
	factory.RegisterType("stub-stream", func() DataSourceInterface {
		stub := NewStubDataSource("stub-stream", true)
		stub.FailOn(stubOpStart, fmt.Errorf("broker unreachable"))
		return stub
	})
	factory.RegisterType("stub-batch", func() DataSourceInterface {
		return NewStubDataSource("stub-batch", false)
	})
	m := NewDefaultDataSourceManager(factory)
	defer m.Shutdown()
	ctx := context.Background()

	m.Register(ctx, CreateTestDataSource(TestDataSourceConfig{ID: "plant-a-gateway", Type: "stub-stream"}))
	m.Register(ctx, CreateTestDataSource(TestDataSourceConfig{ID: "history-import", Type: "stub-batch"}))

	stream := stubFrom(t, m, "plant-a-gateway")
	if stream.IsStarted() {
		t.Fatalf("stream source should not be started after failed registration start")
	}

	// 故障恢复后StartAll补启动失败的常驻数据源
	stream.FailOn(stubOpStart, nil)
	if err := m.StartAll(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stream.Calls("start") != 2 {
		t.Errorf("expected second start attempt, got %d", stream.Calls("start"))
	}
	status, _ := m.GetDataSourceStatus("plant-a-gateway")
	if status.HealthStatus != "online" || !status.IsStarted {
		t.Errorf("expected recovered online status, got %+v", status)
	}

	// 非常驻数据源不受StartAll影响
	batch := stubFrom(t, m, "history-import")
	if batch.Calls("start") != 0 {
		t.Errorf("StartAll should skip non-resident sources, got %d starts", batch.Calls("start"))
	}
}

func TestManagerGetTracksUsage(t *testing.T) {
	m := newStubManager()
	defer m.Shutdown()
	registerSource(t, m, "history-import", "历史数据导入", "stub-batch")

	if _, err := m.Get("history-import"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Get("history-import"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	status, _ := m.GetDataSourceStatus("history-import")
	if status.UsageCount != 2 {
		t.Errorf("expected usage count 2, got %d", status.UsageCount)
	}
	if status.LastUsed.IsZero() {
		t.Errorf("expected LastUsed to be set")
	}

	if _, err := m.Get(""); err == nil {
		t.Errorf("expected error for empty id")
	}
	if _, err := m.Get("missing"); err == nil {
		t.Errorf("expected error for unknown id")
	}
}

func TestManagerRemoveStopsInstance(t *testing.T) {
	m := newStubManager()
	defer m.Shutdown()
	stub := registerSource(t, m, "plant-a-gateway", "车间A温湿度网关", "stub-stream")

	if err := m.Remove("plant-a-gateway"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stub.Calls("stop") != 1 {
		t.Errorf("expected stop on remove, got %d", stub.Calls("stop"))
	}

	if _, err := m.Get("plant-a-gateway"); err == nil {
		t.Errorf("expected error after removal")
	}
	if err := m.Remove("plant-a-gateway"); err == nil {
		t.Errorf("expected error removing twice")
	}
}

func TestManagerExecuteStartsOnDemand(t *testing.T) {
	m := newStubManager()
	defer m.Shutdown()
	stub := registerSource(t, m, "history-import", "历史数据导入", "stub-batch")

	resp, err := m.ExecuteDataSource(context.Background(), "history-import", CreateTestExecuteRequest(OperationImport, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Success {
		t.Errorf("expected successful response")
	}

	// 非常驻数据源按需启动，执行完自动停止
	if stub.Calls("start") != 1 || stub.Calls("execute") != 1 || stub.Calls("stop") != 1 {
		t.Errorf("expected start/execute/stop once, got %d/%d/%d",
			stub.Calls("start"), stub.Calls("execute"), stub.Calls("stop"))
	}
}

func TestManagerExecuteFailure(t *testing.T) {
	m := newStubManager()
	defer m.Shutdown()
	stub := registerSource(t, m, "history-import", "历史数据导入", "stub-batch")
	stub.FailOn(stubOpExecute, fmt.Errorf("file missing"))

	_, err := m.ExecuteDataSource(context.Background(), "history-import", CreateTestExecuteRequest(OperationImport, nil))
	if err == nil || !strings.Contains(err.Error(), "file missing") {
		t.Errorf("expected injected execute error, got %v", err)
	}

	_, err = m.ExecuteDataSource(context.Background(), "missing", CreateTestExecuteRequest(OperationImport, nil))
	if err == nil {
		t.Errorf("expected error for unknown datasource")
	}
}

func TestManagerHealthCheckAll(t *testing.T) {
	m := newStubManager()
	defer m.Shutdown()
	registerSource(t, m, "plant-a-gateway", "车间A温湿度网关", "stub-stream")
	batch := registerSource(t, m, "history-import", "历史数据导入", "stub-batch")
	batch.FailOn(stubOpHealth, fmt.Errorf("disk offline"))

	results := m.HealthCheckAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results["plant-a-gateway"].Status != "online" {
		t.Errorf("expected online gateway, got %s", results["plant-a-gateway"].Status)
	}
	if results["history-import"].Status != "error" {
		t.Errorf("expected error status for failing source, got %s", results["history-import"].Status)
	}
	if !strings.Contains(results["history-import"].Message, "健康检查失败") {
		t.Errorf("expected health failure message, got %s", results["history-import"].Message)
	}
}

func TestManagerStatisticsByType(t *testing.T) {
	m := newStubManager()
	defer m.Shutdown()
	registerSource(t, m, "plant-a-gateway", "车间A温湿度网关", "stub-stream")
	registerSource(t, m, "plant-b-gateway", "车间B温湿度网关", "stub-stream")
	registerSource(t, m, "history-import", "历史数据导入", "stub-batch")

	stats := m.GetStatistics()
	if stats["total_count"] != 3 {
		t.Errorf("expected total 3, got %v", stats["total_count"])
	}
	if stats["resident_count"] != 2 {
		t.Errorf("expected 2 resident sources, got %v", stats["resident_count"])
	}
	if stats["online_count"] != 3 {
		t.Errorf("expected 3 online sources, got %v", stats["online_count"])
	}

	dist, ok := stats["type_distribution"].(map[string]int)
	if !ok {
		t.Fatalf("expected type distribution map, got %T", stats["type_distribution"])
	}
	if dist["stub-stream"] != 2 || dist["stub-batch"] != 1 {
		t.Errorf("unexpected type distribution: %v", dist)
	}
}

func TestManagerStatusSnapshotIsolated(t *testing.T) {
	m := newStubManager()
	defer m.Shutdown()
	registerSource(t, m, "plant-a-gateway", "车间A温湿度网关", "stub-stream")

	status, _ := m.GetDataSourceStatus("plant-a-gateway")
	status.HealthStatus = "mutated"

	fresh, _ := m.GetDataSourceStatus("plant-a-gateway")
	if fresh.HealthStatus == "mutated" {
		t.Errorf("status snapshot should be a copy")
	}

	all := m.GetAllDataSourceStatus()
	all["plant-a-gateway"].HealthStatus = "mutated"
	fresh, _ = m.GetDataSourceStatus("plant-a-gateway")
	if fresh.HealthStatus == "mutated" {
		t.Errorf("bulk status snapshot should be a copy")
	}
}

func TestManagerRestartResidentSource(t *testing.T) {
	m := newStubManager()
	defer m.Shutdown()
	stub := registerSource(t, m, "plant-a-gateway", "车间A温湿度网关", "stub-stream")
	registerSource(t, m, "history-import", "历史数据导入", "stub-batch")
	ctx := context.Background()

	if err := m.RestartResidentDataSource(ctx, "plant-a-gateway"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stub.Calls("stop") != 1 || stub.Calls("start") != 2 {
		t.Errorf("expected stop then restart, got stop=%d start=%d", stub.Calls("stop"), stub.Calls("start"))
	}

	status, _ := m.GetDataSourceStatus("plant-a-gateway")
	if status.HealthStatus != "online" || status.ReconnectAttempts != 0 {
		t.Errorf("expected clean online status after restart, got %+v", status)
	}

	if err := m.RestartResidentDataSource(ctx, "history-import"); err == nil {
		t.Errorf("expected error restarting non-resident source")
	}
	if err := m.RestartResidentDataSource(ctx, "missing"); err == nil {
		t.Errorf("expected error for unknown id")
	}
}

func TestManagerResidentSourceListing(t *testing.T) {
	m := newStubManager()
	defer m.Shutdown()
	registerSource(t, m, "plant-a-gateway", "车间A温湿度网关", "stub-stream")
	registerSource(t, m, "history-import", "历史数据导入", "stub-batch")

	resident := m.GetResidentDataSources()
	if len(resident) != 1 {
		t.Fatalf("expected 1 resident source, got %d", len(resident))
	}
	if _, ok := resident["plant-a-gateway"]; !ok {
		t.Errorf("expected plant-a-gateway in resident listing")
	}

	instances := m.List()
	if len(instances) != 2 {
		t.Errorf("expected 2 instances, got %d", len(instances))
	}
}

func TestManagerCreateTestInstance(t *testing.T) {
	m := newStubManager()
	defer m.Shutdown()

	// 连接测试实例一律按非常驻处理，避免挂住常驻消费循环
	instance, err := m.CreateTestInstance("stub-stream")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if instance.IsResident() {
		t.Errorf("expected test instance to be non-resident")
	}

	if _, err := m.CreateTestInstance("opc-ua"); err == nil {
		t.Errorf("expected error for unsupported type")
	}
}

func TestManagerAutoRestartFlags(t *testing.T) {
	m := newStubManager()
	defer m.Shutdown()
	registerSource(t, m, "plant-a-gateway", "车间A温湿度网关", "stub-stream")

	if err := m.SetAutoRestart("plant-a-gateway", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	status, _ := m.GetDataSourceStatus("plant-a-gateway")
	if status.AutoRestart {
		t.Errorf("expected auto restart disabled")
	}

	if err := m.ResetReconnectAttempts("plant-a-gateway"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.SetAutoRestart("missing", true); err == nil {
		t.Errorf("expected error for unknown id")
	}
	if err := m.ResetReconnectAttempts("missing"); err == nil {
		t.Errorf("expected error for unknown id")
	}
}

func TestManagerGetDataSourceMetrics(t *testing.T) {
	m := newStubManager()
	defer m.Shutdown()
	registerSource(t, m, "plant-a-gateway", "车间A温湿度网关", "stub-stream")

	result, err := m.GetDataSourceMetrics("plant-a-gateway")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["id"] != "plant-a-gateway" || result["type"] != "stub-stream" {
		t.Errorf("unexpected identity fields: %v", result)
	}
	if result["is_resident"] != true || result["health_status"] != "online" {
		t.Errorf("unexpected status fields: %v", result)
	}

	if _, err := m.GetDataSourceMetrics("missing"); err == nil {
		t.Errorf("expected error for unknown id")
	}
}

func TestManagerShutdownStopsSources(t *testing.T) {
	m := newStubManager()
	stub := registerSource(t, m, "plant-a-gateway", "车间A温湿度网关", "stub-stream")

	// 等待后台监控协程进入运行状态，避免Shutdown空转
	err := WaitForCondition(func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.isRunning
	}, 2*time.Second, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("background monitoring did not start: %v", err)
	}

	if err := m.Shutdown(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stub.Calls("stop") != 1 {
		t.Errorf("expected resident source stopped on shutdown, got %d", stub.Calls("stop"))
	}

	// 重复Shutdown直接返回
	if err := m.Shutdown(); err != nil {
		t.Errorf("unexpected error on second shutdown: %v", err)
	}
}
