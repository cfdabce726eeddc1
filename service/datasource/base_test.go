/*
 * @module service/datasource/base_test
 * @description 基础数据源组件单元测试，覆盖生命周期状态机、预处理脚本和类型工厂
 * @architecture 单元测试 - 测试基础数据源、脚本执行器和工厂的功能
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 测试流程：准备测试数据 -> 执行测试 -> 验证结果 -> 清理资源
 * @rules 覆盖所有公共方法和错误场景，确保代码质量
 * @dependencies testing, context, time
 * @refs base.go, interface.go, test_utils.go
 */

package datasource

import (
	"context"
	"testing"
)

func TestBaseDataSourceInit(t *testing.T) {
	ctx := context.Background()

	t.Run("init binds datasource model", func(t *testing.T) {
		base := NewBaseDataSource("stub-stream", true)
		ds := CreateTestDataSource(TestDataSourceConfig{ID: "plant-a-gateway", Type: "stub-stream"})

		if err := base.Init(ctx, ds); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if base.GetID() != "plant-a-gateway" {
			t.Errorf("expected bound id, got %s", base.GetID())
		}
		if base.GetType() != "stub-stream" {
			t.Errorf("expected type stub-stream, got %s", base.GetType())
		}
		if !base.IsResident() {
			t.Errorf("expected resident flag preserved")
		}
		if !base.IsInitialized() {
			t.Errorf("expected initialized state")
		}
	})

	t.Run("init rejects nil datasource", func(t *testing.T) {
		base := NewBaseDataSource("stub-stream", false)
		if err := base.Init(ctx, nil); err == nil {
			t.Errorf("expected error for nil datasource")
		}
	})

	t.Run("init rejects double init", func(t *testing.T) {
		base := NewBaseDataSource("stub-stream", false)
		ds := CreateTestDataSource(TestDataSourceConfig{ID: "dup-init"})

		if err := base.Init(ctx, ds); err != nil {
			t.Fatalf("unexpected error on first init: %v", err)
		}
		if err := base.Init(ctx, ds); err == nil {
			t.Errorf("expected error on second init")
		}
	})
}

func TestBaseDataSourceStartStop(t *testing.T) {
	ctx := context.Background()

	t.Run("start requires init", func(t *testing.T) {
		base := NewBaseDataSource("stub-stream", false)
		if err := base.Start(ctx); err == nil {
			t.Errorf("expected error starting uninitialized source")
		}
	})

	t.Run("start rejects double start", func(t *testing.T) {
		base := NewBaseDataSource("stub-stream", false)
		base.Init(ctx, CreateTestDataSource(TestDataSourceConfig{ID: "plant-a-gateway"}))

		if err := base.Start(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := base.Start(ctx); err == nil {
			t.Errorf("expected error on second start")
		}
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		base := NewBaseDataSource("stub-stream", false)
		base.Init(ctx, CreateTestDataSource(TestDataSourceConfig{ID: "plant-a-gateway"}))
		base.Start(ctx)

		if err := base.Stop(ctx); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if base.IsStarted() {
			t.Errorf("expected datasource to be stopped")
		}
		if err := base.Stop(ctx); err != nil {
			t.Errorf("unexpected error on double stop: %v", err)
		}
	})
}

func TestBaseDataSourceHealthCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("started source reports online", func(t *testing.T) {
		base := NewBaseDataSource("stub-stream", true)
		base.Init(ctx, CreateTestDataSource(TestDataSourceConfig{ID: "plant-a-gateway"}))
		base.Start(ctx)

		status, err := base.HealthCheck(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status.Status != "online" {
			t.Errorf("expected online, got %s", status.Status)
		}
		if status.Details == nil {
			t.Errorf("expected details to be non-nil")
		}
	})

	t.Run("uninitialized source reports offline", func(t *testing.T) {
		base := NewBaseDataSource("stub-stream", false)
		status, _ := base.HealthCheck(ctx)
		if status.Status != "offline" {
			t.Errorf("expected offline, got %s", status.Status)
		}
	})

	t.Run("idle resident source reports offline", func(t *testing.T) {
		// 常驻数据源未启动说明消费循环断开
		base := NewBaseDataSource("stub-stream", true)
		base.Init(ctx, CreateTestDataSource(TestDataSourceConfig{ID: "plant-a-gateway"}))

		status, _ := base.HealthCheck(ctx)
		if status.Status != "offline" {
			t.Errorf("expected offline, got %s", status.Status)
		}
	})

	t.Run("idle non-resident source reports online", func(t *testing.T) {
		// 非常驻数据源按需启动，初始化完成即视为可用
		base := NewBaseDataSource("stub-batch", false)
		base.Init(ctx, CreateTestDataSource(TestDataSourceConfig{ID: "history-import"}))

		status, _ := base.HealthCheck(ctx)
		if status.Status != "online" {
			t.Errorf("expected online, got %s", status.Status)
		}
	})
}

func TestBaseDataSourceRunPreprocessScript(t *testing.T) {
	ctx := context.Background()

	t.Run("script disabled returns payload unchanged", func(t *testing.T) {
		base := NewBaseDataSource("test", false)
		ds := CreateTestDataSource(TestDataSourceConfig{ScriptEnabled: false})
		base.Init(ctx, ds)

		payload := map[string]interface{}{"sensor_id": "s-1", "temperature": 21.5}
		result, err := base.runPreprocessScript(ctx, payload, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		m, ok := result.(map[string]interface{})
		if !ok {
			t.Fatalf("expected map result, got %T", result)
		}
		if m["sensor_id"] != "s-1" {
			t.Errorf("expected payload passthrough, got %v", m)
		}
	})

	t.Run("script transforms payload", func(t *testing.T) {
		base := NewBaseDataSource("test", false)
		ds := CreateTestDataSource(TestDataSourceConfig{
			ScriptEnabled: true,
			Script: `
payload["sensor_id"] = "normalized-" + fmt.Sprintf("%v", payload["device"])
return payload, nil
`,
		})
		base.Init(ctx, ds)

		payload := map[string]interface{}{"device": "d42", "temperature": 21.5}
		result, err := base.runPreprocessScript(ctx, payload, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		m, ok := result.(map[string]interface{})
		if !ok {
			t.Fatalf("expected map result, got %T", result)
		}
		if m["sensor_id"] != "normalized-d42" {
			t.Errorf("expected normalized sensor_id, got %v", m["sensor_id"])
		}
	})

	t.Run("script receives extra params", func(t *testing.T) {
		base := NewBaseDataSource("test", false)
		ds := CreateTestDataSource(TestDataSourceConfig{
			ScriptEnabled: true,
			Script: `
payload["from_topic"] = topic
return payload, nil
`,
		})
		base.Init(ctx, ds)

		payload := map[string]interface{}{"sensor_id": "s-1"}
		extra := map[string]interface{}{"topic": "sensors/s-1/readings"}
		result, err := base.runPreprocessScript(ctx, payload, extra)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		m, ok := result.(map[string]interface{})
		if !ok {
			t.Fatalf("expected map result, got %T", result)
		}
		if m["from_topic"] != "sensors/s-1/readings" {
			t.Errorf("expected topic to be injected, got %v", m["from_topic"])
		}
	})

	t.Run("script returns nil to drop payload", func(t *testing.T) {
		base := NewBaseDataSource("test", false)
		ds := CreateTestDataSource(TestDataSourceConfig{
			ScriptEnabled: true,
			Script: `
if payload["temperature"] == nil {
	return nil, nil
}
return payload, nil
`,
		})
		base.Init(ctx, ds)

		result, err := base.runPreprocessScript(ctx, map[string]interface{}{"sensor_id": "s-1"}, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != nil {
			t.Errorf("expected nil result, got %v", result)
		}
	})
}

func TestDefaultDataSourceFactory(t *testing.T) {
	t.Run("create requires registered type", func(t *testing.T) {
		factory := NewDefaultDataSourceFactory()

		if _, err := factory.Create("modbus-rtu"); err == nil {
			t.Errorf("expected error for unregistered type")
		}

		if err := factory.RegisterType("modbus-rtu", func() DataSourceInterface {
			return NewStubDataSource("modbus-rtu", false)
		}); err != nil {
			t.Fatalf("unexpected error registering type: %v", err)
		}

		ds, err := factory.Create("modbus-rtu")
		if err != nil {
			t.Fatalf("unexpected error creating datasource: %v", err)
		}
		if ds.GetType() != "modbus-rtu" {
			t.Errorf("expected type modbus-rtu, got %s", ds.GetType())
		}
	})

	t.Run("register rejects invalid arguments", func(t *testing.T) {
		factory := NewDefaultDataSourceFactory()

		if err := factory.RegisterType("", func() DataSourceInterface { return nil }); err == nil {
			t.Errorf("expected error for empty type")
		}
		if err := factory.RegisterType("opc-ua", nil); err == nil {
			t.Errorf("expected error for nil creator")
		}
	})

	t.Run("supported types reflect registrations", func(t *testing.T) {
		factory := NewDefaultDataSourceFactory()

		if types := factory.GetSupportedTypes(); len(types) != 0 {
			t.Errorf("expected empty types list, got %v", types)
		}

		factory.RegisterType("modbus-rtu", func() DataSourceInterface {
			return NewStubDataSource("modbus-rtu", false)
		})
		factory.RegisterType("opc-ua", func() DataSourceInterface {
			return NewStubDataSource("opc-ua", true)
		})

		registered := map[string]bool{}
		for _, st := range factory.GetSupportedTypes() {
			registered[st] = true
		}
		if len(registered) != 2 || !registered["modbus-rtu"] || !registered["opc-ua"] {
			t.Errorf("unexpected supported types: %v", registered)
		}
	})
}

func TestYaegiScriptExecutor_Validate(t *testing.T) {
	executor := NewYaegiScriptExecutor()

	tests := []struct {
		name        string
		script      string
		expectError bool
	}{
		{
			name:        "valid script",
			script:      "return payload, nil",
			expectError: false,
		},
		{
			name:        "invalid script",
			script:      "func invalid syntax {",
			expectError: true,
		},
		{
			name:        "empty script",
			script:      "",
			expectError: false, // 空脚本通常是有效的
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := executor.Validate(tt.script)

			if tt.expectError && err == nil {
				t.Errorf("expected error but got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestYaegiScriptExecutor_Execute(t *testing.T) {
	executor := NewYaegiScriptExecutor()
	ctx := context.Background()

	script := `
payload["converted"] = true
return payload, nil
`
	params := map[string]interface{}{
		"payload": map[string]interface{}{"sensor_id": "s-1"},
	}

	result, err := executor.Execute(ctx, script, params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m, ok := result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map result, got %T", result)
	}
	if m["converted"] != true {
		t.Errorf("expected converted flag, got %v", m["converted"])
	}

	// 编译错误
	_, err = executor.Execute(ctx, "this is not go", params)
	if err == nil {
		t.Errorf("expected error for invalid script")
	}

	// 脚本返回错误
	_, err = executor.Execute(ctx, `return nil, fmt.Errorf("bad reading")`, params)
	if err == nil {
		t.Errorf("expected script error to propagate")
	}
}

func TestYaegiScriptExecutor_Cache(t *testing.T) {
	executor := NewYaegiScriptExecutor()
	ctx := context.Background()

	script := `return payload, nil`
	params := map[string]interface{}{
		"payload": map[string]interface{}{"sensor_id": "s-1"},
	}

	// 同一脚本执行两次只编译一次
	if _, err := executor.Execute(ctx, script, params); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := executor.Execute(ctx, script, params); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats := executor.GetCacheStats()
	if stats["cache_size"] != 1 {
		t.Errorf("expected cache size 1, got %v", stats["cache_size"])
	}

	// 不同脚本增加缓存条目
	if _, err := executor.Execute(ctx, `return nil, nil`, params); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats = executor.GetCacheStats()
	if stats["cache_size"] != 2 {
		t.Errorf("expected cache size 2, got %v", stats["cache_size"])
	}

	executor.ClearCache()
	stats = executor.GetCacheStats()
	if stats["cache_size"] != 0 {
		t.Errorf("expected cache size 0 after clear, got %v", stats["cache_size"])
	}
}

// 基准测试
func BenchmarkBaseDataSource_HealthCheck(b *testing.B) {
	base := NewBaseDataSource("stub-stream", false)
	ds := CreateTestDataSource(TestDataSourceConfig{ID: "plant-a-gateway"})
	ctx := context.Background()

	base.Init(ctx, ds)
	base.Start(ctx)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := base.HealthCheck(ctx)
		if err != nil {
			b.Errorf("unexpected error: %v", err)
		}
	}
}

func BenchmarkDefaultDataSourceFactory_Create(b *testing.B) {
	factory := NewDefaultDataSourceFactory()
	factory.RegisterType("stub-batch", func() DataSourceInterface {
		return NewStubDataSource("stub-batch", false)
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := factory.Create("stub-batch")
		if err != nil {
			b.Errorf("unexpected error: %v", err)
		}
	}
}
