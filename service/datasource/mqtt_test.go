/*
 * @module service/datasource/mqtt_test
 * @description MQTT数据源单元测试，覆盖配置解析、报文标准化与调试查询
 */

package datasource

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sensorhub-service/service/models"
)

func newMQTTSource(t *testing.T, connectionConfig, paramsConfig map[string]interface{}) *MQTTDataSource {
	t.Helper()

	instance := NewMQTTDataSource()
	src, ok := instance.(*MQTTDataSource)
	if !ok {
		t.Fatalf("expected MQTTDataSource instance")
	}

	if connectionConfig == nil {
		connectionConfig = map[string]interface{}{"host": "127.0.0.1"}
	}
	ds := CreateTestDataSource(TestDataSourceConfig{
		ID:               "mqtt-test-id",
		Type:             "mqtt",
		ConnectionConfig: connectionConfig,
		ParamsConfig:     paramsConfig,
	})
	if err := src.Init(context.Background(), ds); err != nil {
		t.Fatalf("unexpected init error: %v", err)
	}
	return src
}

func TestNewMQTTDataSource(t *testing.T) {
	instance := NewMQTTDataSource()

	assert.Equal(t, "mqtt", instance.GetType())
	assert.True(t, instance.IsResident())
}

func TestMQTTDataSource_Init_ConnectionConfig(t *testing.T) {
	tests := []struct {
		name             string
		connectionConfig map[string]interface{}
		wantErr          string
		wantBroker       string
		wantPort         int
	}{
		{
			name:             "缺少host",
			connectionConfig: map[string]interface{}{},
			wantErr:          "缺少broker地址配置",
		},
		{
			name:             "host为空字符串",
			connectionConfig: map[string]interface{}{"host": ""},
			wantErr:          "broker地址格式错误",
		},
		{
			name:             "host类型错误",
			connectionConfig: map[string]interface{}{"host": 42},
			wantErr:          "broker地址格式错误",
		},
		{
			name:             "默认端口",
			connectionConfig: map[string]interface{}{"host": "broker.local"},
			wantBroker:       "broker.local",
			wantPort:         1883,
		},
		{
			name:             "JSON反序列化的float64端口",
			connectionConfig: map[string]interface{}{"host": "broker.local", "port": float64(8883)},
			wantBroker:       "broker.local",
			wantPort:         8883,
		},
		{
			name:             "字符串端口",
			connectionConfig: map[string]interface{}{"host": "broker.local", "port": "1884"},
			wantBroker:       "broker.local",
			wantPort:         1884,
		},
		{
			name:             "非法端口",
			connectionConfig: map[string]interface{}{"host": "broker.local", "port": "abc"},
			wantErr:          "端口配置无效",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			instance := NewMQTTDataSource()
			src := instance.(*MQTTDataSource)

			ds := CreateTestDataSource(TestDataSourceConfig{
				Type:             "mqtt",
				ConnectionConfig: tt.connectionConfig,
			})
			err := src.Init(context.Background(), ds)

			if tt.wantErr != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.wantBroker, src.broker)
			assert.Equal(t, tt.wantPort, src.port)
		})
	}
}

func TestMQTTDataSource_Init_NilConnectionConfig(t *testing.T) {
	instance := NewMQTTDataSource()
	src := instance.(*MQTTDataSource)

	ds := CreateTestDataSource(TestDataSourceConfig{Type: "mqtt"})
	ds.ConnectionConfig = nil

	err := src.Init(context.Background(), ds)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "连接配置不能为空")
}

func TestMQTTDataSource_Init_ClientIDDefault(t *testing.T) {
	src := newMQTTSource(t, nil, nil)
	assert.True(t, strings.HasPrefix(src.clientID, "sensorhub-mqtt-"))

	named := newMQTTSource(t, map[string]interface{}{"host": "127.0.0.1", "client_id": "collector-01"}, nil)
	assert.Equal(t, "collector-01", named.clientID)
}

func TestMQTTDataSource_Init_Params(t *testing.T) {
	t.Run("默认订阅主题", func(t *testing.T) {
		src := newMQTTSource(t, nil, nil)
		assert.Equal(t, []string{"sensors/+/readings"}, src.topics)
	})

	t.Run("单个主题字符串", func(t *testing.T) {
		src := newMQTTSource(t, nil, map[string]interface{}{"topic": "sensors/room1/readings"})
		assert.Equal(t, []string{"sensors/room1/readings"}, src.topics)
	})

	t.Run("主题数组", func(t *testing.T) {
		src := newMQTTSource(t, nil, map[string]interface{}{
			"topic": []interface{}{"sensors/a/readings", "", "sensors/b/readings", 3},
		})
		assert.Equal(t, []string{"sensors/a/readings", "sensors/b/readings"}, src.topics)
	})

	t.Run("QoS与时间参数", func(t *testing.T) {
		src := newMQTTSource(t, nil, map[string]interface{}{
			"qos":             float64(2),
			"timeout":         float64(10),
			"keep_alive":      15,
			"reconnect_delay": float64(3),
			"clean_session":   false,
		})
		assert.Equal(t, byte(2), src.qos)
		assert.Equal(t, 10*time.Second, src.timeout)
		assert.Equal(t, 15*time.Second, src.keepAlive)
		assert.Equal(t, 3*time.Second, src.reconnectDelay)
		assert.False(t, src.cleanSession)
	})

	t.Run("越界QoS保持默认", func(t *testing.T) {
		src := newMQTTSource(t, nil, map[string]interface{}{"qos": float64(5)})
		assert.Equal(t, byte(1), src.qos)
	})

	t.Run("非正时间参数保持默认", func(t *testing.T) {
		src := newMQTTSource(t, nil, map[string]interface{}{"timeout": float64(0)})
		assert.Equal(t, 30*time.Second, src.timeout)
	})
}

func TestFillSensorIDFromTopic(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]interface{}
		topic   string
		wantID  interface{}
	}{
		{
			name:    "已有sensor_id不覆盖",
			payload: map[string]interface{}{"sensor_id": "sensor_009"},
			topic:   "sensors/sensor_001/readings",
			wantID:  "sensor_009",
		},
		{
			name:    "device_id视为已有标识",
			payload: map[string]interface{}{"device_id": "dev-1"},
			topic:   "sensors/sensor_001/readings",
			wantID:  nil,
		},
		{
			name:    "从主题补全",
			payload: map[string]interface{}{"temperature": 25.3},
			topic:   "sensors/sensor_001/readings",
			wantID:  "sensor_001",
		},
		{
			name:    "通配符段不补全",
			payload: map[string]interface{}{"temperature": 25.3},
			topic:   "sensors/+/readings",
			wantID:  nil,
		},
		{
			name:    "非约定主题不补全",
			payload: map[string]interface{}{"temperature": 25.3},
			topic:   "telemetry/room1",
			wantID:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fillSensorIDFromTopic(tt.payload, tt.topic)
			if tt.wantID == nil {
				_, exists := tt.payload["sensor_id"]
				assert.False(t, exists)
				return
			}
			assert.Equal(t, tt.wantID, tt.payload["sensor_id"])
		})
	}
}

func TestNormalizeScriptResult(t *testing.T) {
	assert.Nil(t, normalizeScriptResult(nil))
	assert.Nil(t, normalizeScriptResult("scalar"))

	single := normalizeScriptResult(map[string]interface{}{"sensor_id": "a"})
	assert.Len(t, single, 1)

	mixed := normalizeScriptResult([]interface{}{
		map[string]interface{}{"sensor_id": "a"},
		"not-a-map",
		map[string]interface{}{"sensor_id": "b"},
	})
	assert.Len(t, mixed, 2)

	typed := normalizeScriptResult([]map[string]interface{}{{"sensor_id": "a"}})
	assert.Len(t, typed, 1)
}

func TestMQTTDataSource_IngestMessage(t *testing.T) {
	src := newMQTTSource(t, nil, nil)
	sink := NewDefaultReadingSink()
	db := newSinkTestDB(t)
	sink.SetDB(db)
	src.sink = sink

	t.Run("对象报文从主题补全sensor_id", func(t *testing.T) {
		msg := MQTTMessage{
			Topic:   "sensors/sensor_001/readings",
			Payload: `{"temperature":25.3,"timestamp":"2024-01-01 10:00:00"}`,
			ParsedData: map[string]interface{}{
				"temperature": 25.3,
				"timestamp":   "2024-01-01 10:00:00",
			},
		}
		assert.NoError(t, src.ingestMessage(context.Background(), msg))

		sink.FlushAll(context.Background())
		var reading models.SensorReading
		assert.NoError(t, db.First(&reading).Error)
		assert.Equal(t, "sensor_001", reading.SensorID)
	})

	t.Run("数组报文逐条入库", func(t *testing.T) {
		msg := MQTTMessage{
			Topic: "sensors/batch/readings",
			Payload: `[{"sensor_id":"sensor_002","timestamp":"2024-01-01 10:00:10","temperature":24.8},` +
				`{"sensor_id":"sensor_003","timestamp":"2024-01-01 10:00:20","temperature":26.0}]`,
		}
		assert.NoError(t, src.ingestMessage(context.Background(), msg))

		sink.FlushAll(context.Background())
		assert.Equal(t, int64(3), countReadings(t, db))
	})

	t.Run("非JSON报文被拒收", func(t *testing.T) {
		msg := MQTTMessage{Topic: "sensors/x/readings", Payload: "not json"}
		err := src.ingestMessage(context.Background(), msg)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "不是有效的JSON")
	})
}

func TestMQTTDataSource_HandleQuery(t *testing.T) {
	src := newMQTTSource(t, nil, nil)

	for i := 0; i < 5; i++ {
		topic := "sensors/a/readings"
		if i%2 == 1 {
			topic = "sensors/b/readings"
		}
		src.remember(MQTTMessage{
			Topic:      topic,
			Payload:    fmt.Sprintf(`{"seq":%d}`, i),
			ReceivedAt: time.Now(),
		})
	}

	t.Run("默认分页返回全部", func(t *testing.T) {
		response, err := src.Execute(context.Background(), &ExecuteRequest{Operation: OperationQuery})
		assert.NoError(t, err)
		assert.True(t, response.Success)
		assert.Equal(t, int64(5), response.RowCount)
		assert.Equal(t, 5, response.Metadata["total"])
	})

	t.Run("JSON反序列化的float64分页参数", func(t *testing.T) {
		response, err := src.Execute(context.Background(), &ExecuteRequest{
			Operation: OperationQuery,
			Params:    map[string]interface{}{"limit": float64(2), "offset": float64(1)},
		})
		assert.NoError(t, err)
		assert.Equal(t, int64(2), response.RowCount)

		page, ok := response.Data.([]MQTTMessage)
		assert.True(t, ok)
		assert.Equal(t, `{"seq":1}`, page[0].Payload)
	})

	t.Run("主题过滤", func(t *testing.T) {
		response, err := src.Execute(context.Background(), &ExecuteRequest{
			Operation: OperationQuery,
			Params:    map[string]interface{}{"topic": "sensors/b/readings"},
		})
		assert.NoError(t, err)
		assert.Equal(t, int64(2), response.RowCount)
		assert.Equal(t, 2, response.Metadata["total"])
	})

	t.Run("offset越界返回空页", func(t *testing.T) {
		response, err := src.Execute(context.Background(), &ExecuteRequest{
			Operation: OperationQuery,
			Params:    map[string]interface{}{"offset": 100},
		})
		assert.NoError(t, err)
		assert.Equal(t, int64(0), response.RowCount)
	})
}

func TestMQTTDataSource_RememberTrimsOldest(t *testing.T) {
	instance := NewMQTTDataSource()
	src := instance.(*MQTTDataSource)

	for i := 0; i < mqttRecentMessagesLimit+10; i++ {
		src.remember(MQTTMessage{Payload: fmt.Sprintf(`{"seq":%d}`, i)})
	}

	msgs := src.GetReceivedMessages()
	assert.Len(t, msgs, mqttRecentMessagesLimit)
	assert.Equal(t, `{"seq":10}`, msgs[0].Payload)

	src.ClearReceivedMessages()
	assert.Empty(t, src.GetReceivedMessages())
}

func TestMQTTDataSource_Status(t *testing.T) {
	src := newMQTTSource(t, map[string]interface{}{"host": "broker.local", "port": float64(8883)}, nil)

	response, err := src.Execute(context.Background(), &ExecuteRequest{Operation: OperationStatus})
	assert.NoError(t, err)
	assert.True(t, response.Success)

	data, ok := response.Data.(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, "broker.local:8883", data["broker"])
	assert.Equal(t, false, data["connected"])
	assert.Equal(t, byte(1), data["qos"])
}

func TestMQTTDataSource_TestNotConnected(t *testing.T) {
	src := newMQTTSource(t, nil, nil)

	response, err := src.Execute(context.Background(), &ExecuteRequest{Operation: OperationTest})
	assert.Error(t, err)
	assert.False(t, response.Success)
	assert.Contains(t, response.Error, "MQTT客户端未连接")
}

func TestMQTTDataSource_Uninitialized(t *testing.T) {
	instance := NewMQTTDataSource()

	response, err := instance.Execute(context.Background(), &ExecuteRequest{Operation: OperationQuery})
	assert.Error(t, err)
	assert.False(t, response.Success)
	assert.Contains(t, response.Error, "数据源未初始化")
}

func TestMQTTDataSource_UnsupportedOperation(t *testing.T) {
	src := newMQTTSource(t, nil, nil)

	response, err := src.Execute(context.Background(), &ExecuteRequest{Operation: "import"})
	assert.Error(t, err)
	assert.False(t, response.Success)
	assert.Contains(t, response.Error, "不支持的操作")
}
