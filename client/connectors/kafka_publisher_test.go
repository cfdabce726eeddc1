/*
 * @module client/connectors/kafka_publisher_test
 * @description Kafka事件发布器单元测试，覆盖环境变量解析、默认值填充与未连接时的行为
 */
package connectors

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"sensorhub-service/service/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func newTestLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestNewKafkaEventPublisherFromEnv(t *testing.T) {
	t.Run("未配置brokers时返回nil", func(t *testing.T) {
		t.Setenv("KAFKA_BROKERS", "")
		publisher := NewKafkaEventPublisherFromEnv(newTestLogger())
		assert.Nil(t, publisher)
	})

	t.Run("配置brokers时创建发布器", func(t *testing.T) {
		t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
		t.Setenv("KAFKA_EVENTS_TOPIC", "")

		publisher := NewKafkaEventPublisherFromEnv(newTestLogger())
		assert.NotNil(t, publisher)
		assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, publisher.config.Brokers)
		assert.Equal(t, DefaultEventsTopic, publisher.Topic())
		assert.False(t, publisher.IsConnected())
	})

	t.Run("自定义事件主题", func(t *testing.T) {
		t.Setenv("KAFKA_BROKERS", "kafka-1:9092")
		t.Setenv("KAFKA_EVENTS_TOPIC", "custom.events")

		publisher := NewKafkaEventPublisherFromEnv(newTestLogger())
		assert.NotNil(t, publisher)
		assert.Equal(t, "custom.events", publisher.Topic())
	})
}

func TestSplitBrokers(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected []string
	}{
		{"单个地址", "kafka:9092", []string{"kafka:9092"}},
		{"多个地址带空格", " kafka-1:9092 , kafka-2:9092 ", []string{"kafka-1:9092", "kafka-2:9092"}},
		{"空字符串", "", []string{}},
		{"仅分隔符", " , , ", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, splitBrokers(tt.raw))
		})
	}
}

func TestNewKafkaEventPublisher_Defaults(t *testing.T) {
	publisher := NewKafkaEventPublisher(&KafkaConfig{
		Brokers: []string{"kafka:9092"},
	}, newTestLogger())

	assert.Equal(t, DefaultEventsTopic, publisher.config.Topic)
	assert.Equal(t, 10*time.Second, publisher.config.ConnectionTimeout)
}

func TestKafkaEventPublisher_ProduceMessage_NotConnected(t *testing.T) {
	publisher := NewKafkaEventPublisher(&KafkaConfig{
		Brokers: []string{"kafka:9092"},
	}, newTestLogger())

	err := publisher.ProduceMessage(context.Background(), &KafkaMessage{
		Key:   "task-1",
		Value: map[string]interface{}{"event_type": "start"},
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "未连接")
}

func TestKafkaEventPublisher_PublishPipelineEvent_NilEvent(t *testing.T) {
	publisher := NewKafkaEventPublisher(&KafkaConfig{
		Brokers: []string{"kafka:9092"},
	}, newTestLogger())

	assert.NoError(t, publisher.PublishPipelineEvent(context.Background(), nil))
}

func TestKafkaEventPublisher_Close_NotConnected(t *testing.T) {
	publisher := NewKafkaEventPublisher(&KafkaConfig{
		Brokers: []string{"kafka:9092"},
	}, newTestLogger())

	assert.NoError(t, publisher.Close())
}

func TestKafkaEventPublisher_SerializeValue(t *testing.T) {
	publisher := NewKafkaEventPublisher(&KafkaConfig{
		Brokers: []string{"kafka:9092"},
	}, newTestLogger())

	raw, err := publisher.serializeValue([]byte("raw-bytes"))
	assert.NoError(t, err)
	assert.Equal(t, []byte("raw-bytes"), raw)

	str, err := publisher.serializeValue("plain")
	assert.NoError(t, err)
	assert.Equal(t, []byte("plain"), str)

	event := &models.PipelineEvent{TaskID: "task-1", EventType: "start"}
	encoded, err := publisher.serializeValue(event)
	assert.NoError(t, err)
	assert.Contains(t, string(encoded), `"task_id":"task-1"`)
}

func TestCompressionCodec(t *testing.T) {
	assert.Equal(t, kafka.Gzip, compressionCodec("gzip"))
	assert.Equal(t, kafka.Snappy, compressionCodec("Snappy"))
	assert.Equal(t, kafka.Lz4, compressionCodec("lz4"))
	assert.Equal(t, kafka.Zstd, compressionCodec("zstd"))
	assert.Equal(t, kafka.Compression(0), compressionCodec(""))
	assert.Equal(t, kafka.Compression(0), compressionCodec("unknown"))
}

func TestKafkaEventPublisher_GetStatistics(t *testing.T) {
	publisher := NewKafkaEventPublisher(&KafkaConfig{
		Brokers: []string{"kafka:9092"},
		Topic:   "sensorhub.pipeline.events",
	}, newTestLogger())

	stats := publisher.GetStatistics()
	assert.Equal(t, false, stats["connected"])
	assert.Equal(t, "sensorhub.pipeline.events", stats["topic"])
	assert.Equal(t, []string{"kafka:9092"}, stats["brokers"])
}
