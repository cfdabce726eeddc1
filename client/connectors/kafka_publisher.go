/*
 * @module KafkaEventPublisher
 * @description Kafka事件发布器，封装kafka-go生产者，将流水线任务事件镜像到Kafka主题
 * @architecture 适配器模式 - 封装第三方Kafka客户端，提供统一的发布接口
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 连接建立 -> 事件序列化 -> 消息发送 -> 连接断开
 * @rules 未配置KAFKA_BROKERS时不创建发布器，调用方按nil判断是否启用镜像
 * @dependencies github.com/segmentio/kafka-go, encoding/json
 * @refs service/models/connector_models.go, service/event
 */
package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"sensorhub-service/service/models"

	"github.com/segmentio/kafka-go"
)

// 使用models包中定义的类型
type KafkaConfig = models.KafkaConfig
type ProducerConfig = models.ProducerConfig
type KafkaMessage = models.KafkaMessage

// DefaultEventsTopic 流水线事件默认主题
const DefaultEventsTopic = "sensorhub.pipeline.events"

// KafkaEventPublisher Kafka事件发布器结构体
type KafkaEventPublisher struct {
	config      *KafkaConfig
	writer      *kafka.Writer
	mutex       sync.RWMutex
	logger      *log.Logger
	isConnected bool
}

// NewKafkaEventPublisher 创建新的Kafka事件发布器
func NewKafkaEventPublisher(config *KafkaConfig, logger *log.Logger) *KafkaEventPublisher {
	if config.Topic == "" {
		config.Topic = DefaultEventsTopic
	}
	if config.ConnectionTimeout <= 0 {
		config.ConnectionTimeout = 10 * time.Second
	}

	return &KafkaEventPublisher{
		config:      config,
		logger:      logger,
		isConnected: false,
	}
}

// NewKafkaEventPublisherFromEnv 从环境变量创建事件发布器，未配置KAFKA_BROKERS时返回nil
func NewKafkaEventPublisherFromEnv(logger *log.Logger) *KafkaEventPublisher {
	brokers := splitBrokers(os.Getenv("KAFKA_BROKERS"))
	if len(brokers) == 0 {
		return nil
	}

	topic := os.Getenv("KAFKA_EVENTS_TOPIC")
	if topic == "" {
		topic = DefaultEventsTopic
	}

	config := &KafkaConfig{
		Brokers: brokers,
		Topic:   topic,
		ProducerConfig: &ProducerConfig{
			BatchTimeout: 100 * time.Millisecond,
			RequiredAcks: 1,
			MaxRetries:   3,
		},
		ConnectionTimeout: 10 * time.Second,
		CustomHeaders: map[string]string{
			"producer": "sensorhub-service",
		},
	}

	return NewKafkaEventPublisher(config, logger)
}

// splitBrokers 解析逗号分隔的broker地址列表
func splitBrokers(raw string) []string {
	parts := strings.Split(raw, ",")
	brokers := make([]string, 0, len(parts))
	for _, part := range parts {
		if addr := strings.TrimSpace(part); addr != "" {
			brokers = append(brokers, addr)
		}
	}
	return brokers
}

// Connect 建立Kafka连接
func (p *KafkaEventPublisher) Connect() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.isConnected {
		return nil
	}
	if len(p.config.Brokers) == 0 {
		return fmt.Errorf("未配置Kafka broker地址")
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(p.config.Brokers...),
		Topic:    p.config.Topic,
		Balancer: &kafka.LeastBytes{},
	}

	if pc := p.config.ProducerConfig; pc != nil {
		writer.RequiredAcks = kafka.RequiredAcks(pc.RequiredAcks)
		writer.Async = pc.Async
		if pc.BatchSize > 0 {
			writer.BatchSize = pc.BatchSize
		}
		if pc.BatchTimeout > 0 {
			writer.BatchTimeout = pc.BatchTimeout
		}
		if pc.MaxRetries > 0 {
			writer.MaxAttempts = pc.MaxRetries
		}
		if codec := compressionCodec(pc.Compression); codec != 0 {
			writer.Compression = codec
		}
	}

	p.writer = writer
	p.isConnected = true

	// 启动时探测主题分区，失败只记录不阻断
	if topicInfo, err := p.GetTopicMetadata(p.config.Topic); err != nil {
		p.logger.Printf("探测Kafka主题元数据失败 topic=%s: %v", p.config.Topic, err)
	} else {
		p.logger.Printf("Kafka事件发布器已连接 brokers=%v topic=%s partitions=%d",
			p.config.Brokers, p.config.Topic, len(topicInfo.Partitions))
	}

	return nil
}

// Close 关闭Kafka连接
func (p *KafkaEventPublisher) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.isConnected {
		return nil
	}

	p.isConnected = false
	if p.writer != nil {
		if err := p.writer.Close(); err != nil {
			return fmt.Errorf("关闭Kafka生产者失败: %w", err)
		}
	}

	p.logger.Println("Kafka事件发布器已关闭")
	return nil
}

// PublishPipelineEvent 将流水线事件发布到事件主题，消息键为任务ID以保证分区内有序
func (p *KafkaEventPublisher) PublishPipelineEvent(ctx context.Context, event *models.PipelineEvent) error {
	if event == nil {
		return nil
	}

	message := &KafkaMessage{
		Key:   event.TaskID,
		Value: event,
		Headers: map[string]string{
			"event_type": event.EventType,
		},
		Timestamp: event.Timestamp,
	}

	return p.ProduceMessage(ctx, message)
}

// ProduceMessage 发送消息
func (p *KafkaEventPublisher) ProduceMessage(ctx context.Context, message *KafkaMessage) error {
	p.mutex.RLock()
	writer := p.writer
	connected := p.isConnected
	p.mutex.RUnlock()

	if !connected || writer == nil {
		return fmt.Errorf("Kafka事件发布器未连接")
	}

	// 序列化消息值
	valueBytes, err := p.serializeValue(message.Value)
	if err != nil {
		return fmt.Errorf("序列化消息值失败: %w", err)
	}

	kafkaMsg := kafka.Message{
		Key:   []byte(message.Key),
		Value: valueBytes,
		Time:  message.Timestamp,
	}

	// 添加消息头
	for key, value := range message.Headers {
		kafkaMsg.Headers = append(kafkaMsg.Headers, kafka.Header{
			Key:   key,
			Value: []byte(value),
		})
	}

	// 添加自定义头部
	for key, value := range p.config.CustomHeaders {
		kafkaMsg.Headers = append(kafkaMsg.Headers, kafka.Header{
			Key:   key,
			Value: []byte(value),
		})
	}

	writeCtx, cancel := context.WithTimeout(ctx, p.config.ConnectionTimeout)
	defer cancel()

	if err := writer.WriteMessages(writeCtx, kafkaMsg); err != nil {
		return fmt.Errorf("发送消息失败: %w", err)
	}

	return nil
}

// GetTopicMetadata 获取主题元数据
func (p *KafkaEventPublisher) GetTopicMetadata(topic string) (*kafka.Topic, error) {
	conn, err := kafka.Dial("tcp", p.config.Brokers[0])
	if err != nil {
		return nil, fmt.Errorf("连接Kafka失败: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions(topic)
	if err != nil {
		return nil, fmt.Errorf("读取分区信息失败: %w", err)
	}

	topicInfo := &kafka.Topic{
		Name:       topic,
		Partitions: partitions,
	}

	return topicInfo, nil
}

// serializeValue 序列化消息值
func (p *KafkaEventPublisher) serializeValue(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}

// compressionCodec 将压缩算法名称映射为kafka-go压缩编码
func compressionCodec(name string) kafka.Compression {
	switch strings.ToLower(name) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return 0
	}
}

// IsConnected 检查连接状态
func (p *KafkaEventPublisher) IsConnected() bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.isConnected
}

// Topic 返回事件主题名称
func (p *KafkaEventPublisher) Topic() string {
	return p.config.Topic
}

// GetStatistics 获取发布器统计信息
func (p *KafkaEventPublisher) GetStatistics() map[string]interface{} {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return map[string]interface{}{
		"connected": p.isConnected,
		"brokers":   p.config.Brokers,
		"topic":     p.config.Topic,
	}
}
