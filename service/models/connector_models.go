/*
 * @module service/models/connector_models
 * @description Kafka事件发布相关模型定义，包含发布器配置与消息结构
 * @architecture 分层架构 - 数据模型层
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 模型定义 -> 发布器配置 -> 消息发送
 * @rules 发布器配置缺省时由连接器填充安全默认值
 * @dependencies time
 * @refs client/connectors
 */

package models

import (
	"time"
)

// KafkaConfig Kafka事件发布配置
type KafkaConfig struct {
	Brokers           []string          `json:"brokers"`            // Kafka broker地址列表
	Topic             string            `json:"topic"`              // 事件主题
	ProducerConfig    *ProducerConfig   `json:"producer_config"`    // 生产者配置
	ConnectionTimeout time.Duration     `json:"connection_timeout"` // 单次发送超时时间
	CustomHeaders     map[string]string `json:"custom_headers"`     // 附加到每条消息的头部
}

// ProducerConfig 生产者配置
type ProducerConfig struct {
	BatchSize    int           `json:"batch_size"`    // 批量大小
	BatchTimeout time.Duration `json:"batch_timeout"` // 批量超时时间
	RequiredAcks int           `json:"required_acks"` // 确认模式
	Compression  string        `json:"compression"`   // 压缩算法
	MaxRetries   int           `json:"max_retries"`   // 最大重试次数
	Async        bool          `json:"async"`         // 是否异步发送
}

// KafkaMessage Kafka消息结构体
type KafkaMessage struct {
	Key       string            `json:"key"`       // 消息键
	Value     interface{}       `json:"value"`     // 消息值
	Headers   map[string]string `json:"headers"`   // 消息头
	Timestamp time.Time         `json:"timestamp"` // 时间戳
}
