/*
 * @module service/datasource/kafka
 * @description Kafka传感器数据源，以消费组方式消费读数主题并批量写入汇聚器
 * @architecture 适配器模式 - 封装kafka-go消费者，提供统一的数据源接口
 * @stateFlow 数据源生命周期：初始化 -> 启动消费循环 -> 逐条提交 -> 停止
 * @rules 消息处理成功后才提交offset；未配置消费组时依赖分布式锁保证单实例消费
 * @dependencies github.com/segmentio/kafka-go
 * @refs reading_sink.go, service/distributed_lock/redis_lock.go
 */

package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"sensorhub-service/service/distributed_lock"
	"sensorhub-service/service/meta"
	"sensorhub-service/service/metrics"
	"sensorhub-service/service/models"

	"github.com/segmentio/kafka-go"
)

// 消费循环的锁参数，锁丢失后其他实例最多等一个TTL
const (
	kafkaConsumeLockTTL     = 30 * time.Second
	kafkaConsumeLockRefresh = 10 * time.Second
	kafkaConsumeRetryDelay  = 10 * time.Second
)

// KafkaDataSource Kafka传感器数据源实现
type KafkaDataSource struct {
	*BaseDataSource
	brokers       []string
	topic         string
	groupID       string
	queueCapacity int

	sink         ReadingSink
	lockExecutor *distributed_lock.LockExecutor

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	consuming atomic.Bool

	stats struct {
		sync.RWMutex
		consumed      int64
		committed     int64
		lastMessageAt time.Time
		lastError     string
	}
}

// NewKafkaDataSource 创建Kafka数据源
func NewKafkaDataSource() DataSourceInterface {
	return &KafkaDataSource{
		BaseDataSource: NewBaseDataSource(meta.DataSourceTypeKafka, true), // 常驻数据源
		queueCapacity:  100,
	}
}

// SetLockExecutor 注入分布式锁执行器（由数据源管理器在注册时调用）
func (k *KafkaDataSource) SetLockExecutor(executor *distributed_lock.LockExecutor) {
	k.lockExecutor = executor
}

// Init 初始化Kafka数据源
func (k *KafkaDataSource) Init(ctx context.Context, ds *models.DataSource) error {
	if err := k.BaseDataSource.Init(ctx, ds); err != nil {
		return err
	}

	config := ds.ConnectionConfig
	if config == nil {
		return fmt.Errorf("连接配置不能为空")
	}

	if servers, exists := config[meta.DataSourceFieldBootstrapServers]; exists {
		if serversStr, ok := servers.(string); ok && serversStr != "" {
			for _, broker := range strings.Split(serversStr, ",") {
				if broker = strings.TrimSpace(broker); broker != "" {
					k.brokers = append(k.brokers, broker)
				}
			}
		}
	}
	if len(k.brokers) == 0 {
		return fmt.Errorf("缺少bootstrap_servers配置")
	}

	if ds.ParamsConfig != nil {
		k.parseParamsConfig(ds.ParamsConfig)
	}

	if k.topic == "" {
		k.topic = "sensor-readings"
	}
	if k.groupID == "" {
		k.groupID = "sensorhub-ingest"
	}

	k.sink = GetGlobalReadingSink()
	return nil
}

// parseParamsConfig 解析参数配置
func (k *KafkaDataSource) parseParamsConfig(params map[string]interface{}) {
	if topic, exists := params[meta.DataSourceFieldTopic]; exists {
		if topicStr, ok := topic.(string); ok && topicStr != "" {
			k.topic = topicStr
		}
	}

	if groupID, exists := params[meta.DataSourceFieldGroupId]; exists {
		if groupStr, ok := groupID.(string); ok {
			k.groupID = groupStr
		}
	}

	if batchSize, exists := params[meta.DataSourceFieldBatchSize]; exists {
		switch v := batchSize.(type) {
		case float64:
			if v > 0 {
				k.queueCapacity = int(v)
			}
		case int:
			if v > 0 {
				k.queueCapacity = v
			}
		}
	}
}

// Start 启动Kafka数据源，消费循环在后台协程中运行
func (k *KafkaDataSource) Start(ctx context.Context) error {
	if err := k.BaseDataSource.Start(ctx); err != nil {
		return err
	}

	consumeCtx, cancel := context.WithCancel(context.Background())
	k.cancel = cancel

	k.wg.Add(1)
	go k.runConsumeLoop(consumeCtx)

	slog.Info("Kafka数据源已启动",
		"datasource_id", k.GetID(),
		"brokers", k.brokers,
		"topic", k.topic,
		"group_id", k.groupID)
	return nil
}

// runConsumeLoop 消费循环的外层重试。
// 配置了锁执行器时整个消费过程持锁运行，没抢到锁的实例定期重试，
// 持锁实例退出或锁过期后由其他实例接管。
func (k *KafkaDataSource) runConsumeLoop(ctx context.Context) {
	defer k.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		var err error
		if k.lockExecutor != nil {
			lockKey := fmt.Sprintf("datasource:%s", k.GetID())
			err = k.lockExecutor.ExecuteWithLockAndRefresh(ctx, lockKey,
				kafkaConsumeLockTTL, kafkaConsumeLockRefresh,
				func() error { return k.consume(ctx) })
		} else {
			err = k.consume(ctx)
		}

		if err != nil && ctx.Err() == nil {
			slog.Error("Kafka消费循环异常退出，稍后重试",
				"datasource_id", k.GetID(), "error", err)
			k.setLastError(err.Error())
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(kafkaConsumeRetryDelay):
		}
	}
}

// consume 拉取消息并在处理成功后提交offset
func (k *KafkaDataSource) consume(ctx context.Context) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:       k.brokers,
		Topic:         k.topic,
		GroupID:       k.groupID,
		MinBytes:      1,
		MaxBytes:      10e6,
		MaxWait:       time.Second,
		QueueCapacity: k.queueCapacity,
		StartOffset:   kafka.LastOffset,
	})
	defer reader.Close()

	k.consuming.Store(true)
	defer k.consuming.Store(false)

	slog.Info("开始消费Kafka主题",
		"datasource_id", k.GetID(), "topic", k.topic, "group_id", k.groupID)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("拉取消息失败: %w", err)
		}

		k.stats.Lock()
		k.stats.consumed++
		k.stats.lastMessageAt = time.Now()
		k.stats.Unlock()

		if err := k.ingestMessage(ctx, msg); err != nil {
			slog.Debug("Kafka消息入库失败",
				"datasource_id", k.GetID(),
				"offset", msg.Offset,
				"error", err)
		}

		// 消息已进入汇聚器缓冲，提交offset
		if err := reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("提交offset失败: %w", err)
		}

		k.stats.Lock()
		k.stats.committed++
		k.stats.Unlock()
	}
}

// ingestMessage 把单条Kafka消息标准化后写入汇聚器。
// 消息体可以是单个JSON对象或JSON数组，消息Key缺省作为传感器标识。
func (k *KafkaDataSource) ingestMessage(ctx context.Context, msg kafka.Message) error {
	var payloads []map[string]interface{}

	var single map[string]interface{}
	if err := json.Unmarshal(msg.Value, &single); err == nil {
		payloads = append(payloads, single)
	} else {
		var batch []map[string]interface{}
		if err := json.Unmarshal(msg.Value, &batch); err != nil {
			metrics.ReadingsRejected.WithLabelValues(k.GetType(), "invalid_json").Inc()
			return fmt.Errorf("消息体不是有效的JSON对象或数组")
		}
		payloads = batch
	}

	for _, payload := range payloads {
		if payload == nil {
			continue
		}
		fillSensorIDFromKey(payload, msg.Key)

		result, err := k.runPreprocessScript(ctx, payload, map[string]interface{}{
			"topic":     msg.Topic,
			"partition": msg.Partition,
			"offset":    msg.Offset,
		})
		if err != nil {
			metrics.ReadingsRejected.WithLabelValues(k.GetType(), "script_error").Inc()
			slog.Warn("Kafka预处理脚本执行失败",
				"datasource_id", k.GetID(), "offset", msg.Offset, "error", err)
			continue
		}

		for _, normalized := range normalizeScriptResult(result) {
			if err := k.sink.Ingest(ctx, k.GetID(), k.GetType(), normalized); err != nil {
				slog.Debug("Kafka读数被拒收", "datasource_id", k.GetID(), "error", err)
			}
		}
	}

	return nil
}

// fillSensorIDFromKey 报文缺少传感器标识时用消息Key补全
func fillSensorIDFromKey(payload map[string]interface{}, key []byte) {
	if len(key) == 0 {
		return
	}
	for _, k := range sensorIDKeys {
		if _, exists := payload[k]; exists {
			return
		}
	}
	payload["sensor_id"] = string(key)
}

func (k *KafkaDataSource) setLastError(msg string) {
	k.stats.Lock()
	k.stats.lastError = msg
	k.stats.Unlock()
}

// Execute 执行操作
func (k *KafkaDataSource) Execute(ctx context.Context, request *ExecuteRequest) (*ExecuteResponse, error) {
	startTime := time.Now()
	response := &ExecuteResponse{
		Success:   false,
		Timestamp: startTime,
	}

	if !k.IsInitialized() {
		response.Error = "数据源未初始化"
		response.Duration = time.Since(startTime)
		return response, fmt.Errorf("数据源未初始化")
	}

	switch request.Operation {
	case OperationIngest:
		return k.handleIngest(ctx, request, startTime)
	case OperationStatus:
		return k.handleStatus(ctx, request, startTime)
	case OperationTest:
		return k.handleTest(ctx, request, startTime)
	default:
		response.Error = fmt.Sprintf("不支持的操作: %s", request.Operation)
		response.Duration = time.Since(startTime)
		return response, fmt.Errorf("不支持的操作: %s", request.Operation)
	}
}

// handleIngest 直接注入一条报文（调试和回放场景，不经过broker）
func (k *KafkaDataSource) handleIngest(ctx context.Context, request *ExecuteRequest, startTime time.Time) (*ExecuteResponse, error) {
	response := &ExecuteResponse{
		Success:   false,
		Timestamp: startTime,
	}

	payload, ok := request.Data.(map[string]interface{})
	if !ok || len(payload) == 0 {
		response.Error = "缺少报文数据"
		response.Duration = time.Since(startTime)
		return response, fmt.Errorf("缺少报文数据")
	}

	result, err := k.runPreprocessScript(ctx, payload, nil)
	if err != nil {
		response.Error = fmt.Sprintf("预处理脚本执行失败: %v", err)
		response.Duration = time.Since(startTime)
		return response, err
	}

	ingested := 0
	for _, normalized := range normalizeScriptResult(result) {
		if err := k.sink.Ingest(ctx, k.GetID(), k.GetType(), normalized); err != nil {
			response.Error = err.Error()
			response.Duration = time.Since(startTime)
			return response, err
		}
		ingested++
	}

	response.Success = true
	response.RowCount = int64(ingested)
	response.Message = "报文已接收"
	response.Duration = time.Since(startTime)
	return response, nil
}

// handleStatus 状态查询
func (k *KafkaDataSource) handleStatus(ctx context.Context, request *ExecuteRequest, startTime time.Time) (*ExecuteResponse, error) {
	response := &ExecuteResponse{
		Success:   true,
		Timestamp: startTime,
	}

	k.stats.RLock()
	defer k.stats.RUnlock()

	response.Data = map[string]interface{}{
		"brokers":         k.brokers,
		"topic":           k.topic,
		"group_id":        k.groupID,
		"consuming":       k.consuming.Load(),
		"consumed":        k.stats.consumed,
		"committed":       k.stats.committed,
		"last_message_at": k.stats.lastMessageAt,
		"last_error":      k.stats.lastError,
	}
	response.Duration = time.Since(startTime)

	return response, nil
}

// handleTest 连通性测试，连接首个broker并读取分区信息
func (k *KafkaDataSource) handleTest(ctx context.Context, request *ExecuteRequest, startTime time.Time) (*ExecuteResponse, error) {
	response := &ExecuteResponse{
		Timestamp: startTime,
	}

	conn, err := kafka.Dial("tcp", k.brokers[0])
	if err != nil {
		response.Error = fmt.Sprintf("连接Kafka失败: %v", err)
		response.Duration = time.Since(startTime)
		return response, fmt.Errorf("连接Kafka失败: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions(k.topic)
	if err != nil {
		response.Error = fmt.Sprintf("读取分区信息失败: %v", err)
		response.Duration = time.Since(startTime)
		return response, fmt.Errorf("读取分区信息失败: %w", err)
	}

	response.Success = true
	response.Message = fmt.Sprintf("主题 %s 共 %d 个分区", k.topic, len(partitions))
	response.Metadata = map[string]interface{}{
		"topic":      k.topic,
		"partitions": len(partitions),
	}
	response.Duration = time.Since(startTime)
	return response, nil
}

// Stop 停止Kafka数据源
func (k *KafkaDataSource) Stop(ctx context.Context) error {
	if !k.IsStarted() {
		return nil
	}

	if err := k.BaseDataSource.Stop(ctx); err != nil {
		return err
	}

	if k.cancel != nil {
		k.cancel()
	}
	k.wg.Wait()

	slog.Info("Kafka数据源已停止", "datasource_id", k.GetID())
	return nil
}

// HealthCheck 健康检查
func (k *KafkaDataSource) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	status, err := k.BaseDataSource.HealthCheck(ctx)
	if err != nil {
		return status, err
	}

	if !k.IsStarted() {
		return status, nil
	}

	k.stats.RLock()
	consumed := k.stats.consumed
	lastMessageAt := k.stats.lastMessageAt
	lastError := k.stats.lastError
	k.stats.RUnlock()

	status.Details["brokers"] = k.brokers
	status.Details["topic"] = k.topic
	status.Details["group_id"] = k.groupID
	status.Details["consumed"] = consumed
	if !lastMessageAt.IsZero() {
		status.Details["last_message_at"] = lastMessageAt
	}

	if k.consuming.Load() {
		status.Status = "online"
		status.Message = "Kafka消费循环运行中"
	} else {
		// 锁被其他实例持有时本实例处于待命状态
		status.Status = "ready"
		status.Message = "Kafka消费循环待命"
		if lastError != "" {
			status.Status = "error"
			status.Message = fmt.Sprintf("Kafka消费循环异常: %s", lastError)
		}
	}

	return status, nil
}

// IsConsuming 检查消费循环是否在运行（用于测试）
func (k *KafkaDataSource) IsConsuming() bool {
	return k.consuming.Load()
}
