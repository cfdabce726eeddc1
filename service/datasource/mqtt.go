/*
 * @module service/datasource/mqtt
 * @description MQTT传感器数据源，常驻订阅上报主题并把读数写入汇聚器
 * @architecture 观察者模式 - 基于MQTT客户端的消息订阅和处理
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 数据源生命周期：初始化 -> 连接 -> 订阅 -> 接收处理 -> 断开
 * @rules 报文必须是JSON对象或JSON数组；主题形如sensors/<id>/readings时可从主题补全sensor_id
 * @dependencies github.com/eclipse/paho.mqtt.golang
 * @refs reading_sink.go, service/meta/datasource.go
 */

package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"sensorhub-service/service/meta"
	"sensorhub-service/service/metrics"
	"sensorhub-service/service/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	// 调试查询只保留最近的消息
	mqttRecentMessagesLimit = 1000
	// 接收通道容量，写满后丢弃新消息
	mqttMessageBuffer = 1000
)

// MQTTDataSource MQTT传感器数据源实现
type MQTTDataSource struct {
	*BaseDataSource

	// 连接与订阅配置，Init时解析，之后只读
	broker         string
	port           int
	clientID       string
	username       string
	password       string
	topics         []string
	qos            byte
	timeout        time.Duration
	keepAlive      time.Duration
	cleanSession   bool
	reconnectDelay time.Duration

	client         mqtt.Client
	msgChannel     chan MQTTMessage
	reconnectCount atomic.Int64
	sink           ReadingSink

	recentMu     sync.RWMutex
	receivedMsgs []MQTTMessage // 最近接收的消息，供调试查询
}

// MQTTMessage MQTT消息结构
type MQTTMessage struct {
	Topic      string                 `json:"topic"`
	Payload    string                 `json:"payload"`
	QoS        byte                   `json:"qos"`
	Retained   bool                   `json:"retained"`
	MessageID  uint16                 `json:"message_id"`
	ReceivedAt time.Time              `json:"received_at"`
	ParsedData map[string]interface{} `json:"parsed_data,omitempty"`
}

// NewMQTTDataSource 创建MQTT数据源
func NewMQTTDataSource() DataSourceInterface {
	return &MQTTDataSource{
		BaseDataSource: NewBaseDataSource(meta.DataSourceTypeMQTT, true), // 常驻数据源
		qos:            1,
		timeout:        30 * time.Second,
		keepAlive:      60 * time.Second,
		cleanSession:   true,
		reconnectDelay: 5 * time.Second,
	}
}

// asInt 容忍JSON反序列化产生的float64以及字符串形式的整数
func asInt(value interface{}) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}

// asSeconds 把数值型配置解释为秒，非正数视为无效
func asSeconds(value interface{}) (time.Duration, bool) {
	n, ok := asInt(value)
	if !ok || n <= 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// topicList 主题参数既可以是单个字符串也可以是字符串数组
func topicList(value interface{}) []string {
	switch v := value.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []interface{}:
		topics := make([]string, 0, len(v))
		for _, item := range v {
			if topic, ok := item.(string); ok && topic != "" {
				topics = append(topics, topic)
			}
		}
		return topics
	case []string:
		return v
	default:
		return nil
	}
}

// Init 初始化MQTT数据源
func (m *MQTTDataSource) Init(ctx context.Context, ds *models.DataSource) error {
	if err := m.BaseDataSource.Init(ctx, ds); err != nil {
		return err
	}

	config := ds.ConnectionConfig
	if config == nil {
		return fmt.Errorf("连接配置不能为空")
	}

	hostVal, hasHost := config[meta.DataSourceFieldHost]
	if !hasHost {
		return fmt.Errorf("缺少broker地址配置")
	}
	host, ok := hostVal.(string)
	if !ok || host == "" {
		return fmt.Errorf("broker地址格式错误")
	}
	m.broker = host

	m.port = 1883
	if portVal, exists := config[meta.DataSourceFieldPort]; exists {
		port, ok := asInt(portVal)
		if !ok || port <= 0 {
			return fmt.Errorf("端口配置无效: %v", portVal)
		}
		m.port = port
	}

	if id, ok := config[meta.DataSourceFieldClientID].(string); ok && id != "" {
		m.clientID = id
	} else {
		m.clientID = fmt.Sprintf("sensorhub-mqtt-%d", time.Now().Unix())
	}
	if user, ok := config[meta.DataSourceFieldUsername].(string); ok {
		m.username = user
	}
	if pass, ok := config[meta.DataSourceFieldPassword].(string); ok {
		m.password = pass
	}

	if ds.ParamsConfig != nil {
		m.parseParamsConfig(ds.ParamsConfig)
	}

	if len(m.topics) == 0 {
		m.topics = []string{"sensors/+/readings"}
	}

	m.sink = GetGlobalReadingSink()
	return nil
}

// parseParamsConfig 解析参数配置
func (m *MQTTDataSource) parseParamsConfig(params map[string]interface{}) {
	m.topics = topicList(params[meta.DataSourceFieldTopic])

	if qos, ok := asInt(params[meta.DataSourceFieldQos]); ok && qos >= 0 && qos <= 2 {
		m.qos = byte(qos)
	}
	if d, ok := asSeconds(params[meta.DataSourceFieldTimeout]); ok {
		m.timeout = d
	}
	if d, ok := asSeconds(params["keep_alive"]); ok {
		m.keepAlive = d
	}
	if clean, ok := params["clean_session"].(bool); ok {
		m.cleanSession = clean
	}
	if d, ok := asSeconds(params["reconnect_delay"]); ok {
		m.reconnectDelay = d
	}
}

// brokerAddr 日志与状态上报用的broker地址
func (m *MQTTDataSource) brokerAddr() string {
	return fmt.Sprintf("%s:%d", m.broker, m.port)
}

// clientOptions 组装paho客户端配置
func (m *MQTTDataSource) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker("tcp://" + m.brokerAddr()).
		SetClientID(m.clientID).
		SetKeepAlive(m.keepAlive).
		SetCleanSession(m.cleanSession).
		SetConnectTimeout(m.timeout).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(m.reconnectDelay).
		SetDefaultPublishHandler(m.messageHandler).
		SetOnConnectHandler(m.onConnectHandler).
		SetConnectionLostHandler(m.connectionLostHandler)

	if m.username != "" {
		opts.SetUsername(m.username)
	}
	if m.password != "" {
		opts.SetPassword(m.password)
	}
	return opts
}

// Start 启动MQTT数据源。
// 每次启动都重建接收通道，停止后可以被管理器重新拉起。
func (m *MQTTDataSource) Start(ctx context.Context) error {
	if err := m.BaseDataSource.Start(ctx); err != nil {
		return err
	}

	m.msgChannel = make(chan MQTTMessage, mqttMessageBuffer)
	m.client = mqtt.NewClient(m.clientOptions())

	if token := m.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("连接MQTT broker失败: %v", token.Error())
	}

	for _, topic := range m.topics {
		if token := m.client.Subscribe(topic, m.qos, m.messageHandler); token.Wait() && token.Error() != nil {
			return fmt.Errorf("订阅主题 %s 失败: %v", topic, token.Error())
		}
		slog.Info("MQTT数据源已订阅主题", "datasource_id", m.GetID(), "topic", topic)
	}

	go m.processMessages()

	slog.Info("MQTT数据源已启动",
		"datasource_id", m.GetID(),
		"broker", m.brokerAddr(),
		"client_id", m.clientID)
	return nil
}

// messageHandler MQTT消息处理器
func (m *MQTTDataSource) messageHandler(client mqtt.Client, msg mqtt.Message) {
	message := MQTTMessage{
		Topic:      msg.Topic(),
		Payload:    string(msg.Payload()),
		QoS:        msg.Qos(),
		Retained:   msg.Retained(),
		MessageID:  msg.MessageID(),
		ReceivedAt: time.Now(),
	}
	// 对象报文在此解析，数组报文留给ingestMessage展开
	if err := json.Unmarshal(msg.Payload(), &message.ParsedData); err != nil {
		message.ParsedData = nil
	}

	select {
	case m.msgChannel <- message:
	default:
		// 通道满了，记录警告但不阻塞paho回调
		slog.Warn("MQTT数据源消息通道已满，丢弃消息",
			"datasource_id", m.GetID(), "topic", msg.Topic())
		metrics.ReadingsRejected.WithLabelValues(m.GetType(), "channel_full").Inc()
	}
}

// connectionLostHandler 连接丢失处理器
func (m *MQTTDataSource) connectionLostHandler(client mqtt.Client, err error) {
	slog.Error("MQTT连接丢失，等待自动重连", "datasource_id", m.GetID(), "error", err)
	m.reconnectCount.Add(1)
}

// onConnectHandler 连接成功处理器
func (m *MQTTDataSource) onConnectHandler(client mqtt.Client) {
	slog.Info("MQTT连接成功", "datasource_id", m.GetID(), "reconnect_count", m.reconnectCount.Load())
	m.reconnectCount.Store(0)
}

// processMessages 消费接收通道，通道关闭后退出
func (m *MQTTDataSource) processMessages() {
	for msg := range m.msgChannel {
		m.remember(msg)

		if err := m.ingestMessage(context.Background(), msg); err != nil {
			slog.Debug("MQTT消息入库失败",
				"datasource_id", m.GetID(),
				"topic", msg.Topic,
				"error", err)
		}
	}
}

// remember 追加到最近消息缓冲，超出上限时丢弃最旧的
func (m *MQTTDataSource) remember(msg MQTTMessage) {
	m.recentMu.Lock()
	defer m.recentMu.Unlock()

	m.receivedMsgs = append(m.receivedMsgs, msg)
	if overflow := len(m.receivedMsgs) - mqttRecentMessagesLimit; overflow > 0 {
		m.receivedMsgs = m.receivedMsgs[overflow:]
	}
}

// ingestMessage 把单条MQTT消息标准化后写入汇聚器。
// 报文可以是单个JSON对象，也可以是JSON数组（一次上报多条读数）。
func (m *MQTTDataSource) ingestMessage(ctx context.Context, msg MQTTMessage) error {
	var payloads []map[string]interface{}

	if msg.ParsedData != nil {
		payloads = append(payloads, msg.ParsedData)
	} else {
		var batch []map[string]interface{}
		if err := json.Unmarshal([]byte(msg.Payload), &batch); err != nil {
			metrics.ReadingsRejected.WithLabelValues(m.GetType(), "invalid_json").Inc()
			return fmt.Errorf("报文不是有效的JSON对象或数组")
		}
		payloads = batch
	}

	for _, payload := range payloads {
		if payload == nil {
			continue
		}
		fillSensorIDFromTopic(payload, msg.Topic)

		result, err := m.runPreprocessScript(ctx, payload, map[string]interface{}{"topic": msg.Topic})
		if err != nil {
			metrics.ReadingsRejected.WithLabelValues(m.GetType(), "script_error").Inc()
			slog.Warn("MQTT预处理脚本执行失败",
				"datasource_id", m.GetID(), "topic", msg.Topic, "error", err)
			continue
		}

		for _, normalized := range normalizeScriptResult(result) {
			if err := m.sink.Ingest(ctx, m.GetID(), m.GetType(), normalized); err != nil {
				slog.Debug("MQTT读数被拒收", "datasource_id", m.GetID(), "error", err)
			}
		}
	}

	return nil
}

// fillSensorIDFromTopic 报文缺少传感器标识时从主题补全。
// 约定主题形如 sensors/<sensor_id>/readings。
func fillSensorIDFromTopic(payload map[string]interface{}, topic string) {
	for _, key := range sensorIDKeys {
		if _, exists := payload[key]; exists {
			return
		}
	}

	segments := strings.Split(topic, "/")
	if len(segments) >= 2 && segments[0] == "sensors" && segments[1] != "" && segments[1] != "+" {
		payload["sensor_id"] = segments[1]
	}
}

// normalizeScriptResult 把脚本返回值展开为报文列表，nil表示丢弃
func normalizeScriptResult(result interface{}) []map[string]interface{} {
	switch v := result.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		return []map[string]interface{}{v}
	case []interface{}:
		payloads := make([]map[string]interface{}, 0, len(v))
		for _, item := range v {
			if payload, ok := item.(map[string]interface{}); ok {
				payloads = append(payloads, payload)
			}
		}
		return payloads
	case []map[string]interface{}:
		return v
	default:
		return nil
	}
}

// Execute 执行操作
func (m *MQTTDataSource) Execute(ctx context.Context, request *ExecuteRequest) (*ExecuteResponse, error) {
	startTime := time.Now()
	response := &ExecuteResponse{
		Success:   false,
		Timestamp: startTime,
	}

	if !m.IsInitialized() {
		response.Error = "数据源未初始化"
		response.Duration = time.Since(startTime)
		return response, fmt.Errorf("数据源未初始化")
	}

	switch request.Operation {
	case OperationQuery:
		return m.handleQuery(ctx, request, startTime)
	case OperationIngest:
		return m.handleIngest(ctx, request, startTime)
	case OperationStatus:
		return m.handleStatus(ctx, request, startTime)
	case OperationTest:
		return m.handleTest(ctx, request, startTime)
	default:
		response.Error = fmt.Sprintf("不支持的操作: %s", request.Operation)
		response.Duration = time.Since(startTime)
		return response, fmt.Errorf("不支持的操作: %s", request.Operation)
	}
}

// handleQuery 分页查询最近接收的消息，可按主题过滤。
// limit与offset兼容JSON反序列化产生的float64。
func (m *MQTTDataSource) handleQuery(ctx context.Context, request *ExecuteRequest, startTime time.Time) (*ExecuteResponse, error) {
	limit, offset := 100, 0
	topicFilter := ""
	if request.Params != nil {
		if v, ok := asInt(request.Params["limit"]); ok {
			limit = v
		}
		if v, ok := asInt(request.Params["offset"]); ok {
			offset = v
		}
		if v, ok := request.Params["topic"].(string); ok {
			topicFilter = v
		}
	}

	m.recentMu.RLock()
	defer m.recentMu.RUnlock()

	matched := m.receivedMsgs
	if topicFilter != "" {
		matched = nil
		for _, msg := range m.receivedMsgs {
			if msg.Topic == topicFilter {
				matched = append(matched, msg)
			}
		}
	}

	total := len(matched)
	start := offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	if end < start {
		end = start
	}

	// 复制一份，避免响应序列化时和接收goroutine竞争底层数组
	page := make([]MQTTMessage, end-start)
	copy(page, matched[start:end])

	return &ExecuteResponse{
		Success:   true,
		Timestamp: startTime,
		Data:      page,
		RowCount:  int64(len(page)),
		Metadata: map[string]interface{}{
			"total":        total,
			"limit":        limit,
			"offset":       offset,
			"topic_filter": topicFilter,
			"broker":       m.brokerAddr(),
			"client_id":    m.clientID,
			"topics":       m.topics,
		},
		Duration: time.Since(startTime),
	}, nil
}

// handleIngest 直接注入一条报文（调试和回放场景，不经过broker）
func (m *MQTTDataSource) handleIngest(ctx context.Context, request *ExecuteRequest, startTime time.Time) (*ExecuteResponse, error) {
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

	result, err := m.runPreprocessScript(ctx, payload, nil)
	if err != nil {
		response.Error = fmt.Sprintf("预处理脚本执行失败: %v", err)
		response.Duration = time.Since(startTime)
		return response, err
	}

	ingested := 0
	for _, normalized := range normalizeScriptResult(result) {
		if err := m.sink.Ingest(ctx, m.GetID(), m.GetType(), normalized); err != nil {
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
func (m *MQTTDataSource) handleStatus(ctx context.Context, request *ExecuteRequest, startTime time.Time) (*ExecuteResponse, error) {
	m.recentMu.RLock()
	msgCount := len(m.receivedMsgs)
	m.recentMu.RUnlock()

	return &ExecuteResponse{
		Success:   true,
		Timestamp: startTime,
		Data: map[string]interface{}{
			"broker":          m.brokerAddr(),
			"client_id":       m.clientID,
			"connected":       m.IsConnected(),
			"topics":          m.topics,
			"qos":             m.qos,
			"clean_session":   m.cleanSession,
			"message_count":   msgCount,
			"reconnect_count": m.reconnectCount.Load(),
		},
		Duration: time.Since(startTime),
	}, nil
}

// handleTest 连通性测试
func (m *MQTTDataSource) handleTest(ctx context.Context, request *ExecuteRequest, startTime time.Time) (*ExecuteResponse, error) {
	response := &ExecuteResponse{
		Timestamp: startTime,
	}

	if !m.IsConnected() {
		response.Error = "MQTT客户端未连接"
		response.Duration = time.Since(startTime)
		return response, fmt.Errorf("MQTT客户端未连接")
	}

	response.Success = true
	response.Message = fmt.Sprintf("已连接到 %s", m.brokerAddr())
	response.Duration = time.Since(startTime)
	return response, nil
}

// Stop 停止MQTT数据源
func (m *MQTTDataSource) Stop(ctx context.Context) error {
	if !m.IsStarted() {
		return nil
	}

	if err := m.BaseDataSource.Stop(ctx); err != nil {
		return err
	}

	if m.client != nil && m.client.IsConnected() {
		m.client.Unsubscribe(m.topics...)
		m.client.Disconnect(250)
	}
	close(m.msgChannel)

	slog.Info("MQTT数据源已停止", "datasource_id", m.GetID())
	return nil
}

// HealthCheck 健康检查
func (m *MQTTDataSource) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	status, err := m.BaseDataSource.HealthCheck(ctx)
	if err != nil {
		return status, err
	}

	if !m.IsConnected() {
		status.Status = "offline"
		status.Message = "MQTT客户端未连接"
		return status, nil
	}

	m.recentMu.RLock()
	msgCount := len(m.receivedMsgs)
	m.recentMu.RUnlock()

	status.Status = "online"
	status.Message = "MQTT客户端已连接"
	status.Details["broker"] = m.brokerAddr()
	status.Details["client_id"] = m.clientID
	status.Details["topics"] = m.topics
	status.Details["message_count"] = msgCount
	status.Details["reconnect_count"] = m.reconnectCount.Load()
	return status, nil
}

// GetReceivedMessages 获取最近接收消息的副本
func (m *MQTTDataSource) GetReceivedMessages() []MQTTMessage {
	m.recentMu.RLock()
	defer m.recentMu.RUnlock()

	msgs := make([]MQTTMessage, len(m.receivedMsgs))
	copy(msgs, m.receivedMsgs)
	return msgs
}

// ClearReceivedMessages 清空最近接收的消息
func (m *MQTTDataSource) ClearReceivedMessages() {
	m.recentMu.Lock()
	defer m.recentMu.Unlock()
	m.receivedMsgs = nil
}

// IsConnected 检查MQTT客户端是否已连接
func (m *MQTTDataSource) IsConnected() bool {
	return m.client != nil && m.client.IsConnected()
}
