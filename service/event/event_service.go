/*
 * @module service/event_service
 * @description 事件管理服务，提供流水线事件的SSE推送、跨实例NOTIFY分发与Kafka镜像
 * @architecture 事件驱动架构 - 业务服务层
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 引擎事件 -> 入库 -> 本实例SSE分发 -> pg_notify跨实例广播 -> Kafka镜像
 * @rules 事件按到达顺序分发，客户端队列满时丢弃该客户端本条事件，不阻塞引擎
 * @dependencies sensorhub-service/service/models, gorm.io/gorm, github.com/lib/pq
 * @refs service/pipeline, client/connectors
 */

package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"sensorhub-service/client/connectors"
	"sensorhub-service/service/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// PipelineEventsChannel PostgreSQL NOTIFY通道名
const PipelineEventsChannel = "pipeline_events"

// sseClientBuffer 单个SSE客户端的事件缓冲条数
const sseClientBuffer = 100

// EventService 事件管理服务
type EventService struct {
	db          *gorm.DB
	publisher   *connectors.KafkaEventPublisher // 可为nil，表示未启用Kafka镜像
	instanceID  string
	connections map[string]*SSEClient // connectionID -> client
	mu          sync.RWMutex
	dbListener  *pq.Listener
	listening   bool // PostgreSQL存储下启用跨实例分发
	ctx         context.Context
	cancel      context.CancelFunc
}

// SSEClient SSE客户端连接
type SSEClient struct {
	ID          string
	ClientIP    string
	Channel     chan *models.PipelineEvent
	Done        chan bool
	ConnectedAt time.Time
}

// eventEnvelope NOTIFY载荷，origin用于过滤本实例的回环通知
type eventEnvelope struct {
	Origin string                `json:"origin"`
	Event  *models.PipelineEvent `json:"event"`
}

// NewEventService 创建事件服务实例
func NewEventService(db *gorm.DB, publisher *connectors.KafkaEventPublisher) *EventService {
	ctx, cancel := context.WithCancel(context.Background())

	service := &EventService{
		db:          db,
		publisher:   publisher,
		instanceID:  uuid.New().String(),
		connections: make(map[string]*SSEClient),
		ctx:         ctx,
		cancel:      cancel,
	}

	// 仅PostgreSQL支持LISTEN/NOTIFY，其他存储下事件只在本实例分发
	if db != nil && db.Dialector.Name() == "postgres" {
		service.listening = true
		service.dbListener = pq.NewListener(listenerConnStr(), 10*time.Second, time.Minute,
			func(ev pq.ListenerEventType, err error) {
				if err != nil {
					slog.Warn("PostgreSQL监听器状态变化", "event", ev, "error", err)
				}
			})
		go service.runDBListener()
	}

	go service.runConnectionJanitor()

	return service
}

// AddSSEConnection 注册一个SSE客户端并返回其事件通道
func (s *EventService) AddSSEConnection(connectionID, clientIP string) *SSEClient {
	client := &SSEClient{
		ID:          connectionID,
		ClientIP:    clientIP,
		Channel:     make(chan *models.PipelineEvent, sseClientBuffer),
		Done:        make(chan bool),
		ConnectedAt: time.Now(),
	}

	s.mu.Lock()
	s.connections[connectionID] = client
	s.mu.Unlock()

	slog.Info("SSE连接已建立", "connection_id", connectionID, "client_ip", clientIP)
	return client
}

// RemoveSSEConnection 注销SSE客户端并关闭其Done通道
func (s *EventService) RemoveSSEConnection(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, exists := s.connections[connectionID]
	if !exists {
		return
	}
	close(client.Done)
	delete(s.connections, connectionID)
	slog.Info("SSE连接已断开", "connection_id", connectionID)
}

// PublishPipelineEvent 发布流水线事件：入库、本实例SSE分发、跨实例NOTIFY、Kafka镜像
func (s *EventService) PublishPipelineEvent(event *models.PipelineEvent) {
	if event == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	record := &models.PipelineEventRecord{
		TaskID:    event.TaskID,
		EventType: event.EventType,
		Data:      models.JSONB(event.Data),
		CreatedAt: event.Timestamp,
	}
	if err := s.db.Create(record).Error; err != nil {
		slog.Error("保存流水线事件失败", "task_id", event.TaskID, "event_type", event.EventType, "error", err)
	}

	s.broadcast(event)
	s.notifyReplicas(event)

	if s.publisher != nil {
		if err := s.publisher.PublishPipelineEvent(s.ctx, event); err != nil {
			slog.Warn("Kafka事件镜像失败", "task_id", event.TaskID, "error", err)
		}
	}
}

// broadcast 向本实例所有SSE连接分发事件，队列满的客户端丢弃本条
func (s *EventService) broadcast(event *models.PipelineEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, client := range s.connections {
		select {
		case client.Channel <- event:
		default:
			slog.Warn("SSE事件队列已满，丢弃本条事件", "connection_id", client.ID, "event_type", event.EventType)
		}
	}
}

// notifyReplicas 通过pg_notify把事件广播给其他实例
func (s *EventService) notifyReplicas(event *models.PipelineEvent) {
	if !s.listening {
		return
	}

	payload, err := json.Marshal(&eventEnvelope{Origin: s.instanceID, Event: event})
	if err != nil {
		slog.Error("序列化事件通知失败", "error", err)
		return
	}

	if err := s.db.Exec("SELECT pg_notify(?, ?)", PipelineEventsChannel, string(payload)).Error; err != nil {
		slog.Error("发送事件通知失败", "error", err)
	}
}

// listenerConnStr 监听器使用的连接串，DATABASE_URL优先
func listenerConnStr() string {
	if connStr := os.Getenv("DATABASE_URL"); connStr != "" {
		return connStr
	}

	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		envOr("DB_HOST", "localhost"),
		envOr("DB_PORT", "5432"),
		envOr("DB_USER", "postgres"),
		envOr("DB_PASSWORD", "sensorhub2024"),
		envOr("DB_NAME", "postgres"),
		envOr("DB_SSLMODE", "disable"))
}

func envOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// runDBListener 监听事件通道，接收其他实例广播的事件
func (s *EventService) runDBListener() {
	if err := s.dbListener.Listen(PipelineEventsChannel); err != nil {
		slog.Error("监听事件通道失败", "channel", PipelineEventsChannel, "error", err)
		return
	}

	slog.Info("事件通道监听已启动", "channel", PipelineEventsChannel)

	for {
		select {
		case notification := <-s.dbListener.Notify:
			if notification != nil {
				s.handleDBNotification(notification)
			}
		case <-s.ctx.Done():
			slog.Info("事件通道监听已停止")
			return
		}
	}
}

// handleDBNotification 处理数据库通知，过滤本实例发出的回环事件
func (s *EventService) handleDBNotification(notification *pq.Notification) {
	var envelope eventEnvelope
	if err := json.Unmarshal([]byte(notification.Extra), &envelope); err != nil {
		slog.Warn("解析事件通知失败", "error", err)
		return
	}

	if envelope.Event == nil || envelope.Origin == s.instanceID {
		return
	}

	s.broadcast(envelope.Event)
}

// runConnectionJanitor 定期清理Done已关闭的连接
func (s *EventService) runConnectionJanitor() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepClosedConnections()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *EventService) sweepClosedConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for connectionID, client := range s.connections {
		select {
		case <-client.Done:
			delete(s.connections, connectionID)
			slog.Info("清理已断开的SSE连接", "connection_id", connectionID)
		default:
		}
	}
}

// GetEventHistory 分页查询事件历史
func (s *EventService) GetEventHistory(page, pageSize int, taskID, eventType string) ([]models.PipelineEventRecord, int64, error) {
	var events []models.PipelineEventRecord
	var total int64

	query := s.db.Model(&models.PipelineEventRecord{})
	if taskID != "" {
		query = query.Where("task_id = ?", taskID)
	}
	if eventType != "" {
		query = query.Where("event_type = ?", eventType)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&events).Error

	return events, total, err
}

// GetStatistics 获取事件服务统计信息
func (s *EventService) GetStatistics() map[string]interface{} {
	s.mu.RLock()
	connectionCount := len(s.connections)
	s.mu.RUnlock()

	stats := map[string]interface{}{
		"instance_id":     s.instanceID,
		"sse_connections": connectionCount,
		"replica_fanout":  s.listening,
		"kafka_mirror":    s.publisher != nil,
	}
	if s.publisher != nil {
		stats["kafka_publisher"] = s.publisher.GetStatistics()
	}

	return stats
}

// Stop 停止事件服务并断开全部SSE连接
func (s *EventService) Stop() {
	s.cancel()

	if s.dbListener != nil {
		s.dbListener.Close()
	}

	s.mu.Lock()
	for _, client := range s.connections {
		close(client.Done)
	}
	s.connections = make(map[string]*SSEClient)
	s.mu.Unlock()

	slog.Info("事件服务已停止")
}
