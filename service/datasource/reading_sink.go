/*
 * @module service/datasource/reading_sink
 * @description 读数汇聚器，把消息类数据源接收的报文标准化为原始读数并批量写入
 * @architecture 观察者模式 - 数据源推送报文，汇聚器负责转换、缓冲和落库
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 接收报文 -> 字段标准化 -> 批量缓冲 -> 定时/定量刷新入库
 * @rules 缺失sensor_id的报文拒收；时间戳原文保留，入库时尽力解析EventTime；非法数值按缺失处理
 * @dependencies gorm.io/gorm, sync
 * @refs mqtt.go, kafka.go, csv_file.go, service/models/reading.go
 */

package datasource

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"sensorhub-service/service/metrics"
	"sensorhub-service/service/models"
	"sensorhub-service/service/utils"

	"gorm.io/gorm"
)

// 报文字段别名，按优先级排列
var (
	sensorIDKeys    = []string{"sensor_id", "device_id"}
	recordedAtKeys  = []string{"recorded_at", "timestamp", "time", "ts"}
	temperatureKeys = []string{"temperature", "temp"}
	humidityKeys    = []string{"humidity", "hum"}
)

// ReadingSink 读数汇聚器接口
type ReadingSink interface {
	// Ingest 接收一条标准化前的报文
	Ingest(ctx context.Context, sourceID, sourceType string, payload map[string]interface{}) error

	// FlushAll 把所有缓冲中的读数立即写入
	FlushAll(ctx context.Context)

	// GetSinkStats 获取汇聚器统计信息
	GetSinkStats() map[string]interface{}

	// SetDB 设置数据库连接
	SetDB(db *gorm.DB)
}

// DefaultReadingSink 默认读数汇聚器实现
type DefaultReadingSink struct {
	mu sync.RWMutex
	db *gorm.DB

	converter *utils.DataConverter

	// 批量写入缓冲，按数据源ID分组
	batches          map[string][]*models.SensorReading
	sourceTypes      map[string]string // sourceID -> sourceType，刷新时用于指标标签
	batchMu          sync.Mutex
	batchSize        int
	batchTimeout     time.Duration
	lastFlushTime    map[string]time.Time
	flushTimerCancel map[string]context.CancelFunc

	// 统计信息
	stats struct {
		sync.RWMutex
		totalReceived  int64
		totalWritten   int64
		totalRejected  int64
		totalFailed    int64
		lastReceivedAt time.Time
	}
}

// NewDefaultReadingSink 创建默认读数汇聚器
func NewDefaultReadingSink() *DefaultReadingSink {
	return &DefaultReadingSink{
		converter:        utils.NewDataConverter(),
		batches:          make(map[string][]*models.SensorReading),
		sourceTypes:      make(map[string]string),
		lastFlushTime:    make(map[string]time.Time),
		flushTimerCancel: make(map[string]context.CancelFunc),
		batchSize:        100,
		batchTimeout:     200 * time.Millisecond,
	}
}

// SetDB 设置数据库连接
func (s *DefaultReadingSink) SetDB(db *gorm.DB) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.db = db
}

// Ingest 接收一条报文，标准化后进入批量缓冲
func (s *DefaultReadingSink) Ingest(ctx context.Context, sourceID, sourceType string, payload map[string]interface{}) error {
	s.stats.Lock()
	s.stats.totalReceived++
	s.stats.lastReceivedAt = time.Now()
	s.stats.Unlock()

	reading, err := s.ConvertPayload(payload, sourceID, sourceType)
	if err != nil {
		s.stats.Lock()
		s.stats.totalRejected++
		s.stats.Unlock()
		metrics.ReadingsRejected.WithLabelValues(sourceType, rejectReason(err)).Inc()
		return err
	}

	// 添加到批量缓冲
	s.batchMu.Lock()
	s.sourceTypes[sourceID] = sourceType
	batch := append(s.batches[sourceID], reading)
	s.batches[sourceID] = batch

	if _, exists := s.lastFlushTime[sourceID]; !exists {
		s.lastFlushTime[sourceID] = time.Now()
	}
	shouldFlush := len(batch) >= s.batchSize
	timeoutReached := time.Since(s.lastFlushTime[sourceID]) >= s.batchTimeout
	s.batchMu.Unlock()

	if shouldFlush || timeoutReached {
		s.flushSourceBatch(sourceID)
	} else {
		s.resetFlushTimer(sourceID)
	}

	return nil
}

// rejectError 标记可计数的拒收原因
type rejectError struct {
	reason string
	msg    string
}

func (e *rejectError) Error() string { return e.msg }

func rejectReason(err error) string {
	if re, ok := err.(*rejectError); ok {
		return re.reason
	}
	return "invalid_payload"
}

// ConvertPayload 把一条报文标准化为原始读数。
// sensor_id缺失时拒收；时间戳保留原文并尽力解析EventTime；
// 温湿度解析失败按缺失处理，交给清洗阶段填补。
func (s *DefaultReadingSink) ConvertPayload(payload map[string]interface{}, sourceID, sourceType string) (*models.SensorReading, error) {
	if len(payload) == 0 {
		return nil, &rejectError{reason: "empty_payload", msg: "报文内容为空"}
	}

	sensorID := ""
	for _, key := range sensorIDKeys {
		if v, exists := payload[key]; exists {
			sensorID = s.converter.NormalizeString(s.converter.ToString(v))
			break
		}
	}
	if sensorID == "" {
		return nil, &rejectError{reason: "missing_sensor_id", msg: "报文缺少sensor_id"}
	}

	reading := &models.SensorReading{
		SensorID:   sensorID,
		SourceType: sourceType,
	}
	if sourceID != "" {
		reading.SourceID = &sourceID
	}

	// 时间戳：保留设备上报原文，入库时尽力解析；
	// 纯数字视为Unix时间戳并格式化，保证清洗阶段能重新解析
	for _, key := range recordedAtKeys {
		v, exists := payload[key]
		if !exists {
			continue
		}
		if t, ok := epochToTime(v); ok {
			reading.RecordedAt = t.Format("2006-01-02 15:04:05")
			reading.EventTime = &t
		} else {
			reading.RecordedAt = s.converter.ToString(v)
			if t, err := s.converter.ParseSensorTime(reading.RecordedAt); err == nil {
				reading.EventTime = &t
			}
		}
		break
	}

	for _, key := range temperatureKeys {
		if v, exists := payload[key]; exists {
			if f, err := s.converter.ToNullableFloat(v); err == nil {
				reading.Temperature = f
			}
			break
		}
	}

	for _, key := range humidityKeys {
		if v, exists := payload[key]; exists {
			if f, err := s.converter.ToNullableFloat(v); err == nil {
				reading.Humidity = f
			}
			break
		}
	}

	return reading, nil
}

// epochToTime 把数字形式的时间戳转换为UTC时间，超过1e12按毫秒处理
func epochToTime(value interface{}) (time.Time, bool) {
	var epoch int64
	switch v := value.(type) {
	case float64:
		epoch = int64(v)
	case int:
		epoch = int64(v)
	case int64:
		epoch = v
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		epoch = parsed
	default:
		return time.Time{}, false
	}

	if epoch < 1e9 {
		return time.Time{}, false
	}
	if epoch >= 1e12 {
		return time.UnixMilli(epoch).UTC(), true
	}
	return time.Unix(epoch, 0).UTC(), true
}

// flushSourceBatch 刷新特定数据源的批量数据
func (s *DefaultReadingSink) flushSourceBatch(sourceID string) {
	s.batchMu.Lock()
	batch := s.batches[sourceID]
	if len(batch) == 0 {
		s.batchMu.Unlock()
		return
	}

	// 复制批次数据并清空缓冲
	batchCopy := make([]*models.SensorReading, len(batch))
	copy(batchCopy, batch)
	s.batches[sourceID] = make([]*models.SensorReading, 0, s.batchSize)
	s.lastFlushTime[sourceID] = time.Now()
	sourceType := s.sourceTypes[sourceID]
	s.batchMu.Unlock()

	// 异步刷新
	go s.flushBatch(sourceID, sourceType, batchCopy)
}

// flushBatch 执行批量写入
func (s *DefaultReadingSink) flushBatch(sourceID, sourceType string, batch []*models.SensorReading) {
	if len(batch) == 0 {
		return
	}

	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()

	if db == nil {
		slog.Error("无法刷新批次：数据库连接未初始化", "source_id", sourceID)
		return
	}

	startTime := time.Now()
	if err := db.CreateInBatches(batch, s.batchSize).Error; err != nil {
		slog.Error("读数批量写入失败",
			"source_id", sourceID,
			"batch_size", len(batch),
			"error", err)
		s.stats.Lock()
		s.stats.totalFailed += int64(len(batch))
		s.stats.Unlock()
		return
	}

	metrics.ReadingsIngested.WithLabelValues(sourceType).Add(float64(len(batch)))

	s.stats.Lock()
	s.stats.totalWritten += int64(len(batch))
	s.stats.Unlock()

	slog.Debug("读数批量写入成功",
		"source_id", sourceID,
		"rows", len(batch),
		"duration_ms", time.Since(startTime).Milliseconds())
}

// resetFlushTimer 重置刷新定时器
func (s *DefaultReadingSink) resetFlushTimer(sourceID string) {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	// 取消旧定时器
	if cancel, exists := s.flushTimerCancel[sourceID]; exists {
		cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.flushTimerCancel[sourceID] = cancel

	go func() {
		timer := time.NewTimer(s.batchTimeout)
		defer timer.Stop()

		select {
		case <-timer.C:
			s.flushSourceBatch(sourceID)
		case <-ctx.Done():
			return
		}
	}()
}

// FlushAll 同步刷新所有缓冲（服务停止前调用）
func (s *DefaultReadingSink) FlushAll(ctx context.Context) {
	s.batchMu.Lock()
	pending := make(map[string][]*models.SensorReading)
	for sourceID, batch := range s.batches {
		if len(batch) > 0 {
			batchCopy := make([]*models.SensorReading, len(batch))
			copy(batchCopy, batch)
			pending[sourceID] = batchCopy
			s.batches[sourceID] = make([]*models.SensorReading, 0, s.batchSize)
			s.lastFlushTime[sourceID] = time.Now()
		}
	}
	sourceTypes := make(map[string]string, len(s.sourceTypes))
	for id, st := range s.sourceTypes {
		sourceTypes[id] = st
	}
	for _, cancel := range s.flushTimerCancel {
		cancel()
	}
	s.flushTimerCancel = make(map[string]context.CancelFunc)
	s.batchMu.Unlock()

	for sourceID, batch := range pending {
		s.flushBatch(sourceID, sourceTypes[sourceID], batch)
	}
}

// GetSinkStats 获取汇聚器统计信息
func (s *DefaultReadingSink) GetSinkStats() map[string]interface{} {
	s.stats.RLock()
	defer s.stats.RUnlock()

	return map[string]interface{}{
		"total_received":   s.stats.totalReceived,
		"total_written":    s.stats.totalWritten,
		"total_rejected":   s.stats.totalRejected,
		"total_failed":     s.stats.totalFailed,
		"last_received_at": s.stats.lastReceivedAt,
		"batch_size":       s.batchSize,
		"batch_timeout_ms": s.batchTimeout.Milliseconds(),
		"pending_batches":  s.getPendingBatchesCount(),
	}
}

// getPendingBatchesCount 获取待刷新的批次数量
func (s *DefaultReadingSink) getPendingBatchesCount() int {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	count := 0
	for _, batch := range s.batches {
		if len(batch) > 0 {
			count++
		}
	}
	return count
}

// 全局读数汇聚器实例
var (
	globalReadingSink ReadingSink
	sinkOnce          sync.Once
)

// GetGlobalReadingSink 获取全局读数汇聚器实例
func GetGlobalReadingSink() ReadingSink {
	sinkOnce.Do(func() {
		globalReadingSink = NewDefaultReadingSink()
	})
	return globalReadingSink
}

// InitGlobalReadingSink 初始化全局读数汇聚器(在服务启动时调用)
func InitGlobalReadingSink(db *gorm.DB) {
	sinkOnce.Do(func() {
		sink := NewDefaultReadingSink()
		sink.SetDB(db)
		globalReadingSink = sink
		slog.Info("全局读数汇聚器初始化完成")
	})
	// 已经通过GetGlobalReadingSink创建时只补充数据库连接
	globalReadingSink.SetDB(db)
}

var _ ReadingSink = (*DefaultReadingSink)(nil)
