/*
 * @module service/reading/reading_service
 * @description 原始读数服务：批量上报入库、分页查询与样例数据生成
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 上报报文 -> 汇聚器标准化入库；生成请求 -> 随机序列构造 -> 批量写入
 * @rules 单次上报不超过1000条；生成器给定seed时输出确定；坏时间戳行保留原文待清洗阶段丢弃
 * @dependencies sensorhub-service/service/datasource, gorm.io/gorm, math/rand
 * @refs api/controllers/reading_controller.go, service/config
 */

package reading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"sensorhub-service/service/config"
	"sensorhub-service/service/datasource"
	"sensorhub-service/service/meta"
	"sensorhub-service/service/metrics"
	"sensorhub-service/service/models"

	"gorm.io/gorm"
)

const (
	// SourceTypeGenerated 样例生成数据的来源类型标签
	SourceTypeGenerated = "generated"

	// maxIngestBatch 单次批量上报条数上限
	maxIngestBatch = 1000

	// 生成器缺陷注入比例，与真实设备数据的脏数据占比对齐
	tempNullRatio     = 0.02
	humidityNullRatio = 0.015
	malformedRatio    = 0.005

	// malformedTimestamp 坏时间戳占位原文，清洗阶段解析失败后丢弃该行
	malformedTimestamp = "N/A"
)

// ReadingService 原始读数服务
type ReadingService struct {
	db     *gorm.DB
	sink   datasource.ReadingSink
	config *config.ConfigService
}

// NewReadingService 创建原始读数服务
func NewReadingService(db *gorm.DB, sink datasource.ReadingSink, configService *config.ConfigService) *ReadingService {
	return &ReadingService{
		db:     db,
		sink:   sink,
		config: configService,
	}
}

// IngestBatch 接收一批上报报文并逐条交给汇聚器，返回接收与拒收条数
func (s *ReadingService) IngestBatch(ctx context.Context, sourceID string, payloads []map[string]interface{}) (int, int, error) {
	if len(payloads) == 0 {
		return 0, 0, errors.New("批量报文为空")
	}
	if len(payloads) > maxIngestBatch {
		return 0, 0, fmt.Errorf("单次上报不能超过 %d 条", maxIngestBatch)
	}

	ingested := 0
	rejected := 0
	for _, payload := range payloads {
		if err := s.sink.Ingest(ctx, sourceID, meta.DataSourceTypeHTTPPush, payload); err != nil {
			rejected++
			continue
		}
		ingested++
	}

	return ingested, rejected, nil
}

// GetReadings 分页查询原始读数，支持按传感器与事件时间范围过滤
func (s *ReadingService) GetReadings(page, pageSize int, sensorID string, startTime, endTime *time.Time) ([]models.SensorReading, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}

	query := s.db.Model(&models.SensorReading{})
	if sensorID != "" {
		query = query.Where("sensor_id = ?", sensorID)
	}
	if startTime != nil {
		query = query.Where("event_time >= ?", *startTime)
	}
	if endTime != nil {
		query = query.Where("event_time <= ?", *endTime)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计读数失败: %w", err)
	}

	var readings []models.SensorReading
	offset := (page - 1) * pageSize
	if err := query.Order("event_time DESC").Offset(offset).Limit(pageSize).Find(&readings).Error; err != nil {
		return nil, 0, fmt.Errorf("查询读数失败: %w", err)
	}

	return readings, total, nil
}

// GenerateParams 样例数据生成参数
type GenerateParams struct {
	Days     int    `json:"days"`      // 生成天数，缺省取系统配置
	SensorID string `json:"sensor_id"` // 传感器ID，缺省sensor_001
	Seed     uint64 `json:"seed"`      // 随机种子，0表示按当前时间取种
}

// GenerateResult 样例数据生成结果
type GenerateResult struct {
	Total               int       `json:"total"`
	TemperatureNulls    int       `json:"temperature_nulls"`
	HumidityNulls       int       `json:"humidity_nulls"`
	MalformedTimestamps int       `json:"malformed_timestamps"`
	SensorID            string    `json:"sensor_id"`
	Days                int       `json:"days"`
	Seed                uint64    `json:"seed"`
	StartTime           time.Time `json:"start_time"`
	EndTime             time.Time `json:"end_time"`
}

// GenerateSampleData 生成带缺陷注入的样例读数并批量入库。
// 每分钟一条：温度~N(25,5)裁剪到[10,40]，湿度=80-(温度-20)*1.5+N(0,10)裁剪到[20,95]，
// 按比例注入温湿度空值和坏时间戳。相同seed下输出完全一致。
func (s *ReadingService) GenerateSampleData(ctx context.Context, params GenerateParams) (*GenerateResult, error) {
	days := params.Days
	if days <= 0 {
		days = s.defaultGeneratorDays()
	}
	if days > 365 {
		return nil, errors.New("生成天数不能超过365")
	}

	sensorID := params.SensorID
	if sensorID == "" {
		sensorID = "sensor_001"
	}

	seed := params.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewSource(int64(seed)))

	count := days * 24 * 60
	start := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour).Truncate(time.Minute)

	result := &GenerateResult{
		Total:     count,
		SensorID:  sensorID,
		Days:      days,
		Seed:      seed,
		StartTime: start,
		EndTime:   start.Add(time.Duration(count-1) * time.Minute),
	}

	readings := make([]*models.SensorReading, 0, count)
	for i := 0; i < count; i++ {
		ts := start.Add(time.Duration(i) * time.Minute)

		// 每行固定抽样顺序：坏时间戳 -> 温度 -> 温度空值 -> 湿度 -> 湿度空值，
		// 保证相同seed生成相同序列
		malformed := rng.Float64() < malformedRatio

		temperature := clip(rng.NormFloat64()*5+25, 10, 40)
		tempNull := rng.Float64() < tempNullRatio

		humidity := clip(80-(temperature-20)*1.5+rng.NormFloat64()*10, 20, 95)
		humidityNull := rng.Float64() < humidityNullRatio

		reading := &models.SensorReading{
			SensorID:   sensorID,
			SourceType: SourceTypeGenerated,
		}

		if malformed {
			reading.RecordedAt = malformedTimestamp
			result.MalformedTimestamps++
		} else {
			reading.RecordedAt = ts.Format("2006-01-02 15:04:05")
			eventTime := ts
			reading.EventTime = &eventTime
		}

		if tempNull {
			result.TemperatureNulls++
		} else {
			value := round2(temperature)
			reading.Temperature = &value
		}

		if humidityNull {
			result.HumidityNulls++
		} else {
			value := round2(humidity)
			reading.Humidity = &value
		}

		readings = append(readings, reading)
	}

	if err := s.db.WithContext(ctx).CreateInBatches(readings, 500).Error; err != nil {
		return nil, fmt.Errorf("样例数据写入失败: %w", err)
	}

	metrics.ReadingsIngested.WithLabelValues(SourceTypeGenerated).Add(float64(count))

	slog.Info("样例数据生成完成",
		"sensor_id", sensorID,
		"days", days,
		"total", count,
		"temperature_nulls", result.TemperatureNulls,
		"humidity_nulls", result.HumidityNulls,
		"malformed_timestamps", result.MalformedTimestamps,
		"seed", seed)

	return result, nil
}

// defaultGeneratorDays 生成天数缺省值，优先取系统配置
func (s *ReadingService) defaultGeneratorDays() int {
	if s.config != nil {
		return s.config.GetGeneratorDefaultDays()
	}
	return config.DefaultGeneratorDefaultDays
}

func clip(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
