/*
 * @module service/pipeline/cleanse_processor
 * @description 清洗阶段处理器：加载原始读数、执行清洗算法、覆盖写入清洗结果表
 * @architecture 分层架构 - 数据处理层
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 按配置过滤加载原始读数 -> 清洗 -> 事务内删除旧结果并批量写入
 * @rules 时间过滤不剔除解析失败的行，坏时间戳行必须进入清洗统计；重跑覆盖写，同一任务不累积旧结果
 * @dependencies sensorhub-service/service/models, sensorhub-service/service/utils, gorm.io/gorm
 * @refs service/pipeline/cleanse.go, service/pipeline/pipeline_engine.go
 */

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sensorhub-service/service/meta"
	"sensorhub-service/service/metrics"
	"sensorhub-service/service/models"
	"sensorhub-service/service/utils"

	"github.com/spf13/cast"
	"gorm.io/gorm"
)

// CleanseProcessor 清洗阶段处理器
type CleanseProcessor struct {
	db        *gorm.DB
	converter *utils.DataConverter
	batchSize int
}

// NewCleanseProcessor 创建清洗阶段处理器实例
func NewCleanseProcessor(db *gorm.DB) *CleanseProcessor {
	return &CleanseProcessor{
		db:        db,
		converter: utils.NewDataConverter(),
		batchSize: 1000,
	}
}

// Process 执行清洗阶段
func (p *CleanseProcessor) Process(ctx context.Context, task *models.PipelineTask, progress *StageProgress) (*StageResult, error) {
	progress.CurrentPhase = "加载原始读数"
	progress.UpdatedAt = time.Now()

	query, err := p.buildReadingQuery(task)
	if err != nil {
		return nil, err
	}

	var readings []models.SensorReading
	if err := query.Order("created_at ASC").Find(&readings).Error; err != nil {
		return nil, fmt.Errorf("加载原始读数失败: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	progress.TotalRows = int64(len(readings))
	progress.CurrentPhase = "清洗数据"
	progress.UpdatedAt = time.Now()

	cleanRows, stats, err := CleanseReadings(readings)
	if err != nil {
		return nil, err
	}

	for i := range cleanRows {
		cleanRows[i].TaskID = task.ID
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	progress.CurrentPhase = "写入清洗结果"
	progress.UpdatedAt = time.Now()

	// 重跑覆盖写，先删后插保持在同一事务内
	err = p.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", task.ID).Delete(&models.CleanReading{}).Error; err != nil {
			return fmt.Errorf("清理历史清洗结果失败: %w", err)
		}
		if len(cleanRows) > 0 {
			if err := tx.CreateInBatches(cleanRows, p.batchSize).Error; err != nil {
				return fmt.Errorf("写入清洗结果失败: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	progress.ProcessedRows = stats.RowsOut
	progress.UpdatedAt = time.Now()

	metrics.RowsDropped.WithLabelValues("bad_timestamp").Add(float64(stats.DroppedBadTimestamp))
	metrics.RowsDropped.WithLabelValues("temperature_outlier").Add(float64(stats.DroppedTemperatureIQR))
	metrics.RowsDropped.WithLabelValues("humidity_outlier").Add(float64(stats.DroppedHumidityIQR))

	return &StageResult{
		RowsIn:      stats.RowsIn,
		RowsOut:     stats.RowsOut,
		RowsDropped: stats.RowsIn - stats.RowsOut,
		Statistics:  statsToMap(stats),
	}, nil
}

// buildReadingQuery 根据任务配置构建原始读数查询。
// event_time为入库时的尽力解析结果，时间过滤保留解析失败(NULL)的行，
// 这些行由清洗算法按坏时间戳丢弃并计入统计。
func (p *CleanseProcessor) buildReadingQuery(task *models.PipelineTask) (*gorm.DB, error) {
	query := p.db.Model(&models.SensorReading{})

	if sensorID := cast.ToString(task.Config["sensor_id"]); sensorID != "" {
		query = query.Where("sensor_id = ?", sensorID)
	}
	if sourceID := cast.ToString(task.Config["source_id"]); sourceID != "" {
		query = query.Where("source_id = ?", sourceID)
	}
	if raw := cast.ToString(task.Config["start_time"]); raw != "" {
		start, err := p.converter.ParseSensorTime(raw)
		if err != nil {
			return nil, fmt.Errorf("解析start_time失败: %w", err)
		}
		query = query.Where("event_time IS NULL OR event_time >= ?", start)
	}
	if raw := cast.ToString(task.Config["end_time"]); raw != "" {
		end, err := p.converter.ParseSensorTime(raw)
		if err != nil {
			return nil, fmt.Errorf("解析end_time失败: %w", err)
		}
		query = query.Where("event_time IS NULL OR event_time < ?", end)
	}

	return query, nil
}

// GetStageType 获取阶段类型
func (p *CleanseProcessor) GetStageType() string {
	return meta.PipelineStageCleanse
}

// Validate 验证任务参数
func (p *CleanseProcessor) Validate(task *models.PipelineTask) error {
	if task.ID == "" {
		return fmt.Errorf("任务ID不能为空")
	}

	startRaw := cast.ToString(task.Config["start_time"])
	endRaw := cast.ToString(task.Config["end_time"])

	var start, end time.Time
	var err error
	if startRaw != "" {
		if start, err = p.converter.ParseSensorTime(startRaw); err != nil {
			return fmt.Errorf("start_time格式非法: %w", err)
		}
	}
	if endRaw != "" {
		if end, err = p.converter.ParseSensorTime(endRaw); err != nil {
			return fmt.Errorf("end_time格式非法: %w", err)
		}
	}
	if startRaw != "" && endRaw != "" && !start.Before(end) {
		return fmt.Errorf("start_time必须早于end_time")
	}

	return nil
}

// EstimateProgress 估算进度
func (p *CleanseProcessor) EstimateProgress(task *models.PipelineTask) (*ProgressEstimate, error) {
	query, err := p.buildReadingQuery(task)
	if err != nil {
		return nil, err
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return nil, fmt.Errorf("统计原始读数失败: %w", err)
	}

	complexity := "low"
	if count > 100000 {
		complexity = "high"
	} else if count > 10000 {
		complexity = "medium"
	}

	return &ProgressEstimate{
		EstimatedRows: count,
		Complexity:    complexity,
	}, nil
}

// statsToMap 将统计结构体转为JSONB可用的map
func statsToMap(stats interface{}) map[string]interface{} {
	result := map[string]interface{}{}
	data, err := json.Marshal(stats)
	if err != nil {
		return result
	}
	_ = json.Unmarshal(data, &result)
	return result
}
