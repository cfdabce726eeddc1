/*
 * @module service/pipeline/aggregate_processor
 * @description 聚合阶段处理器：按任务加载清洗读数、5分钟窗口聚合、生成训练样本并覆盖写入
 * @architecture 分层架构 - 数据处理层
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 加载清洗读数 -> 窗口聚合 -> 构建训练样本 -> 事务内覆盖写入两张表
 * @rules 仅读取本任务清洗阶段产出的行；清洗读数为空时产出空结果不报错
 * @dependencies sensorhub-service/service/models, gorm.io/gorm
 * @refs service/pipeline/aggregate.go, service/pipeline/pipeline_engine.go
 */

package pipeline

import (
	"context"
	"fmt"
	"time"

	"sensorhub-service/service/meta"
	"sensorhub-service/service/models"

	"gorm.io/gorm"
)

// AggregateProcessor 聚合阶段处理器
type AggregateProcessor struct {
	db        *gorm.DB
	batchSize int
}

// NewAggregateProcessor 创建聚合阶段处理器实例
func NewAggregateProcessor(db *gorm.DB) *AggregateProcessor {
	return &AggregateProcessor{
		db:        db,
		batchSize: 1000,
	}
}

// Process 执行聚合阶段
func (p *AggregateProcessor) Process(ctx context.Context, task *models.PipelineTask, progress *StageProgress) (*StageResult, error) {
	progress.CurrentPhase = "加载清洗读数"
	progress.UpdatedAt = time.Now()

	var readings []models.CleanReading
	if err := p.db.Where("task_id = ?", task.ID).Order("event_time ASC").Find(&readings).Error; err != nil {
		return nil, fmt.Errorf("加载清洗读数失败: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	progress.TotalRows = int64(len(readings))
	progress.CurrentPhase = "窗口聚合"
	progress.UpdatedAt = time.Now()

	aggregates := AggregateReadings(readings)
	samples := BuildTrainingSamples(aggregates)

	for i := range aggregates {
		aggregates[i].TaskID = task.ID
	}
	for i := range samples {
		samples[i].TaskID = task.ID
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	progress.CurrentPhase = "写入聚合结果"
	progress.UpdatedAt = time.Now()

	err := p.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", task.ID).Delete(&models.WindowAggregate{}).Error; err != nil {
			return fmt.Errorf("清理历史聚合结果失败: %w", err)
		}
		if err := tx.Where("task_id = ?", task.ID).Delete(&models.TrainingSample{}).Error; err != nil {
			return fmt.Errorf("清理历史训练样本失败: %w", err)
		}
		if len(aggregates) > 0 {
			if err := tx.CreateInBatches(aggregates, p.batchSize).Error; err != nil {
				return fmt.Errorf("写入聚合结果失败: %w", err)
			}
		}
		if len(samples) > 0 {
			if err := tx.CreateInBatches(samples, p.batchSize).Error; err != nil {
				return fmt.Errorf("写入训练样本失败: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	progress.ProcessedRows = int64(len(aggregates))
	progress.UpdatedAt = time.Now()

	nullRatioWindows := 0
	for i := range aggregates {
		if !aggregates[i].HasRatio() {
			nullRatioWindows++
		}
	}

	statistics := map[string]interface{}{
		"window_count":       len(aggregates),
		"training_samples":   len(samples),
		"null_ratio_windows": nullRatioWindows,
	}
	if len(aggregates) > 0 {
		statistics["first_window"] = aggregates[0].WindowStart.Format(time.RFC3339)
		statistics["last_window"] = aggregates[len(aggregates)-1].WindowStart.Format(time.RFC3339)
	}

	return &StageResult{
		RowsIn:      int64(len(readings)),
		RowsOut:     int64(len(aggregates)),
		RowsDropped: 0,
		Statistics:  statistics,
	}, nil
}

// GetStageType 获取阶段类型
func (p *AggregateProcessor) GetStageType() string {
	return meta.PipelineStageAggregate
}

// Validate 验证任务参数
func (p *AggregateProcessor) Validate(task *models.PipelineTask) error {
	if task.ID == "" {
		return fmt.Errorf("任务ID不能为空")
	}
	return nil
}

// EstimateProgress 估算进度
func (p *AggregateProcessor) EstimateProgress(task *models.PipelineTask) (*ProgressEstimate, error) {
	var count int64
	if err := p.db.Model(&models.CleanReading{}).Where("task_id = ?", task.ID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("统计清洗读数失败: %w", err)
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
