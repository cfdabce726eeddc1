/*
 * @module service/pipeline/export_processor
 * @description 导出阶段处理器：生成训练器约定格式的CSV数据集与manifest描述文件
 * @architecture 分层架构 - 数据处理层
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 加载聚合结果与训练样本 -> 80/20顺序切分 -> 写train/validation分片 -> 写审计CSV -> 写manifest
 * @rules
 *   - 训练CSV无表头，标签列target_temp在首列，空温湿比输出空单元格
 *   - 审计CSV带表头，仅供人工核对，不进训练器
 *   - manifest包含列定义、行数与训练超参数，训练器仅凭manifest即可驱动
 * @dependencies sensorhub-service/service/models, gorm.io/gorm
 * @refs service/pipeline/pipeline_engine.go, api/controllers/dataset_controller.go
 */

package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"sensorhub-service/service/meta"
	"sensorhub-service/service/metrics"
	"sensorhub-service/service/models"

	"github.com/spf13/cast"
	"gorm.io/gorm"
)

// 导出文件布局，train/validation为训练器的数据通道目录
const (
	ExportFileTraining   = "training.csv"
	ExportFileTrainPart  = "train/part-00000.csv"
	ExportFileValidPart  = "validation/part-00000.csv"
	ExportFileCleaned    = "cleaned_readings.csv"
	ExportFileAnalytics  = "window_aggregates.csv"
	ExportFileManifest   = "manifest.json"
	DefaultExportBaseDir = "/data/exports"
	DefaultTrainRatio    = 0.8
)

// TrainingLabelColumn 标签列，训练CSV的首列
const TrainingLabelColumn = "target_temp"

// TrainingFeatureColumns 特征列，顺序即训练CSV的列顺序
var TrainingFeatureColumns = []string{
	"avg_temperature",
	"avg_humidity",
	"temp_humidity_ratio",
	"temp_range",
	"humidity_range",
	"hour_of_day",
	"day_of_week",
	"day_of_year",
	"record_count",
	"avg_data_quality",
}

// TrainerHyperparameters 固定的训练器超参数块，随manifest下发
var TrainerHyperparameters = map[string]interface{}{
	"max_depth":        6,
	"eta":              0.3,
	"gamma":            4,
	"min_child_weight": 6,
	"subsample":        0.8,
	"objective":        "reg:squarederror",
	"num_round":        100,
}

// ExportProcessor 导出阶段处理器
type ExportProcessor struct {
	db *gorm.DB
}

// NewExportProcessor 创建导出阶段处理器实例
func NewExportProcessor(db *gorm.DB) *ExportProcessor {
	return &ExportProcessor{db: db}
}

// Process 执行导出阶段
func (p *ExportProcessor) Process(ctx context.Context, task *models.PipelineTask, progress *StageProgress) (*StageResult, error) {
	progress.CurrentPhase = "加载导出数据"
	progress.UpdatedAt = time.Now()

	var samples []models.TrainingSample
	if err := p.db.Where("task_id = ?", task.ID).Order("sample_index ASC").Find(&samples).Error; err != nil {
		return nil, fmt.Errorf("加载训练样本失败: %w", err)
	}

	var aggregates []models.WindowAggregate
	if err := p.db.Where("task_id = ?", task.ID).Order("window_start ASC").Find(&aggregates).Error; err != nil {
		return nil, fmt.Errorf("加载聚合结果失败: %w", err)
	}

	var cleanRows []models.CleanReading
	if err := p.db.Where("task_id = ?", task.ID).Order("event_time ASC").Find(&cleanRows).Error; err != nil {
		return nil, fmt.Errorf("加载清洗读数失败: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	progress.TotalRows = int64(len(samples))
	progress.CurrentPhase = "写入数据集文件"
	progress.UpdatedAt = time.Now()

	taskDir := filepath.Join(ExportBaseDir(task), task.ID)
	for _, dir := range []string{taskDir, filepath.Join(taskDir, "train"), filepath.Join(taskDir, "validation")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建导出目录失败: %w", err)
		}
	}

	ratio := trainRatio(task)
	trainCount := int(float64(len(samples)) * ratio)
	trainSamples := samples[:trainCount]
	validationSamples := samples[trainCount:]

	if err := p.writeTrainingCSV(filepath.Join(taskDir, ExportFileTraining), samples); err != nil {
		return nil, err
	}
	if err := p.writeTrainingCSV(filepath.Join(taskDir, ExportFileTrainPart), trainSamples); err != nil {
		return nil, err
	}
	if err := p.writeTrainingCSV(filepath.Join(taskDir, ExportFileValidPart), validationSamples); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	progress.CurrentPhase = "写入审计文件"
	progress.UpdatedAt = time.Now()

	if err := p.writeCleanedCSV(filepath.Join(taskDir, ExportFileCleaned), cleanRows); err != nil {
		return nil, err
	}
	if err := p.writeAnalyticsCSV(filepath.Join(taskDir, ExportFileAnalytics), aggregates); err != nil {
		return nil, err
	}

	manifest := map[string]interface{}{
		"task_id":         task.ID,
		"generated_at":    time.Now().UTC().Format(time.RFC3339),
		"label_column":    TrainingLabelColumn,
		"feature_columns": TrainingFeatureColumns,
		"row_counts": map[string]int{
			"training":   len(samples),
			"train":      len(trainSamples),
			"validation": len(validationSamples),
			"cleaned":    len(cleanRows),
			"analytics":  len(aggregates),
		},
		"train_ratio":  ratio,
		"content_type": "text/csv",
		"files": map[string]string{
			"training":   ExportFileTraining,
			"train":      ExportFileTrainPart,
			"validation": ExportFileValidPart,
			"cleaned":    ExportFileCleaned,
			"analytics":  ExportFileAnalytics,
		},
		"hyperparameters": TrainerHyperparameters,
	}
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("序列化manifest失败: %w", err)
	}
	if err := os.WriteFile(filepath.Join(taskDir, ExportFileManifest), manifestData, 0o644); err != nil {
		return nil, fmt.Errorf("写入manifest失败: %w", err)
	}

	progress.ProcessedRows = int64(len(samples))
	progress.UpdatedAt = time.Now()

	metrics.ExportedDatasets.Inc()

	rowsTotal := int64(len(samples) + len(aggregates) + len(cleanRows))
	return &StageResult{
		RowsIn:      rowsTotal,
		RowsOut:     rowsTotal,
		RowsDropped: 0,
		Statistics: map[string]interface{}{
			"output_dir":      taskDir,
			"training_rows":   len(samples),
			"train_rows":      len(trainSamples),
			"validation_rows": len(validationSamples),
			"cleaned_rows":    len(cleanRows),
			"analytics_rows":  len(aggregates),
			"train_ratio":     ratio,
		},
	}, nil
}

// ExportBaseDir 解析导出根目录：任务配置 -> 环境变量 -> 默认值
func ExportBaseDir(task *models.PipelineTask) string {
	if dir := cast.ToString(task.Config["output_dir"]); dir != "" {
		return dir
	}
	if dir := os.Getenv("EXPORT_BASE_DIR"); dir != "" {
		return dir
	}
	return DefaultExportBaseDir
}

// trainRatio 解析训练集切分比例，非法值回落到默认值
func trainRatio(task *models.PipelineTask) float64 {
	ratio := cast.ToFloat64(task.Config["train_ratio"])
	if ratio <= 0 || ratio >= 1 {
		return DefaultTrainRatio
	}
	return ratio
}

// writeTrainingCSV 写训练器格式CSV：无表头，标签列在首列，空温湿比输出空单元格
func (p *ExportProcessor) writeTrainingCSV(path string, samples []models.TrainingSample) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("创建训练集文件失败: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	for i := range samples {
		if err := writer.Write(trainingRecord(&samples[i])); err != nil {
			return fmt.Errorf("写入训练集文件失败: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("写入训练集文件失败: %w", err)
	}
	return nil
}

// trainingRecord 训练CSV单行，列顺序与TrainingFeatureColumns一致
func trainingRecord(s *models.TrainingSample) []string {
	ratio := ""
	if s.TempHumidityRatio != nil {
		ratio = formatFloat(*s.TempHumidityRatio)
	}
	return []string{
		formatFloat(s.TargetTemp),
		formatFloat(s.AvgTemperature),
		formatFloat(s.AvgHumidity),
		ratio,
		formatFloat(s.TempRange),
		formatFloat(s.HumidityRange),
		strconv.Itoa(s.HourOfDay),
		strconv.Itoa(s.DayOfWeek),
		strconv.Itoa(s.DayOfYear),
		strconv.FormatInt(s.RecordCount, 10),
		formatFloat(s.AvgDataQuality),
	}
}

// writeCleanedCSV 写清洗读数审计CSV，带表头
func (p *ExportProcessor) writeCleanedCSV(path string, rows []models.CleanReading) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("创建清洗审计文件失败: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	header := []string{"sensor_id", "event_time", "temperature", "humidity", "data_quality_score"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("写入清洗审计文件失败: %w", err)
	}
	for i := range rows {
		record := []string{
			rows[i].SensorID,
			rows[i].EventTime.UTC().Format(time.RFC3339),
			formatFloat(rows[i].Temperature),
			formatFloat(rows[i].Humidity),
			formatFloat(rows[i].DataQualityScore),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("写入清洗审计文件失败: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("写入清洗审计文件失败: %w", err)
	}
	return nil
}

// writeAnalyticsCSV 写窗口聚合审计CSV，带表头
func (p *ExportProcessor) writeAnalyticsCSV(path string, aggregates []models.WindowAggregate) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("创建聚合审计文件失败: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	header := []string{
		"window_start", "window_end", "avg_temperature", "avg_humidity",
		"min_temperature", "max_temperature", "min_humidity", "max_humidity",
		"record_count", "avg_data_quality", "temp_humidity_ratio",
		"temp_range", "humidity_range", "hour_of_day", "day_of_week", "day_of_year",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("写入聚合审计文件失败: %w", err)
	}
	for i := range aggregates {
		a := &aggregates[i]
		ratio := ""
		if a.TempHumidityRatio != nil {
			ratio = formatFloat(*a.TempHumidityRatio)
		}
		record := []string{
			a.WindowStart.UTC().Format(time.RFC3339),
			a.WindowEnd.UTC().Format(time.RFC3339),
			formatFloat(a.AvgTemperature),
			formatFloat(a.AvgHumidity),
			formatFloat(a.MinTemperature),
			formatFloat(a.MaxTemperature),
			formatFloat(a.MinHumidity),
			formatFloat(a.MaxHumidity),
			strconv.FormatInt(a.RecordCount, 10),
			formatFloat(a.AvgDataQuality),
			ratio,
			formatFloat(a.TempRange),
			formatFloat(a.HumidityRange),
			strconv.Itoa(a.HourOfDay),
			strconv.Itoa(a.DayOfWeek),
			strconv.Itoa(a.DayOfYear),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("写入聚合审计文件失败: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("写入聚合审计文件失败: %w", err)
	}
	return nil
}

// formatFloat 数值输出为最短精确表示
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// GetStageType 获取阶段类型
func (p *ExportProcessor) GetStageType() string {
	return meta.PipelineStageExport
}

// Validate 验证任务参数
func (p *ExportProcessor) Validate(task *models.PipelineTask) error {
	if task.ID == "" {
		return fmt.Errorf("任务ID不能为空")
	}
	if raw, exists := task.Config["train_ratio"]; exists {
		ratio := cast.ToFloat64(raw)
		if ratio <= 0 || ratio >= 1 {
			return fmt.Errorf("train_ratio必须在(0,1)区间内")
		}
	}
	return nil
}

// EstimateProgress 估算进度
func (p *ExportProcessor) EstimateProgress(task *models.PipelineTask) (*ProgressEstimate, error) {
	var count int64
	if err := p.db.Model(&models.TrainingSample{}).Where("task_id = ?", task.ID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("统计训练样本失败: %w", err)
	}
	return &ProgressEstimate{
		EstimatedRows: count,
		Complexity:    "low",
	}, nil
}
