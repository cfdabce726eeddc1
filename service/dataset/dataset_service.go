/*
 * @module service/dataset/dataset_service
 * @description 数据集服务：按任务分页查询清洗/聚合/训练数据，并解析导出CSV的下载路径
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 流水线导出落盘 -> 下载请求按任务ID与文件名解析磁盘路径 -> 控制器流式返回
 * @rules 下载文件名只接受固定白名单，路径一律由任务记录推导，不信任请求里的路径片段
 * @dependencies sensorhub-service/service/pipeline, gorm.io/gorm
 * @refs api/controllers/dataset_controller.go
 */

package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"sensorhub-service/service/models"
	"sensorhub-service/service/pipeline"

	"gorm.io/gorm"
)

// 下载文件名白名单，映射到导出阶段的磁盘布局
var exportDownloads = map[string]string{
	"training.csv":  pipeline.ExportFileTraining,
	"clean.csv":     pipeline.ExportFileCleaned,
	"analytics.csv": pipeline.ExportFileAnalytics,
}

// ExportFile 一次可下载的导出文件
type ExportFile struct {
	Path        string // 磁盘绝对路径
	Name        string // 下载文件名
	ContentType string
	Size        int64
}

// DatasetService 数据集查询与下载服务
type DatasetService struct {
	db *gorm.DB
}

// NewDatasetService 创建数据集服务
func NewDatasetService(db *gorm.DB) *DatasetService {
	return &DatasetService{db: db}
}

// GetCleanReadings 分页查询任务的清洗读数，按事件时间升序
func (s *DatasetService) GetCleanReadings(taskID string, page, pageSize int) ([]models.CleanReading, int64, error) {
	page, pageSize = normalizePaging(page, pageSize)

	query := s.db.Model(&models.CleanReading{}).Where("task_id = ?", taskID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计清洗读数失败: %w", err)
	}

	var rows []models.CleanReading
	if err := query.Order("event_time ASC").
		Offset((page - 1) * pageSize).Limit(pageSize).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("查询清洗读数失败: %w", err)
	}

	return rows, total, nil
}

// GetWindowAggregates 分页查询任务的窗口聚合结果，按窗口起点升序
func (s *DatasetService) GetWindowAggregates(taskID string, page, pageSize int) ([]models.WindowAggregate, int64, error) {
	page, pageSize = normalizePaging(page, pageSize)

	query := s.db.Model(&models.WindowAggregate{}).Where("task_id = ?", taskID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计聚合结果失败: %w", err)
	}

	var rows []models.WindowAggregate
	if err := query.Order("window_start ASC").
		Offset((page - 1) * pageSize).Limit(pageSize).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("查询聚合结果失败: %w", err)
	}

	return rows, total, nil
}

// GetTrainingSamples 分页查询任务的训练样本，按样本序号升序
func (s *DatasetService) GetTrainingSamples(taskID string, page, pageSize int) ([]models.TrainingSample, int64, error) {
	page, pageSize = normalizePaging(page, pageSize)

	query := s.db.Model(&models.TrainingSample{}).Where("task_id = ?", taskID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计训练样本失败: %w", err)
	}

	var rows []models.TrainingSample
	if err := query.Order("sample_index ASC").
		Offset((page - 1) * pageSize).Limit(pageSize).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("查询训练样本失败: %w", err)
	}

	return rows, total, nil
}

// ResolveExportFile 解析任务导出文件的下载路径。
// 文件名只接受 training.csv / clean.csv / analytics.csv，
// 磁盘路径由任务配置推导，请求里的任务ID仅用于查库，不拼接未校验的路径
func (s *DatasetService) ResolveExportFile(taskID, fileName string) (*ExportFile, error) {
	relPath, supported := exportDownloads[fileName]
	if !supported {
		return nil, fmt.Errorf("不支持的数据集文件: %s", fileName)
	}

	var task models.PipelineTask
	if err := s.db.First(&task, "id = ?", taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("任务不存在: %s", taskID)
		}
		return nil, fmt.Errorf("查询任务失败: %w", err)
	}

	path := filepath.Join(pipeline.ExportBaseDir(&task), task.ID, relPath)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("数据集文件尚未生成: %s", fileName)
		}
		return nil, fmt.Errorf("读取数据集文件失败: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("数据集文件尚未生成: %s", fileName)
	}

	return &ExportFile{
		Path:        path,
		Name:        fileName,
		ContentType: "text/csv",
		Size:        info.Size(),
	}, nil
}

func normalizePaging(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}
	return page, pageSize
}
