/*
 * @module api/controllers/dataset_controller
 * @description 数据集控制器，提供清洗数据、窗口聚合、训练样本的分页查询与CSV导出下载API
 * @architecture 分层架构 - 控制器层
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow HTTP请求 -> 参数验证 -> 数据集服务调用 -> JSON分页或文件流响应
 * @rules CSV下载接口需要API密钥认证；下载路径由服务端解析，客户端无法指定磁盘路径
 * @dependencies sensorhub-service/service/dataset
 * @refs api/routes.go, service/dataset
 */

package controllers

import (
	"fmt"
	"net/http"

	"sensorhub-service/service"
	"sensorhub-service/service/dataset"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// DatasetController 数据集控制器
type DatasetController struct {
	datasetService *dataset.DatasetService
}

// NewDatasetController 创建数据集控制器实例
func NewDatasetController() *DatasetController {
	return &DatasetController{
		datasetService: service.GlobalDatasetService,
	}
}

// GetCleanDataset 查询清洗后的读数
// @Summary 查询清洗后的读数
// @Description 分页查询指定任务产出的清洗读数，按事件时间升序返回
// @Tags 数据集管理
// @Accept json
// @Produce json
// @Param task_id path string true "任务ID"
// @Param page query int false "页码" default(1)
// @Param size query int false "每页大小" default(50)
// @Success 200 {object} PaginatedResponse{data=[]models.CleanReading} "查询成功"
// @Failure 400 {object} APIResponse "请求参数错误"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /datasets/{task_id}/clean [get]
func (c *DatasetController) GetCleanDataset(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if taskID == "" {
		render.JSON(w, r, BadRequestResponse("任务ID不能为空", nil))
		return
	}

	page, size := parsePaging(r, 50, 500)
	readings, total, err := c.datasetService.GetCleanReadings(taskID, page, size)
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("查询清洗读数失败", err))
		return
	}

	render.JSON(w, r, SuccessPaginatedResponse("查询清洗读数成功", readings, total, page, size))
}

// GetWindowDataset 查询窗口聚合结果
// @Summary 查询窗口聚合结果
// @Description 分页查询指定任务产出的窗口聚合统计，按窗口起点和传感器升序返回
// @Tags 数据集管理
// @Accept json
// @Produce json
// @Param task_id path string true "任务ID"
// @Param page query int false "页码" default(1)
// @Param size query int false "每页大小" default(50)
// @Success 200 {object} PaginatedResponse{data=[]models.WindowAggregate} "查询成功"
// @Failure 400 {object} APIResponse "请求参数错误"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /datasets/{task_id}/windows [get]
func (c *DatasetController) GetWindowDataset(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if taskID == "" {
		render.JSON(w, r, BadRequestResponse("任务ID不能为空", nil))
		return
	}

	page, size := parsePaging(r, 50, 500)
	aggregates, total, err := c.datasetService.GetWindowAggregates(taskID, page, size)
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("查询窗口聚合失败", err))
		return
	}

	render.JSON(w, r, SuccessPaginatedResponse("查询窗口聚合成功", aggregates, total, page, size))
}

// GetTrainingDataset 查询训练样本
// @Summary 查询训练样本
// @Description 分页查询指定任务产出的训练样本，包含特征列与训练/测试划分标记
// @Tags 数据集管理
// @Accept json
// @Produce json
// @Param task_id path string true "任务ID"
// @Param page query int false "页码" default(1)
// @Param size query int false "每页大小" default(50)
// @Success 200 {object} PaginatedResponse{data=[]models.TrainingSample} "查询成功"
// @Failure 400 {object} APIResponse "请求参数错误"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /datasets/{task_id}/training [get]
func (c *DatasetController) GetTrainingDataset(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if taskID == "" {
		render.JSON(w, r, BadRequestResponse("任务ID不能为空", nil))
		return
	}

	page, size := parsePaging(r, 50, 500)
	samples, total, err := c.datasetService.GetTrainingSamples(taskID, page, size)
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("查询训练样本失败", err))
		return
	}

	render.JSON(w, r, SuccessPaginatedResponse("查询训练样本成功", samples, total, page, size))
}

// DownloadTrainingCSV 下载训练数据集CSV
// @Summary 下载训练数据集CSV
// @Description 下载指定任务导出的训练数据集文件，需要API密钥认证
// @Tags 数据集管理
// @Produce text/csv
// @Param task_id path string true "任务ID"
// @Param X-API-Key header string false "API密钥"
// @Success 200 {file} file "CSV文件"
// @Failure 401 {object} APIResponse "认证失败"
// @Failure 404 {object} APIResponse "文件不存在"
// @Router /datasets/{task_id}/training.csv [get]
func (c *DatasetController) DownloadTrainingCSV(w http.ResponseWriter, r *http.Request) {
	c.serveExportFile(w, r, "training.csv")
}

// DownloadCleanCSV 下载清洗数据集CSV
// @Summary 下载清洗数据集CSV
// @Description 下载指定任务导出的清洗数据集文件，需要API密钥认证
// @Tags 数据集管理
// @Produce text/csv
// @Param task_id path string true "任务ID"
// @Param X-API-Key header string false "API密钥"
// @Success 200 {file} file "CSV文件"
// @Failure 401 {object} APIResponse "认证失败"
// @Failure 404 {object} APIResponse "文件不存在"
// @Router /datasets/{task_id}/clean.csv [get]
func (c *DatasetController) DownloadCleanCSV(w http.ResponseWriter, r *http.Request) {
	c.serveExportFile(w, r, "clean.csv")
}

// DownloadAnalyticsCSV 下载分析数据集CSV
// @Summary 下载分析数据集CSV
// @Description 下载指定任务导出的窗口聚合分析文件，需要API密钥认证
// @Tags 数据集管理
// @Produce text/csv
// @Param task_id path string true "任务ID"
// @Param X-API-Key header string false "API密钥"
// @Success 200 {file} file "CSV文件"
// @Failure 401 {object} APIResponse "认证失败"
// @Failure 404 {object} APIResponse "文件不存在"
// @Router /datasets/{task_id}/analytics.csv [get]
func (c *DatasetController) DownloadAnalyticsCSV(w http.ResponseWriter, r *http.Request) {
	c.serveExportFile(w, r, "analytics.csv")
}

func (c *DatasetController) serveExportFile(w http.ResponseWriter, r *http.Request, fileName string) {
	taskID := chi.URLParam(r, "task_id")
	if taskID == "" {
		render.JSON(w, r, BadRequestResponse("任务ID不能为空", nil))
		return
	}

	file, err := c.datasetService.ResolveExportFile(taskID, fileName)
	if err != nil {
		render.JSON(w, r, NotFoundResponse("数据集文件不可用", err))
		return
	}

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, file.Name))
	http.ServeFile(w, r, file.Path)
}
