/*
 * @module api/controllers/reading_controller
 * @description 传感器读数控制器，提供批量上报、读数查询与样例数据生成API
 * @architecture 分层架构 - 控制器层
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow HTTP请求 -> 参数验证 -> 服务调用 -> 响应返回
 * @rules 批量上报单次上限1000条，生成接口天数上限365天
 * @dependencies sensorhub-service/service/reading, github.com/go-chi/render
 * @refs api/routes.go, service/reading
 */

package controllers

import (
	"encoding/json"
	"net/http"
	"time"

	"sensorhub-service/service"
	"sensorhub-service/service/reading"

	"github.com/go-chi/render"
)

// ReadingController 传感器读数控制器
type ReadingController struct {
	readingService *reading.ReadingService
}

// NewReadingController 创建读数控制器实例
func NewReadingController() *ReadingController {
	return &ReadingController{
		readingService: service.GlobalReadingService,
	}
}

// IngestBatchResponse 批量上报响应
type IngestBatchResponse struct {
	Ingested int `json:"ingested" example:"98"`
	Rejected int `json:"rejected" example:"2"`
}

// GenerateRequest 样例数据生成请求
type GenerateRequest struct {
	Days     int    `json:"days" example:"7"`
	SensorID string `json:"sensor_id" example:"sensor_001"`
	Seed     uint64 `json:"seed" example:"42"`
}

// IngestBatch 批量上报传感器读数
// @Summary 批量上报传感器读数
// @Description 接收JSON数组形式的原始传感器报文并批量入库
// @Description
// @Description **报文格式:**
// @Description - sensor_id: 必填，传感器标识
// @Description - temperature/humidity: 可为数字、数字字符串或null
// @Description - timestamp: RFC3339、"2006-01-02 15:04:05"或epoch秒/毫秒
// @Description
// @Description 单条报文校验失败不影响其余报文，响应中给出接收与拒绝计数
// @Tags 读数管理
// @Accept json
// @Produce json
// @Param source_id query string false "数据源标识" default(http-api)
// @Param readings body []map[string]interface{} true "原始报文数组"
// @Success 200 {object} APIResponse{data=IngestBatchResponse} "上报成功"
// @Failure 400 {object} APIResponse "请求参数错误"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /readings/batch [post]
func (c *ReadingController) IngestBatch(w http.ResponseWriter, r *http.Request) {
	var payloads []map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payloads); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数解析失败", err))
		return
	}

	sourceID := r.URL.Query().Get("source_id")
	if sourceID == "" {
		sourceID = "http-api"
	}

	ingested, rejected, err := c.readingService.IngestBatch(r.Context(), sourceID, payloads)
	if err != nil {
		render.JSON(w, r, BadRequestResponse("批量上报失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("批量上报成功", IngestBatchResponse{
		Ingested: ingested,
		Rejected: rejected,
	}))
}

// GetReadings 查询原始读数
// @Summary 查询原始读数
// @Description 分页查询原始传感器读数，支持传感器与事件时间范围过滤
// @Tags 读数管理
// @Accept json
// @Produce json
// @Param page query int false "页码" default(1)
// @Param size query int false "每页大小" default(50)
// @Param sensor_id query string false "传感器ID过滤"
// @Param start_time query string false "开始时间（RFC3339）"
// @Param end_time query string false "结束时间（RFC3339）"
// @Success 200 {object} PaginatedResponse{data=[]models.SensorReading} "查询成功"
// @Failure 400 {object} APIResponse "请求参数错误"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /readings [get]
func (c *ReadingController) GetReadings(w http.ResponseWriter, r *http.Request) {
	page, size := parsePaging(r, 50, 500)

	sensorID := r.URL.Query().Get("sensor_id")

	var startTime, endTime *time.Time
	if raw := r.URL.Query().Get("start_time"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			render.JSON(w, r, BadRequestResponse("无效的开始时间格式", err))
			return
		}
		startTime = &parsed
	}
	if raw := r.URL.Query().Get("end_time"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			render.JSON(w, r, BadRequestResponse("无效的结束时间格式", err))
			return
		}
		endTime = &parsed
	}

	readings, total, err := c.readingService.GetReadings(page, size, sensorID, startTime, endTime)
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("查询读数失败", err))
		return
	}

	render.JSON(w, r, SuccessPaginatedResponse("查询读数成功", readings, total, page, size))
}

// GenerateSampleData 生成样例数据
// @Summary 生成样例读数数据
// @Description 生成带缺失值和畸形时间戳的合成传感器读数，用于管道演示与测试
// @Description
// @Description 指定seed时生成结果可复现；days缺省取系统配置generator.default_days
// @Tags 读数管理
// @Accept json
// @Produce json
// @Param request body GenerateRequest true "生成参数"
// @Success 200 {object} APIResponse{data=reading.GenerateResult} "生成成功"
// @Failure 400 {object} APIResponse "请求参数错误"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /readings/generate [post]
func (c *ReadingController) GenerateSampleData(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数解析失败", err))
		return
	}

	result, err := c.readingService.GenerateSampleData(r.Context(), reading.GenerateParams{
		Days:     req.Days,
		SensorID: req.SensorID,
		Seed:     req.Seed,
	})
	if err != nil {
		render.JSON(w, r, BadRequestResponse("生成样例数据失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("生成样例数据成功", result))
}
