/*
 * @module api/controllers/event_controller
 * @description 事件管理控制器，提供流水线事件SSE推送、历史查询与连接统计API
 * @architecture RESTful API架构 - 控制器层
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow HTTP请求 -> SSE连接注册 -> 事件推送循环 -> 连接清理
 * @rules SSE连接在客户端断开或服务停止时必须及时清理，避免通道泄漏
 * @dependencies sensorhub-service/service, github.com/go-chi/chi/v5, github.com/go-chi/render
 * @refs service/event
 */

package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"sensorhub-service/service"
	"sensorhub-service/service/event"

	"github.com/go-chi/render"
	"github.com/google/uuid"
)

// EventController 事件管理控制器
type EventController struct {
	eventService *event.EventService
}

// NewEventController 创建事件控制器实例
func NewEventController() *EventController {
	return &EventController{
		eventService: service.GlobalEventService,
	}
}

// === SSE连接处理 ===

// HandleSSE 建立流水线事件SSE连接
// @Summary 建立SSE连接
// @Description 通过此接口建立SSE连接，实时接收流水线任务与阶段的进度事件
// @Tags 事件管理
// @Param task_id query string false "仅订阅指定任务的事件"
// @Success 200 {string} string "SSE事件流"
// @Router /events/stream [get]
func (c *EventController) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Cache-Control")

	flusher, ok := w.(http.Flusher)
	if !ok {
		render.JSON(w, r, InternalErrorResponse("当前连接不支持流式响应", nil))
		return
	}

	connectionID := uuid.New().String()
	taskFilter := r.URL.Query().Get("task_id")

	client := c.eventService.AddSSEConnection(connectionID, clientAddr(r))
	defer c.eventService.RemoveSSEConnection(connectionID)

	// 握手事件让客户端拿到连接ID，便于排查
	writeSSEData(w, flusher, map[string]interface{}{
		"type":          "connected",
		"connection_id": connectionID,
		"timestamp":     time.Now().Format(time.RFC3339),
	})

	for {
		select {
		case evt := <-client.Channel:
			if taskFilter != "" && evt.TaskID != taskFilter {
				continue
			}
			writeSSEData(w, flusher, evt)

		case <-client.Done:
			return

		case <-r.Context().Done():
			return
		}
	}
}

// writeSSEData 写入一条SSE data帧并立即刷出
func writeSSEData(w http.ResponseWriter, flusher http.Flusher, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// clientAddr 取客户端地址，优先代理透传头
func clientAddr(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	return r.RemoteAddr
}

// GetEventHistoryList 获取事件历史列表
// @Summary 获取事件历史列表
// @Description 分页获取流水线事件历史，支持任务ID和事件类型过滤
// @Tags 事件管理
// @Accept json
// @Produce json
// @Param page query int false "页码" default(1)
// @Param size query int false "每页大小" default(10)
// @Param task_id query string false "任务ID过滤"
// @Param event_type query string false "事件类型过滤"
// @Success 200 {object} PaginatedResponse{data=[]models.PipelineEventRecord} "获取成功"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /events/history [get]
func (c *EventController) GetEventHistoryList(w http.ResponseWriter, r *http.Request) {
	page, size := parsePaging(r, 10, 100)
	taskID := r.URL.Query().Get("task_id")
	eventType := r.URL.Query().Get("event_type")

	events, total, err := c.eventService.GetEventHistory(page, size, taskID, eventType)
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("获取事件历史列表失败", err))
		return
	}

	render.JSON(w, r, SuccessPaginatedResponse("获取事件历史列表成功", events, total, page, size))
}

// GetEventStatistics 获取事件服务统计
// @Summary 获取事件服务统计
// @Description 获取当前SSE连接数、事件发布计数等运行时统计
// @Tags 事件管理
// @Accept json
// @Produce json
// @Success 200 {object} APIResponse "获取成功"
// @Router /events/statistics [get]
func (c *EventController) GetEventStatistics(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, SuccessResponse("获取事件统计成功", c.eventService.GetStatistics()))
}
