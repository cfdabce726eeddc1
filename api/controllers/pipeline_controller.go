/*
 * @module api/controllers/pipeline_controller
 * @description 流水线任务控制器，提供任务触发、查询、取消、重试、删除与调度管理API
 * @architecture 分层架构 - 控制器层
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow HTTP请求 -> 参数验证 -> 引擎/调度器调用 -> 响应返回
 * @rules 只有终态任务可删除；调度变更落库后同步刷新调度器注册表
 * @dependencies sensorhub-service/service/pipeline, sensorhub-service/service/scheduler
 * @refs api/routes.go, service/pipeline, service/scheduler
 */

package controllers

import (
	"encoding/json"
	"net/http"
	"time"

	"sensorhub-service/service"
	"sensorhub-service/service/meta"
	"sensorhub-service/service/models"
	"sensorhub-service/service/pipeline"
	"sensorhub-service/service/scheduler"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"gorm.io/gorm"
)

// PipelineController 流水线任务控制器
type PipelineController struct {
	db               *gorm.DB
	engine           *pipeline.PipelineEngine
	schedulerService *scheduler.SchedulerService
}

// NewPipelineController 创建流水线控制器实例
func NewPipelineController() *PipelineController {
	return &PipelineController{
		db:               service.DB,
		engine:           service.GlobalPipelineEngine,
		schedulerService: service.GlobalSchedulerService,
	}
}

// PipelineTaskCreateRequest 创建流水线任务请求
type PipelineTaskCreateRequest struct {
	Config    map[string]interface{} `json:"config,omitempty"` // 任务配置，如window_minutes、train_ratio、output_dir
	Priority  int                    `json:"priority" example:"0"`
	CreatedBy string                 `json:"created_by" example:"admin"`
}

// PipelineTaskDetailResponse 任务详情响应
type PipelineTaskDetailResponse struct {
	Task      *models.PipelineTask      `json:"task"`
	StageRuns []models.PipelineStageRun `json:"stage_runs"`
}

// PipelineScheduleRequest 调度创建/更新请求
type PipelineScheduleRequest struct {
	Name            string                 `json:"name" example:"每日凌晨全量处理"`
	ScheduleType    string                 `json:"schedule_type" example:"cron"`
	CronExpression  string                 `json:"cron_expression,omitempty" example:"0 0 1 * * *"`
	IntervalSeconds int64                  `json:"interval_seconds,omitempty" example:"3600"`
	StartTime       *string                `json:"start_time,omitempty" example:"2024-06-01T02:00:00Z"`
	TimeoutSeconds  int64                  `json:"timeout_seconds,omitempty" example:"600"`
	PipelineConfig  map[string]interface{} `json:"pipeline_config,omitempty"`
	Enabled         *bool                  `json:"enabled,omitempty"`
	Description     string                 `json:"description,omitempty"`
	CreatedBy       string                 `json:"created_by" example:"admin"`
}

// CreatePipelineTask 触发流水线任务
// @Summary 触发流水线任务
// @Description 提交一次手动触发的流水线任务，按清洗->聚合->导出顺序异步执行
// @Description
// @Description **任务状态流转:**
// @Description pending → running → success/failed/cancelled
// @Tags 流水线管理
// @Accept json
// @Produce json
// @Param task body PipelineTaskCreateRequest true "任务配置"
// @Success 200 {object} APIResponse{data=models.PipelineTask} "提交成功"
// @Failure 400 {object} APIResponse "请求参数错误"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /pipeline/tasks [post]
func (c *PipelineController) CreatePipelineTask(w http.ResponseWriter, r *http.Request) {
	var req PipelineTaskCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数解析失败", err))
		return
	}

	config := req.Config
	if config == nil {
		config = make(map[string]interface{})
	}
	// 未显式指定导出目录时采用系统配置，让运行时调参对手动任务生效
	if _, exists := config["output_dir"]; !exists {
		config["output_dir"] = service.GlobalConfigService.GetExportBaseDir()
	}

	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = "api"
	}

	task, err := c.engine.SubmitPipelineTask(&pipeline.PipelineTaskRequest{
		TriggerType: meta.PipelineScheduleTypeManual,
		Config:      config,
		Priority:    req.Priority,
		ScheduledBy: createdBy,
	})
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("提交流水线任务失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("提交流水线任务成功", task))
}

// GetPipelineTaskList 获取流水线任务列表
// @Summary 获取流水线任务列表
// @Description 分页获取流水线任务列表，支持状态和触发类型过滤
// @Tags 流水线管理
// @Accept json
// @Produce json
// @Param page query int false "页码" default(1)
// @Param size query int false "每页大小" default(10)
// @Param status query string false "任务状态过滤"
// @Param trigger_type query string false "触发类型过滤"
// @Param schedule_id query string false "调度ID过滤"
// @Success 200 {object} PaginatedResponse{data=[]models.PipelineTask} "获取成功"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /pipeline/tasks [get]
func (c *PipelineController) GetPipelineTaskList(w http.ResponseWriter, r *http.Request) {
	page, size := parsePaging(r, 10, 100)

	query := c.db.Model(&models.PipelineTask{})
	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if triggerType := r.URL.Query().Get("trigger_type"); triggerType != "" {
		query = query.Where("trigger_type = ?", triggerType)
	}
	if scheduleID := r.URL.Query().Get("schedule_id"); scheduleID != "" {
		query = query.Where("schedule_id = ?", scheduleID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		render.JSON(w, r, InternalErrorResponse("统计流水线任务失败", err))
		return
	}

	var tasks []models.PipelineTask
	if err := query.Order("created_at DESC").Offset((page - 1) * size).Limit(size).Find(&tasks).Error; err != nil {
		render.JSON(w, r, InternalErrorResponse("获取流水线任务列表失败", err))
		return
	}

	render.JSON(w, r, SuccessPaginatedResponse("获取流水线任务列表成功", tasks, total, page, size))
}

// GetPipelineTask 获取流水线任务详情
// @Summary 获取流水线任务详情
// @Description 根据任务ID获取任务详情及各阶段执行记录
// @Tags 流水线管理
// @Accept json
// @Produce json
// @Param id path string true "任务ID"
// @Success 200 {object} APIResponse{data=PipelineTaskDetailResponse} "获取成功"
// @Failure 400 {object} APIResponse "请求参数错误"
// @Failure 404 {object} APIResponse "任务不存在"
// @Router /pipeline/tasks/{id} [get]
func (c *PipelineController) GetPipelineTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	if taskID == "" {
		render.JSON(w, r, BadRequestResponse("任务ID不能为空", nil))
		return
	}

	var task models.PipelineTask
	if err := c.db.First(&task, "id = ?", taskID).Error; err != nil {
		render.JSON(w, r, NotFoundResponse("获取流水线任务失败", err))
		return
	}

	var stageRuns []models.PipelineStageRun
	if err := c.db.Where("task_id = ?", taskID).Order("created_at ASC").Find(&stageRuns).Error; err != nil {
		render.JSON(w, r, InternalErrorResponse("获取阶段执行记录失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("获取流水线任务成功", PipelineTaskDetailResponse{
		Task:      &task,
		StageRuns: stageRuns,
	}))
}

// CancelPipelineTask 取消流水线任务
// @Summary 取消流水线任务
// @Description 取消待执行或正在执行的流水线任务
// @Tags 流水线管理
// @Accept json
// @Produce json
// @Param id path string true "任务ID"
// @Success 200 {object} APIResponse "取消成功"
// @Failure 400 {object} APIResponse "请求参数错误"
// @Failure 500 {object} APIResponse "任务状态不允许取消"
// @Router /pipeline/tasks/{id}/cancel [post]
func (c *PipelineController) CancelPipelineTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	if taskID == "" {
		render.JSON(w, r, BadRequestResponse("任务ID不能为空", nil))
		return
	}

	if err := c.engine.CancelTask(taskID); err != nil {
		render.JSON(w, r, InternalErrorResponse("取消流水线任务失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("取消流水线任务成功", nil))
}

// RetryPipelineTask 重试流水线任务
// @Summary 重试流水线任务
// @Description 基于失败或已取消任务的配置创建一个新任务并提交执行
// @Tags 流水线管理
// @Accept json
// @Produce json
// @Param id path string true "任务ID"
// @Success 200 {object} APIResponse{data=models.PipelineTask} "重试成功"
// @Failure 400 {object} APIResponse "请求参数错误"
// @Failure 500 {object} APIResponse "任务状态不允许重试"
// @Router /pipeline/tasks/{id}/retry [post]
func (c *PipelineController) RetryPipelineTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	if taskID == "" {
		render.JSON(w, r, BadRequestResponse("任务ID不能为空", nil))
		return
	}

	newTask, err := c.engine.RetryTask(taskID)
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("重试流水线任务失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("重试流水线任务成功", newTask))
}

// DeletePipelineTask 删除流水线任务
// @Summary 删除流水线任务
// @Description 删除终态任务及其衍生的清洗数据、聚合数据、训练样本与事件记录
// @Tags 流水线管理
// @Accept json
// @Produce json
// @Param id path string true "任务ID"
// @Success 200 {object} APIResponse "删除成功"
// @Failure 400 {object} APIResponse "请求参数错误"
// @Failure 404 {object} APIResponse "任务不存在"
// @Failure 409 {object} APIResponse "任务状态不允许删除"
// @Router /pipeline/tasks/{id} [delete]
func (c *PipelineController) DeletePipelineTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	if taskID == "" {
		render.JSON(w, r, BadRequestResponse("任务ID不能为空", nil))
		return
	}

	var task models.PipelineTask
	if err := c.db.First(&task, "id = ?", taskID).Error; err != nil {
		render.JSON(w, r, NotFoundResponse("任务不存在", err))
		return
	}

	deletable := false
	for _, status := range meta.GetDeletableTaskStatuses() {
		if task.Status == status {
			deletable = true
			break
		}
	}
	if !deletable {
		render.JSON(w, r, ErrorResponse(http.StatusConflict, "只有终态任务可以删除", nil))
		return
	}

	err := c.db.Transaction(func(tx *gorm.DB) error {
		// 衍生数据先于任务行删除
		children := []interface{}{
			&models.PipelineStageRun{},
			&models.CleanReading{},
			&models.WindowAggregate{},
			&models.TrainingSample{},
			&models.PipelineEventRecord{},
		}
		for _, child := range children {
			if err := tx.Where("task_id = ?", taskID).Delete(child).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&task).Error
	})
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("删除流水线任务失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("删除流水线任务成功", nil))
}

// GetPipelineStatistics 获取流水线统计信息
// @Summary 获取流水线统计信息
// @Description 获取任务状态分布、近期执行情况与引擎运行时统计
// @Tags 流水线管理
// @Accept json
// @Produce json
// @Success 200 {object} APIResponse "获取成功"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /pipeline/statistics [get]
func (c *PipelineController) GetPipelineStatistics(w http.ResponseWriter, r *http.Request) {
	type statusCount struct {
		Status string `json:"status"`
		Count  int64  `json:"count"`
	}

	var statusCounts []statusCount
	if err := c.db.Model(&models.PipelineTask{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Find(&statusCounts).Error; err != nil {
		render.JSON(w, r, InternalErrorResponse("获取任务状态统计失败", err))
		return
	}

	var todayTotal, todaySuccess int64
	today := time.Now().Format("2006-01-02")
	c.db.Model(&models.PipelineTask{}).Where("DATE(created_at) = ?", today).Count(&todayTotal)
	c.db.Model(&models.PipelineTask{}).
		Where("DATE(created_at) = ? AND status = ?", today, meta.PipelineTaskStatusSuccess).
		Count(&todaySuccess)

	statistics := map[string]interface{}{
		"status_counts": statusCounts,
		"today_total":   todayTotal,
		"today_success": todaySuccess,
		"engine":        c.engine.GetStatistics(),
	}

	render.JSON(w, r, SuccessResponse("获取流水线统计信息成功", statistics))
}

// === 调度管理 ===

// CreatePipelineSchedule 创建流水线调度
// @Summary 创建流水线调度
// @Description 创建cron/interval/once类型的流水线调度，启用状态的调度立即注册生效
// @Tags 流水线管理
// @Accept json
// @Produce json
// @Param schedule body PipelineScheduleRequest true "调度配置"
// @Success 200 {object} APIResponse{data=models.PipelineSchedule} "创建成功"
// @Failure 400 {object} APIResponse "请求参数错误"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /pipeline/schedules [post]
func (c *PipelineController) CreatePipelineSchedule(w http.ResponseWriter, r *http.Request) {
	var req PipelineScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数解析失败", err))
		return
	}

	if req.Name == "" {
		render.JSON(w, r, BadRequestResponse("调度名称不能为空", nil))
		return
	}

	var startTime *time.Time
	if req.StartTime != nil && *req.StartTime != "" {
		parsed, err := time.Parse(time.RFC3339, *req.StartTime)
		if err != nil {
			render.JSON(w, r, BadRequestResponse("无效的触发时间格式", err))
			return
		}
		startTime = &parsed
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	schedule := models.PipelineSchedule{
		Name:            req.Name,
		ScheduleType:    req.ScheduleType,
		CronExpression:  req.CronExpression,
		IntervalSeconds: req.IntervalSeconds,
		StartTime:       startTime,
		TimeoutSeconds:  req.TimeoutSeconds,
		PipelineConfig:  models.JSONB(req.PipelineConfig),
		Enabled:         enabled,
		Description:     req.Description,
		CreatedBy:       req.CreatedBy,
	}

	if err := c.db.Create(&schedule).Error; err != nil {
		render.JSON(w, r, BadRequestResponse("创建流水线调度失败", err))
		return
	}

	if err := c.schedulerService.AddSchedule(&schedule); err != nil {
		render.JSON(w, r, InternalErrorResponse("调度注册失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("创建流水线调度成功", schedule))
}

// GetPipelineScheduleList 获取流水线调度列表
// @Summary 获取流水线调度列表
// @Description 分页获取流水线调度列表，支持启用状态过滤
// @Tags 流水线管理
// @Accept json
// @Produce json
// @Param page query int false "页码" default(1)
// @Param size query int false "每页大小" default(10)
// @Param enabled query bool false "启用状态过滤"
// @Success 200 {object} PaginatedResponse{data=[]models.PipelineSchedule} "获取成功"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /pipeline/schedules [get]
func (c *PipelineController) GetPipelineScheduleList(w http.ResponseWriter, r *http.Request) {
	page, size := parsePaging(r, 10, 100)

	query := c.db.Model(&models.PipelineSchedule{})
	if enabledStr := r.URL.Query().Get("enabled"); enabledStr != "" {
		query = query.Where("enabled = ?", enabledStr == "true")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		render.JSON(w, r, InternalErrorResponse("统计流水线调度失败", err))
		return
	}

	var schedules []models.PipelineSchedule
	if err := query.Order("created_at DESC").Offset((page - 1) * size).Limit(size).Find(&schedules).Error; err != nil {
		render.JSON(w, r, InternalErrorResponse("获取流水线调度列表失败", err))
		return
	}

	render.JSON(w, r, SuccessPaginatedResponse("获取流水线调度列表成功", schedules, total, page, size))
}

// GetPipelineSchedule 获取流水线调度详情
// @Summary 获取流水线调度详情
// @Description 根据调度ID获取调度配置与执行统计
// @Tags 流水线管理
// @Accept json
// @Produce json
// @Param id path string true "调度ID"
// @Success 200 {object} APIResponse{data=models.PipelineSchedule} "获取成功"
// @Failure 404 {object} APIResponse "调度不存在"
// @Router /pipeline/schedules/{id} [get]
func (c *PipelineController) GetPipelineSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID := chi.URLParam(r, "id")
	if scheduleID == "" {
		render.JSON(w, r, BadRequestResponse("调度ID不能为空", nil))
		return
	}

	var schedule models.PipelineSchedule
	if err := c.db.First(&schedule, "id = ?", scheduleID).Error; err != nil {
		render.JSON(w, r, NotFoundResponse("获取流水线调度失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("获取流水线调度成功", schedule))
}

// UpdatePipelineSchedule 更新流水线调度
// @Summary 更新流水线调度
// @Description 更新调度配置并重新注册，停用的调度会从调度器中移除
// @Tags 流水线管理
// @Accept json
// @Produce json
// @Param id path string true "调度ID"
// @Param schedule body PipelineScheduleRequest true "更新信息"
// @Success 200 {object} APIResponse{data=models.PipelineSchedule} "更新成功"
// @Failure 400 {object} APIResponse "请求参数错误"
// @Failure 404 {object} APIResponse "调度不存在"
// @Router /pipeline/schedules/{id} [put]
func (c *PipelineController) UpdatePipelineSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID := chi.URLParam(r, "id")
	if scheduleID == "" {
		render.JSON(w, r, BadRequestResponse("调度ID不能为空", nil))
		return
	}

	var schedule models.PipelineSchedule
	if err := c.db.First(&schedule, "id = ?", scheduleID).Error; err != nil {
		render.JSON(w, r, NotFoundResponse("调度不存在", err))
		return
	}

	var req PipelineScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数解析失败", err))
		return
	}

	if req.Name != "" {
		schedule.Name = req.Name
	}
	if req.ScheduleType != "" {
		if !meta.IsValidScheduleType(req.ScheduleType) || req.ScheduleType == meta.PipelineScheduleTypeManual {
			render.JSON(w, r, BadRequestResponse("无效的调度类型", nil))
			return
		}
		schedule.ScheduleType = req.ScheduleType
	}
	if req.CronExpression != "" {
		schedule.CronExpression = req.CronExpression
	}
	if req.IntervalSeconds > 0 {
		schedule.IntervalSeconds = req.IntervalSeconds
	}
	if req.TimeoutSeconds > 0 {
		schedule.TimeoutSeconds = req.TimeoutSeconds
	}
	if req.StartTime != nil && *req.StartTime != "" {
		parsed, err := time.Parse(time.RFC3339, *req.StartTime)
		if err != nil {
			render.JSON(w, r, BadRequestResponse("无效的触发时间格式", err))
			return
		}
		schedule.StartTime = &parsed
	}
	if req.PipelineConfig != nil {
		schedule.PipelineConfig = models.JSONB(req.PipelineConfig)
	}
	if req.Description != "" {
		schedule.Description = req.Description
	}
	if req.Enabled != nil {
		schedule.Enabled = *req.Enabled
	}

	if err := c.db.Save(&schedule).Error; err != nil {
		render.JSON(w, r, InternalErrorResponse("更新流水线调度失败", err))
		return
	}

	// 先移除旧注册再按新配置注册，停用的调度只移除
	c.schedulerService.RemoveSchedule(schedule.ID)
	if err := c.schedulerService.AddSchedule(&schedule); err != nil {
		render.JSON(w, r, InternalErrorResponse("调度重新注册失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("更新流水线调度成功", schedule))
}

// DeletePipelineSchedule 删除流水线调度
// @Summary 删除流水线调度
// @Description 删除流水线调度并从调度器中移除，历史任务不受影响
// @Tags 流水线管理
// @Accept json
// @Produce json
// @Param id path string true "调度ID"
// @Success 200 {object} APIResponse "删除成功"
// @Failure 404 {object} APIResponse "调度不存在"
// @Router /pipeline/schedules/{id} [delete]
func (c *PipelineController) DeletePipelineSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID := chi.URLParam(r, "id")
	if scheduleID == "" {
		render.JSON(w, r, BadRequestResponse("调度ID不能为空", nil))
		return
	}

	var schedule models.PipelineSchedule
	if err := c.db.First(&schedule, "id = ?", scheduleID).Error; err != nil {
		render.JSON(w, r, NotFoundResponse("调度不存在", err))
		return
	}

	c.schedulerService.RemoveSchedule(scheduleID)
	if err := c.db.Delete(&schedule).Error; err != nil {
		render.JSON(w, r, InternalErrorResponse("删除流水线调度失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("删除流水线调度成功", nil))
}
