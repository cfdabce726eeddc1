/*
 * @module api/controllers/datasource_controller
 * @description 数据源控制器，提供数据源CRUD、启停控制、连接测试与类型定义查询API
 * @architecture 分层架构 - 控制器层
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow HTTP请求 -> 配置验证 -> 数据库持久化 -> 管理器注册/移除
 * @rules 数据源配置需通过meta类型定义验证；启停操作同时更新数据库状态与管理器注册表
 * @dependencies sensorhub-service/service/datasource, sensorhub-service/service/meta
 * @refs api/routes.go, service/datasource
 */

package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"sensorhub-service/service"
	"sensorhub-service/service/datasource"
	"sensorhub-service/service/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"gorm.io/gorm"
)

// DataSourceController 数据源控制器
type DataSourceController struct {
	db                *gorm.DB
	manager           datasource.DataSourceManager
	dataSourceService *datasource.DataSourceService
}

// NewDataSourceController 创建数据源控制器实例
func NewDataSourceController() *DataSourceController {
	return &DataSourceController{
		db:                service.DB,
		manager:           datasource.GetManager(),
		dataSourceService: datasource.NewDataSourceService(),
	}
}

// DataSourceCreateRequest 创建数据源请求
type DataSourceCreateRequest struct {
	Name             string                 `json:"name" example:"车间MQTT网关"`
	Type             string                 `json:"type" example:"mqtt"`
	ConnectionConfig map[string]interface{} `json:"connection_config"`
	ParamsConfig     map[string]interface{} `json:"params_config,omitempty"`
	Script           string                 `json:"script,omitempty"`
	ScriptEnabled    bool                   `json:"script_enabled,omitempty"`
	Status           string                 `json:"status,omitempty" example:"inactive"`
	CreatedBy        string                 `json:"created_by" example:"admin"`
}

// DataSourceUpdateRequest 更新数据源请求
type DataSourceUpdateRequest struct {
	Name             string                 `json:"name,omitempty"`
	ConnectionConfig map[string]interface{} `json:"connection_config,omitempty"`
	ParamsConfig     map[string]interface{} `json:"params_config,omitempty"`
	Script           *string                `json:"script,omitempty"`
	ScriptEnabled    *bool                  `json:"script_enabled,omitempty"`
	UpdatedBy        string                 `json:"updated_by,omitempty"`
}

// DataSourceRuntimeStatus 数据源运行时状态
type DataSourceRuntimeStatus struct {
	Registered bool                     `json:"registered"`
	Started    bool                     `json:"started"`
	Resident   bool                     `json:"resident"`
	Health     *datasource.HealthStatus `json:"health,omitempty"`
}

// CreateDataSource 创建数据源
// @Summary 创建数据源
// @Description 创建传感器数据源，连接配置按类型定义验证，状态为active时立即注册启动
// @Tags 数据源管理
// @Accept json
// @Produce json
// @Param datasource body DataSourceCreateRequest true "数据源配置"
// @Success 200 {object} APIResponse{data=models.DataSource} "创建成功"
// @Failure 400 {object} APIResponse "请求参数错误或配置验证失败"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /datasources [post]
func (c *DataSourceController) CreateDataSource(w http.ResponseWriter, r *http.Request) {
	var req DataSourceCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数解析失败", err))
		return
	}

	if req.Name == "" {
		render.JSON(w, r, BadRequestResponse("数据源名称不能为空", nil))
		return
	}
	if err := c.dataSourceService.ValidateDataSourceType(req.Type); err != nil {
		render.JSON(w, r, BadRequestResponse("不支持的数据源类型", err))
		return
	}

	validation, err := c.dataSourceService.ValidateDataSourceConfig(req.Type, req.ConnectionConfig, req.ParamsConfig)
	if err != nil {
		render.JSON(w, r, BadRequestResponse("配置验证失败", err))
		return
	}
	if !validation.IsValid {
		render.JSON(w, r, APIResponse{Status: http.StatusBadRequest, Msg: "数据源配置不合法", Data: validation})
		return
	}

	definition, err := c.dataSourceService.GetDataSourceTypeDefinition(req.Type)
	if err != nil {
		render.JSON(w, r, BadRequestResponse("获取类型定义失败", err))
		return
	}

	status := req.Status
	if status == "" {
		status = "inactive"
	}

	ds := models.DataSource{
		Name:             req.Name,
		Category:         definition.Category,
		Type:             req.Type,
		Status:           status,
		ConnectionConfig: models.JSONB(req.ConnectionConfig),
		ParamsConfig:     models.JSONB(req.ParamsConfig),
		Script:           req.Script,
		ScriptEnabled:    req.ScriptEnabled,
		CreatedBy:        req.CreatedBy,
	}
	if err := c.db.Create(&ds).Error; err != nil {
		render.JSON(w, r, InternalErrorResponse("保存数据源失败", err))
		return
	}

	if ds.IsActive() {
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		if err := c.manager.Register(ctx, &ds); err != nil {
			// 注册失败回退为停用，避免库里挂着一个起不来的活跃数据源
			c.db.Model(&ds).Update("status", "inactive")
			render.JSON(w, r, InternalErrorResponse("数据源已保存但注册失败", err))
			return
		}
	}

	render.JSON(w, r, SuccessResponse("创建数据源成功", ds))
}

// GetDataSourceList 获取数据源列表
// @Summary 获取数据源列表
// @Description 分页获取数据源列表，支持类型、分类和状态过滤
// @Tags 数据源管理
// @Accept json
// @Produce json
// @Param page query int false "页码" default(1)
// @Param size query int false "每页大小" default(10)
// @Param type query string false "数据源类型过滤"
// @Param category query string false "数据源分类过滤"
// @Param status query string false "状态过滤"
// @Success 200 {object} PaginatedResponse{data=[]models.DataSource} "获取成功"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /datasources [get]
func (c *DataSourceController) GetDataSourceList(w http.ResponseWriter, r *http.Request) {
	page, size := parsePaging(r, 10, 100)

	query := c.db.Model(&models.DataSource{})
	if dsType := r.URL.Query().Get("type"); dsType != "" {
		query = query.Where("type = ?", dsType)
	}
	if category := r.URL.Query().Get("category"); category != "" {
		query = query.Where("category = ?", category)
	}
	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		render.JSON(w, r, InternalErrorResponse("统计数据源失败", err))
		return
	}

	var sources []models.DataSource
	if err := query.Order("created_at DESC").Offset((page - 1) * size).Limit(size).Find(&sources).Error; err != nil {
		render.JSON(w, r, InternalErrorResponse("获取数据源列表失败", err))
		return
	}

	render.JSON(w, r, SuccessPaginatedResponse("获取数据源列表成功", sources, total, page, size))
}

// GetDataSource 获取数据源详情
// @Summary 获取数据源详情
// @Description 根据ID获取数据源配置及运行时状态
// @Tags 数据源管理
// @Accept json
// @Produce json
// @Param id path string true "数据源ID"
// @Success 200 {object} APIResponse "获取成功"
// @Failure 404 {object} APIResponse "数据源不存在"
// @Router /datasources/{id} [get]
func (c *DataSourceController) GetDataSource(w http.ResponseWriter, r *http.Request) {
	dsID := chi.URLParam(r, "id")
	if dsID == "" {
		render.JSON(w, r, BadRequestResponse("数据源ID不能为空", nil))
		return
	}

	var ds models.DataSource
	if err := c.db.First(&ds, "id = ?", dsID).Error; err != nil {
		render.JSON(w, r, NotFoundResponse("数据源不存在", err))
		return
	}

	runtime := DataSourceRuntimeStatus{}
	if instance, err := c.manager.Get(dsID); err == nil {
		runtime.Registered = true
		runtime.Started = instance.IsStarted()
		runtime.Resident = instance.IsResident()
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if health, err := instance.HealthCheck(ctx); err == nil {
			runtime.Health = health
		}
	}

	render.JSON(w, r, SuccessResponse("获取数据源成功", map[string]interface{}{
		"datasource": ds,
		"runtime":    runtime,
	}))
}

// UpdateDataSource 更新数据源
// @Summary 更新数据源
// @Description 更新数据源配置，运行中的数据源会按新配置重新注册
// @Tags 数据源管理
// @Accept json
// @Produce json
// @Param id path string true "数据源ID"
// @Param datasource body DataSourceUpdateRequest true "更新信息"
// @Success 200 {object} APIResponse{data=models.DataSource} "更新成功"
// @Failure 400 {object} APIResponse "请求参数错误"
// @Failure 404 {object} APIResponse "数据源不存在"
// @Router /datasources/{id} [put]
func (c *DataSourceController) UpdateDataSource(w http.ResponseWriter, r *http.Request) {
	dsID := chi.URLParam(r, "id")
	if dsID == "" {
		render.JSON(w, r, BadRequestResponse("数据源ID不能为空", nil))
		return
	}

	var ds models.DataSource
	if err := c.db.First(&ds, "id = ?", dsID).Error; err != nil {
		render.JSON(w, r, NotFoundResponse("数据源不存在", err))
		return
	}

	var req DataSourceUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数解析失败", err))
		return
	}

	if req.Name != "" {
		ds.Name = req.Name
	}
	if req.ConnectionConfig != nil {
		ds.ConnectionConfig = models.JSONB(req.ConnectionConfig)
	}
	if req.ParamsConfig != nil {
		ds.ParamsConfig = models.JSONB(req.ParamsConfig)
	}
	if req.Script != nil {
		ds.Script = *req.Script
	}
	if req.ScriptEnabled != nil {
		ds.ScriptEnabled = *req.ScriptEnabled
	}
	if req.UpdatedBy != "" {
		ds.UpdatedBy = req.UpdatedBy
	}

	validation, err := c.dataSourceService.ValidateDataSourceConfig(ds.Type, ds.ConnectionConfig, ds.ParamsConfig)
	if err != nil {
		render.JSON(w, r, BadRequestResponse("配置验证失败", err))
		return
	}
	if !validation.IsValid {
		render.JSON(w, r, APIResponse{Status: http.StatusBadRequest, Msg: "数据源配置不合法", Data: validation})
		return
	}

	if err := c.db.Save(&ds).Error; err != nil {
		render.JSON(w, r, InternalErrorResponse("更新数据源失败", err))
		return
	}

	// 运行中的实例按新配置重建
	if _, err := c.manager.Get(dsID); err == nil {
		_ = c.manager.Remove(dsID)
		if ds.IsActive() {
			ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
			defer cancel()
			if err := c.manager.Register(ctx, &ds); err != nil {
				c.db.Model(&ds).Update("status", "inactive")
				render.JSON(w, r, InternalErrorResponse("数据源已更新但重新注册失败", err))
				return
			}
		}
	}

	render.JSON(w, r, SuccessResponse("更新数据源成功", ds))
}

// DeleteDataSource 删除数据源
// @Summary 删除数据源
// @Description 停止并删除数据源，已接入的历史读数不受影响
// @Tags 数据源管理
// @Accept json
// @Produce json
// @Param id path string true "数据源ID"
// @Success 200 {object} APIResponse "删除成功"
// @Failure 404 {object} APIResponse "数据源不存在"
// @Router /datasources/{id} [delete]
func (c *DataSourceController) DeleteDataSource(w http.ResponseWriter, r *http.Request) {
	dsID := chi.URLParam(r, "id")
	if dsID == "" {
		render.JSON(w, r, BadRequestResponse("数据源ID不能为空", nil))
		return
	}

	var ds models.DataSource
	if err := c.db.First(&ds, "id = ?", dsID).Error; err != nil {
		render.JSON(w, r, NotFoundResponse("数据源不存在", err))
		return
	}

	// 未注册时Remove会报不存在，忽略即可
	_ = c.manager.Remove(dsID)

	if err := c.db.Delete(&ds).Error; err != nil {
		render.JSON(w, r, InternalErrorResponse("删除数据源失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("删除数据源成功", nil))
}

// StartDataSource 启动数据源
// @Summary 启动数据源
// @Description 将数据源标记为active并注册到管理器，常驻数据源立即建立连接开始接入
// @Tags 数据源管理
// @Accept json
// @Produce json
// @Param id path string true "数据源ID"
// @Success 200 {object} APIResponse "启动成功"
// @Failure 404 {object} APIResponse "数据源不存在"
// @Failure 500 {object} APIResponse "启动失败"
// @Router /datasources/{id}/start [post]
func (c *DataSourceController) StartDataSource(w http.ResponseWriter, r *http.Request) {
	dsID := chi.URLParam(r, "id")
	if dsID == "" {
		render.JSON(w, r, BadRequestResponse("数据源ID不能为空", nil))
		return
	}

	var ds models.DataSource
	if err := c.db.First(&ds, "id = ?", dsID).Error; err != nil {
		render.JSON(w, r, NotFoundResponse("数据源不存在", err))
		return
	}

	if _, err := c.manager.Get(dsID); err == nil {
		render.JSON(w, r, SuccessResponse("数据源已在运行中", nil))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := c.manager.Register(ctx, &ds); err != nil {
		render.JSON(w, r, InternalErrorResponse("启动数据源失败", err))
		return
	}

	if err := c.db.Model(&ds).Update("status", "active").Error; err != nil {
		render.JSON(w, r, InternalErrorResponse("更新数据源状态失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("启动数据源成功", nil))
}

// StopDataSource 停止数据源
// @Summary 停止数据源
// @Description 停止数据源并从管理器移除，状态标记为inactive
// @Tags 数据源管理
// @Accept json
// @Produce json
// @Param id path string true "数据源ID"
// @Success 200 {object} APIResponse "停止成功"
// @Failure 404 {object} APIResponse "数据源不存在"
// @Router /datasources/{id}/stop [post]
func (c *DataSourceController) StopDataSource(w http.ResponseWriter, r *http.Request) {
	dsID := chi.URLParam(r, "id")
	if dsID == "" {
		render.JSON(w, r, BadRequestResponse("数据源ID不能为空", nil))
		return
	}

	var ds models.DataSource
	if err := c.db.First(&ds, "id = ?", dsID).Error; err != nil {
		render.JSON(w, r, NotFoundResponse("数据源不存在", err))
		return
	}

	_ = c.manager.Remove(dsID)

	if err := c.db.Model(&ds).Update("status", "inactive").Error; err != nil {
		render.JSON(w, r, InternalErrorResponse("更新数据源状态失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("停止数据源成功", nil))
}

// TestDataSource 测试数据源连接
// @Summary 测试数据源连接
// @Description 使用非常驻测试实例验证数据源连通性，不影响运行中的实例
// @Tags 数据源管理
// @Accept json
// @Produce json
// @Param id path string true "数据源ID"
// @Success 200 {object} APIResponse{data=datasource.HealthStatus} "测试完成"
// @Failure 404 {object} APIResponse "数据源不存在"
// @Failure 500 {object} APIResponse "测试失败"
// @Router /datasources/{id}/test [post]
func (c *DataSourceController) TestDataSource(w http.ResponseWriter, r *http.Request) {
	dsID := chi.URLParam(r, "id")
	if dsID == "" {
		render.JSON(w, r, BadRequestResponse("数据源ID不能为空", nil))
		return
	}

	var ds models.DataSource
	if err := c.db.First(&ds, "id = ?", dsID).Error; err != nil {
		render.JSON(w, r, NotFoundResponse("数据源不存在", err))
		return
	}

	instance, err := c.manager.CreateTestInstance(ds.Type)
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("创建测试实例失败", err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	if err := instance.Init(ctx, &ds); err != nil {
		render.JSON(w, r, InternalErrorResponse("测试实例初始化失败", err))
		return
	}
	if err := instance.Start(ctx); err != nil {
		render.JSON(w, r, InternalErrorResponse("测试连接失败", err))
		return
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = instance.Stop(stopCtx)
	}()

	health, err := instance.HealthCheck(ctx)
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("健康检查失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("测试数据源连接成功", health))
}

// GetDataSourceTypes 获取数据源类型定义
// @Summary 获取数据源类型定义
// @Description 获取所有支持的数据源类型及其配置字段定义和示例
// @Tags 数据源管理
// @Accept json
// @Produce json
// @Success 200 {object} APIResponse "获取成功"
// @Router /datasources/types [get]
func (c *DataSourceController) GetDataSourceTypes(w http.ResponseWriter, r *http.Request) {
	types := c.dataSourceService.GetSupportedTypes()
	definitions := make([]interface{}, 0, len(types))
	for _, dsType := range types {
		if definition, err := c.dataSourceService.GetDataSourceTypeDefinition(dsType); err == nil {
			definitions = append(definitions, definition)
		}
	}

	render.JSON(w, r, SuccessResponse("获取数据源类型成功", definitions))
}
