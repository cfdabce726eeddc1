/*
 * @module api/controllers/config_controller
 * @description 系统配置控制器，提供导出目录、流水线并发数等运行参数的查询与修改接口
 * @architecture 分层架构 - 控制器层
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow HTTP请求 -> 参数验证 -> 配置服务 -> 数据库与缓存
 * @rules 配置写入即时落库并刷新缓存；被环境变量覆盖的键读取时以环境变量为准
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/render
 * @refs service/config
 */

package controllers

import (
	"net/http"

	"sensorhub-service/service"
	"sensorhub-service/service/config"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// ConfigController 系统配置控制器
type ConfigController struct {
	configs *config.ConfigService
}

// NewConfigController 创建配置控制器实例
func NewConfigController() *ConfigController {
	return &ConfigController{configs: service.GlobalConfigService}
}

// ConfigWriteRequest 配置写入请求
type ConfigWriteRequest struct {
	Key         string `json:"key,omitempty" example:"pipeline.max_concurrent"`
	Value       string `json:"value" example:"5"`
	Description string `json:"description,omitempty" example:"流水线最大并发任务数"`
}

// ConfigValueResponse 单个配置项响应
type ConfigValueResponse struct {
	Key   string `json:"key" example:"export.base_dir"`
	Value string `json:"value" example:"/data/exports"`
}

// BatchUpdateConfigsRequest 批量配置写入请求
type BatchUpdateConfigsRequest struct {
	Configs []ConfigWriteRequest `json:"configs"`
}

// BatchUpdateResult 批量写入结果，逐条记录失败原因
type BatchUpdateResult struct {
	SuccessCount int      `json:"success_count" example:"3"`
	FailedCount  int      `json:"failed_count" example:"0"`
	Errors       []string `json:"errors,omitempty"`
}

// GetAllConfigs 获取全部配置
// @Summary 获取全部系统配置
// @Description 列出当前环境的全部配置项，数据库缺失的已知键以默认值补齐
// @Tags 系统配置
// @Produce json
// @Success 200 {object} APIResponse{data=[]models.SystemConfigItem} "获取成功"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /config [get]
func (c *ConfigController) GetAllConfigs(w http.ResponseWriter, r *http.Request) {
	items, err := c.configs.GetAllConfigs()
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("获取配置列表失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("获取配置列表成功", items))
}

// GetConfig 获取单个配置
// @Summary 获取单个配置
// @Description 按键名读取配置值，返回环境变量覆盖后的生效值
// @Tags 系统配置
// @Produce json
// @Param key path string true "配置键" example(export.base_dir)
// @Success 200 {object} APIResponse{data=ConfigValueResponse} "获取成功"
// @Failure 400 {object} APIResponse "请求参数错误"
// @Failure 404 {object} APIResponse "配置项不存在"
// @Router /config/{key} [get]
func (c *ConfigController) GetConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		render.JSON(w, r, BadRequestResponse("配置键不能为空", nil))
		return
	}

	value, err := c.configs.GetConfig(key)
	if err != nil {
		render.JSON(w, r, NotFoundResponse("配置项不存在", err))
		return
	}

	render.JSON(w, r, SuccessResponse("获取配置成功", ConfigValueResponse{Key: key, Value: value}))
}

// UpdateConfig 更新配置
// @Summary 更新配置
// @Description 更新指定键的配置值，导出目录、任务保留天数等运行参数即时生效
// @Tags 系统配置
// @Accept json
// @Produce json
// @Param key path string true "配置键" example(pipeline.task_retention_days)
// @Param request body ConfigWriteRequest true "配置写入请求"
// @Success 200 {object} APIResponse{data=ConfigValueResponse} "更新成功"
// @Failure 400 {object} APIResponse "请求参数错误"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /config/{key} [put]
func (c *ConfigController) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		render.JSON(w, r, BadRequestResponse("配置键不能为空", nil))
		return
	}

	var req ConfigWriteRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数解析失败", err))
		return
	}
	if req.Value == "" {
		render.JSON(w, r, BadRequestResponse("配置值不能为空", nil))
		return
	}

	if err := c.configs.SetConfig(key, req.Value, req.Description); err != nil {
		render.JSON(w, r, InternalErrorResponse("更新配置失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("更新配置成功", ConfigValueResponse{Key: key, Value: req.Value}))
}

// BatchUpdateConfigs 批量更新配置
// @Summary 批量更新配置
// @Description 批量写入多个配置项，单条失败不中断其余写入
// @Tags 系统配置
// @Accept json
// @Produce json
// @Param request body BatchUpdateConfigsRequest true "批量配置写入请求"
// @Success 200 {object} APIResponse{data=BatchUpdateResult} "批量更新完成"
// @Failure 400 {object} APIResponse "请求参数错误"
// @Router /config/batch [post]
func (c *ConfigController) BatchUpdateConfigs(w http.ResponseWriter, r *http.Request) {
	var req BatchUpdateConfigsRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数解析失败", err))
		return
	}
	if len(req.Configs) == 0 {
		render.JSON(w, r, BadRequestResponse("配置列表不能为空", nil))
		return
	}

	result := BatchUpdateResult{}
	for _, item := range req.Configs {
		if item.Key == "" {
			result.FailedCount++
			result.Errors = append(result.Errors, "存在键名为空的配置项")
			continue
		}
		if err := c.configs.SetConfig(item.Key, item.Value, item.Description); err != nil {
			result.FailedCount++
			result.Errors = append(result.Errors, item.Key+": "+err.Error())
			continue
		}
		result.SuccessCount++
	}

	render.JSON(w, r, SuccessResponse("批量更新完成", result))
}

// ReloadConfigs 重载配置缓存
// @Summary 重载配置
// @Description 清空配置缓存，下次读取时从数据库与环境变量重新加载
// @Tags 系统配置
// @Produce json
// @Success 200 {object} APIResponse "重载成功"
// @Router /config/reload [post]
func (c *ConfigController) ReloadConfigs(w http.ResponseWriter, r *http.Request) {
	c.configs.ClearCache()
	render.JSON(w, r, SuccessResponse("配置缓存已清空", nil))
}
