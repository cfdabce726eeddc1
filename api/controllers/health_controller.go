/*
 * @module api/controllers/health_controller
 * @description 健康检查控制器，提供存活与就绪探针
 * @architecture MVC架构 - 控制器层
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow HTTP请求处理流程
 * @rules 存活探针只确认进程在运行；就绪探针需确认数据库可达
 * @dependencies net/http
 * @refs api/routes.go
 */

package controllers

import (
	"errors"
	"net/http"
	"time"

	"sensorhub-service/service"

	"github.com/go-chi/render"
)

// 服务标识，版本号可在构建时通过 -ldflags 覆盖
var (
	serviceVersion = "1.0.0"
	startedAt      = time.Now()
)

// HealthController 健康检查控制器
type HealthController struct{}

// NewHealthController 创建健康检查控制器实例
func NewHealthController() *HealthController {
	return &HealthController{}
}

// HealthResponse 健康检查响应结构
type HealthResponse struct {
	Status        string    `json:"status" example:"ok"`
	Timestamp     time.Time `json:"timestamp" example:"2024-01-01T00:00:00Z"`
	Version       string    `json:"version" example:"1.0.0"`
	Service       string    `json:"service" example:"sensorhub-service"`
	UptimeSeconds int64     `json:"uptime_seconds" example:"3600"`
}

func probeResponse(status string) HealthResponse {
	return HealthResponse{
		Status:        status,
		Timestamp:     time.Now(),
		Version:       serviceVersion,
		Service:       "sensorhub-service",
		UptimeSeconds: int64(time.Since(startedAt).Seconds()),
	}
}

// Health 存活检查
// @Summary 存活检查
// @Description 进程存活即返回ok，用于容器liveness探针
// @Tags 系统
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (c *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, probeResponse("ok"))
}

// Ready 就绪检查
// @Summary 就绪检查
// @Description 数据库未初始化或不可达时返回503，用于容器readiness探针
// @Tags 系统
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /ready [get]
func (c *HealthController) Ready(w http.ResponseWriter, r *http.Request) {
	if err := pingDatabase(r); err != nil {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, probeResponse("not_ready"))
		return
	}

	render.JSON(w, r, probeResponse("ready"))
}

func pingDatabase(r *http.Request) error {
	if service.DB == nil {
		return errors.New("数据库未初始化")
	}
	sqlDB, err := service.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(r.Context())
}
