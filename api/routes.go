/*
 * @module api/routes
 * @description API路由配置模块，负责初始化和配置所有HTTP路由
 * @architecture RESTful API架构
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 无状态HTTP请求处理
 * @rules 遵循RESTful API设计规范，统一错误处理和响应格式；数据集CSV下载需API密钥，批量上报走可选认证加限流
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/cors, github.com/go-chi/render
 * @refs api/controllers, api/middleware
 */

package api

import (
	apimiddleware "sensorhub-service/api/middleware"

	"sensorhub-service/api/controllers"
	"sensorhub-service/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
)

// InitRoute 初始化所有API路由
func InitRoute(r *chi.Mux) {
	// 基础中间件
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	// CORS配置
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-API-Key", "X-Source-ID"},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// 健康检查
	healthController := controllers.NewHealthController()
	r.Get("/health", healthController.Health)
	r.Get("/ready", healthController.Ready)

	apiKeyAuth := apimiddleware.NewApiKeyAuthMiddleware(service.GlobalAccessService)
	ingestLimit := apimiddleware.NewIngestRateLimitMiddleware(service.GlobalRateLimiter)

	r.Route("/api/v1", func(r chi.Router) {
		// 读数接入
		r.Route("/readings", func(r chi.Router) {
			readingController := controllers.NewReadingController()

			// 批量上报：认证可选（匿名走全局限流，持密钥走密钥级限流）
			r.With(apiKeyAuth.Optional, ingestLimit.Middleware).Post("/batch", readingController.IngestBatch)

			// 样例数据生成
			r.Post("/generate", readingController.GenerateSampleData)

			// 原始读数查询
			r.Get("/", readingController.GetReadings)
		})

		// 流水线管理
		r.Route("/pipeline", func(r chi.Router) {
			pipelineController := controllers.NewPipelineController()

			r.Route("/tasks", func(r chi.Router) {
				r.Post("/", pipelineController.CreatePipelineTask)
				r.Get("/", pipelineController.GetPipelineTaskList)
				r.Get("/{id}", pipelineController.GetPipelineTask)
				r.Delete("/{id}", pipelineController.DeletePipelineTask)

				// 任务控制操作
				r.Post("/{id}/cancel", pipelineController.CancelPipelineTask)
				r.Post("/{id}/retry", pipelineController.RetryPipelineTask)
			})

			r.Route("/schedules", func(r chi.Router) {
				r.Post("/", pipelineController.CreatePipelineSchedule)
				r.Get("/", pipelineController.GetPipelineScheduleList)
				r.Get("/{id}", pipelineController.GetPipelineSchedule)
				r.Put("/{id}", pipelineController.UpdatePipelineSchedule)
				r.Delete("/{id}", pipelineController.DeletePipelineSchedule)
			})

			// 统计信息
			r.Get("/statistics", pipelineController.GetPipelineStatistics)
		})

		// 数据集查询与下载
		r.Route("/datasets", func(r chi.Router) {
			datasetController := controllers.NewDatasetController()

			r.Route("/{task_id}", func(r chi.Router) {
				r.Get("/clean", datasetController.GetCleanDataset)
				r.Get("/windows", datasetController.GetWindowDataset)
				r.Get("/training", datasetController.GetTrainingDataset)

				// CSV文件下载需要API密钥
				r.With(apiKeyAuth.Middleware).Get("/training.csv", datasetController.DownloadTrainingCSV)
				r.With(apiKeyAuth.Middleware).Get("/clean.csv", datasetController.DownloadCleanCSV)
				r.With(apiKeyAuth.Middleware).Get("/analytics.csv", datasetController.DownloadAnalyticsCSV)
			})
		})

		// 数据源管理
		r.Route("/datasources", func(r chi.Router) {
			dataSourceController := controllers.NewDataSourceController()

			r.Get("/types", dataSourceController.GetDataSourceTypes)

			r.Post("/", dataSourceController.CreateDataSource)
			r.Get("/", dataSourceController.GetDataSourceList)
			r.Get("/{id}", dataSourceController.GetDataSource)
			r.Put("/{id}", dataSourceController.UpdateDataSource)
			r.Delete("/{id}", dataSourceController.DeleteDataSource)

			// 数据源控制操作
			r.Post("/{id}/start", dataSourceController.StartDataSource)
			r.Post("/{id}/stop", dataSourceController.StopDataSource)
			r.Post("/{id}/test", dataSourceController.TestDataSource)
		})

		// 事件管理
		r.Route("/events", func(r chi.Router) {
			eventController := controllers.NewEventController()

			r.Get("/stream", eventController.HandleSSE)
			r.Get("/history", eventController.GetEventHistoryList)
			r.Get("/statistics", eventController.GetEventStatistics)
		})

		// Dashboard统计
		r.Route("/dashboard", func(r chi.Router) {
			dashboardController := controllers.NewDashboardController()

			r.Get("/overview", dashboardController.GetDashboardOverview)
			r.Get("/reading-stats", dashboardController.GetReadingStats)
			r.Get("/pipeline-stats", dashboardController.GetPipelineStats)
			r.Get("/datasource-stats", dashboardController.GetDataSourceStats)
			r.Get("/dataset-stats", dashboardController.GetDatasetStats)
		})

		// 系统配置
		r.Route("/config", func(r chi.Router) {
			configController := controllers.NewConfigController()

			r.Get("/", configController.GetAllConfigs)
			r.Post("/batch", configController.BatchUpdateConfigs)
			r.Post("/reload", configController.ReloadConfigs)
			r.Get("/{key}", configController.GetConfig)
			r.Put("/{key}", configController.UpdateConfig)
		})
	})
}
