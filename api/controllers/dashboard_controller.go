/*
 * @module api/controllers/dashboard_controller
 * @description Dashboard统计数据控制器，提供读数接入、流水线、数据源与数据集的总览指标
 * @architecture MVC架构 - 控制器层
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow HTTP请求处理流程
 * @rules 统一的错误处理和响应格式，数据聚合展示；接入速率趋势来自VictoriaMetrics，不可用时返回空序列
 * @dependencies sensorhub-service/service, sensorhub-service/monitor_client, github.com/go-chi/render
 * @refs api/routes.go
 */

package controllers

import (
	"database/sql"
	"net/http"
	"time"

	"sensorhub-service/monitor_client"
	"sensorhub-service/service"
	"sensorhub-service/service/datasource"
	"sensorhub-service/service/meta"
	"sensorhub-service/service/models"

	"github.com/go-chi/render"
	"gorm.io/gorm"
)

// DashboardController Dashboard控制器
type DashboardController struct {
	db      *gorm.DB
	manager datasource.DataSourceManager
}

// NewDashboardController 创建Dashboard控制器实例
func NewDashboardController() *DashboardController {
	return &DashboardController{
		db:      service.DB,
		manager: datasource.GetManager(),
	}
}

// DashboardOverviewResponse Dashboard总览响应，四块统计加一条接入速率趋势
type DashboardOverviewResponse struct {
	ReadingStats    ReadingStats      `json:"reading_stats"`
	PipelineStats   PipelineStats     `json:"pipeline_stats"`
	DataSourceStats DataSourceStats   `json:"data_source_stats"`
	DatasetStats    DatasetStats      `json:"dataset_stats"`
	IngestTrend     []IngestRatePoint `json:"ingest_trend"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// ReadingStats 读数接入统计
type ReadingStats struct {
	TotalReadings       int64        `json:"total_readings"`        // 原始读数总量
	TodayReadings       int64        `json:"today_readings"`        // 今日入库量
	DistinctSensors     int64        `json:"distinct_sensors"`      // 传感器数量
	MissingTemperature  int64        `json:"missing_temperature"`   // 温度缺失读数
	MissingHumidity     int64        `json:"missing_humidity"`      // 湿度缺失读数
	SourceTypeBreakdown []LabelCount `json:"source_type_breakdown"` // 来源类型分布
	LatestEventTime     *time.Time   `json:"latest_event_time"`     // 最新读数事件时间
}

// PipelineStats 流水线统计
type PipelineStats struct {
	TotalTasks       int64            `json:"total_tasks"`        // 总任务数
	RunningTasks     int64            `json:"running_tasks"`      // 运行中
	PendingTasks     int64            `json:"pending_tasks"`      // 等待中
	SuccessTasks     int64            `json:"success_tasks"`      // 成功
	FailedTasks      int64            `json:"failed_tasks"`       // 失败
	CancelledTasks   int64            `json:"cancelled_tasks"`    // 已取消
	TodayExecutions  int64            `json:"today_executions"`   // 今日执行次数
	TodaySuccessRate float64          `json:"today_success_rate"` // 今日成功率
	AvgDuration      float64          `json:"avg_duration"`       // 平均执行时长(秒)
	TotalRowsCleaned int64            `json:"total_rows_cleaned"` // 累计清洗产出行数
	RecentTasks      []RecentTaskInfo `json:"recent_tasks"`       // 最近任务
	TriggerTypeStats []LabelCount     `json:"trigger_type_stats"` // 触发类型统计
	TrendData        []DailyOutcome   `json:"trend_data"`         // 近7天执行趋势
	FailureReasons   []FailureReason  `json:"failure_reasons"`    // 失败原因统计
}

// DataSourceStats 数据源统计
type DataSourceStats struct {
	TotalDataSources  int64        `json:"total_data_sources"`  // 数据源总数
	ActiveDataSources int64        `json:"active_data_sources"` // 活跃数据源
	CategoryBreakdown []LabelCount `json:"category_breakdown"`  // 分类统计
	TypeBreakdown     []LabelCount `json:"type_breakdown"`      // 类型统计
	RegisteredRuntime int          `json:"registered_runtime"`  // 已注册运行实例
	StartedRuntime    int          `json:"started_runtime"`     // 已启动运行实例
	ResidentRuntime   int          `json:"resident_runtime"`    // 常驻实例
}

// DatasetStats 数据集统计
type DatasetStats struct {
	CleanReadings     int64   `json:"clean_readings"`      // 清洗读数总量
	WindowAggregates  int64   `json:"window_aggregates"`   // 聚合窗口总量
	TrainingSamples   int64   `json:"training_samples"`    // 训练样本总量
	AvgQualityScore   float64 `json:"avg_quality_score"`   // 平均质量评分
	AvgWindowRecords  float64 `json:"avg_window_records"`  // 窗口平均读数条数
	TasksWithDatasets int64   `json:"tasks_with_datasets"` // 产出过数据集的任务数
}

// LabelCount 统一的分组计数项，label的取值含义由各查询的SQL别名决定
type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// RecentTaskInfo 最近任务摘要
type RecentTaskInfo struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	TriggerType string     `json:"trigger_type"`
	Progress    int        `json:"progress"`
	CreatedAt   time.Time  `json:"created_at"`
	EndTime     *time.Time `json:"end_time"`
}

// DailyOutcome 单日执行成败计数
type DailyOutcome struct {
	Date         string `json:"date"`
	SuccessCount int64  `json:"success_count"`
	FailureCount int64  `json:"failure_count"`
}

// FailureReason 失败原因计数，原因取错误信息前50字符
type FailureReason struct {
	Reason string `json:"reason"`
	Count  int64  `json:"count"`
}

// IngestRatePoint 接入速率趋势点
type IngestRatePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Rate      float64   `json:"rate"` // 条/秒
}

// startOfToday 返回本地时区今日零点，日维度统计统一用该阈值过滤
func startOfToday() time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

// GetDashboardOverview 获取Dashboard总览数据
// @Summary 获取Dashboard总览数据
// @Description 获取读数接入、流水线执行、数据源与数据集的统计数据和关键指标
// @Tags Dashboard
// @Produce json
// @Success 200 {object} APIResponse{data=DashboardOverviewResponse} "获取成功"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /dashboard/overview [get]
func (c *DashboardController) GetDashboardOverview(w http.ResponseWriter, r *http.Request) {
	overview := DashboardOverviewResponse{
		ReadingStats:    c.collectReadingStats(),
		PipelineStats:   c.collectPipelineStats(),
		DataSourceStats: c.collectDataSourceStats(),
		DatasetStats:    c.collectDatasetStats(),
		IngestTrend:     c.collectIngestTrend(r),
		UpdatedAt:       time.Now(),
	}

	render.JSON(w, r, SuccessResponse("获取Dashboard总览数据成功", overview))
}

// collectReadingStats 汇总原始读数表的接入指标
func (c *DashboardController) collectReadingStats() ReadingStats {
	stats := ReadingStats{SourceTypeBreakdown: []LabelCount{}}
	readings := func() *gorm.DB { return c.db.Model(&models.SensorReading{}) }

	readings().Count(&stats.TotalReadings)
	readings().Where("created_at >= ?", startOfToday()).Count(&stats.TodayReadings)
	readings().Distinct("sensor_id").Count(&stats.DistinctSensors)
	readings().Where("temperature IS NULL").Count(&stats.MissingTemperature)
	readings().Where("humidity IS NULL").Count(&stats.MissingHumidity)

	readings().
		Select("source_type AS label, COUNT(*) AS count").
		Group("source_type").
		Order("count DESC").
		Find(&stats.SourceTypeBreakdown)

	var latest sql.NullTime
	readings().Select("MAX(event_time)").Scan(&latest)
	if latest.Valid {
		stats.LatestEventTime = &latest.Time
	}

	return stats
}

// collectPipelineStats 汇总流水线任务的执行指标
func (c *DashboardController) collectPipelineStats() PipelineStats {
	stats := PipelineStats{
		RecentTasks:      []RecentTaskInfo{},
		TriggerTypeStats: []LabelCount{},
		TrendData:        []DailyOutcome{},
		FailureReasons:   []FailureReason{},
	}
	tasks := func() *gorm.DB { return c.db.Model(&models.PipelineTask{}) }

	// 按状态一次分组，再分摊到各字段
	var byStatus []LabelCount
	tasks().Select("status AS label, COUNT(*) AS count").Group("status").Find(&byStatus)
	for _, row := range byStatus {
		stats.TotalTasks += row.Count
		switch row.Label {
		case meta.PipelineTaskStatusRunning:
			stats.RunningTasks = row.Count
		case meta.PipelineTaskStatusPending:
			stats.PendingTasks = row.Count
		case meta.PipelineTaskStatusSuccess:
			stats.SuccessTasks = row.Count
		case meta.PipelineTaskStatusFailed:
			stats.FailedTasks = row.Count
		case meta.PipelineTaskStatusCancelled:
			stats.CancelledTasks = row.Count
		}
	}

	// 今日执行量与成功率
	dayStart := startOfToday()
	var todaySuccess int64
	tasks().Where("created_at >= ?", dayStart).Count(&stats.TodayExecutions)
	tasks().Where("created_at >= ? AND status = ?", dayStart, meta.PipelineTaskStatusSuccess).Count(&todaySuccess)
	if stats.TodayExecutions > 0 {
		stats.TodaySuccessRate = float64(todaySuccess) / float64(stats.TodayExecutions) * 100
	}

	// 成功任务的平均耗时(秒)
	tasks().
		Select("COALESCE(AVG(EXTRACT(EPOCH FROM (end_time - start_time))), 0)").
		Where("status = ? AND end_time IS NOT NULL", meta.PipelineTaskStatusSuccess).
		Scan(&stats.AvgDuration)

	// 清洗阶段累计产出行数
	c.db.Model(&models.PipelineStageRun{}).
		Select("COALESCE(SUM(rows_out), 0)").
		Where("stage_type = ? AND status = ?", meta.PipelineStageCleanse, meta.PipelineTaskStatusSuccess).
		Scan(&stats.TotalRowsCleaned)

	tasks().
		Select("id, status, trigger_type, progress, created_at, end_time").
		Order("created_at DESC").
		Limit(10).
		Find(&stats.RecentTasks)

	tasks().
		Select("trigger_type AS label, COUNT(*) AS count").
		Group("trigger_type").
		Find(&stats.TriggerTypeStats)

	// 近7天按日统计成败次数
	tasks().
		Select("TO_CHAR(created_at, 'YYYY-MM-DD') AS date, "+
			"COUNT(*) FILTER (WHERE status = 'success') AS success_count, "+
			"COUNT(*) FILTER (WHERE status = 'failed') AS failure_count").
		Where("created_at >= ?", dayStart.AddDate(0, 0, -6)).
		Group("TO_CHAR(created_at, 'YYYY-MM-DD')").
		Order("date").
		Find(&stats.TrendData)

	// 失败原因按错误信息前缀归并，取前5个
	tasks().
		Select("LEFT(error_message, 50) AS reason, COUNT(*) AS count").
		Where("status = ? AND error_message <> ''", meta.PipelineTaskStatusFailed).
		Group("LEFT(error_message, 50)").
		Order("count DESC").
		Limit(5).
		Find(&stats.FailureReasons)

	return stats
}

// collectDataSourceStats 汇总数据源配置与运行实例指标
func (c *DashboardController) collectDataSourceStats() DataSourceStats {
	stats := DataSourceStats{
		CategoryBreakdown: []LabelCount{},
		TypeBreakdown:     []LabelCount{},
	}
	sources := func() *gorm.DB { return c.db.Model(&models.DataSource{}) }

	sources().Count(&stats.TotalDataSources)
	sources().Where("status = ?", "active").Count(&stats.ActiveDataSources)
	sources().Select("category AS label, COUNT(*) AS count").Group("category").Find(&stats.CategoryBreakdown)
	sources().Select("type AS label, COUNT(*) AS count").Group("type").Find(&stats.TypeBreakdown)

	for _, instance := range c.manager.List() {
		stats.RegisteredRuntime++
		if instance.IsStarted() {
			stats.StartedRuntime++
		}
		if instance.IsResident() {
			stats.ResidentRuntime++
		}
	}

	return stats
}

// collectDatasetStats 汇总清洗、聚合与训练样本数据集指标
func (c *DashboardController) collectDatasetStats() DatasetStats {
	stats := DatasetStats{}

	c.db.Model(&models.CleanReading{}).Count(&stats.CleanReadings)
	c.db.Model(&models.WindowAggregate{}).Count(&stats.WindowAggregates)
	c.db.Model(&models.TrainingSample{}).Count(&stats.TrainingSamples)

	c.db.Model(&models.CleanReading{}).
		Select("COALESCE(AVG(data_quality_score), 0)").
		Scan(&stats.AvgQualityScore)
	c.db.Model(&models.WindowAggregate{}).
		Select("COALESCE(AVG(record_count), 0)").
		Scan(&stats.AvgWindowRecords)

	c.db.Model(&models.CleanReading{}).
		Distinct("task_id").
		Count(&stats.TasksWithDatasets)

	return stats
}

// collectIngestTrend 获取接入速率趋势，来自VictoriaMetrics，近1小时按5分钟取点
func (c *DashboardController) collectIngestTrend(r *http.Request) []IngestRatePoint {
	points := []IngestRatePoint{}

	end := time.Now()
	matrix, err := monitor_client.QueryRangeMatrix(r.Context(),
		"sum(rate(sensorhub_readings_ingested_total[5m]))", end.Add(-1*time.Hour), end, 5*time.Minute)
	if err != nil {
		return points
	}

	for _, series := range matrix {
		for _, pair := range series.Values {
			points = append(points, IngestRatePoint{
				Timestamp: pair.Timestamp.Time(),
				Rate:      float64(pair.Value),
			})
		}
	}

	return points
}

// GetReadingStats 单独获取读数接入统计
// @Summary 获取读数接入统计数据
// @Description 获取原始读数接入的详细统计信息
// @Tags Dashboard
// @Produce json
// @Success 200 {object} APIResponse{data=ReadingStats} "获取成功"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /dashboard/reading-stats [get]
func (c *DashboardController) GetReadingStats(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, SuccessResponse("获取读数接入统计数据成功", c.collectReadingStats()))
}

// GetPipelineStats 单独获取流水线统计
// @Summary 获取流水线统计数据
// @Description 获取流水线任务的详细统计信息
// @Tags Dashboard
// @Produce json
// @Success 200 {object} APIResponse{data=PipelineStats} "获取成功"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /dashboard/pipeline-stats [get]
func (c *DashboardController) GetPipelineStats(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, SuccessResponse("获取流水线统计数据成功", c.collectPipelineStats()))
}

// GetDataSourceStats 单独获取数据源统计
// @Summary 获取数据源统计数据
// @Description 获取数据源配置与运行实例的详细统计信息
// @Tags Dashboard
// @Produce json
// @Success 200 {object} APIResponse{data=DataSourceStats} "获取成功"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /dashboard/datasource-stats [get]
func (c *DashboardController) GetDataSourceStats(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, SuccessResponse("获取数据源统计数据成功", c.collectDataSourceStats()))
}

// GetDatasetStats 单独获取数据集统计
// @Summary 获取数据集统计数据
// @Description 获取清洗数据、聚合窗口与训练样本的详细统计信息
// @Tags Dashboard
// @Produce json
// @Success 200 {object} APIResponse{data=DatasetStats} "获取成功"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /dashboard/dataset-stats [get]
func (c *DashboardController) GetDatasetStats(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, SuccessResponse("获取数据集统计数据成功", c.collectDatasetStats()))
}
