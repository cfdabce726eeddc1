/*
 * @module service/metrics/metrics
 * @description Prometheus业务指标定义：读数摄入、清洗丢弃、任务与阶段执行情况
 * @architecture 横切关注点 - 指标采集层，包级变量自动注册到默认Registry
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 指标注册 -> 业务代码打点 -> /metrics端点暴露
 * @rules 指标名使用sensorhub前缀，标签基数保持可控（不使用sensor_id做标签）
 * @dependencies github.com/prometheus/client_golang
 * @refs main.go, service/pipeline, service/datasource
 */

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReadingsIngested 摄入的原始读数总数，按数据源类型区分
	ReadingsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorhub_readings_ingested_total",
			Help: "Total number of raw sensor readings ingested",
		},
		[]string{"source_type"},
	)

	// ReadingsRejected 摄入阶段被拒绝的报文总数
	ReadingsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorhub_readings_rejected_total",
			Help: "Total number of sensor payloads rejected at ingestion",
		},
		[]string{"source_type", "reason"},
	)

	// RowsDropped 清洗阶段丢弃的行数，按丢弃原因区分
	RowsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorhub_cleanse_rows_dropped_total",
			Help: "Total number of rows dropped during cleansing",
		},
		[]string{"reason"},
	)

	// PipelineTasksTotal 流水线任务终态计数
	PipelineTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorhub_pipeline_tasks_total",
			Help: "Total number of pipeline tasks by terminal status",
		},
		[]string{"status"},
	)

	// PipelineActiveTasks 正在执行的流水线任务数
	PipelineActiveTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sensorhub_pipeline_active_tasks",
			Help: "Number of currently running pipeline tasks",
		},
	)

	// PipelineQueueSize 任务队列当前长度
	PipelineQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sensorhub_pipeline_queue_size",
			Help: "Current size of the pipeline task queue",
		},
	)

	// StageDuration 各阶段执行时长分布
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sensorhub_pipeline_stage_duration_seconds",
			Help:    "Pipeline stage execution duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage_type", "status"},
	)

	// StageRowsProcessed 各阶段处理的行数
	StageRowsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorhub_pipeline_stage_rows_total",
			Help: "Total number of rows processed per pipeline stage",
		},
		[]string{"stage_type", "direction"},
	)

	// DatasourceUp 数据源健康状态（1=健康, 0=异常）
	DatasourceUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sensorhub_datasource_up",
			Help: "Datasource health status (1 = healthy, 0 = unhealthy)",
		},
		[]string{"source_type", "source_id"},
	)

	// ExportedDatasets 导出的训练数据集总数
	ExportedDatasets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensorhub_exported_datasets_total",
			Help: "Total number of exported training datasets",
		},
	)
)
