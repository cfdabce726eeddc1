/*
 * @module service/pipeline/pipeline_engine
 * @description 流水线核心引擎：任务排队、并发调度、阶段顺序执行与状态机流转
 * @architecture 分层架构 - 核心服务层（队列+工作者池）
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 任务提交 -> 入队 -> 工作者执行 -> 清洗/聚合/导出按序运行 -> 终态更新 -> 事件通知
 * @rules
 *   - 阶段严格按 cleanse -> aggregate -> export 顺序执行
 *   - 后一阶段仅在前一阶段的成功状态持久化后启动
 *   - 任一阶段失败整个任务失败，无部分成功
 * @dependencies sensorhub-service/service/models, sensorhub-service/service/meta, gorm.io/gorm
 * @refs service/pipeline/cleanse_processor.go, service/scheduler
 */

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sensorhub-service/service/meta"
	"sensorhub-service/service/metrics"
	"sensorhub-service/service/models"

	"github.com/spf13/cast"
	"gorm.io/gorm"
)

// 使用models包中定义的类型
type TaskStatus = models.TaskStatus
type StageType = models.StageType
type StageProcessor = models.StageProcessor
type StageProgress = models.StageProgress
type StageResult = models.StageResult
type PipelineResult = models.PipelineResult
type PipelineEvent = models.PipelineEvent
type PipelineTaskContext = models.PipelineTaskContext
type PipelineTaskRequest = models.PipelineTaskRequest
type ProgressEstimate = models.ProgressEstimate

// 重新导出常量
const (
	TaskStatusPending   = models.TaskStatusPending
	TaskStatusRunning   = models.TaskStatusRunning
	TaskStatusSuccess   = models.TaskStatusSuccess
	TaskStatusFailed    = models.TaskStatusFailed
	TaskStatusCancelled = models.TaskStatusCancelled
)

const (
	StageTypeCleanse   = models.StageTypeCleanse
	StageTypeAggregate = models.StageTypeAggregate
	StageTypeExport    = models.StageTypeExport
)

// DefaultTaskTimeout 任务级默认超时时间
const DefaultTaskTimeout = 600 * time.Second

// queuedTask 队列中的任务项
type queuedTask struct {
	task    *models.PipelineTask
	request *PipelineTaskRequest
}

// PipelineEngine 流水线核心引擎
type PipelineEngine struct {
	db                 *gorm.DB
	processors         map[string]StageProcessor
	runningTasks       map[string]*PipelineTaskContext
	taskMutex          sync.RWMutex
	ctx                context.Context
	cancel             context.CancelFunc
	eventNotifier      func(event *PipelineEvent)
	maxConcurrentTasks int
	taskQueue          chan *queuedTask
	workerPool         chan struct{}
}

// NewPipelineEngine 创建流水线引擎实例
func NewPipelineEngine(db *gorm.DB, maxConcurrentTasks int) *PipelineEngine {
	ctx, cancel := context.WithCancel(context.Background())

	engine := &PipelineEngine{
		db:                 db,
		processors:         make(map[string]StageProcessor),
		runningTasks:       make(map[string]*PipelineTaskContext),
		ctx:                ctx,
		cancel:             cancel,
		maxConcurrentTasks: maxConcurrentTasks,
		taskQueue:          make(chan *queuedTask, 1000),
		workerPool:         make(chan struct{}, maxConcurrentTasks),
	}

	// 按执行顺序注册各阶段处理器
	engine.RegisterProcessor(NewCleanseProcessor(db))
	engine.RegisterProcessor(NewAggregateProcessor(db))
	engine.RegisterProcessor(NewExportProcessor(db))

	// 启动任务处理器
	go engine.processTaskQueue()

	return engine
}

// RegisterProcessor 注册阶段处理器
func (e *PipelineEngine) RegisterProcessor(processor StageProcessor) {
	e.processors[processor.GetStageType()] = processor
}

// SubmitPipelineTask 提交流水线任务
func (e *PipelineEngine) SubmitPipelineTask(request *PipelineTaskRequest) (*models.PipelineTask, error) {
	task := &models.PipelineTask{
		TriggerType: request.TriggerType,
		ScheduleID:  request.ScheduleID,
		Status:      string(TaskStatusPending),
		Config:      models.JSONB(request.Config),
		CreatedBy:   request.ScheduledBy,
	}

	if err := e.db.Create(task).Error; err != nil {
		return nil, fmt.Errorf("创建流水线任务失败: %w", err)
	}

	select {
	case e.taskQueue <- &queuedTask{task: task, request: request}:
		metrics.PipelineQueueSize.Set(float64(len(e.taskQueue)))
		return task, nil
	default:
		// 队列满了，更新任务状态为失败
		e.updateTaskStatus(task.ID, TaskStatusFailed, "任务队列已满")
		return nil, errors.New("任务队列已满，请稍后重试")
	}
}

// RetryTask 重试失败的任务，复用原任务记录与配置
func (e *PipelineEngine) RetryTask(taskID string) (*models.PipelineTask, error) {
	var task models.PipelineTask
	if err := e.db.First(&task, "id = ?", taskID).Error; err != nil {
		return nil, fmt.Errorf("获取任务失败: %w", err)
	}

	if !task.CanRetry() {
		return nil, fmt.Errorf("任务状态为%s，不允许重试", task.Status)
	}

	updates := map[string]interface{}{
		"status":        string(TaskStatusPending),
		"current_stage": "",
		"progress":      0,
		"error_message": "",
		"start_time":    nil,
		"end_time":      nil,
		"updated_at":    time.Now(),
	}
	if err := e.db.Model(&models.PipelineTask{}).Where("id = ?", task.ID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("重置任务状态失败: %w", err)
	}
	task.Status = string(TaskStatusPending)

	request := &PipelineTaskRequest{
		ScheduleID:  task.ScheduleID,
		TriggerType: task.TriggerType,
		Config:      map[string]interface{}(task.Config),
		ScheduledBy: task.CreatedBy,
	}

	select {
	case e.taskQueue <- &queuedTask{task: &task, request: request}:
		return &task, nil
	default:
		e.updateTaskStatus(task.ID, TaskStatusFailed, "任务队列已满")
		return nil, errors.New("任务队列已满，请稍后重试")
	}
}

// processTaskQueue 处理任务队列
func (e *PipelineEngine) processTaskQueue() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case queued := <-e.taskQueue:
			// 获取工作者槽位
			e.workerPool <- struct{}{}
			metrics.PipelineQueueSize.Set(float64(len(e.taskQueue)))

			go func(item *queuedTask) {
				defer func() { <-e.workerPool }()
				e.executeTask(item)
			}(queued)
		}
	}
}

// executeTask 执行流水线任务，按序运行全部阶段
func (e *PipelineEngine) executeTask(queued *queuedTask) {
	task := queued.task

	// 排队期间任务可能已被取消，以数据库状态为准
	var current models.PipelineTask
	if err := e.db.First(&current, "id = ?", task.ID).Error; err != nil {
		slog.Error("加载流水线任务失败", "task_id", task.ID, "error", err)
		return
	}
	if TaskStatus(current.Status) != TaskStatusPending {
		slog.Info("跳过非待执行状态的任务", "task_id", task.ID, "status", current.Status)
		return
	}
	task = &current

	// 任务级超时
	timeout := DefaultTaskTimeout
	if seconds := cast.ToInt64(task.Config["timeout_sec"]); seconds > 0 {
		timeout = time.Duration(seconds) * time.Second
	}
	taskCtx, cancel := context.WithTimeout(e.ctx, timeout)
	defer cancel()

	taskContext := &PipelineTaskContext{
		Task:      task,
		Context:   taskCtx,
		Cancel:    cancel,
		StartTime: time.Now(),
		Status:    TaskStatusRunning,
		Progress:  &StageProgress{},
	}

	// 注册运行中的任务
	e.taskMutex.Lock()
	e.runningTasks[task.ID] = taskContext
	metrics.PipelineActiveTasks.Set(float64(len(e.runningTasks)))
	e.taskMutex.Unlock()

	defer func() {
		e.taskMutex.Lock()
		delete(e.runningTasks, task.ID)
		metrics.PipelineActiveTasks.Set(float64(len(e.runningTasks)))
		e.taskMutex.Unlock()
	}()

	// 状态流转 pending -> running
	startTime := time.Now()
	e.db.Model(&models.PipelineTask{}).Where("id = ?", task.ID).Updates(map[string]interface{}{
		"status":     string(TaskStatusRunning),
		"start_time": startTime,
		"updated_at": startTime,
	})

	e.notifyEvent(&PipelineEvent{
		TaskID:    task.ID,
		EventType: meta.PipelineEventTypeStart,
		Timestamp: startTime,
		Data: map[string]interface{}{
			"trigger_type": task.TriggerType,
		},
	})

	// 按固定顺序执行各阶段，前一阶段成功状态持久化后才进入下一阶段
	stageResults := make([]*StageResult, 0, len(meta.PipelineStageOrder))
	for i, stageType := range meta.PipelineStageOrder {
		result, err := e.runStage(taskCtx, taskContext, stageType, task)
		if err != nil {
			e.handleTaskFailure(task, stageType, err)
			// 终态回调在失败路径同样触发，调度器靠它维护成败计数
			if queued.request != nil && queued.request.Callback != nil {
				endTime := time.Now()
				queued.request.Callback(&PipelineResult{
					TaskID:       task.ID,
					Status:       stageFailureStatus(err),
					StageResults: stageResults,
					StartTime:    taskContext.StartTime,
					EndTime:      endTime,
					DurationMs:   endTime.Sub(taskContext.StartTime).Milliseconds(),
					ErrorMessage: err.Error(),
				})
			}
			return
		}
		stageResults = append(stageResults, result)

		progress := (i + 1) * 100 / len(meta.PipelineStageOrder)
		taskContext.Progress.ProgressPercent = progress
		e.db.Model(&models.PipelineTask{}).Where("id = ?", task.ID).Updates(map[string]interface{}{
			"progress":   progress,
			"updated_at": time.Now(),
		})
	}

	// 全部阶段成功
	pipelineResult := &PipelineResult{
		TaskID:       task.ID,
		Status:       TaskStatusSuccess,
		StageResults: stageResults,
		StartTime:    taskContext.StartTime,
		EndTime:      time.Now(),
	}
	pipelineResult.DurationMs = pipelineResult.EndTime.Sub(pipelineResult.StartTime).Milliseconds()
	taskContext.Result = pipelineResult

	e.handleTaskSuccess(task, pipelineResult)

	if queued.request != nil && queued.request.Callback != nil {
		queued.request.Callback(pipelineResult)
	}
}

// runStage 执行单个阶段并持久化其终态。
// 返回nil错误当且仅当阶段成功且成功状态已写入数据库。
func (e *PipelineEngine) runStage(ctx context.Context, taskContext *PipelineTaskContext, stageType string, task *models.PipelineTask) (*StageResult, error) {
	processor, exists := e.processors[stageType]
	if !exists {
		return nil, fmt.Errorf("未注册的阶段处理器: %s", stageType)
	}

	if err := processor.Validate(task); err != nil {
		return nil, fmt.Errorf("阶段%s参数校验失败: %w", stageType, err)
	}

	startTime := time.Now()
	stageRun := &models.PipelineStageRun{
		TaskID:    task.ID,
		StageType: stageType,
		Status:    string(TaskStatusRunning),
		StartTime: &startTime,
	}
	if err := e.db.Create(stageRun).Error; err != nil {
		return nil, fmt.Errorf("创建阶段执行记录失败: %w", err)
	}

	taskContext.CurrentStage = StageType(stageType)
	taskContext.Progress.CurrentPhase = stageType
	e.db.Model(&models.PipelineTask{}).Where("id = ?", task.ID).Updates(map[string]interface{}{
		"current_stage": stageType,
		"updated_at":    time.Now(),
	})

	e.notifyEvent(&PipelineEvent{
		TaskID:    task.ID,
		EventType: meta.PipelineEventTypeStageStart,
		Timestamp: startTime,
		Data: map[string]interface{}{
			"stage_type": stageType,
		},
	})

	if estimate, err := processor.EstimateProgress(task); err == nil && estimate != nil {
		taskContext.Progress.TotalRows = estimate.EstimatedRows
	}

	result, err := processor.Process(ctx, task, taskContext.Progress)
	endTime := time.Now()
	duration := endTime.Sub(startTime)

	if err != nil {
		metrics.StageDuration.WithLabelValues(stageType, string(TaskStatusFailed)).Observe(duration.Seconds())
		// 失败终态也要持久化，便于排障与重试审计
		e.db.Model(&models.PipelineStageRun{}).Where("id = ?", stageRun.ID).Updates(map[string]interface{}{
			"status":        string(stageFailureStatus(err)),
			"end_time":      endTime,
			"error_message": err.Error(),
		})
		return nil, err
	}

	metrics.StageDuration.WithLabelValues(stageType, string(TaskStatusSuccess)).Observe(duration.Seconds())
	metrics.StageRowsProcessed.WithLabelValues(stageType, "in").Add(float64(result.RowsIn))
	metrics.StageRowsProcessed.WithLabelValues(stageType, "out").Add(float64(result.RowsOut))

	updates := map[string]interface{}{
		"status":       string(TaskStatusSuccess),
		"rows_in":      result.RowsIn,
		"rows_out":     result.RowsOut,
		"rows_dropped": result.RowsDropped,
		"end_time":     endTime,
	}
	if len(result.Statistics) > 0 {
		updates["detail"] = models.JSONB(result.Statistics)
	}
	// 成功状态必须先落库，下一阶段才允许启动
	if err := e.db.Model(&models.PipelineStageRun{}).Where("id = ?", stageRun.ID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("持久化阶段成功状态失败: %w", err)
	}

	result.TaskID = task.ID
	result.StageType = StageType(stageType)
	result.Status = TaskStatusSuccess
	result.StartTime = startTime
	result.EndTime = endTime
	result.Duration = duration
	result.DurationMs = duration.Milliseconds()

	e.notifyEvent(&PipelineEvent{
		TaskID:    task.ID,
		EventType: meta.PipelineEventTypeStageComplete,
		Timestamp: endTime,
		Data: map[string]interface{}{
			"stage_type":   stageType,
			"rows_in":      result.RowsIn,
			"rows_out":     result.RowsOut,
			"rows_dropped": result.RowsDropped,
			"duration_ms":  result.DurationMs,
		},
	})

	return result, nil
}

// stageFailureStatus 区分取消与失败的阶段终态
func stageFailureStatus(err error) TaskStatus {
	if errors.Is(err, context.Canceled) {
		return TaskStatusCancelled
	}
	return TaskStatusFailed
}

// handleTaskFailure 处理任务失败或取消
func (e *PipelineEngine) handleTaskFailure(task *models.PipelineTask, stageType string, err error) {
	if errors.Is(err, context.Canceled) {
		e.updateTaskStatus(task.ID, TaskStatusCancelled, "任务被取消")
		metrics.PipelineTasksTotal.WithLabelValues(string(TaskStatusCancelled)).Inc()
		e.notifyEvent(&PipelineEvent{
			TaskID:    task.ID,
			EventType: meta.PipelineEventTypeCancel,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"stage_type": stageType,
			},
		})
		return
	}

	message := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		message = "任务执行超时"
	}

	e.updateTaskStatus(task.ID, TaskStatusFailed, message)
	metrics.PipelineTasksTotal.WithLabelValues(string(TaskStatusFailed)).Inc()
	slog.Error("流水线任务失败", "task_id", task.ID, "stage", stageType, "error", err)

	e.notifyEvent(&PipelineEvent{
		TaskID:    task.ID,
		EventType: meta.PipelineEventTypeError,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"stage_type": stageType,
			"error":      message,
		},
	})
}

// handleTaskSuccess 处理任务成功
func (e *PipelineEngine) handleTaskSuccess(task *models.PipelineTask, result *PipelineResult) {
	stageSummaries := make([]map[string]interface{}, 0, len(result.StageResults))
	for _, stageResult := range result.StageResults {
		stageSummaries = append(stageSummaries, map[string]interface{}{
			"stage_type":   stageResult.StageType,
			"rows_in":      stageResult.RowsIn,
			"rows_out":     stageResult.RowsOut,
			"rows_dropped": stageResult.RowsDropped,
			"duration_ms":  stageResult.DurationMs,
		})
	}

	now := time.Now()
	e.db.Model(&models.PipelineTask{}).Where("id = ?", task.ID).Updates(map[string]interface{}{
		"status":     string(TaskStatusSuccess),
		"progress":   100,
		"end_time":   now,
		"updated_at": now,
		"result": models.JSONB{
			"stages":      stageSummaries,
			"duration_ms": result.DurationMs,
		},
	})

	metrics.PipelineTasksTotal.WithLabelValues(string(TaskStatusSuccess)).Inc()
	slog.Info("流水线任务完成", "task_id", task.ID, "duration_ms", result.DurationMs)

	e.notifyEvent(&PipelineEvent{
		TaskID:    task.ID,
		EventType: meta.PipelineEventTypeComplete,
		Timestamp: now,
		Data: map[string]interface{}{
			"duration_ms": result.DurationMs,
			"stages":      stageSummaries,
		},
	})
}

// GetTaskStatus 获取任务状态
func (e *PipelineEngine) GetTaskStatus(taskID string) (*PipelineTaskContext, error) {
	e.taskMutex.RLock()
	if taskContext, exists := e.runningTasks[taskID]; exists {
		e.taskMutex.RUnlock()
		return taskContext, nil
	}
	e.taskMutex.RUnlock()

	// 从数据库查询已完成的任务
	var task models.PipelineTask
	if err := e.db.First(&task, "id = ?", taskID).Error; err != nil {
		return nil, err
	}

	return &PipelineTaskContext{
		Task:         &task,
		Status:       TaskStatus(task.Status),
		CurrentStage: StageType(task.CurrentStage),
	}, nil
}

// CancelTask 取消任务。运行中的任务通过context取消，排队中的任务直接改写状态。
func (e *PipelineEngine) CancelTask(taskID string) error {
	e.taskMutex.Lock()
	if taskContext, exists := e.runningTasks[taskID]; exists {
		taskContext.Cancel()
		taskContext.Status = TaskStatusCancelled
		e.taskMutex.Unlock()
		return nil
	}
	e.taskMutex.Unlock()

	var task models.PipelineTask
	if err := e.db.First(&task, "id = ?", taskID).Error; err != nil {
		return fmt.Errorf("获取任务失败: %w", err)
	}
	if !task.CanCancel() {
		return fmt.Errorf("任务状态为%s，不允许取消", task.Status)
	}

	e.updateTaskStatus(taskID, TaskStatusCancelled, "任务被用户取消")
	metrics.PipelineTasksTotal.WithLabelValues(string(TaskStatusCancelled)).Inc()
	e.notifyEvent(&PipelineEvent{
		TaskID:    taskID,
		EventType: meta.PipelineEventTypeCancel,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{},
	})
	return nil
}

// GetRunningTasks 获取运行中的任务列表
func (e *PipelineEngine) GetRunningTasks() map[string]*PipelineTaskContext {
	e.taskMutex.RLock()
	defer e.taskMutex.RUnlock()

	result := make(map[string]*PipelineTaskContext, len(e.runningTasks))
	for k, v := range e.runningTasks {
		result[k] = v
	}
	return result
}

// SetEventNotifier 设置事件通知器
func (e *PipelineEngine) SetEventNotifier(notifier func(event *PipelineEvent)) {
	e.eventNotifier = notifier
}

// updateTaskStatus 更新任务状态
func (e *PipelineEngine) updateTaskStatus(taskID string, status TaskStatus, errorMessage string) {
	updates := map[string]interface{}{
		"status":     string(status),
		"updated_at": time.Now(),
	}

	if errorMessage != "" {
		updates["error_message"] = errorMessage
	}

	if status == TaskStatusSuccess || status == TaskStatusFailed || status == TaskStatusCancelled {
		updates["end_time"] = time.Now()
	}

	e.db.Model(&models.PipelineTask{}).Where("id = ?", taskID).Updates(updates)
}

// notifyEvent 发送事件通知
func (e *PipelineEngine) notifyEvent(event *PipelineEvent) {
	if e.eventNotifier != nil {
		go e.eventNotifier(event)
	}
}

// Stop 停止流水线引擎
func (e *PipelineEngine) Stop() {
	e.cancel()

	// 等待所有任务完成或超时
	timeout := time.After(30 * time.Second)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			// 强制取消所有任务
			e.taskMutex.Lock()
			for _, taskCtx := range e.runningTasks {
				taskCtx.Cancel()
			}
			e.taskMutex.Unlock()
			return
		case <-ticker.C:
			e.taskMutex.RLock()
			count := len(e.runningTasks)
			e.taskMutex.RUnlock()

			if count == 0 {
				return
			}
		}
	}
}

// GetStatistics 获取流水线统计信息
func (e *PipelineEngine) GetStatistics() map[string]interface{} {
	e.taskMutex.RLock()
	runningCount := len(e.runningTasks)
	e.taskMutex.RUnlock()

	var stats struct {
		TotalTasks     int64
		SuccessTasks   int64
		FailedTasks    int64
		PendingTasks   int64
		CancelledTasks int64
	}

	e.db.Model(&models.PipelineTask{}).Count(&stats.TotalTasks)
	e.db.Model(&models.PipelineTask{}).Where("status = ?", string(TaskStatusSuccess)).Count(&stats.SuccessTasks)
	e.db.Model(&models.PipelineTask{}).Where("status = ?", string(TaskStatusFailed)).Count(&stats.FailedTasks)
	e.db.Model(&models.PipelineTask{}).Where("status = ?", string(TaskStatusPending)).Count(&stats.PendingTasks)
	e.db.Model(&models.PipelineTask{}).Where("status = ?", string(TaskStatusCancelled)).Count(&stats.CancelledTasks)

	return map[string]interface{}{
		"running_tasks":   runningCount,
		"total_tasks":     stats.TotalTasks,
		"success_tasks":   stats.SuccessTasks,
		"failed_tasks":    stats.FailedTasks,
		"pending_tasks":   stats.PendingTasks,
		"cancelled_tasks": stats.CancelledTasks,
		"queue_length":    len(e.taskQueue),
		"max_concurrent":  e.maxConcurrentTasks,
	}
}
