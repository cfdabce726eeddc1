/*
 * @module service/scheduler/scheduler_service
 * @description 流水线调度器：按cron/interval/once配置触发流水线任务
 * @architecture 基于Go协程和定时器的调度器模式
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 加载调度配置 -> cron/定时器/间隔检查触发 -> 分布式锁内提交流水线任务 -> 回写调度统计
 * @rules
 *   - 同一调度已有待执行或运行中的任务时跳过本次触发
 *   - 触发动作在Redis分布式锁内执行，多实例部署只有一个实例提交
 *   - once类型提交成功后自动停用，避免重启后误触发
 * @dependencies github.com/robfig/cron/v3, sensorhub-service/service/pipeline, sensorhub-service/service/distributed_lock
 * @refs service/models/pipeline_schedule.go, service/pipeline/pipeline_engine.go
 */

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"sensorhub-service/service/distributed_lock"
	"sensorhub-service/service/meta"
	"sensorhub-service/service/models"
	"sensorhub-service/service/pipeline"
)

// 调度触发锁的键前缀与持有时长。锁只覆盖提交动作本身，任务执行不占锁
const (
	scheduleLockPrefix = "sensorhub:schedule_fire:"
	scheduleLockTTL    = 30 * time.Second
)

// 调度统计里的提交状态
const (
	lastStatusSubmitted    = "submitted"
	lastStatusSubmitFailed = "submit_failed"
	lastStatusSkipped      = "skipped"
)

// SchedulerService 流水线调度器服务
type SchedulerService struct {
	db           *gorm.DB
	engine       *pipeline.PipelineEngine
	lockExecutor *distributed_lock.LockExecutor

	cron        *cron.Cron
	cronEntries map[string]cron.EntryID
	entryMutex  sync.Mutex

	intervalTicker *time.Ticker
	ctx            context.Context
	cancel         context.CancelFunc
}

// NewSchedulerService 创建调度器服务。lockExecutor为nil时退化为单实例模式
func NewSchedulerService(db *gorm.DB, engine *pipeline.PipelineEngine, lockExecutor *distributed_lock.LockExecutor) *SchedulerService {
	ctx, cancel := context.WithCancel(context.Background())

	return &SchedulerService{
		db:           db,
		engine:       engine,
		lockExecutor: lockExecutor,
		cron:         cron.New(cron.WithSeconds()),
		cronEntries:  make(map[string]cron.EntryID),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start 启动调度器
func (s *SchedulerService) Start() error {
	slog.Info("启动流水线调度器")

	s.cron.Start()

	// 间隔调度由每分钟一次的检查器驱动
	s.intervalTicker = time.NewTicker(1 * time.Minute)
	go s.runIntervalChecker()

	if err := s.loadSchedules(); err != nil {
		slog.Error("加载调度配置失败", "error", err)
		return err
	}

	slog.Info("流水线调度器启动完成")
	return nil
}

// Stop 停止调度器
func (s *SchedulerService) Stop() {
	slog.Info("停止流水线调度器")

	s.cancel()

	if s.cron != nil {
		s.cron.Stop()
	}

	if s.intervalTicker != nil {
		s.intervalTicker.Stop()
	}

	slog.Info("流水线调度器已停止")
}

// loadSchedules 加载启用状态的调度配置
func (s *SchedulerService) loadSchedules() error {
	var schedules []models.PipelineSchedule
	if err := s.db.Where("enabled = ?", true).Find(&schedules).Error; err != nil {
		return fmt.Errorf("查询调度配置失败: %w", err)
	}

	for i := range schedules {
		if err := s.registerSchedule(&schedules[i]); err != nil {
			slog.Error("注册调度失败", "schedule_id", schedules[i].ID, "error", err)
		}
	}

	slog.Info("调度配置加载完成", "count", len(schedules))
	return nil
}

// registerSchedule 把一条调度配置挂入对应的触发机制
func (s *SchedulerService) registerSchedule(schedule *models.PipelineSchedule) error {
	switch schedule.ScheduleType {
	case meta.PipelineScheduleTypeCron:
		if schedule.CronExpression == "" {
			return fmt.Errorf("cron调度缺少表达式")
		}

		scheduleID := schedule.ID
		entryID, err := s.cron.AddFunc(schedule.CronExpression, func() {
			s.fireSchedule(scheduleID)
		})
		if err != nil {
			return fmt.Errorf("注册cron调度失败: %w", err)
		}

		s.entryMutex.Lock()
		s.cronEntries[scheduleID] = entryID
		s.entryMutex.Unlock()

		slog.Info("注册cron调度", "schedule_id", scheduleID, "cron", schedule.CronExpression)

	case meta.PipelineScheduleTypeOnce:
		if schedule.StartTime == nil || !schedule.StartTime.After(time.Now()) {
			slog.Info("忽略已过期的once调度", "schedule_id", schedule.ID)
			return nil
		}

		scheduleID := schedule.ID
		startTime := *schedule.StartTime
		go func() {
			timer := time.NewTimer(time.Until(startTime))
			defer timer.Stop()

			select {
			case <-timer.C:
				s.fireSchedule(scheduleID)
			case <-s.ctx.Done():
			}
		}()

		slog.Info("注册once调度", "schedule_id", scheduleID, "start_time", startTime.Format("2006-01-02 15:04:05"))

	case meta.PipelineScheduleTypeInterval:
		if schedule.IntervalSeconds <= 0 {
			return fmt.Errorf("interval调度的间隔必须大于0")
		}
		// 间隔调度由intervalChecker按LastRunTime判断触发
		slog.Info("注册interval调度", "schedule_id", schedule.ID, "interval_seconds", schedule.IntervalSeconds)

	default:
		return fmt.Errorf("无效的调度类型: %s", schedule.ScheduleType)
	}

	return nil
}

// runIntervalChecker 间隔调度检查循环
func (s *SchedulerService) runIntervalChecker() {
	for {
		select {
		case <-s.intervalTicker.C:
			s.checkIntervalSchedules()
		case <-s.ctx.Done():
			return
		}
	}
}

// checkIntervalSchedules 检查到期的间隔调度
func (s *SchedulerService) checkIntervalSchedules() {
	var schedules []models.PipelineSchedule
	err := s.db.Where("enabled = ? AND schedule_type = ?", true, meta.PipelineScheduleTypeInterval).
		Find(&schedules).Error
	if err != nil {
		slog.Error("查询间隔调度失败", "error", err)
		return
	}

	now := time.Now()
	for i := range schedules {
		if schedules[i].ShouldRunAt(now) {
			go s.fireSchedule(schedules[i].ID)
		}
	}
}

// fireSchedule 触发一次调度。多实例部署时提交动作在分布式锁内执行
func (s *SchedulerService) fireSchedule(scheduleID string) {
	fire := func() error {
		return s.submitScheduledTask(scheduleID)
	}

	var err error
	if s.lockExecutor != nil {
		err = s.lockExecutor.ExecuteWithLock(s.ctx, scheduleLockPrefix+scheduleID, scheduleLockTTL, fire)
	} else {
		err = fire()
	}

	if err != nil {
		slog.Error("调度触发失败", "schedule_id", scheduleID, "error", err)
	}
}

// submitScheduledTask 校验调度状态并提交流水线任务
func (s *SchedulerService) submitScheduledTask(scheduleID string) error {
	var schedule models.PipelineSchedule
	if err := s.db.First(&schedule, "id = ?", scheduleID).Error; err != nil {
		return fmt.Errorf("查询调度配置失败: %w", err)
	}

	if !schedule.Enabled {
		slog.Info("调度已停用，跳过触发", "schedule_id", scheduleID)
		return nil
	}

	// 同一调度已有未完成任务时跳过，避免任务堆积
	var activeCount int64
	err := s.db.Model(&models.PipelineTask{}).
		Where("schedule_id = ? AND status IN ?", scheduleID,
			[]string{meta.PipelineTaskStatusPending, meta.PipelineTaskStatusRunning}).
		Count(&activeCount).Error
	if err != nil {
		return fmt.Errorf("查询调度任务状态失败: %w", err)
	}
	if activeCount > 0 {
		slog.Info("调度已有未完成任务，跳过本次触发", "schedule_id", scheduleID, "active_count", activeCount)
		s.db.Model(&models.PipelineSchedule{}).Where("id = ?", scheduleID).
			Update("last_status", lastStatusSkipped)
		return nil
	}

	config := make(map[string]interface{}, len(schedule.PipelineConfig)+1)
	for key, value := range schedule.PipelineConfig {
		config[key] = value
	}
	if schedule.TimeoutSeconds > 0 {
		config["timeout_sec"] = schedule.TimeoutSeconds
	}

	request := &pipeline.PipelineTaskRequest{
		ScheduleID:  &schedule.ID,
		TriggerType: schedule.ScheduleType,
		Config:      config,
		ScheduledBy: "scheduler",
		Callback:    s.recordScheduleResult(schedule.ID),
	}

	now := time.Now()
	task, err := s.engine.SubmitPipelineTask(request)
	if err != nil {
		s.db.Model(&models.PipelineSchedule{}).Where("id = ?", scheduleID).Updates(map[string]interface{}{
			"last_run_time":   now,
			"last_status":     lastStatusSubmitFailed,
			"execution_count": gorm.Expr("execution_count + 1"),
			"failure_count":   gorm.Expr("failure_count + 1"),
			"updated_at":      now,
		})
		return fmt.Errorf("提交调度任务失败: %w", err)
	}

	updates := map[string]interface{}{
		"last_run_time":   now,
		"last_status":     lastStatusSubmitted,
		"execution_count": gorm.Expr("execution_count + 1"),
		"updated_at":      now,
	}
	// once调度提交成功后停用，重启后不再触发
	if schedule.ScheduleType == meta.PipelineScheduleTypeOnce {
		updates["enabled"] = false
	}
	s.db.Model(&models.PipelineSchedule{}).Where("id = ?", scheduleID).Updates(updates)

	slog.Info("调度任务已提交", "schedule_id", scheduleID, "task_id", task.ID)
	return nil
}

// recordScheduleResult 任务终态回调，维护调度的成败计数
func (s *SchedulerService) recordScheduleResult(scheduleID string) func(*pipeline.PipelineResult) {
	return func(result *pipeline.PipelineResult) {
		updates := map[string]interface{}{
			"last_status": string(result.Status),
			"updated_at":  time.Now(),
		}
		if result.Status == pipeline.TaskStatusSuccess {
			updates["success_count"] = gorm.Expr("success_count + 1")
		} else {
			updates["failure_count"] = gorm.Expr("failure_count + 1")
		}

		if err := s.db.Model(&models.PipelineSchedule{}).Where("id = ?", scheduleID).Updates(updates).Error; err != nil {
			slog.Error("更新调度统计失败", "schedule_id", scheduleID, "error", err)
		}
	}
}

// AddSchedule 把新建的调度配置挂入调度器
func (s *SchedulerService) AddSchedule(schedule *models.PipelineSchedule) error {
	if !schedule.Enabled {
		return nil
	}
	return s.registerSchedule(schedule)
}

// RemoveSchedule 把调度配置从调度器摘除。
// once与interval类型在触发时重查数据库状态，停用后自然不再执行
func (s *SchedulerService) RemoveSchedule(scheduleID string) {
	s.entryMutex.Lock()
	defer s.entryMutex.Unlock()

	if entryID, exists := s.cronEntries[scheduleID]; exists {
		s.cron.Remove(entryID)
		delete(s.cronEntries, scheduleID)
		slog.Info("移除cron调度", "schedule_id", scheduleID)
	}
}

// ReloadSchedules 重建cron调度并重新加载全部配置
func (s *SchedulerService) ReloadSchedules() error {
	s.entryMutex.Lock()
	for scheduleID, entryID := range s.cronEntries {
		s.cron.Remove(entryID)
		delete(s.cronEntries, scheduleID)
	}
	s.entryMutex.Unlock()

	return s.loadSchedules()
}
