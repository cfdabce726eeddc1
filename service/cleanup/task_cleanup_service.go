/*
 * @module service/cleanup/task_cleanup_service
 * @description 任务清理服务，定期删除超过保留期的流水线任务及其衍生数据
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 定时触发 -> 读取保留天数配置 -> 删除过期任务与衍生行 -> 记录结果
 * @rules 只清理终态任务；衍生行先于任务行删除；删除操作幂等，多实例重复执行无害
 * @dependencies sensorhub-service/service/config, gorm.io/gorm, github.com/robfig/cron/v3
 * @refs service/config
 */

package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"sensorhub-service/service/config"
	"sensorhub-service/service/meta"
	"sensorhub-service/service/models"
)

// cleanupBatchSize 单次删除的任务ID上限，控制删除语句的参数规模
const cleanupBatchSize = 200

// TaskCleanupService 流水线任务清理服务
type TaskCleanupService struct {
	db            *gorm.DB
	configService *config.ConfigService
	cron          *cron.Cron
	ctx           context.Context
	cancel        context.CancelFunc
	started       bool
}

// NewTaskCleanupService 创建任务清理服务实例
func NewTaskCleanupService(db *gorm.DB, configService *config.ConfigService) *TaskCleanupService {
	ctx, cancel := context.WithCancel(context.Background())

	return &TaskCleanupService{
		db:            db,
		configService: configService,
		cron:          cron.New(cron.WithSeconds()),
		ctx:           ctx,
		cancel:        cancel,
		started:       false,
	}
}

// CleanupExpiredTasks 清理所有超过保留期的终态任务
func (s *TaskCleanupService) CleanupExpiredTasks(ctx context.Context) error {
	slog.Info("开始清理过期流水线任务")
	startTime := time.Now()

	retentionDays := s.configService.GetTaskRetentionDays()

	deleted, err := s.CleanupFinishedTasks(ctx, retentionDays)
	if err != nil {
		slog.Error("清理过期流水线任务失败", "error", err)
		return err
	}

	duration := time.Since(startTime)
	slog.Info("流水线任务清理完成",
		"deleted_tasks", deleted,
		"retention_days", retentionDays,
		"duration_ms", duration.Milliseconds())

	return nil
}

// CleanupFinishedTasks 删除保留期之前结束的终态任务及其衍生数据，返回删除的任务数。
// 衍生行(阶段记录、清洗读数、聚合结果、训练样本、事件记录)先删，任务行最后删，
// 中途失败不会留下无主任务
func (s *TaskCleanupService) CleanupFinishedTasks(ctx context.Context, retentionDays int) (int64, error) {
	cutoffDate := time.Now().AddDate(0, 0, -retentionDays)

	slog.Debug("清理过期流水线任务",
		"cutoff_date", cutoffDate.Format("2006-01-02 15:04:05"),
		"retention_days", retentionDays)

	var totalDeleted int64
	for {
		select {
		case <-ctx.Done():
			return totalDeleted, ctx.Err()
		default:
		}

		var taskIDs []string
		err := s.db.Model(&models.PipelineTask{}).
			Where("status IN ? AND updated_at < ?", meta.GetDeletableTaskStatuses(), cutoffDate).
			Limit(cleanupBatchSize).
			Pluck("id", &taskIDs).Error
		if err != nil {
			return totalDeleted, fmt.Errorf("查询过期任务失败: %w", err)
		}
		if len(taskIDs) == 0 {
			return totalDeleted, nil
		}

		deleted, err := s.deleteTasksWithChildren(taskIDs)
		if err != nil {
			return totalDeleted, err
		}
		totalDeleted += deleted
	}
}

// deleteTasksWithChildren 在事务内删除一批任务及其衍生行
func (s *TaskCleanupService) deleteTasksWithChildren(taskIDs []string) (int64, error) {
	var deletedTasks int64

	err := s.db.Transaction(func(tx *gorm.DB) error {
		children := []interface{}{
			&models.PipelineStageRun{},
			&models.CleanReading{},
			&models.WindowAggregate{},
			&models.TrainingSample{},
			&models.PipelineEventRecord{},
		}
		for _, model := range children {
			if err := tx.Where("task_id IN ?", taskIDs).Delete(model).Error; err != nil {
				return fmt.Errorf("删除任务衍生数据失败: %w", err)
			}
		}

		result := tx.Where("id IN ?", taskIDs).Delete(&models.PipelineTask{})
		if result.Error != nil {
			return fmt.Errorf("删除过期任务失败: %w", result.Error)
		}
		deletedTasks = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}

	return deletedTasks, nil
}

// StartScheduledCleanup 启动定时清理任务
func (s *TaskCleanupService) StartScheduledCleanup() error {
	if s.started {
		return fmt.Errorf("任务清理调度器已经启动")
	}

	slog.Info("启动任务清理调度器")

	// 每天凌晨2点执行清理
	// Cron表达式：秒 分 时 日 月 周
	_, err := s.cron.AddFunc("0 0 2 * * *", func() {
		slog.Info("开始执行定时任务清理")

		if err := s.CleanupExpiredTasks(s.ctx); err != nil {
			slog.Error("定时任务清理失败", "error", err)
		}
	})

	if err != nil {
		return fmt.Errorf("添加定时任务失败: %w", err)
	}

	s.cron.Start()
	s.started = true

	slog.Info("任务清理调度器启动成功，将于每天凌晨2点执行清理")

	// 启动时立即执行一次，避免长期停机后过期数据堆积到下一个凌晨
	go func() {
		if err := s.CleanupExpiredTasks(s.ctx); err != nil {
			slog.Error("首次任务清理失败", "error", err)
		}
	}()

	return nil
}

// StopScheduledCleanup 停止定时清理任务
func (s *TaskCleanupService) StopScheduledCleanup() {
	if !s.started {
		return
	}

	slog.Info("停止任务清理调度器")

	s.cancel()

	if s.cron != nil {
		s.cron.Stop()
	}

	s.started = false

	slog.Info("任务清理调度器已停止")
}
