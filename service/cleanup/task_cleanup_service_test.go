/*
 * @module service/cleanup/task_cleanup_service_test
 * @description 任务清理服务单元测试
 */

package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensorhub-service/service/config"
	"sensorhub-service/service/models"
)

func newCleanupTestService(t *testing.T) (*TaskCleanupService, *models.ModelTestDB) {
	t.Helper()

	tdb := models.NewModelTestDB()
	t.Cleanup(tdb.Close)

	return NewTaskCleanupService(tdb.DB, config.NewConfigService(tdb.DB)), tdb
}

// createAgedTask 创建终态任务并把updated_at回拨到指定天数前
func createAgedTask(t *testing.T, tdb *models.ModelTestDB, status string, ageDays int) *models.PipelineTask {
	t.Helper()

	task := &models.PipelineTask{
		TriggerType: "manual",
		Status:      status,
		CreatedBy:   "test",
	}
	require.NoError(t, tdb.DB.Create(task).Error)

	aged := time.Now().AddDate(0, 0, -ageDays)
	require.NoError(t, tdb.DB.Model(&models.PipelineTask{}).Where("id = ?", task.ID).
		UpdateColumn("updated_at", aged).Error)
	return task
}

func attachChildRows(t *testing.T, tdb *models.ModelTestDB, taskID string) {
	t.Helper()

	eventTime := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	startTime := eventTime
	require.NoError(t, tdb.DB.Create(&models.PipelineStageRun{
		TaskID:    taskID,
		StageType: "cleanse",
		Status:    "success",
		StartTime: &startTime,
	}).Error)
	require.NoError(t, tdb.DB.Create(&models.CleanReading{
		TaskID:           taskID,
		SensorID:         "sensor_001",
		EventTime:        eventTime,
		Temperature:      21,
		Humidity:         60,
		DataQualityScore: 1,
	}).Error)
	require.NoError(t, tdb.DB.Create(&models.WindowAggregate{
		TaskID:         taskID,
		WindowStart:    eventTime,
		WindowEnd:      eventTime.Add(5 * time.Minute),
		AvgTemperature: 21,
		RecordCount:    1,
	}).Error)
	require.NoError(t, tdb.DB.Create(&models.TrainingSample{
		TaskID:      taskID,
		SampleIndex: 0,
		WindowStart: eventTime,
		TargetTemp:  21,
		RecordCount: 1,
	}).Error)
	require.NoError(t, tdb.DB.Create(&models.PipelineEventRecord{
		TaskID:    taskID,
		EventType: "complete",
		Data:      models.JSONB{"duration_ms": 10},
	}).Error)
}

func countRows(t *testing.T, tdb *models.ModelTestDB, model interface{}, taskID string) int64 {
	t.Helper()
	var count int64
	tdb.DB.Model(model).Where("task_id = ?", taskID).Count(&count)
	return count
}

func TestCleanupFinishedTasks(t *testing.T) {
	service, tdb := newCleanupTestService(t)

	oldSuccess := createAgedTask(t, tdb, "success", 40)
	oldFailed := createAgedTask(t, tdb, "failed", 35)
	recentSuccess := createAgedTask(t, tdb, "success", 5)
	oldRunning := createAgedTask(t, tdb, "running", 40)
	attachChildRows(t, tdb, oldSuccess.ID)
	attachChildRows(t, tdb, recentSuccess.ID)

	deleted, err := service.CleanupFinishedTasks(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	var remaining []models.PipelineTask
	require.NoError(t, tdb.DB.Find(&remaining).Error)
	require.Len(t, remaining, 2)
	remainingIDs := map[string]bool{}
	for _, task := range remaining {
		remainingIDs[task.ID] = true
	}
	assert.True(t, remainingIDs[recentSuccess.ID], "保留期内的任务应保留")
	assert.True(t, remainingIDs[oldRunning.ID], "非终态任务不参与清理")
	assert.False(t, remainingIDs[oldSuccess.ID])
	assert.False(t, remainingIDs[oldFailed.ID])

	// 被删任务的衍生行一并删除，保留任务的衍生行不受影响
	assert.Equal(t, int64(0), countRows(t, tdb, &models.PipelineStageRun{}, oldSuccess.ID))
	assert.Equal(t, int64(0), countRows(t, tdb, &models.CleanReading{}, oldSuccess.ID))
	assert.Equal(t, int64(0), countRows(t, tdb, &models.WindowAggregate{}, oldSuccess.ID))
	assert.Equal(t, int64(0), countRows(t, tdb, &models.TrainingSample{}, oldSuccess.ID))
	assert.Equal(t, int64(0), countRows(t, tdb, &models.PipelineEventRecord{}, oldSuccess.ID))
	assert.Equal(t, int64(1), countRows(t, tdb, &models.CleanReading{}, recentSuccess.ID))
	assert.Equal(t, int64(1), countRows(t, tdb, &models.PipelineEventRecord{}, recentSuccess.ID))
}

func TestCleanupFinishedTasks_NothingToDelete(t *testing.T) {
	service, tdb := newCleanupTestService(t)

	createAgedTask(t, tdb, "success", 5)

	deleted, err := service.CleanupFinishedTasks(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)

	var count int64
	tdb.DB.Model(&models.PipelineTask{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestCleanupExpiredTasks_UsesConfiguredRetention(t *testing.T) {
	service, tdb := newCleanupTestService(t)

	// 保留10天配置下，20天前的任务要删、5天前的要留
	require.NoError(t, service.configService.SetConfig(config.ConfigKeyTaskRetentionDays, "10", ""))
	aged := createAgedTask(t, tdb, "cancelled", 20)
	recent := createAgedTask(t, tdb, "success", 5)

	require.NoError(t, service.CleanupExpiredTasks(context.Background()))

	var remaining []models.PipelineTask
	require.NoError(t, tdb.DB.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, recent.ID, remaining[0].ID)

	var count int64
	tdb.DB.Model(&models.PipelineTask{}).Where("id = ?", aged.ID).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestCleanupFinishedTasks_CancelledContext(t *testing.T) {
	service, tdb := newCleanupTestService(t)

	createAgedTask(t, tdb, "success", 40)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := service.CleanupFinishedTasks(ctx, 30)
	assert.ErrorIs(t, err, context.Canceled)
}
