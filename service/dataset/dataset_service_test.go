/*
 * @module service/dataset/dataset_service_test
 * @description 数据集服务单元测试
 */

package dataset

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensorhub-service/service/models"
)

func newDatasetTestService(t *testing.T) (*DatasetService, *models.ModelTestDB) {
	t.Helper()

	tdb := models.NewModelTestDB()
	t.Cleanup(tdb.Close)

	return NewDatasetService(tdb.DB), tdb
}

func createExportTask(t *testing.T, tdb *models.ModelTestDB, config models.JSONB) *models.PipelineTask {
	t.Helper()

	task := &models.PipelineTask{
		TriggerType: "manual",
		Status:      "success",
		Config:      config,
		CreatedBy:   "test",
	}
	require.NoError(t, tdb.DB.Create(task).Error)
	return task
}

func TestGetCleanReadings(t *testing.T) {
	service, tdb := newDatasetTestService(t)

	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, tdb.DB.Create(&models.CleanReading{
			TaskID:           "task-a",
			SensorID:         "sensor_001",
			EventTime:        base.Add(time.Duration(i) * time.Minute),
			Temperature:      20 + float64(i),
			Humidity:         55,
			DataQualityScore: 1.0,
		}).Error)
	}
	// 其他任务的行不应出现在结果里
	require.NoError(t, tdb.DB.Create(&models.CleanReading{
		TaskID:           "task-b",
		SensorID:         "sensor_001",
		EventTime:        base,
		Temperature:      19,
		Humidity:         50,
		DataQualityScore: 0.8,
	}).Error)

	rows, total, err := service.GetCleanReadings("task-a", 1, 2)
	assert.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, rows, 2)
	assert.Equal(t, 20.0, rows[0].Temperature)
	assert.Equal(t, 21.0, rows[1].Temperature)

	rows, total, err = service.GetCleanReadings("task-a", 3, 2)
	assert.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, rows, 1)
	assert.Equal(t, 24.0, rows[0].Temperature)

	rows, total, err = service.GetCleanReadings("task-missing", 1, 50)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), total)
	assert.Empty(t, rows)
}

func TestGetWindowAggregates(t *testing.T) {
	service, tdb := newDatasetTestService(t)

	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	// 乱序写入，查询应按窗口起点排序
	for _, offset := range []int{10, 0, 5} {
		start := base.Add(time.Duration(offset) * time.Minute)
		end := start.Add(5 * time.Minute)
		require.NoError(t, tdb.DB.Create(&models.WindowAggregate{
			TaskID:         "task-a",
			WindowStart:    start,
			WindowEnd:      end,
			AvgTemperature: 20 + float64(offset),
			AvgHumidity:    60,
			RecordCount:    5,
			AvgDataQuality: 1.0,
		}).Error)
	}

	rows, total, err := service.GetWindowAggregates("task-a", 0, 0)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, rows, 3)
	assert.Equal(t, base, rows[0].WindowStart.UTC())
	assert.Equal(t, 20.0, rows[0].AvgTemperature)
	assert.Equal(t, 25.0, rows[1].AvgTemperature)
	assert.Equal(t, 30.0, rows[2].AvgTemperature)
}

func TestGetTrainingSamples(t *testing.T) {
	service, tdb := newDatasetTestService(t)

	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	for _, index := range []int{2, 0, 1} {
		require.NoError(t, tdb.DB.Create(&models.TrainingSample{
			TaskID:         "task-a",
			SampleIndex:    index,
			WindowStart:    base.Add(time.Duration(index) * 5 * time.Minute),
			TargetTemp:     25 + float64(index),
			AvgTemperature: 24,
			AvgHumidity:    60,
			RecordCount:    5,
			AvgDataQuality: 1.0,
		}).Error)
	}

	rows, total, err := service.GetTrainingSamples("task-a", 1, 50)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, rows, 3)
	for i, row := range rows {
		assert.Equal(t, i, row.SampleIndex)
	}
}

func TestResolveExportFile(t *testing.T) {
	service, tdb := newDatasetTestService(t)

	outputDir := t.TempDir()
	task := createExportTask(t, tdb, models.JSONB{"output_dir": outputDir})

	taskDir := filepath.Join(outputDir, task.ID)
	require.NoError(t, os.MkdirAll(taskDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(taskDir, "training.csv"), []byte("25.5,24.1,60.2,0.4,1.1,3.2,10,2,152,5,1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(taskDir, "cleaned_readings.csv"), []byte("sensor_id,event_time,temperature,humidity,data_quality_score\n"), 0o644))

	t.Run("training csv", func(t *testing.T) {
		file, err := service.ResolveExportFile(task.ID, "training.csv")
		assert.NoError(t, err)
		assert.Equal(t, filepath.Join(taskDir, "training.csv"), file.Path)
		assert.Equal(t, "training.csv", file.Name)
		assert.Equal(t, "text/csv", file.ContentType)
		assert.Greater(t, file.Size, int64(0))
	})

	t.Run("clean csv maps to audit file", func(t *testing.T) {
		file, err := service.ResolveExportFile(task.ID, "clean.csv")
		assert.NoError(t, err)
		assert.Equal(t, filepath.Join(taskDir, "cleaned_readings.csv"), file.Path)
		assert.Equal(t, "clean.csv", file.Name)
	})

	t.Run("missing export file", func(t *testing.T) {
		_, err := service.ResolveExportFile(task.ID, "analytics.csv")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "尚未生成")
	})

	t.Run("unsupported file name", func(t *testing.T) {
		_, err := service.ResolveExportFile(task.ID, "../../etc/passwd")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "不支持的数据集文件")
	})

	t.Run("unknown task", func(t *testing.T) {
		_, err := service.ResolveExportFile("no-such-task", "training.csv")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "任务不存在")
	})
}
