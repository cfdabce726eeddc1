/*
 * @module service/pipeline/processors_test
 * @description 三个阶段处理器的数据库级测试：加载、处理、覆盖写入与参数校验
 * @architecture 测试层 - 处理器与sqlite内存库的集成验证
 * @documentReference .specify/memory/test_plan.md
 * @stateFlow 种子数据 -> 处理器执行 -> 数据库与文件断言
 * @rules 覆盖重跑不得累积旧结果；训练CSV无表头且标签列在首位
 * @dependencies testing, testify, gorm
 * @refs cleanse_processor.go, aggregate_processor.go, export_processor.go
 */

package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sensorhub-service/service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

// StageProcessorTestSuite 阶段处理器测试套件
type StageProcessorTestSuite struct {
	suite.Suite
	testDB  *models.ModelTestDB
	factory *models.ModelTestDataFactory
}

// SetupSuite 设置测试套件
func (suite *StageProcessorTestSuite) SetupSuite() {
	suite.testDB = models.NewModelTestDB()
	suite.factory = models.NewModelTestDataFactory(suite.testDB.DB)

	// 内存sqlite每个连接是一个独立数据库，限制为单连接避免查询落到空库
	sqlDB, err := suite.testDB.DB.DB()
	suite.Require().NoError(err)
	sqlDB.SetMaxOpenConns(1)
}

// TearDownSuite 清理测试套件
func (suite *StageProcessorTestSuite) TearDownSuite() {
	suite.testDB.Close()
}

// SetupTest 设置每个测试
func (suite *StageProcessorTestSuite) SetupTest() {
	suite.testDB.CleanDB()
}

// createTask 创建指定配置的待执行任务
func (suite *StageProcessorTestSuite) createTask(config models.JSONB) *models.PipelineTask {
	task := &models.PipelineTask{
		TriggerType: "manual",
		Status:      "pending",
		Config:      config,
		CreatedBy:   "test",
	}
	suite.Require().NoError(suite.testDB.DB.Create(task).Error)
	return task
}

func (suite *StageProcessorTestSuite) TestCleanseProcessorProcess() {
	task := suite.createTask(models.JSONB{})
	suite.factory.CreateSensorReading("sensor-001", "2024-06-01 10:00:00", f64(20), f64(50))
	suite.factory.CreateSensorReading("sensor-001", "2024-06-01 10:02:00", f64(22), f64(52))
	suite.factory.CreateSensorReading("sensor-001", "2024-06-01 10:07:00", f64(30), f64(60))
	suite.factory.CreateSensorReading("sensor-001", "not-a-timestamp", f64(25), f64(55))

	processor := NewCleanseProcessor(suite.testDB.DB)
	progress := &StageProgress{}
	result, err := processor.Process(context.Background(), task, progress)

	suite.Require().NoError(err)
	assert.Equal(suite.T(), int64(4), result.RowsIn)
	assert.Equal(suite.T(), int64(3), result.RowsOut)
	assert.Equal(suite.T(), int64(1), result.RowsDropped)
	assert.Equal(suite.T(), float64(1), result.Statistics["dropped_bad_timestamp"])

	var rows []models.CleanReading
	suite.Require().NoError(suite.testDB.DB.Where("task_id = ?", task.ID).Order("event_time ASC").Find(&rows).Error)
	suite.Require().Len(rows, 3)
	assert.Equal(suite.T(), 20.0, rows[0].Temperature)
	assert.Equal(suite.T(), 30.0, rows[2].Temperature)
	for _, row := range rows {
		assert.Equal(suite.T(), task.ID, row.TaskID)
		assert.Equal(suite.T(), 1.0, row.DataQualityScore)
	}
}

func (suite *StageProcessorTestSuite) TestCleanseProcessorOverwritesOnRerun() {
	task := suite.createTask(models.JSONB{})
	suite.factory.CreateSensorReading("sensor-001", "2024-06-01 10:00:00", f64(20), f64(50))
	suite.factory.CreateSensorReading("sensor-001", "2024-06-01 10:01:00", f64(21), f64(51))

	processor := NewCleanseProcessor(suite.testDB.DB)
	_, err := processor.Process(context.Background(), task, &StageProgress{})
	suite.Require().NoError(err)
	_, err = processor.Process(context.Background(), task, &StageProgress{})
	suite.Require().NoError(err)

	var count int64
	suite.testDB.DB.Model(&models.CleanReading{}).Where("task_id = ?", task.ID).Count(&count)
	assert.Equal(suite.T(), int64(2), count, "重跑应覆盖而非累积")
}

func (suite *StageProcessorTestSuite) TestCleanseProcessorTimeFilterKeepsBadTimestampRows() {
	task := suite.createTask(models.JSONB{
		"start_time": "2024-06-01 10:00:00",
		"end_time":   "2024-06-01 11:00:00",
	})

	inWindow := time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC)
	outOfWindow := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	suite.Require().NoError(suite.testDB.DB.Create(&models.SensorReading{
		SensorID: "sensor-001", RecordedAt: "2024-06-01 10:30:00", EventTime: &inWindow,
		Temperature: f64(22), Humidity: f64(55),
	}).Error)
	suite.Require().NoError(suite.testDB.DB.Create(&models.SensorReading{
		SensorID: "sensor-001", RecordedAt: "2024-06-01 09:00:00", EventTime: &outOfWindow,
		Temperature: f64(21), Humidity: f64(50),
	}).Error)
	// 入库时解析失败的行event_time为NULL，时间过滤不得剔除
	suite.Require().NoError(suite.testDB.DB.Create(&models.SensorReading{
		SensorID: "sensor-001", RecordedAt: "garbage",
		Temperature: f64(23), Humidity: f64(56),
	}).Error)

	processor := NewCleanseProcessor(suite.testDB.DB)
	result, err := processor.Process(context.Background(), task, &StageProgress{})

	suite.Require().NoError(err)
	assert.Equal(suite.T(), int64(2), result.RowsIn, "窗口外的行不进入批次，坏时间戳行必须进入")
	assert.Equal(suite.T(), float64(1), result.Statistics["dropped_bad_timestamp"])
	assert.Equal(suite.T(), int64(1), result.RowsOut)
}

func (suite *StageProcessorTestSuite) TestCleanseProcessorValidate() {
	processor := NewCleanseProcessor(suite.testDB.DB)

	valid := suite.createTask(models.JSONB{"start_time": "2024-06-01 10:00:00", "end_time": "2024-06-02 10:00:00"})
	assert.NoError(suite.T(), processor.Validate(valid))

	badFormat := suite.createTask(models.JSONB{"start_time": "06/35/2024"})
	assert.Error(suite.T(), processor.Validate(badFormat))

	inverted := suite.createTask(models.JSONB{"start_time": "2024-06-02 10:00:00", "end_time": "2024-06-01 10:00:00"})
	assert.Error(suite.T(), processor.Validate(inverted))
}

func (suite *StageProcessorTestSuite) TestAggregateProcessorProcess() {
	task := suite.createTask(models.JSONB{})
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	seed := []models.CleanReading{
		{TaskID: task.ID, SensorID: "sensor-001", EventTime: base, Temperature: 20, Humidity: 50, DataQualityScore: 1.0},
		{TaskID: task.ID, SensorID: "sensor-001", EventTime: base.Add(2 * time.Minute), Temperature: 22, Humidity: 52, DataQualityScore: 1.0},
		{TaskID: task.ID, SensorID: "sensor-001", EventTime: base.Add(7 * time.Minute), Temperature: 30, Humidity: 60, DataQualityScore: 1.0},
	}
	suite.Require().NoError(suite.testDB.DB.Create(&seed).Error)

	processor := NewAggregateProcessor(suite.testDB.DB)
	result, err := processor.Process(context.Background(), task, &StageProgress{})

	suite.Require().NoError(err)
	assert.Equal(suite.T(), int64(3), result.RowsIn)
	assert.Equal(suite.T(), int64(2), result.RowsOut)
	assert.Equal(suite.T(), 2, result.Statistics["window_count"])
	assert.Equal(suite.T(), 1, result.Statistics["training_samples"])

	var aggregates []models.WindowAggregate
	suite.Require().NoError(suite.testDB.DB.Where("task_id = ?", task.ID).Order("window_start ASC").Find(&aggregates).Error)
	suite.Require().Len(aggregates, 2)
	assert.Equal(suite.T(), 21.0, aggregates[0].AvgTemperature)
	assert.Equal(suite.T(), 30.0, aggregates[1].AvgTemperature)

	var samples []models.TrainingSample
	suite.Require().NoError(suite.testDB.DB.Where("task_id = ?", task.ID).Find(&samples).Error)
	suite.Require().Len(samples, 1)
	assert.Equal(suite.T(), 30.0, samples[0].TargetTemp)
	assert.Equal(suite.T(), 0, samples[0].SampleIndex)
}

func (suite *StageProcessorTestSuite) TestAggregateProcessorEmptyInputIsNotError() {
	task := suite.createTask(models.JSONB{})

	processor := NewAggregateProcessor(suite.testDB.DB)
	result, err := processor.Process(context.Background(), task, &StageProgress{})

	suite.Require().NoError(err)
	assert.Equal(suite.T(), int64(0), result.RowsIn)
	assert.Equal(suite.T(), int64(0), result.RowsOut)
}

func (suite *StageProcessorTestSuite) TestAggregateProcessorOverwritesOnRerun() {
	task := suite.createTask(models.JSONB{})
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	seed := []models.CleanReading{
		{TaskID: task.ID, SensorID: "sensor-001", EventTime: base, Temperature: 20, Humidity: 50, DataQualityScore: 1.0},
		{TaskID: task.ID, SensorID: "sensor-001", EventTime: base.Add(6 * time.Minute), Temperature: 24, Humidity: 55, DataQualityScore: 1.0},
	}
	suite.Require().NoError(suite.testDB.DB.Create(&seed).Error)

	processor := NewAggregateProcessor(suite.testDB.DB)
	_, err := processor.Process(context.Background(), task, &StageProgress{})
	suite.Require().NoError(err)
	_, err = processor.Process(context.Background(), task, &StageProgress{})
	suite.Require().NoError(err)

	var aggregateCount, sampleCount int64
	suite.testDB.DB.Model(&models.WindowAggregate{}).Where("task_id = ?", task.ID).Count(&aggregateCount)
	suite.testDB.DB.Model(&models.TrainingSample{}).Where("task_id = ?", task.ID).Count(&sampleCount)
	assert.Equal(suite.T(), int64(2), aggregateCount)
	assert.Equal(suite.T(), int64(1), sampleCount)
}

// seedTrainingData 为导出测试准备5个窗口和4个训练样本
func (suite *StageProcessorTestSuite) seedTrainingData(task *models.PipelineTask) {
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	ratio := 0.4118
	for i := 0; i < 5; i++ {
		windowStart := base.Add(time.Duration(i) * 5 * time.Minute)
		aggregate := models.WindowAggregate{
			TaskID: task.ID, WindowStart: windowStart, WindowEnd: windowStart.Add(5 * time.Minute),
			AvgTemperature: 20 + float64(i), AvgHumidity: 50, MinTemperature: 19 + float64(i),
			MaxTemperature: 21 + float64(i), MinHumidity: 49, MaxHumidity: 51,
			RecordCount: 3, AvgDataQuality: 1.0, TempHumidityRatio: &ratio,
			TempRange: 2, HumidityRange: 2, HourOfDay: 10, DayOfWeek: 7, DayOfYear: 153,
		}
		suite.Require().NoError(suite.testDB.DB.Create(&aggregate).Error)
	}
	for i := 0; i < 4; i++ {
		var ratioPtr *float64
		if i != 2 { // 第3个样本温湿比为空，导出应为空单元格
			v := ratio
			ratioPtr = &v
		}
		sample := models.TrainingSample{
			TaskID: task.ID, SampleIndex: i, WindowStart: base.Add(time.Duration(i) * 5 * time.Minute),
			TargetTemp: 21 + float64(i), AvgTemperature: 20 + float64(i), AvgHumidity: 50,
			MinTemperature: 19 + float64(i), MaxTemperature: 21 + float64(i), MinHumidity: 49, MaxHumidity: 51,
			RecordCount: 3, AvgDataQuality: 1.0, TempHumidityRatio: ratioPtr,
			TempRange: 2, HumidityRange: 2, HourOfDay: 10, DayOfWeek: 7, DayOfYear: 153,
		}
		suite.Require().NoError(suite.testDB.DB.Create(&sample).Error)
	}
}

func (suite *StageProcessorTestSuite) TestExportProcessorProcess() {
	outputDir := suite.T().TempDir()
	task := suite.createTask(models.JSONB{"output_dir": outputDir})
	suite.seedTrainingData(task)

	processor := NewExportProcessor(suite.testDB.DB)
	result, err := processor.Process(context.Background(), task, &StageProgress{})
	suite.Require().NoError(err)

	taskDir := filepath.Join(outputDir, task.ID)
	for _, name := range []string{
		ExportFileTraining, ExportFileTrainPart, ExportFileValidPart,
		ExportFileCleaned, ExportFileAnalytics, ExportFileManifest,
	} {
		_, statErr := os.Stat(filepath.Join(taskDir, name))
		assert.NoError(suite.T(), statErr, "导出文件%s应存在", name)
	}

	assert.Equal(suite.T(), taskDir, result.Statistics["output_dir"])
	assert.Equal(suite.T(), 4, result.Statistics["training_rows"])
	assert.Equal(suite.T(), 3, result.Statistics["train_rows"], "4个样本按0.8切分训练集取3")
	assert.Equal(suite.T(), 1, result.Statistics["validation_rows"])

	// 训练CSV无表头，标签列在首位，第3行温湿比为空单元格
	data, err := os.ReadFile(filepath.Join(taskDir, ExportFileTraining))
	suite.Require().NoError(err)
	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	suite.Require().NoError(err)
	suite.Require().Len(records, 4)
	assert.Equal(suite.T(), "21", records[0][0])
	assert.Equal(suite.T(), "20", records[0][1])
	assert.Equal(suite.T(), "0.4118", records[0][3])
	assert.Equal(suite.T(), "", records[2][3], "空温湿比应导出为空单元格")
	assert.Len(suite.T(), records[0], 11, "标签列加10个特征列")

	// 审计CSV带表头
	analyticsData, err := os.ReadFile(filepath.Join(taskDir, ExportFileAnalytics))
	suite.Require().NoError(err)
	auditRecords, err := csv.NewReader(strings.NewReader(string(analyticsData))).ReadAll()
	suite.Require().NoError(err)
	suite.Require().Len(auditRecords, 6, "表头加5个窗口")
	assert.Equal(suite.T(), "window_start", auditRecords[0][0])

	// manifest包含列定义、行数与超参数
	manifestData, err := os.ReadFile(filepath.Join(taskDir, ExportFileManifest))
	suite.Require().NoError(err)
	var manifest map[string]interface{}
	suite.Require().NoError(json.Unmarshal(manifestData, &manifest))
	assert.Equal(suite.T(), "target_temp", manifest["label_column"])

	rowCounts, ok := manifest["row_counts"].(map[string]interface{})
	suite.Require().True(ok)
	assert.Equal(suite.T(), float64(4), rowCounts["training"])
	assert.Equal(suite.T(), float64(3), rowCounts["train"])
	assert.Equal(suite.T(), float64(1), rowCounts["validation"])

	hyper, ok := manifest["hyperparameters"].(map[string]interface{})
	suite.Require().True(ok)
	assert.Equal(suite.T(), "reg:squarederror", hyper["objective"])
	assert.Equal(suite.T(), float64(6), hyper["max_depth"])
	assert.Equal(suite.T(), float64(100), hyper["num_round"])
}

func (suite *StageProcessorTestSuite) TestExportProcessorTrainRatioConfig() {
	outputDir := suite.T().TempDir()
	task := suite.createTask(models.JSONB{"output_dir": outputDir, "train_ratio": 0.5})
	suite.seedTrainingData(task)

	processor := NewExportProcessor(suite.testDB.DB)
	result, err := processor.Process(context.Background(), task, &StageProgress{})
	suite.Require().NoError(err)

	assert.Equal(suite.T(), 2, result.Statistics["train_rows"])
	assert.Equal(suite.T(), 2, result.Statistics["validation_rows"])
}

func (suite *StageProcessorTestSuite) TestExportProcessorValidate() {
	processor := NewExportProcessor(suite.testDB.DB)

	valid := suite.createTask(models.JSONB{"train_ratio": 0.7})
	assert.NoError(suite.T(), processor.Validate(valid))

	invalid := suite.createTask(models.JSONB{"train_ratio": 1.5})
	assert.Error(suite.T(), processor.Validate(invalid))
}

func (suite *StageProcessorTestSuite) TestStageTypes() {
	assert.Equal(suite.T(), "cleanse", NewCleanseProcessor(suite.testDB.DB).GetStageType())
	assert.Equal(suite.T(), "aggregate", NewAggregateProcessor(suite.testDB.DB).GetStageType())
	assert.Equal(suite.T(), "export", NewExportProcessor(suite.testDB.DB).GetStageType())
}

func TestStageProcessorSuite(t *testing.T) {
	suite.Run(t, new(StageProcessorTestSuite))
}
