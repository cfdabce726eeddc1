/*
 * @module testutil/test_helper
 * @description 测试基础设施：内存数据库、领域数据工厂与HTTP断言工具
 * @architecture 测试基础设施 - 提供测试通用工具和数据工厂
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 测试环境初始化 -> 测试数据创建 -> 测试执行 -> 清理资源
 * @rules 工厂默认值可通过选项函数覆盖；CleanDB与迁移使用同一份模型列表
 * @dependencies gorm.io/gorm, gorm.io/driver/sqlite, github.com/stretchr/testify, github.com/google/uuid
 * @refs service/models
 */

package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sensorhub-service/service/meta"
	"sensorhub-service/service/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// migratedModels 测试库迁移的全部模型，CleanDB按同一列表清空
var migratedModels = []interface{}{
	&models.SensorReading{},
	&models.CleanReading{},
	&models.WindowAggregate{},
	&models.TrainingSample{},
	&models.PipelineTask{},
	&models.PipelineStageRun{},
	&models.PipelineSchedule{},
	&models.PipelineEventRecord{},
	&models.DataSource{},
	&models.ApiKey{},
	&models.SystemConfig{},
}

// TestDB 内存SQLite测试数据库
type TestDB struct {
	DB *gorm.DB
}

// NewTestDB 创建并迁移内存测试数据库
func NewTestDB() *TestDB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(fmt.Sprintf("打开内存测试数据库失败: %v", err))
	}

	if err := db.AutoMigrate(migratedModels...); err != nil {
		panic(fmt.Sprintf("迁移测试数据库失败: %v", err))
	}

	return &TestDB{DB: db}
}

// CleanDB 清空全部表数据，保留表结构
func (tdb *TestDB) CleanDB() {
	session := tdb.DB.Session(&gorm.Session{AllowGlobalUpdate: true})
	for _, model := range migratedModels {
		session.Delete(model)
	}
}

// Close 关闭底层连接
func (tdb *TestDB) Close() {
	if sqlDB, err := tdb.DB.DB(); err == nil {
		sqlDB.Close()
	}
}

// TestDataFactory 领域模型数据工厂，默认值贴近真实的温湿度上报数据
type TestDataFactory struct {
	DB *gorm.DB
}

// NewTestDataFactory 创建测试数据工厂
func NewTestDataFactory(db *gorm.DB) *TestDataFactory {
	return &TestDataFactory{DB: db}
}

// mustCreate 入库失败直接panic，测试数据缺失时没有继续执行的意义
func (f *TestDataFactory) mustCreate(record interface{}) {
	if err := f.DB.Create(record).Error; err != nil {
		panic(fmt.Sprintf("创建测试数据失败: %v", err))
	}
}

// 选项函数类型，覆盖各工厂的默认字段
type (
	SensorReadingOption    func(*models.SensorReading)
	CleanReadingOption     func(*models.CleanReading)
	PipelineTaskOption     func(*models.PipelineTask)
	PipelineStageRunOption func(*models.PipelineStageRun)
	PipelineScheduleOption func(*models.PipelineSchedule)
	DataSourceOption       func(*models.DataSource)
	ApiKeyOption           func(*models.ApiKey)
)

// CreateSensorReading 创建原始读数，默认是一条字段齐全的合法上报
func (f *TestDataFactory) CreateSensorReading(opts ...SensorReadingOption) *models.SensorReading {
	temperature := 25.3
	humidity := 62.1
	eventTime := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	reading := &models.SensorReading{
		ID:          testID("rd"),
		SensorID:    "sensor_001",
		RecordedAt:  "2024-01-01 10:00:00",
		EventTime:   &eventTime,
		Temperature: &temperature,
		Humidity:    &humidity,
		SourceType:  meta.DataSourceTypeHTTPPush,
		CreatedAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(reading)
	}

	f.mustCreate(reading)
	return reading
}

// CreateCleanReading 创建清洗后读数
func (f *TestDataFactory) CreateCleanReading(taskID string, opts ...CleanReadingOption) *models.CleanReading {
	reading := &models.CleanReading{
		ID:               testID("cr"),
		TaskID:           taskID,
		SensorID:         "sensor_001",
		EventTime:        time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		Temperature:      25.3,
		Humidity:         62.1,
		DataQualityScore: 1.0,
		CreatedAt:        time.Now(),
	}
	for _, opt := range opts {
		opt(reading)
	}

	f.mustCreate(reading)
	return reading
}

// CreatePipelineTask 创建流水线任务，默认为手动触发的待执行任务
func (f *TestDataFactory) CreatePipelineTask(opts ...PipelineTaskOption) *models.PipelineTask {
	task := &models.PipelineTask{
		ID:          testID("pt"),
		TriggerType: meta.PipelineScheduleTypeManual,
		Status:      meta.PipelineTaskStatusPending,
		Config:      models.JSONB{},
		CreatedBy:   "test",
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(task)
	}

	f.mustCreate(task)
	return task
}

// CreatePipelineStageRun 创建阶段执行记录，默认为已成功的清洗阶段
func (f *TestDataFactory) CreatePipelineStageRun(taskID string, opts ...PipelineStageRunOption) *models.PipelineStageRun {
	now := time.Now()
	stageRun := &models.PipelineStageRun{
		ID:        testID("sr"),
		TaskID:    taskID,
		StageType: meta.PipelineStageCleanse,
		Status:    meta.PipelineTaskStatusSuccess,
		StartTime: &now,
		EndTime:   &now,
		CreatedAt: now,
	}
	for _, opt := range opts {
		opt(stageRun)
	}

	f.mustCreate(stageRun)
	return stageRun
}

// CreatePipelineSchedule 创建调度配置，默认为每小时执行的间隔调度
func (f *TestDataFactory) CreatePipelineSchedule(opts ...PipelineScheduleOption) *models.PipelineSchedule {
	schedule := &models.PipelineSchedule{
		ID:              testID("ps"),
		Name:            "测试调度-" + shortID(),
		ScheduleType:    meta.PipelineScheduleTypeInterval,
		IntervalSeconds: 3600,
		TimeoutSeconds:  600,
		PipelineConfig:  models.JSONB{},
		Enabled:         true,
		CreatedBy:       "test",
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	for _, opt := range opts {
		opt(schedule)
	}

	f.mustCreate(schedule)
	return schedule
}

// CreateDataSource 创建数据源记录，默认为HTTP推送接入
func (f *TestDataFactory) CreateDataSource(opts ...DataSourceOption) *models.DataSource {
	dataSource := &models.DataSource{
		ID:       testID("ds"),
		Name:     "测试数据源-" + shortID(),
		Type:     meta.DataSourceTypeHTTPPush,
		Category: meta.DataSourceCategoryAPI,
		Status:   "active",
		ConnectionConfig: map[string]interface{}{
			"endpoint": "/api/v1/readings/batch",
		},
		ParamsConfig: map[string]interface{}{
			"batch_size": 1000,
		},
		CreatedBy: "test",
		UpdatedBy: "test",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(dataSource)
	}

	f.mustCreate(dataSource)
	return dataSource
}

// CreateApiKey 创建推送密钥记录
func (f *TestDataFactory) CreateApiKey(opts ...ApiKeyOption) *models.ApiKey {
	apiKey := &models.ApiKey{
		ID:           testID("ak"),
		Name:         "测试推送密钥",
		KeyPrefix:    "test",
		KeyValueHash: "hash-" + shortID(),
		Description:  "接口测试用的推送密钥",
		Status:       "active",
		CreatedBy:    "test",
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	for _, opt := range opts {
		opt(apiKey)
	}

	f.mustCreate(apiKey)
	return apiKey
}

// testID 生成带前缀的唯一测试ID
func testID(prefix string) string {
	return prefix + "-" + shortID()
}

func shortID() string {
	return uuid.NewString()[:8]
}

// HTTPTestHelper HTTP接口测试辅助工具
type HTTPTestHelper struct{}

// NewHTTPTestHelper 创建HTTP测试辅助工具
func NewHTTPTestHelper() *HTTPTestHelper {
	return &HTTPTestHelper{}
}

// CreateJSONRequest 构造JSON请求体的HTTP请求
func (h *HTTPTestHelper) CreateJSONRequest(method, url string, body interface{}) (*http.Request, error) {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// AssertJSONResponse 断言响应状态码与JSON响应体
func (h *HTTPTestHelper) AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedBody interface{}) {
	t.Helper()

	assert.Equal(t, expectedStatus, w.Code)
	if expectedBody == nil {
		return
	}

	expectedJSON, err := json.Marshal(expectedBody)
	assert.NoError(t, err)
	assert.JSONEq(t, string(expectedJSON), w.Body.String())
}
