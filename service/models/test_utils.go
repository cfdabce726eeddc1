/*
 * @module service/models/test_utils
 * @description 模型层测试辅助：内存数据库与最小数据工厂，避免对testutil的循环依赖
 * @architecture 测试基础设施 - 专门为模型测试提供工具
 * @documentReference .specify/memory/test_plan.md
 * @stateFlow 测试环境初始化 -> 测试数据创建 -> 测试执行 -> 清理资源
 * @rules CleanDB与迁移使用同一份模型列表；工厂只暴露模型测试需要的最小参数
 * @dependencies gorm.io/gorm, gorm.io/driver/sqlite, github.com/google/uuid
 */

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// allModels 测试库迁移与清理共用的模型列表
var allModels = []interface{}{
	&SensorReading{},
	&CleanReading{},
	&WindowAggregate{},
	&TrainingSample{},
	&PipelineTask{},
	&PipelineStageRun{},
	&PipelineSchedule{},
	&PipelineEventRecord{},
	&DataSource{},
	&ApiKey{},
	&SystemConfig{},
}

// ModelTestDB 模型测试用内存数据库
type ModelTestDB struct {
	DB *gorm.DB
}

// NewModelTestDB 创建并迁移内存测试数据库
func NewModelTestDB() *ModelTestDB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(fmt.Sprintf("打开内存测试数据库失败: %v", err))
	}

	if err := db.AutoMigrate(allModels...); err != nil {
		panic(fmt.Sprintf("迁移测试数据库失败: %v", err))
	}

	return &ModelTestDB{DB: db}
}

// CleanDB 清空全部表数据，保留表结构
func (tdb *ModelTestDB) CleanDB() {
	session := tdb.DB.Session(&gorm.Session{AllowGlobalUpdate: true})
	for _, model := range allModels {
		session.Delete(model)
	}
}

// Close 关闭底层连接
func (tdb *ModelTestDB) Close() {
	if sqlDB, err := tdb.DB.DB(); err == nil {
		sqlDB.Close()
	}
}

// ModelTestDataFactory 模型层测试数据工厂
type ModelTestDataFactory struct {
	DB *gorm.DB
}

// NewModelTestDataFactory 创建模型测试数据工厂
func NewModelTestDataFactory(db *gorm.DB) *ModelTestDataFactory {
	return &ModelTestDataFactory{DB: db}
}

func (f *ModelTestDataFactory) mustCreate(record interface{}) {
	if err := f.DB.Create(record).Error; err != nil {
		panic(fmt.Sprintf("创建测试数据失败: %v", err))
	}
}

// CreateSensorReading 创建原始读数，温湿度传nil表示该通道缺失
func (f *ModelTestDataFactory) CreateSensorReading(sensorID, recordedAt string, temperature, humidity *float64) *SensorReading {
	reading := &SensorReading{
		ID:          modelTestID("sr"),
		SensorID:    sensorID,
		RecordedAt:  recordedAt,
		Temperature: temperature,
		Humidity:    humidity,
		SourceType:  "http_push",
		CreatedAt:   time.Now(),
	}
	f.mustCreate(reading)
	return reading
}

// CreatePipelineTask 创建指定状态的手动触发任务
func (f *ModelTestDataFactory) CreatePipelineTask(status string) *PipelineTask {
	now := time.Now()
	task := &PipelineTask{
		ID:          modelTestID("pt"),
		TriggerType: "manual",
		Status:      status,
		Config:      JSONB{"output_dir": "/tmp/sensorhub-test"},
		CreatedBy:   "test",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	f.mustCreate(task)
	return task
}

// CreateDataSource 创建指定类型的数据源记录，连接配置指向本地MQTT
func (f *ModelTestDataFactory) CreateDataSource(sourceType string) *DataSource {
	dataSource := &DataSource{
		ID:               modelTestID("ds"),
		Name:             "测试数据源",
		Category:         "messaging",
		Type:             sourceType,
		Status:           "active",
		ConnectionConfig: JSONB{"host": "localhost", "port": 1883},
		ParamsConfig:     JSONB{"topic": "sensors/+/readings"},
		CreatedBy:        "test",
		UpdatedBy:        "test",
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	f.mustCreate(dataSource)
	return dataSource
}

// CreatePipelineSchedule 创建指定类型的调度配置，cron与间隔字段都给出可用值
func (f *ModelTestDataFactory) CreatePipelineSchedule(scheduleType string) *PipelineSchedule {
	schedule := &PipelineSchedule{
		ID:              modelTestID("ps"),
		Name:            "测试调度",
		ScheduleType:    scheduleType,
		CronExpression:  "0 0 * * * *",
		IntervalSeconds: 300,
		TimeoutSeconds:  600,
		Enabled:         true,
		CreatedBy:       "test",
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	f.mustCreate(schedule)
	return schedule
}

// modelTestID 生成带前缀的唯一测试ID
func modelTestID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}
