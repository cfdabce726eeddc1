/*
 * @module service/database/migrate
 * @description 数据库迁移模块，负责创建和更新传感器数据管道的表结构与索引
 * @architecture 数据访问层 - 迁移管理
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 应用启动时执行数据库迁移
 * @rules 确保数据库结构与模型定义保持一致
 * @dependencies sensorhub-service/service/models, gorm.io/gorm
 * @refs service/models, service/database/views
 */

package database

import (
	"log"
	"sensorhub-service/service/models"

	"gorm.io/gorm"
)

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate(db *gorm.DB) error {
	log.Println("开始数据库迁移...")

	// 传感器数据相关表
	err := db.AutoMigrate(
		&models.SensorReading{},
		&models.CleanReading{},
		&models.WindowAggregate{},
		&models.TrainingSample{},
	)
	if err != nil {
		return err
	}

	// 流水线任务相关表
	err = db.AutoMigrate(
		&models.PipelineTask{},
		&models.PipelineStageRun{},
		&models.PipelineSchedule{},
	)
	if err != nil {
		return err
	}

	// 数据源与访问控制相关表
	err = db.AutoMigrate(
		&models.DataSource{},
		&models.ApiKey{},
		&models.SystemConfig{},
	)
	if err != nil {
		return err
	}

	// 事件管理相关表
	err = db.AutoMigrate(
		&models.PipelineEventRecord{},
	)
	if err != nil {
		return err
	}

	log.Println("数据库迁移完成")
	return nil
}

// CreatePipelineIndexes 创建管道查询所需的联合索引
func CreatePipelineIndexes(db *gorm.DB) error {
	log.Println("开始创建管道相关索引...")

	indexQueries := []string{
		"CREATE INDEX IF NOT EXISTS idx_sensor_readings_sensor_time ON sensor_readings(sensor_id, event_time)",
		"CREATE INDEX IF NOT EXISTS idx_clean_readings_task_time ON clean_readings(task_id, event_time)",
		"CREATE INDEX IF NOT EXISTS idx_window_aggregates_task_window ON window_aggregates(task_id, window_start)",
		"CREATE INDEX IF NOT EXISTS idx_training_samples_task_index ON training_samples(task_id, sample_index)",
		"CREATE INDEX IF NOT EXISTS idx_pipeline_tasks_status_created ON pipeline_tasks(status, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_pipeline_stage_runs_task_stage ON pipeline_stage_runs(task_id, stage_type)",
		"CREATE INDEX IF NOT EXISTS idx_pipeline_events_task_created ON pipeline_events(task_id, created_at)",
	}

	for _, query := range indexQueries {
		if err := db.Exec(query).Error; err != nil {
			log.Printf("创建管道索引失败: %v", err)
			return err
		}
	}

	log.Println("管道相关索引创建完成")
	return nil
}

// InitializeData 初始化基础数据。系统配置种子由配置服务负责写入，这里只负责演示数据源
func InitializeData(db *gorm.DB) error {
	log.Println("开始初始化基础数据...")

	if err := createDefaultDataSources(db); err != nil {
		return err
	}

	log.Println("基础数据初始化完成")
	return nil
}

// createDefaultDataSources 创建默认数据源（演示用，初始为停用状态）
func createDefaultDataSources(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.DataSource{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	demoSources := []models.DataSource{
		{
			Name:     "演示MQTT传感器源",
			Category: "messaging",
			Type:     "mqtt",
			Status:   "inactive",
			ConnectionConfig: models.JSONB{
				"host":      "localhost",
				"port":      1883,
				"client_id": "sensorhub-demo",
			},
			ParamsConfig: models.JSONB{
				"topic": "sensors/+/readings",
				"qos":   1,
			},
			CreatedBy: "system",
		},
		{
			Name:     "演示CSV文件源",
			Category: "file",
			Type:     "csv_file",
			Status:   "inactive",
			ConnectionConfig: models.JSONB{
				"file_path": "/data/imports/readings.csv",
			},
			ParamsConfig: models.JSONB{
				"delimiter": ",",
				"encoding":  "utf-8",
			},
			CreatedBy: "system",
		},
	}

	for _, source := range demoSources {
		if err := db.Create(&source).Error; err != nil {
			log.Printf("创建演示数据源失败: %v", err)
		} else {
			log.Printf("创建演示数据源: %s", source.Name)
		}
	}

	return nil
}
