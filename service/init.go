/*
 * @module service/init
 * @description 服务初始化模块，负责数据库连接、迁移执行、全局服务装配与后台任务启动
 * @architecture 分层架构 - 服务层
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 应用启动时执行初始化流程：数据库 -> 迁移与种子数据 -> 服务装配 -> 数据源注册 -> 调度器启动
 * @rules 确保所有依赖服务正常启动后才提供API服务；Redis/Kafka等可选依赖缺失时降级运行而非终止
 * @dependencies gorm.io/gorm, gorm.io/driver/postgres
 * @refs service/database, service/pipeline, service/scheduler
 */

package service

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"sensorhub-service/client/connectors"
	"sensorhub-service/logger"
	"sensorhub-service/service/access"
	"sensorhub-service/service/cleanup"
	"sensorhub-service/service/config"
	"sensorhub-service/service/database"
	"sensorhub-service/service/dataset"
	"sensorhub-service/service/datasource"
	"sensorhub-service/service/distributed_lock"
	"sensorhub-service/service/event"
	"sensorhub-service/service/models"
	"sensorhub-service/service/pipeline"
	"sensorhub-service/service/rate_limiter"
	"sensorhub-service/service/reading"
	"sensorhub-service/service/scheduler"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var (
	DB                       *gorm.DB
	GlobalConfigService      *config.ConfigService
	GlobalEventService       *event.EventService
	GlobalPipelineEngine     *pipeline.PipelineEngine
	GlobalSchedulerService   *scheduler.SchedulerService
	GlobalTaskCleanupService *cleanup.TaskCleanupService
	GlobalReadingService     *reading.ReadingService
	GlobalDatasetService     *dataset.DatasetService
	GlobalAccessService      *access.AccessService
	GlobalLockExecutor       *distributed_lock.LockExecutor
	GlobalRateLimiter        *rate_limiter.RedisRateLimiter
	GlobalKafkaPublisher     *connectors.KafkaEventPublisher
)

func init() {
	logger.InitLogger()
	initDatabase()
	runMigrations()
	initServices()
}

// initDatabase 建立数据库连接并配置连接池
func initDatabase() {
	db, err := gorm.Open(postgres.Open(postgresDSN()), &gorm.Config{})
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("获取底层数据库连接失败: %v", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(time.Hour)

	DB = db
	log.Println("数据库连接成功")
}

// postgresDSN 组装数据库连接串，DATABASE_URL整串优先于分项环境变量
func postgresDSN() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}

	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s search_path=%s TimeZone=Asia/Shanghai",
		envOr("DB_HOST", "localhost"),
		envOr("DB_PORT", "5432"),
		envOr("DB_USER", "postgres"),
		envOr("DB_PASSWORD", "sensorhub2024"),
		envOr("DB_NAME", "postgres"),
		envOr("DB_SSLMODE", "disable"),
		envOr("DB_SCHEMA", "public"))
}

// envOr 读取环境变量，未设置或为空时返回默认值
func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// runMigrations 按固定顺序执行数据库迁移，任一步失败即终止启动
func runMigrations() {
	log.Println("开始运行数据库迁移...")

	steps := []struct {
		name string
		run  func(*gorm.DB) error
	}{
		{"表结构迁移", database.AutoMigrate},
		{"管道索引创建", database.CreatePipelineIndexes},
		{"基础数据初始化", database.InitializeData},
		{"视图迁移", database.AutoMigrateView},
	}
	for _, step := range steps {
		if err := step.run(DB); err != nil {
			log.Fatalf("%s失败: %v", step.name, err)
		}
		log.Printf("%s完成", step.name)
	}

	// 种子配置允许失败，缺省值在读取时兜底
	GlobalConfigService = config.NewConfigService(DB)
	if err := GlobalConfigService.SeedDefaults(); err != nil {
		log.Printf("默认配置种子写入失败: %v", err)
	}
}

// initServices 初始化服务
func initServices() {
	// 分布式锁依赖Redis，未配置时调度与常驻消费退化为单实例模式
	if redisLock, err := distributed_lock.NewRedisLock(); err != nil {
		log.Printf("Redis分布式锁初始化失败，退化为单实例模式: %v", err)
	} else {
		GlobalLockExecutor = distributed_lock.NewLockExecutor(redisLock)
	}

	if limiter, err := rate_limiter.NewRedisRateLimiter(); err != nil {
		log.Printf("Redis限流器初始化失败，摄入接口不做限流: %v", err)
	} else {
		GlobalRateLimiter = limiter
	}

	// 摄入汇聚器先于数据源启动，常驻数据源一注册就可能开始写入
	datasource.InitGlobalReadingSink(DB)

	GlobalAccessService = access.NewAccessService(DB)
	GlobalDatasetService = dataset.NewDatasetService(DB)
	GlobalReadingService = reading.NewReadingService(DB, datasource.GetGlobalReadingSink(), GlobalConfigService)

	// Kafka事件发布器按需启用，未配置KAFKA_BROKERS时事件仅走SSE与数据库
	GlobalKafkaPublisher = connectors.NewKafkaEventPublisherFromEnv(log.Default())
	if GlobalKafkaPublisher != nil {
		if err := GlobalKafkaPublisher.Connect(); err != nil {
			log.Printf("Kafka事件发布器连接失败: %v", err)
		}
	}
	GlobalEventService = event.NewEventService(DB, GlobalKafkaPublisher)

	GlobalPipelineEngine = pipeline.NewPipelineEngine(DB, GlobalConfigService.GetPipelineMaxConcurrent())
	GlobalPipelineEngine.SetEventNotifier(GlobalEventService.PublishPipelineEvent)

	GlobalSchedulerService = scheduler.NewSchedulerService(DB, GlobalPipelineEngine, GlobalLockExecutor)
	GlobalTaskCleanupService = cleanup.NewTaskCleanupService(DB, GlobalConfigService)

	// 初始化数据源
	initializeDataSources()

	// 启动调度器
	if err := GlobalSchedulerService.Start(); err != nil {
		log.Printf("启动调度器服务失败: %v", err)
	}

	// 启动任务清理调度
	if err := GlobalTaskCleanupService.StartScheduledCleanup(); err != nil {
		log.Printf("启动任务清理调度失败: %v", err)
	}

	log.Println("服务初始化完成")
}

// initializeDataSources 注册并启动处于启用状态的数据源
func initializeDataSources() {
	log.Println("开始初始化数据源...")

	manager := datasource.GetManager()
	if defaultManager, ok := manager.(*datasource.DefaultDataSourceManager); ok && GlobalLockExecutor != nil {
		defaultManager.SetLockExecutor(GlobalLockExecutor)
	}

	// 注册整体限时，数据源自身的连接超时由各实现控制
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var sources []models.DataSource
	if err := DB.Where("status = ?", "active").Find(&sources).Error; err != nil {
		log.Printf("加载数据源列表失败: %v", err)
		return
	}

	successCount, failedCount := 0, 0
	for i := range sources {
		// 常驻数据源在注册时即启动并保持连接
		if err := manager.Register(ctx, &sources[i]); err != nil {
			failedCount++
			log.Printf("注册数据源失败: id=%s name=%s 错误=%v", sources[i].ID, sources[i].Name, err)
			continue
		}
		successCount++
	}

	log.Printf("数据源初始化结果: 总计=%d, 成功=%d, 失败=%d", len(sources), successCount, failedCount)
}
