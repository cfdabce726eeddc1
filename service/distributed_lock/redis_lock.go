/*
 * @module service/distributed_lock/redis_lock
 * @description Redis分布式锁实现，用于多实例环境下的流水线调度防重与数据源独占消费
 * @architecture 工具层 - 提供分布式锁能力
 * @stateFlow 获取锁 -> 执行任务 -> 释放锁/自动过期
 * @rules 使用Redis SET NX实现，持有者校验通过Lua脚本保证原子性，支持锁续期和自动过期
 * @dependencies github.com/go-redis/redis/v8
 * @refs service/scheduler/scheduler_service.go, service/datasource/kafka.go
 */

package distributed_lock

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// lockKeyPrefix 所有锁键的统一前缀，按用途再细分（如schedule:xxx、datasource:xxx）
const lockKeyPrefix = "sensorhub:lock:"

// 持有者校验脚本：只有锁值等于自己的令牌时才允许删除/续期
var (
	unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

	refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("expire", KEYS[1], ARGV[2])
end
return 0
`)
)

// DistributedLock 分布式锁接口
type DistributedLock interface {
	// TryLock 非阻塞抢锁，返回是否拿到
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Unlock 释放自己持有的锁，他人持有时不删除
	Unlock(ctx context.Context, key string) error
	// Refresh 给自己持有的锁续期
	Refresh(ctx context.Context, key string, ttl time.Duration) error
	// IsLocked 锁是否被任意实例持有
	IsLocked(ctx context.Context, key string) (bool, error)
}

// RedisLock Redis分布式锁实现
type RedisLock struct {
	client *redis.Client
	token  string // 持有者令牌，实例重启后变化
}

// redisOptionsFromEnv 从环境变量组装Redis连接参数
func redisOptionsFromEnv() *redis.Options {
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		host = "localhost"
	}
	port := os.Getenv("REDIS_PORT")
	if port == "" {
		port = "6379"
	}
	db := 0
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if parsed, err := strconv.Atoi(dbStr); err == nil {
			db = parsed
		}
	}

	return &redis.Options{
		Addr:         host + ":" + port,
		Password:     os.Getenv("REDIS_PASSWORD"),
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	}
}

// NewRedisLock 创建Redis分布式锁并验证连接
func NewRedisLock() (*RedisLock, error) {
	opts := redisOptionsFromEnv()
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis连接失败: %w", err)
	}

	// 令牌带随机后缀，避免实例重启后误释放残留的旧锁
	hostname, _ := os.Hostname()
	token := fmt.Sprintf("%s:%d:%06x", hostname, os.Getpid(), rand.Intn(1<<24))

	slog.Info("Redis分布式锁初始化成功", "addr", opts.Addr, "token", token)

	return &RedisLock{client: client, token: token}, nil
}

func (r *RedisLock) lockKey(key string) string {
	return lockKeyPrefix + key
}

// TryLock 尝试获取锁，key不存在时写入自己的令牌
func (r *RedisLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	acquired, err := r.client.SetNX(ctx, r.lockKey(key), r.token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("获取锁失败: %w", err)
	}
	if acquired {
		slog.Debug("获取分布式锁", "key", key, "ttl", ttl)
	}
	return acquired, nil
}

// Unlock 释放锁，只有持有者能删除
func (r *RedisLock) Unlock(ctx context.Context, key string) error {
	deleted, err := unlockScript.Run(ctx, r.client, []string{r.lockKey(key)}, r.token).Int64()
	if err != nil {
		return fmt.Errorf("释放锁失败: %w", err)
	}
	if deleted == 0 {
		slog.Warn("锁不存在或已被其他实例持有", "key", key)
	}
	return nil
}

// Refresh 刷新锁的过期时间
// 用于长时间运行的任务（如独占的数据源消费循环），防止锁过期
func (r *RedisLock) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	refreshed, err := refreshScript.Run(ctx, r.client,
		[]string{r.lockKey(key)}, r.token, int(ttl.Seconds())).Int64()
	if err != nil {
		return fmt.Errorf("刷新锁失败: %w", err)
	}
	if refreshed == 0 {
		return fmt.Errorf("锁不存在或已被其他实例持有")
	}
	return nil
}

// IsLocked 检查锁是否存在
func (r *RedisLock) IsLocked(ctx context.Context, key string) (bool, error) {
	exists, err := r.client.Exists(ctx, r.lockKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("检查锁状态失败: %w", err)
	}
	return exists > 0, nil
}

// Close 关闭Redis客户端
func (r *RedisLock) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// LockExecutor 带锁执行器，封装获取-执行-释放的完整流程
type LockExecutor struct {
	lock DistributedLock
}

// NewLockExecutor 创建带锁执行器
func NewLockExecutor(lock DistributedLock) *LockExecutor {
	return &LockExecutor{lock: lock}
}

// acquire 获取锁并返回释放函数；锁被其他实例持有时release为nil
func (e *LockExecutor) acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	locked, err := e.lock.TryLock(ctx, key, ttl)
	if err != nil {
		return nil, fmt.Errorf("获取锁失败: %w", err)
	}
	if !locked {
		return nil, nil
	}

	release := func() {
		if unlockErr := e.lock.Unlock(ctx, key); unlockErr != nil {
			slog.Error("释放分布式锁失败", "key", key, "error", unlockErr)
		}
	}
	return release, nil
}

// ExecuteWithLock 在锁保护下执行函数
// 调度器触发流水线前用它防止多实例重复提交；锁被占用时静默跳过
func (e *LockExecutor) ExecuteWithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error {
	release, err := e.acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	if release == nil {
		slog.Debug("锁已被其他实例持有，跳过执行", "key", key)
		return nil
	}
	defer release()

	return fn()
}

// ExecuteWithLockAndRefresh 在锁保护下执行函数，并按refreshInterval自动续期
// Kafka数据源的消费循环用它保证同一数据源只被一个实例消费
func (e *LockExecutor) ExecuteWithLockAndRefresh(ctx context.Context, key string, ttl time.Duration, refreshInterval time.Duration, fn func() error) error {
	release, err := e.acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	if release == nil {
		slog.Debug("锁已被其他实例持有，跳过执行", "key", key)
		return nil
	}
	defer release()

	// 后台续期直到任务结束
	stopRefresh := make(chan struct{})
	defer close(stopRefresh)

	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopRefresh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if refreshErr := e.lock.Refresh(ctx, key, ttl); refreshErr != nil {
					slog.Error("分布式锁续期失败", "key", key, "error", refreshErr)
				}
			}
		}
	}()

	return fn()
}
