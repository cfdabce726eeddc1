/*
 * @module service/rate_limiter/redis_rate_limiter
 * @description 基于Redis的分布式限流服务，保护读数采集接口，支持全局、API Key、数据源三层限流
 * @architecture 工具层 - 提供分布式限流能力
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 检查限流规则 -> Redis计数 -> 判断是否超限
 * @rules 使用Redis INCR和EXPIRE实现固定窗口限流
 * @dependencies github.com/go-redis/redis/v8
 * @refs api/middleware/api_key_auth.go, api/controllers/reading_controller.go
 */

package rate_limiter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// 限流层级，数据源最具体、优先检查
const (
	LimitTypeGlobal = "global"
	LimitTypeAPIKey = "api_key"
	LimitTypeSource = "source"
)

// 默认限流参数，可通过环境变量覆盖
const (
	defaultWindowSeconds = 60
	defaultGlobalLimit   = 6000
	defaultAPIKeyLimit   = 1200
	defaultSourceLimit   = 600
)

// RateLimitResult 限流检查结果
type RateLimitResult struct {
	Allowed       bool   `json:"allowed"`    // 是否允许请求
	Limit         int    `json:"limit"`      // 限制数量
	Remaining     int    `json:"remaining"`  // 剩余数量
	ResetAt       int64  `json:"reset_at"`   // 重置时间（Unix时间戳）
	RateLimitType string `json:"limit_type"` // 限流类型：global/api_key/source
	Message       string `json:"message"`    // 提示信息
}

// RateLimitRule 限流规则
type RateLimitRule struct {
	Type        string // global/api_key/source
	TargetID    string // 目标ID（api_key_id或source_id，全局时为空）
	TimeWindow  int    // 时间窗口（秒）
	MaxRequests int    // 最大请求数
}

// checkScript 固定窗口计数脚本：超限时返回当前计数，否则原子自增并在首次请求时设置过期
var checkScript = redis.NewScript(`
local key = KEYS[1]
local max_requests = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

local current = tonumber(redis.call('GET', key) or '0')
if current >= max_requests then
	local ttl = redis.call('TTL', key)
	if ttl < 0 then
		ttl = window
	end
	return {0, current, ttl}
end

local new_count = redis.call('INCR', key)
if new_count == 1 then
	redis.call('EXPIRE', key, window)
end

local ttl = redis.call('TTL', key)
if ttl < 0 then
	ttl = window
end
return {1, new_count, ttl}
`)

// RedisRateLimiter Redis限流器
type RedisRateLimiter struct {
	client *redis.Client
}

// NewRedisRateLimiter 创建Redis限流器并验证连接
func NewRedisRateLimiter() (*RedisRateLimiter, error) {
	host := getEnvWithDefault("REDIS_HOST", "localhost")
	port := getEnvWithDefault("REDIS_PORT", "6379")
	db := 0
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if parsed, err := strconv.Atoi(dbStr); err == nil {
			db = parsed
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:         host + ":" + port,
		Password:     os.Getenv("REDIS_PASSWORD"),
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis连接失败: %w", err)
	}

	slog.Info("Redis限流器初始化成功", "addr", host+":"+port)

	return &RedisRateLimiter{client: client}, nil
}

// DefaultIngestRules 构造采集接口的默认限流规则
// apiKeyID和sourceID为空时对应层级不参与检查
func DefaultIngestRules(apiKeyID, sourceID string) []RateLimitRule {
	window := getEnvIntWithDefault("INGEST_LIMIT_WINDOW_SEC", defaultWindowSeconds)

	rules := []RateLimitRule{
		{
			Type:        LimitTypeGlobal,
			TimeWindow:  window,
			MaxRequests: getEnvIntWithDefault("INGEST_GLOBAL_LIMIT", defaultGlobalLimit),
		},
	}

	if apiKeyID != "" {
		rules = append(rules, RateLimitRule{
			Type:        LimitTypeAPIKey,
			TargetID:    apiKeyID,
			TimeWindow:  window,
			MaxRequests: getEnvIntWithDefault("INGEST_APIKEY_LIMIT", defaultAPIKeyLimit),
		})
	}

	if sourceID != "" {
		rules = append(rules, RateLimitRule{
			Type:        LimitTypeSource,
			TargetID:    sourceID,
			TimeWindow:  window,
			MaxRequests: getEnvIntWithDefault("INGEST_SOURCE_LIMIT", defaultSourceLimit),
		})
	}

	return rules
}

// CheckRateLimit 检查是否超过限流（按优先级检查：数据源 -> 密钥 -> 全局）
func (r *RedisRateLimiter) CheckRateLimit(ctx context.Context, rules []RateLimitRule) (*RateLimitResult, error) {
	// 按优先级排序：source > api_key > global
	sortedRules := r.sortRulesByPriority(rules)

	// 依次检查每层限流，每层各计数一次
	var lastResult *RateLimitResult
	for _, rule := range sortedRules {
		result, err := r.checkSingleRule(ctx, rule)
		if err != nil {
			return nil, err
		}

		// 如果任何一层超限，直接返回
		if !result.Allowed {
			return result, nil
		}
		lastResult = result
	}

	// 所有层都未超限，返回最宽松一层的限制信息
	if lastResult != nil {
		return lastResult, nil
	}

	// 没有限流规则，允许通过
	return &RateLimitResult{
		Allowed:       true,
		Limit:         -1,
		Remaining:     -1,
		RateLimitType: "none",
		Message:       "无限流规则",
	}, nil
}

// checkSingleRule 检查单个限流规则
func (r *RedisRateLimiter) checkSingleRule(ctx context.Context, rule RateLimitRule) (*RateLimitResult, error) {
	key := r.buildRateLimitKey(rule.Type, rule.TargetID, rule.TimeWindow)

	raw, err := checkScript.Run(ctx, r.client, []string{key}, rule.MaxRequests, rule.TimeWindow).Result()
	if err != nil {
		return nil, fmt.Errorf("限流检查失败: %w", err)
	}

	fields, ok := raw.([]interface{})
	if !ok || len(fields) != 3 {
		return nil, fmt.Errorf("限流脚本返回格式异常: %v", raw)
	}
	allowed := fields[0].(int64) == 1
	currentCount := int(fields[1].(int64))
	ttl := int(fields[2].(int64))

	remaining := rule.MaxRequests - currentCount
	if remaining < 0 {
		remaining = 0
	}

	message := "允许请求"
	if !allowed {
		message = fmt.Sprintf("超过%s限流限制", r.getRateLimitTypeName(rule.Type))
	}

	return &RateLimitResult{
		Allowed:       allowed,
		Limit:         rule.MaxRequests,
		Remaining:     remaining,
		ResetAt:       time.Now().Add(time.Duration(ttl) * time.Second).Unix(),
		RateLimitType: rule.Type,
		Message:       message,
	}, nil
}

// buildRateLimitKey 构造限流Key
func (r *RedisRateLimiter) buildRateLimitKey(limitType, targetID string, window int) string {
	baseKey := "sensorhub:ingest_rate"
	currentWindow := time.Now().Unix() / int64(window)

	if limitType == LimitTypeGlobal {
		return fmt.Sprintf("%s:%s:%d", baseKey, limitType, currentWindow)
	}
	return fmt.Sprintf("%s:%s:%s:%d", baseKey, limitType, targetID, currentWindow)
}

// rulePriority 限流层级优先级，数值越大越先检查
func rulePriority(limitType string) int {
	switch limitType {
	case LimitTypeSource:
		return 3
	case LimitTypeAPIKey:
		return 2
	case LimitTypeGlobal:
		return 1
	}
	return 0
}

// sortRulesByPriority 按优先级排序规则：source > api_key > global
func (r *RedisRateLimiter) sortRulesByPriority(rules []RateLimitRule) []RateLimitRule {
	sorted := make([]RateLimitRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return rulePriority(sorted[i].Type) > rulePriority(sorted[j].Type)
	})
	return sorted
}

// getRateLimitTypeName 获取限流类型名称
func (r *RedisRateLimiter) getRateLimitTypeName(limitType string) string {
	switch limitType {
	case LimitTypeGlobal:
		return "全局"
	case LimitTypeAPIKey:
		return "API密钥"
	case LimitTypeSource:
		return "数据源"
	default:
		return "未知"
	}
}

// Close 关闭Redis客户端
func (r *RedisRateLimiter) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// GetStats 获取限流统计信息，不影响计数
func (r *RedisRateLimiter) GetStats(ctx context.Context, rule RateLimitRule) (map[string]interface{}, error) {
	key := r.buildRateLimitKey(rule.Type, rule.TargetID, rule.TimeWindow)

	current, err := r.client.Get(ctx, key).Int()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	remaining := rule.MaxRequests - current
	if remaining < 0 {
		remaining = 0
	}

	return map[string]interface{}{
		"type":        rule.Type,
		"target_id":   rule.TargetID,
		"current":     current,
		"limit":       rule.MaxRequests,
		"remaining":   remaining,
		"window":      rule.TimeWindow,
		"ttl_seconds": int(ttl.Seconds()),
		"reset_at":    time.Now().Add(ttl).Unix(),
	}, nil
}

// ResetRateLimit 重置限流计数（仅用于测试或管理）
func (r *RedisRateLimiter) ResetRateLimit(ctx context.Context, rule RateLimitRule) error {
	key := r.buildRateLimitKey(rule.Type, rule.TargetID, rule.TimeWindow)
	return r.client.Del(ctx, key).Err()
}

// getEnvWithDefault 获取环境变量，如果不存在则返回默认值
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvIntWithDefault 获取整型环境变量，解析失败或非正数时返回默认值
func getEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}
