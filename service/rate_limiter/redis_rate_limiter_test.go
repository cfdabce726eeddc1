/*
 * @module service/rate_limiter/redis_rate_limiter_test
 * @description Redis限流器单元测试，覆盖窗口计数、层级优先级与并发精确性
 * @architecture 测试层
 * @documentReference ai_docs/sensor_pipeline_design.md
 */

package rate_limiter

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis 连接测试Redis并清库，环境里没有Redis时整组测试跳过
func setupTestRedis(tb testing.TB) *RedisRateLimiter {
	tb.Helper()

	limiter, err := NewRedisRateLimiter()
	if err != nil {
		tb.Skipf("Redis不可用，跳过限流测试: %v", err)
	}
	require.NoError(tb, limiter.client.FlushDB(context.Background()).Err())
	tb.Cleanup(func() { limiter.Close() })
	return limiter
}

func TestNewRedisRateLimiter(t *testing.T) {
	limiter := setupTestRedis(t)

	assert.NotNil(t, limiter.client)
	assert.NoError(t, limiter.client.Ping(context.Background()).Err())
}

// TestCheckSingleRule_AllowsUntilLimitReached 固定窗口内配额逐次递减，用完后持续拒绝
func TestCheckSingleRule_AllowsUntilLimitReached(t *testing.T) {
	limiter := setupTestRedis(t)
	ctx := context.Background()

	// 一小时窗口，测试过程中不会跨越窗口边界
	rule := RateLimitRule{
		Type:        LimitTypeSource,
		TargetID:    "src-greenhouse-1",
		TimeWindow:  3600,
		MaxRequests: 4,
	}

	allowed, denied := 0, 0
	for i := 0; i < 7; i++ {
		result, err := limiter.checkSingleRule(ctx, rule)
		require.NoError(t, err)

		if result.Allowed {
			allowed++
			assert.Equal(t, 4, result.Limit)
			assert.Equal(t, 4-allowed, result.Remaining, "第%d次放行后的剩余配额", allowed)
		} else {
			denied++
			assert.Equal(t, 0, result.Remaining)
			assert.Contains(t, result.Message, "超过数据源限流限制")
			assert.Greater(t, result.ResetAt, time.Now().Unix()-1, "重置时间应该在未来")
		}
	}

	assert.Equal(t, 4, allowed, "恰好放行配额数")
	assert.Equal(t, 3, denied)
}

// TestCheckRateLimit_TightestTierWins 多层规则中最先耗尽的层级决定拒绝结果
func TestCheckRateLimit_TightestTierWins(t *testing.T) {
	limiter := setupTestRedis(t)
	ctx := context.Background()

	// 乱序传入，内部按 source > api_key > global 排序检查
	rules := []RateLimitRule{
		{Type: LimitTypeGlobal, TimeWindow: 3600, MaxRequests: 100},
		{Type: LimitTypeSource, TargetID: "src-roof", TimeWindow: 3600, MaxRequests: 3},
		{Type: LimitTypeAPIKey, TargetID: "key-ops", TimeWindow: 3600, MaxRequests: 50},
	}

	for i := 0; i < 3; i++ {
		result, err := limiter.CheckRateLimit(ctx, rules)
		require.NoError(t, err)
		require.True(t, result.Allowed, "前3次上报应该放行")
	}

	result, err := limiter.CheckRateLimit(ctx, rules)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, LimitTypeSource, result.RateLimitType, "数据源层最先耗尽")
	assert.Contains(t, result.Message, "超过数据源限流限制")
}

// TestCheckRateLimit_NoRules 没有配置规则时直接放行
func TestCheckRateLimit_NoRules(t *testing.T) {
	limiter := setupTestRedis(t)

	result, err := limiter.CheckRateLimit(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, "none", result.RateLimitType)
	assert.Equal(t, -1, result.Limit)
}

// TestCheckRateLimit_EachTierCountsOnce 测试多层检查时每层每次请求只计数一次
func TestCheckRateLimit_EachTierCountsOnce(t *testing.T) {
	limiter := setupTestRedis(t)

	ctx := context.Background()
	rules := []RateLimitRule{
		{Type: LimitTypeGlobal, TargetID: "", TimeWindow: 3600, MaxRequests: 10},
		{Type: LimitTypeSource, TargetID: "src-once", TimeWindow: 3600, MaxRequests: 10},
	}

	for i := 0; i < 3; i++ {
		result, err := limiter.CheckRateLimit(ctx, rules)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		// 返回的是最宽松一层（global）的信息，剩余量每次恰好减1
		assert.Equal(t, LimitTypeGlobal, result.RateLimitType)
		assert.Equal(t, 10-(i+1), result.Remaining, fmt.Sprintf("第%d次请求后剩余量应该恰好减%d", i+1, i+1))
	}
}

// TestCheckSingleRule_WindowExpiry 跨过窗口边界后配额恢复
func TestCheckSingleRule_WindowExpiry(t *testing.T) {
	limiter := setupTestRedis(t)
	ctx := context.Background()

	rule := RateLimitRule{
		Type:        LimitTypeAPIKey,
		TargetID:    "key-rooftop",
		TimeWindow:  2,
		MaxRequests: 2,
	}

	for i := 0; i < 2; i++ {
		result, err := limiter.checkSingleRule(ctx, rule)
		require.NoError(t, err)
		require.True(t, result.Allowed)
	}
	result, err := limiter.checkSingleRule(ctx, rule)
	require.NoError(t, err)
	require.False(t, result.Allowed, "配额用尽后应该拒绝")

	time.Sleep(2500 * time.Millisecond)

	result, err = limiter.checkSingleRule(ctx, rule)
	require.NoError(t, err)
	assert.True(t, result.Allowed, "新窗口应该恢复配额")
	assert.Equal(t, 1, result.Remaining)
}

// TestGetStatsAndReset 统计查询不影响计数，重置后计数归零
func TestGetStatsAndReset(t *testing.T) {
	limiter := setupTestRedis(t)
	ctx := context.Background()

	rule := RateLimitRule{
		Type:        LimitTypeSource,
		TargetID:    "src-basement",
		TimeWindow:  3600,
		MaxRequests: 20,
	}

	for i := 0; i < 3; i++ {
		_, err := limiter.checkSingleRule(ctx, rule)
		require.NoError(t, err)
	}

	stats, err := limiter.GetStats(ctx, rule)
	require.NoError(t, err)
	assert.Equal(t, LimitTypeSource, stats["type"])
	assert.Equal(t, "src-basement", stats["target_id"])
	assert.Equal(t, 3, stats["current"])
	assert.Equal(t, 17, stats["remaining"])
	assert.Equal(t, 3600, stats["window"])
	assert.Greater(t, stats["ttl_seconds"].(int), 0, "计数Key应该带过期时间")

	// GetStats本身不参与计数
	stats, err = limiter.GetStats(ctx, rule)
	require.NoError(t, err)
	assert.Equal(t, 3, stats["current"])

	require.NoError(t, limiter.ResetRateLimit(ctx, rule))

	stats, err = limiter.GetStats(ctx, rule)
	require.NoError(t, err)
	assert.Equal(t, 0, stats["current"], "重置后计数归零")
	assert.Equal(t, 20, stats["remaining"])
}

// TestSortRulesByPriority 排序稳定，未知类型排在最后，原切片不被修改
func TestSortRulesByPriority(t *testing.T) {
	limiter := &RedisRateLimiter{}

	rules := []RateLimitRule{
		{Type: "unknown"},
		{Type: LimitTypeGlobal},
		{Type: LimitTypeSource, TargetID: "src-1"},
		{Type: LimitTypeAPIKey, TargetID: "key-1"},
		{Type: LimitTypeSource, TargetID: "src-2"},
	}

	sorted := limiter.sortRulesByPriority(rules)

	assert.Equal(t, LimitTypeSource, sorted[0].Type)
	assert.Equal(t, "src-1", sorted[0].TargetID, "同层级保持传入顺序")
	assert.Equal(t, "src-2", sorted[1].TargetID)
	assert.Equal(t, LimitTypeAPIKey, sorted[2].Type)
	assert.Equal(t, LimitTypeGlobal, sorted[3].Type)
	assert.Equal(t, "unknown", sorted[4].Type)

	assert.Equal(t, "unknown", rules[0].Type, "排序不应该修改原切片")
}

// TestBuildRateLimitKey 测试限流Key构造（不依赖Redis）
func TestBuildRateLimitKey(t *testing.T) {
	limiter := &RedisRateLimiter{}

	// 测试全局限流Key
	globalKey := limiter.buildRateLimitKey(LimitTypeGlobal, "", 60)
	assert.Contains(t, globalKey, "sensorhub:ingest_rate:global")

	// 测试API密钥限流Key
	keyKey := limiter.buildRateLimitKey(LimitTypeAPIKey, "key-123", 60)
	assert.Contains(t, keyKey, "sensorhub:ingest_rate:api_key:key-123")

	// 测试数据源限流Key
	sourceKey := limiter.buildRateLimitKey(LimitTypeSource, "src-456", 60)
	assert.Contains(t, sourceKey, "sensorhub:ingest_rate:source:src-456")
}

// TestDefaultIngestRules 测试默认采集限流规则构造（不依赖Redis）
func TestDefaultIngestRules(t *testing.T) {
	// 密钥和数据源都存在时应该有三层规则
	rules := DefaultIngestRules("key-1", "src-1")
	require.Len(t, rules, 3, "应该生成三层限流规则")
	assert.Equal(t, LimitTypeGlobal, rules[0].Type)
	assert.Equal(t, LimitTypeAPIKey, rules[1].Type)
	assert.Equal(t, "key-1", rules[1].TargetID)
	assert.Equal(t, LimitTypeSource, rules[2].Type)
	assert.Equal(t, "src-1", rules[2].TargetID)
	assert.Equal(t, defaultWindowSeconds, rules[0].TimeWindow)
	assert.Equal(t, defaultGlobalLimit, rules[0].MaxRequests)

	// 只有全局层
	rules = DefaultIngestRules("", "")
	require.Len(t, rules, 1, "没有密钥和数据源时只有全局规则")
	assert.Equal(t, LimitTypeGlobal, rules[0].Type)

	// 环境变量覆盖
	t.Setenv("INGEST_SOURCE_LIMIT", "50")
	t.Setenv("INGEST_LIMIT_WINDOW_SEC", "30")
	rules = DefaultIngestRules("", "src-2")
	require.Len(t, rules, 2)
	assert.Equal(t, 50, rules[1].MaxRequests, "数据源限流应该读取环境变量")
	assert.Equal(t, 30, rules[1].TimeWindow, "时间窗口应该读取环境变量")

	// 非法环境变量回退默认值
	t.Setenv("INGEST_GLOBAL_LIMIT", "not-a-number")
	rules = DefaultIngestRules("", "")
	assert.Equal(t, defaultGlobalLimit, rules[0].MaxRequests, "非法配置应该回退默认值")
}

// TestCheckRateLimit_ConcurrentExactQuota 并发上报时数据源层配额精确生效
func TestCheckRateLimit_ConcurrentExactQuota(t *testing.T) {
	limiter := setupTestRedis(t)
	ctx := context.Background()

	rules := []RateLimitRule{
		{Type: LimitTypeGlobal, TimeWindow: 3600, MaxRequests: 1000},
		{Type: LimitTypeSource, TargetID: "src-flood", TimeWindow: 3600, MaxRequests: 40},
	}

	const workers = 100
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
		denied  int
	)
	errCh := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			result, err := limiter.CheckRateLimit(ctx, rules)
			if err != nil {
				errCh <- err
				return
			}
			mu.Lock()
			if result.Allowed {
				allowed++
			} else {
				denied++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("并发限流检查失败: %v", err)
	}
	t.Logf("并发结果: 放行=%d 拒绝=%d", allowed, denied)
	assert.Equal(t, 40, allowed, "数据源层配额应该精确生效")
	assert.Equal(t, 60, denied)
}

// BenchmarkCheckSingleRule 单层限流检查的Redis往返开销
func BenchmarkCheckSingleRule(b *testing.B) {
	limiter := setupTestRedis(b)
	ctx := context.Background()

	rule := RateLimitRule{
		Type:        LimitTypeGlobal,
		TimeWindow:  3600,
		MaxRequests: 1 << 30, // 足够大，基准过程中不触发限流
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := limiter.checkSingleRule(ctx, rule); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkCheckRateLimit_ThreeTiers 三层规则逐层检查的总开销
func BenchmarkCheckRateLimit_ThreeTiers(b *testing.B) {
	limiter := setupTestRedis(b)
	ctx := context.Background()

	rules := []RateLimitRule{
		{Type: LimitTypeGlobal, TimeWindow: 3600, MaxRequests: 1 << 30},
		{Type: LimitTypeAPIKey, TargetID: "bench-key", TimeWindow: 3600, MaxRequests: 1 << 30},
		{Type: LimitTypeSource, TargetID: "bench-src", TimeWindow: 3600, MaxRequests: 1 << 30},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := limiter.CheckRateLimit(ctx, rules); err != nil {
			b.Fatal(err)
		}
	}
}
