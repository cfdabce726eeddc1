/*
 * @module api/middleware/rate_limit
 * @description 采集接口限流中间件，按全局/ApiKey/数据源三级窗口限制上报频率
 * @architecture 中间件模式 - HTTP请求拦截和验证
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 提取限流维度 -> Redis窗口检查 -> 写入X-RateLimit头 -> 放行或429
 * @rules 限流器未配置或Redis故障时放行，限流只保护采集链路不作为安全边界
 * @dependencies sensorhub-service/service/rate_limiter, sensorhub-service/service/metrics
 * @refs api/routes.go, service/rate_limiter
 */

package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"sensorhub-service/service/metrics"
	"sensorhub-service/service/rate_limiter"

	"github.com/go-chi/render"
)

// IngestRateLimitMiddleware 采集接口限流中间件
type IngestRateLimitMiddleware struct {
	limiter *rate_limiter.RedisRateLimiter
}

// NewIngestRateLimitMiddleware 创建采集限流中间件实例
// limiter为nil时所有请求直接放行（未配置Redis的单机部署）
func NewIngestRateLimitMiddleware(limiter *rate_limiter.RedisRateLimiter) *IngestRateLimitMiddleware {
	return &IngestRateLimitMiddleware{limiter: limiter}
}

// Middleware 限流处理函数
// ApiKey维度取上下文中已验证的凭证ID，数据源维度取X-Source-ID头或source_id查询参数
func (m *IngestRateLimitMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		apiKeyID := ""
		if apiKey, ok := GetApiKeyFromContext(r.Context()); ok {
			apiKeyID = apiKey.ID
		}

		sourceID := r.Header.Get("X-Source-ID")
		if sourceID == "" {
			sourceID = r.URL.Query().Get("source_id")
		}

		rules := rate_limiter.DefaultIngestRules(apiKeyID, sourceID)
		result, err := m.limiter.CheckRateLimit(r.Context(), rules)
		if err != nil {
			// Redis故障时放行，采集链路可用性优先于限流精度
			slog.Warn("限流检查失败，跳过本次限流",
				"path", r.URL.Path,
				"error", err)
			next.ServeHTTP(w, r)
			return
		}

		if result.Limit >= 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))
		}

		if !result.Allowed {
			metrics.ReadingsRejected.WithLabelValues("http_push", "rate_limited").Inc()

			retryAfter := result.ResetAt - time.Now().Unix()
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			render.JSON(w, r, map[string]interface{}{
				"status": http.StatusTooManyRequests,
				"msg":    fmt.Sprintf("请求频率超限: %s", result.Message),
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
