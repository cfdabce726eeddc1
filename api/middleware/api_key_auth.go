/*
 * @module api/middleware/api_key_auth
 * @description 数据集下载ApiKey鉴权中间件，校验下载凭证并注入请求上下文
 * @architecture 中间件模式 - HTTP请求拦截和验证
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow Key提取 -> 缓存命中或bcrypt校验 -> 上下文注入 -> 下一个处理器
 * @rules bcrypt比对开销大，校验结果短时缓存；缓存命中的请求不重复更新使用计数
 * @dependencies sensorhub-service/service/access, github.com/go-chi/render
 * @refs api/routes.go, service/access
 */

package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"sensorhub-service/service/access"
	"sensorhub-service/service/models"

	"github.com/go-chi/render"
)

// ContextKey 上下文键类型
type ContextKey string

const (
	// ApiKeyKey 通过验证的下载凭证在上下文中的键
	ApiKeyKey ContextKey = "api_key"
)

// ApiKeyAuthMiddleware 下载凭证鉴权中间件
type ApiKeyAuthMiddleware struct {
	access *access.AccessService
	// 校验结果缓存
	cache      map[string]*keyCacheEntry
	cacheMutex sync.RWMutex
	cacheTTL   time.Duration
	// 白名单路径（不需要鉴权）
	whitelistPaths []string
}

// keyCacheEntry 缓存条目
type keyCacheEntry struct {
	apiKey    *models.ApiKey
	expiresAt time.Time
}

// NewApiKeyAuthMiddleware 创建下载凭证鉴权中间件实例
func NewApiKeyAuthMiddleware(accessService *access.AccessService) *ApiKeyAuthMiddleware {
	return &ApiKeyAuthMiddleware{
		access:   accessService,
		cache:    make(map[string]*keyCacheEntry),
		cacheTTL: 5 * time.Minute, // 缓存5分钟
	}
}

// AddWhitelistPath 添加白名单路径
func (m *ApiKeyAuthMiddleware) AddWhitelistPath(path string) {
	m.whitelistPaths = append(m.whitelistPaths, path)
}

// IsWhitelistPath 检查路径是否在白名单中
func (m *ApiKeyAuthMiddleware) IsWhitelistPath(path string) bool {
	for _, whitelistPath := range m.whitelistPaths {
		// 支持前缀匹配
		if strings.HasPrefix(path, whitelistPath) {
			return true
		}
	}
	return false
}

// ExtractApiKey 从请求中提取API Key
// 优先级：X-API-Key头 > Authorization Bearer > api_key查询参数（供浏览器直接下载CSV）
func ExtractApiKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		if key := strings.TrimPrefix(authHeader, "Bearer "); key != "" {
			return key
		}
	}

	return r.URL.Query().Get("api_key")
}

// Middleware 鉴权中间件处理函数，缺少或无效的Key一律拒绝
func (m *ApiKeyAuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 检查是否在白名单中
		if m.IsWhitelistPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		keyValue := ExtractApiKey(r)
		if keyValue == "" {
			m.respondUnauthorized(w, r, "缺少API Key，请通过X-API-Key头或Authorization Bearer提供")
			return
		}

		apiKey, err := m.authenticate(keyValue)
		if err != nil {
			m.respondUnauthorized(w, r, fmt.Sprintf("API Key验证失败: %v", err))
			return
		}

		// 将通过验证的凭证注入到上下文中
		ctx := context.WithValue(r.Context(), ApiKeyKey, apiKey)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Optional 可选鉴权处理函数：携带Key时校验并注入上下文，未携带时匿名放行
// 供采集接口使用，让按Key限流能拿到Key身份而不强制所有采集端持有凭证
func (m *ApiKeyAuthMiddleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keyValue := ExtractApiKey(r)
		if keyValue == "" {
			next.ServeHTTP(w, r)
			return
		}

		// 提供了Key就必须是有效的
		apiKey, err := m.authenticate(keyValue)
		if err != nil {
			m.respondUnauthorized(w, r, fmt.Sprintf("API Key验证失败: %v", err))
			return
		}

		ctx := context.WithValue(r.Context(), ApiKeyKey, apiKey)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticate 校验API Key，优先使用缓存结果
func (m *ApiKeyAuthMiddleware) authenticate(keyValue string) (*models.ApiKey, error) {
	if apiKey := m.getFromCache(keyValue); apiKey != nil {
		return apiKey, nil
	}

	apiKey, err := m.access.VerifyApiKey(keyValue)
	if err != nil {
		return nil, err
	}

	m.saveToCache(keyValue, apiKey)
	return apiKey, nil
}

// getFromCache 从缓存中获取校验结果
func (m *ApiKeyAuthMiddleware) getFromCache(keyValue string) *models.ApiKey {
	m.cacheMutex.RLock()
	defer m.cacheMutex.RUnlock()

	entry, exists := m.cache[keyValue]
	if !exists {
		return nil
	}

	// 检查是否过期
	if time.Now().After(entry.expiresAt) {
		// 异步删除过期缓存
		go m.removeFromCache(keyValue)
		return nil
	}

	return entry.apiKey
}

// saveToCache 保存校验结果到缓存
func (m *ApiKeyAuthMiddleware) saveToCache(keyValue string, apiKey *models.ApiKey) {
	m.cacheMutex.Lock()
	defer m.cacheMutex.Unlock()

	// 计算缓存过期时间（取Key过期时间和缓存TTL的较小值）
	cacheExpiry := time.Now().Add(m.cacheTTL)
	if apiKey.ExpiresAt != nil && apiKey.ExpiresAt.Before(cacheExpiry) {
		cacheExpiry = *apiKey.ExpiresAt
	}

	m.cache[keyValue] = &keyCacheEntry{
		apiKey:    apiKey,
		expiresAt: cacheExpiry,
	}
}

// removeFromCache 从缓存中删除Key
func (m *ApiKeyAuthMiddleware) removeFromCache(keyValue string) {
	m.cacheMutex.Lock()
	defer m.cacheMutex.Unlock()

	delete(m.cache, keyValue)
}

// ClearExpiredCache 清理过期缓存（可以定期调用）
func (m *ApiKeyAuthMiddleware) ClearExpiredCache() int {
	m.cacheMutex.Lock()
	defer m.cacheMutex.Unlock()

	now := time.Now()
	clearedCount := 0

	for keyValue, entry := range m.cache {
		if now.After(entry.expiresAt) {
			delete(m.cache, keyValue)
			clearedCount++
		}
	}

	return clearedCount
}

// GetCacheStats 获取缓存统计信息
func (m *ApiKeyAuthMiddleware) GetCacheStats() map[string]interface{} {
	m.cacheMutex.RLock()
	defer m.cacheMutex.RUnlock()

	stats := map[string]interface{}{
		"total_cached": len(m.cache),
		"cache_ttl":    m.cacheTTL.String(),
	}

	now := time.Now()
	validCount := 0
	expiredCount := 0

	for _, entry := range m.cache {
		if now.After(entry.expiresAt) {
			expiredCount++
		} else {
			validCount++
		}
	}

	stats["valid_cached"] = validCount
	stats["expired_cached"] = expiredCount

	return stats
}

// respondUnauthorized 返回401未授权响应
func (m *ApiKeyAuthMiddleware) respondUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	render.JSON(w, r, map[string]interface{}{
		"status": http.StatusUnauthorized,
		"msg":    message,
	})
}

// GetApiKeyFromContext 从上下文中获取通过验证的下载凭证
func GetApiKeyFromContext(ctx context.Context) (*models.ApiKey, bool) {
	apiKey, ok := ctx.Value(ApiKeyKey).(*models.ApiKey)
	return apiKey, ok
}
