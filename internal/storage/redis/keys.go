package redis

import (
	"strings"
	"time"
)

// Key 前缀常量
const (
	// 分层计数器, 形如 metrics:2024-01-15:requests:total
	PrefixMetrics = "metrics:"

	// 限流窗口, ratelimit:<subject>:<endpoint>
	PrefixRateLimit = "ratelimit:"

	// 聚合指标缓存
	PrefixMetricsCache = "metrics_cache:"

	// 令牌吊销名单与使用统计
	PrefixRevokedToken = "revoked_token:"
	PrefixTokenUsage   = "token_usage:"
)

// 计数器名称
const (
	CounterRequestsTotal   = "requests:total"
	CounterRequestsSuccess = "requests:success"
	CounterRequestsFail    = "requests:fail"
	CounterRedirectClicks  = "redirects:clicks"
	CounterCacheHits       = "cache:hits"
	CounterCacheMisses     = "cache:misses"
)

// 令牌使用字段
const (
	TokenFieldTotal       = "total"
	TokenFieldSuccess     = "success"
	TokenFieldFail        = "fail"
	TokenFieldRateLimited = "rate_limited"
	TokenFieldLastUsed    = "last_used"
	TokenFieldCreatedAt   = "created_at"
	TokenFieldMaxRequests = "max_requests"
	TokenFieldHourly      = "hourly"
)

// TTL 常量
const (
	TTLMetricsDaily  = 35 * 24 * time.Hour // 35天
	TTLMetricsHourly = 32 * 24 * time.Hour // 覆盖 30d 范围的首尾小时
	TTLRevokedToken  = 30 * 24 * time.Hour // 30天
	TTLTokenUsage    = 90 * 24 * time.Hour // 每次写入续期
	TTLTokenHourly   = 25 * time.Hour      // 覆盖滚动 24h
	TTLMetricsCache  = 5 * time.Minute
	RateLimitTTLSlop = time.Second // 窗口 TTL 额外余量
)

// 扫描批量
const ScanBatchSize = 200

// JoinKey 拼接分层键, 忽略空段
func JoinKey(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, ":")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ":")
}

// MetricsCounterKey 日维度计数器键
func MetricsCounterKey(day, counter string) string {
	return PrefixMetrics + JoinKey(day, counter)
}

// RateLimitKey 限流窗口键
func RateLimitKey(subject, endpoint string) string {
	return PrefixRateLimit + subject + ":" + endpoint
}

// RevokedTokenKey 吊销名单键
func RevokedTokenKey(uuid string) string {
	return PrefixRevokedToken + uuid
}

// TokenUsageKey 令牌使用字段键
func TokenUsageKey(uuid string, field ...string) string {
	return PrefixTokenUsage + JoinKey(append([]string{uuid}, field...)...)
}

// MetricsCacheKey 缓存键
func MetricsCacheKey(fingerprint string) string {
	return PrefixMetricsCache + fingerprint
}
