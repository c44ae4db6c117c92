package handlers

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/catstream/edge-metrics-go/internal/encoding"
	"github.com/catstream/edge-metrics-go/internal/middleware"
	"github.com/catstream/edge-metrics-go/internal/pkg/apperr"
	"github.com/catstream/edge-metrics-go/internal/pkg/logger"
	"github.com/catstream/edge-metrics-go/internal/storage/redis"
	"github.com/catstream/edge-metrics-go/pkg/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// scanBatch 每次 SCAN 的 COUNT 提示
const scanBatch = 1000

// CacheInvalidator 计数器写入后需要丢弃的快照缓存 (metrics.Service)
type CacheInvalidator interface {
	InvalidateCounterViews(ctx context.Context) error
}

// CountersHandler 分层计数器管理接口, 仅允许访问 metrics: 命名空间
type CountersHandler struct {
	counters    *redis.Counters
	scanner     redis.Scanner
	invalidator CacheInvalidator
	now         func() time.Time
}

// CountersOption 配置项
type CountersOption func(*CountersHandler)

// WithCacheInvalidator 自增与覆盖后清理快照缓存
func WithCacheInvalidator(inv CacheInvalidator) CountersOption {
	return func(h *CountersHandler) { h.invalidator = inv }
}

// NewCountersHandler 创建计数器处理器; scanner 为 nil 时列表接口不可用
func NewCountersHandler(counters *redis.Counters, scanner redis.Scanner, opts ...CountersOption) *CountersHandler {
	h := &CountersHandler{counters: counters, scanner: scanner, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// invalidate 缓存清理失败不影响写入结果
func (h *CountersHandler) invalidate(c *gin.Context, key string) {
	if h.invalidator == nil {
		return
	}
	if err := h.invalidator.InvalidateCounterViews(c.Request.Context()); err != nil {
		logger.Warn("⚠️ Failed to invalidate metrics cache after counter write",
			zap.String("key", key), zap.Error(err))
	}
}

// counterWrite 自增与覆盖的请求体
type counterWrite struct {
	Delta      *int64 `json:"delta"`
	Value      *int64 `json:"value"`
	TTLSeconds int64  `json:"ttlSeconds"`
}

func (w counterWrite) ttl() time.Duration {
	if w.TTLSeconds <= 0 {
		return redis.TTLMetricsDaily
	}
	return time.Duration(w.TTLSeconds) * time.Second
}

// List 按前缀列出计数器
func (h *CountersHandler) List(c *gin.Context) {
	if h.scanner == nil {
		middleware.AbortWithError(c, &apperr.AppError{
			Code:       "not_supported",
			Message:    "counter store does not support key listing",
			StatusCode: http.StatusNotImplemented,
		})
		return
	}

	prefix := c.DefaultQuery("prefix", redis.PrefixMetrics)
	if !strings.HasPrefix(prefix, redis.PrefixMetrics) {
		middleware.AbortWithError(c, apperr.Invalid("prefix must start with %q", redis.PrefixMetrics))
		return
	}
	format, err := encoding.ParseFormat(c.Query("format"))
	if err != nil || format == encoding.FormatText {
		middleware.AbortWithError(c, apperr.Invalid("format must be json or prometheus"))
		return
	}

	ctx := c.Request.Context()
	keys, err := h.scanner.ScanKeys(ctx, prefix+"*", scanBatch)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	sort.Strings(keys)

	values := make(map[string]int64, len(keys))
	for _, key := range keys {
		v, found, err := h.counters.Read(ctx, key)
		if err != nil {
			middleware.AbortWithError(c, err)
			return
		}
		// SCAN 与读取之间过期的键直接跳过
		if found {
			values[key] = v
		}
	}

	if format == encoding.FormatPrometheus {
		body, err := encoding.Counters(values)
		if err != nil {
			middleware.AbortWithError(c, err)
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, format.ContentType(), body)
		return
	}

	c.JSON(http.StatusOK, types.NewDataResponse(gin.H{
		"prefix":   prefix,
		"counters": values,
		"total":    len(values),
	}, middleware.GetRequestIDFromContext(c), h.now()))
}

// Get 读取单个计数器
func (h *CountersHandler) Get(c *gin.Context) {
	key, ok := h.key(c)
	if !ok {
		return
	}

	value, found, err := h.counters.Read(c.Request.Context(), key)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	if !found {
		middleware.AbortWithError(c, &apperr.AppError{
			Code:       "counter_not_found",
			Message:    "counter not found",
			StatusCode: http.StatusNotFound,
		})
		return
	}

	c.JSON(http.StatusOK, types.NewDataResponse(gin.H{"key": key, "value": value}, middleware.GetRequestIDFromContext(c), h.now()))
}

// Increment 自增计数器 (先读后写, 并发下为近似值)
func (h *CountersHandler) Increment(c *gin.Context) {
	key, ok := h.key(c)
	if !ok {
		return
	}

	var req counterWrite
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.AbortWithError(c, apperr.Invalid("invalid body: %v", err))
			return
		}
	}
	delta := int64(1)
	if req.Delta != nil {
		delta = *req.Delta
	}

	value, err := h.counters.IncrementBy(c.Request.Context(), key, delta, req.ttl())
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	h.invalidate(c, key)

	c.JSON(http.StatusOK, types.NewDataResponse(gin.H{"key": key, "value": value}, middleware.GetRequestIDFromContext(c), h.now()))
}

// Put 覆盖计数器
func (h *CountersHandler) Put(c *gin.Context) {
	key, ok := h.key(c)
	if !ok {
		return
	}

	var req counterWrite
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, apperr.Invalid("invalid body: %v", err))
		return
	}
	if req.Value == nil {
		middleware.AbortWithError(c, apperr.Invalid("value is required"))
		return
	}

	if err := h.counters.Set(c.Request.Context(), key, *req.Value, req.ttl()); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	logger.Info("✏️ Counter overwritten",
		zap.String("key", key),
		zap.Int64("value", *req.Value))
	h.invalidate(c, key)

	c.JSON(http.StatusOK, types.NewDataResponse(gin.H{"key": key, "value": *req.Value}, middleware.GetRequestIDFromContext(c), h.now()))
}

// key 校验路径中的计数器键
func (h *CountersHandler) key(c *gin.Context) (string, bool) {
	key := c.Param("key")
	if !strings.HasPrefix(key, redis.PrefixMetrics) || len(key) == len(redis.PrefixMetrics) {
		middleware.AbortWithError(c, apperr.Invalid("counter key must start with %q", redis.PrefixMetrics))
		return "", false
	}
	return key, true
}
