// Package metricscache 在计数器存储上缓存聚合快照, 带固定的新鲜度窗口
package metricscache

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/catstream/edge-metrics-go/internal/pkg/logger"
	"github.com/catstream/edge-metrics-go/internal/pkg/telemetry"
	"github.com/catstream/edge-metrics-go/internal/services/aggregator"
	"github.com/catstream/edge-metrics-go/internal/storage/redis"
	"go.uber.org/zap"
)

// DefaultFreshness 默认新鲜度窗口
const DefaultFreshness = 5 * time.Minute

// Entry 存储中的缓存条目
type Entry struct {
	Data     aggregator.Snapshot `json:"data"`
	CachedAt time.Time           `json:"cachedAt"`
}

// Result 查询结果; Cached 始终显式给出
type Result struct {
	Data      aggregator.Snapshot
	Cached    bool
	CachedAt  time.Time
	ExpiresAt time.Time // 降级结果不缓存, 为零值
}

// ComputeFunc 未命中时的计算函数
type ComputeFunc func(ctx context.Context) (aggregator.Snapshot, error)

// Cache 聚合快照缓存
type Cache struct {
	store     redis.Store
	freshness time.Duration
	now       func() time.Time
	onLookup  func(hit bool)
}

// Option 配置项
type Option func(*Cache)

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLookupHook 每次查找后回调 (用于缓存命中计数)
func WithLookupHook(fn func(hit bool)) Option {
	return func(c *Cache) { c.onLookup = fn }
}

// New 创建缓存
func New(store redis.Store, freshness time.Duration, opts ...Option) *Cache {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	c := &Cache{store: store, freshness: freshness, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fingerprint 查询参数的确定性序列化 (键排序)
func Fingerprint(params url.Values) string {
	if len(params) == 0 {
		return "all"
	}
	return params.Encode()
}

// GetOrCompute 命中且新鲜时返回缓存, 否则重新计算并写回
func (c *Cache) GetOrCompute(ctx context.Context, params url.Values, compute ComputeFunc) (Result, error) {
	key := redis.MetricsCacheKey(Fingerprint(params))
	now := c.now()

	if entry, ok := c.lookup(ctx, key, now); ok {
		c.report(true, "hit")
		return Result{
			Data:      entry.Data,
			Cached:    true,
			CachedAt:  entry.CachedAt,
			ExpiresAt: entry.CachedAt.Add(c.freshness),
		}, nil
	}
	c.report(false, "miss")

	data, err := compute(ctx)
	if err != nil {
		return Result{}, err
	}

	res := Result{Data: data, Cached: false, CachedAt: now}
	if data.Availability != nil && data.Availability.Degraded {
		// 降级结果不能被当作真实数据缓存
		return res, nil
	}

	res.ExpiresAt = now.Add(c.freshness)
	c.save(ctx, key, Entry{Data: data, CachedAt: now})
	return res, nil
}

// Invalidate 删除某个查询的缓存
func (c *Cache) Invalidate(ctx context.Context, params url.Values) error {
	return c.store.Delete(ctx, redis.MetricsCacheKey(Fingerprint(params)))
}

func (c *Cache) lookup(ctx context.Context, key string, now time.Time) (Entry, bool) {
	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		logger.Warn("⚠️ Metrics cache read failed, recomputing", zap.String("key", key), zap.Error(err))
		return Entry{}, false
	}
	if !found {
		return Entry{}, false
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		telemetry.CacheLookups.WithLabelValues("corrupt").Inc()
		logger.Warn("⚠️ Corrupted metrics cache entry", zap.String("key", key), zap.Error(err))
		return Entry{}, false
	}

	// 存储最终一致, 键可能在 TTL 之后仍可见
	if now.Sub(entry.CachedAt) >= c.freshness {
		telemetry.CacheLookups.WithLabelValues("stale").Inc()
		return Entry{}, false
	}
	return entry, true
}

func (c *Cache) report(hit bool, label string) {
	telemetry.CacheLookups.WithLabelValues(label).Inc()
	if c.onLookup != nil {
		c.onLookup(hit)
	}
}

// save 写回失败只记录日志, 结果照常返回
func (c *Cache) save(ctx context.Context, key string, entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		logger.Warn("⚠️ Failed to encode metrics cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.Put(ctx, key, string(data), c.freshness); err != nil {
		telemetry.WriteFailures.WithLabelValues("cache").Inc()
		logger.Warn("⚠️ Failed to store metrics cache entry", zap.String("key", key), zap.Error(err))
	}
}
