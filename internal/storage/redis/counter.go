package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/catstream/edge-metrics-go/internal/pkg/logger"
	"go.uber.org/zap"
)

// Counters 尽力而为的分层计数器
//
// IncrementBy 是先读后写, 多个实例并发自增会丢失更新.
// 存储不提供 CAS, 这里不做伪原子, 调用方只能把结果当作近似值.
type Counters struct {
	store Store
}

// NewCounters 创建计数器
func NewCounters(store Store) *Counters {
	return &Counters{store: store}
}

// Read 读取计数; 键不存在返回 found=false
func (c *Counters) Read(ctx context.Context, key string) (int64, bool, error) {
	raw, found, err := c.store.Get(ctx, key)
	if err != nil || !found {
		return 0, found, err
	}
	return parseCount(key, raw), true, nil
}

// IncrementBy 先读后写的自增, 返回写入后的值
func (c *Counters) IncrementBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	current, _, err := c.Read(ctx, key)
	if err != nil {
		return 0, err
	}
	next := current + delta
	if err := c.store.Put(ctx, key, strconv.FormatInt(next, 10), ttl); err != nil {
		return 0, err
	}
	return next, nil
}

// Set 直接覆盖 (后写者胜)
func (c *Counters) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	return c.store.Put(ctx, key, strconv.FormatInt(value, 10), ttl)
}

// Delete 删除计数器
func (c *Counters) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// SumResult 多键求和结果
type SumResult struct {
	Value   int64
	Present bool // 至少一个键存在
}

// Sum 对多个键求和; 任一读取失败即返回错误
func (c *Counters) Sum(ctx context.Context, keys []string) (SumResult, error) {
	var res SumResult
	for _, key := range keys {
		v, found, err := c.Read(ctx, key)
		if err != nil {
			return SumResult{}, err
		}
		if found {
			res.Present = true
			res.Value += v
		}
	}
	return res, nil
}

// parseCount 非数字内容按 0 处理并告警, 下一次写入会覆盖
func parseCount(key, raw string) int64 {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		logger.Warn("⚠️ Non-numeric counter value, treating as zero",
			zap.String("key", key),
			zap.String("value", raw))
		return 0
	}
	return v
}
