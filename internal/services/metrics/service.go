// Package metrics 读路径编排 (计数器与事件并行读取, 聚合, 合并, 缓存) 与写路径记录器
package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/catstream/edge-metrics-go/internal/events"
	"github.com/catstream/edge-metrics-go/internal/pkg/apperr"
	"github.com/catstream/edge-metrics-go/internal/pkg/logger"
	"github.com/catstream/edge-metrics-go/internal/services/aggregator"
	"github.com/catstream/edge-metrics-go/internal/services/metricscache"
	"github.com/catstream/edge-metrics-go/internal/storage/analytics"
	"github.com/catstream/edge-metrics-go/internal/storage/redis"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// 缓存视图
const (
	ViewMetrics   = "metrics"
	ViewAnalytics = "analytics"
)

// 数据源名称 (降级标记使用)
const (
	SourceCounters = "counters"
	SourceEvents   = "events"
)

// Options 服务参数
type Options struct {
	Timezone     redis.Timezone
	Strict       bool
	DefaultLimit int
	MaxLimit     int
}

// Service 指标读服务
type Service struct {
	counters *redis.Counters
	store    analytics.Store
	cache    *metricscache.Cache
	opts     Options
}

// NewService 创建服务
func NewService(counters *redis.Counters, store analytics.Store, cache *metricscache.Cache, opts Options) *Service {
	if store == nil {
		store = analytics.Disabled()
	}
	return &Service{counters: counters, store: store, cache: cache, opts: opts}
}

// Metrics 合并计数器与事件的快照
func (s *Service) Metrics(ctx context.Context, p Params) (metricscache.Result, error) {
	return s.cache.GetOrCompute(ctx, p.CacheKey(ViewMetrics), func(ctx context.Context) (aggregator.Snapshot, error) {
		return s.compute(ctx, p, true)
	})
}

// Analytics 只基于事件的快照, 支持维度过滤
func (s *Service) Analytics(ctx context.Context, p Params) (metricscache.Result, error) {
	return s.cache.GetOrCompute(ctx, p.CacheKey(ViewAnalytics), func(ctx context.Context) (aggregator.Snapshot, error) {
		return s.compute(ctx, p, false)
	})
}

// InvalidateCounterViews 计数器被人工修改后, 丢弃依赖计数器的相对范围缓存.
// 绝对范围的缓存无法枚举, 在新鲜度窗口内自然过期.
func (s *Service) InvalidateCounterViews(ctx context.Context) error {
	var errs []error
	for name := range Ranges {
		p := Params{Range: name}
		if err := s.cache.Invalidate(ctx, p.CacheKey(ViewMetrics)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EventList 查询结果
type EventList struct {
	Events  []events.Event `json:"events"`
	Count   int            `json:"count"`
	Skipped int            `json:"skipped"`
	// Truncated 区间内的事件多于 limit, 只返回了最新的部分
	Truncated bool `json:"truncated"`
}

// Events 按条件列出解析后的事件, 不经过缓存
func (s *Service) Events(ctx context.Context, p Params) (EventList, error) {
	batch, err := s.fetchEvents(ctx, p)
	if err != nil {
		return EventList{}, err
	}
	evs := batch.events
	if evs == nil {
		evs = []events.Event{}
	}
	return EventList{Events: evs, Count: len(evs), Skipped: batch.skipped, Truncated: batch.truncated}, nil
}

// compute 并行读取两个数据源, 任一失败时按严格模式决定报错或降级
func (s *Service) compute(ctx context.Context, p Params, withCounters bool) (aggregator.Snapshot, error) {
	var batch eventBatch
	var totals aggregator.CounterTotals
	var eventErr, countErr error
	var g errgroup.Group
	plan := s.opts.Timezone.Buckets(p.Start, p.End)

	g.Go(func() error {
		batch, eventErr = s.fetchEvents(ctx, p)
		if batch.skipped > 0 {
			logger.Warn("⚠️ Skipped malformed analytics records", zap.Int("skipped", batch.skipped))
		}
		return nil
	})
	if withCounters {
		g.Go(func() error {
			totals, countErr = s.readCounters(ctx, plan)
			return nil
		})
	}
	_ = g.Wait()

	// 参数错误不是数据源故障, 不能降级
	if errors.Is(eventErr, apperr.ErrInvalidArgument) {
		return aggregator.Snapshot{}, eventErr
	}

	var unavailable []string
	var causes []error
	if eventErr != nil {
		unavailable = append(unavailable, SourceEvents)
		causes = append(causes, eventErr)
	}
	if countErr != nil {
		unavailable = append(unavailable, SourceCounters)
		causes = append(causes, countErr)
	}

	if len(causes) > 0 && s.opts.Strict {
		return aggregator.Snapshot{}, fmt.Errorf("%w: %w", apperr.ErrDataUnavailable, errors.Join(causes...))
	}

	snap := aggregator.Aggregate(batch.events, p.TimeRange())
	if eventErr != nil {
		snap.Sources = noEventSources()
	}
	if withCounters && countErr == nil && totals.Any() {
		// 截断时首尾事件可能不完整, 但仍按已取到的补齐
		if eventErr == nil {
			totals = totals.AddEvents(outsideWindow(batch.events, plan.Start, plan.End))
		}
		snap = aggregator.Merge(snap, totals)
	}

	if len(causes) > 0 {
		logger.Warn("⚠️ Serving degraded metrics snapshot",
			zap.Strings("unavailable", unavailable),
			zap.Error(errors.Join(causes...)))
		snap.Availability = &aggregator.Availability{
			Degraded:    true,
			Unavailable: unavailable,
			Reason:      errors.Join(causes...).Error(),
		}
	}
	if batch.truncated {
		logger.Warn("⚠️ Event query hit its limit, snapshot covers newest events only",
			zap.Int("limit", batch.limit))
		if snap.Availability == nil {
			snap.Availability = &aggregator.Availability{Unavailable: []string{}}
		}
		snap.Availability.Truncated = true
		snap.Availability.EventLimit = batch.limit
		snap.Availability.Reason = joinReason(snap.Availability.Reason,
			fmt.Sprintf("event query reached limit %d, event-derived values cover only the newest %d events", batch.limit, batch.limit))
	}
	return snap, nil
}

// eventBatch 一次事件查询的结果
type eventBatch struct {
	events    []events.Event
	skipped   int
	truncated bool
	limit     int
}

// fetchEvents 多取一条用于判断是否被 limit 截断
func (s *Service) fetchEvents(ctx context.Context, p Params) (eventBatch, error) {
	q, err := p.Query().Normalize(s.opts.DefaultLimit, s.opts.MaxLimit)
	if err != nil {
		return eventBatch{}, err
	}
	limit := q.Limit
	q.Limit++
	records, err := s.store.Query(ctx, q)
	if err != nil {
		return eventBatch{}, err
	}
	batch := eventBatch{limit: limit}
	if len(records) > limit {
		records = records[:limit]
		batch.truncated = true
	}
	batch.events, batch.skipped = events.Parse(records)
	return batch, nil
}

// readCounters 对覆盖窗口内的日桶与小时桶求和; 没有完整的桶时不读
func (s *Service) readCounters(ctx context.Context, plan redis.BucketPlan) (aggregator.CounterTotals, error) {
	if plan.Empty() {
		return aggregator.CounterTotals{}, nil
	}
	read := func(counter string) (aggregator.CounterValue, error) {
		sum, err := s.counters.Sum(ctx, plan.Keys(counter))
		return aggregator.CounterValue{Value: sum.Value, Present: sum.Present}, err
	}

	totals := aggregator.CounterTotals{
		Window: &aggregator.TimeRange{Start: plan.Start, End: plan.End},
	}
	targets := []struct {
		counter string
		dst     *aggregator.CounterValue
	}{
		{redis.CounterRequestsTotal, &totals.RequestsTotal},
		{redis.CounterRequestsSuccess, &totals.RequestsSuccess},
		{redis.CounterRequestsFail, &totals.RequestsFail},
		{redis.CounterRedirectClicks, &totals.RedirectClicks},
		{redis.CounterCacheHits, &totals.CacheHits},
		{redis.CounterCacheMisses, &totals.CacheMisses},
	}

	g, _ := errgroup.WithContext(ctx)
	for _, t := range targets {
		g.Go(func() error {
			v, err := read(t.counter)
			*t.dst = v
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return aggregator.CounterTotals{}, err
	}
	return totals, nil
}

// outsideWindow 落在计数器窗口 [start, end) 之外的事件
func outsideWindow(evs []events.Event, start, end time.Time) []events.Event {
	var out []events.Event
	for _, ev := range evs {
		ts := ev.Meta().Timestamp
		if ts.Before(start) || !ts.Before(end) {
			out = append(out, ev)
		}
	}
	return out
}

func joinReason(existing, next string) string {
	if existing == "" {
		return next
	}
	return existing + "; " + next
}

func noEventSources() aggregator.Sources {
	return aggregator.Sources{
		TotalRequests:      aggregator.SourceNone,
		SuccessfulRequests: aggregator.SourceNone,
		FailedRequests:     aggregator.SourceNone,
		TotalClicks:        aggregator.SourceNone,
		Cache:              aggregator.SourceNone,
		Breakdowns:         aggregator.SourceNone,
	}
}

// Health 数据源健康状态
func (s *Service) Health(ctx context.Context) map[string]string {
	status := map[string]string{SourceEvents: "ok"}
	if err := s.store.Ping(ctx); err != nil {
		status[SourceEvents] = "unavailable"
	}
	return status
}
