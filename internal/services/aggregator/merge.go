package aggregator

import "github.com/catstream/edge-metrics-go/internal/events"

// CounterValue 单个计数器读数; Present 表示键存在
type CounterValue struct {
	Value   int64
	Present bool
}

// CounterTotals 计数器存储提供的原始总数
type CounterTotals struct {
	RequestsTotal   CounterValue
	RequestsSuccess CounterValue
	RequestsFail    CounterValue
	RedirectClicks  CounterValue
	CacheHits       CounterValue
	CacheMisses     CounterValue
	// Window 计数器桶覆盖的时间窗口, 可能比查询范围短
	Window *TimeRange
}

// Any 是否有任一计数器存在
func (c CounterTotals) Any() bool {
	return c.RequestsTotal.Present || c.RequestsSuccess.Present || c.RequestsFail.Present ||
		c.RedirectClicks.Present || c.CacheHits.Present || c.CacheMisses.Present
}

// AddEvents 把计数器窗口之外的事件按写路径的计数口径补进已存在的计数器值:
// API 请求计入请求数, 短链跳转计入点击数. 缓存命中没有对应事件, 不做补齐.
func (c CounterTotals) AddEvents(evs []events.Event) CounterTotals {
	for _, ev := range evs {
		switch e := ev.(type) {
		case events.APIRequest:
			c.RequestsTotal = c.RequestsTotal.add(1)
			if events.Failed(e) {
				c.RequestsFail = c.RequestsFail.add(1)
			} else {
				c.RequestsSuccess = c.RequestsSuccess.add(1)
			}
		case events.Redirect:
			c.RedirectClicks = c.RedirectClicks.add(e.ClickCount)
		}
	}
	return c
}

func (v CounterValue) add(n int64) CounterValue {
	if v.Present {
		v.Value += n
	}
	return v
}

// Merge 合并优先级:
// 原始总数 (请求数, 点击数, 缓存命中/未命中) 以计数器为准;
// 分组与明细 (热门短链, 地域, UA) 只能来自事件.
// 某个计数器不存在时保留事件推导值.
func Merge(s Snapshot, c CounterTotals) Snapshot {
	if c.Any() && c.Window != nil {
		window := *c.Window
		s.Sources.CounterWindow = &window
	}
	if c.RequestsTotal.Present {
		s.Overview.TotalRequests = c.RequestsTotal.Value
		s.Sources.TotalRequests = SourceCounters
	}
	if c.RequestsSuccess.Present {
		s.Overview.SuccessfulRequests = c.RequestsSuccess.Value
		s.Sources.SuccessfulRequests = SourceCounters
	}
	if c.RequestsFail.Present {
		s.Overview.FailedRequests = c.RequestsFail.Value
		s.Sources.FailedRequests = SourceCounters
	}
	if c.RedirectClicks.Present {
		s.Redirects.TotalClicks = c.RedirectClicks.Value
		s.Sources.TotalClicks = SourceCounters
	}
	if c.CacheHits.Present || c.CacheMisses.Present {
		s.Cache.Hits = c.CacheHits.Value
		s.Cache.Misses = c.CacheMisses.Value
		s.Cache.HitRate = percent(s.Cache.Hits, s.Cache.Hits+s.Cache.Misses)
		s.Sources.Cache = SourceCounters
	}
	return s
}
