package metrics

import (
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/catstream/edge-metrics-go/internal/events"
	"github.com/catstream/edge-metrics-go/internal/pkg/apperr"
	"github.com/catstream/edge-metrics-go/internal/services/aggregator"
	"github.com/catstream/edge-metrics-go/internal/storage/analytics"
)

// DefaultRange 未指定时的时间范围
const DefaultRange = "24h"

// Ranges 支持的相对时间范围
var Ranges = map[string]time.Duration{
	"1h":  time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// Params 指标查询参数
type Params struct {
	Range      string
	Start      time.Time
	End        time.Time
	Types      []events.Kind
	Index      string
	Dimensions map[string]string
	Limit      int
	// absolute 由 start/end 指定, 缓存键使用绝对时间
	absolute bool
}

// ParseParams 解析查询串; start/end 优先于 range
func ParseParams(values url.Values, now time.Time) (Params, error) {
	p := Params{Dimensions: map[string]string{}}

	startRaw, endRaw := values.Get("start"), values.Get("end")
	switch {
	case startRaw != "" || endRaw != "":
		start, err := parseTime(startRaw)
		if err != nil {
			return p, apperr.Invalid("invalid start %q", startRaw)
		}
		end := now
		if endRaw != "" {
			if end, err = parseTime(endRaw); err != nil {
				return p, apperr.Invalid("invalid end %q", endRaw)
			}
		}
		if end.Before(start) {
			return p, apperr.Invalid("end is before start")
		}
		p.Start, p.End, p.Range, p.absolute = start.UTC(), end.UTC(), "custom", true
	default:
		p.Range = values.Get("range")
		if p.Range == "" {
			p.Range = DefaultRange
		}
		d, ok := Ranges[p.Range]
		if !ok {
			return p, apperr.Invalid("unsupported range %q", p.Range)
		}
		p.End = now.UTC()
		p.Start = p.End.Add(-d)
	}

	for _, raw := range values["type"] {
		for _, t := range strings.Split(raw, ",") {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			k := events.Kind(t)
			if !k.Known() {
				return p, apperr.Invalid("unknown event type %q", t)
			}
			if !slices.Contains(p.Types, k) {
				p.Types = append(p.Types, k)
			}
		}
	}
	slices.Sort(p.Types)

	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return p, apperr.Invalid("invalid limit %q", raw)
		}
		p.Limit = n
	}

	p.Index = values.Get("index")
	for key, vals := range values {
		if strings.HasPrefix(key, "blob") && len(vals) > 0 {
			if !events.ValidColumn(key) {
				return p, apperr.Invalid("unsupported dimension %q", key)
			}
			p.Dimensions[key] = vals[0]
		}
	}
	return p, nil
}

// Query 转换为事件存储查询
func (p Params) Query() analytics.Query {
	return analytics.Query{
		Start:      p.Start,
		End:        p.End,
		Types:      p.Types,
		Index:      p.Index,
		Dimensions: p.Dimensions,
		Limit:      p.Limit,
	}
}

// TimeRange 快照中的时间范围
func (p Params) TimeRange() aggregator.TimeRange {
	return aggregator.TimeRange{Start: p.Start, End: p.End, Range: p.Range}
}

// CacheKey 缓存键使用的规范化参数; 相对范围只记录范围名
func (p Params) CacheKey(view string) url.Values {
	v := url.Values{}
	v.Set("view", view)
	if p.absolute {
		v.Set("start", p.Start.Format(time.RFC3339))
		v.Set("end", p.End.Format(time.RFC3339))
	} else {
		v.Set("range", p.Range)
	}
	if len(p.Types) > 0 {
		types := make([]string, len(p.Types))
		for i, k := range p.Types {
			types[i] = string(k)
		}
		v.Set("type", strings.Join(types, ","))
	}
	if p.Index != "" {
		v.Set("index", p.Index)
	}
	for col, val := range p.Dimensions {
		v.Set(col, val)
	}
	if p.Limit > 0 {
		v.Set("limit", strconv.Itoa(p.Limit))
	}
	return v
}

// parseTime 接受 RFC3339 或毫秒时间戳
func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, apperr.Invalid("empty time")
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Parse(time.RFC3339, raw)
}
