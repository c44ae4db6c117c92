package redis

import (
	"fmt"
	"time"
)

// Timezone 计数器分桶使用的固定时区偏移
type Timezone struct {
	Offset time.Duration
}

// NewTimezone 按小时偏移创建
func NewTimezone(offsetHours int) Timezone {
	return Timezone{Offset: time.Duration(offsetHours) * time.Hour}
}

// local 获取偏移后的时间
func (tz Timezone) local(t time.Time) time.Time {
	return t.UTC().Add(tz.Offset)
}

// Day 日期字符串 (YYYY-MM-DD)
func (tz Timezone) Day(t time.Time) string {
	return tz.local(t).Format("2006-01-02")
}

// Hour 小时字符串 (YYYY-MM-DD:HH)
func (tz Timezone) Hour(t time.Time) string {
	l := tz.local(t)
	return fmt.Sprintf("%s:%02d", l.Format("2006-01-02"), l.Hour())
}

// HoursBack 从 t 所在小时起向前 n 个小时桶 (含当前小时)
func (tz Timezone) HoursBack(t time.Time, n int) []string {
	hours := make([]string, 0, n)
	for i := 0; i < n; i++ {
		hours = append(hours, tz.Hour(t.Add(-time.Duration(i)*time.Hour)))
	}
	return hours
}

// BucketPlan 区间内完整落入的计数器桶
type BucketPlan struct {
	Days  []string
	Hours []string
	// [Start, End) 为计数器实际覆盖的时间窗口
	Start time.Time
	End   time.Time
}

// Empty 区间内没有完整的桶
func (p BucketPlan) Empty() bool {
	return len(p.Days) == 0 && len(p.Hours) == 0
}

// Keys 某个计数器覆盖窗口内的全部键
func (p BucketPlan) Keys(counter string) []string {
	keys := make([]string, 0, len(p.Days)+len(p.Hours))
	for _, day := range p.Days {
		keys = append(keys, MetricsCounterKey(day, counter))
	}
	for _, hour := range p.Hours {
		keys = append(keys, MetricsCounterKey(hour, counter))
	}
	return keys
}

// Buckets 把区间拆成完整的日桶与小时桶.
// 起点向上, 终点向下取整到小时; 不足一小时的首尾部分不在覆盖窗口内.
func (tz Timezone) Buckets(start, end time.Time) BucketPlan {
	from := start.UTC().Truncate(time.Hour)
	if from.Before(start) {
		from = from.Add(time.Hour)
	}
	to := end.UTC().Truncate(time.Hour)
	if !from.Before(to) {
		return BucketPlan{Start: from, End: from}
	}

	plan := BucketPlan{Start: from, End: to}
	for t := from; t.Before(to); {
		if tz.local(t).Hour() == 0 && !t.Add(24*time.Hour).After(to) {
			plan.Days = append(plan.Days, tz.Day(t))
			t = t.Add(24 * time.Hour)
			continue
		}
		plan.Hours = append(plan.Hours, tz.Hour(t))
		t = t.Add(time.Hour)
	}
	return plan
}
