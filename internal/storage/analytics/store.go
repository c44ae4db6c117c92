// Package analytics 提供只追加、按时间索引的事件存储.
// 支持 SQLite 与 PostgreSQL 两种后端, 写入走缓冲的 Writer, 读取按时间范围查询.
package analytics

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/catstream/edge-metrics-go/internal/events"
	"github.com/catstream/edge-metrics-go/internal/pkg/apperr"
)

// 查询行数限制
const (
	DefaultQueryLimit = 1000
	MaxQueryLimit     = 10000
)

// Query 时间范围查询条件
type Query struct {
	Start time.Time
	End   time.Time
	// Types 为空表示所有类型
	Types []events.Kind
	Index string
	// Dimensions blobN -> 值, 等值过滤
	Dimensions map[string]string
	Limit      int
}

// Normalize 校验并补全查询; maxLimit<=0 时使用 MaxQueryLimit
func (q Query) Normalize(defaultLimit, maxLimit int) (Query, error) {
	if maxLimit <= 0 {
		maxLimit = MaxQueryLimit
	}
	if defaultLimit <= 0 || defaultLimit > maxLimit {
		defaultLimit = min(DefaultQueryLimit, maxLimit)
	}
	if q.Start.IsZero() || q.End.IsZero() {
		return q, apperr.Invalid("query requires start and end")
	}
	if q.End.Before(q.Start) {
		return q, apperr.Invalid("query end is before start")
	}
	for col := range q.Dimensions {
		if !events.ValidColumn(col) || !strings.HasPrefix(col, "blob") {
			return q, apperr.Invalid("unsupported dimension %q", col)
		}
	}
	switch {
	case q.Limit <= 0:
		q.Limit = defaultLimit
	case q.Limit > maxLimit:
		q.Limit = maxLimit
	}
	q.Start = q.Start.UTC()
	q.End = q.End.UTC()
	return q, nil
}

// TypeStrings 类型列表转字符串
func (q Query) TypeStrings() []string {
	out := make([]string, 0, len(q.Types))
	for _, k := range q.Types {
		out = append(out, string(k))
	}
	return out
}

// SortedDimensions 按列名排序的过滤条件, 保证生成的 SQL 稳定
func (q Query) SortedDimensions() [][2]string {
	cols := make([]string, 0, len(q.Dimensions))
	for col := range q.Dimensions {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	out := make([][2]string, 0, len(cols))
	for _, col := range cols {
		out = append(out, [2]string{col, q.Dimensions[col]})
	}
	return out
}

// Store 事件存储后端
type Store interface {
	// InsertBatch 批量追加数据点
	InsertBatch(ctx context.Context, points []events.DataPoint) error
	// Query 按时间倒序返回行 (约定, 不严格保证)
	Query(ctx context.Context, q Query) ([]events.RawRecord, error)
	// Cleanup 删除早于指定时间的数据点
	Cleanup(ctx context.Context, olderThan time.Time) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// disabledStore 未配置事件存储时使用, 读取一律不可用
type disabledStore struct{}

// Disabled 返回不可用的存储
func Disabled() Store { return disabledStore{} }

func (disabledStore) InsertBatch(context.Context, []events.DataPoint) error {
	return apperr.Analytics("insert", errNotConfigured)
}

func (disabledStore) Query(context.Context, Query) ([]events.RawRecord, error) {
	return nil, apperr.Analytics("query", errNotConfigured)
}

func (disabledStore) Cleanup(context.Context, time.Time) (int64, error) { return 0, nil }

func (disabledStore) Ping(context.Context) error {
	return apperr.Analytics("ping", errNotConfigured)
}

func (disabledStore) Close() error { return nil }
