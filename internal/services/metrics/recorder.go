package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/catstream/edge-metrics-go/internal/events"
	"github.com/catstream/edge-metrics-go/internal/pkg/logger"
	"github.com/catstream/edge-metrics-go/internal/pkg/telemetry"
	"github.com/catstream/edge-metrics-go/internal/services/tokens"
	"github.com/catstream/edge-metrics-go/internal/storage/redis"
	"go.uber.org/zap"
)

// DefaultWriteTimeout 单次后台写入的超时
const DefaultWriteTimeout = 2 * time.Second

// EventSink 事件写入端 (analytics.Writer)
type EventSink interface {
	Write(e events.Event)
}

// UsageSink 令牌使用记录端 (tokens.Ledger)
type UsageSink interface {
	RecordUsage(ctx context.Context, uuid string, outcome tokens.Outcome) error
}

// Recorder 写路径记录器; 所有方法立即返回, 失败只记日志
type Recorder struct {
	counters *redis.Counters
	sink     EventSink
	usage    UsageSink
	tz       redis.Timezone
	timeout  time.Duration
	now      func() time.Time
	wg       sync.WaitGroup
}

// RecorderOption 配置项
type RecorderOption func(*Recorder)

// WithRecorderClock 注入时钟
func WithRecorderClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// WithWriteTimeout 后台写入超时
func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRecorder 创建记录器; sink 与 usage 可以为 nil
func NewRecorder(counters *redis.Counters, sink EventSink, usage UsageSink, tz redis.Timezone, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		counters: counters,
		sink:     sink,
		usage:    usage,
		tz:       tz,
		timeout:  DefaultWriteTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordRequest 一次 API 请求: 请求计数器, 事件, 令牌使用
func (r *Recorder) RecordRequest(ev events.APIRequest, tokenID string, outcome tokens.Outcome) {
	outcomeCounter := redis.CounterRequestsSuccess
	if events.Failed(ev) {
		outcomeCounter = redis.CounterRequestsFail
	}
	r.increment(r.buckets(ev.Timestamp, redis.CounterRequestsTotal, outcomeCounter), 1)
	r.emit(ev)

	if tokenID != "" && r.usage != nil {
		r.background("usage", func(ctx context.Context) error {
			return r.usage.RecordUsage(ctx, tokenID, outcome)
		})
	}
}

// RecordEvent 协作方提交的事件; 短链跳转同时累加点击计数器
func (r *Recorder) RecordEvent(ev events.Event) {
	if redirect, ok := ev.(events.Redirect); ok && redirect.ClickCount > 0 {
		r.increment(r.buckets(redirect.Timestamp, redis.CounterRedirectClicks), redirect.ClickCount)
	}
	r.emit(ev)
}

// RecordCacheLookup 缓存命中/未命中计数
func (r *Recorder) RecordCacheLookup(hit bool) {
	counter := redis.CounterCacheMisses
	if hit {
		counter = redis.CounterCacheHits
	}
	r.increment(r.buckets(r.now(), counter), 1)
}

// Wait 等待所有后台写入完成 (关闭与测试使用)
func (r *Recorder) Wait() {
	r.wg.Wait()
}

func (r *Recorder) emit(ev events.Event) {
	if r.sink != nil {
		r.sink.Write(ev)
	}
}

// bucketWrite 一个计数器键及其 TTL
type bucketWrite struct {
	key string
	ttl time.Duration
}

// buckets 每个计数器同时写入日桶与小时桶; 读路径按区间选用
func (r *Recorder) buckets(t time.Time, counters ...string) []bucketWrite {
	day, hour := r.tz.Day(t), r.tz.Hour(t)
	writes := make([]bucketWrite, 0, 2*len(counters))
	for _, counter := range counters {
		writes = append(writes,
			bucketWrite{redis.MetricsCounterKey(day, counter), redis.TTLMetricsDaily},
			bucketWrite{redis.MetricsCounterKey(hour, counter), redis.TTLMetricsHourly},
		)
	}
	return writes
}

func (r *Recorder) increment(writes []bucketWrite, delta int64) {
	if r.counters == nil {
		return
	}
	r.background("counter", func(ctx context.Context) error {
		for _, w := range writes {
			if _, err := r.counters.IncrementBy(ctx, w.key, delta, w.ttl); err != nil {
				return err
			}
		}
		return nil
	})
}

// background 不等待结果的写入, 错误被记录后吞掉
func (r *Recorder) background(sink string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			telemetry.WriteFailures.WithLabelValues(sink).Inc()
			logger.Warn("⚠️ Background metrics write failed", zap.String("sink", sink), zap.Error(err))
		}
	}()
}
