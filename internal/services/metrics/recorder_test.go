package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/catstream/edge-metrics-go/internal/events"
	"github.com/catstream/edge-metrics-go/internal/services/tokens"
	"github.com/catstream/edge-metrics-go/internal/storage/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mu     sync.Mutex
	events []events.Event
}

func (m *memorySink) Write(e events.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

type usageCall struct {
	uuid    string
	outcome tokens.Outcome
}

type memoryUsage struct {
	mu    sync.Mutex
	calls []usageCall
}

func (m *memoryUsage) RecordUsage(_ context.Context, uuid string, outcome tokens.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, usageCall{uuid, outcome})
	return nil
}

func newRecorder(t *testing.T) (*Recorder, *miniredis.Miniredis, *memorySink, *memoryUsage) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	sink, usage := &memorySink{}, &memoryUsage{}
	r := NewRecorder(redis.NewCounters(redis.NewClient(rdb, time.Second)), sink, usage, redis.NewTimezone(0),
		WithRecorderClock(func() time.Time { return now }))
	return r, mr, sink, usage
}

func TestRecordRequest(t *testing.T) {
	r, mr, sink, usage := newRecorder(t)

	ok := events.APIRequest{Envelope: events.Envelope{Timestamp: now}, Endpoint: "/api/metrics", Status: 200}
	failed := events.APIRequest{Envelope: events.Envelope{Timestamp: now}, Endpoint: "/api/metrics", Status: 503}
	r.RecordRequest(ok, "tok-1", tokens.OutcomeSuccess)
	r.Wait()
	r.RecordRequest(failed, "", tokens.OutcomeFail)
	r.Wait()

	total, err := mr.Get(redis.MetricsCounterKey("2024-03-01", redis.CounterRequestsTotal))
	require.NoError(t, err)
	assert.Equal(t, "2", total)
	success, _ := mr.Get(redis.MetricsCounterKey("2024-03-01", redis.CounterRequestsSuccess))
	assert.Equal(t, "1", success)
	fail, _ := mr.Get(redis.MetricsCounterKey("2024-03-01", redis.CounterRequestsFail))
	assert.Equal(t, "1", fail)
	assert.Equal(t, redis.TTLMetricsDaily, mr.TTL(redis.MetricsCounterKey("2024-03-01", redis.CounterRequestsTotal)))

	// 小时桶与日桶同步累加
	hourly := redis.MetricsCounterKey("2024-03-01:12", redis.CounterRequestsTotal)
	hourTotal, err := mr.Get(hourly)
	require.NoError(t, err)
	assert.Equal(t, "2", hourTotal)
	assert.Equal(t, redis.TTLMetricsHourly, mr.TTL(hourly))
	hourFail, _ := mr.Get(redis.MetricsCounterKey("2024-03-01:12", redis.CounterRequestsFail))
	assert.Equal(t, "1", hourFail)

	assert.Len(t, sink.events, 2)
	require.Len(t, usage.calls, 1)
	assert.Equal(t, usageCall{"tok-1", tokens.OutcomeSuccess}, usage.calls[0])
}

func TestRecordRedirectEventAddsClicks(t *testing.T) {
	r, mr, sink, _ := newRecorder(t)

	r.RecordEvent(events.Redirect{Envelope: events.Envelope{Timestamp: now}, Slug: "gh", ClickCount: 3})
	r.Wait()

	clicks, err := mr.Get(redis.MetricsCounterKey("2024-03-01", redis.CounterRedirectClicks))
	require.NoError(t, err)
	assert.Equal(t, "3", clicks)
	hourClicks, err := mr.Get(redis.MetricsCounterKey("2024-03-01:12", redis.CounterRedirectClicks))
	require.NoError(t, err)
	assert.Equal(t, "3", hourClicks)
	assert.Len(t, sink.events, 1)
}

func TestRecordCacheLookup(t *testing.T) {
	r, mr, _, _ := newRecorder(t)

	r.RecordCacheLookup(true)
	r.Wait()
	r.RecordCacheLookup(false)
	r.Wait()

	hits, _ := mr.Get(redis.MetricsCounterKey("2024-03-01", redis.CounterCacheHits))
	misses, _ := mr.Get(redis.MetricsCounterKey("2024-03-01", redis.CounterCacheMisses))
	assert.Equal(t, "1", hits)
	assert.Equal(t, "1", misses)
	hourHits, _ := mr.Get(redis.MetricsCounterKey("2024-03-01:12", redis.CounterCacheHits))
	assert.Equal(t, "1", hourHits)
}

func TestWriteFailureIsSwallowed(t *testing.T) {
	r, mr, sink, _ := newRecorder(t)
	mr.SetError("READONLY")

	assert.NotPanics(t, func() {
		r.RecordRequest(events.APIRequest{Envelope: events.Envelope{Timestamp: now}, Status: 200}, "", tokens.OutcomeSuccess)
		r.Wait()
	})
	assert.Len(t, sink.events, 1, "事件写入不受计数器失败影响")
}
