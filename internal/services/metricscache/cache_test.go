package metricscache

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/catstream/edge-metrics-go/internal/services/aggregator"
	"github.com/catstream/edge-metrics-go/internal/storage/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func setup(t *testing.T) (*redis.Client, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return redis.NewClient(rdb, time.Second), mr, &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func countingCompute(calls *int) ComputeFunc {
	return func(context.Context) (aggregator.Snapshot, error) {
		*calls++
		s := aggregator.Snapshot{}
		s.Overview.TotalRequests = int64(*calls)
		return s, nil
	}
}

func TestGetOrComputeHitWithinFreshness(t *testing.T) {
	store, _, clock := setup(t)
	c := New(store, 5*time.Minute, WithClock(clock.Now))
	params := url.Values{"range": {"24h"}}
	calls := 0
	ctx := context.Background()

	first, err := c.GetOrCompute(ctx, params, countingCompute(&calls))
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, clock.Now().Add(5*time.Minute), first.ExpiresAt)

	clock.Advance(4*time.Minute + 59*time.Second)
	second, err := c.GetOrCompute(ctx, params, countingCompute(&calls))
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, first.ExpiresAt, second.ExpiresAt)
	assert.Equal(t, 1, calls)
}

func TestGetOrComputeRecomputesWhenStale(t *testing.T) {
	store, _, clock := setup(t)
	c := New(store, 5*time.Minute, WithClock(clock.Now))
	params := url.Values{"range": {"24h"}}
	calls := 0
	ctx := context.Background()

	_, err := c.GetOrCompute(ctx, params, countingCompute(&calls))
	require.NoError(t, err)

	// 键仍可见 (模拟最终一致延迟), 但新鲜度检查失败
	clock.Advance(6*time.Minute + time.Second)
	res, err := c.GetOrCompute(ctx, params, countingCompute(&calls))
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(2), res.Data.Overview.TotalRequests)
}

func TestGetOrComputeKeyExpiresInStore(t *testing.T) {
	store, mr, clock := setup(t)
	c := New(store, 5*time.Minute, WithClock(clock.Now))
	calls := 0
	ctx := context.Background()

	_, err := c.GetOrCompute(ctx, nil, countingCompute(&calls))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, mr.TTL(redis.MetricsCacheKey("all")))

	mr.FastForward(5*time.Minute + time.Second)
	res, err := c.GetOrCompute(ctx, nil, countingCompute(&calls))
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 2, calls)
}

func TestFingerprintIsDeterministic(t *testing.T) {
	a := url.Values{}
	a.Set("range", "7d")
	a.Set("type", "redirect")
	a.Set("limit", "100")

	b := url.Values{}
	b.Set("limit", "100")
	b.Set("type", "redirect")
	b.Set("range", "7d")

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(url.Values{"range": {"24h"}}))
	assert.Equal(t, "all", Fingerprint(nil))
}

func TestDistinctParamsDoNotShareEntries(t *testing.T) {
	store, _, clock := setup(t)
	c := New(store, time.Minute, WithClock(clock.Now))
	calls := 0
	ctx := context.Background()

	_, err := c.GetOrCompute(ctx, url.Values{"range": {"1h"}}, countingCompute(&calls))
	require.NoError(t, err)
	res, err := c.GetOrCompute(ctx, url.Values{"range": {"7d"}}, countingCompute(&calls))
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 2, calls)
}

func TestDegradedResultsAreNotCached(t *testing.T) {
	store, mr, clock := setup(t)
	c := New(store, time.Minute, WithClock(clock.Now))

	res, err := c.GetOrCompute(context.Background(), nil, func(context.Context) (aggregator.Snapshot, error) {
		return aggregator.Snapshot{Availability: &aggregator.Availability{Degraded: true, Unavailable: []string{"analytics"}}}, nil
	})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.True(t, res.ExpiresAt.IsZero())
	assert.False(t, mr.Exists(redis.MetricsCacheKey("all")))
}

func TestComputeErrorPropagates(t *testing.T) {
	store, _, clock := setup(t)
	c := New(store, time.Minute, WithClock(clock.Now))
	boom := errors.New("analytics down")

	_, err := c.GetOrCompute(context.Background(), nil, func(context.Context) (aggregator.Snapshot, error) {
		return aggregator.Snapshot{}, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestCorruptedEntryIsRecomputed(t *testing.T) {
	store, mr, clock := setup(t)
	require.NoError(t, mr.Set(redis.MetricsCacheKey("all"), "{not json"))
	c := New(store, time.Minute, WithClock(clock.Now))
	calls := 0

	res, err := c.GetOrCompute(context.Background(), nil, countingCompute(&calls))
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 1, calls)
}

func TestStoreDownStillComputes(t *testing.T) {
	store, mr, clock := setup(t)
	mr.Close()
	var hits, misses int
	c := New(store, time.Minute, WithClock(clock.Now), WithLookupHook(func(hit bool) {
		if hit {
			hits++
		} else {
			misses++
		}
	}))
	calls := 0

	res, err := c.GetOrCompute(context.Background(), nil, countingCompute(&calls))
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, hits)
	assert.Equal(t, 1, misses)
}
