package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/catstream/edge-metrics-go/internal/services/aggregator"
	"github.com/catstream/edge-metrics-go/internal/storage/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const totalKey = "metrics:2024-03-01:requests:total"

func TestCounterLifecycle(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/counters/"+totalKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "counter_not_found", decode(t, w).Code)

	w = f.do(http.MethodPost, "/api/counters/"+totalKey+"/increment", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = f.do(http.MethodPost, "/api/counters/"+totalKey+"/increment", map[string]any{"delta": 4})
	require.Equal(t, http.StatusOK, w.Code)

	var got struct {
		Key   string `json:"key"`
		Value int64  `json:"value"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &got))
	assert.Equal(t, int64(5), got.Value)
	assert.Equal(t, redis.TTLMetricsDaily, f.mr.TTL(totalKey))

	w = f.do(http.MethodPut, "/api/counters/"+totalKey, map[string]any{"value": 100, "ttlSeconds": 60})
	require.Equal(t, http.StatusOK, w.Code)
	v, err := f.mr.Get(totalKey)
	require.NoError(t, err)
	assert.Equal(t, "100", v)

	w = f.do(http.MethodGet, "/api/counters/"+totalKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &got))
	assert.Equal(t, int64(100), got.Value)
}

func TestCounterKeyNamespace(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		target string
		body   any
	}{
		{"读取其他命名空间", http.MethodGet, "/api/counters/ratelimit:ip:1", nil},
		{"前缀本身", http.MethodGet, "/api/counters/metrics:", nil},
		{"覆盖缺少 value", http.MethodPut, "/api/counters/" + totalKey, map[string]any{"ttlSeconds": 5}},
		{"列表越界前缀", http.MethodGet, "/api/counters?prefix=revoked_token:", nil},
		{"列表不支持 text", http.MethodGet, "/api/counters?format=text", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(tt.method, tt.target, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestListCounters(t *testing.T) {
	f := newFixture(t)
	f.mr.Set(totalKey, "7")
	f.mr.Set("metrics:2024-03-01:redirects:clicks", "3")
	f.mr.Set("metrics:2024-02-29:requests:total", "1")
	f.mr.Set("revoked_token:abc", "{}")

	w := f.do(http.MethodGet, "/api/counters?prefix=metrics:2024-03-01:", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var list struct {
		Counters map[string]int64 `json:"counters"`
		Total    int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &list))
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, map[string]int64{
		totalKey:                              7,
		"metrics:2024-03-01:redirects:clicks": 3,
	}, list.Counters)

	w = f.do(http.MethodGet, "/api/counters?format=prometheus", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `edgemetrics_counter_value{key="metrics:2024-02-29:requests:total"} 1`)
	assert.NotContains(t, w.Body.String(), "revoked_token")
}

func TestListCountersWithoutScanner(t *testing.T) {
	f := newFixture(t)
	h := NewCountersHandler(f.counters, nil)
	f.router.GET("/noscan", h.List)

	w := f.do(http.MethodGet, "/noscan", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestCounterWriteInvalidatesMetricsCache(t *testing.T) {
	f := newFixture(t)
	hourKey := "metrics:2024-03-01:11:requests:total"
	f.mr.Set(hourKey, "10")

	totalRequests := func() (int64, bool) {
		w := f.do(http.MethodGet, "/api/metrics?range=24h", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		env := decode(t, w)
		var snap aggregator.Snapshot
		require.NoError(t, json.Unmarshal(env.Data, &snap))
		return snap.Overview.TotalRequests, env.Meta.Cached
	}

	total, cached := totalRequests()
	assert.Equal(t, int64(10), total)
	assert.False(t, cached)
	_, cached = totalRequests()
	assert.True(t, cached)

	w := f.do(http.MethodPut, "/api/counters/"+hourKey, map[string]any{"value": 25})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	total, cached = totalRequests()
	assert.Equal(t, int64(25), total)
	assert.False(t, cached, "覆盖后应重新计算")

	w = f.do(http.MethodPost, "/api/counters/"+hourKey+"/increment", nil)
	require.Equal(t, http.StatusOK, w.Code)
	total, cached = totalRequests()
	assert.Equal(t, int64(26), total)
	assert.False(t, cached, "自增后应重新计算")
}
