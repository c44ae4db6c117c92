package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/catstream/edge-metrics-go/internal/events"
	"github.com/catstream/edge-metrics-go/internal/middleware"
	"github.com/catstream/edge-metrics-go/internal/services/metrics"
	"github.com/catstream/edge-metrics-go/internal/services/metricscache"
	"github.com/catstream/edge-metrics-go/internal/services/tokens"
	"github.com/catstream/edge-metrics-go/internal/storage/analytics"
	"github.com/catstream/edge-metrics-go/internal/storage/redis"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	mr       *miniredis.Miniredis
	kv       *redis.Client
	store    analytics.Store
	counters *redis.Counters
	ledger   *tokens.Ledger
	events   *eventLog
	router   *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	kv := redis.NewClient(rdb, time.Second)

	store, err := analytics.NewSQLiteStore(filepath.Join(t.TempDir(), "analytics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tz := redis.NewTimezone(0)
	clock := func() time.Time { return now }
	f := &fixture{
		mr:       mr,
		kv:       kv,
		store:    store,
		counters: redis.NewCounters(kv),
		ledger:   tokens.NewLedger(kv, tz, tokens.WithClock(clock)),
		events:   &eventLog{},
	}

	cache := metricscache.New(kv, 5*time.Minute, metricscache.WithClock(clock))
	svc := metrics.NewService(f.counters, store, cache, metrics.Options{
		Timezone:     tz,
		Strict:       true,
		DefaultLimit: analytics.DefaultQueryLimit,
		MaxLimit:     analytics.MaxQueryLimit,
	})

	mh := NewMetricsHandler(svc)
	mh.now = clock
	ih := NewIngestHandler(f.events)
	ih.now = clock
	ch := NewCountersHandler(f.counters, kv, WithCacheInvalidator(svc))
	th := NewTokensHandler(f.ledger)

	r := gin.New()
	r.Use(middleware.RequestContext(), asPrincipal("ops"))
	api := r.Group("/api")
	api.GET("/metrics", mh.GetMetrics)
	api.GET("/analytics", mh.GetAnalytics)
	api.GET("/events", mh.ListEvents)
	api.POST("/events", ih.Submit)
	api.GET("/counters", ch.List)
	api.GET("/counters/:key", ch.Get)
	api.POST("/counters/:key/increment", ch.Increment)
	api.PUT("/counters/:key", ch.Put)
	api.POST("/tokens/:uuid/revoke", th.Revoke)
	api.DELETE("/tokens/:uuid/revoke", th.Unrevoke)
	api.GET("/tokens/:uuid/revoked", th.Revoked)
	api.GET("/tokens/:uuid/usage", th.Usage)
	api.PUT("/tokens/:uuid/limit", th.SetLimit)
	f.router = r
	return f
}

// asPrincipal 跳过 JWT, 直接注入主体
func asPrincipal(subject string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(string(middleware.ContextKeyPrincipal), &middleware.Principal{
			Subject: subject,
			Scopes:  []string{middleware.ScopeAdmin},
		})
		c.Next()
	}
}

func (f *fixture) seed(t *testing.T, evs ...events.Event) {
	t.Helper()
	points := make([]events.DataPoint, len(evs))
	for i, ev := range evs {
		points[i] = events.Encode(ev)
	}
	require.NoError(t, f.store.InsertBatch(context.Background(), points))
}

func (f *fixture) do(method, target string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, _ := json.Marshal(b)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// envelope 通用响应体
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    *struct {
		Cached      bool       `json:"cached"`
		CacheExpiry *time.Time `json:"cacheExpiry"`
	} `json:"meta"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) RecordEvent(ev events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]events.Event(nil), l.events...)
}
