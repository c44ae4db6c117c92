package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/catstream/edge-metrics-go/internal/pkg/telemetry"
	"github.com/catstream/edge-metrics-go/pkg/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthy(context.Context) error { return nil }

func broken(context.Context) error { return errors.New("connection refused") }

func TestHealth(t *testing.T) {
	tests := []struct {
		name      string
		redis     CheckFunc
		analytics CheckFunc
		strict    bool
		status    int
		want      string
	}{
		{"全部正常", healthy, healthy, true, http.StatusOK, "healthy"},
		{"Redis 不可用", broken, healthy, false, http.StatusServiceUnavailable, "unhealthy"},
		{"事件存储不可用 (非严格)", healthy, broken, false, http.StatusOK, "degraded"},
		{"事件存储不可用 (严格)", healthy, broken, true, http.StatusServiceUnavailable, "unhealthy"},
		{"事件存储未配置", healthy, nil, false, http.StatusOK, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler("edge-metrics-go", "test", tt.redis, tt.analytics, tt.strict)
			r := gin.New()
			r.GET("/health", h.Health)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, tt.status, w.Code)

			var resp types.HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.want, resp.Status)
			assert.Equal(t, "edge-metrics-go", resp.Service)
		})
	}
}

func TestProcessMetrics(t *testing.T) {
	telemetry.EventsDropped.Add(0)
	h := NewHealthHandler("edge-metrics-go", "test", healthy, healthy, true)
	r := gin.New()
	r.GET("/internal/metrics", h.ProcessMetrics)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Contains(t, w.Body.String(), "edgemetrics_events_dropped_total")
}
