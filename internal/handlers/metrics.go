package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/catstream/edge-metrics-go/internal/encoding"
	"github.com/catstream/edge-metrics-go/internal/middleware"
	"github.com/catstream/edge-metrics-go/internal/services/metrics"
	"github.com/catstream/edge-metrics-go/internal/services/metricscache"
	"github.com/catstream/edge-metrics-go/pkg/types"
	"github.com/gin-gonic/gin"
)

// MetricsHandler 指标与分析读接口
type MetricsHandler struct {
	service *metrics.Service
	now     func() time.Time
}

// NewMetricsHandler 创建指标处理器
func NewMetricsHandler(service *metrics.Service) *MetricsHandler {
	return &MetricsHandler{service: service, now: time.Now}
}

// GetMetrics 合并后的指标快照
func (h *MetricsHandler) GetMetrics(c *gin.Context) {
	h.snapshot(c, h.service.Metrics)
}

// GetAnalytics 仅基于事件的快照
func (h *MetricsHandler) GetAnalytics(c *gin.Context) {
	h.snapshot(c, h.service.Analytics)
}

// ListEvents 按条件列出事件
func (h *MetricsHandler) ListEvents(c *gin.Context) {
	now := h.now()
	p, err := metrics.ParseParams(c.Request.URL.Query(), now)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	list, err := h.service.Events(c.Request.Context(), p)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, types.NewDataResponse(list, middleware.GetRequestIDFromContext(c), now).
		WithCache(false, time.Time{}))
}

type snapshotFunc func(ctx context.Context, p metrics.Params) (metricscache.Result, error)

func (h *MetricsHandler) snapshot(c *gin.Context, fetch snapshotFunc) {
	now := h.now()
	p, err := metrics.ParseParams(c.Request.URL.Query(), now)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	format, err := encoding.ParseFormat(c.Query("format"))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	res, err := fetch(c.Request.Context(), p)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	h.render(c, format, res, now)
}

// render 非 JSON 格式通过响应头暴露缓存状态
func (h *MetricsHandler) render(c *gin.Context, format encoding.Format, res metricscache.Result, now time.Time) {
	c.Header("X-Cache", cacheLabel(res.Cached))
	if !res.ExpiresAt.IsZero() {
		c.Header("X-Cache-Expiry", res.ExpiresAt.UTC().Format(time.RFC3339))
	}

	switch format {
	case encoding.FormatPrometheus:
		body, err := encoding.Prometheus(res.Data)
		if err != nil {
			middleware.AbortWithError(c, err)
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, format.ContentType(), body)
	case encoding.FormatText:
		body, err := encoding.Flat(res.Data)
		if err != nil {
			middleware.AbortWithError(c, err)
			return
		}
		body = append([]byte("cached="+strconv.FormatBool(res.Cached)+"\n"), body...)
		c.Data(http.StatusOK, format.ContentType(), body)
	default:
		c.JSON(http.StatusOK, types.NewDataResponse(res.Data, middleware.GetRequestIDFromContext(c), now).
			WithCache(res.Cached, res.ExpiresAt))
	}
}

func cacheLabel(cached bool) string {
	if cached {
		return "HIT"
	}
	return "MISS"
}
