package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/catstream/edge-metrics-go/internal/encoding"
	"github.com/catstream/edge-metrics-go/internal/middleware"
	"github.com/catstream/edge-metrics-go/internal/pkg/logger"
	"github.com/catstream/edge-metrics-go/internal/pkg/telemetry"
	"github.com/catstream/edge-metrics-go/pkg/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// healthCheckTimeout 健康检查超时 (应快速响应)
const healthCheckTimeout = 3 * time.Second

// CheckFunc 单个组件的健康检查
type CheckFunc func(ctx context.Context) error

// HealthHandler 健康检查与进程指标
type HealthHandler struct {
	service   string
	version   string
	redis     CheckFunc
	analytics CheckFunc
	strict    bool
}

// NewHealthHandler 创建健康检查处理器; 严格模式下事件存储不可用也视为不健康
func NewHealthHandler(service, version string, redis, analytics CheckFunc, strict bool) *HealthHandler {
	return &HealthHandler{service: service, version: version, redis: redis, analytics: analytics, strict: strict}
}

// Health 组件健康状态
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	details := map[string]string{}
	redisOK := check(ctx, "redis", h.redis, details)
	analyticsOK := check(ctx, "analytics", h.analytics, details)

	status := "healthy"
	httpStatus := http.StatusOK
	switch {
	case !redisOK, !analyticsOK && h.strict:
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	case !analyticsOK:
		status = "degraded"
	}

	response := &types.HealthResponse{
		Status:    status,
		Service:   h.service,
		Version:   h.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Components: map[string]bool{
			"redis":     redisOK,
			"analytics": analyticsOK,
		},
	}
	if len(details) > 0 {
		response.Details = details
	}

	c.JSON(httpStatus, response)
}

// ProcessMetrics 进程级指标 (Prometheus 文本格式)
func (h *HealthHandler) ProcessMetrics(c *gin.Context) {
	fams, err := telemetry.Gather()
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	body, err := encoding.EncodeFamilies(fams)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, encoding.FormatPrometheus.ContentType(), body)
}

func check(ctx context.Context, name string, fn CheckFunc, details map[string]string) bool {
	if fn == nil {
		details[name] = "not configured"
		return false
	}
	if err := fn(ctx); err != nil {
		logger.Warn("⚠️ Health check failed", zap.String("component", name), zap.Error(err))
		details[name] = "unavailable"
		return false
	}
	return true
}
