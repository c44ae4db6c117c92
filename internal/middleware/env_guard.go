package middleware

import (
	"net/http"

	"github.com/catstream/edge-metrics-go/pkg/types"
	"github.com/gin-gonic/gin"
)

// DevelopmentOnly 中间件：仅允许在开发环境访问
func DevelopmentOnly(env string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if env == "production" {
			c.AbortWithStatusJSON(http.StatusForbidden,
				types.NewErrorResponse("This endpoint is only available in development mode", "forbidden", GetRequestIDFromContext(c)))
			return
		}
		c.Next()
	}
}

// RequireBackend 严格模式下后端缺失直接返回 503; 非严格模式放行并标记响应头
func RequireBackend(name string, available func() bool, strict bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if available() {
			c.Next()
			return
		}
		if strict {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				types.NewErrorResponse(name+" backend is not configured", name+"_unavailable", GetRequestIDFromContext(c)))
			return
		}
		c.Header("X-Degraded", name)
		c.Next()
	}
}
