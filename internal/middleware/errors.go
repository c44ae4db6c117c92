package middleware

import (
	"net/http"

	"github.com/catstream/edge-metrics-go/internal/pkg/apperr"
	"github.com/catstream/edge-metrics-go/internal/pkg/logger"
	"github.com/catstream/edge-metrics-go/pkg/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AbortWithError 按错误分类输出状态码与错误体; 5xx 不暴露内部原因
func AbortWithError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	message := err.Error()
	switch {
	case status == http.StatusServiceUnavailable:
		message = "Service temporarily unavailable"
	case status >= http.StatusInternalServerError:
		message = "Internal server error"
	}
	if status >= http.StatusInternalServerError {
		logger.Error("❌ Request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, types.NewErrorResponse(message, apperr.Code(err), GetRequestIDFromContext(c)))
}
