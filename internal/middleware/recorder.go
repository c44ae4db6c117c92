package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/catstream/edge-metrics-go/internal/events"
	"github.com/catstream/edge-metrics-go/internal/pkg/telemetry"
	"github.com/catstream/edge-metrics-go/internal/services/tokens"
	"github.com/gin-gonic/gin"
)

// RequestRecorder 写路径记录 (metrics.Recorder)
type RequestRecorder interface {
	RecordRequest(ev events.APIRequest, tokenID string, outcome tokens.Outcome)
}

// Recorder 请求完成后记录计数器, api_request 事件与令牌使用, 不阻塞响应
func Recorder(rec RequestRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		endpoint := endpointOf(c)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		telemetry.HTTPRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(status)).Inc()
		telemetry.HTTPDuration.WithLabelValues(route, c.Request.Method).Observe(elapsed.Seconds())

		if rec == nil {
			return
		}

		var subject, tokenID string
		if p := GetPrincipal(c); p != nil {
			subject, tokenID = p.Subject, p.TokenID
		}

		rec.RecordRequest(events.APIRequest{
			Envelope:       events.Envelope{Timestamp: start, Context: GetRequestContext(c)},
			Endpoint:       endpoint,
			Subject:        subject,
			Status:         status,
			ResponseTimeMs: float64(elapsed.Microseconds()) / 1000,
		}, tokenID, outcomeOf(c, status))
	}
}

func outcomeOf(c *gin.Context, status int) tokens.Outcome {
	switch {
	case IsRateLimited(c):
		return tokens.OutcomeRateLimited
	case status >= http.StatusBadRequest:
		return tokens.OutcomeFail
	default:
		return tokens.OutcomeSuccess
	}
}
