package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/catstream/edge-metrics-go/internal/events"
	"github.com/catstream/edge-metrics-go/internal/services/ratelimit"
	"github.com/catstream/edge-metrics-go/pkg/types"
	"github.com/gin-gonic/gin"
)

// Limiter 限流判定 (ratelimit.Engine)
type Limiter interface {
	CheckAndConsume(ctx context.Context, req ratelimit.Request) (ratelimit.Result, error)
}

// RateLimiter 速率限制器
type RateLimiter struct {
	limiter  Limiter
	recorder EventRecorder
	// KeyFunc 未认证请求的主体, 默认按客户端 IP
	KeyFunc func(*gin.Context) string
	now     func() time.Time
}

// NewRateLimiter 创建速率限制器; recorder 可以为 nil
func NewRateLimiter(limiter Limiter, recorder EventRecorder) *RateLimiter {
	return &RateLimiter{
		limiter:  limiter,
		recorder: recorder,
		KeyFunc:  defaultKeyFunc,
		now:      time.Now,
	}
}

// defaultKeyFunc 默认的限制键函数（基于客户端 IP）
func defaultKeyFunc(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// Limit 返回速率限制中间件
//
// 已认证主体使用自己的 subject 与声明中的配额覆盖, 否则按 IP 计数.
// 放在 Identify 与 RequireAuth 之间, 认证失败的请求同样被计数.
func (rl *RateLimiter) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		req := ratelimit.Request{Endpoint: endpointOf(c), Subject: rl.KeyFunc(c)}
		if p := GetPrincipal(c); p != nil {
			req.Subject = p.Subject
			req.Override = p.RateLimit
		}

		res, err := rl.limiter.CheckAndConsume(c.Request.Context(), req)
		if err != nil {
			// 失败关闭: 存储不可用时不放行
			AbortWithError(c, err)
			return
		}

		setRateLimitHeaders(c, res)
		if res.Allowed {
			c.Next()
			return
		}

		c.Set(string(ContextKeyRateLimited), true)
		rl.recordThrottle(c, req, res)
		rl.sendRateLimitResponse(c, res)
	}
}

func setRateLimitHeaders(c *gin.Context, res ratelimit.Result) {
	c.Header("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
	if !res.ResetAt.IsZero() {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	}
}

// sendRateLimitResponse 发送速率限制响应
func (rl *RateLimiter) sendRateLimitResponse(c *gin.Context, res ratelimit.Result) {
	retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	c.Header("Retry-After", strconv.Itoa(retryAfter))

	body := types.NewErrorResponse("Rate limit exceeded", "rate_limit_exceeded", GetRequestIDFromContext(c))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"success":    body.Success,
		"error":      body.Error,
		"code":       body.Code,
		"requestId":  body.RequestID,
		"timestamp":  body.Timestamp,
		"retryAfter": retryAfter,
		"resetAt":    res.ResetAt.UTC(),
	})
}

func (rl *RateLimiter) recordThrottle(c *gin.Context, req ratelimit.Request, res ratelimit.Result) {
	if rl.recorder == nil {
		return
	}
	rl.recorder.RecordEvent(events.RateLimit{
		Envelope:         events.Envelope{Timestamp: rl.now(), Context: GetRequestContext(c)},
		Action:           events.RateLimitThrottled,
		Endpoint:         req.Endpoint,
		Subject:          req.Subject,
		RequestsInWindow: res.Count,
		WindowMs:         res.WindowMs,
		MaxRequests:      res.Limit,
		Remaining:        res.Remaining,
		ResetTime:        res.ResetAt,
	})
}

// IsRateLimited 本次请求是否被限流拒绝
func IsRateLimited(c *gin.Context) bool {
	return c.GetBool(string(ContextKeyRateLimited))
}
