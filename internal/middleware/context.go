package middleware

import (
	"github.com/catstream/edge-metrics-go/internal/events"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ContextKey 上下文键
type ContextKey string

const (
	// ContextKeyRequestID 请求ID上下文键
	ContextKeyRequestID ContextKey = "requestId"
	// ContextKeyRequestContext 请求上下文 (events.RequestContext)
	ContextKeyRequestContext ContextKey = "requestContext"
	// ContextKeyPrincipal 已认证主体
	ContextKeyPrincipal ContextKey = "principal"
	// ContextKeyAuthRejection Identify 记录的认证拒绝
	ContextKeyAuthRejection ContextKey = "authRejection"
	// ContextKeyRateLimited 本次请求被限流
	ContextKeyRateLimited ContextKey = "rateLimited"
)

// 边缘平台注入的请求头
const (
	HeaderTraceID    = "CF-Ray"
	HeaderRequestID  = "X-Request-ID"
	HeaderCountry    = "CF-IPCountry"
	HeaderDatacenter = "X-Edge-Datacenter"
)

// RequestContext 请求上下文提供者: 追踪 ID, 客户端 IP, 国家, 数据中心, UA, URL, 方法
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(HeaderTraceID)
		if traceID == "" {
			traceID = c.GetHeader(HeaderRequestID)
		}
		if traceID == "" {
			traceID = uuid.New().String()
		}

		c.Set(string(ContextKeyRequestID), traceID)
		c.Set(string(ContextKeyRequestContext), events.RequestContext{
			TraceID:    traceID,
			ClientIP:   c.ClientIP(),
			Country:    c.GetHeader(HeaderCountry),
			Datacenter: c.GetHeader(HeaderDatacenter),
			UserAgent:  c.Request.UserAgent(),
			RequestURL: requestURL(c),
			Method:     c.Request.Method,
		})
		c.Header(HeaderRequestID, traceID)
		c.Next()
	}
}

func requestURL(c *gin.Context) string {
	u := *c.Request.URL
	if u.Host == "" {
		u.Host = c.Request.Host
	}
	if u.Scheme == "" {
		u.Scheme = "http"
		if c.Request.TLS != nil {
			u.Scheme = "https"
		}
	}
	return u.String()
}

// GetRequestIDFromContext 从上下文获取请求 ID
func GetRequestIDFromContext(c *gin.Context) string {
	if requestID, exists := c.Get(string(ContextKeyRequestID)); exists {
		if rid, ok := requestID.(string); ok {
			return rid
		}
	}
	return ""
}

// GetRequestContext 从上下文获取请求上下文; 中间件未运行时按请求现场构造
func GetRequestContext(c *gin.Context) events.RequestContext {
	if v, exists := c.Get(string(ContextKeyRequestContext)); exists {
		if rc, ok := v.(events.RequestContext); ok {
			return rc
		}
	}
	return events.RequestContext{
		ClientIP:   c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
		RequestURL: requestURL(c),
		Method:     c.Request.Method,
	}
}

// endpointOf 路由模板优先, 未匹配时使用原始路径
func endpointOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}
