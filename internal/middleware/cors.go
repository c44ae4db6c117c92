package middleware

import (
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORSConfig CORS 配置
type CORSConfig struct {
	// EnableCors 启用通用 CORS（允许所有来源）
	EnableCors bool
	// AllowedOrigins 允许的来源列表
	AllowedOrigins []string
	// AllowedMethods 允许的方法
	AllowedMethods []string
	// AllowedHeaders 允许的请求头
	AllowedHeaders []string
	// ExposedHeaders 暴露的响应头
	ExposedHeaders []string
	// MaxAge 预检缓存时间（秒）
	MaxAge string
	// AllowCredentials 允许携带凭据
	AllowCredentials bool
}

// DefaultCORSConfig 默认 CORS 配置
var DefaultCORSConfig = CORSConfig{
	EnableCors: false,
	AllowedOrigins: []string{
		"http://localhost:3000",
		"http://127.0.0.1:3000",
	},
	AllowedMethods: []string{
		"GET", "POST", "PUT", "DELETE", "OPTIONS",
	},
	AllowedHeaders: []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-Request-ID",
	},
	ExposedHeaders: []string{
		"X-Request-ID",
		"X-RateLimit-Limit",
		"X-RateLimit-Remaining",
		"X-RateLimit-Reset",
		"Retry-After",
		"X-Degraded",
	},
	MaxAge:           "86400", // 24小时
	AllowCredentials: true,
}

// CORS 返回 CORS 中间件
func CORS() gin.HandlerFunc {
	return CORSWithConfig(DefaultCORSConfig)
}

// CORSFromSettings 按配置覆盖来源列表
func CORSFromSettings(allowAll bool, origins []string) gin.HandlerFunc {
	cfg := DefaultCORSConfig
	cfg.EnableCors = allowAll
	if len(origins) > 0 {
		cfg.AllowedOrigins = origins
	}
	return CORSWithConfig(cfg)
}

// CORSWithConfig 使用指定配置返回 CORS 中间件
func CORSWithConfig(cfg CORSConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		// 如果启用了通用 CORS，允许所有来源
		if cfg.EnableCors {
			c.Header("Access-Control-Allow-Origin", "*")
			setCORSHeaders(c, cfg, false)

			if c.Request.Method == "OPTIONS" {
				c.AbortWithStatus(204)
				return
			}
			c.Next()
			return
		}

		if origin != "" && slices.Contains(cfg.AllowedOrigins, origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			setCORSHeaders(c, cfg, cfg.AllowCredentials)
		}

		// 预检请求直接返回
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// setCORSHeaders 设置 CORS 响应头; 通配来源不能携带凭据
func setCORSHeaders(c *gin.Context, cfg CORSConfig, credentials bool) {
	c.Header("Access-Control-Allow-Methods", strings.Join(cfg.AllowedMethods, ", "))
	c.Header("Access-Control-Allow-Headers", strings.Join(cfg.AllowedHeaders, ", "))

	if len(cfg.ExposedHeaders) > 0 {
		c.Header("Access-Control-Expose-Headers", strings.Join(cfg.ExposedHeaders, ", "))
	}

	if cfg.MaxAge != "" {
		c.Header("Access-Control-Max-Age", cfg.MaxAge)
	}

	if credentials {
		c.Header("Access-Control-Allow-Credentials", "true")
	}
}
