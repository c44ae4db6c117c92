// Package events 定义分析事件的封闭联合类型, 以及与数据点之间的编解码.
package events

import (
	"encoding/json"
	"time"
)

// Kind 事件类型判别值
type Kind string

const (
	KindAPIRequest Kind = "api_request"
	KindRedirect   Kind = "redirect"
	KindAuth       Kind = "auth"
	KindAI         Kind = "ai"
	KindRateLimit  Kind = "rate_limit"
)

// Kinds 所有已知类型
var Kinds = []Kind{KindAPIRequest, KindRedirect, KindAuth, KindAI, KindRateLimit}

// Known 是否为已知判别值
func (k Kind) Known() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// 动作常量
const (
	AuthSuccess = "success"
	AuthFailure = "failure"

	RateLimitAllowed   = "allowed"
	RateLimitThrottled = "throttled"
)

// RequestContext 请求上下文
type RequestContext struct {
	TraceID    string `json:"rayId,omitempty"`
	ClientIP   string `json:"clientIp,omitempty"`
	Country    string `json:"country,omitempty"`
	Datacenter string `json:"datacenter,omitempty"`
	UserAgent  string `json:"userAgent,omitempty"`
	RequestURL string `json:"requestUrl,omitempty"`
	Method     string `json:"method,omitempty"`
}

// Envelope 公共信封
type Envelope struct {
	Timestamp time.Time      `json:"timestamp"`
	Context   RequestContext `json:"requestContext"`
}

// Event 分析事件; 只有本包内的五种变体实现该接口
type Event interface {
	Kind() Kind
	Meta() Envelope
	sealed()
}

// APIRequest 普通 API 请求, 也是无法识别判别值时的兜底变体
type APIRequest struct {
	Envelope
	Endpoint       string  `json:"endpoint"`
	Subject        string  `json:"subject,omitempty"`
	Status         int     `json:"status"`
	ResponseTimeMs float64 `json:"responseTimeMs"`
	// OriginalType 兜底解码时记录原始判别值
	OriginalType string `json:"originalType,omitempty"`
}

// Redirect 短链跳转
type Redirect struct {
	Envelope
	Slug        string `json:"slug"`
	Destination string `json:"destination"`
	ClickCount  int64  `json:"clickCount"`
}

// Auth 认证尝试
type Auth struct {
	Envelope
	Action  string `json:"action"`
	Success bool   `json:"success"`
	Subject string `json:"subject,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// AI 生成类操作
type AI struct {
	Envelope
	Operation        string  `json:"operation"`
	ProcessingTimeMs float64 `json:"processingTimeMs"`
	ImageSizeBytes   int64   `json:"imageSizeBytes"`
	GeneratedText    string  `json:"generatedText,omitempty"`
	UserID           string  `json:"userId,omitempty"`
}

// RateLimit 限流判定
type RateLimit struct {
	Envelope
	Action           string    `json:"action"`
	Endpoint         string    `json:"endpoint"`
	Subject          string    `json:"subject"`
	RequestsInWindow int64     `json:"requestsInWindow"`
	WindowMs         int64     `json:"windowMs"`
	MaxRequests      int64     `json:"maxRequests"`
	Remaining        int64     `json:"remaining"`
	ResetTime        time.Time `json:"resetTime"`
}

func (APIRequest) Kind() Kind { return KindAPIRequest }
func (Redirect) Kind() Kind   { return KindRedirect }
func (Auth) Kind() Kind       { return KindAuth }
func (AI) Kind() Kind         { return KindAI }
func (RateLimit) Kind() Kind  { return KindRateLimit }

func (e APIRequest) Meta() Envelope { return e.Envelope }
func (e Redirect) Meta() Envelope   { return e.Envelope }
func (e Auth) Meta() Envelope       { return e.Envelope }
func (e AI) Meta() Envelope         { return e.Envelope }
func (e RateLimit) Meta() Envelope  { return e.Envelope }

func (APIRequest) sealed() {}
func (Redirect) sealed()   {}
func (Auth) sealed()       {}
func (AI) sealed()         {}
func (RateLimit) sealed()  {}

// Failed 是否计为失败请求
func Failed(e Event) bool {
	switch ev := e.(type) {
	case APIRequest:
		return ev.Status >= 400
	case Auth:
		return !ev.Success
	case RateLimit:
		return ev.Action == RateLimitThrottled
	default:
		return false
	}
}

// JSON 输出时带上 type 字段

func (e APIRequest) MarshalJSON() ([]byte, error) {
	type alias APIRequest
	return json.Marshal(struct {
		Type Kind `json:"type"`
		alias
	}{KindAPIRequest, alias(e)})
}

func (e Redirect) MarshalJSON() ([]byte, error) {
	type alias Redirect
	return json.Marshal(struct {
		Type Kind `json:"type"`
		alias
	}{KindRedirect, alias(e)})
}

func (e Auth) MarshalJSON() ([]byte, error) {
	type alias Auth
	return json.Marshal(struct {
		Type Kind `json:"type"`
		alias
	}{KindAuth, alias(e)})
}

func (e AI) MarshalJSON() ([]byte, error) {
	type alias AI
	return json.Marshal(struct {
		Type Kind `json:"type"`
		alias
	}{KindAI, alias(e)})
}

func (e RateLimit) MarshalJSON() ([]byte, error) {
	type alias RateLimit
	return json.Marshal(struct {
		Type Kind `json:"type"`
		alias
	}{KindRateLimit, alias(e)})
}
