// Package ratelimit 按 (subject, endpoint) 的固定窗口限流
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/catstream/edge-metrics-go/internal/config"
	"github.com/catstream/edge-metrics-go/internal/pkg/logger"
	"github.com/catstream/edge-metrics-go/internal/pkg/telemetry"
	"github.com/catstream/edge-metrics-go/internal/storage/redis"
	"go.uber.org/zap"
)

// Limit 有效配额
type Limit struct {
	MaxRequests int64 `json:"maxRequests"`
	WindowMs    int64 `json:"windowMs"`
}

// Valid 配额是否可用
func (l Limit) Valid() bool {
	return l.MaxRequests > 0 && l.WindowMs > 0
}

// Window 存储中的窗口状态
type Window struct {
	Count       int64 `json:"count"`
	WindowStart int64 `json:"windowStart"` // unix ms
	MaxRequests int64 `json:"maxRequests"`
	WindowMs    int64 `json:"windowMs"`
}

// Request 一次限流检查
type Request struct {
	Subject  string
	Endpoint string
	Cost     int64
	// Override 来自授权声明的主体级配额, 优先级最高
	Override *Limit
}

// Result 限流检查结果
type Result struct {
	Allowed    bool
	Remaining  int64
	Limit      int64
	Count      int64
	WindowMs   int64
	ResetAt    time.Time
	RetryAfter time.Duration
	// FailedOpen 存储故障时按失败开放放行
	FailedOpen bool
}

// EndpointPolicy 端点默认值来源
type EndpointPolicy interface {
	Lookup(endpoint string) (config.EndpointLimit, bool)
}

// Engine 限流引擎
type Engine struct {
	store     redis.Store
	global    Limit
	endpoints EndpointPolicy
	failOpen  bool
	now       func() time.Time
}

// Option 配置项
type Option func(*Engine)

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithEndpointPolicy 端点默认值
func WithEndpointPolicy(p EndpointPolicy) Option {
	return func(e *Engine) { e.endpoints = p }
}

// NewEngine 创建引擎; failMode 非 "open" 一律按失败关闭处理
func NewEngine(store redis.Store, global Limit, failMode string, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		global:   global,
		failOpen: failMode == config.FailOpen,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve 配额优先级: 主体覆盖 > 端点默认 > 全局默认
func (e *Engine) Resolve(endpoint string, override *Limit) Limit {
	if override != nil && override.Valid() {
		return *override
	}
	if e.endpoints != nil {
		if l, ok := e.endpoints.Lookup(endpoint); ok {
			candidate := Limit{MaxRequests: int64(l.MaxRequests), WindowMs: l.WindowMs}
			if candidate.Valid() {
				return candidate
			}
		}
	}
	return e.global
}

// CheckAndConsume 读取窗口, 计入本次请求并无条件写回
//
// 被拒绝的请求同样计数, 避免重试风暴把窗口重置.
// 读写之间没有锁, 不同实例并发时可能少计.
func (e *Engine) CheckAndConsume(ctx context.Context, req Request) (Result, error) {
	limit := e.Resolve(req.Endpoint, req.Override)
	cost := req.Cost
	if cost <= 0 {
		cost = 1
	}

	key := redis.RateLimitKey(req.Subject, req.Endpoint)
	now := e.now()
	nowMs := now.UnixMilli()

	w, err := e.load(ctx, key)
	if err != nil {
		return e.onStorageError(req, limit, err)
	}

	if w == nil || nowMs >= w.WindowStart+limit.WindowMs || w.WindowMs != limit.WindowMs {
		w = &Window{Count: 0, WindowStart: nowMs}
	}
	w.Count += cost
	w.MaxRequests = limit.MaxRequests
	w.WindowMs = limit.WindowMs

	if err := e.save(ctx, key, w, now); err != nil {
		return e.onStorageError(req, limit, err)
	}

	resetAt := time.UnixMilli(w.WindowStart + limit.WindowMs)
	res := Result{
		Allowed:   w.Count <= limit.MaxRequests,
		Remaining: max(0, limit.MaxRequests-w.Count),
		Limit:     limit.MaxRequests,
		Count:     w.Count,
		WindowMs:  limit.WindowMs,
		ResetAt:   resetAt,
	}
	if !res.Allowed {
		res.RetryAfter = resetAt.Sub(now)
		telemetry.RateLimitDecisions.WithLabelValues("throttled").Inc()
	} else {
		telemetry.RateLimitDecisions.WithLabelValues("allowed").Inc()
	}
	return res, nil
}

func (e *Engine) load(ctx context.Context, key string) (*Window, error) {
	raw, found, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var w Window
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		// 损坏的窗口视为不存在
		logger.Warn("⚠️ Corrupted rate limit window, starting fresh", zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	return &w, nil
}

func (e *Engine) save(ctx context.Context, key string, w *Window, now time.Time) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode rate limit window: %w", err)
	}
	// 窗口结束后自动过期
	expiresAt := time.UnixMilli(w.WindowStart + w.WindowMs)
	ttl := expiresAt.Sub(now) + redis.RateLimitTTLSlop
	return e.store.Put(ctx, key, string(data), ttl)
}

func (e *Engine) onStorageError(req Request, limit Limit, err error) (Result, error) {
	fields := []zap.Field{
		zap.String("subject", req.Subject),
		zap.String("endpoint", req.Endpoint),
		zap.Error(err),
	}
	if e.failOpen {
		telemetry.RateLimitDecisions.WithLabelValues("fail_open").Inc()
		logger.Warn("⚠️ Rate limit storage unavailable, allowing request", fields...)
		return Result{
			Allowed:    true,
			Remaining:  limit.MaxRequests,
			Limit:      limit.MaxRequests,
			WindowMs:   limit.WindowMs,
			ResetAt:    e.now().Add(time.Duration(limit.WindowMs) * time.Millisecond),
			FailedOpen: true,
		}, nil
	}

	telemetry.RateLimitDecisions.WithLabelValues("fail_closed").Inc()
	logger.Error("❌ Rate limit storage unavailable, denying request", fields...)
	return Result{Allowed: false, Limit: limit.MaxRequests, WindowMs: limit.WindowMs}, err
}

// ParseOverride 解析 "max/windowMs" 形式的配额, 例如 "500/60000"
func ParseOverride(raw string) (*Limit, bool) {
	maxPart, windowPart, ok := strings.Cut(raw, "/")
	if !ok {
		return nil, false
	}
	maxReq, err1 := strconv.ParseInt(strings.TrimSpace(maxPart), 10, 64)
	windowMs, err2 := strconv.ParseInt(strings.TrimSpace(windowPart), 10, 64)
	if err1 != nil || err2 != nil {
		return nil, false
	}
	l := Limit{MaxRequests: maxReq, WindowMs: windowMs}
	if !l.Valid() {
		return nil, false
	}
	return &l, true
}
