// Package tokens 令牌使用统计与吊销名单
package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/catstream/edge-metrics-go/internal/pkg/apperr"
	"github.com/catstream/edge-metrics-go/internal/storage/redis"
	"golang.org/x/sync/errgroup"
)

// Outcome 一次请求对令牌的计数结果
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeFail        Outcome = "fail"
	OutcomeRateLimited Outcome = "rate_limited"
)

// RollingWindowHours 滚动统计窗口
const RollingWindowHours = 24

// Revocation 吊销记录
type Revocation struct {
	RevokedAt time.Time `json:"revoked_at"`
	RevokedBy string    `json:"revoked_by"`
	Reason    string    `json:"reason"`
}

// Usage 令牌使用统计
type Usage struct {
	UUID             string      `json:"uuid"`
	TotalRequests    int64       `json:"totalRequests"`
	SuccessRequests  int64       `json:"successRequests"`
	FailedRequests   int64       `json:"failedRequests"`
	RateLimitedCount int64       `json:"rateLimitedRequests"`
	Last24hRequests  int64       `json:"last24hRequests"`
	LastUsed         *time.Time  `json:"lastUsed,omitempty"`
	CreatedAt        *time.Time  `json:"createdAt,omitempty"`
	MaxRequests      *int64      `json:"maxRequests,omitempty"`
	Revoked          bool        `json:"revoked"`
	Revocation       *Revocation `json:"revocation,omitempty"`
}

// usageField 单个统计字段的读取结果
type usageField struct {
	name  string
	value int64
	found bool
}

// Ledger 令牌账本, 建立在计数器存储之上
type Ledger struct {
	store    redis.Store
	counters *redis.Counters
	tz       redis.Timezone
	now      func() time.Time
}

// Option 配置项
type Option func(*Ledger)

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger 创建账本
func NewLedger(store redis.Store, tz redis.Timezone, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		counters: redis.NewCounters(store),
		tz:       tz,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ========== 吊销名单 ==========

// IsRevoked 键存在即已吊销; 不存在不代表令牌存在
func (l *Ledger) IsRevoked(ctx context.Context, uuid string) (bool, error) {
	_, found, err := l.store.Get(ctx, redis.RevokedTokenKey(uuid))
	if err != nil {
		return false, err
	}
	return found, nil
}

// Revocation 读取吊销详情
func (l *Ledger) Revocation(ctx context.Context, uuid string) (*Revocation, error) {
	raw, found, err := l.store.Get(ctx, redis.RevokedTokenKey(uuid))
	if err != nil || !found {
		return nil, err
	}
	var rev Revocation
	if err := json.Unmarshal([]byte(raw), &rev); err != nil {
		// 详情损坏但吊销依旧有效
		return &Revocation{}, nil
	}
	return &rev, nil
}

// Revoke 写入吊销名单, 30 天后自动过期
func (l *Ledger) Revoke(ctx context.Context, uuid, by, reason string) (*Revocation, error) {
	if uuid == "" {
		return nil, apperr.Invalid("token uuid is required")
	}
	rev := &Revocation{RevokedAt: l.now().UTC(), RevokedBy: by, Reason: reason}
	data, err := json.Marshal(rev)
	if err != nil {
		return nil, fmt.Errorf("encode revocation: %w", err)
	}
	if err := l.store.Put(ctx, redis.RevokedTokenKey(uuid), string(data), redis.TTLRevokedToken); err != nil {
		return nil, err
	}
	return rev, nil
}

// Unrevoke 解除吊销; 重复调用不是错误
func (l *Ledger) Unrevoke(ctx context.Context, uuid string) error {
	return l.store.Delete(ctx, redis.RevokedTokenKey(uuid))
}

// ========== 使用统计 ==========

// RecordUsage 计入一次请求
//
// 多个字段分别先读后写, 并发写入时计数是近似值.
func (l *Ledger) RecordUsage(ctx context.Context, uuid string, outcome Outcome) error {
	if uuid == "" {
		return apperr.Invalid("token uuid is required")
	}
	now := l.now()
	ttl := redis.TTLTokenUsage

	if _, err := l.counters.IncrementBy(ctx, redis.TokenUsageKey(uuid, redis.TokenFieldTotal), 1, ttl); err != nil {
		return err
	}
	if field := outcomeField(outcome); field != "" {
		if _, err := l.counters.IncrementBy(ctx, redis.TokenUsageKey(uuid, field), 1, ttl); err != nil {
			return err
		}
	}

	hourKey := redis.TokenUsageKey(uuid, redis.TokenFieldHourly, l.tz.Hour(now))
	if _, err := l.counters.IncrementBy(ctx, hourKey, 1, redis.TTLTokenHourly); err != nil {
		return err
	}

	stamp := strconv.FormatInt(now.UnixMilli(), 10)
	if err := l.store.Put(ctx, redis.TokenUsageKey(uuid, redis.TokenFieldLastUsed), stamp, ttl); err != nil {
		return err
	}

	createdKey := redis.TokenUsageKey(uuid, redis.TokenFieldCreatedAt)
	_, exists, err := l.store.Get(ctx, createdKey)
	if err != nil {
		return err
	}
	if !exists {
		return l.store.Put(ctx, createdKey, stamp, ttl)
	}
	return nil
}

// SetMaxRequests 设置令牌请求上限; 非正数表示清除
func (l *Ledger) SetMaxRequests(ctx context.Context, uuid string, maxRequests int64) error {
	key := redis.TokenUsageKey(uuid, redis.TokenFieldMaxRequests)
	if maxRequests <= 0 {
		return l.store.Delete(ctx, key)
	}
	return l.counters.Set(ctx, key, maxRequests, 0)
}

// GetUsage 读取全部统计; 核心字段都不存在时返回 ErrTokenNotFound
func (l *Ledger) GetUsage(ctx context.Context, uuid string) (*Usage, error) {
	now := l.now()
	usage := &Usage{UUID: uuid}

	core := []*usageField{
		{name: redis.TokenFieldTotal},
		{name: redis.TokenFieldSuccess},
		{name: redis.TokenFieldFail},
		{name: redis.TokenFieldRateLimited},
		{name: redis.TokenFieldLastUsed},
		{name: redis.TokenFieldCreatedAt},
		{name: redis.TokenFieldMaxRequests},
	}
	hours := l.tz.HoursBack(now, RollingWindowHours)
	hourKeys := make([]string, len(hours))
	for i, h := range hours {
		hourKeys[i] = redis.TokenUsageKey(uuid, redis.TokenFieldHourly, h)
	}

	var rolling redis.SumResult
	var rev *Revocation

	g, gctx := errgroup.WithContext(ctx)
	for _, f := range core {
		g.Go(func() error {
			v, found, err := l.counters.Read(gctx, redis.TokenUsageKey(uuid, f.name))
			f.value, f.found = v, found
			return err
		})
	}
	g.Go(func() error {
		var err error
		rolling, err = l.counters.Sum(gctx, hourKeys)
		return err
	})
	g.Go(func() error {
		var err error
		rev, err = l.Revocation(gctx, uuid)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	anyCore := false
	// max_requests 是配置而非使用痕迹, 不参与存在性判断
	for _, f := range core[:6] {
		anyCore = anyCore || f.found
	}
	if !anyCore {
		return nil, fmt.Errorf("%w: %s", apperr.ErrTokenNotFound, uuid)
	}

	usage.TotalRequests = core[0].value
	usage.SuccessRequests = core[1].value
	usage.FailedRequests = core[2].value
	usage.RateLimitedCount = core[3].value
	usage.LastUsed = msTime(core[4])
	usage.CreatedAt = msTime(core[5])
	if core[6].found {
		v := core[6].value
		usage.MaxRequests = &v
	}
	usage.Last24hRequests = rolling.Value
	usage.Revoked = rev != nil
	usage.Revocation = rev
	return usage, nil
}

func outcomeField(o Outcome) string {
	switch o {
	case OutcomeSuccess:
		return redis.TokenFieldSuccess
	case OutcomeFail:
		return redis.TokenFieldFail
	case OutcomeRateLimited:
		return redis.TokenFieldRateLimited
	default:
		return ""
	}
}

func msTime(f *usageField) *time.Time {
	if !f.found || f.value <= 0 {
		return nil
	}
	t := time.UnixMilli(f.value).UTC()
	return &t
}
