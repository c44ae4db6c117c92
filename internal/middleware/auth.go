package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/catstream/edge-metrics-go/internal/events"
	"github.com/catstream/edge-metrics-go/internal/pkg/apperr"
	"github.com/catstream/edge-metrics-go/internal/pkg/logger"
	"github.com/catstream/edge-metrics-go/internal/services/ratelimit"
	"github.com/catstream/edge-metrics-go/pkg/types"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// 权限范围
const (
	ScopeAdmin   = "admin"
	ScopeMetrics = "metrics"
	ScopeIngest  = "ingest"
)

// Claims 访问令牌声明; jti 即令牌 UUID
type Claims struct {
	Scope     string           `json:"scope"`
	RateLimit *ratelimit.Limit `json:"rateLimit,omitempty"`
	jwt.RegisteredClaims
}

// Principal 已认证主体
type Principal struct {
	Subject   string
	TokenID   string
	Scopes    []string
	RateLimit *ratelimit.Limit
}

// HasScope admin 覆盖所有范围
func (p *Principal) HasScope(scope string) bool {
	if p == nil {
		return false
	}
	for _, s := range p.Scopes {
		if s == scope || s == ScopeAdmin {
			return true
		}
	}
	return false
}

// RevocationChecker 吊销名单查询 (tokens.Ledger)
type RevocationChecker interface {
	IsRevoked(ctx context.Context, uuid string) (bool, error)
}

// EventRecorder 事件记录 (metrics.Recorder)
type EventRecorder interface {
	RecordEvent(ev events.Event)
}

// AuthMiddleware JWT 认证中间件
type AuthMiddleware struct {
	jwtSecret   []byte
	issuer      string
	revocations RevocationChecker
	recorder    EventRecorder
	failClosed  bool
	now         func() time.Time
}

// NewAuthMiddleware 创建认证中间件; failClosed 决定吊销名单不可读时是否拒绝
func NewAuthMiddleware(revocations RevocationChecker, recorder EventRecorder, failClosed bool) (*AuthMiddleware, error) {
	secret, err := requiredJWTSecret()
	if err != nil {
		return nil, err
	}
	return &AuthMiddleware{
		jwtSecret:   secret,
		issuer:      configuredIssuer(),
		revocations: revocations,
		recorder:    recorder,
		failClosed:  failClosed,
		now:         time.Now,
	}, nil
}

// authRejection 认证失败时待发出的响应
type authRejection struct {
	status  int
	code    string
	message string
	err     error // 非 nil 时按 AppError 映射
}

// Authenticate 认证中间件, 通过后在上下文中写入 Principal
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rej := m.identify(c); rej != nil {
			rejectAuth(c, rej)
			return
		}
		c.Next()
	}
}

// Identify 只识别不拦截: 通过时写入 Principal, 失败时保留拒绝原因.
// 用于把限流放在认证拒绝之前, 未认证请求按 IP 计数; 之后必须接 RequireAuth.
func (m *AuthMiddleware) Identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rej := m.identify(c); rej != nil {
			c.Set(string(ContextKeyAuthRejection), rej)
		}
		c.Next()
	}
}

// RequireAuth 发出 Identify 保留的拒绝响应
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetPrincipal(c) != nil {
			c.Next()
			return
		}
		var rej *authRejection
		if v, ok := c.Get(string(ContextKeyAuthRejection)); ok {
			rej, _ = v.(*authRejection)
		}
		if rej == nil {
			rej = &authRejection{status: http.StatusUnauthorized, code: "missing_token", message: "Missing authentication token"}
		}
		rejectAuth(c, rej)
	}
}

func rejectAuth(c *gin.Context, rej *authRejection) {
	if rej.err != nil {
		AbortWithError(c, rej.err)
		return
	}
	c.AbortWithStatusJSON(rej.status, types.NewErrorResponse(rej.message, rej.code, GetRequestIDFromContext(c)))
}

// identify 校验令牌与吊销名单, 成功时写入 Principal
func (m *AuthMiddleware) identify(c *gin.Context) *authRejection {
	token := extractToken(c)
	if token == "" {
		m.recordAuth(c, "", false, "missing_token")
		return &authRejection{status: http.StatusUnauthorized, code: "missing_token", message: "Missing authentication token"}
	}

	claims, err := m.validateToken(token)
	if err != nil {
		logger.Warn("Token validation failed", zap.Error(err))
		m.recordAuth(c, "", false, "invalid_token")
		return &authRejection{status: http.StatusUnauthorized, code: "invalid_token", message: "Invalid or expired token"}
	}

	if claims.ID != "" && m.revocations != nil {
		revoked, err := m.revocations.IsRevoked(c.Request.Context(), claims.ID)
		switch {
		case err != nil && m.failClosed:
			m.recordAuth(c, claims.Subject, false, "revocation_unavailable")
			return &authRejection{err: err}
		case err != nil:
			logger.Warn("⚠️ Revocation list unavailable, accepting token",
				zap.String("tokenId", claims.ID),
				zap.Error(err))
		case revoked:
			m.recordAuth(c, claims.Subject, false, "token_revoked")
			return &authRejection{err: apperr.ErrTokenRevoked}
		}
	}

	m.recordAuth(c, claims.Subject, true, "")
	c.Set(string(ContextKeyPrincipal), &Principal{
		Subject:   claims.Subject,
		TokenID:   claims.ID,
		Scopes:    parseScopes(claims.Scope),
		RateLimit: claims.RateLimit,
	})
	return nil
}

// RequireScope 要求主体具备指定范围; 需放在 Authenticate 之后
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !GetPrincipal(c).HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden,
				types.NewErrorResponse(fmt.Sprintf("Scope %q required", scope), "insufficient_scope", GetRequestIDFromContext(c)))
			return
		}
		c.Next()
	}
}

// GetPrincipal 从上下文获取已认证主体
func GetPrincipal(c *gin.Context) *Principal {
	if v, exists := c.Get(string(ContextKeyPrincipal)); exists {
		if p, ok := v.(*Principal); ok {
			return p
		}
	}
	return nil
}

// validateToken 校验签名, 算法与签发者
func (m *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.jwtSecret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.Subject != "" {
		return claims, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}

// IssueToken 签发令牌 (管理工具与测试使用)
func (m *AuthMiddleware) IssueToken(subject, tokenID, scope string, ttl time.Duration, limit *ratelimit.Limit) (string, error) {
	now := m.now()
	claims := &Claims{
		Scope:     scope,
		RateLimit: limit,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        tokenID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.jwtSecret)
}

func (m *AuthMiddleware) recordAuth(c *gin.Context, subject string, success bool, reason string) {
	if m.recorder == nil {
		return
	}
	action := events.AuthSuccess
	if !success {
		action = events.AuthFailure
	}
	m.recorder.RecordEvent(events.Auth{
		Envelope: events.Envelope{Timestamp: m.now(), Context: GetRequestContext(c)},
		Action:   action,
		Success:  success,
		Subject:  subject,
		Reason:   reason,
	})
}

// extractToken 从 Authorization 头提取 Bearer 令牌
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return strings.TrimSpace(authHeader)
}

func parseScopes(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool { return r == ' ' || r == ',' })
}
