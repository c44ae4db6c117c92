package handlers

import (
	"net/http"
	"time"

	"github.com/catstream/edge-metrics-go/internal/middleware"
	"github.com/catstream/edge-metrics-go/internal/pkg/apperr"
	"github.com/catstream/edge-metrics-go/internal/pkg/logger"
	"github.com/catstream/edge-metrics-go/internal/services/tokens"
	"github.com/catstream/edge-metrics-go/pkg/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TokensHandler 令牌吊销与使用统计管理接口
type TokensHandler struct {
	ledger *tokens.Ledger
	now    func() time.Time
}

// NewTokensHandler 创建令牌处理器
func NewTokensHandler(ledger *tokens.Ledger) *TokensHandler {
	return &TokensHandler{ledger: ledger, now: time.Now}
}

// Revoke 吊销令牌
func (h *TokensHandler) Revoke(c *gin.Context) {
	id, ok := tokenID(c)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.AbortWithError(c, apperr.Invalid("invalid body: %v", err))
			return
		}
	}

	revokedBy := "unknown"
	if p := middleware.GetPrincipal(c); p != nil {
		revokedBy = p.Subject
	}

	rev, err := h.ledger.Revoke(c.Request.Context(), id, revokedBy, req.Reason)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	logger.Info("🚫 Token revoked",
		zap.String("uuid", id),
		zap.String("revokedBy", revokedBy),
		zap.String("reason", req.Reason))

	c.JSON(http.StatusOK, types.NewDataResponse(gin.H{"uuid": id, "revoked": true, "revocation": rev},
		middleware.GetRequestIDFromContext(c), h.now()))
}

// Unrevoke 解除吊销
func (h *TokensHandler) Unrevoke(c *gin.Context) {
	id, ok := tokenID(c)
	if !ok {
		return
	}

	if err := h.ledger.Unrevoke(c.Request.Context(), id); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	logger.Info("♻️ Token revocation lifted", zap.String("uuid", id))

	c.JSON(http.StatusOK, types.NewDataResponse(gin.H{"uuid": id, "revoked": false},
		middleware.GetRequestIDFromContext(c), h.now()))
}

// Revoked 查询吊销状态
func (h *TokensHandler) Revoked(c *gin.Context) {
	id, ok := tokenID(c)
	if !ok {
		return
	}

	rev, err := h.ledger.Revocation(c.Request.Context(), id)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, types.NewDataResponse(gin.H{"uuid": id, "revoked": rev != nil, "revocation": rev},
		middleware.GetRequestIDFromContext(c), h.now()))
}

// Usage 查询使用统计
func (h *TokensHandler) Usage(c *gin.Context) {
	id, ok := tokenID(c)
	if !ok {
		return
	}

	usage, err := h.ledger.GetUsage(c.Request.Context(), id)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, types.NewDataResponse(usage, middleware.GetRequestIDFromContext(c), h.now()))
}

// SetLimit 设置令牌请求上限; 0 表示清除
func (h *TokensHandler) SetLimit(c *gin.Context) {
	id, ok := tokenID(c)
	if !ok {
		return
	}

	var req struct {
		MaxRequests *int64 `json:"maxRequests"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, apperr.Invalid("invalid body: %v", err))
		return
	}
	if req.MaxRequests == nil || *req.MaxRequests < 0 {
		middleware.AbortWithError(c, apperr.Invalid("maxRequests must be a non-negative integer"))
		return
	}

	if err := h.ledger.SetMaxRequests(c.Request.Context(), id, *req.MaxRequests); err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, types.NewDataResponse(gin.H{"uuid": id, "maxRequests": *req.MaxRequests},
		middleware.GetRequestIDFromContext(c), h.now()))
}

// tokenID 路径参数必须是 UUID
func tokenID(c *gin.Context) (string, bool) {
	raw := c.Param("uuid")
	id, err := uuid.Parse(raw)
	if err != nil {
		middleware.AbortWithError(c, apperr.Invalid("token id %q is not a uuid", raw))
		return "", false
	}
	return id.String(), true
}
