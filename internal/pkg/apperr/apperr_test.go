package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStorageWrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Storage("get counter", cause)

	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "get counter")
	assert.Nil(t, Storage("noop", nil))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"存储不可用", Storage("get", errors.New("x")), http.StatusServiceUnavailable, "storage_unavailable"},
		{"分析不可用", Analytics("query", errors.New("x")), http.StatusServiceUnavailable, "analytics_unavailable"},
		{"超时视为不可用", fmt.Errorf("get: %w", context.DeadlineExceeded), http.StatusServiceUnavailable, "data_unavailable"},
		{"令牌不存在", ErrTokenNotFound, http.StatusNotFound, "token_not_found"},
		{"令牌已吊销", ErrTokenRevoked, http.StatusUnauthorized, "token_revoked"},
		{"限流", ErrRateLimitExceeded, http.StatusTooManyRequests, "rate_limit_exceeded"},
		{"参数错误", Invalid("bad range %q", "9y"), http.StatusBadRequest, "invalid_argument"},
		{"自定义错误", &AppError{Code: "teapot", StatusCode: http.StatusTeapot}, http.StatusTeapot, "teapot"},
		{"未知错误", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
			assert.Equal(t, tt.code, Code(tt.err))
		})
	}
}
