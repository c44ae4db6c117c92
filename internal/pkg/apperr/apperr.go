// Package apperr 定义指标层的错误分类及其 HTTP 映射
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrStorageUnavailable 键值存储缺失或出错
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrAnalyticsUnavailable 事件存储缺失或出错
	ErrAnalyticsUnavailable = errors.New("analytics unavailable")
	// ErrMalformedRecord 单条分析记录无法解析
	ErrMalformedRecord = errors.New("malformed analytics record")
	// ErrRateLimitExceeded 正常的限流拒绝, 不是故障
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrTokenNotFound 令牌没有任何使用记录
	ErrTokenNotFound = errors.New("token not found")
	// ErrTokenRevoked 令牌已被吊销
	ErrTokenRevoked = errors.New("token revoked")
	// ErrDataUnavailable 数据源不可用且不允许降级
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrInvalidArgument 请求参数非法
	ErrInvalidArgument = errors.New("invalid argument")
)

// AppError 带状态码的应用错误
type AppError struct {
	Code       string
	Message    string
	StatusCode int
	Internal   error
}

func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Internal.Error())
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Internal
}

// Storage 包装键值存储错误; context 超时与取消同样视为不可用
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStorageUnavailable, err))
}

// Analytics 包装事件存储错误
func Analytics(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, errors.Join(ErrAnalyticsUnavailable, err))
}

// Invalid 构造参数错误
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// IsUnavailable 任一后端不可用
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrAnalyticsUnavailable) ||
		errors.Is(err, ErrDataUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// HTTPStatus 错误到状态码的映射
func HTTPStatus(err error) int {
	var appErr *AppError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &appErr):
		return appErr.StatusCode
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrTokenNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTokenRevoked):
		return http.StatusUnauthorized
	case errors.Is(err, ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code 错误的机器可读代码
func Code(err error) string {
	var appErr *AppError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &appErr):
		return appErr.Code
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrTokenNotFound):
		return "token_not_found"
	case errors.Is(err, ErrTokenRevoked):
		return "token_revoked"
	case errors.Is(err, ErrRateLimitExceeded):
		return "rate_limit_exceeded"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, ErrAnalyticsUnavailable):
		return "analytics_unavailable"
	case IsUnavailable(err):
		return "data_unavailable"
	default:
		return "internal_error"
	}
}
