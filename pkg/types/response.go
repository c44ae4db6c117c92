package types

import "time"

// Meta 响应元信息; Cached 总是输出
type Meta struct {
	RequestID   string     `json:"requestId"`
	Timestamp   time.Time  `json:"timestamp"`
	Cached      bool       `json:"cached"`
	CacheExpiry *time.Time `json:"cacheExpiry,omitempty"`
}

// Response 通用响应结构
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
	Message string      `json:"message,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status     string            `json:"status"`
	Service    string            `json:"service"`
	Version    string            `json:"version"`
	Timestamp  string            `json:"timestamp"`
	Components map[string]bool   `json:"components"`
	Details    map[string]string `json:"details,omitempty"`
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}, message string) *Response {
	return &Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// NewDataResponse 带元信息的数据响应
func NewDataResponse(data interface{}, requestID string, now time.Time) *Response {
	return &Response{
		Success: true,
		Data:    data,
		Meta:    &Meta{RequestID: requestID, Timestamp: now.UTC()},
	}
}

// WithCache 设置缓存标记; expiry 为零值时不输出 cacheExpiry
func (r *Response) WithCache(cached bool, expiry time.Time) *Response {
	if r.Meta == nil {
		r.Meta = &Meta{}
	}
	r.Meta.Cached = cached
	if !expiry.IsZero() {
		e := expiry.UTC()
		r.Meta.CacheExpiry = &e
	}
	return r
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(err, code, requestID string) *ErrorResponse {
	return &ErrorResponse{
		Success:   false,
		Error:     err,
		Code:      code,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	}
}
