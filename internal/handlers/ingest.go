package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/catstream/edge-metrics-go/internal/events"
	"github.com/catstream/edge-metrics-go/internal/middleware"
	"github.com/catstream/edge-metrics-go/internal/pkg/apperr"
	"github.com/catstream/edge-metrics-go/pkg/types"
	"github.com/gin-gonic/gin"
)

// MaxEventBodyBytes 单个事件请求体上限
const MaxEventBodyBytes = 64 << 10

// IngestHandler 协作方事件写入
type IngestHandler struct {
	recorder middleware.EventRecorder
	now      func() time.Time
}

// NewIngestHandler 创建事件写入处理器
func NewIngestHandler(recorder middleware.EventRecorder) *IngestHandler {
	return &IngestHandler{recorder: recorder, now: time.Now}
}

// Submit 校验事件并异步写入, 不等待存储
func (h *IngestHandler) Submit(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxEventBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.AbortWithError(c, &apperr.AppError{
				Code:       "payload_too_large",
				Message:    "event body too large",
				StatusCode: http.StatusRequestEntityTooLarge,
			})
			return
		}
		middleware.AbortWithError(c, apperr.Invalid("read body: %v", err))
		return
	}

	now := h.now()
	ev, err := events.DecodeJSON(body, middleware.GetRequestContext(c), now)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	h.recorder.RecordEvent(ev)
	c.JSON(http.StatusAccepted, types.NewDataResponse(gin.H{"type": ev.Kind()}, middleware.GetRequestIDFromContext(c), now))
}
