package handlers

import (
	"net/http"
	"strings"
	"testing"

	"github.com/catstream/edge-metrics-go/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitEvent(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/events", `{"type":"redirect","slug":"gh","destination":"https://github.com"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	logged := f.events.all()
	require.Len(t, logged, 1)
	redirect, ok := logged[0].(events.Redirect)
	require.True(t, ok)
	assert.Equal(t, "gh", redirect.Slug)
	assert.Equal(t, int64(1), redirect.ClickCount)
	assert.Equal(t, now, redirect.Timestamp)
	assert.Equal(t, "192.0.2.1", redirect.Context.ClientIP)
	assert.Equal(t, http.MethodPost, redirect.Context.Method)
}

func TestSubmitEventRejects(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"非法 JSON", `{"type":`, http.StatusBadRequest},
		{"未知类型", `{"type":"bogus"}`, http.StatusBadRequest},
		{"缺少 slug", `{"type":"redirect"}`, http.StatusBadRequest},
		{"外部限流事件", `{"type":"rate_limit"}`, http.StatusBadRequest},
		{"超出大小", `{"type":"ai","operation":"` + strings.Repeat("x", MaxEventBodyBytes) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/api/events", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
	assert.Empty(t, f.events.all())
}
