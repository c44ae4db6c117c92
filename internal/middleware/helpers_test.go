package middleware

import (
	"context"
	"sync"
	"testing"

	"github.com/catstream/edge-metrics-go/internal/config"
	"github.com/catstream/edge-metrics-go/internal/events"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// withConfig 替换全局配置
func withConfig(t *testing.T, secret string) {
	t.Helper()
	old := config.Cfg
	config.Cfg = &config.Config{Security: config.SecurityConfig{JWTSecret: secret, JWTIssuer: "edge-metrics"}}
	t.Cleanup(func() { config.Cfg = old })
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) RecordEvent(ev events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]events.Event(nil), l.events...)
}

type revocations struct {
	revoked map[string]bool
	err     error
}

func (r revocations) IsRevoked(_ context.Context, uuid string) (bool, error) {
	return r.revoked[uuid], r.err
}
