package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/catstream/edge-metrics-go/internal/pkg/logger"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// EndpointLimit 单个端点的限流默认值
type EndpointLimit struct {
	MaxRequests int   `yaml:"maxRequests"`
	WindowMs    int64 `yaml:"windowMs"`
}

// policyFile 限流策略文件结构
//
//	endpoints:
//	  /api/metrics:
//	    maxRequests: 30
//	    windowMs: 60000
type policyFile struct {
	Endpoints map[string]EndpointLimit `yaml:"endpoints"`
}

// PolicyStore 端点限流策略, 支持文件热加载
type PolicyStore struct {
	path      string
	mu        sync.RWMutex
	endpoints map[string]EndpointLimit
	watcher   *fsnotify.Watcher
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewPolicyStore 创建策略存储; path 为空时只返回空策略
func NewPolicyStore(path string) (*PolicyStore, error) {
	p := &PolicyStore{
		path:      path,
		endpoints: map[string]EndpointLimit{},
		stopChan:  make(chan struct{}),
	}
	if path == "" {
		return p, nil
	}
	if err := p.reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewStaticPolicyStore 使用固定端点策略 (测试或内嵌配置)
func NewStaticPolicyStore(endpoints map[string]EndpointLimit) *PolicyStore {
	p := &PolicyStore{endpoints: map[string]EndpointLimit{}, stopChan: make(chan struct{})}
	for k, v := range endpoints {
		p.endpoints[k] = v
	}
	return p
}

// ParsePolicy 解析 YAML 策略内容
func ParsePolicy(data []byte) (map[string]EndpointLimit, error) {
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rate limit policy: %w", err)
	}
	out := make(map[string]EndpointLimit, len(f.Endpoints))
	for endpoint, limit := range f.Endpoints {
		if limit.MaxRequests <= 0 || limit.WindowMs <= 0 {
			return nil, fmt.Errorf("invalid limit for endpoint %q", endpoint)
		}
		out[strings.TrimSpace(endpoint)] = limit
	}
	return out, nil
}

func (p *PolicyStore) reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read rate limit policy: %w", err)
	}
	endpoints, err := ParsePolicy(data)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.endpoints = endpoints
	p.mu.Unlock()

	logger.Info("📋 Rate limit policy loaded",
		zap.String("path", p.path),
		zap.Int("endpoints", len(endpoints)))
	return nil
}

// Lookup 查询端点默认值
func (p *PolicyStore) Lookup(endpoint string) (EndpointLimit, bool) {
	if p == nil {
		return EndpointLimit{}, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	limit, ok := p.endpoints[endpoint]
	return limit, ok
}

// Watch 监听策略文件变更并重载
func (p *PolicyStore) Watch() {
	if p.path == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("Failed to create policy watcher", zap.Error(err))
		return
	}
	p.watcher = watcher

	go func() {
		debounceTimer := time.NewTimer(0)
		if !debounceTimer.Stop() {
			<-debounceTimer.C
		}

		for {
			select {
			case <-p.stopChan:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					// 500ms 内的多次变更只触发一次重载
					debounceTimer.Reset(500 * time.Millisecond)
				}
			case <-debounceTimer.C:
				if err := p.reload(); err != nil {
					// 保留旧策略
					logger.Warn("Failed to reload rate limit policy", zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Policy watcher error", zap.Error(err))
			}
		}
	}()

	if err := watcher.Add(p.path); err != nil {
		logger.Warn("Failed to watch policy file", zap.Error(err))
	}
}

// Close 停止监听
func (p *PolicyStore) Close() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
		if p.watcher != nil {
			_ = p.watcher.Close()
		}
	})
}
