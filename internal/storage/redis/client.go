package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/catstream/edge-metrics-go/internal/config"
	"github.com/catstream/edge-metrics-go/internal/pkg/apperr"
	"github.com/catstream/edge-metrics-go/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 连接池配置常量
const (
	// DefaultPoolSize Redis 默认连接池大小
	DefaultPoolSize = 100
	// DefaultMinIdleConns Redis 默认最小空闲连接数
	DefaultMinIdleConns = 10
	// DefaultCommandTimeout 未配置时单条命令的超时
	DefaultCommandTimeout = 2 * time.Second
)

var (
	// ErrNotConnected Redis 未连接错误
	ErrNotConnected = errors.New("redis client is not connected")
)

// Store 计数器存储契约: 只有 get / put / delete 与 TTL, 没有事务与原子自增
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Scanner 可选的键枚举能力 (管理接口使用)
type Scanner interface {
	ScanKeys(ctx context.Context, pattern string, count int64) ([]string, error)
}

// Client Redis 客户端封装, 未连接时所有操作返回 StorageUnavailable
type Client struct {
	client         *redis.Client
	isConnected    bool
	mu             sync.RWMutex
	commandTimeout time.Duration
}

var (
	instance *Client
	once     sync.Once
)

// GetInstance 获取 Redis 客户端单例
func GetInstance() *Client {
	once.Do(func() {
		instance = &Client{commandTimeout: DefaultCommandTimeout}
	})
	return instance
}

// NewClient 包装已有的 go-redis 客户端 (测试或自定义连接)
func NewClient(rdb *redis.Client, commandTimeout time.Duration) *Client {
	if commandTimeout <= 0 {
		commandTimeout = DefaultCommandTimeout
	}
	return &Client{client: rdb, isConnected: rdb != nil, commandTimeout: commandTimeout}
}

// Connect 连接 Redis
func (c *Client) Connect(cfg *config.RedisConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	opts := &redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.ConnectTimeout,
		ReadTimeout:  cfg.CommandTimeout,
		WriteTimeout: cfg.CommandTimeout,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     DefaultPoolSize,
		MinIdleConns: DefaultMinIdleConns,
	}

	if cfg.EnableTLS {
		opts.TLSConfig = &tls.Config{}
	}
	if cfg.CommandTimeout > 0 {
		c.commandTimeout = cfg.CommandTimeout
	}

	c.client = redis.NewClient(opts)

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	if _, err := c.client.Ping(ctx).Result(); err != nil {
		logger.Error("❌ Failed to connect to Redis", zap.Error(err))
		return err
	}

	c.isConnected = true
	logger.Info("🔗 Redis connected successfully",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.Int("db", cfg.DB))

	return nil
}

// Disconnect 断开连接
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		if err := c.client.Close(); err != nil {
			return err
		}
		c.isConnected = false
		logger.Info("👋 Redis disconnected")
	}
	return nil
}

// GetClientSafe 安全获取客户端 (错误时返回 error)
func (c *Client) GetClientSafe() (*redis.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isConnected || c.client == nil {
		return nil, ErrNotConnected
	}
	return c.client, nil
}

// IsConnected 检查连接状态
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

// bounded 命令级超时, 不超过调用方剩余的请求预算
func (c *Client) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.commandTimeout)
}

// ========== Store 实现 ==========

// Get 读取字符串值; 键不存在返回 found=false
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	client, err := c.GetClientSafe()
	if err != nil {
		return "", false, apperr.Storage("get "+key, err)
	}

	ctx, cancel := c.bounded(ctx)
	defer cancel()

	val, err := client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Storage("get "+key, err)
	}
	return val, true, nil
}

// Put 写入字符串值; ttl<=0 表示永不过期
func (c *Client) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	client, err := c.GetClientSafe()
	if err != nil {
		return apperr.Storage("put "+key, err)
	}

	ctx, cancel := c.bounded(ctx)
	defer cancel()

	if ttl < 0 {
		ttl = 0
	}
	if err := client.Set(ctx, key, value, ttl).Err(); err != nil {
		return apperr.Storage("put "+key, err)
	}
	logger.Storage("put", zap.String("key", key), zap.Duration("ttl", ttl))
	return nil
}

// Delete 删除键; 删除不存在的键不是错误
func (c *Client) Delete(ctx context.Context, key string) error {
	client, err := c.GetClientSafe()
	if err != nil {
		return apperr.Storage("delete "+key, err)
	}

	ctx, cancel := c.bounded(ctx)
	defer cancel()

	if err := client.Del(ctx, key).Err(); err != nil {
		return apperr.Storage("delete "+key, err)
	}
	return nil
}

// ScanKeys 使用 SCAN 获取匹配的所有 key (避免阻塞)
func (c *Client) ScanKeys(ctx context.Context, pattern string, count int64) ([]string, error) {
	client, err := c.GetClientSafe()
	if err != nil {
		return nil, apperr.Storage("scan "+pattern, err)
	}

	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var keys []string
	var cursor uint64

	for {
		var batch []string
		var err error
		batch, cursor, err = client.Scan(ctx, cursor, pattern, count).Result()
		if err != nil {
			return nil, apperr.Storage("scan "+pattern, err)
		}
		keys = append(keys, batch...)
		if cursor == 0 {
			break
		}
	}

	return keys, nil
}

// ========== 健康检查 ==========

// Health 健康检查
func (c *Client) Health(ctx context.Context) error {
	client, err := c.GetClientSafe()
	if err != nil {
		return apperr.Storage("ping", err)
	}

	ctx, cancel := c.bounded(ctx)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return apperr.Storage("ping", err)
	}
	return nil
}
