package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 全局配置结构
type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Analytics AnalyticsConfig
	RateLimit RateLimitConfig
	Metrics   MetricsConfig
	Security  SecurityConfig
	System    SystemConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port         int
	Host         string
	Env          string
	TrustProxy   bool
	LogDir       string
	CORSAllowAll bool
	CORSOrigins  []string
}

type RedisConfig struct {
	Enabled        bool
	Host           string
	Port           int
	Password       string
	DB             int
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	MaxRetries     int
	EnableTLS      bool
}

// AnalyticsConfig 事件存储配置
type AnalyticsConfig struct {
	Driver        string // sqlite | postgres | none
	SQLitePath    string
	PostgresURL   string
	BufferSize    int
	FlushInterval time.Duration
	RetentionDays int
	DefaultLimit  int
	MaxLimit      int
}

// RateLimitConfig 限流全局默认值
type RateLimitConfig struct {
	MaxRequests int
	WindowMs    int64
	FailMode    string // open | closed
	PolicyFile  string
}

// MetricsConfig 聚合指标读取配置
type MetricsConfig struct {
	CacheTTL time.Duration
	Strict   bool
}

type SecurityConfig struct {
	JWTSecret string
	JWTIssuer string
}

type SystemConfig struct {
	TimezoneOffset int
	StorageTimeout time.Duration
}

// LogConfig 日志文件轮转配置
type LogConfig struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"

	FailOpen   = "open"
	FailClosed = "closed"
)

// Cfg 全局配置实例
var Cfg *Config

// IsProduction 是否生产环境
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Load 加载配置
func Load() (*Config, error) {
	envPaths := []string{
		".env",
		"../.env",
		"../../.env",
	}

	envLoaded := false
	for _, p := range envPaths {
		if _, err := os.Stat(p); err == nil {
			if err := godotenv.Load(p); err != nil {
				fmt.Printf("⚠️  Failed to load .env from %s: %v\n", p, err)
			} else {
				fmt.Printf("✅ Loaded .env from %s\n", p)
				envLoaded = true
				break
			}
		}
	}

	if !envLoaded {
		fmt.Println("⚠️  No .env file found, using environment variables")
	}

	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}

	Cfg = cfg
	return cfg, nil
}

// FromEnv 仅从环境变量构建配置 (不读取 .env)
func FromEnv() (*Config, error) {
	env := getEnv("APP_ENV", "development")
	production := env == "production"

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnvInt("PORT", 8080),
			Host:         getEnv("HOST", "0.0.0.0"),
			Env:          env,
			TrustProxy:   getEnvBool("TRUST_PROXY", false),
			LogDir:       getEnv("LOG_DIR", ""),
			CORSAllowAll: getEnvBool("CORS_ALLOW_ALL", false),
			CORSOrigins:  getEnvList("CORS_ORIGINS"),
		},
		Redis: RedisConfig{
			Enabled:        getEnvBool("REDIS_ENABLED", true),
			Host:           getEnv("REDIS_HOST", "127.0.0.1"),
			Port:           getEnvInt("REDIS_PORT", 6379),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getEnvInt("REDIS_DB", 0),
			ConnectTimeout: time.Duration(getEnvInt("REDIS_CONNECT_TIMEOUT", 10000)) * time.Millisecond,
			CommandTimeout: time.Duration(getEnvInt("REDIS_COMMAND_TIMEOUT", 2000)) * time.Millisecond,
			MaxRetries:     getEnvInt("REDIS_MAX_RETRIES", 3),
			EnableTLS:      getEnvBool("REDIS_ENABLE_TLS", false),
		},
		Analytics: AnalyticsConfig{
			Driver:        strings.ToLower(getEnv("ANALYTICS_DRIVER", DriverSQLite)),
			SQLitePath:    getEnv("ANALYTICS_SQLITE_PATH", "data/analytics.db"),
			PostgresURL:   getEnv("ANALYTICS_POSTGRES_URL", ""),
			BufferSize:    getEnvInt("ANALYTICS_BUFFER_SIZE", 100),
			FlushInterval: getEnvDuration("ANALYTICS_FLUSH_INTERVAL", 5*time.Second),
			RetentionDays: getEnvInt("ANALYTICS_RETENTION_DAYS", 90),
			DefaultLimit:  1000,
			MaxLimit:      getEnvInt("ANALYTICS_QUERY_LIMIT", 10000),
		},
		RateLimit: RateLimitConfig{
			MaxRequests: getEnvInt("RATE_LIMIT_MAX_REQUESTS", 100),
			WindowMs:    int64(getEnvInt("RATE_LIMIT_WINDOW_MS", 60000)),
			FailMode:    strings.ToLower(getEnv("RATE_LIMIT_FAIL_MODE", FailOpen)),
			PolicyFile:  getEnv("RATE_LIMIT_POLICY_FILE", ""),
		},
		Metrics: MetricsConfig{
			CacheTTL: getEnvDuration("METRICS_CACHE_TTL", 5*time.Minute),
			Strict:   getEnvBool("METRICS_STRICT", production),
		},
		Security: SecurityConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			JWTIssuer: getEnv("JWT_ISSUER", ""),
		},
		System: SystemConfig{
			TimezoneOffset: getEnvInt("TIMEZONE_OFFSET", 0),
			StorageTimeout: getEnvDuration("STORAGE_TIMEOUT", 2*time.Second),
		},
		Log: LogConfig{
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 14),
		},
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize 校验并修正配置; 生产环境强制限流失败关闭, 且必须启用严格模式
func (c *Config) normalize() error {
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	switch c.Analytics.Driver {
	case DriverSQLite, DriverPostgres, DriverNone:
	default:
		return fmt.Errorf("unsupported ANALYTICS_DRIVER %q", c.Analytics.Driver)
	}
	if c.Analytics.Driver == DriverPostgres && c.Analytics.PostgresURL == "" {
		return fmt.Errorf("ANALYTICS_POSTGRES_URL is required for postgres driver")
	}

	switch c.RateLimit.FailMode {
	case FailOpen, FailClosed:
	default:
		return fmt.Errorf("unsupported RATE_LIMIT_FAIL_MODE %q", c.RateLimit.FailMode)
	}

	if c.IsProduction() {
		c.RateLimit.FailMode = FailClosed
		c.Metrics.Strict = true
	}

	if c.RateLimit.MaxRequests <= 0 || c.RateLimit.WindowMs <= 0 {
		return fmt.Errorf("rate limit defaults must be positive")
	}
	if c.Analytics.MaxLimit < c.Analytics.DefaultLimit {
		c.Analytics.DefaultLimit = c.Analytics.MaxLimit
	}
	if c.Analytics.BufferSize <= 0 {
		c.Analytics.BufferSize = 100
	}
	return nil
}

// 辅助函数
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

// getEnvDuration 支持 "5m" 形式, 纯数字按毫秒处理
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultVal
}

// getEnvList 逗号分隔的列表, 忽略空项
func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
