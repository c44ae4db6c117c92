package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/catstream/edge-metrics-go/internal/config"
	"github.com/catstream/edge-metrics-go/internal/handlers"
	"github.com/catstream/edge-metrics-go/internal/middleware"
	"github.com/catstream/edge-metrics-go/internal/pkg/logger"
	"github.com/catstream/edge-metrics-go/internal/services/metrics"
	"github.com/catstream/edge-metrics-go/internal/services/metricscache"
	"github.com/catstream/edge-metrics-go/internal/services/ratelimit"
	"github.com/catstream/edge-metrics-go/internal/services/tokens"
	"github.com/catstream/edge-metrics-go/internal/storage/analytics"
	"github.com/catstream/edge-metrics-go/internal/storage/redis"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	version     = "0.1.0"
	serviceName = "edge-metrics-go"

	shutdownTimeout   = 30 * time.Second  // 优雅关闭超时
	readTimeout       = 30 * time.Second  // HTTP 读取超时
	writeTimeout      = 60 * time.Second  // HTTP 写入超时
	idleTimeout       = 120 * time.Second // HTTP 空闲超时
	retentionInterval = 24 * time.Hour    // 事件保留期清理间隔
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("❌ Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	if err := logger.Init(cfg.Server.Env, cfg.Server.LogDir, logger.FileOptions{
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}); err != nil {
		fmt.Printf("❌ Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("🚀 Starting Edge Metrics Service",
		zap.String("version", version),
		zap.String("env", cfg.Server.Env),
		zap.Int("port", cfg.Server.Port),
		zap.String("analytics_driver", cfg.Analytics.Driver),
		zap.String("rate_limit_fail_mode", cfg.RateLimit.FailMode),
		zap.Bool("metrics_strict", cfg.Metrics.Strict))

	// 3. 连接 Redis; 未连接时所有计数器操作返回存储不可用
	redisClient := redis.GetInstance()
	if cfg.Redis.Enabled {
		if err := redisClient.Connect(&cfg.Redis); err != nil {
			if cfg.IsProduction() {
				logger.Fatal("❌ Failed to connect to Redis", zap.Error(err))
			}
			logger.Warn("⚠️ Redis unavailable, counters will report storage errors", zap.Error(err))
		}
		defer redisClient.Disconnect()
	} else {
		logger.Warn("⚠️ Redis disabled, counters will report storage errors")
	}

	// 4. 事件存储与缓冲写入器
	store, err := analytics.Open(&cfg.Analytics)
	if err != nil {
		logger.Fatal("❌ Failed to open analytics store", zap.Error(err))
	}
	defer store.Close()

	var sink metrics.EventSink
	var writer *analytics.Writer
	if cfg.Analytics.Driver != config.DriverNone {
		writer = analytics.NewWriter(store, cfg.Analytics.BufferSize, cfg.Analytics.FlushInterval)
		sink = writer
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	analytics.StartRetentionWorker(workerCtx, store, cfg.Analytics.RetentionDays, retentionInterval)

	// 5. 限流策略 (文件热加载)
	policies, err := config.NewPolicyStore(cfg.RateLimit.PolicyFile)
	if err != nil {
		logger.Fatal("❌ Failed to load rate limit policy", zap.Error(err))
	}
	policies.Watch()
	defer policies.Close()

	// 6. 服务
	tz := redis.NewTimezone(cfg.System.TimezoneOffset)
	counters := redis.NewCounters(redisClient)
	ledger := tokens.NewLedger(redisClient, tz)
	recorder := metrics.NewRecorder(counters, sink, ledger, tz, metrics.WithWriteTimeout(cfg.System.StorageTimeout))
	cache := metricscache.New(redisClient, cfg.Metrics.CacheTTL, metricscache.WithLookupHook(recorder.RecordCacheLookup))
	service := metrics.NewService(counters, store, cache, metrics.Options{
		Timezone:     tz,
		Strict:       cfg.Metrics.Strict,
		DefaultLimit: cfg.Analytics.DefaultLimit,
		MaxLimit:     cfg.Analytics.MaxLimit,
	})
	engine := ratelimit.NewEngine(redisClient,
		ratelimit.Limit{MaxRequests: int64(cfg.RateLimit.MaxRequests), WindowMs: cfg.RateLimit.WindowMs},
		cfg.RateLimit.FailMode,
		ratelimit.WithEndpointPolicy(policies))

	auth, err := middleware.NewAuthMiddleware(ledger, recorder, cfg.RateLimit.FailMode == config.FailClosed)
	if err != nil {
		logger.Fatal("❌ Failed to init auth", zap.Error(err))
	}
	limiter := middleware.NewRateLimiter(engine, recorder)

	// 7. 设置 Gin 模式
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// 8. 创建路由
	router := gin.New()
	if !cfg.Server.TrustProxy {
		if err := router.SetTrustedProxies(nil); err != nil {
			logger.Warn("⚠️ Failed to reset trusted proxies", zap.Error(err))
		}
	}
	router.Use(gin.Recovery())
	router.Use(middleware.RequestContext())
	router.Use(ginLogger())
	router.Use(middleware.CORSFromSettings(cfg.Server.CORSAllowAll, cfg.Server.CORSOrigins))

	health := handlers.NewHealthHandler(serviceName, version, redisClient.Health, store.Ping, cfg.Metrics.Strict)
	router.GET("/health", health.Health)
	router.GET("/internal/metrics", health.ProcessMetrics)

	metricsHandler := handlers.NewMetricsHandler(service)
	ingestHandler := handlers.NewIngestHandler(recorder)
	countersHandler := handlers.NewCountersHandler(counters, redisClient, handlers.WithCacheInvalidator(service))
	tokensHandler := handlers.NewTokensHandler(ledger)

	analyticsReady := func() bool { return cfg.Analytics.Driver != config.DriverNone }

	api := router.Group("/api")
	api.Use(middleware.Recorder(recorder), auth.Identify(), limiter.Limit(), middleware.RequireAuth())
	{
		read := api.Group("", middleware.RequireScope(middleware.ScopeMetrics))
		{
			read.GET("/metrics", metricsHandler.GetMetrics)
			read.GET("/analytics",
				middleware.RequireBackend("analytics", analyticsReady, cfg.Metrics.Strict),
				metricsHandler.GetAnalytics)
			read.GET("/events",
				middleware.RequireBackend("analytics", analyticsReady, true),
				metricsHandler.ListEvents)
		}

		api.POST("/events", middleware.RequireScope(middleware.ScopeIngest), ingestHandler.Submit)

		admin := api.Group("", middleware.RequireScope(middleware.ScopeAdmin))
		{
			admin.GET("/counters", countersHandler.List)
			admin.GET("/counters/:key", countersHandler.Get)
			admin.POST("/counters/:key/increment", countersHandler.Increment)
			admin.PUT("/counters/:key", middleware.DevelopmentOnly(cfg.Server.Env), countersHandler.Put)

			admin.POST("/tokens/:uuid/revoke", tokensHandler.Revoke)
			admin.DELETE("/tokens/:uuid/revoke", tokensHandler.Unrevoke)
			admin.GET("/tokens/:uuid/revoked", tokensHandler.Revoked)
			admin.GET("/tokens/:uuid/usage", tokensHandler.Usage)
			admin.PUT("/tokens/:uuid/limit", tokensHandler.SetLimit)
		}
	}

	// 9. 启动服务器
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	go func() {
		logger.Info("🌐 Server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("❌ Server failed", zap.Error(err))
		}
	}()

	// 10. 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("❌ Server forced to shutdown", zap.Error(err))
	}

	// 在途的写路径任务先于写入器结束
	recorder.Wait()
	stopWorkers()
	if writer != nil {
		if err := writer.Close(ctx); err != nil {
			logger.Warn("⚠️ Failed to flush analytics events on shutdown", zap.Error(err))
		}
	}

	logger.Info("👋 Server exited")
}

// ginLogger Gin 日志中间件
func ginLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("HTTP Request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
			zap.String("request_id", middleware.GetRequestIDFromContext(c)))
	}
}
