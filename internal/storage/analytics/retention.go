package analytics

import (
	"context"
	"time"

	"github.com/catstream/edge-metrics-go/internal/pkg/logger"
	"go.uber.org/zap"
)

// RunRetentionOnce 删除保留期之外的数据点
func RunRetentionOnce(ctx context.Context, store Store, retentionDays int, now time.Time) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-time.Duration(retentionDays) * 24 * time.Hour)
	return store.Cleanup(ctx, cutoff)
}

// StartRetentionWorker 启动时执行一次, 之后每天一次, ctx 结束即退出
func StartRetentionWorker(ctx context.Context, store Store, retentionDays int, interval time.Duration) {
	if retentionDays <= 0 {
		return
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	run := func() {
		deleted, err := RunRetentionOnce(ctx, store, retentionDays, time.Now())
		if err != nil {
			logger.Warn("⚠️ Analytics retention cleanup failed", zap.Error(err))
			return
		}
		if deleted > 0 {
			logger.Info("🧹 Analytics retention cleanup", zap.Int64("deleted", deleted))
		}
	}

	go func() {
		run()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}
