package analytics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/catstream/edge-metrics-go/internal/events"
	"github.com/catstream/edge-metrics-go/internal/pkg/apperr"
	"github.com/catstream/edge-metrics-go/internal/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DataPointRow PostgreSQL 中的数据点行
type DataPointRow struct {
	ID        uint              `gorm:"primaryKey"`
	Timestamp time.Time         `gorm:"index:idx_analytics_type_ts,priority:2;index;not null"`
	Index1    string            `gorm:"column:index1;index;size:512"`
	EventType string            `gorm:"index:idx_analytics_type_ts,priority:1;size:64"`
	Blobs     datatypes.JSONMap `gorm:"type:jsonb"`
	Doubles   datatypes.JSONMap `gorm:"type:jsonb"`
}

// TableName 表名
func (DataPointRow) TableName() string { return "analytics_data_points" }

// PostgresStore 基于 GORM 的事件存储
type PostgresStore struct {
	db *gorm.DB
}

// OpenPostgres 连接 PostgreSQL 并迁移表结构
func OpenPostgres(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return nil, errors.New("analytics postgres url must be a postgres:// or postgresql:// URL")
	}

	// PrepareStmt 避免迁移器在简单协议下的参数问题
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		PrepareStmt: true,
		Logger:      gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}
	return NewPostgresStore(db)
}

// NewPostgresStore 使用已有连接
func NewPostgresStore(db *gorm.DB) (*PostgresStore, error) {
	if err := db.AutoMigrate(&DataPointRow{}); err != nil {
		return nil, err
	}
	logger.Info("🐘 PostgreSQL analytics store initialized")
	return &PostgresStore{db: db}, nil
}

// InsertBatch 批量写入
func (s *PostgresStore) InsertBatch(ctx context.Context, points []events.DataPoint) error {
	if len(points) == 0 {
		return nil
	}
	rows := make([]DataPointRow, 0, len(points))
	for _, p := range points {
		if err := p.Validate(); err != nil {
			return apperr.Analytics("validate data point", err)
		}
		rows = append(rows, rowFromPoint(p))
	}
	if err := s.db.WithContext(ctx).CreateInBatches(rows, 200).Error; err != nil {
		return apperr.Analytics("insert data points", err)
	}
	return nil
}

// Query 按时间范围查询
func (s *PostgresStore) Query(ctx context.Context, q Query) ([]events.RawRecord, error) {
	tx := s.db.WithContext(ctx).
		Model(&DataPointRow{}).
		Where("timestamp >= ? AND timestamp <= ?", q.Start, q.End)

	if types := q.TypeStrings(); len(types) > 0 {
		tx = tx.Where("event_type IN ?", types)
	}
	if q.Index != "" {
		tx = tx.Where("index1 = ?", q.Index)
	}
	for _, dim := range q.SortedDimensions() {
		tx = tx.Where("(blobs ->> CAST(? AS text)) = ?", dim[0], dim[1])
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var rows []DataPointRow
	if err := tx.Order("timestamp DESC").Find(&rows).Error; err != nil {
		return nil, apperr.Analytics("query data points", err)
	}

	out := make([]events.RawRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := events.NewRecord(row.Timestamp, row.Index1, row.Blobs, row.Doubles)
		if err != nil {
			logger.Warn("⚠️ Skipping unreadable analytics row", zap.Uint("id", row.ID), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Cleanup 删除过期数据点
func (s *PostgresStore) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("timestamp < ?", olderThan).Delete(&DataPointRow{})
	if res.Error != nil {
		return 0, apperr.Analytics("cleanup", res.Error)
	}
	return res.RowsAffected, nil
}

// Ping 健康检查
func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return apperr.Analytics("ping", err)
	}
	return apperr.Analytics("ping", sqlDB.PingContext(ctx))
}

// Close 关闭连接
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func rowFromPoint(p events.DataPoint) DataPointRow {
	return DataPointRow{
		Timestamp: p.Timestamp.UTC(),
		Index1:    p.Index,
		EventType: p.Type(),
		Blobs:     datatypes.JSONMap(p.BlobMap()),
		Doubles:   datatypes.JSONMap(p.DoubleMap()),
	}
}
