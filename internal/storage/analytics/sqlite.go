package analytics

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/catstream/edge-metrics-go/internal/events"
	"github.com/catstream/edge-metrics-go/internal/pkg/apperr"
	"github.com/catstream/edge-metrics-go/internal/pkg/logger"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore 基于 SQLite 的事件存储
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore 打开 (必要时创建) SQLite 数据库
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// WAL 允许读写并发
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("🗄️ SQLite analytics store initialized", zap.String("path", path))
	return &SQLiteStore{db: db, path: path}, nil
}

// Close 关闭连接
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping 健康检查
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return apperr.Analytics("ping", s.db.PingContext(ctx))
}

// InsertBatch 单事务批量写入
func (s *SQLiteStore) InsertBatch(ctx context.Context, points []events.DataPoint) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Analytics("begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO data_points (timestamp, index1, event_type, blobs, doubles)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return apperr.Analytics("prepare insert", err)
	}
	defer stmt.Close()

	for _, p := range points {
		if err := p.Validate(); err != nil {
			return apperr.Analytics("validate data point", err)
		}
		blobs, err := json.Marshal(p.BlobMap())
		if err != nil {
			return apperr.Analytics("encode blobs", err)
		}
		doubles, err := json.Marshal(p.DoubleMap())
		if err != nil {
			return apperr.Analytics("encode doubles", err)
		}
		if _, err := stmt.ExecContext(ctx,
			p.Timestamp.UnixMilli(), p.Index, p.Type(), string(blobs), string(doubles),
		); err != nil {
			return apperr.Analytics("insert data point", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Analytics("commit", err)
	}
	return nil
}

// Query 按时间范围查询
func (s *SQLiteStore) Query(ctx context.Context, q Query) ([]events.RawRecord, error) {
	query := `
		SELECT timestamp, index1, blobs, doubles
		FROM data_points
		WHERE timestamp >= ? AND timestamp <= ?
	`
	args := []interface{}{q.Start.UnixMilli(), q.End.UnixMilli()}

	if types := q.TypeStrings(); len(types) > 0 {
		query += " AND event_type IN (" + placeholders(len(types)) + ")"
		for _, t := range types {
			args = append(args, t)
		}
	}

	if q.Index != "" {
		query += " AND index1 = ?"
		args = append(args, q.Index)
	}

	// 列名已由 Query.Normalize 校验, 仍以参数方式传入 JSON 路径
	for _, dim := range q.SortedDimensions() {
		query += " AND json_extract(blobs, ?) = ?"
		args = append(args, "$."+dim[0], dim[1])
	}

	query += " ORDER BY timestamp DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Analytics("query data points", err)
	}
	defer rows.Close()

	var out []events.RawRecord
	for rows.Next() {
		var (
			tsMillis       int64
			index          string
			blobs, doubles string
		)
		if err := rows.Scan(&tsMillis, &index, &blobs, &doubles); err != nil {
			return nil, apperr.Analytics("scan data point", err)
		}
		rec, err := rowRecord(tsMillis, index, blobs, doubles)
		if err != nil {
			// 单行损坏交给解析器跳过
			logger.Warn("⚠️ Skipping unreadable analytics row", zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Analytics("iterate data points", err)
	}
	return out, nil
}

// Cleanup 删除过期数据点
func (s *SQLiteStore) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM data_points WHERE timestamp < ?", olderThan.UnixMilli())
	if err != nil {
		return 0, apperr.Analytics("cleanup", err)
	}
	return res.RowsAffected()
}

// Count 数据点数量
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM data_points").Scan(&n); err != nil {
		return 0, apperr.Analytics("count", err)
	}
	return n, nil
}

func rowRecord(tsMillis int64, index, blobs, doubles string) (events.RawRecord, error) {
	var b, d map[string]any
	if err := json.Unmarshal([]byte(blobs), &b); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(doubles), &d); err != nil {
		return nil, err
	}
	return events.NewRecord(time.UnixMilli(tsMillis), index, b, d)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
