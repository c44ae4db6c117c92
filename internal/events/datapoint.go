package events

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// 数据点列布局; 公共信封占 blob1..blob8, 各类型负载从 blob9 开始
const (
	BlobType       = 1
	BlobTraceID    = 2
	BlobClientIP   = 3
	BlobCountry    = 4
	BlobDatacenter = 5
	BlobUserAgent  = 6
	BlobRequestURL = 7
	BlobMethod     = 8
	blobPayload    = 9

	MaxBlobs   = 20
	MaxDoubles = 20
)

// DataPoint 单索引写入的分析数据点
type DataPoint struct {
	Timestamp time.Time
	Index     string
	Blobs     []string  // Blobs[0] 对应 blob1
	Doubles   []float64 // Doubles[0] 对应 double1
}

// RawRecord 事件存储查询返回的一行, 为 JSON 对象:
// {"timestamp": ..., "index1": ..., "blob1": ..., "double1": ...}
type RawRecord []byte

var columnPattern = regexp.MustCompile(`^(blob|double)([1-9]|1[0-9]|20)$`)

// ValidColumn 校验维度列名, 防止拼接进查询
func ValidColumn(name string) bool {
	return columnPattern.MatchString(name)
}

// BlobName blobN 列名
func BlobName(n int) string { return "blob" + strconv.Itoa(n) }

// DoubleName doubleN 列名
func DoubleName(n int) string { return "double" + strconv.Itoa(n) }

// Blob 取第 n 个 blob (1 起), 越界返回空串
func (p DataPoint) Blob(n int) string {
	if n < 1 || n > len(p.Blobs) {
		return ""
	}
	return p.Blobs[n-1]
}

// Type 判别值
func (p DataPoint) Type() string { return p.Blob(BlobType) }

// BlobMap blobN -> 值
func (p DataPoint) BlobMap() map[string]any {
	m := make(map[string]any, len(p.Blobs))
	for i, b := range p.Blobs {
		m[BlobName(i+1)] = b
	}
	return m
}

// DoubleMap doubleN -> 值
func (p DataPoint) DoubleMap() map[string]any {
	m := make(map[string]any, len(p.Doubles))
	for i, d := range p.Doubles {
		m[DoubleName(i+1)] = d
	}
	return m
}

// Validate 写入前校验列数量
func (p DataPoint) Validate() error {
	if len(p.Blobs) > MaxBlobs {
		return fmt.Errorf("data point has %d blobs, max %d", len(p.Blobs), MaxBlobs)
	}
	if len(p.Doubles) > MaxDoubles {
		return fmt.Errorf("data point has %d doubles, max %d", len(p.Doubles), MaxDoubles)
	}
	if p.Timestamp.IsZero() {
		return fmt.Errorf("data point timestamp is zero")
	}
	return nil
}

// NewRecord 由存储列还原查询行
func NewRecord(ts time.Time, index string, blobs, doubles map[string]any) (RawRecord, error) {
	row := make(map[string]any, len(blobs)+len(doubles)+2)
	for k, v := range blobs {
		row[k] = v
	}
	for k, v := range doubles {
		row[k] = v
	}
	row["timestamp"] = ts.UTC().Format(time.RFC3339Nano)
	row["index1"] = index
	data, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}
	return RawRecord(data), nil
}

// Record 数据点直接转为查询行
func (p DataPoint) Record() (RawRecord, error) {
	return NewRecord(p.Timestamp, p.Index, p.BlobMap(), p.DoubleMap())
}
