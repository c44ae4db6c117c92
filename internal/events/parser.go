package events

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/catstream/edge-metrics-go/internal/pkg/apperr"
	"github.com/tidwall/gjson"
)

// Parse 解码一批查询行; 异常行被跳过, 返回跳过数量
func Parse(records []RawRecord) ([]Event, int) {
	out := make([]Event, 0, len(records))
	skipped := 0
	for _, rec := range records {
		ev, err := ParseRecord(rec)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, ev)
	}
	return out, skipped
}

// ParseRecord 解码单行, 失败返回 ErrMalformedRecord
func ParseRecord(rec RawRecord) (Event, error) {
	if !gjson.ValidBytes(rec) {
		return nil, malformed("invalid json")
	}
	row := gjson.ParseBytes(rec)
	if !row.IsObject() {
		return nil, malformed("record is not an object")
	}

	r := rowReader{row: row}
	ts, err := parseTimestamp(row.Get("timestamp"))
	if err != nil {
		return nil, err
	}

	env := Envelope{
		Timestamp: ts,
		Context: RequestContext{
			TraceID:    r.blob(BlobTraceID),
			ClientIP:   r.blob(BlobClientIP),
			Country:    r.blob(BlobCountry),
			Datacenter: r.blob(BlobDatacenter),
			UserAgent:  r.blob(BlobUserAgent),
			RequestURL: r.blob(BlobRequestURL),
			Method:     r.blob(BlobMethod),
		},
	}

	discriminant := r.blob(BlobType)
	var ev Event

	switch Kind(discriminant) {
	case KindRedirect:
		ev = Redirect{
			Envelope:    env,
			Slug:        r.blob(blobPayload),
			Destination: r.blob(blobPayload + 1),
			ClickCount:  r.integer(1),
		}
	case KindAuth:
		action := r.blob(blobPayload)
		ev = Auth{
			Envelope: env,
			Action:   action,
			Success:  r.double(1) == 1 || action == AuthSuccess,
			Subject:  r.blob(blobPayload + 1),
			Reason:   r.blob(blobPayload + 2),
		}
	case KindAI:
		ev = AI{
			Envelope:         env,
			Operation:        r.blob(blobPayload),
			GeneratedText:    r.blob(blobPayload + 1),
			UserID:           r.blob(blobPayload + 2),
			ProcessingTimeMs: r.double(1),
			ImageSizeBytes:   r.integer(2),
		}
	case KindRateLimit:
		ev = RateLimit{
			Envelope:         env,
			Action:           r.blob(blobPayload),
			Endpoint:         r.blob(blobPayload + 1),
			Subject:          r.blob(blobPayload + 2),
			RequestsInWindow: r.integer(1),
			WindowMs:         r.integer(2),
			MaxRequests:      r.integer(3),
			Remaining:        r.integer(4),
			ResetTime:        time.UnixMilli(r.integer(5)).UTC(),
		}
	default:
		// 未知判别值按 api_request 尽力映射
		req := APIRequest{
			Envelope:       env,
			Endpoint:       r.blob(blobPayload),
			Subject:        r.blob(blobPayload + 1),
			Status:         int(r.integer(1)),
			ResponseTimeMs: r.double(2),
		}
		if req.Endpoint == "" {
			req.Endpoint = pathOf(env.Context.RequestURL)
		}
		if Kind(discriminant) != KindAPIRequest {
			req.OriginalType = discriminant
		}
		ev = req
	}

	if r.err != nil {
		return nil, r.err
	}
	return ev, nil
}

// rowReader 记录第一个字段错误, 避免每次取值都判断
type rowReader struct {
	row gjson.Result
	err error
}

func (r *rowReader) blob(n int) string {
	v := r.row.Get(BlobName(n))
	if !v.Exists() || v.Type == gjson.Null {
		return ""
	}
	return v.String()
}

func (r *rowReader) double(n int) float64 {
	name := DoubleName(n)
	v := r.row.Get(name)
	switch v.Type {
	case gjson.Null:
		return 0
	case gjson.Number:
		return v.Float()
	case gjson.String:
		f, err := strconv.ParseFloat(v.Str, 64)
		if err != nil {
			r.fail(name + " is not numeric")
			return 0
		}
		return f
	default:
		r.fail(name + " is not numeric")
		return 0
	}
}

func (r *rowReader) integer(n int) int64 {
	return int64(r.double(n))
}

func (r *rowReader) fail(reason string) {
	if r.err == nil {
		r.err = malformed(reason)
	}
}

// parseTimestamp 支持 RFC3339 字符串与毫秒时间戳
func parseTimestamp(v gjson.Result) (time.Time, error) {
	switch v.Type {
	case gjson.String:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
			if ts, err := time.Parse(layout, v.Str); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, malformed("unparseable timestamp " + v.Str)
	case gjson.Number:
		return time.UnixMilli(v.Int()).UTC(), nil
	default:
		return time.Time{}, malformed("missing timestamp")
	}
}

func pathOf(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Path
}

func malformed(reason string) error {
	return fmt.Errorf("%w: %s", apperr.ErrMalformedRecord, reason)
}
