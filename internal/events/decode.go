package events

import (
	"time"

	"github.com/catstream/edge-metrics-go/internal/pkg/apperr"
	"github.com/tidwall/gjson"
)

// DecodeJSON 解码协作方提交的事件 JSON (与 MarshalJSON 输出同形)
//
// 与 ParseRecord 不同, 这里的输入来自外部请求, 未知类型直接拒绝.
func DecodeJSON(data []byte, ctx RequestContext, now time.Time) (Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, apperr.Invalid("event body is not valid json")
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return nil, apperr.Invalid("event body must be an object")
	}

	env := Envelope{Timestamp: now.UTC(), Context: ctx}
	if ts := doc.Get("timestamp"); ts.Exists() {
		parsed, err := parseTimestamp(ts)
		if err != nil {
			return nil, apperr.Invalid("invalid timestamp")
		}
		env.Timestamp = parsed
	}

	kind := Kind(doc.Get("type").String())
	switch kind {
	case KindAPIRequest:
		return APIRequest{
			Envelope:       env,
			Endpoint:       doc.Get("endpoint").String(),
			Subject:        doc.Get("subject").String(),
			Status:         int(doc.Get("status").Int()),
			ResponseTimeMs: doc.Get("responseTimeMs").Float(),
		}, nil
	case KindRedirect:
		slug := doc.Get("slug").String()
		if slug == "" {
			return nil, apperr.Invalid("redirect event requires slug")
		}
		clicks := doc.Get("clickCount")
		count := int64(1)
		if clicks.Exists() {
			count = clicks.Int()
		}
		if count < 0 {
			return nil, apperr.Invalid("clickCount must not be negative")
		}
		return Redirect{
			Envelope:    env,
			Slug:        slug,
			Destination: doc.Get("destination").String(),
			ClickCount:  count,
		}, nil
	case KindAuth:
		action := doc.Get("action").String()
		success := doc.Get("success")
		ok := action == AuthSuccess
		if success.Exists() {
			ok = success.Bool()
		}
		if action == "" {
			action = AuthFailure
			if ok {
				action = AuthSuccess
			}
		}
		return Auth{
			Envelope: env,
			Action:   action,
			Success:  ok,
			Subject:  doc.Get("subject").String(),
			Reason:   doc.Get("reason").String(),
		}, nil
	case KindAI:
		op := doc.Get("operation").String()
		if op == "" {
			return nil, apperr.Invalid("ai event requires operation")
		}
		return AI{
			Envelope:         env,
			Operation:        op,
			ProcessingTimeMs: doc.Get("processingTimeMs").Float(),
			ImageSizeBytes:   doc.Get("imageSizeBytes").Int(),
			GeneratedText:    doc.Get("generatedText").String(),
			UserID:           doc.Get("userId").String(),
		}, nil
	case KindRateLimit:
		// 限流事件只由本服务自身产生
		return nil, apperr.Invalid("rate_limit events cannot be submitted")
	default:
		return nil, apperr.Invalid("unknown event type %q", string(kind))
	}
}
