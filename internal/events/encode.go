package events

import (
	"time"
)

// Encode 事件转为数据点
func Encode(e Event) DataPoint {
	meta := e.Meta()
	ts := meta.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	blobs := []string{
		string(e.Kind()),
		meta.Context.TraceID,
		meta.Context.ClientIP,
		meta.Context.Country,
		meta.Context.Datacenter,
		meta.Context.UserAgent,
		meta.Context.RequestURL,
		meta.Context.Method,
	}

	var index string
	var doubles []float64

	switch ev := e.(type) {
	case APIRequest:
		blobs = append(blobs, ev.Endpoint, ev.Subject)
		doubles = []float64{float64(ev.Status), ev.ResponseTimeMs}
		index = firstNonEmpty(ev.Subject, ev.Endpoint)
	case Redirect:
		blobs = append(blobs, ev.Slug, ev.Destination)
		doubles = []float64{float64(ev.ClickCount)}
		index = ev.Slug
	case Auth:
		blobs = append(blobs, ev.Action, ev.Subject, ev.Reason)
		doubles = []float64{boolToFloat(ev.Success)}
		index = ev.Subject
	case AI:
		blobs = append(blobs, ev.Operation, ev.GeneratedText, ev.UserID)
		doubles = []float64{ev.ProcessingTimeMs, float64(ev.ImageSizeBytes)}
		index = firstNonEmpty(ev.UserID, ev.Operation)
	case RateLimit:
		blobs = append(blobs, ev.Action, ev.Endpoint, ev.Subject)
		doubles = []float64{
			float64(ev.RequestsInWindow),
			float64(ev.WindowMs),
			float64(ev.MaxRequests),
			float64(ev.Remaining),
			float64(ev.ResetTime.UnixMilli()),
		}
		index = ev.Subject
	}

	return DataPoint{
		Timestamp: ts.UTC(),
		Index:     firstNonEmpty(index, string(e.Kind())),
		Blobs:     blobs,
		Doubles:   doubles,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
