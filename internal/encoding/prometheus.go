package encoding

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/catstream/edge-metrics-go/internal/services/aggregator"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const metricPrefix = "edgemetrics_"

// Prometheus 快照编码为文本暴露格式
func Prometheus(s aggregator.Snapshot) ([]byte, error) {
	return EncodeFamilies(SnapshotFamilies(s))
}

// Counters 原始计数器编码为文本暴露格式, 键作为 key 标签
func Counters(values map[string]int64) ([]byte, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fam := family("counter_value", "Raw counter store values.", dto.MetricType_GAUGE)
	for _, k := range keys {
		fam.Metric = append(fam.Metric, gaugeMetric(float64(values[k]), label("key", k)))
	}
	return EncodeFamilies([]*dto.MetricFamily{fam})
}

// SnapshotFamilies 快照到指标族的映射
func SnapshotFamilies(s aggregator.Snapshot) []*dto.MetricFamily {
	fams := []*dto.MetricFamily{
		single("overview_total_requests", "Total requests in range.", float64(s.Overview.TotalRequests)),
		single("overview_successful_requests", "Successful requests in range.", float64(s.Overview.SuccessfulRequests)),
		single("overview_failed_requests", "Failed requests in range.", float64(s.Overview.FailedRequests)),
		single("overview_average_response_time_ms", "Mean API response time in milliseconds.", s.Overview.AverageResponseTime),
		single("overview_unique_visitors", "Distinct client IPs in range.", float64(s.Overview.UniqueVisitors)),
		single("redirects_total_clicks", "Total redirect clicks in range.", float64(s.Redirects.TotalClicks)),
		single("ai_total_operations", "AI operations in range.", float64(s.AI.TotalOperations)),
		single("ai_average_processing_time_ms", "Mean AI processing time in milliseconds.", s.AI.AverageProcessingTime),
		single("ai_average_image_size_bytes", "Mean AI image size in bytes.", s.AI.AverageImageSize),
		single("auth_total_attempts", "Authentication attempts in range.", float64(s.Authentication.TotalAttempts)),
		single("auth_success_rate_percent", "Authentication success rate.", s.Authentication.SuccessRate),
		single("ratelimit_throttled_requests", "Throttled requests in range.", float64(s.RateLimiting.ThrottledRequests)),
		single("cache_hits", "Metrics cache hits in range.", float64(s.Cache.Hits)),
		single("cache_misses", "Metrics cache misses in range.", float64(s.Cache.Misses)),
	}

	slugs := family("redirect_slug_clicks", "Clicks per top redirect slug.", dto.MetricType_GAUGE)
	for _, slug := range s.Redirects.TopSlugs {
		slugs.Metric = append(slugs.Metric, gaugeMetric(float64(slug.Clicks), label("slug", slug.Slug)))
	}
	countries := family("geo_requests", "Events per country.", dto.MetricType_GAUGE)
	for _, c := range s.Geographic {
		countries.Metric = append(countries.Metric, gaugeMetric(float64(c.Requests), label("country", c.Country)))
	}
	throttled := family("ratelimit_throttled_by_subject", "Throttled requests per subject.", dto.MetricType_GAUGE)
	for _, sc := range s.RateLimiting.ThrottledByToken {
		throttled.Metric = append(throttled.Metric, gaugeMetric(float64(sc.Count), label("subject", sc.Subject)))
	}

	for _, fam := range []*dto.MetricFamily{slugs, countries, throttled} {
		if len(fam.Metric) > 0 {
			fams = append(fams, fam)
		}
	}

	degraded := 0.0
	if s.Availability != nil && s.Availability.Degraded {
		degraded = 1
	}
	truncated := 0.0
	if s.Availability != nil && s.Availability.Truncated {
		truncated = 1
	}
	fams = append(fams,
		single("snapshot_degraded", "1 when a data source was unavailable.", degraded),
		single("snapshot_truncated", "1 when the event query hit its limit.", truncated),
	)
	return fams
}

// EncodeFamilies 指标族编码为文本暴露格式
func EncodeFamilies(fams []*dto.MetricFamily) ([]byte, error) {
	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range fams {
		if err := encoder.Encode(mf); err != nil {
			return nil, fmt.Errorf("encode metric family %s: %w", mf.GetName(), err)
		}
	}
	return buf.Bytes(), nil
}

func family(name, help string, typ dto.MetricType) *dto.MetricFamily {
	fullName := metricPrefix + name
	return &dto.MetricFamily{Name: &fullName, Help: &help, Type: typ.Enum()}
}

func single(name, help string, value float64) *dto.MetricFamily {
	fam := family(name, help, dto.MetricType_GAUGE)
	fam.Metric = []*dto.Metric{gaugeMetric(value)}
	return fam
}

func gaugeMetric(value float64, labels ...*dto.LabelPair) *dto.Metric {
	return &dto.Metric{Label: labels, Gauge: &dto.Gauge{Value: &value}}
}

func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: &name, Value: &value}
}
