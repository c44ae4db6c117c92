// Package telemetry 进程级 Prometheus 指标
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "edgemetrics"

var (
	// Registry 独立注册表, 不污染 DefaultRegisterer
	Registry = prometheus.NewRegistry()

	// HTTPRequests HTTP 请求计数
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of handled HTTP requests.",
		},
		[]string{"route", "method", "status"},
	)

	// HTTPDuration HTTP 请求耗时
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// RateLimitDecisions 限流判定结果 (allowed / throttled / fail_open / fail_closed)
	RateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_decisions_total",
			Help:      "Rate limit decisions by outcome.",
		},
		[]string{"outcome"},
	)

	// CacheLookups 指标缓存命中情况 (hit / miss / stale / corrupt)
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metrics_cache_lookups_total",
			Help:      "Metrics cache lookups by result.",
		},
		[]string{"result"},
	)

	// WriteFailures 被吞掉的写路径失败 (counter / event / usage)
	WriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_failures_total",
			Help:      "Swallowed write-path failures by sink.",
		},
		[]string{"sink"},
	)

	// EventsDropped 缓冲区满时丢弃的事件
	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Analytics events dropped because the write buffer was full.",
		},
	)
)

func init() {
	Registry.MustRegister(
		HTTPRequests,
		HTTPDuration,
		RateLimitDecisions,
		CacheLookups,
		WriteFailures,
		EventsDropped,
		prometheus.NewGoCollector(),
	)
}

// Gather 收集全部指标族
func Gather() ([]*dto.MetricFamily, error) {
	return Registry.Gather()
}
