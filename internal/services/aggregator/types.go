package aggregator

import "time"

// 数据来源标记
const (
	SourceCounters = "counters"
	SourceEvents   = "events"
	SourceNone     = "none"
)

// TopSlugLimit 热门短链数量上限
const TopSlugLimit = 10

// TimeRange 聚合时间范围
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Range string    `json:"range"`
}

// Snapshot 聚合指标快照
type Snapshot struct {
	Timeframe      TimeRange      `json:"timeframe"`
	Overview       Overview       `json:"overview"`
	Redirects      Redirects      `json:"redirects"`
	AI             AIStats        `json:"ai"`
	Authentication Authentication `json:"authentication"`
	RateLimiting   RateLimiting   `json:"rateLimiting"`
	Geographic     []CountryStat  `json:"geographic"`
	UserAgents     []AgentStat    `json:"userAgents"`
	Cache          CacheStats     `json:"cache"`
	Sources        Sources        `json:"sources"`
	// Availability 仅在降级或截断的结果中出现
	Availability *Availability `json:"availability,omitempty"`
}

type Overview struct {
	TotalRequests       int64   `json:"totalRequests"`
	SuccessfulRequests  int64   `json:"successfulRequests"`
	FailedRequests      int64   `json:"failedRequests"`
	AverageResponseTime float64 `json:"averageResponseTime"`
	UniqueVisitors      int64   `json:"uniqueVisitors"`
}

type Redirects struct {
	TotalClicks int64      `json:"totalClicks"`
	TopSlugs    []SlugStat `json:"topSlugs"`
}

type SlugStat struct {
	Slug         string   `json:"slug"`
	Clicks       int64    `json:"clicks"`
	Destinations []string `json:"destinations"`
}

type AIStats struct {
	TotalOperations       int64   `json:"totalOperations"`
	AverageProcessingTime float64 `json:"averageProcessingTime"`
	AverageImageSize      float64 `json:"averageImageSize"`
}

type Authentication struct {
	TotalAttempts    int64          `json:"totalAttempts"`
	Successes        int64          `json:"successes"`
	Failures         int64          `json:"failures"`
	SuccessRate      float64        `json:"successRate"`
	TopTokenSubjects []SubjectCount `json:"topTokenSubjects"`
}

type RateLimiting struct {
	ThrottledRequests int64          `json:"throttledRequests"`
	ThrottledByToken  []SubjectCount `json:"throttledByToken"`
}

type SubjectCount struct {
	Subject string `json:"subject"`
	Count   int64  `json:"count"`
}

type CountryStat struct {
	Country    string `json:"country"`
	Requests   int64  `json:"requests"`
	Percentage int    `json:"percentage"`
}

type AgentStat struct {
	UserAgent string `json:"userAgent"`
	Count     int64  `json:"count"`
	IsBot     bool   `json:"isBot"`
	Family    string `json:"family"`
}

type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

// Sources 每个原始总数由哪个数据源提供
type Sources struct {
	TotalRequests      string `json:"totalRequests"`
	SuccessfulRequests string `json:"successfulRequests"`
	FailedRequests     string `json:"failedRequests"`
	TotalClicks        string `json:"totalClicks"`
	Cache              string `json:"cache"`
	Breakdowns         string `json:"breakdowns"`
	// CounterWindow 计数器值覆盖的整点窗口; 窗口外的首尾部分由事件补齐
	CounterWindow *TimeRange `json:"counterWindow,omitempty"`
}

// Availability 结果不完整时的显式标记
type Availability struct {
	Degraded    bool     `json:"degraded"`
	Unavailable []string `json:"unavailable"`
	// Truncated 事件查询触顶, 事件推导的值只覆盖最新的 EventLimit 条
	Truncated  bool   `json:"truncated,omitempty"`
	EventLimit int    `json:"eventLimit,omitempty"`
	Reason     string `json:"reason,omitempty"`
}
