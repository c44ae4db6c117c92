// Package aggregator 把事件序列归约为聚合指标快照, 并按固定优先级合并计数器
package aggregator

import (
	"cmp"
	"math"
	"slices"

	"github.com/catstream/edge-metrics-go/internal/events"
	"github.com/catstream/edge-metrics-go/internal/pkg/useragent"
)

const unknownLabel = "unknown"

// Aggregate 纯函数, 输入事件与时间范围, 输出快照
func Aggregate(evs []events.Event, tr TimeRange) Snapshot {
	s := Snapshot{
		Timeframe:  tr,
		Geographic: []CountryStat{},
		UserAgents: []AgentStat{},
		Redirects:  Redirects{TopSlugs: []SlugStat{}},
		Authentication: Authentication{
			TopTokenSubjects: []SubjectCount{},
		},
		RateLimiting: RateLimiting{ThrottledByToken: []SubjectCount{}},
		Sources: Sources{
			TotalRequests:      SourceEvents,
			SuccessfulRequests: SourceEvents,
			FailedRequests:     SourceEvents,
			TotalClicks:        SourceEvents,
			Cache:              SourceNone,
			Breakdowns:         SourceEvents,
		},
	}

	var (
		visitors      = map[string]struct{}{}
		countries     = map[string]int64{}
		agents        = map[string]int64{}
		slugs         = map[string]*slugAcc{}
		authSubjects  = map[string]int64{}
		throttled     = map[string]int64{}
		responseSum   float64
		responseCount int64
		processingSum float64
		imageSum      float64
	)

	for _, ev := range evs {
		meta := ev.Meta()
		s.Overview.TotalRequests++
		if events.Failed(ev) {
			s.Overview.FailedRequests++
		} else {
			s.Overview.SuccessfulRequests++
		}
		if meta.Context.ClientIP != "" {
			visitors[meta.Context.ClientIP] = struct{}{}
		}
		countries[labelOr(meta.Context.Country)]++
		agents[labelOr(meta.Context.UserAgent)]++

		switch e := ev.(type) {
		case events.APIRequest:
			responseSum += e.ResponseTimeMs
			responseCount++
		case events.Redirect:
			s.Redirects.TotalClicks += e.ClickCount
			acc := slugs[e.Slug]
			if acc == nil {
				acc = &slugAcc{destinations: map[string]struct{}{}}
				slugs[e.Slug] = acc
			}
			acc.clicks += e.ClickCount
			if e.Destination != "" {
				acc.destinations[e.Destination] = struct{}{}
			}
		case events.AI:
			s.AI.TotalOperations++
			processingSum += e.ProcessingTimeMs
			imageSum += float64(e.ImageSizeBytes)
		case events.Auth:
			s.Authentication.TotalAttempts++
			if e.Success {
				s.Authentication.Successes++
			} else {
				s.Authentication.Failures++
			}
			if e.Subject != "" {
				authSubjects[e.Subject]++
			}
		case events.RateLimit:
			if e.Action == events.RateLimitThrottled {
				s.RateLimiting.ThrottledRequests++
				throttled[labelOr(e.Subject)]++
			}
		}
	}

	s.Overview.UniqueVisitors = int64(len(visitors))
	s.Overview.AverageResponseTime = mean(responseSum, responseCount)
	s.AI.AverageProcessingTime = mean(processingSum, s.AI.TotalOperations)
	s.AI.AverageImageSize = mean(imageSum, s.AI.TotalOperations)
	s.Authentication.SuccessRate = percent(s.Authentication.Successes, s.Authentication.TotalAttempts)

	s.Redirects.TopSlugs = topSlugs(slugs, TopSlugLimit)
	s.Authentication.TopTokenSubjects = rankSubjects(authSubjects)
	s.RateLimiting.ThrottledByToken = rankSubjects(throttled)
	s.Geographic = rankCountries(countries, s.Overview.TotalRequests)
	s.UserAgents = rankAgents(agents)
	return s
}

type slugAcc struct {
	clicks       int64
	destinations map[string]struct{}
}

func topSlugs(slugs map[string]*slugAcc, limit int) []SlugStat {
	out := make([]SlugStat, 0, len(slugs))
	for slug, acc := range slugs {
		dests := make([]string, 0, len(acc.destinations))
		for d := range acc.destinations {
			dests = append(dests, d)
		}
		slices.Sort(dests)
		out = append(out, SlugStat{Slug: slug, Clicks: acc.clicks, Destinations: dests})
	}
	slices.SortFunc(out, func(a, b SlugStat) int {
		if c := cmp.Compare(b.Clicks, a.Clicks); c != 0 {
			return c
		}
		return cmp.Compare(a.Slug, b.Slug)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func rankSubjects(counts map[string]int64) []SubjectCount {
	out := make([]SubjectCount, 0, len(counts))
	for subject, n := range counts {
		out = append(out, SubjectCount{Subject: subject, Count: n})
	}
	slices.SortFunc(out, func(a, b SubjectCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Subject, b.Subject)
	})
	return out
}

func rankCountries(counts map[string]int64, total int64) []CountryStat {
	out := make([]CountryStat, 0, len(counts))
	for country, n := range counts {
		out = append(out, CountryStat{
			Country:    country,
			Requests:   n,
			Percentage: int(math.Round(percentRaw(n, total))),
		})
	}
	slices.SortFunc(out, func(a, b CountryStat) int {
		if c := cmp.Compare(b.Requests, a.Requests); c != 0 {
			return c
		}
		return cmp.Compare(a.Country, b.Country)
	})
	return out
}

func rankAgents(counts map[string]int64) []AgentStat {
	out := make([]AgentStat, 0, len(counts))
	for agent, n := range counts {
		out = append(out, AgentStat{
			UserAgent: agent,
			Count:     n,
			IsBot:     useragent.IsBot(agent),
			Family:    useragent.ParseFamily(agent),
		})
	}
	slices.SortFunc(out, func(a, b AgentStat) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.UserAgent, b.UserAgent)
	})
	return out
}

func labelOr(v string) string {
	if v == "" {
		return unknownLabel
	}
	return v
}

// mean n 为 0 时返回 0
func mean(sum float64, n int64) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func percentRaw(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return 100 * float64(part) / float64(whole)
}

// percent 保留两位小数
func percent(part, whole int64) float64 {
	return math.Round(percentRaw(part, whole)*100) / 100
}
