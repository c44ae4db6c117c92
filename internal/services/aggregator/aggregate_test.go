package aggregator

import (
	"fmt"
	"testing"
	"time"

	"github.com/catstream/edge-metrics-go/internal/events"
	"github.com/catstream/edge-metrics-go/internal/pkg/useragent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tr = TimeRange{Start: t0.Add(-24 * time.Hour), End: t0, Range: "24h"}
)

func env(ip, country, ua string) events.Envelope {
	return events.Envelope{
		Timestamp: t0,
		Context:   events.RequestContext{ClientIP: ip, Country: country, UserAgent: ua},
	}
}

func TestAggregateEmpty(t *testing.T) {
	s := Aggregate(nil, tr)

	assert.Equal(t, int64(0), s.Overview.TotalRequests)
	assert.Equal(t, 0.0, s.AI.AverageProcessingTime)
	assert.Equal(t, 0.0, s.AI.AverageImageSize)
	assert.Equal(t, 0.0, s.Authentication.SuccessRate)
	assert.Equal(t, 0.0, s.Overview.AverageResponseTime)
	assert.NotNil(t, s.Redirects.TopSlugs)
	assert.NotNil(t, s.Geographic)
	assert.Equal(t, tr, s.Timeframe)
}

func TestAggregateTotalRequestsEqualsEventCount(t *testing.T) {
	for n := 0; n < 30; n += 7 {
		evs := make([]events.Event, 0, n)
		for i := 0; i < n; i++ {
			evs = append(evs, events.APIRequest{Envelope: env(fmt.Sprintf("10.0.0.%d", i%3), "US", "curl/8"), Status: 200})
		}
		s := Aggregate(evs, tr)
		assert.Equal(t, int64(n), s.Overview.TotalRequests)
	}
}

func TestAggregateOverview(t *testing.T) {
	evs := []events.Event{
		events.APIRequest{Envelope: env("1.1.1.1", "US", "a"), Status: 200, ResponseTimeMs: 10},
		events.APIRequest{Envelope: env("1.1.1.1", "US", "a"), Status: 500, ResponseTimeMs: 30},
		events.Auth{Envelope: env("2.2.2.2", "DE", "a"), Success: false},
		events.RateLimit{Envelope: env("3.3.3.3", "DE", "a"), Action: events.RateLimitThrottled, Subject: "u1"},
		events.Redirect{Envelope: env("", "", ""), Slug: "gh", ClickCount: 1},
	}

	s := Aggregate(evs, tr)
	assert.Equal(t, int64(5), s.Overview.TotalRequests)
	assert.Equal(t, int64(3), s.Overview.FailedRequests)
	assert.Equal(t, int64(2), s.Overview.SuccessfulRequests)
	assert.Equal(t, int64(3), s.Overview.UniqueVisitors, "empty IPs are not visitors")
	assert.Equal(t, 20.0, s.Overview.AverageResponseTime, "mean over api_request events only")
}

func TestAggregateTopSlugs(t *testing.T) {
	evs := []events.Event{
		events.Redirect{Envelope: env("1", "US", "a"), Slug: "gh", Destination: "https://github.com", ClickCount: 3},
		events.Redirect{Envelope: env("1", "US", "a"), Slug: "gh", Destination: "https://github.com", ClickCount: 2},
	}
	s := Aggregate(evs, tr)
	require.Len(t, s.Redirects.TopSlugs, 1)
	assert.Equal(t, SlugStat{Slug: "gh", Clicks: 5, Destinations: []string{"https://github.com"}}, s.Redirects.TopSlugs[0])
	assert.Equal(t, int64(5), s.Redirects.TotalClicks)
}

func TestAggregateTopSlugsOrderingAndLimit(t *testing.T) {
	var evs []events.Event
	// 12 个短链, 其中 b 与 a 点击数相同
	for i := 0; i < 12; i++ {
		evs = append(evs, events.Redirect{Slug: fmt.Sprintf("s%02d", i), ClickCount: int64(i + 1)})
	}
	evs = append(evs,
		events.Redirect{Slug: "b", ClickCount: 50, Destination: "https://b2"},
		events.Redirect{Slug: "a", ClickCount: 50},
		events.Redirect{Slug: "b", Destination: "https://b1"},
	)

	s := Aggregate(evs, tr)
	top := s.Redirects.TopSlugs
	require.Len(t, top, TopSlugLimit)
	assert.Equal(t, "a", top[0].Slug)
	assert.Equal(t, "b", top[1].Slug)
	assert.Equal(t, []string{"https://b1", "https://b2"}, top[1].Destinations)
	for i := 1; i < len(top); i++ {
		prev, cur := top[i-1], top[i]
		ordered := prev.Clicks > cur.Clicks || (prev.Clicks == cur.Clicks && prev.Slug < cur.Slug)
		assert.True(t, ordered, "topSlugs[%d]=%v before %v", i, prev, cur)
	}
}

func TestAggregateAI(t *testing.T) {
	evs := []events.Event{
		events.AI{Operation: "image", ProcessingTimeMs: 100, ImageSizeBytes: 1000},
		events.AI{Operation: "image", ProcessingTimeMs: 300, ImageSizeBytes: 3000},
		events.AI{Operation: "text", ProcessingTimeMs: 200},
	}
	s := Aggregate(evs, tr)
	assert.Equal(t, int64(3), s.AI.TotalOperations)
	assert.Equal(t, 200.0, s.AI.AverageProcessingTime)
	assert.InDelta(t, 1333.33, s.AI.AverageImageSize, 0.01)
}

func TestAggregateAuthentication(t *testing.T) {
	tests := []struct {
		name string
		evs  []events.Event
		rate float64
	}{
		{"无尝试", nil, 0},
		{"一半成功", []events.Event{
			events.Auth{Success: true, Subject: "u1"},
			events.Auth{Success: false, Subject: "u2"},
		}, 50},
		{"三分之一成功", []events.Event{
			events.Auth{Success: true, Subject: "u1"},
			events.Auth{Subject: "u1"},
			events.Auth{Subject: "u1"},
		}, 33.33},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Aggregate(tt.evs, tr)
			assert.Equal(t, tt.rate, s.Authentication.SuccessRate)
			assert.Equal(t, int64(len(tt.evs)), s.Authentication.TotalAttempts)
		})
	}
}

func TestAggregateTopTokenSubjects(t *testing.T) {
	evs := []events.Event{
		events.Auth{Subject: "zed"},
		events.Auth{Subject: "amy"},
		events.Auth{Subject: "bob", Success: true},
		events.Auth{Subject: "bob"},
		events.Auth{},
	}
	s := Aggregate(evs, tr)
	assert.Equal(t, []SubjectCount{{"bob", 2}, {"amy", 1}, {"zed", 1}}, s.Authentication.TopTokenSubjects)
}

func TestAggregateRateLimiting(t *testing.T) {
	evs := []events.Event{
		events.RateLimit{Action: events.RateLimitThrottled, Subject: "u2"},
		events.RateLimit{Action: events.RateLimitThrottled, Subject: "u1"},
		events.RateLimit{Action: events.RateLimitThrottled, Subject: "u1"},
		events.RateLimit{Action: events.RateLimitAllowed, Subject: "u3"},
	}
	s := Aggregate(evs, tr)
	assert.Equal(t, int64(3), s.RateLimiting.ThrottledRequests)
	assert.Equal(t, []SubjectCount{{"u1", 2}, {"u2", 1}}, s.RateLimiting.ThrottledByToken)
}

func TestAggregateGeographic(t *testing.T) {
	evs := []events.Event{
		events.APIRequest{Envelope: env("", "US", "")},
		events.APIRequest{Envelope: env("", "US", "")},
		events.APIRequest{Envelope: env("", "DE", "")},
	}
	s := Aggregate(evs, tr)
	assert.Equal(t, []CountryStat{
		{Country: "US", Requests: 2, Percentage: 67},
		{Country: "DE", Requests: 1, Percentage: 33},
	}, s.Geographic)
}

func TestAggregateUserAgents(t *testing.T) {
	bot := "Googlebot/2.1 (+http://www.google.com/bot.html)"
	mac := "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)"
	evs := []events.Event{
		events.APIRequest{Envelope: env("", "", mac)},
		events.APIRequest{Envelope: env("", "", bot)},
		events.APIRequest{Envelope: env("", "", bot)},
		events.APIRequest{Envelope: env("", "", "GOOGLEBOT/2.1")},
	}
	s := Aggregate(evs, tr)
	require.Len(t, s.UserAgents, 3, "agents are grouped by raw string")
	assert.Equal(t, AgentStat{UserAgent: bot, Count: 2, IsBot: true, Family: useragent.FamilyBot}, s.UserAgents[0])
	assert.Equal(t, AgentStat{UserAgent: "GOOGLEBOT/2.1", Count: 1, IsBot: true, Family: useragent.FamilyBot}, s.UserAgents[1])
	assert.Equal(t, AgentStat{UserAgent: mac, Count: 1, IsBot: false, Family: useragent.FamilyBrowser}, s.UserAgents[2])
}

func TestAggregateUserAgentFamilies(t *testing.T) {
	evs := []events.Event{
		events.APIRequest{Envelope: env("", "", "curl/8.4.0")},
		events.APIRequest{Envelope: env("", "", "")},
	}
	s := Aggregate(evs, tr)
	require.Len(t, s.UserAgents, 2)
	families := map[string]string{}
	for _, a := range s.UserAgents {
		families[a.UserAgent] = a.Family
	}
	assert.Equal(t, useragent.FamilyCLI, families["curl/8.4.0"])
	assert.Equal(t, useragent.FamilyUnknown, families[unknownLabel])
}

func TestAggregateFallbackEventCountsAsRequest(t *testing.T) {
	evs := []events.Event{events.APIRequest{OriginalType: "page_view", Status: 200}}
	s := Aggregate(evs, tr)
	assert.Equal(t, int64(1), s.Overview.TotalRequests)
	assert.Equal(t, int64(1), s.Overview.SuccessfulRequests)
}
