package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/catstream/edge-metrics-go/internal/pkg/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryNormalize(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	q, err := Query{Start: start, End: end}.Normalize(0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultQueryLimit, q.Limit)

	q, err = Query{Start: start, End: end, Limit: 50000}.Normalize(100, 500)
	require.NoError(t, err)
	assert.Equal(t, 500, q.Limit)

	q, err = Query{Start: start, End: end}.Normalize(100, 500)
	require.NoError(t, err)
	assert.Equal(t, 100, q.Limit)
}

func TestQueryNormalizeRejects(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		q    Query
	}{
		{"缺少时间", Query{}},
		{"结束早于开始", Query{Start: start, End: start.Add(-time.Second)}},
		{"非法维度", Query{Start: start, End: start, Dimensions: map[string]string{"blob1' OR 1=1": "x"}}},
		{"数值列不能等值过滤", Query{Start: start, End: start, Dimensions: map[string]string{"double1": "3"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.q.Normalize(0, 0)
			assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
		})
	}
}

func TestSortedDimensions(t *testing.T) {
	q := Query{Dimensions: map[string]string{"blob4": "US", "blob10": "u1", "blob2": "ray"}}
	assert.Equal(t, [][2]string{{"blob10", "u1"}, {"blob2", "ray"}, {"blob4", "US"}}, q.SortedDimensions())
}

func TestDisabledStore(t *testing.T) {
	store := Disabled()
	ctx := context.Background()

	_, err := store.Query(ctx, Query{})
	assert.ErrorIs(t, err, apperr.ErrAnalyticsUnavailable)
	assert.ErrorIs(t, store.Ping(ctx), apperr.ErrAnalyticsUnavailable)
	assert.ErrorIs(t, store.InsertBatch(ctx, nil), apperr.ErrAnalyticsUnavailable)
	assert.NoError(t, store.Close())
}
