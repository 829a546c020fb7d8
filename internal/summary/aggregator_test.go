package summary_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-dispatch/internal/cache"
	"github.com/yourorg/payment-dispatch/internal/models"
	"github.com/yourorg/payment-dispatch/internal/summary"
)

type fakeSource struct {
	result models.SummaryResponse
	err    error
	calls  int
}

func (f *fakeSource) GetSummary(_ context.Context, _, _ *time.Time) (models.SummaryResponse, error) {
	f.calls++
	return f.result, f.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func knownSummary() models.SummaryResponse {
	return models.SummaryResponse{
		Default:  models.Summary{TotalRequests: 3, TotalAmount: 60},
		Fallback: models.Summary{TotalRequests: 1, TotalAmount: 100},
	}
}

func TestSummary_MissHitsStoreAndCaches(t *testing.T) {
	src := &fakeSource{result: knownSummary()}
	c := cache.NewMemory(discard())
	agg := summary.New(src, c, time.Minute, discard())

	got, err := agg.Summary(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, knownSummary(), got)
	assert.Equal(t, 1, src.calls)

	// Second call is served from cache.
	got, err = agg.Summary(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, knownSummary(), got)
	assert.Equal(t, 1, src.calls, "cache hit must not reach the store")
}

func TestSummary_DistinctWindowsDistinctKeys(t *testing.T) {
	src := &fakeSource{result: knownSummary()}
	c := cache.NewMemory(discard())
	agg := summary.New(src, c, time.Minute, discard())

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)

	_, err := agg.Summary(context.Background(), &from, &to)
	require.NoError(t, err)
	_, err = agg.Summary(context.Background(), nil, &to)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls, "different windows must not share a cache entry")
}

func TestSummary_StoreErrorPropagates(t *testing.T) {
	src := &fakeSource{err: errors.New("db down")}
	agg := summary.New(src, cache.NewMemory(discard()), time.Minute, discard())

	_, err := agg.Summary(context.Background(), nil, nil)
	require.Error(t, err)
}

func TestSummary_MalformedCachedValueRecomputes(t *testing.T) {
	src := &fakeSource{result: knownSummary()}
	c := cache.NewMemory(discard())
	agg := summary.New(src, c, time.Minute, discard())

	c.Set(context.Background(), summary.CacheKey(nil, nil), "{not json", time.Minute)

	got, err := agg.Summary(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, knownSummary(), got)
	assert.Equal(t, 1, src.calls)
}

func TestSummary_InconsistentCachedValueBypassed(t *testing.T) {
	src := &fakeSource{result: knownSummary()}
	c := cache.NewMemory(discard())
	agg := summary.New(src, c, time.Minute, discard())

	bad := knownSummary()
	bad.Default.TotalAmount = -50
	raw, err := json.Marshal(bad)
	require.NoError(t, err)
	c.Set(context.Background(), summary.CacheKey(nil, nil), string(raw), time.Minute)

	got, err := agg.Summary(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, knownSummary(), got, "inconsistent cache entry is bypassed for a fresh result")
	assert.Equal(t, 1, src.calls)
}

func TestSummary_ZeroShapeAlwaysHasBothKeys(t *testing.T) {
	src := &fakeSource{}
	agg := summary.New(src, cache.NewMemory(discard()), time.Minute, discard())

	got, err := agg.Summary(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Zero(t, got.Default.TotalRequests)
	assert.Zero(t, got.Fallback.TotalRequests)
}

func TestCacheKey(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "payment:summary:null:null", summary.CacheKey(nil, nil))
	assert.Contains(t, summary.CacheKey(&from, nil), "2026-01-01T00:00:00Z")
}
