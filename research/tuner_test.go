package research

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedLookups writes synthetic lookup outcomes straight into the log.
func seedLookups(cache *Cache, ts time.Time, n int, similarity float64, hit bool) {
	for i := 0; i < n; i++ {
		cache.logLookup(ts, similarity, cache.Threshold(), hit)
	}
}

func TestRecommendInsufficientSample(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	cache := newTestCache(t, func(o *CacheOptions) {
		o.Now = func() time.Time { return now }
	})
	seedLookups(cache, now.AddDate(0, 0, -2), 5, 0.9, true)

	rec, err := NewTuner(cache).Recommend(context.Background())
	require.NoError(t, err)

	assert.Equal(t, rec.CurrentThreshold, rec.RecommendedThreshold)
	assert.Equal(t, ConfidenceLow, rec.Confidence)
	assert.Contains(t, rec.Reason, "insufficient sample")
	assert.Len(t, rec.Windows, 3)
}

func TestRecommendLowerOnNearMissCluster(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	cache := newTestCache(t, func(o *CacheOptions) {
		o.Now = func() time.Time { return now }
	})
	ts := now.AddDate(0, 0, -3)
	seedLookups(cache, ts, 2, 0.90, true)   // few hits
	seedLookups(cache, ts, 15, 0.82, false) // misses just below 0.85
	seedLookups(cache, ts, 8, 0.30, false)  // clear misses

	rec, err := NewTuner(cache).Recommend(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 0.83, rec.RecommendedThreshold, 1e-9)
	assert.Equal(t, ConfidenceLow, rec.Confidence, "25 lookups is a small sample")
	assert.Contains(t, rec.Reason, "near-miss")
}

func TestRecommendRaiseOnComfortableHits(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	cache := newTestCache(t, func(o *CacheOptions) {
		o.Now = func() time.Time { return now }
	})
	ts := now.AddDate(0, 0, -5)
	seedLookups(cache, ts, 55, 0.95, true)
	seedLookups(cache, ts, 5, 0.50, false)

	rec, err := NewTuner(cache).Recommend(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 0.87, rec.RecommendedThreshold, 1e-9)
	assert.Equal(t, ConfidenceMedium, rec.Confidence)
}

func TestRecommendSteadyState(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	cache := newTestCache(t, func(o *CacheOptions) {
		o.Now = func() time.Time { return now }
	})
	ts := now.AddDate(0, 0, -4)
	seedLookups(cache, ts, 120, 0.88, true)
	seedLookups(cache, ts, 120, 0.40, false)

	rec, err := NewTuner(cache).Recommend(context.Background())
	require.NoError(t, err)

	assert.Equal(t, rec.CurrentThreshold, rec.RecommendedThreshold)
	assert.Equal(t, ConfidenceHigh, rec.Confidence, "240 lookups is a firm sample")
}

func TestRecommendNeverSelfApplies(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	cache := newTestCache(t, func(o *CacheOptions) {
		o.Now = func() time.Time { return now }
	})
	ts := now.AddDate(0, 0, -3)
	seedLookups(cache, ts, 2, 0.90, true)
	seedLookups(cache, ts, 23, 0.82, false)

	before := cache.Threshold()
	rec, err := NewTuner(cache).Recommend(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, before, rec.RecommendedThreshold)

	assert.Equal(t, before, cache.Threshold(), "only an operator applies recommendations")
}

func TestRecommendExcludesRowsOutsideMonthWindow(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	cache := newTestCache(t, func(o *CacheOptions) {
		o.Now = func() time.Time { return now }
	})
	seedLookups(cache, now.AddDate(0, -3, 0), 500, 0.82, false) // ancient near misses
	seedLookups(cache, now.AddDate(0, 0, -1), 3, 0.9, true)

	rec, err := NewTuner(cache).Recommend(context.Background())
	require.NoError(t, err)
	assert.Contains(t, rec.Reason, "insufficient sample", "ancient rows do not count toward the month window")
}
