package research

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/boardroom/logging"
)

func newTestCache(t *testing.T, optFns ...func(o *CacheOptions)) *Cache {
	t.Helper()
	cache, err := NewCache(":memory:", optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache
}

func storedEntry(t *testing.T, cache *Cache, question string, vec []float32, freshnessDays int) string {
	t.Helper()
	id, err := cache.Store(context.Background(), Entry{
		Question:      question,
		Embedding:     vec,
		Answer:        "answer to " + question,
		Confidence:    ConfidenceHigh,
		Sources:       []string{"https://example.com"},
		FreshnessDays: freshnessDays,
		Cost:          0.2,
		Tokens:        40,
	})
	require.NoError(t, err)
	return id
}

func TestLookupHitAboveThreshold(t *testing.T) {
	cache := newTestCache(t)
	id := storedEntry(t, cache, "market size germany", []float32{1, 0, 0, 0}, 30)

	match, err := cache.Lookup(context.Background(), []float32{0.92, 0.3919184, 0, 0}, LookupOptions{})
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, id, match.Entry.ID)
	assert.InDelta(t, 0.92, match.Similarity, 0.001)
}

func TestLookupMissBelowThreshold(t *testing.T) {
	cache := newTestCache(t)
	storedEntry(t, cache, "market size germany", []float32{1, 0, 0, 0}, 30)

	match, err := cache.Lookup(context.Background(), []float32{0.5, 0.8660254, 0, 0}, LookupOptions{})
	require.NoError(t, err)
	assert.Nil(t, match, "similarity 0.5 is below the 0.85 default threshold")
}

func TestLookupExpiredEntryNeverMatches(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	cache := newTestCache(t, func(o *CacheOptions) {
		o.Now = func() time.Time { return now }
	})

	_, err := cache.Store(context.Background(), Entry{
		Question:      "stale question",
		Embedding:     []float32{1, 0, 0, 0},
		Answer:        "stale answer",
		Confidence:    ConfidenceHigh,
		FreshnessDays: 7,
		ResearchDate:  now.AddDate(0, 0, -30),
	})
	require.NoError(t, err)

	// identical vector: similarity 1.0, but the freshness window has elapsed
	match, err := cache.Lookup(context.Background(), []float32{1, 0, 0, 0}, LookupOptions{})
	require.NoError(t, err)
	assert.Nil(t, match, "expired entries never match, even at similarity 1.0")
}

func TestLookupHonorsTagFilters(t *testing.T) {
	cache := newTestCache(t)
	_, err := cache.Store(context.Background(), Entry{
		Question:      "fintech rules",
		Embedding:     []float32{1, 0, 0, 0},
		Answer:        "strict",
		Confidence:    ConfidenceMedium,
		Category:      "regulation",
		Industry:      "fintech",
		FreshnessDays: 30,
	})
	require.NoError(t, err)

	match, err := cache.Lookup(context.Background(), []float32{1, 0, 0, 0}, LookupOptions{Industry: "healthcare"})
	require.NoError(t, err)
	assert.Nil(t, match)

	match, err = cache.Lookup(context.Background(), []float32{1, 0, 0, 0}, LookupOptions{Category: "regulation", Industry: "fintech"})
	require.NoError(t, err)
	assert.NotNil(t, match)
}

func TestStoreIgnoresNearDuplicates(t *testing.T) {
	cache := newTestCache(t)
	first := storedEntry(t, cache, "market size germany", []float32{1, 0, 0, 0}, 30)

	// similarity ~0.995, above the 0.97 dedupe threshold
	second, err := cache.Store(context.Background(), Entry{
		Question:      "german market size",
		Embedding:     []float32{0.995, 0.0998749, 0, 0},
		Answer:        "nearly the same",
		Confidence:    ConfidenceMedium,
		FreshnessDays: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, first, second, "near-duplicate store returns the existing entry id")

	distinct, err := cache.Store(context.Background(), Entry{
		Question:      "something else entirely",
		Embedding:     []float32{0, 1, 0, 0},
		Answer:        "different",
		Confidence:    ConfidenceMedium,
		FreshnessDays: 30,
	})
	require.NoError(t, err)
	assert.NotEqual(t, first, distinct)
}

func TestStoreReplacesExpiredNearDuplicate(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	cache := newTestCache(t, func(o *CacheOptions) {
		o.Now = func() time.Time { return now }
	})

	_, err := cache.Store(context.Background(), Entry{
		Question:      "old question",
		Embedding:     []float32{1, 0, 0, 0},
		Answer:        "old answer",
		Confidence:    ConfidenceHigh,
		FreshnessDays: 7,
		ResearchDate:  now.AddDate(0, 0, -30),
	})
	require.NoError(t, err)

	fresh, err := cache.Store(context.Background(), Entry{
		Question:      "old question revisited",
		Embedding:     []float32{1, 0, 0, 0},
		Answer:        "fresh answer",
		Confidence:    ConfidenceHigh,
		FreshnessDays: 7,
		ResearchDate:  now,
	})
	require.NoError(t, err)

	entry, err := cache.Get(context.Background(), fresh)
	require.NoError(t, err)
	assert.Equal(t, "fresh answer", entry.Answer, "an expired near-duplicate does not block a fresh store")
}

func TestRecordAccessBumpsCountOnly(t *testing.T) {
	cache := newTestCache(t)
	id := storedEntry(t, cache, "market size germany", []float32{1, 0, 0, 0}, 30)

	require.NoError(t, cache.RecordAccess(context.Background(), id))
	require.NoError(t, cache.RecordAccess(context.Background(), id))

	entry, err := cache.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, entry.AccessCount)
	assert.False(t, entry.LastAccessed.IsZero())
	assert.Equal(t, "answer to market size germany", entry.Answer, "answer stays immutable")

	err = cache.RecordAccess(context.Background(), "no-such-entry")
	assert.Error(t, err)
}

func TestSetThresholdChangesHitBoundary(t *testing.T) {
	cache := newTestCache(t)
	storedEntry(t, cache, "market size germany", []float32{1, 0, 0, 0}, 30)

	query := []float32{0.8, 0.6, 0, 0} // similarity 0.8
	match, err := cache.Lookup(context.Background(), query, LookupOptions{})
	require.NoError(t, err)
	assert.Nil(t, match)

	cache.SetThreshold(0.75)
	match, err = cache.Lookup(context.Background(), query, LookupOptions{})
	require.NoError(t, err)
	assert.NotNil(t, match)
}

func TestLookupFallsBackToScanWithoutVectorIndex(t *testing.T) {
	cache := newTestCache(t)
	id := storedEntry(t, cache, "market size germany", []float32{1, 0, 0, 0}, 30)

	// pretend the extension loaded but the vec0 table is unusable; the
	// lookup must degrade to the brute-force scan
	cache.vectorExt = true

	match, err := cache.Lookup(context.Background(), []float32{1, 0, 0, 0}, LookupOptions{})
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, id, match.Entry.ID)
	assert.InDelta(t, 1.0, match.Similarity, 1e-6)
}

type lookupRecorder struct {
	logging.NoOpLogger
	similarity float64
	threshold  float64
	hit        bool
	calls      int
}

func (r *lookupRecorder) LogResearchLookup(similarity, threshold float64, hit bool) {
	r.similarity, r.threshold, r.hit = similarity, threshold, hit
	r.calls++
}

func TestLookupReportsOutcomeToCapableLogger(t *testing.T) {
	rec := &lookupRecorder{}
	cache := newTestCache(t, func(o *CacheOptions) { o.Logger = rec })
	storedEntry(t, cache, "market size germany", []float32{1, 0, 0, 0}, 30)

	match, err := cache.Lookup(context.Background(), []float32{1, 0, 0, 0}, LookupOptions{})
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, 1, rec.calls)
	assert.True(t, rec.hit)
	assert.InDelta(t, 1.0, rec.similarity, 1e-6)
	assert.InDelta(t, 0.85, rec.threshold, 1e-9)

	_, err = cache.Lookup(context.Background(), []float32{0, 1, 0, 0}, LookupOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, rec.calls)
	assert.False(t, rec.hit)
}

func TestClosedCacheRejectsOperations(t *testing.T) {
	cache := newTestCache(t)
	require.NoError(t, cache.Close())

	_, err := cache.Lookup(context.Background(), []float32{1, 0, 0, 0}, LookupOptions{})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = cache.Store(context.Background(), Entry{Embedding: []float32{1, 0, 0, 0}})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, cache.RecordAccess(context.Background(), "x"), ErrClosed)
}
