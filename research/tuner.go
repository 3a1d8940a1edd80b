package research

import (
	"context"
	"fmt"
	"time"
)

// WindowStats summarizes lookup outcomes over one rolling window.
type WindowStats struct {
	Window           string  `json:"window"` // day, week, month
	Lookups          int     `json:"lookups"`
	Hits             int     `json:"hits"`
	HitRate          float64 `json:"hit_rate"`
	AvgHitSimilarity float64 `json:"avg_hit_similarity"`
	// NearMisses counts misses whose similarity fell within the tuner band
	// directly below the threshold in effect at lookup time.
	NearMisses int `json:"near_misses"`
}

// Recommendation is a proposed threshold change. The cache never applies it
// on its own; an operator reviews and calls Cache.SetThreshold, preventing
// runaway threshold drift from noisy short windows.
type Recommendation struct {
	CurrentThreshold     float64       `json:"current_threshold"`
	RecommendedThreshold float64       `json:"recommended_threshold"`
	Confidence           Confidence    `json:"confidence"`
	Reason               string        `json:"reason"`
	Windows              []WindowStats `json:"windows"`
	GeneratedAt          time.Time     `json:"generated_at"`
}

// TunerOptions configures a Tuner.
type TunerOptions struct {
	// Band is the similarity width below the threshold counted as a near miss.
	Band float64
	// MinLookups is the monthly sample size below which no change is recommended.
	MinLookups int
	// Step is the threshold adjustment granularity.
	Step float64
}

// Tuner derives similarity-threshold recommendations from the cache's rolling
// lookup log.
type Tuner struct {
	cache *Cache
	opts  TunerOptions
}

// NewTuner creates a Tuner over an open cache.
func NewTuner(cache *Cache, optFns ...func(o *TunerOptions)) *Tuner {
	opts := TunerOptions{
		Band:       0.05,
		MinLookups: 20,
		Step:       0.02,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Tuner{cache: cache, opts: opts}
}

// Recommend recomputes window statistics and proposes a threshold. The
// decision basis is the month window; day and week are reported for context.
func (t *Tuner) Recommend(ctx context.Context) (*Recommendation, error) {
	now := t.cache.now()
	windows := []struct {
		name  string
		since time.Time
	}{
		{"day", now.AddDate(0, 0, -1)},
		{"week", now.AddDate(0, 0, -7)},
		{"month", now.AddDate(0, -1, 0)},
	}

	threshold := t.cache.Threshold()
	rec := &Recommendation{
		CurrentThreshold:     threshold,
		RecommendedThreshold: threshold,
		Confidence:           ConfidenceLow,
		GeneratedAt:          now,
	}

	var month WindowStats
	for _, w := range windows {
		stats, err := t.windowStats(ctx, w.name, w.since)
		if err != nil {
			return nil, err
		}
		rec.Windows = append(rec.Windows, stats)
		if w.name == "month" {
			month = stats
		}
	}

	if month.Lookups < t.opts.MinLookups {
		rec.Reason = fmt.Sprintf("insufficient sample (%d lookups in the last month, need %d)",
			month.Lookups, t.opts.MinLookups)
		return rec, nil
	}

	nearMissShare := 0.0
	if misses := month.Lookups - month.Hits; misses > 0 {
		nearMissShare = float64(month.NearMisses) / float64(misses)
	}

	switch {
	case month.HitRate < 0.2 && nearMissShare > 0.5:
		// Most misses cluster just below the threshold: lowering recovers them.
		rec.RecommendedThreshold = threshold - t.opts.Step
		rec.Reason = fmt.Sprintf("hit rate %.0f%% with %.0f%% of misses in the near-miss band",
			month.HitRate*100, nearMissShare*100)
	case month.HitRate > 0.8 && month.AvgHitSimilarity-threshold > t.opts.Band:
		// Accepted hits sit well above the threshold: tightening costs nothing
		// measurable and guards against weak matches.
		rec.RecommendedThreshold = threshold + t.opts.Step
		rec.Reason = fmt.Sprintf("hit rate %.0f%% with average hit similarity %.3f well above threshold",
			month.HitRate*100, month.AvgHitSimilarity)
	default:
		rec.Reason = "lookup outcomes are consistent with the current threshold"
	}

	rec.Confidence = sampleConfidence(month.Lookups)
	return rec, nil
}

// windowStats aggregates the lookup log since the given instant. Near misses
// are measured against the threshold recorded with each lookup, so historic
// rows stay meaningful after an operator changes the live threshold.
func (t *Tuner) windowStats(ctx context.Context, name string, since time.Time) (WindowStats, error) {
	stats := WindowStats{Window: name}
	row := t.cache.db.QueryRowContext(ctx, `
SELECT COUNT(*),
       COALESCE(SUM(hit), 0),
       COALESCE(AVG(CASE WHEN hit = 1 THEN similarity END), 0),
       COALESCE(SUM(CASE WHEN hit = 0 AND similarity >= threshold - ? AND similarity < threshold THEN 1 ELSE 0 END), 0)
FROM lookup_log WHERE ts >= ?`, t.opts.Band, since)
	if err := row.Scan(&stats.Lookups, &stats.Hits, &stats.AvgHitSimilarity, &stats.NearMisses); err != nil {
		return stats, fmt.Errorf("failed to compute %s window stats: %w", name, err)
	}
	if stats.Lookups > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.Lookups)
	}
	return stats, nil
}

func sampleConfidence(lookups int) Confidence {
	switch {
	case lookups >= 200:
		return ConfidenceHigh
	case lookups >= 50:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
