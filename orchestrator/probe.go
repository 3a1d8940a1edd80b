package orchestrator

import (
	"context"
	"sync"

	"github.com/hupe1980/boardroom/embedding"
	"github.com/hupe1980/boardroom/logging"
	"github.com/hupe1980/boardroom/research"
)

// cacheProbe adapts the research cache to the facilitator's probe contract
// and remembers the last match per query so a consume-cache decision can be
// executed without a second lookup (which would double-count in the tuner's
// lookup log).
type cacheProbe struct {
	cache    *research.Cache
	embedder embedding.Engine
	logger   logging.Logger

	mu   sync.Mutex
	last map[string]*research.Match
}

func newCacheProbe(cache *research.Cache, embedder embedding.Engine, logger logging.Logger) *cacheProbe {
	return &cacheProbe{
		cache:    cache,
		embedder: embedder,
		logger:   logger,
		last:     make(map[string]*research.Match),
	}
}

// Probe implements facilitator.CacheProbe. Any failure is reported as a miss
// so deliberation degrades to an external lookup.
func (p *cacheProbe) Probe(ctx context.Context, query string) (bool, string, float64) {
	if p.cache == nil || p.embedder == nil {
		return false, "", 0
	}
	vec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		p.logger.Warn("query embedding failed, treating as cache miss", "error", err)
		return false, "", 0
	}
	match, err := p.cache.Lookup(ctx, vec, research.LookupOptions{})
	if err != nil {
		p.logger.Warn("cache lookup failed, treating as miss", "error", err)
		return false, "", 0
	}
	if match == nil {
		return false, "", 0
	}
	p.mu.Lock()
	p.last[query] = match
	p.mu.Unlock()
	return true, match.Entry.ID, match.Similarity
}

// take removes and returns the remembered match for a query, if any.
func (p *cacheProbe) take(query string) *research.Match {
	p.mu.Lock()
	defer p.mu.Unlock()
	match := p.last[query]
	delete(p.last, query)
	return match
}
