// Package research implements the semantic research cache and the external
// search contract. The cache stores prior question/answer research results
// with embeddings and is consulted before any external lookup; entries are
// shared across sessions and expire on a per-entry freshness window.
package research

import (
	"context"
	"errors"
	"time"
)

// Confidence labels how trustworthy a cached answer or a threshold
// recommendation is.
type Confidence string

const (
	// ConfidenceHigh marks well-sourced answers / statistically firm recommendations.
	ConfidenceHigh Confidence = "high"
	// ConfidenceMedium marks usable but partially sourced results.
	ConfidenceMedium Confidence = "medium"
	// ConfidenceLow marks weakly sourced results; consumers should verify.
	ConfidenceLow Confidence = "low"
)

// Entry is one cached research result. Entries are immutable once created
// except for access-count/last-accessed bumps, and expire logically once
// ResearchDate + FreshnessDays has passed regardless of access count.
type Entry struct {
	ID            string     `json:"id"`
	Question      string     `json:"question"`
	Embedding     []float32  `json:"embedding"`
	Answer        string     `json:"answer"`
	Confidence    Confidence `json:"confidence"`
	Sources       []string   `json:"sources,omitempty"`
	Category      string     `json:"category,omitempty"`
	Industry      string     `json:"industry,omitempty"`
	FreshnessDays int        `json:"freshness_days"`
	ResearchDate  time.Time  `json:"research_date"`
	AccessCount   int        `json:"access_count"`
	LastAccessed  time.Time  `json:"last_accessed,omitempty"`
	Cost          float64    `json:"cost"`
	Tokens        int        `json:"tokens"`
}

// Expired reports whether the entry's freshness window has elapsed at now.
func (e Entry) Expired(now time.Time) bool {
	return now.After(e.ResearchDate.AddDate(0, 0, e.FreshnessDays))
}

// Match is a cache lookup result above the similarity threshold.
type Match struct {
	Entry      Entry   `json:"entry"`
	Similarity float64 `json:"similarity"`
}

// LookupOptions narrows a lookup to category/industry tags. Empty fields
// match everything.
type LookupOptions struct {
	Category string
	Industry string
}

// ErrClosed indicates use of a cache after Close.
var ErrClosed = errors.New("research cache closed")

// SearchResult is the outcome of one external web search.
type SearchResult struct {
	Answer     string     `json:"answer"`
	Sources    []string   `json:"sources"`
	Confidence Confidence `json:"confidence"`
	Cost       float64    `json:"cost"`
	Tokens     int        `json:"tokens"`
}

// Searcher is the external web-search provider contract, used only when the
// cache records a miss.
type Searcher interface {
	Search(ctx context.Context, query string) (*SearchResult, error)
}

// SearcherFunc adapts a function to the Searcher interface.
type SearcherFunc func(ctx context.Context, query string) (*SearchResult, error)

// Search implements Searcher.
func (f SearcherFunc) Search(ctx context.Context, query string) (*SearchResult, error) {
	return f(ctx, query)
}
