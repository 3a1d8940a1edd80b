package core

import "time"

// TokenBreakdown splits token usage by direction and prompt-cache activity.
type TokenBreakdown struct {
	Input         int `json:"input"`
	Output        int `json:"output"`
	CacheCreation int `json:"cache_creation,omitempty"`
	CacheRead     int `json:"cache_read,omitempty"`
}

// Total returns the sum across all token categories.
func (t TokenBreakdown) Total() int {
	return t.Input + t.Output + t.CacheCreation + t.CacheRead
}

// CostRecord is one append-only entry in the cost ledger describing a single
// external call. Records are never mutated after insert.
type CostRecord struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Provider    string         `json:"provider"`
	Model       string         `json:"model"`
	Operation   string         `json:"operation"` // decomposition, contribution, research, synthesis, embedding
	Phase       Phase          `json:"phase"`
	PersonaCode string         `json:"persona_code,omitempty"`
	Round       int            `json:"round"`
	Tokens      TokenBreakdown `json:"tokens"`
	CacheHit    bool           `json:"cache_hit,omitempty"`
	Cost        float64        `json:"cost"`
	// CostAvoided estimates spend saved by an optimization (cache hit,
	// economy-model routing) relative to the unoptimized path.
	CostAvoided  float64       `json:"cost_avoided,omitempty"`
	Optimization string        `json:"optimization,omitempty"`
	Status       string        `json:"status"` // ok or error
	Error        string        `json:"error,omitempty"`
	Latency      time.Duration `json:"latency"`
	Created      time.Time     `json:"created"`
}

// CostTotals holds summed spend for one reporting dimension.
type CostTotals struct {
	Calls       int     `json:"calls"`
	Tokens      int     `json:"tokens"`
	Cost        float64 `json:"cost"`
	CostAvoided float64 `json:"cost_avoided"`
}

// Add folds one record into the totals.
func (t *CostTotals) Add(rec CostRecord) {
	t.Calls++
	t.Tokens += rec.Tokens.Total()
	t.Cost += rec.Cost
	t.CostAvoided += rec.CostAvoided
}

// CostReport aggregates ledger records for dashboards: one overall total plus
// breakdowns by provider, model and operation type.
type CostReport struct {
	Total       CostTotals            `json:"total"`
	ByProvider  map[string]CostTotals `json:"by_provider"`
	ByModel     map[string]CostTotals `json:"by_model"`
	ByOperation map[string]CostTotals `json:"by_operation"`
}

// NewCostReport returns an empty report with initialized maps.
func NewCostReport() *CostReport {
	return &CostReport{
		ByProvider:  map[string]CostTotals{},
		ByModel:     map[string]CostTotals{},
		ByOperation: map[string]CostTotals{},
	}
}

// Fold accumulates one record into every breakdown.
func (r *CostReport) Fold(rec CostRecord) {
	r.Total.Add(rec)

	p := r.ByProvider[rec.Provider]
	p.Add(rec)
	r.ByProvider[rec.Provider] = p

	m := r.ByModel[rec.Model]
	m.Add(rec)
	r.ByModel[rec.Model] = m

	o := r.ByOperation[rec.Operation]
	o.Add(rec)
	r.ByOperation[rec.Operation] = o
}
