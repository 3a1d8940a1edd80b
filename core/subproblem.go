package core

import "time"

// SubProblem is one independently deliberated decomposition of the main
// problem. Index is zero-based and unique per session.
type SubProblem struct {
	Index int    `json:"index"`
	Goal  string `json:"goal"`
}

// SubProblemResult captures the synthesis of one sub-problem together with
// per-expert summaries and execution counters. Unique per (session, index).
type SubProblemResult struct {
	SessionID        string            `json:"session_id"`
	Index            int               `json:"index"`
	Goal             string            `json:"goal"`
	Synthesis        string            `json:"synthesis"`
	ExpertSummaries  map[string]string `json:"expert_summaries,omitempty"`
	Cost             float64           `json:"cost"`
	Duration         time.Duration     `json:"duration"`
	ContributionCnt  int               `json:"contribution_count"`
	Created          time.Time         `json:"created"`
}

// Clone returns a deep copy of the result.
func (r *SubProblemResult) Clone() *SubProblemResult {
	clone := *r
	if r.ExpertSummaries != nil {
		clone.ExpertSummaries = make(map[string]string, len(r.ExpertSummaries))
		for k, v := range r.ExpertSummaries {
			clone.ExpertSummaries[k] = v
		}
	}
	return &clone
}
