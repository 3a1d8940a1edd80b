package core

import "time"

// DecisionKind is the closed set of actions a facilitator may choose. Dispatch
// is by tagged variant rather than runtime type inspection so every consumer
// can switch exhaustively.
type DecisionKind string

const (
	// DecisionSpeak directs one or more personas to contribute this round.
	DecisionSpeak DecisionKind = "speak"
	// DecisionResearch issues an external research query.
	DecisionResearch DecisionKind = "research"
	// DecisionConsumeCache satisfies a research need from the semantic cache
	// without an external lookup.
	DecisionConsumeCache DecisionKind = "consume_cache"
	// DecisionClarify pauses for a human clarification answer.
	DecisionClarify DecisionKind = "clarify"
	// DecisionSynthesize combines the contributions of one sub-problem.
	DecisionSynthesize DecisionKind = "synthesize"
	// DecisionMetaSynthesize combines all sub-problem syntheses into the
	// session's final recommendation.
	DecisionMetaSynthesize DecisionKind = "meta_synthesize"
	// DecisionStop finishes the session.
	DecisionStop DecisionKind = "stop"
)

// Decision records one facilitator choice for a session round. Decisions are
// append-only audit entries; the orchestrator consults only the latest per
// round and sub-problem.
//
// Reasoning is mandatory on every decision. Validate rejects decisions
// without it.
type Decision struct {
	ID         string       `json:"id"`
	SessionID  string       `json:"session_id"`
	Round      int          `json:"round"`
	SubProblem int          `json:"sub_problem"`
	Kind       DecisionKind `json:"kind"`
	// Speakers lists the personas directed to contribute when Kind is
	// DecisionSpeak. Multiple speakers in one decision are dispatched
	// concurrently but committed in this order.
	Speakers  []string  `json:"speakers,omitempty"`
	Query     string    `json:"query,omitempty"`
	Reasoning string    `json:"reasoning"`
	Created   time.Time `json:"created"`
}

// Validate enforces the decision contract.
func (d Decision) Validate() error {
	if d.Reasoning == "" {
		return ErrMissingReasoning
	}
	return nil
}
