package core

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a deliberation session.
type Status string

const (
	// StatusActive marks a session that can still advance.
	StatusActive Status = "active"
	// StatusCompleted marks a session that produced a final recommendation.
	StatusCompleted Status = "completed"
	// StatusFailed marks a session halted by an unrecoverable error.
	StatusFailed Status = "failed"
	// StatusKilled marks a session terminated by an operator.
	StatusKilled Status = "killed"
	// StatusDeleted marks a soft-deleted session.
	StatusDeleted Status = "deleted"
)

// IsTerminal reports whether the status permits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusKilled, StatusDeleted:
		return true
	}
	return false
}

// Phase tags the current stage of the deliberation state machine. Phases are
// free-form for forward compatibility; the constants below are the ones the
// orchestrator emits.
type Phase string

const (
	// PhaseDecomposition splits the problem into sub-problems.
	PhaseDecomposition Phase = "decomposition"
	// PhaseContribution runs persona contribution rounds.
	PhaseContribution Phase = "contribution"
	// PhaseResearch resolves an outstanding research query.
	PhaseResearch Phase = "research"
	// PhaseSynthesis combines contributions of a sub-problem.
	PhaseSynthesis Phase = "synthesis"
	// PhaseMetaSynthesis combines multiple sub-problem syntheses.
	PhaseMetaSynthesis Phase = "meta-synthesis"
)

// KillInfo records who terminated a session, when and why.
type KillInfo struct {
	Actor  string    `json:"actor"`
	Reason string    `json:"reason"`
	Time   time.Time `json:"time"`
}

// Session is the aggregate root of a deliberation. It tracks the state machine
// position (Status, Phase, RoundNumber), running cost/token totals and the
// synthesis outputs.
//
// Contract:
//   - Status transitions are monotonic: once terminal, a session never returns
//     to active (enforced by TransitionTo)
//   - RoundNumber never exceeds MaxRounds
//   - EventSeq increases by one per emitted event and never repeats
type Session struct {
	ID             string  `json:"id"`
	Owner          string  `json:"owner"`
	Problem        string  `json:"problem"`
	Context        string  `json:"context,omitempty"`
	Status         Status  `json:"status"`
	Phase          Phase   `json:"phase"`
	RoundNumber    int     `json:"round_number"`
	MaxRounds      int     `json:"max_rounds"`
	TotalCost      float64 `json:"total_cost"`
	TotalTokens    int     `json:"total_tokens"`
	Synthesis      string  `json:"synthesis,omitempty"`
	Recommendation string  `json:"recommendation,omitempty"`
	FailureReason  string  `json:"failure_reason,omitempty"`
	// PendingResearch holds a research query raised by a persona and not yet
	// resolved; it keeps the research need across advance calls.
	PendingResearch string    `json:"pending_research,omitempty"`
	Kill            *KillInfo `json:"kill,omitempty"`
	ReplanOf        string    `json:"replan_of,omitempty"`
	EventSeq        uint64    `json:"event_seq"`
	Created         time.Time `json:"created"`
	Updated         time.Time `json:"updated"`
}

// NewSession creates an active session in the decomposition phase.
func NewSession(id, owner, problem, context string, maxRounds int) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:          id,
		Owner:       owner,
		Problem:     problem,
		Context:     context,
		Status:      StatusActive,
		Phase:       PhaseDecomposition,
		RoundNumber: 0,
		MaxRounds:   maxRounds,
		Created:     now,
		Updated:     now,
	}
}

// TransitionTo moves the session to a new status enforcing monotonicity.
// Transitions out of a terminal status are rejected.
func (s *Session) TransitionTo(next Status) error {
	if s.Status.IsTerminal() {
		return fmt.Errorf("session %s: illegal transition %s -> %s: %w", s.ID, s.Status, next, ErrTerminalSession)
	}
	s.Status = next
	s.Updated = time.Now().UTC()
	return nil
}

// AdvanceRound increments the round counter, capped at MaxRounds.
func (s *Session) AdvanceRound() error {
	if s.RoundNumber >= s.MaxRounds {
		return fmt.Errorf("session %s: round budget %d exhausted", s.ID, s.MaxRounds)
	}
	s.RoundNumber++
	s.Updated = time.Now().UTC()
	return nil
}

// NextEventSeq returns the next per-session event sequence number and bumps
// the counter. Callers must persist the session alongside the emitted event.
func (s *Session) NextEventSeq() uint64 {
	s.EventSeq++
	return s.EventSeq
}

// AddUsage accumulates cost and token totals from one external call.
func (s *Session) AddUsage(cost float64, tokens int) {
	s.TotalCost += cost
	s.TotalTokens += tokens
	s.Updated = time.Now().UTC()
}

// Clone returns a deep copy safe for independent mutation.
func (s *Session) Clone() *Session {
	clone := *s
	if s.Kill != nil {
		k := *s.Kill
		clone.Kill = &k
	}
	return &clone
}
