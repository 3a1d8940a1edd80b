package core

import (
	"time"

	"github.com/google/uuid"
)

// EventKind labels the transition an engine event describes.
type EventKind string

const (
	// EventSessionStarted is emitted once when a session is created.
	EventSessionStarted EventKind = "session_started"
	// EventPhaseChanged is emitted when the session phase changes.
	EventPhaseChanged EventKind = "phase_changed"
	// EventRoundAdvanced is emitted when a full contribution cycle completes.
	EventRoundAdvanced EventKind = "round_advanced"
	// EventContributionAdded is emitted per persisted contribution.
	EventContributionAdded EventKind = "contribution_added"
	// EventDecisionMade is emitted per facilitator decision.
	EventDecisionMade EventKind = "decision_made"
	// EventClarificationRaised is emitted when a persona asks a question.
	EventClarificationRaised EventKind = "clarification_raised"
	// EventClarificationAnswered is emitted when a human supplies an answer.
	EventClarificationAnswered EventKind = "clarification_answered"
	// EventResearchCompleted is emitted after a research step, cached or not.
	EventResearchCompleted EventKind = "research_completed"
	// EventSubProblemSynthesized is emitted per sub-problem synthesis.
	EventSubProblemSynthesized EventKind = "sub_problem_synthesized"
	// EventSessionCompleted is emitted on the transition to completed.
	EventSessionCompleted EventKind = "session_completed"
	// EventSessionFailed is emitted on the transition to failed.
	EventSessionFailed EventKind = "session_failed"
	// EventSessionKilled is emitted on the transition to killed.
	EventSessionKilled EventKind = "session_killed"
)

// Event is one strictly ordered engine notification. Seq increases
// monotonically per session; consumers must tolerate at-least-once delivery
// and de-duplicate by (SessionID, Seq). After emission an event is immutable.
type Event struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Seq       uint64    `json:"seq"`
	Kind      EventKind `json:"kind"`
	Phase     Phase     `json:"phase"`
	Round     int       `json:"round"`
	// Detail carries a short human-readable description of the transition,
	// e.g. the persona that spoke or the failure reason.
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent creates an event for a session snapshot; the caller assigns Seq
// via Session.NextEventSeq so ordering survives persistence.
func NewEvent(s *Session, kind EventKind, detail string) Event {
	return Event{
		ID:        uuid.NewString(),
		SessionID: s.ID,
		Seq:       s.NextEventSeq(),
		Kind:      kind,
		Phase:     s.Phase,
		Round:     s.RoundNumber,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}
}

// EventSink receives engine events in order. Implementations must be safe for
// concurrent use; Emit must not block longer than the sink's own delivery
// timeout.
type EventSink interface {
	Emit(ev Event)
}

// NoOpSink discards all events.
type NoOpSink struct{}

// Emit implements EventSink.
func (NoOpSink) Emit(Event) {}
