package core

import "time"

// Priority classifies how strongly a clarification blocks deliberation.
type Priority string

const (
	// PriorityCritical pauses round advancement for the whole session until
	// the clarification is answered.
	PriorityCritical Priority = "CRITICAL"
	// PriorityNiceToHave is recorded and surfaced but never blocks.
	PriorityNiceToHave Priority = "NICE_TO_HAVE"
)

// Clarification is a question a persona raised mid-deliberation. Once
// answered, it becomes part of the context supplied to all subsequent persona
// invocations for the session.
type Clarification struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	PersonaCode string     `json:"persona_code"`
	Question    string     `json:"question"`
	Priority    Priority   `json:"priority"`
	Reasoning   string     `json:"reasoning,omitempty"`
	Round       int        `json:"round"`
	Answer      string     `json:"answer,omitempty"`
	AnsweredAt  *time.Time `json:"answered_at,omitempty"`
	Created     time.Time  `json:"created"`
}

// IsAnswered reports whether an answer has been submitted.
func (c Clarification) IsAnswered() bool { return c.AnsweredAt != nil }

// Blocks reports whether this clarification currently blocks advancement.
func (c Clarification) Blocks() bool {
	return c.Priority == PriorityCritical && !c.IsAnswered()
}
