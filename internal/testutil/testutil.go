// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing sessions and step results. These helpers are
// intentionally minimal and not intended for production usage.
package testutil

import (
	"time"

	"github.com/hupe1980/boardroom/core"
	"github.com/hupe1980/boardroom/internal/util"
)

// SessionBuilder constructs sessions with fluent chaining for tests.
// Example:
//
//	sess := NewSessionBuilder("sess-1").Rounds(2, 5).Status(core.StatusActive).Build()
type SessionBuilder struct {
	sess *core.Session
}

// NewSessionBuilder creates a builder for a session with the given id.
func NewSessionBuilder(id string) *SessionBuilder {
	return &SessionBuilder{sess: core.NewSession(id, "tester", "test problem", "", 5)}
}

// Problem sets the problem statement (chainable).
func (b *SessionBuilder) Problem(p string) *SessionBuilder {
	b.sess.Problem = p
	return b
}

// Rounds sets the current round and the budget (chainable).
func (b *SessionBuilder) Rounds(current, max int) *SessionBuilder {
	b.sess.RoundNumber = current
	b.sess.MaxRounds = max
	return b
}

// Status sets the lifecycle status directly, bypassing transition checks
// (chainable). Useful for arranging terminal states.
func (b *SessionBuilder) Status(s core.Status) *SessionBuilder {
	b.sess.Status = s
	return b
}

// Phase sets the current phase (chainable).
func (b *SessionBuilder) Phase(p core.Phase) *SessionBuilder {
	b.sess.Phase = p
	return b
}

// Build returns the constructed session.
func (b *SessionBuilder) Build() *core.Session { return b.sess }

// StepBuilder constructs StepResult commits for store tests.
type StepBuilder struct {
	step core.StepResult
}

// NewStepBuilder creates a builder committing against the given session.
func NewStepBuilder(sess *core.Session) *StepBuilder {
	return &StepBuilder{step: core.StepResult{Session: sess}}
}

// Contribution appends a successful contribution by the given persona (chainable).
func (b *StepBuilder) Contribution(personaCode, content string) *StepBuilder {
	b.step.Contributions = append(b.step.Contributions, core.Contribution{
		ID:          util.NewID(),
		SessionID:   b.step.Session.ID,
		PersonaCode: personaCode,
		Round:       b.step.Session.RoundNumber,
		Phase:       core.PhaseContribution,
		Content:     content,
		Created:     time.Now().UTC(),
	})
	return b
}

// Decision attaches a decision of the given kind (chainable).
func (b *StepBuilder) Decision(kind core.DecisionKind, reasoning string) *StepBuilder {
	b.step.Decision = &core.Decision{
		ID:        util.NewID(),
		SessionID: b.step.Session.ID,
		Round:     b.step.Session.RoundNumber,
		Kind:      kind,
		Reasoning: reasoning,
		Created:   time.Now().UTC(),
	}
	return b
}

// Clarification appends a clarification question (chainable).
func (b *StepBuilder) Clarification(personaCode, question string, priority core.Priority) *StepBuilder {
	b.step.Clarifications = append(b.step.Clarifications, core.Clarification{
		ID:          util.NewID(),
		SessionID:   b.step.Session.ID,
		PersonaCode: personaCode,
		Question:    question,
		Priority:    priority,
		Round:       b.step.Session.RoundNumber,
		Created:     time.Now().UTC(),
	})
	return b
}

// Cost appends a successful cost record (chainable).
func (b *StepBuilder) Cost(provider, model, operation string, cost float64, tokens int) *StepBuilder {
	b.step.CostRecords = append(b.step.CostRecords, core.CostRecord{
		ID:        util.NewID(),
		SessionID: b.step.Session.ID,
		Provider:  provider,
		Model:     model,
		Operation: operation,
		Tokens:    core.TokenBreakdown{Input: tokens / 2, Output: tokens - tokens/2},
		Cost:      cost,
		Status:    "ok",
		Created:   time.Now().UTC(),
	})
	return b
}

// Event appends an event of the given kind, assigning the session's next
// sequence number (chainable).
func (b *StepBuilder) Event(kind core.EventKind, detail string) *StepBuilder {
	b.step.Events = append(b.step.Events, core.NewEvent(b.step.Session, kind, detail))
	return b
}

// Build returns the assembled step.
func (b *StepBuilder) Build() core.StepResult { return b.step }
