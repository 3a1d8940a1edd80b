package core

import "context"

// StepResult is the unit of work one orchestration step produces. Stores must
// commit all of it atomically: the session counter updates and the writes
// that justify them (contributions, cost records, events) land in a single
// transaction so the audit log and summary counters cannot drift.
type StepResult struct {
	Session        *Session
	Decision       *Decision
	Contributions  []Contribution
	Clarifications []Clarification
	SubProblems    []SubProblem
	Results        []SubProblemResult
	CostRecords    []CostRecord
	Events         []Event
}

// SessionStore persists deliberation sessions and their owned records.
//
// Contract:
//   - Create inserts a new session aggregate with its initial events
//   - AppendStep commits a StepResult atomically; it must reject the commit
//     with ErrTerminalSession when the stored session is already terminal,
//     which is how cooperative kill wins over an in-flight step
//   - Reads return defensive copies ordered by creation time (events by Seq)
//   - Purge cascade-deletes a session and everything it owns
type SessionStore interface {
	Create(ctx context.Context, step StepResult) error
	AppendStep(ctx context.Context, step StepResult) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListContributions(ctx context.Context, sessionID string) ([]Contribution, error)
	ListDecisions(ctx context.Context, sessionID string) ([]Decision, error)
	ListClarifications(ctx context.Context, sessionID string) ([]Clarification, error)
	AnswerClarification(ctx context.Context, sessionID, clarificationID, answer string) (Clarification, error)
	ListSubProblems(ctx context.Context, sessionID string) ([]SubProblem, error)
	ListResults(ctx context.Context, sessionID string) ([]SubProblemResult, error)
	ListEvents(ctx context.Context, sessionID string, afterSeq uint64) ([]Event, error)
	SessionCostReport(ctx context.Context, sessionID string) (*CostReport, error)
	GlobalCostReport(ctx context.Context) (*CostReport, error)
	Purge(ctx context.Context, sessionID string) error
}
