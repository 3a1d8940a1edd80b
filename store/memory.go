// Package store provides the persistence implementations of
// core.SessionStore: a volatile in-memory store for tests and demos, and a
// durable SQLite store with an append-only audit schema.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/boardroom/core"
)

// MemoryStore is a volatile core.SessionStore implementation keeping all
// records in process-local maps. It is safe for concurrent access and best
// suited for tests or ephemeral demo runs. Each returned record is copied to
// prevent external mutation of internal state.
type MemoryStore struct {
	mu             sync.RWMutex
	sessions       map[string]*core.Session
	contributions  map[string][]core.Contribution
	decisions      map[string][]core.Decision
	clarifications map[string][]core.Clarification
	subProblems    map[string][]core.SubProblem
	results        map[string][]core.SubProblemResult
	costs          map[string][]core.CostRecord
	events         map[string][]core.Event
}

// NewMemoryStore constructs an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:       make(map[string]*core.Session),
		contributions:  make(map[string][]core.Contribution),
		decisions:      make(map[string][]core.Decision),
		clarifications: make(map[string][]core.Clarification),
		subProblems:    make(map[string][]core.SubProblem),
		results:        make(map[string][]core.SubProblemResult),
		costs:          make(map[string][]core.CostRecord),
		events:         make(map[string][]core.Event),
	}
}

// Create implements core.SessionStore.
func (s *MemoryStore) Create(_ context.Context, step core.StepResult) error {
	if step.Session == nil {
		return fmt.Errorf("create requires a session")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[step.Session.ID]; exists {
		return fmt.Errorf("session %s already exists", step.Session.ID)
	}
	s.applyLocked(step)
	return nil
}

// AppendStep implements core.SessionStore. The commit is rejected when the
// stored session is already terminal, which lets a kill win over an in-flight
// orchestration step.
func (s *MemoryStore) AppendStep(_ context.Context, step core.StepResult) error {
	if step.Session == nil {
		return fmt.Errorf("append requires a session")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[step.Session.ID]
	if !ok {
		return fmt.Errorf("session %s: %w", step.Session.ID, core.ErrSessionNotFound)
	}
	if stored.Status.IsTerminal() {
		return fmt.Errorf("session %s: %w", stored.ID, core.ErrTerminalSession)
	}
	s.applyLocked(step)
	return nil
}

// applyLocked commits a step; the caller holds the write lock. All lists are
// append-only: nothing is ever rewritten in place.
func (s *MemoryStore) applyLocked(step core.StepResult) {
	id := step.Session.ID
	s.sessions[id] = step.Session.Clone()
	if step.Decision != nil {
		s.decisions[id] = append(s.decisions[id], *step.Decision)
	}
	s.contributions[id] = append(s.contributions[id], step.Contributions...)
	s.clarifications[id] = append(s.clarifications[id], step.Clarifications...)
	s.subProblems[id] = append(s.subProblems[id], step.SubProblems...)
	for _, r := range step.Results {
		s.results[id] = append(s.results[id], *r.Clone())
	}
	s.costs[id] = append(s.costs[id], step.CostRecords...)
	s.events[id] = append(s.events[id], step.Events...)
}

// GetSession implements core.SessionStore returning a clone.
func (s *MemoryStore) GetSession(_ context.Context, id string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, core.ErrSessionNotFound)
	}
	return sess.Clone(), nil
}

// ListContributions implements core.SessionStore.
func (s *MemoryStore) ListContributions(_ context.Context, sessionID string) ([]core.Contribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySlice(s.contributions[sessionID]), nil
}

// ListDecisions implements core.SessionStore.
func (s *MemoryStore) ListDecisions(_ context.Context, sessionID string) ([]core.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySlice(s.decisions[sessionID]), nil
}

// ListClarifications implements core.SessionStore.
func (s *MemoryStore) ListClarifications(_ context.Context, sessionID string) ([]core.Clarification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySlice(s.clarifications[sessionID]), nil
}

// AnswerClarification implements core.SessionStore. Answer submission is the
// only in-place mutation the store performs; it is idempotent for repeated
// identical answers.
func (s *MemoryStore) AnswerClarification(_ context.Context, sessionID, clarificationID, answer string) (core.Clarification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.clarifications[sessionID]
	for i := range list {
		if list[i].ID != clarificationID {
			continue
		}
		if !list[i].IsAnswered() {
			now := time.Now().UTC()
			list[i].Answer = answer
			list[i].AnsweredAt = &now
		}
		return list[i], nil
	}
	return core.Clarification{}, fmt.Errorf("clarification %s: %w", clarificationID, core.ErrClarificationNotFound)
}

// ListSubProblems implements core.SessionStore.
func (s *MemoryStore) ListSubProblems(_ context.Context, sessionID string) ([]core.SubProblem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySlice(s.subProblems[sessionID]), nil
}

// ListResults implements core.SessionStore.
func (s *MemoryStore) ListResults(_ context.Context, sessionID string) ([]core.SubProblemResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.SubProblemResult, 0, len(s.results[sessionID]))
	for _, r := range s.results[sessionID] {
		out = append(out, *r.Clone())
	}
	return out, nil
}

// ListEvents implements core.SessionStore returning events with Seq > afterSeq.
func (s *MemoryStore) ListEvents(_ context.Context, sessionID string, afterSeq uint64) ([]core.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Event
	for _, ev := range s.events[sessionID] {
		if ev.Seq > afterSeq {
			out = append(out, ev)
		}
	}
	return out, nil
}

// SessionCostReport implements core.SessionStore.
func (s *MemoryStore) SessionCostReport(_ context.Context, sessionID string) (*core.CostReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report := core.NewCostReport()
	for _, rec := range s.costs[sessionID] {
		report.Fold(rec)
	}
	return report, nil
}

// GlobalCostReport implements core.SessionStore.
func (s *MemoryStore) GlobalCostReport(_ context.Context) (*core.CostReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report := core.NewCostReport()
	for _, recs := range s.costs {
		for _, rec := range recs {
			report.Fold(rec)
		}
	}
	return report, nil
}

// Purge implements core.SessionStore cascade-deleting the session and every
// record it owns.
func (s *MemoryStore) Purge(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return fmt.Errorf("session %s: %w", sessionID, core.ErrSessionNotFound)
	}
	delete(s.sessions, sessionID)
	delete(s.contributions, sessionID)
	delete(s.decisions, sessionID)
	delete(s.clarifications, sessionID)
	delete(s.subProblems, sessionID)
	delete(s.results, sessionID)
	delete(s.costs, sessionID)
	delete(s.events, sessionID)
	return nil
}

func copySlice[T any](in []T) []T {
	out := make([]T, len(in))
	copy(out, in)
	return out
}
