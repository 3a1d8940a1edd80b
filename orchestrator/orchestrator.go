// Package orchestrator drives deliberation sessions through their state
// machine: decomposition, persona contribution rounds, research, synthesis,
// meta-synthesis. The engine is cooperative; each Advance call performs at
// most one orchestration step and returns, so it can be driven from a request
// handler or an external scheduler.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/boardroom/core"
	"github.com/hupe1980/boardroom/embedding"
	"github.com/hupe1980/boardroom/executor"
	"github.com/hupe1980/boardroom/facilitator"
	"github.com/hupe1980/boardroom/internal/util"
	"github.com/hupe1980/boardroom/logging"
	"github.com/hupe1980/boardroom/model"
	"github.com/hupe1980/boardroom/research"
)

// Options configures an Orchestrator.
type Options struct {
	// DefaultMaxRounds is used when Start is called with maxRounds <= 0.
	DefaultMaxRounds int
	// MaxSubProblems bounds decomposition fan-out.
	MaxSubProblems int
	// FailureBound is the number of failed contributions after which the
	// session transitions to failed.
	FailureBound int
	// HistoryLimit caps how many prior contributions are folded into a
	// persona prompt.
	HistoryLimit int
	// FreshnessDays is the default freshness window for cache entries
	// created from external research.
	FreshnessDays int

	Embedder embedding.Engine
	Cache    *research.Cache
	Searcher research.Searcher
	Sink     core.EventSink
	Logger   logging.Logger
	Now      func() time.Time

	// Facilitator and Executor override the defaults built from the
	// registry and router; mainly useful for tests.
	Facilitator *facilitator.Facilitator
	Executor    *executor.Executor
}

// Orchestrator is the engine root coordinating store, facilitator, executor,
// research cache and event emission.
//
// Contract:
//   - Advance on a terminal session is a no-op returning current state
//   - two concurrent Advance calls on one session execute at most one step;
//     the loser returns the current state unchanged
//   - every state transition emits an event with a per-session monotone
//     sequence number
//   - Kill always succeeds on non-terminal sessions and is never rolled back
type Orchestrator struct {
	store    core.SessionStore
	registry core.PersonaRegistry
	router   *model.Router
	fac      *facilitator.Facilitator
	exec     *executor.Executor
	probe    *cacheProbe
	opts     Options

	locks sync.Map // session id -> *sync.Mutex
}

// New wires an Orchestrator from its collaborators.
func New(store core.SessionStore, registry core.PersonaRegistry, router *model.Router, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		DefaultMaxRounds: 5,
		MaxSubProblems:   4,
		FailureBound:     3,
		HistoryLimit:     12,
		FreshnessDays:    30,
		Sink:             core.NoOpSink{},
		Logger:           logging.NoOpLogger{},
		Now:              time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	o := &Orchestrator{
		store:    store,
		registry: registry,
		router:   router,
		opts:     opts,
	}
	o.probe = newCacheProbe(opts.Cache, opts.Embedder, opts.Logger)

	o.fac = opts.Facilitator
	if o.fac == nil {
		o.fac = facilitator.New(registry, func(fo *facilitator.Options) {
			fo.Probe = o.probe
			fo.Logger = opts.Logger
		})
	}
	o.exec = opts.Executor
	if o.exec == nil {
		o.exec = executor.New(router, func(eo *executor.Options) {
			eo.Embedder = opts.Embedder
			eo.Logger = opts.Logger
		})
	}
	return o
}

// Start creates a new active session in the decomposition phase. background
// is optional free-form context supplied by the caller.
func (o *Orchestrator) Start(ctx context.Context, owner, problem, background string, maxRounds int) (*core.Session, error) {
	if problem == "" {
		return nil, fmt.Errorf("start requires a problem statement")
	}
	if maxRounds <= 0 {
		maxRounds = o.opts.DefaultMaxRounds
	}
	sess := core.NewSession(util.NewID(), owner, problem, background, maxRounds)
	step := core.StepResult{
		Session: sess,
		Events:  []core.Event{core.NewEvent(sess, core.EventSessionStarted, problem)},
	}
	if err := o.store.Create(ctx, step); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	o.emit(step.Events)
	o.opts.Logger.Info("session started", "session_id", sess.ID, "max_rounds", maxRounds)
	return sess.Clone(), nil
}

// Replan starts a fresh deliberation of a finished session's problem. The new
// session records its lineage via ReplanOf; the source session is untouched.
func (o *Orchestrator) Replan(ctx context.Context, sessionID string) (*core.Session, error) {
	src, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess := core.NewSession(util.NewID(), src.Owner, src.Problem, src.Context, src.MaxRounds)
	sess.ReplanOf = src.ID
	step := core.StepResult{
		Session: sess,
		Events:  []core.Event{core.NewEvent(sess, core.EventSessionStarted, src.Problem)},
	}
	if err := o.store.Create(ctx, step); err != nil {
		return nil, fmt.Errorf("create replan session: %w", err)
	}
	o.emit(step.Events)
	o.opts.Logger.Info("session replanned", "session_id", sess.ID, "replan_of", src.ID)
	return sess.Clone(), nil
}

// Advance performs one orchestration step. It never errors on terminal or
// locked sessions; it reports the current state instead.
func (o *Orchestrator) Advance(ctx context.Context, sessionID string) (*core.State, error) {
	mu := o.lockFor(sessionID)
	if !mu.TryLock() {
		// another advance holds the step; observe, don't block
		return o.GetState(ctx, sessionID)
	}
	defer mu.Unlock()

	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.IsTerminal() {
		return o.GetState(ctx, sessionID)
	}

	clarifications, err := o.store.ListClarifications(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, c := range clarifications {
		if c.Blocks() {
			return o.GetState(ctx, sessionID)
		}
	}

	if sess.Phase == core.PhaseDecomposition {
		if err := o.stepDecompose(ctx, sess); err != nil {
			return nil, err
		}
		return o.GetState(ctx, sessionID)
	}

	snap, err := o.snapshot(ctx, sess, clarifications)
	if err != nil {
		return nil, err
	}
	dec, err := o.fac.Decide(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("facilitator decision: %w", err)
	}
	if err := dec.Validate(); err != nil {
		return nil, err
	}
	if dl, ok := o.opts.Logger.(logging.DecisionLogger); ok {
		dl.LogDecision(string(dec.Kind), sess.RoundNumber, dec.Reasoning)
	} else {
		o.opts.Logger.Info("facilitator decision", "session_id", sessionID, "kind", dec.Kind, "reasoning", dec.Reasoning)
	}

	if err := o.executeDecision(ctx, sess, snap, dec); err != nil {
		return nil, err
	}
	return o.GetState(ctx, sessionID)
}

// SubmitClarificationAnswer records a human answer. Answering is idempotent;
// the first answer wins and subsequent submissions are no-ops.
func (o *Orchestrator) SubmitClarificationAnswer(ctx context.Context, sessionID, clarificationID, answer string) (*core.State, error) {
	mu := o.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	clar, err := o.store.AnswerClarification(ctx, sessionID, clarificationID, answer)
	if err != nil {
		return nil, err
	}

	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Status.IsTerminal() {
		step := core.StepResult{
			Session: sess,
			Events:  []core.Event{core.NewEvent(sess, core.EventClarificationAnswered, clar.Question)},
		}
		if err := o.store.AppendStep(ctx, step); err != nil {
			return nil, err
		}
		o.emit(step.Events)
	}
	return o.GetState(ctx, sessionID)
}

// Kill terminates a session. It blocks until any in-flight step commits,
// then wins: the killed status is terminal and irreversible. Killing an
// already terminal session is a no-op.
func (o *Orchestrator) Kill(ctx context.Context, sessionID, actor, reason string) (*core.State, error) {
	mu := o.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.IsTerminal() {
		return o.GetState(ctx, sessionID)
	}

	sess.Kill = &core.KillInfo{Actor: actor, Reason: reason, Time: o.opts.Now().UTC()}
	if err := sess.TransitionTo(core.StatusKilled); err != nil {
		return nil, err
	}
	step := core.StepResult{
		Session: sess,
		Events:  []core.Event{core.NewEvent(sess, core.EventSessionKilled, fmt.Sprintf("killed by %s: %s", actor, reason))},
	}
	if err := o.store.AppendStep(ctx, step); err != nil {
		return nil, err
	}
	o.emit(step.Events)
	o.opts.Logger.Info("session killed", "session_id", sessionID, "actor", actor, "reason", reason)
	return o.GetState(ctx, sessionID)
}

// Delete soft-deletes a session: the status becomes deleted (terminal) but
// all records are preserved for audit. Use Purge to remove data.
func (o *Orchestrator) Delete(ctx context.Context, sessionID string) error {
	mu := o.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := sess.TransitionTo(core.StatusDeleted); err != nil {
		return err
	}
	return o.store.AppendStep(ctx, core.StepResult{Session: sess})
}

// Purge cascade-deletes a session and everything it owns.
func (o *Orchestrator) Purge(ctx context.Context, sessionID string) error {
	return o.store.Purge(ctx, sessionID)
}

// GetState assembles the read view for a session.
func (o *Orchestrator) GetState(ctx context.Context, sessionID string) (*core.State, error) {
	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	clarifications, err := o.store.ListClarifications(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	results, err := o.store.ListResults(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	decisions, err := o.store.ListDecisions(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	state := &core.State{Session: sess, Results: results}
	for _, c := range clarifications {
		if !c.IsAnswered() {
			state.Outstanding = append(state.Outstanding, c)
		}
	}
	if len(decisions) > 0 {
		last := decisions[len(decisions)-1]
		state.LastDecision = &last
	}
	state.BlockedReason = o.blockedReason(ctx, sess, state.Outstanding)
	return state, nil
}

// SessionCostReport returns the aggregated cost ledger for one session.
func (o *Orchestrator) SessionCostReport(ctx context.Context, sessionID string) (*core.CostReport, error) {
	return o.store.SessionCostReport(ctx, sessionID)
}

// GlobalCostReport returns the aggregated cost ledger across all sessions.
func (o *Orchestrator) GlobalCostReport(ctx context.Context) (*core.CostReport, error) {
	return o.store.GlobalCostReport(ctx)
}

// blockedReason reports the most specific cause of a non-advancing session.
func (o *Orchestrator) blockedReason(ctx context.Context, sess *core.Session, outstanding []core.Clarification) string {
	switch sess.Status {
	case core.StatusKilled:
		if sess.Kill != nil {
			return fmt.Sprintf("killed by %s: %s", sess.Kill.Actor, sess.Kill.Reason)
		}
		return "killed"
	case core.StatusFailed:
		return sess.FailureReason
	}
	for _, c := range outstanding {
		if c.Blocks() {
			return fmt.Sprintf("awaiting answer to CRITICAL clarification %s: %s", c.ID, c.Question)
		}
	}
	if sess.Status == core.StatusActive {
		contributions, err := o.store.ListContributions(ctx, sess.ID)
		if err == nil && len(contributions) > 0 {
			if last := contributions[len(contributions)-1]; last.Failed {
				return last.Error
			}
		}
	}
	return ""
}

// snapshot builds the facilitator's decision input from the store.
func (o *Orchestrator) snapshot(ctx context.Context, sess *core.Session, clarifications []core.Clarification) (facilitator.Snapshot, error) {
	subProblems, err := o.store.ListSubProblems(ctx, sess.ID)
	if err != nil {
		return facilitator.Snapshot{}, err
	}
	results, err := o.store.ListResults(ctx, sess.ID)
	if err != nil {
		return facilitator.Snapshot{}, err
	}
	contributions, err := o.store.ListContributions(ctx, sess.ID)
	if err != nil {
		return facilitator.Snapshot{}, err
	}
	return facilitator.Snapshot{
		Session:         sess,
		SubProblems:     subProblems,
		Results:         results,
		Contributions:   contributions,
		Clarifications:  clarifications,
		PendingResearch: sess.PendingResearch,
	}, nil
}

func (o *Orchestrator) lockFor(sessionID string) *sync.Mutex {
	mu, _ := o.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (o *Orchestrator) emit(events []core.Event) {
	for _, ev := range events {
		o.opts.Sink.Emit(ev)
	}
}
