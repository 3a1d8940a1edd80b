// Package boardroom provides a high-level façade over the deliberation engine
// (sessions, persona panel, research cache, cost ledger & logging) enabling
// rapid construction of multi-expert deliberation systems. Most applications
// interact with this package by:
//  1. Creating a Boardroom via New() (optionally overriding default in-memory services)
//  2. Starting a deliberation (Start) for a problem statement
//  3. Driving it step by step (Advance) or to completion (Run), answering
//     clarifications as they surface
//
// The façade delegates orchestration to orchestrator.Orchestrator while
// keeping setup and usage ergonomics concise. All defaults are safe for local
// development and testing; production deployments typically supply a SQLite
// store, a vector-backed research cache and a structured logger.
package boardroom

import (
	"context"
	"fmt"

	"github.com/hupe1980/boardroom/core"
	"github.com/hupe1980/boardroom/embedding"
	"github.com/hupe1980/boardroom/logging"
	"github.com/hupe1980/boardroom/model"
	"github.com/hupe1980/boardroom/orchestrator"
	"github.com/hupe1980/boardroom/persona"
	"github.com/hupe1980/boardroom/research"
	"github.com/hupe1980/boardroom/store"
)

// Version is the current release of the boardroom module.
const Version = "0.1.0"

// Options configures the Boardroom instance.
type Options struct {
	// Store persists sessions and everything they own. Defaults to the
	// in-memory store.
	Store core.SessionStore
	// Registry supplies the expert panel. Defaults to persona.DefaultPanel.
	Registry core.PersonaRegistry
	// Economy is the cheaper model used for structured operations
	// (decomposition, summaries). Nil routes everything to the primary model.
	Economy model.Model
	// Embedder produces query embeddings for the research cache. Nil disables
	// semantic cache lookups; research always goes external.
	Embedder embedding.Engine
	// Cache is the semantic research cache. Nil disables caching.
	Cache *research.Cache
	// Searcher answers external research queries. Nil falls back to the
	// primary model's parametric knowledge.
	Searcher research.Searcher
	// Sink receives ordered engine events. Defaults to discarding them.
	Sink core.EventSink
	// Logger receives engine diagnostics. Defaults to silence.
	Logger logging.Logger
	// Orchestrator tunables; zero values use the engine defaults.
	MaxRounds      int
	MaxSubProblems int
	FailureBound   int
}

// Boardroom is the top-level entry point bundling the orchestrator with its
// collaborators behind a small API surface.
type Boardroom struct {
	orch     *orchestrator.Orchestrator
	registry core.PersonaRegistry
	store    core.SessionStore
	cache    *research.Cache
}

// New creates a Boardroom driven by the given primary model. Service defaults
// are in-memory and mock-friendly; override them via option functions.
func New(primary model.Model, optFns ...func(o *Options)) (*Boardroom, error) {
	if primary == nil {
		return nil, fmt.Errorf("boardroom requires a primary model")
	}
	opts := Options{
		Logger: logging.NoOpLogger{},
		Sink:   core.NoOpSink{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Store == nil {
		opts.Store = store.NewMemoryStore()
	}
	if opts.Registry == nil {
		opts.Registry = persona.DefaultRegistry()
	}

	router := model.NewRouter(primary, opts.Economy)
	orch := orchestrator.New(opts.Store, opts.Registry, router, func(o *orchestrator.Options) {
		o.Embedder = opts.Embedder
		o.Cache = opts.Cache
		o.Searcher = opts.Searcher
		o.Sink = opts.Sink
		o.Logger = opts.Logger
		if opts.MaxRounds > 0 {
			o.DefaultMaxRounds = opts.MaxRounds
		}
		if opts.MaxSubProblems > 0 {
			o.MaxSubProblems = opts.MaxSubProblems
		}
		if opts.FailureBound > 0 {
			o.FailureBound = opts.FailureBound
		}
	})

	return &Boardroom{
		orch:     orch,
		registry: opts.Registry,
		store:    opts.Store,
		cache:    opts.Cache,
	}, nil
}

// Start creates a new deliberation session for the problem statement.
// background is optional free-form context; maxRounds <= 0 uses the default.
func (b *Boardroom) Start(ctx context.Context, owner, problem, background string, maxRounds int) (*core.Session, error) {
	return b.orch.Start(ctx, owner, problem, background, maxRounds)
}

// Advance performs one orchestration step and returns the resulting state.
func (b *Boardroom) Advance(ctx context.Context, sessionID string) (*core.State, error) {
	return b.orch.Advance(ctx, sessionID)
}

// Run drives the session until it reaches a terminal status or stops
// advancing (blocking clarification, repeated no-op). It returns the final
// observed state; callers inspect BlockedReason when the session is still
// active.
func (b *Boardroom) Run(ctx context.Context, sessionID string) (*core.State, error) {
	var lastSeq uint64
	for {
		state, err := b.orch.Advance(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if state.Session.Status.IsTerminal() {
			return state, nil
		}
		if state.Session.EventSeq == lastSeq {
			// no progress; blocked on input or concurrent stepping
			return state, nil
		}
		lastSeq = state.Session.EventSeq
		if err := ctx.Err(); err != nil {
			return state, err
		}
	}
}

// Replan starts a fresh deliberation of a finished session's problem,
// linking the new session to its predecessor.
func (b *Boardroom) Replan(ctx context.Context, sessionID string) (*core.Session, error) {
	return b.orch.Replan(ctx, sessionID)
}

// Answer submits a human answer to an outstanding clarification.
func (b *Boardroom) Answer(ctx context.Context, sessionID, clarificationID, answer string) (*core.State, error) {
	return b.orch.SubmitClarificationAnswer(ctx, sessionID, clarificationID, answer)
}

// Kill terminates a running session irreversibly.
func (b *Boardroom) Kill(ctx context.Context, sessionID, actor, reason string) (*core.State, error) {
	return b.orch.Kill(ctx, sessionID, actor, reason)
}

// Delete soft-deletes a session, preserving its records for audit.
func (b *Boardroom) Delete(ctx context.Context, sessionID string) error {
	return b.orch.Delete(ctx, sessionID)
}

// State returns the current read view of a session.
func (b *Boardroom) State(ctx context.Context, sessionID string) (*core.State, error) {
	return b.orch.GetState(ctx, sessionID)
}

// CostReport returns the aggregated cost ledger for one session.
func (b *Boardroom) CostReport(ctx context.Context, sessionID string) (*core.CostReport, error) {
	return b.orch.SessionCostReport(ctx, sessionID)
}

// GlobalCostReport returns the aggregated cost ledger across all sessions.
func (b *Boardroom) GlobalCostReport(ctx context.Context) (*core.CostReport, error) {
	return b.orch.GlobalCostReport(ctx)
}

// Panel returns the expert panel in registry order.
func (b *Boardroom) Panel() []core.Persona {
	return b.registry.List()
}

// TuneCache computes a threshold recommendation from the cache's lookup log.
// It returns an error when no cache is configured. Recommendations are never
// self-applied; use research.Cache.SetThreshold to adopt one.
func (b *Boardroom) TuneCache(ctx context.Context) (*research.Recommendation, error) {
	if b.cache == nil {
		return nil, fmt.Errorf("no research cache configured")
	}
	return research.NewTuner(b.cache).Recommend(ctx)
}
