// Package facilitator implements the deterministic decision policy that picks
// the next orchestration action for a deliberation session. The policy is a
// pure function over a state snapshot plus one optional cache probe, so its
// choices are reproducible and fully explained by the snapshot it saw.
package facilitator

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/boardroom/core"
	"github.com/hupe1980/boardroom/internal/util"
	"github.com/hupe1980/boardroom/logging"
)

// CacheProbe checks whether a research query can be satisfied from the
// semantic cache. Implementations embed the query and consult the cache; any
// probe error must be reported as a miss so deliberation degrades to an
// external lookup instead of aborting.
type CacheProbe interface {
	Probe(ctx context.Context, query string) (hit bool, entryID string, similarity float64)
}

// CacheProbeFunc adapts a function to the CacheProbe interface.
type CacheProbeFunc func(ctx context.Context, query string) (bool, string, float64)

// Probe implements CacheProbe.
func (f CacheProbeFunc) Probe(ctx context.Context, query string) (bool, string, float64) {
	return f(ctx, query)
}

// Snapshot is everything the facilitator consults for one decision. The
// orchestrator assembles it from the store; the facilitator never reads
// storage itself.
type Snapshot struct {
	Session *core.Session
	// SubProblems is the full decomposition, Results the syntheses produced
	// so far. The current sub-problem is the first one without a result.
	SubProblems []core.SubProblem
	Results     []core.SubProblemResult
	// Contributions for the whole session; the facilitator filters by
	// sub-problem itself.
	Contributions  []core.Contribution
	Clarifications []core.Clarification
	// PendingResearch is a research query raised by a persona in the
	// previous step and not yet resolved. Empty when none is outstanding.
	PendingResearch string
}

// CurrentSubProblem returns the first sub-problem without a synthesis result,
// or false when every sub-problem is done.
func (s Snapshot) CurrentSubProblem() (core.SubProblem, bool) {
	done := make(map[int]bool, len(s.Results))
	for _, r := range s.Results {
		done[r.Index] = true
	}
	for _, sp := range s.SubProblems {
		if !done[sp.Index] {
			return sp, true
		}
	}
	return core.SubProblem{}, false
}

// Options configures a Facilitator.
type Options struct {
	// MaxSpeakers caps how many personas one speak decision may direct.
	// Zero means no cap: every persona tied at the minimum contribution
	// count speaks concurrently.
	MaxSpeakers int
	// Probe resolves research queries against the semantic cache. Nil
	// disables substitution; every research need goes external.
	Probe  CacheProbe
	Logger logging.Logger
}

// Facilitator is the rule-based decision policy.
//
// Contract:
//   - every returned decision carries non-empty Reasoning
//   - given the same snapshot and probe outcome, Decide returns the same
//     decision kind and speaker set
//   - speaker selection is round-robin fair: a persona is never directed to
//     speak twice within a sub-problem before every other persona has spoken
//     once, given equal starting counts
type Facilitator struct {
	registry core.PersonaRegistry
	opts     Options
}

// New creates a facilitator over the given persona registry.
func New(registry core.PersonaRegistry, optFns ...func(o *Options)) *Facilitator {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Facilitator{registry: registry, opts: opts}
}

// Decide returns the next action for the session described by the snapshot.
// The precedence order is fixed: blocking clarifications, outstanding
// research, finished decompositions, exhausted budgets, then speakers.
func (f *Facilitator) Decide(ctx context.Context, snap Snapshot) (*core.Decision, error) {
	sess := snap.Session
	if sess == nil {
		return nil, fmt.Errorf("facilitator: snapshot has no session")
	}

	for _, c := range snap.Clarifications {
		if c.Blocks() {
			return f.decision(sess, core.DecisionClarify, 0, nil, "",
				fmt.Sprintf("critical clarification %s from %s is unanswered; deliberation pauses until a human responds", c.ID, c.PersonaCode)), nil
		}
	}

	current, remaining := snap.CurrentSubProblem()

	if snap.PendingResearch != "" {
		return f.decideResearch(ctx, sess, current.Index, snap.PendingResearch), nil
	}

	if !remaining {
		if len(snap.SubProblems) > 1 && sess.Recommendation == "" {
			return f.decision(sess, core.DecisionMetaSynthesize, 0, nil, "",
				fmt.Sprintf("all %d sub-problems are synthesized; combining them into the final recommendation", len(snap.SubProblems))), nil
		}
		return f.decision(sess, core.DecisionStop, 0, nil, "",
			"deliberation is complete; the final recommendation is ready"), nil
	}

	cycles := f.completedCycles(snap.Contributions, current.Index)
	if cycles >= f.roundShare(sess, len(snap.SubProblems)) || sess.RoundNumber >= sess.MaxRounds {
		return f.decision(sess, core.DecisionSynthesize, current.Index, nil, "",
			fmt.Sprintf("sub-problem %d used its round budget (%d completed cycles, round %d/%d); synthesizing its contributions", current.Index, cycles, sess.RoundNumber, sess.MaxRounds)), nil
	}

	speakers := f.pickSpeakers(snap.Contributions, current.Index)
	if len(speakers) == 0 {
		return nil, fmt.Errorf("facilitator: no eligible personas in registry")
	}
	return f.decision(sess, core.DecisionSpeak, current.Index, speakers, "",
		fmt.Sprintf("personas %v have the fewest contributions on sub-problem %d and speak next", speakers, current.Index)), nil
}

// decideResearch substitutes a cache consumption for an external lookup when
// the probe reports a hit. Probe failures count as misses.
func (f *Facilitator) decideResearch(ctx context.Context, sess *core.Session, subProblem int, query string) *core.Decision {
	if f.opts.Probe != nil {
		if hit, entryID, similarity := f.opts.Probe.Probe(ctx, query); hit {
			if f.opts.Logger != nil {
				f.opts.Logger.Debug("research satisfied from cache", "entry_id", entryID, "similarity", similarity)
			}
			return f.decision(sess, core.DecisionConsumeCache, subProblem, nil, query,
				fmt.Sprintf("cached research entry %s matches the query at similarity %.2f; consuming it instead of searching externally", entryID, similarity))
		}
	}
	return f.decision(sess, core.DecisionResearch, subProblem, nil, query,
		"no sufficiently similar fresh cache entry exists; querying the external search provider")
}

// roundShare is each sub-problem's slice of the shared session round budget,
// never less than one full cycle.
func (f *Facilitator) roundShare(sess *core.Session, subProblems int) int {
	if subProblems <= 1 {
		return sess.MaxRounds
	}
	share := sess.MaxRounds / subProblems
	if share < 1 {
		share = 1
	}
	return share
}

// completedCycles counts full contribution cycles on one sub-problem: the
// minimum successful contribution count across all panel personas.
func (f *Facilitator) completedCycles(contributions []core.Contribution, subProblem int) int {
	counts := f.contributionCounts(contributions, subProblem)
	min := -1
	for _, p := range f.registry.List() {
		if c := counts[p.Code]; min < 0 || c < min {
			min = c
		}
	}
	if min < 0 {
		return 0
	}
	return min
}

// pickSpeakers selects the personas with the fewest contributions on the
// current sub-problem, breaking ties by registry order. MaxSpeakers caps the
// selection; zero selects the whole tied group.
func (f *Facilitator) pickSpeakers(contributions []core.Contribution, subProblem int) []string {
	counts := f.contributionCounts(contributions, subProblem)
	panel := f.registry.List()

	min := -1
	for _, p := range panel {
		if c := counts[p.Code]; min < 0 || c < min {
			min = c
		}
	}

	var speakers []string
	for _, p := range panel {
		if counts[p.Code] != min {
			continue
		}
		speakers = append(speakers, p.Code)
		if f.opts.MaxSpeakers > 0 && len(speakers) >= f.opts.MaxSpeakers {
			break
		}
	}
	return speakers
}

// contributionCounts tallies successful contributions per persona on one
// sub-problem. Failed contributions do not count toward fairness: a persona
// whose provider call failed is still owed its turn.
func (f *Facilitator) contributionCounts(contributions []core.Contribution, subProblem int) map[string]int {
	counts := make(map[string]int)
	for _, c := range contributions {
		if c.SubProblem != subProblem || c.Failed || c.Phase != core.PhaseContribution {
			continue
		}
		counts[c.PersonaCode]++
	}
	return counts
}

func (f *Facilitator) decision(sess *core.Session, kind core.DecisionKind, subProblem int, speakers []string, query, reasoning string) *core.Decision {
	return &core.Decision{
		ID:         util.NewID(),
		SessionID:  sess.ID,
		Round:      sess.RoundNumber,
		SubProblem: subProblem,
		Kind:       kind,
		Speakers:   speakers,
		Query:      query,
		Reasoning:  reasoning,
		Created:    time.Now().UTC(),
	}
}
