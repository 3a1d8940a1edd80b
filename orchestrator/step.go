package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/boardroom/core"
	"github.com/hupe1980/boardroom/executor"
	"github.com/hupe1980/boardroom/facilitator"
	"github.com/hupe1980/boardroom/internal/util"
	"github.com/hupe1980/boardroom/model"
	"github.com/hupe1980/boardroom/research"
)

const decompositionPrompt = `Split the following problem into at most %d independent sub-problems
that can be deliberated separately. Respond with a JSON array of strings, one
concise goal per sub-problem. If the problem does not decompose, respond with
a single-element array containing the problem itself.

Problem: %s
%s`

// stepDecompose runs the decomposition phase: one model call producing the
// sub-problem list, with a single-sub-problem fallback when the provider
// fails or returns unparseable output.
func (o *Orchestrator) stepDecompose(ctx context.Context, sess *core.Session) error {
	m := o.router.Pick(model.OpDecomposition)
	info := m.Info()

	extra := ""
	if sess.Context != "" {
		extra = "Background: " + sess.Context
	}
	start := o.opts.Now()
	resp, err := m.Generate(ctx, model.Request{
		Messages: []model.Message{{Role: "user", Text: fmt.Sprintf(decompositionPrompt, o.opts.MaxSubProblems, sess.Problem, extra)}},
	})
	latency := o.opts.Now().Sub(start)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	step := core.StepResult{Session: sess}
	now := o.opts.Now().UTC()

	goals := []string{sess.Problem}
	record := core.CostRecord{
		ID:        util.NewID(),
		SessionID: sess.ID,
		Provider:  info.Provider,
		Model:     info.Name,
		Operation: string(model.OpDecomposition),
		Phase:     core.PhaseDecomposition,
		Latency:   latency,
		Created:   now,
	}
	if err != nil {
		// degrade to a single sub-problem rather than stalling the session
		o.opts.Logger.Warn("decomposition call failed, using single sub-problem", "error", err)
		record.Status = "error"
		record.Error = err.Error()
	} else {
		record.Status = "ok"
		record.Cost = model.Cost(info, resp.Usage)
		record.Tokens = core.TokenBreakdown{
			Input:         resp.Usage.InputTokens,
			Output:        resp.Usage.OutputTokens,
			CacheCreation: resp.Usage.CacheCreationTokens,
			CacheRead:     resp.Usage.CacheReadTokens,
		}
		if avoided := o.router.Avoided(model.OpDecomposition, resp.Usage); avoided > 0 {
			record.CostAvoided = avoided
			record.Optimization = "economy_routing"
		}
		sess.AddUsage(record.Cost, resp.Usage.Total())
		if parsed := parseGoals(resp.Text, o.opts.MaxSubProblems); len(parsed) > 0 {
			goals = parsed
		}
	}
	step.CostRecords = append(step.CostRecords, record)

	for i, goal := range goals {
		step.SubProblems = append(step.SubProblems, core.SubProblem{Index: i, Goal: goal})
	}

	sess.Phase = core.PhaseContribution
	sess.Updated = now
	step.Events = append(step.Events,
		core.NewEvent(sess, core.EventPhaseChanged, fmt.Sprintf("decomposed into %d sub-problems", len(goals))))

	if err := o.store.AppendStep(ctx, step); err != nil {
		return err
	}
	o.emit(step.Events)
	return nil
}

// parseGoals extracts a JSON string array from a completion, tolerating
// surrounding prose. Returns nil when nothing parseable is found.
func parseGoals(text string, max int) []string {
	open := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if open < 0 || end <= open {
		return nil
	}
	var goals []string
	if err := json.Unmarshal([]byte(text[open:end+1]), &goals); err != nil {
		return nil
	}
	var out []string
	for _, g := range goals {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
		if len(out) == max {
			break
		}
	}
	return out
}

// executeDecision dispatches one facilitator decision.
func (o *Orchestrator) executeDecision(ctx context.Context, sess *core.Session, snap facilitator.Snapshot, dec *core.Decision) error {
	switch dec.Kind {
	case core.DecisionSpeak:
		return o.executeSpeak(ctx, sess, snap, dec)
	case core.DecisionResearch:
		return o.executeResearch(ctx, sess, dec)
	case core.DecisionConsumeCache:
		return o.executeConsumeCache(ctx, sess, dec)
	case core.DecisionSynthesize:
		return o.executeSynthesize(ctx, sess, snap, dec)
	case core.DecisionMetaSynthesize:
		return o.executeMetaSynthesize(ctx, sess, snap, dec)
	case core.DecisionStop:
		return o.executeStop(ctx, sess, snap, dec)
	case core.DecisionClarify:
		// blocked; nothing to execute, the state view reports the cause
		return nil
	default:
		return fmt.Errorf("unknown decision kind %q", dec.Kind)
	}
}

// executeSpeak dispatches the directed personas concurrently and commits
// their outcomes in decision order.
func (o *Orchestrator) executeSpeak(ctx context.Context, sess *core.Session, snap facilitator.Snapshot, dec *core.Decision) error {
	current, _ := snap.CurrentSubProblem()

	var history []core.Contribution
	for _, c := range snap.Contributions {
		if c.SubProblem == current.Index && !c.Failed {
			history = append(history, c)
		}
	}
	if len(history) > o.opts.HistoryLimit {
		history = history[len(history)-o.opts.HistoryLimit:]
	}

	invs := make([]executor.Invocation, 0, len(dec.Speakers))
	for _, code := range dec.Speakers {
		p, err := o.registry.Get(code)
		if err != nil {
			return err
		}
		invs = append(invs, executor.Invocation{
			Session:        sess,
			Persona:        p,
			SubProblem:     current,
			Phase:          core.PhaseContribution,
			Operation:      model.OpContribution,
			Clarifications: snap.Clarifications,
			History:        history,
		})
	}

	outcomes, err := o.exec.Dispatch(ctx, invs)
	if err != nil {
		return err
	}

	cyclesBefore := minPanelCount(o.registry, snap.Contributions, current.Index)

	step := core.StepResult{Session: sess, Decision: dec}
	all := snap.Contributions
	for _, out := range outcomes {
		step.Contributions = append(step.Contributions, out.Contribution)
		step.CostRecords = append(step.CostRecords, out.CostRecord)
		all = append(all, out.Contribution)
		sess.AddUsage(out.CostRecord.Cost, out.CostRecord.Tokens.Total())

		step.Events = append(step.Events,
			core.NewEvent(sess, core.EventContributionAdded, out.Contribution.PersonaCode))
		for _, clar := range out.Clarifications {
			step.Clarifications = append(step.Clarifications, clar)
			step.Events = append(step.Events,
				core.NewEvent(sess, core.EventClarificationRaised, clar.Question))
		}
		if out.ResearchQuery != "" && sess.PendingResearch == "" {
			sess.PendingResearch = out.ResearchQuery
		}
	}

	if sess.PendingResearch != "" && sess.Phase != core.PhaseResearch {
		sess.Phase = core.PhaseResearch
		step.Events = append(step.Events,
			core.NewEvent(sess, core.EventPhaseChanged, "research pending: "+sess.PendingResearch))
	}

	if failed := countFailed(all); failed >= o.opts.FailureBound {
		reason := fmt.Sprintf("%d contributions failed (bound %d); last error: %s",
			failed, o.opts.FailureBound, lastFailureError(all))
		sess.FailureReason = reason
		if err := sess.TransitionTo(core.StatusFailed); err != nil {
			return err
		}
		step.Events = append(step.Events, core.NewEvent(sess, core.EventSessionFailed, reason))
	} else if cyclesAfter := minPanelCount(o.registry, all, current.Index); cyclesAfter > cyclesBefore && sess.RoundNumber < sess.MaxRounds {
		if err := sess.AdvanceRound(); err != nil {
			return err
		}
		step.Events = append(step.Events,
			core.NewEvent(sess, core.EventRoundAdvanced, fmt.Sprintf("round %d complete", sess.RoundNumber)))
	}

	if err := o.store.AppendStep(ctx, step); err != nil {
		return err
	}
	o.emit(step.Events)
	return nil
}

// executeResearch resolves the pending query through the external searcher
// (or the research model when none is configured), seeds the cache and
// records the answer as a research contribution.
func (o *Orchestrator) executeResearch(ctx context.Context, sess *core.Session, dec *core.Decision) error {
	query := dec.Query
	now := o.opts.Now().UTC()
	step := core.StepResult{Session: sess, Decision: dec}

	result, latency, err := o.runSearch(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// keep PendingResearch; the facilitator re-decides next advance
		o.opts.Logger.Error("external research failed", "query", query, "error", err)
		step.Contributions = append(step.Contributions, core.Contribution{
			ID:          util.NewID(),
			SessionID:   sess.ID,
			PersonaCode: "researcher",
			Round:       sess.RoundNumber,
			Phase:       core.PhaseResearch,
			SubProblem:  dec.SubProblem,
			Failed:      true,
			Error:       err.Error(),
			Created:     now,
		})
		step.CostRecords = append(step.CostRecords, core.CostRecord{
			ID:        util.NewID(),
			SessionID: sess.ID,
			Provider:  "websearch",
			Model:     "search",
			Operation: string(model.OpResearch),
			Phase:     core.PhaseResearch,
			Round:     sess.RoundNumber,
			Status:    "error",
			Error:     err.Error(),
			Latency:   latency,
			Created:   now,
		})
		if err := o.store.AppendStep(ctx, step); err != nil {
			return err
		}
		o.emit(step.Events)
		return nil
	}

	contribution := core.Contribution{
		ID:          util.NewID(),
		SessionID:   sess.ID,
		PersonaCode: "researcher",
		Round:       sess.RoundNumber,
		Phase:       core.PhaseResearch,
		SubProblem:  dec.SubProblem,
		Content:     result.Answer,
		Cost:        result.Cost,
		Tokens:      result.Tokens,
		Model:       "search",
		Created:     now,
	}

	// seed the cache so an equivalent future query short-circuits
	if o.opts.Cache != nil && o.opts.Embedder != nil {
		if vec, embErr := o.opts.Embedder.Embed(ctx, query); embErr != nil {
			o.opts.Logger.Warn("embedding research query failed, entry not cached", "error", embErr)
		} else {
			contribution.Embedding = vec
			entry := research.Entry{
				Question:      query,
				Embedding:     vec,
				Answer:        result.Answer,
				Confidence:    result.Confidence,
				Sources:       result.Sources,
				FreshnessDays: o.opts.FreshnessDays,
				ResearchDate:  now,
				Cost:          result.Cost,
				Tokens:        result.Tokens,
			}
			if _, storeErr := o.opts.Cache.Store(ctx, entry); storeErr != nil {
				o.opts.Logger.Warn("caching research entry failed", "error", storeErr)
			}
		}
	}

	step.Contributions = append(step.Contributions, contribution)
	step.CostRecords = append(step.CostRecords, core.CostRecord{
		ID:        util.NewID(),
		SessionID: sess.ID,
		Provider:  "websearch",
		Model:     "search",
		Operation: string(model.OpResearch),
		Phase:     core.PhaseResearch,
		Round:     sess.RoundNumber,
		Tokens:    core.TokenBreakdown{Output: result.Tokens},
		Cost:      result.Cost,
		Status:    "ok",
		Latency:   latency,
		Created:   now,
	})
	sess.AddUsage(result.Cost, result.Tokens)
	sess.PendingResearch = ""
	sess.Phase = core.PhaseContribution
	step.Events = append(step.Events,
		core.NewEvent(sess, core.EventResearchCompleted, query))

	if err := o.store.AppendStep(ctx, step); err != nil {
		return err
	}
	o.emit(step.Events)
	return nil
}

// runSearch invokes the configured searcher, or asks the research model to
// answer from its own knowledge when no searcher is wired.
func (o *Orchestrator) runSearch(ctx context.Context, query string) (*research.SearchResult, time.Duration, error) {
	start := o.opts.Now()
	if o.opts.Searcher != nil {
		result, err := o.opts.Searcher.Search(ctx, query)
		return result, o.opts.Now().Sub(start), err
	}
	m := o.router.Pick(model.OpResearch)
	resp, err := m.Generate(ctx, model.Request{
		Messages: []model.Message{{Role: "user", Text: "Answer the following research question as factually as possible:\n" + query}},
	})
	latency := o.opts.Now().Sub(start)
	if err != nil {
		return nil, latency, err
	}
	return &research.SearchResult{
		Answer:     resp.Text,
		Confidence: research.ConfidenceLow,
		Cost:       model.Cost(m.Info(), resp.Usage),
		Tokens:     resp.Usage.Total(),
	}, latency, nil
}

// executeConsumeCache satisfies the pending research from the cache entry
// the probe matched, bumping its access count exactly once.
func (o *Orchestrator) executeConsumeCache(ctx context.Context, sess *core.Session, dec *core.Decision) error {
	match := o.probe.take(dec.Query)
	if match == nil {
		// probe state lost (e.g. restart between decide and execute)
		if hit, _, _ := o.probe.Probe(ctx, dec.Query); hit {
			match = o.probe.take(dec.Query)
		}
	}
	if match == nil {
		return o.executeResearch(ctx, sess, dec)
	}

	if err := o.opts.Cache.RecordAccess(ctx, match.Entry.ID); err != nil {
		o.opts.Logger.Warn("recording cache access failed", "entry_id", match.Entry.ID, "error", err)
	}

	now := o.opts.Now().UTC()
	step := core.StepResult{Session: sess, Decision: dec}
	step.Contributions = append(step.Contributions, core.Contribution{
		ID:          util.NewID(),
		SessionID:   sess.ID,
		PersonaCode: "researcher",
		Round:       sess.RoundNumber,
		Phase:       core.PhaseResearch,
		SubProblem:  dec.SubProblem,
		Content:     match.Entry.Answer,
		Model:       "research_cache",
		Embedding:   match.Entry.Embedding,
		Created:     now,
	})
	step.CostRecords = append(step.CostRecords, core.CostRecord{
		ID:           util.NewID(),
		SessionID:    sess.ID,
		Provider:     "cache",
		Model:        "research_cache",
		Operation:    string(model.OpResearch),
		Phase:        core.PhaseResearch,
		Round:        sess.RoundNumber,
		CacheHit:     true,
		CostAvoided:  match.Entry.Cost,
		Optimization: "cache_hit",
		Status:       "ok",
		Created:      now,
	})

	sess.PendingResearch = ""
	sess.Phase = core.PhaseContribution
	sess.Updated = now
	step.Events = append(step.Events,
		core.NewEvent(sess, core.EventResearchCompleted,
			fmt.Sprintf("cache hit %s (similarity %.2f)", match.Entry.ID, match.Similarity)))

	if err := o.store.AppendStep(ctx, step); err != nil {
		return err
	}
	o.emit(step.Events)
	return nil
}

// executeSynthesize combines the current sub-problem's contributions into a
// synthesis plus per-expert summaries. For a single-sub-problem session the
// synthesis is promoted directly to the final recommendation.
func (o *Orchestrator) executeSynthesize(ctx context.Context, sess *core.Session, snap facilitator.Snapshot, dec *core.Decision) error {
	current, ok := snap.CurrentSubProblem()
	if !ok {
		return fmt.Errorf("synthesize decision with no open sub-problem")
	}

	var contributions []core.Contribution
	for _, c := range snap.Contributions {
		if c.SubProblem == current.Index && !c.Failed {
			contributions = append(contributions, c)
		}
	}

	sess.Phase = core.PhaseSynthesis
	step := core.StepResult{Session: sess, Decision: dec}
	step.Events = append(step.Events,
		core.NewEvent(sess, core.EventPhaseChanged, fmt.Sprintf("synthesizing sub-problem %d", current.Index)))

	m := o.router.Pick(model.OpSynthesis)
	synthesis, record, err := o.generateWithRecord(ctx, m, model.OpSynthesis, core.PhaseSynthesis, sess, synthesisPrompt(current.Goal, contributions))
	step.CostRecords = append(step.CostRecords, record)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// commit the failed attempt; the facilitator re-decides synthesize
		o.opts.Logger.Error("synthesis failed", "sub_problem", current.Index, "error", err)
		if appendErr := o.store.AppendStep(ctx, step); appendErr != nil {
			return appendErr
		}
		o.emit(step.Events)
		return nil
	}

	summaries, summaryRecord := o.expertSummaries(ctx, sess, current, contributions)
	if summaryRecord != nil {
		step.CostRecords = append(step.CostRecords, *summaryRecord)
	}

	now := o.opts.Now().UTC()
	var cost float64
	started := now
	for _, c := range contributions {
		cost += c.Cost
		if c.Created.Before(started) {
			started = c.Created
		}
	}
	cost += record.Cost

	step.Results = append(step.Results, core.SubProblemResult{
		SessionID:       sess.ID,
		Index:           current.Index,
		Goal:            current.Goal,
		Synthesis:       synthesis,
		ExpertSummaries: summaries,
		Cost:            cost,
		Duration:        now.Sub(started),
		ContributionCnt: len(contributions),
		Created:         now,
	})
	step.Events = append(step.Events,
		core.NewEvent(sess, core.EventSubProblemSynthesized, current.Goal))

	if len(snap.SubProblems) == 1 {
		// single sub-problem: promote directly, skip meta-synthesis
		sess.Synthesis = synthesis
		sess.Recommendation = synthesis
		if err := sess.TransitionTo(core.StatusCompleted); err != nil {
			return err
		}
		step.Events = append(step.Events, core.NewEvent(sess, core.EventSessionCompleted, ""))
	} else if len(snap.Results)+1 < len(snap.SubProblems) {
		// more sub-problems to deliberate
		sess.Phase = core.PhaseContribution
		step.Events = append(step.Events,
			core.NewEvent(sess, core.EventPhaseChanged, "next sub-problem"))
	}

	if err := o.store.AppendStep(ctx, step); err != nil {
		return err
	}
	o.emit(step.Events)
	return nil
}

// executeMetaSynthesize combines all sub-problem syntheses into the final
// recommendation and completes the session.
func (o *Orchestrator) executeMetaSynthesize(ctx context.Context, sess *core.Session, snap facilitator.Snapshot, dec *core.Decision) error {
	sess.Phase = core.PhaseMetaSynthesis
	step := core.StepResult{Session: sess, Decision: dec}
	step.Events = append(step.Events,
		core.NewEvent(sess, core.EventPhaseChanged, "meta-synthesis"))

	var b strings.Builder
	b.WriteString("Combine the following sub-problem conclusions into one final recommendation.\n\n")
	fmt.Fprintf(&b, "Problem: %s\n\n", sess.Problem)
	for _, r := range snap.Results {
		fmt.Fprintf(&b, "Sub-problem %d (%s):\n%s\n\n", r.Index, r.Goal, r.Synthesis)
	}

	m := o.router.Pick(model.OpMetaSynthesis)
	recommendation, record, err := o.generateWithRecord(ctx, m, model.OpMetaSynthesis, core.PhaseMetaSynthesis, sess, b.String())
	step.CostRecords = append(step.CostRecords, record)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.opts.Logger.Error("meta-synthesis failed", "error", err)
		if appendErr := o.store.AppendStep(ctx, step); appendErr != nil {
			return appendErr
		}
		o.emit(step.Events)
		return nil
	}

	sess.Synthesis = recommendation
	sess.Recommendation = recommendation
	if err := sess.TransitionTo(core.StatusCompleted); err != nil {
		return err
	}
	step.Events = append(step.Events, core.NewEvent(sess, core.EventSessionCompleted, ""))

	if err := o.store.AppendStep(ctx, step); err != nil {
		return err
	}
	o.emit(step.Events)
	return nil
}

// executeStop finalizes a session whose deliberation is complete.
func (o *Orchestrator) executeStop(ctx context.Context, sess *core.Session, snap facilitator.Snapshot, dec *core.Decision) error {
	if sess.Recommendation == "" && len(snap.Results) == 1 {
		sess.Synthesis = snap.Results[0].Synthesis
		sess.Recommendation = snap.Results[0].Synthesis
	}
	if err := sess.TransitionTo(core.StatusCompleted); err != nil {
		return err
	}
	step := core.StepResult{
		Session:  sess,
		Decision: dec,
		Events:   []core.Event{core.NewEvent(sess, core.EventSessionCompleted, "")},
	}
	if err := o.store.AppendStep(ctx, step); err != nil {
		return err
	}
	o.emit(step.Events)
	return nil
}

// generateWithRecord performs one direct model call, folding usage into the
// session totals and returning the matching cost record.
func (o *Orchestrator) generateWithRecord(ctx context.Context, m model.Model, op model.Operation, phase core.Phase, sess *core.Session, prompt string) (string, core.CostRecord, error) {
	info := m.Info()
	start := o.opts.Now()
	resp, err := m.Generate(ctx, model.Request{
		Messages: []model.Message{{Role: "user", Text: prompt}},
	})
	latency := o.opts.Now().Sub(start)

	record := core.CostRecord{
		ID:        util.NewID(),
		SessionID: sess.ID,
		Provider:  info.Provider,
		Model:     info.Name,
		Operation: string(op),
		Phase:     phase,
		Round:     sess.RoundNumber,
		Latency:   latency,
		Created:   o.opts.Now().UTC(),
	}
	if err != nil {
		record.Status = "error"
		record.Error = err.Error()
		return "", record, err
	}
	record.Status = "ok"
	record.Cost = model.Cost(info, resp.Usage)
	record.Tokens = core.TokenBreakdown{
		Input:         resp.Usage.InputTokens,
		Output:        resp.Usage.OutputTokens,
		CacheCreation: resp.Usage.CacheCreationTokens,
		CacheRead:     resp.Usage.CacheReadTokens,
	}
	if avoided := o.router.Avoided(op, resp.Usage); avoided > 0 {
		record.CostAvoided = avoided
		record.Optimization = "economy_routing"
	}
	sess.AddUsage(record.Cost, resp.Usage.Total())
	return resp.Text, record, nil
}

// expertSummaries asks the economy model for a per-persona summary block.
// Failures degrade to no summaries; the synthesis itself is unaffected.
func (o *Orchestrator) expertSummaries(ctx context.Context, sess *core.Session, sp core.SubProblem, contributions []core.Contribution) (map[string]string, *core.CostRecord) {
	if len(contributions) == 0 {
		return nil, nil
	}
	codes := make(map[string]bool)
	var b strings.Builder
	b.WriteString("Summarize each expert's position on the sub-problem in one sentence.\n")
	b.WriteString("Respond with one line per expert, formatted as \"code: summary\".\n\n")
	fmt.Fprintf(&b, "Sub-problem: %s\n\n", sp.Goal)
	for _, c := range contributions {
		codes[c.PersonaCode] = true
		fmt.Fprintf(&b, "[%s] %s\n", c.PersonaCode, c.Content)
	}

	m := o.router.Pick(model.OpSummary)
	text, record, err := o.generateWithRecord(ctx, m, model.OpSummary, core.PhaseSynthesis, sess, b.String())
	if err != nil {
		o.opts.Logger.Warn("expert summaries failed", "error", err)
		return nil, &record
	}

	summaries := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		code, summary, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		code = strings.TrimSpace(code)
		if codes[code] {
			summaries[code] = strings.TrimSpace(summary)
		}
	}
	if len(summaries) == 0 {
		return nil, &record
	}
	return summaries, &record
}

func synthesisPrompt(goal string, contributions []core.Contribution) string {
	var b strings.Builder
	b.WriteString("Synthesize the expert contributions below into one coherent conclusion\n")
	b.WriteString("with a clear recommendation.\n\n")
	fmt.Fprintf(&b, "Sub-problem: %s\n\n", goal)
	for _, c := range contributions {
		fmt.Fprintf(&b, "[%s, round %d] %s\n\n", c.PersonaCode, c.Round, c.Content)
	}
	return b.String()
}

// minPanelCount is the minimum successful contribution count across the
// whole panel for one sub-problem, i.e. the number of completed cycles.
func minPanelCount(registry core.PersonaRegistry, contributions []core.Contribution, subProblem int) int {
	counts := make(map[string]int)
	for _, c := range contributions {
		if c.SubProblem == subProblem && !c.Failed && c.Phase == core.PhaseContribution {
			counts[c.PersonaCode]++
		}
	}
	min := -1
	for _, p := range registry.List() {
		if c := counts[p.Code]; min < 0 || c < min {
			min = c
		}
	}
	if min < 0 {
		return 0
	}
	return min
}

func countFailed(contributions []core.Contribution) int {
	n := 0
	for _, c := range contributions {
		if c.Failed {
			n++
		}
	}
	return n
}

func lastFailureError(contributions []core.Contribution) string {
	for i := len(contributions) - 1; i >= 0; i-- {
		if contributions[i].Failed {
			return contributions[i].Error
		}
	}
	return ""
}
