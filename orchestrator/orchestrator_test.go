package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/boardroom/core"
	"github.com/hupe1980/boardroom/embedding"
	"github.com/hupe1980/boardroom/executor"
	"github.com/hupe1980/boardroom/logging"
	"github.com/hupe1980/boardroom/model"
	"github.com/hupe1980/boardroom/persona"
	"github.com/hupe1980/boardroom/research"
	"github.com/hupe1980/boardroom/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// go.opencensus.io starts this worker in a package init; it is a
		// documented goleak false positive, not a leak in this module.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

type captureSink struct {
	mu     sync.Mutex
	events []core.Event
}

func (s *captureSink) Emit(ev core.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) all() []core.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Event, len(s.events))
	copy(out, s.events)
	return out
}

func panel(codes ...string) *persona.Registry {
	var personas []core.Persona
	for _, code := range codes {
		personas = append(personas, core.Persona{
			Code: code, Name: code, SystemPrompt: fmt.Sprintf("You are %s.", code),
		})
	}
	reg, err := persona.NewRegistry(personas...)
	if err != nil {
		panic(err)
	}
	return reg
}

func newTestOrchestrator(t *testing.T, reg *persona.Registry, mock model.Model, optFns ...func(o *Options)) (*Orchestrator, *store.MemoryStore, *captureSink) {
	t.Helper()
	mem := store.NewMemoryStore()
	sink := &captureSink{}
	router := model.NewRouter(mock, nil)
	fns := append([]func(o *Options){func(o *Options) {
		o.Sink = sink
		o.Executor = executor.New(router, func(eo *executor.Options) {
			eo.BaseBackoff = time.Millisecond
		})
	}}, optFns...)
	return New(mem, reg, router, fns...), mem, sink
}

func deliberationMock() *model.MockModel {
	mock := model.NewMockModel("mock-1", "mock")
	mock.AddResponse("Split the following problem", `["Should we expand to Europe?"]`)
	return mock
}

type decisionRecorder struct {
	logging.NoOpLogger
	mu        sync.Mutex
	kinds     []string
	reasoning []string
}

func (r *decisionRecorder) LogDecision(kind string, round int, reasoning string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
	r.reasoning = append(r.reasoning, reasoning)
}

func TestAdvanceReportsDecisionsToCapableLogger(t *testing.T) {
	rec := &decisionRecorder{}
	o, _, _ := newTestOrchestrator(t, panel("a"), deliberationMock(), func(o *Options) { o.Logger = rec })

	sess, err := o.Start(context.Background(), "owner", "Should we expand to Europe?", "", 1)
	require.NoError(t, err)

	// decomposition does not consult the facilitator
	_, err = o.Advance(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Empty(t, rec.kinds)

	_, err = o.Advance(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"speak"}, rec.kinds)
	assert.NotEmpty(t, rec.reasoning[0])
}

func TestStartCreatesActiveSession(t *testing.T) {
	o, _, sink := newTestOrchestrator(t, panel("a", "b"), deliberationMock())

	sess, err := o.Start(context.Background(), "owner", "Should we expand to Europe?", "SaaS company", 3)
	require.NoError(t, err)

	assert.Equal(t, core.StatusActive, sess.Status)
	assert.Equal(t, core.PhaseDecomposition, sess.Phase)
	assert.Equal(t, 0, sess.RoundNumber)
	assert.Equal(t, 3, sess.MaxRounds)

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, core.EventSessionStarted, events[0].Kind)
	assert.Equal(t, uint64(1), events[0].Seq)
}

func TestAdvanceDecomposesThenContributes(t *testing.T) {
	o, mem, _ := newTestOrchestrator(t, panel("a", "b"), deliberationMock())

	sess, err := o.Start(context.Background(), "owner", "Should we expand to Europe?", "", 2)
	require.NoError(t, err)

	state, err := o.Advance(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PhaseContribution, state.Session.Phase)

	subs, err := mem.ListSubProblems(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "Should we expand to Europe?", subs[0].Goal)

	state, err = o.Advance(context.Background(), sess.ID)
	require.NoError(t, err)
	contribs, err := mem.ListContributions(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Len(t, contribs, 2, "both panel personas speak in the first cycle")
	assert.Equal(t, 1, state.Session.RoundNumber)
}

func TestDecompositionFallsBackToSingleSubProblem(t *testing.T) {
	mock := model.NewMockModel("mock-1", "mock")
	mock.AddResponse("Split the following problem", "I cannot answer in JSON, sorry.")
	o, mem, _ := newTestOrchestrator(t, panel("a"), mock)

	sess, err := o.Start(context.Background(), "owner", "Should we expand to Europe?", "", 2)
	require.NoError(t, err)
	_, err = o.Advance(context.Background(), sess.ID)
	require.NoError(t, err)

	subs, err := mem.ListSubProblems(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, sess.Problem, subs[0].Goal)
}

// Scenario from the round-budget contract: 1 sub-problem, 3 personas,
// max_rounds=2. After two full rounds the session must synthesize, and
// meta-synthesis is skipped for a single sub-problem.
func TestFullDeliberationSingleSubProblem(t *testing.T) {
	mock := deliberationMock()
	o, mem, sink := newTestOrchestrator(t, panel("a", "b", "c"), mock)

	ctx := context.Background()
	sess, err := o.Start(ctx, "owner", "Should we expand to Europe?", "", 2)
	require.NoError(t, err)

	var state *core.State
	for i := 0; i < 10; i++ {
		state, err = o.Advance(ctx, sess.ID)
		require.NoError(t, err)
		assert.LessOrEqual(t, state.Session.RoundNumber, state.Session.MaxRounds,
			"round number never exceeds max rounds")
		if state.Session.Status.IsTerminal() {
			break
		}
	}

	require.Equal(t, core.StatusCompleted, state.Session.Status)
	assert.Equal(t, core.PhaseSynthesis, state.Session.Phase, "meta-synthesis skipped for one sub-problem")
	assert.Equal(t, 2, state.Session.RoundNumber)
	assert.NotEmpty(t, state.Session.Recommendation)
	require.Len(t, state.Results, 1)
	assert.Equal(t, state.Results[0].Synthesis, state.Session.Recommendation)

	contribs, err := mem.ListContributions(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, contribs, 6, "3 personas over 2 rounds")

	var sawMeta bool
	var lastSeq uint64
	for _, ev := range sink.all() {
		assert.Greater(t, ev.Seq, lastSeq, "event sequence is strictly increasing")
		lastSeq = ev.Seq
		if ev.Phase == core.PhaseMetaSynthesis {
			sawMeta = true
		}
	}
	assert.False(t, sawMeta)
}

func TestMultiSubProblemEndsInMetaSynthesis(t *testing.T) {
	mock := model.NewMockModel("mock-1", "mock")
	mock.AddResponse("Split the following problem", `["market entry", "pricing strategy"]`)
	o, _, _ := newTestOrchestrator(t, panel("a", "b"), mock)

	ctx := context.Background()
	sess, err := o.Start(ctx, "owner", "Should we expand to Europe?", "", 4)
	require.NoError(t, err)

	var state *core.State
	for i := 0; i < 20; i++ {
		state, err = o.Advance(ctx, sess.ID)
		require.NoError(t, err)
		if state.Session.Status.IsTerminal() {
			break
		}
	}

	require.Equal(t, core.StatusCompleted, state.Session.Status)
	assert.Equal(t, core.PhaseMetaSynthesis, state.Session.Phase)
	assert.Len(t, state.Results, 2)
	assert.NotEmpty(t, state.Session.Recommendation)
}

func TestAdvanceIsNoOpOnTerminalSession(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, panel("a"), deliberationMock())

	ctx := context.Background()
	sess, err := o.Start(ctx, "owner", "Should we expand to Europe?", "", 1)
	require.NoError(t, err)

	var state *core.State
	for i := 0; i < 10; i++ {
		state, err = o.Advance(ctx, sess.ID)
		require.NoError(t, err)
		if state.Session.Status.IsTerminal() {
			break
		}
	}
	require.Equal(t, core.StatusCompleted, state.Session.Status)

	before := state.Session
	after, err := o.Advance(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Status, after.Session.Status)
	assert.Equal(t, before.RoundNumber, after.Session.RoundNumber)
	assert.Equal(t, before.EventSeq, after.Session.EventSeq, "no events emitted on terminal advance")
}

func TestKillIsTerminalAndIrreversible(t *testing.T) {
	o, _, sink := newTestOrchestrator(t, panel("a", "b"), deliberationMock())

	ctx := context.Background()
	sess, err := o.Start(ctx, "owner", "Should we expand to Europe?", "", 3)
	require.NoError(t, err)
	_, err = o.Advance(ctx, sess.ID)
	require.NoError(t, err)

	state, err := o.Kill(ctx, sess.ID, "admin", "budget exceeded")
	require.NoError(t, err)
	assert.Equal(t, core.StatusKilled, state.Session.Status)
	assert.Contains(t, state.BlockedReason, "budget exceeded")

	round := state.Session.RoundNumber
	for i := 0; i < 3; i++ {
		state, err = o.Advance(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, core.StatusKilled, state.Session.Status)
		assert.Equal(t, round, state.Session.RoundNumber)
	}

	var sawKilled bool
	for _, ev := range sink.all() {
		if ev.Kind == core.EventSessionKilled {
			sawKilled = true
		}
	}
	assert.True(t, sawKilled)
}

func TestCriticalClarificationBlocksUntilAnswered(t *testing.T) {
	mock := model.NewMockModel("mock-1", "mock")
	mock.AddResponse("Split the following problem", `["Should we expand to Europe?"]`)
	mock.AddResponse("Round 1 of 2", "CLARIFY(CRITICAL): What is the budget ceiling?\nHard to say without the budget.")
	mock.AddResponse("Round 2 of 2", "With that budget, start in Germany.")
	o, _, _ := newTestOrchestrator(t, panel("a"), mock)

	ctx := context.Background()
	sess, err := o.Start(ctx, "owner", "Should we expand to Europe?", "", 2)
	require.NoError(t, err)
	_, err = o.Advance(ctx, sess.ID) // decompose
	require.NoError(t, err)
	state, err := o.Advance(ctx, sess.ID) // speak, raises CRITICAL
	require.NoError(t, err)
	require.Len(t, state.Outstanding, 1)

	// blocked: repeated advances change nothing
	blockedRound := state.Session.RoundNumber
	for i := 0; i < 3; i++ {
		state, err = o.Advance(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, blockedRound, state.Session.RoundNumber)
		assert.Contains(t, state.BlockedReason, "CRITICAL")
	}

	state, err = o.SubmitClarificationAnswer(ctx, sess.ID, state.Outstanding[0].ID, "500k EUR")
	require.NoError(t, err)
	assert.Empty(t, state.Outstanding)
	assert.Empty(t, state.BlockedReason)

	state, err = o.Advance(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, blockedRound+1, state.Session.RoundNumber, "deliberation resumes once answered")
}

func TestResearchCacheShortCircuit(t *testing.T) {
	cache, err := research.NewCache(":memory:")
	require.NoError(t, err)
	defer cache.Close()
	require.InDelta(t, 0.85, cache.Threshold(), 1e-9)

	entryVec := []float32{1, 0, 0, 0}
	entryID, err := cache.Store(context.Background(), research.Entry{
		Question:      "What is the SaaS market size in Germany?",
		Embedding:     entryVec,
		Answer:        "Roughly 9B EUR in 2026.",
		Confidence:    research.ConfidenceHigh,
		Sources:       []string{"https://example.com/report"},
		FreshnessDays: 90,
		ResearchDate:  time.Now().UTC(),
		Cost:          0.25,
	})
	require.NoError(t, err)

	embedder := embedding.NewStaticEngine(4)
	// cosine similarity 0.92 against the cached entry, above the 0.85 threshold
	embedder.Register("SaaS market size in Germany 2026", []float32{0.92, 0.3919184, 0, 0})

	searcherCalls := 0
	searcher := research.SearcherFunc(func(_ context.Context, _ string) (*research.SearchResult, error) {
		searcherCalls++
		return &research.SearchResult{Answer: "external"}, nil
	})

	mock := model.NewMockModel("mock-1", "mock")
	mock.AddResponse("Split the following problem", `["Should we expand to Europe?"]`)
	mock.AddResponse("Round 1 of 2", "We need numbers.\nRESEARCH: SaaS market size in Germany 2026")
	mock.AddResponse("Round 2 of 2", "Given 9B EUR, yes.")

	o, mem, _ := newTestOrchestrator(t, panel("a"), mock, func(o *Options) {
		o.Cache = cache
		o.Embedder = embedder
		o.Searcher = searcher
	})

	ctx := context.Background()
	sess, err := o.Start(ctx, "owner", "Should we expand to Europe?", "", 2)
	require.NoError(t, err)
	_, err = o.Advance(ctx, sess.ID) // decompose
	require.NoError(t, err)

	state, err := o.Advance(ctx, sess.ID) // speak, raises research
	require.NoError(t, err)
	assert.Equal(t, core.PhaseResearch, state.Session.Phase)
	assert.Equal(t, "SaaS market size in Germany 2026", state.Session.PendingResearch)

	state, err = o.Advance(ctx, sess.ID) // consume cache
	require.NoError(t, err)
	assert.Equal(t, core.PhaseContribution, state.Session.Phase)
	assert.Empty(t, state.Session.PendingResearch)
	assert.Zero(t, searcherCalls, "cache hit must not invoke the external searcher")

	entry, err := cache.Get(ctx, entryID)
	require.NoError(t, err)
	assert.Equal(t, 1, entry.AccessCount, "access count bumped exactly once")

	decisions, err := mem.ListDecisions(ctx, sess.ID)
	require.NoError(t, err)
	last := decisions[len(decisions)-1]
	assert.Equal(t, core.DecisionConsumeCache, last.Kind)

	contribs, err := mem.ListContributions(ctx, sess.ID)
	require.NoError(t, err)
	answer := contribs[len(contribs)-1]
	assert.Equal(t, "researcher", answer.PersonaCode)
	assert.Equal(t, "Roughly 9B EUR in 2026.", answer.Content)
}

func TestResearchMissGoesExternalAndSeedsCache(t *testing.T) {
	cache, err := research.NewCache(":memory:")
	require.NoError(t, err)
	defer cache.Close()

	embedder := embedding.NewStaticEngine(4)
	embedder.Register("GDPR fines for SaaS", []float32{0, 1, 0, 0})

	searcherCalls := 0
	searcher := research.SearcherFunc(func(_ context.Context, query string) (*research.SearchResult, error) {
		searcherCalls++
		return &research.SearchResult{
			Answer:     "Up to 4% of global revenue.",
			Sources:    []string{"https://example.com/gdpr"},
			Confidence: research.ConfidenceHigh,
			Cost:       0.10,
			Tokens:     50,
		}, nil
	})

	mock := model.NewMockModel("mock-1", "mock")
	mock.AddResponse("Split the following problem", `["Should we expand to Europe?"]`)
	mock.AddResponse("Round 1 of 2", "RESEARCH: GDPR fines for SaaS\nCompliance risk matters.")

	o, _, _ := newTestOrchestrator(t, panel("a"), mock, func(o *Options) {
		o.Cache = cache
		o.Embedder = embedder
		o.Searcher = searcher
	})

	ctx := context.Background()
	sess, err := o.Start(ctx, "owner", "Should we expand to Europe?", "", 2)
	require.NoError(t, err)
	_, err = o.Advance(ctx, sess.ID)
	require.NoError(t, err)
	_, err = o.Advance(ctx, sess.ID) // speak
	require.NoError(t, err)
	state, err := o.Advance(ctx, sess.ID) // research (miss)
	require.NoError(t, err)

	assert.Equal(t, 1, searcherCalls)
	assert.Empty(t, state.Session.PendingResearch)

	// the answer is now cached and matched at similarity 1.0
	vec, err := embedder.Embed(ctx, "GDPR fines for SaaS")
	require.NoError(t, err)
	match, err := cache.Lookup(ctx, vec, research.LookupOptions{})
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "Up to 4% of global revenue.", match.Entry.Answer)
}

func TestRepeatedFailuresFailSession(t *testing.T) {
	mock := model.NewMockModel("mock-1", "mock")
	mock.AddResponse("Split the following problem", `["Should we expand to Europe?"]`)
	o, _, _ := newTestOrchestrator(t, panel("a"), mock, func(o *Options) {
		o.FailureBound = 2
	})

	ctx := context.Background()
	sess, err := o.Start(ctx, "owner", "Should we expand to Europe?", "", 3)
	require.NoError(t, err)
	_, err = o.Advance(ctx, sess.ID) // decompose (success)
	require.NoError(t, err)

	// every persona call from here fails permanently
	mock.FailNext(
		model.NewPermanentError("mock", "content_rejected", errors.New("rejected 1")),
		model.NewPermanentError("mock", "content_rejected", errors.New("rejected 2")),
	)

	var state *core.State
	for i := 0; i < 4; i++ {
		state, err = o.Advance(ctx, sess.ID)
		require.NoError(t, err)
		if state.Session.Status.IsTerminal() {
			break
		}
	}

	require.Equal(t, core.StatusFailed, state.Session.Status)
	assert.Contains(t, state.Session.FailureReason, "rejected 2")
	assert.Equal(t, state.Session.FailureReason, state.BlockedReason)
}

// slowModel blocks Generate until released, letting tests hold an advance
// mid-step.
type slowModel struct {
	inner   *model.MockModel
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (m *slowModel) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	m.once.Do(func() {
		close(m.entered)
		<-m.release
	})
	return m.inner.Generate(ctx, req)
}

func (m *slowModel) Info() model.Info { return m.inner.Info() }

func TestConcurrentAdvanceSingleWinner(t *testing.T) {
	slow := &slowModel{
		inner:   deliberationMock(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	o, mem, _ := newTestOrchestrator(t, panel("a", "b"), slow)

	ctx := context.Background()
	sess, err := o.Start(ctx, "owner", "Should we expand to Europe?", "", 2)
	require.NoError(t, err)

	type result struct {
		state *core.State
		err   error
	}
	done := make(chan result, 1)
	go func() {
		state, aerr := o.Advance(ctx, sess.ID)
		done <- result{state: state, err: aerr}
	}()

	<-slow.entered // winner is inside the decomposition call

	loser, err := o.Advance(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PhaseDecomposition, loser.Session.Phase, "loser observes pre-step state")

	close(slow.release)
	winner := <-done
	require.NoError(t, winner.err)
	assert.Equal(t, core.PhaseContribution, winner.state.Session.Phase)

	subs, err := mem.ListSubProblems(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, subs, 1, "exactly one advance performed the step")
}

func TestDeleteIsSoftAndTerminal(t *testing.T) {
	o, mem, _ := newTestOrchestrator(t, panel("a"), deliberationMock())

	ctx := context.Background()
	sess, err := o.Start(ctx, "owner", "Should we expand to Europe?", "", 2)
	require.NoError(t, err)
	_, err = o.Advance(ctx, sess.ID)
	require.NoError(t, err)

	require.NoError(t, o.Delete(ctx, sess.ID))

	state, err := o.GetState(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusDeleted, state.Session.Status)

	// audit records survive soft delete
	subs, err := mem.ListSubProblems(ctx, sess.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, subs)

	require.NoError(t, o.Purge(ctx, sess.ID))
	_, err = o.GetState(ctx, sess.ID)
	require.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestReplanLinksToSourceSession(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, panel("a"), deliberationMock())

	ctx := context.Background()
	src, err := o.Start(ctx, "owner", "Should we expand to Europe?", "ARR 4M", 1)
	require.NoError(t, err)
	_, err = o.Kill(ctx, src.ID, "admin", "wrong framing")
	require.NoError(t, err)

	fresh, err := o.Replan(ctx, src.ID)
	require.NoError(t, err)
	assert.NotEqual(t, src.ID, fresh.ID)
	assert.Equal(t, src.ID, fresh.ReplanOf)
	assert.Equal(t, src.Problem, fresh.Problem)
	assert.Equal(t, src.Context, fresh.Context)
	assert.Equal(t, core.StatusActive, fresh.Status)
	assert.Equal(t, core.PhaseDecomposition, fresh.Phase)
}

func TestCostReportsAccumulate(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, panel("a"), deliberationMock())

	ctx := context.Background()
	sess, err := o.Start(ctx, "owner", "Should we expand to Europe?", "", 1)
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		state, aerr := o.Advance(ctx, sess.ID)
		require.NoError(t, aerr)
		if state.Session.Status.IsTerminal() {
			break
		}
	}

	report, err := o.SessionCostReport(ctx, sess.ID)
	require.NoError(t, err)
	assert.Positive(t, report.Total.Calls)
	assert.Positive(t, report.Total.Tokens)
	assert.Contains(t, report.ByOperation, string(model.OpDecomposition))
	assert.Contains(t, report.ByOperation, string(model.OpContribution))
	assert.Contains(t, report.ByOperation, string(model.OpSynthesis))

	global, err := o.GlobalCostReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.Total, global.Total)
}
