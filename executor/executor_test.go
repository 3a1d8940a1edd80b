package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/boardroom/core"
	"github.com/hupe1980/boardroom/embedding"
	"github.com/hupe1980/boardroom/logging"
	"github.com/hupe1980/boardroom/model"
)

func testInvocation(sess *core.Session) Invocation {
	return Invocation{
		Session:    sess,
		Persona:    core.Persona{Code: "strategist", Name: "Strategist", SystemPrompt: "You think long-term."},
		SubProblem: core.SubProblem{Index: 0, Goal: sess.Problem},
		Phase:      core.PhaseContribution,
		Operation:  model.OpContribution,
	}
}

func fastExecutor(m model.Model, optFns ...func(o *Options)) *Executor {
	fns := append([]func(o *Options){func(o *Options) {
		o.BaseBackoff = time.Millisecond
	}}, optFns...)
	return New(model.NewRouter(m, nil), fns...)
}

func TestInvokeRecordsContributionAndCost(t *testing.T) {
	mock := model.NewMockModel("mock-1", "mock")
	mock.AddResponse("expand to Europe", "Enter Germany first via a local partner.")
	exec := fastExecutor(mock)

	sess := core.NewSession("sess-1", "owner", "Should we expand to Europe?", "", 2)
	out, err := exec.Invoke(context.Background(), testInvocation(sess))
	require.NoError(t, err)

	assert.Equal(t, "Enter Germany first via a local partner.", out.Contribution.Content)
	assert.Equal(t, "strategist", out.Contribution.PersonaCode)
	assert.False(t, out.Contribution.Failed)
	assert.Equal(t, "ok", out.CostRecord.Status)
	assert.Equal(t, string(model.OpContribution), out.CostRecord.Operation)
	assert.Positive(t, out.CostRecord.Tokens.Total())
}

func TestInvokeParsesResearchDirective(t *testing.T) {
	mock := model.NewMockModel("mock-1", "mock")
	mock.AddResponse("expand", "We lack market data.\nRESEARCH: SaaS market size in Germany 2026\nWithout it any estimate is a guess.")
	exec := fastExecutor(mock)

	sess := core.NewSession("sess-1", "owner", "Should we expand to Europe?", "", 2)
	out, err := exec.Invoke(context.Background(), testInvocation(sess))
	require.NoError(t, err)

	assert.Equal(t, "SaaS market size in Germany 2026", out.ResearchQuery)
	assert.NotContains(t, out.Contribution.Content, "RESEARCH:")
	assert.Contains(t, out.Contribution.Content, "We lack market data.")
}

func TestInvokeParsesClarifyDirectives(t *testing.T) {
	mock := model.NewMockModel("mock-1", "mock")
	mock.AddResponse("expand", "CLARIFY(CRITICAL): What is the budget ceiling?\nSome analysis.\nCLARIFY(NICE_TO_HAVE): Preferred launch quarter?")
	exec := fastExecutor(mock)

	sess := core.NewSession("sess-1", "owner", "Should we expand to Europe?", "", 2)
	out, err := exec.Invoke(context.Background(), testInvocation(sess))
	require.NoError(t, err)

	require.Len(t, out.Clarifications, 2)
	assert.Equal(t, core.PriorityCritical, out.Clarifications[0].Priority)
	assert.Equal(t, "What is the budget ceiling?", out.Clarifications[0].Question)
	assert.Equal(t, core.PriorityNiceToHave, out.Clarifications[1].Priority)
	assert.NotContains(t, out.Contribution.Content, "CLARIFY")
}

func TestInvokeRetriesTransientErrors(t *testing.T) {
	mock := model.NewMockModel("mock-1", "mock")
	mock.AddResponse("expand", "Recovered answer.")
	mock.FailNext(
		model.NewTransientError("mock", "rate_limited", errors.New("429")),
		model.NewTransientError("mock", "timeout", errors.New("timeout")),
	)
	exec := fastExecutor(mock)

	sess := core.NewSession("sess-1", "owner", "Should we expand to Europe?", "", 2)
	out, err := exec.Invoke(context.Background(), testInvocation(sess))
	require.NoError(t, err)

	assert.False(t, out.Contribution.Failed)
	assert.Equal(t, "Recovered answer.", out.Contribution.Content)
	assert.Equal(t, 3, mock.Calls())
}

func TestInvokePermanentErrorNotRetried(t *testing.T) {
	mock := model.NewMockModel("mock-1", "mock")
	mock.FailNext(model.NewPermanentError("mock", "invalid_request", errors.New("bad request")))
	exec := fastExecutor(mock)

	sess := core.NewSession("sess-1", "owner", "Should we expand to Europe?", "", 2)
	out, err := exec.Invoke(context.Background(), testInvocation(sess))
	require.NoError(t, err, "permanent provider errors are recorded, not raised")

	assert.True(t, out.Contribution.Failed)
	assert.Contains(t, out.Contribution.Error, "bad request")
	assert.Equal(t, "error", out.CostRecord.Status)
	assert.Equal(t, 1, mock.Calls())
}

func TestInvokeExhaustsTransientRetries(t *testing.T) {
	mock := model.NewMockModel("mock-1", "mock")
	mock.FailNext(
		model.NewTransientError("mock", "timeout", errors.New("t1")),
		model.NewTransientError("mock", "timeout", errors.New("t2")),
		model.NewTransientError("mock", "timeout", errors.New("t3")),
	)
	exec := fastExecutor(mock)

	sess := core.NewSession("sess-1", "owner", "Should we expand to Europe?", "", 2)
	out, err := exec.Invoke(context.Background(), testInvocation(sess))
	require.NoError(t, err)

	assert.True(t, out.Contribution.Failed)
	assert.Equal(t, 3, mock.Calls())
}

func TestInvokeEmbedsResearchSeedingContribution(t *testing.T) {
	mock := model.NewMockModel("mock-1", "mock")
	mock.AddResponse("expand", "The German SaaS market is worth 9B EUR.")

	embedder := embedding.NewStaticEngine(4)
	embedder.Register("The German SaaS market is worth 9B EUR.", []float32{0.1, 0.2, 0.3, 0.4})

	exec := fastExecutor(mock, func(o *Options) { o.Embedder = embedder })

	sess := core.NewSession("sess-1", "owner", "Should we expand to Europe?", "", 2)
	inv := testInvocation(sess)
	inv.Embed = true

	out, err := exec.Invoke(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, out.Contribution.Embedding)
}

func TestDispatchPreservesInvocationOrder(t *testing.T) {
	mock := model.NewMockModel("mock-1", "mock")
	exec := fastExecutor(mock)

	sess := core.NewSession("sess-1", "owner", "Should we expand to Europe?", "", 2)
	var invs []Invocation
	for _, code := range []string{"alpha", "beta", "gamma"} {
		inv := testInvocation(sess)
		inv.Persona = core.Persona{Code: code, SystemPrompt: fmt.Sprintf("You are %s.", code)}
		invs = append(invs, inv)
	}

	outs, err := exec.Dispatch(context.Background(), invs)
	require.NoError(t, err)
	require.Len(t, outs, 3)
	assert.Equal(t, "alpha", outs[0].Contribution.PersonaCode)
	assert.Equal(t, "beta", outs[1].Contribution.PersonaCode)
	assert.Equal(t, "gamma", outs[2].Contribution.PersonaCode)
	assert.Equal(t, 3, mock.Calls())
}

type modelCallRecorder struct {
	logging.NoOpLogger
	model     string
	operation string
	tokens    int
	success   bool
	err       error
	calls     int
}

func (r *modelCallRecorder) LogModelCall(model, operation string, tokens int, _ time.Duration, success bool, err error) {
	r.model, r.operation, r.tokens, r.success, r.err = model, operation, tokens, success, err
	r.calls++
}

func TestInvokeReportsModelCallsToCapableLogger(t *testing.T) {
	rec := &modelCallRecorder{}
	mock := model.NewMockModel("mock-1", "mock")
	mock.AddResponse("expand", "Enter Germany first.")
	exec := fastExecutor(mock, func(o *Options) { o.Logger = rec })

	sess := core.NewSession("sess-1", "owner", "Should we expand to Europe?", "", 2)
	_, err := exec.Invoke(context.Background(), testInvocation(sess))
	require.NoError(t, err)

	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, "mock-1", rec.model)
	assert.Equal(t, string(model.OpContribution), rec.operation)
	assert.Positive(t, rec.tokens)
	assert.True(t, rec.success)
	assert.NoError(t, rec.err)

	mock.FailNext(model.NewPermanentError("mock", "invalid_request", errors.New("bad request")))
	_, err = exec.Invoke(context.Background(), testInvocation(sess))
	require.NoError(t, err)

	assert.Equal(t, 2, rec.calls)
	assert.False(t, rec.success)
	assert.Error(t, rec.err)
	assert.Zero(t, rec.tokens)
}

func TestInvokeCancelledContextSurfacesError(t *testing.T) {
	mock := model.NewMockModel("mock-1", "mock")
	exec := fastExecutor(mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sess := core.NewSession("sess-1", "owner", "Should we expand to Europe?", "", 2)
	_, err := exec.Invoke(ctx, testInvocation(sess))
	require.ErrorIs(t, err, context.Canceled)
}
