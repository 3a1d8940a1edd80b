package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionStartsInDecomposition(t *testing.T) {
	sess := NewSession("sess-1", "owner", "Should we expand?", "b2b saas", 5)

	assert.Equal(t, StatusActive, sess.Status)
	assert.Equal(t, PhaseDecomposition, sess.Phase)
	assert.Equal(t, 0, sess.RoundNumber)
	assert.Equal(t, 5, sess.MaxRounds)
	assert.Zero(t, sess.EventSeq)
}

func TestTransitionToIsMonotonic(t *testing.T) {
	sess := NewSession("sess-1", "owner", "p", "", 5)

	require.NoError(t, sess.TransitionTo(StatusCompleted))

	for _, next := range []Status{StatusActive, StatusFailed, StatusKilled} {
		err := sess.TransitionTo(next)
		require.ErrorIs(t, err, ErrTerminalSession, "completed -> %s must be rejected", next)
	}
	assert.Equal(t, StatusCompleted, sess.Status)
}

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusActive.IsTerminal())
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusKilled, StatusDeleted} {
		assert.True(t, s.IsTerminal(), "%s", s)
	}
}

func TestAdvanceRoundCapsAtBudget(t *testing.T) {
	sess := NewSession("sess-1", "owner", "p", "", 2)

	require.NoError(t, sess.AdvanceRound())
	require.NoError(t, sess.AdvanceRound())
	require.Error(t, sess.AdvanceRound())
	assert.Equal(t, 2, sess.RoundNumber)
}

func TestNextEventSeqIsDense(t *testing.T) {
	sess := NewSession("sess-1", "owner", "p", "", 5)

	assert.Equal(t, uint64(1), sess.NextEventSeq())
	assert.Equal(t, uint64(2), sess.NextEventSeq())
	assert.Equal(t, uint64(3), sess.NextEventSeq())
}

func TestNewEventSnapshotsSession(t *testing.T) {
	sess := NewSession("sess-1", "owner", "p", "", 5)
	sess.Phase = PhaseContribution
	sess.RoundNumber = 2

	ev := NewEvent(sess, EventContributionAdded, "economist spoke")

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "sess-1", ev.SessionID)
	assert.Equal(t, uint64(1), ev.Seq)
	assert.Equal(t, PhaseContribution, ev.Phase)
	assert.Equal(t, 2, ev.Round)
	assert.Equal(t, uint64(1), sess.EventSeq, "event creation consumes the session counter")
}

func TestCloneIsIndependent(t *testing.T) {
	sess := NewSession("sess-1", "owner", "p", "", 5)
	sess.Kill = &KillInfo{Actor: "ops", Reason: "runaway"}

	clone := sess.Clone()
	clone.Status = StatusKilled
	clone.Kill.Reason = "changed"

	assert.Equal(t, StatusActive, sess.Status)
	assert.Equal(t, "runaway", sess.Kill.Reason)
}

func TestAddUsageAccumulates(t *testing.T) {
	sess := NewSession("sess-1", "owner", "p", "", 5)
	sess.AddUsage(0.25, 1000)
	sess.AddUsage(0.10, 400)

	assert.InDelta(t, 0.35, sess.TotalCost, 1e-9)
	assert.Equal(t, 1400, sess.TotalTokens)
}

func TestCostReportFold(t *testing.T) {
	report := NewCostReport()
	report.Fold(CostRecord{
		Provider:  "anthropic",
		Model:     "primary",
		Operation: "contribution",
		Tokens:    TokenBreakdown{Input: 600, Output: 400},
		Cost:      0.20,
	})
	report.Fold(CostRecord{
		Provider:    "anthropic",
		Model:       "economy",
		Operation:   "decomposition",
		Tokens:      TokenBreakdown{Input: 300, Output: 200},
		Cost:        0.02,
		CostAvoided: 0.08,
	})
	report.Fold(CostRecord{
		Provider:     "cache",
		Model:        "cache",
		Operation:    "research",
		CacheHit:     true,
		CostAvoided:  0.15,
		Optimization: "cache_hit",
	})

	assert.Equal(t, 3, report.Total.Calls)
	assert.Equal(t, 1500, report.Total.Tokens)
	assert.InDelta(t, 0.22, report.Total.Cost, 1e-9)
	assert.InDelta(t, 0.23, report.Total.CostAvoided, 1e-9)

	assert.Equal(t, 2, report.ByProvider["anthropic"].Calls)
	assert.Equal(t, 1, report.ByModel["economy"].Calls)
	assert.InDelta(t, 0.15, report.ByOperation["research"].CostAvoided, 1e-9)
}
