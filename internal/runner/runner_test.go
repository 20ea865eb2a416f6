package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/specterhq/specterqa/api/schemas"
	"github.com/specterhq/specterqa/internal/oracle"
)

func TestExecuteStep_GoalAchievedWithoutCriteria(t *testing.T) {
	decider := &scriptedDecider{decisions: []schemas.Decision{
		clickDecision("Login"),
		doneDecision(),
	}}
	executor := &fakeExecutor{}
	r := NewStepRunner(decider, executor, testRunnerConfig(), zaptest.NewLogger(t))

	result, err := r.ExecuteStep(context.Background(), schemas.Step{ID: "s1", Goal: "log in"}, nil)

	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.True(t, result.GoalAchieved)
	assert.Empty(t, result.Error)
	assert.Equal(t, 1, result.ActionCount)
	assert.Equal(t, 1, decider.resets, "per-step decider state should be reset")
}

func TestExecuteStep_MaxActionsExhaustion(t *testing.T) {
	decider := &scriptedDecider{decisions: []schemas.Decision{clickDecision("Next")}}
	executor := &fakeExecutor{executeFn: func(d schemas.Decision) schemas.ActionResult {
		return schemas.ActionResult{Success: true, Action: d.Action, Target: d.Target, StateChanged: true}
	}}
	r := NewStepRunner(decider, executor, testRunnerConfig(), zaptest.NewLogger(t))

	result, err := r.ExecuteStep(context.Background(), schemas.Step{
		ID: "s1", Goal: "never finishes", MaxActions: 3,
	}, nil)

	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, "Max actions (3) reached without achieving goal", result.Error)
	assert.Equal(t, 3, result.ActionCount)
	// Three loop screenshots plus the final one.
	assert.Equal(t, 4, result.ScreenshotCount)
}

func TestExecuteStep_StartURLNavigation(t *testing.T) {
	decider := &scriptedDecider{decisions: []schemas.Decision{doneDecision()}}
	executor := &fakeExecutor{}
	r := NewStepRunner(decider, executor, testRunnerConfig(), zaptest.NewLogger(t))

	vars := map[string]string{"env": "staging"}
	result, err := r.ExecuteStep(context.Background(), schemas.Step{
		ID: "s1", Goal: "open {{env}} home", StartURL: "https://{{env}}.app.local/",
	}, vars)

	require.NoError(t, err)
	assert.True(t, result.Passed)
	require.Len(t, executor.navigatedTo, 1)
	assert.Equal(t, "https://staging.app.local/", executor.navigatedTo[0])
	require.NotEmpty(t, decider.decideCalls)
	assert.Equal(t, "open staging home", decider.decideCalls[0].Goal)
}

func TestExecuteStep_VerificationRetriesThenHardFails(t *testing.T) {
	decider := &scriptedDecider{
		decisions: []schemas.Decision{doneDecision()},
		verdicts: []schemas.VerificationResult{
			{Verified: false, Reason: "cart is empty"},
			{Verified: false, Reason: "cart is still empty"},
		},
	}
	executor := &fakeExecutor{}
	r := NewStepRunner(decider, executor, testRunnerConfig(), zaptest.NewLogger(t))

	result, err := r.ExecuteStep(context.Background(), schemas.Step{
		ID: "s1", Goal: "add item to cart",
		SuccessCriteria: []string{"cart shows 1 item"},
	}, nil)

	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 2, verr.Failures)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Error, "Verification failed 2 times")
	assert.Contains(t, result.Error, "cart is still empty")
	assert.Len(t, decider.verifyCalls, 2)

	// The second decide call sees the re-injected failure reason.
	require.GreaterOrEqual(t, len(decider.decideCalls), 2)
	assert.Contains(t, decider.decideCalls[1].Goal, "cart is empty")
}

func TestExecuteStep_VerificationPassesOnSecondClaim(t *testing.T) {
	decider := &scriptedDecider{
		decisions: []schemas.Decision{doneDecision()},
		verdicts: []schemas.VerificationResult{
			{Verified: false, Reason: "confirmation banner missing"},
			{Verified: true},
		},
	}
	executor := &fakeExecutor{}
	r := NewStepRunner(decider, executor, testRunnerConfig(), zaptest.NewLogger(t))

	result, err := r.ExecuteStep(context.Background(), schemas.Step{
		ID: "s1", Goal: "submit the form",
		SuccessCriteria: []string{"confirmation banner visible"},
	}, nil)

	require.NoError(t, err)
	assert.True(t, result.Passed)
	require.NotEmpty(t, result.Findings)
	assert.Contains(t, result.Findings[0].Description, "confirmation banner missing")
}

func TestExecuteStep_ConsecutiveStuckDecisionsAbort(t *testing.T) {
	stuck := schemas.Decision{Action: schemas.ActionStuck, Reasoning: "cannot proceed"}
	decider := &scriptedDecider{decisions: []schemas.Decision{stuck}}
	executor := &fakeExecutor{}
	r := NewStepRunner(decider, executor, testRunnerConfig(), zaptest.NewLogger(t))

	result, err := r.ExecuteStep(context.Background(), schemas.Step{ID: "s1", Goal: "impossible"}, nil)

	var serr *StuckError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Reason, "3")
	assert.False(t, result.Passed)
	assert.Empty(t, executor.executed, "stuck decisions must not be executed")
}

func TestExecuteStep_FingerprintAbortCarriesCount(t *testing.T) {
	decider := &scriptedDecider{decisions: []schemas.Decision{clickDecision("Retry")}}
	executor := &fakeExecutor{frozenShot: []byte("frozen screen")}
	// Keep the other signals out of the way so only the fingerprint fires.
	cfg := testRunnerConfig()
	cfg.NoChangeAbortThreshold = 100
	cfg.ActionRepeatThreshold = 100
	r := NewStepRunner(decider, executor, cfg, zaptest.NewLogger(t))

	result, err := r.ExecuteStep(context.Background(), schemas.Step{ID: "s1", Goal: "unfreeze"}, nil)

	var serr *StuckError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, result.Error, "10")

	// Iterations past the warn threshold must have escalated the oracle call.
	calls := decider.decideCalls
	require.GreaterOrEqual(t, len(calls), 5)
	last := calls[len(calls)-1]
	assert.Equal(t, schemas.TierPowerful, last.ForceTier)
	assert.Contains(t, last.StuckContext, "not changed")
}

func TestExecuteStep_BudgetErrorPropagatesTyped(t *testing.T) {
	budgetErr := &oracle.BudgetExceededError{LimitUSD: 5, SpentUSD: 5.2}
	decider := &scriptedDecider{
		decisions: []schemas.Decision{clickDecision("Next")},
		decideErr: map[int]error{1: budgetErr},
	}
	executor := &fakeExecutor{}
	r := NewStepRunner(decider, executor, testRunnerConfig(), zaptest.NewLogger(t))

	result, err := r.ExecuteStep(context.Background(), schemas.Step{ID: "s1", Goal: "spend"}, nil)

	var be *oracle.BudgetExceededError
	require.ErrorAs(t, err, &be)
	assert.False(t, result.Passed)
	assert.NotEmpty(t, result.Error)
}

func TestExecuteStep_ChecksAndNotesAccumulate(t *testing.T) {
	decider := &scriptedDecider{decisions: []schemas.Decision{
		{Action: schemas.ActionClick, Target: "Products", Checkpoint: "catalog", UXNotes: "menu animation is sluggish"},
		{Action: schemas.ActionClick, Target: "First item", Checkpoint: "catalog"},
		doneDecision(),
	}}
	executor := &fakeExecutor{}
	r := NewStepRunner(decider, executor, testRunnerConfig(), zaptest.NewLogger(t))

	result, err := r.ExecuteStep(context.Background(), schemas.Step{ID: "s1", Goal: "browse"}, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"catalog"}, result.CheckpointsReached)
	assert.Equal(t, []string{"menu animation is sluggish"}, result.UXObservations)
}

func TestExecuteStep_TimeoutProducesError(t *testing.T) {
	decider := &scriptedDecider{decisions: []schemas.Decision{clickDecision("Next")}}
	executor := &fakeExecutor{}
	cfg := testRunnerConfig()
	cfg.MaxDuration = time.Nanosecond
	r := NewStepRunner(decider, executor, cfg, zaptest.NewLogger(t))

	result, err := r.ExecuteStep(context.Background(), schemas.Step{ID: "s1", Goal: "slow"}, nil)

	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Error, "timed out")
}

func TestExecuteStep_ContextCancellation(t *testing.T) {
	decider := &scriptedDecider{decisions: []schemas.Decision{clickDecision("Next")}}
	executor := &fakeExecutor{}
	r := NewStepRunner(decider, executor, testRunnerConfig(), zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := r.ExecuteStep(ctx, schemas.Step{ID: "s1", Goal: "cancelled"}, nil)

	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Error, "cancelled")
}

func TestExecuteStep_StartURLFailureFailsStep(t *testing.T) {
	decider := &scriptedDecider{decisions: []schemas.Decision{doneDecision()}}
	executor := &fakeExecutor{navErr: errors.New("connection refused")}
	r := NewStepRunner(decider, executor, testRunnerConfig(), zaptest.NewLogger(t))

	result, err := r.ExecuteStep(context.Background(), schemas.Step{
		ID: "s1", Goal: "open home", StartURL: "https://app.local/",
	}, nil)

	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Error, "connection refused")
	assert.Empty(t, decider.decideCalls)
}
