package oracle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/specterhq/specterqa/api/schemas"
	"github.com/specterhq/specterqa/internal/config"
)

// mockLLM is a testify mock of schemas.LLMClient.
type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) Generate(ctx context.Context, req schemas.GenerationRequest) (*schemas.GenerationResult, error) {
	args := m.Called(ctx, req)
	if res := args.Get(0); res != nil {
		return res.(*schemas.GenerationResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockLLM) Close() error {
	return m.Called().Error(0)
}

func generation(text string) *schemas.GenerationResult {
	return &schemas.GenerationResult{
		Text:  text,
		Model: "powerful-model",
		Usage: schemas.TokenUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
	}
}

func newTestDecider(t *testing.T, llm schemas.LLMClient, costFn schemas.CostFunc) *PersonaDecider {
	t.Helper()
	cfg := testOracleConfig()
	cfg.RequestsPerSecond = 1000 // don't slow tests down
	cfg.MaxConsecutiveAPIFailures = 3
	tracker := NewCostTracker(cfg, config.BudgetConfig{MaxUSD: 100}, zap.NewNop())
	return NewPersonaDecider(cfg, llm, tracker, costFn, zap.NewNop())
}

func decideReq(index int) schemas.DecideRequest {
	return schemas.DecideRequest{
		StepID:      "step-1",
		Goal:        "log in as the test user",
		Screenshot:  []byte{0x89, 0x50},
		ActionIndex: index,
	}
}

func TestDecide_ParsesCleanDecision(t *testing.T) {
	llm := new(mockLLM)
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.Tier == schemas.TierPowerful && len(req.Images) == 1
	})).Return(generation(`{"action": "click", "target": "Log in", "reasoning": "login form is visible"}`), nil).Once()

	d := newTestDecider(t, llm, nil)
	decision, err := d.Decide(context.Background(), decideReq(0))

	require.NoError(t, err)
	assert.Equal(t, schemas.ActionClick, decision.Action)
	assert.Equal(t, "Log in", decision.Target)
	llm.AssertExpectations(t)
}

func TestDecide_NormalizesAliasedAction(t *testing.T) {
	llm := new(mockLLM)
	llm.On("Generate", mock.Anything, mock.Anything).
		Return(generation(`{"action": "tap", "target": "Menu"}`), nil).Once()

	d := newTestDecider(t, llm, nil)
	decision, err := d.Decide(context.Background(), decideReq(0))

	require.NoError(t, err)
	assert.Equal(t, schemas.ActionClick, decision.Action)
}

func TestDecide_FastTierParseFailureFallsBackSilently(t *testing.T) {
	llm := new(mockLLM)
	// Request routed to the fast tier returns junk.
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.Tier == schemas.TierFast
	})).Return(generation("I would suggest clicking the blue button maybe?"), nil).Once()
	// Silent retry on the powerful tier succeeds.
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.Tier == schemas.TierPowerful
	})).Return(generation(`{"action": "click", "target": "Continue"}`), nil).Once()

	d := newTestDecider(t, llm, nil)
	req := decideReq(2)
	req.Prev = &schemas.ActionResult{Action: schemas.ActionClick, Success: true}

	decision, err := d.Decide(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, schemas.ActionClick, decision.Action)
	assert.Equal(t, "Continue", decision.Target)
	llm.AssertExpectations(t)
}

func TestDecide_UnparseableBecomesStuckDecision(t *testing.T) {
	llm := new(mockLLM)
	llm.On("Generate", mock.Anything, mock.Anything).
		Return(generation("total nonsense with no JSON whatsoever"), nil).Once()

	d := newTestDecider(t, llm, nil)
	decision, err := d.Decide(context.Background(), decideReq(0))

	require.NoError(t, err, "parse failure is never an error")
	assert.Equal(t, schemas.ActionStuck, decision.Action)
}

func TestDecide_UnknownActionBecomesStuckDecision(t *testing.T) {
	llm := new(mockLLM)
	llm.On("Generate", mock.Anything, mock.Anything).
		Return(generation(`{"action": "teleport", "target": "checkout"}`), nil).Once()

	d := newTestDecider(t, llm, nil)
	decision, err := d.Decide(context.Background(), decideReq(0))

	require.NoError(t, err)
	assert.Equal(t, schemas.ActionStuck, decision.Action)
}

func TestDecide_TransportFailuresBelowCapReturnWait(t *testing.T) {
	llm := new(mockLLM)
	llm.On("Generate", mock.Anything, mock.Anything).
		Return(nil, errors.New("connection reset")).Twice()

	d := newTestDecider(t, llm, nil)

	for i := 0; i < 2; i++ {
		decision, err := d.Decide(context.Background(), decideReq(i))
		require.NoError(t, err)
		assert.Equal(t, schemas.ActionWait, decision.Action)
	}
}

func TestDecide_TransportFailuresAtCapReturnOracleError(t *testing.T) {
	llm := new(mockLLM)
	llm.On("Generate", mock.Anything, mock.Anything).
		Return(nil, errors.New("connection reset")).Times(3)

	d := newTestDecider(t, llm, nil)

	for i := 0; i < 2; i++ {
		_, err := d.Decide(context.Background(), decideReq(i))
		require.NoError(t, err)
	}

	_, err := d.Decide(context.Background(), decideReq(2))
	require.Error(t, err)
	var oracleErr *OracleError
	require.True(t, errors.As(err, &oracleErr))
	assert.Equal(t, 3, oracleErr.Attempts)
}

func TestDecide_SuccessResetsFailureCounter(t *testing.T) {
	llm := new(mockLLM)
	llm.On("Generate", mock.Anything, mock.Anything).
		Return(nil, errors.New("boom")).Twice()
	llm.On("Generate", mock.Anything, mock.Anything).
		Return(generation(`{"action": "click", "target": "OK"}`), nil).Once()
	llm.On("Generate", mock.Anything, mock.Anything).
		Return(nil, errors.New("boom again")).Twice()

	d := newTestDecider(t, llm, nil)

	_, _ = d.Decide(context.Background(), decideReq(0))
	_, _ = d.Decide(context.Background(), decideReq(1))
	_, err := d.Decide(context.Background(), decideReq(2))
	require.NoError(t, err)

	// Two more failures must not trip the cap because the counter reset.
	for i := 3; i < 5; i++ {
		decision, err := d.Decide(context.Background(), decideReq(i))
		require.NoError(t, err)
		assert.Equal(t, schemas.ActionWait, decision.Action)
	}
}

func TestDecide_BudgetExceededPropagates(t *testing.T) {
	llm := new(mockLLM)
	result := generation(`{"action": "click", "target": "OK"}`)
	result.Usage.PromptTokens = 50_000_000 // $500 at powerful pricing, over the $100 cap
	llm.On("Generate", mock.Anything, mock.Anything).Return(result, nil).Once()

	d := newTestDecider(t, llm, nil)
	_, err := d.Decide(context.Background(), decideReq(0))

	require.Error(t, err)
	var budgetErr *BudgetExceededError
	assert.True(t, errors.As(err, &budgetErr))
}

func TestDecide_CostCallbackPanicIsSwallowed(t *testing.T) {
	llm := new(mockLLM)
	llm.On("Generate", mock.Anything, mock.Anything).
		Return(generation(`{"action": "click", "target": "OK"}`), nil).Once()

	d := newTestDecider(t, llm, func(action string, costUSD float64) {
		panic("reporting backend exploded")
	})

	decision, err := d.Decide(context.Background(), decideReq(0))
	require.NoError(t, err)
	assert.Equal(t, schemas.ActionClick, decision.Action)
}

func TestVerify_ParsesVerdict(t *testing.T) {
	llm := new(mockLLM)
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.Tier == schemas.TierPowerful
	})).Return(generation(`{"verified": false, "reason": "no confirmation banner visible"}`), nil).Once()

	d := newTestDecider(t, llm, nil)
	verdict, err := d.Verify(context.Background(), schemas.VerifyRequest{
		Goal:       "place an order",
		Criteria:   []string{"confirmation banner is shown"},
		Screenshot: []byte{0x89},
	})

	require.NoError(t, err)
	assert.False(t, verdict.Verified)
	assert.Contains(t, verdict.Reason, "confirmation banner")
}

func TestVerify_UnreadableVerdictFailsVerification(t *testing.T) {
	llm := new(mockLLM)
	llm.On("Generate", mock.Anything, mock.Anything).
		Return(generation("hmm, looks fine to me"), nil).Once()

	d := newTestDecider(t, llm, nil)
	verdict, err := d.Verify(context.Background(), schemas.VerifyRequest{Criteria: []string{"x"}})

	require.NoError(t, err)
	assert.False(t, verdict.Verified)
}
