package oracle

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/specterhq/specterqa/api/schemas"
	"github.com/specterhq/specterqa/internal/config"
	"github.com/specterhq/specterqa/internal/llmutil"
)

var jsonFast = jsoniter.ConfigCompatibleWithStandardLibrary

// OracleError wraps unrecoverable decision-oracle failures (transport errors
// past the consecutive-failure cap). Parse problems never surface as an
// OracleError; they degrade into a stuck decision instead.
type OracleError struct {
	Attempts int
	Err      error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("oracle failed %d consecutive times: %v", e.Attempts, e.Err)
}

func (e *OracleError) Unwrap() error { return e.Err }

// rawDecision is the wire shape of a decision before action normalization.
type rawDecision struct {
	Action       string `json:"action"`
	Target       string `json:"target"`
	Value        string `json:"value"`
	Reasoning    string `json:"reasoning"`
	Observation  string `json:"observation"`
	UXNotes      string `json:"ux_notes"`
	Checkpoint   string `json:"checkpoint"`
	GoalAchieved bool   `json:"goal_achieved"`
}

// PersonaDecider implements schemas.Decider on top of a tier-routed LLM
// client. It owns tier selection, rate limiting, response parsing and cost
// accounting. Not safe for concurrent use; each step runner drives one
// decider sequentially.
type PersonaDecider struct {
	logger  *zap.Logger
	llm     schemas.LLMClient
	limiter *rate.Limiter
	costs   *CostTracker
	costFn  schemas.CostFunc
	router  *tierRouter
	cfg     config.OracleConfig

	consecutiveFailures int
}

// NewPersonaDecider wires the decider. costFn may be nil.
func NewPersonaDecider(
	cfg config.OracleConfig,
	llm schemas.LLMClient,
	costs *CostTracker,
	costFn schemas.CostFunc,
	logger *zap.Logger,
) *PersonaDecider {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1.0
	}
	maxFailures := cfg.MaxConsecutiveAPIFailures
	if maxFailures <= 0 {
		maxFailures = 3
	}
	cfg.MaxConsecutiveAPIFailures = maxFailures

	return &PersonaDecider{
		logger:  logger.Named("oracle"),
		llm:     llm,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		costs:   costs,
		costFn:  costFn,
		router:  newTierRouter(logger, cfg.PowerfulEveryN),
		cfg:     cfg,
	}
}

// ResetStep clears per-step routing and failure state. The runner calls this
// once before each step's loop.
func (d *PersonaDecider) ResetStep() {
	d.router.reset()
	d.consecutiveFailures = 0
}

// Decide implements schemas.Decider. Transport failures below the
// consecutive-failure cap degrade into a benign wait decision so a flaky API
// does not kill an otherwise healthy step. Unparseable output degrades into
// a stuck decision, never an error.
func (d *PersonaDecider) Decide(ctx context.Context, req schemas.DecideRequest) (schemas.Decision, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return schemas.Decision{}, fmt.Errorf("rate limiter interrupted: %w", err)
	}

	tier := d.router.nextTier(req)
	genReq := d.buildGenerationRequest(req, tier)

	result, err := d.llm.Generate(ctx, genReq)
	if err != nil {
		return d.handleTransportFailure(ctx, err)
	}

	if cost, cerr := d.recordCost(result); cerr != nil {
		return schemas.Decision{}, cerr
	} else {
		d.notifyCost("decide", cost)
	}
	d.consecutiveFailures = 0

	decision, ok := d.parseDecision(result.Text)
	if !ok && tier == schemas.TierFast {
		// The cheap model garbled its output. Not a stuck signal: retry the
		// same request on the powerful tier, silently.
		d.logger.Debug("Fast tier response unparseable, falling back to powerful tier")
		genReq.Tier = schemas.TierPowerful
		retry, rerr := d.llm.Generate(ctx, genReq)
		if rerr != nil {
			return d.handleTransportFailure(ctx, rerr)
		}
		if cost, cerr := d.recordCost(retry); cerr != nil {
			return schemas.Decision{}, cerr
		} else {
			d.notifyCost("decide_fallback", cost)
		}
		decision, ok = d.parseDecision(retry.Text)
	}

	if !ok {
		// Both parsing strategies failed on the strongest tier. Synthesize a
		// stuck decision so the step's stuck accounting takes over.
		d.logger.Warn("Oracle response unparseable, synthesizing stuck decision",
			zap.Int("action_index", req.ActionIndex))
		decision = schemas.Decision{
			Action:    schemas.ActionStuck,
			Reasoning: "decision oracle returned an unparseable response",
		}
	}

	d.router.observe(decision)
	d.logger.Info("Oracle decision",
		zap.String("tier", string(tier)),
		zap.String("action", string(decision.Action)),
		zap.String("target", decision.ShortTarget()),
		zap.Bool("goal_achieved", decision.GoalAchieved),
	)
	return decision, nil
}

// Verify implements schemas.Decider. Verification always runs on the
// powerful tier against the same screenshot that claimed the goal.
func (d *PersonaDecider) Verify(ctx context.Context, req schemas.VerifyRequest) (schemas.VerificationResult, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return schemas.VerificationResult{}, fmt.Errorf("rate limiter interrupted: %w", err)
	}

	genReq := schemas.GenerationRequest{
		SystemPrompt: verificationSystemPrompt,
		UserPrompt:   buildVerificationPrompt(req.Goal, req.Criteria),
		Images:       []schemas.InlineImage{{MIMEType: "image/png", Data: req.Screenshot}},
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.1},
	}

	result, err := d.llm.Generate(ctx, genReq)
	if err != nil {
		return schemas.VerificationResult{}, fmt.Errorf("verification call failed: %w", err)
	}
	if cost, cerr := d.recordCost(result); cerr != nil {
		return schemas.VerificationResult{}, cerr
	} else {
		d.notifyCost("verify", cost)
	}

	verdict, perr := llmutil.ParseJSONResponse[schemas.VerificationResult](result.Text)
	if perr != nil {
		// An unreadable verdict counts as a failed verification, with the
		// parse problem as the reason.
		d.logger.Warn("Verification response unparseable", zap.Error(perr))
		return schemas.VerificationResult{
			Verified: false,
			Reason:   "verifier returned an unreadable verdict",
		}, nil
	}
	return *verdict, nil
}

// Close releases the underlying LLM client.
func (d *PersonaDecider) Close() error {
	return d.llm.Close()
}

// buildGenerationRequest assembles prompt text and screenshot attachment.
func (d *PersonaDecider) buildGenerationRequest(req schemas.DecideRequest, tier schemas.ModelTier) schemas.GenerationRequest {
	historyJSON := "[]"
	if len(req.History) > 0 {
		if b, err := jsonFast.Marshal(req.History); err == nil {
			historyJSON = string(b)
		}
	}

	prevError := ""
	if req.Prev != nil && !req.Prev.Success {
		prevError = req.Prev.Error
	}

	return schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   buildUserPrompt(req.Goal, historyJSON, prevError, req.StuckContext),
		Images:       []schemas.InlineImage{{MIMEType: "image/png", Data: req.Screenshot}},
		Tier:         tier,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.2},
	}
}

// parseDecision runs the tolerant parsing cascade: clean JSON extraction,
// then the prose action-object scan, then action normalization.
func (d *PersonaDecider) parseDecision(text string) (schemas.Decision, bool) {
	raw, err := llmutil.ParseJSONResponse[rawDecision](text)
	if err != nil {
		raw, err = llmutil.ExtractActionObject[rawDecision](text)
		if err != nil {
			return schemas.Decision{}, false
		}
	}

	action, err := schemas.NormalizeAction(raw.Action)
	if err != nil {
		d.logger.Warn("Oracle produced unrecognized action", zap.String("raw_action", raw.Action))
		return schemas.Decision{}, false
	}

	return schemas.Decision{
		Action:       action,
		Target:       raw.Target,
		Value:        raw.Value,
		Reasoning:    raw.Reasoning,
		Observation:  raw.Observation,
		UXNotes:      raw.UXNotes,
		Checkpoint:   raw.Checkpoint,
		GoalAchieved: raw.GoalAchieved,
	}, true
}

// handleTransportFailure implements the consecutive-failure policy: below
// the cap the loop continues with a benign wait, above it the step dies.
func (d *PersonaDecider) handleTransportFailure(ctx context.Context, err error) (schemas.Decision, error) {
	if ctx.Err() != nil {
		return schemas.Decision{}, ctx.Err()
	}

	d.consecutiveFailures++
	if d.consecutiveFailures >= d.cfg.MaxConsecutiveAPIFailures {
		return schemas.Decision{}, &OracleError{Attempts: d.consecutiveFailures, Err: err}
	}

	d.logger.Warn("Oracle call failed, waiting before next attempt",
		zap.Int("consecutive_failures", d.consecutiveFailures),
		zap.Error(err),
	)
	return schemas.Decision{
		Action:    schemas.ActionWait,
		Value:     "2",
		Reasoning: "decision oracle temporarily unavailable",
	}, nil
}

// recordCost prices the call against the budget.
func (d *PersonaDecider) recordCost(result *schemas.GenerationResult) (float64, error) {
	if d.costs == nil {
		return 0, nil
	}
	return d.costs.Record(result.Model, result.Usage)
}

// notifyCost invokes the cost callback, swallowing panics: reporting must
// never affect the loop.
func (d *PersonaDecider) notifyCost(action string, cost float64) {
	if d.costFn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Debug("Cost callback panicked", zap.Any("panic", r))
		}
	}()
	d.costFn(action, cost)
}
