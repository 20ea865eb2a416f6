package runner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/specterhq/specterqa/api/schemas"
	"github.com/specterhq/specterqa/internal/config"
)

// CostReporter exposes the running spend so step results can carry their
// share of it. The oracle's cost tracker satisfies this.
type CostReporter interface {
	TotalUSD() float64
}

// stepResetter is implemented by deciders that keep per-step state.
type stepResetter interface {
	ResetStep()
}

// StepRunner executes one goal-directed step through the observe, decide,
// act loop. It owns the stuck detector state for the duration of the step
// and nothing beyond it.
type StepRunner struct {
	decider  schemas.Decider
	executor schemas.ActionExecutor
	cfg      config.RunnerConfig
	logger   *zap.Logger
	costs    CostReporter
	escalate schemas.EscalationFunc
}

// NewStepRunner wires a runner. costs and escalate may be nil.
func NewStepRunner(decider schemas.Decider, executor schemas.ActionExecutor, cfg config.RunnerConfig, logger *zap.Logger) *StepRunner {
	return &StepRunner{
		decider:  decider,
		executor: executor,
		cfg:      cfg,
		logger:   logger.Named("step_runner"),
	}
}

// WithCostReporter attaches a spend source for per-step cost attribution.
func (r *StepRunner) WithCostReporter(c CostReporter) *StepRunner {
	r.costs = c
	return r
}

// WithEscalationFunc attaches an observer for stuck-detector transitions.
func (r *StepRunner) WithEscalationFunc(f schemas.EscalationFunc) *StepRunner {
	r.escalate = f
	return r
}

// ExecuteStep runs one step to completion. The StepResult is always
// populated; the error, when non-nil, is one of the typed step errors
// (StuckError, VerificationError, oracle.BudgetExceededError, oracle
// transport errors) for the caller to pattern-match with errors.As.
func (r *StepRunner) ExecuteStep(ctx context.Context, step schemas.Step, capturedVars map[string]string) (result schemas.StepResult, stepErr error) {
	start := time.Now()
	result = schemas.StepResult{StepID: step.ID}

	defer func() {
		if rec := recover(); rec != nil {
			result.Error = fmt.Sprintf("step runner panicked: %v", rec)
			stepErr = fmt.Errorf("step runner panicked: %v", rec)
			r.logger.Error("Recovered from panic in step loop",
				zap.String("step_id", step.ID), zap.Any("panic", rec))
		}
		result.Finalize(start)
	}()

	maxActions := step.MaxActions
	if maxActions <= 0 {
		maxActions = r.cfg.MaxActions
	}
	maxDuration := time.Duration(step.MaxDurationSeconds) * time.Second
	if maxDuration <= 0 {
		maxDuration = r.cfg.MaxDuration
	}
	deadline := start.Add(maxDuration)

	goal := applyVars(step.Goal, capturedVars)
	startURL := applyVars(step.StartURL, capturedVars)

	r.logger.Info("Step started",
		zap.String("step_id", step.ID),
		zap.String("goal", goal),
		zap.Int("max_actions", maxActions),
		zap.Duration("max_duration", maxDuration))

	if rs, ok := r.decider.(stepResetter); ok {
		rs.ResetStep()
	}

	costBefore := 0.0
	if r.costs != nil {
		costBefore = r.costs.TotalUSD()
	}
	defer func() {
		if r.costs != nil {
			result.CostUSD = r.costs.TotalUSD() - costBefore
		}
	}()

	if startURL != "" {
		if err := r.executor.Navigate(ctx, startURL); err != nil {
			result.Error = fmt.Sprintf("failed to open start URL %s: %v", startURL, err)
			return result, nil
		}
	}

	detector := newStuckDetector(step, r.cfg, r.logger, r.escalate)

	var (
		history      []schemas.ActionRecord
		prev         *schemas.ActionResult
		forceTier    schemas.ModelTier
		stuckContext string
	)

	for i := 0; i < maxActions; i++ {
		if err := ctx.Err(); err != nil {
			result.Error = fmt.Sprintf("step cancelled: %v", err)
			return result, nil
		}
		if time.Now().After(deadline) {
			result.Error = fmt.Sprintf("Step timed out after %v without achieving goal", maxDuration)
			r.captureFinalScreenshot(ctx, &result)
			return result, nil
		}

		shot, err := r.executor.Screenshot(ctx)
		if err != nil {
			r.logger.Warn("Screenshot capture failed", zap.Int("action_index", i), zap.Error(err))
			shot = nil
		} else {
			result.Screenshots = append(result.Screenshots, shot)
		}

		status := detector.observeFingerprint(fingerprintOf(shot, i), i)
		if status.Abort {
			serr := &StuckError{StepID: step.ID, Reason: status.Reason}
			result.Error = serr.Error()
			result.Findings = append(result.Findings, schemas.Finding{
				StepID: step.ID, Severity: "error", Description: status.Reason,
			})
			r.captureFinalScreenshot(ctx, &result)
			return result, serr
		}
		if status.Escalate {
			forceTier = schemas.TierPowerful
			stuckContext = status.Context
		}

		decision, derr := r.decider.Decide(ctx, schemas.DecideRequest{
			StepID:       step.ID,
			Goal:         goal,
			Screenshot:   shot,
			History:      history,
			ActionIndex:  i,
			Prev:         prev,
			ForceTier:    forceTier,
			StuckContext: stuckContext,
		})
		if derr != nil {
			result.Error = derr.Error()
			return result, derr
		}
		forceTier, stuckContext = "", ""

		if decision.UXNotes != "" {
			result.UXObservations = append(result.UXObservations, decision.UXNotes)
		}
		if decision.Checkpoint != "" && !containsString(result.CheckpointsReached, decision.Checkpoint) {
			result.CheckpointsReached = append(result.CheckpointsReached, decision.Checkpoint)
			r.logger.Info("Checkpoint reached",
				zap.String("step_id", step.ID), zap.String("checkpoint", decision.Checkpoint))
		}

		if decision.GoalAchieved || decision.Action == schemas.ActionDone {
			if len(step.SuccessCriteria) == 0 {
				result.GoalAchieved = true
				return result, nil
			}

			verdict, verr := r.decider.Verify(ctx, schemas.VerifyRequest{
				StepID:     step.ID,
				Goal:       goal,
				Criteria:   step.SuccessCriteria,
				Screenshot: shot,
			})
			if verr != nil {
				result.Error = verr.Error()
				return result, verr
			}
			if verdict.Verified {
				result.GoalAchieved = true
				return result, nil
			}

			failures := detector.recordVerificationFailure()
			result.Findings = append(result.Findings, schemas.Finding{
				StepID:      step.ID,
				Severity:    "warning",
				Description: fmt.Sprintf("completion claim failed verification: %s", verdict.Reason),
			})
			r.logger.Warn("Verification failed",
				zap.String("step_id", step.ID),
				zap.Int("failures", failures),
				zap.String("reason", verdict.Reason))

			if failures >= r.cfg.MaxVerificationFailures {
				ferr := &VerificationError{StepID: step.ID, Failures: failures, LastReason: verdict.Reason}
				result.Error = ferr.Error()
				return result, ferr
			}

			// Re-inject the failure so the oracle addresses it instead of
			// re-claiming success. This branch does not consume an action.
			goal = fmt.Sprintf("%s\n\nNOTE: a previous completion claim failed verification: %s. Resolve this before declaring the goal achieved.",
				applyVars(step.Goal, capturedVars), verdict.Reason)
			i--
			continue
		}

		if decision.Action == schemas.ActionStuck {
			abort, reason := detector.observeStuckDecision(r.cfg.MaxConsecutiveStuck)
			if abort {
				serr := &StuckError{StepID: step.ID, Reason: reason}
				result.Error = serr.Error()
				result.Findings = append(result.Findings, schemas.Finding{
					StepID: step.ID, Severity: "error", Description: reason,
				})
				r.captureFinalScreenshot(ctx, &result)
				return result, serr
			}
			history = appendBounded(history, schemas.ActionRecord{
				Action:  decision.Action,
				Target:  decision.Target,
				Success: false,
				Error:   "agent reported stuck",
			}, r.cfg.HistorySize)
			continue
		}
		detector.resetStuckDecisions()

		actionResult := r.executor.Execute(ctx, decision)
		prev = &actionResult

		record := schemas.ActionRecord{
			Action:  decision.Action,
			Target:  decision.Target,
			Value:   decision.Value,
			Success: actionResult.Success,
			Error:   actionResult.Error,
		}
		result.ActionsTaken = append(result.ActionsTaken, record)
		history = appendBounded(history, record, r.cfg.HistorySize)

		status = detector.observeResult(decision, actionResult, i)
		if status.Abort {
			serr := &StuckError{StepID: step.ID, Reason: status.Reason}
			result.Error = serr.Error()
			result.Findings = append(result.Findings, schemas.Finding{
				StepID: step.ID, Severity: "error", Description: status.Reason,
			})
			r.captureFinalScreenshot(ctx, &result)
			return result, serr
		}
		if status.Escalate {
			forceTier = schemas.TierPowerful
			stuckContext = status.Context
		}

		r.settle(ctx)
	}

	result.Error = fmt.Sprintf("Max actions (%d) reached without achieving goal", maxActions)
	r.captureFinalScreenshot(ctx, &result)
	return result, nil
}

// settle pauses briefly after an action so asynchronous UI updates land
// before the next observation.
func (r *StepRunner) settle(ctx context.Context) {
	if r.cfg.SettleDelay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(r.cfg.SettleDelay):
	}
}

// captureFinalScreenshot records the closing state of a failed step.
func (r *StepRunner) captureFinalScreenshot(ctx context.Context, result *schemas.StepResult) {
	shot, err := r.executor.Screenshot(ctx)
	if err != nil {
		r.logger.Debug("Final screenshot capture failed", zap.Error(err))
		return
	}
	result.Screenshots = append(result.Screenshots, shot)
}

// fingerprintOf hashes a screenshot into a state fingerprint. A failed
// capture yields a per-iteration value so it can never register as a repeat.
func fingerprintOf(shot []byte, actionIndex int) string {
	if len(shot) == 0 {
		return fmt.Sprintf("capture-miss-%d", actionIndex)
	}
	sum := sha256.Sum256(shot)
	return hex.EncodeToString(sum[:])
}

// applyVars substitutes {{name}} placeholders with captured variables.
func applyVars(s string, vars map[string]string) string {
	if s == "" || len(vars) == 0 {
		return s
	}
	for name, value := range vars {
		s = strings.ReplaceAll(s, "{{"+name+"}}", value)
	}
	return s
}

// appendBounded appends while keeping the slice at most size entries.
func appendBounded(history []schemas.ActionRecord, rec schemas.ActionRecord, size int) []schemas.ActionRecord {
	history = append(history, rec)
	if size > 0 && len(history) > size {
		history = history[len(history)-size:]
	}
	return history
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
