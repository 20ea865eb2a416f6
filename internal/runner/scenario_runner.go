package runner

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/specterhq/specterqa/api/schemas"
	"github.com/specterhq/specterqa/internal/config"
	"github.com/specterhq/specterqa/internal/oracle"
	"github.com/specterhq/specterqa/internal/scenario"
)

// RunResult aggregates one scenario execution.
type RunResult struct {
	RunID        string               `json:"run_id"`
	ScenarioName string               `json:"scenario_name"`
	StartedAt    time.Time            `json:"started_at"`
	Duration     time.Duration        `json:"duration"`
	Steps        []schemas.StepResult `json:"steps"`
	Passed       bool                 `json:"passed"`
	// Error is set only for run-level failures such as budget exhaustion;
	// individual step failures live on the step results.
	Error   string  `json:"error,omitempty"`
	CostUSD float64 `json:"cost_usd"`
}

// ScenarioRunner executes scenario steps strictly in declaration order
// against one shared executor. Step failures are recorded and the run moves
// on; only run-level faults (cancellation, budget exhaustion) stop it.
type ScenarioRunner struct {
	stepRunner *StepRunner
	logger     *zap.Logger
}

// NewScenarioRunner wires an orchestrator around a single step runner.
func NewScenarioRunner(decider schemas.Decider, executor schemas.ActionExecutor, cfg config.RunnerConfig, logger *zap.Logger) *ScenarioRunner {
	return &ScenarioRunner{
		stepRunner: NewStepRunner(decider, executor, cfg, logger),
		logger:     logger.Named("scenario_runner"),
	}
}

// WithCostReporter attaches a spend source, propagated to every step.
func (sr *ScenarioRunner) WithCostReporter(c CostReporter) *ScenarioRunner {
	sr.stepRunner.WithCostReporter(c)
	return sr
}

// WithEscalationFunc attaches a stuck-detector observer.
func (sr *ScenarioRunner) WithEscalationFunc(f schemas.EscalationFunc) *ScenarioRunner {
	sr.stepRunner.WithEscalationFunc(f)
	return sr
}

// Run executes every step of the scenario in order. Captured variables flow
// forward into each step's goal and start URL.
func (sr *ScenarioRunner) Run(ctx context.Context, sc *scenario.Scenario) RunResult {
	start := time.Now()
	rr := RunResult{
		RunID:        uuid.NewString(),
		ScenarioName: sc.Name,
		StartedAt:    start,
	}

	vars := make(map[string]string, len(sc.Vars))
	for k, v := range sc.Vars {
		vars[k] = v
	}

	sr.logger.Info("Scenario started",
		zap.String("run_id", rr.RunID),
		zap.String("scenario", sc.Name),
		zap.Int("steps", len(sc.Steps)))

	for _, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			rr.Error = "run cancelled: " + err.Error()
			break
		}

		stepResult, err := sr.stepRunner.ExecuteStep(ctx, step, vars)
		rr.Steps = append(rr.Steps, stepResult)
		rr.CostUSD += stepResult.CostUSD

		if err != nil {
			var budgetErr *oracle.BudgetExceededError
			if errors.As(err, &budgetErr) {
				// Budget exhaustion ends the whole run, not just the step.
				rr.Error = budgetErr.Error()
				sr.logger.Error("Run budget exhausted",
					zap.String("run_id", rr.RunID),
					zap.Float64("spent_usd", budgetErr.SpentUSD))
				break
			}
			sr.logger.Warn("Step failed",
				zap.String("step_id", step.ID), zap.Error(err))
			continue
		}

		sr.logger.Info("Step finished",
			zap.String("step_id", step.ID),
			zap.Bool("passed", stepResult.Passed))
	}

	rr.Duration = time.Since(start)
	rr.Passed = rr.Error == "" && len(rr.Steps) == len(sc.Steps)
	for _, s := range rr.Steps {
		if !s.Passed {
			rr.Passed = false
		}
	}

	sr.logger.Info("Scenario finished",
		zap.String("run_id", rr.RunID),
		zap.Bool("passed", rr.Passed),
		zap.Duration("duration", rr.Duration),
		zap.Float64("cost_usd", rr.CostUSD))
	return rr
}
