package oracle

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/specterhq/specterqa/api/schemas"
	"github.com/specterhq/specterqa/internal/config"
)

// BudgetExceededError reports that the run's LLM spend cap was hit. It ends
// the whole run, not just the current step.
type BudgetExceededError struct {
	LimitUSD float64
	SpentUSD float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("LLM budget exceeded: spent $%.4f of $%.4f limit", e.SpentUSD, e.LimitUSD)
}

// APICall is one priced oracle invocation.
type APICall struct {
	Timestamp        time.Time `json:"timestamp"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	CostUSD          float64   `json:"cost_usd"`
}

// CostSummary aggregates spend for reporting.
type CostSummary struct {
	TotalUSD   float64   `json:"total_usd"`
	CallCount  int       `json:"call_count"`
	ByModel    map[string]float64 `json:"by_model"`
	BudgetUSD  float64   `json:"budget_usd"`
	Calls      []APICall `json:"calls,omitempty"`
}

// modelPricing is USD per million tokens.
type modelPricing struct {
	inputPerMTok  float64
	outputPerMTok float64
}

// CostTracker prices every oracle call against a per-run budget. Safe for
// concurrent use.
type CostTracker struct {
	mu      sync.Mutex
	logger  *zap.Logger
	pricing map[string]modelPricing
	budget  config.BudgetConfig
	calls   []APICall
	total   float64
	warned  bool
}

// NewCostTracker builds a tracker from the oracle model slots and the budget.
func NewCostTracker(oracleCfg config.OracleConfig, budget config.BudgetConfig, logger *zap.Logger) *CostTracker {
	pricing := map[string]modelPricing{
		oracleCfg.Fast.Model: {
			inputPerMTok:  oracleCfg.Fast.InputCostPerMTok,
			outputPerMTok: oracleCfg.Fast.OutputCostPerMTok,
		},
		oracleCfg.Powerful.Model: {
			inputPerMTok:  oracleCfg.Powerful.InputCostPerMTok,
			outputPerMTok: oracleCfg.Powerful.OutputCostPerMTok,
		},
	}
	return &CostTracker{
		logger:  logger.Named("cost_tracker"),
		pricing: pricing,
		budget:  budget,
	}
}

// Record prices one call and returns its incremental cost. When the running
// total crosses the budget cap it returns a BudgetExceededError; the call
// that crossed the line is still recorded.
func (t *CostTracker) Record(model string, usage schemas.TokenUsage) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.pricing[model] // unknown models price at zero
	cost := float64(usage.PromptTokens)*p.inputPerMTok/1e6 +
		float64(usage.CompletionTokens)*p.outputPerMTok/1e6

	t.calls = append(t.calls, APICall{
		Timestamp:        time.Now(),
		Model:            model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		CostUSD:          cost,
	})
	t.total += cost

	if t.budget.MaxUSD > 0 {
		warnAt := t.budget.MaxUSD * t.budget.WarnPercent / 100.0
		if !t.warned && t.budget.WarnPercent > 0 && t.total >= warnAt {
			t.warned = true
			t.logger.Warn("Approaching LLM budget",
				zap.Float64("spent_usd", t.total),
				zap.Float64("budget_usd", t.budget.MaxUSD),
			)
		}
		if t.total > t.budget.MaxUSD {
			return cost, &BudgetExceededError{LimitUSD: t.budget.MaxUSD, SpentUSD: t.total}
		}
	}
	return cost, nil
}

// TotalUSD returns the spend so far.
func (t *CostTracker) TotalUSD() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Summary snapshots the ledger for reporting.
func (t *CostTracker) Summary() CostSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	byModel := make(map[string]float64)
	for _, c := range t.calls {
		byModel[c.Model] += c.CostUSD
	}
	calls := make([]APICall, len(t.calls))
	copy(calls, t.calls)

	return CostSummary{
		TotalUSD:  t.total,
		CallCount: len(t.calls),
		ByModel:   byModel,
		BudgetUSD: t.budget.MaxUSD,
		Calls:     calls,
	}
}
