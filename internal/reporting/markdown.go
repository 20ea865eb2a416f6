package reporting

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/specterhq/specterqa/internal/oracle"
	"github.com/specterhq/specterqa/internal/runner"
)

// MarkdownReporter renders a human-readable run summary.
type MarkdownReporter struct {
	writer io.WriteCloser
}

// NewMarkdownReporter takes ownership of the writer.
func NewMarkdownReporter(w io.WriteCloser) *MarkdownReporter {
	return &MarkdownReporter{writer: w}
}

func (r *MarkdownReporter) Write(run *runner.RunResult, cost *oracle.CostSummary) error {
	var b strings.Builder

	verdict := "FAILED"
	if run.Passed {
		verdict = "PASSED"
	}
	passedSteps := 0
	for _, s := range run.Steps {
		if s.Passed {
			passedSteps++
		}
	}

	fmt.Fprintf(&b, "# Run Report: %s\n\n", run.ScenarioName)
	fmt.Fprintf(&b, "- **Result**: %s\n", verdict)
	fmt.Fprintf(&b, "- **Run ID**: %s\n", run.RunID)
	fmt.Fprintf(&b, "- **Started**: %s\n", run.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- **Duration**: %s\n", run.Duration.Round(1e7))
	fmt.Fprintf(&b, "- **Steps**: %d/%d passed\n", passedSteps, len(run.Steps))
	fmt.Fprintf(&b, "- **LLM cost**: $%.4f\n", run.CostUSD)
	if run.Error != "" {
		fmt.Fprintf(&b, "- **Run error**: %s\n", run.Error)
	}
	b.WriteString("\n## Steps\n\n")
	b.WriteString("| Step | Result | Actions | Duration | Cost |\n")
	b.WriteString("|------|--------|---------|----------|------|\n")
	for _, s := range run.Steps {
		mark := "FAIL"
		if s.Passed {
			mark = "PASS"
		}
		fmt.Fprintf(&b, "| %s | %s | %d | %.1fs | $%.4f |\n",
			s.StepID, mark, s.ActionCount, s.DurationSeconds, s.CostUSD)
	}

	for _, s := range run.Steps {
		if s.Error == "" && len(s.Findings) == 0 && len(s.UXObservations) == 0 && len(s.CheckpointsReached) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n### %s\n\n", s.StepID)
		if s.Error != "" {
			fmt.Fprintf(&b, "- Error: %s\n", s.Error)
		}
		for _, cp := range s.CheckpointsReached {
			fmt.Fprintf(&b, "- Checkpoint reached: %s\n", cp)
		}
		for _, f := range s.Findings {
			fmt.Fprintf(&b, "- Finding (%s): %s\n", f.Severity, f.Description)
		}
		for _, note := range s.UXObservations {
			fmt.Fprintf(&b, "- UX: %s\n", note)
		}
	}

	if cost != nil && cost.CallCount > 0 {
		b.WriteString("\n## LLM Usage\n\n")
		fmt.Fprintf(&b, "- Calls: %d\n", cost.CallCount)
		fmt.Fprintf(&b, "- Total: $%.4f", cost.TotalUSD)
		if cost.BudgetUSD > 0 {
			fmt.Fprintf(&b, " of $%.2f budget", cost.BudgetUSD)
		}
		b.WriteString("\n")

		models := make([]string, 0, len(cost.ByModel))
		for m := range cost.ByModel {
			models = append(models, m)
		}
		sort.Strings(models)
		for _, m := range models {
			fmt.Fprintf(&b, "- %s: $%.4f\n", m, cost.ByModel[m])
		}
	}

	_, err := io.WriteString(r.writer, b.String())
	if err != nil {
		return fmt.Errorf("failed to write markdown report: %w", err)
	}
	return nil
}

func (r *MarkdownReporter) Close() error {
	return r.writer.Close()
}
