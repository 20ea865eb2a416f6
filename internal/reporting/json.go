package reporting

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/specterhq/specterqa/internal/oracle"
	"github.com/specterhq/specterqa/internal/runner"
)

// jsonReport is the machine-readable report envelope.
type jsonReport struct {
	Run  *runner.RunResult   `json:"run"`
	Cost *oracle.CostSummary `json:"cost,omitempty"`
}

// JSONReporter writes the run result as indented JSON.
type JSONReporter struct {
	writer io.WriteCloser
}

// NewJSONReporter takes ownership of the writer.
func NewJSONReporter(w io.WriteCloser) *JSONReporter {
	return &JSONReporter{writer: w}
}

func (r *JSONReporter) Write(run *runner.RunResult, cost *oracle.CostSummary) error {
	enc := json.NewEncoder(r.writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(jsonReport{Run: run, Cost: cost}); err != nil {
		return fmt.Errorf("failed to write JSON report: %w", err)
	}
	return nil
}

func (r *JSONReporter) Close() error {
	return r.writer.Close()
}
