// -- cmd/report.go --
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/specterhq/specterqa/internal/oracle"
	"github.com/specterhq/specterqa/internal/reporting"
	"github.com/specterhq/specterqa/internal/runner"
)

var (
	flagReportFormat string
	flagReportOutput string
)

var reportCmd = &cobra.Command{
	Use:   "report <run.json>",
	Short: "Re-render a saved JSON run report.",
	Long: `Report reads the JSON report produced by a previous run and renders it in
another format, typically markdown for humans.`,
	Args: cobra.ExactArgs(1),
	RunE: renderReport,
}

func init() {
	reportCmd.Flags().StringVarP(&flagReportFormat, "format", "f", "markdown", "output format (markdown|json)")
	reportCmd.Flags().StringVarP(&flagReportOutput, "output", "o", "", "output path (default stdout)")
	rootCmd.AddCommand(reportCmd)
}

// savedReport mirrors the JSON report envelope written by the run command.
type savedReport struct {
	Run  *runner.RunResult   `json:"run"`
	Cost *oracle.CostSummary `json:"cost,omitempty"`
}

func renderReport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read report file %s: %w", args[0], err)
	}

	var saved savedReport
	if err := json.Unmarshal(data, &saved); err != nil {
		return fmt.Errorf("failed to parse report file %s: %w", args[0], err)
	}
	if saved.Run == nil {
		return fmt.Errorf("report file %s has no run section", args[0])
	}

	rep, err := reporting.New(flagReportFormat, flagReportOutput)
	if err != nil {
		return err
	}
	if err := rep.Write(saved.Run, saved.Cost); err != nil {
		rep.Close()
		return err
	}
	return rep.Close()
}
