// -- cmd/run.go --
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/specterhq/specterqa/api/schemas"
	"github.com/specterhq/specterqa/internal/browser"
	"github.com/specterhq/specterqa/internal/config"
	"github.com/specterhq/specterqa/internal/llmclient"
	"github.com/specterhq/specterqa/internal/observability"
	"github.com/specterhq/specterqa/internal/oracle"
	"github.com/specterhq/specterqa/internal/reporting"
	"github.com/specterhq/specterqa/internal/runner"
	"github.com/specterhq/specterqa/internal/scenario"
)

var (
	flagHeadless    bool
	flagViewport    string
	flagMaxActions  int
	flagMaxDuration time.Duration
	flagOutputDir   string
)

var runCmd = &cobra.Command{
	Use:   "run <scenario.yaml>",
	Short: "Run a scenario against a live application.",
	Long: `Run executes every step of a scenario file through the observe, decide,
act loop: screenshots go to the vision oracle, its decisions are resolved
against the page, and the run ends when all steps finish, the budget is
spent, or the agent is judged stuck.`,
	Args: cobra.ExactArgs(1),
	RunE: runScenario,
}

func init() {
	runCmd.Flags().BoolVar(&flagHeadless, "headless", true, "run the browser headless")
	runCmd.Flags().StringVar(&flagViewport, "viewport", "", "viewport size as WIDTHxHEIGHT, e.g. 390x844")
	runCmd.Flags().IntVar(&flagMaxActions, "max-actions", 0, "override the per-step action cap")
	runCmd.Flags().DurationVar(&flagMaxDuration, "max-duration", 0, "override the per-step time cap")
	runCmd.Flags().StringVar(&flagOutputDir, "output-dir", "", "directory for run reports")
	rootCmd.AddCommand(runCmd)
}

func runScenario(cmd *cobra.Command, args []string) error {
	logger := observability.GetLogger()

	cfg, err := config.NewConfigFromViper(viper.GetViper())
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}

	sc, err := scenario.Load(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	router, err := llmclient.NewRouterFromConfig(cfg.Oracle(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM clients: %w", err)
	}

	costs := oracle.NewCostTracker(cfg.Oracle(), cfg.Budget(), logger)
	decider := oracle.NewPersonaDecider(cfg.Oracle(), router, costs, nil, logger)
	defer decider.Close()

	manager := browser.NewManager(cfg.Browser(), logger)
	defer manager.Shutdown()

	session, err := manager.NewSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	executor := browser.NewExecutor(session, cfg.Browser(), logger)

	sr := runner.NewScenarioRunner(decider, executor, cfg.Runner(), logger).
		WithCostReporter(costs).
		WithEscalationFunc(func(e schemas.EscalationEvent) {
			logger.Warn("Stuck detector escalation",
				zap.String("step_id", e.StepID),
				zap.String("level", string(e.Level)),
				zap.String("reason", e.Reason))
		})
	result := sr.Run(ctx, sc)
	costSummary := costs.Summary()

	if err := writeReports(cfg, &result, &costSummary, logger); err != nil {
		return err
	}

	if !result.Passed {
		if result.Error != "" {
			return fmt.Errorf("run %s failed: %s", result.RunID, result.Error)
		}
		return fmt.Errorf("run %s failed: one or more steps did not pass", result.RunID)
	}
	logger.Info("Run passed",
		zap.String("run_id", result.RunID),
		zap.Float64("cost_usd", result.CostUSD))
	return nil
}

// applyRunFlags lets explicit CLI flags override file and env configuration.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("headless") {
		cfg.SetBrowserHeadless(flagHeadless)
	}
	if flagViewport != "" {
		w, h, err := parseViewport(flagViewport)
		if err != nil {
			return err
		}
		cfg.SetBrowserViewport(w, h)
	}
	if flagMaxActions > 0 {
		cfg.SetRunnerMaxActions(flagMaxActions)
	}
	if flagMaxDuration > 0 {
		cfg.SetRunnerMaxDuration(flagMaxDuration)
	}
	if flagOutputDir != "" {
		cfg.ReportCfg.OutputDir = flagOutputDir
	}
	return nil
}

// parseViewport parses "WIDTHxHEIGHT".
func parseViewport(s string) (w, h int, err error) {
	parts := strings.SplitN(strings.ToLower(s), "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid viewport %q, expected WIDTHxHEIGHT", s)
	}
	if _, err := fmt.Sscanf(s, "%dx%d", &w, &h); err != nil || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("invalid viewport %q, expected WIDTHxHEIGHT", s)
	}
	return w, h, nil
}

// writeReports renders the run in every configured format.
func writeReports(cfg *config.Config, result *runner.RunResult, cost *oracle.CostSummary, logger *zap.Logger) error {
	outDir := cfg.Report().OutputDir
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create report directory %s: %w", outDir, err)
	}

	for _, format := range cfg.Report().Formats {
		path := filepath.Join(outDir, result.RunID+reportExtension(format))
		rep, err := reporting.New(format, path)
		if err != nil {
			return err
		}
		if err := rep.Write(result, cost); err != nil {
			rep.Close()
			return err
		}
		if err := rep.Close(); err != nil {
			return err
		}
		logger.Info("Report written", zap.String("format", format), zap.String("path", path))
	}
	return nil
}

func reportExtension(format string) string {
	switch format {
	case "json":
		return ".json"
	default:
		return ".md"
	}
}
