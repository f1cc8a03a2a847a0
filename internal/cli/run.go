package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/riposte/internal/loadtest"
	"github.com/wesleyorama2/riposte/internal/loadtest/config"
	"github.com/wesleyorama2/riposte/internal/loadtest/metrics"
	"github.com/wesleyorama2/riposte/internal/output"
)

var (
	runConfigPath string
	runHost       string
	runUsers      int
	runSpawnRate  float64
	runDuration   time.Duration
	runIterations int64
	runDataPath   string
	runSchemaPath string
	runP95        time.Duration
	runErrorRate  float64
	runHeadless   bool
	runOutput     string
	runNoColor    bool
	runVerbose    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a batch workflow load test",
	Long: `Run executes the batch workflow load test: virtual users are spawned
at the configured rate, each repeatedly driving the upload, verify,
create, poll and retrieve steps against the target host.

Settings come from an optional YAML config file; any flag given on the
command line overrides the corresponding file setting.`,
	Example: `  riposte run --host http://localhost:8080 --users 10 --duration 1m
  riposte run --config loadtest.yaml --output report.json`,
	RunE: runLoadTest,
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "Path to YAML config file")
	runCmd.Flags().StringVar(&runHost, "host", "", "Target host base URL")
	runCmd.Flags().IntVarP(&runUsers, "users", "u", 0, "Number of virtual users")
	runCmd.Flags().Float64Var(&runSpawnRate, "spawn-rate", 0, "Virtual users spawned per second")
	runCmd.Flags().DurationVarP(&runDuration, "duration", "d", 0, "Test duration (mutually exclusive with --iterations)")
	runCmd.Flags().Int64VarP(&runIterations, "iterations", "i", 0, "Workflow iterations per virtual user")
	runCmd.Flags().StringVar(&runDataPath, "data", "", "Path to the JSONL batch input dataset")
	runCmd.Flags().StringVar(&runSchemaPath, "schema", "", "Path to a JSON schema validating each dataset record")
	runCmd.Flags().DurationVar(&runP95, "p95-threshold", 0, "P95 latency threshold (0 disables)")
	runCmd.Flags().Float64Var(&runErrorRate, "error-rate-threshold", 0, "Error rate threshold between 0 and 1 (0 disables)")
	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "Suppress progress output, print only the final verdict")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "Write the metrics report to this JSON file")
	runCmd.Flags().BoolVar(&runNoColor, "no-color", false, "Disable colored output")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Enable debug logging")
}

// buildConfig loads the config file (when given) and layers the
// command line flags on top.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := &config.Config{}
	if runConfigPath != "" {
		loaded, err := config.Load(runConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if cmd.Flags().Changed("host") {
		cfg.Host = runHost
	}
	if cmd.Flags().Changed("users") {
		cfg.Users = runUsers
	}
	if cmd.Flags().Changed("spawn-rate") {
		cfg.SpawnRate = runSpawnRate
	}
	if cmd.Flags().Changed("duration") {
		cfg.Duration = config.Duration(runDuration)
	}
	if cmd.Flags().Changed("iterations") {
		cfg.Iterations = runIterations
	}
	if cmd.Flags().Changed("data") {
		cfg.Dataset.Path = runDataPath
	}
	if cmd.Flags().Changed("schema") {
		cfg.Dataset.Schema = runSchemaPath
	}
	if cmd.Flags().Changed("p95-threshold") {
		p95 := config.Duration(runP95)
		cfg.Thresholds.P95 = &p95
	}
	if cmd.Flags().Changed("error-rate-threshold") {
		errorRate := runErrorRate
		cfg.Thresholds.ErrorRate = &errorRate
	}
	if cmd.Flags().Changed("headless") {
		cfg.Headless = runHeadless
	}
	if cmd.Flags().Changed("output") {
		cfg.Output = runOutput
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runLoadTest(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	console := output.NewConsole(output.ConsoleConfig{
		NoColor: runNoColor,
		Quiet:   cfg.Headless,
	})
	log := newLogger(runVerbose, cfg.Headless)

	runner, err := loadtest.NewRunner(cfg,
		loadtest.WithLogger(log),
		loadtest.WithSnapshotFunc(func(snap *metrics.Snapshot) {
			console.PrintProgress(snap)
		}),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	console.PrintHeader(cfg.Name, cfg.Host, cfg.Users)

	result, runErr := runner.Run(ctx)
	if result == nil {
		return runErr
	}

	console.PrintSummary(result)

	if cfg.Output != "" {
		if err := output.WriteReport(result, cfg.Output); err != nil {
			return err
		}
		log.Info().Str("path", cfg.Output).Msg("metrics report written")
	}

	if runErr != nil {
		return runErr
	}
	if !result.Verdict.Passed {
		return fmt.Errorf("thresholds not met: %d violation(s)", len(result.Verdict.Violations))
	}
	return nil
}
