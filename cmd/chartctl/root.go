package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"chart-analysis-backend/internal/bootstrap"
	"chart-analysis-backend/internal/shared/config"
	"chart-analysis-backend/internal/shared/telemetry"
)

var rootFlags struct {
	dataDir  string
	logLevel string
}

var rootCmd = &cobra.Command{
	Use:   "chartctl",
	Short: "Operate the daily chart analysis pipeline",
	Long:  "chartctl captures, analyzes, lists and prunes daily chart partitions\nusing the same configuration as the API server.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.dataDir, "data-dir", "", "Override DATA_DIR")
	pf.StringVar(&rootFlags.logLevel, "log-level", "", "Override LOG_LEVEL")

	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp loads configuration, wires the application and runs fn.
func withApp(cmd *cobra.Command, fn func(app *bootstrap.App) error) error {
	cfg := config.Load()
	if rootFlags.dataDir != "" {
		cfg.DataDir = rootFlags.dataDir
	}
	if rootFlags.logLevel != "" {
		cfg.LogLevel = rootFlags.logLevel
	}
	// CLI output goes to stdout; logs go to stderr.
	telemetry.SetOutput(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	// No HTTP server runs here, so trigger limiting is irrelevant.
	cfg.TriggerRatePerMinute = 0

	app, err := bootstrap.Build(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()
	return fn(app)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
