package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"chart-analysis-backend/internal/bootstrap"
)

var captureFlags struct {
	analyze bool
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture today's chart",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(app *bootstrap.App) error {
			date, path, err := app.Pipeline.CaptureNow(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "captured %s -> %s\n", date, path)
			if !captureFlags.analyze {
				return nil
			}
			row, err := app.Pipeline.Analyze(cmd.Context(), date)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), row)
		})
	},
}

var analyzeFlags struct {
	date string
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze, annotate and store an already captured chart",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(app *bootstrap.App) error {
			row, err := app.Pipeline.Analyze(cmd.Context(), analyzeFlags.date)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), row)
		})
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daily capture, analyze and prune cycle once",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(app *bootstrap.App) error {
			row, err := app.Pipeline.RunDaily(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), row)
		})
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove partitions older than RETENTION_DAYS, archiving first when configured",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(app *bootstrap.App) error {
			res, err := app.Pipeline.Prune(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "removed:  %d\n", len(res.Removed))
			fmt.Fprintf(out, "archived: %d\n", len(res.Archived))
			fmt.Fprintf(out, "failed:   %d\n", len(res.Failed))
			for _, d := range res.Failed {
				fmt.Fprintf(out, "  kept %s\n", d)
			}
			return nil
		})
	},
}

func init() {
	captureCmd.Flags().BoolVar(&captureFlags.analyze, "analyze", false, "Analyze the chart after capturing it")
	analyzeCmd.Flags().StringVar(&analyzeFlags.date, "date", "", "Partition date YYYY-MM-DD (default today)")
}
