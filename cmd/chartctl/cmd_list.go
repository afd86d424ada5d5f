package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"chart-analysis-backend/internal/analyses"
	"chart-analysis-backend/internal/bootstrap"
	"chart-analysis-backend/internal/filestore"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List date partitions, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(app *bootstrap.App) error {
			parts, err := app.Pipeline.Charts()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(parts) == 0 {
				fmt.Fprintln(out, "No partitions.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DATE\tORIGINAL\tANNOTATED\tANALYSIS\tFILES")
			for _, p := range parts {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					p.Date,
					mark(p.Has(filestore.OriginalChart)),
					mark(p.Has(filestore.AnnotatedChart)),
					mark(p.Has(filestore.RawAnalysis)),
					strings.Join(p.Files, ","),
				)
			}
			return tw.Flush()
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show [date|latest]",
	Short: "Print a stored analysis record",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := "latest"
		if len(args) == 1 {
			target = args[0]
		}
		return withApp(cmd, func(app *bootstrap.App) error {
			var (
				row analyses.Row
				err error
			)
			if target == "latest" {
				row, err = app.Pipeline.Latest(cmd.Context())
			} else {
				row, err = app.Pipeline.ByDate(cmd.Context(), target)
			}
			if err != nil {
				return fmt.Errorf("show %s: %w", target, err)
			}
			return printJSON(cmd.OutOrStdout(), row)
		})
	},
}

func mark(ok bool) string {
	if ok {
		return "yes"
	}
	return "-"
}
