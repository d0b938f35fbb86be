// ABOUTME: stats command: aggregates the tool call audit log over a recent window
// ABOUTME: Prints totals, success rate and a per-tool breakdown table

package main

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/2389/panorama/internal/middleware"
)

func newStatsCmd() *cobra.Command {
	var minutes int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show tool call statistics from the audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if minutes <= 0 {
				return fmt.Errorf("--minutes must be positive, got %d", minutes)
			}
			gw, _, _, err := loadGateway(cmd)
			if err != nil {
				return err
			}
			defer gw.Close()

			window := time.Duration(minutes) * time.Minute
			stats, err := middleware.Stats(cmd.Context(), gw.Store(), window, time.Now())
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), minutes, stats)
			return nil
		},
	}
	cmd.Flags().IntVarP(&minutes, "minutes", "m", int(middleware.DefaultStatsWindow/time.Minute), "window in minutes")
	return cmd
}

func printStats(w io.Writer, minutes int, stats *middleware.CallStats) {
	cyan := color.New(color.FgCyan)
	cyan.Fprintf(w, "Tool calls in the last %d minutes\n", minutes)

	if stats.TotalCalls == 0 {
		fmt.Fprintf(w, "%s\n", text.FgYellow.Sprint("No tool calls recorded"))
		return
	}

	fmt.Fprintf(w, "  total:        %d\n", stats.TotalCalls)
	fmt.Fprintf(w, "  success rate: %s\n", rateColor(stats.SuccessRate).Sprintf("%.1f%%", stats.SuccessRate*100))
	fmt.Fprintf(w, "  avg duration: %.0fms\n\n", stats.AvgDurationMs)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("TOOL"),
		text.FgHiCyan.Sprint("CALLS"),
		text.FgHiCyan.Sprint("ERRORS"),
		text.FgHiCyan.Sprint("AVG MS"),
	})

	names := make([]string, 0, len(stats.ByTool))
	for name := range stats.ByTool {
		names = append(names, name)
	}
	// Busiest tools first.
	slices.SortFunc(names, func(a, b string) int {
		if d := stats.ByTool[b].Calls - stats.ByTool[a].Calls; d != 0 {
			return d
		}
		if a < b {
			return -1
		}
		return 1
	})
	for _, name := range names {
		ts := stats.ByTool[name]
		errs := fmt.Sprint(ts.Errors)
		if ts.Errors > 0 {
			errs = text.FgRed.Sprint(ts.Errors)
		}
		t.AppendRow(table.Row{name, ts.Calls, errs, fmt.Sprintf("%.0f", ts.AvgDurationMs)})
	}
	t.Render()
}

func rateColor(rate float64) *color.Color {
	switch {
	case rate >= 0.9:
		return color.New(color.FgGreen)
	case rate >= 0.5:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}
