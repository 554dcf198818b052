package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dirjobs/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show jobs processed on this host",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, ctx, func(ledger *history.Store) error {
				entries, err := ledger.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					if entries == nil {
						entries = []history.Entry{}
					}
					return writeJSON(cmd, entries)
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No jobs recorded")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]string{"Finished", "Worker", "Job", "Outcome", "Duration", "Races", "Error"},
					historyRows(entries),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				summary, err := ledger.Summary(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Total: %d done, %d failed\n", summary[history.OutcomeDone], summary[history.OutcomeFailed])
				return nil
			})
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", history.DefaultLimit, "Number of entries to show")
	historyCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	historyCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete all history entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, ctx, func(ledger *history.Store) error {
				removed, err := ledger.Clear(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d history entries\n", removed)
				return nil
			})
		},
	})

	return historyCmd
}

func withHistory(cmd *cobra.Command, ctx *commandContext, fn func(*history.Store) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	ledger, err := history.Open(cmd.Context(), cfg.HistoryPath())
	if err != nil {
		return err
	}
	defer ledger.Close()
	return fn(ledger)
}

func historyRows(entries []history.Entry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		races := e.Vanished + e.ArbitrationLosses
		rows = append(rows, []string{
			e.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			e.WorkerID,
			e.Job,
			string(e.Outcome),
			e.Duration().Round(time.Second).String(),
			fmt.Sprintf("%d", races),
			truncate(firstLine(e.Error), 60),
		})
	}
	return rows
}

func firstLine(value string) string {
	line, _, _ := strings.Cut(value, "\n")
	return line
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
