package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"dirjobs/internal/config"
	"dirjobs/internal/delivery"
	"dirjobs/internal/jobstore"
	"dirjobs/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, readiness checks and queue counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			fmt.Fprintln(out, renderSectionHeader("Worker", colorize))
			for _, line := range workerLines(ctx, cfg, colorize) {
				fmt.Fprintln(out, line)
			}

			results := preflight.RunAll(cmd.Context(), cfg)
			results = append(results, preflight.CheckSFTP(cmd.Context(), cfg))
			fmt.Fprintln(out)
			fmt.Fprintln(out, renderSectionHeader("Checks", colorize))
			for _, line := range checkLines(results, colorize) {
				fmt.Fprintln(out, line)
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, renderSectionHeader("Queue", colorize))
			// Status only reads; jobstore.New does not create the layout.
			store, err := jobstore.New(cfg.Paths.JobsDir, jobstore.WithExtension(cfg.Worker.JobExtension))
			if err != nil {
				fmt.Fprintln(out, renderStatusLine("Queue", statusError, err.Error(), colorize))
				return nil
			}
			counts, err := store.Counts()
			if err != nil {
				fmt.Fprintln(out, renderStatusLine("Queue", statusError, err.Error(), colorize))
				return nil
			}
			fmt.Fprint(out, renderTable(
				[]string{"State", "Directory", "Count"},
				queueStatusRows(store, counts),
				[]columnAlignment{alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
}

func workerLines(ctx *commandContext, cfg *config.Config, colorize bool) []string {
	configDetail := ctx.configPath
	if !ctx.configSeen {
		configDetail = "defaults (no file at " + ctx.configPath + ")"
	}
	lines := []string{
		renderStatusLine("Config", statusInfo, configDetail, colorize),
		renderStatusLine("Worker ID", statusInfo, cfg.Worker.ID, colorize),
		renderStatusLine("Queue root", statusInfo, cfg.Paths.JobsDir, colorize),
		renderStatusLine("Encoder", statusInfo, cfg.Encoder.Backend, colorize),
		renderStatusLine("Delivery", statusInfo, delivery.New(cfg).Target(), colorize),
		renderStatusLine("Worker sync", statusInfo, yesNo(cfg.SyncEnabled())+" ("+strconv.Itoa(cfg.Worker.SyncSeconds)+"s)", colorize),
		renderStatusLine("Dry run", statusInfo, yesNo(cfg.Worker.DryRun), colorize),
	}
	if _, err := os.Stat(cfg.Worker.StopFile); err == nil {
		lines = append(lines, renderStatusLine("Stop file", statusWarn, cfg.Worker.StopFile+" present; workers will exit", colorize))
	} else {
		lines = append(lines, renderStatusLine("Stop file", statusOK, "absent", colorize))
	}
	return lines
}
