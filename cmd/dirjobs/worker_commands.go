package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dirjobs/internal/config"
	"dirjobs/internal/workerrun"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Run and stop queue workers",
	}

	workerCmd.AddCommand(newWorkerRunCommand(ctx))
	workerCmd.AddCommand(newWorkerStopCommand(ctx))
	workerCmd.AddCommand(newWorkerResumeCommand(ctx))

	return workerCmd
}

type workerOverrides struct {
	workerID      string
	oneJob        bool
	dryRun        bool
	ordered       bool
	noSync        bool
	syncSeconds   int
	backend       string
	workerLog     bool
	logLevel      string
	skipPreflight bool
}

func newWorkerRunCommand(ctx *commandContext) *cobra.Command {
	var overrides workerOverrides

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Claim and process jobs until stopped",
		Long: `Claim and process jobs from the queue until the stop file appears or the
process receives SIGINT/SIGTERM. A job in progress always runs to completion.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			applyWorkerOverrides(cmd, cfg, overrides)
			if err := cfg.Validate(); err != nil {
				return err
			}

			summary, err := workerrun.Run(cmd.Context(), cfg, workerrun.Options{SkipPreflight: overrides.skipPreflight})
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Worker %s stopped: %d processed (%d succeeded, %d failed)\n",
				cfg.Worker.ID, summary.Processed, summary.Succeeded, summary.Failed)
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&overrides.workerID, "worker-id", "", "Worker identity (letters and digits)")
	flags.BoolVar(&overrides.oneJob, "one-job", false, "Exit after one job")
	flags.BoolVar(&overrides.dryRun, "dry-run", false, "Log the encode command without running it (implies --one-job)")
	flags.BoolVar(&overrides.ordered, "ordered", false, "Claim the lexicographically smallest job instead of a random one")
	flags.BoolVar(&overrides.noSync, "no-sync", false, "Skip claim verification (only safe with a single worker)")
	flags.IntVar(&overrides.syncSeconds, "sync-seconds", 0, "Claim verification window in seconds")
	flags.StringVar(&overrides.backend, "backend", "", "Encoder backend (container or drapto)")
	flags.BoolVar(&overrides.workerLog, "log", false, "Also write logs to worker_<id>.log in log_dir")
	flags.StringVar(&overrides.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.BoolVar(&overrides.skipPreflight, "skip-preflight", false, "Start without directory and binary checks")
	return cmd
}

// applyWorkerOverrides copies explicitly set flags over the loaded config.
func applyWorkerOverrides(cmd *cobra.Command, cfg *config.Config, o workerOverrides) {
	flags := cmd.Flags()
	if flags.Changed("worker-id") {
		cfg.Worker.ID = o.workerID
	}
	if flags.Changed("one-job") {
		cfg.Worker.OneJob = o.oneJob
	}
	if flags.Changed("dry-run") {
		cfg.Worker.DryRun = o.dryRun
	}
	if flags.Changed("ordered") {
		cfg.Worker.RandomSelection = !o.ordered
	}
	if flags.Changed("no-sync") {
		cfg.Worker.WorkerSync = !o.noSync
	}
	if flags.Changed("sync-seconds") {
		cfg.Worker.SyncSeconds = o.syncSeconds
	}
	if flags.Changed("backend") {
		cfg.Encoder.Backend = o.backend
	}
	if flags.Changed("log") {
		cfg.Logging.WorkerLog = o.workerLog
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
}

func newWorkerStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Create the stop file so workers exit after their current job",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := cfg.Worker.StopFile
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("create stop file: %w", err)
			}
			if err := file.Close(); err != nil {
				return fmt.Errorf("create stop file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s; workers started from this directory will stop after their current job\n", path)
			return nil
		},
	}
}

func newWorkerResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Remove the stop file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := cfg.Worker.StopFile
			if err := os.Remove(path); err != nil {
				if errors.Is(err, os.ErrNotExist) {
					fmt.Fprintf(cmd.OutOrStdout(), "No stop file at %s\n", path)
					return nil
				}
				return fmt.Errorf("remove stop file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", path)
			return nil
		},
	}
}
