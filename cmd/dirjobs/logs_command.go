package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dirjobs/internal/claim"
	"dirjobs/internal/logging"
	"dirjobs/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var workerID string
	var lines int
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the per-worker log file",
		Long: `Show the per-worker log file written when logging.worker_log is enabled
(or the worker was started with --log).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			id := cfg.Worker.ID
			if workerID != "" {
				if !claim.ValidWorkerID(workerID) {
					return fmt.Errorf("%w: %q", claim.ErrInvalidWorkerID, workerID)
				}
				id = workerID
			}
			path := logging.WorkerLogPath(cfg.Paths.LogDir, id)
			out := cmd.OutOrStdout()

			if _, err := os.Stat(path); os.IsNotExist(err) && !follow {
				fmt.Fprintf(out, "No log at %s (enable logging.worker_log or run the worker with --log)\n", path)
				return nil
			}

			tail, offset, err := logs.Last(path, lines)
			if err != nil {
				return err
			}
			for _, line := range tail {
				fmt.Fprintln(out, line)
			}
			if !follow {
				return nil
			}

			followCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return logs.Follow(followCtx, path, offset, logs.DefaultPoll, func(line string) {
				fmt.Fprintln(out, line)
			})
		},
	}

	cmd.Flags().StringVar(&workerID, "worker-id", "", "Worker whose log to show (defaults to worker.id)")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines until interrupted")
	return cmd
}
