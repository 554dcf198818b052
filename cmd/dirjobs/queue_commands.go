package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"dirjobs/internal/config"
	"dirjobs/internal/encodejob"
	"dirjobs/internal/jobstore"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and feed the job directories",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueAddCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the number of jobs per state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *jobstore.Store) error {
				counts, err := store.Counts()
				if err != nil {
					return err
				}
				if jsonOutput {
					out := make(map[string]int, len(counts))
					for state, n := range counts {
						out[string(state)] = n
					}
					return writeJSON(cmd, out)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"State", "Directory", "Count"},
					queueStatusRows(store, counts),
					[]columnAlignment{alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func queueStatusRows(store *jobstore.Store, counts map[jobstore.State]int) [][]string {
	rows := make([][]string, 0, len(counts))
	for _, state := range jobstore.AllStates() {
		dir, _ := store.Layout().Dir(state)
		rows = append(rows, []string{string(state), dir, strconv.Itoa(counts[state])})
	}
	return rows
}

type queueEntry struct {
	State  string `json:"state"`
	Job    string `json:"job"`
	Worker string `json:"worker,omitempty"`
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var states []string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, optionally filtered by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			selected, err := parseStates(states)
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, store *jobstore.Store) error {
				entries, err := listQueue(store, selected)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, entries)
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, []string{e.State, e.Job, e.Worker})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"State", "Job", "Worker"}, rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&states, "state", "s", nil, "States to list (waiting, running, done, failed)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func parseStates(values []string) ([]jobstore.State, error) {
	if len(values) == 0 {
		return jobstore.AllStates(), nil
	}
	known := make(map[string]jobstore.State)
	for _, state := range jobstore.AllStates() {
		known[string(state)] = state
	}
	states := make([]jobstore.State, 0, len(values))
	for _, v := range values {
		state, ok := known[strings.ToLower(strings.TrimSpace(v))]
		if !ok {
			return nil, fmt.Errorf("unknown state %q", v)
		}
		states = append(states, state)
	}
	return states, nil
}

func listQueue(store *jobstore.Store, states []jobstore.State) ([]queueEntry, error) {
	var entries []queueEntry
	for _, state := range states {
		names, err := store.List(state)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			entry := queueEntry{State: string(state), Job: name}
			if state == jobstore.StateRunning {
				if worker, job, ok := jobstore.ParseRunningName(name); ok {
					entry.Worker = worker
					entry.Job = job
				}
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func newQueueAddCommand(ctx *commandContext) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "add <file>...",
		Short: "Copy job descriptors into the waiting directory",
		Long: `Copy job descriptors into the waiting directory. Each file is checked as an
encode job descriptor first unless --raw is given. Names already present in
the queue are refused.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *jobstore.Store) error {
				out := cmd.OutOrStdout()
				var errs []error
				for _, path := range args {
					if !raw {
						desc, err := encodejob.Load(path)
						if err == nil {
							err = desc.Validate()
						}
						if err != nil {
							errs = append(errs, fmt.Errorf("%s: %w", path, err))
							continue
						}
					}
					name, err := store.Enqueue(path)
					if err != nil {
						errs = append(errs, fmt.Errorf("%s: %w", path, err))
						continue
					}
					fmt.Fprintf(out, "Queued %s\n", name)
				}
				return errors.Join(errs...)
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Skip descriptor validation")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job>...",
		Short: "Move failed jobs back to waiting",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *jobstore.Store) error {
				out := cmd.OutOrStdout()
				var errs []error
				for _, name := range args {
					if name != filepath.Base(name) {
						errs = append(errs, fmt.Errorf("%w: %q must be a plain file name", jobstore.ErrInvalidName, name))
						continue
					}
					err := store.Move(jobstore.StateFailed, name, jobstore.StateWaiting, name)
					switch {
					case errors.Is(err, jobstore.ErrVanished):
						fmt.Fprintf(out, "Job %s is not in failed\n", name)
					case err != nil:
						errs = append(errs, err)
					default:
						fmt.Fprintf(out, "Job %s moved to waiting\n", name)
					}
				}
				return errors.Join(errs...)
			})
		},
	}
}
