package preflight

import (
	"context"
	"fmt"
	"strings"

	"dirjobs/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, CheckQueueLayout(cfg.Paths.JobsDir)...)

	// Video inputs are only read, but the container backend mounts the
	// directory, so it must still be listable.
	results = append(results, CheckDirectoryReadable("Video directory", cfg.Paths.VideoDir))
	results = append(results, CheckDirectoryAccess("Tmp directory", cfg.Paths.TmpDir))
	results = append(results, CheckDirectoryAccess("Result directory", cfg.Paths.ResultDir))

	if cfg.Delivery.SSHFSDir != "" && !cfg.Worker.DryRun {
		results = append(results, CheckDirectoryAccess("SSHFS directory", cfg.Delivery.SSHFSDir))
	}

	for _, status := range CheckSystemDeps(ctx, cfg) {
		if status.Optional && !status.Available {
			continue
		}
		results = append(results, fromStatus(status))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

// Summarize joins failed results into one line suitable for an error message.
func Summarize(results []Result) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, fmt.Sprintf("%s: %s", r.Name, r.Detail))
	}
	return strings.Join(parts, "; ")
}
