// Package logging assembles structured slog loggers and formatting helpers used
// across the dirjobs worker and CLI.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so the worker loop and claim
// protocol can tag log lines with worker IDs, job names, and run IDs. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail.
package logging
