// Package workerrun assembles a worker process from configuration: it
// validates identity, takes the local worker lock, opens the job store, runs
// preflight checks, and wires the processing pipeline, history ledger and
// notifier into a worker loop.
//
// The CLI "dirjobs worker run" command is a thin wrapper around Run.
package workerrun
