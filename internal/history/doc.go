// Package history keeps a per-host ledger of the jobs this machine's workers
// processed, backed by SQLite in the log directory.
//
// The ledger is bookkeeping for operators only. Queue coordination never reads
// it; the directory tree stays the single source of truth for job state.
package history
