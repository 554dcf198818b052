// Package worker drives one worker process: claim a job, process it, move it
// to done or failed, repeat. The loop observes stop requests only between
// jobs, so a job that has started always runs to a terminal state.
package worker
