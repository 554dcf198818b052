// Package claim turns "several workers may have just renamed the same job into
// running" into "exactly one worker proceeds".
//
// A Claimer picks an eligible waiting job, renames it into running under its
// own worker ID, and, when worker synchronisation is enabled, waits out the
// tolerance window before re-listing the running entries for that job. If
// several workers hold an entry, the lexicographically smallest worker ID
// wins; every other worker removes its own entry and tries another job. The
// winner receives a Handle, the only way to move the job to done or failed.
package claim
