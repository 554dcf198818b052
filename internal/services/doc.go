// Package services defines shared utilities consumed by the worker loop, the
// claim protocol, and the processing collaborators.
//
// Key responsibilities:
//   - Context helpers that stamp worker IDs, job names, stage names, and run
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so callers can tell
//     configuration faults, protocol violations, and external tool failures
//     apart with errors.Is.
//
// Use these helpers when wiring new collaborators so error handling and
// observability stay uniform across the worker.
package services
