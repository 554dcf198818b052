// Package notifications pushes worker events to ntfy.
//
// A failed job and a stopping worker are the two events operators care about
// when a fleet runs unattended. When no topic is configured NewService returns
// a no-op implementation, so callers never branch on whether notifications are
// enabled.
package notifications
