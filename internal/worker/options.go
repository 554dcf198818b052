package worker

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"dirjobs/internal/history"
	"dirjobs/internal/notifications"
)

// Recorder stores a ledger entry per processed job.
type Recorder interface {
	Record(ctx context.Context, entry history.Entry) error
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the loop logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithSingleShot makes the loop exit after one job, or at once when the
// first claim finds nothing. Claims skip the tolerance wait in this mode.
func WithSingleShot(enabled bool) Option {
	return func(l *Loop) { l.singleShot = enabled }
}

// WithIdleRange sets the bounds of the random pause after an empty claim.
func WithIdleRange(minDelay, maxDelay time.Duration) Option {
	return func(l *Loop) {
		if minDelay < 0 {
			minDelay = 0
		}
		if maxDelay < minDelay {
			maxDelay = minDelay
		}
		l.idleMin, l.idleMax = minDelay, maxDelay
	}
}

// WithStopFile sets the sentinel path checked before every claim. An empty
// path disables the check.
func WithStopFile(path string) Option {
	return func(l *Loop) { l.stopFile = path }
}

// WithHistory records every resolved job.
func WithHistory(rec Recorder) Option {
	return func(l *Loop) { l.history = rec }
}

// WithNotifier publishes job failures and the final summary.
func WithNotifier(svc notifications.Service) Option {
	return func(l *Loop) {
		if svc != nil {
			l.notifier = svc
		}
	}
}

// WithRand supplies the random source for idle pauses.
func WithRand(rng *rand.Rand) Option {
	return func(l *Loop) {
		if rng != nil {
			l.rng = rng
		}
	}
}

// WithWait replaces the idle pause. wait must return early with ctx.Err()
// when ctx is done.
func WithWait(wait func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Loop) {
		if wait != nil {
			l.wait = wait
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
