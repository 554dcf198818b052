package claim

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"dirjobs/internal/jobstore"
)

// Selection chooses among eligible waiting jobs.
type Selection int

const (
	// SelectRandom picks uniformly at random, spreading concurrent workers
	// across a large waiting set.
	SelectRandom Selection = iota
	// SelectOrdered picks the lexicographically smallest name.
	SelectOrdered
)

func (s Selection) String() string {
	if s == SelectOrdered {
		return "ordered"
	}
	return "random"
}

// DefaultTolerance is the synchronisation window used when none is configured.
const DefaultTolerance = time.Second

// Option configures a Claimer.
type Option func(*Claimer)

// WithSelection sets the job selection policy.
func WithSelection(selection Selection) Option {
	return func(c *Claimer) { c.selection = selection }
}

// WithWorkerSync enables delayed verification and arbitration.
func WithWorkerSync(enabled bool) Option {
	return func(c *Claimer) { c.sync = enabled }
}

// WithTolerance sets how long to wait before verifying a claim.
func WithTolerance(d time.Duration) Option {
	return func(c *Claimer) {
		if d >= 0 {
			c.tolerance = d
		}
	}
}

// WithFilter restricts which waiting jobs this worker considers.
func WithFilter(filter jobstore.Filter) Option {
	return func(c *Claimer) { c.filter = filter }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Claimer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRand supplies the random source for SelectRandom.
func WithRand(rng *rand.Rand) Option {
	return func(c *Claimer) {
		if rng != nil {
			c.rng = rng
		}
	}
}

// WithSleep replaces the tolerance sleep.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Claimer) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}
