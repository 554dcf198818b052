package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"sort"
	"sync"
	"time"

	"dirjobs/internal/jobstore"
	"dirjobs/internal/logging"
)

var workerIDPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// ValidWorkerID reports whether id can be used as a worker identity.
func ValidWorkerID(id string) bool {
	return workerIDPattern.MatchString(id)
}

// Stats counts claim activity over the lifetime of a Claimer.
type Stats struct {
	Claims            int
	Vanished          int
	ArbitrationWins   int
	ArbitrationLosses int
}

// Attempts counts the races a single successful claim went through.
type Attempts struct {
	Vanished          int
	ArbitrationLosses int
}

// Claimer claims jobs from a Store on behalf of one worker. Claims are
// serialized; at most one Handle is active at a time.
type Claimer struct {
	store     *jobstore.Store
	workerID  string
	selection Selection
	sync      bool
	tolerance time.Duration
	filter    jobstore.Filter
	logger    *slog.Logger
	rng       *rand.Rand
	sleep     func(time.Duration)

	claimMu sync.Mutex

	mu     sync.Mutex
	active *Handle
	stats  Stats
}

// New validates workerID and builds a Claimer over store. The worker ID is
// checked before anything else, so an invalid ID never touches storage.
func New(store *jobstore.Store, workerID string, opts ...Option) (*Claimer, error) {
	if !ValidWorkerID(workerID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidWorkerID, workerID)
	}
	if store == nil {
		return nil, errors.New("claim: job store is nil")
	}
	c := &Claimer{
		store:     store,
		workerID:  workerID,
		selection: SelectRandom,
		tolerance: DefaultTolerance,
		logger:    logging.NewNop(),
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		sleep:     time.Sleep,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.logger = logging.NewComponentLogger(c.logger, "claim").With(logging.String(logging.FieldWorkerID, workerID))
	return c, nil
}

// WorkerID returns the identity this Claimer claims under.
func (c *Claimer) WorkerID() string { return c.workerID }

// Store returns the job store backing the Claimer.
func (c *Claimer) Store() *jobstore.Store { return c.store }

// Active returns the unresolved handle, if any.
func (c *Claimer) Active() *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Stats returns a snapshot of the claim counters.
func (c *Claimer) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Claim returns a handle for the next job this worker owns, or nil when no
// eligible job is waiting. Losing a race for a waiting entry or losing
// arbitration is not an error; Claim moves on to another job.
//
// With worker sync enabled Claim waits the tolerance interval after its move
// unless noWait is set. The wait is not cut short by ctx: once a job has been
// moved into running, Claim always reaches a verdict. ctx is checked before
// each selection.
func (c *Claimer) Claim(ctx context.Context, noWait bool) (*Handle, error) {
	c.claimMu.Lock()
	defer c.claimMu.Unlock()

	if active := c.Active(); active != nil {
		logging.ErrorWithContext(c.logger, "claim refused: resolve the active job first", "claim_outstanding",
			logging.String(logging.FieldJob, active.Name()),
			logging.String(logging.FieldErrorHint, "call Complete or Fail on the active handle"),
		)
		return nil, fmt.Errorf("%w: %s", ErrJobOutstanding, active.Name())
	}

	var attempts Attempts
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		jobs, err := c.store.ListWaiting(c.filter)
		if err != nil {
			return nil, err
		}
		if len(jobs) == 0 {
			c.logger.Debug("no eligible jobs waiting")
			return nil, nil
		}

		job := c.pick(jobs)
		c.logger.Debug("selected job",
			logging.String(logging.FieldJob, job),
			logging.Int("candidates", len(jobs)),
			logging.String("selection", c.selection.String()),
		)

		own := jobstore.RunningName(c.workerID, job)
		if err := c.store.Move(jobstore.StateWaiting, job, jobstore.StateRunning, own); err != nil {
			if errors.Is(err, jobstore.ErrVanished) {
				attempts.Vanished++
				c.count(func(s *Stats) { s.Vanished++ })
				logging.WarnWithContext(c.logger, "job no longer waiting; selecting another", "claim_vanished",
					logging.String(logging.FieldJob, job),
					logging.String(logging.FieldErrorHint, "another worker moved it first"),
					logging.String(logging.FieldImpact, "none; claim retries with a different job"),
				)
				continue
			}
			return nil, err
		}

		if !c.sync {
			return c.activate(job, attempts), nil
		}

		won, err := c.verify(job, noWait)
		if err != nil {
			return nil, err
		}
		if won {
			return c.activate(job, attempts), nil
		}
		attempts.ArbitrationLosses++
	}
}

func (c *Claimer) pick(jobs []string) string {
	if c.selection == SelectOrdered {
		sorted := append([]string(nil), jobs...)
		sort.Strings(sorted)
		return sorted[0]
	}
	return jobs[c.rng.IntN(len(jobs))]
}

// verify waits out the tolerance window and arbitrates between every worker
// holding a running entry for job. A loser removes its own entry.
func (c *Claimer) verify(job string, noWait bool) (bool, error) {
	if !noWait && c.tolerance > 0 {
		c.logger.Debug("waiting for concurrent claims to surface",
			logging.String(logging.FieldJob, job),
			logging.Duration("tolerance", c.tolerance),
		)
		c.sleep(c.tolerance)
	}

	own := jobstore.RunningName(c.workerID, job)
	entries, err := c.store.ListRunning(job)
	if err != nil {
		c.release(job)
		return false, err
	}

	contenders := make([]string, 0, len(entries))
	present := false
	for _, entry := range entries {
		contenders = append(contenders, entry.WorkerID)
		if entry.WorkerID == c.workerID {
			present = true
		}
	}
	if !present {
		logging.ErrorWithContext(c.logger, "own claim entry missing after move", "claim_lost",
			logging.String(logging.FieldJob, job),
			logging.Strings("contenders", contenders),
			logging.String(logging.FieldErrorHint, "check the queue mount for lost writes"),
		)
		return false, fmt.Errorf("%w: %s", ErrClaimLost, own)
	}
	if len(contenders) == 1 {
		return true, nil
	}

	sort.Strings(contenders)
	winner, won := Arbitrate(c.workerID, contenders)
	if won {
		c.count(func(s *Stats) { s.ArbitrationWins++ })
		c.logger.Info("won arbitration; keeping job",
			logging.String(logging.FieldJob, job),
			logging.Strings("contenders", contenders),
		)
		return true, nil
	}

	c.count(func(s *Stats) { s.ArbitrationLosses++ })
	c.logger.Info("lost arbitration; relinquishing job",
		logging.String(logging.FieldJob, job),
		logging.String("winner", winner),
		logging.Strings("contenders", contenders),
	)
	if err := c.store.Remove(jobstore.StateRunning, own); err != nil && !errors.Is(err, jobstore.ErrVanished) {
		return false, err
	}
	return false, nil
}

// release hands a job back to waiting when verification cannot complete.
// Returning it risks a duplicate run but never loses the job.
func (c *Claimer) release(job string) {
	own := jobstore.RunningName(c.workerID, job)
	if err := c.store.Move(jobstore.StateRunning, own, jobstore.StateWaiting, job); err != nil {
		logging.ErrorWithContext(c.logger, "could not return unverified claim to waiting", "claim_release_failed",
			logging.String(logging.FieldJob, job),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "move the running entry back to waiting by hand"),
		)
		return
	}
	logging.WarnWithContext(c.logger, "claim verification failed; job returned to waiting", "claim_released",
		logging.String(logging.FieldJob, job),
		logging.String(logging.FieldImpact, "job will be claimed again"),
	)
}

func (c *Claimer) activate(job string, attempts Attempts) *Handle {
	h := &Handle{
		claimer:   c,
		name:      job,
		state:     jobstore.StateRunning,
		claimedAt: time.Now(),
		attempts:  attempts,
	}
	c.mu.Lock()
	c.active = h
	c.stats.Claims++
	c.mu.Unlock()
	c.logger.Info("job claimed", logging.String(logging.FieldJob, job))
	return h
}

func (c *Claimer) clear(h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == h {
		c.active = nil
	}
}

func (c *Claimer) count(update func(*Stats)) {
	c.mu.Lock()
	update(&c.stats)
	c.mu.Unlock()
}
