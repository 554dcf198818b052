package claim

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"dirjobs/internal/jobstore"
	"dirjobs/internal/logging"
)

// Handle is the capability for one claimed job. Complete and Fail are the
// only legal transitions; either one invalidates the handle.
type Handle struct {
	claimer   *Claimer
	name      string
	claimedAt time.Time
	attempts  Attempts

	mu       sync.Mutex
	state    jobstore.State
	resolved bool
}

// Complete moves the job to done.
func (h *Handle) Complete() error {
	return h.resolve(jobstore.StateDone)
}

// Fail moves the job to failed.
func (h *Handle) Fail() error {
	return h.resolve(jobstore.StateFailed)
}

func (h *Handle) resolve(target jobstore.State) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	logger := h.claimer.logger.With(logging.String(logging.FieldJob, h.name))
	if h.resolved {
		logging.ErrorWithContext(logger, "job handle already resolved", "handle_resolved",
			logging.String("state", string(h.state)),
			logging.String("requested", string(target)),
			logging.String(logging.FieldErrorHint, "resolve each handle exactly once"),
		)
		return fmt.Errorf("%w: %s is already %s", ErrHandleResolved, h.name, h.state)
	}

	store := h.claimer.store
	own := jobstore.RunningName(h.claimer.workerID, h.name)
	if err := store.Move(jobstore.StateRunning, own, target, h.name); err != nil {
		return err
	}

	h.state = target
	h.resolved = true
	h.claimer.clear(h)
	if target == jobstore.StateDone {
		logger.Debug("job finished", logging.String("path", h.pathLocked()))
	} else {
		logger.Debug("job failed", logging.String("path", h.pathLocked()))
	}
	return nil
}

// Name returns the job's base name, stable across states.
func (h *Handle) Name() string { return h.name }

// Stem returns the base name without its extension.
func (h *Handle) Stem() string {
	return strings.TrimSuffix(h.name, filepath.Ext(h.name))
}

// WorkerID returns the worker holding the job.
func (h *Handle) WorkerID() string { return h.claimer.workerID }

// ClaimedAt returns when arbitration succeeded.
func (h *Handle) ClaimedAt() time.Time { return h.claimedAt }

// Attempts returns the races lost on the way to this claim.
func (h *Handle) Attempts() Attempts { return h.attempts }

// State returns the job's current state.
func (h *Handle) State() jobstore.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Active reports whether the handle can still be resolved.
func (h *Handle) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.resolved
}

// Path returns the job file's current absolute path.
func (h *Handle) Path() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pathLocked()
}

func (h *Handle) pathLocked() string {
	store := h.claimer.store
	if h.state == jobstore.StateRunning {
		return store.Path(jobstore.StateRunning, jobstore.RunningName(h.claimer.workerID, h.name))
	}
	return store.Path(h.state, h.name)
}

// DisplayName renders the handle for logs.
func (h *Handle) DisplayName() string {
	return fmt.Sprintf("Job(%s)", h.Path())
}

func (h *Handle) String() string { return h.DisplayName() }
