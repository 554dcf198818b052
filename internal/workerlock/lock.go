// Package workerlock keeps two processes on one host from running under the
// same worker ID. The queue itself is never locked; this only guards the
// uniqueness of worker IDs locally.
package workerlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"dirjobs/internal/services"
)

// ErrHeld reports that another local process already owns the lock.
var ErrHeld = fmt.Errorf("%w: worker lock held by another process", services.ErrConfiguration)

// Lock is an acquired worker lock.
type Lock struct {
	path string
	lock *flock.Flock
}

// Acquire takes the lock at path without blocking.
func Acquire(path string) (*Lock, error) {
	if path == "" {
		return nil, errors.New("worker lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHeld, path)
	}
	return &Lock{path: path, lock: fl}, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Release unlocks and leaves the lock file in place for the next run.
func (l *Lock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
