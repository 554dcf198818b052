package jobstore

import "errors"

var (
	// ErrVanished reports that the source of a move or removal no longer
	// exists, usually because another worker moved it first.
	ErrVanished = errors.New("job entry vanished")
	// ErrStorage wraps every other filesystem failure.
	ErrStorage = errors.New("job storage failure")
	// ErrDuplicate is returned by Enqueue when the job name is already known to the queue.
	ErrDuplicate = errors.New("job already queued")
	// ErrInvalidName is returned by Enqueue for names the queue cannot hold.
	ErrInvalidName = errors.New("invalid job name")
)
