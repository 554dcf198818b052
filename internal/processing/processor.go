package processing

import (
	"context"
	"time"
)

// Job is the view of a claimed job a processor needs.
type Job interface {
	Name() string
	Stem() string
	Path() string
}

// Outcome summarises one processing run.
type Outcome struct {
	Success   bool
	ResultDir string
	TmpDir    string
	Message   string
	Runtime   time.Duration
}

// Processor performs the work behind a job.
type Processor interface {
	Process(ctx context.Context, job Job) (Outcome, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, job Job) (Outcome, error)

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, job Job) (Outcome, error) {
	return f(ctx, job)
}
