package history

import "time"

// Outcome is the terminal state a job reached.
type Outcome string

const (
	OutcomeDone   Outcome = "done"
	OutcomeFailed Outcome = "failed"
)

// Entry is one processed job.
type Entry struct {
	ID                int64     `json:"id"`
	RunID             string    `json:"run_id"`
	WorkerID          string    `json:"worker_id"`
	Job               string    `json:"job"`
	Outcome           Outcome   `json:"outcome"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	ResultDir         string    `json:"result_dir,omitempty"`
	Error             string    `json:"error,omitempty"`
	Vanished          int       `json:"vanished"`
	ArbitrationLosses int       `json:"arbitration_losses"`
}

// Duration is the wall time between start and finish.
func (e Entry) Duration() time.Duration {
	if e.FinishedAt.Before(e.StartedAt) {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}
