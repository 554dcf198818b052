package jobstore

import "fmt"

// State names one of the four queue directories.
type State string

const (
	StateWaiting State = "waiting"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// AllStates lists the queue states in lifecycle order.
func AllStates() []State {
	return []State{StateWaiting, StateRunning, StateDone, StateFailed}
}

// Terminal reports whether jobs in s are never read again by workers.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Layout maps states to directory names under the queue root. Producers,
// workers, and inspection tooling must agree on it.
type Layout struct {
	Waiting string
	Running string
	Done    string
	Failed  string
}

// DefaultLayout uses ordering prefixes so the directories sort by lifecycle.
func DefaultLayout() Layout {
	return Layout{
		Waiting: "00_waiting",
		Running: "01_running",
		Done:    "02_done",
		Failed:  "99_failed",
	}
}

// Dir returns the directory name for state.
func (l Layout) Dir(state State) (string, error) {
	switch state {
	case StateWaiting:
		return l.Waiting, nil
	case StateRunning:
		return l.Running, nil
	case StateDone:
		return l.Done, nil
	case StateFailed:
		return l.Failed, nil
	default:
		return "", fmt.Errorf("unknown job state %q", state)
	}
}

func (l Layout) validate() error {
	seen := make(map[string]State, 4)
	for _, state := range AllStates() {
		dir, _ := l.Dir(state)
		if dir == "" {
			return fmt.Errorf("layout: %s directory name is empty", state)
		}
		if other, ok := seen[dir]; ok {
			return fmt.Errorf("layout: %s and %s share directory %q", other, state, dir)
		}
		seen[dir] = state
	}
	return nil
}
