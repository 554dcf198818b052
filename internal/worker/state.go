package worker

// State is the loop's position in its cycle.
type State string

const (
	StateIdle       State = "idle"
	StateClaiming   State = "claiming"
	StateProcessing State = "processing"
	StateResolving  State = "resolving"
	StateStopped    State = "stopped"
)

// Summary counts the jobs a loop resolved.
type Summary struct {
	Processed int
	Succeeded int
	Failed    int
}
