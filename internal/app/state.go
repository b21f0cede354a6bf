package app

// State is the single pipeline state machine shared by every subsystem.
// Transitions: idle → acquiring → running → stopping → stopped | failed.
type State int32

const (
	StateIdle State = iota
	StateAcquiring
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
