package process

import "time"

// State is the lifecycle state of one instance slot.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateExited
	StateFatal
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateExited:
		return "EXITED"
	case StateFatal:
		return "FATAL"
	case StateStopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// Live reports whether a process is expected to exist in this state.
func (s State) Live() bool {
	return s == StateStarting || s == StateRunning || s == StateStopping
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// AllStates lists every state in declaration order.
var AllStates = []State{StateStopped, StateStarting, StateRunning, StateExited, StateFatal, StateStopping}

// Status is a read-only copy of an instance, safe to hand to other goroutines.
type Status struct {
	Name      string    `json:"name"`
	Index     int       `json:"index"`
	State     State     `json:"state"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	Restarts  int       `json:"restarts"`
	LastExit  string    `json:"last_exit,omitempty"`
	Error     string    `json:"error,omitempty"`
}
