package lifecycle

import "slices"

// State is a position in the service lifecycle:
//
//	unknown -> starting -> running -> stopping -> stopped
//	               \           \          \
//	                +-----------+----------+--> failed
//
// Stopped and failed services may be started again.
type State string

const (
	StateUnknown  State = "unknown"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

func (s State) String() string { return string(s) }

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal reports whether s is stopped or failed.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

var validTransitions = map[State][]State{
	StateUnknown:  {StateStarting, StateFailed},
	StateStarting: {StateRunning, StateFailed, StateStopping},
	StateRunning:  {StateStopping, StateFailed},
	StateStopping: {StateStopped, StateFailed},
	StateStopped:  {StateStarting},
	StateFailed:   {StateStarting},
}

// ValidTransition reports whether from may move to to. Self-transitions
// are never valid.
func ValidTransition(from, to State) bool {
	return from != to && slices.Contains(validTransitions[from], to)
}
