package mcp

import "sync/atomic"

// State is the session lifecycle state, it only moves forward
type State int32

const (
	StateCreated State = iota
	StateInitializing
	StateReady
	StateClosing
	StateClosed
)

var stateNames = map[State]string{
	StateCreated:      "created",
	StateInitializing: "initializing",
	StateReady:        "ready",
	StateClosing:      "closing",
	StateClosed:       "closed",
}

func (s State) String() string {
	return stateNames[s]
}

type stateMachine struct {
	v atomic.Int32
}

func (m *stateMachine) Load() State {
	return State(m.v.Load())
}

// advance moves to the state if the current one precedes it,
// and returns false if another transition got there first.
func (m *stateMachine) advance(to State) bool {
	for {
		cur := m.v.Load()
		if State(cur) >= to {
			return false
		}
		if m.v.CompareAndSwap(cur, int32(to)) {
			return true
		}
	}
}
