package hostlink

import "sync/atomic"

// State is the host-link's server-state, broadcast via internal/events as
// notify_klippy_state_changed whenever it transitions.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateInitializing
	StateReady
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) set(s State) {
	b.v.Store(int32(s))
}

func (b *stateBox) get() State {
	return State(b.v.Load())
}

// Ready implements multiplexer.StateProvider.
func (b *stateBox) Ready() bool {
	return b.get() == StateReady
}
