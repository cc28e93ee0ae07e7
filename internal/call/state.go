package call

// State is the controller's connection lifecycle. The only move out of idle
// is into negotiating (after local media is up); closed is terminal and is
// also the landing spot of the error path from any state.
type State int32

const (
	StateIdle State = iota
	StateNegotiating
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
