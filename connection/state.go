package connection

// State is a client connection lifecycle state. Transitions are
// restricted to the table in legalTransitions; anything else is
// rejected without touching the record.
type State string

const (
	// StateConnecting is the initial handshake state.
	StateConnecting State = "connecting"
	// StateConnected means the client link is live.
	StateConnected State = "connected"
	// StateReconnecting means the link dropped and automatic recovery
	// is in progress.
	StateReconnecting State = "reconnecting"
	// StateOffline means the client is deliberately operating without a
	// link; outbound traffic queues in the outbox.
	StateOffline State = "offline"
	// StateFailed means reconnection attempts were exhausted.
	StateFailed State = "failed"
	// StateDisconnected is the terminal state after an orderly close.
	StateDisconnected State = "disconnected"
)

// States lists every state, used for gauge initialization.
func States() []State {
	return []State{
		StateConnecting,
		StateConnected,
		StateReconnecting,
		StateOffline,
		StateFailed,
		StateDisconnected,
	}
}

// String returns the state name.
func (s State) String() string { return string(s) }

// IsValid reports whether s is a defined state.
func (s State) IsValid() bool {
	switch s {
	case StateConnecting, StateConnected, StateReconnecting,
		StateOffline, StateFailed, StateDisconnected:
		return true
	default:
		return false
	}
}

// legalTransitions maps each state to the states it may move to.
// Disconnected is terminal; the record is destroyed on entry and a
// returning client must register again.
var legalTransitions = map[State][]State{
	StateConnecting:   {StateConnected, StateFailed, StateDisconnected},
	StateConnected:    {StateReconnecting, StateOffline, StateDisconnected},
	StateReconnecting: {StateConnected, StateFailed, StateOffline, StateDisconnected},
	StateOffline:      {StateConnected, StateReconnecting, StateDisconnected},
	StateFailed:       {StateConnecting, StateReconnecting, StateDisconnected},
	StateDisconnected: {},
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
