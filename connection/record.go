package connection

import (
	"time"

	"github.com/c360/sessioncore/message"
	"github.com/c360/sessioncore/pkg/buffer"
)

// Transition records one state change for diagnostics.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// record holds per-client connection bookkeeping. All fields are
// guarded by the manager's mutex; the outbox has its own locking.
type record struct {
	clientID string
	state    State

	connectedAt       time.Time
	lastHeartbeat     time.Time
	missedHeartbeats  int
	reconnectAttempts int
	autoReconnect     bool

	outbox  buffer.Buffer[message.Envelope]
	history []Transition

	// cancelReconnect stops the record's active reconnection loop, if
	// any. Nil when no loop is running.
	cancelReconnect func()
}

// Info is a read-only snapshot of a connection record.
type Info struct {
	ClientID          string       `json:"client_id"`
	State             State        `json:"state"`
	ConnectedAt       time.Time    `json:"connected_at,omitempty"`
	LastHeartbeat     time.Time    `json:"last_heartbeat,omitempty"`
	MissedHeartbeats  int          `json:"missed_heartbeats"`
	ReconnectAttempts int          `json:"reconnect_attempts"`
	AutoReconnect     bool         `json:"auto_reconnect"`
	OutboxDepth       int          `json:"outbox_depth"`
	History           []Transition `json:"history,omitempty"`
}

// snapshot copies the record into an Info. Caller holds the manager lock.
func (r *record) snapshot() Info {
	history := make([]Transition, len(r.history))
	copy(history, r.history)
	return Info{
		ClientID:          r.clientID,
		State:             r.state,
		ConnectedAt:       r.connectedAt,
		LastHeartbeat:     r.lastHeartbeat,
		MissedHeartbeats:  r.missedHeartbeats,
		ReconnectAttempts: r.reconnectAttempts,
		AutoReconnect:     r.autoReconnect,
		OutboxDepth:       r.outbox.Size(),
		History:           history,
	}
}

// recordTransition appends to the bounded history ring. Caller holds
// the manager lock.
func (r *record) recordTransition(from, to State, reason string, limit int) {
	r.history = append(r.history, Transition{
		From:   from,
		To:     to,
		At:     time.Now().UTC(),
		Reason: reason,
	})
	if limit > 0 && len(r.history) > limit {
		r.history = r.history[len(r.history)-limit:]
	}
}
