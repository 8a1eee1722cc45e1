package message

import (
	"time"

	"github.com/google/uuid"

	"github.com/c360/sessioncore/errors"
)

// Envelope is a typed unit of inbound or outbound traffic. Envelopes
// are immutable once enqueued: the router and handlers only ever read
// them, and they are dropped after handler completion, never persisted.
type Envelope struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	Type      Type      `json:"type"`
	Payload   Payload   `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
	Priority  Priority  `json:"priority"`
}

// NewEnvelope builds an envelope for a client message, assigning a
// fresh ID and timestamp. Priority defaults to PriorityNormal when the
// zero value is passed.
func NewEnvelope(clientID string, typ Type, payload Payload, priority Priority) Envelope {
	if priority == 0 {
		priority = PriorityNormal
	}
	return Envelope{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		Type:      typ,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		Priority:  priority,
	}
}

// Validate checks structural invariants. Payload validation happens
// separately at ingress (see ParseInbound); this only guards the
// envelope frame itself.
func (e Envelope) Validate() error {
	if e.ID == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "Envelope", "Validate", "missing id")
	}
	if e.ClientID == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "Envelope", "Validate", "missing client_id")
	}
	if !e.Type.IsValid() {
		return errors.WrapInvalid(errors.ErrInvalidData, "Envelope", "Validate", "unknown type "+string(e.Type))
	}
	if !e.Priority.IsValid() {
		return errors.WrapInvalid(errors.ErrInvalidData, "Envelope", "Validate", "invalid priority")
	}
	return nil
}
