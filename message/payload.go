package message

import (
	"encoding/json"
	"time"

	"github.com/c360/sessioncore/errors"
)

// Payload is the tagged variant carried by an envelope. Each concrete
// payload corresponds to exactly one Type; conversion from free-form
// JSON happens once at ingress so downstream code works with concrete
// shapes.
type Payload interface {
	// PayloadType returns the envelope type this payload belongs to.
	PayloadType() Type
}

// ChatPayload carries a user chat message. Strategy optionally selects
// the response freshness/latency tradeoff; empty means the server
// default.
type ChatPayload struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
	Strategy       string `json:"strategy,omitempty"`
}

// PayloadType implements Payload.
func (ChatPayload) PayloadType() Type { return TypeChatMessage }

// StatusRequestPayload asks for a point-in-time system status snapshot.
type StatusRequestPayload struct {
	RequestID string   `json:"request_id,omitempty"`
	Sections  []string `json:"sections,omitempty"`
}

// PayloadType implements Payload.
func (StatusRequestPayload) PayloadType() Type { return TypeSystemStatusRequest }

// PingPayload is a liveness probe from the client.
type PingPayload struct {
	SentAt time.Time `json:"sent_at,omitempty"`
}

// PayloadType implements Payload.
func (PingPayload) PayloadType() Type { return TypePing }

// PongPayload answers a ping.
type PongPayload struct {
	EchoedAt time.Time `json:"echoed_at"`
}

// PayloadType implements Payload.
func (PongPayload) PayloadType() Type { return TypePong }

// ChatResponsePayload carries generated chat content back to a client.
type ChatResponsePayload struct {
	Content        string `json:"content"`
	ConversationID string `json:"conversation_id,omitempty"`
	FromCache      bool   `json:"from_cache,omitempty"`
}

// PayloadType implements Payload.
func (ChatResponsePayload) PayloadType() Type { return TypeChatResponse }

// StatusUpdatePayload carries a system status snapshot to a client.
// The snapshot content comes from the external metrics provider and is
// passed through opaque to the core.
type StatusUpdatePayload struct {
	RequestID string         `json:"request_id,omitempty"`
	Snapshot  map[string]any `json:"snapshot"`
	Stale     bool           `json:"stale,omitempty"` // true when served from offline cache
}

// PayloadType implements Payload.
func (StatusUpdatePayload) PayloadType() Type { return TypeSystemStatusUpdate }

// ConnectionStatusPayload notifies a client of its connection state.
type ConnectionStatusPayload struct {
	State string `json:"state"`
}

// PayloadType implements Payload.
func (ConnectionStatusPayload) PayloadType() Type { return TypeConnectionStatus }

// ErrorPayload reports a failure to a client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	RefID   string `json:"ref_id,omitempty"` // ID of the envelope that failed
}

// PayloadType implements Payload.
func (ErrorPayload) PayloadType() Type { return TypeError }

// rawInbound is the wire shape accepted from the transport layer.
type rawInbound struct {
	ID       string          `json:"message_id,omitempty"`
	Type     Type            `json:"type"`
	Data     json.RawMessage `json:"data"`
	Priority *Priority       `json:"priority,omitempty"`
}

// ParseInbound converts a raw inbound frame into a validated Envelope.
// The payload is validated against the JSON Schema for its type and
// decoded into the concrete payload struct, so this is the single point
// where free-form client data is inspected.
func ParseInbound(clientID string, raw []byte) (Envelope, error) {
	var frame rawInbound
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Envelope{}, errors.WrapInvalid(err, "Message", "ParseInbound", "decode frame")
	}

	if !frame.Type.IsInbound() {
		return Envelope{}, errors.WrapInvalid(errors.ErrInvalidData, "Message", "ParseInbound",
			"type "+string(frame.Type)+" not accepted from clients")
	}

	data := frame.Data
	if len(data) == 0 {
		data = []byte("{}")
	}
	if err := validatePayload(frame.Type, data); err != nil {
		return Envelope{}, err
	}

	var payload Payload
	switch frame.Type {
	case TypeChatMessage:
		var p ChatPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return Envelope{}, errors.WrapInvalid(err, "Message", "ParseInbound", "decode chat payload")
		}
		payload = p
	case TypeSystemStatusRequest:
		var p StatusRequestPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return Envelope{}, errors.WrapInvalid(err, "Message", "ParseInbound", "decode status payload")
		}
		payload = p
	case TypePing:
		var p PingPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return Envelope{}, errors.WrapInvalid(err, "Message", "ParseInbound", "decode ping payload")
		}
		payload = p
	}

	priority := PriorityNormal
	if frame.Priority != nil {
		if !frame.Priority.IsValid() {
			return Envelope{}, errors.WrapInvalid(errors.ErrInvalidData, "Message", "ParseInbound", "invalid priority")
		}
		priority = *frame.Priority
	}

	env := NewEnvelope(clientID, frame.Type, payload, priority)
	if frame.ID != "" {
		env.ID = frame.ID
	}
	return env, nil
}
