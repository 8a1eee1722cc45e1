package message

// Type identifies the kind of traffic an envelope carries. The tag set
// is closed: ingress validation rejects anything outside it, so handler
// code never needs to re-inspect free-form fields.
type Type string

// Client-to-server message types
const (
	TypePing                Type = "ping"
	TypeSystemStatusRequest Type = "system_status_request"
	TypeChatMessage         Type = "chat_message"
)

// Server-to-client message types
const (
	TypePong               Type = "pong"
	TypeSystemStatusUpdate Type = "system_status_update"
	TypeChatResponse       Type = "chat_response"
	TypeConnectionStatus   Type = "connection_status"
	TypeError              Type = "error"
)

// IsInbound reports whether this type is accepted from clients.
func (t Type) IsInbound() bool {
	switch t {
	case TypePing, TypeSystemStatusRequest, TypeChatMessage:
		return true
	default:
		return false
	}
}

// IsOutbound reports whether this type is sent to clients.
func (t Type) IsOutbound() bool {
	switch t {
	case TypePong, TypeSystemStatusUpdate, TypeChatResponse, TypeConnectionStatus, TypeError:
		return true
	default:
		return false
	}
}

// IsValid reports whether the type belongs to the closed tag set.
func (t Type) IsValid() bool {
	return t.IsInbound() || t.IsOutbound()
}

// Priority orders envelopes in the router queue. Higher values are
// dispatched first; within one level ordering is strict FIFO.
type Priority int

// Priority levels, lowest to highest
const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// Levels returns all priority levels from highest to lowest, the order
// the router queue scans them in.
func Levels() []Priority {
	return []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}
}

// String returns the lowercase name of the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "unknown"
	}
}

// IsValid reports whether p is one of the defined levels.
func (p Priority) IsValid() bool {
	return p >= PriorityLow && p <= PriorityUrgent
}
