package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sessioncore/errors"
)

func TestParseInboundChat(t *testing.T) {
	raw := []byte(`{"type":"chat_message","data":{"message":"hello","conversation_id":"conv-1"}}`)

	env, err := ParseInbound("client-1", raw)
	require.NoError(t, err)

	assert.NotEmpty(t, env.ID)
	assert.Equal(t, "client-1", env.ClientID)
	assert.Equal(t, TypeChatMessage, env.Type)
	assert.Equal(t, PriorityNormal, env.Priority)
	assert.False(t, env.Timestamp.IsZero())

	payload, ok := env.Payload.(ChatPayload)
	require.True(t, ok)
	assert.Equal(t, "hello", payload.Message)
	assert.Equal(t, "conv-1", payload.ConversationID)
}

func TestParseInboundPreservesClientMessageID(t *testing.T) {
	raw := []byte(`{"message_id":"m-42","type":"ping","data":{}}`)

	env, err := ParseInbound("client-1", raw)
	require.NoError(t, err)
	assert.Equal(t, "m-42", env.ID)
}

func TestParseInboundExplicitPriority(t *testing.T) {
	raw := []byte(`{"type":"system_status_request","data":{"request_id":"r1"},"priority":3}`)

	env, err := ParseInbound("client-1", raw)
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, env.Priority)
}

func TestParseInboundRejectsOutboundType(t *testing.T) {
	raw := []byte(`{"type":"chat_response","data":{"content":"nope"}}`)

	_, err := ParseInbound("client-1", raw)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestParseInboundRejectsUnknownType(t *testing.T) {
	raw := []byte(`{"type":"shutdown_everything","data":{}}`)

	_, err := ParseInbound("client-1", raw)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestParseInboundRejectsSchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"chat without message", `{"type":"chat_message","data":{"conversation_id":"c"}}`},
		{"chat empty message", `{"type":"chat_message","data":{"message":""}}`},
		{"chat extra field", `{"type":"chat_message","data":{"message":"hi","admin":true}}`},
		{"status bad sections", `{"type":"system_status_request","data":{"sections":"all"}}`},
		{"invalid priority", `{"type":"ping","data":{},"priority":9}`},
		{"malformed json", `{"type":"chat_message","data":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseInbound("client-1", []byte(tt.raw))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestParseInboundMissingDataDefaultsToEmptyObject(t *testing.T) {
	// Ping carries no required fields, so an absent data block is fine.
	env, err := ParseInbound("client-1", []byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, TypePing, env.Type)

	// Chat requires a message, so the empty default must fail.
	_, err = ParseInbound("client-1", []byte(`{"type":"chat_message"}`))
	require.Error(t, err)
}

func TestEnvelopeValidate(t *testing.T) {
	env := NewEnvelope("client-1", TypeChatMessage, ChatPayload{Message: "hi"}, PriorityHigh)
	require.NoError(t, env.Validate())

	missing := env
	missing.ClientID = ""
	assert.Error(t, missing.Validate())

	badType := env
	badType.Type = "bogus"
	assert.Error(t, badType.Validate())

	badPriority := env
	badPriority.Priority = 7
	assert.Error(t, badPriority.Validate())
}

func TestNewEnvelopeDefaultsPriority(t *testing.T) {
	env := NewEnvelope("client-1", TypePing, PingPayload{}, 0)
	assert.Equal(t, PriorityNormal, env.Priority)
}

func TestLevelsOrderedHighestFirst(t *testing.T) {
	assert.Equal(t, []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}, Levels())
}

func TestPayloadTypeRoundTrip(t *testing.T) {
	payloads := []Payload{
		ChatPayload{},
		StatusRequestPayload{},
		PingPayload{},
		PongPayload{},
		ChatResponsePayload{},
		StatusUpdatePayload{},
		ConnectionStatusPayload{},
		ErrorPayload{},
	}
	for _, p := range payloads {
		assert.True(t, p.PayloadType().IsValid())
	}
}
