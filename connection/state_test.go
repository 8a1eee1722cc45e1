package connection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLegalTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateConnecting, StateConnected, true},
		{StateConnecting, StateFailed, true},
		{StateConnected, StateReconnecting, true},
		{StateConnected, StateOffline, true},
		{StateConnected, StateDisconnected, true},
		{StateReconnecting, StateConnected, true},
		{StateReconnecting, StateFailed, true},
		{StateOffline, StateConnected, true},
		{StateOffline, StateReconnecting, true},
		{StateFailed, StateConnecting, true},
		{StateFailed, StateReconnecting, true},

		{StateDisconnected, StateConnecting, false},
		{StateConnecting, StateOffline, false},
		{StateConnected, StateConnected, false},
		{StateConnected, StateConnecting, false},
		{StateDisconnected, StateConnected, false},
		{StateFailed, StateConnected, false},
		{StateOffline, StateFailed, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestStateValidity(t *testing.T) {
	for _, s := range States() {
		assert.True(t, s.IsValid(), s)
	}
	assert.False(t, State("bogus").IsValid())
	assert.False(t, State("").IsValid())
}
