package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"queue full is transient", ErrQueueFull, ErrorTransient},
		{"rate limited is transient", ErrRateLimited, ErrorTransient},
		{"context deadline is transient", context.DeadlineExceeded, ErrorTransient},
		{"handler not found is invalid", ErrHandlerNotFound, ErrorInvalid},
		{"illegal transition is invalid", ErrConnectionState, ErrorInvalid},
		{"missing config is fatal", ErrMissingConfig, ErrorFatal},
		{"reconnection exhausted is fatal", ErrReconnectionExhausted, ErrorFatal},
		{"unknown defaults to transient", New("something odd"), ErrorTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestWrapPreservesSentinel(t *testing.T) {
	wrapped := WrapTransient(ErrQueueFull, "Router", "Route", "enqueue")
	require.Error(t, wrapped)

	assert.True(t, Is(wrapped, ErrQueueFull))
	assert.True(t, IsTransient(wrapped))
	assert.Contains(t, wrapped.Error(), "Router.Route: enqueue failed")

	var ce *ClassifiedError
	require.True(t, As(wrapped, &ce))
	assert.Equal(t, "Router", ce.Component)
	assert.Equal(t, "Route", ce.Operation)
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
	assert.NoError(t, WrapInvalid(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
}

func TestClassifiedOverridesHeuristics(t *testing.T) {
	// An error whose text matches a transient pattern but that is
	// explicitly classified invalid stays invalid.
	err := WrapInvalid(fmt.Errorf("connection id malformed"), "Manager", "SetState", "validate")
	assert.True(t, IsInvalid(err))
	assert.False(t, IsTransient(err))
}
