// Package errors provides the error taxonomy for the session core.
//
// # Error Classes
//
// Every error falls into one of three classes:
//
//   - Transient: temporary failures that may succeed on retry (queue
//     pressure, timeouts, lost connections)
//   - Invalid: caller mistakes that will never succeed on retry
//     (unknown message types, illegal state transitions)
//   - Fatal: unrecoverable conditions that should stop processing
//     (bad configuration, exhausted reconnection budgets)
//
// # Sentinel Errors
//
// Components return wrapped sentinel errors so callers can branch with
// errors.Is:
//
//	id, err := r.Route(ctx, clientID, env)
//	if errors.Is(err, errors.ErrQueueFull) {
//	    // apply backpressure to the transport
//	}
//
// # Wrapping Convention
//
// All wrapping follows "component.method: action failed: %w":
//
//	return errors.WrapTransient(err, "Router", "Route", "enqueue")
package errors
