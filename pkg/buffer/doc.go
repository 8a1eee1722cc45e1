// Package buffer provides a generic, thread-safe bounded ring buffer
// with configurable overflow policies.
//
// # Overflow Policies
//
//   - DropOldest: evict the oldest item to make room (default)
//   - DropNewest: reject the incoming item with an error
//   - Block: Write blocks until a reader frees space
//
// The connection manager's offline outbox uses DropOldest so a client
// that stays offline keeps only its most recent messages in original
// relative order.
//
// # Observability
//
// Statistics (writes, reads, drops, size high-water mark) are always
// collected. Prometheus export is opt-in via WithMetrics:
//
//	outbox, err := buffer.New[message.Envelope](100,
//	    buffer.WithOverflowPolicy[message.Envelope](buffer.DropOldest),
//	    buffer.WithMetrics[message.Envelope](registry, "outbox"),
//	)
package buffer
