// Package router dispatches inbound envelopes to type-specific
// handlers. Admission control (per-client rate limits), a bounded
// four-level priority queue, and a fixed worker pool sit between
// ingress and handler execution, so a flood of traffic or a misbehaving
// handler degrades service predictably instead of unboundedly.
package router
