// Package connection tracks per-client connection lifecycle state. It
// enforces a strict state machine, drives automatic reconnection with
// exponential backoff and jitter, detects dead links through missed
// heartbeats, and queues outbound traffic in a bounded outbox while a
// client is offline, replaying it in order when the link returns.
package connection
