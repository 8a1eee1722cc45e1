// Package sessioncore provides the session handling backbone for an
// interactive query/response service: message routing, connection
// lifecycle management, and response optimization.
//
// # Architecture
//
// Inbound client traffic flows through three cooperating components:
//
//	┌─────────────────────────────────────┐
//	│          Message Router             │  Priority queue,
//	│  (admission, dispatch, isolation)   │  fixed worker pool
//	└─────────────────────────────────────┘
//	           ↓ handlers call into
//	┌──────────────────┐  ┌───────────────────┐
//	│    Connection    │  │     Response      │
//	│     Manager      │  │     Optimizer     │
//	│ (state machine,  │  │ (fingerprint      │
//	│  reconnection,   │  │  cache, strategy  │
//	│  offline outbox) │  │  TTLs, coalescing)│
//	└──────────────────┘  └───────────────────┘
//
// The router admits envelopes through per-client rate limits into a
// bounded four-level priority queue and dispatches them on a fixed
// worker pool, isolating slow, failing, or panicking handlers from the
// rest of the traffic.
//
// The connection manager tracks each client through a strict state
// machine (connecting, connected, reconnecting, offline, failed,
// disconnected), reconnects with exponential backoff and jitter,
// detects dead links via missed heartbeats, and queues outbound
// messages in a bounded outbox while a client is offline, replaying
// them in order exactly once on recovery.
//
// The response optimizer serves generated responses from an LRU+TTL
// cache keyed by a deterministic request fingerprint. A per-request
// strategy (speed first, balanced, quality first) trades freshness for
// latency, and concurrent misses for the same fingerprint coalesce
// into one upstream generation.
//
// # Packages
//
// Core components:
//   - message: typed envelopes, payload schemas, ingress validation
//   - router: admission, priority queueing, worker dispatch
//   - connection: state machine, reconnection, heartbeats, outbox
//   - optimizer: response cache, strategies, request coalescing
//   - generator: OpenAI-compatible completion client
//
// Infrastructure:
//   - config: YAML configuration with defaults and validation
//   - logging: structured logging with optional NATS streaming
//   - metric: Prometheus metrics registry
//   - errors: classified error handling
//
// Utilities:
//   - pkg/buffer: bounded buffer with overflow policies
//   - pkg/cache: generic LRU+TTL cache
//   - pkg/retry: exponential backoff with jitter
//
// # Binary
//
// Build and run the session core:
//
//	go build ./cmd/sessioncore
//	./sessioncore --config configs/sessioncore.yaml
//
// The wire transport (websocket gateway, etc.) is out of scope here; it
// plugs into the connection manager's Transport interface.
package sessioncore
