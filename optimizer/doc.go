// Package optimizer caches generated responses behind a deterministic
// request fingerprint. Each lookup carries a strategy that trades
// freshness for latency: speed-first serves aging entries and refreshes
// them in the background, balanced serves until TTL expiry, and
// quality-first regenerates as soon as an entry nears expiry.
// Concurrent misses for one fingerprint coalesce into a single upstream
// generation, and generation failures are never cached.
package optimizer
