// Package cache provides a generic, thread-safe bounded cache combining
// LRU ordering with per-entry TTL.
//
// Unlike a plain LRU, every entry carries its own TTL and metadata
// (creation time, last access, hit count), so callers can implement
// freshness policies on top: the response optimizer uses Entry.Age and
// Entry.Remaining to decide when a hit is fresh enough to serve and when
// to refresh in the background.
//
// Expiry is lazy by default - checked on access - with an optional
// background janitor enabled via WithCleanupInterval. Statistics are
// always collected; Prometheus export is opt-in via WithMetrics.
//
//	store, err := cache.New[Response](1000,
//	    cache.WithMetrics[Response](registry, "optimizer"),
//	    cache.WithCleanupInterval[Response](time.Minute),
//	)
package cache
