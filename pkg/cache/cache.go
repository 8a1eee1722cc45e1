// Package cache provides a generic, thread-safe cache combining LRU and
// per-entry TTL eviction with entry-level metadata.
package cache

import (
	"time"

	"github.com/c360/sessioncore/errors"
)

// Cache represents a generic cache parameterized by value type V.
type Cache[V any] interface {
	// Get retrieves a value by key, applying lazy TTL expiry and
	// marking the entry as recently used.
	Get(key string) (V, bool)

	// GetEntry retrieves the full entry with metadata. The returned
	// entry is a snapshot; mutating it does not affect the cache.
	GetEntry(key string) (Entry[V], bool)

	// Set stores a value with the given per-entry TTL. A ttl of zero
	// means the entry never expires. Returns true if a new entry was
	// created, false if an existing one was replaced.
	Set(key string, value V, ttl time.Duration) (bool, error)

	// Delete removes an entry by key. Returns true if the key existed.
	Delete(key string) (bool, error)

	// Clear removes all entries.
	Clear() error

	// Size returns the current number of entries.
	Size() int

	// Keys returns all keys, most recently used first.
	Keys() []string

	// Stats returns cache statistics (always collected).
	Stats() *Statistics

	// Close stops any background maintenance.
	Close() error
}

// EvictCallback is called when an entry is evicted from the cache.
type EvictCallback[V any] func(key string, value V)

// Entry is a cached value plus its bookkeeping metadata.
type Entry[V any] struct {
	Key        string
	Value      V
	CreatedAt  time.Time
	ExpiresAt  time.Time // zero means no expiration
	AccessedAt time.Time
	TTL        time.Duration
	HitCount   int64
}

// IsExpired reports whether the entry has passed its TTL.
func (e Entry[V]) IsExpired() bool {
	if e.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(e.ExpiresAt)
}

// Age returns how long ago the entry was created or last refreshed.
func (e Entry[V]) Age() time.Duration {
	return time.Since(e.CreatedAt)
}

// Remaining returns the time until expiry, or a negative duration if
// already expired. Entries without a TTL report a very large remainder.
func (e Entry[V]) Remaining() time.Duration {
	if e.ExpiresAt.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return time.Until(e.ExpiresAt)
}

// New creates a bounded LRU+TTL cache with the given capacity.
// Returns an error if metrics registration fails when requested.
func New[V any](capacity int, options ...Option[V]) (Cache[V], error) {
	opts := applyOptions(options...)
	return newStore[V](capacity, opts)
}

// validateKey validates a cache key for basic requirements.
func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "Cache", "validateKey", "key cannot be empty")
	}
	return nil
}
