package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/c360/sessioncore/errors"
)

// store is a thread-safe cache combining LRU ordering with per-entry TTL.
// Expiry is checked lazily on access; an optional janitor sweeps expired
// entries in the background so idle keys don't linger until touched.
type store[V any] struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element // key -> list element
	order    *list.List               // front = most recently used
	stats    *Statistics
	metrics  *cacheMetrics
	evictFn  EvictCallback[V]

	janitorStop chan struct{}
	closeOnce   sync.Once
}

func newStore[V any](capacity int, opts *cacheOptions[V]) (*store[V], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *cacheMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "Cache", "New", "metrics registration")
		}
	}

	s := &store[V]{
		capacity:    capacity,
		items:       make(map[string]*list.Element),
		order:       list.New(),
		stats:       NewStatistics(),
		metrics:     metrics,
		evictFn:     opts.evictCallback,
		janitorStop: make(chan struct{}),
	}

	if opts.cleanupInterval > 0 {
		go s.janitor(opts.cleanupInterval)
	}

	return s, nil
}

// Get retrieves a value by key.
func (s *store[V]) Get(key string) (V, bool) {
	entry, ok := s.GetEntry(key)
	if !ok {
		var zero V
		return zero, false
	}
	return entry.Value, true
}

// GetEntry retrieves the full entry with metadata, applying lazy TTL
// expiry and bumping recency and hit count.
func (s *store[V]) GetEntry(key string) (Entry[V], bool) {
	s.mu.Lock()

	element, exists := s.items[key]
	if !exists {
		s.recordMissLocked()
		s.mu.Unlock()
		return Entry[V]{}, false
	}

	entry := element.Value.(*Entry[V])
	if entry.IsExpired() {
		evictKey, evictValue := entry.Key, entry.Value
		s.removeElementLocked(element)
		s.stats.Eviction()
		s.recordMissLocked()
		s.stats.UpdateSize(int64(len(s.items)))
		if s.metrics != nil {
			s.metrics.recordEviction()
			s.metrics.updateSize(len(s.items))
		}
		evictFn := s.evictFn
		s.mu.Unlock()
		if evictFn != nil {
			evictFn(evictKey, evictValue)
		}
		return Entry[V]{}, false
	}

	s.order.MoveToFront(element)
	entry.AccessedAt = time.Now()
	entry.HitCount++

	s.stats.Hit()
	if s.metrics != nil {
		s.metrics.recordHit()
	}

	snapshot := *entry
	s.mu.Unlock()
	return snapshot, true
}

// Set stores a value with the given TTL, evicting the LRU entry when
// over capacity.
func (s *store[V]) Set(key string, value V, ttl time.Duration) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	now := time.Now()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	var evictKey string
	var evictValue V
	var evicted bool

	s.mu.Lock()

	if element, exists := s.items[key]; exists {
		entry := element.Value.(*Entry[V])
		entry.Value = value
		entry.CreatedAt = now
		entry.AccessedAt = now
		entry.ExpiresAt = expiresAt
		entry.TTL = ttl
		entry.HitCount = 0
		s.order.MoveToFront(element)

		s.stats.Set()
		if s.metrics != nil {
			s.metrics.recordSet()
		}
		s.mu.Unlock()
		return false, nil
	}

	entry := &Entry[V]{
		Key:        key,
		Value:      value,
		CreatedAt:  now,
		AccessedAt: now,
		ExpiresAt:  expiresAt,
		TTL:        ttl,
	}
	element := s.order.PushFront(entry)
	s.items[key] = element

	if len(s.items) > s.capacity {
		if back := s.order.Back(); back != nil {
			victim := back.Value.(*Entry[V])
			evictKey, evictValue, evicted = victim.Key, victim.Value, true
			s.removeElementLocked(back)
			s.stats.Eviction()
			if s.metrics != nil {
				s.metrics.recordEviction()
			}
		}
	}

	s.stats.Set()
	s.stats.UpdateSize(int64(len(s.items)))
	if s.metrics != nil {
		s.metrics.recordSet()
		s.metrics.updateSize(len(s.items))
	}

	evictFn := s.evictFn
	s.mu.Unlock()

	// Eviction callback runs outside the lock to prevent deadlock.
	if evicted && evictFn != nil {
		evictFn(evictKey, evictValue)
	}

	return true, nil
}

// Delete removes an entry by key.
func (s *store[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	s.mu.Lock()
	element, exists := s.items[key]
	if !exists {
		s.mu.Unlock()
		return false, nil
	}

	entry := element.Value.(*Entry[V])
	evictKey, evictValue := entry.Key, entry.Value
	s.removeElementLocked(element)

	s.stats.Delete()
	s.stats.UpdateSize(int64(len(s.items)))
	if s.metrics != nil {
		s.metrics.recordDelete()
		s.metrics.updateSize(len(s.items))
	}

	evictFn := s.evictFn
	s.mu.Unlock()

	if evictFn != nil {
		evictFn(evictKey, evictValue)
	}
	return true, nil
}

// Clear removes all entries.
func (s *store[V]) Clear() error {
	var evictItems []Entry[V]

	s.mu.Lock()
	if s.evictFn != nil {
		evictItems = make([]Entry[V], 0, len(s.items))
		for element := s.order.Back(); element != nil; element = element.Prev() {
			evictItems = append(evictItems, *element.Value.(*Entry[V]))
		}
	}

	s.items = make(map[string]*list.Element)
	s.order.Init()

	s.stats.UpdateSize(0)
	if s.metrics != nil {
		s.metrics.updateSize(0)
	}
	evictFn := s.evictFn
	s.mu.Unlock()

	if evictFn != nil {
		for _, entry := range evictItems {
			evictFn(entry.Key, entry.Value)
		}
	}
	return nil
}

// Size returns the current number of entries.
func (s *store[V]) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Keys returns all keys, most recently used first.
func (s *store[V]) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.items))
	for element := s.order.Front(); element != nil; element = element.Next() {
		keys = append(keys, element.Value.(*Entry[V]).Key)
	}
	return keys
}

// Stats returns cache statistics.
func (s *store[V]) Stats() *Statistics {
	return s.stats
}

// Close stops the background janitor if one is running.
func (s *store[V]) Close() error {
	s.closeOnce.Do(func() {
		close(s.janitorStop)
	})
	return nil
}

// janitor periodically sweeps expired entries.
func (s *store[V]) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.janitorStop:
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

// sweepExpired removes all expired entries.
func (s *store[V]) sweepExpired() {
	type victim struct {
		key   string
		value V
	}
	var victims []victim

	s.mu.Lock()
	for element := s.order.Back(); element != nil; {
		prev := element.Prev()
		entry := element.Value.(*Entry[V])
		if entry.IsExpired() {
			victims = append(victims, victim{entry.Key, entry.Value})
			s.removeElementLocked(element)
			s.stats.Eviction()
			if s.metrics != nil {
				s.metrics.recordEviction()
			}
		}
		element = prev
	}
	if len(victims) > 0 {
		s.stats.UpdateSize(int64(len(s.items)))
		if s.metrics != nil {
			s.metrics.updateSize(len(s.items))
		}
	}
	evictFn := s.evictFn
	s.mu.Unlock()

	if evictFn != nil {
		for _, v := range victims {
			evictFn(v.key, v.value)
		}
	}
}

// recordMissLocked updates miss accounting. Caller holds the lock.
func (s *store[V]) recordMissLocked() {
	s.stats.Miss()
	if s.metrics != nil {
		s.metrics.recordMiss()
	}
}

// removeElementLocked removes an element from both the list and the map.
// Caller holds the lock; eviction callbacks are the caller's business.
func (s *store[V]) removeElementLocked(element *list.Element) {
	entry := element.Value.(*Entry[V])
	delete(s.items, entry.Key)
	s.order.Remove(element)
}
