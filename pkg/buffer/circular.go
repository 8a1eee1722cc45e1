package buffer

import (
	"sync"

	"github.com/c360/sessioncore/errors"
)

// circular is a thread-safe ring buffer with configurable overflow policies.
type circular[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	stats    *Statistics
	metrics  *bufferMetrics
	opts     *bufferOptions[T]

	notFull *sync.Cond // for Block policy
	closed  bool
}

func newCircular[T any](capacity int, opts *bufferOptions[T]) (*circular[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *bufferMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "Buffer", "New", "metrics registration")
		}
	}

	cb := &circular[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}
	cb.notFull = sync.NewCond(&cb.mu)

	return cb, nil
}

// Write adds an item to the buffer according to the overflow policy.
func (cb *circular[T]) Write(item T) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write", "buffer closed")
	}

	if cb.size == cb.capacity {
		switch cb.opts.overflowPolicy {
		case DropOldest:
			dropped := cb.items[cb.tail]
			cb.tail = (cb.tail + 1) % cb.capacity
			cb.size--
			cb.stats.Drop()
			if cb.metrics != nil {
				cb.metrics.recordDrop()
			}
			if cb.opts.dropCallback != nil {
				// Run outside the lock so the callback can re-enter.
				cb.mu.Unlock()
				cb.opts.dropCallback(dropped)
				cb.mu.Lock()
				if cb.closed {
					return errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write", "buffer closed")
				}
			}

		case DropNewest:
			cb.stats.Drop()
			if cb.metrics != nil {
				cb.metrics.recordDrop()
			}
			if cb.opts.dropCallback != nil {
				cb.mu.Unlock()
				cb.opts.dropCallback(item)
				cb.mu.Lock()
			}
			return errors.WrapTransient(errors.ErrQueueFull, "Buffer", "Write", "buffer full")

		case Block:
			for cb.size == cb.capacity && !cb.closed {
				cb.notFull.Wait()
			}
			if cb.closed {
				return errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write", "buffer closed")
			}
		}
	}

	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % cb.capacity
	cb.size++

	cb.stats.Write()
	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.recordWrite()
		cb.metrics.updateSize(cb.size)
	}

	return nil
}

// Read retrieves and removes the oldest item.
func (cb *circular[T]) Read() (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var zero T
	if cb.size == 0 {
		return zero, false
	}

	item := cb.readOneLocked()
	return item, true
}

// ReadBatch retrieves and removes up to max items in FIFO order.
func (cb *circular[T]) ReadBatch(max int) []T {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if max <= 0 || cb.size == 0 {
		return nil
	}

	n := max
	if n > cb.size {
		n = cb.size
	}

	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, cb.readOneLocked())
	}
	return out
}

// Drain removes and returns every buffered item in FIFO order.
func (cb *circular[T]) Drain() []T {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		return nil
	}

	out := make([]T, 0, cb.size)
	for cb.size > 0 {
		out = append(out, cb.readOneLocked())
	}
	return out
}

// readOneLocked removes and returns the item at tail. Caller holds the lock.
func (cb *circular[T]) readOneLocked() T {
	var zero T
	item := cb.items[cb.tail]
	cb.items[cb.tail] = zero // release reference
	cb.tail = (cb.tail + 1) % cb.capacity
	cb.size--

	cb.stats.Read()
	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.recordRead()
		cb.metrics.updateSize(cb.size)
	}
	cb.notFull.Signal()

	return item
}

// Peek returns the oldest item without removing it.
func (cb *circular[T]) Peek() (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var zero T
	if cb.size == 0 {
		return zero, false
	}
	return cb.items[cb.tail], true
}

// Size returns the current number of buffered items.
func (cb *circular[T]) Size() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.size
}

// Capacity returns the maximum number of items the buffer can hold.
func (cb *circular[T]) Capacity() int {
	return cb.capacity
}

// IsFull reports whether the buffer is at capacity.
func (cb *circular[T]) IsFull() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.size == cb.capacity
}

// IsEmpty reports whether the buffer holds no items.
func (cb *circular[T]) IsEmpty() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.size == 0
}

// Clear removes all items.
func (cb *circular[T]) Clear() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var zero T
	for i := range cb.items {
		cb.items[i] = zero
	}
	cb.size = 0
	cb.head = 0
	cb.tail = 0

	cb.stats.UpdateSize(0)
	if cb.metrics != nil {
		cb.metrics.updateSize(0)
	}
	cb.notFull.Broadcast()
}

// Stats returns buffer statistics.
func (cb *circular[T]) Stats() *Statistics {
	return cb.stats
}

// Close shuts down the buffer and wakes any blocked writers.
func (cb *circular[T]) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.closed = true
	cb.notFull.Broadcast()
	return nil
}
