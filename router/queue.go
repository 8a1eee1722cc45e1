package router

import (
	"sync"

	"github.com/c360/sessioncore/config"
	"github.com/c360/sessioncore/errors"
	"github.com/c360/sessioncore/message"
)

// priorityQueue is a bounded four-level queue. Dequeue always serves
// the highest nonempty level; within a level order is strict FIFO.
type priorityQueue struct {
	mu       sync.Mutex
	levels   map[message.Priority][]message.Envelope
	size     int
	capacity int
	policy   config.OverflowPolicy

	highWater int
	dropped   int64
}

func newPriorityQueue(capacity int, policy config.OverflowPolicy) *priorityQueue {
	levels := make(map[message.Priority][]message.Envelope, 4)
	for _, p := range message.Levels() {
		levels[p] = nil
	}
	return &priorityQueue{
		levels:   levels,
		capacity: capacity,
		policy:   policy,
	}
}

// enqueue admits an envelope, applying the overflow policy when full.
// With drop_oldest, the oldest envelope at the incoming priority or
// lower is evicted; if everything queued outranks the newcomer, the
// newcomer is rejected instead.
func (q *priorityQueue) enqueue(env message.Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size >= q.capacity {
		if q.policy == config.OverflowRejectNew {
			return errors.ErrQueueFull
		}
		if !q.evictLowestLocked(env.Priority) {
			return errors.ErrQueueFull
		}
	}

	q.levels[env.Priority] = append(q.levels[env.Priority], env)
	q.size++
	if q.size > q.highWater {
		q.highWater = q.size
	}
	return nil
}

// evictLowestLocked drops the oldest envelope at the lowest nonempty
// level not exceeding maxPriority. Returns false if nothing qualifies.
func (q *priorityQueue) evictLowestLocked(maxPriority message.Priority) bool {
	for p := message.PriorityLow; p <= maxPriority; p++ {
		level := q.levels[p]
		if len(level) == 0 {
			continue
		}
		q.levels[p] = level[1:]
		q.size--
		q.dropped++
		return true
	}
	return false
}

// dequeue removes and returns the next envelope, scanning levels from
// urgent down to low.
func (q *priorityQueue) dequeue() (message.Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, p := range message.Levels() {
		level := q.levels[p]
		if len(level) == 0 {
			continue
		}
		env := level[0]
		q.levels[p] = level[1:]
		q.size--
		return env, true
	}
	return message.Envelope{}, false
}

func (q *priorityQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *priorityQueue) stats() (depth, highWater int, dropped int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size, q.highWater, q.dropped
}
