// Package spatial provides the concurrent and spatial data structures the
// simulation step leans on: a bounded MPSC ring for network producers and
// a uniform grid for proximity queries.
package spatial

import (
	"runtime"
	"sync/atomic"
)

// CacheLineSize is the typical CPU cache line size (64 bytes on x86-64)
const CacheLineSize = 64

// Padding ensures variables don't share cache lines (prevents false sharing)
type Padding [CacheLineSize]byte

type slot[T any] struct {
	seq  atomic.Uint64
	item T
}

// LockFreeQueue is a bounded MPSC ring buffer (Vyukov sequence slots).
// Any number of goroutines may push; exactly one may pop.
// Items pushed by one producer are popped in the order that producer pushed them.
//
// Memory Layout (prevents false sharing):
// [Padding][head][Padding][tail][Padding][slots...]
type LockFreeQueue[T any] struct {
	_pad0 Padding

	head  atomic.Uint64 // Next position to claim (producers)
	_pad1 Padding

	tail  atomic.Uint64 // Next position to read (consumer)
	_pad2 Padding

	mask  uint64
	slots []slot[T]
}

// NewLockFreeQueue creates a new lock-free queue.
// capacity is rounded up to a power of 2.
func NewLockFreeQueue[T any](capacity int) *LockFreeQueue[T] {
	n := 1
	for n < capacity {
		n <<= 1
	}

	q := &LockFreeQueue[T]{
		mask:  uint64(n - 1),
		slots: make([]slot[T], n),
	}
	for i := range q.slots {
		q.slots[i].seq.Store(uint64(i))
	}
	return q
}

// TryPush adds an item. Returns false if the queue is full.
// Lock-free, safe for multiple concurrent producers.
func (q *LockFreeQueue[T]) TryPush(item T) bool {
	for {
		pos := q.head.Load()
		s := &q.slots[pos&q.mask]
		seq := s.seq.Load()

		switch {
		case seq == pos:
			if q.head.CompareAndSwap(pos, pos+1) {
				s.item = item
				s.seq.Store(pos + 1) // Publish
				return true
			}
		case seq < pos:
			return false // Slot still holds an unread item
		}

		// Another producer won the slot, retry
		runtime.Gosched()
	}
}

// TryPop removes the oldest published item.
// Must only be called by the single consumer.
func (q *LockFreeQueue[T]) TryPop() (T, bool) {
	var zero T

	pos := q.tail.Load()
	s := &q.slots[pos&q.mask]
	if s.seq.Load() != pos+1 {
		return zero, false // Empty, or the producer has not published yet
	}

	item := s.item
	s.item = zero
	s.seq.Store(pos + q.mask + 1) // Hand the slot back to producers
	q.tail.Store(pos + 1)
	return item, true
}

// Len returns the approximate number of items in the queue.
func (q *LockFreeQueue[T]) Len() int {
	head := q.head.Load()
	tail := q.tail.Load()
	if head < tail {
		return 0
	}
	return int(head - tail)
}

// Cap returns the queue capacity
func (q *LockFreeQueue[T]) Cap() int {
	return len(q.slots)
}

// Drain pops up to maxItems items and passes each to fn in FIFO order.
// Returns the number of items consumed.
func (q *LockFreeQueue[T]) Drain(maxItems int, fn func(T)) int {
	n := 0
	for n < maxItems {
		item, ok := q.TryPop()
		if !ok {
			break
		}
		fn(item)
		n++
	}
	return n
}
