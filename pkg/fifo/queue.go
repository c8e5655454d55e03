// SPDX-License-Identifier: MIT
/*
Package fifo provides a fixed-capacity FIFO queue that is safe to use from
the real-time audio thread.

Design Principles:
  - Zero Allocations: all slots are allocated by New, Push and Pop never allocate
  - No Locks: producers and the consumer coordinate through per-slot sequence numbers
  - Bounded: Push on a full queue fails instead of blocking or growing
  - Any Capacity: capacity is not rounded to a power of two

Usage:

	q := fifo.New[Message](100)

	// Any number of producer goroutines.
	if !q.Push(msg) {
		// Queue is full, drop the message.
	}

	// One consumer.
	var m Message
	for q.Pop(&m) {
		handle(m)
	}

----------------------------------------------------------------------

What this code does:

	Every slot carries a sequence number. A slot at position pos is free
	for a producer when seq == pos, and holds a value for the consumer
	when seq == pos+1. Producers claim a position by CAS on head, write
	the value, then publish it by storing seq = pos+1. The consumer claims
	by CAS on tail, reads the value, then hands the slot back to producers
	for the next lap by storing seq = pos+capacity.

	Positions are free running uint64 counters, only reduced modulo the
	capacity when indexing the slot array.
*/
package fifo

import "sync/atomic"

// cacheLinePad keeps head and tail on separate cache lines.
type cacheLinePad struct {
	_ [64]byte
}

type slot[T any] struct {
	seq atomic.Uint64
	val T
}

// Queue is a bounded multi-producer queue. It is also safe for multiple
// consumers, but the host only ever pops from a single goroutine.
type Queue[T any] struct {
	_     cacheLinePad
	head  atomic.Uint64 // next position to push
	_     cacheLinePad
	tail  atomic.Uint64 // next position to pop
	_     cacheLinePad
	slots []slot[T]
	size  uint64
}

// New creates a queue holding at most capacity elements.
// Capacity values below 1 are raised to 1.
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}

	q := &Queue[T]{
		slots: make([]slot[T], capacity),
		size:  uint64(capacity),
	}
	for i := range q.slots {
		q.slots[i].seq.Store(uint64(i))
	}
	return q
}

// Push appends v if capacity remains. It returns false when the queue is
// full and leaves the queue untouched.
func (q *Queue[T]) Push(v T) bool {
	pos := q.head.Load()
	for {
		s := &q.slots[pos%q.size]
		seq := s.seq.Load()
		diff := int64(seq) - int64(pos)

		switch {
		case diff == 0:
			if q.head.CompareAndSwap(pos, pos+1) {
				s.val = v
				s.seq.Store(pos + 1)
				return true
			}
			pos = q.head.Load()
		case diff < 0:
			// The slot still holds a value from the previous lap.
			return false
		default:
			pos = q.head.Load()
		}
	}
}

// Pop removes the oldest element into out. It returns false when the
// queue is empty, in which case out is not modified.
func (q *Queue[T]) Pop(out *T) bool {
	pos := q.tail.Load()
	for {
		s := &q.slots[pos%q.size]
		seq := s.seq.Load()
		diff := int64(seq) - int64(pos+1)

		switch {
		case diff == 0:
			if q.tail.CompareAndSwap(pos, pos+1) {
				*out = s.val
				var zero T
				s.val = zero
				s.seq.Store(pos + q.size)
				return true
			}
			pos = q.tail.Load()
		case diff < 0:
			return false
		default:
			pos = q.tail.Load()
		}
	}
}

// Drain pops and discards every element currently held and returns how
// many were removed.
func (q *Queue[T]) Drain() int {
	var v T
	n := 0
	for q.Pop(&v) {
		n++
	}
	return n
}

// Len returns the number of claimed positions not yet popped. It is exact
// when no producer is mid-push.
func (q *Queue[T]) Len() int {
	head := q.head.Load()
	tail := q.tail.Load()
	if head <= tail {
		return 0
	}
	n := head - tail
	if n > q.size {
		n = q.size
	}
	return int(n)
}

// Cap returns the fixed capacity.
func (q *Queue[T]) Cap() int {
	return int(q.size)
}
