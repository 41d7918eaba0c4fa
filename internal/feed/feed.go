// Package feed provides a bounded, sequence-numbered ring that lets a
// consumer pull exactly the items appended since its last read.
package feed

import "sync"

type item[T any] struct {
	seq   uint64
	value T
}

// Feed is safe for concurrent use. Sequence numbers start at 1.
type Feed[T any] struct {
	mu    sync.RWMutex
	items []item[T]
	start int
	size  int
	next  uint64
}

// New creates a feed retaining at most capacity items.
func New[T any](capacity int) *Feed[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Feed[T]{items: make([]item[T], capacity), next: 1}
}

// Append adds v and returns its sequence number. The oldest item is
// overwritten once the ring is full.
func (f *Feed[T]) Append(v T) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	seq := f.next
	f.next++
	idx := (f.start + f.size) % len(f.items)
	f.items[idx] = item[T]{seq: seq, value: v}
	if f.size < len(f.items) {
		f.size++
	} else {
		f.start = (f.start + 1) % len(f.items)
	}
	return seq
}

// Since returns the items with a sequence number greater than seq, oldest
// first, and the cursor to pass on the next call. Items that were
// overwritten before the consumer caught up are skipped.
func (f *Feed[T]) Since(seq uint64) ([]T, uint64) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	head := f.next - 1
	if seq >= head {
		return nil, head
	}
	var out []T
	for i := 0; i < f.size; i++ {
		it := f.items[(f.start+i)%len(f.items)]
		if it.seq > seq {
			out = append(out, it.value)
		}
	}
	return out, head
}

// Head returns the sequence number of the newest item, or 0 when empty.
func (f *Feed[T]) Head() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.next - 1
}
