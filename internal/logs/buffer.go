package logs

import "sync"

// DefaultBufferSize is the capacity used when none is given
const DefaultBufferSize = 1000

// RingBuffer keeps the most recent values up to a fixed capacity. It is safe
// for concurrent use.
type RingBuffer[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int // next write position
	count int
}

// NewRingBuffer creates a ring buffer holding at most capacity values
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &RingBuffer[T]{items: make([]T, capacity)}
}

// Write appends v, overwriting the oldest value when full
func (b *RingBuffer[T]) Write(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = v
	b.head = (b.head + 1) % len(b.items)
	if b.count < len(b.items) {
		b.count++
	}
}

// Read returns every value, oldest first
func (b *RingBuffer[T]) Read() []T {
	return b.ReadLast(b.Capacity())
}

// ReadLast returns the newest n values, oldest first
func (b *RingBuffer[T]) ReadLast(n int) []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n = min(n, b.count)
	if n <= 0 {
		return nil
	}

	out := make([]T, n)
	// The newest value sits just before head.
	start := b.head - n
	if start < 0 {
		start += len(b.items)
	}
	for i := range out {
		out[i] = b.items[(start+i)%len(b.items)]
	}
	return out
}

// Count returns how many values are held
func (b *RingBuffer[T]) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Capacity returns the maximum number of values held
func (b *RingBuffer[T]) Capacity() int {
	return len(b.items)
}

// Clear drops every value
func (b *RingBuffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.items)
	b.head = 0
	b.count = 0
}
