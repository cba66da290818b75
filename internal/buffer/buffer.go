package buffer

import (
	"sync"
)

// Buffer collects items staged for one commit.
type Buffer[T any] struct {
	mu sync.Mutex
	ts []T
}

func NewBuffer[T any]() *Buffer[T] {
	return &Buffer[T]{}
}

// Add stages items as one group: either all of them or none become visible.
func (b *Buffer[T]) Add(ts ...T) {
	if len(ts) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ts = append(b.ts, ts...)
}

// Len returns the number of staged items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ts)
}

// Drain returns the staged items and empties the buffer.
func (b *Buffer[T]) Drain() []T {
	b.mu.Lock()
	ts := b.ts
	b.ts = nil
	b.mu.Unlock()
	return ts
}
