package queue

import (
	"context"
	"fmt"
	"sync"
)

// Reorder releases values to a single consumer strictly in ticket order
// (0, 1, 2, ...) regardless of the order producers insert them.
//
// A producer holding ticket t blocks in Insert while t >= next+capacity, so
// at most capacity values are buffered ahead of the consumer. The producer of
// the next expected ticket is never blocked, which keeps the buffer live.
type Reorder[T any] struct {
	capacity uint64

	mu      sync.Mutex
	next    uint64
	pending map[uint64]T
	changed chan struct{} // closed and replaced on every state change
}

func NewReorder[T any](capacity int) *Reorder[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Reorder[T]{
		capacity: uint64(capacity),
		pending:  make(map[uint64]T, capacity),
		changed:  make(chan struct{}),
	}
}

func (r *Reorder[T]) broadcastLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// Insert buffers v under ticket. Inserting a ticket twice, or one that was
// already delivered, is an error.
func (r *Reorder[T]) Insert(ctx context.Context, ticket uint64, v T) error {
	r.mu.Lock()
	for ticket >= r.next+r.capacity {
		wait := r.changed
		r.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		r.mu.Lock()
	}
	defer r.mu.Unlock()

	if ticket < r.next {
		return fmt.Errorf("reorder: ticket %d already delivered (next=%d)", ticket, r.next)
	}
	if _, dup := r.pending[ticket]; dup {
		return fmt.Errorf("reorder: duplicate ticket %d", ticket)
	}
	r.pending[ticket] = v
	if ticket == r.next {
		r.broadcastLocked()
	}
	return nil
}

// Next blocks until the value for the next expected ticket is available.
func (r *Reorder[T]) Next(ctx context.Context) (T, error) {
	r.mu.Lock()
	for {
		if v, ok := r.pending[r.next]; ok {
			delete(r.pending, r.next)
			r.next++
			r.broadcastLocked()
			r.mu.Unlock()
			return v, nil
		}
		wait := r.changed
		r.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
		r.mu.Lock()
	}
}

// DrainAndWaitEmpty blocks until every inserted value has been taken by Next.
func (r *Reorder[T]) DrainAndWaitEmpty(ctx context.Context) error {
	r.mu.Lock()
	for len(r.pending) > 0 {
		wait := r.changed
		r.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		r.mu.Lock()
	}
	r.mu.Unlock()
	return nil
}

// Delivered is the number of values handed to the consumer so far.
func (r *Reorder[T]) Delivered() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}

func (r *Reorder[T]) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
