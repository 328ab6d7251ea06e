// Package queue holds the two channel abstractions of the export pipeline:
// a bounded FIFO work queue and a ticket-ordered reorder buffer.
package queue

import (
	"context"
	"sync"
)

// WorkQueue is a bounded many-producer/many-consumer FIFO. After Close,
// consumers drain the remaining items and then see ok=false.
type WorkQueue[T any] struct {
	ch        chan T
	closeOnce sync.Once
}

func NewWorkQueue[T any](capacity int) *WorkQueue[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &WorkQueue[T]{ch: make(chan T, capacity)}
}

// Push blocks while the queue is full. Pushing after Close panics.
func (q *WorkQueue[T]) Push(ctx context.Context, v T) error {
	select {
	case q.ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *WorkQueue[T]) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

// Pop blocks until an item is available, the queue is closed and drained
// (ok=false), or ctx is done.
func (q *WorkQueue[T]) Pop(ctx context.Context) (v T, ok bool, err error) {
	select {
	case v, ok = <-q.ch:
		return v, ok, nil
	case <-ctx.Done():
		return v, false, ctx.Err()
	}
}

func (q *WorkQueue[T]) Len() int { return len(q.ch) }
