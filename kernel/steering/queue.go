// Package steering delivers control messages from arbitrary producers to a
// single running agent loop. The queue is the only synchronisation point
// between the outside world and the loop.
package steering

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrClosed is returned by Enqueue after Close, and by Dequeue once the
	// queue is done and drained.
	ErrClosed = errors.New("steering: queue closed")

	// ErrTimeout is returned by DequeueTimeout when the deadline elapses
	// without an item, close or poison.
	ErrTimeout = errors.New("steering: dequeue timeout")

	// ErrContract is returned when a second consumer dequeues concurrently.
	ErrContract = errors.New("steering: concurrent dequeue")
)

// Queue is a bounded FIFO with a single consumer and many producers.
// Items dequeue in enqueue order; there are no priorities. Producers that
// need pre-emption poison or close the queue instead.
type Queue[T any] struct {
	mu       sync.Mutex
	buf      []T
	done     bool
	sticky   error
	wake     chan struct{}
	dequeues int
}

// NewQueue returns an open queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{wake: make(chan struct{}, 1)}
}

// Enqueue appends msg to the tail and wakes the consumer. It fails with
// ErrClosed after Close and with the sticky error after Poison.
func (q *Queue[T]) Enqueue(msg T) error {
	q.mu.Lock()
	if q.sticky != nil {
		err := q.sticky
		q.mu.Unlock()
		return err
	}
	if q.done {
		q.mu.Unlock()
		return ErrClosed
	}
	q.buf = append(q.buf, msg)
	q.mu.Unlock()
	q.signal()
	return nil
}

// Dequeue returns the next item, suspending until one is available. It
// returns the sticky error if the queue is poisoned, ErrClosed once the
// queue is done and drained, or ctx.Err() on cancellation.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	return q.dequeue(ctx, nil)
}

// DequeueTimeout is Dequeue with a deadline; it returns ErrTimeout when d
// elapses without consuming queue state.
func (q *Queue[T]) DequeueTimeout(ctx context.Context, d time.Duration) (T, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	return q.dequeue(ctx, timer.C)
}

func (q *Queue[T]) dequeue(ctx context.Context, deadline <-chan time.Time) (T, error) {
	var zero T
	q.mu.Lock()
	if q.dequeues > 0 {
		q.mu.Unlock()
		return zero, ErrContract
	}
	q.dequeues++
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.dequeues--
		q.mu.Unlock()
	}()

	for {
		q.mu.Lock()
		if q.sticky != nil {
			err := q.sticky
			q.mu.Unlock()
			return zero, err
		}
		if len(q.buf) > 0 {
			item := q.buf[0]
			q.buf = q.buf[1:]
			q.mu.Unlock()
			return item, nil
		}
		if q.done {
			q.mu.Unlock()
			return zero, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-deadline:
			return zero, ErrTimeout
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Close marks the queue done and wakes any waiter. Buffered items remain
// dequeueable; subsequent enqueues fail with ErrClosed.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.done = true
	q.mu.Unlock()
	q.signal()
}

// Poison sets a sticky error and wakes any waiter. All subsequent
// operations surface err.
func (q *Queue[T]) Poison(err error) {
	if err == nil {
		return
	}
	q.mu.Lock()
	if q.sticky == nil {
		q.sticky = err
	}
	q.mu.Unlock()
	q.signal()
}

// Len reports the buffered item count. Advisory.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// IsEmpty reports whether the buffer is empty. Advisory.
func (q *Queue[T]) IsEmpty() bool {
	return q.Len() == 0
}

// IsDone reports whether Close was called. Advisory.
func (q *Queue[T]) IsDone() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.done
}

// Err returns the sticky error, if any.
func (q *Queue[T]) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sticky
}

func (q *Queue[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
