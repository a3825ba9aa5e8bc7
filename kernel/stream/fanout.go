package stream

import (
	"fmt"
	"sync"
)

const defaultSubscriberBuffer = 256

// Fanout is a lossy multi-consumer broadcast. A subscriber that cannot
// keep up drops events rather than blocking the publisher.
type Fanout[T any] struct {
	mu      sync.Mutex
	subs    map[int]chan T
	nextID  int
	maxSubs int
	bufSize int
	closed  bool
	dropped int64
}

// NewFanout returns a fanout capped at maxSubs subscribers; zero means
// unbounded.
func NewFanout[T any](maxSubs int) *Fanout[T] {
	return &Fanout[T]{
		subs:    map[int]chan T{},
		maxSubs: maxSubs,
		bufSize: defaultSubscriberBuffer,
	}
}

// Subscribe returns a receiver and its cancel function. Cancel is
// idempotent and closes the receiver.
func (f *Fanout[T]) Subscribe() (<-chan T, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, nil, fmt.Errorf("stream: fanout closed")
	}
	if f.maxSubs > 0 && len(f.subs) >= f.maxSubs {
		return nil, nil, fmt.Errorf("stream: subscriber limit %d exceeded", f.maxSubs)
	}
	id := f.nextID
	f.nextID++
	ch := make(chan T, f.bufSize)
	f.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			if sub, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(sub)
			}
			f.mu.Unlock()
		})
	}
	return ch, cancel, nil
}

// Publish delivers item to every subscriber, dropping it for any whose
// buffer is full.
func (f *Fanout[T]) Publish(item T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for _, sub := range f.subs {
		select {
		case sub <- item:
		default:
			f.dropped++
		}
	}
}

// Close closes every subscriber channel and rejects new subscriptions.
func (f *Fanout[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, sub := range f.subs {
		delete(f.subs, id)
		close(sub)
	}
}

// Len reports the current subscriber count.
func (f *Fanout[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Dropped reports how many deliveries were lost to slow subscribers.
func (f *Fanout[T]) Dropped() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}
