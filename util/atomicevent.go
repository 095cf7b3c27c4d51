// Package util holds small concurrency helpers.
package util

import "sync"

// AtomicEvent hands the most recent value from one producer goroutine to a
// consumer that may fall behind. Older values are overwritten, never queued;
// Dropped counts how many were overwritten before anyone read them.
type AtomicEvent[T any] struct {
	mu      sync.Mutex
	value   T
	unread  bool
	dropped uint64
	notify  chan struct{}
}

func NewAtomicEvent[T any]() *AtomicEvent[T] {
	return &AtomicEvent[T]{notify: make(chan struct{}, 1)}
}

// Send replaces the stored value and flags it for the consumer. It never
// blocks.
func (ae *AtomicEvent[T]) Send(event T) {
	ae.mu.Lock()
	defer ae.mu.Unlock()

	if ae.unread {
		ae.dropped++
	}
	ae.value = event
	ae.unread = true
	select {
	case ae.notify <- struct{}{}:
	default:
		// already flagged
	}
}

// Channel receives once per burst of Sends.
func (ae *AtomicEvent[T]) Channel() <-chan struct{} {
	return ae.notify
}

// Value returns the latest value sent, or the zero value, and marks it read.
func (ae *AtomicEvent[T]) Value() T {
	ae.mu.Lock()
	defer ae.mu.Unlock()
	ae.unread = false
	return ae.value
}

// Dropped is the number of values replaced before they were read.
func (ae *AtomicEvent[T]) Dropped() uint64 {
	ae.mu.Lock()
	defer ae.mu.Unlock()
	return ae.dropped
}
