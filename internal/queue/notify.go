package queue

import "sync"

// Notifier broadcasts "something changed" to any number of waiters.
//
// Each Wait returns the channel for the current generation; Broadcast closes
// it and starts a new generation. A waiter that fetched the channel before
// checking state therefore never misses a change that happens afterwards.
//
// Thread-safety: all methods are safe for concurrent use.
type Notifier struct {
	mu     sync.Mutex
	ch     chan struct{}
	closed bool
}

// NewNotifier creates a notifier with an open generation.
func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{})}
}

// Wait returns the channel that closes at the next Broadcast.
func (n *Notifier) Wait() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch
}

// Broadcast wakes every current waiter.
func (n *Notifier) Broadcast() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	close(n.ch)
	n.ch = make(chan struct{})
}

// Close wakes every waiter permanently; later Wait calls return a closed
// channel.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	close(n.ch)
}
