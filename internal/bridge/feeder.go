// Package bridge implements the session bridge between the real-time
// client and the external agent process: the input feeder, the output
// consumer, the tool-call correlation registry, and the session manager
// that owns them.
package bridge

import (
	"context"
	"errors"
	"sync"
)

var ErrFeederClosed = errors.New("feeder closed")

// Feeder is a FIFO queue of pending outbound texts with a single parked
// waiter. Producers call Enqueue; the one consumer (the goroutine feeding
// the agent's stdin) calls Dequeue, which parks until work arrives or the
// feeder closes. Items come out in exact enqueue order.
type Feeder struct {
	mu     sync.Mutex
	queue  []string
	wake   chan struct{}
	closed bool
}

// NewFeeder creates an empty feeder.
func NewFeeder() *Feeder {
	return &Feeder{wake: make(chan struct{}, 1)}
}

// Enqueue appends text and wakes a parked consumer.
func (f *Feeder) Enqueue(text string) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFeederClosed
	}
	f.queue = append(f.queue, text)
	f.mu.Unlock()

	f.signal()
	return nil
}

// Dequeue returns the next item in enqueue order, parking until one is
// available. Returns ok=false once the feeder is closed and drained, or
// when ctx is done.
func (f *Feeder) Dequeue(ctx context.Context) (string, bool) {
	for {
		f.mu.Lock()
		if len(f.queue) > 0 {
			text := f.queue[0]
			f.queue = f.queue[1:]
			f.mu.Unlock()
			return text, true
		}
		closed := f.closed
		f.mu.Unlock()

		if closed {
			return "", false
		}

		select {
		case <-f.wake:
		case <-ctx.Done():
			return "", false
		}
	}
}

// Close terminates the stream. A parked consumer wakes immediately; items
// already queued are still drained before Dequeue reports closure.
func (f *Feeder) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()

	f.signal()
}

// Len returns the number of queued items.
func (f *Feeder) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// signal nudges the parked waiter without blocking.
func (f *Feeder) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}
