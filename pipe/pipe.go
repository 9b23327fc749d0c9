// Package pipe moves byte chunks from a single producer to a single consumer goroutine
// over a bounded channel whose two halves can be closed independently.
package pipe

import (
	"errors"
	"sync"
)

// ErrChannelClosed is returned when sending on a pipe whose receiving half is gone,
// or whose sending half was already closed.
var ErrChannelClosed = errors.New("channel closed")

// DefaultCapacity is the number of chunks that can wait in the pipe before Send blocks.
const DefaultCapacity = 1

// Sender is the producer half of a pipe.
type Sender struct {
	ch   chan []byte
	done <-chan struct{}

	mu     sync.Mutex
	closed bool
}

// Receiver is the consumer half of a pipe.
type Receiver struct {
	ch   <-chan []byte
	done chan struct{}
	once sync.Once
}

// New creates a pipe holding up to capacity queued chunks. A capacity of zero (or less)
// makes every Send wait until the consumer takes the chunk.
func New(capacity int) (*Sender, *Receiver) {
	if capacity < 0 {
		capacity = 0
	}
	ch := make(chan []byte, capacity)
	done := make(chan struct{})

	return &Sender{ch: ch, done: done}, &Receiver{ch: ch, done: done}
}

// Send queues chunk for the consumer, blocking while the pipe is full.
// The chunk is handed over as is: callers must not modify it afterwards.
func (s *Sender) Send(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrChannelClosed
	}

	// A ready consumer-close must win over free buffer space.
	select {
	case <-s.done:
		return ErrChannelClosed
	default:
	}

	select {
	case s.ch <- chunk:
		return nil
	case <-s.done:
		return ErrChannelClosed
	}
}

// Close ends the stream: the consumer drains what is queued, then sees end-of-stream.
func (s *Sender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Recv blocks until a chunk is available. ok is false once the sender closed and the
// queue is drained, or once the receiver itself was closed.
func (r *Receiver) Recv() (chunk []byte, ok bool) {
	select {
	case <-r.done:
		return nil, false
	default:
	}

	select {
	case chunk, ok = <-r.ch:
		return chunk, ok
	case <-r.done:
		return nil, false
	}
}

// Close detaches the consumer. Pending and future sends fail with ErrChannelClosed.
func (r *Receiver) Close() {
	r.once.Do(func() {
		close(r.done)
	})
}

// Closed reports whether the receiver was closed.
func (r *Receiver) Closed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}
