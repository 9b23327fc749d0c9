package progress

import (
	"sync"
	"sync/atomic"
)

// Counter is a goroutine-safe Sink that keeps the cumulative byte count and
// whether the transfer finished.
type Counter struct {
	bytes atomic.Int64

	mu       sync.Mutex
	finished bool
	message  string
	done     chan struct{}
}

// NewCounter ...
func NewCounter() *Counter {
	return &Counter{done: make(chan struct{})}
}

// Increment ...
func (c *Counter) Increment(n int64) {
	c.bytes.Add(n)
}

// Finish marks the transfer as done. Only the first call has an effect.
func (c *Counter) Finish(message string) {
	c.finish(message)
}

func (c *Counter) finish(message string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finished {
		return false
	}
	c.finished = true
	c.message = message
	close(c.done)
	return true
}

// Bytes returns the number of bytes counted so far.
func (c *Counter) Bytes() int64 {
	return c.bytes.Load()
}

// Finished ...
func (c *Counter) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

// Message returns the message passed to Finish.
func (c *Counter) Message() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.message
}

// Done is closed when Finish is called.
func (c *Counter) Done() <-chan struct{} {
	return c.done
}
