// Package progress reports how many bytes of an upload have left for the network.
package progress

import "io"

// Sink receives byte-count increments and a terminal signal.
// Implementations must be safe to call from a goroutine other than the one rendering them.
type Sink interface {
	Increment(n int64)
	Finish(message string)
}

// Reader passes reads through unchanged and reports every byte it returns to a Sink.
//
// It intentionally does not implement io.Closer: closing the wrapped source is left
// to whoever owns it.
type Reader struct {
	r    io.Reader
	sink Sink
}

// NewReader wraps r. The sink has to stay usable for as long as the reader is read from.
func NewReader(r io.Reader, sink Sink) *Reader {
	if sink == nil {
		panic("progress: nil sink")
	}
	return &Reader{r: r, sink: sink}
}

// Read ...
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.sink.Increment(int64(n))
	}
	return n, err
}
