package pipe

import "io"

// Reader exposes the consumer half of a pipe as an io.Reader.
//
// A single Read never returns more than what is left of the current chunk,
// so callers have to loop (io.Copy, io.ReadAll and net/http all do).
type Reader struct {
	rx  *Receiver
	buf []byte
	pos int
}

// NewReader ...
func NewReader(rx *Receiver) *Reader {
	return &Reader{rx: rx}
}

// Read implements io.Reader. The end of the stream is reported as io.EOF.
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for r.pos >= len(r.buf) {
		chunk, ok := r.rx.Recv()
		if !ok {
			r.buf, r.pos = nil, 0
			return 0, io.EOF
		}
		r.buf, r.pos = chunk, 0
	}

	n := copy(p, r.buf[r.pos:])
	r.pos += n

	return n, nil
}

// Close detaches the consumer half; reads after Close return io.EOF.
//
// Close may be called from another goroutine while a Read is blocked waiting for data.
func (r *Reader) Close() {
	r.rx.Close()
}
