package pipe

import (
	"errors"
	"fmt"
)

// ErrBrokenPipe is returned by Writer.Write once the consumer is gone.
var ErrBrokenPipe = errors.New("broken pipe")

// BrokenPipeError carries the reason a write could not be delivered.
// It matches both ErrBrokenPipe and its cause with errors.Is.
type BrokenPipeError struct {
	Err error
}

// Error ...
func (e *BrokenPipeError) Error() string {
	return fmt.Sprintf("%s: failed to send data: %s", ErrBrokenPipe, e.Err)
}

// Is ...
func (e *BrokenPipeError) Is(target error) bool {
	return target == ErrBrokenPipe
}

// Unwrap ...
func (e *BrokenPipeError) Unwrap() error {
	return e.Err
}

// Writer exposes the producer half of a pipe as an io.WriteCloser.
type Writer struct {
	tx *Sender
}

// NewWriter ...
func NewWriter(tx *Sender) *Writer {
	return &Writer{tx: tx}
}

// Write copies p into a new chunk and sends it. It either writes all of p or nothing.
func (w *Writer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	chunk := make([]byte, len(p))
	copy(chunk, p)

	if err := w.tx.Send(chunk); err != nil {
		return 0, &BrokenPipeError{Err: err}
	}
	return len(p), nil
}

// Flush is a no-op, nothing is buffered beyond the chunk boundary.
func (w *Writer) Flush() error {
	return nil
}

// Close signals end-of-stream to the consumer. It is safe to call more than once.
func (w *Writer) Close() error {
	w.tx.Close()
	return nil
}
