// Package httpwriter uploads whatever is written to it as the body of a single
// chunked HTTP PUT request, produced on a background goroutine.
package httpwriter

import (
	"context"
	"fmt"
	"net/url"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/bitrise-io/go-streamupload/pipe"
	"github.com/bitrise-io/go-streamupload/progress"
	"github.com/bitrise-io/go-utils/v2/log"
)

// DefaultFinishMessage is passed to the progress sink when the upload succeeds.
const DefaultFinishMessage = "[OK]"

// State is the lifecycle stage of a Session.
type State int32

const (
	// StateOpened means the empty PUT succeeded and nothing was written yet.
	StateOpened State = iota
	// StateStreaming means at least one write was accepted.
	StateStreaming
	// StateSucceeded means the endpoint accepted the whole body.
	StateSucceeded
	// StateFailed means the upload ended with an error.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateOpened:
		return "opened"
	case StateStreaming:
		return "streaming"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Option ...
type Option func(*options)

type options struct {
	pipeCapacity  int
	logger        log.Logger
	finishMessage string
}

func defaultOptions() options {
	return options{
		pipeCapacity:  pipe.DefaultCapacity,
		logger:        log.NewLogger(),
		finishMessage: DefaultFinishMessage,
	}
}

// WithPipeCapacity sets how many written chunks may wait for the uploader before Write blocks.
func WithPipeCapacity(capacity int) Option {
	return func(o *options) {
		o.pipeCapacity = capacity
	}
}

// WithLogger ...
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithFinishMessage sets the message handed to the progress sink on success.
func WithFinishMessage(message string) Option {
	return func(o *options) {
		o.finishMessage = message
	}
}

// worker is the handle on the goroutine running the streaming PUT.
// Its result may be read once done is closed; exited is closed when the
// goroutine has released the pipe and published the final state.
type worker struct {
	done   chan struct{}
	exited chan struct{}
	err    error
	state  *atomic.Int32
}

func newWorker(state *atomic.Int32) *worker {
	return &worker{
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		state:  state,
	}
}

func (w *worker) run(ctx context.Context, client Client, uploadURL string, r *pipe.Reader, sink progress.Sink, finishMessage string) {
	defer close(w.exited)

	statusCode, err := client.Stream(ctx, uploadURL, progress.NewReader(r, sink))
	switch {
	case err != nil:
		w.err = classifyTransportError(err)
	case !isSuccess(statusCode):
		w.err = &UploadFailedError{StatusCode: statusCode}
	default:
		sink.Finish(finishMessage)
	}

	// The result is published before the consumer goes away, so a writer that
	// sees the broken pipe also sees the finished worker.
	close(w.done)
	r.Close()

	if w.err != nil {
		w.state.Store(int32(StateFailed))
	} else {
		w.state.Store(int32(StateSucceeded))
	}
}

func (w *worker) finished() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *worker) join() error {
	<-w.exited
	return w.err
}

// Session streams everything written to it to a single URL.
//
// A Session is not safe for concurrent use by multiple goroutines, except for
// Written and State.
type Session struct {
	url     string
	writer  *pipe.Writer
	handle  *worker
	written atomic.Int64
	state   *atomic.Int32
	logger  log.Logger

	err    error
	closed bool

	closeOnce sync.Once
	closeErr  error
}

// Open checks that url accepts a PUT by sending an empty one, then starts
// the streaming upload in the background.
//
// ctx governs the whole upload, cancelling it aborts the transfer.
// If the empty PUT fails no goroutine is started.
func Open(ctx context.Context, uploadURL string, client Client, sink progress.Sink, opts ...Option) (*Session, error) {
	if client == nil {
		return nil, fmt.Errorf("client must not be nil")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if sink == nil {
		sink = progress.NewCounter()
	}

	statusCode, err := client.Probe(ctx, uploadURL)
	if err != nil {
		return nil, fmt.Errorf("probe upload url: %w", classifyTransportError(err))
	}
	if !isSuccess(statusCode) {
		return nil, fmt.Errorf("probe upload url: %w", &UploadFailedError{StatusCode: statusCode})
	}
	o.logger.Debugf("Upload URL accepted the empty PUT (%d)", statusCode)

	tx, rx := pipe.New(o.pipeCapacity)
	state := &atomic.Int32{}
	state.Store(int32(StateOpened))
	handle := newWorker(state)
	go handle.run(ctx, client, uploadURL, pipe.NewReader(rx), sink, o.finishMessage)

	s := &Session{
		url:    uploadURL,
		writer: pipe.NewWriter(tx),
		handle: handle,
		state:  state,
		logger: o.logger,
	}
	runtime.SetFinalizer(s, (*Session).release)

	return s, nil
}

// Write hands p to the uploader. It either accepts all of p or returns an error.
//
// When the upload already failed the returned error is the reason of the failure
// (e.g. *UploadFailedError) rather than the broken pipe it caused.
func (s *Session) Write(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	if s.closed {
		return 0, ErrSessionClosed
	}

	n, err := s.writer.Write(p)
	if err != nil {
		return 0, s.writeFailed(err)
	}

	s.written.Add(int64(n))
	s.state.CompareAndSwap(int32(StateOpened), int32(StateStreaming))
	return n, nil
}

// Flush is a no-op apart from reporting an already recorded failure.
func (s *Session) Flush() error {
	return s.err
}

// Close ends the body, waits for the upload to finish and returns its error.
// Only the first call does anything, later calls return nil.
func (s *Session) Close() error {
	closed := false
	s.closeOnce.Do(func() {
		closed = true
		runtime.SetFinalizer(s, nil)
		s.closeErr = s.finalize()
	})
	if !closed {
		return nil
	}
	return s.closeErr
}

// Written returns the number of bytes accepted by Write so far. Accepted bytes may
// still be queued for upload.
func (s *Session) Written() int64 {
	return s.written.Load()
}

// State ...
func (s *Session) State() State {
	return State(s.state.Load())
}

// Err returns the terminal error recorded so far, if any.
func (s *Session) Err() error {
	return s.err
}

func (s *Session) writeFailed(err error) error {
	if s.handle == nil || !s.handle.finished() {
		s.logger.Debugf("Write failed while the uploader is still running: %s", err)
		return err
	}

	workerErr := s.takeHandle().join()
	if workerErr == nil {
		// The endpoint answered before reading the whole body.
		workerErr = err
	}
	s.err = workerErr
	// join waited for the worker's own state, so this is the last store.
	s.state.Store(int32(StateFailed))
	return s.err
}

func (s *Session) finalize() error {
	s.closed = true
	if err := s.writer.Close(); err != nil {
		s.logger.Warnf("Failed to close upload body: %s", err)
	}

	if handle := s.takeHandle(); handle != nil {
		if err := handle.join(); err != nil && s.err == nil {
			s.err = err
		}
	}
	if s.err == nil {
		s.logger.Debugf("Uploaded %d bytes", s.Written())
	}
	return s.err
}

// takeHandle moves the worker handle out of the session, so it is joined at most once.
func (s *Session) takeHandle() *worker {
	handle := s.handle
	s.handle = nil
	return handle
}

// release finalizes a session that was garbage collected without Close.
// Nobody is left to return the error to, so it is logged.
func (s *Session) release() {
	go func() {
		s.logger.Warnf("Upload session for %s was not closed, finishing it", redactURL(s.url))
		if err := s.Close(); err != nil {
			s.logger.Errorf("Upload to %s failed: %s", redactURL(s.url), err)
		}
	}()
}

func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
