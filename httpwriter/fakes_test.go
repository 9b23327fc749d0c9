package httpwriter

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// fakeClient answers the probe with probeStatus/probeErr. The stream reads up to
// readLimit bytes of the body (all of it when readLimit is negative) and then answers
// with streamStatus/streamErr.
type fakeClient struct {
	probeStatus  int
	probeErr     error
	streamStatus int
	streamErr    error
	readLimit    int

	mu          sync.Mutex
	body        bytes.Buffer
	probeCalls  int
	streamCalls int

	streamDone chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		probeStatus:  200,
		streamStatus: 201,
		readLimit:    -1,
		streamDone:   make(chan struct{}),
	}
}

func (c *fakeClient) Probe(_ context.Context, _ string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probeCalls++
	return c.probeStatus, c.probeErr
}

func (c *fakeClient) Stream(_ context.Context, _ string, body io.Reader) (int, error) {
	c.mu.Lock()
	c.streamCalls++
	c.mu.Unlock()
	defer close(c.streamDone)

	var src io.Reader = body
	if c.readLimit >= 0 {
		src = io.LimitReader(body, int64(c.readLimit))
	}

	buf := make([]byte, 3)
	for {
		n, err := src.Read(buf)
		c.mu.Lock()
		c.body.Write(buf[:n])
		c.mu.Unlock()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}

	return c.streamStatus, c.streamErr
}

func (c *fakeClient) received() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.body.String()
}

func (c *fakeClient) calls() (probe, stream int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.probeCalls, c.streamCalls
}

type recordingSink struct {
	mu         sync.Mutex
	increments []int64
	messages   []string
}

func (s *recordingSink) Increment(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.increments = append(s.increments, n)
}

func (s *recordingSink) Finish(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
}

func (s *recordingSink) total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, n := range s.increments {
		total += n
	}
	return total
}
