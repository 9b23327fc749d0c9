package main

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
)

type fakeEnvRepository struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeEnvRepository(values map[string]string) *fakeEnvRepository {
	repo := &fakeEnvRepository{values: map[string]string{}}
	for k, v := range values {
		repo.values[k] = v
	}
	return repo
}

func (r *fakeEnvRepository) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var list []string
	for k, v := range r.values {
		list = append(list, k+"="+v)
	}
	sort.Strings(list)
	return list
}

func (r *fakeEnvRepository) Unset(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.values, key)
	return nil
}

func (r *fakeEnvRepository) Get(key string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.values[key]
}

func (r *fakeEnvRepository) Set(key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[strings.TrimSpace(key)] = value
	return nil
}

// chunkRecordingClient accepts every upload and records the size of each read of the body.
type chunkRecordingClient struct {
	readSize int

	mu     sync.Mutex
	chunks []int
	total  int
}

func (c *chunkRecordingClient) Probe(context.Context, string) (int, error) {
	return http.StatusOK, nil
}

func (c *chunkRecordingClient) Stream(_ context.Context, _ string, body io.Reader) (int, error) {
	buf := make([]byte, c.readSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			c.mu.Lock()
			c.chunks = append(c.chunks, n)
			c.total += n
			c.mu.Unlock()
		}
		if err == io.EOF {
			return http.StatusOK, nil
		}
		if err != nil {
			return 0, err
		}
	}
}
