package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitrise-io/go-streamupload/archive"
	"github.com/bitrise-io/go-streamupload/httpwriter"
)

type recordingEndpoint struct {
	*httptest.Server

	mu       sync.Mutex
	body     []byte
	headers  http.Header
	attempts int
}

func newRecordingEndpoint(t *testing.T, streamStatus int) *recordingEndpoint {
	e := &recordingEndpoint{}
	e.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.TransferEncoding) == 0 {
			w.WriteHeader(http.StatusOK)
			return
		}

		data, err := io.ReadAll(r.Body)
		assert.NoError(t, err)

		e.mu.Lock()
		e.body = data
		e.headers = r.Header.Clone()
		e.attempts++
		e.mu.Unlock()

		w.WriteHeader(streamStatus)
	}))
	t.Cleanup(e.Close)
	return e
}

func TestRun_UploadsSourceFile(t *testing.T) {
	// Given
	endpoint := newRecordingEndpoint(t, http.StatusCreated)
	content := strings.Repeat("0123456789", 10000)
	source := filepath.Join(t.TempDir(), "artifact.bin")
	require.NoError(t, os.WriteFile(source, []byte(content), 0600))

	envRepo := newFakeEnvRepository(map[string]string{
		urlKey:       endpoint.URL + "/artifact.bin",
		sourceKey:    "file://" + source,
		chunkSizeKey: "4KiB",
		tokenKey:     "token",
	})

	// When
	err := run(context.Background(), envRepo, log.NewLogger())

	// Then
	require.NoError(t, err)
	assert.Equal(t, content, string(endpoint.body))
	assert.Equal(t, "Bearer token", endpoint.headers.Get("Authorization"))
	assert.NotEmpty(t, endpoint.headers.Get(uploadIDHeader))
	assert.Equal(t, 1, endpoint.attempts)
}

func TestRun_UploadsArchive(t *testing.T) {
	// Given
	endpoint := newRecordingEndpoint(t, http.StatusOK)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("first"), 0600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("second"), 0600))

	envRepo := newFakeEnvRepository(map[string]string{
		urlKey:              endpoint.URL,
		pathsKey:            filepath.Join(dir, "**", "*.txt"),
		compressionLevelKey: "1",
	})

	// When
	err := run(context.Background(), envRepo, log.NewLogger())

	// Then
	require.NoError(t, err)

	dst := t.TempDir()
	require.NoError(t, archive.Extract(bytes.NewReader(endpoint.body), dst))
	first, err := os.ReadFile(filepath.Join(dst, dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(first))
	second, err := os.ReadFile(filepath.Join(dst, dir, "sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(second))
}

func TestRun_SkipsEmptyPaths(t *testing.T) {
	endpoint := newRecordingEndpoint(t, http.StatusOK)
	envRepo := newFakeEnvRepository(map[string]string{
		urlKey:   endpoint.URL,
		pathsKey: t.TempDir(),
	})

	err := run(context.Background(), envRepo, log.NewLogger())

	require.NoError(t, err)
	assert.Equal(t, 0, endpoint.attempts)
}

func TestRun_ReportsRejectedUpload(t *testing.T) {
	endpoint := newRecordingEndpoint(t, http.StatusForbidden)
	source := filepath.Join(t.TempDir(), "artifact.bin")
	require.NoError(t, os.WriteFile(source, []byte("payload"), 0600))

	envRepo := newFakeEnvRepository(map[string]string{
		urlKey:    endpoint.URL,
		sourceKey: source,
	})

	err := run(context.Background(), envRepo, log.NewLogger())

	var uploadErr *httpwriter.UploadFailedError
	require.ErrorAs(t, err, &uploadErr)
	assert.Equal(t, http.StatusForbidden, uploadErr.StatusCode)
}

func TestRun_InvalidConfig(t *testing.T) {
	err := run(context.Background(), newFakeEnvRepository(nil), log.NewLogger())

	assert.ErrorContains(t, err, "invalid configuration")
}

func TestUpload_BoundsChunkSize(t *testing.T) {
	tests := []struct {
		name   string
		writes []int
	}{
		{name: "single write larger than a chunk", writes: []int{10*1024 + 7}},
		{name: "small writes", writes: []int{100, 200, 300, 1500}},
		{name: "mixed writes", writes: []int{10, 4096, 1, 3000, 1024}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given
			client := &chunkRecordingClient{readSize: 64 * 1024}
			config := Config{URL: "http://example.com/upload", ChunkSize: 1024, PipeCapacity: 1, ReportInterval: time.Minute}
			total := 0
			produce := func(_ context.Context, w io.Writer) error {
				for _, size := range tt.writes {
					total += size
					if _, err := w.Write(bytes.Repeat([]byte("x"), size)); err != nil {
						return err
					}
				}
				return nil
			}

			// When
			err := upload(context.Background(), config, client, produce, log.NewLogger())

			// Then
			require.NoError(t, err)
			assert.Equal(t, total, client.total)
			for _, n := range client.chunks {
				assert.LessOrEqual(t, n, 1024)
			}
		})
	}
}

func TestChunkWriter_Write(t *testing.T) {
	var sizes []int
	var buf bytes.Buffer
	w := chunkWriter{w: writerFunc(func(p []byte) (int, error) {
		sizes = append(sizes, len(p))
		return buf.Write(p)
	}), size: 4}

	n, err := w.Write([]byte("0123456789"))

	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, []int{4, 4, 2}, sizes)
	assert.Equal(t, "0123456789", buf.String())
}

func TestChunkWriter_WriteStopsOnError(t *testing.T) {
	writeErr := errors.New("broken pipe")
	calls := 0
	w := chunkWriter{w: writerFunc(func(p []byte) (int, error) {
		calls++
		if calls == 2 {
			return 0, writeErr
		}
		return len(p), nil
	}), size: 4}

	n, err := w.Write([]byte("0123456789"))

	assert.ErrorIs(t, err, writeErr)
	assert.Equal(t, 4, n)
	assert.Equal(t, 2, calls)
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) {
	return f(p)
}
