package httpwriter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bitrise-io/go-streamupload/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpload_Succeeds(t *testing.T) {
	client := newFakeClient()
	counter := progress.NewCounter()

	err := Upload(context.Background(), "http://example.com/upload", client, counter, func(w io.Writer) error {
		_, err := io.WriteString(w, "streamed content")
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, "streamed content", client.received())
	assert.Equal(t, int64(len("streamed content")), counter.Bytes())
	assert.Equal(t, DefaultFinishMessage, counter.Message())
}

func TestUpload_ProbeFailureSkipsProducer(t *testing.T) {
	client := newFakeClient()
	client.probeStatus = http.StatusUnauthorized
	called := false

	err := Upload(context.Background(), "http://example.com/upload", client, nil, func(w io.Writer) error {
		called = true
		return nil
	})

	var uploadErr *UploadFailedError
	require.True(t, errors.As(err, &uploadErr))
	assert.Equal(t, http.StatusUnauthorized, uploadErr.StatusCode)
	assert.False(t, called)
}

func TestUpload_ProducerErrorAbortsUpload(t *testing.T) {
	// Given
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.TransferEncoding) == 0 {
			w.WriteHeader(http.StatusOK)
			return
		}
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()
	producerErr := errors.New("source failed")

	// When
	err := Upload(context.Background(), server.URL, testHTTPClient(nil), nil, func(w io.Writer) error {
		if _, err := io.WriteString(w, "partial"); err != nil {
			return err
		}
		return producerErr
	})

	// Then
	require.Error(t, err)
	assert.ErrorIs(t, err, producerErr)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUpload_UploadErrorIsNotDuplicated(t *testing.T) {
	client := newFakeClient()
	client.readLimit = 0
	client.streamStatus = http.StatusBadGateway

	err := Upload(context.Background(), "http://example.com/upload", client, nil, func(w io.Writer) error {
		deadline := time.Now().Add(10 * time.Second)
		for time.Now().Before(deadline) {
			if _, err := w.Write([]byte("chunk")); err != nil {
				return err
			}
		}
		return errors.New("write never failed")
	})

	var uploadErr *UploadFailedError
	require.True(t, errors.As(err, &uploadErr), "unexpected error: %v", err)
	assert.Equal(t, http.StatusBadGateway, uploadErr.StatusCode)
	assert.EqualError(t, err, uploadErr.Error())
}

func TestUpload_PanicClosesSession(t *testing.T) {
	client := newFakeClient()

	assert.PanicsWithValue(t, "producer panic", func() {
		_ = Upload(context.Background(), "http://example.com/upload", client, nil, func(w io.Writer) error {
			_, _ = io.WriteString(w, "before panic")
			panic("producer panic")
		})
	})

	select {
	case <-client.streamDone:
	case <-time.After(10 * time.Second):
		t.Fatal("upload was not finished after the panic")
	}
}
