package httpwriter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/bitrise-io/go-streamupload/pipe"
)

// Local plumbing errors, re-exported so callers only need this package.
var (
	ErrBrokenPipe    = pipe.ErrBrokenPipe
	ErrChannelClosed = pipe.ErrChannelClosed
)

// ErrSessionClosed is returned when writing to a session after Close.
var ErrSessionClosed = errors.New("upload session already closed")

// ConnectError means the connection to the endpoint could not be established.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect error: %s", e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// TimeoutError means the request ran out of time.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timed out: %s", e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// TransportError is any other failure of the HTTP exchange.
type TransportError struct {
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport error: %s", e.Message)
	}
	return fmt.Sprintf("transport error: %s: %s", e.Message, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError means the response could not be read.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error: %s", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// UploadFailedError is returned when the endpoint answered with a non-success status.
type UploadFailedError struct {
	StatusCode int
}

func (e *UploadFailedError) Error() string {
	return fmt.Sprintf("upload failed, status: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsLocal reports whether err comes from the in-process pipe rather than from the
// network or the remote endpoint.
func IsLocal(err error) bool {
	return errors.Is(err, ErrBrokenPipe) || errors.Is(err, ErrChannelClosed) || errors.Is(err, ErrSessionClosed)
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}

	var (
		connectErr   *ConnectError
		timeoutErr   *TimeoutError
		transportErr *TransportError
		decodeErr    *DecodeError
	)
	if errors.As(err, &connectErr) || errors.As(err, &timeoutErr) ||
		errors.As(err, &transportErr) || errors.As(err, &decodeErr) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Err: err}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &ConnectError{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return &ConnectError{Err: err}
	}

	if errors.Is(err, context.Canceled) {
		return &TransportError{Message: "request canceled", Err: err}
	}
	return &TransportError{Message: "request failed", Err: err}
}
