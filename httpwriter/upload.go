package httpwriter

import (
	"context"
	"errors"
	"io"

	"github.com/bitrise-io/go-streamupload/progress"
)

// Upload opens a session, lets fn write the body and always closes the session,
// also when fn returns early or panics.
//
// If fn fails (or panics) the streaming request is aborted instead of being
// completed with a truncated body. The returned error is fn's error, the upload's
// error, or both joined when they differ.
func Upload(ctx context.Context, uploadURL string, client Client, sink progress.Sink, fn func(w io.Writer) error, opts ...Option) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	session, err := Open(ctx, uploadURL, client, sink, opts...)
	if err != nil {
		return err
	}

	defer func() {
		r := recover()
		if r != nil || (err != nil && !sameError(err, session.Err())) {
			cancel()
		}

		closeErr := session.Close()
		switch {
		case closeErr == nil:
		case err == nil:
			err = closeErr
		case !sameError(err, closeErr):
			err = errors.Join(err, closeErr)
		}

		if r != nil {
			panic(r)
		}
	}()

	return fn(session)
}

func sameError(a, b error) bool {
	if a == nil || b == nil {
		return a == b
	}
	return errors.Is(a, b) || errors.Is(b, a)
}
