package queue

import (
	"context"
	"errors"
	"time"
)

// ErrFatal marks an error that retrying cannot fix, such as an unsupported
// file type. RetryWithBackoff stops immediately when it sees one, and the
// processor turns it into a terminal document error.
var ErrFatal = errors.New("permanent failure")

// Fatal wraps err so errors.Is(err, ErrFatal) holds.
func Fatal(err error) error {
	return &fatalError{err: err}
}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }
func (e *fatalError) Is(target error) bool {
	return target == ErrFatal
}

// RetryWithBackoff runs fn up to attempts times with exponential backoff,
// returning the last error. Fatal errors and context cancellation cut the
// loop short.
func RetryWithBackoff(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	var lastErr error
	delay := base
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrFatal) {
			return lastErr
		}
		if i < attempts-1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
	}
	return lastErr
}
