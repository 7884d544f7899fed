package errors

import (
	stderrors "errors"
	"context"
	"fmt"
	"os"
)

// Normalize coerces an arbitrary error into an *Error, classifying
// context and OS-level timeouts along the way. Errors already of
// type *Error pass through unchanged.
func Normalize(err error, msg string) error {
	if e, ok := err.(*Error); ok {
		return e
	}

	switch {
	case err == nil:
		return nil

	case os.IsTimeout(err), stderrors.Is(err, context.DeadlineExceeded):
		return &Error{
			Message: fmt.Sprintf("%s timed out", msg),
			Kind:    Timeout,
		}

	case stderrors.Is(err, context.Canceled):
		return &Error{
			Message: fmt.Sprintf("%s cancelled", msg),
			Kind:    Cancelled,
		}

	default:
		return &Error{
			Message:     fmt.Sprintf("%s error: %s", msg, err.Error()),
			Kind:        UnknownError,
			NestedError: err,
		}
	}
}

// Context extracts the timeout or cancellation error carried by ctx.
func Context(ctx context.Context, msg string) error {
	if err := context.Cause(ctx); err != nil {
		return err
	}
	return Normalize(ctx.Err(), msg)
}
