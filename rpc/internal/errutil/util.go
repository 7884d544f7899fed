// Package errutil collects error helpers shared across the RPC core:
// wire status-code translation, transport-ack translation, and small
// validation utilities.
package errutil

import (
	"context"

	"github.com/google/uuid"

	"github.com/latticeforge/edgerpc/internal/log"
	"github.com/latticeforge/edgerpc/rpc/errors"
)

type noReturn struct{ error }

// NoReturn marks err as one that must never be sent back over RPC,
// e.g. because it would leak internal detail to a remote peer.
func NoReturn(err error) error {
	return noReturn{err}
}

// IsNoReturn reports whether err was wrapped with NoReturn, unwrapping
// it either way.
func IsNoReturn(err error) (bool, error) {
	if e, ok := err.(noReturn); ok {
		return true, e.error
	}
	return false, err
}

// Return prepares err for use outside the RPC send path: it strips
// any NoReturn wrapper, marks the error shallow if requested, and
// logs it.
func Return(err error, logger log.Logger, shallow bool) error {
	if e, ok := err.(noReturn); ok {
		err = e.error
	}
	if e, ok := err.(*errors.Error); ok {
		e.IsShallow = shallow
	}
	if err != nil {
		logger.Err(context.Background(), err)
	}
	return err
}

// ValidateNonNil reports a ConfigurationInvalid error naming the
// first nil argument found.
func ValidateNonNil(args map[string]any) error {
	for k, v := range args {
		if v == nil {
			return &errors.Error{
				Message:      "argument is nil",
				Kind:         errors.ConfigurationInvalid,
				PropertyName: k,
				IsShallow:    true,
			}
		}
	}
	return nil
}

// NewUUID generates a time-ordered (v7) UUID string, used for
// correlation data and CloudEvent ids.
func NewUUID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", &errors.Error{
			Message:     err.Error(),
			Kind:        errors.UnknownError,
			NestedError: err,
			IsShallow:   true,
		}
	}
	return id.String(), nil
}
