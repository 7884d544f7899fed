// Package errors defines the structured error type shared across the
// RPC core, and the status taxonomy it maps to and from on the wire.
package errors

import "time"

type (
	// Error is the single structured error type raised by this module.
	// Callers distinguish error conditions by Kind, not by sentinel
	// values or wrapped type assertions.
	Error struct {
		Message string
		Kind    Kind

		NestedError error

		HeaderName  string
		HeaderValue string

		TimeoutName  string
		TimeoutValue time.Duration

		PropertyName  string
		PropertyValue any

		ProtocolVersion                string
		SupportedMajorProtocolVersions []int

		// Set by the library, not by callers constructing an Error.

		InApplication bool
		IsShallow     bool
		IsRemote      bool
		StatusCode    int
	}

	// Kind classifies the error condition.
	Kind int
)

// Error kinds, per the wire status taxonomy.
const (
	HeaderMissing Kind = iota
	HeaderInvalid
	PayloadInvalid
	Timeout
	Cancelled
	ConfigurationInvalid
	ArgumentInvalid
	StateInvalid
	InternalLogicError
	UnknownError
	ExecutionException
	MqttError
	UnsupportedVersion
)

// Error returns the error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes the nested error, if any, to errors.Is/As.
func (e *Error) Unwrap() error {
	return e.NestedError
}
