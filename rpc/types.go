// Package rpc implements the request/response and telemetry
// primitives layered over MQTT 5: correlation-keyed command
// invocation and execution with effectively-exactly-once delivery,
// and CloudEvents-capable telemetry send/receive. It does not own the
// MQTT connection itself — see the transport package for that
// contract — nor does it generate code from a model; it is the
// runtime those generated clients would call into.
package rpc

import (
	"github.com/latticeforge/edgerpc/rpc/hlc"
)

type (
	// Message is the data exposed to a handler for every inbound
	// command request, command response, or telemetry message.
	Message[T any] struct {
		// Payload is the deserialized message body.
		Payload T

		// ClientID is the MQTT client id of the sender.
		ClientID string

		// CorrelationData identifies a single command invocation.
		CorrelationData string

		// Timestamp is the sender's HLC value at send time.
		Timestamp hlc.Clock

		// TopicTokens are every token resolved from the incoming topic,
		// both runtime-owned (modelId, commandName, ...) and
		// caller-supplied.
		TopicTokens map[string]string

		// Metadata holds the non-reserved user properties carried on
		// the message.
		Metadata map[string]string

		// Data is the raw encoded payload this message was built from.
		*Data
	}

	// Option is implemented by every With* value; components filter
	// the ones relevant to them out of a []Option via options.Apply.
	Option interface{ option() }
)
