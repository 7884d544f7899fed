package errutil

import (
	"context"
	"fmt"

	"github.com/latticeforge/edgerpc/rpc/errors"
	"github.com/latticeforge/edgerpc/transport"
)

// Mqtt translates a transport Ack/error pair into an *errors.Error. A
// reason code >= 0x80 on an otherwise successful call indicates a
// broker-side rejection (MqttError); a nil ack with a nil error means
// the transport implementation violated its contract
// (InternalLogicError), which should never happen outside a bug in a
// Client implementation.
func Mqtt(ctx context.Context, msg string, ack *transport.Ack, err error) error {
	if ack != nil {
		if ack.ReasonCode >= 0x80 {
			return &errors.Error{
				Message: fmt.Sprintf(
					"%s error: %s. reason code: 0x%x",
					msg, ack.ReasonString, ack.ReasonCode,
				),
				Kind: errors.MqttError,
			}
		}
	} else if err == nil {
		return &errors.Error{
			Message: "the MQTT client returned a nil response without an error",
			Kind:    errors.InternalLogicError,
		}
	}

	if ctxErr := errors.Context(ctx, msg); ctxErr != nil {
		return ctxErr
	}
	return errors.Normalize(err, msg)
}
