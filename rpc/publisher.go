package rpc

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/latticeforge/edgerpc/rpc/errors"
	"github.com/latticeforge/edgerpc/rpc/internal"
	"github.com/latticeforge/edgerpc/rpc/internal/constants"
	"github.com/latticeforge/edgerpc/rpc/internal/errutil"
	"github.com/latticeforge/edgerpc/rpc/internal/topic"
	"github.com/latticeforge/edgerpc/transport"
)

// DefaultTimeout applies to Invoke or Send when the caller gives none.
const DefaultTimeout = 10 * time.Second

// publisher holds the state shared by every component that emits
// PUBLISHes: invoker requests, executor responses, and telemetry.
type publisher[T any] struct {
	app      *Application
	client   transport.Client
	encoding Encoding[T]
	topic    *topic.Pattern
	version  string
}

// build assembles the outbound message, stamping the reserved
// properties every PUBLISH carries regardless of payload.
func (p *publisher[T]) build(
	msg *Message[T],
	topicTokens map[string]string,
	timeout *internal.Timeout,
) (*transport.Message, error) {
	out := &transport.Message{
		PublishOptions: transport.PublishOptions{
			QoS:            transport.QoS1,
			MessageExpiry:  timeout.MessageExpiry(),
			UserProperties: map[string]string{},
		},
	}

	if p.topic != nil {
		t, err := p.topic.Topic(topicTokens)
		if err != nil {
			return nil, err
		}
		out.Topic = t
	}

	if msg != nil {
		data, err := serialize(p.encoding, msg.Payload)
		if err != nil {
			return nil, err
		}
		out.Payload = data.Payload
		out.ContentType = data.ContentType
		out.PayloadFormat = transport.PayloadFormat(data.PayloadFormat)

		if msg.CorrelationData != "" {
			parsed, err := uuid.Parse(msg.CorrelationData)
			if err != nil {
				return nil, &errors.Error{
					Message: "correlation data is not a valid UUID",
					Kind:    errors.InternalLogicError,
				}
			}
			out.CorrelationData = parsed[:]
		}
		for k, v := range msg.Metadata {
			out.UserProperties[k] = v
		}
	}

	ts, err := p.app.hlc.Get()
	if err != nil {
		return nil, err
	}
	out.UserProperties[constants.SenderClientID] = p.client.ID()
	out.UserProperties[constants.Timestamp] = ts.String()
	out.UserProperties[constants.ProtocolVersion] = p.version

	return out, nil
}

func (p *publisher[T]) publish(ctx context.Context, out *transport.Message) error {
	ack, err := p.client.Publish(ctx, out.Topic, out.Payload,
		transport.WithQoS(out.QoS),
		transport.WithContentType(out.ContentType),
		transport.WithCorrelationData(out.CorrelationData),
		transport.WithMessageExpiry(out.MessageExpiry),
		transport.WithPayloadFormat(out.PayloadFormat),
		transport.WithResponseTopic(out.ResponseTopic),
		transport.WithUserProperties(out.UserProperties),
	)
	return errutil.Mqtt(ctx, "publish", ack, err)
}
