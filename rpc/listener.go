package rpc

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/latticeforge/edgerpc/rpc/errors"
	"github.com/latticeforge/edgerpc/rpc/internal"
	"github.com/latticeforge/edgerpc/rpc/internal/ackqueue"
	"github.com/latticeforge/edgerpc/rpc/internal/constants"
	"github.com/latticeforge/edgerpc/rpc/internal/topic"
	"github.com/latticeforge/edgerpc/rpc/internal/version"
	"github.com/latticeforge/edgerpc/transport"
)

type (
	// Listener is anything that listens on an MQTT topic filter until
	// closed.
	Listener interface {
		Start(context.Context) error
		Close()
	}

	// Listeners is a collection of Listener, so a component that owns
	// more than one subscription (e.g. a telemetry receiver sharing a
	// filter across models) can start/close them together.
	Listeners []Listener

	// listener holds the state shared by every component that consumes
	// PUBLISHes: executor requests, invoker responses, and telemetry.
	listener[T any] struct {
		app            *Application
		client         transport.Client
		encoding       Encoding[T]
		topic          *topic.Filter
		shareName      string
		concurrency    uint
		reqCorrelation bool
		handler        interface {
			onMsg(context.Context, msgWithTokens, *Message[T]) error
			onErr(context.Context, msgWithTokens, error) error
		}

		filter     string
		acks       *ackqueue.Queue
		deregister func()
		done       func()
		active     atomic.Bool
	}
)

func (l *listener[T]) register() error {
	handle, done := internal.Concurrent(l.concurrency, l.handle)
	l.acks = ackqueue.New()

	filter := l.topic.String()
	if l.shareName != "" {
		filter = "$share/" + l.shareName + "/" + filter
	}

	l.deregister = l.client.RegisterMessageHandler(func(ctx context.Context, msg *transport.Message) bool {
		tokens, ok := l.topic.Tokens(msg.Topic)
		if !ok {
			return false
		}
		// Record arrival order before dispatch so acks release in the
		// order packets arrived even though handlers run concurrently
		// and may finish out of order.
		token := l.acks.Push(msg.Ack)
		handle(ctx, msgWithTokens{msg, tokens, token})
		return true
	})
	l.done = done
	l.filter = filter
	return nil
}

// msgWithTokens pairs a received message with the topic tokens
// recovered from matching it against the filter and the ack-queue
// token assigned on arrival, so handle doesn't need to re-run the
// filter regex or race other in-flight handlers for ack ordering.
type msgWithTokens struct {
	msg    *transport.Message
	tokens map[string]string
	ack    uint64
}

func (l *listener[T]) listen(ctx context.Context) error {
	if l.active.CompareAndSwap(false, true) {
		_, err := l.client.Subscribe(
			ctx,
			l.filter,
			transport.WithQoS(transport.QoS1),
			transport.WithNoLocal(l.shareName == ""),
		)
		return err
	}
	return nil
}

func (l *listener[T]) close() {
	if l.active.CompareAndSwap(true, false) {
		ctx := context.Background()
		if _, err := l.client.Unsubscribe(ctx, l.filter); err != nil {
			l.app.log.Err(ctx, err)
		}
	}
	if l.deregister != nil {
		l.deregister()
	}
	l.done()
}

func (l *listener[T]) handle(ctx context.Context, wt msgWithTokens) {
	pub := wt.msg
	msg := &Message[T]{TopicTokens: wt.tokens}

	ver := pub.UserProperties[constants.ProtocolVersion]
	if !version.IsSupported(ver) {
		l.error(ctx, wt, &errors.Error{
			Message:                        "unsupported version",
			Kind:                           errors.UnsupportedVersion,
			ProtocolVersion:                ver,
			SupportedMajorProtocolVersions: version.Supported,
		})
		return
	}

	if l.reqCorrelation && len(pub.CorrelationData) == 0 {
		l.error(ctx, wt, &errors.Error{
			Message:    "correlation data missing",
			Kind:       errors.HeaderMissing,
			HeaderName: constants.CorrelationData,
		})
		return
	}
	if len(pub.CorrelationData) != 0 {
		correlationData, err := uuid.FromBytes(pub.CorrelationData)
		if err != nil {
			l.error(ctx, wt, &errors.Error{
				Message:    "correlation data is not a valid UUID",
				Kind:       errors.HeaderInvalid,
				HeaderName: constants.CorrelationData,
			})
			return
		}
		msg.CorrelationData = correlationData.String()
	}

	ts := pub.UserProperties[constants.Timestamp]
	if ts != "" {
		var err error
		msg.Timestamp, err = l.app.hlc.Parse(constants.Timestamp, ts)
		if err != nil {
			l.error(ctx, wt, err)
			return
		}
	}

	msg.ClientID = pub.UserProperties[constants.SenderClientID]
	msg.Metadata = internal.PropToMetadata(pub.UserProperties)

	msg.Data = &Data{
		Payload:       pub.Payload,
		ContentType:   pub.ContentType,
		PayloadFormat: byte(pub.PayloadFormat),
	}
	payload, err := deserialize(l.encoding, msg.Data)
	if err != nil {
		l.error(ctx, wt, err)
		return
	}
	msg.Payload = payload

	if err := l.handler.onMsg(ctx, wt, msg); err != nil {
		l.error(ctx, wt, err)
		return
	}
}

// ack releases wt's ack in arrival order via the ack queue, rather
// than acking the underlying PUBLISH directly.
func (l *listener[T]) ack(_ context.Context, wt msgWithTokens) {
	l.acks.MarkReady(wt.ack)
}

func (l *listener[T]) error(ctx context.Context, wt msgWithTokens, err error) {
	if e := l.handler.onErr(ctx, wt, err); e != nil {
		l.drop(ctx, wt, err)
	}
}

func (l *listener[T]) drop(ctx context.Context, wt msgWithTokens, err error) {
	l.app.log.Err(ctx, err)
	l.acks.Drop(wt.ack)
}

// Start starts every listener in the collection.
func (ls Listeners) Start(ctx context.Context) error {
	for _, l := range ls {
		if err := l.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every listener in the collection.
func (ls Listeners) Close() {
	for _, l := range ls {
		l.Close()
	}
}
