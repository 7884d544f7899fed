package rpc

import (
	"context"
	"log/slog"
	"time"

	ilog "github.com/latticeforge/edgerpc/internal/log"
	"github.com/latticeforge/edgerpc/internal/options"
	"github.com/latticeforge/edgerpc/rpc/internal"
	"github.com/latticeforge/edgerpc/rpc/internal/errutil"
	"github.com/latticeforge/edgerpc/rpc/internal/topic"
	"github.com/latticeforge/edgerpc/rpc/internal/version"
	"github.com/latticeforge/edgerpc/transport"
)

type (
	// TelemetrySender sends telemetry events.
	TelemetrySender[T any] struct {
		publisher *publisher[T]
		log       ilog.Logger
	}

	// TelemetrySenderOption configures a TelemetrySender.
	TelemetrySenderOption interface{ telemetrySender(*TelemetrySenderOptions) }

	// TelemetrySenderOptions are the resolved telemetry sender options.
	TelemetrySenderOptions struct {
		TopicNamespace string
		TopicTokens    map[string]string
		Logger         *slog.Logger
	}

	// SendOption configures a single Send call.
	SendOption interface{ send(*SendOptions) }

	// SendOptions are the resolved per-send options.
	SendOptions struct {
		CloudEvent *CloudEvent
		Retain     bool

		Timeout     time.Duration
		TopicTokens map[string]string
		Metadata    map[string]string
	}

	// WithRetain marks the telemetry event for broker retention.
	WithRetain bool

	withCloudEvent struct{ *CloudEvent }
)

const telemetrySenderErrStr = "telemetry send"

// NewTelemetrySender creates a telemetry sender publishing to
// topicPattern.
func NewTelemetrySender[T any](
	app *Application,
	client transport.Client,
	encoding Encoding[T],
	topicPattern string,
	opt ...TelemetrySenderOption,
) (ts *TelemetrySender[T], err error) {
	var opts TelemetrySenderOptions
	opts.Apply(opt)
	logger := ilog.Wrap(opts.Logger)

	defer func() { err = errutil.Return(err, logger, true) }()

	if err := errutil.ValidateNonNil(map[string]any{
		"client":   client,
		"encoding": encoding,
	}); err != nil {
		return nil, err
	}

	tp, err := topic.NewPattern(
		"topicPattern",
		topicPattern,
		opts.TopicTokens,
		opts.TopicNamespace,
	)
	if err != nil {
		return nil, err
	}

	ts = &TelemetrySender[T]{log: logger}
	ts.publisher = &publisher[T]{
		app:      app,
		client:   client,
		encoding: encoding,
		topic:    tp,
		version:  version.ProtocolString,
	}
	return ts, nil
}

// Send emits the telemetry event, blocking until the broker
// acknowledges the publish.
func (ts *TelemetrySender[T]) Send(
	ctx context.Context,
	val T,
	opt ...SendOption,
) (err error) {
	shallow := true
	defer func() { err = errutil.Return(err, ts.log, shallow) }()

	var opts SendOptions
	opts.Apply(opt)

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	expiry := &internal.Timeout{
		Duration: timeout,
		Name:     "MessageExpiry",
		Text:     telemetrySenderErrStr,
	}
	if err := expiry.Validate(); err != nil {
		return err
	}

	msg := &Message[T]{
		Payload:  val,
		Metadata: opts.Metadata,
	}
	pub, err := ts.publisher.build(msg, opts.TopicTokens, expiry)
	if err != nil {
		return err
	}

	if err := opts.CloudEvent.toMessage(pub); err != nil {
		return err
	}
	pub.Retain = opts.Retain

	ts.log.Debug(ctx, "sending telemetry", slog.String("topic", pub.Topic))

	shallow = false
	return ts.publisher.publish(ctx, pub)
}

// Apply resolves a list of TelemetrySenderOptions.
func (o *TelemetrySenderOptions) Apply(
	opts []TelemetrySenderOption,
	rest ...TelemetrySenderOption,
) {
	for opt := range options.Apply[TelemetrySenderOption](opts, rest...) {
		opt.telemetrySender(o)
	}
}

func (o *TelemetrySenderOptions) telemetrySender(opt *TelemetrySenderOptions) {
	if o != nil {
		*opt = *o
	}
}

func (*TelemetrySenderOptions) option() {}

// Apply resolves a list of SendOptions.
func (o *SendOptions) Apply(opts []SendOption, rest ...SendOption) {
	for opt := range options.Apply[SendOption](opts, rest...) {
		opt.send(o)
	}
}

func (o *SendOptions) send(opt *SendOptions) {
	if o != nil {
		*opt = *o
	}
}

func (o WithRetain) send(opt *SendOptions) {
	opt.Retain = bool(o)
}

// WithCloudEvent attaches a cloud event envelope to the telemetry
// message.
func WithCloudEvent(ce *CloudEvent) SendOption {
	return withCloudEvent{ce}
}

func (o withCloudEvent) send(opt *SendOptions) {
	opt.CloudEvent = o.CloudEvent
}

func (o *CloudEvent) send(opt *SendOptions) {
	opt.CloudEvent = o
}
