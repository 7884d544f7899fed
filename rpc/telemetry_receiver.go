package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	ilog "github.com/latticeforge/edgerpc/internal/log"
	"github.com/latticeforge/edgerpc/internal/options"
	"github.com/latticeforge/edgerpc/rpc/errors"
	"github.com/latticeforge/edgerpc/rpc/internal"
	"github.com/latticeforge/edgerpc/rpc/internal/errutil"
	"github.com/latticeforge/edgerpc/rpc/internal/topic"
	"github.com/latticeforge/edgerpc/rpc/internal/version"
	"github.com/latticeforge/edgerpc/transport"
)

type (
	// TelemetryReceiver handles receipt of a single telemetry model.
	TelemetryReceiver[T any] struct {
		listener  *listener[T]
		handler   TelemetryHandler[T]
		manualAck bool
		timeout   *internal.Timeout
		log       ilog.Logger
	}

	// TelemetryReceiverOption configures a TelemetryReceiver.
	TelemetryReceiverOption interface {
		telemetryReceiver(*TelemetryReceiverOptions)
	}

	// TelemetryReceiverOptions are the resolved telemetry receiver
	// options.
	TelemetryReceiverOptions struct {
		ManualAck bool

		Concurrency uint
		Timeout     time.Duration
		ShareName   string

		TopicNamespace string
		TopicTokens    map[string]string
		Logger         *slog.Logger
	}

	// TelemetryHandler is the user-provided telemetry callback. It is
	// treated as blocking; all parallelism is handled by the
	// receiver. It must be thread-safe.
	TelemetryHandler[T any] = func(context.Context, *TelemetryMessage[T]) error

	// TelemetryMessage is the per-message data exposed to a telemetry
	// handler.
	TelemetryMessage[T any] struct {
		Message[T]

		// Ack manually acknowledges the telemetry message, if manual
		// ack is enabled; nil otherwise.
		Ack func()
	}

	// WithManualAck makes the handler responsible for acknowledging
	// the telemetry message.
	WithManualAck bool
)

const telemetryReceiverErrStr = "telemetry receipt"

// NewTelemetryReceiver creates a telemetry receiver subscribing to
// topicPattern.
func NewTelemetryReceiver[T any](
	app *Application,
	client transport.Client,
	encoding Encoding[T],
	topicPattern string,
	handler TelemetryHandler[T],
	opt ...TelemetryReceiverOption,
) (tr *TelemetryReceiver[T], err error) {
	var opts TelemetryReceiverOptions
	opts.Apply(opt)
	logger := ilog.Wrap(opts.Logger)

	defer func() { err = errutil.Return(err, logger, true) }()

	if err := errutil.ValidateNonNil(map[string]any{
		"client":   client,
		"encoding": encoding,
		"handler":  handler,
	}); err != nil {
		return nil, err
	}

	to := &internal.Timeout{
		Duration: opts.Timeout,
		Name:     "ExecutionTimeout",
		Text:     telemetryReceiverErrStr,
	}
	if err := to.Validate(); err != nil {
		return nil, err
	}

	if err := topic.ValidateShareName(opts.ShareName); err != nil {
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

	tf, err := tp.Filter()
	if err != nil {
		return nil, err
	}

	tr = &TelemetryReceiver[T]{
		handler:   handler,
		manualAck: opts.ManualAck,
		timeout:   to,
		log:       logger,
	}
	tr.listener = &listener[T]{
		app:         app,
		client:      client,
		encoding:    encoding,
		topic:       tf,
		shareName:   opts.ShareName,
		concurrency: opts.Concurrency,
		handler:     tr,
	}

	if err := tr.listener.register(); err != nil {
		return nil, err
	}
	return tr, nil
}

// Start subscribes to the telemetry topic.
func (tr *TelemetryReceiver[T]) Start(ctx context.Context) error {
	return tr.listener.listen(ctx)
}

// Close frees the telemetry receiver's resources.
func (tr *TelemetryReceiver[T]) Close() {
	tr.listener.close()
}

func (tr *TelemetryReceiver[T]) onMsg(
	ctx context.Context,
	wt msgWithTokens,
	msg *Message[T],
) error {
	pub := wt.msg
	message := &TelemetryMessage[T]{Message: *msg}

	if tr.manualAck && pub.QoS > 0 {
		message.Ack = func() { tr.listener.ack(ctx, wt) }
	}

	handlerCtx, cancel := tr.timeout.Context(ctx)
	defer cancel()

	tr.log.Debug(ctx, "telemetry received", slog.String("topic", pub.Topic))

	if err := tr.handle(handlerCtx, message); err != nil {
		return err
	}

	if !tr.manualAck && pub.QoS > 0 {
		tr.listener.ack(ctx, wt)
	}
	return nil
}

func (tr *TelemetryReceiver[T]) onErr(
	ctx context.Context,
	wt msgWithTokens,
	err error,
) error {
	if wt.msg.QoS > 0 {
		tr.listener.ack(ctx, wt)
	}
	tr.log.Err(ctx, err)
	return nil
}

// handle invokes the handler, catching any panic.
func (tr *TelemetryReceiver[T]) handle(
	ctx context.Context,
	msg *TelemetryMessage[T],
) error {
	rchan := make(chan error)

	go func() {
		var err error
		defer func() {
			if p := recover(); p != nil {
				err = &errors.Error{
					Message:       fmt.Sprint(p),
					Kind:          errors.ExecutionException,
					InApplication: true,
				}
			}
			select {
			case rchan <- err:
			case <-ctx.Done():
			}
		}()

		err = tr.handler(ctx, msg)
		if e := errors.Context(ctx, telemetryReceiverErrStr); e != nil {
			err = e
		} else if err != nil {
			err = &errors.Error{
				Message:       err.Error(),
				Kind:          errors.ExecutionException,
				InApplication: true,
				NestedError:   err,
			}
		}
	}()

	select {
	case err := <-rchan:
		return err
	case <-ctx.Done():
		return errors.Context(ctx, telemetryReceiverErrStr)
	}
}

// Apply resolves a list of TelemetryReceiverOptions.
func (o *TelemetryReceiverOptions) Apply(
	opts []TelemetryReceiverOption,
	rest ...TelemetryReceiverOption,
) {
	for opt := range options.Apply[TelemetryReceiverOption](opts, rest...) {
		opt.telemetryReceiver(o)
	}
}

func (o *TelemetryReceiverOptions) telemetryReceiver(
	opt *TelemetryReceiverOptions,
) {
	if o != nil {
		*opt = *o
	}
}

func (*TelemetryReceiverOptions) option() {}

func (o WithManualAck) telemetryReceiver(opt *TelemetryReceiverOptions) {
	opt.ManualAck = bool(o)
}

func (WithManualAck) option() {}
