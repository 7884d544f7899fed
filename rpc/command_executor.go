package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	ilog "github.com/latticeforge/edgerpc/internal/log"
	"github.com/latticeforge/edgerpc/internal/options"
	"github.com/latticeforge/edgerpc/internal/wallclock"
	"github.com/latticeforge/edgerpc/rpc/errors"
	"github.com/latticeforge/edgerpc/rpc/internal"
	"github.com/latticeforge/edgerpc/rpc/internal/caching"
	"github.com/latticeforge/edgerpc/rpc/internal/constants"
	"github.com/latticeforge/edgerpc/rpc/internal/errutil"
	"github.com/latticeforge/edgerpc/rpc/internal/topic"
	"github.com/latticeforge/edgerpc/rpc/internal/version"
	"github.com/latticeforge/edgerpc/transport"
)

type (
	// CommandExecutor executes a single command: it listens for
	// requests on a topic, invokes a handler, caches the response
	// keyed by correlation data for effectively-exactly-once delivery
	// over QoS 1's at-least-once guarantee, and publishes it back.
	CommandExecutor[Req any, Res any] struct {
		listener  *listener[Req]
		publisher *publisher[Res]
		handler   CommandHandler[Req, Res]
		timeout   *internal.Timeout
		cache     *caching.Cache
		log       ilog.Logger
	}

	// CommandExecutorOption configures a CommandExecutor.
	CommandExecutorOption interface{ commandExecutor(*CommandExecutorOptions) }

	// CommandExecutorOptions are the resolved command executor options.
	CommandExecutorOptions struct {
		Idempotent bool
		CacheTTL   time.Duration

		Concurrency uint
		Timeout     time.Duration
		ShareName   string

		TopicNamespace string
		TopicTokens    map[string]string
		Logger         *slog.Logger
	}

	// CommandHandler implements a single command execution. It is
	// called with as much parallelism as Concurrency allows, so it
	// must be safe for concurrent use.
	CommandHandler[Req any, Res any] = func(
		context.Context,
		*CommandRequest[Req],
	) (*CommandResponse[Res], error)

	// CommandRequest is the data exposed to a command handler.
	CommandRequest[Req any] struct {
		Message[Req]
	}

	// CommandResponse is what a command handler returns.
	CommandResponse[Res any] struct {
		Message[Res]
	}

	// WithIdempotent marks the command idempotent, enabling
	// equivalent-request cache reuse within WithCacheTTL's window.
	WithIdempotent bool

	// WithCacheTTL bounds how long an idempotent command's response
	// may be reused for an equivalent, differently-correlated request.
	WithCacheTTL time.Duration

	// RespondOption configures a single command response.
	RespondOption interface{ respond(*RespondOptions) }

	// RespondOptions are the resolved per-response options.
	RespondOptions struct {
		Metadata map[string]string
	}

	commandReturn[Res any] struct {
		res *CommandResponse[Res]
		err error
	}
)

const (
	commandExecutorComponentName = "command executor"
	commandExecutorErrStr        = "command execution"
)

// NewCommandExecutor creates a command executor listening on
// requestTopicPattern.
func NewCommandExecutor[Req, Res any](
	app *Application,
	client transport.Client,
	requestEncoding Encoding[Req],
	responseEncoding Encoding[Res],
	requestTopicPattern string,
	handler CommandHandler[Req, Res],
	opt ...CommandExecutorOption,
) (ce *CommandExecutor[Req, Res], err error) {
	var opts CommandExecutorOptions
	opts.Apply(opt)

	logger := ilog.Wrap(opts.Logger)
	defer func() { err = errutil.Return(err, logger, true) }()

	if err := errutil.ValidateNonNil(map[string]any{
		"client":           client,
		"requestEncoding":  requestEncoding,
		"responseEncoding": responseEncoding,
		"handler":          handler,
	}); err != nil {
		return nil, err
	}

	to := &internal.Timeout{
		Duration: opts.Timeout,
		Name:     "ExecutionTimeout",
		Text:     commandExecutorErrStr,
	}
	if err := to.Validate(); err != nil {
		return nil, err
	}

	if err := topic.ValidateShareName(opts.ShareName); err != nil {
		return nil, err
	}

	reqTP, err := topic.NewPattern(
		"requestTopicPattern",
		requestTopicPattern,
		opts.TopicTokens,
		opts.TopicNamespace,
	)
	if err != nil {
		return nil, err
	}

	reqTF, err := reqTP.Filter()
	if err != nil {
		return nil, err
	}

	cacheTTL := opts.CacheTTL
	if !opts.Idempotent {
		cacheTTL = 0
	}

	ce = &CommandExecutor[Req, Res]{
		handler: handler,
		timeout: to,
		cache:   caching.New(wallclock.Instance, cacheTTL, requestTopicPattern),
		log:     logger,
	}
	ce.listener = &listener[Req]{
		app:            app,
		client:         client,
		encoding:       requestEncoding,
		topic:          reqTF,
		shareName:      opts.ShareName,
		concurrency:    opts.Concurrency,
		reqCorrelation: true,
		handler:        ce,
	}
	ce.publisher = &publisher[Res]{
		app:      app,
		client:   client,
		encoding: responseEncoding,
		version:  version.ProtocolString,
	}

	if err := ce.listener.register(); err != nil {
		return nil, err
	}
	return ce, nil
}

// Start subscribes to the request topic.
func (ce *CommandExecutor[Req, Res]) Start(ctx context.Context) error {
	return ce.listener.listen(ctx)
}

// Close frees the executor's resources.
func (ce *CommandExecutor[Req, Res]) Close() {
	ce.listener.close()
	ce.cache.Close()
}

func (ce *CommandExecutor[Req, Res]) onMsg(
	ctx context.Context,
	wt msgWithTokens,
	msg *Message[Req],
) error {
	pub := wt.msg
	ce.log.Debug(ctx, "request received",
		slog.String("topic", pub.Topic),
		slog.Any("correlation_data", pub.CorrelationData),
	)

	if err := ignoreRequest(pub); err != nil {
		return err
	}
	if pub.MessageExpiry == 0 {
		return &errors.Error{
			Message:    "message expiry missing",
			Kind:       errors.HeaderMissing,
			HeaderName: constants.MessageExpiry,
		}
	}

	rpub, err := ce.cache.Exec(pub, func() (*transport.Message, error) {
		req := &CommandRequest[Req]{Message: *msg}

		handlerCtx, cancel := ce.timeout.Context(ctx)
		defer cancel()

		handlerCtx, cancel = pubTimeout(pub, commandExecutorErrStr).Context(handlerCtx)
		defer cancel()

		res, err := ce.handle(handlerCtx, req)
		if err != nil {
			return ce.build(pub, nil, err)
		}
		return ce.build(pub, res, nil)
	})
	if err != nil {
		return err
	}

	defer ce.listener.ack(ctx, wt)

	if rpub == nil {
		return nil
	}
	// A response reused from an equivalent request was addressed to
	// that request; address this copy to the current one.
	out := *rpub
	out.CorrelationData = pub.CorrelationData
	out.Topic = pub.ResponseTopic
	rpub = &out
	if err := ce.publisher.publish(ctx, rpub); err != nil {
		ce.listener.drop(ctx, wt, err)
	} else {
		ce.log.Debug(ctx, "response sent",
			slog.String("topic", rpub.Topic),
			slog.Any("correlation_data", rpub.CorrelationData),
		)
	}
	return nil
}

func (ce *CommandExecutor[Req, Res]) onErr(
	ctx context.Context,
	wt msgWithTokens,
	err error,
) error {
	pub := wt.msg
	defer ce.listener.ack(ctx, wt)

	if e := ignoreRequest(pub); e != nil {
		return e
	}
	if no, e := errutil.IsNoReturn(err); no {
		return e
	}

	rpub, e := ce.build(pub, nil, err)
	if e != nil {
		return e
	}
	if e := ce.publisher.publish(ctx, rpub); e != nil {
		return e
	}

	ce.log.Err(ctx, err)
	return nil
}

// handle calls the user's handler with a panic catch, so a panicking
// handler fails the one invocation rather than the process.
func (ce *CommandExecutor[Req, Res]) handle(
	ctx context.Context,
	req *CommandRequest[Req],
) (*CommandResponse[Res], error) {
	rchan := make(chan commandReturn[Res])

	go func() {
		var ret commandReturn[Res]
		defer func() {
			if p := recover(); p != nil {
				ret.err = &errors.Error{
					Message:       fmt.Sprint(p),
					Kind:          errors.ExecutionException,
					InApplication: true,
				}
			}
			select {
			case rchan <- ret:
			case <-ctx.Done():
			}
		}()

		ret.res, ret.err = ce.handler(ctx, req)
		if e := errors.Context(ctx, commandExecutorErrStr); e != nil {
			ret.err = e
		} else if ret.err != nil {
			ret.err = &errors.Error{
				Message:       ret.err.Error(),
				Kind:          errors.ExecutionException,
				InApplication: true,
				NestedError:   ret.err,
			}
		} else if ret.res == nil {
			ret.err = &errors.Error{
				Message:       "command handler returned no response",
				Kind:          errors.ExecutionException,
				InApplication: true,
			}
		}
	}()

	select {
	case ret := <-rchan:
		return ret.res, ret.err
	case <-ctx.Done():
		return nil, errors.Context(ctx, commandExecutorErrStr)
	}
}

// build assembles the response publish packet, echoing the request's
// correlation data and carrying its expiry forward as the response's.
func (ce *CommandExecutor[Req, Res]) build(
	pub *transport.Message,
	res *CommandResponse[Res],
	resErr error,
) (*transport.Message, error) {
	var msg *Message[Res]
	if res != nil {
		msg = &res.Message
	}
	rpub, err := ce.publisher.build(msg, nil, pubTimeout(pub, commandExecutorErrStr))
	if err != nil {
		return nil, err
	}

	rpub.CorrelationData = pub.CorrelationData
	rpub.Topic = pub.ResponseTopic
	rpub.MessageExpiry = pub.MessageExpiry
	maps.Copy(rpub.UserProperties, errutil.ToUserProp(resErr))

	return rpub, nil
}

// ignoreRequest reports whether pub should be dropped rather than
// responded to, since it carries no usable response topic.
func ignoreRequest(pub *transport.Message) error {
	if pub.ResponseTopic == "" {
		return &errors.Error{
			Message:    "missing response topic",
			Kind:       errors.HeaderMissing,
			HeaderName: constants.ResponseTopic,
		}
	}
	if !topic.ValidTopic(pub.ResponseTopic) {
		return &errors.Error{
			Message:     "invalid response topic",
			Kind:        errors.HeaderInvalid,
			HeaderName:  constants.ResponseTopic,
			HeaderValue: pub.ResponseTopic,
		}
	}
	return nil
}

// pubTimeout derives a handler/response timeout from the request's
// own message expiry.
func pubTimeout(pub *transport.Message, text string) *internal.Timeout {
	return &internal.Timeout{
		Duration: time.Duration(pub.MessageExpiry) * time.Second,
		Name:     "MessageExpiry",
		Text:     text,
	}
}

// Respond builds a command response from a payload and options.
func Respond[Res any](payload Res, opt ...RespondOption) (*CommandResponse[Res], error) {
	var opts RespondOptions
	opts.Apply(opt)

	return &CommandResponse[Res]{Message[Res]{
		Payload:  payload,
		Metadata: opts.Metadata,
	}}, nil
}

// Apply resolves a list of CommandExecutorOptions.
func (o *CommandExecutorOptions) Apply(
	opts []CommandExecutorOption,
	rest ...CommandExecutorOption,
) {
	for opt := range options.Apply[CommandExecutorOption](opts, rest...) {
		opt.commandExecutor(o)
	}
}

func (o *CommandExecutorOptions) commandExecutor(opt *CommandExecutorOptions) {
	if o != nil {
		*opt = *o
	}
}

func (*CommandExecutorOptions) option() {}

func (o WithIdempotent) commandExecutor(opt *CommandExecutorOptions) {
	opt.Idempotent = bool(o)
}

func (WithIdempotent) option() {}

func (o WithCacheTTL) commandExecutor(opt *CommandExecutorOptions) {
	opt.CacheTTL = time.Duration(o)
}

func (WithCacheTTL) option() {}

// Apply resolves a list of RespondOptions.
func (o *RespondOptions) Apply(opts []RespondOption, rest ...RespondOption) {
	for opt := range options.Apply[RespondOption](opts, rest...) {
		opt.respond(o)
	}
}

func (o *RespondOptions) respond(opt *RespondOptions) {
	if o != nil {
		*opt = *o
	}
}
