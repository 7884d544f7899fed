package rpc

import (
	"context"
	"log/slog"
	"time"

	ilog "github.com/latticeforge/edgerpc/internal/log"
	"github.com/latticeforge/edgerpc/internal/options"
	"github.com/latticeforge/edgerpc/rpc/errors"
	"github.com/latticeforge/edgerpc/rpc/internal"
	"github.com/latticeforge/edgerpc/rpc/internal/constants"
	"github.com/latticeforge/edgerpc/rpc/internal/container"
	"github.com/latticeforge/edgerpc/rpc/internal/errutil"
	"github.com/latticeforge/edgerpc/rpc/internal/topic"
	"github.com/latticeforge/edgerpc/rpc/internal/version"
	"github.com/latticeforge/edgerpc/transport"
)

type (
	// CommandInvoker invokes a single command, blocking until the
	// matching response arrives or the request's timeout expires.
	CommandInvoker[Req any, Res any] struct {
		publisher     *publisher[Req]
		listener      *listener[Res]
		responseTopic *topic.Pattern

		pending container.SyncMap[string, commandPending[Res]]
	}

	// CommandInvokerOption configures a CommandInvoker.
	CommandInvokerOption interface{ commandInvoker(*CommandInvokerOptions) }

	// CommandInvokerOptions are the resolved command invoker options.
	CommandInvokerOptions struct {
		ResponseTopicPattern string
		ResponseTopicPrefix  string
		ResponseTopicSuffix  string

		TopicNamespace string
		TopicTokens    map[string]string
		Logger         *slog.Logger
	}

	// InvokeOption configures a single invocation.
	InvokeOption interface{ invoke(*InvokeOptions) }

	// InvokeOptions are the resolved per-invocation options.
	InvokeOptions struct {
		Timeout     time.Duration
		TopicTokens map[string]string
		Metadata    map[string]string
	}

	// WithResponseTopicPattern overrides the derived response topic
	// pattern entirely; it takes precedence over prefix/suffix.
	WithResponseTopicPattern string

	// WithResponseTopicPrefix prepends a fixed segment to the derived
	// response topic. Defaults to "clients/<MQTT client ID>" when
	// neither prefix nor suffix is given.
	WithResponseTopicPrefix string

	// WithResponseTopicSuffix appends a fixed segment to the derived
	// response topic.
	WithResponseTopicSuffix string

	commandPending[Res any] struct {
		ret  chan<- commandReturn[Res]
		done <-chan struct{}
	}
)

const commandInvokerErrStr = "command invocation"

// NewCommandInvoker creates a command invoker for requestTopicPattern.
func NewCommandInvoker[Req, Res any](
	app *Application,
	client transport.Client,
	requestEncoding Encoding[Req],
	responseEncoding Encoding[Res],
	requestTopicPattern string,
	opt ...CommandInvokerOption,
) (ci *CommandInvoker[Req, Res], err error) {
	var opts CommandInvokerOptions
	opts.Apply(opt)
	logger := ilog.Wrap(opts.Logger)

	defer func() { err = errutil.Return(err, logger, true) }()

	if err := errutil.ValidateNonNil(map[string]any{
		"client":           client,
		"requestEncoding":  requestEncoding,
		"responseEncoding": responseEncoding,
	}); err != nil {
		return nil, err
	}

	responseTopicPattern := opts.ResponseTopicPattern
	if responseTopicPattern == "" {
		responseTopicPattern = requestTopicPattern

		if opts.ResponseTopicPrefix != "" {
			if err := topic.ValidateComponent(
				"responseTopicPrefix",
				"invalid response topic prefix",
				opts.ResponseTopicPrefix,
			); err != nil {
				return nil, err
			}
			responseTopicPattern = opts.ResponseTopicPrefix + "/" + responseTopicPattern
		}
		if opts.ResponseTopicSuffix != "" {
			if err := topic.ValidateComponent(
				"responseTopicSuffix",
				"invalid response topic suffix",
				opts.ResponseTopicSuffix,
			); err != nil {
				return nil, err
			}
			responseTopicPattern = responseTopicPattern + "/" + opts.ResponseTopicSuffix
		}

		// With no options given, apply a well-known prefix so the
		// response topic is never identical to the request topic and
		// can be documented for authorization policy. No topic tokens
		// are used here since their existence can't be guaranteed.
		if opts.ResponseTopicPrefix == "" && opts.ResponseTopicSuffix == "" {
			responseTopicPattern = "clients/" + client.ID() + "/" + requestTopicPattern
		}
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

	resTP, err := topic.NewPattern(
		"responseTopicPattern",
		responseTopicPattern,
		opts.TopicTokens,
		opts.TopicNamespace,
	)
	if err != nil {
		return nil, err
	}

	resTF, err := resTP.Filter()
	if err != nil {
		return nil, err
	}

	ci = &CommandInvoker[Req, Res]{
		responseTopic: resTP,
		pending:       container.NewSyncMap[string, commandPending[Res]](),
	}
	ci.publisher = &publisher[Req]{
		app:      app,
		client:   client,
		encoding: requestEncoding,
		version:  version.ProtocolString,
		topic:    reqTP,
	}
	ci.listener = &listener[Res]{
		app:            app,
		client:         client,
		encoding:       responseEncoding,
		topic:          resTF,
		reqCorrelation: true,
		handler:        ci,
	}

	if err := ci.listener.register(); err != nil {
		return nil, err
	}
	return ci, nil
}

// Invoke calls the command and blocks until the response arrives or
// the timeout expires. Callers wanting parallel invocations should
// call Invoke from multiple goroutines themselves.
func (ci *CommandInvoker[Req, Res]) Invoke(
	ctx context.Context,
	req Req,
	opt ...InvokeOption,
) (res *CommandResponse[Res], err error) {
	shallow := true
	defer func() { err = errutil.Return(err, ci.listener.app.log, shallow) }()

	var opts InvokeOptions
	opts.Apply(opt)

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	expiry := &internal.Timeout{
		Duration: timeout,
		Name:     "MessageExpiry",
		Text:     commandInvokerErrStr,
	}
	if err := expiry.Validate(); err != nil {
		return nil, err
	}

	correlationData, err := errutil.NewUUID()
	if err != nil {
		return nil, err
	}

	msg := &Message[Req]{
		CorrelationData: correlationData,
		Payload:         req,
		Metadata:        opts.Metadata,
	}
	pub, err := ci.publisher.build(msg, opts.TopicTokens, expiry)
	if err != nil {
		return nil, err
	}

	pub.UserProperties[constants.Partition] = ci.publisher.client.ID()
	pub.ResponseTopic, err = ci.responseTopic.Topic(opts.TopicTokens)
	if err != nil {
		return nil, err
	}

	listen, done := ci.initPending(string(pub.CorrelationData))
	defer done()

	shallow = false
	if err := ci.publisher.publish(ctx, pub); err != nil {
		return nil, err
	}

	ci.listener.app.log.Debug(ctx, "request sent",
		slog.String("correlation_data", correlationData))

	ctx, cancel := expiry.Context(ctx)
	defer cancel()

	select {
	case res := <-listen:
		return res.res, res.err
	case <-ctx.Done():
		return nil, errors.Context(ctx, commandInvokerErrStr)
	}
}

func (ci *CommandInvoker[Req, Res]) initPending(
	correlation string,
) (<-chan commandReturn[Res], func()) {
	ret := make(chan commandReturn[Res])
	done := make(chan struct{})
	ci.pending.Store(correlation, commandPending[Res]{ret, done})
	return ret, func() {
		ci.pending.Delete(correlation)
		close(done)
	}
}

func (ci *CommandInvoker[Req, Res]) sendPending(
	ctx context.Context,
	wt msgWithTokens,
	res *CommandResponse[Res],
	err error,
) error {
	defer ci.listener.ack(ctx, wt)

	cdata := string(wt.msg.CorrelationData)
	if pending, ok := ci.pending.Load(cdata); ok {
		select {
		case pending.ret <- commandReturn[Res]{res, err}:
			ci.listener.app.log.Debug(ctx, "response delivered",
				slog.String("correlation_data", cdata))
		case <-pending.done:
		case <-ctx.Done():
		}
		return nil
	}

	ci.listener.app.log.Debug(ctx, "response not for this invoker",
		slog.String("correlation_data", cdata))
	return &errors.Error{
		Message:     "unrecognized correlation data",
		Kind:        errors.HeaderInvalid,
		HeaderName:  constants.CorrelationData,
		HeaderValue: cdata,
	}
}

// Start subscribes to the response topic. Must be called before any
// Invoke.
func (ci *CommandInvoker[Req, Res]) Start(ctx context.Context) error {
	return ci.listener.listen(ctx)
}

// Close frees the invoker's resources.
func (ci *CommandInvoker[Req, Res]) Close() {
	ci.listener.close()
}

func (ci *CommandInvoker[Req, Res]) onMsg(
	ctx context.Context,
	wt msgWithTokens,
	msg *Message[Res],
) error {
	var res *CommandResponse[Res]
	err := errutil.FromUserProp(wt.msg.UserProperties)
	if err == nil {
		res = &CommandResponse[Res]{*msg}
	}
	if e := ci.sendPending(ctx, wt, res, err); e != nil {
		ci.listener.drop(ctx, wt, e)
	}
	return nil
}

func (ci *CommandInvoker[Req, Res]) onErr(
	ctx context.Context,
	wt msgWithTokens,
	err error,
) error {
	if e, ok := err.(*errors.Error); ok {
		e.IsRemote = false
		if e.Kind == errors.UnsupportedVersion {
			// A version error from the listener means the *response*
			// carries a version this invoker doesn't support, not the
			// request, so clarify the message.
			e.Message = "response version is not supported"
		}
	}
	return ci.sendPending(ctx, wt, nil, err)
}

// Apply resolves a list of CommandInvokerOptions.
func (o *CommandInvokerOptions) Apply(
	opts []CommandInvokerOption,
	rest ...CommandInvokerOption,
) {
	for opt := range options.Apply[CommandInvokerOption](opts, rest...) {
		opt.commandInvoker(o)
	}
}

func (o *CommandInvokerOptions) commandInvoker(opt *CommandInvokerOptions) {
	if o != nil {
		*opt = *o
	}
}

func (*CommandInvokerOptions) option() {}

func (o WithResponseTopicPattern) commandInvoker(opt *CommandInvokerOptions) {
	opt.ResponseTopicPattern = string(o)
}

func (WithResponseTopicPattern) option() {}

func (o WithResponseTopicPrefix) commandInvoker(opt *CommandInvokerOptions) {
	opt.ResponseTopicPrefix = string(o)
}

func (WithResponseTopicPrefix) option() {}

func (o WithResponseTopicSuffix) commandInvoker(opt *CommandInvokerOptions) {
	opt.ResponseTopicSuffix = string(o)
}

func (WithResponseTopicSuffix) option() {}

// Apply resolves a list of InvokeOptions.
func (o *InvokeOptions) Apply(opts []InvokeOption, rest ...InvokeOption) {
	for opt := range options.Apply[InvokeOption](opts, rest...) {
		opt.invoke(o)
	}
}

func (o *InvokeOptions) invoke(opt *InvokeOptions) {
	if o != nil {
		*opt = *o
	}
}
