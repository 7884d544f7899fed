package transport

import "github.com/latticeforge/edgerpc/internal/options"

type (
	// PublishOptions are the resolved options for a Publish call.
	PublishOptions struct {
		ContentType     string
		CorrelationData []byte
		MessageExpiry   uint32
		PayloadFormat   PayloadFormat
		QoS             QoS
		ResponseTopic   string
		Retain          bool
		UserProperties  map[string]string
	}

	// PublishOption represents a single Publish option.
	PublishOption interface{ publish(*PublishOptions) }

	// SubscribeOptions are the resolved options for a Subscribe call.
	SubscribeOptions struct {
		NoLocal        bool
		QoS            QoS
		Retain         bool
		RetainHandling RetainHandling
		UserProperties map[string]string
	}

	// SubscribeOption represents a single Subscribe option.
	SubscribeOption interface{ subscribe(*SubscribeOptions) }

	// UnsubscribeOptions are the resolved options for an Unsubscribe call.
	UnsubscribeOptions struct {
		UserProperties map[string]string
	}

	// UnsubscribeOption represents a single Unsubscribe option.
	UnsubscribeOption interface{ unsubscribe(*UnsubscribeOptions) }

	// WithContentType sets the publish content type.
	WithContentType string
	// WithCorrelationData sets the publish correlation data.
	WithCorrelationData []byte
	// WithMessageExpiry sets the publish message-expiry interval, in seconds.
	WithMessageExpiry uint32
	// WithNoLocal sets the subscribe no-local flag.
	WithNoLocal bool
	// WithPayloadFormat sets the publish payload-format indicator.
	WithPayloadFormat PayloadFormat
	// WithQoS sets the QoS for a publish or subscribe.
	WithQoS QoS
	// WithResponseTopic sets the publish response-topic property.
	WithResponseTopic string
	// WithRetain sets the publish retain flag or the subscribe
	// retain-as-published flag.
	WithRetain bool
	// WithRetainHandling sets the subscribe retain-handling behavior.
	WithRetainHandling RetainHandling
	// WithUserProperties merges additional user properties into a publish,
	// subscribe, or unsubscribe.
	WithUserProperties map[string]string
)

func (o WithContentType) publish(opt *PublishOptions)     { opt.ContentType = string(o) }
func (o WithCorrelationData) publish(opt *PublishOptions) { opt.CorrelationData = []byte(o) }
func (o WithMessageExpiry) publish(opt *PublishOptions)   { opt.MessageExpiry = uint32(o) }
func (o WithNoLocal) subscribe(opt *SubscribeOptions)     { opt.NoLocal = bool(o) }
func (o WithPayloadFormat) publish(opt *PublishOptions)   { opt.PayloadFormat = PayloadFormat(o) }
func (o WithQoS) publish(opt *PublishOptions)             { opt.QoS = QoS(o) }
func (o WithQoS) subscribe(opt *SubscribeOptions)         { opt.QoS = QoS(o) }
func (o WithResponseTopic) publish(opt *PublishOptions)   { opt.ResponseTopic = string(o) }
func (o WithRetain) publish(opt *PublishOptions)          { opt.Retain = bool(o) }
func (o WithRetain) subscribe(opt *SubscribeOptions)      { opt.Retain = bool(o) }
func (o WithRetainHandling) subscribe(opt *SubscribeOptions) {
	opt.RetainHandling = RetainHandling(o)
}

func (o WithUserProperties) merge(m map[string]string) map[string]string {
	if m == nil {
		m = make(map[string]string, len(o))
	}
	for k, v := range o {
		m[k] = v
	}
	return m
}

func (o WithUserProperties) publish(opt *PublishOptions) {
	opt.UserProperties = o.merge(opt.UserProperties)
}

func (o WithUserProperties) subscribe(opt *SubscribeOptions) {
	opt.UserProperties = o.merge(opt.UserProperties)
}

func (o WithUserProperties) unsubscribe(opt *UnsubscribeOptions) {
	opt.UserProperties = o.merge(opt.UserProperties)
}

// Apply resolves a list of PublishOptions.
func (o *PublishOptions) Apply(opts []PublishOption, rest ...PublishOption) {
	for opt := range options.Apply[PublishOption](opts, rest...) {
		opt.publish(o)
	}
}

// Apply resolves a list of SubscribeOptions.
func (o *SubscribeOptions) Apply(opts []SubscribeOption, rest ...SubscribeOption) {
	for opt := range options.Apply[SubscribeOption](opts, rest...) {
		opt.subscribe(o)
	}
}

// Apply resolves a list of UnsubscribeOptions.
func (o *UnsubscribeOptions) Apply(opts []UnsubscribeOption, rest ...UnsubscribeOption) {
	for opt := range options.Apply[UnsubscribeOption](opts, rest...) {
		opt.unsubscribe(o)
	}
}
