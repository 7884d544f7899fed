// Package transport defines the contract the RPC core requires of its
// underlying MQTT connection, and provides one implementation of it:
// a paho-backed client, which tests also run against an in-process
// broker. Session lifecycle (connect/reconnect/TLS/SAT auth) is the
// concern of whatever sits behind this interface, not of this
// package or of rpc — per the core's scope, only the contract below
// is load-bearing.
package transport

import "context"

type (
	// Client is the minimal surface the RPC core needs from an MQTT v5
	// connection. Implementations must support manual ack, since message
	// acknowledgement ordering is managed by the core, not by the
	// transport.
	Client interface {
		// ID returns the MQTT client identifier used for this connection.
		ID() string

		// Publish sends a PUBLISH to the broker and blocks for its PUBACK.
		Publish(
			ctx context.Context,
			topic string,
			payload []byte,
			opts ...PublishOption,
		) (*Ack, error)

		// RegisterMessageHandler installs a handler invoked for every
		// incoming PUBLISH. The handler returns true if it consumed the
		// message (matched one of its topic filters). The returned func
		// deregisters the handler.
		RegisterMessageHandler(MessageHandler) func()

		// Subscribe installs a subscription for the given filter.
		Subscribe(
			ctx context.Context,
			filter string,
			opts ...SubscribeOption,
		) (*Ack, error)

		// Unsubscribe removes a subscription for the given filter.
		Unsubscribe(
			ctx context.Context,
			filter string,
			opts ...UnsubscribeOption,
		) (*Ack, error)
	}

	// Message represents a received PUBLISH, manual-ack only.
	Message struct {
		Topic   string
		Payload []byte
		PublishOptions

		// Ack manually acknowledges the message. Every handled message
		// must be acked exactly once (QoS 0 deliveries make this a no-op).
		Ack func() error
	}

	// MessageHandler handles an incoming message and reports whether it
	// matched and was consumed.
	MessageHandler func(context.Context, *Message) bool

	// Ack carries the broker's response to a PUBLISH/SUBSCRIBE/UNSUBSCRIBE.
	Ack struct {
		ReasonCode     byte
		ReasonString   string
		UserProperties map[string]string
	}

	// QoS is the MQTT quality-of-service level.
	QoS byte

	// PayloadFormat is the MQTT payload-format indicator.
	PayloadFormat byte

	// RetainHandling controls whether retained messages are resent on
	// (re)subscribe.
	RetainHandling byte
)

// Quality-of-service levels. The core always publishes and subscribes
// at QoS 1; QoS 2 is an explicit non-goal.
const (
	QoS0 QoS = iota
	QoS1
	QoS2
)

// Payload-format indicator values.
const (
	PayloadFormatBytes PayloadFormat = iota
	PayloadFormatUTF8
)

// Retain-handling values.
const (
	RetainHandlingSend RetainHandling = iota
	RetainHandlingSendIfNew
	RetainHandlingDoNotSend
)
