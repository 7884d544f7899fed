package transport

import (
	"context"
	"sync"

	"github.com/eclipse/paho.golang/paho"
)

// PahoClient adapts an already-connected *paho.Client (session
// resumption, reconnect, and auth are handled by whatever established
// that connection — this module only consumes the resulting session)
// to the Client contract the RPC core depends on.
type PahoClient struct {
	id     string
	client *paho.Client

	mu       sync.RWMutex
	handlers map[int]MessageHandler
	nextID   int
}

// NewPahoClient wraps a connected paho client. clientID should match
// the identifier used on the CONNECT packet.
func NewPahoClient(clientID string, client *paho.Client) *PahoClient {
	c := &PahoClient{
		id:       clientID,
		client:   client,
		handlers: make(map[int]MessageHandler),
	}
	client.AddOnPublishReceived(func(pr paho.PublishReceived) (bool, error) {
		return c.dispatch(pr), nil
	})
	return c
}

// ID returns the MQTT client identifier.
func (c *PahoClient) ID() string { return c.id }

func (c *PahoClient) dispatch(pr paho.PublishReceived) bool {
	msg := fromPaho(pr.Packet)
	msg.Ack = func() error {
		return pr.Client.Ack(pr.Packet)
	}

	c.mu.RLock()
	handlers := make([]MessageHandler, 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.mu.RUnlock()

	matched := false
	for _, h := range handlers {
		if h(context.Background(), msg) {
			matched = true
		}
	}
	return matched
}

// RegisterMessageHandler installs a handler for incoming PUBLISHes.
func (c *PahoClient) RegisterMessageHandler(h MessageHandler) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.handlers[id] = h
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}
}

// Publish sends a PUBLISH at the resolved options' QoS.
func (c *PahoClient) Publish(
	ctx context.Context,
	topic string,
	payload []byte,
	opt ...PublishOption,
) (*Ack, error) {
	var opts PublishOptions
	opts.Apply(opt)

	pb := &paho.Publish{
		QoS:     byte(opts.QoS),
		Topic:   topic,
		Payload: payload,
		Properties: &paho.PublishProperties{
			ContentType:     opts.ContentType,
			CorrelationData: opts.CorrelationData,
			MessageExpiry:   &opts.MessageExpiry,
			PayloadFormat:   ptr(byte(opts.PayloadFormat)),
			ResponseTopic:   opts.ResponseTopic,
			User:            toPahoUser(opts.UserProperties),
		},
		Retain: opts.Retain,
	}

	res, err := c.client.Publish(ctx, pb)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &Ack{}, nil
	}
	return &Ack{ReasonCode: res.ReasonCode}, nil
}

// Subscribe installs a subscription for filter.
func (c *PahoClient) Subscribe(
	ctx context.Context,
	filter string,
	opt ...SubscribeOption,
) (*Ack, error) {
	var opts SubscribeOptions
	opts.Apply(opt)

	res, err := c.client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{
			Topic:   filter,
			QoS:     byte(opts.QoS),
			NoLocal: opts.NoLocal,
		}},
		Properties: &paho.SubscribeProperties{
			User: toPahoUser(opts.UserProperties),
		},
	})
	if err != nil {
		return nil, err
	}
	if len(res.Reasons) == 0 {
		return &Ack{}, nil
	}
	return &Ack{ReasonCode: res.Reasons[0]}, nil
}

// Unsubscribe removes a subscription for filter.
func (c *PahoClient) Unsubscribe(
	ctx context.Context,
	filter string,
	opt ...UnsubscribeOption,
) (*Ack, error) {
	var opts UnsubscribeOptions
	opts.Apply(opt)

	res, err := c.client.Unsubscribe(ctx, &paho.Unsubscribe{
		Topics: []string{filter},
		Properties: &paho.UnsubscribeProperties{
			User: toPahoUser(opts.UserProperties),
		},
	})
	if err != nil {
		return nil, err
	}
	if len(res.Reasons) == 0 {
		return &Ack{}, nil
	}
	return &Ack{ReasonCode: res.Reasons[0]}, nil
}

func fromPaho(pb *paho.Publish) *Message {
	msg := &Message{
		Topic:   pb.Topic,
		Payload: pb.Payload,
		PublishOptions: PublishOptions{
			QoS:    QoS(pb.QoS),
			Retain: pb.Retain,
		},
	}
	if p := pb.Properties; p != nil {
		msg.ContentType = p.ContentType
		msg.CorrelationData = p.CorrelationData
		if p.MessageExpiry != nil {
			msg.MessageExpiry = *p.MessageExpiry
		}
		if p.PayloadFormat != nil {
			msg.PayloadFormat = PayloadFormat(*p.PayloadFormat)
		}
		msg.ResponseTopic = p.ResponseTopic
		msg.UserProperties = fromPahoUser(p.User)
	}
	return msg
}

func toPahoUser(m map[string]string) paho.UserProperties {
	up := make(paho.UserProperties, 0, len(m))
	for k, v := range m {
		up = up.Add(k, v)
	}
	return up
}

func fromPahoUser(up paho.UserProperties) map[string]string {
	m := make(map[string]string, len(up))
	for _, p := range up {
		m[p.Key] = p.Value
	}
	return m
}

func ptr[T any](v T) *T { return &v }
