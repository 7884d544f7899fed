package rpc_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/latticeforge/edgerpc/internal/mqttest"
	"github.com/latticeforge/edgerpc/rpc"
)

// Simple happy-path sanity check covering the cloud-event envelope.
func TestTelemetrySendReceive(t *testing.T) {
	ctx := context.Background()
	broker := mqttest.StartBroker(t, 18833)
	senderClient := mqttest.NewClient(ctx, t, "sender", broker.Addr)
	receiverClient := mqttest.NewClient(ctx, t, "receiver", broker.Addr)

	app := newTestApp(t)
	enc := rpc.JSON[string]{}
	topicPattern := "telemetry/{room}/temperature"

	results := make(chan *rpc.TelemetryMessage[string], 1)

	receiver, err := rpc.NewTelemetryReceiver(app, receiverClient, enc, topicPattern,
		func(_ context.Context, msg *rpc.TelemetryMessage[string]) error {
			results <- msg
			return nil
		},
	)
	require.NoError(t, err)
	defer receiver.Close()
	require.NoError(t, receiver.Start(ctx))

	sender, err := rpc.NewTelemetrySender(app, senderClient, enc, topicPattern)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	source, err := url.Parse("https://contoso.example/sensor-1")
	require.NoError(t, err)

	err = sender.Send(ctx, "21.5",
		rpc.WithTopicTokens{"room": "kitchen"},
		rpc.WithCloudEvent(&rpc.CloudEvent{Source: source}),
	)
	require.NoError(t, err)

	select {
	case msg := <-results:
		require.Equal(t, senderClient.ID(), msg.ClientID)
		require.Equal(t, "21.5", msg.Payload)

		ce, err := rpc.CloudEventFromTelemetry(msg)
		require.NoError(t, err)
		require.Equal(t, "https://contoso.example/sensor-1", ce.Source.String())
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for telemetry")
	}
}

// Manual-ack mode exposes an Ack func instead of acking automatically.
func TestTelemetryManualAck(t *testing.T) {
	ctx := context.Background()
	broker := mqttest.StartBroker(t, 18834)
	senderClient := mqttest.NewClient(ctx, t, "sender", broker.Addr)
	receiverClient := mqttest.NewClient(ctx, t, "receiver", broker.Addr)

	app := newTestApp(t)
	enc := rpc.JSON[int]{}
	topicPattern := "telemetry/counter"

	results := make(chan *rpc.TelemetryMessage[int], 1)

	receiver, err := rpc.NewTelemetryReceiver(app, receiverClient, enc, topicPattern,
		func(_ context.Context, msg *rpc.TelemetryMessage[int]) error {
			results <- msg
			return nil
		},
		rpc.WithManualAck(true),
	)
	require.NoError(t, err)
	defer receiver.Close()
	require.NoError(t, receiver.Start(ctx))

	sender, err := rpc.NewTelemetrySender(app, senderClient, enc, topicPattern)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	require.NoError(t, sender.Send(ctx, 42))

	select {
	case msg := <-results:
		require.Equal(t, 42, msg.Payload)
		require.NotNil(t, msg.Ack)
		msg.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for telemetry")
	}
}
