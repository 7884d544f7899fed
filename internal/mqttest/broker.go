// Package mqttest spins up an in-process MQTT broker and real paho
// clients against it, for tests that need genuine PUBLISH/PUBACK/
// SUBACK round trips rather than a hand-rolled fake.
package mqttest

import (
	"context"
	"fmt"
	"net"
	"testing"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/eclipse/paho.golang/paho"
	"github.com/stretchr/testify/require"

	"github.com/latticeforge/edgerpc/transport"
)

// Broker is a running in-process MQTT broker and the address clients
// should dial to reach it.
type Broker struct {
	Server *mochi.Server
	Addr   string
}

// StartBroker brings up an in-process broker on the given TCP port
// and registers its shutdown with t.Cleanup.
func StartBroker(t *testing.T, port int) *Broker {
	t.Helper()

	cfg := listeners.Config{
		Type:    "tcp",
		Address: fmt.Sprintf(":%d", port),
	}
	server := mochi.New(nil)

	require.NoError(t, server.AddHook(&auth.AllowHook{}, nil))
	require.NoError(t, server.AddListener(listeners.NewTCP(cfg)))
	require.NoError(t, server.Serve())
	t.Cleanup(func() { _ = server.Close() })

	return &Broker{Server: server, Addr: cfg.Address}
}

// NewClient dials addr, completes an MQTT v5 CONNECT with manual
// acknowledgment enabled, and wraps the result in a transport.Client.
func NewClient(
	ctx context.Context,
	t *testing.T,
	id string,
	addr string,
) *transport.PahoClient {
	t.Helper()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	require.NoError(t, err)

	pc := paho.NewClient(paho.ClientConfig{
		ClientID:                   id,
		Conn:                       conn,
		EnableManualAcknowledgment: true,
	})

	client := transport.NewPahoClient(id, pc)

	_, err = pc.Connect(ctx, &paho.Connect{
		ClientID:  id,
		KeepAlive: 5,
		CleanStart: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Disconnect(&paho.Disconnect{ReasonCode: 0}) })

	return client
}
