package rpc_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/latticeforge/edgerpc/internal/mqttest"
	"github.com/latticeforge/edgerpc/rpc"
)

func newTestApp(t *testing.T) *rpc.Application {
	t.Helper()
	app, err := rpc.NewApplication()
	require.NoError(t, err)
	return app
}

// Simple happy-path invoke/execute round trip.
func TestCommandInvokeExecute(t *testing.T) {
	ctx := context.Background()
	broker := mqttest.StartBroker(t, 18831)
	invokerClient := mqttest.NewClient(ctx, t, "invoker", broker.Addr)
	executorClient := mqttest.NewClient(ctx, t, "executor", broker.Addr)

	app := newTestApp(t)
	enc := rpc.JSON[string]{}

	executor, err := rpc.NewCommandExecutor(app, executorClient, enc, enc,
		"rpc/{executorId}/double",
		func(_ context.Context, req *rpc.CommandRequest[string]) (*rpc.CommandResponse[string], error) {
			return rpc.Respond(req.Payload + req.Payload)
		},
		rpc.WithTopicTokens{"executorId": "e1"},
	)
	require.NoError(t, err)
	defer executor.Close()
	require.NoError(t, executor.Start(ctx))

	invoker, err := rpc.NewCommandInvoker[string, string](app, invokerClient, enc, enc,
		"rpc/{executorId}/double",
	)
	require.NoError(t, err)
	defer invoker.Close()
	require.NoError(t, invoker.Start(ctx))

	// Give the subscriptions a moment to land before invoking.
	time.Sleep(50 * time.Millisecond)

	res, err := invoker.Invoke(ctx, "ab",
		rpc.WithTopicTokens{"executorId": "e1"},
		rpc.WithTimeout(5*time.Second),
	)
	require.NoError(t, err)
	require.Equal(t, "abab", res.Payload)
}

// A handler error surfaces to the invoker as an application error.
func TestCommandInvokeExecuteHandlerError(t *testing.T) {
	ctx := context.Background()
	broker := mqttest.StartBroker(t, 18832)
	invokerClient := mqttest.NewClient(ctx, t, "invoker", broker.Addr)
	executorClient := mqttest.NewClient(ctx, t, "executor", broker.Addr)

	app := newTestApp(t)
	enc := rpc.JSON[string]{}

	executor, err := rpc.NewCommandExecutor(app, executorClient, enc, enc,
		"rpc/fail",
		func(context.Context, *rpc.CommandRequest[string]) (*rpc.CommandResponse[string], error) {
			return nil, errors.New("too short")
		},
	)
	require.NoError(t, err)
	defer executor.Close()
	require.NoError(t, executor.Start(ctx))

	invoker, err := rpc.NewCommandInvoker[string, string](app, invokerClient, enc, enc, "rpc/fail")
	require.NoError(t, err)
	defer invoker.Close()
	require.NoError(t, invoker.Start(ctx))

	time.Sleep(50 * time.Millisecond)

	_, err = invoker.Invoke(ctx, "x", rpc.WithTimeout(5*time.Second))
	require.Error(t, err)
}
