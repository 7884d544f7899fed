package rpc_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/latticeforge/edgerpc/internal/mqttest"
	"github.com/latticeforge/edgerpc/rpc"
)

// An idempotent executor with a cache window reuses the cached
// response for a retried, re-correlated request instead of rerunning
// the handler, giving effectively-exactly-once semantics over QoS 1.
func TestCommandExecutorCachesEquivalentRequest(t *testing.T) {
	ctx := context.Background()
	broker := mqttest.StartBroker(t, 18835)
	invokerClient := mqttest.NewClient(ctx, t, "invoker", broker.Addr)
	executorClient := mqttest.NewClient(ctx, t, "executor", broker.Addr)

	app := newTestApp(t)
	enc := rpc.JSON[string]{}

	var calls atomic.Int32
	executor, err := rpc.NewCommandExecutor(app, executorClient, enc, enc,
		"rpc/idempotent",
		func(_ context.Context, req *rpc.CommandRequest[string]) (*rpc.CommandResponse[string], error) {
			calls.Add(1)
			return rpc.Respond(req.Payload)
		},
		rpc.WithIdempotent(true),
		rpc.WithCacheTTL(time.Minute),
	)
	require.NoError(t, err)
	defer executor.Close()
	require.NoError(t, executor.Start(ctx))

	invoker, err := rpc.NewCommandInvoker[string, string](app, invokerClient, enc, enc, "rpc/idempotent")
	require.NoError(t, err)
	defer invoker.Close()
	require.NoError(t, invoker.Start(ctx))

	time.Sleep(50 * time.Millisecond)

	res1, err := invoker.Invoke(ctx, "hello", rpc.WithTimeout(5*time.Second))
	require.NoError(t, err)
	require.Equal(t, "hello", res1.Payload)

	res2, err := invoker.Invoke(ctx, "hello", rpc.WithTimeout(5*time.Second))
	require.NoError(t, err)
	require.Equal(t, "hello", res2.Payload)

	require.Equal(t, int32(1), calls.Load())
}

// An unrecognized response (e.g. delivered after its invocation timed
// out and was abandoned) is dropped rather than panicking the
// listener.
func TestCommandInvokerDropsUnrecognizedResponse(t *testing.T) {
	ctx := context.Background()
	broker := mqttest.StartBroker(t, 18836)
	invokerClient := mqttest.NewClient(ctx, t, "invoker", broker.Addr)
	executorClient := mqttest.NewClient(ctx, t, "executor", broker.Addr)

	app := newTestApp(t)
	enc := rpc.JSON[string]{}

	executor, err := rpc.NewCommandExecutor(app, executorClient, enc, enc,
		"rpc/slow",
		func(ctx context.Context, req *rpc.CommandRequest[string]) (*rpc.CommandResponse[string], error) {
			select {
			case <-time.After(200 * time.Millisecond):
			case <-ctx.Done():
			}
			return rpc.Respond(req.Payload)
		},
	)
	require.NoError(t, err)
	defer executor.Close()
	require.NoError(t, executor.Start(ctx))

	invoker, err := rpc.NewCommandInvoker[string, string](app, invokerClient, enc, enc, "rpc/slow")
	require.NoError(t, err)
	defer invoker.Close()
	require.NoError(t, invoker.Start(ctx))

	time.Sleep(50 * time.Millisecond)

	_, err = invoker.Invoke(ctx, "x", rpc.WithTimeout(10*time.Millisecond))
	require.Error(t, err)

	// Let the executor's response arrive after the invocation gave up;
	// the listener should log and drop it, not panic.
	time.Sleep(300 * time.Millisecond)
}
