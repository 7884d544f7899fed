package caching

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/latticeforge/edgerpc/rpc/internal/constants"
	"github.com/latticeforge/edgerpc/transport"
)

type (
	fixedClock time.Time

	testCase struct {
		num byte
		req string
		res string
		err error
		exp time.Duration
		exe time.Duration
	}
)

func (c *fixedClock) Now() time.Time      { return time.Time(*c) }
func (c *fixedClock) Add(d time.Duration) { *c = fixedClock(time.Time(*c).Add(d)) }

func (tc *testCase) messages() (req, res *transport.Message) {
	opts := transport.PublishOptions{
		CorrelationData: []byte{1, 2, 3, 4, tc.num},
		MessageExpiry:   uint32(tc.exp.Seconds()),
		UserProperties: map[string]string{
			constants.SenderClientID: "client",
		},
	}
	req = &transport.Message{Topic: "cmd/req", Payload: []byte(tc.req), PublishOptions: opts}
	if tc.err == nil {
		res = &transport.Message{Topic: "cmd/req", Payload: []byte(tc.res), PublishOptions: opts}
	}
	return req, res
}

func (tc *testCase) cache(clock *fixedClock, c *Cache) (hit bool, msg *transport.Message, err error) {
	hit = true
	req, res := tc.messages()
	msg, err = c.Exec(req, func() (*transport.Message, error) {
		hit = false
		clock.Add(tc.exe)
		return res, tc.err
	})
	return hit, msg, err
}

func (tc *testCase) requireRes(
	t *testing.T,
	clock *fixedClock,
	c *Cache,
	expHit bool,
	expRes string,
	expErr error,
) {
	t.Helper()
	hit, res, err := tc.cache(clock, c)
	require.Equal(t, expHit, hit)
	if expRes != "" {
		require.NotNil(t, res)
		require.Equal(t, tc.res, string(res.Payload))
	} else {
		require.Nil(t, res)
	}
	require.Equal(t, expErr, err)
}

func TestDuplicateRequestWaitsForInFlightProcessing(t *testing.T) {
	clock := fixedClock(time.Now())
	c := New(&clock, 0, "cmd/{executorId}/req")

	tc := &testCase{1, "req1", "res1", nil, time.Minute, time.Second}

	lock := make(chan struct{})
	go func() {
		req, res := tc.messages()
		_, _ = c.Exec(req, func() (*transport.Message, error) {
			lock <- struct{}{}
			<-lock
			return res, nil
		})
		lock <- struct{}{}
	}()
	<-lock

	// A duplicate arriving while the original is still executing must
	// wait for it rather than re-executing, and must observe the same
	// response once the original completes.
	done := make(chan struct{})
	go func() {
		tc.requireRes(t, &clock, c, true, tc.res, nil)
		close(done)
	}()

	lock <- struct{}{}
	<-lock
	<-done
}

func TestExpiredRequestIsDroppedBeforeExecuting(t *testing.T) {
	clock := fixedClock(time.Now())
	c := New(&clock, 0, "cmd/{executorId}/req")

	tc := &testCase{2, "req2", "res2", nil, time.Nanosecond, 0}
	req, _ := tc.messages()

	_, _, _ = tc.cache(&clock, c)
	clock.Add(time.Second)

	res, err := c.Exec(req, func() (*transport.Message, error) {
		t.Fatal("handler should not run for an already-expired cache entry")
		return nil, nil
	})
	require.Nil(t, res)
	require.Nil(t, err)
}

func TestEquivalentIdempotentRequestReusesResult(t *testing.T) {
	clock := fixedClock(time.Now())
	c := New(&clock, time.Hour, "cmd/req")

	first := &testCase{3, "same", "computed", nil, time.Minute, time.Millisecond}
	second := &testCase{4, "same", "computed", nil, time.Minute, time.Millisecond}

	first.requireRes(t, &clock, c, false, first.res, nil)
	second.requireRes(t, &clock, c, true, second.res, nil)
}
