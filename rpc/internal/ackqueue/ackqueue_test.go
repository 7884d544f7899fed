package ackqueue_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latticeforge/edgerpc/rpc/internal/ackqueue"
)

func TestReleasesInArrivalOrderNotReadyOrder(t *testing.T) {
	q := ackqueue.New()

	var order []int
	ack := func(n int) func() error {
		return func() error {
			order = append(order, n)
			return nil
		}
	}

	t1 := q.Push(ack(1))
	t2 := q.Push(ack(2))
	t3 := q.Push(ack(3))

	// Complete out of order: 3 finishes first, then 2, then 1. Nothing
	// should release until 1 (the head) is ready.
	q.MarkReady(t3)
	require.Empty(t, order)

	q.MarkReady(t2)
	require.Empty(t, order)

	q.MarkReady(t1)
	require.Equal(t, []int{1, 2, 3}, order)
	require.Equal(t, 0, q.Len())
}

func TestDropReleasesHeadWithoutAcking(t *testing.T) {
	q := ackqueue.New()

	var order []int
	ack := func(n int) func() error {
		return func() error {
			order = append(order, n)
			return nil
		}
	}

	t1 := q.Push(ack(1))
	t2 := q.Push(ack(2))

	q.Drop(t1)
	require.Empty(t, order)

	q.MarkReady(t2)
	require.Equal(t, []int{2}, order)
}

func TestMarkReadyIsIdempotentPerToken(t *testing.T) {
	q := ackqueue.New()

	calls := 0
	t1 := q.Push(func() error {
		calls++
		return nil
	})

	q.MarkReady(t1)
	q.MarkReady(t1)
	require.Equal(t, 1, calls)
}
