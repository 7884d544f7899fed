// Package ackqueue implements the ordered-ack release discipline
// shared by the command executor and the telemetry receiver: a FIFO
// of (sequence, ack) pairs where an entry is only acked once every
// entry ahead of it in arrival order has already been acked, even
// though the handlers that mark entries ready may finish out of
// order.
package ackqueue

import "sync"

// pending is one ledger slot: ack is the function Push recorded (set to
// nil by Drop, so the drain skips it), and ready is false until
// MarkReady or Drop is called for the slot. A slot that is not ready
// holds back every slot behind it.
type pending struct {
	ack   func() error
	ready bool
}

// Queue releases acks strictly in the order entries were pushed,
// regardless of the order in which they're marked ready. Tokens are
// handed out by Push as a strictly increasing counter, so the entry
// due to release next is always the one at head — no priority
// ordering is needed, just a cursor that advances while the run
// starting at it is ready. It is safe for concurrent use: Push happens
// on the message-delivery path, MarkReady on the handler-completion
// path, and the two may race freely across different entries.
type Queue struct {
	mu     sync.Mutex
	ledger map[uint64]*pending
	head   uint64
	next   uint64
}

// New creates an empty ack queue.
func New() *Queue {
	return &Queue{ledger: make(map[uint64]*pending)}
}

// Push records a newly-arrived packet's ack function and returns a
// token identifying its position in the queue. The packet starts
// Pending; nothing is released until MarkReady(token) is called.
func (q *Queue) Push(ack func() error) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	token := q.next
	q.next++
	q.ledger[token] = &pending{ack: ack}
	return token
}

// MarkReady marks token's packet ready to ack and releases every
// contiguous run of ready packets starting at the queue head,
// including token itself if it has become the head. Acks that fail
// are dropped from the queue without blocking later acks; the caller
// should log the failure if it wants visibility.
func (q *Queue) MarkReady(token uint64) {
	q.mu.Lock()
	if p, ok := q.ledger[token]; ok {
		p.ready = true
	}
	release := q.drain()
	q.mu.Unlock()

	for _, ack := range release {
		if ack == nil {
			continue
		}
		_ = ack()
	}
}

// drain must be called with q.mu held. It advances q.head past every
// contiguous ready entry and returns their ack functions in release
// order.
func (q *Queue) drain() []func() error {
	var release []func() error
	for {
		p, ok := q.ledger[q.head]
		if !ok || !p.ready {
			return release
		}
		release = append(release, p.ack)
		delete(q.ledger, q.head)
		q.head++
	}
}

// Drop abandons token without acking it, e.g. when a packet can never
// be responded to. It still participates in FIFO ordering: dropping
// the head behaves exactly like marking it ready, since from the
// queue's perspective the packet's turn has simply passed.
func (q *Queue) Drop(token uint64) {
	q.mu.Lock()
	if p, ok := q.ledger[token]; ok {
		p.ack = nil
		p.ready = true
	}
	release := q.drain()
	q.mu.Unlock()

	for _, ack := range release {
		if ack == nil {
			continue
		}
		_ = ack()
	}
}

// Len reports the number of packets still awaiting release.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ledger)
}
