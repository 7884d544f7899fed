// Package caching implements the executor's response cache. Each
// inbound request keys an entry by (topic, correlation-data); while
// the handler is still running the entry is InFlight and holds
// one-shot waiters for any duplicate PUBLISH that arrives for the
// same correlation data before the first copy finishes, and once the
// handler returns it becomes Ready and holds the serialized response
// until its TTL passes. This is what gives effectively-exactly-once
// delivery over QoS 1's at-least-once guarantee.
//
// Idempotent commands additionally index entries by a fingerprint, a
// hash of the command's topic, request payload, and invoker-agnostic
// metadata, so a differently-correlated but
// otherwise identical request can reuse a still-valid Ready entry
// instead of re-running the handler. Eviction is both lazy, whenever
// Exec runs the callback for a request, and periodic, via a background
// sweep, so a command
// that simply stops being invoked doesn't pin its cache entries
// forever.
package caching

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/latticeforge/edgerpc/rpc/internal/constants"
	"github.com/latticeforge/edgerpc/rpc/internal/container"
	"github.com/latticeforge/edgerpc/transport"
)

// state is an entry's position in its lifecycle: inFlight while the
// handler is running, ready once a response (or terminal error) has
// been produced.
type state int

const (
	inFlight state = iota
	ready
)

type (
	// key identifies a cache entry by correlation. Topic is included
	// so a response can never be served across topics even if two
	// invokers collide on correlation data.
	key struct {
		topic string
		corr  string
	}

	// fingerprint identifies an idempotent entry by content rather
	// than correlation, so a differently-correlated but otherwise
	// identical request can find it.
	fingerprint [sumSize]byte

	entry struct {
		state state

		// inFlight fields.
		waiters []chan struct{}

		// populated once state == ready.
		resp *transport.Message
		err  error

		fp        fingerprint
		hasFP     bool
		start     time.Time // request arrival time
		reqExpiry time.Time // this request's own MessageExpiry deadline
		liveUntil time.Time // when this entry is evicted
		size      int
		refs      int
	}

	// Cache is the executor's per-command response cache.
	Cache struct {
		clock Clock
		ttl   time.Duration

		ignoreClient bool

		mu      sync.Mutex
		byKey   container.PriorityMap[key, *entry, int64]
		byCost  container.PriorityMap[key, *entry, float64]
		byFP  map[fingerprint]key
		bytes int
		stop  chan struct{}
		done  chan struct{}
	}

	// Callback computes the response for a cache miss.
	Callback = func() (*transport.Message, error)

	// Clock abstracts time.Now for deterministic tests.
	Clock interface {
		Now() time.Time
	}
)

// Fixed cost-model constants used by costWeightedBenefit. These bias
// eviction toward keeping entries that were expensive to produce and
// are cheap to retain, and evicting the reverse.
const (
	FixedProcessingOverheadMs = 10
	FixedStorageOverheadBytes = 100
	MaxEntryCount             = 10000
	MaxAggregatePayloadBytes  = 10000000

	sweepInterval = 30 * time.Second
)

// New creates a cache. ttl is the equivalent-request reuse window for
// idempotent commands (zero disables it, caching only for the
// duration of the original request's own MessageExpiry).
// requestTopic is the command's request topic pattern: if it does not
// contain an {executorId} token, requests from different invokers
// are still compared as equivalent regardless of which client sent
// them, since there is no per-client state to distinguish.
func New(clock Clock, ttl time.Duration, requestTopic string) *Cache {
	c := &Cache{
		clock: clock,
		ttl:   ttl,

		ignoreClient: !containsToken(requestTopic),

		byKey: container.NewPriorityMap[key, *entry, int64](),
		byCost: container.NewPriorityMap[key, *entry, float64](),
		byFP:   make(map[fingerprint]key),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

func containsToken(pattern string) bool {
	for i := 0; i+len("{executorId}") <= len(pattern); i++ {
		if pattern[i:i+len("{executorId}")] == "{executorId}" {
			return true
		}
	}
	return false
}

// Close stops the background sweeper. Safe to call once.
func (c *Cache) Close() {
	close(c.stop)
	<-c.done
}

func (c *Cache) sweepLoop() {
	defer close(c.done)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.evictExpired(c.clock.Now().UTC())
			c.mu.Unlock()
		}
	}
}

// Exec returns the cached response for req, invoking cb to produce it
// if this is the first time req's correlation data has been seen. A
// nil message with a nil error means the request should be dropped
// silently: it duplicates an already-expired request.
func (c *Cache) Exec(req *transport.Message, cb Callback) (*transport.Message, error) {
	e, wait := c.claim(req)
	if e == nil {
		return nil, nil
	}
	if wait != nil {
		<-wait
		c.mu.Lock()
		resp, err := e.resp, e.err
		c.mu.Unlock()
		return resp, err
	}

	resp, err := cb()
	c.complete(req, e, resp, err, c.clock.Now().UTC())
	return resp, err
}

// claim finds or creates the entry for req. If the entry is already
// in flight, it returns a channel that closes once the original call
// completes instead of a channel to wait on directly from the
// caller's own execution.
func (c *Cache) claim(req *transport.Message) (*entry, <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := correlationKey(req)
	now := c.clock.Now().UTC()

	if e, ok := c.byKey.Get(id); ok {
		switch e.state {
		case inFlight:
			w := make(chan struct{})
			e.waiters = append(e.waiters, w)
			return e, w
		case ready:
			if now.After(e.reqExpiry) {
				return nil, nil
			}
			return e, closedChan
		}
	}

	e := &entry{
		state:     inFlight,
		start:     now,
		reqExpiry: now.Add(time.Duration(req.MessageExpiry) * time.Second),
	}
	e.liveUntil = e.reqExpiry
	c.byKey.Set(id, e, e.liveUntil.UnixNano())

	if c.ttl > 0 {
		fp := c.fingerprintOf(req)
		e.fp, e.hasFP = fp, true
		if prior, ok := c.readyByFingerprint(fp, now); ok {
			prior.refs++
			c.byKey.Delete(id)
			c.byKey.Set(id, prior, prior.liveUntil.UnixNano())
			return prior, closedChan
		}
	}

	return e, nil
}

// readyByFingerprint must be called with c.mu held.
func (c *Cache) readyByFingerprint(fp fingerprint, now time.Time) (*entry, bool) {
	id, ok := c.byFP[fp]
	if !ok {
		return nil, false
	}
	e, ok := c.byKey.Get(id)
	if !ok || e.state != ready || e.resp == nil {
		return nil, false
	}
	if now.After(e.liveUntil) {
		return nil, false
	}
	return e, true
}

// complete stores the computed result, releases any waiters, and
// trims the cache.
func (c *Cache) complete(
	req *transport.Message,
	e *entry,
	resp *transport.Message,
	err error,
	now time.Time,
) {
	c.mu.Lock()

	id := correlationKey(req)
	e.state = ready
	e.resp, e.err = resp, err

	// Errors are never reused across requests: an equivalent-request
	// hit always re-executes the handler rather than replaying a
	// failure that may have been transient.
	if c.ttl > 0 && resp != nil {
		if now.Add(c.ttl).After(e.liveUntil) {
			e.liveUntil = now.Add(c.ttl)
			c.byKey.Set(id, e, e.liveUntil.UnixNano())
		}
		if e.hasFP {
			c.byFP[e.fp] = id
		}
		c.byCost.Set(id, e, costWeightedBenefit(resp, now.Sub(e.start)))
	} else if now.After(e.liveUntil) {
		c.byKey.Delete(id)
		c.mu.Unlock()
		c.release(e)
		return
	}

	if resp != nil {
		e.size = sizeOf(resp)
		c.bytes += e.size
	}

	c.evictExpired(now)
	c.evictByCost(now)

	c.mu.Unlock()
	c.release(e)
}

func (c *Cache) release(e *entry) {
	for _, w := range e.waiters {
		close(w)
	}
	e.waiters = nil
}

// evictExpired drops every entry whose liveUntil has passed. Must be
// called with c.mu held.
func (c *Cache) evictExpired(now time.Time) {
	for {
		id, e, ok := c.byKey.Next()
		if !ok || !now.After(e.liveUntil) {
			return
		}
		c.forget(id, e)
	}
}

// evictByCost drops the cheapest-to-keep entries until the cache is
// back under its size bounds, demoting entries still within their own
// request's window rather than deleting them outright. Must be
// called with c.mu held.
func (c *Cache) evictByCost(now time.Time) {
	for c.byKey.Len() >= MaxEntryCount || c.bytes >= MaxAggregatePayloadBytes {
		id, e, ok := c.byCost.Next()
		if !ok {
			return
		}

		if now.After(e.reqExpiry) {
			c.forget(id, e)
			continue
		}

		// Still within its own request's window: keep the dedup
		// entry but drop it from equivalent-request reuse.
		if e.hasFP {
			delete(c.byFP, e.fp)
		}
		e.resp, e.err = nil, nil
		e.liveUntil = e.reqExpiry
		c.byKey.Set(id, e, e.liveUntil.UnixNano())
		c.byCost.Delete(id)
		c.bytes -= e.size
		e.size = 0
	}
}

func (c *Cache) forget(id key, e *entry) {
	c.byKey.Delete(id)
	c.byCost.Delete(id)
	if e.hasFP && c.byFP[e.fp] == id {
		delete(c.byFP, e.fp)
	}
	e.refs--
	if e.refs < 0 {
		c.bytes -= e.size
	}
}

var closedChan = func() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func sizeOf(res *transport.Message) int {
	return len(res.Payload)
}

func costWeightedBenefit(msg *transport.Message, exec time.Duration) float64 {
	executionBypassBenefit := FixedProcessingOverheadMs + exec.Milliseconds()
	storageCost := FixedStorageOverheadBytes + sizeOf(msg)
	return float64(executionBypassBenefit) / float64(storageCost)
}

func correlationKey(msg *transport.Message) key {
	return key{topic: msg.Topic, corr: string(msg.CorrelationData)}
}

const sumSize = 16

// fingerprintOf hashes the parts of a request that define "the same
// command invocation" for idempotent reuse: topic, payload, and
// metadata the recipient can't tell apart from one invoker to the
// next. Correlation data and connection-scoped properties are
// deliberately excluded.
func (c *Cache) fingerprintOf(req *transport.Message) fingerprint {
	h := fnv.New128a()
	_, _ = h.Write([]byte(req.Topic))
	h.Write([]byte{0})
	h.Write(req.Payload)
	h.Write([]byte{0})

	keys := make([]string, 0, len(req.UserProperties))
	for k := range req.UserProperties {
		if c.ignoreMetadata(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(req.UserProperties[k]))
		h.Write([]byte{0})
	}

	var fp fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}

// ignoreMetadata excludes ephemeral or connection-specific properties
// from the fingerprint.
func (c *Cache) ignoreMetadata(k string) bool {
	switch k {
	case constants.Timestamp, constants.Partition:
		return true
	case constants.SenderClientID:
		return c.ignoreClient
	default:
		return false
	}
}
