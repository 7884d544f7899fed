// Package hlc implements a Hybrid Logical Clock: a physical timestamp
// plus a logical counter and node id, giving every message a
// causally-ordered, monotonic `__ts` value even across clock skew
// between peers.
package hlc

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/latticeforge/edgerpc/internal/options"
	"github.com/latticeforge/edgerpc/internal/wallclock"
	"github.com/latticeforge/edgerpc/rpc/errors"
)

type (
	// Clock is a single HLC value: physical time, logical counter, and
	// the node id that last advanced it.
	Clock struct {
		timestamp time.Time
		counter   uint64
		nodeID    string
		opt       *Options
	}

	// Global is a shared, mutex-guarded HLC instance. An application
	// typically creates exactly one.
	Global struct {
		clock Clock
		mu    sync.Mutex
		opt   Options
	}

	// Option configures a Global at construction.
	Option interface{ hlc(*Options) }

	// Options are the resolved HLC options.
	Options struct {
		MaxClockDrift time.Duration
	}

	// WithMaxClockDrift bounds how far an incoming HLC may lead the
	// wall clock before Update rejects it as StateInvalid.
	WithMaxClockDrift time.Duration
)

// New creates a Global HLC seeded from the current wall clock.
func New(opt ...Option) *Global {
	g := &Global{}
	g.opt.Apply(opt)

	if g.opt.MaxClockDrift == 0 {
		g.opt.MaxClockDrift = time.Minute
	}

	g.clock = Clock{
		timestamp: now(),
		nodeID:    uuid.Must(uuid.NewV7()).String(),
		opt:       &g.opt,
	}

	return g
}

// Get advances the shared clock against the current wall time and
// returns the result.
func (g *Global) Get() (Clock, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var err error
	g.clock, err = g.clock.Update(Clock{})
	if err != nil {
		return Clock{}, err
	}
	return g.clock, nil
}

// Set advances the shared clock against an externally observed HLC
// value, e.g. one carried on an incoming message.
func (g *Global) Set(clock Clock) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var err error
	g.clock, err = g.clock.Update(clock)
	return err
}

// UTC returns the physical-time component, already normalized to UTC.
func (c Clock) UTC() time.Time {
	return c.timestamp
}

// Update merges other into c per the HLC algorithm and returns the
// result: if the wall clock is later than both physical times it wins
// with a zero counter; otherwise the later of the two physical times
// wins and the logical counter is incremented past its counter (past
// both counters when the two times are equal).
func (c Clock) Update(other Clock) (Clock, error) {
	if other.nodeID == c.nodeID {
		return c, nil
	}

	wall := now()

	// Validating both inputs before merging guarantees neither can
	// overflow the counter, and pre-checks the final clock skew since
	// Update always keeps the later of the two timestamps.
	if err := c.validate(wall, c.opt); err != nil {
		return Clock{}, err
	}
	if err := other.validate(wall, c.opt); err != nil {
		return Clock{}, err
	}

	updated := Clock{nodeID: c.nodeID, opt: c.opt}
	switch {
	case wall.After(c.timestamp) && wall.After(other.timestamp):
		updated.timestamp = wall
		updated.counter = 0

	case c.timestamp.Equal(other.timestamp):
		updated.timestamp = c.timestamp
		updated.counter = max(c.counter, other.counter) + 1

	case c.timestamp.After(other.timestamp):
		updated.timestamp = c.timestamp
		updated.counter = c.counter + 1

	default:
		updated.timestamp = other.timestamp
		updated.counter = other.counter + 1
	}

	return updated, nil
}

// Compare orders two clock values: by physical time first, then
// counter, then node id as a final deterministic tiebreak.
func (c Clock) Compare(other Clock) int {
	if c.timestamp.Equal(other.timestamp) {
		switch {
		case c.counter > other.counter:
			return 1
		case c.counter < other.counter:
			return -1
		default:
			return strings.Compare(c.nodeID, other.nodeID)
		}
	}
	return c.timestamp.Compare(other.timestamp)
}

// IsZero reports whether c is the zero Clock value.
func (c Clock) IsZero() bool {
	return c.timestamp.IsZero()
}

// String renders the wire form of the clock: zero-padded millisecond
// timestamp, zero-padded counter, and node id, colon-separated so
// lexical and causal ordering agree.
func (c Clock) String() string {
	return fmt.Sprintf("%015d:%05d:%s", c.timestamp.UnixMilli(), c.counter, c.nodeID)
}

func (c *Clock) validate(wall time.Time, opt *Options) error {
	switch {
	case c.counter == math.MaxUint64:
		return &errors.Error{
			Message:      "integer overflow in HLC counter",
			Kind:         errors.InternalLogicError,
			PropertyName: "Counter",
		}

	case c.timestamp.Sub(wall) > opt.MaxClockDrift:
		return &errors.Error{
			Message:      "clock drift exceeds maximum",
			Kind:         errors.StateInvalid,
			PropertyName: "MaxClockDrift",
		}

	default:
		return nil
	}
}

func now() time.Time {
	return wallclock.Instance.Now().UTC().Truncate(time.Millisecond)
}

// Parse decodes the wire form of an HLC. name identifies the property
// it came from, for error reporting.
func (g *Global) Parse(name, value string) (Clock, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return Clock{}, &errors.Error{
			Message:     "HLC must contain three segments separated by ':'",
			Kind:        errors.HeaderInvalid,
			HeaderName:  name,
			HeaderValue: value,
		}
	}

	timestamp, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Clock{}, &errors.Error{
			Message:     "first HLC segment is not a valid integer",
			Kind:        errors.HeaderInvalid,
			HeaderName:  name,
			HeaderValue: value,
		}
	}

	count, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return Clock{}, &errors.Error{
			Message:     "second HLC segment is not a valid integer",
			Kind:        errors.HeaderInvalid,
			HeaderName:  name,
			HeaderValue: value,
		}
	}

	return Clock{
		timestamp: time.UnixMilli(timestamp).UTC(),
		counter:   count,
		nodeID:    parts[2],
		opt:       &g.opt,
	}, nil
}

// Apply resolves a list of Options.
func (o *Options) Apply(opts []Option, rest ...Option) {
	for opt := range options.Apply[Option](opts, rest...) {
		opt.hlc(o)
	}
}

func (o *Options) hlc(opt *Options) {
	if o != nil {
		*opt = *o
	}
}

func (o WithMaxClockDrift) hlc(opt *Options) {
	opt.MaxClockDrift = time.Duration(o)
}
