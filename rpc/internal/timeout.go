package internal

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/latticeforge/edgerpc/internal/wallclock"
	"github.com/latticeforge/edgerpc/rpc/errors"
)

// Timeout is a named, optional deadline: request timeouts and handler
// execution budgets are both expressed this way so they share
// validation and logging behavior.
type Timeout struct {
	time.Duration
	Name string
	Text string
}

// Validate rejects a negative timeout or one too large to carry as a
// uint32-seconds MessageExpiry.
func (to *Timeout) Validate() error {
	switch {
	case to.Duration < 0:
		return &errors.Error{
			Message:       "timeout cannot be negative",
			Kind:          errors.ConfigurationInvalid,
			PropertyName:  "Timeout",
			PropertyValue: to.Duration,
			IsShallow:     true,
		}

	case to.Seconds() > math.MaxUint32:
		return &errors.Error{
			Message:       "timeout too large",
			Kind:          errors.ConfigurationInvalid,
			PropertyName:  "Timeout",
			PropertyValue: to.Duration,
			IsShallow:     true,
		}

	default:
		return nil
	}
}

// Context derives a child context bounded by the timeout, carrying a
// Timeout-kind cause so a caller awaiting ctx.Done() sees a typed
// error rather than bare context.DeadlineExceeded. A zero timeout
// means no deadline, only cancellation.
func (to *Timeout) Context(ctx context.Context) (context.Context, context.CancelFunc) {
	if to.Duration == 0 {
		return context.WithCancel(ctx)
	}
	return wallclock.Instance.WithTimeoutCause(
		ctx,
		to.Duration,
		&errors.Error{
			Message:      fmt.Sprintf("%s timed out", to.Text),
			Kind:         errors.Timeout,
			TimeoutName:  to.Name,
			TimeoutValue: to.Duration,
		},
	)
}

// MessageExpiry renders the timeout as whole seconds for the wire
// MessageExpiry property, rounding any fraction of a second up.
func (to *Timeout) MessageExpiry() uint32 {
	return uint32(math.Ceil(to.Seconds()))
}
