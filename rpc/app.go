package rpc

import (
	"log/slog"
	"time"

	ilog "github.com/latticeforge/edgerpc/internal/log"
	"github.com/latticeforge/edgerpc/internal/options"
	"github.com/latticeforge/edgerpc/rpc/hlc"
)

type (
	// Application holds state shared across every component an app
	// constructs: the HLC and the logger they all stamp/log through.
	// An app constructs exactly one.
	Application struct {
		hlc *hlc.Global
		log ilog.Logger
	}

	// ApplicationOption configures an Application at construction.
	ApplicationOption interface{ application(*ApplicationOptions) }

	// ApplicationOptions are the resolved application options.
	ApplicationOptions struct {
		MaxClockDrift time.Duration
		Logger        *slog.Logger
	}

	// WithMaxClockDrift bounds how far a peer's HLC may lead the local
	// wall clock before it's rejected.
	WithMaxClockDrift time.Duration
)

// NewApplication creates the shared application state.
func NewApplication(opt ...ApplicationOption) (*Application, error) {
	var opts ApplicationOptions
	opts.Apply(opt)

	return &Application{
		hlc: hlc.New(hlc.WithMaxClockDrift(opts.MaxClockDrift)),
		log: ilog.Wrap(opts.Logger),
	}, nil
}

// GetHLC advances the application's HLC against the current time and
// returns it.
func (a *Application) GetHLC() (hlc.Clock, error) {
	return a.hlc.Get()
}

// SetHLC advances the application's HLC against an externally
// observed value.
func (a *Application) SetHLC(val hlc.Clock) error {
	return a.hlc.Set(val)
}

// Apply resolves a list of ApplicationOptions.
func (o *ApplicationOptions) Apply(opts []ApplicationOption, rest ...ApplicationOption) {
	for opt := range options.Apply[ApplicationOption](opts, rest...) {
		opt.application(o)
	}
}

func (o *ApplicationOptions) application(opt *ApplicationOptions) {
	if o != nil {
		*opt = *o
	}
}

func (o WithMaxClockDrift) application(opt *ApplicationOptions) {
	opt.MaxClockDrift = time.Duration(o)
}
