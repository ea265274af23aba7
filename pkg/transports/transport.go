package transports

import (
	"context"

	"github.com/harunnryd/kata/pkg/device"
)

// Transport accepts remote conversation participants and exposes each one as
// a capture source and playback sink, so the engine treats a phone call the
// same way it treats the local microphone and speaker.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	// Accept blocks until the next participant connects.
	Accept(ctx context.Context) (Participant, error)
}

// Participant is one connected remote party.
type Participant interface {
	device.Source
	device.Sink
	// ID identifies the underlying call or session.
	ID() string
}

// OutboundDialer allows transports to initiate outbound calls.
type OutboundDialer interface {
	Dial(ctx context.Context, to, from, url string) (callSID string, err error)
}

// DialOptions carries optional outbound dial settings.
type DialOptions struct {
	SendDigits string
}

// OutboundDialerWithOptions extends dialing with optional parameters.
type OutboundDialerWithOptions interface {
	DialWithOptions(ctx context.Context, to, from, url string, opts DialOptions) (callSID string, err error)
}

// ReadyReporter allows transports to expose readiness metadata (e.g., webhook
// URLs) for informational logging.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
