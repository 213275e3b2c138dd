package transports

import (
	"context"

	"github.com/kduflopro-arch/ws-media-stream-server/pkg/frames"
)

// Transport is the telephony-side I/O boundary. Implementations own their
// network lifecycle and surface inbound events as frames.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Recv() <-chan frames.Frame
	Send(frames.Frame) error
}

// OutboundDialer allows transports to initiate outbound calls.
type OutboundDialer interface {
	Dial(ctx context.Context, to, from, url string) (callSID string, err error)
}

// ReadyReporter allows transports to expose readiness metadata (e.g.,
// webhook URLs). Used for informational logging only.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
