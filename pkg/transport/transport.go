// Package transport defines the contract between the session core and the
// substrate that advertises, browses, connects and moves bytes.
package transport

import (
	"context"
	"errors"

	"github.com/rescp17/nearby/pkg/discovery"
	"github.com/rescp17/nearby/pkg/peer"
)

var (
	// ErrPlatformUnavailable is returned when discovery is not allowed or not
	// possible on this host (no multicast interface, permission denied).
	ErrPlatformUnavailable = errors.New("discovery platform unavailable")
	ErrPeerNotConnected    = errors.New("peer is not connected")
	ErrClosed              = errors.New("transport is closed")
)

// Mode selects the delivery guarantee of a transmission.
type Mode int

const (
	// Reliable requests acknowledged, retransmitted, ordered delivery.
	Reliable Mode = iota
	// Unreliable is a single best-effort attempt with no retry.
	Unreliable
)

func (m Mode) String() string {
	switch m {
	case Reliable:
		return "reliable"
	case Unreliable:
		return "unreliable"
	default:
		return "unknown"
	}
}

// Handle stops an advertise or browse operation.
type Handle interface {
	Stop() error
}

// Session is the multi-party session owned by the local peer.
type Session interface {
	// Transmit hands payload to the substrate for every target. It returns
	// once the substrate accepted the request; a failure applies to the
	// whole call.
	Transmit(payload []byte, targets []peer.Identity, mode Mode) error
}

// Provider is the substrate. Events are delivered to the handler set with
// OnEvent from provider goroutines, never synchronously from the calling
// method.
type Provider interface {
	OnEvent(handler EventHandler)
	Session(local peer.Identity) Session
	Advertise(local peer.Identity, descriptor discovery.ServiceDescriptor) (Handle, error)
	Browse(local peer.Identity, descriptor discovery.ServiceDescriptor) (Handle, error)
	// Connect invites a discovered remote peer into the local session.
	Connect(ctx context.Context, local, remote peer.Identity) error
	// Close tears the provider down. When it returns no further events are
	// delivered.
	Close() error
}

// HandleFunc adapts a function to the Handle interface.
type HandleFunc func() error

func (f HandleFunc) Stop() error { return f() }
