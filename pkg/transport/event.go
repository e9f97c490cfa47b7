package transport

import (
	"io"

	"github.com/rescp17/nearby/pkg/peer"
)

// Event is a marker interface for everything a provider reports. It uses an
// unexported method so only types from this package (by embedding event)
// can satisfy it.
type Event interface {
	isEvent()
}

type event struct{}

func (event) isEvent() {}

// EventHandler is the single callback entry point of a provider.
type EventHandler func(Event)

// PeerStateChanged reports a new connection state for a remote peer.
type PeerStateChanged struct {
	event
	Peer  peer.Identity
	State peer.State
}

// DataReceived carries a message from a connected peer.
type DataReceived struct {
	event
	Peer peer.Identity
	Data []byte
	Mode Mode
}

// StreamReceived is reported for byte streams opened by a peer.
type StreamReceived struct {
	event
	Peer   peer.Identity
	Name   string
	Stream io.Reader
}

// ResourceProgress is reported while a named resource is being received.
type ResourceProgress struct {
	event
	Peer      peer.Identity
	Name      string
	Completed int64
	Total     int64
}

// PeerDiscovered is reported when browsing finds a peer advertising the
// same service descriptor.
type PeerDiscovered struct {
	event
	Peer peer.Identity
}

// PeerLost is reported when a discovered peer stops advertising.
type PeerLost struct {
	event
	Peer peer.Identity
}

var (
	_ Event = PeerStateChanged{}
	_ Event = DataReceived{}
	_ Event = StreamReceived{}
	_ Event = ResourceProgress{}
	_ Event = PeerDiscovered{}
	_ Event = PeerLost{}
)
