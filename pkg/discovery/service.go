package discovery

import (
	"context"
	"net"
)

const (
	DefaultDomain = "local"

	// TXT record keys carrying the advertised peer identity.
	TextKeyPeerID = "id"
	TextKeyName   = "name"
)

type ServiceInfo struct {
	Name   string // instance name
	Type   string // service type, e.g. "_iroh-chat._tcp"
	Domain string // domain, e.g. "local"
	Addr   net.IP
	Port   int
	Text   map[string]string
}

// EventKind tells whether a browse result adds or removes a service.
type EventKind int

const (
	ServiceFound EventKind = iota
	ServiceLost
)

// DiscoveryResult contains either a service change or an error.
type DiscoveryResult struct {
	Kind    EventKind
	Service ServiceInfo
	Error   error
}

type Adapter interface {
	// Announce registers the service and keeps responding to queries until
	// ctx is cancelled. Registration errors are returned synchronously; the
	// returned channel yields the responder's exit error and is then closed.
	Announce(ctx context.Context, service ServiceInfo) (<-chan error, error)
	// Discover browses for the fully qualified service name until ctx is
	// cancelled, then closes the channel.
	Discover(ctx context.Context, service string) <-chan DiscoveryResult
}
