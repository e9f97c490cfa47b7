package session

import (
	"context"
	"sync"

	"github.com/rescp17/nearby/pkg/discovery"
	"github.com/rescp17/nearby/pkg/peer"
	"github.com/rescp17/nearby/pkg/transport"
)

type transmission struct {
	payload []byte
	targets []peer.Identity
	mode    transport.Mode
}

// fakeProvider records every call and lets tests inject events.
type fakeProvider struct {
	mu           sync.Mutex
	handler      transport.EventHandler
	advertiseErr error
	browseErr    error
	transmitErr  error
	// connectErrs fail the first Connect calls in turn, then connectErr
	// applies to every later one.
	connectErrs []error
	connectErr  error
	// discoverOnBrowse is reported from inside Browse, before New returns.
	discoverOnBrowse []peer.Identity
	transmits    []transmission
	connects     []peer.Identity
	connected    chan peer.Identity
	advertising  bool
	browsing     bool
	closed       int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{connected: make(chan peer.Identity, 16)}
}

func (f *fakeProvider) OnEvent(handler transport.EventHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *fakeProvider) Session(local peer.Identity) transport.Session {
	return f
}

func (f *fakeProvider) Advertise(local peer.Identity, d discovery.ServiceDescriptor) (transport.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.advertiseErr != nil {
		return nil, f.advertiseErr
	}
	f.advertising = true
	return transport.HandleFunc(func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.advertising = false
		return nil
	}), nil
}

func (f *fakeProvider) Browse(local peer.Identity, d discovery.ServiceDescriptor) (transport.Handle, error) {
	f.mu.Lock()
	if f.browseErr != nil {
		f.mu.Unlock()
		return nil, f.browseErr
	}
	f.browsing = true
	early := f.discoverOnBrowse
	f.mu.Unlock()

	for _, p := range early {
		f.emit(transport.PeerDiscovered{Peer: p})
	}
	return transport.HandleFunc(func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.browsing = false
		return nil
	}), nil
}

func (f *fakeProvider) Connect(ctx context.Context, local, remote peer.Identity) error {
	f.mu.Lock()
	f.connects = append(f.connects, remote)
	err := f.connectErr
	if len(f.connectErrs) > 0 {
		err, f.connectErrs = f.connectErrs[0], f.connectErrs[1:]
	}
	f.mu.Unlock()

	select {
	case f.connected <- remote:
	default:
	}
	return err
}

func (f *fakeProvider) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeProvider) Transmit(payload []byte, targets []peer.Identity, mode transport.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transmitErr != nil {
		return f.transmitErr
	}
	f.transmits = append(f.transmits, transmission{payload: payload, targets: targets, mode: mode})
	return nil
}

// emit delivers ev the way a provider goroutine would.
func (f *fakeProvider) emit(ev transport.Event) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (f *fakeProvider) transmissions() []transmission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transmission(nil), f.transmits...)
}

func (f *fakeProvider) connectCalls() []peer.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]peer.Identity(nil), f.connects...)
}
