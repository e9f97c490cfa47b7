package session

import (
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/rescp17/nearby/pkg/peer"
	"github.com/rescp17/nearby/pkg/registry"
	"github.com/rescp17/nearby/pkg/transport"
)

// Handlers are the application callbacks. They run synchronously on the
// goroutine that delivered the transport event, so they must be fast or
// hand work off. A nil handler is skipped.
type Handlers struct {
	OnData       func(data []byte, from peer.Identity)
	OnPeerJoined func(p peer.Identity)
	OnPeerLeft   func(p peer.Identity)
}

// PeerHooks let the dispatcher's owner follow discovery and disconnection.
// They run after the registry is updated and outside the per-peer lock. A
// nil hook is skipped.
type PeerHooks struct {
	Discovered   func(peer.Identity)
	Lost         func(peer.Identity)
	Disconnected func(peer.Identity)
}

// Dispatcher is the only path by which transport events enter the session.
// It applies state changes to the registry and invokes the handlers.
//
// Registry mutation and the handler call for one peer are atomic with
// respect to other events for that peer. Events for different peers run
// concurrently.
type Dispatcher struct {
	registry *registry.Registry
	handlers Handlers
	hooks    PeerHooks
	log      *slog.Logger

	// gate is held shared by every dispatch and exclusively by Close, so no
	// handler starts once Close has returned.
	gate   sync.RWMutex
	closed bool

	// peerLocks only holds locks that are held or waited on.
	locksMu   sync.Mutex
	peerLocks map[peer.ID]*peerLock
}

type peerLock struct {
	mu   sync.Mutex
	refs int
}

// NewDispatcher takes ownership of handlers.
func NewDispatcher(reg *registry.Registry, handlers Handlers, hooks PeerHooks, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry:  reg,
		handlers:  handlers,
		hooks:     hooks,
		log:       logger,
		peerLocks: make(map[peer.ID]*peerLock),
	}
}

// Dispatch is the transport callback entry point. It never panics back into
// the caller.
func (d *Dispatcher) Dispatch(ev transport.Event) {
	d.gate.RLock()
	defer d.gate.RUnlock()
	if d.closed {
		d.log.Debug("Dropping event after shutdown", "event", eventName(ev))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Recovered from panic while dispatching event",
				"event", eventName(ev),
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	switch e := ev.(type) {
	case transport.PeerStateChanged:
		d.handleStateChange(e)
	case transport.DataReceived:
		d.handleData(e)
	case transport.PeerDiscovered:
		d.handleDiscovered(e)
	case transport.PeerLost:
		if !d.valid(e.Peer, ev) {
			return
		}
		d.log.Debug("Peer no longer advertising", "peer", e.Peer.String())
		if d.hooks.Lost != nil {
			d.hooks.Lost(e.Peer)
		}
	case transport.StreamReceived, transport.ResourceProgress:
		d.log.Debug("Ignoring unsupported event", "event", eventName(ev))
	default:
		d.log.Warn("Dropping unknown event", "event", eventName(ev))
	}
}

// Close stops handler invocation. Dispatches already running finish first,
// so Close must not be called from inside a handler.
func (d *Dispatcher) Close() {
	d.gate.Lock()
	d.closed = true
	d.gate.Unlock()
}

func (d *Dispatcher) handleStateChange(e transport.PeerStateChanged) {
	if !d.valid(e.Peer, e) {
		return
	}
	if !e.State.Valid() {
		d.log.Warn("Dropping state change with unknown state", "peer", e.Peer.String(), "state", int(e.State))
		return
	}

	t := d.applyState(e)
	if t.Left() && d.hooks.Disconnected != nil {
		d.hooks.Disconnected(t.Peer)
	}
}

func (d *Dispatcher) applyState(e transport.PeerStateChanged) registry.Transition {
	unlock := d.lockPeer(e.Peer.ID)
	defer unlock()

	t := d.registry.Apply(e.Peer, e.State)
	d.log.Debug("Peer state changed", "peer", t.Peer.String(), "from", t.From.String(), "to", t.To.String())

	switch {
	case t.Joined():
		if d.handlers.OnPeerJoined != nil {
			d.handlers.OnPeerJoined(t.Peer)
		}
	case t.Left():
		if d.handlers.OnPeerLeft != nil {
			d.handlers.OnPeerLeft(t.Peer)
		}
	}
	return t
}

func (d *Dispatcher) handleData(e transport.DataReceived) {
	if !d.valid(e.Peer, e) {
		return
	}

	unlock := d.lockPeer(e.Peer.ID)
	defer unlock()

	if d.handlers.OnData != nil {
		d.handlers.OnData(e.Data, e.Peer)
	}
}

func (d *Dispatcher) handleDiscovered(e transport.PeerDiscovered) {
	if !d.valid(e.Peer, e) {
		return
	}

	unlock := d.lockPeer(e.Peer.ID)
	created := d.registry.Observe(e.Peer)
	unlock()

	d.log.Debug("Discovered peer", "peer", e.Peer.String(), "new", created)
	if d.hooks.Discovered != nil {
		d.hooks.Discovered(e.Peer)
	}
}

func (d *Dispatcher) valid(p peer.Identity, ev transport.Event) bool {
	if p.IsZero() {
		d.log.Warn("Dropping malformed event without peer ID", "event", eventName(ev))
		return false
	}
	return true
}

func (d *Dispatcher) lockPeer(id peer.ID) func() {
	d.locksMu.Lock()
	l, ok := d.peerLocks[id]
	if !ok {
		l = &peerLock{}
		d.peerLocks[id] = l
	}
	l.refs++
	d.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		d.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.peerLocks, id)
		}
		d.locksMu.Unlock()
	}
}

func eventName(ev transport.Event) string {
	switch ev.(type) {
	case transport.PeerStateChanged:
		return "peer_state_changed"
	case transport.DataReceived:
		return "data_received"
	case transport.StreamReceived:
		return "stream_received"
	case transport.ResourceProgress:
		return "resource_progress"
	case transport.PeerDiscovered:
		return "peer_discovered"
	case transport.PeerLost:
		return "peer_lost"
	case nil:
		return "nil"
	default:
		return "unknown"
	}
}
