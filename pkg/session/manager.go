// Package session discovers nearby peers, keeps track of who is connected
// and sends byte messages to them.
//
// A Manager advertises and browses for one service from the moment New
// returns. Connection changes and incoming data are reported through the
// Handlers given to New; Send delivers to whichever of the requested peers
// are connected at the time of the call.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rescp17/nearby/pkg/discovery"
	"github.com/rescp17/nearby/pkg/peer"
	"github.com/rescp17/nearby/pkg/registry"
	"github.com/rescp17/nearby/pkg/transport"
	webrtcPkg "github.com/rescp17/nearby/pkg/webrtc"
)

type lifecycle int

const (
	stateNew lifecycle = iota
	stateLive
	stateClosed
)

// Manager is the session façade. All methods are safe for concurrent use,
// including from inside handlers, except Shutdown which must not be called
// synchronously from a handler.
type Manager struct {
	config     *Config
	log        *slog.Logger
	local      peer.Identity
	descriptor discovery.ServiceDescriptor
	registry   *registry.Registry
	dispatcher *Dispatcher
	provider   transport.Provider

	mu        sync.RWMutex
	state     lifecycle
	session   transport.Session
	advertise transport.Handle
	browse    transport.Handle

	ctx    context.Context
	cancel context.CancelFunc
	dials  sync.WaitGroup

	// dialMu guards the peers currently advertising and the running invite
	// loops. A dialing value of true asks the loop to check the peer again
	// before it exits.
	dialMu     sync.Mutex
	discovered map[peer.ID]peer.Identity
	dialing    map[peer.ID]bool

	shutdownOnce sync.Once
	shutdownErr  error
}

// New starts a session for serviceName. On success the local peer is being
// advertised and a discovery scan is running; no handler is invoked before
// New returns on the calling goroutine.
func New(serviceName string, handlers Handlers, opts ...Option) (*Manager, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.config == nil {
		o.config = DefaultConfig()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if err := o.config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid config: %w", ErrConstructionFailed, err)
	}

	descriptor := discovery.FormatServiceDescriptor(serviceName)
	local := peer.NewLocal(o.config.DisplayName)
	logger := o.logger.With("local", local.ShortID(), "service", descriptor.String())

	provider := o.provider
	if provider == nil {
		transportCfg := o.config.Transport
		if transportCfg == nil {
			transportCfg = webrtcPkg.DefaultConfig()
		}
		p, err := webrtcPkg.NewProvider(transportCfg, webrtcPkg.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConstructionFailed, err)
		}
		provider = p
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:     o.config,
		log:        logger,
		local:      local,
		descriptor: descriptor,
		registry:   registry.New(o.config.RetainDisconnected),
		provider:   provider,
		ctx:        ctx,
		cancel:     cancel,
		discovered: make(map[peer.ID]peer.Identity),
		dialing:    make(map[peer.ID]bool),
	}
	m.dispatcher = NewDispatcher(m.registry, handlers, PeerHooks{
		Discovered:   m.peerDiscovered,
		Lost:         m.peerLost,
		Disconnected: func(peer.Identity) { m.inviteDiscovered() },
	}, logger)

	if err := m.start(); err != nil {
		cancel()
		m.dispatcher.Close()
		if closeErr := provider.Close(); closeErr != nil {
			logger.Warn("Failed to close transport after construction error", "error", closeErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrConstructionFailed, err)
	}

	logger.Info("Session started", "name", local.DisplayName)
	return m, nil
}

func (m *Manager) start() error {
	m.provider.OnEvent(m.dispatcher.Dispatch)
	session := m.provider.Session(m.local)

	adv, err := m.provider.Advertise(m.local, m.descriptor)
	if err != nil {
		return fmt.Errorf("failed to advertise: %w", err)
	}

	br, err := m.provider.Browse(m.local, m.descriptor)
	if err != nil {
		if stopErr := adv.Stop(); stopErr != nil {
			m.log.Warn("Failed to stop advertising", "error", stopErr)
		}
		return fmt.Errorf("failed to browse: %w", err)
	}

	m.mu.Lock()
	m.session = session
	m.advertise = adv
	m.browse = br
	m.state = stateLive
	m.mu.Unlock()

	// Peers found while starting were not invited yet.
	m.inviteDiscovered()
	return nil
}

// Local returns the identity this session advertises.
func (m *Manager) Local() peer.Identity {
	return m.local
}

// Descriptor returns the service descriptor scoping discovery.
func (m *Manager) Descriptor() discovery.ServiceDescriptor {
	return m.descriptor
}

// Send hands data to the transport for every peer in targets that is
// connected right now. Targets that are not connected are skipped without
// error. Send returns once the transport accepted the request; it does not
// wait for delivery, even when reliable is true.
func (m *Manager) Send(data []byte, targets []peer.Identity, reliable bool) error {
	if m == nil {
		return ErrSessionNotEstablished
	}

	// Held shared so Shutdown cannot complete while a transmit is handed off.
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != stateLive {
		return ErrSessionNotEstablished
	}

	recipients := m.registry.FilterConnected(targets)
	if len(recipients) == 0 {
		m.log.Debug("No connected recipients, nothing sent", "requested", len(targets))
		return nil
	}

	mode := transport.Unreliable
	if reliable {
		mode = transport.Reliable
	}
	if err := m.session.Transmit(data, recipients, mode); err != nil {
		m.log.Warn("Transmit rejected", "recipients", len(recipients), "mode", mode.String(), "error", err)
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return nil
}

// SendToAll is Send addressed to every currently connected peer.
func (m *Manager) SendToAll(data []byte, reliable bool) error {
	if m == nil {
		return ErrSessionNotEstablished
	}
	return m.Send(data, m.ConnectedPeers(), reliable)
}

// ConnectedPeers returns a snapshot of connected peers in join order.
func (m *Manager) ConnectedPeers() []peer.Identity {
	if m == nil {
		return nil
	}
	return m.registry.Connected()
}

// Shutdown stops advertising and browsing, releases the transport and
// prevents further handler invocation. It is idempotent; only the first
// call does work and reports errors.
func (m *Manager) Shutdown() error {
	if m == nil {
		return nil
	}
	m.shutdownOnce.Do(func() {
		m.mu.Lock()
		adv, br := m.advertise, m.browse
		m.state = stateClosed
		m.mu.Unlock()

		m.cancel()
		m.dispatcher.Close()

		var errs []error
		if adv != nil {
			if err := adv.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("failed to stop advertising: %w", err))
			}
		}
		if br != nil {
			if err := br.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("failed to stop browsing: %w", err))
			}
		}
		if err := m.provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close transport: %w", err))
		}
		m.dials.Wait()

		m.shutdownErr = errors.Join(errs...)
		if m.shutdownErr != nil {
			m.log.Warn("Session shut down with errors", "error", m.shutdownErr)
		} else {
			m.log.Info("Session shut down")
		}
	})
	return m.shutdownErr
}

func (m *Manager) peerDiscovered(remote peer.Identity) {
	if remote.Equal(m.local) {
		return
	}
	m.dialMu.Lock()
	m.discovered[remote.ID] = remote
	m.dialMu.Unlock()

	m.maybeConnect(remote)
}

func (m *Manager) peerLost(remote peer.Identity) {
	m.dialMu.Lock()
	delete(m.discovered, remote.ID)
	m.dialMu.Unlock()
}

// inviteDiscovered offers every advertising peer an invitation. It runs
// whenever a peer leaves, since that may free a slot or be the peer itself.
func (m *Manager) inviteDiscovered() {
	m.dialMu.Lock()
	peers := make([]peer.Identity, 0, len(m.discovered))
	for _, p := range m.discovered {
		peers = append(peers, p)
	}
	m.dialMu.Unlock()

	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	for _, p := range peers {
		m.maybeConnect(p)
	}
}

// maybeConnect invites an advertising peer. Exactly one side of a pair
// dials: the one whose ID sorts first. At most one invite loop runs per
// peer.
func (m *Manager) maybeConnect(remote peer.Identity) {
	if !m.config.AutoConnect || remote.Equal(m.local) {
		return
	}
	if m.local.ID > remote.ID {
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != stateLive {
		return
	}

	m.dialMu.Lock()
	defer m.dialMu.Unlock()
	if _, running := m.dialing[remote.ID]; running {
		m.dialing[remote.ID] = true
		return
	}
	if !m.eligible(remote) {
		return
	}
	m.dialing[remote.ID] = false
	m.dials.Add(1)
	go m.invite(remote)
}

// eligible must be called with dialMu held.
func (m *Manager) eligible(remote peer.Identity) bool {
	if _, ok := m.discovered[remote.ID]; !ok {
		return false
	}
	if state, _ := m.registry.State(remote.ID); state != peer.NotConnected {
		return false
	}
	if count := m.registry.ConnectedCount(); count >= m.config.MaxPeers {
		m.log.Debug("Not inviting peer, session is full", "peer", remote.String(), "connected", count)
		return false
	}
	return true
}

// invite dials remote until an invitation is accepted, backing off after
// each failure. It stops on Shutdown or once the peer no longer needs an
// invitation.
func (m *Manager) invite(remote peer.Identity) {
	defer m.dials.Done()

	delay := m.config.ReconnectDelay
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(m.ctx, m.config.ConnectTimeout)
		err := m.provider.Connect(ctx, m.local, remote)
		cancel()

		wait := m.config.ReconnectDelay
		if err != nil {
			if m.ctx.Err() == nil {
				m.log.Warn("Failed to invite peer", "peer", remote.String(), "attempt", attempt, "retry_in", delay, "error", err)
			}
			wait = delay
			delay = min(delay*2, m.config.MaxReconnectDelay)
		} else {
			delay = m.config.ReconnectDelay
		}

		if !m.keepDialing(remote, err != nil) {
			return
		}
		if !m.sleep(wait) {
			m.releaseDial(remote.ID)
			return
		}
		if !m.resumeDialing(remote) {
			return
		}
	}
}

// keepDialing reports whether the loop for remote goes on after an attempt.
// Otherwise it releases the peer.
func (m *Manager) keepDialing(remote peer.Identity, failed bool) bool {
	m.dialMu.Lock()
	defer m.dialMu.Unlock()

	recheck := m.dialing[remote.ID]
	m.dialing[remote.ID] = false
	if m.ctx.Err() == nil && (failed || recheck) {
		return true
	}
	delete(m.dialing, remote.ID)
	return false
}

// resumeDialing releases remote unless it still needs an invitation.
func (m *Manager) resumeDialing(remote peer.Identity) bool {
	m.dialMu.Lock()
	defer m.dialMu.Unlock()

	if m.ctx.Err() == nil && m.eligible(remote) {
		return true
	}
	delete(m.dialing, remote.ID)
	return false
}

func (m *Manager) releaseDial(id peer.ID) {
	m.dialMu.Lock()
	delete(m.dialing, id)
	m.dialMu.Unlock()
}

func (m *Manager) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-m.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
