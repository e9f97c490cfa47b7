// Package webrtc is the transport provider that finds peers over mDNS,
// signals through a small HTTP API and carries messages over WebRTC data
// channels.
package webrtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"golang.org/x/sync/errgroup"

	"github.com/rescp17/nearby/api"
	"github.com/rescp17/nearby/pkg/concurrency"
	"github.com/rescp17/nearby/pkg/discovery"
	"github.com/rescp17/nearby/pkg/peer"
	"github.com/rescp17/nearby/pkg/transport"
)

const (
	eventQueueSize  = 64
	shutdownTimeout = 5 * time.Second
)

var (
	// ErrUnknownAddress is returned by Connect for a peer that was never
	// discovered.
	ErrUnknownAddress = errors.New("no signaling address known for peer")
	// ErrNotAdvertising is returned by Connect before Advertise has set up
	// signaling.
	ErrNotAdvertising = errors.New("signaling is not set up")
)

// Provider implements transport.Provider and transport.Session.
type Provider struct {
	config    *Config
	log       *slog.Logger
	api       *WebRTCAPI
	adapter   discovery.Adapter
	signaling *api.Server
	guard     *concurrency.KeyedGuard

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu       sync.RWMutex
	closed   bool
	handler  transport.EventHandler
	local    peer.Identity
	signaler Signaler
	server   *http.Server
	port     int
	conns    map[peer.ID]*Connection
	addrs    map[peer.ID]string
	queues   map[peer.ID]*eventQueue
}

// eventQueue keeps one peer's events in order. pending counts events
// published but not yet handled; an idle queue for a peer without a
// connection is removed.
type eventQueue struct {
	events  chan transport.Event
	pending int
}

// Option customises a Provider.
type Option func(*Provider)

// WithLogger sets the logger for the provider and its connections.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.log = logger
	}
}

// WithAdapter replaces the mDNS adapter.
func WithAdapter(adapter discovery.Adapter) Option {
	return func(p *Provider) {
		p.adapter = adapter
	}
}

// WithSignaler replaces the HTTP signaling client.
func WithSignaler(signaler Signaler) Option {
	return func(p *Provider) {
		p.signaler = signaler
	}
}

// NewProvider creates a provider. Nothing listens on the network until
// Advertise or Browse is called.
func NewProvider(cfg *Config, opts ...Option) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid webrtc config: %w", err)
	}

	base, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(base)
	p := &Provider{
		config:  cfg,
		log:     slog.Default(),
		adapter: &discovery.MDNSAdapter{},
		guard:   concurrency.NewKeyedGuard(),
		ctx:     ctx,
		cancel:  cancel,
		group:   group,
		conns:   make(map[peer.ID]*Connection),
		addrs:   make(map[peer.ID]string),
		queues:  make(map[peer.ID]*eventQueue),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.api = NewWebRTCAPI(cfg)
	p.signaling = api.NewServer(p, p.log)
	return p, nil
}

func (p *Provider) OnEvent(handler transport.EventHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = handler
}

// Session records the local identity and returns the provider itself, which
// transmits to every connected peer.
func (p *Provider) Session(local peer.Identity) transport.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = local
	return p
}

// Port returns the signaling port, or 0 before Advertise.
func (p *Provider) Port() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.port
}

// Advertise starts the signaling server and announces it over mDNS.
func (p *Provider) Advertise(local peer.Identity, descriptor discovery.ServiceDescriptor) (transport.Handle, error) {
	port, err := p.startSignaling(local, descriptor)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", transport.ErrPlatformUnavailable, err)
	}

	info := discovery.ServiceInfo{
		Name:   instanceName(local),
		Type:   descriptor.ServiceType(),
		Domain: discovery.DefaultDomain,
		Port:   port,
		Text: map[string]string{
			discovery.TextKeyPeerID: string(local.ID),
			discovery.TextKeyName:   local.DisplayName,
		},
	}

	ctx, cancel := context.WithCancel(p.ctx)
	errCh, err := p.adapter.Announce(ctx, info)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", transport.ErrPlatformUnavailable, err)
	}

	done := make(chan struct{})
	started := p.goSafe(func() error {
		defer close(done)
		for err := range errCh {
			p.log.Error("mDNS announcement stopped", "error", err)
		}
		return nil
	})
	if !started {
		cancel()
		return nil, transport.ErrClosed
	}

	p.log.Info("Advertising", "instance", info.Name, "type", info.Type, "port", port)
	return transport.HandleFunc(sync.OnceValue(func() error {
		cancel()
		<-done
		p.log.Debug("Stopped advertising", "instance", info.Name)
		return nil
	})), nil
}

// Browse looks for other peers announcing descriptor and reports them as
// PeerDiscovered and PeerLost.
func (p *Provider) Browse(local peer.Identity, descriptor discovery.ServiceDescriptor) (transport.Handle, error) {
	ctx, cancel := context.WithCancel(p.ctx)
	results := p.adapter.Discover(ctx, descriptor.BrowseName())

	done := make(chan struct{})
	started := p.goSafe(func() error {
		defer close(done)
		for result := range results {
			p.handleDiscovery(local, result)
		}
		return nil
	})
	if !started {
		cancel()
		return nil, transport.ErrClosed
	}

	p.log.Info("Browsing", "name", descriptor.BrowseName())
	return transport.HandleFunc(sync.OnceValue(func() error {
		cancel()
		<-done
		p.log.Debug("Stopped browsing", "name", descriptor.BrowseName())
		return nil
	})), nil
}

func (p *Provider) handleDiscovery(local peer.Identity, result discovery.DiscoveryResult) {
	if result.Error != nil {
		p.log.Warn("Discovery error", "error", result.Error)
		return
	}

	svc := result.Service
	id := peer.ID(svc.Text[discovery.TextKeyPeerID])
	if id == "" {
		p.log.Debug("Ignoring service without peer id", "instance", svc.Name)
		return
	}
	if id == local.ID {
		return
	}
	remote := peer.Identity{ID: id, DisplayName: svc.Text[discovery.TextKeyName]}

	switch result.Kind {
	case discovery.ServiceFound:
		if svc.Addr == nil || svc.Port == 0 {
			p.log.Warn("Ignoring service without address", "peer", remote.String())
			return
		}
		p.rememberAddr(id, net.JoinHostPort(svc.Addr.String(), strconv.Itoa(svc.Port)))
		p.publish(id, transport.PeerDiscovered{Peer: remote})
	case discovery.ServiceLost:
		p.publish(id, transport.PeerLost{Peer: remote})
	}
}

// Connect dials remote: it gathers a complete offer, posts it to the
// remote's signaling endpoint and applies the answer. It returns once the
// answer is applied; Connected is reported when both channels open.
func (p *Provider) Connect(ctx context.Context, local, remote peer.Identity) error {
	err := p.guard.Execute(string(remote.ID), func() error {
		return p.dial(ctx, local, remote)
	})
	if errors.Is(err, concurrency.ErrBusy) {
		return fmt.Errorf("connection to %s already in progress: %w", remote, err)
	}
	return err
}

func (p *Provider) dial(ctx context.Context, local, remote peer.Identity) error {
	p.mu.RLock()
	closed := p.closed
	addr, known := p.addrs[remote.ID]
	signaler := p.signaler
	p.mu.RUnlock()

	switch {
	case closed:
		return transport.ErrClosed
	case !known:
		return fmt.Errorf("%w: %s", ErrUnknownAddress, remote)
	case signaler == nil:
		return ErrNotAdvertising
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.HandshakeTimeout)
	defer cancel()

	c, err := p.newConnection(remote)
	if err != nil {
		return err
	}

	answer, err := func() (*webrtc.SessionDescription, error) {
		if err := c.CreateChannels(); err != nil {
			return nil, err
		}
		offer, err := c.CreateOffer(ctx)
		if err != nil {
			return nil, err
		}
		return signaler.SendOffer(ctx, addr, local, *offer)
	}()
	if err == nil {
		err = c.AcceptAnswer(*answer)
	}
	if err != nil {
		c.fail("handshake failed")
		return fmt.Errorf("failed to connect to %s: %w", remote, err)
	}

	p.log.Debug("Offer answered", "peer", remote.String())
	return nil
}

// HandleOffer answers an offer received by the signaling server.
func (p *Provider) HandleOffer(ctx context.Context, from peer.Identity, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	p.mu.RLock()
	local := p.local
	p.mu.RUnlock()
	if from.IsZero() || from.Equal(local) {
		return nil, fmt.Errorf("refusing offer from %q", from.ID)
	}

	var answer *webrtc.SessionDescription
	err := p.guard.Execute(string(from.ID), func() error {
		ctx, cancel := context.WithTimeout(ctx, p.config.HandshakeTimeout)
		defer cancel()

		c, err := p.newConnection(from)
		if err != nil {
			return err
		}
		answer, err = c.HandleOfferAndCreateAnswer(ctx, offer)
		if err != nil {
			c.fail("failed to answer offer")
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to accept offer from %s: %w", from, err)
	}
	return answer, nil
}

// Transmit sends payload to every target on the channel matching mode.
// Failures for individual targets are joined into one error.
func (p *Provider) Transmit(payload []byte, targets []peer.Identity, mode transport.Mode) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return transport.ErrClosed
	}
	conns := make([]*Connection, len(targets))
	for i, target := range targets {
		conns[i] = p.conns[target.ID]
	}
	p.mu.RUnlock()

	var errs []error
	for i, target := range targets {
		if conns[i] == nil {
			errs = append(errs, fmt.Errorf("%s: %w", target, transport.ErrPeerNotConnected))
			continue
		}
		if err := conns[i].Send(mode, payload); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", target, err))
		}
	}
	return errors.Join(errs...)
}

// Close stops discovery and signaling and closes every peer connection.
// No event is delivered after Close returns.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conns := make([]*Connection, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	clear(p.conns)
	server := p.server
	p.mu.Unlock()

	p.cancel()

	var errs []error
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop signaling server: %w", err))
		}
		cancel()
	}
	for _, c := range conns {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection to %s: %w", c.Remote(), err))
		}
	}
	if err := p.group.Wait(); err != nil {
		errs = append(errs, err)
	}

	p.log.Debug("WebRTC provider closed", "connections", len(conns))
	return errors.Join(errs...)
}

func (p *Provider) startSignaling(local peer.Identity, descriptor discovery.ServiceDescriptor) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, transport.ErrClosed
	}

	p.local = local
	p.signaling.SetService(descriptor.String())
	if p.signaler == nil {
		p.signaler = api.NewClient(descriptor.String(), local.ID)
	}
	if p.server != nil {
		return p.port, nil
	}

	listener, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return 0, fmt.Errorf("failed to listen on %s: %w", p.config.ListenAddr, err)
	}
	server := &http.Server{
		Handler:           p.signaling,
		ReadHeaderTimeout: 10 * time.Second,
	}
	p.group.Go(func() error {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("signaling server stopped: %w", err)
		}
		return nil
	})

	p.server = server
	p.port = listener.Addr().(*net.TCPAddr).Port
	p.log.Debug("Signaling server listening", "addr", listener.Addr().String())
	return p.port, nil
}

// newConnection creates a connection to remote and makes it the current
// one, retiring any previous connection to the same peer.
func (p *Provider) newConnection(remote peer.Identity) (*Connection, error) {
	c, err := p.api.NewConnection(remote, p, p.log)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	old := p.conns[remote.ID]
	p.mu.RUnlock()
	if old != nil {
		old.fail("replaced by a new connection")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = c.Close()
		return nil, transport.ErrClosed
	}
	p.conns[remote.ID] = c
	p.group.Go(func() error {
		p.watchHandshake(c)
		return nil
	})
	p.mu.Unlock()

	c.setState(peer.Connecting)
	return c, nil
}

func (p *Provider) watchHandshake(c *Connection) {
	timer := time.NewTimer(p.config.HandshakeTimeout)
	defer timer.Stop()

	select {
	case <-c.Opened():
	case <-c.done:
	case <-p.ctx.Done():
	case <-timer.C:
		c.fail("handshake timed out")
	}
}

// deliver is called by connections. Only the current connection for a peer
// may report; a NotConnected report removes it.
func (p *Provider) deliver(c *Connection, ev transport.Event) {
	id := c.Remote().ID

	p.mu.Lock()
	if p.closed || p.conns[id] != c {
		p.mu.Unlock()
		return
	}
	if sc, ok := ev.(transport.PeerStateChanged); ok && sc.State == peer.NotConnected {
		delete(p.conns, id)
	}
	p.mu.Unlock()

	p.publish(id, ev)
}

// publish queues ev behind every earlier event for the same peer.
func (p *Provider) publish(id peer.ID, ev transport.Event) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	q, ok := p.queues[id]
	if !ok {
		q = &eventQueue{events: make(chan transport.Event, eventQueueSize)}
		p.queues[id] = q
		p.group.Go(func() error {
			p.pump(id, q)
			return nil
		})
	}
	q.pending++
	p.mu.Unlock()

	select {
	case q.events <- ev:
	case <-p.ctx.Done():
	}
}

func (p *Provider) pump(id peer.ID, q *eventQueue) {
	for {
		select {
		case <-p.ctx.Done():
			return
		case ev := <-q.events:
			p.mu.RLock()
			handler, closed := p.handler, p.closed
			p.mu.RUnlock()
			if !closed && handler != nil {
				handler(ev)
			}
			if p.retire(id, q) {
				return
			}
		}
	}
}

// retire marks one event of q handled and removes q once it is idle and the
// peer has no connection.
func (p *Provider) retire(id peer.ID, q *eventQueue) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	q.pending--
	if q.pending > 0 || p.conns[id] != nil {
		return false
	}
	delete(p.queues, id)
	return true
}

func (p *Provider) rememberAddr(id peer.ID, addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addrs[id] = addr
}

// goSafe runs fn in the provider's group unless the provider is closed.
func (p *Provider) goSafe(fn func() error) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	p.group.Go(fn)
	return true
}

func instanceName(local peer.Identity) string {
	if local.DisplayName == "" {
		return local.ShortID()
	}
	return local.DisplayName + "-" + local.ShortID()
}

var (
	_ transport.Provider = (*Provider)(nil)
	_ transport.Session  = (*Provider)(nil)
	_ api.OfferHandler   = (*Provider)(nil)
)
