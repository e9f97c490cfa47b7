package webrtc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"

	"github.com/rescp17/nearby/pkg/peer"
	"github.com/rescp17/nearby/pkg/transport"
)

const (
	ReliableLabel   = "reliable"
	UnreliableLabel = "unreliable"
)

// eventSink receives everything a Connection reports. The sink decides
// whether the connection is still the current one for its peer.
type eventSink interface {
	deliver(c *Connection, ev transport.Event)
}

// WebRTCAPI shares one pion API between all peer connections.
type WebRTCAPI struct {
	api           *webrtc.API
	configuration webrtc.Configuration
}

func NewWebRTCAPI(cfg *Config) *WebRTCAPI {
	settings := webrtc.SettingEngine{}
	if cfg.MDNSCandidates {
		settings.SetICEMulticastDNSMode(ice.MulticastDNSModeQueryAndGather)
	}
	settings.SetReceiveMTU(MTU)

	var servers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		servers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	// Using NewAPI is crucial for managing multiple PeerConnections in one application.
	return &WebRTCAPI{
		api:           webrtc.NewAPI(webrtc.WithSettingEngine(settings)),
		configuration: webrtc.Configuration{ICEServers: servers},
	}
}

// Connection wraps one pion PeerConnection to a remote peer together with
// its reliable and unreliable data channels.
type Connection struct {
	remote peer.Identity
	pc     *webrtc.PeerConnection
	sink   eventSink
	log    *slog.Logger

	mu       sync.Mutex
	channels map[transport.Mode]*webrtc.DataChannel
	open     map[transport.Mode]bool
	state    peer.State
	finished bool

	// emitMu orders state computation with delivery.
	emitMu sync.Mutex

	opened   chan struct{}
	openOnce sync.Once
	done     chan struct{}
	closing  atomic.Bool
}

func (a *WebRTCAPI) NewConnection(remote peer.Identity, sink eventSink, logger *slog.Logger) (*Connection, error) {
	pc, err := a.api.NewPeerConnection(a.configuration)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	c := &Connection{
		remote:   remote,
		pc:       pc,
		sink:     sink,
		log:      logger.With("peer", remote.String()),
		channels: make(map[transport.Mode]*webrtc.DataChannel, 2),
		open:     make(map[transport.Mode]bool, 2),
		opened:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.log.Debug("Peer connection state changed", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateClosed:
			c.fail("peer connection " + state.String())
		}
	})
	pc.OnDataChannel(c.attach)
	return c, nil
}

// Remote returns the peer on the other end.
func (c *Connection) Remote() peer.Identity {
	return c.remote
}

// State returns the last state reported for this connection.
func (c *Connection) State() peer.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Opened is closed once both data channels are open.
func (c *Connection) Opened() <-chan struct{} {
	return c.opened
}

// CreateChannels opens both data channels. Only the offering side calls it;
// the answering side receives them through OnDataChannel.
func (c *Connection) CreateChannels() error {
	for _, mode := range []transport.Mode{transport.Reliable, transport.Unreliable} {
		dc, err := c.pc.CreateDataChannel(labelFor(mode), channelInit(mode))
		if err != nil {
			return fmt.Errorf("failed to create %s data channel: %w", mode, err)
		}
		c.attach(dc)
	}
	return nil
}

// CreateOffer returns a complete offer, waiting for ICE gathering to finish.
func (c *Connection) CreateOffer(ctx context.Context) (*webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}
	return c.setLocalAndGather(ctx, offer)
}

// AcceptAnswer completes an offer created with CreateOffer.
func (c *Connection) AcceptAnswer(answer webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

// HandleOfferAndCreateAnswer applies a remote offer and returns the complete
// answer.
func (c *Connection) HandleOfferAndCreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}
	return c.setLocalAndGather(ctx, answer)
}

func (c *Connection) setLocalAndGather(ctx context.Context, desc webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(desc); err != nil {
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return nil, fmt.Errorf("ICE gathering did not complete: %w", ctx.Err())
	}
	return c.pc.LocalDescription(), nil
}

// Send writes payload to the channel matching mode.
func (c *Connection) Send(mode transport.Mode, payload []byte) error {
	c.mu.Lock()
	dc := c.channels[mode]
	ready := c.state == peer.Connected && dc != nil
	c.mu.Unlock()

	if !ready {
		return transport.ErrPeerNotConnected
	}
	if err := dc.Send(payload); err != nil {
		return fmt.Errorf("failed to write to %s channel: %w", mode, err)
	}
	return nil
}

func (c *Connection) attach(dc *webrtc.DataChannel) {
	mode, ok := modeFor(dc.Label())
	if !ok {
		c.log.Warn("Closing unexpected data channel", "label", dc.Label())
		_ = dc.Close()
		return
	}

	c.mu.Lock()
	c.channels[mode] = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		c.log.Debug("Data channel opened", "label", dc.Label())
		c.markOpen(mode)
	})
	dc.OnClose(func() {
		c.fail(dc.Label() + " data channel closed")
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.deliverData(mode, msg.Data)
	})
}

func (c *Connection) markOpen(mode transport.Mode) {
	c.mu.Lock()
	c.open[mode] = true
	both := c.open[transport.Reliable] && c.open[transport.Unreliable]
	c.mu.Unlock()

	if both {
		c.setState(peer.Connected)
		c.openOnce.Do(func() { close(c.opened) })
	}
}

// setState reports s unless it is a repeat. NotConnected is terminal.
func (c *Connection) setState(s peer.State) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.finished || c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	if s == peer.NotConnected {
		c.finished = true
	}
	c.mu.Unlock()

	c.sink.deliver(c, transport.PeerStateChanged{Peer: c.remote, State: s})
}

func (c *Connection) deliverData(mode transport.Mode, data []byte) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	finished := c.finished
	c.mu.Unlock()
	if finished {
		return
	}
	c.sink.deliver(c, transport.DataReceived{Peer: c.remote, Data: data, Mode: mode})
}

// fail reports NotConnected and releases the peer connection in the
// background. pion callbacks must not close their own connection inline.
func (c *Connection) fail(reason string) {
	c.mu.Lock()
	finished := c.finished
	c.mu.Unlock()
	if !finished {
		c.log.Info("Connection ended", "reason", reason)
	}
	c.setState(peer.NotConnected)
	go func() {
		if err := c.Close(); err != nil {
			c.log.Debug("Failed to close peer connection", "error", err)
		}
	}()
}

// Close gracefully shuts down the WebRTC connection. It is safe to call
// more than once.
func (c *Connection) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)
	return c.pc.Close()
}

func labelFor(mode transport.Mode) string {
	if mode == transport.Unreliable {
		return UnreliableLabel
	}
	return ReliableLabel
}

func modeFor(label string) (transport.Mode, bool) {
	switch label {
	case ReliableLabel:
		return transport.Reliable, true
	case UnreliableLabel:
		return transport.Unreliable, true
	default:
		return 0, false
	}
}

func channelInit(mode transport.Mode) *webrtc.DataChannelInit {
	ordered := mode == transport.Reliable
	init := &webrtc.DataChannelInit{Ordered: &ordered}
	if mode == transport.Unreliable {
		var noRetransmits uint16
		init.MaxRetransmits = &noRetransmits
	}
	return init
}
