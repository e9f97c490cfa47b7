package webrtc

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescp17/nearby/pkg/discovery"
	"github.com/rescp17/nearby/pkg/peer"
	"github.com/rescp17/nearby/pkg/transport"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeAdapter stands in for mDNS. Tests push discovery results through
// results.
type fakeAdapter struct {
	mu          sync.Mutex
	announced   []discovery.ServiceInfo
	announceErr error
	browsed     []string
	results     chan discovery.DiscoveryResult
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{results: make(chan discovery.DiscoveryResult, 8)}
}

func (f *fakeAdapter) Announce(ctx context.Context, info discovery.ServiceInfo) (<-chan error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.announceErr != nil {
		return nil, f.announceErr
	}
	f.announced = append(f.announced, info)
	errCh := make(chan error)
	go func() {
		<-ctx.Done()
		close(errCh)
	}()
	return errCh, nil
}

func (f *fakeAdapter) Discover(ctx context.Context, service string) <-chan discovery.DiscoveryResult {
	f.mu.Lock()
	f.browsed = append(f.browsed, service)
	f.mu.Unlock()

	out := make(chan discovery.DiscoveryResult)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case r := <-f.results:
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// eventRecorder collects provider events.
type eventRecorder struct {
	mu     sync.Mutex
	events []transport.Event
	notify chan struct{}
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{notify: make(chan struct{}, 128)}
}

func (r *eventRecorder) handle(ev transport.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *eventRecorder) snapshot() []transport.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transport.Event(nil), r.events...)
}

// waitFor blocks until match returns true for some recorded event.
func (r *eventRecorder) waitFor(t *testing.T, timeout time.Duration, match func(transport.Event) bool) transport.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		for _, ev := range r.snapshot() {
			if match(ev) {
				return ev
			}
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("event not observed within %v", timeout)
			return nil
		}
	}
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.MDNSCandidates = false
	cfg.HandshakeTimeout = 10 * time.Second
	return cfg
}

func newTestProvider(t *testing.T, adapter discovery.Adapter, opts ...Option) *Provider {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger), WithAdapter(adapter)}, opts...)
	p, err := NewProvider(testConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestNewProvider_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HandshakeTimeout = -1
	_, err := NewProvider(cfg)
	assert.Error(t, err)
}

func TestAdvertise_AnnouncesSignalingPort(t *testing.T) {
	adapter := newFakeAdapter()
	p := newTestProvider(t, adapter)
	local := peer.Identity{ID: "0123456789abcdef", DisplayName: "alice"}
	descriptor := discovery.FormatServiceDescriptor("example-service")

	handle, err := p.Advertise(local, descriptor)
	require.NoError(t, err)
	require.NotZero(t, p.Port())

	adapter.mu.Lock()
	require.Len(t, adapter.announced, 1)
	info := adapter.announced[0]
	adapter.mu.Unlock()

	assert.Equal(t, "alice-01234567", info.Name)
	assert.Equal(t, "_iroh-example-se._tcp", info.Type)
	assert.Equal(t, discovery.DefaultDomain, info.Domain)
	assert.Equal(t, p.Port(), info.Port)
	assert.Equal(t, "0123456789abcdef", info.Text[discovery.TextKeyPeerID])
	assert.Equal(t, "alice", info.Text[discovery.TextKeyName])

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(p.Port())))
	require.NoError(t, err, "signaling server should be listening")
	conn.Close()

	assert.NoError(t, handle.Stop())
	assert.NoError(t, handle.Stop())
}

func TestAdvertise_PlatformUnavailable(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.announceErr = assert.AnError
	p := newTestProvider(t, adapter)

	_, err := p.Advertise(peer.Identity{ID: "a"}, "iroh-x")
	assert.ErrorIs(t, err, transport.ErrPlatformUnavailable)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestBrowse_ReportsPeers(t *testing.T) {
	adapter := newFakeAdapter()
	p := newTestProvider(t, adapter)
	rec := newEventRecorder()
	p.OnEvent(rec.handle)

	local := peer.Identity{ID: "local", DisplayName: "me"}
	handle, err := p.Browse(local, "iroh-example-se")
	require.NoError(t, err)
	defer handle.Stop()

	service := func(id string, kind discovery.EventKind) discovery.DiscoveryResult {
		return discovery.DiscoveryResult{Kind: kind, Service: discovery.ServiceInfo{
			Name: id, Addr: net.ParseIP("192.168.1.20"), Port: 4242,
			Text: map[string]string{discovery.TextKeyPeerID: id, discovery.TextKeyName: "name-" + id},
		}}
	}

	adapter.results <- service("local", discovery.ServiceFound)
	adapter.results <- discovery.DiscoveryResult{Kind: discovery.ServiceFound, Service: discovery.ServiceInfo{Name: "anonymous"}}
	adapter.results <- service("remote", discovery.ServiceFound)
	adapter.results <- service("remote", discovery.ServiceLost)

	rec.waitFor(t, 2*time.Second, func(ev transport.Event) bool {
		_, ok := ev.(transport.PeerLost)
		return ok
	})

	events := rec.snapshot()
	require.Len(t, events, 2)
	found, ok := events[0].(transport.PeerDiscovered)
	require.True(t, ok)
	assert.Equal(t, peer.Identity{ID: "remote", DisplayName: "name-remote"}, found.Peer)

	p.mu.RLock()
	assert.Equal(t, "192.168.1.20:4242", p.addrs["remote"])
	p.mu.RUnlock()

	adapter.mu.Lock()
	assert.Equal(t, []string{"_iroh-example-se._tcp.local."}, adapter.browsed)
	adapter.mu.Unlock()
}

func TestEventQueuesRetireWhenIdle(t *testing.T) {
	adapter := newFakeAdapter()
	p := newTestProvider(t, adapter)
	rec := newEventRecorder()
	p.OnEvent(rec.handle)

	handle, err := p.Browse(peer.Identity{ID: "local"}, "iroh-example-se")
	require.NoError(t, err)
	defer handle.Stop()

	for i := range 5 {
		id := "remote-" + strconv.Itoa(i)
		adapter.results <- discovery.DiscoveryResult{Kind: discovery.ServiceFound, Service: discovery.ServiceInfo{
			Name: id, Addr: net.ParseIP("192.168.1.20"), Port: 4242,
			Text: map[string]string{discovery.TextKeyPeerID: id},
		}}
	}
	rec.waitFor(t, 2*time.Second, func(transport.Event) bool {
		return len(rec.snapshot()) == 5
	})

	assert.Eventually(t, func() bool {
		p.mu.RLock()
		defer p.mu.RUnlock()
		return len(p.queues) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConnect_Errors(t *testing.T) {
	p := newTestProvider(t, newFakeAdapter())
	local := peer.Identity{ID: "local"}

	err := p.Connect(context.Background(), local, peer.Identity{ID: "stranger"})
	assert.ErrorIs(t, err, ErrUnknownAddress)

	p.rememberAddr("known", "127.0.0.1:1")
	err = p.Connect(context.Background(), local, peer.Identity{ID: "known"})
	assert.ErrorIs(t, err, ErrNotAdvertising)

	require.NoError(t, p.Close())
	err = p.Connect(context.Background(), local, peer.Identity{ID: "known"})
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestTransmit_NotConnected(t *testing.T) {
	p := newTestProvider(t, newFakeAdapter())
	session := p.Session(peer.Identity{ID: "local"})

	err := session.Transmit([]byte("x"), []peer.Identity{{ID: "peer-one"}, {ID: "peer-two"}}, transport.Reliable)
	assert.ErrorIs(t, err, transport.ErrPeerNotConnected)
	assert.Contains(t, err.Error(), "peer-one")
	assert.Contains(t, err.Error(), "peer-two")

	assert.NoError(t, session.Transmit([]byte("x"), nil, transport.Reliable))

	require.NoError(t, p.Close())
	assert.ErrorIs(t, session.Transmit([]byte("x"), nil, transport.Reliable), transport.ErrClosed)
}

func TestClose_StopsEvents(t *testing.T) {
	adapter := newFakeAdapter()
	p := newTestProvider(t, adapter)
	rec := newEventRecorder()
	p.OnEvent(rec.handle)

	_, err := p.Browse(peer.Identity{ID: "local"}, "iroh-x")
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	p.publish("late", transport.PeerLost{Peer: peer.Identity{ID: "late"}})
	assert.Empty(t, rec.snapshot())

	_, err = p.Advertise(peer.Identity{ID: "local"}, "iroh-x")
	assert.ErrorIs(t, err, transport.ErrClosed)
}

// TestTwoPeersExchangeMessages runs a real WebRTC handshake between two
// providers over the HTTP signaling API.
func TestTwoPeersExchangeMessages(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping WebRTC handshake in short mode")
	}

	descriptor := discovery.FormatServiceDescriptor("example-service")
	alice := peer.Identity{ID: "alice-id", DisplayName: "alice"}
	bob := peer.Identity{ID: "bob-id", DisplayName: "bob"}

	pa := newTestProvider(t, newFakeAdapter())
	pb := newTestProvider(t, newFakeAdapter())
	recA, recB := newEventRecorder(), newEventRecorder()
	pa.OnEvent(recA.handle)
	pb.OnEvent(recB.handle)
	sessionA := pa.Session(alice)
	sessionB := pb.Session(bob)

	_, err := pa.Advertise(alice, descriptor)
	require.NoError(t, err)
	_, err = pb.Advertise(bob, descriptor)
	require.NoError(t, err)
	pa.rememberAddr(bob.ID, net.JoinHostPort("127.0.0.1", strconv.Itoa(pb.Port())))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(t, pa.Connect(ctx, alice, bob))

	connected := func(who peer.ID) func(transport.Event) bool {
		return func(ev transport.Event) bool {
			sc, ok := ev.(transport.PeerStateChanged)
			return ok && sc.Peer.ID == who && sc.State == peer.Connected
		}
	}
	recA.waitFor(t, 15*time.Second, connected(bob.ID))
	recB.waitFor(t, 15*time.Second, connected(alice.ID))

	require.NoError(t, sessionA.Transmit([]byte("hello bob"), []peer.Identity{bob}, transport.Reliable))
	ev := recB.waitFor(t, 5*time.Second, func(ev transport.Event) bool {
		_, ok := ev.(transport.DataReceived)
		return ok
	})
	data := ev.(transport.DataReceived)
	assert.Equal(t, "hello bob", string(data.Data))
	assert.Equal(t, alice.ID, data.Peer.ID)
	assert.Equal(t, transport.Reliable, data.Mode)

	require.NoError(t, sessionB.Transmit([]byte("hi alice"), []peer.Identity{alice}, transport.Unreliable))
	ev = recA.waitFor(t, 5*time.Second, func(ev transport.Event) bool {
		_, ok := ev.(transport.DataReceived)
		return ok
	})
	assert.Equal(t, "hi alice", string(ev.(transport.DataReceived).Data))

	// Closing one side is reported as NotConnected on the other.
	require.NoError(t, pa.Close())
	recB.waitFor(t, 30*time.Second, func(ev transport.Event) bool {
		sc, ok := ev.(transport.PeerStateChanged)
		return ok && sc.Peer.ID == alice.ID && sc.State == peer.NotConnected
	})
}
