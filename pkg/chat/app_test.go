package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appevents "github.com/rescp17/nearby/internal/app_events"
	chatEvent "github.com/rescp17/nearby/internal/app_events/chat"
	"github.com/rescp17/nearby/pkg/discovery"
	"github.com/rescp17/nearby/pkg/peer"
	"github.com/rescp17/nearby/pkg/session"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type sent struct {
	data     []byte
	reliable bool
}

// mockSession records sends and exposes the handlers it was started with.
type mockSession struct {
	mu       sync.Mutex
	handlers session.Handlers
	peers    []peer.Identity
	sends    []sent
	sendErr  error
	shutdown int
}

func (m *mockSession) SendToAll(data []byte, reliable bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sends = append(m.sends, sent{data: data, reliable: reliable})
	return nil
}

func (m *mockSession) ConnectedPeers() []peer.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]peer.Identity(nil), m.peers...)
}

func (m *mockSession) Local() peer.Identity {
	return peer.Identity{ID: "local-id", DisplayName: "me"}
}

func (m *mockSession) Descriptor() discovery.ServiceDescriptor {
	return discovery.FormatServiceDescriptor("example-service")
}

func (m *mockSession) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown++
	return nil
}

func (m *mockSession) recorded() []sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sent(nil), m.sends...)
}

func startApp(t *testing.T, sess *mockSession, reliable bool) (*App, context.CancelFunc, <-chan error) {
	t.Helper()
	ready := make(chan struct{})
	app := NewApp(func(h session.Handlers) (Session, error) {
		sess.mu.Lock()
		sess.handlers = h
		sess.mu.Unlock()
		close(ready)
		return sess, nil
	}, reliable, quietLogger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("session was not started")
	}
	msg := nextMsg(t, app)
	started, ok := msg.(chatEvent.SessionStartedMsg)
	require.True(t, ok, "first message should be SessionStartedMsg, got %T", msg)
	assert.Equal(t, "iroh-example-se", started.Service)
	return app, cancel, done
}

func nextMsg(t *testing.T, app *App) tea.Msg {
	t.Helper()
	select {
	case msg := <-app.UIMessages():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no UI message")
		return nil
	}
}

func TestApp_ForwardsSessionCallbacks(t *testing.T) {
	sess := &mockSession{}
	app, cancel, done := startApp(t, sess, true)
	defer cancel()

	bob := peer.Identity{ID: "bob-id", DisplayName: "bob"}
	sess.handlers.OnPeerJoined(bob)
	sess.handlers.OnData([]byte("hello"), bob)
	sess.handlers.OnPeerLeft(bob)

	joined, ok := nextMsg(t, app).(chatEvent.PeerJoinedMsg)
	require.True(t, ok)
	assert.Equal(t, bob, joined.Peer)

	received, ok := nextMsg(t, app).(chatEvent.MessageReceivedMsg)
	require.True(t, ok)
	assert.Equal(t, "hello", received.Message.Text)
	assert.Equal(t, bob, received.Message.From)
	assert.False(t, received.Message.Local)

	left, ok := nextMsg(t, app).(chatEvent.PeerLeftMsg)
	require.True(t, ok)
	assert.Equal(t, bob, left.Peer)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, sess.shutdown)
}

func TestApp_SendMessage(t *testing.T) {
	sess := &mockSession{peers: []peer.Identity{{ID: "bob-id"}, {ID: "carol-id"}}}
	app, cancel, done := startApp(t, sess, true)
	defer cancel()

	app.AppEvents() <- chatEvent.SendMessageEvent{Text: "  hi all  "}
	msg, ok := nextMsg(t, app).(chatEvent.MessageSentMsg)
	require.True(t, ok)
	assert.Equal(t, "hi all", msg.Message.Text)
	assert.True(t, msg.Message.Local)
	assert.True(t, msg.Message.Reliable)
	assert.Equal(t, 2, msg.Recipients)

	// Blank input is not sent.
	app.AppEvents() <- chatEvent.SendMessageEvent{Text: "   "}

	app.AppEvents() <- chatEvent.ToggleReliabilityEvent{}
	toggled, ok := nextMsg(t, app).(chatEvent.ReliabilityChangedMsg)
	require.True(t, ok)
	assert.False(t, toggled.Reliable)

	app.AppEvents() <- chatEvent.SendMessageEvent{Text: "fast"}
	_, ok = nextMsg(t, app).(chatEvent.MessageSentMsg)
	require.True(t, ok)

	got := sess.recorded()
	require.Len(t, got, 2)
	assert.Equal(t, sent{data: []byte("hi all"), reliable: true}, got[0])
	assert.Equal(t, sent{data: []byte("fast"), reliable: false}, got[1])

	cancel()
	require.NoError(t, <-done)
}

func TestApp_SendFailureReported(t *testing.T) {
	sess := &mockSession{sendErr: session.ErrSendFailed}
	app, cancel, _ := startApp(t, sess, true)
	defer cancel()

	app.AppEvents() <- chatEvent.SendMessageEvent{Text: "hello"}
	msg, ok := nextMsg(t, app).(appevents.AppErrorMsg)
	require.True(t, ok)
	assert.ErrorIs(t, msg.Err, session.ErrSendFailed)
}

func TestApp_StartFailure(t *testing.T) {
	app := NewApp(func(session.Handlers) (Session, error) {
		return nil, session.ErrConstructionFailed
	}, true, quietLogger)

	err := app.Run(context.Background())
	assert.ErrorIs(t, err, session.ErrConstructionFailed)

	msg, ok := (<-app.UIMessages()).(appevents.AppErrorMsg)
	require.True(t, ok)
	assert.True(t, errors.Is(msg.Err, session.ErrConstructionFailed))
}

func TestApp_HandlersNeverBlock(t *testing.T) {
	sess := &mockSession{}
	app, cancel, _ := startApp(t, sess, true)
	defer cancel()

	bob := peer.Identity{ID: "bob-id"}
	done := make(chan struct{})
	go func() {
		for i := 0; i < uiBufferSize*2; i++ {
			sess.handlers.OnData([]byte("spam"), bob)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler blocked on a full UI channel")
	}
	assert.Equal(t, int64(uiBufferSize), app.Dropped())
}

func TestDescribePayload(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"text", []byte("hello"), "hello"},
		{"unicode", []byte("héllo 世界"), "héllo 世界"},
		{"empty", nil, ""},
		{"png", png, "[image/png, 16 B]"},
		{"binary", []byte{0xde, 0xad, 0x00, 0xef}, "[application/octet-stream, 4 B]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DescribePayload(tt.data))
		})
	}
}
