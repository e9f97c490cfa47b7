// Package chat is the logic controller behind the chat TUI. It owns the
// session and translates between session callbacks and UI messages.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gabriel-vasile/mimetype"

	appevents "github.com/rescp17/nearby/internal/app_events"
	chatEvent "github.com/rescp17/nearby/internal/app_events/chat"
	"github.com/rescp17/nearby/internal/util"
	"github.com/rescp17/nearby/pkg/discovery"
	"github.com/rescp17/nearby/pkg/peer"
	"github.com/rescp17/nearby/pkg/session"
)

const uiBufferSize = 64

// Session is the part of session.Manager the chat uses.
type Session interface {
	SendToAll(data []byte, reliable bool) error
	ConnectedPeers() []peer.Identity
	Local() peer.Identity
	Descriptor() discovery.ServiceDescriptor
	Shutdown() error
}

// Starter creates a session wired to handlers.
type Starter func(handlers session.Handlers) (Session, error)

// ManagerStarter starts a session.Manager for serviceName.
func ManagerStarter(serviceName string, opts ...session.Option) Starter {
	return func(handlers session.Handlers) (Session, error) {
		m, err := session.New(serviceName, handlers, opts...)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

// App is the main application logic controller for the chat.
type App struct {
	start      Starter
	reliable   bool
	log        *slog.Logger
	uiMessages chan tea.Msg            // App -> TUI
	appEvents  chan appevents.AppEvent // TUI -> App
	dropped    atomic.Int64
}

// NewApp creates a chat controller. reliable selects the initial delivery
// mode.
func NewApp(start Starter, reliable bool, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		start:      start,
		reliable:   reliable,
		log:        logger,
		uiMessages: make(chan tea.Msg, uiBufferSize),
		appEvents:  make(chan appevents.AppEvent),
	}
}

// UIMessages returns the channel for the UI to listen on for updates.
func (a *App) UIMessages() <-chan tea.Msg {
	return a.uiMessages
}

// AppEvents returns a write-only channel for the TUI to send events to the app.
func (a *App) AppEvents() chan<- appevents.AppEvent {
	return a.appEvents
}

// Dropped reports how many UI messages were discarded because the UI fell
// behind.
func (a *App) Dropped() int64 {
	return a.dropped.Load()
}

// Run starts the session and processes UI events until ctx is done.
func (a *App) Run(ctx context.Context) error {
	sess, err := a.start(a.handlers())
	if err != nil {
		a.sendAndLogError("Failed to start session", err)
		return err
	}
	defer func() {
		if err := sess.Shutdown(); err != nil {
			a.log.Warn("Session shutdown reported errors", "error", err)
		}
	}()

	a.post(chatEvent.SessionStartedMsg{Local: sess.Local(), Service: sess.Descriptor().String()})

	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-a.appEvents:
			switch e := event.(type) {
			case chatEvent.SendMessageEvent:
				a.send(sess, e.Text)
			case chatEvent.ToggleReliabilityEvent:
				a.reliable = !a.reliable
				a.post(chatEvent.ReliabilityChangedMsg{Reliable: a.reliable})
			}
		}
	}
}

func (a *App) send(sess Session, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	recipients := len(sess.ConnectedPeers())
	if err := sess.SendToAll([]byte(text), a.reliable); err != nil {
		a.sendAndLogError("Failed to send message", err)
		return
	}
	a.post(chatEvent.MessageSentMsg{
		Message: chatEvent.Message{
			From:     sess.Local(),
			Text:     text,
			At:       time.Now(),
			Local:    true,
			Reliable: a.reliable,
		},
		Recipients: recipients,
	})
}

// handlers only hand off to the UI channel; they never block.
func (a *App) handlers() session.Handlers {
	return session.Handlers{
		OnData: func(data []byte, from peer.Identity) {
			a.post(chatEvent.MessageReceivedMsg{Message: chatEvent.Message{
				From: from,
				Text: DescribePayload(data),
				At:   time.Now(),
			}})
		},
		OnPeerJoined: func(p peer.Identity) {
			a.log.Info("Peer joined", "peer", p.String())
			a.post(chatEvent.PeerJoinedMsg{Peer: p})
		},
		OnPeerLeft: func(p peer.Identity) {
			a.log.Info("Peer left", "peer", p.String())
			a.post(chatEvent.PeerLeftMsg{Peer: p})
		},
	}
}

func (a *App) post(msg tea.Msg) {
	select {
	case a.uiMessages <- msg:
	default:
		a.dropped.Add(1)
		a.log.Warn("UI is not keeping up, dropping message", "type", fmt.Sprintf("%T", msg))
	}
}

// sendAndLogError is a helper function to both log an error and send it to the UI.
func (a *App) sendAndLogError(baseMessage string, err error) {
	a.log.Error(baseMessage, "error", err)
	a.post(appevents.AppErrorMsg{Err: fmt.Errorf("%s: %w", baseMessage, err)})
}

// DescribePayload renders a received payload for display. Printable UTF-8
// is shown as is; anything else is summarised by detected type and size.
func DescribePayload(data []byte) string {
	if utf8.Valid(data) && printable(string(data)) {
		return string(data)
	}
	mime := mimetype.Detect(data)
	return fmt.Sprintf("[%s, %s]", mime.String(), util.FormatSize(int64(len(data))))
}

func printable(s string) bool {
	for _, r := range s {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}
