package ui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	appevents "github.com/rescp17/nearby/internal/app_events"
	chatEvent "github.com/rescp17/nearby/internal/app_events/chat"
	"github.com/rescp17/nearby/internal/style"
	"github.com/rescp17/nearby/internal/util"
	"github.com/rescp17/nearby/pkg/peer"
)

const (
	peerPaneWidth = 24
	nameWidth     = 12
	timeFormat    = "15:04"
)

// AppController is what the TUI needs from the logic controller.
type AppController interface {
	Run(ctx context.Context) error
	UIMessages() <-chan tea.Msg
	AppEvents() chan<- appevents.AppEvent
}

type KeyMap struct {
	Send   key.Binding
	Toggle key.Binding
	Quit   key.Binding
}

// DefaultKeyMap provides sensible default keybindings.
var DefaultKeyMap = KeyMap{
	Send:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
	Toggle: key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "toggle reliable")),
	Quit:   key.NewBinding(key.WithKeys("ctrl+c", "esc"), key.WithHelp("esc", "quit")),
}

type appStoppedMsg struct {
	err error
}

type model struct {
	app    AppController
	ctx    context.Context
	cancel context.CancelFunc
	keys   KeyMap

	spinner  spinner.Model
	input    textinput.Model
	viewport viewport.Model

	started  bool
	local    peer.Identity
	service  string
	reliable bool
	peers    []peer.Identity
	lines    []string
	err      error

	width  int
	height int
}

// InitialModel builds the chat model around app. reliable must match the
// mode the app was created with.
func InitialModel(app AppController, reliable bool) model {
	ctx, cancel := context.WithCancel(context.Background())

	input := textinput.New()
	input.Placeholder = "Say something to everyone nearby..."
	input.Prompt = "> "
	input.CharLimit = 1024
	input.Focus()

	return model{
		app:      app,
		ctx:      ctx,
		cancel:   cancel,
		keys:     DefaultKeyMap,
		spinner:  style.NewSpinner(),
		input:    input,
		viewport: viewport.New(60, 15),
		reliable: reliable,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.runApp(), m.spinner.Tick, textinput.Blink, m.listenForAppMessages())
}

func (m model) runApp() tea.Cmd {
	return func() tea.Msg {
		return appStoppedMsg{err: m.app.Run(m.ctx)}
	}
}

// listenForAppMessages is a command that listens for messages from the app controller.
func (m model) listenForAppMessages() tea.Cmd {
	return func() tea.Msg {
		return <-m.app.UIMessages()
	}
}

func (m model) sendEvent(ev appevents.AppEvent) tea.Cmd {
	return func() tea.Msg {
		select {
		case m.app.AppEvents() <- ev:
		case <-m.ctx.Done():
		}
		return nil
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if cmd, processed := m.handleAppMessage(msg); processed {
		return m, cmd
	}

	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = max(msg.Width-peerPaneWidth-4, 20)
		m.viewport.Height = max(msg.Height-6, 3)
		m.input.Width = max(msg.Width-4, 10)
		m.refreshLog()
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.cancel()
			return m, tea.Quit
		case key.Matches(msg, m.keys.Toggle):
			return m, m.sendEvent(chatEvent.ToggleReliabilityEvent{})
		case key.Matches(msg, m.keys.Send):
			text := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if text == "" || !m.started {
				return m, nil
			}
			return m, m.sendEvent(chatEvent.SendMessageEvent{Text: text})
		}
	case appStoppedMsg:
		if msg.err != nil {
			m.err = msg.err
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	if !m.started {
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m *model) handleAppMessage(msg tea.Msg) (tea.Cmd, bool) {
	switch msg := msg.(type) {
	case chatEvent.SessionStartedMsg:
		m.started = true
		m.local = msg.Local
		m.service = msg.Service
		m.appendSystem(fmt.Sprintf("Looking for peers on %s as %s", msg.Service, msg.Local.String()))
	case chatEvent.PeerJoinedMsg:
		m.addPeer(msg.Peer)
		m.appendSystem(msg.Peer.String() + " joined")
	case chatEvent.PeerLeftMsg:
		m.removePeer(msg.Peer)
		m.appendSystem(msg.Peer.String() + " left")
	case chatEvent.MessageReceivedMsg:
		m.appendMessage(msg.Message)
	case chatEvent.MessageSentMsg:
		m.appendMessage(msg.Message)
		if msg.Recipients == 0 {
			m.appendSystem("Nobody is connected yet, message not delivered")
		}
	case chatEvent.ReliabilityChangedMsg:
		m.reliable = msg.Reliable
		m.appendSystem("Delivery mode: " + modeName(msg.Reliable))
	case appevents.AppErrorMsg:
		slog.Error("App error", "error", msg.Err)
		m.err = msg.Err
	default:
		return nil, false
	}
	return m.listenForAppMessages(), true
}

func (m *model) addPeer(p peer.Identity) {
	for _, existing := range m.peers {
		if existing.Equal(p) {
			return
		}
	}
	m.peers = append(m.peers, p)
}

func (m *model) removePeer(p peer.Identity) {
	for i, existing := range m.peers {
		if existing.Equal(p) {
			m.peers = append(m.peers[:i], m.peers[i+1:]...)
			return
		}
	}
}

func (m *model) appendMessage(msg chatEvent.Message) {
	name := util.PadRight(msg.From.DisplayName, nameWidth)
	if msg.Local {
		name = style.SelfNameStyle.Render(name)
	} else {
		name = style.PeerNameStyle.Render(name)
	}
	m.appendLine(fmt.Sprintf("%s %s %s", style.TimeStyle.Render(msg.At.Format(timeFormat)), name, msg.Text))
}

func (m *model) appendSystem(text string) {
	m.appendLine(style.SystemStyle.Render("-- " + text))
}

func (m *model) appendLine(line string) {
	m.lines = append(m.lines, line)
	m.refreshLog()
}

func (m *model) refreshLog() {
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

func (m model) View() string {
	if m.err != nil && !m.started {
		return style.ErrorStyle.Render(fmt.Sprintf("\nCould not start session: %v", m.err)) + "\n\nPress esc to quit\n"
	}
	if !m.started {
		return fmt.Sprintf("\n%s Starting session...\n", m.spinner.View())
	}

	header := style.TitleStyle.Render("nearby") + " " +
		style.HelpStyle.Render(fmt.Sprintf("%s • %s • ", m.local.String(), m.service)) +
		style.HighlightFontStyle.Render(modeName(m.reliable))

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		style.BaseStyle.Render(m.peerPane()),
		style.BaseStyle.Render(m.viewport.View()),
	)

	var b strings.Builder
	b.WriteString(header + "\n")
	b.WriteString(body + "\n")
	b.WriteString(m.input.View() + "\n")
	if m.err != nil {
		b.WriteString(style.ErrorStyle.Render(m.err.Error()) + "\n")
	}
	b.WriteString(style.HelpStyle.Render(m.helpLine()))
	return b.String()
}

func (m model) peerPane() string {
	lines := []string{style.PaneTitleStyle.Render(fmt.Sprintf("Peers (%d)", len(m.peers)))}
	if len(m.peers) == 0 {
		lines = append(lines, style.HelpStyle.Render(util.PadRight(" none yet", peerPaneWidth)))
	}
	for _, p := range m.peers {
		name := p.DisplayName
		if name == "" {
			name = p.ShortID()
		}
		lines = append(lines, style.OnlineStyle.String()+style.PeerStyle.Render(util.PadRight(name, peerPaneWidth-2)))
	}
	for len(lines) < m.viewport.Height {
		lines = append(lines, strings.Repeat(" ", peerPaneWidth))
	}
	return strings.Join(lines, "\n")
}

func (m model) helpLine() string {
	bindings := []key.Binding{m.keys.Send, m.keys.Toggle, m.keys.Quit}
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return strings.Join(parts, " • ")
}

func modeName(reliable bool) string {
	if reliable {
		return "reliable"
	}
	return "unreliable"
}
