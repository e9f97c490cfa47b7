package chat

import (
	"time"

	appevents "github.com/rescp17/nearby/internal/app_events"
	"github.com/rescp17/nearby/pkg/peer"
)

// --- App Events (from TUI to App) ---

// SendMessageEvent asks the app to send text to every connected peer.
type SendMessageEvent struct {
	appevents.Event
	Text string
}

// ToggleReliabilityEvent flips between reliable and unreliable delivery.
type ToggleReliabilityEvent struct {
	appevents.Event
}

var (
	_ appevents.AppEvent = (*SendMessageEvent)(nil)
	_ appevents.AppEvent = (*ToggleReliabilityEvent)(nil)
)

// --- UI Messages (from App to TUI) ---

// Message is one line of the chat log.
type Message struct {
	From     peer.Identity
	Text     string
	At       time.Time
	Local    bool
	Reliable bool
}

// SessionStartedMsg is sent once the session is advertising and browsing.
type SessionStartedMsg struct {
	appevents.UIMessage
	Local   peer.Identity
	Service string
}

type PeerJoinedMsg struct {
	appevents.UIMessage
	Peer peer.Identity
}

type PeerLeftMsg struct {
	appevents.UIMessage
	Peer peer.Identity
}

type MessageReceivedMsg struct {
	appevents.UIMessage
	Message Message
}

// MessageSentMsg echoes a local message. Recipients is how many peers were
// connected when it was sent.
type MessageSentMsg struct {
	appevents.UIMessage
	Message    Message
	Recipients int
}

// ReliabilityChangedMsg reports the delivery mode now used for sending.
type ReliabilityChangedMsg struct {
	appevents.UIMessage
	Reliable bool
}

var (
	_ appevents.AppUIMessage = (*SessionStartedMsg)(nil)
	_ appevents.AppUIMessage = (*PeerJoinedMsg)(nil)
	_ appevents.AppUIMessage = (*PeerLeftMsg)(nil)
	_ appevents.AppUIMessage = (*MessageReceivedMsg)(nil)
	_ appevents.AppUIMessage = (*MessageSentMsg)(nil)
	_ appevents.AppUIMessage = (*ReliabilityChangedMsg)(nil)
)
