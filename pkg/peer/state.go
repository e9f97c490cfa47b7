package peer

// State is the connection state of a remote peer.
type State int

const (
	NotConnected State = iota
	Connecting
	Connected
)

// String returns a string representation of State
func (s State) String() string {
	switch s {
	case NotConnected:
		return "not_connected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	return s >= NotConnected && s <= Connected
}
