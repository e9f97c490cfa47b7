package peer

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// ID is the opaque identifier of a peer. Two identities with the same ID
// denote the same peer.
type ID string

// Identity identifies a local or remote peer. DisplayName is informational
// only and may collide between peers.
type Identity struct {
	ID          ID     `json:"id"`
	DisplayName string `json:"display_name"`
}

// NewLocal creates a fresh identity for this process. An empty display
// name falls back to the host name.
func NewLocal(displayName string) Identity {
	if displayName == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "nearby-peer"
		}
		displayName = hostname
	}
	return Identity{
		ID:          ID(uuid.New().String()),
		DisplayName: displayName,
	}
}

// Equal reports whether both identities refer to the same peer.
func (i Identity) Equal(other Identity) bool {
	return i.ID == other.ID
}

// IsZero reports whether the identity carries no ID.
func (i Identity) IsZero() bool {
	return i.ID == ""
}

// ShortID returns the first eight characters of the ID, used in instance
// names and log lines.
func (i Identity) ShortID() string {
	id := string(i.ID)
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (i Identity) String() string {
	if i.DisplayName == "" {
		return string(i.ID)
	}
	return fmt.Sprintf("%s (%s)", i.DisplayName, i.ShortID())
}
