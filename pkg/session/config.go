package session

import (
	"errors"
	"fmt"
	"time"

	webrtcPkg "github.com/rescp17/nearby/pkg/webrtc"
)

const (
	// DefaultMaxPeers matches the largest group the browser invites into one
	// session.
	DefaultMaxPeers          = 8
	DefaultConnectTimeout    = 15 * time.Second
	DefaultReconnectDelay    = time.Second
	DefaultMaxReconnectDelay = 30 * time.Second
)

// Config holds the session manager settings.
type Config struct {
	// DisplayName is the informational name announced for the local peer.
	// Empty means the host name.
	DisplayName string `json:"display_name"`

	// RetainDisconnected keeps registry entries for peers that left so they
	// rejoin without identity loss.
	RetainDisconnected bool `json:"retain_disconnected"`

	// AutoConnect invites discovered peers into the session.
	AutoConnect bool `json:"auto_connect"`

	// MaxPeers caps how many connected peers auto-connect will reach for.
	MaxPeers int `json:"max_peers"`

	// ConnectTimeout bounds a single outbound invitation.
	ConnectTimeout time.Duration `json:"connect_timeout"`

	// ReconnectDelay is the wait before re-inviting a peer after a failed
	// invitation. It doubles per failure up to MaxReconnectDelay.
	ReconnectDelay    time.Duration `json:"reconnect_delay"`
	MaxReconnectDelay time.Duration `json:"max_reconnect_delay"`

	// Transport configures the default WebRTC provider. Ignored when a
	// provider is supplied with WithProvider.
	Transport *webrtcPkg.Config `json:"transport"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		RetainDisconnected: true,
		AutoConnect:        true,
		MaxPeers:           DefaultMaxPeers,
		ConnectTimeout:     DefaultConnectTimeout,
		ReconnectDelay:     DefaultReconnectDelay,
		MaxReconnectDelay:  DefaultMaxReconnectDelay,
		Transport:          webrtcPkg.DefaultConfig(),
	}
}

// Validate checks if the configuration values are valid
func (c *Config) Validate() error {
	if c.MaxPeers <= 0 {
		return errors.New("max_peers must be positive")
	}
	if c.ConnectTimeout <= 0 {
		return errors.New("connect_timeout must be positive")
	}
	if c.ReconnectDelay <= 0 {
		return errors.New("reconnect_delay must be positive")
	}
	if c.MaxReconnectDelay < c.ReconnectDelay {
		return errors.New("max_reconnect_delay must not be below reconnect_delay")
	}
	if c.Transport != nil {
		if err := c.Transport.Validate(); err != nil {
			return fmt.Errorf("transport: %w", err)
		}
	}
	return nil
}
