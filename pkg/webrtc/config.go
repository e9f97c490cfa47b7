package webrtc

import (
	"errors"
	"net"
	"time"
)

const (
	// MTU is the receive MTU handed to the SCTP transport.
	MTU uint = 1400

	DefaultListenAddr       = ":0"
	DefaultHandshakeTimeout = 20 * time.Second
)

// Config holds the WebRTC provider settings.
type Config struct {
	// ListenAddr is where the signaling HTTP server listens. Port 0 picks a
	// free port, which is then advertised over mDNS.
	ListenAddr string `json:"listen_addr"`

	// ICEServers are STUN/TURN URLs. Peers on the same link need none.
	ICEServers []string `json:"ice_servers"`

	// MDNSCandidates hides host addresses behind .local names in ICE
	// candidates.
	MDNSCandidates bool `json:"mdns_candidates"`

	// HandshakeTimeout bounds gathering, signaling and channel setup for one
	// peer connection.
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:       DefaultListenAddr,
		MDNSCandidates:   true,
		HandshakeTimeout: DefaultHandshakeTimeout,
	}
}

// Validate checks if the configuration values are valid
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return errors.New("listen_addr must be host:port")
	}
	if c.HandshakeTimeout <= 0 {
		return errors.New("handshake_timeout must be positive")
	}
	for _, url := range c.ICEServers {
		if url == "" {
			return errors.New("ice_servers must not contain empty URLs")
		}
	}
	return nil
}
