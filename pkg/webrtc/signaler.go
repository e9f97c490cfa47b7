package webrtc

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/rescp17/nearby/pkg/peer"
)

// Signaler decouples the WebRTC logic from the signaling transport. It
// delivers a complete offer to the peer listening at addr and returns its
// complete answer; no candidates are trickled.
type Signaler interface {
	SendOffer(ctx context.Context, addr string, from peer.Identity, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
}
