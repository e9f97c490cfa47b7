// Package api is the HTTP signaling surface peers use to exchange a
// complete WebRTC offer and answer.
package api

import (
	"github.com/pion/webrtc/v4"

	"github.com/rescp17/nearby/pkg/peer"
)

const (
	ServiceHeader = "X-Nearby-Service"
	PeerHeader    = "X-Nearby-Peer"

	ConnectPath = "/connect"
)

// ConnectRequest is the body of POST /connect.
type ConnectRequest struct {
	From  peer.Identity             `json:"from"`
	Offer webrtc.SessionDescription `json:"offer"`
}

// ConnectResponse carries the answer to a ConnectRequest.
type ConnectResponse struct {
	Answer webrtc.SessionDescription `json:"answer"`
}

type errorResponse struct {
	Error string `json:"error"`
}
