package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/rescp17/nearby/pkg/concurrency"
	"github.com/rescp17/nearby/pkg/peer"
)

const DefaultClientTimeout = 30 * time.Second

// ErrRejected is returned when the remote peer refuses the offer.
var ErrRejected = errors.New("offer rejected by remote peer")

// headerInjector is a custom http.RoundTripper that stamps every request
// with the service descriptor and the caller's peer ID.
type headerInjector struct {
	service string
	peerID  peer.ID
	next    http.RoundTripper
}

func (t *headerInjector) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set(ServiceHeader, t.service)
	req.Header.Set(PeerHeader, string(t.peerID))
	return t.next.RoundTrip(req)
}

// Client is a stateless HTTP client for the /connect endpoint of other
// peers.
type Client struct {
	HTTPClient *http.Client
}

// NewClient creates a client that identifies itself as peerID within
// service.
func NewClient(service string, peerID peer.ID) *Client {
	return &Client{
		HTTPClient: &http.Client{
			Timeout: DefaultClientTimeout,
			Transport: &headerInjector{
				service: service,
				peerID:  peerID,
				next:    http.DefaultTransport,
			},
		},
	}
}

// SendOffer posts offer to the peer listening at addr (host:port) and
// returns its answer.
func (c *Client) SendOffer(ctx context.Context, addr string, from peer.Identity, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	body, err := json.Marshal(ConnectRequest{From: from, Offer: offer})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal connect request: %w", err)
	}

	endpoint := (&url.URL{Scheme: "http", Host: addr, Path: ConnectPath}).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create connect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	var out ConnectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode answer: %w", err)
	}
	if out.Answer.Type != webrtc.SDPTypeAnswer {
		return nil, fmt.Errorf("unexpected description type %q in answer", out.Answer.Type.String())
	}
	return &out.Answer, nil
}

func responseError(resp *http.Response) error {
	var body errorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = string(bytes.TrimSpace(raw))
	}

	switch resp.StatusCode {
	case http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", concurrency.ErrBusy, body.Error)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrRejected, body.Error)
	default:
		return fmt.Errorf("connect responded with %s: %s", resp.Status, body.Error)
	}
}
