package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/rescp17/nearby/pkg/concurrency"
	"github.com/rescp17/nearby/pkg/peer"
)

// OfferHandler turns a remote offer into a local answer.
type OfferHandler interface {
	HandleOffer(ctx context.Context, from peer.Identity, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
}

// Server answers /connect requests for one service descriptor.
type Server struct {
	handler OfferHandler
	guard   *concurrency.KeyedGuard
	mux     *http.ServeMux
	log     *slog.Logger

	mu      sync.RWMutex
	service string
}

// NewServer creates a signaling server. It rejects every request until
// SetService is called.
func NewServer(handler OfferHandler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		handler: handler,
		guard:   concurrency.NewKeyedGuard(),
		mux:     http.NewServeMux(),
		log:     logger,
	}
	s.registerRoutes()
	return s
}

// SetService sets the descriptor callers must present.
func (s *Server) SetService(service string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.service = service
}

// ServeHTTP allows the Server to satisfy the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	connect := s.serviceMiddleware(s.concurrencyControlMiddleware(http.HandlerFunc(s.connectHandler)))
	s.mux.Handle("POST "+ConnectPath, connect)
}

func (s *Server) serviceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		service := s.service
		s.mu.RUnlock()

		if service == "" || r.Header.Get(ServiceHeader) != service {
			s.log.Warn("Rejected signaling request for another service",
				"remote", r.RemoteAddr,
				"service", r.Header.Get(ServiceHeader))
			writeError(w, http.StatusForbidden, "service mismatch")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// concurrencyControlMiddleware allows one offer per calling peer at a time.
func (s *Server) concurrencyControlMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peerID := r.Header.Get(PeerHeader)
		if peerID == "" {
			writeError(w, http.StatusBadRequest, "missing "+PeerHeader+" header")
			return
		}

		err := s.guard.Execute(peerID, func() error {
			next.ServeHTTP(w, r)
			return nil
		})
		if errors.Is(err, concurrency.ErrBusy) {
			s.log.Info("Request rejected, offer from this peer already in progress", "peer", peerID)
			writeError(w, http.StatusServiceUnavailable, concurrency.ErrBusy.Error())
		}
	})
}

func (s *Server) connectHandler(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.From.IsZero() || string(req.From.ID) != r.Header.Get(PeerHeader) {
		writeError(w, http.StatusBadRequest, "sender identity does not match "+PeerHeader)
		return
	}
	if req.Offer.Type != webrtc.SDPTypeOffer || req.Offer.SDP == "" {
		writeError(w, http.StatusBadRequest, "invalid offer")
		return
	}

	s.log.Debug("Offer received", "from", req.From.String())
	answer, err := s.handler.HandleOffer(r.Context(), req.From, req.Offer)
	if err != nil {
		s.log.Error("Failed to handle offer", "from", req.From.String(), "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, concurrency.ErrBusy) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(ConnectResponse{Answer: *answer}); err != nil {
		s.log.Error("Failed to write answer", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}
