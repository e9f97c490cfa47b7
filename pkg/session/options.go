package session

import (
	"log/slog"

	"github.com/rescp17/nearby/pkg/transport"
)

// Option customises a Manager.
type Option func(*options)

type options struct {
	config   *Config
	provider transport.Provider
	logger   *slog.Logger
}

// WithConfig replaces DefaultConfig.
func WithConfig(cfg *Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithProvider supplies the transport instead of the default WebRTC one.
// The manager takes ownership and closes it on Shutdown.
func WithProvider(p transport.Provider) Option {
	return func(o *options) {
		o.provider = p
	}
}

// WithLogger sets the logger for the manager and the default provider.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
