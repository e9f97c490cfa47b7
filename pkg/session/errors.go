package session

import "errors"

var (
	// ErrConstructionFailed is returned by New when the transport could not
	// start advertising or browsing. The cause is wrapped alongside it.
	ErrConstructionFailed = errors.New("session construction failed")

	// ErrSessionNotEstablished is returned by Send before a successful New
	// or after Shutdown.
	ErrSessionNotEstablished = errors.New("session not established")

	// ErrSendFailed is returned when the transport rejects a transmission.
	// It applies to the whole Send call; the transport cannot tell which
	// recipients failed.
	ErrSendFailed = errors.New("send failed")
)
