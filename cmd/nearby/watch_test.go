package main

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rescp17/nearby/pkg/peer"
)

type sent struct {
	data     string
	targets  []peer.Identity
	reliable bool
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (r *recordingSender) Send(data []byte, targets []peer.Identity, reliable bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{data: string(data), targets: targets, reliable: reliable})
	return r.err
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestGreeter_GreetsPeersJoinedBeforeAttach(t *testing.T) {
	g := &greeter{text: "Hello!", log: discardLogger}
	alice := peer.Identity{ID: "alice-id", DisplayName: "alice"}
	bob := peer.Identity{ID: "bob-id", DisplayName: "bob"}

	g.joined(alice)

	s := &recordingSender{}
	g.attach(s)
	g.joined(bob)

	assert.Equal(t, []sent{
		{data: "Hello!", targets: []peer.Identity{alice}, reliable: true},
		{data: "Hello!", targets: []peer.Identity{bob}, reliable: true},
	}, s.sent)
}

func TestGreeter_NoGreeting(t *testing.T) {
	g := &greeter{log: discardLogger}
	g.joined(peer.Identity{ID: "alice-id"})

	s := &recordingSender{}
	g.attach(s)
	g.joined(peer.Identity{ID: "bob-id"})
	assert.Empty(t, s.sent)
}

func TestGreeter_SendFailureIsLogged(t *testing.T) {
	g := &greeter{text: "Hello!", log: discardLogger}
	s := &recordingSender{err: errors.New("boom")}
	g.attach(s)

	assert.NotPanics(t, func() { g.joined(peer.Identity{ID: "alice-id"}) })
	assert.Len(t, s.sent, 1)
}
