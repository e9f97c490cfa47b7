// Package registry holds the authoritative mapping from peers to their
// connection state.
package registry

import (
	"sort"
	"sync"

	"github.com/rescp17/nearby/pkg/peer"
)

// Transition describes the effect of applying a state to a peer.
type Transition struct {
	Peer peer.Identity
	From peer.State
	To   peer.State
}

// Changed reports whether the registry state was modified.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// Joined reports a transition into Connected.
func (t Transition) Joined() bool {
	return t.To == peer.Connected && t.From != peer.Connected
}

// Left reports a transition into NotConnected from Connected or Connecting.
func (t Transition) Left() bool {
	return t.To == peer.NotConnected && (t.From == peer.Connected || t.From == peer.Connecting)
}

// Entry is a point-in-time copy of a registry row.
type Entry struct {
	Peer  peer.Identity
	State peer.State
}

type entry struct {
	identity peer.Identity
	state    peer.State
	joinSeq  uint64
}

// Registry is safe for concurrent use. Every read and write takes the same
// lock; it is never held while calling out.
type Registry struct {
	mu      sync.RWMutex
	entries map[peer.ID]*entry
	seq     uint64
	// retain keeps disconnected peers so they reconnect without identity loss.
	retain bool
}

// New creates an empty registry. When retainDisconnected is false, a peer's
// entry is removed once it transitions to NotConnected.
func New(retainDisconnected bool) *Registry {
	return &Registry{
		entries: make(map[peer.ID]*entry),
		retain:  retainDisconnected,
	}
}

// Observe records a peer in NotConnected if it is unknown and reports
// whether an entry was created.
func (r *Registry) Observe(id peer.Identity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, exists := r.entries[id.ID]; exists {
		if id.DisplayName != "" {
			e.identity = id
		}
		return false
	}
	r.entries[id.ID] = &entry{identity: id, state: peer.NotConnected}
	return true
}

// Apply sets the state of a peer, creating the entry on first mention, and
// returns the resulting transition.
func (r *Registry) Apply(id peer.Identity, state peer.State) Transition {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[id.ID]
	if !exists {
		e = &entry{identity: id, state: peer.NotConnected}
		r.entries[id.ID] = e
	} else if id.DisplayName != "" {
		e.identity = id
	}

	t := Transition{Peer: e.identity, From: e.state, To: state}
	e.state = state
	if t.Joined() {
		r.seq++
		e.joinSeq = r.seq
	}
	if state == peer.NotConnected && !r.retain {
		delete(r.entries, id.ID)
	}
	return t
}

// State returns the current state of a peer and whether it is known.
func (r *Registry) State(id peer.ID) (peer.State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[id]
	if !exists {
		return peer.NotConnected, false
	}
	return e.state, true
}

// Connected returns the peers currently in Connected, in the order they
// joined.
func (r *Registry) Connected() []peer.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connected := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.state == peer.Connected {
			connected = append(connected, e)
		}
	}
	sort.Slice(connected, func(i, j int) bool {
		return connected[i].joinSeq < connected[j].joinSeq
	})

	peers := make([]peer.Identity, len(connected))
	for i, e := range connected {
		peers[i] = e.identity
	}
	return peers
}

// ConnectedCount returns the number of peers in Connected.
func (r *Registry) ConnectedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, e := range r.entries {
		if e.state == peer.Connected {
			count++
		}
	}
	return count
}

// FilterConnected returns the subset of targets that are Connected right
// now, without duplicates and in the caller's order.
func (r *Registry) FilterConnected(targets []peer.Identity) []peer.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[peer.ID]struct{}, len(targets))
	recipients := make([]peer.Identity, 0, len(targets))
	for _, target := range targets {
		if _, dup := seen[target.ID]; dup {
			continue
		}
		seen[target.ID] = struct{}{}
		if e, exists := r.entries[target.ID]; exists && e.state == peer.Connected {
			recipients = append(recipients, e.identity)
		}
	}
	return recipients
}

// Entries returns a copy of every row.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, Entry{Peer: e.identity, State: e.state})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Peer.ID < entries[j].Peer.ID
	})
	return entries
}

// Len returns the number of known peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
