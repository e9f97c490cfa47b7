package concurrency

import (
	"errors"
	"sync"
)

var ErrBusy = errors.New("operation already in progress")

// KeyedGuard allows at most one task per key to run at a time. Tasks for
// different keys run concurrently.
type KeyedGuard struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

func NewKeyedGuard() *KeyedGuard {
	return &KeyedGuard{busy: make(map[string]struct{})}
}

// Execute runs task unless another task holds key, in which case it
// returns ErrBusy without running it.
func (g *KeyedGuard) Execute(key string, task func() error) error {
	g.mu.Lock()
	if _, isBusy := g.busy[key]; isBusy {
		g.mu.Unlock()
		return ErrBusy
	}
	g.busy[key] = struct{}{}
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.busy, key)
		g.mu.Unlock()
	}()
	return task()
}

// Busy reports whether a task currently holds key.
func (g *KeyedGuard) Busy(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, isBusy := g.busy[key]
	return isBusy
}
