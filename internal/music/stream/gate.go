package stream

import (
	"context"
	"sync"
)

// Gate blocks the pipeline while paused.
type Gate struct {
	mu      sync.Mutex
	paused  bool
	resumed chan struct{}
}

// Pause closes the gate and reports whether it was open.
func (g *Gate) Pause() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return false
	}
	g.paused = true
	g.resumed = make(chan struct{})
	return true
}

// Resume opens the gate and reports whether it was closed.
func (g *Gate) Resume() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return false
	}
	g.paused = false
	close(g.resumed)
	return true
}

// Paused reports the gate state.
func (g *Gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Wait returns immediately when open, otherwise when resumed or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	if !g.paused {
		g.mu.Unlock()
		return nil
	}
	ch := g.resumed
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
