// Package interrupt implements the per-guild cancellation signal raised by
// !interrupt and by idle teardown.
//
// A raised interrupt cancels every context obtained from Watch for that guild
// and clears itself after a grace window. Each guild has its own slot, so two
// guilds can be interrupting at the same time.
package interrupt

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrInterrupted is the cancellation cause of contexts cancelled by Raise.
var ErrInterrupted = errors.New("interrupted")

// DefaultGrace is how long a raised interrupt stays raised unless cleared.
const DefaultGrace = 5 * time.Second

type guildState struct {
	raised   bool
	gen      uint64
	timer    *time.Timer
	watchers map[uint64]context.CancelCauseFunc
}

// Controller tracks interrupt state for every guild. Safe for concurrent use.
type Controller struct {
	mu     sync.Mutex
	grace  time.Duration
	guilds map[string]*guildState
	nextID uint64
}

// New creates a Controller whose interrupts auto-clear after grace.
func New(grace time.Duration) *Controller {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Controller{
		grace:  grace,
		guilds: make(map[string]*guildState),
	}
}

func (c *Controller) state(guildID string) *guildState {
	st, ok := c.guilds[guildID]
	if !ok {
		st = &guildState{watchers: make(map[uint64]context.CancelCauseFunc)}
		c.guilds[guildID] = st
	}
	return st
}

// Raise marks guildID as interrupted and cancels its watched contexts.
// It returns false when the guild was already raised, in which case nothing
// changes and the original grace window keeps running.
func (c *Controller) Raise(guildID string) bool {
	c.mu.Lock()
	st := c.state(guildID)
	if st.raised {
		c.mu.Unlock()
		return false
	}

	st.raised = true
	st.gen++
	gen := st.gen
	st.timer = time.AfterFunc(c.grace, func() { c.expire(guildID, gen) })

	watchers := st.watchers
	st.watchers = make(map[uint64]context.CancelCauseFunc)
	c.mu.Unlock()

	for _, cancel := range watchers {
		cancel(ErrInterrupted)
	}

	log.Info().Str("component", "interrupt").Str("guild_id", guildID).Int("cancelled", len(watchers)).Msg("Interrupt raised")
	return true
}

// IsRaised reports whether guildID currently has a raised interrupt.
func (c *Controller) IsRaised(guildID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.guilds[guildID]
	return ok && st.raised
}

// Clear lowers the interrupt for guildID before its grace window ends.
func (c *Controller) Clear(guildID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.guilds[guildID]
	if !ok || !st.raised {
		return
	}
	c.lower(guildID, st)
}

// expire is the timer path: a timer armed by an older Raise must not clear a
// newer one.
func (c *Controller) expire(guildID string, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.guilds[guildID]
	if !ok || !st.raised || st.gen != gen {
		return
	}
	c.lower(guildID, st)
	log.Debug().Str("component", "interrupt").Str("guild_id", guildID).Msg("Interrupt auto-cleared")
}

// lower must be called with c.mu held.
func (c *Controller) lower(guildID string, st *guildState) {
	st.raised = false
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	if len(st.watchers) == 0 {
		delete(c.guilds, guildID)
	}
}

// Watch returns a child of ctx that is cancelled with cause ErrInterrupted
// the next time Raise is called for guildID. An interrupt that is already
// raised does not affect the new context. The returned cancel func must be
// called to release the watch.
func (c *Controller) Watch(ctx context.Context, guildID string) (context.Context, context.CancelFunc) {
	wctx, cancel := context.WithCancelCause(ctx)

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.state(guildID).watchers[id] = cancel
	c.mu.Unlock()

	return wctx, func() {
		c.mu.Lock()
		if st, ok := c.guilds[guildID]; ok {
			delete(st.watchers, id)
			if !st.raised && len(st.watchers) == 0 {
				delete(c.guilds, guildID)
			}
		}
		c.mu.Unlock()
		cancel(context.Canceled)
	}
}

// Interrupted reports whether ctx was cancelled by Raise.
func Interrupted(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrInterrupted)
}
