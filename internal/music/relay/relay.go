// Package relay turns player lifecycle events into chat notifications and
// drives pipeline failure recovery: a failed item is replayed up to the retry
// ceiling, then skipped (or the queue stopped when nothing follows).
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keshon/elchicle/internal/metrics"
	"github.com/keshon/elchicle/internal/music/events"
	"github.com/keshon/elchicle/internal/music/player"
	"github.com/keshon/elchicle/internal/music/resolver"
	"github.com/keshon/elchicle/internal/music/session"
	"github.com/keshon/elchicle/internal/music/sources"
)

type Notifier interface {
	Notify(ctx context.Context, channelID, text string) error
}

// Controls are the queue operations recovery needs.
type Controls interface {
	Replay(guildID string) error
	Skip(guildID string) error
	Stop(guildID string, leave bool) error
	Current(guildID string) (sources.Track, bool)
}

type Options struct {
	RetryCeiling    int           // replays per item before it is skipped
	RetryDelay      time.Duration // wait before a replay
	PlaylistPreview int           // items listed for large playlists
}

// pending is a scheduled replay of the item identified by key.
type pending struct {
	token uint64
	key   string
	timer *time.Timer
}

type Relay struct {
	notifier Notifier
	controls Controls
	sessions *session.Registry
	opts     Options

	mu     sync.Mutex
	seq    uint64
	timers map[string]pending
}

func New(notifier Notifier, controls Controls, sessions *session.Registry, opts Options) *Relay {
	if opts.RetryCeiling < 0 {
		opts.RetryCeiling = 0
	}
	if opts.PlaylistPreview <= 0 {
		opts.PlaylistPreview = 5
	}
	return &Relay{
		notifier: notifier,
		controls: controls,
		sessions: sessions,
		opts:     opts,
		timers:   make(map[string]pending),
	}
}

func (r *Relay) notify(ctx context.Context, channelID, text string) {
	if channelID == "" {
		return
	}
	if err := r.notifier.Notify(ctx, channelID, text); err != nil {
		log.Warn().Str("component", "relay").Str("channel", channelID).Err(err).Msg("notification failed")
	}
}

func title(t sources.Track) string {
	if t.Title == "" {
		return "Unknown"
	}
	return t.Title
}

// Handle is the events.Bus handler.
func (r *Relay) Handle(ctx context.Context, e events.Event) {
	switch e := e.(type) {
	case events.QueueCreated:
		state := "OFF"
		if e.Autoplay {
			state = "ON"
		}
		r.notify(ctx, e.TextChannelID, fmt.Sprintf("🧱 Queue initialized (autoplay: %s).", state))

	case events.PlaylistAdded:
		r.notify(ctx, e.TextChannelID, PlaylistNotice(e, r.opts.PlaylistPreview))

	case events.SongAdded:
		r.notify(ctx, e.TextChannelID, fmt.Sprintf("➕ Added: `%s`", title(e.Track)))

	case events.SongStarted:
		r.cancelPendingUnless(e.Guild, e.Track.Key())
		if sess := r.sessions.Get(e.Guild); sess != nil {
			// a replayed item keeps its count until it finishes
			sess.RetainRetry(e.Track.Key())
		}
		r.notify(ctx, e.TextChannelID, fmt.Sprintf("▶️ Now playing (%d/%d): `%s`", e.Position, e.Total, title(e.Track)))

	case events.SongFinished:
		r.cancelPending(e.Guild)
		if sess := r.sessions.Get(e.Guild); sess != nil {
			sess.ClearRetry(e.Track.Key())
		}
		if e.QueueDone {
			r.notify(ctx, e.TextChannelID, "✅ Playback finished.")
		}

	case events.SessionEmpty:
		r.cancelPending(e.Guild)
		if e.Reason == events.ReasonIdle {
			r.notify(ctx, e.TextChannelID, "👋 Voice channel empty. Disconnecting.")
		}

	case events.Error:
		if e.Pipeline && e.Track != nil {
			r.retryOrSkip(ctx, e)
			return
		}
		r.notify(ctx, e.TextChannelID, "❌ **ERROR**: "+resolver.UserMessage(e.Err))
	}
}

// PlaylistNotice renders the playlist detected message, previewing the first
// items when the playlist is larger than preview.
func PlaylistNotice(e events.PlaylistAdded, preview int) string {
	name := e.Title
	if name == "" {
		name = "Untitled"
	}
	msg := fmt.Sprintf("📃 Playlist detected: **%s**\n• Total: %d songs.", name, len(e.Items))
	if len(e.Items) <= preview {
		return msg
	}
	lines := make([]string, preview)
	for i := range lines {
		lines[i] = fmt.Sprintf("%d. %s", i+1, title(e.Items[i]))
	}
	return msg + fmt.Sprintf("\n🔎 First %d songs:\n```\n%s\n```", preview, strings.Join(lines, "\n"))
}

func (r *Relay) retryOrSkip(ctx context.Context, e events.Error) {
	metrics.Retries.WithLabelValues("pipeline").Inc()
	key := e.Track.Key()
	logger := log.With().Str("component", "relay").Str("guild", e.Guild).Str("track", e.Track.Title).Logger()

	sess := r.sessions.Get(e.Guild)
	if sess != nil && sess.RetryCount(key) < r.opts.RetryCeiling {
		n := sess.IncRetry(key)
		logger.Info().Int("attempt", n).Int("ceiling", r.opts.RetryCeiling).Err(e.Err).Msg("retrying after pipeline failure")
		r.notify(ctx, e.TextChannelID, fmt.Sprintf("🔄 Retrying: `%s`...", title(*e.Track)))
		r.schedule(e.Guild, key, sess)
		return
	}

	if sess != nil {
		sess.ClearRetry(key)
	}
	logger.Warn().Err(e.Err).Msg("retry ceiling reached, skipping")
	r.notify(ctx, e.TextChannelID, fmt.Sprintf("⏭️ Skipping `%s` after %d failed attempts", title(*e.Track), r.opts.RetryCeiling+1))
	r.cancelPending(e.Guild)
	r.skipOrStop(e.Guild)
}

// schedule replays the item identified by key after the retry delay, unless
// the session was torn down or the queue moved to another item meanwhile.
func (r *Relay) schedule(guildID, key string, sess *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.timers[guildID]; ok {
		p.timer.Stop()
	}
	r.seq++
	token := r.seq
	timer := time.AfterFunc(r.opts.RetryDelay, func() {
		r.mu.Lock()
		p, ok := r.timers[guildID]
		if !ok || p.token != token {
			r.mu.Unlock()
			return
		}
		delete(r.timers, guildID)
		r.mu.Unlock()

		if r.sessions.Get(guildID) != sess {
			return
		}
		if cur, ok := r.controls.Current(guildID); !ok || cur.Key() != key {
			log.Debug().Str("component", "relay").Str("guild", guildID).Msg("queue moved on, replay dropped")
			return
		}
		if err := r.controls.Replay(guildID); err != nil {
			log.Warn().Str("component", "relay").Str("guild", guildID).Err(err).Msg("replay failed")
		}
	})
	r.timers[guildID] = pending{token: token, key: key, timer: timer}
}

func (r *Relay) cancelPending(guildID string) {
	r.cancelPendingUnless(guildID, "")
}

// cancelPendingUnless drops the guild's pending replay unless it is for keep.
func (r *Relay) cancelPendingUnless(guildID, keep string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.timers[guildID]; ok && (keep == "" || p.key != keep) {
		p.timer.Stop()
		delete(r.timers, guildID)
	}
}

func (r *Relay) skipOrStop(guildID string) {
	err := r.controls.Skip(guildID)
	if errors.Is(err, player.ErrNoNext) || errors.Is(err, player.ErrNotPlaying) {
		err = r.controls.Stop(guildID, false)
	}
	if err != nil && !errors.Is(err, player.ErrNoQueue) {
		log.Warn().Str("component", "relay").Str("guild", guildID).Err(err).Msg("could not move past failed item")
	}
}

// Close stops pending replays.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.timers {
		p.timer.Stop()
		delete(r.timers, id)
	}
}
