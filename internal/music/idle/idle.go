// Package idle disconnects the bot from voice channels nobody is listening in.
package idle

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keshon/elchicle/internal/metrics"
	"github.com/keshon/elchicle/internal/music/events"
	"github.com/keshon/elchicle/internal/music/session"
)

// DefaultTimeout is how long a channel may stay empty before teardown.
const DefaultTimeout = 60 * time.Second

// Presence answers voice occupancy questions.
type Presence interface {
	// BotChannel returns the voice channel the bot is joined to, or "".
	BotChannel(guildID string) string
	// Listeners counts the non-bot members in channelID.
	Listeners(guildID, channelID string) int
}

type Raiser interface {
	Raise(guildID string) bool
}

type Teardowner interface {
	Teardown(guildID, reason string) bool
}

type Monitor struct {
	presence   Presence
	sessions   *session.Registry
	interrupts Raiser
	teardown   Teardowner
	timeout    time.Duration
}

func New(presence Presence, sessions *session.Registry, interrupts Raiser, teardown Teardowner, timeout time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Monitor{
		presence:   presence,
		sessions:   sessions,
		interrupts: interrupts,
		teardown:   teardown,
		timeout:    timeout,
	}
}

// OnVoiceStateChange re-evaluates guildID after any voice presence change.
func (m *Monitor) OnVoiceStateChange(guildID string) {
	sess := m.sessions.Get(guildID)
	channel := m.presence.BotChannel(guildID)

	if channel == "" {
		if sess != nil && sess.StopIdleTimer() {
			log.Debug().Str("component", "idle").Str("guild", guildID).Msg("bot left voice, idle timer cleared")
		}
		return
	}
	if sess == nil {
		return
	}

	if m.presence.Listeners(guildID, channel) > 0 {
		if sess.StopIdleTimer() {
			log.Info().Str("component", "idle").Str("guild", guildID).Msg("listener joined, idle timer cancelled")
		}
		return
	}

	if sess.StartIdleTimer(m.timeout, func() { m.fire(guildID, sess) }) {
		log.Info().Str("component", "idle").Str("guild", guildID).Dur("timeout", m.timeout).Msg("voice channel empty, idle timer armed")
	}
}

func (m *Monitor) fire(guildID string, sess *session.Session) {
	if m.sessions.Get(guildID) != sess {
		return
	}
	if ch := m.presence.BotChannel(guildID); ch != "" && m.presence.Listeners(guildID, ch) > 0 {
		return
	}

	metrics.IdleTeardowns.Inc()
	log.Info().Str("component", "idle").Str("guild", guildID).Msg("idle timeout, tearing session down")
	m.interrupts.Raise(guildID)
	m.teardown.Teardown(guildID, events.ReasonIdle)
}
