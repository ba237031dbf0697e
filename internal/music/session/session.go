// Package session holds the auxiliary per-guild state the orchestration layer
// keeps next to the player's queue: intro flag, retry counts, idle timer and
// the channel notifications go to.
package session

import (
	"sync"
	"time"
)

// Session is the state of one guild. The zero value is not usable; obtain
// sessions from a Registry.
type Session struct {
	GuildID   string
	CreatedAt time.Time

	// req serializes queue-affecting requests for this guild.
	req sync.Mutex

	mu            sync.Mutex
	introPlayed   bool
	retries       map[string]int
	idleTimer     *time.Timer
	idleToken     uint64
	textChannelID string
	voiceChannel  string
}

func newSession(guildID string) *Session {
	return &Session{
		GuildID:   guildID,
		CreatedAt: time.Now(),
		retries:   make(map[string]int),
	}
}

// Lock acquires the per-guild request lock.
func (s *Session) Lock() { s.req.Lock() }

// Unlock releases the per-guild request lock.
func (s *Session) Unlock() { s.req.Unlock() }

// ClaimIntro returns true exactly once per session.
func (s *Session) ClaimIntro() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.introPlayed {
		return false
	}
	s.introPlayed = true
	return true
}

// IntroPlayed reports whether the intro was claimed.
func (s *Session) IntroPlayed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.introPlayed
}

// SetChannels records where this guild's audio and notifications go.
func (s *Session) SetChannels(voiceChannelID, textChannelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if voiceChannelID != "" {
		s.voiceChannel = voiceChannelID
	}
	if textChannelID != "" {
		s.textChannelID = textChannelID
	}
}

// TextChannel returns the last text channel a request came from.
func (s *Session) TextChannel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.textChannelID
}

// VoiceChannel returns the voice channel the session plays into.
func (s *Session) VoiceChannel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voiceChannel
}

// =============================================================================
// Retry counts
// =============================================================================

// RetryCount returns the pipeline retry count for songID.
func (s *Session) RetryCount(songID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries[songID]
}

// IncRetry increments and returns the retry count for songID.
func (s *Session) IncRetry(songID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries[songID]++
	return s.retries[songID]
}

// ClearRetry forgets the retry count for songID.
func (s *Session) ClearRetry(songID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.retries, songID)
}

// RetainRetry forgets every retry count except the one for songID.
func (s *Session) RetainRetry(songID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.retries {
		if id != songID {
			delete(s.retries, id)
		}
	}
}

// ResetRetries forgets every retry count.
func (s *Session) ResetRetries() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries = make(map[string]int)
}

// =============================================================================
// Idle timer
// =============================================================================

// StartIdleTimer arms a one-shot timer that calls fn after d. It returns false
// and does nothing if a timer is already armed. fn is not called if the timer
// is stopped first, even when the stop races with expiry.
func (s *Session) StartIdleTimer(d time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idleTimer != nil {
		return false
	}
	s.idleToken++
	token := s.idleToken
	s.idleTimer = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.idleTimer == nil || s.idleToken != token {
			s.mu.Unlock()
			return
		}
		s.idleTimer = nil
		s.mu.Unlock()
		fn()
	})
	return true
}

// StopIdleTimer disarms the idle timer and reports whether one was armed.
func (s *Session) StopIdleTimer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idleTimer == nil {
		return false
	}
	s.idleTimer.Stop()
	s.idleTimer = nil
	s.idleToken++
	return true
}

// HasIdleTimer reports whether an idle timer is armed.
func (s *Session) HasIdleTimer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idleTimer != nil
}

// =============================================================================
// Registry
// =============================================================================

// Registry guarantees at most one Session per guild. Safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the guild's session, creating it if needed. The bool is
// true when the session was created by this call.
func (r *Registry) GetOrCreate(guildID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[guildID]; ok {
		return s, false
	}
	s := newSession(guildID)
	r.sessions[guildID] = s
	return s, true
}

// Get returns the guild's session or nil.
func (r *Registry) Get(guildID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[guildID]
}

// Remove destroys the guild's session, disarming its idle timer. It returns
// the removed session or nil.
func (r *Registry) Remove(guildID string) *Session {
	r.mu.Lock()
	s, ok := r.sessions[guildID]
	if ok {
		delete(r.sessions, guildID)
	}
	r.mu.Unlock()
	if ok {
		s.StopIdleTimer()
	}
	return s
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// GuildIDs returns the ids of all live sessions.
func (r *Registry) GuildIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}
