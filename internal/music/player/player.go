// Package player is the voice transport: one queue per guild, a playback
// goroutine feeding the audio pipeline and the control operations the chat
// commands act on (skip, stop, pause, seek, loop, volume...).
//
// The queue keeps the current item at songs[0]. Lifecycle changes are
// published as events; the player never talks to chat itself.
package player

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keshon/elchicle/internal/metrics"
	"github.com/keshon/elchicle/internal/music/events"
	"github.com/keshon/elchicle/internal/music/sources"
	"github.com/keshon/elchicle/internal/music/stream"
)

var (
	ErrNoQueue       = errors.New("no songs in the queue")
	ErrNotPlaying    = errors.New("nothing is playing")
	ErrNoNext        = errors.New("there is no next song in the queue")
	ErrAlreadyPaused = errors.New("playback is already paused")
	ErrNotPaused     = errors.New("playback is not paused")
	ErrBadVolume     = errors.New("volume must be between 1 and 100")
	ErrBadIndex      = errors.New("index out of range")
	ErrRemoveCurrent = errors.New("use skip to remove the song that is playing")
	ErrSeekRange     = errors.New("seek position is outside the song")
	ErrBadRepeat     = errors.New("invalid loop mode, use off, song or queue")
)

// Repeat is the loop mode of a queue.
type Repeat int

const (
	RepeatOff Repeat = iota
	RepeatSong
	RepeatQueue
)

func (r Repeat) String() string {
	switch r {
	case RepeatSong:
		return "song"
	case RepeatQueue:
		return "queue"
	}
	return "off"
}

// ParseRepeat accepts off, song/track and queue/list. An empty mode is off.
func ParseRepeat(s string) (Repeat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off":
		return RepeatOff, nil
	case "song", "track":
		return RepeatSong, nil
	case "queue", "list":
		return RepeatQueue, nil
	}
	return RepeatOff, ErrBadRepeat
}

// Conn is a joined voice connection.
type Conn interface {
	stream.Sink
	Speaking(bool) error
	ChannelID() string
	Disconnect() error
}

// Voice joins voice channels.
type Voice interface {
	Join(ctx context.Context, guildID, channelID string) (Conn, error)
}

// Publisher receives lifecycle events.
type Publisher interface {
	Publish(events.Event)
}

// RelatedFunc returns items related to videoID, used by autoplay.
type RelatedFunc func(ctx context.Context, videoID string, limit int) ([]sources.Track, error)

// Prefs persists per-guild playback preferences.
type Prefs interface {
	Volume(guildID string) (int, bool)
	SetVolume(guildID string, volume int) error
	Repeat(guildID string) (string, bool)
	SetRepeat(guildID, mode string) error
}

type Deps struct {
	Voice      Voice
	Opener     stream.Opener
	NewEncoder func() (stream.Encoder, error)
	Events     Publisher
	Related    RelatedFunc // optional, enables autoplay
	Prefs      Prefs       // optional
}

type Options struct {
	DefaultVolume int
	Autoplay      bool
	RelatedLimit  int
}

// Target says where a queue plays and where its notifications go.
type Target struct {
	GuildID        string
	VoiceChannelID string
	TextChannelID  string
}

// Snapshot is a copy of a guild's queue state.
type Snapshot struct {
	Current        *sources.Track
	Upcoming       []sources.Track
	Played         int
	Repeat         Repeat
	Autoplay       bool
	Volume         int
	Paused         bool
	Playing        bool
	Elapsed        time.Duration
	TextChannelID  string
	VoiceChannelID string
}

// Total is the number of items in the queue including the current one.
func (s Snapshot) Total() int {
	if s.Current == nil {
		return len(s.Upcoming)
	}
	return len(s.Upcoming) + 1
}

// Manager owns the per-guild players.
type Manager struct {
	deps Deps
	opts Options

	mu      sync.Mutex
	players map[string]*Player
}

func NewManager(deps Deps, opts Options) *Manager {
	if opts.DefaultVolume < 1 || opts.DefaultVolume > 100 {
		opts.DefaultVolume = 50
	}
	if opts.RelatedLimit <= 0 {
		opts.RelatedLimit = 20
	}
	if deps.NewEncoder == nil {
		deps.NewEncoder = stream.NewOpusEncoder
	}
	return &Manager{
		deps:    deps,
		opts:    opts,
		players: make(map[string]*Player),
	}
}

func (m *Manager) publish(e events.Event) {
	if m.deps.Events != nil {
		m.deps.Events.Publish(e)
	}
}

func (m *Manager) get(guildID string) (*Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[guildID]
	if !ok {
		return nil, ErrNoQueue
	}
	return p, nil
}

func (m *Manager) getOrCreate(guildID string) *Player {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.players[guildID]; ok {
		return p
	}
	p := &Player{
		m:        m,
		guildID:  guildID,
		gate:     &stream.Gate{},
		autoplay: m.opts.Autoplay && m.deps.Related != nil,
	}
	vol := m.opts.DefaultVolume
	if m.deps.Prefs != nil {
		if v, ok := m.deps.Prefs.Volume(guildID); ok && v >= 1 && v <= 100 {
			vol = v
		}
		if s, ok := m.deps.Prefs.Repeat(guildID); ok {
			p.repeat, _ = ParseRepeat(s)
		}
	}
	p.volume.Store(int32(vol))
	m.players[guildID] = p
	return p
}

func (m *Manager) forget(p *Player) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.players[p.guildID] == p {
		delete(m.players, p.guildID)
	}
}

// Has reports whether guildID has a queue.
func (m *Manager) Has(guildID string) bool {
	_, err := m.get(guildID)
	return err == nil
}

// Enqueue appends track to the guild's queue, creating the queue and joining
// target's voice channel when needed. Playback starts if the queue was idle.
// When announce is set and the item is queued behind others a SongAdded is
// published. It returns the 1-based queue position.
func (m *Manager) Enqueue(ctx context.Context, target Target, track sources.Track, announce bool) (int, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, context.Cause(ctx)
		}
		p := m.getOrCreate(target.GuildID)
		pos, err := p.enqueue(ctx, target, track, announce)
		if errors.Is(err, errClosed) {
			continue
		}
		return pos, err
	}
}

func (m *Manager) Skip(guildID string) error {
	p, err := m.get(guildID)
	if err != nil {
		return err
	}
	return p.skip()
}

// Replay restarts the current item at its start offset.
func (m *Manager) Replay(guildID string) error {
	p, err := m.get(guildID)
	if err != nil {
		return err
	}
	return p.replay()
}

// Current returns the item at the head of the guild's queue.
func (m *Manager) Current(guildID string) (sources.Track, bool) {
	p, err := m.get(guildID)
	if err != nil {
		return sources.Track{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.songs) == 0 {
		return sources.Track{}, false
	}
	return p.songs[0], true
}

// Stop halts playback and clears the queue. With leave the voice channel is
// left and the queue removed.
func (m *Manager) Stop(guildID string, leave bool) error {
	p, err := m.get(guildID)
	if err != nil {
		return err
	}
	if leave {
		m.Teardown(guildID)
		return nil
	}
	p.stop()
	return nil
}

func (m *Manager) Pause(guildID string) error {
	p, err := m.get(guildID)
	if err != nil {
		return err
	}
	return p.pause()
}

func (m *Manager) Resume(guildID string) error {
	p, err := m.get(guildID)
	if err != nil {
		return err
	}
	return p.resume()
}

// Seek restarts the current item at offset.
func (m *Manager) Seek(guildID string, offset time.Duration) error {
	p, err := m.get(guildID)
	if err != nil {
		return err
	}
	return p.seek(offset)
}

// Shuffle shuffles everything after the current item.
func (m *Manager) Shuffle(guildID string) error {
	p, err := m.get(guildID)
	if err != nil {
		return err
	}
	p.shuffle()
	return nil
}

func (m *Manager) SetRepeat(guildID string, mode Repeat) error {
	p, err := m.get(guildID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.repeat = mode
	p.mu.Unlock()
	if m.deps.Prefs != nil {
		if err := m.deps.Prefs.SetRepeat(guildID, mode.String()); err != nil {
			log.Warn().Str("component", "player").Str("guild", guildID).Err(err).Msg("failed to persist loop mode")
		}
	}
	return nil
}

func (m *Manager) SetVolume(guildID string, volume int) error {
	if volume < 1 || volume > 100 {
		return ErrBadVolume
	}
	p, err := m.get(guildID)
	if err != nil {
		return err
	}
	p.volume.Store(int32(volume))
	if m.deps.Prefs != nil {
		if err := m.deps.Prefs.SetVolume(guildID, volume); err != nil {
			log.Warn().Str("component", "player").Str("guild", guildID).Err(err).Msg("failed to persist volume")
		}
	}
	return nil
}

// Remove deletes the item at the 1-based index and returns it. The current
// item (index 1) cannot be removed.
func (m *Manager) Remove(guildID string, index int) (sources.Track, error) {
	p, err := m.get(guildID)
	if err != nil {
		return sources.Track{}, err
	}
	return p.remove(index)
}

func (m *Manager) Snapshot(guildID string) (Snapshot, error) {
	p, err := m.get(guildID)
	if err != nil {
		return Snapshot{}, err
	}
	return p.snapshot(), nil
}

// Teardown stops playback, leaves the voice channel and drops the queue. It
// reports whether a queue existed.
func (m *Manager) Teardown(guildID string) bool {
	p, err := m.get(guildID)
	if err != nil {
		return false
	}
	p.close()
	m.forget(p)
	return true
}

var errClosed = errors.New("player closed")

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Player is one guild's queue. op serializes control operations; mu guards
// the state and is the only lock the playback goroutine takes.
type Player struct {
	m       *Manager
	guildID string

	op sync.Mutex

	mu            sync.Mutex
	closed        bool
	created       bool
	conn          Conn
	textChannelID string
	songs         []sources.Track
	previous      []sources.Track
	repeat        Repeat
	autoplay      bool
	awaiting      bool
	run           *run
	pos           *stream.Position

	gate   *stream.Gate
	volume atomic.Int32
}

func (p *Player) Volume() int { return int(p.volume.Load()) }

func (p *Player) enqueue(ctx context.Context, target Target, track sources.Track, announce bool) (int, error) {
	p.op.Lock()
	defer p.op.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, errClosed
	}
	if err := ctx.Err(); err != nil {
		// a queue created for a request that was cancelled meanwhile is dropped
		fresh := !p.created
		if fresh {
			p.closed = true
		}
		p.mu.Unlock()
		if fresh {
			p.m.forget(p)
		}
		return 0, context.Cause(ctx)
	}
	conn := p.conn
	p.mu.Unlock()

	if conn == nil {
		c, err := p.m.deps.Voice.Join(ctx, target.GuildID, target.VoiceChannelID)
		if err != nil {
			p.mu.Lock()
			p.closed = true
			p.mu.Unlock()
			p.m.forget(p)
			return 0, fmt.Errorf("failed to join voice channel: %w", err)
		}
		log.Info().Str("component", "player").Str("guild", p.guildID).Str("channel", target.VoiceChannelID).Msg("joined voice channel")
		conn = c
	}

	p.mu.Lock()
	p.conn = conn
	if p.textChannelID == "" {
		p.textChannelID = target.TextChannelID
	}
	first := !p.created
	p.created = true
	p.songs = append(p.songs, track)
	position := len(p.songs)
	start := p.run == nil && !p.awaiting
	if start {
		p.startLocked(track.StartAt)
	}
	text := p.textChannelID
	autoplay := p.autoplay
	p.mu.Unlock()

	if first {
		p.m.publish(events.QueueCreated{Guild: p.guildID, TextChannelID: text, Autoplay: autoplay, Volume: p.Volume()})
	}
	if !start && announce {
		p.m.publish(events.SongAdded{Guild: p.guildID, TextChannelID: text, Track: track, Position: position})
	}
	log.Debug().Str("component", "player").Str("guild", p.guildID).Str("track", track.Title).Int("position", position).Msg("enqueued")
	return position, nil
}

// startLocked launches the playback goroutine for songs[0]. Requires mu.
func (p *Player) startLocked(offset time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{cancel: cancel, done: make(chan struct{})}
	p.run = r
	p.awaiting = false
	p.gate.Resume()
	go p.loop(ctx, r, offset)
}

// halt stops the playback goroutine and waits for it. Must not be called
// from the goroutine itself.
func (p *Player) halt() {
	p.mu.Lock()
	r := p.run
	p.run = nil
	p.mu.Unlock()
	if r == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (p *Player) loop(ctx context.Context, r *run, offset time.Duration) {
	defer close(r.done)
	defer r.cancel()

	for {
		p.mu.Lock()
		if p.run != r || len(p.songs) == 0 {
			p.mu.Unlock()
			return
		}
		track := p.songs[0]
		position := len(p.previous) + 1
		total := len(p.previous) + len(p.songs)
		conn := p.conn
		text := p.textChannelID
		pos := stream.NewPosition(offset)
		p.pos = pos
		p.mu.Unlock()

		p.m.publish(events.SongStarted{Guild: p.guildID, TextChannelID: text, Track: track, Position: position, Total: total})
		log.Info().Str("component", "player").Str("guild", p.guildID).Str("track", track.Title).Dur("offset", offset).Msg("playing")

		err := p.playOne(ctx, conn, &track, offset, pos)
		offset = 0

		p.mu.Lock()
		if p.run != r {
			p.mu.Unlock()
			return
		}
		if err != nil {
			pipeline := errors.Is(err, stream.ErrPipeline)
			hasNext := len(p.songs) > 1
			if pipeline {
				// wait for a Replay, Skip or Stop
				p.awaiting = true
				p.run = nil
			} else {
				p.songs = p.songs[1:]
				if len(p.songs) == 0 {
					p.run = nil
				}
			}
			p.mu.Unlock()

			if pipeline {
				metrics.PipelineFailures.Inc()
			}
			log.Warn().Str("component", "player").Str("guild", p.guildID).Str("track", track.Title).Bool("pipeline", pipeline).Err(err).Msg("playback failed")
			p.m.publish(events.Error{Guild: p.guildID, TextChannelID: text, Track: &track, Err: err, Pipeline: pipeline, HasNext: hasNext})
			if pipeline || !hasNext {
				return
			}
			continue
		}

		p.advanceLocked()
		done := len(p.songs) == 0
		autoplay := p.autoplay
		p.mu.Unlock()

		if done && autoplay {
			if next, ok := p.related(ctx, track); ok {
				p.mu.Lock()
				if p.run != r {
					p.mu.Unlock()
					return
				}
				p.songs = append(p.songs, next)
				p.mu.Unlock()
				p.m.publish(events.SongFinished{Guild: p.guildID, TextChannelID: text, Track: track})
				p.m.publish(events.SongAdded{Guild: p.guildID, TextChannelID: text, Track: next, Position: 1})
				continue
			}
		}

		if done {
			p.mu.Lock()
			if p.run == r {
				p.run = nil
			}
			p.mu.Unlock()
		}
		p.m.publish(events.SongFinished{Guild: p.guildID, TextChannelID: text, Track: track, QueueDone: done})
		if done {
			log.Info().Str("component", "player").Str("guild", p.guildID).Msg("queue finished")
			return
		}
	}
}

// advanceLocked moves past songs[0] according to the loop mode. Requires mu.
func (p *Player) advanceLocked() {
	if len(p.songs) == 0 {
		return
	}
	switch p.repeat {
	case RepeatSong:
	case RepeatQueue:
		p.songs = append(p.songs[1:], p.songs[0])
	default:
		p.previous = append(p.previous, p.songs[0])
		p.songs = p.songs[1:]
	}
}

// related picks an autoplay item that has not been played in this session.
func (p *Player) related(ctx context.Context, last sources.Track) (sources.Track, bool) {
	if p.m.deps.Related == nil || last.ID == "" {
		return sources.Track{}, false
	}
	items, err := p.m.deps.Related(ctx, last.ID, p.m.opts.RelatedLimit)
	if err != nil {
		log.Warn().Str("component", "player").Str("guild", p.guildID).Err(err).Msg("autoplay lookup failed")
		return sources.Track{}, false
	}

	p.mu.Lock()
	played := make(map[string]bool, len(p.previous)+1)
	for _, t := range p.previous {
		played[t.Key()] = true
	}
	p.mu.Unlock()
	played[last.Key()] = true

	for _, t := range items {
		if !played[t.Key()] {
			t.Requester = "autoplay"
			return t, true
		}
	}
	return sources.Track{}, false
}

func (p *Player) playOne(ctx context.Context, conn Conn, track *sources.Track, offset time.Duration, pos *stream.Position) error {
	src, err := p.m.deps.Opener.Open(ctx, track, offset)
	if err != nil {
		return err
	}
	defer src.Close()
	// a Read blocked on a stalled decoder only returns once the source is closed
	stop := context.AfterFunc(ctx, func() { _ = src.Close() })
	defer stop()

	enc, err := p.m.deps.NewEncoder()
	if err != nil {
		return fmt.Errorf("%w: %v", stream.ErrPipeline, err)
	}

	_ = conn.Speaking(true)
	defer func() { _ = conn.Speaking(false) }()

	err = stream.Play(ctx, src, enc, conn, stream.Options{
		Volume: p.Volume,
		Gate:   p.gate,
		OnRead: pos.Add,
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("%w: %v", stream.ErrPipeline, err)
	}
	return src.Wait()
}

func (p *Player) skip() error {
	p.op.Lock()
	defer p.op.Unlock()

	p.mu.Lock()
	if len(p.songs) == 0 {
		p.mu.Unlock()
		return ErrNotPlaying
	}
	if len(p.songs) < 2 {
		p.mu.Unlock()
		return ErrNoNext
	}
	p.mu.Unlock()

	p.halt()

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.songs) < 2 {
		return ErrNoNext
	}
	if p.repeat == RepeatQueue {
		p.songs = append(p.songs[1:], p.songs[0])
	} else {
		p.previous = append(p.previous, p.songs[0])
		p.songs = p.songs[1:]
	}
	p.startLocked(p.songs[0].StartAt)
	return nil
}

func (p *Player) replay() error {
	p.op.Lock()
	defer p.op.Unlock()

	p.halt()

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.songs) == 0 {
		return ErrNotPlaying
	}
	p.startLocked(p.songs[0].StartAt)
	return nil
}

func (p *Player) seek(offset time.Duration) error {
	p.op.Lock()
	defer p.op.Unlock()

	p.mu.Lock()
	if len(p.songs) == 0 {
		p.mu.Unlock()
		return ErrNotPlaying
	}
	cur := p.songs[0]
	p.mu.Unlock()
	if offset < 0 || cur.IsLive || (cur.Duration > 0 && offset >= cur.Duration) {
		return ErrSeekRange
	}

	p.halt()

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.songs) == 0 {
		return ErrNotPlaying
	}
	p.startLocked(offset)
	return nil
}

func (p *Player) stop() {
	p.op.Lock()
	defer p.op.Unlock()

	p.halt()

	p.mu.Lock()
	p.songs = nil
	p.awaiting = false
	p.mu.Unlock()
	p.gate.Resume()
}

func (p *Player) close() {
	p.op.Lock()
	defer p.op.Unlock()

	p.halt()

	p.mu.Lock()
	p.closed = true
	p.songs = nil
	p.awaiting = false
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()
	p.gate.Resume()

	if conn != nil {
		if err := conn.Disconnect(); err != nil {
			log.Warn().Str("component", "player").Str("guild", p.guildID).Err(err).Msg("voice disconnect failed")
		}
	}
	log.Info().Str("component", "player").Str("guild", p.guildID).Msg("player torn down")
}

func (p *Player) pause() error {
	p.mu.Lock()
	playing := p.run != nil
	p.mu.Unlock()
	if !playing {
		return ErrNotPlaying
	}
	if !p.gate.Pause() {
		return ErrAlreadyPaused
	}
	return nil
}

func (p *Player) resume() error {
	p.mu.Lock()
	empty := len(p.songs) == 0
	p.mu.Unlock()
	if empty {
		return ErrNotPlaying
	}
	if !p.gate.Resume() {
		return ErrNotPaused
	}
	return nil
}

func (p *Player) shuffle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.songs) < 3 {
		return
	}
	rest := p.songs[1:]
	rand.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
}

func (p *Player) remove(index int) (sources.Track, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.songs) == 0 {
		return sources.Track{}, ErrNoQueue
	}
	if index == 1 {
		return sources.Track{}, ErrRemoveCurrent
	}
	if index < 1 || index > len(p.songs) {
		return sources.Track{}, fmt.Errorf("%w: choose a number between 2 and %d", ErrBadIndex, len(p.songs))
	}
	removed := p.songs[index-1]
	p.songs = slices.Delete(p.songs, index-1, index)
	return removed, nil
}

func (p *Player) snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Snapshot{
		Played:        len(p.previous),
		Repeat:        p.repeat,
		Autoplay:      p.autoplay,
		Volume:        p.Volume(),
		Paused:        p.gate.Paused(),
		Playing:       p.run != nil,
		TextChannelID: p.textChannelID,
	}
	if p.conn != nil {
		s.VoiceChannelID = p.conn.ChannelID()
	}
	if len(p.songs) > 0 {
		cur := p.songs[0]
		s.Current = &cur
		s.Upcoming = slices.Clone(p.songs[1:])
		if s.Playing {
			s.Elapsed = p.pos.Elapsed()
		}
	}
	return s
}
