// Package events defines the player lifecycle notifications and the single
// dispatcher that delivers them.
package events

import (
	"github.com/keshon/elchicle/internal/music/sources"
)

// Event is one of the variants declared in this file.
type Event interface {
	GuildID() string
	event()
}

// QueueCreated is published when a guild's queue comes into existence.
type QueueCreated struct {
	Guild         string
	TextChannelID string
	Autoplay      bool
	Volume        int
}

// PlaylistAdded is published once per expanded playlist, instead of one
// SongAdded per item.
type PlaylistAdded struct {
	Guild         string
	TextChannelID string
	Title         string
	Items         []sources.Track
	Requester     string
}

// SongAdded is published when a single item is queued behind others.
type SongAdded struct {
	Guild         string
	TextChannelID string
	Track         sources.Track
	Position      int
}

// SongStarted is published when audio for an item begins.
type SongStarted struct {
	Guild         string
	TextChannelID string
	Track         sources.Track
	Position      int // 1-based, counting already played items
	Total         int
}

// SongFinished is published when an item ends normally. QueueDone is true
// when nothing follows it.
type SongFinished struct {
	Guild         string
	TextChannelID string
	Track         sources.Track
	QueueDone     bool
}

// Teardown reasons carried by SessionEmpty.
const (
	ReasonIdle      = "idle"
	ReasonStop      = "stop"
	ReasonInterrupt = "interrupt"
)

// SessionEmpty is published when the session is torn down.
type SessionEmpty struct {
	Guild         string
	TextChannelID string
	Reason        string
}

// Error is published for playback failures. Pipeline is true when the audio
// pipeline of Track died; the player then waits for a Replay, Skip or Stop.
type Error struct {
	Guild         string
	TextChannelID string
	Track         *sources.Track
	Err           error
	Pipeline      bool
	HasNext       bool
}

func (e QueueCreated) GuildID() string  { return e.Guild }
func (e PlaylistAdded) GuildID() string { return e.Guild }
func (e SongAdded) GuildID() string     { return e.Guild }
func (e SongStarted) GuildID() string   { return e.Guild }
func (e SongFinished) GuildID() string  { return e.Guild }
func (e SessionEmpty) GuildID() string  { return e.Guild }
func (e Error) GuildID() string         { return e.Guild }

func (QueueCreated) event()  {}
func (PlaylistAdded) event() {}
func (SongAdded) event()     {}
func (SongStarted) event()   {}
func (SongFinished) event()  {}
func (SessionEmpty) event()  {}
func (Error) event()         {}

// Name returns a short label for logs and metrics.
func Name(e Event) string {
	switch e.(type) {
	case QueueCreated:
		return "queue_created"
	case PlaylistAdded:
		return "playlist_added"
	case SongAdded:
		return "song_added"
	case SongStarted:
		return "song_started"
	case SongFinished:
		return "song_finished"
	case SessionEmpty:
		return "session_empty"
	case Error:
		return "error"
	}
	return "unknown"
}
