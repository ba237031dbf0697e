package sources

import (
	"fmt"
	"time"
)

const (
	SourceYouTube = "youtube"
	SourceSearch  = "search"
)

// Track is a resolved, playable item. Playlist expansion produces Tracks
// with only ID, Title and URL set; the rest is filled when the item is
// resolved for playback.
type Track struct {
	ID        string
	Title     string
	URL       string // canonical page URL, not the stream URL
	Artist    string
	Duration  time.Duration
	Thumbnail string
	IsLive    bool
	Source    string

	// StartAt is the playback offset taken from a t= parameter or !seek.
	StartAt time.Duration

	Requester   string
	RequesterID string
}

// Key identifies the track for retry bookkeeping. Falls back to the URL when
// the extractor returned no id.
func (t *Track) Key() string {
	if t.ID != "" {
		return t.ID
	}
	return t.URL
}

// DisplayDuration renders the duration for chat output.
func (t *Track) DisplayDuration() string {
	if t.IsLive {
		return "live"
	}
	return FormatDuration(t.Duration)
}

func (t *Track) String() string {
	if t.Title == "" {
		return t.URL
	}
	return fmt.Sprintf("%s (%s)", t.Title, t.DisplayDuration())
}

// FormatDuration renders d as M:SS or H:MM:SS.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "0:00"
	}
	total := int(d.Round(time.Second) / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
