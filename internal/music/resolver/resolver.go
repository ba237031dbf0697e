// Package resolver turns user input into playable tracks. It wraps the
// external extraction tool (yt-dlp), its python module fallback and the native
// YouTube libraries behind one interface, and owns the error taxonomy the rest
// of the bot retries and reports against.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/keshon/elchicle/internal/music/interrupt"
	"github.com/keshon/elchicle/internal/music/sources"
	"github.com/keshon/elchicle/pkg/retrylimit"
	"github.com/keshon/elchicle/pkg/util"
)

var (
	// ErrAuthRequired means the provider wants a signed-in session.
	ErrAuthRequired = errors.New("authentication required")
	// ErrBusy means the extraction tool is contended or locked.
	ErrBusy = errors.New("extraction tool busy")
	// ErrNotFound means resolution produced nothing.
	ErrNotFound = errors.New("no results")
	// ErrUnavailable means the item exists but can never be played.
	ErrUnavailable = errors.New("media unavailable")
	// ErrToolMissing means neither the binary nor the python module could start.
	ErrToolMissing = errors.New("yt-dlp is not installed")
)

// AuthMessage is the only text users ever see for authentication failures.
const AuthMessage = "YouTube authentication error. Cookies are required, please contact the administrator."

// ExhaustedMessage is shown when busy retries run out.
const ExhaustedMessage = "Maximum retries reached (yt-dlp busy)."

// MaxErrorLength caps error bodies shown in chat.
const MaxErrorLength = 1000

// Playlist is the flattened result of playlist expansion.
type Playlist struct {
	ID    string
	Title string
	Items []sources.Track
}

// Resolver resolves queries against a media provider.
type Resolver interface {
	// Resolve fetches metadata for a direct URL.
	Resolve(ctx context.Context, url string) (*sources.Track, error)
	// Search returns the top result for free text.
	Search(ctx context.Context, query string) (*sources.Track, error)
	// ExpandPlaylist lists a playlist without resolving each item.
	ExpandPlaylist(ctx context.Context, url string) (*Playlist, error)
	// StreamURL returns a direct media URL for the audio pipeline.
	StreamURL(ctx context.Context, track *sources.Track) (string, error)
	// Related lists items related to the given video id, for autoplay.
	Related(ctx context.Context, videoID string, limit int) ([]sources.Track, error)
}

// ToolError is a failed run of an external extraction process.
type ToolError struct {
	Tool   string
	Detail string
	Err    error
}

func (e *ToolError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Tool, e.Detail)
	}
	return fmt.Sprintf("%s: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

var (
	authPhrases = []string{
		"sign in to confirm you're not a bot",
		"sign in to confirm you’re not a bot",
		"use --cookies-from-browser or --cookies for the authentication",
		"login required",
		"this video is age restricted",
	}
	busyPhrases = []string{
		"ebusy",
		"resource busy",
		"locked",
		"http error 429",
		"too many requests",
	}
	unavailablePhrases = []string{
		"video unavailable",
		"private video",
		"this video has been removed",
		"is not available in your country",
		"unsupported url",
	}
)

func containsAny(s string, phrases []string) bool {
	s = strings.ToLower(s)
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// IsAuthText reports whether raw provider output asks for sign-in.
func IsAuthText(s string) bool { return containsAny(s, authPhrases) }

// IsBusyText reports whether raw provider output signals contention.
func IsBusyText(s string) bool { return containsAny(s, busyPhrases) }

// Classify maps a resolution or enqueue error onto a retry class.
func Classify(err error) retrylimit.Class {
	switch {
	case err == nil:
		return retrylimit.Fatal
	case errors.Is(err, interrupt.ErrInterrupted), errors.Is(err, context.Canceled):
		return retrylimit.Cancelled
	case errors.Is(err, ErrAuthRequired), IsAuthText(err.Error()):
		return retrylimit.AuthRequired
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnavailable), errors.Is(err, ErrToolMissing):
		return retrylimit.Fatal
	case errors.Is(err, ErrBusy), IsBusyText(err.Error()):
		return retrylimit.Busy
	}
	var te *ToolError
	if errors.As(err, &te) {
		return retrylimit.Busy
	}
	if strings.Contains(strings.ToLower(err.Error()), "yt-dlp") {
		return retrylimit.Busy
	}
	return retrylimit.Fatal
}

// UserMessage renders err for chat. Authentication failures always map to
// AuthMessage so provider text never leaks.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, interrupt.ErrInterrupted):
		return "Interrupted."
	case errors.Is(err, ErrAuthRequired), IsAuthText(err.Error()), retrylimit.ReasonOf(err) == retrylimit.ReasonAuthRequired:
		return AuthMessage
	case errors.Is(err, retrylimit.ErrExhausted):
		return ExhaustedMessage
	case errors.Is(err, ErrNotFound):
		return "No results found."
	}
	return util.Truncate(err.Error(), MaxErrorLength)
}

func translateOutput(tool, stderr string, err error) error {
	detail := firstErrorLine(stderr)
	switch {
	case IsAuthText(stderr):
		return fmt.Errorf("%w: %s", ErrAuthRequired, detail)
	case IsBusyText(stderr):
		return fmt.Errorf("%w: %s", ErrBusy, detail)
	case containsAny(stderr, unavailablePhrases):
		return fmt.Errorf("%w: %s", ErrUnavailable, detail)
	}
	return &ToolError{Tool: tool, Detail: detail, Err: err}
}

// firstErrorLine picks the most useful line of tool output.
func firstErrorLine(out string) string {
	var fallback string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
		}
		if fallback == "" && !strings.HasPrefix(line, "WARNING:") {
			fallback = line
		}
	}
	return util.Truncate(fallback, MaxErrorLength)
}
