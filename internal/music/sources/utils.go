package sources

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	youtubeRegex = regexp.MustCompile(`(?:https?:\/\/)?(?:www\.|m\.|music\.)?(youtube\.com|youtu\.be)\/\S+`)
	videoIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	hmsRegex     = regexp.MustCompile(`^(?i)(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?$`)
	digitsRegex  = regexp.MustCompile(`^\d+$`)
)

// IsURL reports whether s looks like an http(s) link.
func IsURL(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// IsYouTubeURL reports whether s points at youtube.com or youtu.be.
func IsYouTubeURL(s string) bool {
	return youtubeRegex.MatchString(s)
}

func isYouTubeHost(host string) bool {
	return host == "youtu.be" || host == "youtube.com" || strings.HasSuffix(host, ".youtube.com")
}

// VideoID extracts the video id from a YouTube watch, short or shorts link.
func VideoID(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !isYouTubeHost(u.Hostname()) {
		return ""
	}
	if u.Hostname() == "youtu.be" {
		return strings.Trim(u.Path, "/")
	}
	if v := u.Query().Get("v"); v != "" {
		return v
	}
	for _, prefix := range []string{"/shorts/", "/live/", "/embed/"} {
		if strings.HasPrefix(u.Path, prefix) {
			return strings.Trim(strings.TrimPrefix(u.Path, prefix), "/")
		}
	}
	return ""
}

// PlaylistID extracts the list= parameter.
func PlaylistID(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !isYouTubeHost(u.Hostname()) {
		return ""
	}
	return u.Query().Get("list")
}

// IsPlaylistURL reports whether raw is a playlist page (list= without a video).
// A watch link that merely carries list= context is a single video.
func IsPlaylistURL(raw string) bool {
	return PlaylistID(raw) != "" && VideoID(raw) == ""
}

// NormalizeURL reduces a YouTube link to https://www.youtube.com/watch?v=<id>,
// keeping only the t= parameter. Other links are returned unchanged.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || !isYouTubeHost(u.Hostname()) {
		return raw
	}
	id := VideoID(raw)
	if id == "" {
		return raw
	}
	clean := "https://www.youtube.com/watch?v=" + id
	if t := u.Query().Get("t"); t != "" {
		clean += "&t=" + t
	}
	return clean
}

// WatchURL builds the canonical page URL for a video id.
func WatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

// IsVideoID reports whether s has the shape of a YouTube video id.
func IsVideoID(s string) bool {
	return videoIDRegex.MatchString(s)
}

// StartOffset returns the t= offset carried by raw, or 0.
func StartOffset(raw string) time.Duration {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	t := u.Query().Get("t")
	if t == "" {
		return 0
	}
	d, err := ParseTimestamp(t)
	if err != nil {
		return 0
	}
	return d
}

// MaxTimestamp bounds parsed offsets; no YouTube item is longer.
const MaxTimestamp = 24 * time.Hour

// ParseTimestamp accepts "HH:MM:SS", "MM:SS", plain seconds and "1h2m3s".
// Values above MaxTimestamp are rejected.
func ParseTimestamp(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errInvalidTimestamp(s)
	}

	var fields []string
	var units []int
	switch {
	case strings.Contains(s, ":"):
		for _, p := range strings.Split(s, ":") {
			if p = strings.TrimSpace(p); p != "" {
				fields = append(fields, p)
			}
		}
		if len(fields) == 0 || len(fields) > 3 {
			return 0, errInvalidTimestamp(s)
		}
		units = []int{3600, 60, 1}[3-len(fields):]
	case digitsRegex.MatchString(s):
		fields, units = []string{s}, []int{1}
	default:
		m := hmsRegex.FindStringSubmatch(s)
		if m == nil {
			return 0, errInvalidTimestamp(s)
		}
		fields, units = m[1:4], []int{3600, 60, 1}
	}

	limit := int64(MaxTimestamp / time.Second)
	var seconds int64
	for i, f := range fields {
		if f == "" {
			continue
		}
		if !digitsRegex.MatchString(f) {
			return 0, errInvalidTimestamp(s)
		}
		n, err := strconv.ParseInt(f, 10, 64)
		if err != nil || n > limit {
			return 0, errInvalidTimestamp(s)
		}
		seconds += n * int64(units[i])
		if seconds > limit {
			return 0, errInvalidTimestamp(s)
		}
	}
	return time.Duration(seconds) * time.Second, nil
}

type errInvalidTimestamp string

func (e errInvalidTimestamp) Error() string {
	return "invalid timestamp " + strconv.Quote(string(e))
}
