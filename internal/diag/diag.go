// Package diag reports on the external tools the bot depends on.
package diag

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/keshon/elchicle/pkg/util"
)

// VersionFunc returns the version line of a tool.
type VersionFunc func(ctx context.Context) (string, error)

type Options struct {
	FFmpegPath string
	YTDLP      VersionFunc
	CookieFile string
	Settings   map[string]string
	Timeout    time.Duration
}

type Probe struct {
	Version string
	Err     error
}

type CookieInfo struct {
	Path     string
	Present  bool
	Size     int64
	Modified time.Time
}

type Report struct {
	FFmpeg   Probe
	YTDLP    Probe
	Cookies  CookieInfo
	Settings map[string]string
}

// OK reports whether every required tool answered.
func (r Report) OK() bool {
	return r.FFmpeg.Err == nil && r.YTDLP.Err == nil
}

// Run probes ffmpeg and yt-dlp and inspects the cookie file.
func Run(ctx context.Context, opts Options) Report {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	ffmpeg := opts.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}

	rep := Report{Settings: opts.Settings}
	rep.FFmpeg = probe(ctx, opts.Timeout, func(ctx context.Context) (string, error) {
		return FFmpegVersion(ctx, ffmpeg)
	})
	if opts.YTDLP != nil {
		rep.YTDLP = probe(ctx, opts.Timeout, opts.YTDLP)
	} else {
		rep.YTDLP = Probe{Err: fmt.Errorf("yt-dlp probe not configured")}
	}
	rep.Cookies = inspectCookies(opts.CookieFile)
	return rep
}

func probe(ctx context.Context, timeout time.Duration, fn VersionFunc) Probe {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	v, err := fn(ctx)
	return Probe{Version: v, Err: err}
}

// FFmpegVersion returns the first line of "ffmpeg -version".
func FFmpegVersion(ctx context.Context, path string) (string, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "-version")
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ffmpeg -version: %w", err)
	}
	line, _, _ := strings.Cut(strings.TrimSpace(out.String()), "\n")
	return strings.TrimSpace(line), nil
}

func inspectCookies(path string) CookieInfo {
	info := CookieInfo{Path: path}
	if path == "" {
		return info
	}
	st, err := os.Stat(path)
	if err != nil {
		return info
	}
	info.Present = true
	info.Size = st.Size()
	info.Modified = st.ModTime()
	return info
}

// Format renders the report as a chat message.
func (r Report) Format() string {
	var b strings.Builder
	b.WriteString("🧪 **Diagnostics**\n")
	fmt.Fprintf(&b, "%s ffmpeg: %s\n", mark(r.FFmpeg.Err), r.FFmpeg.text())
	fmt.Fprintf(&b, "%s yt-dlp: %s\n", mark(r.YTDLP.Err), r.YTDLP.text())

	switch {
	case r.Cookies.Path == "":
		b.WriteString("⚠️ cookies: not configured\n")
	case !r.Cookies.Present:
		fmt.Fprintf(&b, "⚠️ cookies: `%s` missing\n", r.Cookies.Path)
	default:
		fmt.Fprintf(&b, "✅ cookies: `%s` (%d bytes, updated %s)\n", r.Cookies.Path, r.Cookies.Size,
			util.FormatDate(r.Cookies.Modified, "YYYY-MM-DD hh:mm:ss"))
	}

	if len(r.Settings) > 0 {
		keys := make([]string, 0, len(r.Settings))
		for k := range r.Settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("```\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "%s=%s\n", k, r.Settings[k])
		}
		b.WriteString("```")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (p Probe) text() string {
	if p.Err != nil {
		return util.Truncate(p.Err.Error(), 200)
	}
	return "`" + p.Version + "`"
}

func mark(err error) string {
	if err != nil {
		return "❌"
	}
	return "✅"
}
