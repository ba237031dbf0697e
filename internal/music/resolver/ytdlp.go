package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"github.com/rs/zerolog/log"

	"github.com/keshon/elchicle/internal/music/sources"
)

// Options configures the yt-dlp backed resolver.
type Options struct {
	Executable     string // yt-dlp binary
	PythonCmd      string // interpreter for the "python -m yt_dlp" fallback
	CookiesFile    string
	UserAgent      string
	SocketTimeout  time.Duration
	RequestTimeout time.Duration
	Quiet          bool
}

// toolEnv quiets the python tool in every child process.
var toolEnv = []string{
	"PYTHONWARNINGS=ignore",
	"PYTHONIOENCODING=utf-8",
	"YT_DLP_NO_UPDATE=1",
}

// YTDLP resolves through the yt-dlp command line tool. go-ytdlp builds the
// argument list; the process is launched either as the standalone binary or,
// when that is missing, as a python module.
type YTDLP struct {
	opts Options
	run  func(ctx context.Context, argv []string) (stdout, stderr string, err error)
}

// NewYTDLP creates a resolver for the given options.
func NewYTDLP(opts Options) *YTDLP {
	if opts.Executable == "" {
		opts.Executable = "yt-dlp"
	}
	if opts.PythonCmd == "" {
		opts.PythonCmd = "python3"
	}
	return &YTDLP{opts: opts, run: runProcess}
}

func runProcess(ctx context.Context, argv []string) (string, string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), toolEnv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// commonArgs are passed to every invocation.
func (y *YTDLP) commonArgs() []string {
	var args []string
	if y.opts.CookiesFile != "" {
		if _, err := os.Stat(y.opts.CookiesFile); err == nil {
			args = append(args, "--cookies", y.opts.CookiesFile)
		}
	}
	if y.opts.UserAgent != "" {
		args = append(args, "--user-agent", y.opts.UserAgent)
	}
	if y.opts.SocketTimeout > 0 {
		args = append(args, "--socket-timeout", strconv.Itoa(int(y.opts.SocketTimeout/time.Second)))
	}
	if y.opts.Quiet {
		args = append(args, "--quiet")
	}
	return args
}

// exec runs the command built by b, falling back to the python module when
// the binary cannot be started. Tool failures never fall back.
func (y *YTDLP) exec(ctx context.Context, b *ytdlp.Command, args ...string) (string, error) {
	if y.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.opts.RequestTimeout)
		defer cancel()
	}

	built := b.BuildCommand(ctx, append(y.commonArgs(), args...)...)
	toolArgs := built.Args[1:]

	launchers := [][]string{
		{y.opts.Executable},
		{y.opts.PythonCmd, "-m", "yt_dlp"},
	}

	var lastErr error
	for i, launcher := range launchers {
		argv := append(append([]string{}, launcher...), toolArgs...)
		stdout, stderr, err := y.run(ctx, argv)
		if err == nil {
			return stdout, nil
		}
		if ctx.Err() != nil {
			cause := context.Cause(ctx)
			if errors.Is(cause, context.DeadlineExceeded) {
				return "", fmt.Errorf("%w: yt-dlp timed out after %s", ErrBusy, y.opts.RequestTimeout)
			}
			return "", cause
		}
		if isLaunchError(err) && i < len(launchers)-1 {
			log.Warn().Str("component", "resolver").Str("launcher", launcher[0]).Err(err).Msg("yt-dlp not runnable, trying python module")
			lastErr = err
			continue
		}
		if isLaunchError(err) {
			return "", fmt.Errorf("%w: %w", ErrToolMissing, errors.Join(lastErr, err))
		}
		return "", translateOutput("yt-dlp", stderr, err)
	}
	return "", &ToolError{Tool: "yt-dlp", Err: lastErr}
}

func isLaunchError(err error) bool {
	var pe *fs.PathError
	return errors.Is(err, exec.ErrNotFound) || errors.As(err, &pe)
}

// =============================================================================
// Resolver implementation
// =============================================================================

const singleFields = "%(id)s\t%(title)s\t%(uploader)s\t%(duration)s\t%(webpage_url)s\t%(thumbnail)s\t%(is_live)s"

// Resolve fetches metadata for a single video URL.
func (y *YTDLP) Resolve(ctx context.Context, url string) (*sources.Track, error) {
	out, err := y.exec(ctx, ytdlp.New().
		Print(singleFields).
		NoPlaylist().
		NoWarnings().
		IgnoreConfig(),
		"--skip-download", url)
	if err != nil {
		return nil, err
	}
	for _, line := range nonEmptyLines(out) {
		ps := strings.Split(line, "\t")
		if len(ps) < 7 {
			continue
		}
		t := &sources.Track{
			ID:        na(ps[0]),
			Title:     na(ps[1]),
			Artist:    na(ps[2]),
			Duration:  parseSeconds(ps[3]),
			URL:       na(ps[4]),
			Thumbnail: na(ps[5]),
			IsLive:    ps[6] == "True",
			Source:    sources.SourceYouTube,
			StartAt:   sources.StartOffset(url),
		}
		if t.URL == "" {
			t.URL = url
		}
		return t, nil
	}
	return nil, fmt.Errorf("%w: yt-dlp returned no metadata for %s", ErrNotFound, url)
}

const flatFields = "%(id)s\t%(title)s\t%(uploader)s\t%(duration)s\t%(playlist_title)s"

// Search returns the top YouTube result for query.
func (y *YTDLP) Search(ctx context.Context, query string) (*sources.Track, error) {
	entries, _, err := y.flat(ctx, "ytsearch1:"+query, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	t := entries[0]
	t.Source = sources.SourceSearch
	return &t, nil
}

// ExpandPlaylist lists playlist entries in source order.
func (y *YTDLP) ExpandPlaylist(ctx context.Context, url string) (*Playlist, error) {
	entries, title, err := y.flat(ctx, url, 0)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: playlist is empty", ErrNotFound)
	}
	return &Playlist{ID: sources.PlaylistID(url), Title: title, Items: entries}, nil
}

// Related lists the YouTube mix seeded by videoID.
func (y *YTDLP) Related(ctx context.Context, videoID string, limit int) ([]sources.Track, error) {
	if limit <= 0 {
		limit = 20
	}
	mix := sources.WatchURL(videoID) + "&list=RD" + videoID
	entries, _, err := y.flat(ctx, mix, limit)
	return entries, err
}

func (y *YTDLP) flat(ctx context.Context, target string, limit int) ([]sources.Track, string, error) {
	b := ytdlp.New().
		FlatPlaylist().
		Print(flatFields).
		NoWarnings().
		IgnoreConfig()
	if limit > 0 {
		b = b.PlaylistItems(fmt.Sprintf("1-%d", limit))
	}

	out, err := y.exec(ctx, b, target)
	if err != nil {
		return nil, "", err
	}
	return parseFlat(out)
}

func parseFlat(out string) ([]sources.Track, string, error) {
	var (
		entries []sources.Track
		title   string
	)
	for _, line := range nonEmptyLines(out) {
		ps := strings.Split(line, "\t")
		if len(ps) < 5 {
			log.Debug().Str("component", "resolver").Str("line", line).Msg("Ignoring non-entry output line")
			continue
		}
		id := na(ps[0])
		if id == "" {
			continue
		}
		if title == "" {
			title = na(ps[4])
		}
		entries = append(entries, sources.Track{
			ID:       id,
			Title:    na(ps[1]),
			Artist:   na(ps[2]),
			Duration: parseSeconds(ps[3]),
			URL:      sources.WatchURL(id),
			Source:   sources.SourceYouTube,
		})
	}
	return entries, title, nil
}

// StreamURL asks yt-dlp for the direct URL of the best audio format.
func (y *YTDLP) StreamURL(ctx context.Context, track *sources.Track) (string, error) {
	out, err := y.exec(ctx, ytdlp.New().
		Print("%(url)s").
		Format("bestaudio[ext=webm]/bestaudio/best").
		NoPlaylist().
		NoWarnings().
		IgnoreConfig(),
		"--skip-download", track.URL)
	if err != nil {
		return "", err
	}
	for _, line := range nonEmptyLines(out) {
		if strings.HasPrefix(line, "http") {
			return line, nil
		}
	}
	return "", fmt.Errorf("%w: no stream url for %s", ErrUnavailable, track.URL)
}

// Version returns the tool's version string.
func (y *YTDLP) Version(ctx context.Context) (string, error) {
	out, err := y.exec(ctx, ytdlp.New().IgnoreConfig(), "--version")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, l := range strings.Split(strings.TrimSpace(s), "\n") {
		if l = strings.TrimRight(l, "\r"); strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

// na maps yt-dlp's placeholder for missing fields to "".
func na(s string) string {
	s = strings.TrimSpace(s)
	if s == "NA" || s == "None" {
		return ""
	}
	return s
}

func parseSeconds(s string) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s) + "s")
	if err != nil {
		return 0
	}
	return d
}
