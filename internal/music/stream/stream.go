// Package stream is the audio pipeline: a track's media URL is decoded by
// ffmpeg to 48kHz stereo PCM, scaled by the guild volume, encoded to opus
// and handed to the voice connection.
package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keshon/elchicle/internal/music/sources"
)

const (
	channels   = 2
	sampleRate = 48000
	frameSize  = 960 // 20ms at 48kHz

	// bytesPerSecond of s16le stereo PCM.
	bytesPerSecond = sampleRate * channels * 2
)

// ErrPipeline marks a failure of the decoding process for the current item.
var ErrPipeline = errors.New("audio pipeline failed")

// Source is a running decoder. Read yields PCM; Wait reports how the
// decoder exited once Read has returned EOF.
type Source interface {
	io.Reader
	Wait() error
	Close() error
}

// Opener starts a decoder for track at offset.
type Opener interface {
	Open(ctx context.Context, track *sources.Track, offset time.Duration) (Source, error)
}

// URLResolver yields the direct media URL ffmpeg reads from.
type URLResolver interface {
	StreamURL(ctx context.Context, track *sources.Track) (string, error)
}

// FFmpegOpener opens tracks with ffmpeg, resolving the media URL first.
type FFmpegOpener struct {
	FFmpegPath string
	Resolver   URLResolver
	UserAgent  string
}

// Open resolves the media URL and starts ffmpeg.
func (o *FFmpegOpener) Open(ctx context.Context, track *sources.Track, offset time.Duration) (Source, error) {
	link, err := o.Resolver.StreamURL(ctx, track)
	if err != nil {
		return nil, err
	}

	path := o.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}

	// The process outlives the request context; it is bound to the player.
	cmd := exec.Command(path, o.args(link, offset)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrPipeline, err)
	}

	log.Debug().Str("component", "stream").Str("track", track.Title).Dur("offset", offset).Msg("ffmpeg started")
	return &ffmpegSource{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

func (o *FFmpegOpener) args(link string, offset time.Duration) []string {
	args := []string{
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
	}
	if o.UserAgent != "" {
		args = append(args, "-user_agent", o.UserAgent)
	}
	if offset > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", offset.Seconds()))
	}
	return append(args,
		"-i", link,
		"-vn",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-loglevel", "warning",
		"pipe:1",
	)
}

type ffmpegSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer

	once    sync.Once
	waitErr error
	closed  bool
	mu      sync.Mutex
}

func (s *ffmpegSource) Read(p []byte) (int, error) { return s.stdout.Read(p) }

func (s *ffmpegSource) Wait() error {
	s.once.Do(func() {
		err := s.cmd.Wait()
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if err != nil && !closed {
			s.waitErr = fmt.Errorf("%w: ffmpeg exited: %v: %s", ErrPipeline, err, s.stderr.String())
		}
	})
	return s.waitErr
}

// Close kills the process; a killed process is not reported as a failure.
func (s *ffmpegSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.stdout.Close()
	_ = s.Wait()
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(t.buf.String())
}
