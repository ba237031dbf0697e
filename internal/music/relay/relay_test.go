package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/keshon/elchicle/internal/music/events"
	"github.com/keshon/elchicle/internal/music/player"
	"github.com/keshon/elchicle/internal/music/resolver"
	"github.com/keshon/elchicle/internal/music/session"
	"github.com/keshon/elchicle/internal/music/sources"
	"github.com/keshon/elchicle/internal/music/stream"
)

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *fakeNotifier) Notify(_ context.Context, _ string, text string) error {
	n.mu.Lock()
	n.msgs = append(n.msgs, text)
	n.mu.Unlock()
	return nil
}

func (n *fakeNotifier) count(substr string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.msgs {
		if strings.Contains(m, substr) {
			c++
		}
	}
	return c
}

type fakeControls struct {
	mu      sync.Mutex
	replays int
	skips   int
	stops   int
	skipErr error
	current *sources.Track
}

func (c *fakeControls) Replay(string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replays++
	return nil
}

func (c *fakeControls) Skip(string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skips++
	return c.skipErr
}

func (c *fakeControls) Stop(string, bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	return nil
}

func (c *fakeControls) Current(string) (sources.Track, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return sources.Track{}, false
	}
	return *c.current, true
}

func (c *fakeControls) setCurrent(t *sources.Track) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

func (c *fakeControls) counts() (int, int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replays, c.skips, c.stops
}

func newRelay(t *testing.T) (*Relay, *fakeNotifier, *fakeControls, *session.Registry) {
	t.Helper()
	n := &fakeNotifier{}
	c := &fakeControls{current: &song}
	reg := session.NewRegistry()
	reg.GetOrCreate("g")
	r := New(n, c, reg, Options{RetryCeiling: 1, RetryDelay: 10 * time.Millisecond, PlaylistPreview: 5})
	t.Cleanup(r.Close)
	return r, n, c, reg
}

var song = sources.Track{ID: "a", Title: "Song A"}

func pipelineError(hasNext bool) events.Error {
	return events.Error{
		Guild:         "g",
		TextChannelID: "text",
		Track:         &song,
		Err:           fmt.Errorf("%w: ffmpeg exited", stream.ErrPipeline),
		Pipeline:      true,
		HasNext:       hasNext,
	}
}

func TestPipelineFailureRetriedOnceThenSkipped(t *testing.T) {
	r, n, c, _ := newRelay(t)
	ctx := context.Background()

	r.Handle(ctx, pipelineError(true))
	if replays, skips, _ := c.counts(); replays != 0 || skips != 0 {
		t.Fatal("replay must wait for the retry delay")
	}
	time.Sleep(40 * time.Millisecond)
	if replays, _, _ := c.counts(); replays != 1 {
		t.Fatalf("replays = %d, want 1", replays)
	}

	// the replay starts the same item and fails again
	r.Handle(ctx, events.SongStarted{Guild: "g", TextChannelID: "text", Track: song, Position: 1, Total: 2})
	r.Handle(ctx, pipelineError(true))
	time.Sleep(40 * time.Millisecond)

	replays, skips, stops := c.counts()
	if replays != 1 || skips != 1 || stops != 0 {
		t.Fatalf("replays=%d skips=%d stops=%d, want 1/1/0", replays, skips, stops)
	}
	if n.count("Retrying") != 1 || n.count("Skipping `Song A`") != 1 {
		t.Errorf("messages = %v", n.msgs)
	}
}

func TestCeilingStopsWhenNothingFollows(t *testing.T) {
	r, _, c, reg := newRelay(t)
	c.skipErr = player.ErrNoNext
	reg.Get("g").IncRetry("a")

	r.Handle(context.Background(), pipelineError(false))
	if _, skips, stops := c.counts(); skips != 1 || stops != 1 {
		t.Fatalf("skips=%d stops=%d", skips, stops)
	}
	if reg.Get("g").RetryCount("a") != 0 {
		t.Error("retry count should be cleared once the item is abandoned")
	}
}

func TestSessionEmptyCancelsPendingReplay(t *testing.T) {
	r, _, c, _ := newRelay(t)
	r.Handle(context.Background(), pipelineError(true))
	r.Handle(context.Background(), events.SessionEmpty{Guild: "g", Reason: events.ReasonInterrupt})
	time.Sleep(40 * time.Millisecond)
	if replays, _, _ := c.counts(); replays != 0 {
		t.Errorf("replay ran after teardown")
	}
}

var other = sources.Track{ID: "b", Title: "Song B"}

func TestPendingReplayDroppedWhenQueueMovesOn(t *testing.T) {
	tests := []struct {
		name  string
		event func() events.Event
	}{
		{"another song started", func() events.Event {
			return events.SongStarted{Guild: "g", TextChannelID: "text", Track: other, Position: 2, Total: 2}
		}},
		{"failed song finished", func() events.Event {
			return events.SongFinished{Guild: "g", TextChannelID: "text", Track: song}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, c, reg := newRelay(t)
			r.Handle(context.Background(), pipelineError(true))
			r.Handle(context.Background(), tt.event())
			time.Sleep(40 * time.Millisecond)

			if replays, _, _ := c.counts(); replays != 0 {
				t.Errorf("replays = %d, want 0", replays)
			}
			if n := reg.Get("g").RetryCount("a"); n != 0 {
				t.Errorf("retry count of the abandoned song = %d, want 0", n)
			}
		})
	}
}

func TestSameSongStartKeepsPendingReplay(t *testing.T) {
	r, _, c, _ := newRelay(t)
	r.Handle(context.Background(), pipelineError(true))
	r.Handle(context.Background(), events.SongStarted{Guild: "g", TextChannelID: "text", Track: song, Position: 1, Total: 2})
	time.Sleep(40 * time.Millisecond)
	if replays, _, _ := c.counts(); replays != 1 {
		t.Errorf("replays = %d, want 1", replays)
	}
}

func TestReplaySkippedWhenCurrentChanged(t *testing.T) {
	r, _, c, reg := newRelay(t)
	r.Handle(context.Background(), pipelineError(true))
	// !skip moved the queue without an event reaching the relay yet
	c.setCurrent(&other)
	time.Sleep(40 * time.Millisecond)
	if replays, _, _ := c.counts(); replays != 0 {
		t.Errorf("replays = %d, want 0", replays)
	}

	c.setCurrent(nil)
	reg.Get("g").ClearRetry("a")
	r.Handle(context.Background(), pipelineError(true))
	time.Sleep(40 * time.Millisecond)
	if replays, _, _ := c.counts(); replays != 0 {
		t.Errorf("replay ran on a stopped queue")
	}
	if _, skips, _ := c.counts(); skips != 0 {
		t.Errorf("skips = %d, want 0", skips)
	}
}

func TestSongLifecycleClearsRetries(t *testing.T) {
	r, _, _, reg := newRelay(t)
	sess := reg.Get("g")
	sess.IncRetry("a")
	sess.IncRetry("b")

	r.Handle(context.Background(), events.SongStarted{Guild: "g", Track: song})
	if sess.RetryCount("b") != 0 || sess.RetryCount("a") != 1 {
		t.Fatalf("after start a=%d b=%d", sess.RetryCount("a"), sess.RetryCount("b"))
	}
	r.Handle(context.Background(), events.SongFinished{Guild: "g", Track: song})
	if sess.RetryCount("a") != 0 {
		t.Error("finish should clear the item's count")
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
		not  string
	}{
		{"auth", errors.New("ERROR: Sign in to confirm you're not a bot"), resolver.AuthMessage, "Sign in"},
		{"other", errors.New("video is private"), "❌ **ERROR**: video is private", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, n, c, _ := newRelay(t)
			r.Handle(context.Background(), events.Error{Guild: "g", TextChannelID: "text", Track: &song, Err: tt.err})
			if n.count(tt.want) != 1 {
				t.Errorf("messages = %v", n.msgs)
			}
			if tt.not != "" && n.count(tt.not) != 0 {
				t.Errorf("raw text leaked: %v", n.msgs)
			}
			if replays, skips, _ := c.counts(); replays+skips != 0 {
				t.Error("non pipeline errors must not trigger recovery")
			}
		})
	}
}

func TestNotifications(t *testing.T) {
	r, n, _, _ := newRelay(t)
	ctx := context.Background()
	r.Handle(ctx, events.QueueCreated{Guild: "g", TextChannelID: "text", Autoplay: true})
	r.Handle(ctx, events.SongAdded{Guild: "g", TextChannelID: "text", Track: song})
	r.Handle(ctx, events.SongStarted{Guild: "g", TextChannelID: "text", Track: song, Position: 2, Total: 3})
	r.Handle(ctx, events.SongFinished{Guild: "g", TextChannelID: "text", Track: song, QueueDone: true})
	r.Handle(ctx, events.SessionEmpty{Guild: "g", TextChannelID: "text", Reason: events.ReasonIdle})
	r.Handle(ctx, events.SessionEmpty{Guild: "g", TextChannelID: "text", Reason: events.ReasonStop})

	for _, want := range []string{
		"autoplay: ON",
		"➕ Added: `Song A`",
		"▶️ Now playing (2/3): `Song A`",
		"✅ Playback finished.",
		"👋 Voice channel empty.",
	} {
		if n.count(want) != 1 {
			t.Errorf("missing %q in %v", want, n.msgs)
		}
	}
	if len(n.msgs) != 5 {
		t.Errorf("sent %d messages, want 5", len(n.msgs))
	}
}

func TestPlaylistNotice(t *testing.T) {
	items := make([]sources.Track, 7)
	for i := range items {
		items[i] = sources.Track{ID: fmt.Sprint(i), Title: fmt.Sprintf("t%d", i+1)}
	}
	big := PlaylistNotice(events.PlaylistAdded{Title: "mix", Items: items}, 5)
	if !strings.Contains(big, "Total: 7 songs") || !strings.Contains(big, "5. t5") || strings.Contains(big, "6. t6") {
		t.Errorf("notice = %q", big)
	}
	small := PlaylistNotice(events.PlaylistAdded{Title: "mix", Items: items[:3]}, 5)
	if strings.Contains(small, "First") {
		t.Errorf("small playlists get no preview: %q", small)
	}
}
