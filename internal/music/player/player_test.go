package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/keshon/elchicle/internal/music/events"
	"github.com/keshon/elchicle/internal/music/sources"
	"github.com/keshon/elchicle/internal/music/stream"
)

type fakeConn struct {
	mu           sync.Mutex
	disconnected bool
}

func (c *fakeConn) Send(context.Context, []byte) error { return nil }
func (c *fakeConn) Speaking(bool) error               { return nil }
func (c *fakeConn) ChannelID() string                 { return "voice" }
func (c *fakeConn) Disconnect() error {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
	return nil
}

type fakeVoice struct {
	conn *fakeConn
	err  error
}

func (v *fakeVoice) Join(context.Context, string, string) (Conn, error) {
	if v.err != nil {
		return nil, v.err
	}
	return v.conn, nil
}

// fakeSource blocks until finished, failed or closed.
type fakeSource struct {
	id     string
	offset time.Duration

	end     chan struct{}
	closed  chan struct{}
	once    sync.Once
	waitErr error
}

func (s *fakeSource) Read([]byte) (int, error) {
	select {
	case <-s.end:
		return 0, io.EOF
	case <-s.closed:
		return 0, io.ErrClosedPipe
	}
}

func (s *fakeSource) Wait() error { return s.waitErr }

func (s *fakeSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSource) finish() { close(s.end) }

func (s *fakeSource) fail() {
	s.waitErr = fmt.Errorf("%w: ffmpeg exited", stream.ErrPipeline)
	close(s.end)
}

type fakeOpener struct {
	opened chan *fakeSource
	broken map[string]error
}

func newOpener() *fakeOpener {
	return &fakeOpener{opened: make(chan *fakeSource, 32), broken: map[string]error{}}
}

func (o *fakeOpener) Open(_ context.Context, track *sources.Track, offset time.Duration) (stream.Source, error) {
	if err := o.broken[track.ID]; err != nil {
		return nil, err
	}
	s := &fakeSource{id: track.ID, offset: offset, end: make(chan struct{}), closed: make(chan struct{})}
	o.opened <- s
	return s, nil
}

func (o *fakeOpener) next(t *testing.T) *fakeSource {
	t.Helper()
	select {
	case s := <-o.opened:
		return s
	case <-time.After(time.Second):
		t.Fatal("no track was opened")
		return nil
	}
}

func (o *fakeOpener) none(t *testing.T) {
	t.Helper()
	select {
	case s := <-o.opened:
		t.Fatalf("unexpected open of %q", s.id)
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeEncoder struct{}

func (fakeEncoder) Encode([]int16, int, int) ([]byte, error) { return []byte{0}, nil }

type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	r.evs = append(r.evs, e)
	r.mu.Unlock()
}

func (r *recorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.evs...)
}

func (r *recorder) wait(t *testing.T, match func(events.Event) bool) events.Event {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, e := range r.all() {
			if match(e) {
				return e
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected event was not published")
	return nil
}

type memPrefs struct {
	mu     sync.Mutex
	volume map[string]int
	repeat map[string]string
}

func (p *memPrefs) Volume(g string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.volume[g]
	return v, ok
}

func (p *memPrefs) SetVolume(g string, v int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume[g] = v
	return nil
}

func (p *memPrefs) Repeat(g string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.repeat[g]
	return v, ok
}

func (p *memPrefs) SetRepeat(g, mode string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.repeat[g] = mode
	return nil
}

type harness struct {
	m      *Manager
	opener *fakeOpener
	rec    *recorder
	conn   *fakeConn
	voice  *fakeVoice
}

func newHarness(t *testing.T, related RelatedFunc) *harness {
	t.Helper()
	h := &harness{opener: newOpener(), rec: &recorder{}, conn: &fakeConn{}}
	h.voice = &fakeVoice{conn: h.conn}
	h.m = NewManager(Deps{
		Voice:      h.voice,
		Opener:     h.opener,
		NewEncoder: func() (stream.Encoder, error) { return fakeEncoder{}, nil },
		Events:     h.rec,
		Related:    related,
	}, Options{DefaultVolume: 50, Autoplay: related != nil})
	t.Cleanup(func() { h.m.Teardown("g") })
	return h
}

var target = Target{GuildID: "g", VoiceChannelID: "voice", TextChannelID: "text"}

func track(id string) sources.Track {
	return sources.Track{ID: id, Title: "song " + id, URL: "https://www.youtube.com/watch?v=" + id}
}

func (h *harness) enqueue(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if _, err := h.m.Enqueue(context.Background(), target, track(id), true); err != nil {
			t.Fatalf("Enqueue(%s): %v", id, err)
		}
	}
}

func TestQueuePlaysInOrder(t *testing.T) {
	h := newHarness(t, nil)
	h.enqueue(t, "a", "b", "c")

	for _, want := range []string{"a", "b", "c"} {
		s := h.opener.next(t)
		if s.id != want {
			t.Fatalf("opened %q, want %q", s.id, want)
		}
		s.finish()
	}
	h.rec.wait(t, func(e events.Event) bool {
		f, ok := e.(events.SongFinished)
		return ok && f.QueueDone && f.Track.ID == "c"
	})

	var created, added int
	var started []events.SongStarted
	for _, e := range h.rec.all() {
		switch e := e.(type) {
		case events.QueueCreated:
			created++
		case events.SongAdded:
			added++
		case events.SongStarted:
			started = append(started, e)
		}
	}
	if created != 1 {
		t.Errorf("QueueCreated published %d times", created)
	}
	if added != 2 {
		t.Errorf("SongAdded published %d times, want 2", added)
	}
	if len(started) != 3 || started[2].Position != 3 || started[2].Total != 3 {
		t.Errorf("unexpected SongStarted events: %+v", started)
	}
}

func TestEnqueueReturnsPosition(t *testing.T) {
	h := newHarness(t, nil)
	pos, _ := h.m.Enqueue(context.Background(), target, track("a"), true)
	if pos != 1 {
		t.Errorf("first position = %d", pos)
	}
	pos, _ = h.m.Enqueue(context.Background(), target, track("b"), true)
	if pos != 2 {
		t.Errorf("second position = %d", pos)
	}
}

func TestPipelineFailureWaitsForDecision(t *testing.T) {
	h := newHarness(t, nil)
	h.enqueue(t, "a", "b")

	h.opener.next(t).fail()
	ev := h.rec.wait(t, func(e events.Event) bool { _, ok := e.(events.Error); return ok }).(events.Error)
	if !ev.Pipeline || !ev.HasNext || ev.Track.ID != "a" {
		t.Fatalf("error event = %+v", ev)
	}
	h.opener.none(t)

	if err := h.m.Replay("g"); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if s := h.opener.next(t); s.id != "a" {
		t.Fatalf("replay opened %q", s.id)
	}
	if err := h.m.Skip("g"); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if s := h.opener.next(t); s.id != "b" {
		t.Fatalf("skip opened %q", s.id)
	}
}

func TestReplayKeepsStartOffset(t *testing.T) {
	h := newHarness(t, nil)
	tr := track("a")
	tr.StartAt = 90 * time.Second
	if _, err := h.m.Enqueue(context.Background(), target, tr, true); err != nil {
		t.Fatal(err)
	}
	first := h.opener.next(t)
	if first.offset != 90*time.Second {
		t.Fatalf("first open offset = %v", first.offset)
	}
	first.fail()
	h.rec.wait(t, func(e events.Event) bool { _, ok := e.(events.Error); return ok })

	if err := h.m.Replay("g"); err != nil {
		t.Fatal(err)
	}
	if s := h.opener.next(t); s.offset != 90*time.Second {
		t.Errorf("replay offset = %v, want 1m30s", s.offset)
	}
	if cur, ok := h.m.Current("g"); !ok || cur.ID != "a" {
		t.Errorf("Current = %+v, %v", cur, ok)
	}
}

func TestControlsUnblockStalledSource(t *testing.T) {
	tests := []struct {
		name string
		op   func(m *Manager) error
	}{
		{"skip", func(m *Manager) error { return m.Skip("g") }},
		{"stop", func(m *Manager) error { return m.Stop("g", false) }},
		{"teardown", func(m *Manager) error { m.Teardown("g"); return nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.enqueue(t, "a", "b")
			stalled := h.opener.next(t)

			done := make(chan error, 1)
			go func() { done <- tt.op(h.m) }()
			select {
			case err := <-done:
				if err != nil {
					t.Fatal(err)
				}
			case <-time.After(time.Second):
				t.Fatal("control operation blocked behind a stalled read")
			}
			select {
			case <-stalled.closed:
			default:
				t.Error("stalled source was not closed")
			}
		})
	}
}

func TestResolveFailureMovesOn(t *testing.T) {
	h := newHarness(t, nil)
	h.opener.broken["a"] = errors.New("video unavailable")
	h.enqueue(t, "a", "b")

	if s := h.opener.next(t); s.id != "b" {
		t.Fatalf("opened %q, want b", s.id)
	}
	ev := h.rec.wait(t, func(e events.Event) bool { _, ok := e.(events.Error); return ok }).(events.Error)
	if ev.Pipeline {
		t.Error("resolution failure reported as pipeline failure")
	}
}

func TestSkip(t *testing.T) {
	h := newHarness(t, nil)
	h.enqueue(t, "a")
	h.opener.next(t)

	if err := h.m.Skip("g"); !errors.Is(err, ErrNoNext) {
		t.Fatalf("Skip without next = %v", err)
	}
	h.enqueue(t, "b")
	if err := h.m.Skip("g"); err != nil {
		t.Fatal(err)
	}
	if s := h.opener.next(t); s.id != "b" {
		t.Fatalf("opened %q", s.id)
	}
	snap, _ := h.m.Snapshot("g")
	if snap.Played != 1 || snap.Current.ID != "b" {
		t.Errorf("snapshot = %+v", snap)
	}
	if err := h.m.Skip("other"); !errors.Is(err, ErrNoQueue) {
		t.Errorf("Skip on unknown guild = %v", err)
	}
}

func TestRepeatSong(t *testing.T) {
	h := newHarness(t, nil)
	h.enqueue(t, "a", "b")
	if err := h.m.SetRepeat("g", RepeatSong); err != nil {
		t.Fatal(err)
	}
	h.opener.next(t).finish()
	if s := h.opener.next(t); s.id != "a" {
		t.Fatalf("song loop opened %q", s.id)
	}
}

func TestRepeatQueueCycles(t *testing.T) {
	h := newHarness(t, nil)
	h.enqueue(t, "a", "b")
	_ = h.m.SetRepeat("g", RepeatQueue)

	for _, want := range []string{"a", "b", "a", "b"} {
		s := h.opener.next(t)
		if s.id != want {
			t.Fatalf("opened %q, want %q", s.id, want)
		}
		s.finish()
	}
}

func TestPauseResume(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.m.Pause("g"); !errors.Is(err, ErrNoQueue) {
		t.Fatalf("Pause without queue = %v", err)
	}
	h.enqueue(t, "a")
	h.opener.next(t)

	if err := h.m.Pause("g"); err != nil {
		t.Fatal(err)
	}
	if err := h.m.Pause("g"); !errors.Is(err, ErrAlreadyPaused) {
		t.Errorf("second Pause = %v", err)
	}
	if snap, _ := h.m.Snapshot("g"); !snap.Paused {
		t.Error("snapshot should report paused")
	}
	if err := h.m.Resume("g"); err != nil {
		t.Fatal(err)
	}
	if err := h.m.Resume("g"); !errors.Is(err, ErrNotPaused) {
		t.Errorf("second Resume = %v", err)
	}
}

func TestRemove(t *testing.T) {
	h := newHarness(t, nil)
	h.enqueue(t, "a", "b", "c")
	h.opener.next(t)

	if _, err := h.m.Remove("g", 1); !errors.Is(err, ErrRemoveCurrent) {
		t.Errorf("Remove(1) = %v", err)
	}
	if _, err := h.m.Remove("g", 4); !errors.Is(err, ErrBadIndex) {
		t.Errorf("Remove(4) = %v", err)
	}
	removed, err := h.m.Remove("g", 2)
	if err != nil || removed.ID != "b" {
		t.Fatalf("Remove(2) = %v, %v", removed.ID, err)
	}
	snap, _ := h.m.Snapshot("g")
	if len(snap.Upcoming) != 1 || snap.Upcoming[0].ID != "c" {
		t.Errorf("upcoming = %+v", snap.Upcoming)
	}
}

func TestSeek(t *testing.T) {
	h := newHarness(t, nil)
	tr := track("a")
	tr.Duration = time.Minute
	if _, err := h.m.Enqueue(context.Background(), target, tr, true); err != nil {
		t.Fatal(err)
	}
	h.opener.next(t)

	if err := h.m.Seek("g", 90*time.Second); !errors.Is(err, ErrSeekRange) {
		t.Errorf("Seek past end = %v", err)
	}
	if err := h.m.Seek("g", 30*time.Second); err != nil {
		t.Fatal(err)
	}
	if s := h.opener.next(t); s.offset != 30*time.Second {
		t.Errorf("offset = %v", s.offset)
	}
}

func TestStartOffsetFromTrack(t *testing.T) {
	h := newHarness(t, nil)
	tr := track("a")
	tr.StartAt = 42 * time.Second
	if _, err := h.m.Enqueue(context.Background(), target, tr, true); err != nil {
		t.Fatal(err)
	}
	if s := h.opener.next(t); s.offset != 42*time.Second {
		t.Errorf("offset = %v", s.offset)
	}
}

func TestVolumeIsPersisted(t *testing.T) {
	prefs := &memPrefs{volume: map[string]int{"g": 80}, repeat: map[string]string{"g": "queue"}}
	h := &harness{opener: newOpener(), rec: &recorder{}, conn: &fakeConn{}}
	h.m = NewManager(Deps{
		Voice:      &fakeVoice{conn: h.conn},
		Opener:     h.opener,
		NewEncoder: func() (stream.Encoder, error) { return fakeEncoder{}, nil },
		Events:     h.rec,
		Prefs:      prefs,
	}, Options{})
	defer h.m.Teardown("g")
	h.enqueue(t, "a")

	snap, _ := h.m.Snapshot("g")
	if snap.Volume != 80 || snap.Repeat != RepeatQueue {
		t.Fatalf("restored prefs: volume=%d repeat=%v", snap.Volume, snap.Repeat)
	}
	for _, v := range []int{0, 101} {
		if err := h.m.SetVolume("g", v); !errors.Is(err, ErrBadVolume) {
			t.Errorf("SetVolume(%d) = %v", v, err)
		}
	}
	if err := h.m.SetVolume("g", 30); err != nil {
		t.Fatal(err)
	}
	if v, _ := prefs.Volume("g"); v != 30 {
		t.Errorf("persisted volume = %d", v)
	}
}

func TestTeardownLeavesVoice(t *testing.T) {
	h := newHarness(t, nil)
	h.enqueue(t, "a")
	src := h.opener.next(t)

	if !h.m.Teardown("g") {
		t.Fatal("Teardown should report an existing queue")
	}
	select {
	case <-src.closed:
	case <-time.After(time.Second):
		t.Fatal("source not closed")
	}
	if !h.conn.disconnected {
		t.Error("voice connection not closed")
	}
	if h.m.Has("g") || h.m.Teardown("g") {
		t.Error("queue survived teardown")
	}
}

func TestStopKeepsQueueForNextEnqueue(t *testing.T) {
	h := newHarness(t, nil)
	h.enqueue(t, "a", "b")
	h.opener.next(t)

	if err := h.m.Stop("g", false); err != nil {
		t.Fatal(err)
	}
	snap, _ := h.m.Snapshot("g")
	if snap.Current != nil || snap.Playing {
		t.Fatalf("snapshot after stop = %+v", snap)
	}
	h.enqueue(t, "c")
	if s := h.opener.next(t); s.id != "c" {
		t.Fatalf("opened %q", s.id)
	}
}

func TestJoinFailureDropsQueue(t *testing.T) {
	h := newHarness(t, nil)
	h.voice.err = errors.New("missing permissions")
	if _, err := h.m.Enqueue(context.Background(), target, track("a"), true); err == nil {
		t.Fatal("expected join error")
	}
	if h.m.Has("g") {
		t.Error("queue kept after failed join")
	}
}

func TestAutoplaySkipsPlayedItems(t *testing.T) {
	related := func(_ context.Context, id string, _ int) ([]sources.Track, error) {
		return []sources.Track{track("a"), track("x")}, nil
	}
	h := newHarness(t, related)
	h.enqueue(t, "a")
	h.opener.next(t).finish()

	s := h.opener.next(t)
	if s.id != "x" {
		t.Fatalf("autoplay opened %q, want x", s.id)
	}
	ev := h.rec.wait(t, func(e events.Event) bool { _, ok := e.(events.SongAdded); return ok }).(events.SongAdded)
	if ev.Track.Requester != "autoplay" {
		t.Errorf("requester = %q", ev.Track.Requester)
	}
}

func TestShuffleKeepsCurrent(t *testing.T) {
	h := newHarness(t, nil)
	h.enqueue(t, "a", "b", "c", "d", "e")
	h.opener.next(t)

	_ = h.m.Shuffle("g")
	snap, _ := h.m.Snapshot("g")
	if snap.Current.ID != "a" || snap.Total() != 5 {
		t.Fatalf("snapshot after shuffle = %+v", snap)
	}
}

func TestParseRepeat(t *testing.T) {
	tests := []struct {
		in   string
		want Repeat
		err  bool
	}{
		{"", RepeatOff, false},
		{"off", RepeatOff, false},
		{"SONG", RepeatSong, false},
		{"track", RepeatSong, false},
		{"queue", RepeatQueue, false},
		{"list", RepeatQueue, false},
		{"forever", RepeatOff, true},
	}
	for _, tt := range tests {
		got, err := ParseRepeat(tt.in)
		if (err != nil) != tt.err || got != tt.want {
			t.Errorf("ParseRepeat(%q) = %v, %v", tt.in, got, err)
		}
	}
}
