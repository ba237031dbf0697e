package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/elchicle/internal/diag"
	"github.com/keshon/elchicle/internal/music/events"
	"github.com/keshon/elchicle/internal/music/orchestrator"
	"github.com/keshon/elchicle/internal/music/player"
	"github.com/keshon/elchicle/internal/music/sources"
	"github.com/keshon/elchicle/pkg/cmd"
)

type fakeResponder struct {
	mu     sync.Mutex
	texts  []string
	embeds []*discordgo.MessageEmbed
}

func (r *fakeResponder) Send(_ context.Context, _ string, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return nil
}

func (r *fakeResponder) SendEmbed(_ context.Context, _ string, e *discordgo.MessageEmbed) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeds = append(r.embeds, e)
	return nil
}

func (r *fakeResponder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.texts) == 0 {
		return ""
	}
	return r.texts[len(r.texts)-1]
}

type fakeOrchestrator struct {
	requests  []orchestrator.Request
	raised    map[string]bool
	teardowns []string
	hasQueue  bool
}

func (o *fakeOrchestrator) Handle(_ context.Context, req orchestrator.Request) orchestrator.Result {
	o.requests = append(o.requests, req)
	return orchestrator.Result{RequestID: "r1", State: orchestrator.StateDone}
}

func (o *fakeOrchestrator) Interrupt(guildID string) bool {
	if o.raised == nil {
		o.raised = map[string]bool{}
	}
	if o.raised[guildID] {
		return false
	}
	o.raised[guildID] = true
	return true
}

func (o *fakeOrchestrator) Teardown(guildID, reason string) bool {
	o.teardowns = append(o.teardowns, reason)
	return o.hasQueue
}

type fakeQueue struct {
	snap    player.Snapshot
	snapErr error
	err     error // returned by every control call
	calls   []string
}

func (q *fakeQueue) record(format string, args ...any) error {
	q.calls = append(q.calls, fmt.Sprintf(format, args...))
	return q.err
}

func (q *fakeQueue) Skip(string) error   { return q.record("skip") }
func (q *fakeQueue) Pause(string) error  { return q.record("pause") }
func (q *fakeQueue) Resume(string) error { return q.record("resume") }
func (q *fakeQueue) Shuffle(string) error {
	return q.record("shuffle")
}
func (q *fakeQueue) Seek(_ string, d time.Duration) error { return q.record("seek %s", d) }
func (q *fakeQueue) SetRepeat(_ string, m player.Repeat) error {
	return q.record("repeat %s", m)
}
func (q *fakeQueue) SetVolume(_ string, v int) error { return q.record("volume %d", v) }

func (q *fakeQueue) Remove(_ string, i int) (sources.Track, error) {
	if err := q.record("remove %d", i); err != nil {
		return sources.Track{}, err
	}
	return sources.Track{Title: "Removed Song"}, nil
}

func (q *fakeQueue) Snapshot(string) (player.Snapshot, error) { return q.snap, q.snapErr }

func message(args ...string) (*MessageContext, *fakeResponder) {
	r := &fakeResponder{}
	return &MessageContext{
		Event: &discordgo.MessageCreate{Message: &discordgo.Message{
			GuildID:   "g",
			ChannelID: "text",
			Author:    &discordgo.User{ID: "u1", Username: "dj"},
		}},
		Args:           args,
		Reply:          r,
		VoiceChannelID: "voice",
	}, r
}

func snapshot(n int) player.Snapshot {
	if n == 0 {
		return player.Snapshot{}
	}
	cur := sources.Track{Title: "Song 1", Duration: 3 * time.Minute}
	snap := player.Snapshot{Current: &cur}
	for i := 2; i <= n; i++ {
		snap.Upcoming = append(snap.Upcoming, sources.Track{Title: fmt.Sprintf("Song %d", i), Duration: 3 * time.Minute})
	}
	return snap
}

func TestPlayBuildsRequest(t *testing.T) {
	o := &fakeOrchestrator{}
	mc, _ := message("never", "gonna", "give")
	if err := (&PlayCommand{Orchestrator: o}).Run(context.Background(), mc); err != nil {
		t.Fatal(err)
	}
	if len(o.requests) != 1 {
		t.Fatalf("requests = %d", len(o.requests))
	}
	req := o.requests[0]
	if req.Query != "never gonna give" || req.Playlist || req.VoiceChannelID != "voice" ||
		req.TextChannelID != "text" || req.Requester != "dj" || req.RequesterID != "u1" {
		t.Errorf("request = %+v", req)
	}
}

func TestPlayAndPlaylistNeedAnArgument(t *testing.T) {
	o := &fakeOrchestrator{}
	for _, c := range []DiscordCommand{&PlayCommand{Orchestrator: o}, &PlaylistCommand{Orchestrator: o}} {
		mc, r := message()
		if err := c.Run(context.Background(), mc); err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(r.last(), "⚠️") {
			t.Errorf("%s: reply = %q", c.Name(), r.last())
		}
	}
	if len(o.requests) != 0 {
		t.Error("empty command reached the orchestrator")
	}
}

func TestPlaylistRequest(t *testing.T) {
	o := &fakeOrchestrator{}
	mc, _ := message("https://www.youtube.com/playlist?list=PL1", "ignored")
	(&PlaylistCommand{Orchestrator: o}).Run(context.Background(), mc)
	if len(o.requests) != 1 || !o.requests[0].Playlist || o.requests[0].Query != "https://www.youtube.com/playlist?list=PL1" {
		t.Errorf("requests = %+v", o.requests)
	}
}

func TestControlReplies(t *testing.T) {
	tests := []struct {
		name string
		cmd  func(q *fakeQueue) DiscordCommand
		err  error
		args []string
		want string
		call string
	}{
		{"skip", func(q *fakeQueue) DiscordCommand { return &SkipCommand{q} }, nil, nil, "⏭️ Song skipped.", "skip"},
		{"skip without queue", func(q *fakeQueue) DiscordCommand { return &SkipCommand{q} }, player.ErrNoQueue, nil, "❌ There are no songs in the queue.", "skip"},
		{"skip last song", func(q *fakeQueue) DiscordCommand { return &SkipCommand{q} }, player.ErrNoNext, nil, "❌ Error: there is no next song in the queue", "skip"},
		{"pause twice", func(q *fakeQueue) DiscordCommand { return &PauseCommand{q} }, player.ErrAlreadyPaused, nil, "⏸️ Playback is already paused.", "pause"},
		{"resume unpaused", func(q *fakeQueue) DiscordCommand { return &ResumeCommand{q} }, player.ErrNotPaused, nil, "▶️ Playback is not paused.", "resume"},
		{"shuffle", func(q *fakeQueue) DiscordCommand { return &ShuffleCommand{q} }, nil, nil, "🔀 Queue shuffled.", "shuffle"},
		{"loop song", func(q *fakeQueue) DiscordCommand { return &LoopCommand{q} }, nil, []string{"TRACK"}, "🔁 Song loop enabled", "repeat song"},
		{"loop default", func(q *fakeQueue) DiscordCommand { return &LoopCommand{q} }, nil, nil, "🔁 Loop disabled", "repeat off"},
		{"loop bogus", func(q *fakeQueue) DiscordCommand { return &LoopCommand{q} }, nil, []string{"forever"}, "❌ Invalid loop mode. Use: off, song or queue", ""},
		{"volume", func(q *fakeQueue) DiscordCommand { return &VolumeCommand{q} }, nil, []string{"80%"}, "🔊 Volume set to 80%", "volume 80"},
		{"volume range", func(q *fakeQueue) DiscordCommand { return &VolumeCommand{q} }, nil, []string{"150"}, "⚠️ Please specify a volume between 1 and 100.", ""},
		{"volume nan", func(q *fakeQueue) DiscordCommand { return &VolumeCommand{q} }, nil, []string{"loud"}, "⚠️ Please specify a volume between 1 and 100.", ""},
		{"seek", func(q *fakeQueue) DiscordCommand { return &SeekCommand{q} }, nil, []string{"1:30"}, "⏩ Jumped to 1:30.", "seek 1m30s"},
		{"seek bad time", func(q *fakeQueue) DiscordCommand { return &SeekCommand{q} }, nil, []string{"soon"}, "⚠️ Invalid time. Use HH:MM:SS, MM:SS, seconds or 1h2m3s.", ""},
		{"seek past end", func(q *fakeQueue) DiscordCommand { return &SeekCommand{q} }, player.ErrSeekRange, []string{"99:00"}, "⚠️ That position is outside the current song.", "seek 1h39m0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQueue{err: tt.err}
			mc, r := message(tt.args...)
			if err := tt.cmd(q).Run(context.Background(), mc); err != nil {
				t.Fatal(err)
			}
			if r.last() != tt.want {
				t.Errorf("reply = %q, want %q", r.last(), tt.want)
			}
			if tt.call == "" && len(q.calls) != 0 {
				t.Errorf("unexpected queue calls %v", q.calls)
			}
			if tt.call != "" && (len(q.calls) != 1 || q.calls[0] != tt.call) {
				t.Errorf("calls = %v, want [%s]", q.calls, tt.call)
			}
		})
	}
}

func TestStopAndInterrupt(t *testing.T) {
	o := &fakeOrchestrator{}
	mc, r := message()
	(&StopCommand{o}).Run(context.Background(), mc)
	if r.last() != "❌ No songs are playing." || o.teardowns[0] != events.ReasonStop {
		t.Errorf("stop without queue: %q %v", r.last(), o.teardowns)
	}

	o.hasQueue = true
	(&StopCommand{o}).Run(context.Background(), mc)
	if r.last() != "🛑 Playback stopped." {
		t.Errorf("stop: %q", r.last())
	}

	ic := &InterruptCommand{o}
	ic.Run(context.Background(), mc)
	if !strings.Contains(r.last(), "Interrupt executed") {
		t.Errorf("interrupt: %q", r.last())
	}
	ic.Run(context.Background(), mc)
	if !strings.Contains(r.last(), "already in progress") {
		t.Errorf("second interrupt: %q", r.last())
	}
}

func TestRemove(t *testing.T) {
	tests := []struct {
		name string
		args []string
		err  error
		want string
	}{
		{"no index", nil, nil, "⚠️ You must enter a valid number between 1 and 3."},
		{"not a number", []string{"two"}, nil, "⚠️ You must enter a valid number between 1 and 3."},
		{"too large", []string{"4"}, nil, "⚠️ You must enter a valid number between 1 and 3."},
		{"current", []string{"1"}, player.ErrRemoveCurrent, "⚠️ That song is playing right now, use `!skip` instead."},
		{"ok", []string{"3"}, nil, "🗑️ Removed: `Removed Song`"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQueue{snap: snapshot(3), err: tt.err}
			mc, r := message(tt.args...)
			(&RemoveCommand{q}).Run(context.Background(), mc)
			if r.last() != tt.want {
				t.Errorf("reply = %q, want %q", r.last(), tt.want)
			}
		})
	}

	q := &fakeQueue{snapErr: player.ErrNoQueue}
	mc, r := message("1")
	(&RemoveCommand{q}).Run(context.Background(), mc)
	if r.last() != "❌ There are no songs in the queue." {
		t.Errorf("empty queue: %q", r.last())
	}
}

func TestFormatQueue(t *testing.T) {
	snap := snapshot(17)
	snap.Repeat = player.RepeatQueue
	out := FormatQueue(snap, 15)

	for _, want := range []string{
		"• Total: 17 songs",
		"• Total duration: 51m",
		"• Loop: Queue",
		"1. Song 1 - 3:00",
		"15. Song 15 - 3:00",
		"\n\n...and 2 more",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in\n%s", want, out)
		}
	}
	if strings.Contains(out, "16. Song 16") {
		t.Error("listed more than 15 songs")
	}

	long := snapshot(2)
	long.Current.Duration = 2*time.Hour + 5*time.Minute
	if out := FormatQueue(long, 15); !strings.Contains(out, "2h 8m") || strings.Contains(out, "more") {
		t.Errorf("short queue:\n%s", out)
	}
}

func TestNowPlaying(t *testing.T) {
	q := &fakeQueue{}
	mc, r := message()
	(&NowPlayingCommand{q}).Run(context.Background(), mc)
	if r.last() != "❌ No songs are playing." {
		t.Errorf("idle np: %q", r.last())
	}

	q.snap = snapshot(1)
	q.snap.Current.RequesterID = "u1"
	q.snap.Elapsed = 30 * time.Second
	(&NowPlayingCommand{q}).Run(context.Background(), mc)
	if len(r.embeds) != 1 {
		t.Fatal("no embed sent")
	}
	e := r.embeds[0]
	if e.Description != "**Song 1**" || e.Thumbnail.URL != defaultThumbnail {
		t.Errorf("embed = %+v", e)
	}
	if e.Fields[0].Value != "0:30 / 3:00" || e.Fields[1].Value != "<@u1>" || e.Fields[2].Value != "Not available" {
		t.Errorf("fields = %v %v %v", e.Fields[0].Value, e.Fields[1].Value, e.Fields[2].Value)
	}
}

func TestRegistryAndHelp(t *testing.T) {
	reg := cmd.NewRegistry()
	RegisterAll(reg, Deps{
		Orchestrator: &fakeOrchestrator{},
		Queue:        &fakeQueue{},
		Diag:         func(context.Context) diag.Report { return diag.Report{} },
		Prefix:       "!",
	})

	for _, name := range []string{"play", "playlist", "skip", "stop", "pause", "resume", "queue", "remove",
		"volume", "shuffle", "loop", "np", "interrupt", "help", "diag", "seek", "nowplaying", "elchicle"} {
		if reg.Get(name) == nil {
			t.Errorf("%s not registered", name)
		}
	}

	mc, r := message()
	if err := reg.Get("help").Run(context.Background(), &cmd.Invocation{Name: "help", Data: mc}); err != nil {
		t.Fatal(err)
	}
	if len(r.embeds) != 1 {
		t.Fatal("help sent no embed")
	}
	var order []string
	for _, f := range r.embeds[0].Fields {
		order = append(order, f.Name)
	}
	want := []string{categoryPlayback, categoryQueue, categorySettings, categoryMaintenance}
	if strings.Join(order, "|") != strings.Join(want, "|") {
		t.Errorf("categories = %v", order)
	}
	if !strings.Contains(r.embeds[0].Fields[0].Value, "`!play [url/search]`") {
		t.Errorf("playback field = %q", r.embeds[0].Fields[0].Value)
	}
}

func TestAdapterRejectsForeignPayload(t *testing.T) {
	a := &DiscordAdapter{Cmd: &SkipCommand{Queue: &fakeQueue{}}}
	if err := a.Run(context.Background(), &cmd.Invocation{Data: "cli"}); err == nil {
		t.Fatal("foreign payload accepted")
	}
}

func TestAdapterFillsArgs(t *testing.T) {
	o := &fakeOrchestrator{}
	a := &DiscordAdapter{Cmd: &PlayCommand{Orchestrator: o}}
	mc, _ := message()
	mc.Args = nil
	if err := a.Run(context.Background(), &cmd.Invocation{Args: []string{"song"}, Data: mc}); err != nil {
		t.Fatal(err)
	}
	if len(o.requests) != 1 || o.requests[0].Query != "song" {
		t.Errorf("requests = %+v", o.requests)
	}
	if !a.RequiresVoice() {
		t.Error("play should require voice")
	}
}

func TestDiagCommand(t *testing.T) {
	c := &DiagCommand{Collect: func(context.Context) diag.Report {
		return diag.Report{FFmpeg: diag.Probe{Version: "ffmpeg version 6"}, YTDLP: diag.Probe{Err: errors.New("missing")}}
	}}
	mc, r := message()
	c.Run(context.Background(), mc)
	if len(r.texts) != 2 || !strings.Contains(r.texts[1], "❌ yt-dlp: missing") {
		t.Errorf("texts = %q", r.texts)
	}
}
