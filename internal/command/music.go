package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"github.com/keshon/elchicle/internal/music/events"
	"github.com/keshon/elchicle/internal/music/orchestrator"
	"github.com/keshon/elchicle/internal/music/player"
	"github.com/keshon/elchicle/internal/music/sources"
)

const (
	categoryPlayback = "🎶 Playback"
	categoryQueue    = "📋 Queue"
	categorySettings = "⚙️ Settings"

	queueListLimit   = 15
	defaultThumbnail = "https://i.imgur.com/AfFp7pu.png"
)

// Orchestrator accepts play requests and owns session teardown.
type Orchestrator interface {
	Handle(ctx context.Context, req orchestrator.Request) orchestrator.Result
	Interrupt(guildID string) bool
	Teardown(guildID, reason string) bool
}

// Queue is the per-guild playback queue.
type Queue interface {
	Skip(guildID string) error
	Pause(guildID string) error
	Resume(guildID string) error
	Seek(guildID string, offset time.Duration) error
	Shuffle(guildID string) error
	SetRepeat(guildID string, mode player.Repeat) error
	SetVolume(guildID string, volume int) error
	Remove(guildID string, index int) (sources.Track, error)
	Snapshot(guildID string) (player.Snapshot, error)
}

// queueError renders a queue control failure for chat.
func queueError(err error) string {
	switch {
	case errors.Is(err, player.ErrNoQueue):
		return "❌ There are no songs in the queue."
	case errors.Is(err, player.ErrNotPlaying):
		return "❌ No songs are playing."
	default:
		return fmt.Sprintf("❌ Error: %v", err)
	}
}

// =============================================================================
// Play / Playlist
// =============================================================================

type PlayCommand struct {
	Orchestrator Orchestrator
}

func (c *PlayCommand) Name() string        { return "play" }
func (c *PlayCommand) Description() string { return "Plays a link or searches YouTube" }
func (c *PlayCommand) Usage() string       { return "play [url/search]" }
func (c *PlayCommand) Category() string    { return categoryPlayback }
func (c *PlayCommand) RequiresVoice() bool { return true }

func (c *PlayCommand) Run(ctx context.Context, mc *MessageContext) error {
	query := strings.TrimSpace(strings.Join(mc.Args, " "))
	if query == "" {
		return mc.Send(ctx, "⚠️ You must type the name of a song or artist.")
	}
	res := c.Orchestrator.Handle(ctx, request(mc, query, false))
	log.Debug().Str("component", "command").Str("request", res.RequestID).Str("state", string(res.State)).Msg("play handled")
	return nil
}

type PlaylistCommand struct {
	Orchestrator Orchestrator
}

func (c *PlaylistCommand) Name() string        { return "playlist" }
func (c *PlaylistCommand) Description() string { return "Loads a YouTube/YouTube Music playlist into the queue" }
func (c *PlaylistCommand) Usage() string       { return "playlist [url]" }
func (c *PlaylistCommand) Category() string    { return categoryPlayback }
func (c *PlaylistCommand) RequiresVoice() bool { return true }

func (c *PlaylistCommand) Run(ctx context.Context, mc *MessageContext) error {
	if len(mc.Args) == 0 {
		return mc.Send(ctx, "⚠️ You must pass the URL of a playlist or album.")
	}
	res := c.Orchestrator.Handle(ctx, request(mc, mc.Args[0], true))
	log.Debug().Str("component", "command").Str("request", res.RequestID).
		Int("added", res.Added).Int("skipped", res.Skipped).Msg("playlist handled")
	return nil
}

func request(mc *MessageContext, query string, playlist bool) orchestrator.Request {
	return orchestrator.Request{
		GuildID:        mc.GuildID(),
		VoiceChannelID: mc.VoiceChannelID,
		TextChannelID:  mc.ChannelID(),
		Requester:      mc.Username(),
		RequesterID:    mc.UserID(),
		Query:          query,
		Playlist:       playlist,
	}
}

// =============================================================================
// Transport controls
// =============================================================================

type SkipCommand struct{ Queue Queue }

func (c *SkipCommand) Name() string        { return "skip" }
func (c *SkipCommand) Description() string { return "Skips the current song" }
func (c *SkipCommand) Usage() string       { return "skip" }
func (c *SkipCommand) Category() string    { return categoryPlayback }

func (c *SkipCommand) Run(ctx context.Context, mc *MessageContext) error {
	if err := c.Queue.Skip(mc.GuildID()); err != nil {
		return mc.Send(ctx, queueError(err))
	}
	return mc.Send(ctx, "⏭️ Song skipped.")
}

type StopCommand struct{ Orchestrator Orchestrator }

func (c *StopCommand) Name() string        { return "stop" }
func (c *StopCommand) Description() string { return "Stops playback and clears the queue" }
func (c *StopCommand) Usage() string       { return "stop" }
func (c *StopCommand) Category() string    { return categoryPlayback }

func (c *StopCommand) Run(ctx context.Context, mc *MessageContext) error {
	if !c.Orchestrator.Teardown(mc.GuildID(), events.ReasonStop) {
		return mc.Send(ctx, "❌ No songs are playing.")
	}
	return mc.Send(ctx, "🛑 Playback stopped.")
}

type PauseCommand struct{ Queue Queue }

func (c *PauseCommand) Name() string        { return "pause" }
func (c *PauseCommand) Description() string { return "Pauses playback" }
func (c *PauseCommand) Usage() string       { return "pause" }
func (c *PauseCommand) Category() string    { return categoryPlayback }

func (c *PauseCommand) Run(ctx context.Context, mc *MessageContext) error {
	err := c.Queue.Pause(mc.GuildID())
	switch {
	case errors.Is(err, player.ErrAlreadyPaused):
		return mc.Send(ctx, "⏸️ Playback is already paused.")
	case err != nil:
		return mc.Send(ctx, queueError(err))
	}
	return mc.Send(ctx, "⏸️ Playback paused.")
}

type ResumeCommand struct{ Queue Queue }

func (c *ResumeCommand) Name() string        { return "resume" }
func (c *ResumeCommand) Description() string { return "Resumes playback" }
func (c *ResumeCommand) Usage() string       { return "resume" }
func (c *ResumeCommand) Category() string    { return categoryPlayback }

func (c *ResumeCommand) Run(ctx context.Context, mc *MessageContext) error {
	err := c.Queue.Resume(mc.GuildID())
	switch {
	case errors.Is(err, player.ErrNotPaused):
		return mc.Send(ctx, "▶️ Playback is not paused.")
	case err != nil:
		return mc.Send(ctx, queueError(err))
	}
	return mc.Send(ctx, "▶️ Playback resumed.")
}

type SeekCommand struct{ Queue Queue }

func (c *SeekCommand) Name() string        { return "seek" }
func (c *SeekCommand) Description() string { return "Jumps to a position in the current song" }
func (c *SeekCommand) Usage() string       { return "seek [1:30 / 90 / 1m30s]" }
func (c *SeekCommand) Category() string    { return categoryPlayback }

func (c *SeekCommand) Run(ctx context.Context, mc *MessageContext) error {
	if len(mc.Args) == 0 {
		return mc.Send(ctx, "⚠️ Tell me where to jump, e.g. `1:30`.")
	}
	offset, err := sources.ParseTimestamp(mc.Args[0])
	if err != nil {
		return mc.Send(ctx, "⚠️ Invalid time. Use HH:MM:SS, MM:SS, seconds or 1h2m3s.")
	}
	switch err := c.Queue.Seek(mc.GuildID(), offset); {
	case errors.Is(err, player.ErrSeekRange):
		return mc.Send(ctx, "⚠️ That position is outside the current song.")
	case err != nil:
		return mc.Send(ctx, queueError(err))
	}
	return mc.Sendf(ctx, "⏩ Jumped to %s.", sources.FormatDuration(offset))
}

type InterruptCommand struct{ Orchestrator Orchestrator }

func (c *InterruptCommand) Name() string        { return "interrupt" }
func (c *InterruptCommand) Description() string { return "Interrupts everything in progress and resets the bot" }
func (c *InterruptCommand) Usage() string       { return "interrupt" }
func (c *InterruptCommand) Category() string    { return categoryPlayback }

func (c *InterruptCommand) Run(ctx context.Context, mc *MessageContext) error {
	if !c.Orchestrator.Interrupt(mc.GuildID()) {
		return mc.Send(ctx, "⛔ An interrupt is already in progress.")
	}
	log.Info().Str("component", "command").Str("guild", mc.GuildID()).Str("user", mc.UserID()).Msg("interrupt executed")
	return mc.Send(ctx, "⛔ **Interrupt executed. Bot reset.**")
}

// =============================================================================
// Queue management
// =============================================================================

type QueueCommand struct{ Queue Queue }

func (c *QueueCommand) Name() string        { return "queue" }
func (c *QueueCommand) Description() string { return "Shows the current queue" }
func (c *QueueCommand) Usage() string       { return "queue" }
func (c *QueueCommand) Category() string    { return categoryQueue }

func (c *QueueCommand) Run(ctx context.Context, mc *MessageContext) error {
	snap, err := c.Queue.Snapshot(mc.GuildID())
	if err != nil || snap.Total() == 0 {
		return mc.Send(ctx, "❌ There are no songs in the queue.")
	}
	return mc.Send(ctx, FormatQueue(snap, queueListLimit))
}

// FormatQueue lists the first limit items of the queue with its totals.
func FormatQueue(snap player.Snapshot, limit int) string {
	songs := make([]sources.Track, 0, snap.Total())
	if snap.Current != nil {
		songs = append(songs, *snap.Current)
	}
	songs = append(songs, snap.Upcoming...)

	var total time.Duration
	for _, s := range songs {
		total += s.Duration
	}

	var b strings.Builder
	b.WriteString("🎵 **Queue**\n")
	fmt.Fprintf(&b, "• Total: %d songs\n", len(songs))
	fmt.Fprintf(&b, "• Total duration: %s\n", humanDuration(total))
	fmt.Fprintf(&b, "• Loop: %s\n\n**Songs:**\n", loopLabel(snap.Repeat))
	for i, s := range songs {
		if i == limit {
			break
		}
		fmt.Fprintf(&b, "%d. %s - %s\n", i+1, s.Title, s.DisplayDuration())
	}
	out := strings.TrimRight(b.String(), "\n")
	if len(songs) > limit {
		out += fmt.Sprintf("\n\n...and %d more", len(songs)-limit)
	}
	return out
}

func humanDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

func loopLabel(r player.Repeat) string {
	switch r {
	case player.RepeatSong:
		return "Song"
	case player.RepeatQueue:
		return "Queue"
	default:
		return "Off"
	}
}

type RemoveCommand struct{ Queue Queue }

func (c *RemoveCommand) Name() string        { return "remove" }
func (c *RemoveCommand) Description() string { return "Removes a song from the queue by its index" }
func (c *RemoveCommand) Usage() string       { return "remove [index]" }
func (c *RemoveCommand) Category() string    { return categoryQueue }

func (c *RemoveCommand) Run(ctx context.Context, mc *MessageContext) error {
	snap, err := c.Queue.Snapshot(mc.GuildID())
	if err != nil || snap.Total() == 0 {
		return mc.Send(ctx, "❌ There are no songs in the queue.")
	}
	index := -1
	if len(mc.Args) > 0 {
		if n, err := strconv.Atoi(mc.Args[0]); err == nil {
			index = n
		}
	}
	if index < 1 || index > snap.Total() {
		return mc.Sendf(ctx, "⚠️ You must enter a valid number between 1 and %d.", snap.Total())
	}

	removed, err := c.Queue.Remove(mc.GuildID(), index)
	switch {
	case errors.Is(err, player.ErrRemoveCurrent):
		return mc.Send(ctx, "⚠️ That song is playing right now, use `!skip` instead.")
	case errors.Is(err, player.ErrBadIndex):
		return mc.Sendf(ctx, "⚠️ You must enter a valid number between 1 and %d.", snap.Total())
	case err != nil:
		return mc.Send(ctx, queueError(err))
	}
	return mc.Sendf(ctx, "🗑️ Removed: `%s`", removed.Title)
}

type ShuffleCommand struct{ Queue Queue }

func (c *ShuffleCommand) Name() string        { return "shuffle" }
func (c *ShuffleCommand) Description() string { return "Shuffles the queue" }
func (c *ShuffleCommand) Usage() string       { return "shuffle" }
func (c *ShuffleCommand) Category() string    { return categoryQueue }

func (c *ShuffleCommand) Run(ctx context.Context, mc *MessageContext) error {
	if err := c.Queue.Shuffle(mc.GuildID()); err != nil {
		return mc.Send(ctx, queueError(err))
	}
	return mc.Send(ctx, "🔀 Queue shuffled.")
}

type LoopCommand struct{ Queue Queue }

func (c *LoopCommand) Name() string        { return "loop" }
func (c *LoopCommand) Description() string { return "Sets the loop mode" }
func (c *LoopCommand) Usage() string       { return "loop [off/song/queue]" }
func (c *LoopCommand) Category() string    { return categorySettings }

func (c *LoopCommand) Run(ctx context.Context, mc *MessageContext) error {
	arg := ""
	if len(mc.Args) > 0 {
		arg = mc.Args[0]
	}
	mode, err := player.ParseRepeat(arg)
	if err != nil {
		return mc.Send(ctx, "❌ Invalid loop mode. Use: off, song or queue")
	}
	if err := c.Queue.SetRepeat(mc.GuildID(), mode); err != nil {
		return mc.Send(ctx, queueError(err))
	}
	switch mode {
	case player.RepeatSong:
		return mc.Send(ctx, "🔁 Song loop enabled")
	case player.RepeatQueue:
		return mc.Send(ctx, "🔁 Queue loop enabled")
	default:
		return mc.Send(ctx, "🔁 Loop disabled")
	}
}

type VolumeCommand struct{ Queue Queue }

func (c *VolumeCommand) Name() string        { return "volume" }
func (c *VolumeCommand) Description() string { return "Sets the volume (1-100)" }
func (c *VolumeCommand) Usage() string       { return "volume [1-100]" }
func (c *VolumeCommand) Category() string    { return categorySettings }

func (c *VolumeCommand) Run(ctx context.Context, mc *MessageContext) error {
	volume := 0
	if len(mc.Args) > 0 {
		volume, _ = strconv.Atoi(strings.TrimSuffix(mc.Args[0], "%"))
	}
	if volume < 1 || volume > 100 {
		return mc.Send(ctx, "⚠️ Please specify a volume between 1 and 100.")
	}
	if err := c.Queue.SetVolume(mc.GuildID(), volume); err != nil {
		return mc.Send(ctx, queueError(err))
	}
	return mc.Sendf(ctx, "🔊 Volume set to %d%%", volume)
}

type NowPlayingCommand struct{ Queue Queue }

func (c *NowPlayingCommand) Name() string        { return "np" }
func (c *NowPlayingCommand) Description() string { return "Shows the song that is playing" }
func (c *NowPlayingCommand) Usage() string       { return "np" }
func (c *NowPlayingCommand) Category() string    { return categoryQueue }
func (c *NowPlayingCommand) Aliases() []string   { return []string{"nowplaying"} }

func (c *NowPlayingCommand) Run(ctx context.Context, mc *MessageContext) error {
	snap, err := c.Queue.Snapshot(mc.GuildID())
	if err != nil || snap.Current == nil {
		return mc.Send(ctx, "❌ No songs are playing.")
	}
	return mc.Embed(ctx, NowPlayingEmbed(snap))
}

// NowPlayingEmbed describes the current item.
func NowPlayingEmbed(snap player.Snapshot) *discordgo.MessageEmbed {
	song := snap.Current
	duration := song.DisplayDuration()
	if snap.Elapsed > 0 && !song.IsLive {
		duration = sources.FormatDuration(snap.Elapsed) + " / " + duration
	}
	requester := "Unknown"
	switch {
	case song.RequesterID != "":
		requester = "<@" + song.RequesterID + ">"
	case song.Requester != "":
		requester = song.Requester
	}
	link := song.URL
	if link == "" {
		link = "Not available"
	}
	thumb := song.Thumbnail
	if thumb == "" {
		thumb = defaultThumbnail
	}
	title := "🎵 Now playing"
	if snap.Paused {
		title += " (paused)"
	}
	return &discordgo.MessageEmbed{
		Color:       embedColor,
		Title:       title,
		Description: "**" + song.Title + "**",
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Duration", Value: duration, Inline: true},
			{Name: "Requested by", Value: requester, Inline: true},
			{Name: "URL", Value: link},
		},
		Thumbnail: &discordgo.MessageEmbedThumbnail{URL: thumb},
	}
}
