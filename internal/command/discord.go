// Package command holds the chat commands. Commands are transport-agnostic
// cmd.Command values; the gateway adapter passes a *MessageContext as the
// invocation payload.
package command

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/elchicle/pkg/cmd"
)

const embedColor = 0x0099ff

// Responder sends chat output. The gateway adapter implements it on top of
// the discordgo session.
type Responder interface {
	Send(ctx context.Context, channelID, text string) error
	SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) error
}

// MessageContext is what the gateway passes when executing a chat command.
type MessageContext struct {
	Session *discordgo.Session // nil outside the gateway
	Event   *discordgo.MessageCreate
	Args    []string
	Reply   Responder

	// VoiceChannelID is the author's current voice channel, "" if none.
	VoiceChannelID string
}

func (m *MessageContext) GuildID() string   { return m.Event.GuildID }
func (m *MessageContext) ChannelID() string { return m.Event.ChannelID }

func (m *MessageContext) UserID() string {
	if m.Event.Author == nil {
		return ""
	}
	return m.Event.Author.ID
}

func (m *MessageContext) Username() string {
	if m.Event.Member != nil && m.Event.Member.Nick != "" {
		return m.Event.Member.Nick
	}
	if m.Event.Author == nil {
		return "Unknown"
	}
	if m.Event.Author.GlobalName != "" {
		return m.Event.Author.GlobalName
	}
	return m.Event.Author.Username
}

// Send replies in the channel the command came from.
func (m *MessageContext) Send(ctx context.Context, text string) error {
	return m.Reply.Send(ctx, m.ChannelID(), text)
}

func (m *MessageContext) Sendf(ctx context.Context, format string, args ...any) error {
	return m.Send(ctx, fmt.Sprintf(format, args...))
}

func (m *MessageContext) Embed(ctx context.Context, embed *discordgo.MessageEmbed) error {
	return m.Reply.SendEmbed(ctx, m.ChannelID(), embed)
}

// DiscordMeta is exposed so middleware and help can read presentation
// details without depending on concrete command types.
type DiscordMeta interface {
	Usage() string
	Category() string
}

// VoiceCommand marks commands that need the author in a voice channel the
// bot may join and speak in.
type VoiceCommand interface {
	RequiresVoice() bool
}

// DiscordCommand is what individual chat commands implement.
type DiscordCommand interface {
	Name() string
	Description() string
	Usage() string
	Category() string
	Run(ctx context.Context, mc *MessageContext) error
}

// DiscordAdapter adapts a DiscordCommand to cmd.Command so it can live in the
// universal registry. Optional interfaces are forwarded.
type DiscordAdapter struct {
	Cmd DiscordCommand
}

func (a *DiscordAdapter) Name() string        { return a.Cmd.Name() }
func (a *DiscordAdapter) Description() string { return a.Cmd.Description() }
func (a *DiscordAdapter) Usage() string       { return a.Cmd.Usage() }
func (a *DiscordAdapter) Category() string    { return a.Cmd.Category() }

func (a *DiscordAdapter) Aliases() []string {
	if al, ok := a.Cmd.(cmd.Aliased); ok {
		return al.Aliases()
	}
	return nil
}

func (a *DiscordAdapter) RequiresVoice() bool {
	v, ok := a.Cmd.(VoiceCommand)
	return ok && v.RequiresVoice()
}

func (a *DiscordAdapter) Run(ctx context.Context, inv *cmd.Invocation) error {
	mc, ok := FromInvocation(inv)
	if !ok {
		return fmt.Errorf("command %s: unsupported invocation payload %T", a.Cmd.Name(), inv.Data)
	}
	if mc.Args == nil {
		mc.Args = inv.Args
	}
	return a.Cmd.Run(ctx, mc)
}

// FromInvocation returns the chat context carried by inv.
func FromInvocation(inv *cmd.Invocation) (*MessageContext, bool) {
	mc, ok := inv.Data.(*MessageContext)
	return mc, ok && mc != nil && mc.Event != nil
}

// RegisterCommand adapts a chat command and registers it with middlewares.
func RegisterCommand(reg *cmd.Registry, c DiscordCommand, mws ...cmd.Middleware) {
	reg.Register(&DiscordAdapter{Cmd: c}, mws...)
}
