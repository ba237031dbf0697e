// Package discord is the gateway adapter: it turns chat messages into
// command invocations and voice state updates into idle checks.
package discord

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"github.com/keshon/elchicle/internal/command"
	"github.com/keshon/elchicle/pkg/cmd"
	"github.com/keshon/elchicle/pkg/util"
)

// StatusText is shown as the bot's listening activity.
const StatusText = "!help for commands"

// VoiceWatcher is told about every voice state change in a guild.
type VoiceWatcher interface {
	OnVoiceStateChange(guildID string)
}

type Deps struct {
	Registry  *cmd.Registry
	Messenger *Messenger
	Presence  *Presence
	Idle      VoiceWatcher // optional
}

// Bot owns the gateway session.
type Bot struct {
	dg     *discordgo.Session
	prefix string
	deps   Deps

	ctx context.Context
	wg  sync.WaitGroup
}

// NewSession creates an unopened gateway session for token.
func NewSession(token string) (*discordgo.Session, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent
	dg.StateEnabled = true
	return dg, nil
}

func New(dg *discordgo.Session, prefix string, deps Deps) *Bot {
	return &Bot{dg: dg, prefix: prefix, deps: deps}
}

// Run opens the session and blocks until ctx is done. Commands still running
// at shutdown are waited for after their context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.ctx = ctx
	b.dg.AddHandler(b.onReady)
	b.dg.AddHandler(b.onMessageCreate)
	b.dg.AddHandler(b.onVoiceStateUpdate)

	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}

	<-ctx.Done()
	log.Info().Str("component", "discord").Msg("❎ Shutdown signal received. Cleaning up...")
	b.wg.Wait()
	return b.dg.Close()
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	err := s.UpdateStatusComplex(discordgo.UpdateStatusData{
		Status: string(discordgo.StatusOnline),
		Activities: []*discordgo.Activity{{
			Name: StatusText,
			Type: discordgo.ActivityTypeListening,
		}},
	})
	if err != nil {
		log.Warn().Str("component", "discord").Err(err).Msg("failed to set status")
	}
	log.Info().Str("component", "discord").Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("✅ Discord bot is running")
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	inv, ok := cmd.Parse(b.prefix, m.Content)
	if !ok {
		return
	}
	c := b.deps.Registry.Get(inv.Name)
	if c == nil {
		return
	}

	mc := &command.MessageContext{
		Session:        s,
		Event:          m,
		Args:           inv.Args,
		Reply:          b.deps.Messenger,
		VoiceChannelID: b.deps.Presence.UserChannel(m.GuildID, m.Author.ID),
	}
	inv.Data = mc

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.execute(c, inv, mc)
	}()
}

func (b *Bot) execute(c cmd.Command, inv *cmd.Invocation, mc *command.MessageContext) {
	if err := c.Run(b.ctx, inv); err != nil {
		log.Error().Str("component", "discord").Str("command", c.Name()).Str("guild", mc.GuildID()).Err(err).Msg("error running command")
		_ = mc.Send(context.WithoutCancel(b.ctx), "❌ Error: "+util.Truncate(err.Error(), 1000))
	}
}

func (b *Bot) onVoiceStateUpdate(_ *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if b.deps.Idle == nil || v.VoiceState == nil {
		return
	}
	b.deps.Idle.OnVoiceStateChange(v.GuildID)
}
