package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/elchicle/pkg/util"
)

// MaxMessageLength is Discord's limit for a plain message.
const MaxMessageLength = 2000

type channelSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Messenger posts to text channels. It serves as the command responder and
// as the notifier of the orchestrator and relay.
type Messenger struct {
	s channelSender
}

func NewMessenger(s *discordgo.Session) *Messenger {
	return &Messenger{s: s}
}

func (m *Messenger) Send(ctx context.Context, channelID, text string) error {
	if channelID == "" || text == "" {
		return nil
	}
	if _, err := m.s.ChannelMessageSend(channelID, util.Truncate(text, MaxMessageLength), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send message to %s: %w", channelID, err)
	}
	return nil
}

func (m *Messenger) SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) error {
	if channelID == "" || embed == nil {
		return nil
	}
	if _, err := m.s.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send embed to %s: %w", channelID, err)
	}
	return nil
}

// Notify implements the orchestrator and relay notifier.
func (m *Messenger) Notify(ctx context.Context, channelID, text string) error {
	return m.Send(ctx, channelID, text)
}
