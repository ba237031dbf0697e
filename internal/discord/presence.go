package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Presence answers voice presence questions from the gateway state cache.
type Presence struct {
	state *discordgo.State
}

func NewPresence(state *discordgo.State) *Presence {
	return &Presence{state: state}
}

func (p *Presence) botID() string {
	if p.state.User == nil {
		return ""
	}
	return p.state.User.ID
}

// UserChannel returns the voice channel userID is in, or "".
func (p *Presence) UserChannel(guildID, userID string) string {
	if guildID == "" || userID == "" {
		return ""
	}
	vs, err := p.state.VoiceState(guildID, userID)
	if err != nil || vs == nil {
		return ""
	}
	return vs.ChannelID
}

// BotChannel returns the voice channel the bot is joined to, or "".
func (p *Presence) BotChannel(guildID string) string {
	return p.UserChannel(guildID, p.botID())
}

// Listeners counts the members in channelID other than bots.
func (p *Presence) Listeners(guildID, channelID string) int {
	g, err := p.state.Guild(guildID)
	if err != nil {
		return 0
	}

	type occupant struct {
		userID string
		member *discordgo.Member
	}
	var inChannel []occupant
	p.state.RLock()
	for _, vs := range g.VoiceStates {
		if vs.ChannelID == channelID && vs.UserID != p.botID() {
			inChannel = append(inChannel, occupant{vs.UserID, vs.Member})
		}
	}
	p.state.RUnlock()

	n := 0
	for _, o := range inChannel {
		m := o.member
		if m == nil || m.User == nil {
			m, _ = p.state.Member(guildID, o.userID)
		}
		if m != nil && m.User != nil && m.User.Bot {
			continue
		}
		n++
	}
	return n
}

// BotPermissions returns the bot's effective permissions in channelID.
func (p *Presence) BotPermissions(channelID string) (int64, error) {
	id := p.botID()
	if id == "" {
		return 0, fmt.Errorf("gateway not ready")
	}
	return p.state.UserChannelPermissions(id, channelID)
}
