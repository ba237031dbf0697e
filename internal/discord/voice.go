package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"github.com/keshon/elchicle/internal/music/player"
	"github.com/keshon/elchicle/internal/music/stream"
)

// Voice joins voice channels through the gateway session.
type Voice struct {
	s *discordgo.Session
}

func NewVoice(s *discordgo.Session) *Voice {
	return &Voice{s: s}
}

// Join connects deafened to channelID. The gateway call has no context, so
// a cancelled join is abandoned and its late connection dropped.
func (v *Voice) Join(ctx context.Context, guildID, channelID string) (player.Conn, error) {
	type joined struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	done := make(chan joined, 1)
	go func() {
		vc, err := v.s.ChannelVoiceJoin(guildID, channelID, false, true)
		done <- joined{vc, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if j := <-done; j.err == nil && j.vc != nil {
				_ = j.vc.Disconnect()
			}
		}()
		return nil, ctx.Err()
	case j := <-done:
		if j.err != nil {
			return nil, fmt.Errorf("join voice channel %s: %w", channelID, j.err)
		}
		log.Debug().Str("component", "voice").Str("guild", guildID).Str("channel", channelID).Msg("joined voice")
		return &voiceConn{vc: j.vc, sink: stream.VoiceSink{VC: j.vc}}, nil
	}
}

type voiceConn struct {
	vc   *discordgo.VoiceConnection
	sink stream.VoiceSink
}

func (c *voiceConn) Send(ctx context.Context, packet []byte) error { return c.sink.Send(ctx, packet) }
func (c *voiceConn) Speaking(on bool) error                        { return c.vc.Speaking(on) }
func (c *voiceConn) Disconnect() error                             { return c.vc.Disconnect() }

func (c *voiceConn) ChannelID() string {
	c.vc.RLock()
	defer c.vc.RUnlock()
	return c.vc.ChannelID
}
