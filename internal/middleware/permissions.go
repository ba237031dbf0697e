package middleware

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/elchicle/internal/command"
	"github.com/keshon/elchicle/pkg/cmd"
)

var PermissionNames = map[int64]string{
	discordgo.PermissionViewChannel:  "View Channel",
	discordgo.PermissionSendMessages: "Send Messages",
	discordgo.PermissionEmbedLinks:   "Embed Links",
	discordgo.PermissionVoiceConnect: "Connect",
	discordgo.PermissionVoiceSpeak:   "Speak",
}

// voicePermissions are checked in order; the first missing one is reported.
var voicePermissions = []int64{
	discordgo.PermissionVoiceConnect,
	discordgo.PermissionVoiceSpeak,
}

// PermissionChecker reports the bot's effective permissions in a channel.
type PermissionChecker interface {
	BotPermissions(channelID string) (int64, error)
}

// WithVoicePermissionCheck refuses voice commands when the author is not in
// a voice channel or the bot may not connect and speak there.
func WithVoicePermissionCheck(checker PermissionChecker) cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			vc, ok := cmd.Root(c).(command.VoiceCommand)
			if !ok || !vc.RequiresVoice() {
				return c.Run(ctx, inv)
			}
			mc, ok := command.FromInvocation(inv)
			if !ok {
				return c.Run(ctx, inv)
			}
			if mc.VoiceChannelID == "" {
				return mc.Send(ctx, "⚠️ You must be in a voice channel.")
			}

			perms, err := checker.BotPermissions(mc.VoiceChannelID)
			if err != nil {
				return fmt.Errorf("failed to get bot permissions: %w", err)
			}
			if perms&discordgo.PermissionAdministrator != 0 {
				return c.Run(ctx, inv)
			}
			for _, p := range voicePermissions {
				if perms&p == 0 {
					return mc.Sendf(ctx, "❌ I don't have permission to **%s** in that channel.", PermissionNames[p])
				}
			}
			return c.Run(ctx, inv)
		})
	}
}
