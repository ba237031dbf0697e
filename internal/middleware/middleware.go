// Package middleware wraps chat commands with the checks and bookkeeping
// every command goes through.
package middleware

import (
	"context"

	"github.com/keshon/elchicle/internal/command"
	"github.com/keshon/elchicle/pkg/cmd"
)

// WithGuildOnly drops commands sent outside a server.
func WithGuildOnly() cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			if mc, ok := command.FromInvocation(inv); ok && mc.GuildID() == "" {
				return nil
			}
			return c.Run(ctx, inv)
		})
	}
}
