package middleware

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keshon/elchicle/internal/command"
	"github.com/keshon/elchicle/internal/metrics"
	"github.com/keshon/elchicle/internal/storage"
	"github.com/keshon/elchicle/pkg/cmd"
)

// HistoryStore keeps the per-guild command history.
type HistoryStore interface {
	AppendCommandToHistory(guildID string, rec storage.CommandHistoryRecord) error
}

// WithCommandLogger logs every execution, counts it and appends it to the
// guild's history. A nil store only logs.
func WithCommandLogger(store HistoryStore) cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			start := time.Now()
			err := c.Run(ctx, inv)

			result := "ok"
			if err != nil {
				result = "error"
			}
			metrics.Commands.WithLabelValues(c.Name(), result).Inc()

			mc, ok := command.FromInvocation(inv)
			if !ok {
				return err
			}
			ev := log.Info()
			if err != nil {
				ev = log.Warn().Err(err)
			}
			ev.Str("component", "command").
				Str("command", c.Name()).
				Str("guild", mc.GuildID()).
				Str("user", mc.UserID()).
				Dur("took", time.Since(start)).
				Msg("command executed")

			if store != nil && mc.GuildID() != "" {
				rec := historyRecord(mc, c.Name())
				if e := store.AppendCommandToHistory(mc.GuildID(), rec); e != nil {
					log.Warn().Err(e).Str("command", c.Name()).Msg("failed to store command history")
				}
			}
			return err
		})
	}
}

func historyRecord(mc *command.MessageContext, name string) storage.CommandHistoryRecord {
	rec := storage.CommandHistoryRecord{
		ChannelID: mc.ChannelID(),
		UserID:    mc.UserID(),
		Username:  mc.Username(),
		Command:   name,
		Param:     strings.Join(mc.Args, " "),
		Datetime:  time.Now(),
	}
	if mc.Session != nil && mc.Session.State != nil {
		if ch, err := mc.Session.State.Channel(mc.ChannelID()); err == nil {
			rec.ChannelName = ch.Name
		}
		if g, err := mc.Session.State.Guild(mc.GuildID()); err == nil {
			rec.GuildName = g.Name
		}
	}
	return rec
}

// WithRecover turns a panicking command into an error and a chat reply.
func WithRecover() cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				log.Error().Str("component", "command").Str("command", c.Name()).
					Interface("panic", r).Bytes("stack", debug.Stack()).Msg("command panicked")
				metrics.Commands.WithLabelValues(c.Name(), "panic").Inc()
				if mc, ok := command.FromInvocation(inv); ok {
					_ = mc.Send(ctx, "❌ Something went wrong while running that command.")
				}
				err = fmt.Errorf("command %s panicked: %v", c.Name(), r)
			}()
			return c.Run(ctx, inv)
		})
	}
}
