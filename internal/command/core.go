package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/elchicle/internal/config"
	"github.com/keshon/elchicle/internal/diag"
	"github.com/keshon/elchicle/pkg/cmd"
)

const categoryMaintenance = "🛠️ Maintenance"

type HelpCommand struct {
	Registry *cmd.Registry
	Prefix   string
}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows this help" }
func (c *HelpCommand) Usage() string       { return "help" }
func (c *HelpCommand) Category() string    { return categoryMaintenance }

func (c *HelpCommand) Run(ctx context.Context, mc *MessageContext) error {
	return mc.Embed(ctx, HelpEmbed(c.Registry.GetAll(), c.Prefix))
}

// HelpEmbed lists commands grouped by category, categories ordered by
// config.CategoryWeights.
func HelpEmbed(all []cmd.Command, prefix string) *discordgo.MessageEmbed {
	byCategory := make(map[string][]string)
	for _, c := range all {
		meta, ok := cmd.Root(c).(DiscordMeta)
		if !ok {
			continue
		}
		line := fmt.Sprintf("`%s%s` %s", prefix, meta.Usage(), c.Description())
		byCategory[meta.Category()] = append(byCategory[meta.Category()], line)
	}

	categories := make([]string, 0, len(byCategory))
	for cat := range byCategory {
		categories = append(categories, cat)
	}
	sort.Slice(categories, func(i, j int) bool {
		wi, iok := config.CategoryWeights[categories[i]]
		wj, jok := config.CategoryWeights[categories[j]]
		if iok != jok {
			return iok
		}
		if wi != wj {
			return wi < wj
		}
		return categories[i] < categories[j]
	})

	embed := &discordgo.MessageEmbed{
		Color:       embedColor,
		Title:       "🎵 Music Bot Commands",
		Description: "List of all available commands:",
		Timestamp:   time.Now().Format(time.RFC3339),
	}
	for _, cat := range categories {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  cat,
			Value: strings.Join(byCategory[cat], "\n"),
		})
	}
	return embed
}

// DiagFunc collects a diagnostics report.
type DiagFunc func(ctx context.Context) diag.Report

type DiagCommand struct {
	Collect DiagFunc
}

func (c *DiagCommand) Name() string        { return "diag" }
func (c *DiagCommand) Description() string { return "Quick check of ffmpeg, yt-dlp and cookies" }
func (c *DiagCommand) Usage() string       { return "diag" }
func (c *DiagCommand) Category() string    { return categoryMaintenance }
func (c *DiagCommand) Aliases() []string   { return []string{"elchicle"} }

func (c *DiagCommand) Run(ctx context.Context, mc *MessageContext) error {
	if err := mc.Send(ctx, "🧪 Running diagnostics..."); err != nil {
		return err
	}
	return mc.Send(ctx, c.Collect(ctx).Format())
}
