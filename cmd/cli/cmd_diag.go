package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/keshon/elchicle/internal/diag"
	"github.com/keshon/elchicle/internal/music/resolver"
)

var diagTimeout time.Duration

var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Check ffmpeg, yt-dlp and the cookie file",
	RunE: func(cmd *cobra.Command, args []string) error {
		rep := diag.Run(cmd.Context(), diag.Options{
			FFmpegPath: cfg.FFmpegPath,
			YTDLP:      resolver.NewYTDLP(resolverOptions()).Version,
			CookieFile: cfg.CookieFile(),
			Settings:   cfg.Summary(),
			Timeout:    diagTimeout,
		})

		printProbe("ffmpeg", rep.FFmpeg)
		printProbe("yt-dlp", rep.YTDLP)
		switch c := rep.Cookies; {
		case c.Path == "":
			dimColor.Println("-  cookies: not configured")
		case !c.Present:
			failColor.Printf("✗  cookies: %s missing\n", c.Path)
		default:
			okColor.Printf("✓  cookies: %s (%d bytes, updated %s)\n", c.Path, c.Size, c.Modified.Format(time.DateTime))
		}

		keys := make([]string, 0, len(rep.Settings))
		for k := range rep.Settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Println()
		for _, k := range keys {
			fmt.Printf("%s %s\n", dimColor.Sprintf("%-24s", k), rep.Settings[k])
		}

		if !rep.OK() {
			return fmt.Errorf("some tools are not usable")
		}
		return nil
	},
}

func printProbe(name string, p diag.Probe) {
	if p.Err != nil {
		failColor.Printf("✗  %s: %v\n", name, p.Err)
		return
	}
	okColor.Printf("✓  %s: %s\n", name, p.Version)
}

func init() {
	diagCmd.Flags().DurationVar(&diagTimeout, "timeout", 15*time.Second, "Timeout for each tool probe")
	rootCmd.AddCommand(diagCmd)
}
