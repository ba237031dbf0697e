package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keshon/elchicle/internal/music/resolver"
	"github.com/keshon/elchicle/internal/music/sources"
)

var (
	resolveStream bool
	playlistLimit int
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <url or search terms>",
	Short: "Resolve a link or search the way !play does",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.YTDLPRequestTimeout*2)
		defer cancel()

		r := resolver.New(resolverOptions(), nil)
		query := strings.Join(args, " ")

		var (
			track *sources.Track
			err   error
		)
		if sources.IsURL(query) {
			track, err = r.Resolve(ctx, sources.NormalizeURL(query))
		} else {
			track, err = r.Search(ctx, query)
		}
		if err != nil {
			return fmt.Errorf("%s", resolver.UserMessage(err))
		}

		okColor.Printf("✓  %s\n", track.String())
		fmt.Printf("   %s %s\n", dimColor.Sprint("url:"), track.URL)
		if track.StartAt > 0 {
			fmt.Printf("   %s %s\n", dimColor.Sprint("start:"), sources.FormatDuration(track.StartAt))
		}
		if resolveStream {
			link, err := r.StreamURL(ctx, track)
			if err != nil {
				return fmt.Errorf("%s", resolver.UserMessage(err))
			}
			fmt.Printf("   %s %s\n", dimColor.Sprint("stream:"), link)
		}
		return nil
	},
}

var playlistCmd = &cobra.Command{
	Use:   "playlist <url>",
	Short: "List the items of a playlist the way !playlist would queue them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.YTDLPRequestTimeout*2)
		defer cancel()

		p, err := resolver.New(resolverOptions(), nil).ExpandPlaylist(ctx, args[0])
		if err != nil {
			return fmt.Errorf("%s", resolver.UserMessage(err))
		}
		okColor.Printf("✓  %s (%d items)\n", p.Title, len(p.Items))
		for i, t := range p.Items {
			if playlistLimit > 0 && i == playlistLimit {
				dimColor.Printf("   ...and %d more\n", len(p.Items)-playlistLimit)
				break
			}
			fmt.Printf("%4d. %s\n", i+1, t.String())
		}
		return nil
	},
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveStream, "stream", false, "Also resolve the direct media URL")
	playlistCmd.Flags().IntVarP(&playlistLimit, "limit", "n", 25, "Items to list (0 = all)")
	rootCmd.AddCommand(resolveCmd, playlistCmd)
}
