package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keshon/elchicle/internal/cookies"
)

var (
	cookiesOut     string
	cookiesDomains string
	cookiesURL     string
)

var cookiesCmd = &cobra.Command{
	Use:   "cookies",
	Short: "Maintain the yt-dlp cookie file",
}

var cookiesFilterCmd = &cobra.Command{
	Use:   "filter <file>",
	Short: "Keep only the configured domains in a Netscape cookie file",
	Long: `Filter a Netscape-format cookie file, keeping comment lines and the
rows whose domain matches one of the configured domains.

Without --out the input file is replaced atomically.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kept, err := cookies.FilterFile(args[0], cookiesOut, domains())
		if err != nil {
			return err
		}
		out := cookiesOut
		if out == "" {
			out = args[0]
		}
		okColor.Printf("✓  filtered cookies written to %s (kept %d cookies)\n", out, kept)
		return nil
	},
}

var cookiesFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download and filter the cookie file once",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cookies.New(cfg)
		if cookiesURL != "" {
			f.URL = cookiesURL
		}
		if cookiesOut != "" {
			f.Path = cookiesOut
		}
		f.Domains = domains()
		if !f.Enabled() {
			return fmt.Errorf("no cookie URL: set YT_DLP_COOKIES_URL or pass --url")
		}
		if err := f.Fetch(cmd.Context()); err != nil {
			return err
		}
		okColor.Printf("✓  cookies saved to %s\n", f.Path)
		return nil
	},
}

func domains() []string {
	if cookiesDomains == "" {
		return cfg.CookieDomains
	}
	var out []string
	for _, d := range strings.Split(cookiesDomains, ",") {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}

func init() {
	cookiesCmd.PersistentFlags().StringVarP(&cookiesOut, "out", "o", "", "Output file")
	cookiesCmd.PersistentFlags().StringVar(&cookiesDomains, "domains", "", "Comma-separated domains to keep (default: COOKIE_DOMAINS)")
	cookiesFetchCmd.Flags().StringVar(&cookiesURL, "url", "", "Download URL (default: YT_DLP_COOKIES_URL)")

	cookiesCmd.AddCommand(cookiesFilterCmd, cookiesFetchCmd)
	rootCmd.AddCommand(cookiesCmd)
}
