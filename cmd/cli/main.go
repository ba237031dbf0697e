// Command cli is the operator toolbox: tool diagnostics, cookie file
// maintenance and resolver checks without starting the bot.
package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/keshon/elchicle/internal/config"
	"github.com/keshon/elchicle/internal/logging"
	"github.com/keshon/elchicle/internal/music/resolver"
)

var (
	cfg     *config.Config
	verbose bool

	okColor   = color.New(color.FgHiGreen)
	failColor = color.New(color.FgHiRed, color.Bold)
	dimColor  = color.New(color.FgHiBlack)
)

var rootCmd = &cobra.Command{
	Use:           "elchicle-cli",
	Short:         "Maintenance commands for the elchicle music bot",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "warn"
		if verbose {
			level = "debug"
		}
		logging.Setup(level, "production")

		var err error
		cfg, err = config.LoadTools()
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output")
}

func resolverOptions() resolver.Options {
	return resolver.Options{
		Executable:     cfg.YTDLPPath,
		PythonCmd:      cfg.PythonCmd,
		CookiesFile:    cfg.CookieFile(),
		UserAgent:      cfg.YTDLPUserAgent,
		SocketTimeout:  cfg.YTDLPSocketTimeout,
		RequestTimeout: cfg.YTDLPRequestTimeout,
		Quiet:          cfg.YTDLPQuiet,
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		failColor.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
