package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/keshon/elchicle/internal/command"
	"github.com/keshon/elchicle/internal/config"
	"github.com/keshon/elchicle/internal/cookies"
	"github.com/keshon/elchicle/internal/diag"
	"github.com/keshon/elchicle/internal/discord"
	"github.com/keshon/elchicle/internal/health"
	"github.com/keshon/elchicle/internal/logging"
	"github.com/keshon/elchicle/internal/middleware"
	"github.com/keshon/elchicle/internal/music/events"
	"github.com/keshon/elchicle/internal/music/idle"
	"github.com/keshon/elchicle/internal/music/interrupt"
	"github.com/keshon/elchicle/internal/music/orchestrator"
	"github.com/keshon/elchicle/internal/music/player"
	"github.com/keshon/elchicle/internal/music/relay"
	"github.com/keshon/elchicle/internal/music/resolver"
	"github.com/keshon/elchicle/internal/music/session"
	"github.com/keshon/elchicle/internal/music/stream"
	"github.com/keshon/elchicle/internal/storage"
	"github.com/keshon/elchicle/pkg/cmd"
	"github.com/keshon/elchicle/pkg/jobmgr"
	"github.com/keshon/elchicle/pkg/retrylimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Setup("info", "production")
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, logging.RotatingFile(cfg.LogFile))
	}
	logging.SetupWithWriter(cfg.LogLevel, cfg.Environment, out)
	log.Info().Str("environment", cfg.Environment).Msg("starting elchicle")

	if cfg.CookieFile() == "" {
		log.Warn().Msg("⚠️ No YouTube cookies configured, some videos may require authentication")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("bot stopped")
		os.Exit(1)
	}
	log.Info().Msg("bot exited cleanly")
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := storage.New(ctx, cfg.StoragePath)
	if err != nil {
		return err
	}
	defer store.Close()

	dg, err := discord.NewSession(cfg.DiscordToken)
	if err != nil {
		return err
	}
	messenger := discord.NewMessenger(dg)
	presence := discord.NewPresence(dg.State)

	resolverOpts := resolver.Options{
		Executable:     cfg.YTDLPPath,
		PythonCmd:      cfg.PythonCmd,
		CookiesFile:    cfg.CookieFile(),
		UserAgent:      cfg.YTDLPUserAgent,
		SocketTimeout:  cfg.YTDLPSocketTimeout,
		RequestTimeout: cfg.YTDLPRequestTimeout,
		Quiet:          cfg.YTDLPQuiet,
	}
	res := resolver.New(resolverOpts, retrylimit.NewLimiter(cfg.MinResolutionInterval))

	bus := events.NewBus()
	players := player.NewManager(player.Deps{
		Voice:      discord.NewVoice(dg),
		Opener:     &stream.FFmpegOpener{FFmpegPath: cfg.FFmpegPath, Resolver: res, UserAgent: cfg.YTDLPUserAgent},
		NewEncoder: stream.NewOpusEncoder,
		Events:     bus,
		Related:    res.Related,
		Prefs:      store,
	}, player.Options{
		DefaultVolume: cfg.DefaultVolume,
		Autoplay:      cfg.Autoplay,
		RelatedLimit:  cfg.RelatedLimit,
	})

	sessions := session.NewRegistry()
	interrupts := interrupt.New(cfg.InterruptGrace)
	orch := orchestrator.New(orchestrator.Deps{
		Resolver:   res,
		Transport:  players,
		Sessions:   sessions,
		Interrupts: interrupts,
		Notifier:   messenger,
		Events:     bus,
	}, orchestrator.Options{
		MaxPlayRetries:   cfg.MaxPlayRetries,
		PlaylistAttempts: cfg.PlaylistAttempts,
		BackoffBase:      cfg.BackoffBase,
		BackoffStep:      cfg.BackoffStep,
		EnqueueDelay:     cfg.EnqueueDelay,
		IntroURL:         cfg.IntroURL,
		IntroSettle:      cfg.IntroSettle,
		FailedPreview:    cfg.FailedPreview,
	})

	rel := relay.New(messenger, players, sessions, relay.Options{
		RetryCeiling:    cfg.SongRetryCeiling,
		RetryDelay:      cfg.SongRetryDelay,
		PlaylistPreview: cfg.PlaylistPreview,
	})
	defer rel.Close()
	bus.Subscribe(rel.Handle)
	go bus.Run(ctx)

	monitor := idle.New(presence, sessions, interrupts, orch, cfg.IdleTimeout)

	probe := resolver.NewYTDLP(resolverOpts)
	registry := cmd.NewRegistry()
	command.RegisterAll(registry, command.Deps{
		Orchestrator: orch,
		Queue:        players,
		Prefix:       cfg.CommandPrefix,
		Diag: func(ctx context.Context) diag.Report {
			return diag.Run(ctx, diag.Options{
				FFmpegPath: cfg.FFmpegPath,
				YTDLP:      probe.Version,
				CookieFile: cfg.CookieFile(),
				Settings:   cfg.Summary(),
			})
		},
	},
		middleware.WithVoicePermissionCheck(presence),
		middleware.WithGuildOnly(),
		middleware.WithCommandLogger(store),
		middleware.WithRecover(),
	)

	jobs := jobmgr.NewManager()
	defer jobs.StopAll()
	if err := cookies.New(cfg).Start(ctx, jobs); err != nil {
		return err
	}
	if err := jobs.Start(ctx, "health", func(ctx context.Context) error {
		return health.Serve(ctx, cfg.Port)
	}); err != nil {
		return err
	}

	bot := discord.New(dg, cfg.CommandPrefix, discord.Deps{
		Registry:  registry,
		Messenger: messenger,
		Presence:  presence,
		Idle:      monitor,
	})
	err = bot.Run(ctx)

	for _, guildID := range sessions.GuildIDs() {
		orch.Teardown(guildID, events.ReasonStop)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
