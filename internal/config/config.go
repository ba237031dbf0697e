// Package config loads the bot configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	DiscordToken  string `env:"DISCORD_TOKEN"`
	CommandPrefix string `env:"COMMAND_PREFIX" envDefault:"!"`
	Port          int    `env:"PORT" envDefault:"3000"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile       string `env:"LOG_FILE"`
	Environment   string `env:"ENVIRONMENT" envDefault:"production"`
	StoragePath   string `env:"STORAGE_PATH" envDefault:"datastore.json"`

	FFmpegPath          string        `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	YTDLPPath           string        `env:"YT_DLP_PATH" envDefault:"yt-dlp"`
	PythonCmd           string        `env:"PYTHON_CMD" envDefault:"python3"`
	YTDLPUserAgent      string        `env:"YT_DLP_USER_AGENT"`
	YTDLPQuiet          bool          `env:"YT_DLP_QUIET" envDefault:"true"`
	YTDLPSocketTimeout  time.Duration `env:"YT_DLP_SOCKET_TIMEOUT" envDefault:"30s"`
	YTDLPRequestTimeout time.Duration `env:"YT_DLP_REQUEST_TIMEOUT" envDefault:"25s"`

	// YTDLPCookies points at an existing cookie file. When empty and
	// CookiesURL is set, the downloaded file at CookiesPath is used.
	YTDLPCookies           string        `env:"YT_DLP_COOKIES"`
	CookiesURL             string        `env:"YT_DLP_COOKIES_URL"`
	CookiesPath            string        `env:"COOKIES_PATH" envDefault:"/app/cookies/youtube.txt"`
	CookiesRefreshInterval time.Duration `env:"COOKIES_REFRESH_INTERVAL" envDefault:"30m"`
	CookieDomains          []string      `env:"COOKIE_DOMAINS" envDefault:"youtube.com,youtube-nocookie.com,googlevideo.com,google.com" envSeparator:","`

	MinResolutionInterval time.Duration `env:"MIN_RESOLUTION_INTERVAL" envDefault:"3500ms"`
	EnqueueDelay          time.Duration `env:"ENQUEUE_DELAY" envDefault:"450ms"`
	BackoffBase           time.Duration `env:"BACKOFF_BASE" envDefault:"3500ms"`
	BackoffStep           time.Duration `env:"BACKOFF_STEP" envDefault:"300ms"`
	MaxPlayRetries        int           `env:"MAX_PLAY_RETRIES" envDefault:"6"`
	PlaylistAttempts      int           `env:"PLAYLIST_ATTEMPTS" envDefault:"3"`
	SongRetryCeiling      int           `env:"SONG_RETRY_CEILING" envDefault:"1"`
	SongRetryDelay        time.Duration `env:"SONG_RETRY_DELAY" envDefault:"3s"`
	InterruptGrace        time.Duration `env:"INTERRUPT_GRACE" envDefault:"5s"`
	IdleTimeout           time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`

	IntroURL        string        `env:"INTRO_URL"`
	IntroSettle     time.Duration `env:"INTRO_SETTLE" envDefault:"1200ms"`
	DefaultVolume   int           `env:"DEFAULT_VOLUME" envDefault:"50"`
	PlaylistPreview int           `env:"PLAYLIST_PREVIEW" envDefault:"5"`
	FailedPreview   int           `env:"FAILED_PREVIEW" envDefault:"6"`
	Autoplay        bool          `env:"AUTOPLAY" envDefault:"true"`
	RelatedLimit    int           `env:"RELATED_LIMIT" envDefault:"10"`
}

var ErrNoToken = errors.New("DISCORD_TOKEN is not set")

// Load reads an optional .env file and parses the environment.
func Load() (*Config, error) {
	loadDotEnv()
	return Parse()
}

// LoadTools is Load for the operator CLI, which never needs a token.
func LoadTools() (*Config, error) {
	loadDotEnv()
	return parse(false)
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("could not read .env file")
	}
}

// Parse builds a Config from the current environment only.
func Parse() (*Config, error) {
	return parse(true)
}

func parse(requireToken bool) (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if requireToken && cfg.DiscordToken == "" {
		return nil, ErrNoToken
	}
	if cfg.DefaultVolume < 1 || cfg.DefaultVolume > 100 {
		return nil, fmt.Errorf("DEFAULT_VOLUME must be between 1 and 100, got %d", cfg.DefaultVolume)
	}
	if cfg.SongRetryCeiling < 0 {
		cfg.SongRetryCeiling = 0
	}
	return &cfg, nil
}

// CookieFile returns the cookie file handed to yt-dlp, or "" when none is configured.
func (c *Config) CookieFile() string {
	if c.YTDLPCookies != "" {
		return c.YTDLPCookies
	}
	if c.CookiesURL != "" {
		return c.CookiesPath
	}
	return ""
}

// Summary lists the effective tool configuration for diagnostics.
func (c *Config) Summary() map[string]string {
	cookies := c.CookieFile()
	if cookies == "" {
		cookies = "(none)"
	}
	return map[string]string{
		"FFMPEG_PATH":             c.FFmpegPath,
		"YT_DLP_PATH":             c.YTDLPPath,
		"PYTHON_CMD":              c.PythonCmd,
		"YT_DLP_COOKIES":          cookies,
		"MIN_RESOLUTION_INTERVAL": c.MinResolutionInterval.String(),
		"MAX_PLAY_RETRIES":        fmt.Sprint(c.MaxPlayRetries),
		"ENQUEUE_DELAY":           c.EnqueueDelay.String(),
		"IDLE_TIMEOUT":            c.IdleTimeout.String(),
		"ENVIRONMENT":             c.Environment,
	}
}
