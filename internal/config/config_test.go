package config

import (
	"errors"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "token")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	tests := []struct {
		name string
		got  any
		want any
	}{
		{"prefix", cfg.CommandPrefix, "!"},
		{"port", cfg.Port, 3000},
		{"min interval", cfg.MinResolutionInterval, 3500 * time.Millisecond},
		{"enqueue delay", cfg.EnqueueDelay, 450 * time.Millisecond},
		{"backoff step", cfg.BackoffStep, 300 * time.Millisecond},
		{"max retries", cfg.MaxPlayRetries, 6},
		{"ceiling", cfg.SongRetryCeiling, 1},
		{"grace", cfg.InterruptGrace, 5 * time.Second},
		{"idle", cfg.IdleTimeout, time.Minute},
		{"volume", cfg.DefaultVolume, 50},
		{"cookie refresh", cfg.CookiesRefreshInterval, 30 * time.Minute},
		{"domains", len(cfg.CookieDomains), 4},
		{"autoplay", cfg.Autoplay, true},
		{"related", cfg.RelatedLimit, 10},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestParseRequiresToken(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")
	if _, err := Parse(); !errors.Is(err, ErrNoToken) {
		t.Fatalf("err = %v, want ErrNoToken", err)
	}
}

func TestParseRejectsBadVolume(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("DEFAULT_VOLUME", "150")
	if _, err := Parse(); err == nil {
		t.Fatal("volume 150 accepted")
	}
}

func TestCookieFile(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"none", Config{CookiesPath: "/c.txt"}, ""},
		{"explicit", Config{YTDLPCookies: "/mine.txt", CookiesURL: "http://x", CookiesPath: "/c.txt"}, "/mine.txt"},
		{"downloaded", Config{CookiesURL: "http://x", CookiesPath: "/c.txt"}, "/c.txt"},
	}
	for _, tt := range tests {
		if got := tt.cfg.CookieFile(); got != tt.want {
			t.Errorf("%s: CookieFile() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestLoadToolsWithoutToken(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")
	if _, err := LoadTools(); err != nil {
		t.Fatalf("LoadTools: %v", err)
	}
}
