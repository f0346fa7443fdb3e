// Package config handles YAML configuration loading, environment variable
// expansion, defaults and validation for pelican.
package config

import (
	"time"

	"github.com/flemzord/pelican/internal/gateway"
	"github.com/flemzord/pelican/internal/logging"
	"github.com/flemzord/pelican/internal/telemetry"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	Telegram  TelegramConfig   `yaml:"telegram"`
	Dispatch  DispatchConfig   `yaml:"dispatch,omitempty"`
	Moderator ModeratorConfig  `yaml:"moderator,omitempty"`
	Gateway   gateway.Config   `yaml:"gateway,omitempty"`
	Telemetry telemetry.Config `yaml:"telemetry,omitempty"`
	Log       logging.Config   `yaml:"log,omitempty"`
	Bot       BotConfig        `yaml:"bot,omitempty"`
}

// TelegramConfig configures the Bot API transport.
type TelegramConfig struct {
	Token string `yaml:"token,omitempty"`

	// TokenKeyring reads the token from the OS keychain when Token is empty.
	TokenKeyring bool `yaml:"token_keyring,omitempty"`

	APIURL            string   `yaml:"api_url,omitempty"`
	PollingTimeout    int      `yaml:"polling_timeout,omitempty"`
	Limit             int      `yaml:"limit,omitempty"`
	AllowedUpdates    []string `yaml:"allowed_updates,omitempty"`
	RequestsPerSecond float64  `yaml:"requests_per_second,omitempty"`
	Workers           int      `yaml:"workers,omitempty"`
}

// DispatchConfig tunes the dispatch loop.
type DispatchConfig struct {
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
	DedupSize    int           `yaml:"dedup_size,omitempty"`
	Fluctuation  time.Duration `yaml:"fluctuation,omitempty"`
	MaxIdle      time.Duration `yaml:"max_idle,omitempty"`
}

// ModeratorConfig configures blacklist persistence.
type ModeratorConfig struct {
	// Path is the SQLite database file. Empty keeps the blacklist in memory.
	Path string `yaml:"path,omitempty"`
}

// BotConfig configures the bundled bot.
type BotConfig struct {
	MaxSessions    int           `yaml:"max_sessions,omitempty"`
	SessionTimeout time.Duration `yaml:"session_timeout,omitempty"`
	FloodHits      int           `yaml:"flood_hits,omitempty"`
	FloodWindow    time.Duration `yaml:"flood_window,omitempty"`
}

func (c *Config) withDefaults() {
	if c.Version == "" {
		c.Version = "1"
	}
	c.Telegram.defaults()
	c.Dispatch.defaults()
	c.Bot.defaults()
}

func (t *TelegramConfig) defaults() {
	if t.APIURL == "" {
		t.APIURL = "https://api.telegram.org"
	}
	if t.PollingTimeout == 0 {
		t.PollingTimeout = 10
	}
	if t.Limit == 0 {
		t.Limit = 100
	}
	if t.AllowedUpdates == nil {
		t.AllowedUpdates = []string{"message", "edited_message", "callback_query", "inline_query", "chosen_inline_result"}
	}
	if t.RequestsPerSecond == 0 {
		t.RequestsPerSecond = 30
	}
	if t.Workers == 0 {
		t.Workers = 4
	}
}

func (d *DispatchConfig) defaults() {
	if d.DedupSize == 0 {
		d.DedupSize = 1024
	}
	if d.Fluctuation == 0 {
		d.Fluctuation = 100 * time.Millisecond
	}
}

func (b *BotConfig) defaults() {
	if b.SessionTimeout == 0 {
		b.SessionTimeout = 30 * time.Minute
	}
	if b.FloodHits == 0 {
		b.FloodHits = 20
	}
	if b.FloodWindow == 0 {
		b.FloodWindow = 10 * time.Second
	}
}
