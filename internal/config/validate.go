package config

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"slices"
)

var tokenPattern = regexp.MustCompile(`^\d{5,}:[A-Za-z0-9_-]{30,}$`)

// updateKinds lists the update types the dispatcher understands.
var updateKinds = []string{
	"message",
	"edited_message",
	"channel_post",
	"edited_channel_post",
	"callback_query",
	"inline_query",
	"chosen_inline_result",
}

// Validate checks the structural validity of a Config. All problems are
// reported together.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	errs = append(errs, validateTelegram(cfg.Telegram)...)
	errs = append(errs, validateDispatch(cfg.Dispatch)...)
	errs = append(errs, validateBot(cfg.Bot)...)

	if cfg.Gateway.Bind != "" {
		if _, err := net.ResolveTCPAddr("tcp", cfg.Gateway.Bind); err != nil {
			errs = append(errs, fmt.Errorf("config: gateway: invalid bind address %q", cfg.Gateway.Bind))
		}
	}
	if err := cfg.Log.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("config: %w", err))
	}
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("config: telemetry: sample_ratio %v out of range [0,1]", r))
	}

	return errors.Join(errs...)
}

func validateTelegram(t TelegramConfig) []error {
	var errs []error

	switch {
	case t.Token == "" && !t.TokenKeyring:
		errs = append(errs, errors.New("config: telegram: token is required (or set token_keyring)"))
	case t.Token != "" && !tokenPattern.MatchString(t.Token):
		errs = append(errs, errors.New("config: telegram: token has an invalid format"))
	}
	if t.PollingTimeout < 0 || t.PollingTimeout > 50 {
		errs = append(errs, fmt.Errorf("config: telegram: polling_timeout %d out of range [0,50]", t.PollingTimeout))
	}
	if t.Limit < 1 || t.Limit > 100 {
		errs = append(errs, fmt.Errorf("config: telegram: limit %d out of range [1,100]", t.Limit))
	}
	for _, k := range t.AllowedUpdates {
		if !slices.Contains(updateKinds, k) {
			errs = append(errs, fmt.Errorf("config: telegram: unknown update type %q", k))
		}
	}
	if t.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("config: telegram: requests_per_second must not be negative"))
	}
	if t.Workers < 1 {
		errs = append(errs, errors.New("config: telegram: workers must be at least 1"))
	}
	return errs
}

func validateDispatch(d DispatchConfig) []error {
	var errs []error
	if d.PollInterval < 0 {
		errs = append(errs, errors.New("config: dispatch: poll_interval must not be negative"))
	}
	if d.DedupSize < 0 {
		errs = append(errs, errors.New("config: dispatch: dedup_size must not be negative"))
	}
	if d.Fluctuation < 0 {
		errs = append(errs, errors.New("config: dispatch: fluctuation must not be negative"))
	}
	if d.MaxIdle < 0 {
		errs = append(errs, errors.New("config: dispatch: max_idle must not be negative"))
	}
	return errs
}

func validateBot(b BotConfig) []error {
	var errs []error
	if b.MaxSessions < 0 {
		errs = append(errs, errors.New("config: bot: max_sessions must not be negative"))
	}
	if b.SessionTimeout < 0 {
		errs = append(errs, errors.New("config: bot: session_timeout must not be negative"))
	}
	if b.FloodHits < 0 || b.FloodWindow < 0 {
		errs = append(errs, errors.New("config: bot: flood limits must not be negative"))
	}
	return errs
}
