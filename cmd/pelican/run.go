package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/flemzord/pelican/internal/config"
	"github.com/flemzord/pelican/internal/demo"
	"github.com/flemzord/pelican/internal/dispatch"
	"github.com/flemzord/pelican/internal/gateway"
	"github.com/flemzord/pelican/internal/keychain"
	"github.com/flemzord/pelican/internal/logging"
	"github.com/flemzord/pelican/internal/metrics"
	"github.com/flemzord/pelican/internal/moderator"
	"github.com/flemzord/pelican/internal/moderator/sqlite"
	"github.com/flemzord/pelican/internal/telegram"
	"github.com/flemzord/pelican/internal/telemetry"
)

// run wires every component from cfg and blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logOut io.Writer) error {
	token, err := resolveToken(cfg.Telegram)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log, logOut, token)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	tracer, shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("pelican: telemetry shutdown failed", "error", err)
		}
	}()

	mod, closeStore, err := openModerator(ctx, cfg.Moderator, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	client, err := telegram.NewClient(token, cfg.Telegram.APIURL,
		telegram.WithRateLimit(cfg.Telegram.RequestsPerSecond, burst(cfg.Telegram.RequestsPerSecond)),
	)
	if err != nil {
		return err
	}
	me, err := client.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("checking bot token: %w", err)
	}
	logger.Info("pelican: authenticated", "bot", me.Username, "id", me.ID)

	// Long polling fails while a webhook is set.
	if err := client.DeleteWebhook(ctx); err != nil {
		return err
	}

	queue := telegram.NewQueue(client, cfg.Telegram.Workers, logger)
	queue.Start(ctx)
	defer queue.Close()

	m := metrics.New()
	d, err := dispatch.New(dispatch.Config{
		Source: telegram.NewSource(client, telegram.SourceConfig{
			Limit:          cfg.Telegram.Limit,
			PollingTimeout: cfg.Telegram.PollingTimeout,
			AllowedUpdates: cfg.Telegram.AllowedUpdates,
		}),
		Sender:       client,
		Queue:        queue,
		Moderator:    mod,
		Metrics:      m,
		Tracer:       tracer,
		Logger:       logger,
		PollInterval: cfg.Dispatch.PollInterval,
		DedupSize:    cfg.Dispatch.DedupSize,
		Fluctuation:  cfg.Dispatch.Fluctuation,
		MaxIdle:      cfg.Dispatch.MaxIdle,
	})
	if err != nil {
		return err
	}

	bot, err := demo.Install(d, demo.Config{
		MaxSessions:    cfg.Bot.MaxSessions,
		SessionTimeout: cfg.Bot.SessionTimeout,
		FloodHits:      cfg.Bot.FloodHits,
		FloodWindow:    cfg.Bot.FloodWindow,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer bot.Stop()

	if _, err := client.Call(ctx, "setMyCommands", map[string]any{"commands": bot.Commands()}); err != nil {
		logger.Warn("pelican: setMyCommands failed", "error", err)
	}

	if cfg.Gateway.Bind != "" {
		gw := gateway.New(cfg.Gateway, gateway.Deps{
			Dispatcher: d,
			Blacklist:  mod,
			Metrics:    m.Handler(),
			Logger:     logger,
		})
		if err := gw.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := gw.Stop(context.Background()); err != nil {
				logger.Warn("pelican: gateway shutdown failed", "error", err)
			}
		}()
	}

	return d.Run(ctx)
}

// resolveToken returns the configured token, falling back to the OS
// keychain when token_keyring is set.
func resolveToken(cfg config.TelegramConfig) (string, error) {
	if cfg.Token != "" {
		return cfg.Token, nil
	}
	if !cfg.TokenKeyring {
		return "", telegram.ErrNoToken
	}
	token, err := keychain.Token()
	if errors.Is(err, keychain.ErrNotFound) {
		return "", fmt.Errorf("no token in keychain, run 'pelican token set': %w", err)
	}
	return token, err
}

// openModerator loads the blacklist, persisted in SQLite when a path is
// configured. The returned func closes the store.
func openModerator(ctx context.Context, cfg config.ModeratorConfig, logger *slog.Logger) (*moderator.Moderator, func(), error) {
	if cfg.Path == "" {
		return moderator.New(moderator.Config{Logger: logger}), func() {}, nil
	}

	store, err := sqlite.Open(ctx, cfg.Path)
	if err != nil {
		return nil, nil, err
	}
	closeStore := func() {
		if err := store.Close(); err != nil {
			logger.Warn("pelican: closing blacklist store", "error", err)
		}
	}

	mod := moderator.New(moderator.Config{Store: store, Logger: logger})
	if err := mod.Load(ctx); err != nil {
		closeStore()
		return nil, nil, err
	}
	return mod, closeStore, nil
}

func burst(rps float64) int {
	if rps <= 0 {
		return 1
	}
	return int(math.Ceil(rps))
}
