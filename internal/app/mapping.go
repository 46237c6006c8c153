package app

import (
	"strings"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/relay"
	"relaybot/internal/server"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
	telegram "relaybot/internal/transport/telegram/adapter"
	logx "relaybot/pkg/logx"
)

// Config values reaching these mappers were validated by config.Validate, so
// durations are parsed with config.MustDuration.

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			ChatID:     lc.Telegram.ChatID,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

func mapTelegramConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:          cfg.Telegram.Token,
		APIURL:         cfg.Telegram.APIURL,
		RequestTimeout: config.MustDuration(cfg.Telegram.RequestTimeout, 30*time.Second),
	}
}

func mapWebhookParams(cfg *config.Config) telegram.WebhookParams {
	return telegram.WebhookParams{
		URL:         telegram.WebhookURL(cfg.Telegram.WebhookURL, cfg.Telegram.WebhookPath),
		Secret:      cfg.Telegram.WebhookSecret,
		DropPending: cfg.Telegram.DropPending,
	}
}

func mapRelayConfig(cfg *config.Config) relay.Config {
	return relay.Config{
		Destination:  transport.ChatTarget{ChatID: cfg.Telegram.ChannelID},
		Cooldown:     config.MustDuration(cfg.Relay.Cooldown, relay.DefaultCooldown),
		PollInterval: config.MustDuration(cfg.Relay.PollInterval, relay.DefaultPollInterval),
	}
}

func mapRetryPolicy(cfg *config.Config) relay.RetryPolicy {
	return relay.RetryPolicy{
		Max:       cfg.Relay.RetryMax,
		Base:      config.MustDuration(cfg.Relay.RetryBase, 500*time.Millisecond),
		MaxDelay:  config.MustDuration(cfg.Relay.RetryMaxDelay, 10*time.Second),
		Retryable: telegram.IsRetryable,
	}
}

func mapMessages(cfg *config.Config) relay.Messages {
	return relay.Messages{
		QueuedWait:  cfg.Messages.QueuedWait,
		QueuedNow:   cfg.Messages.QueuedNow,
		Unsupported: cfg.Messages.Unsupported,
	}
}

func healthText(cfg *config.Config) string {
	if h := strings.TrimSpace(cfg.Messages.Health); h != "" {
		return h
	}
	return server.DefaultHealth
}

func mapServerConfig(cfg *config.Config, addr string) server.Config {
	return server.Config{
		Addr:          addr,
		Port:          cfg.Server.Port,
		ReadTimeout:   config.MustDuration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout:  config.MustDuration(cfg.Server.WriteTimeout, 30*time.Second),
		IdleTimeout:   config.MustDuration(cfg.Server.IdleTimeout, 60*time.Second),
		WebhookPath:   cfg.Telegram.WebhookPath,
		WebhookSecret: cfg.Telegram.WebhookSecret,
		Health:        healthText(cfg),
		StatusToken:   cfg.Server.StatusToken,
		Pprof: server.PprofConfig{
			Enabled:              cfg.Pprof.Enabled,
			Prefix:               cfg.Pprof.Prefix,
			Token:                cfg.Pprof.Token,
			MutexProfileFraction: cfg.Pprof.MutexProfileFraction,
			BlockProfileRate:     cfg.Pprof.BlockProfileRate,
		},
	}
}

// mapStorageConfig returns enabled=false when the storage section is absent
// or names the "none" driver.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool) {
	if cfg.Storage == nil {
		return storage.Config{}, false
	}
	sc := storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: config.MustDuration(cfg.Storage.BusyTimeout, 0),
		MaxRecords:  cfg.Storage.MaxRecords,
	}
	if sc.Driver == "" || sc.Driver == "none" {
		return storage.Config{}, false
	}
	return sc, true
}
