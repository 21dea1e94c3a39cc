package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"schedbot/internal/config"
	"schedbot/internal/delivery"
	"schedbot/internal/storage"
	kit "schedbot/internal/transport"
	"schedbot/internal/transport/telegram/router"
	logx "schedbot/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}, nil
}

func mapDeliveryConfig(cfg *config.Config) (delivery.Config, error) {
	dc := delivery.DefaultConfig()
	d := cfg.Delivery
	if v := strings.TrimSpace(d.Interval); v != "" {
		dc.Interval = v
	}
	timeout, err := config.ParseDurationOrDefault("delivery.send_timeout", d.SendTimeout, delivery.DefaultSendTimeout)
	if err != nil {
		return delivery.Config{}, err
	}
	dc.SendTimeout = timeout
	if d.RatePerSec > 0 {
		dc.RatePerSec = d.RatePerSec
	}
	if d.Urgent != nil {
		dc.Urgent = *d.Urgent
	}
	if d.MentionEveryone != nil {
		dc.MentionEveryone = *d.MentionEveryone
	}
	if err := dc.Validate(); err != nil {
		return delivery.Config{}, fmt.Errorf("delivery.interval: %w", err)
	}
	return dc, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

// logTarget is the chat log lines are forwarded to; zero when unset.
func logTarget(cfg *config.Config) (kit.ChatTarget, error) {
	switch cfg.ActivePlatform() {
	case config.PlatformDiscord:
		raw := strings.TrimSpace(cfg.Discord.LogChannelID)
		if raw == "" {
			return kit.ChatTarget{}, nil
		}
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return kit.ChatTarget{}, fmt.Errorf("discord.log_channel_id: invalid %q", raw)
		}
		return kit.ChatTarget{ChatID: kit.ChatID(id)}, nil
	default:
		return kit.ChatTarget{ChatID: cfg.Telegram.LogChat, ThreadID: cfg.Telegram.LogThreadID}, nil
	}
}

func mapRouterOptions(cfg *config.Config) (router.Options, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.command_timeout", cfg.Telegram.CommandTimeout, 30*time.Second)
	if err != nil {
		return router.Options{}, err
	}
	return router.Options{Workers: cfg.Telegram.Workers, Timeout: timeout}, nil
}

// validateReload rejects a reloaded config whose live-applied sections
// would not map cleanly.
func validateReload(cfg *config.Config) error {
	if _, err := mapDeliveryConfig(cfg); err != nil {
		return err
	}
	if _, err := mapRouterOptions(cfg); err != nil {
		return err
	}
	_, err := logTarget(cfg)
	return err
}
